package capture

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/danmuck/satpctl/internal/dissect"
	"github.com/danmuck/satpctl/internal/observability"
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/rs/zerolog/log"
)

const DefaultSnapLen uint32 = 65535

// Record is one pcap record and its dissection.
type Record struct {
	Index  int
	Info   gopacket.CaptureInfo
	Result *dissect.Result
	Err    error
}

// Summary tallies a set of records.
type Summary struct {
	Total   int
	Bound   int
	Unbound int
	Errors  int
}

func Summarize(records []Record) Summary {
	var s Summary
	for _, r := range records {
		s.Total++
		switch {
		case r.Err != nil:
			s.Errors++
		case r.Result != nil && r.Result.Bound():
			s.Bound++
		default:
			s.Unbound++
		}
	}
	return s
}

// Reader dissects pcap streams with an engine.
type Reader struct {
	engine  *dissect.Engine
	metrics *observability.Metrics
}

func NewReader(engine *dissect.Engine, m *observability.Metrics) *Reader {
	return &Reader{engine: engine, metrics: m}
}

// packetSource is the common surface of the pcap and pcapng readers.
type packetSource interface {
	ReadPacketData() ([]byte, gopacket.CaptureInfo, error)
	LinkType() layers.LinkType
}

// pcapng section header block type, identical in either byte order.
var ngMagic = []byte{0x0a, 0x0d, 0x0d, 0x0a}

func openSource(r io.Reader) (packetSource, error) {
	br := bufio.NewReader(r)
	magic, err := br.Peek(len(ngMagic))
	if err != nil {
		return nil, fmt.Errorf("capture: open: %w", err)
	}
	if bytes.Equal(magic, ngMagic) {
		ng, err := pcapgo.NewNgReader(br, pcapgo.DefaultNgReaderOptions)
		if err != nil {
			return nil, fmt.Errorf("capture: open pcapng: %w", err)
		}
		return ng, nil
	}
	pr, err := pcapgo.NewReader(br)
	if err != nil {
		return nil, fmt.Errorf("capture: open: %w", err)
	}
	return pr, nil
}

// Read decodes every record in r, which may be pcap or pcapng. A record that
// fails to dissect keeps its error on the Record; only stream-level failures
// abort the read. A truncated final record ends the stream.
func (rd *Reader) Read(ctx context.Context, r io.Reader) ([]Record, error) {
	src, err := openSource(r)
	if err != nil {
		return nil, err
	}
	link := src.LinkType()
	log.Debug().Str("link", link.String()).Msg("capture.Read start")

	records := make([]Record, 0)
	for i := 0; ; i++ {
		if err := ctx.Err(); err != nil {
			return records, err
		}
		data, ci, err := src.ReadPacketData()
		if errors.Is(err, io.EOF) {
			break
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			log.Warn().Int("record", i).Msg("capture.Read truncated record at end of stream")
			break
		}
		if err != nil {
			return records, fmt.Errorf("capture: record %d: %w", i, err)
		}
		rd.metrics.RecordCapture("read")
		res, derr := rd.engine.Decode(data, link)
		records = append(records, Record{Index: i, Info: ci, Result: res, Err: derr})
	}
	log.Debug().Int("records", len(records)).Msg("capture.Read done")
	return records, nil
}

func (rd *Reader) ReadFile(ctx context.Context, path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("capture: %w", err)
	}
	defer f.Close()
	return rd.Read(ctx, f)
}

// Writer appends Ethernet frames to a pcap stream.
type Writer struct {
	w       *pcapgo.Writer
	snapLen uint32
	metrics *observability.Metrics
}

// NewWriter writes the pcap file header to w.
func NewWriter(w io.Writer, snapLen uint32, m *observability.Metrics) (*Writer, error) {
	if snapLen == 0 {
		snapLen = DefaultSnapLen
	}
	pw := pcapgo.NewWriter(w)
	if err := pw.WriteFileHeader(snapLen, layers.LinkTypeEthernet); err != nil {
		return nil, fmt.Errorf("capture: header: %w", err)
	}
	return &Writer{w: pw, snapLen: snapLen, metrics: m}, nil
}

// WritePacket writes one frame captured at ts, truncated to the snap length.
func (w *Writer) WritePacket(ts time.Time, data []byte) error {
	capLen := len(data)
	if uint32(capLen) > w.snapLen {
		capLen = int(w.snapLen)
	}
	ci := gopacket.CaptureInfo{
		Timestamp:     ts,
		CaptureLength: capLen,
		Length:        len(data),
	}
	if err := w.w.WritePacket(ci, data[:capLen]); err != nil {
		return fmt.Errorf("capture: write: %w", err)
	}
	w.metrics.RecordCapture("write")
	return nil
}
