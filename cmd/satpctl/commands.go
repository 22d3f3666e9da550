package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/danmuck/satpctl/internal/capture"
	"github.com/danmuck/satpctl/internal/config"
	"github.com/danmuck/satpctl/internal/craft"
	"github.com/danmuck/satpctl/internal/protocol/satp"
	"github.com/danmuck/satpctl/internal/protocol/schema"
	"github.com/danmuck/satpctl/internal/shell"
	"github.com/google/subcommands"
	"github.com/rs/zerolog/log"
)

func stdout(w io.Writer) io.Writer {
	if w == nil {
		return os.Stdout
	}
	return w
}

type encodeCmd struct {
	seq uint64
	id  uint64
	out io.Writer
}

func (*encodeCmd) Name() string     { return "encode" }
func (*encodeCmd) Synopsis() string { return "Print the SATP encoding of seq and id" }
func (*encodeCmd) Usage() string    { return "encode [-seq N] [-id N]\n" }

func (c *encodeCmd) SetFlags(f *flag.FlagSet) {
	f.Uint64Var(&c.seq, "seq", 0, "sequence number (truncated to 32 bits)")
	f.Uint64Var(&c.id, "id", 0, "identifier (truncated to 16 bits)")
}

func (c *encodeCmd) Execute(_ context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	values := schema.Values{}
	f.Visit(func(fl *flag.Flag) {
		switch fl.Name {
		case "seq":
			values[satp.FieldSeq] = c.seq
		case "id":
			values[satp.FieldID] = c.id
		}
	})
	b, err := satp.EncodeValues(values)
	if err != nil {
		log.Error().Err(err).Msg("encode failed")
		return subcommands.ExitFailure
	}
	fmt.Fprintln(stdout(c.out), hex.EncodeToString(b))
	return subcommands.ExitSuccess
}

type decodeCmd struct {
	asJSON bool
	out    io.Writer
}

func (*decodeCmd) Name() string     { return "decode" }
func (*decodeCmd) Synopsis() string { return "Decode a hex SATP segment" }
func (*decodeCmd) Usage() string {
	return "decode [-json] HEX\n  HEX may use colons, spaces or 0x prefixes, as in the shell.\n"
}

func (c *decodeCmd) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&c.asJSON, "json", false, "print the segment as JSON")
}

func (c *decodeCmd) Execute(_ context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() == 0 {
		fmt.Fprint(os.Stderr, c.Usage())
		return subcommands.ExitUsageError
	}
	data, err := shell.ParseHex(strings.Join(f.Args(), " "))
	if err != nil {
		log.Error().Err(err).Msg("invalid hex")
		return subcommands.ExitUsageError
	}
	seg, err := satp.DecodeSegment(data)
	if err != nil {
		log.Error().Err(err).Msg("decode failed")
		return subcommands.ExitFailure
	}
	out := stdout(c.out)
	if c.asJSON {
		if err := json.NewEncoder(out).Encode(seg); err != nil {
			log.Error().Err(err).Msg("json encode failed")
			return subcommands.ExitFailure
		}
		return subcommands.ExitSuccess
	}
	fmt.Fprintln(out, seg.String())
	return subcommands.ExitSuccess
}

type dissectCmd struct {
	verbose bool
	out     io.Writer
}

func (*dissectCmd) Name() string     { return "dissect" }
func (*dissectCmd) Synopsis() string { return "Dissect every packet in a pcap file" }
func (*dissectCmd) Usage() string    { return "dissect [-v] FILE.pcap\n" }

func (c *dissectCmd) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&c.verbose, "v", false, "print one line per record")
}

func (c *dissectCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 1 {
		fmt.Fprint(os.Stderr, c.Usage())
		return subcommands.ExitUsageError
	}
	rt, err := newRuntime(*configPath)
	if err != nil {
		log.Error().Err(err).Msg("setup failed")
		return subcommands.ExitFailure
	}
	defer rt.finish()

	records, err := capture.NewReader(rt.engine, rt.metrics).ReadFile(ctx, f.Arg(0))
	if err != nil {
		log.Error().Err(err).Str("file", f.Arg(0)).Msg("dissect failed")
		return subcommands.ExitFailure
	}
	out := stdout(c.out)
	if c.verbose {
		for _, r := range records {
			fmt.Fprintln(out, describeRecord(r))
		}
	}
	s := capture.Summarize(records)
	fmt.Fprintf(out, "records=%d bound=%d unbound=%d errors=%d\n", s.Total, s.Bound, s.Unbound, s.Errors)
	return subcommands.ExitSuccess
}

func describeRecord(r capture.Record) string {
	prefix := fmt.Sprintf("#%d %s", r.Index, r.Info.Timestamp.UTC().Format(time.RFC3339Nano))
	if r.Err != nil {
		return fmt.Sprintf("%s error: %v", prefix, r.Err)
	}
	res := r.Result
	head := fmt.Sprintf("%s %s %d->%d", prefix, res.Transport, res.SrcPort, res.DstPort)
	if !res.Bound() {
		return fmt.Sprintf("%s raw=%s", head, hex.EncodeToString(res.Payload))
	}
	if l, ok := res.Layer.(*satp.SATP); ok {
		return fmt.Sprintf("%s %s", head, l.Segment)
	}
	return fmt.Sprintf("%s %s", head, res.Layer.LayerType())
}

type craftCmd struct {
	seq   uint64
	id    uint64
	sport uint
	dport uint
	count int
	path  string
	out   io.Writer
	// create opens the pcap destination; nil means os.Create.
	create func(path string) (io.WriteCloser, error)
}

func (*craftCmd) Name() string     { return "craft" }
func (*craftCmd) Synopsis() string { return "Build Ethernet/IPv4/UDP/SATP frames" }
func (*craftCmd) Usage() string {
	return "craft [-seq N] [-id N] [-sport N] [-dport N] [-count N] [-o FILE.pcap]\n" +
		"  Without -o the frames are printed as hex, one per line.\n"
}

func (c *craftCmd) SetFlags(f *flag.FlagSet) {
	f.Uint64Var(&c.seq, "seq", 0, "first sequence number; incremented per frame")
	f.Uint64Var(&c.id, "id", 0, "identifier")
	f.UintVar(&c.sport, "sport", uint(satp.Port), "UDP source port")
	f.UintVar(&c.dport, "dport", uint(satp.Port), "UDP destination port")
	f.IntVar(&c.count, "count", 1, "number of frames")
	f.StringVar(&c.path, "o", "", "write frames to this pcap file")
}

func (c *craftCmd) Execute(_ context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if c.count < 1 || c.sport > 0xffff || c.dport > 0xffff {
		fmt.Fprint(os.Stderr, c.Usage())
		return subcommands.ExitUsageError
	}
	rt, err := newRuntime(*configPath)
	if err != nil {
		log.Error().Err(err).Msg("setup failed")
		return subcommands.ExitFailure
	}
	defer rt.finish()

	opts := craft.DefaultOptions()
	opts.SrcPort = uint16(c.sport)
	opts.DstPort = uint16(c.dport)

	emit := func(frame []byte) error {
		_, err := fmt.Fprintln(stdout(c.out), hex.EncodeToString(frame))
		return err
	}
	create := c.create
	if create == nil {
		create = func(path string) (io.WriteCloser, error) { return os.Create(path) }
	}
	var file io.WriteCloser
	if c.path != "" {
		f, err := create(c.path)
		if err != nil {
			log.Error().Err(err).Msg("create pcap failed")
			return subcommands.ExitFailure
		}
		file = f
		// Close is checked explicitly on success; this covers early returns.
		defer func() {
			if file != nil {
				file.Close()
			}
		}()
		w, err := capture.NewWriter(f, rt.cfg.Capture.SnapLen, rt.metrics)
		if err != nil {
			log.Error().Err(err).Msg("pcap header failed")
			return subcommands.ExitFailure
		}
		start := time.Now()
		emit = func(frame []byte) error {
			return w.WritePacket(start, frame)
		}
	}

	for i := 0; i < c.count; i++ {
		seg, err := satp.SegmentFromValues(schema.Values{
			satp.FieldSeq: c.seq + uint64(i),
			satp.FieldID:  c.id,
		})
		if err != nil {
			log.Error().Err(err).Msg("segment failed")
			return subcommands.ExitFailure
		}
		frame, err := rt.builder.Segment(opts, seg)
		if err != nil {
			log.Error().Err(err).Msg("craft failed")
			return subcommands.ExitFailure
		}
		if err := emit(frame); err != nil {
			log.Error().Err(err).Msg("write failed")
			return subcommands.ExitFailure
		}
	}
	if file != nil {
		err := file.Close()
		file = nil
		if err != nil {
			log.Error().Err(err).Str("file", c.path).Msg("close pcap failed")
			return subcommands.ExitFailure
		}
		log.Info().Str("file", c.path).Int("frames", c.count).Msg("wrote pcap")
	}
	return subcommands.ExitSuccess
}

type bindingsCmd struct {
	out io.Writer
}

func (*bindingsCmd) Name() string             { return "bindings" }
func (*bindingsCmd) Synopsis() string         { return "List binding rules" }
func (*bindingsCmd) Usage() string            { return "bindings\n" }
func (*bindingsCmd) SetFlags(_ *flag.FlagSet) {}

func (c *bindingsCmd) Execute(_ context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	rt, err := newRuntime(*configPath)
	if err != nil {
		log.Error().Err(err).Msg("setup failed")
		return subcommands.ExitFailure
	}
	for i, r := range rt.registry.Rules() {
		fmt.Fprintf(stdout(c.out), "%d. %s\n", i+1, r)
	}
	return subcommands.ExitSuccess
}

type shellCmd struct {
	banner string
	in     io.Reader
	out    io.Writer
}

func (*shellCmd) Name() string     { return "shell" }
func (*shellCmd) Synopsis() string { return "Interactive SATP console" }
func (*shellCmd) Usage() string    { return "shell [-banner TEXT]\n" }

func (c *shellCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.banner, "banner", "", "override the configured banner")
}

func (c *shellCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	rt, err := newRuntime(*configPath)
	if err != nil {
		log.Error().Err(err).Msg("setup failed")
		return subcommands.ExitFailure
	}
	defer rt.finish()

	banner := rt.cfg.Banner
	if c.banner != "" {
		banner = c.banner
	}
	in := c.in
	if in == nil {
		in = os.Stdin
	}
	sh := shell.New(in, stdout(c.out), rt.engine, rt.builder, shell.Options{
		Banner: banner,
		Craft:  craft.DefaultOptions(),
	})
	if err := sh.Run(ctx); err != nil {
		log.Error().Err(err).Msg("shell stopped")
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

type configCmd struct {
	path  string
	force bool
	out   io.Writer
}

func (*configCmd) Name() string     { return "config" }
func (*configCmd) Synopsis() string { return "Print or write a config template" }
func (*configCmd) Usage() string    { return "config [-o FILE] [-force]\n" }

func (c *configCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.path, "o", "", "write the template to this path")
	f.BoolVar(&c.force, "force", false, "overwrite an existing file")
}

func (c *configCmd) Execute(_ context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if c.path == "" {
		fmt.Fprint(stdout(c.out), config.Template())
		return subcommands.ExitSuccess
	}
	if err := config.WriteTemplate(c.path, c.force); err != nil {
		log.Error().Err(err).Msg("write template failed")
		return subcommands.ExitFailure
	}
	log.Info().Str("path", c.path).Msg("wrote config template")
	return subcommands.ExitSuccess
}
