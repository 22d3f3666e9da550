package satp

import (
	"bytes"
	"errors"
	"testing"

	"github.com/danmuck/satpctl/internal/binding"
	"github.com/danmuck/satpctl/internal/protocol/schema"
	"github.com/danmuck/satpctl/internal/testutil/testlog"
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

func TestEncodeKnownVector(t *testing.T) {
	testlog.Start(t)
	got := Segment{Seq: 1, ID: 2}.Encode()
	want := []byte{0x00, 0x00, 0x00, 0x01, 0x00, 0x02}
	if !bytes.Equal(got, want) {
		t.Fatalf("encode mismatch: got=%x want=%x", got, want)
	}
}

func TestDecodeKnownVector(t *testing.T) {
	testlog.Start(t)
	seg, err := DecodeSegment([]byte{0x00, 0x00, 0x00, 0x01, 0x00, 0x02})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if seg != (Segment{Seq: 1, ID: 2}) {
		t.Fatalf("unexpected segment: %+v", seg)
	}
}

func TestRoundTripBounds(t *testing.T) {
	testlog.Start(t)
	for _, in := range []Segment{
		{},
		{Seq: 0xffffffff, ID: 0xffff},
		{Seq: 0x80000000, ID: 0x8000},
		{Seq: 0x01020304, ID: 0x0506},
	} {
		out, err := DecodeSegment(in.Encode())
		if err != nil {
			t.Fatalf("decode %+v: %v", in, err)
		}
		if out != in {
			t.Fatalf("round-trip mismatch: in=%+v out=%+v", in, out)
		}
	}
}

func TestEncodeValuesTruncatesSeq(t *testing.T) {
	testlog.Start(t)
	wide, err := EncodeValues(schema.Values{FieldSeq: 0x1_0000_0001})
	if err != nil {
		t.Fatalf("encode wide: %v", err)
	}
	narrow, err := EncodeValues(schema.Values{FieldSeq: 1})
	if err != nil {
		t.Fatalf("encode narrow: %v", err)
	}
	if !bytes.Equal(wide[:4], narrow[:4]) {
		t.Fatalf("truncation mismatch: wide=%x narrow=%x", wide, narrow)
	}
	seg, err := SegmentFromValues(schema.Values{FieldSeq: 0x1_0000_0001, FieldID: 0x1_0002})
	if err != nil {
		t.Fatalf("from values: %v", err)
	}
	if seg != (Segment{Seq: 1, ID: 2}) {
		t.Fatalf("unexpected segment: %+v", seg)
	}
}

func TestDefaultsAreZero(t *testing.T) {
	testlog.Start(t)
	b, err := EncodeValues(nil)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if !bytes.Equal(b, make([]byte, SegmentLen)) {
		t.Fatalf("expected zero segment, got %x", b)
	}
	if (Segment{}).Encode()[5] != 0 {
		t.Fatalf("zero segment must encode to zeros")
	}
}

func TestEncodeAlwaysSixBytes(t *testing.T) {
	testlog.Start(t)
	if Schema.Len() != SegmentLen {
		t.Fatalf("schema len %d", Schema.Len())
	}
	fields := Schema.Fields()
	if len(fields) != 2 || fields[0].Name != FieldSeq || fields[1].Name != FieldID {
		t.Fatalf("unexpected field order: %+v", fields)
	}
	got := Segment{Seq: 9, ID: 9}.AppendTo([]byte{0xaa})
	if len(got) != 1+SegmentLen || got[0] != 0xaa {
		t.Fatalf("append mismatch: %x", got)
	}
}

func TestDecodeTruncated(t *testing.T) {
	testlog.Start(t)
	_, err := DecodeSegment([]byte{0, 0, 0, 1, 0})
	if !errors.Is(err, ErrTruncated) {
		t.Fatalf("expected ErrTruncated, got %v", err)
	}
}

func TestEncodeValuesUnknownField(t *testing.T) {
	testlog.Start(t)
	if _, err := EncodeValues(schema.Values{"mux": 1}); !errors.Is(err, schema.ErrUnknownField) {
		t.Fatalf("expected ErrUnknownField, got %v", err)
	}
}

func TestLayerDecodeWithTrailingPayload(t *testing.T) {
	testlog.Start(t)
	data := []byte{0, 0, 0, 7, 0, 3, 0xca, 0xfe}
	pkt := gopacket.NewPacket(data, LayerTypeSATP, gopacket.Default)
	if el := pkt.ErrorLayer(); el != nil {
		t.Fatalf("decode error: %v", el.Error())
	}
	l, ok := pkt.Layer(LayerTypeSATP).(*SATP)
	if !ok {
		t.Fatalf("expected SATP layer, got %v", pkt.Layers())
	}
	if l.Seq != 7 || l.ID != 3 {
		t.Fatalf("unexpected fields: %+v", l.Segment)
	}
	if !bytes.Equal(l.LayerContents(), data[:6]) {
		t.Fatalf("unexpected contents: %x", l.LayerContents())
	}
	if app := pkt.ApplicationLayer(); app == nil || !bytes.Equal(app.Payload(), []byte{0xca, 0xfe}) {
		t.Fatalf("expected trailing bytes as payload, got %v", app)
	}
}

func TestLayerDecodeTruncated(t *testing.T) {
	testlog.Start(t)
	pkt := gopacket.NewPacket([]byte{0, 1}, LayerTypeSATP, gopacket.Default)
	if pkt.ErrorLayer() == nil {
		t.Fatalf("expected decode failure layer")
	}
	if pkt.Layer(LayerTypeSATP) != nil {
		t.Fatalf("truncated data must not produce a SATP layer")
	}
}

func TestLayerSerialize(t *testing.T) {
	testlog.Start(t)
	buf := gopacket.NewSerializeBuffer()
	l := &SATP{Segment: Segment{Seq: 1, ID: 2}}
	if err := gopacket.SerializeLayers(buf, gopacket.SerializeOptions{}, l, gopacket.Payload([]byte{0xff})); err != nil {
		t.Fatalf("serialize: %v", err)
	}
	want := []byte{0, 0, 0, 1, 0, 2, 0xff}
	if !bytes.Equal(buf.Bytes(), want) {
		t.Fatalf("serialize mismatch: got=%x want=%x", buf.Bytes(), want)
	}
}

func TestDecodingLayerParser(t *testing.T) {
	testlog.Start(t)
	var s SATP
	parser := gopacket.NewDecodingLayerParser(LayerTypeSATP, &s)
	decoded := []gopacket.LayerType{}
	if err := parser.DecodeLayers([]byte{0, 0, 1, 0, 0, 1}, &decoded); err != nil {
		t.Fatalf("decode layers: %v", err)
	}
	if len(decoded) != 1 || decoded[0] != LayerTypeSATP || s.Seq != 256 || s.ID != 1 {
		t.Fatalf("unexpected parse: decoded=%v seg=%+v", decoded, s.Segment)
	}
}

func TestBind(t *testing.T) {
	testlog.Start(t)
	reg := binding.NewRegistry()
	if err := Bind(reg); err != nil {
		t.Fatalf("bind: %v", err)
	}
	rule, ok := reg.Lookup(layers.LayerTypeUDP, 4444, 4444)
	if !ok || rule.Layer != LayerTypeSATP {
		t.Fatalf("expected SATP rule, got %+v ok=%v", rule, ok)
	}
	if _, ok := reg.Lookup(layers.LayerTypeUDP, 4444, 5555); ok {
		t.Fatalf("4444->5555 must not bind")
	}
	lt, err := reg.LayerByName("satp")
	if err != nil || lt != LayerTypeSATP {
		t.Fatalf("layer by name: %v %v", lt, err)
	}
}
