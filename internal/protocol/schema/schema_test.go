package schema

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/danmuck/satpctl/internal/testutil/testlog"
	"github.com/google/go-cmp/cmp"
)

func testSchema(t *testing.T) *Schema {
	t.Helper()
	s, err := New("test",
		FieldSpec{Name: "kind", Width: 1, Default: 7},
		FieldSpec{Name: "port", Width: 2, Order: binary.LittleEndian},
		FieldSpec{Name: "seq", Width: 4},
		FieldSpec{Name: "stamp", Width: 8},
	)
	if err != nil {
		t.Fatalf("new schema: %v", err)
	}
	return s
}

func TestEncodeUsesDefaultsForAbsentFields(t *testing.T) {
	testlog.Start(t)
	s := testSchema(t)
	if s.Len() != 15 {
		t.Fatalf("unexpected len: %d", s.Len())
	}
	b, err := s.Encode(Values{"seq": 1})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	want := []byte{7, 0, 0, 0, 0, 0, 1, 0, 0, 0, 0, 0, 0, 0, 0}
	if !bytes.Equal(b, want) {
		t.Fatalf("encode mismatch: got=%x want=%x", b, want)
	}
}

func TestEncodeHonorsByteOrder(t *testing.T) {
	testlog.Start(t)
	s := testSchema(t)
	b, err := s.Encode(Values{"port": 0x1122})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if b[1] != 0x22 || b[2] != 0x11 {
		t.Fatalf("expected little-endian port bytes, got %x", b[1:3])
	}
}

func TestEncodeTruncatesToWidth(t *testing.T) {
	testlog.Start(t)
	s := testSchema(t)
	wide, err := s.Encode(Values{"kind": 0x1ff, "seq": 0x1_0000_0001})
	if err != nil {
		t.Fatalf("encode wide: %v", err)
	}
	narrow, err := s.Encode(Values{"kind": 0xff, "seq": 1})
	if err != nil {
		t.Fatalf("encode narrow: %v", err)
	}
	if !bytes.Equal(wide, narrow) {
		t.Fatalf("truncation mismatch: wide=%x narrow=%x", wide, narrow)
	}
}

func TestDecodeRoundTrip(t *testing.T) {
	testlog.Start(t)
	s := testSchema(t)
	in := Values{"kind": 3, "port": 4444, "seq": 0xdeadbeef, "stamp": 1 << 40}
	b, err := s.Encode(in)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	out, err := s.Decode(append(b, 0xff, 0xff))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if diff := cmp.Diff(in, out); diff != "" {
		t.Fatalf("round-trip mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodeTruncated(t *testing.T) {
	testlog.Start(t)
	s := testSchema(t)
	if _, err := s.Decode(make([]byte, s.Len()-1)); !errors.Is(err, ErrTruncated) {
		t.Fatalf("expected ErrTruncated, got %v", err)
	}
}

func TestEncodeUnknownField(t *testing.T) {
	testlog.Start(t)
	s := testSchema(t)
	if _, err := s.Encode(Values{"mux": 1}); !errors.Is(err, ErrUnknownField) {
		t.Fatalf("expected ErrUnknownField, got %v", err)
	}
}

func TestNewValidation(t *testing.T) {
	testlog.Start(t)
	cases := []struct {
		name   string
		fields []FieldSpec
		reason string
	}{
		{"empty", nil, "no fields"},
		{"dup", []FieldSpec{{Name: "a", Width: 1}, {Name: "a", Width: 2}}, "duplicate field"},
		{"width", []FieldSpec{{Name: "a", Width: 3}}, "unsupported width 3"},
		{"noname", []FieldSpec{{Width: 1}}, "field name is required"},
	}
	for _, tc := range cases {
		_, err := New(tc.name, tc.fields...)
		var ve ValidationError
		if !errors.As(err, &ve) {
			t.Fatalf("%s: expected ValidationError, got %v", tc.name, err)
		}
		if ve.Reason != tc.reason {
			t.Fatalf("%s: unexpected reason %q", tc.name, ve.Reason)
		}
	}
}

func TestDefaultsTruncated(t *testing.T) {
	testlog.Start(t)
	s, err := New("d", FieldSpec{Name: "a", Width: 2, Default: 0x12345})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if got := s.Defaults()["a"]; got != 0x2345 {
		t.Fatalf("unexpected default: %#x", got)
	}
}
