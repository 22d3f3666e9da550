package satp

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/danmuck/satpctl/internal/protocol/schema"
)

//
//  0                   1                   2                   3
//  0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5 6 7 8 9 0 1
// +-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
// |                        Sequence Number                        |
// +-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
// |          Identifier           |
// +-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
//

const (
	// Port is the UDP source and destination port SATP is bound to.
	Port uint16 = 4444

	SegmentLen = 6

	FieldSeq = "seq"
	FieldID  = "id"
)

var ErrTruncated = errors.New("satp: truncated segment")

// Schema is the SATP wire shape: seq then id, both big-endian, default zero.
var Schema = schema.MustNew("SATP",
	schema.FieldSpec{Name: FieldSeq, Width: 4, Order: binary.BigEndian},
	schema.FieldSpec{Name: FieldID, Width: 2, Order: binary.BigEndian},
)

// Segment is one decoded SATP header.
type Segment struct {
	Seq uint32 `json:"seq"`
	ID  uint16 `json:"id"`
}

func (s Segment) Values() schema.Values {
	return schema.Values{FieldSeq: uint64(s.Seq), FieldID: uint64(s.ID)}
}

// Encode returns the 6-byte wire form.
func (s Segment) Encode() []byte {
	buf := make([]byte, SegmentLen)
	s.put(buf)
	return buf
}

// AppendTo appends the wire form to dst.
func (s Segment) AppendTo(dst []byte) []byte {
	var buf [SegmentLen]byte
	s.put(buf[:])
	return append(dst, buf[:]...)
}

func (s Segment) put(dst []byte) {
	// Values only carries known fields, so Put cannot fail here.
	_ = Schema.Put(dst, s.Values())
}

func (s Segment) String() string {
	return fmt.Sprintf("SATP seq=%d id=%d", s.Seq, s.ID)
}

// DecodeSegment reads a segment from the first 6 bytes of b.
func DecodeSegment(b []byte) (Segment, error) {
	v, err := Schema.Decode(b)
	if err != nil {
		if errors.Is(err, schema.ErrTruncated) {
			return Segment{}, fmt.Errorf("%w: have %d bytes, want %d", ErrTruncated, len(b), SegmentLen)
		}
		return Segment{}, err
	}
	return fromValues(v), nil
}

// EncodeValues encodes field assignments by name. Missing fields encode as
// zero; wider values keep their low-order bytes.
func EncodeValues(v schema.Values) ([]byte, error) {
	return Schema.Encode(v)
}

// SegmentFromValues builds a segment from field assignments with the same
// truncation EncodeValues applies.
func SegmentFromValues(v schema.Values) (Segment, error) {
	b, err := EncodeValues(v)
	if err != nil {
		return Segment{}, err
	}
	return DecodeSegment(b)
}

func fromValues(v schema.Values) Segment {
	return Segment{Seq: uint32(v[FieldSeq]), ID: uint16(v[FieldID])}
}
