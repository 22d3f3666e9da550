package schema

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
)

var (
	ErrTruncated    = errors.New("schema: truncated data")
	ErrUnknownField = errors.New("schema: unknown field")
)

// FieldSpec declares one fixed-width unsigned integer field.
type FieldSpec struct {
	Name    string
	Width   int
	Order   binary.ByteOrder
	Default uint64
}

// Values holds field values by name. A missing key is an absent field and
// encodes as the field default.
type Values map[string]uint64

// Schema is an ordered list of fixed-width fields. Field order is wire order.
type Schema struct {
	name   string
	fields []FieldSpec
	size   int
}

type ValidationError struct {
	Schema string
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("schema: %s: %s", e.Schema, e.Reason)
	}
	return fmt.Sprintf("schema: %s field=%s: %s", e.Schema, e.Field, e.Reason)
}

// New validates fields and returns a schema. Order defaults to big-endian.
func New(name string, fields ...FieldSpec) (*Schema, error) {
	if strings.TrimSpace(name) == "" {
		return nil, ValidationError{Reason: "name is required"}
	}
	if len(fields) == 0 {
		return nil, ValidationError{Schema: name, Reason: "no fields"}
	}
	seen := make(map[string]struct{}, len(fields))
	out := make([]FieldSpec, 0, len(fields))
	size := 0
	for _, f := range fields {
		if strings.TrimSpace(f.Name) == "" {
			return nil, ValidationError{Schema: name, Reason: "field name is required"}
		}
		if _, dup := seen[f.Name]; dup {
			return nil, ValidationError{Schema: name, Field: f.Name, Reason: "duplicate field"}
		}
		switch f.Width {
		case 1, 2, 4, 8:
		default:
			return nil, ValidationError{Schema: name, Field: f.Name, Reason: fmt.Sprintf("unsupported width %d", f.Width)}
		}
		if f.Order == nil {
			f.Order = binary.BigEndian
		}
		f.Default = truncate(f.Default, f.Width)
		seen[f.Name] = struct{}{}
		out = append(out, f)
		size += f.Width
	}
	return &Schema{name: name, fields: out, size: size}, nil
}

// MustNew is New for package-level schema declarations.
func MustNew(name string, fields ...FieldSpec) *Schema {
	s, err := New(name, fields...)
	if err != nil {
		panic(err)
	}
	return s
}

func (s *Schema) Name() string { return s.name }

// Len is the fixed encoded length in bytes.
func (s *Schema) Len() int { return s.size }

// Fields returns a copy of the field list in wire order.
func (s *Schema) Fields() []FieldSpec {
	out := make([]FieldSpec, len(s.fields))
	copy(out, s.fields)
	return out
}

// Field returns the FieldSpec named name.
func (s *Schema) Field(name string) (FieldSpec, bool) {
	for _, f := range s.fields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldSpec{}, false
}

// Defaults returns a fully populated Values with every field at its default.
func (s *Schema) Defaults() Values {
	v := make(Values, len(s.fields))
	for _, f := range s.fields {
		v[f.Name] = f.Default
	}
	return v
}

// Encode returns the wire encoding of v. Values wider than their field are
// truncated to the field width.
func (s *Schema) Encode(v Values) ([]byte, error) {
	buf := make([]byte, s.size)
	if err := s.Put(buf, v); err != nil {
		return nil, err
	}
	return buf, nil
}

// Put encodes v into the first Len() bytes of dst.
func (s *Schema) Put(dst []byte, v Values) error {
	if len(dst) < s.size {
		return ErrTruncated
	}
	for name := range v {
		if _, ok := s.Field(name); !ok {
			log.Debug().Str("schema", s.name).Str("field", name).Msg("schema.Put unknown field")
			return fmt.Errorf("%w: %s.%s", ErrUnknownField, s.name, name)
		}
	}
	off := 0
	for _, f := range s.fields {
		val, ok := v[f.Name]
		if !ok {
			val = f.Default
		}
		putUint(dst[off:off+f.Width], f.Order, f.Width, val)
		off += f.Width
	}
	return nil
}

// Decode reads the first Len() bytes of b. Trailing bytes are ignored.
func (s *Schema) Decode(b []byte) (Values, error) {
	if len(b) < s.size {
		log.Debug().Str("schema", s.name).Int("have", len(b)).Int("want", s.size).Msg("schema.Decode truncated")
		return nil, ErrTruncated
	}
	v := make(Values, len(s.fields))
	off := 0
	for _, f := range s.fields {
		v[f.Name] = getUint(b[off:off+f.Width], f.Order, f.Width)
		off += f.Width
	}
	return v, nil
}

func truncate(v uint64, width int) uint64 {
	if width >= 8 {
		return v
	}
	return v & (uint64(1)<<(8*uint(width)) - 1)
}

func putUint(b []byte, order binary.ByteOrder, width int, v uint64) {
	switch width {
	case 1:
		b[0] = uint8(v)
	case 2:
		order.PutUint16(b, uint16(v))
	case 4:
		order.PutUint32(b, uint32(v))
	case 8:
		order.PutUint64(b, v)
	}
}

func getUint(b []byte, order binary.ByteOrder, width int) uint64 {
	switch width {
	case 1:
		return uint64(b[0])
	case 2:
		return uint64(order.Uint16(b))
	case 4:
		return uint64(order.Uint32(b))
	default:
		return order.Uint64(b)
	}
}
