// Package report defines the binary report messages published upstream.
// Messages are encoded by hand with protowire; the schema lives in
// report.proto.
package report

import (
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// sizer is a nested message.
type sizer interface {
	Size() int
	AppendTo(b []byte) []byte
}

func sizeVarint(num protowire.Number, v uint64) int {
	if v == 0 {
		return 0
	}
	return protowire.SizeTag(num) + protowire.SizeVarint(v)
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func sizeString(num protowire.Number, s string) int {
	if s == "" {
		return 0
	}
	return protowire.SizeTag(num) + protowire.SizeBytes(len(s))
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func sizeFloat(num protowire.Number, f float32) int {
	if math.Float32bits(f) == 0 {
		return 0
	}
	return protowire.SizeTag(num) + protowire.SizeFixed32()
}

func appendFloat(b []byte, num protowire.Number, f float32) []byte {
	if math.Float32bits(f) == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.Fixed32Type)
	return protowire.AppendFixed32(b, math.Float32bits(f))
}

// sizeMessage sizes a present submessage. Empty submessages are still
// emitted so presence survives a round trip.
func sizeMessage(num protowire.Number, m sizer) int {
	return protowire.SizeTag(num) + protowire.SizeBytes(m.Size())
}

func appendMessage(b []byte, num protowire.Number, m sizer) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	b = protowire.AppendVarint(b, uint64(m.Size()))
	return m.AppendTo(b)
}

type field struct {
	num     protowire.Number
	typ     protowire.Type
	varint  uint64
	fixed32 uint32
	bytes   []byte
}

func (f field) uint64() uint64 {
	if f.typ != protowire.VarintType {
		return 0
	}
	return f.varint
}

func (f field) uint32() uint32 {
	return uint32(f.uint64())
}

func (f field) float() float32 {
	if f.typ != protowire.Fixed32Type {
		return 0
	}
	return math.Float32frombits(f.fixed32)
}

func (f field) str() string {
	if f.typ != protowire.BytesType {
		return ""
	}
	return string(f.bytes)
}

// walk calls fn for every field in b. Groups and other unknown wire
// types are skipped.
func walk(b []byte, fn func(f field) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		f := field{num: num, typ: typ}
		switch typ {
		case protowire.VarintType:
			f.varint, n = protowire.ConsumeVarint(b)
		case protowire.Fixed32Type:
			f.fixed32, n = protowire.ConsumeFixed32(b)
		case protowire.BytesType:
			f.bytes, n = protowire.ConsumeBytes(b)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		if err := fn(f); err != nil {
			return err
		}
	}
	return nil
}

// submessage decodes a nested message field into m.
func submessage[M any, P interface {
	*M
	Unmarshal([]byte) error
}](f field) (*M, error) {
	if f.typ != protowire.BytesType {
		return nil, nil
	}
	m := P(new(M))
	if err := m.Unmarshal(f.bytes); err != nil {
		return nil, err
	}
	return (*M)(m), nil
}
