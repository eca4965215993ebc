package protocol

import (
	"fmt"

	"github.com/BetaCatPro/livelink/internal/errors"
	"google.golang.org/protobuf/encoding/protowire"
)

// field 一个已解析的 protobuf 字段
type field struct {
	num    protowire.Number
	typ    protowire.Type
	varint uint64
	bytes  []byte
}

func (f field) str() string {
	if f.typ != protowire.BytesType {
		return ""
	}
	return string(f.bytes)
}

func (f field) data() []byte {
	if f.typ != protowire.BytesType {
		return nil
	}
	return f.bytes
}

func (f field) uint() uint64 {
	if f.typ != protowire.VarintType {
		return 0
	}
	return f.varint
}

func (f field) bool() bool {
	return protowire.DecodeBool(f.uint())
}

// walk 遍历消息中的每个字段，未知字段和不关心的类型直接跳过
func walk(b []byte, fn func(f field) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return parseError(protowire.ParseError(n))
		}
		b = b[n:]

		f := field{num: num, typ: typ}
		switch typ {
		case protowire.VarintType:
			v, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return parseError(protowire.ParseError(m))
			}
			f.varint = v
			b = b[m:]
		case protowire.BytesType:
			v, m := protowire.ConsumeBytes(b)
			if m < 0 {
				return parseError(protowire.ParseError(m))
			}
			f.bytes = v
			b = b[m:]
		default:
			m := protowire.ConsumeFieldValue(num, typ, b)
			if m < 0 {
				return parseError(protowire.ParseError(m))
			}
			b = b[m:]
			continue
		}

		if err := fn(f); err != nil {
			return err
		}
	}
	return nil
}

func parseError(err error) error {
	return fmt.Errorf("%w: %v", errors.ErrInvalidFrame, err)
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendBool(b []byte, num protowire.Number, v bool) []byte {
	if !v {
		return b
	}
	return appendVarint(b, num, 1)
}

func appendBytes(b []byte, num protowire.Number, v []byte) []byte {
	if len(v) == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

func appendString(b []byte, num protowire.Number, v string) []byte {
	if v == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, v)
}

// appendRaw 即使内容为空也写出字段
func appendRaw(b []byte, num int, v []byte) []byte {
	b = protowire.AppendTag(b, protowire.Number(num), protowire.BytesType)
	return protowire.AppendBytes(b, v)
}
