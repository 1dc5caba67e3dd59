// The Value tagged union and its total order.
//
// A Value is the payload half of a Write: a tagged union over
// {bool, int32, int64, float, double, string, tag, link, timestamp,
// null}, totally ordered by type then by natural order within the type,
// and encoded to bytes prefixed by a single type discriminant byte.
package triadb

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"
)

// ValueType is the Value's type discriminant, stored as the first byte
// of its encoding.
type ValueType uint8

const (
	TypeNull ValueType = iota
	TypeBool
	TypeInt32
	TypeInt64
	TypeFloat
	TypeDouble
	TypeString
	TypeTag
	TypeLink
	TypeTimestamp
)

// Value is a totally ordered, byte-encodable tagged union. The zero
// Value is TypeNull.
type Value struct {
	typ ValueType
	i   int64   // int32, int64, link (as Identifier), timestamp (unix nanos)
	f   float64 // float, double
	s   string  // string, tag
	b   bool    // bool
}

func NewBool(v bool) Value           { return Value{typ: TypeBool, b: v} }
func NewInt32(v int32) Value         { return Value{typ: TypeInt32, i: int64(v)} }
func NewInt64(v int64) Value         { return Value{typ: TypeInt64, i: v} }
func NewFloat(v float32) Value       { return Value{typ: TypeFloat, f: float64(v)} }
func NewDouble(v float64) Value      { return Value{typ: TypeDouble, f: v} }
func NewString(v string) Value       { return Value{typ: TypeString, s: v} }
func NewTag(v string) Value          { return Value{typ: TypeTag, s: v} }
func NewLink(v Identifier) Value     { return Value{typ: TypeLink, i: int64(v)} }
func NewTimestamp(nanos int64) Value { return Value{typ: TypeTimestamp, i: nanos} }
func NewNull() Value                 { return Value{typ: TypeNull} }

func (v Value) Type() ValueType { return v.typ }
func (v Value) IsNull() bool    { return v.typ == TypeNull }
func (v Value) Bool() bool      { return v.b }
func (v Value) Int32() int32    { return int32(v.i) }
func (v Value) Int64() int64    { return v.i }
func (v Value) Float() float32  { return float32(v.f) }
func (v Value) Double() float64 { return v.f }
func (v Value) Str() string     { return v.s }
func (v Value) Tag() string     { return v.s }
func (v Value) Link() Identifier { return Identifier(v.i) }
func (v Value) Timestamp() int64 { return v.i }

// IsString reports whether the value carries string payload semantics
// (TypeString or TypeTag) — used to gate the corpus indexing pipeline and
// CONTAINS/NOT_CONTAINS case folding.
func (v Value) IsString() bool {
	return v.typ == TypeString || v.typ == TypeTag
}

// Compare totally orders Values: first by type discriminant, then by
// natural order within the type.
func Compare(a, b Value) int {
	if a.typ != b.typ {
		if a.typ < b.typ {
			return -1
		}
		return 1
	}
	switch a.typ {
	case TypeNull:
		return 0
	case TypeBool:
		if a.b == b.b {
			return 0
		}
		if !a.b {
			return -1
		}
		return 1
	case TypeInt32, TypeInt64, TypeLink, TypeTimestamp:
		switch {
		case a.i < b.i:
			return -1
		case a.i > b.i:
			return 1
		default:
			return 0
		}
	case TypeFloat, TypeDouble:
		switch {
		case a.f < b.f:
			return -1
		case a.f > b.f:
			return 1
		default:
			return 0
		}
	case TypeString, TypeTag:
		return strings.Compare(a.s, b.s)
	default:
		return 0
	}
}

// Equal reports exact equality (case-sensitive for strings). Used by
// Write equality and present-set membership.
func (v Value) Equal(o Value) bool { return Compare(v, o) == 0 }

// EqualFold reports case-insensitive string equality, used only by the
// CONTAINS/NOT_CONTAINS operators.
func (v Value) EqualFold(o Value) bool {
	if v.typ != o.typ || !v.IsString() {
		return v.Equal(o)
	}
	return strings.EqualFold(v.s, o.s)
}

// Bytes encodes the value as [type:u8][payload...], the Byteable
// representation used inside Composite construction and Write encoding.
func (v Value) Bytes() []byte {
	switch v.typ {
	case TypeNull:
		return []byte{byte(TypeNull)}
	case TypeBool:
		b := byte(0)
		if v.b {
			b = 1
		}
		return []byte{byte(TypeBool), b}
	case TypeInt32:
		buf := make([]byte, 5)
		buf[0] = byte(TypeInt32)
		binary.BigEndian.PutUint32(buf[1:], uint32(int32(v.i)))
		return buf
	case TypeInt64:
		buf := make([]byte, 9)
		buf[0] = byte(TypeInt64)
		binary.BigEndian.PutUint64(buf[1:], uint64(v.i))
		return buf
	case TypeFloat:
		buf := make([]byte, 5)
		buf[0] = byte(TypeFloat)
		binary.BigEndian.PutUint32(buf[1:], math.Float32bits(float32(v.f)))
		return buf
	case TypeDouble:
		buf := make([]byte, 9)
		buf[0] = byte(TypeDouble)
		binary.BigEndian.PutUint64(buf[1:], math.Float64bits(v.f))
		return buf
	case TypeString, TypeTag:
		s := []byte(v.s)
		buf := make([]byte, 1+4+len(s))
		buf[0] = byte(v.typ)
		binary.BigEndian.PutUint32(buf[1:5], uint32(len(s)))
		copy(buf[5:], s)
		return buf
	case TypeLink:
		buf := make([]byte, 9)
		buf[0] = byte(TypeLink)
		binary.BigEndian.PutUint64(buf[1:], uint64(v.i))
		return buf
	case TypeTimestamp:
		buf := make([]byte, 9)
		buf[0] = byte(TypeTimestamp)
		binary.BigEndian.PutUint64(buf[1:], uint64(v.i))
		return buf
	default:
		return []byte{byte(TypeNull)}
	}
}

// DecodeValue reads a Value from its Bytes() encoding, returning the
// number of bytes consumed.
func DecodeValue(b []byte) (Value, int, error) {
	if len(b) < 1 {
		return Value{}, 0, fmt.Errorf("triadb: decode value: empty input")
	}
	typ := ValueType(b[0])
	switch typ {
	case TypeNull:
		return Value{typ: TypeNull}, 1, nil
	case TypeBool:
		if len(b) < 2 {
			return Value{}, 0, fmt.Errorf("triadb: decode value: short bool")
		}
		return Value{typ: TypeBool, b: b[1] != 0}, 2, nil
	case TypeInt32:
		if len(b) < 5 {
			return Value{}, 0, fmt.Errorf("triadb: decode value: short int32")
		}
		v := int32(binary.BigEndian.Uint32(b[1:5]))
		return Value{typ: TypeInt32, i: int64(v)}, 5, nil
	case TypeInt64, TypeLink, TypeTimestamp:
		if len(b) < 9 {
			return Value{}, 0, fmt.Errorf("triadb: decode value: short int64")
		}
		v := int64(binary.BigEndian.Uint64(b[1:9]))
		return Value{typ: typ, i: v}, 9, nil
	case TypeFloat:
		if len(b) < 5 {
			return Value{}, 0, fmt.Errorf("triadb: decode value: short float")
		}
		v := math.Float32frombits(binary.BigEndian.Uint32(b[1:5]))
		return Value{typ: TypeFloat, f: float64(v)}, 5, nil
	case TypeDouble:
		if len(b) < 9 {
			return Value{}, 0, fmt.Errorf("triadb: decode value: short double")
		}
		v := math.Float64frombits(binary.BigEndian.Uint64(b[1:9]))
		return Value{typ: TypeDouble, f: v}, 9, nil
	case TypeString, TypeTag:
		if len(b) < 5 {
			return Value{}, 0, fmt.Errorf("triadb: decode value: short string header")
		}
		n := int(binary.BigEndian.Uint32(b[1:5]))
		if len(b) < 5+n {
			return Value{}, 0, fmt.Errorf("triadb: decode value: short string body")
		}
		return Value{typ: typ, s: string(b[5 : 5+n])}, 5 + n, nil
	default:
		return Value{}, 0, fmt.Errorf("triadb: decode value: unknown type %d", typ)
	}
}

// Render renders the value for diagnostics (TableRecord.describe uses
// this, never the wire format).
func (v Value) Render() string {
	switch v.typ {
	case TypeNull:
		return "null"
	case TypeBool:
		return fmt.Sprintf("%v", v.b)
	case TypeInt32, TypeInt64:
		return fmt.Sprintf("%d", v.i)
	case TypeFloat, TypeDouble:
		return fmt.Sprintf("%v", v.f)
	case TypeString, TypeTag:
		return v.s
	case TypeLink:
		return fmt.Sprintf("@%d", v.i)
	case TypeTimestamp:
		return fmt.Sprintf("t:%d", v.i)
	default:
		return ""
	}
}
