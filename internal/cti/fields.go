package cti

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"strings"
	"unicode/utf16"
	"unicode/utf8"
)

// FieldType is the wire representation of a single payload field.
type FieldType uint8

const (
	TypeU8 FieldType = iota + 1
	TypeI16
	TypeU16
	TypeI32
	TypeU32
	TypeF32
	TypeF64
	// TypeString is a fixed-width, NUL padded UTF-8 string.
	TypeString
	// TypeWString is a fixed-width, NUL padded UTF-16LE string (wchar_t[]).
	TypeWString
	// TypeReserved is zero filled on encode and skipped on decode.
	TypeReserved
)

func (t FieldType) String() string {
	switch t {
	case TypeU8:
		return "u8"
	case TypeI16:
		return "i16"
	case TypeU16:
		return "u16"
	case TypeI32:
		return "i32"
	case TypeU32:
		return "u32"
	case TypeF32:
		return "f32"
	case TypeF64:
		return "f64"
	case TypeString:
		return "string"
	case TypeWString:
		return "wstring"
	case TypeReserved:
		return "reserved"
	default:
		return fmt.Sprintf("FieldType(%d)", uint8(t))
	}
}

func (t FieldType) numericWidth() int {
	switch t {
	case TypeU8:
		return 1
	case TypeI16, TypeU16:
		return 2
	case TypeI32, TypeU32, TypeF32:
		return 4
	case TypeF64:
		return 8
	default:
		return 0
	}
}

func (t FieldType) isInteger() bool {
	switch t {
	case TypeU8, TypeI16, TypeU16, TypeI32, TypeU32:
		return true
	default:
		return false
	}
}

func (t FieldType) intRange() (int64, int64) {
	switch t {
	case TypeU8:
		return 0, math.MaxUint8
	case TypeI16:
		return math.MinInt16, math.MaxInt16
	case TypeU16:
		return 0, math.MaxUint16
	case TypeI32:
		return math.MinInt32, math.MaxInt32
	case TypeU32:
		return 0, math.MaxUint32
	default:
		return 0, 0
	}
}

// Field describes one entry of a command layout.
type Field struct {
	Name     string
	Type     FieldType
	Width    int
	Required bool
	Default  any
}

// Size returns the number of payload bytes the field occupies.
func (f Field) Size() int {
	if w := f.Type.numericWidth(); w > 0 {
		return w
	}

	return f.Width
}

func u8(name string) Field  { return Field{Name: name, Type: TypeU8} }
func i16(name string) Field { return Field{Name: name, Type: TypeI16} }
func u16(name string) Field { return Field{Name: name, Type: TypeU16} }
func i32(name string) Field { return Field{Name: name, Type: TypeI32} }
func u32(name string) Field { return Field{Name: name, Type: TypeU32} }
func f32(name string) Field { return Field{Name: name, Type: TypeF32} }
func f64(name string) Field { return Field{Name: name, Type: TypeF64} }

func str(name string, width int) Field {
	return Field{Name: name, Type: TypeString, Width: width}
}

func wstr(name string, width int) Field {
	return Field{Name: name, Type: TypeWString, Width: width}
}

func reserved(width int) Field {
	return Field{Type: TypeReserved, Width: width}
}

func (f Field) required() Field {
	f.Required = true

	return f
}

func (f Field) withDefault(v any) Field {
	f.Default = v

	return f
}

// Values holds decoded or to-be-encoded field values keyed by field name.
// Decoded integers are int64, f32 fields float32, f64 fields float64 and
// strings string. Auxiliary readings are stored under KeyAux.
type Values map[string]any

// KeyAux holds []AuxReading in channel-info feedback values.
const KeyAux = "aux"

func (v Values) Int(name string) int64 {
	n, _ := toInt64(v[name])

	return n
}

func (v Values) Float(name string) float64 {
	f, _ := toFloat64(v[name])

	return f
}

func (v Values) Text(name string) string {
	s, _ := v[name].(string)

	return s
}

func (v Values) Aux() []AuxReading {
	readings, _ := v[KeyAux].([]AuxReading)

	return readings
}

func toInt64(raw any) (int64, bool) {
	switch n := raw.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint:
		if uint64(n) > math.MaxInt64 {
			return 0, false
		}
		return int64(n), true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		if n > math.MaxInt64 {
			return 0, false
		}
		return int64(n), true
	case bool:
		if n {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}

func toFloat64(raw any) (float64, bool) {
	switch n := raw.(type) {
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		i, ok := toInt64(raw)

		return float64(i), ok
	}
}

func putField(cmd Command, f Field, dst []byte, raw any) error {
	fail := func(format string, args ...any) error {
		return &EncodingError{Command: cmd, Field: f.Name, Reason: fmt.Sprintf(format, args...)}
	}

	switch {
	case f.Type == TypeReserved:
		return nil
	case f.Type.isInteger():
		n, ok := toInt64(raw)
		if !ok {
			return fail("expected integer, got %T", raw)
		}
		lo, hi := f.Type.intRange()
		if n < lo || n > hi {
			return fail("value %d out of range [%d, %d]", n, lo, hi)
		}
		switch f.Type {
		case TypeU8:
			dst[0] = byte(n)
		case TypeI16, TypeU16:
			binary.LittleEndian.PutUint16(dst, uint16(n))
		default:
			binary.LittleEndian.PutUint32(dst, uint32(n))
		}
	case f.Type == TypeF32:
		x, ok := toFloat64(raw)
		if !ok {
			return fail("expected number, got %T", raw)
		}
		if math.IsNaN(x) || math.IsInf(x, 0) || math.Abs(x) > math.MaxFloat32 {
			return fail("value %v out of f32 range", x)
		}
		binary.LittleEndian.PutUint32(dst, math.Float32bits(float32(x)))
	case f.Type == TypeF64:
		x, ok := toFloat64(raw)
		if !ok {
			return fail("expected number, got %T", raw)
		}
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return fail("value %v is not finite", x)
		}
		binary.LittleEndian.PutUint64(dst, math.Float64bits(x))
	case f.Type == TypeString:
		s, ok := raw.(string)
		if !ok {
			return fail("expected string, got %T", raw)
		}
		if !utf8.ValidString(s) || strings.ContainsRune(s, 0) {
			return fail("string is not NUL-free UTF-8")
		}
		if len(s) > f.Width {
			return fail("string of %d bytes exceeds width %d", len(s), f.Width)
		}
		copy(dst, s)
	case f.Type == TypeWString:
		s, ok := raw.(string)
		if !ok {
			return fail("expected string, got %T", raw)
		}
		if !utf8.ValidString(s) || strings.ContainsRune(s, 0) {
			return fail("string is not NUL-free UTF-8")
		}
		units := utf16.Encode([]rune(s))
		if len(units)*2 > f.Width {
			return fail("string of %d UTF-16 units exceeds width %d bytes", len(units), f.Width)
		}
		for i, u := range units {
			binary.LittleEndian.PutUint16(dst[i*2:], u)
		}
	default:
		return fail("unsupported field type %s", f.Type)
	}

	return nil
}

func readField(f Field, src []byte) any {
	switch f.Type {
	case TypeU8:
		return int64(src[0])
	case TypeI16:
		return int64(int16(binary.LittleEndian.Uint16(src)))
	case TypeU16:
		return int64(binary.LittleEndian.Uint16(src))
	case TypeI32:
		return int64(int32(binary.LittleEndian.Uint32(src)))
	case TypeU32:
		return int64(binary.LittleEndian.Uint32(src))
	case TypeF32:
		return math.Float32frombits(binary.LittleEndian.Uint32(src))
	case TypeF64:
		return math.Float64frombits(binary.LittleEndian.Uint64(src))
	case TypeString:
		if i := bytes.IndexByte(src, 0); i >= 0 {
			src = src[:i]
		}
		return strings.ToValidUTF8(string(src), "")
	case TypeWString:
		units := make([]uint16, 0, len(src)/2)
		for i := 0; i+1 < len(src); i += 2 {
			u := binary.LittleEndian.Uint16(src[i:])
			if u == 0 {
				break
			}
			units = append(units, u)
		}
		return string(utf16.Decode(units))
	default:
		return nil
	}
}
