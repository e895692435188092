package record

import (
	"fmt"
	"strconv"
	"strings"
)

// Kind identifies which member of a Value is meaningful.
type Kind uint32

const (
	KindDouble Kind = iota + 1
	KindLong
	KindEnum
	KindString
	KindArray
)

func (k Kind) String() string {
	switch k {
	case KindDouble:
		return "double"
	case KindLong:
		return "long"
	case KindEnum:
		return "enum"
	case KindString:
		return "string"
	case KindArray:
		return "array"
	default:
		return fmt.Sprintf("kind(%d)", uint32(k))
	}
}

// Value is the payload of a record. Only the member selected by Kind is used.
type Value struct {
	Kind   Kind
	Double float64
	Long   int32
	Index  uint32
	Text   string
	Array  []float64
}

func Double(v float64) Value  { return Value{Kind: KindDouble, Double: v} }
func Long(v int32) Value      { return Value{Kind: KindLong, Long: v} }
func Enum(index uint32) Value { return Value{Kind: KindEnum, Index: index} }
func String(s string) Value   { return Value{Kind: KindString, Text: s} }

func Array(v []float64) Value {
	cp := make([]float64, len(v))
	copy(cp, v)
	return Value{Kind: KindArray, Array: cp}
}

// Float returns the numeric value for double, long and enum kinds.
func (v Value) Float() (float64, bool) {
	switch v.Kind {
	case KindDouble:
		return v.Double, true
	case KindLong:
		return float64(v.Long), true
	case KindEnum:
		return float64(v.Index), true
	default:
		return 0, false
	}
}

// Equal reports whether two values have the same kind and payload.
func (v Value) Equal(o Value) bool {
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case KindDouble:
		return v.Double == o.Double
	case KindLong:
		return v.Long == o.Long
	case KindEnum:
		return v.Index == o.Index
	case KindString:
		return v.Text == o.Text
	case KindArray:
		if len(v.Array) != len(o.Array) {
			return false
		}
		for i := range v.Array {
			if v.Array[i] != o.Array[i] {
				return false
			}
		}
		return true
	}
	return true
}

func (v Value) String() string {
	switch v.Kind {
	case KindDouble:
		return strconv.FormatFloat(v.Double, 'g', -1, 64)
	case KindLong:
		return strconv.FormatInt(int64(v.Long), 10)
	case KindEnum:
		return strconv.FormatUint(uint64(v.Index), 10)
	case KindString:
		return v.Text
	case KindArray:
		parts := make([]string, len(v.Array))
		for i, f := range v.Array {
			parts[i] = strconv.FormatFloat(f, 'g', -1, 64)
		}
		return "[" + strings.Join(parts, " ") + "]"
	default:
		return ""
	}
}

// ParseValue parses text into a value of the given kind. Arrays are
// whitespace or comma separated.
func ParseValue(kind Kind, s string) (Value, error) {
	s = strings.TrimSpace(s)

	switch kind {
	case KindDouble:
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return Value{}, fmt.Errorf("%w: %q is not a number", ErrTypeMismatch, s)
		}
		return Double(f), nil
	case KindLong:
		n, err := strconv.ParseInt(s, 10, 32)
		if err != nil {
			return Value{}, fmt.Errorf("%w: %q is not a 32-bit integer", ErrTypeMismatch, s)
		}
		return Long(int32(n)), nil
	case KindEnum:
		n, err := strconv.ParseUint(s, 10, 16)
		if err != nil {
			return Value{}, fmt.Errorf("%w: %q is not an enum index", ErrTypeMismatch, s)
		}
		return Enum(uint32(n)), nil
	case KindString:
		return String(s), nil
	case KindArray:
		fields := strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' || r == '\t' })
		out := make([]float64, 0, len(fields))
		for _, f := range fields {
			x, err := strconv.ParseFloat(f, 64)
			if err != nil {
				return Value{}, fmt.Errorf("%w: %q is not a number", ErrTypeMismatch, f)
			}
			out = append(out, x)
		}
		return Array(out), nil
	default:
		return Value{}, fmt.Errorf("%w: unknown kind %v", ErrTypeMismatch, kind)
	}
}

// coerce converts v into kind where the conversion is lossless enough for a
// control system write: numeric kinds convert between each other, strings
// and arrays only match themselves.
func coerce(kind Kind, v Value) (Value, error) {
	if v.Kind == kind {
		return v, nil
	}

	f, numeric := v.Float()
	switch kind {
	case KindDouble:
		if numeric {
			return Double(f), nil
		}
	case KindLong:
		if numeric {
			return Long(int32(f)), nil
		}
	case KindEnum:
		if numeric && f >= 0 {
			return Enum(uint32(f)), nil
		}
	}

	return Value{}, fmt.Errorf("%w: cannot store %s in %s record", ErrTypeMismatch, v.Kind, kind)
}
