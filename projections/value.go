package projections

import (
	"bytes"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Kind is the type tag of a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindFloat
	KindDecimal
	KindString
	KindTime
	KindObject
	KindArray
)

// TimeLayout is the fixed-width UTC layout used to render times, so that rendered times sort like the times themselves.
const TimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

var kindNames = [...]string{"null", "bool", "int", "float", "decimal", "string", "time", "object", "array"}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}

	return "kind(" + strconv.Itoa(int(k)) + ")"
}

// Value is a tagged union over the kinds a projection document can hold.
// The zero Value is null.
type Value struct {
	kind Kind
	b    bool
	i    int64
	f    float64
	d    decimal.Decimal
	s    string
	t    time.Time
	obj  Document
	arr  []Value
}

func Null() Value                     { return Value{} }
func Bool(b bool) Value               { return Value{kind: KindBool, b: b} }
func Int(i int64) Value               { return Value{kind: KindInt, i: i} }
func Float(f float64) Value           { return Value{kind: KindFloat, f: f} }
func Decimal(d decimal.Decimal) Value { return Value{kind: KindDecimal, d: d} }
func String(s string) Value           { return Value{kind: KindString, s: s} }
func Time(t time.Time) Value          { return Value{kind: KindTime, t: t.UTC()} }
func Object(doc Document) Value       { return Value{kind: KindObject, obj: doc} }
func Array(values ...Value) Value     { return Value{kind: KindArray, arr: values} }

func (v Value) Kind() Kind   { return v.kind }
func (v Value) IsNull() bool { return v.kind == KindNull }

func (v Value) AsBool() (bool, bool)               { return v.b, v.kind == KindBool }
func (v Value) AsInt() (int64, bool)               { return v.i, v.kind == KindInt }
func (v Value) AsFloat() (float64, bool)           { return v.f, v.kind == KindFloat }
func (v Value) AsDecimal() (decimal.Decimal, bool) { return v.d, v.kind == KindDecimal }
func (v Value) AsString() (string, bool)           { return v.s, v.kind == KindString }
func (v Value) AsTime() (time.Time, bool)          { return v.t, v.kind == KindTime }
func (v Value) AsObject() (Document, bool)         { return v.obj, v.kind == KindObject }
func (v Value) AsArray() ([]Value, bool)           { return v.arr, v.kind == KindArray }

// AsNumber returns int, float and decimal values as a decimal.
func (v Value) AsNumber() (decimal.Decimal, bool) {
	switch v.kind {
	case KindInt:
		return decimal.NewFromInt(v.i), true
	case KindFloat:
		if math.IsNaN(v.f) || math.IsInf(v.f, 0) {
			return decimal.Decimal{}, false
		}

		return decimal.NewFromFloat(v.f), true
	case KindDecimal:
		return v.d, true
	default:
		return decimal.Decimal{}, false
	}
}

func (v Value) isNumber() bool {
	return v.kind == KindInt || v.kind == KindFloat || v.kind == KindDecimal
}

func (v Value) isScalar() bool {
	return v.kind != KindObject && v.kind != KindArray
}

// Compare orders two values. Numbers of different kinds compare by their numeric value.
// The second result is false if the values are not comparable, e.g. a string and a number, or any null.
func Compare(a, b Value) (int, bool) {
	if a.isNumber() && b.isNumber() {
		if a.kind == KindInt && b.kind == KindInt {
			return compareOrdered(a.i, b.i), true
		}

		x, okA := a.AsNumber()
		y, okB := b.AsNumber()

		if !okA || !okB {
			return 0, false
		}

		return x.Cmp(y), true
	}

	if a.kind != b.kind {
		return 0, false
	}

	switch a.kind {
	case KindBool:
		switch {
		case a.b == b.b:
			return 0, true
		case b.b:
			return -1, true
		default:
			return 1, true
		}
	case KindString:
		return strings.Compare(a.s, b.s), true
	case KindTime:
		return a.t.Compare(b.t), true
	default:
		return 0, false
	}
}

func compareOrdered[T int64 | float64](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// Equal reports whether two values are equal. Null equals null, numbers compare by value,
// objects and arrays compare element-wise.
func (v Value) Equal(other Value) bool {
	switch {
	case v.kind == KindNull || other.kind == KindNull:
		return v.kind == other.kind
	case v.kind == KindObject && other.kind == KindObject:
		return v.obj.Equal(other.obj)
	case v.kind == KindArray && other.kind == KindArray:
		if len(v.arr) != len(other.arr) {
			return false
		}

		for i := range v.arr {
			if !v.arr[i].Equal(other.arr[i]) {
				return false
			}
		}

		return true
	}

	c, ok := Compare(v, other)

	return ok && c == 0
}

// Clone returns a deep copy of objects and arrays; scalars are returned as they are.
func (v Value) Clone() Value {
	switch v.kind {
	case KindObject:
		return Object(v.obj.Clone())
	case KindArray:
		values := make([]Value, len(v.arr))
		for i, element := range v.arr {
			values[i] = element.Clone()
		}

		return Array(values...)
	default:
		return v
	}
}

func (v Value) String() string {
	switch v.kind {
	case KindNull:
		return "null"
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindFloat:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case KindDecimal:
		return v.d.String()
	case KindString:
		return v.s
	case KindTime:
		return v.t.Format(TimeLayout)
	default:
		data, err := v.MarshalJSON()
		if err != nil {
			return fmt.Sprintf("<%s>", v.kind)
		}

		return string(data)
	}
}

// MarshalJSON renders the value as plain JSON: decimals become strings to keep their precision,
// times become strings in TimeLayout. Decoding restores the kinds with the help of a DocumentSchema.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindNull:
		return []byte("null"), nil
	case KindFloat:
		if math.IsNaN(v.f) || math.IsInf(v.f, 0) {
			return nil, fmt.Errorf("%w: float %v cannot be rendered as json", ErrInvalidDocument, v.f)
		}

		return []byte(strconv.FormatFloat(v.f, 'g', -1, 64)), nil
	case KindBool, KindInt:
		return []byte(v.String()), nil
	case KindDecimal, KindString, KindTime:
		return jsonAPI.Marshal(v.String())
	case KindObject:
		return jsonAPI.Marshal(v.obj)
	case KindArray:
		var buf bytes.Buffer
		buf.WriteByte('[')

		for i, element := range v.arr {
			if i > 0 {
				buf.WriteByte(',')
			}

			data, err := element.MarshalJSON()
			if err != nil {
				return nil, err
			}

			buf.Write(data)
		}

		buf.WriteByte(']')

		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("%w: unknown value kind %d", ErrInvalidDocument, v.kind)
	}
}
