package projections

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// The text form of a filter is
//
//	(property;operator;value;visible;tag{&(...)|(...)})
//
// where value is n (null), b:<bool>, i:<int>, f:<float>, d:<decimal>, s:<string> or t:<RFC 3339 time>
// and visible is 1 or 0. Inside every field the characters \ ( ) ; | & are escaped with a backslash.

const filterSpecialChars = `\();|&`

var filterEscaper = strings.NewReplacer(
	`\`, `\\`,
	`(`, `\(`,
	`)`, `\)`,
	`;`, `\;`,
	`|`, `\|`,
	`&`, `\&`,
)

// String returns the text form of the filter, see MarshalText.
func (f Filter) String() string {
	text, err := f.MarshalText()
	if err != nil {
		return fmt.Sprintf("<invalid filter: %v>", err)
	}

	return string(text)
}

// MarshalText renders the filter in its text form. Only scalar values can be rendered.
func (f Filter) MarshalText() ([]byte, error) {
	var b strings.Builder
	if err := writeFilter(&b, f); err != nil {
		return nil, err
	}

	return []byte(b.String()), nil
}

// UnmarshalText parses the text form of a filter.
func (f *Filter) UnmarshalText(text []byte) error {
	parsed, err := ParseFilter(string(text))
	if err != nil {
		return err
	}

	*f = parsed

	return nil
}

// ParseFilter parses the text form of a filter. Malformed input yields ErrMalformedFilter.
func ParseFilter(text string) (Filter, error) {
	p := &filterParser{input: text}

	f, err := p.parseGroup()
	if err != nil {
		return Filter{}, err
	}

	if p.pos != len(p.input) {
		return Filter{}, p.errorf("unexpected trailing input")
	}

	return f, nil
}

func writeFilter(b *strings.Builder, f Filter) error {
	value, err := encodeFilterValue(f.Value)
	if err != nil {
		return err
	}

	visible := "0"
	if f.IsVisible {
		visible = "1"
	}

	b.WriteByte('(')
	b.WriteString(filterEscaper.Replace(f.PropertyName))
	b.WriteByte(';')
	b.WriteString(filterEscaper.Replace(string(f.Operator)))
	b.WriteByte(';')
	b.WriteString(filterEscaper.Replace(value))
	b.WriteByte(';')
	b.WriteString(visible)
	b.WriteByte(';')
	b.WriteString(filterEscaper.Replace(f.Tag))

	for _, connector := range f.Connectors {
		if connector.Logic != LogicAnd && connector.Logic != LogicOr {
			return fmt.Errorf("%w: unknown logic %q", ErrMalformedFilter, connector.Logic)
		}

		b.WriteString(string(connector.Logic))

		if err = writeFilter(b, connector.Filter); err != nil {
			return err
		}
	}

	b.WriteByte(')')

	return nil
}

func encodeFilterValue(v Value) (string, error) {
	switch v.Kind() {
	case KindNull:
		return "n", nil
	case KindBool:
		return "b:" + v.String(), nil
	case KindInt:
		return "i:" + v.String(), nil
	case KindFloat:
		return "f:" + v.String(), nil
	case KindDecimal:
		return "d:" + v.String(), nil
	case KindString:
		return "s:" + v.String(), nil
	case KindTime:
		t, _ := v.AsTime()
		return "t:" + t.Format(time.RFC3339Nano), nil
	default:
		return "", fmt.Errorf("%w: %s values cannot be used in filters", ErrMalformedFilter, v.Kind())
	}
}

func decodeFilterValue(text string) (Value, error) {
	if text == "n" {
		return Null(), nil
	}

	code, raw, ok := strings.Cut(text, ":")
	if !ok {
		return Value{}, fmt.Errorf("%w: value %q has no type code", ErrMalformedFilter, text)
	}

	var err error

	switch code {
	case "b":
		var b bool
		if b, err = strconv.ParseBool(raw); err == nil {
			return Bool(b), nil
		}
	case "i":
		var i int64
		if i, err = strconv.ParseInt(raw, 10, 64); err == nil {
			return Int(i), nil
		}
	case "f":
		var f float64
		if f, err = strconv.ParseFloat(raw, 64); err == nil {
			return Float(f), nil
		}
	case "d":
		var d decimal.Decimal
		if d, err = decimal.NewFromString(raw); err == nil {
			return Decimal(d), nil
		}
	case "s":
		return String(raw), nil
	case "t":
		var t time.Time
		if t, err = time.Parse(time.RFC3339Nano, raw); err == nil {
			return Time(t), nil
		}
	default:
		return Value{}, fmt.Errorf("%w: unknown value type code %q", ErrMalformedFilter, code)
	}

	return Value{}, fmt.Errorf("%w: value %q: %w", ErrMalformedFilter, text, err)
}

type filterParser struct {
	input string
	pos   int
}

func (p *filterParser) errorf(format string, args ...any) error {
	return fmt.Errorf("%w: at offset %d: %s", ErrMalformedFilter, p.pos, fmt.Sprintf(format, args...))
}

func (p *filterParser) expect(c byte) error {
	if p.pos >= len(p.input) || p.input[p.pos] != c {
		return p.errorf("expected %q", c)
	}

	p.pos++

	return nil
}

// readField reads and unescapes up to the next unescaped character out of stops.
func (p *filterParser) readField(stops string) (string, error) {
	var b strings.Builder

	for p.pos < len(p.input) {
		c := p.input[p.pos]

		switch {
		case c == '\\':
			if p.pos+1 >= len(p.input) {
				return "", p.errorf("dangling escape character")
			}

			b.WriteByte(p.input[p.pos+1])
			p.pos += 2

			continue
		case strings.IndexByte(stops, c) >= 0:
			return b.String(), nil
		case strings.IndexByte(filterSpecialChars, c) >= 0:
			return "", p.errorf("unescaped %q", c)
		}

		b.WriteByte(c)
		p.pos++
	}

	return "", p.errorf("unexpected end of input")
}

func (p *filterParser) readFieldUntilSemicolon() (string, error) {
	field, err := p.readField(";")
	if err != nil {
		return "", err
	}

	return field, p.expect(';')
}

func (p *filterParser) parseGroup() (Filter, error) {
	if err := p.expect('('); err != nil {
		return Filter{}, err
	}

	var fields [4]string

	for i := range fields {
		field, err := p.readFieldUntilSemicolon()
		if err != nil {
			return Filter{}, err
		}

		fields[i] = field
	}

	operator := Operator(fields[1])
	if !operator.IsValid() {
		return Filter{}, p.errorf("unknown operator %q", fields[1])
	}

	value, err := decodeFilterValue(fields[2])
	if err != nil {
		return Filter{}, err
	}

	if fields[3] != "0" && fields[3] != "1" {
		return Filter{}, p.errorf("visibility must be 0 or 1, got %q", fields[3])
	}

	tag, err := p.readField("&|)")
	if err != nil {
		return Filter{}, err
	}

	f := Filter{PropertyName: fields[0], Operator: operator, Value: value, IsVisible: fields[3] == "1", Tag: tag}

	for p.pos < len(p.input) && (p.input[p.pos] == '&' || p.input[p.pos] == '|') {
		logic := Logic(p.input[p.pos : p.pos+1])
		p.pos++

		connected, groupErr := p.parseGroup()
		if groupErr != nil {
			return Filter{}, groupErr
		}

		f.Connectors = append(f.Connectors, FilterConnector{Logic: logic, Filter: connected})
	}

	if err = p.expect(')'); err != nil {
		return Filter{}, err
	}

	return f, nil
}
