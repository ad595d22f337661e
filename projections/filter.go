package projections

import (
	"slices"
	"strings"
)

// Operator compares a document property with a filter value.
type Operator string

const (
	OperatorEqual                    Operator = "eq"
	OperatorNotEqual                 Operator = "ne"
	OperatorGreater                  Operator = "gt"
	OperatorGreaterOrEqual           Operator = "ge"
	OperatorLower                    Operator = "lt"
	OperatorLowerOrEqual             Operator = "le"
	OperatorStartsWith               Operator = "sw"
	OperatorEndsWith                 Operator = "ew"
	OperatorContains                 Operator = "ct"
	OperatorEqualIgnoreCase          Operator = "eqi"
	OperatorNotEqualIgnoreCase       Operator = "nei"
	OperatorGreaterIgnoreCase        Operator = "gti"
	OperatorGreaterOrEqualIgnoreCase Operator = "gei"
	OperatorLowerIgnoreCase          Operator = "lti"
	OperatorLowerOrEqualIgnoreCase   Operator = "lei"
	OperatorStartsWithIgnoreCase     Operator = "swi"
	OperatorEndsWithIgnoreCase       Operator = "ewi"
	OperatorContainsIgnoreCase       Operator = "cti"
	OperatorArrayContains            Operator = "ac"
)

var operators = []Operator{
	OperatorEqual, OperatorNotEqual, OperatorGreater, OperatorGreaterOrEqual, OperatorLower, OperatorLowerOrEqual,
	OperatorStartsWith, OperatorEndsWith, OperatorContains,
	OperatorEqualIgnoreCase, OperatorNotEqualIgnoreCase, OperatorGreaterIgnoreCase,
	OperatorGreaterOrEqualIgnoreCase, OperatorLowerIgnoreCase, OperatorLowerOrEqualIgnoreCase,
	OperatorStartsWithIgnoreCase, OperatorEndsWithIgnoreCase, OperatorContainsIgnoreCase,
	OperatorArrayContains,
}

// IsValid reports whether the operator is one of the declared operators.
func (o Operator) IsValid() bool {
	return slices.Contains(operators, o)
}

// IgnoresCase reports whether the operator compares strings case-insensitively.
func (o Operator) IgnoresCase() bool {
	return o != OperatorArrayContains && strings.HasSuffix(string(o), "i")
}

// CaseSensitive returns the case-sensitive variant of the operator.
func (o Operator) CaseSensitive() Operator {
	if o.IgnoresCase() {
		return o[:len(o)-1]
	}

	return o
}

func (o Operator) isTextOnly() bool {
	switch o.CaseSensitive() {
	case OperatorStartsWith, OperatorEndsWith, OperatorContains:
		return true
	default:
		return false
	}
}

// Logic combines a filter with a connected filter.
type Logic string

const (
	LogicAnd Logic = "&"
	LogicOr  Logic = "|"
)

// FilterConnector attaches a filter to the preceding expression.
type FilterConnector struct {
	Logic  Logic
	Filter Filter
}

// Filter is a composable predicate over one property plus connected filters.
//
// Connectors fold from the left, each connected filter forming its own group:
// a filter f with connectors (&, g) and (|, h) means ((f AND (g)) OR (h)).
//
// Tag names a filter so it can later be removed or replaced within a Query.
// Invisible filters are applied like all others but are meant to be hidden from end users.
type Filter struct {
	PropertyName string
	Operator     Operator
	Value        Value
	IsVisible    bool
	Tag          string
	Connectors   []FilterConnector
}

// Condition is the first half of a filter built with Where.
type Condition struct {
	propertyName string
}

// Where starts a filter on the property with the given dotted path.
func Where(propertyName string) Condition {
	return Condition{propertyName: propertyName}
}

// Is completes the filter with any operator.
func (c Condition) Is(operator Operator, value Value) Filter {
	return Filter{PropertyName: c.propertyName, Operator: operator, Value: value, IsVisible: true}
}

func (c Condition) Equal(value Value) Filter          { return c.Is(OperatorEqual, value) }
func (c Condition) NotEqual(value Value) Filter       { return c.Is(OperatorNotEqual, value) }
func (c Condition) Greater(value Value) Filter        { return c.Is(OperatorGreater, value) }
func (c Condition) GreaterOrEqual(value Value) Filter { return c.Is(OperatorGreaterOrEqual, value) }
func (c Condition) Lower(value Value) Filter          { return c.Is(OperatorLower, value) }
func (c Condition) LowerOrEqual(value Value) Filter   { return c.Is(OperatorLowerOrEqual, value) }
func (c Condition) StartsWith(text string) Filter     { return c.Is(OperatorStartsWith, String(text)) }
func (c Condition) EndsWith(text string) Filter       { return c.Is(OperatorEndsWith, String(text)) }
func (c Condition) Contains(text string) Filter       { return c.Is(OperatorContains, String(text)) }
func (c Condition) ArrayContains(value Value) Filter  { return c.Is(OperatorArrayContains, value) }

func (c Condition) EqualIgnoreCase(text string) Filter {
	return c.Is(OperatorEqualIgnoreCase, String(text))
}

func (c Condition) NotEqualIgnoreCase(text string) Filter {
	return c.Is(OperatorNotEqualIgnoreCase, String(text))
}

func (c Condition) StartsWithIgnoreCase(text string) Filter {
	return c.Is(OperatorStartsWithIgnoreCase, String(text))
}

func (c Condition) EndsWithIgnoreCase(text string) Filter {
	return c.Is(OperatorEndsWithIgnoreCase, String(text))
}

func (c Condition) ContainsIgnoreCase(text string) Filter {
	return c.Is(OperatorContainsIgnoreCase, String(text))
}

// And connects other with AND. The receiver is not modified.
func (f Filter) And(other Filter) Filter {
	return f.connect(LogicAnd, other)
}

// Or connects other with OR. The receiver is not modified.
func (f Filter) Or(other Filter) Filter {
	return f.connect(LogicOr, other)
}

func (f Filter) connect(logic Logic, other Filter) Filter {
	connected := f.clone()
	connected.Connectors = append(connected.Connectors, FilterConnector{Logic: logic, Filter: other.clone()})

	return connected
}

// WithTag returns a copy of the filter carrying the tag.
func (f Filter) WithTag(tag string) Filter {
	tagged := f.clone()
	tagged.Tag = tag

	return tagged
}

// Hidden returns a copy of the filter that is not visible to end users.
func (f Filter) Hidden() Filter {
	hidden := f.clone()
	hidden.IsVisible = false

	return hidden
}

func (f Filter) clone() Filter {
	clone := f
	clone.Value = f.Value.Clone()
	clone.Connectors = nil

	if len(f.Connectors) > 0 {
		clone.Connectors = make([]FilterConnector, len(f.Connectors))
		for i, connector := range f.Connectors {
			clone.Connectors[i] = FilterConnector{Logic: connector.Logic, Filter: connector.Filter.clone()}
		}
	}

	return clone
}

// Equal reports whether both filters are structurally equal, including connected filters.
func (f Filter) Equal(other Filter) bool {
	if f.PropertyName != other.PropertyName ||
		f.Operator != other.Operator ||
		f.IsVisible != other.IsVisible ||
		f.Tag != other.Tag ||
		f.Value.Kind() != other.Value.Kind() ||
		!f.Value.Equal(other.Value) ||
		len(f.Connectors) != len(other.Connectors) {
		return false
	}

	for i, connector := range f.Connectors {
		if connector.Logic != other.Connectors[i].Logic || !connector.Filter.Equal(other.Connectors[i].Filter) {
			return false
		}
	}

	return true
}
