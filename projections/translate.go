package projections

import (
	"fmt"
	"strings"
)

// PropertyPath addresses a value relative to the current scope: the document itself or,
// inside AnyElement, one array element. Empty Segments address the scope value itself.
type PropertyPath struct {
	Segments []string
	Type     PropertyType
}

func (p PropertyPath) String() string {
	return strings.Join(p.Segments, ".")
}

// ExpressionBuilder turns filters into the query representation E of a backend.
//
// Translate calls the builder bottom-up; the builder never has to understand the Filter tree.
type ExpressionBuilder[E any] interface {
	// Compare compares the scalar at path with value.
	Compare(path PropertyPath, operator Operator, value Value) (E, error)

	// AnyElement matches if inner matches at least one element of the array at arrayPath.
	// Paths inside inner are relative to the array element.
	AnyElement(arrayPath PropertyPath, inner E) (E, error)

	And(left, right E) E
	Or(left, right E) E

	// True matches every document.
	True() E
}

// Translate translates the filter including its connected filters.
// Properties must be declared filterable or be the key, otherwise ErrInvalidFilter is returned.
func Translate[E any](schema DocumentSchema, filter Filter, builder ExpressionBuilder[E]) (E, error) {
	t := translator[E]{schema: schema, builder: builder}
	return t.translate(filter)
}

// TranslateQuery translates the search text and all filters of the query, combined with AND.
// An empty query translates to builder.True().
func TranslateQuery[E any](schema DocumentSchema, query Query, builder ExpressionBuilder[E]) (E, error) {
	t := translator[E]{schema: schema, builder: builder}
	expr := builder.True()

	if query.SearchText != "" {
		search, err := t.translateSearch(query.SearchText)
		if err != nil {
			return expr, err
		}

		expr = builder.And(expr, search)
	}

	for _, filter := range query.Filters {
		translated, err := t.translate(filter)
		if err != nil {
			return expr, err
		}

		expr = builder.And(expr, translated)
	}

	return expr, nil
}

type translator[E any] struct {
	schema  DocumentSchema
	builder ExpressionBuilder[E]
}

func (t translator[E]) translate(filter Filter) (E, error) {
	expr, err := t.translateLeaf(filter.PropertyName, filter.Operator, filter.Value, true)
	if err != nil {
		return expr, err
	}

	for _, connector := range filter.Connectors {
		connected, connectedErr := t.translate(connector.Filter)
		if connectedErr != nil {
			return expr, connectedErr
		}

		switch connector.Logic {
		case LogicAnd:
			expr = t.builder.And(expr, connected)
		case LogicOr:
			expr = t.builder.Or(expr, connected)
		default:
			return expr, fmt.Errorf("%w: unknown logic %q", ErrInvalidFilter, connector.Logic)
		}
	}

	return expr, nil
}

// translateSearch ORs a case-insensitive contains over every searchable string property.
func (t translator[E]) translateSearch(text string) (E, error) {
	var (
		expr  E
		found bool
	)

	for _, path := range searchablePaths(t.schema.Properties, "") {
		leaf, err := t.translateLeaf(path, OperatorContainsIgnoreCase, String(text), false)
		if err != nil {
			return expr, err
		}

		if found {
			expr = t.builder.Or(expr, leaf)
		} else {
			expr, found = leaf, true
		}
	}

	if !found {
		return expr, fmt.Errorf("%w: schema %q declares no searchable string property", ErrInvalidFilter, t.schema.Name)
	}

	return expr, nil
}

func searchablePaths(properties []PropertySchema, prefix string) []string {
	var paths []string

	for _, property := range properties {
		path := prefix + property.Name

		switch {
		case property.Type == PropertyTypeObject || (property.Type == PropertyTypeArray && len(property.Properties) > 0):
			paths = append(paths, searchablePaths(property.Properties, path+".")...)
		case property.IsSearchable && (property.Type == PropertyTypeString || property.ElementType == PropertyTypeString):
			paths = append(paths, path)
		}
	}

	return paths
}

// translateLeaf splits the property chain at every array and nests the comparison in AnyElement calls.
func (t translator[E]) translateLeaf(propertyName string, operator Operator, value Value, checkAccess bool) (E, error) {
	var zero E

	if !operator.IsValid() {
		return zero, fmt.Errorf("%w: unknown operator %q", ErrInvalidFilter, operator)
	}

	if !value.isScalar() {
		return zero, fmt.Errorf("%w: property %q: %s values cannot be compared", ErrInvalidFilter, propertyName, value.Kind())
	}

	chain, err := t.schema.Resolve(propertyName)
	if err != nil {
		return zero, err
	}

	leaf := chain[len(chain)-1]
	if checkAccess && !leaf.IsFilterable && !leaf.IsKey {
		return zero, fmt.Errorf("%w: property %q is not filterable", ErrInvalidFilter, propertyName)
	}

	return t.nest(chain, propertyName, operator, value)
}

func (t translator[E]) nest(chain []PropertySchema, propertyName string, operator Operator, value Value) (E, error) {
	var (
		zero     E
		segments []string
	)

	for i, property := range chain {
		segments = append(segments, property.Name)
		last := i == len(chain)-1

		switch {
		case property.Type == PropertyTypeArray && !last:
			inner, err := t.nest(chain[i+1:], propertyName, operator, value)
			if err != nil {
				return zero, err
			}

			return t.builder.AnyElement(PropertyPath{Segments: segments, Type: PropertyTypeArray}, inner)

		case property.Type == PropertyTypeArray:
			element := property.elementSchema()
			if element.Type == PropertyTypeObject {
				return zero, fmt.Errorf("%w: property %q is an array of objects, address one of its properties",
					ErrInvalidFilter, propertyName)
			}

			elementOperator := operator
			if operator == OperatorArrayContains {
				elementOperator = OperatorEqual
			}

			if err := checkComparable(element.Type, elementOperator, value, propertyName); err != nil {
				return zero, err
			}

			inner, err := t.builder.Compare(PropertyPath{Type: element.Type}, elementOperator, value)
			if err != nil {
				return zero, err
			}

			return t.builder.AnyElement(PropertyPath{Segments: segments, Type: PropertyTypeArray}, inner)

		case last:
			if operator == OperatorArrayContains {
				return zero, fmt.Errorf("%w: property %q is not an array", ErrInvalidFilter, propertyName)
			}

			if err := checkComparable(property.Type, operator, value, propertyName); err != nil {
				return zero, err
			}

			return t.builder.Compare(PropertyPath{Segments: segments, Type: property.Type}, operator, value)
		}
	}

	return zero, fmt.Errorf("%w: empty property path", ErrInvalidFilter)
}

// checkComparable rejects comparisons that can never be meaningful for the declared property type.
func checkComparable(propertyType PropertyType, operator Operator, value Value, propertyName string) error {
	fail := func(reason string) error {
		return fmt.Errorf("%w: property %q (%s) with operator %q: %s",
			ErrInvalidFilter, propertyName, propertyType, operator, reason)
	}

	if propertyType == PropertyTypeObject {
		return fail("objects cannot be compared")
	}

	if operator.isTextOnly() || operator.IgnoresCase() {
		if propertyType != PropertyTypeString || value.Kind() != KindString {
			return fail("operator requires a string property and a string value")
		}

		return nil
	}

	if value.IsNull() {
		if operator != OperatorEqual && operator != OperatorNotEqual {
			return fail("null can only be compared for equality")
		}

		return nil
	}

	var ok bool

	switch propertyType {
	case PropertyTypeInt, PropertyTypeFloat, PropertyTypeDecimal:
		ok = value.isNumber()
	case PropertyTypeBool:
		ok = value.Kind() == KindBool && (operator == OperatorEqual || operator == OperatorNotEqual)
	case PropertyTypeString:
		ok = value.Kind() == KindString
	case PropertyTypeTime:
		ok = value.Kind() == KindTime
	}

	if !ok {
		return fail(fmt.Sprintf("value of kind %s does not match", value.Kind()))
	}

	return nil
}
