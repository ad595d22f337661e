package projections

import (
	"fmt"
	"sort"
	"strings"
)

// Predicate reports whether a document matches a compiled filter.
type Predicate func(doc Document) bool

type scopePredicate func(scope Value) bool

// Compile translates the filter into a Predicate evaluated in memory.
// Missing properties are treated as null.
func Compile(schema DocumentSchema, filter Filter) (Predicate, error) {
	expr, err := Translate[scopePredicate](schema, filter, predicateBuilder{})
	if err != nil {
		return nil, err
	}

	return func(doc Document) bool { return expr(Object(doc)) }, nil
}

// CompileQuery translates the search text and filters of the query into a Predicate.
func CompileQuery(schema DocumentSchema, query Query) (Predicate, error) {
	expr, err := TranslateQuery[scopePredicate](schema, query, predicateBuilder{})
	if err != nil {
		return nil, err
	}

	return func(doc Document) bool { return expr(Object(doc)) }, nil
}

type predicateBuilder struct{}

func (predicateBuilder) Compare(path PropertyPath, operator Operator, value Value) (scopePredicate, error) {
	return func(scope Value) bool {
		return evaluate(operator, lookup(scope, path.Segments), value)
	}, nil
}

func (predicateBuilder) AnyElement(arrayPath PropertyPath, inner scopePredicate) (scopePredicate, error) {
	return func(scope Value) bool {
		elements, ok := lookup(scope, arrayPath.Segments).AsArray()
		if !ok {
			return false
		}

		for _, element := range elements {
			if inner(element) {
				return true
			}
		}

		return false
	}, nil
}

func (predicateBuilder) And(left, right scopePredicate) scopePredicate {
	return func(scope Value) bool { return left(scope) && right(scope) }
}

func (predicateBuilder) Or(left, right scopePredicate) scopePredicate {
	return func(scope Value) bool { return left(scope) || right(scope) }
}

func (predicateBuilder) True() scopePredicate {
	return func(Value) bool { return true }
}

func lookup(scope Value, segments []string) Value {
	if len(segments) == 0 {
		return scope
	}

	doc, ok := scope.AsObject()
	if !ok {
		return Null()
	}

	value, ok := doc.Get(strings.Join(segments, "."))
	if !ok {
		return Null()
	}

	return value
}

func evaluate(operator Operator, actual, expected Value) bool {
	if operator.IgnoresCase() {
		actual, expected = lowerString(actual), lowerString(expected)
	}

	switch operator.CaseSensitive() {
	case OperatorEqual:
		return actual.Equal(expected)
	case OperatorNotEqual:
		return !actual.Equal(expected)
	case OperatorGreater:
		c, ok := Compare(actual, expected)
		return ok && c > 0
	case OperatorGreaterOrEqual:
		c, ok := Compare(actual, expected)
		return ok && c >= 0
	case OperatorLower:
		c, ok := Compare(actual, expected)
		return ok && c < 0
	case OperatorLowerOrEqual:
		c, ok := Compare(actual, expected)
		return ok && c <= 0
	case OperatorStartsWith:
		return matchText(actual, expected, strings.HasPrefix)
	case OperatorEndsWith:
		return matchText(actual, expected, strings.HasSuffix)
	case OperatorContains:
		return matchText(actual, expected, strings.Contains)
	default:
		return false
	}
}

func lowerString(v Value) Value {
	if s, ok := v.AsString(); ok {
		return String(strings.ToLower(s))
	}

	return v
}

func matchText(actual, expected Value, match func(s, part string) bool) bool {
	s, okActual := actual.AsString()
	part, okExpected := expected.AsString()

	return okActual && okExpected && match(s, part)
}

// ApplyQuery evaluates the query in memory: filter, sort, count, then page.
// The returned records are copies of the input documents.
func ApplyQuery(schema DocumentSchema, query Query, docs []Document) (QueryResult, error) {
	predicate, err := CompileQuery(schema, query)
	if err != nil {
		return QueryResult{}, err
	}

	if err = ValidateOrderBy(schema, query.OrderBy); err != nil {
		return QueryResult{}, err
	}

	matching := make([]Document, 0, len(docs))

	for _, doc := range docs {
		if predicate(doc) {
			matching = append(matching, doc)
		}
	}

	SortDocuments(matching, query.OrderBy)

	result := QueryResult{TotalRecordsFound: int64(len(matching)), Records: make([]Document, 0)}

	for _, doc := range page(matching, query.Limit, query.Offset) {
		result.Records = append(result.Records, doc.Clone())
	}

	return result, nil
}

// ValidateOrderBy checks that every sort key addresses a sortable scalar outside of arrays.
func ValidateOrderBy(schema DocumentSchema, orderBy []SortField) error {
	for _, field := range orderBy {
		chain, err := schema.Resolve(field.KeyPath)
		if err != nil {
			return err
		}

		for _, property := range chain[:len(chain)-1] {
			if property.Type == PropertyTypeArray {
				return fmt.Errorf("%w: cannot sort by %q inside an array", ErrInvalidFilter, field.KeyPath)
			}
		}

		leaf := chain[len(chain)-1]
		if !leaf.Type.isScalar() || (!leaf.IsSortable && !leaf.IsKey) {
			return fmt.Errorf("%w: property %q is not sortable", ErrInvalidFilter, field.KeyPath)
		}
	}

	return nil
}

// SortDocuments sorts in place by the sort fields; nulls and missing values come first in ascending order.
func SortDocuments(docs []Document, orderBy []SortField) {
	if len(orderBy) == 0 {
		return
	}

	sort.SliceStable(docs, func(i, j int) bool {
		for _, field := range orderBy {
			c := compareForSort(lookup(Object(docs[i]), strings.Split(field.KeyPath, ".")),
				lookup(Object(docs[j]), strings.Split(field.KeyPath, ".")))
			if c == 0 {
				continue
			}

			if field.Descending {
				return c > 0
			}

			return c < 0
		}

		return false
	})
}

func compareForSort(a, b Value) int {
	switch {
	case a.IsNull() && b.IsNull():
		return 0
	case a.IsNull():
		return -1
	case b.IsNull():
		return 1
	}

	c, _ := Compare(a, b)

	return c
}

func page(docs []Document, limit, offset int) []Document {
	if offset >= len(docs) {
		return nil
	}

	if offset > 0 {
		docs = docs[offset:]
	}

	if limit > 0 && limit < len(docs) {
		docs = docs[:limit]
	}

	return docs
}
