package sqlrepo

import (
	"strings"

	"github.com/doug-martin/goqu/v9"
	"github.com/doug-martin/goqu/v9/exp"

	"github.com/AntonStoeckl/eventstore-projections-go/eventstore/sqlengine"
	"github.com/AntonStoeckl/eventstore-projections-go/projections"
)

// expressionBuilder narrows the rows loaded for a query.
//
// Only exact equality of string properties is pushed down, everything else translates to TRUE.
// The resulting condition therefore matches a superset of the query's documents.
type expressionBuilder struct {
	dialect sqlengine.Dialect
}

func newExpressionBuilder(dialect sqlengine.Dialect) expressionBuilder {
	return expressionBuilder{dialect: dialect}
}

func (b expressionBuilder) Compare(path projections.PropertyPath, operator projections.Operator, value projections.Value) (exp.Expression, error) {
	text, isString := value.AsString()

	if operator != projections.OperatorEqual || !isString || path.Type != projections.PropertyTypeString || len(path.Segments) == 0 {
		return b.True(), nil
	}

	return b.jsonText(path.Segments).Eq(text), nil
}

// AnyElement drops inner: its paths are relative to array elements.
func (b expressionBuilder) AnyElement(_ projections.PropertyPath, _ exp.Expression) (exp.Expression, error) {
	return b.True(), nil
}

func (b expressionBuilder) And(left, right exp.Expression) exp.Expression {
	return goqu.And(left, right)
}

func (b expressionBuilder) Or(left, right exp.Expression) exp.Expression {
	return goqu.Or(left, right)
}

func (b expressionBuilder) True() exp.Expression {
	return goqu.L("1 = 1")
}

// jsonText extracts the value at the path as text.
func (b expressionBuilder) jsonText(segments []string) exp.LiteralExpression {
	if b.dialect == sqlengine.DialectSQLite {
		quoted := make([]string, 0, len(segments))
		for _, segment := range segments {
			quoted = append(quoted, `"`+strings.ReplaceAll(segment, `"`, `\"`)+`"`)
		}

		return goqu.L("json_extract(?, ?)", goqu.C(colDoc), "$."+strings.Join(quoted, "."))
	}

	return goqu.L("? #>> ?", goqu.C(colDoc), "{"+strings.Join(segments, ",")+"}")
}
