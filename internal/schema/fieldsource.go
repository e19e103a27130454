package schema

import (
	"fmt"
	"math"
	"strconv"

	"github.com/Knetic/govaluate"
	"github.com/google/uuid"
)

// FieldSource produces the value of an injected field. Value is called once
// per row, never once per batch, so sources that mint identifiers yield a
// distinct value for every row.
type FieldSource interface {
	Value(rec *Record) (string, error)
}

// Constant is a FieldSource that yields the same literal for every row.
type Constant string

func (c Constant) Value(*Record) (string, error) {
	return string(c), nil
}

// Computed is a FieldSource backed by a function evaluated per row.
type Computed func(rec *Record) (string, error)

func (f Computed) Value(rec *Record) (string, error) {
	return f(rec)
}

// NewUUIDField returns a Computed source minting a fresh UUID for every row.
func NewUUIDField() Computed {
	return func(*Record) (string, error) {
		return uuid.NewString(), nil
	}
}

// Expr is a FieldSource evaluating a govaluate expression against the row's
// already-resolved fields. Field values are exposed as strings under their
// target names.
type Expr struct {
	raw  string
	expr *govaluate.EvaluableExpression
}

// NewExpr compiles an expression field source.
func NewExpr(expression string) (*Expr, error) {
	compiled, err := govaluate.NewEvaluableExpression(expression)
	if err != nil {
		return nil, fmt.Errorf("invalid field expression '%s': %w", expression, err)
	}
	return &Expr{raw: expression, expr: compiled}, nil
}

func (e *Expr) Value(rec *Record) (string, error) {
	result, err := e.expr.Evaluate(rec.Map())
	if err != nil {
		return "", fmt.Errorf("field expression '%s' failed on line %d: %w", e.raw, rec.Line, err)
	}
	return formatValue(result), nil
}

// formatValue renders an expression result as a cell value. Integral floats
// are rendered without a fractional part, matching the workbook normalizer.
func formatValue(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case float64:
		if val == math.Trunc(val) && !math.IsInf(val, 0) {
			return strconv.FormatInt(int64(val), 10)
		}
		return strconv.FormatFloat(val, 'f', -1, 64)
	default:
		return fmt.Sprintf("%v", val)
	}
}
