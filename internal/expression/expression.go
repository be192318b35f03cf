// Package expression implements the routing rule match language.
//
// The language is a prefix boolean tree:
//
//	&(expr, expr, ...)            all operands match
//	|(expr, expr, ...)            any operand matches
//	not(expr)                     operand does not match
//	equals(Attribute, 'value')    attribute equals value
//	startswith(Attribute, 'v')    attribute has prefix v
//
// Evaluation is total: an attribute the source cannot provide makes the
// leaf predicate false.
package expression

import (
	"fmt"
	"strings"

	"connector/pkg/errors"
)

// Expression is a parsed match clause.
type Expression interface {
	Evaluate(src AttributeSource) bool
	String() string
}

type SyntaxError struct {
	Column  int
	Message string
}

func newSyntaxError(column int, msg string) *SyntaxError {
	return &SyntaxError{Column: column, Message: msg}
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("syntax error at column %d: %s", e.Column, e.Message)
}

func (e *SyntaxError) Unwrap() error {
	return errors.ErrExpressionSyntax.WithDetail("column", e.Column)
}

// Evaluate is a nil-safe shorthand for expr.Evaluate(src).
func Evaluate(expr Expression, src AttributeSource) bool {
	if expr == nil || src == nil {
		return false
	}
	return expr.Evaluate(src)
}

type andExpr struct {
	operands []Expression
}

func (e *andExpr) Evaluate(src AttributeSource) bool {
	for _, op := range e.operands {
		if !op.Evaluate(src) {
			return false
		}
	}
	return true
}

func (e *andExpr) String() string {
	return "&(" + joinOperands(e.operands) + ")"
}

type orExpr struct {
	operands []Expression
}

func (e *orExpr) Evaluate(src AttributeSource) bool {
	for _, op := range e.operands {
		if op.Evaluate(src) {
			return true
		}
	}
	return false
}

func (e *orExpr) String() string {
	return "|(" + joinOperands(e.operands) + ")"
}

type notExpr struct {
	operand Expression
}

func (e *notExpr) Evaluate(src AttributeSource) bool {
	return !e.operand.Evaluate(src)
}

func (e *notExpr) String() string {
	return "not(" + e.operand.String() + ")"
}

type equalsExpr struct {
	attr  Attribute
	value string
}

func (e *equalsExpr) Evaluate(src AttributeSource) bool {
	v, ok := src.Attribute(e.attr)
	return ok && v == e.value
}

func (e *equalsExpr) String() string {
	return fmt.Sprintf("equals(%s, '%s')", e.attr, e.value)
}

type startsWithExpr struct {
	attr   Attribute
	prefix string
}

func (e *startsWithExpr) Evaluate(src AttributeSource) bool {
	v, ok := src.Attribute(e.attr)
	return ok && strings.HasPrefix(v, e.prefix)
}

func (e *startsWithExpr) String() string {
	return fmt.Sprintf("startswith(%s, '%s')", e.attr, e.prefix)
}

func joinOperands(ops []Expression) string {
	parts := make([]string, len(ops))
	for i, op := range ops {
		parts[i] = op.String()
	}
	return strings.Join(parts, ", ")
}
