package routing

import (
	"context"
	"strings"
	"time"

	"connector/internal/constants"
	"connector/internal/expression"
	"connector/pkg/cel"
	"connector/pkg/errors"
	"connector/pkg/models"
)

type Dialect string

const (
	DialectExpression Dialect = "expression"
	DialectCEL        Dialect = "cel"
)

// Rule sends matching messages to LinkName. Higher Priority wins.
type Rule struct {
	ID             string    `json:"id"`
	BusinessDomain string    `json:"business_domain"`
	MatchClause    string    `json:"match_clause"`
	LinkName       string    `json:"link_name"`
	Priority       int       `json:"priority"`
	Description    string    `json:"description,omitempty"`
	Enabled        bool      `json:"enabled"`
	Source         string    `json:"source"`
	Dialect        Dialect   `json:"dialect"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`

	matcher matcher
}

// Match evaluates the compiled clause. An uncompiled rule never matches.
func (r Rule) Match(ctx context.Context, msg *models.Message) (bool, error) {
	if r.matcher == nil {
		return false, nil
	}
	return r.matcher.match(ctx, msg)
}

type matcher interface {
	match(ctx context.Context, msg *models.Message) (bool, error)
}

type expressionMatcher struct {
	expr expression.Expression
}

func (m expressionMatcher) match(_ context.Context, msg *models.Message) (bool, error) {
	return expression.Evaluate(m.expr, expression.FromMessage(msg)), nil
}

type celMatcher struct {
	program *cel.Program
}

func (m celMatcher) match(ctx context.Context, msg *models.Message) (bool, error) {
	return m.program.Eval(ctx, cel.Input{
		Attributes: expression.AsMap(expression.FromMessage(msg)),
		Direction:  string(msg.Details.Direction),
		Domain:     msg.BusinessDomain,
	})
}

// compile parses the clause of rule. Clauses starting with "cel:" use the
// CEL dialect, everything else the expression language.
func compile(evaluator *cel.Evaluator, rule *Rule) error {
	clause := strings.TrimSpace(rule.MatchClause)

	if strings.HasPrefix(clause, constants.CELClausePrefix) {
		if evaluator == nil {
			return errors.ErrExpressionSyntax.WithMessage("rule %s: CEL clauses are not available", rule.ID)
		}
		program, err := evaluator.Compile(strings.TrimPrefix(clause, constants.CELClausePrefix))
		if err != nil {
			return errors.ErrExpressionSyntax.WithCause(err).WithMessage("rule %s: invalid CEL clause", rule.ID)
		}
		rule.Dialect = DialectCEL
		rule.matcher = celMatcher{program: program}
		return nil
	}

	expr, err := expression.Parse(clause)
	if err != nil {
		return errors.ErrExpressionSyntax.WithCause(err).WithMessage("rule %s: %v", rule.ID, err)
	}
	rule.Dialect = DialectExpression
	rule.matcher = expressionMatcher{expr: expr}
	return nil
}
