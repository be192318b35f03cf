package management

import (
	"strings"

	"connector/internal/constants"
	"connector/internal/expression"
	"connector/internal/routing"
	"connector/pkg/cel"
	"connector/pkg/errors"
)

var validDialects = map[routing.Dialect]bool{
	"":                        true,
	routing.DialectExpression: true,
	routing.DialectCEL:        true,
}

// ValidateRoutingRule checks the request and parses its match clause so a
// broken rule never reaches the rule manager.
func ValidateRoutingRule(req CreateRoutingRuleRequest) error {
	if req.ID == "" {
		return errors.ErrValidation.WithMessage("id is required")
	}
	if req.LinkName == "" {
		return errors.ErrValidation.WithMessage("link_name is required")
	}
	if strings.TrimSpace(req.MatchClause) == "" {
		return errors.ErrValidation.WithMessage("match_clause is required")
	}
	if !validDialects[req.Dialect] {
		return errors.ErrValidation.WithMessage("unknown dialect %s", req.Dialect)
	}

	clause := matchClause(req)
	if strings.HasPrefix(clause, constants.CELClausePrefix) {
		evaluator, err := cel.NewEvaluator()
		if err != nil {
			return errors.ErrInternal.WithCause(err).WithMessage("failed to create CEL evaluator")
		}
		if err := evaluator.ValidateExpression(strings.TrimPrefix(clause, constants.CELClausePrefix)); err != nil {
			return errors.ErrExpressionSyntax.WithCause(err).WithMessage("invalid CEL clause: %v", err)
		}
		return nil
	}

	if _, err := expression.Parse(clause); err != nil {
		return errors.ErrExpressionSyntax.WithCause(err).WithMessage("invalid match clause: %v", err)
	}
	return nil
}

// matchClause returns the clause of req in the form the rule manager
// compiles, prefixing CEL clauses sent with an explicit dialect.
func matchClause(req CreateRoutingRuleRequest) string {
	clause := strings.TrimSpace(req.MatchClause)
	if req.Dialect == routing.DialectCEL && !strings.HasPrefix(clause, constants.CELClausePrefix) {
		return constants.CELClausePrefix + clause
	}
	return clause
}
