package cel

import (
	"context"
	"fmt"

	"github.com/google/cel-go/cel"
)

// Variables available to routing match clauses written in CEL:
//
//	attrs      map(string, string) of message attributes (Action, ServiceName, ...)
//	direction  message direction
//	domain     business domain of the message
type Evaluator struct {
	env *cel.Env
}

// Input is the data a compiled clause is evaluated against.
type Input struct {
	Attributes map[string]string
	Direction  string
	Domain     string
}

func (in Input) vars() map[string]interface{} {
	attrs := in.Attributes
	if attrs == nil {
		attrs = map[string]string{}
	}
	return map[string]interface{}{
		"attrs":     attrs,
		"direction": in.Direction,
		"domain":    in.Domain,
	}
}

func NewEvaluator() (*Evaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable("attrs", cel.MapType(cel.StringType, cel.StringType)),
		cel.Variable("direction", cel.StringType),
		cel.Variable("domain", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Evaluator{env: env}, nil
}

// Program is a compiled boolean clause.
type Program struct {
	source  string
	program cel.Program
}

func (p *Program) Source() string {
	return p.source
}

func (e *Evaluator) ValidateExpression(expression string) error {
	_, err := e.Compile(expression)
	return err
}

// Compile checks that expression is a boolean clause and prepares it for evaluation.
func (e *Evaluator) Compile(expression string) (*Program, error) {
	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("CEL expression validation failed: %w", issues.Err())
	}

	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("match expression must return bool, got %v", ast.OutputType())
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL program: %w", err)
	}

	return &Program{source: expression, program: program}, nil
}

// Eval runs the program. A missing map key is a runtime error in CEL, so
// clauses should guard lookups with `'Action' in attrs`.
func (p *Program) Eval(ctx context.Context, in Input) (bool, error) {
	result, _, err := p.program.ContextEval(ctx, in.vars())
	if err != nil {
		return false, fmt.Errorf("failed to evaluate CEL expression: %w", err)
	}

	boolVal, ok := result.Value().(bool)
	if !ok {
		return false, fmt.Errorf("CEL expression did not return bool, got %T", result.Value())
	}

	return boolVal, nil
}

// EvaluateMatch compiles and evaluates in one step.
func (e *Evaluator) EvaluateMatch(ctx context.Context, expression string, in Input) (bool, error) {
	program, err := e.Compile(expression)
	if err != nil {
		return false, err
	}
	return program.Eval(ctx, in)
}
