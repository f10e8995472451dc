package cel

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/google/cel-go/cel"
)

// Facts are the variables an eligibility expression can reference.
type Facts struct {
	Age              int
	EvidenceFound    bool
	MeasuresDetected []string
	MemberID         string
}

func (f Facts) vars() map[string]interface{} {
	measures := f.MeasuresDetected
	if measures == nil {
		measures = []string{}
	}
	return map[string]interface{}{
		"age":               int64(f.Age),
		"evidence_found":    f.EvidenceFound,
		"measures_detected": measures,
		"member_id":         f.MemberID,
	}
}

type Evaluator struct {
	env *cel.Env
}

func NewEvaluator() (*Evaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable("age", cel.IntType),
		cel.Variable("evidence_found", cel.BoolType),
		cel.Variable("measures_detected", cel.ListType(cel.StringType)),
		cel.Variable("member_id", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Evaluator{env: env}, nil
}

func (e *Evaluator) ValidateExpression(expression string) error {
	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return fmt.Errorf("CEL expression validation failed: %w", issues.Err())
	}

	if ast.OutputType() != cel.BoolType {
		return fmt.Errorf("eligibility expression must return bool, got %v", ast.OutputType())
	}

	return nil
}

func (e *Evaluator) CompileExpression(expression string) (cel.Program, error) {
	if err := e.ValidateExpression(expression); err != nil {
		return nil, err
	}

	ast, _ := e.env.Compile(expression)
	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL program: %w", err)
	}

	return program, nil
}

func (e *Evaluator) Evaluate(ctx context.Context, program cel.Program, facts Facts) (bool, error) {
	result, _, err := program.ContextEval(ctx, facts.vars())
	if err != nil {
		return false, fmt.Errorf("failed to evaluate CEL expression: %w", err)
	}

	boolVal, ok := result.Value().(bool)
	if !ok {
		return false, fmt.Errorf("CEL expression did not return bool, got %T", result.Value())
	}

	return boolVal, nil
}

type Rule struct {
	Measure    string
	Expression string
}

type compiledRule struct {
	measure string
	program cel.Program
}

// Eligibility holds one compiled program per measure. Measures are evaluated in sorted order.
type Eligibility struct {
	evaluator *Evaluator
	rules     []compiledRule
}

func NewEligibility(rules []Rule) (*Eligibility, error) {
	evaluator, err := NewEvaluator()
	if err != nil {
		return nil, err
	}

	compiled := make([]compiledRule, 0, len(rules))
	seen := make(map[string]bool, len(rules))
	for _, r := range rules {
		measure := strings.ToUpper(strings.TrimSpace(r.Measure))
		if measure == "" {
			return nil, fmt.Errorf("eligibility rule has no measure")
		}
		if seen[measure] {
			return nil, fmt.Errorf("duplicate eligibility rule for measure %s", measure)
		}
		seen[measure] = true

		program, err := evaluator.CompileExpression(r.Expression)
		if err != nil {
			return nil, fmt.Errorf("measure %s: %w", measure, err)
		}
		compiled = append(compiled, compiledRule{measure: measure, program: program})
	}

	sort.Slice(compiled, func(i, j int) bool { return compiled[i].measure < compiled[j].measure })

	return &Eligibility{evaluator: evaluator, rules: compiled}, nil
}

func (el *Eligibility) Measures() []string {
	out := make([]string, 0, len(el.rules))
	for _, r := range el.rules {
		out = append(out, r.measure)
	}
	return out
}

// Eligible returns the measures whose rule is true for facts, sorted.
func (el *Eligibility) Eligible(ctx context.Context, facts Facts) ([]string, error) {
	out := make([]string, 0, len(el.rules))
	for _, r := range el.rules {
		ok, err := el.evaluator.Evaluate(ctx, r.program, facts)
		if err != nil {
			return nil, fmt.Errorf("measure %s: %w", r.measure, err)
		}
		if ok {
			out = append(out, r.measure)
		}
	}
	return out, nil
}
