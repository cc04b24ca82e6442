// Package scoring compiles instrument rule tables and evaluates patient inputs against them.
package scoring

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/opensource-clinical/bedside/internal/domain"
)

// Table is a validated instrument with its predicates compiled.
// It is immutable and safe for concurrent use.
type Table struct {
	inst  *domain.Instrument
	rules []compiledRule
}

type compiledRule struct {
	rule    domain.PredictorRule
	program cel.Program
}

// Compile validates an instrument and compiles every rule predicate against an
// environment that declares exactly the instrument's variables. A predicate that
// references an undeclared name or does not yield a bool is rejected.
//
// Continuous variables are doubles. Ordering comparisons accept integer
// literals (gcs <= 8) but equality does not: write gcs == 15.0, not gcs == 15.
func Compile(inst *domain.Instrument) (*Table, error) {
	if inst == nil {
		return nil, fmt.Errorf("%w: instrument is required", domain.ErrInvalidTable)
	}
	if err := inst.Validate(); err != nil {
		return nil, err
	}

	inst = inst.Clone()
	env, err := newEnv(inst.Variables)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create CEL environment: %w", domain.ErrInvalidTable, err)
	}

	t := &Table{
		inst:  inst,
		rules: make([]compiledRule, 0, len(inst.Rules)),
	}

	var errs []error
	for _, rule := range inst.Rules {
		program, err := compileRule(env, rule)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		t.rules = append(t.rules, compiledRule{rule: rule, program: program})
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	return t, nil
}

// Instrument returns a copy of the compiled instrument.
func (t *Table) Instrument() *domain.Instrument {
	return t.inst.Clone()
}

// ID returns the instrument id.
func (t *Table) ID() string {
	return t.inst.ID
}

// Version returns the instrument version.
func (t *Table) Version() string {
	return t.inst.Version
}

func newEnv(vars []domain.Variable) (*cel.Env, error) {
	opts := []cel.EnvOption{cel.CrossTypeNumericComparisons(true)}
	for i := range vars {
		opts = append(opts, cel.Variable(vars[i].Name, celType(vars[i].ValueType())))
	}
	return cel.NewEnv(opts...)
}

func celType(t domain.ValueType) *cel.Type {
	switch t {
	case domain.ValueDouble:
		return cel.DoubleType
	case domain.ValueInt:
		return cel.IntType
	default:
		return cel.StringType
	}
}

func compileRule(env *cel.Env, rule domain.PredictorRule) (cel.Program, error) {
	ast, issues := env.Compile(rule.When)
	if issues != nil && issues.Err() != nil {
		err := issues.Err()
		if mixesIntAndDouble(err) {
			return nil, fmt.Errorf("%w: failed to compile rule %s: %w (%s)", domain.ErrInvalidTable, rule.ID, err, numericLiteralHint)
		}
		return nil, fmt.Errorf("%w: failed to compile rule %s: %w", domain.ErrInvalidTable, rule.ID, err)
	}

	if outputType := ast.OutputType(); !outputType.IsExactType(cel.BoolType) {
		return nil, fmt.Errorf("%w: rule %s: predicate must return bool, got %s", domain.ErrInvalidTable, rule.ID, outputType)
	}

	program, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create program for rule %s: %w", domain.ErrInvalidTable, rule.ID, err)
	}
	return program, nil
}

const numericLiteralHint = "continuous variables are doubles; compare them with decimal literals such as 15.0"

// mixesIntAndDouble reports whether a checker error comes from an operator
// applied to a double and an int, typically continuous == 15.
func mixesIntAndDouble(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "no matching overload") &&
		(strings.Contains(msg, "(double, int)") || strings.Contains(msg, "(int, double)"))
}

func (r *compiledRule) eval(activation map[string]any) (bool, error) {
	out, _, err := r.program.Eval(activation)
	if err != nil {
		return false, fmt.Errorf("%w: rule %s: %w", domain.ErrPredicateFailed, r.rule.ID, err)
	}
	met, ok := out.(types.Bool)
	if !ok {
		return false, fmt.Errorf("%w: rule %s returned %s", domain.ErrPredicateFailed, r.rule.ID, out.Type().TypeName())
	}
	return bool(met), nil
}
