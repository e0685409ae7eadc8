package governance

import (
	"fmt"
	"sync"

	"github.com/aegis-labs/govern/pkg/compliance"
	"github.com/aegis-labs/govern/pkg/tiers"
	"github.com/google/cel-go/cel"
)

// DefaultViolationExpr is the default blocking policy: failed compliance
// blocks high-tier actions outside dev and is advisory everywhere else.
const DefaultViolationExpr = `failed > 0 && tier >= 3 && environment != "dev"`

// ViolationPolicy decides whether a failing compliance report blocks the
// action or is recorded as advisory. The distinction is tier-policy
// configuration, expressed as a CEL predicate over the report tallies.
type ViolationPolicy struct {
	env  *cel.Env
	mu   sync.RWMutex
	prgs map[string]cel.Program
	expr string
}

// NewViolationPolicy compiles the policy environment. expr may be empty to
// use the default.
func NewViolationPolicy(expr string) (*ViolationPolicy, error) {
	if expr == "" {
		expr = DefaultViolationExpr
	}
	env, err := cel.NewEnv(
		cel.Variable("tier", cel.IntType),
		cel.Variable("environment", cel.StringType),
		cel.Variable("failed", cel.IntType),
		cel.Variable("warnings", cel.IntType),
		cel.Variable("score", cel.DoubleType),
	)
	if err != nil {
		return nil, fmt.Errorf("create policy environment: %w", err)
	}
	p := &ViolationPolicy{
		env:  env,
		prgs: make(map[string]cel.Program),
		expr: expr,
	}
	// Compile eagerly so a bad expression fails at construction, not at
	// decision time.
	if _, err := p.program(expr); err != nil {
		return nil, err
	}
	return p, nil
}

// Blocks reports whether the report's failures block the action.
// Fail-closed: an evaluation error blocks.
func (p *ViolationPolicy) Blocks(tier tiers.Tier, env tiers.Environment, report *compliance.Report) (bool, error) {
	_, failed, warnings := report.Counts()
	if failed == 0 {
		return false, nil
	}

	prg, err := p.program(p.expr)
	if err != nil {
		return true, err
	}

	out, _, err := prg.Eval(map[string]interface{}{
		"tier":        int64(tier),
		"environment": string(env),
		"failed":      int64(failed),
		"warnings":    int64(warnings),
		"score":       report.Score,
	})
	if err != nil {
		return true, fmt.Errorf("violation policy evaluation: %w", err)
	}

	blocks, ok := out.Value().(bool)
	if !ok {
		return true, fmt.Errorf("violation policy returned %T, want bool", out.Value())
	}
	return blocks, nil
}

func (p *ViolationPolicy) program(expr string) (cel.Program, error) {
	p.mu.RLock()
	prg, hit := p.prgs[expr]
	p.mu.RUnlock()
	if hit {
		return prg, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if prg, hit = p.prgs[expr]; hit {
		return prg, nil
	}

	ast, issues := p.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile violation policy: %w", issues.Err())
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, fmt.Errorf("violation policy must evaluate to bool, got %s", ast.OutputType())
	}
	prg, err := p.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("build violation policy program: %w", err)
	}
	p.prgs[expr] = prg
	return prg, nil
}
