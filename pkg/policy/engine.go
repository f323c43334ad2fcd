package policy

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/cel-go/cel"
)

// Input is the activation one artifact presents to the rule engine.
type Input struct {
	ArtifactType   string
	ResultType     string
	TenantID       string
	SemanticBytes  int
	RenderingBytes int
	RenderingCount int
}

// Outcome is the result of evaluating one artifact. Degraded marks
// outcomes produced by an evaluation failure rather than a matching rule;
// callers should log these instead of treating them as normal decisions.
type Outcome struct {
	Decision Decision
	Rule     string
	Degraded bool
	Reason   string
}

type compiledRule struct {
	rule Rule
	prg  cel.Program
}

// Engine evaluates materialization rules. All expressions are compiled at
// construction so a malformed rule is caught at startup, not mid-execution.
type Engine struct {
	rules    []compiledRule
	fallback Decision
	logger   *slog.Logger
}

// NewEngine compiles every rule in the set against a fixed environment.
func NewEngine(rs *RuleSet) (*Engine, error) {
	env, err := cel.NewEnv(
		cel.Variable("artifact_type", cel.StringType),
		cel.Variable("result_type", cel.StringType),
		cel.Variable("tenant_id", cel.StringType),
		cel.Variable("semantic_bytes", cel.IntType),
		cel.Variable("rendering_bytes", cel.IntType),
		cel.Variable("rendering_count", cel.IntType),
	)
	if err != nil {
		return nil, fmt.Errorf("policy: create cel environment: %w", err)
	}

	e := &Engine{
		fallback: rs.Default,
		logger:   slog.Default().With("component", "policy"),
	}
	for _, r := range rs.Rules {
		ast, issues := env.Compile(r.Expression)
		if issues != nil && issues.Err() != nil {
			return nil, fmt.Errorf("policy: compile rule %s: %w", r.ID, issues.Err())
		}
		prg, err := env.Program(ast,
			cel.InterruptCheckFrequency(100),
			cel.CostLimit(10000),
		)
		if err != nil {
			return nil, fmt.Errorf("policy: program for rule %s: %w", r.ID, err)
		}
		e.rules = append(e.rules, compiledRule{rule: r, prg: prg})
	}
	return e, nil
}

// Evaluate returns the decision of the first matching rule in priority
// order, or the rule set default when nothing matches. Evaluation errors
// never propagate: the artifact is discarded and the outcome marked
// degraded.
func (e *Engine) Evaluate(ctx context.Context, in Input) Outcome {
	activation := map[string]any{
		"artifact_type":   in.ArtifactType,
		"result_type":     in.ResultType,
		"tenant_id":       in.TenantID,
		"semantic_bytes":  in.SemanticBytes,
		"rendering_bytes": in.RenderingBytes,
		"rendering_count": in.RenderingCount,
	}

	for _, cr := range e.rules {
		out, _, err := cr.prg.Eval(activation)
		if err != nil {
			e.logger.WarnContext(ctx, "rule evaluation failed, discarding renderings",
				"rule", cr.rule.ID, "artifact_type", in.ArtifactType, "error", err)
			return Outcome{
				Decision: DecisionDiscard,
				Rule:     cr.rule.ID,
				Degraded: true,
				Reason:   fmt.Sprintf("rule %s evaluation failed: %v", cr.rule.ID, err),
			}
		}
		matched, ok := out.Value().(bool)
		if !ok {
			e.logger.WarnContext(ctx, "rule produced non-boolean result, discarding renderings",
				"rule", cr.rule.ID, "artifact_type", in.ArtifactType)
			return Outcome{
				Decision: DecisionDiscard,
				Rule:     cr.rule.ID,
				Degraded: true,
				Reason:   fmt.Sprintf("rule %s produced non-boolean result", cr.rule.ID),
			}
		}
		if matched {
			return Outcome{Decision: cr.rule.Decision, Rule: cr.rule.ID}
		}
	}
	return Outcome{Decision: e.fallback, Reason: "no rule matched"}
}
