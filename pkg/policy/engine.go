package policy

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/rego"
	"github.com/rs/zerolog"
)

// Engine compiles and evaluates policies. Safe for concurrent use; the host
// evaluates once per operation before dispatching it.
type Engine struct {
	mu       sync.RWMutex
	policies map[string]*compiledPolicy
	logger   zerolog.Logger
}

type compiledPolicy struct {
	policy   Policy
	query    rego.PreparedEvalQuery
	compiled time.Time
}

// NewEngine creates an engine preloaded with the built-in policies.
func NewEngine(logger zerolog.Logger) (*Engine, error) {
	e := &Engine{
		policies: make(map[string]*compiledPolicy),
		logger:   logger.With().Str("component", "policy-engine").Logger(),
	}
	for _, p := range BuiltinPolicies() {
		if err := e.compile(context.Background(), p); err != nil {
			return nil, fmt.Errorf("failed to compile built-in policy %s: %w", p.Name, err)
		}
	}
	return e, nil
}

// Add compiles and registers one policy, replacing any policy of the same
// name.
func (e *Engine) Add(ctx context.Context, p Policy) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.compile(ctx, p)
}

// AddAll compiles and registers a set of policies.
func (e *Engine) AddAll(ctx context.Context, policies []Policy) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, p := range policies {
		if err := e.compile(ctx, p); err != nil {
			return fmt.Errorf("failed to compile policy %s: %w", p.Name, err)
		}
	}
	return nil
}

// compile prepares the deny query for a policy. Callers hold the lock.
func (e *Engine) compile(ctx context.Context, p Policy) error {
	query := fmt.Sprintf("data.%s.deny", packageName(p.Rego))
	prepared, err := rego.New(
		rego.Module(p.Name, p.Rego),
		rego.Query(query),
	).PrepareForEval(ctx)
	if err != nil {
		return err
	}

	if p.Severity == "" {
		p.Severity = SeverityWarning
	}
	e.policies[p.Name] = &compiledPolicy{policy: p, query: prepared, compiled: time.Now()}
	e.logger.Debug().Str("policy", p.Name).Msg("Policy compiled")
	return nil
}

// Evaluate runs every enabled policy against the input. Policy evaluation
// failures degrade to warnings so a broken operator policy cannot brick the
// host, while violations at error severity block the operation.
func (e *Engine) Evaluate(ctx context.Context, input Input) (*Result, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	result := &Result{Allowed: true, EvaluatedAt: time.Now()}

	for _, cp := range e.policies {
		if !cp.policy.Enabled {
			continue
		}

		violations, err := e.evaluateOne(ctx, cp, input)
		if err != nil {
			e.logger.Error().Err(err).
				Str("policy", cp.policy.Name).
				Str("entity", input.Name).
				Msg("Policy evaluation failed")
			result.Warnings = append(result.Warnings, Violation{
				Policy:   cp.policy.Name,
				Entity:   input.Name,
				Message:  fmt.Sprintf("policy evaluation failed: %v", err),
				Severity: SeverityWarning,
			})
			continue
		}

		for _, v := range violations {
			if v.Severity == SeverityError {
				result.Allowed = false
				result.Violations = append(result.Violations, v)
			} else {
				result.Warnings = append(result.Warnings, v)
			}
		}
	}

	sort.Slice(result.Violations, func(i, j int) bool {
		return result.Violations[i].Policy < result.Violations[j].Policy
	})
	sort.Slice(result.Warnings, func(i, j int) bool {
		return result.Warnings[i].Policy < result.Warnings[j].Policy
	})
	return result, nil
}

func (e *Engine) evaluateOne(ctx context.Context, cp *compiledPolicy, input Input) ([]Violation, error) {
	results, err := cp.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return nil, err
	}

	var violations []Violation
	for _, res := range results {
		for _, expr := range res.Expressions {
			denySet, ok := expr.Value.([]any)
			if !ok {
				continue
			}
			for _, d := range denySet {
				violations = append(violations, e.toViolation(cp.policy, input, d))
			}
		}
	}
	return violations, nil
}

// toViolation normalizes a deny result. Policies may return plain strings
// or documents with message/severity/entity fields.
func (e *Engine) toViolation(p Policy, input Input, result any) Violation {
	v := Violation{
		Policy:   p.Name,
		Entity:   input.Name,
		Severity: p.Severity,
	}
	switch val := result.(type) {
	case string:
		v.Message = val
	case map[string]any:
		if msg, ok := val["message"].(string); ok {
			v.Message = msg
		}
		if sev, ok := val["severity"].(string); ok {
			v.Severity = Severity(sev)
		}
		if ent, ok := val["entity"].(string); ok {
			v.Entity = ent
		}
	default:
		v.Message = fmt.Sprintf("%v", result)
	}
	return v
}

// List returns the registered policies sorted by name.
func (e *Engine) List() []Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]Policy, 0, len(e.policies))
	for _, cp := range e.policies {
		out = append(out, cp.policy)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Replace swaps the full policy set for the given one plus builtins, used by
// the hot-reload path.
func (e *Engine) Replace(ctx context.Context, policies []Policy) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	fresh := make(map[string]*compiledPolicy)
	old := e.policies
	e.policies = fresh

	for _, p := range append(BuiltinPolicies(), policies...) {
		if err := e.compile(ctx, p); err != nil {
			e.policies = old
			return fmt.Errorf("failed to compile policy %s: %w", p.Name, err)
		}
	}
	return nil
}

// packageName reads the package declaration from Rego source.
func packageName(src string) string {
	for _, line := range strings.Split(src, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "package ") {
			if parts := strings.Fields(trimmed); len(parts) >= 2 {
				return parts[1]
			}
		}
	}
	return "cloudmoor.policies"
}
