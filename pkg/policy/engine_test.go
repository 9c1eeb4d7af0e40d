package policy

import (
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func newEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := NewEngine(zerolog.Nop())
	if err != nil {
		t.Fatalf("NewEngine() error: %v", err)
	}
	return e
}

func TestBuiltinProtectExisting(t *testing.T) {
	e := newEngine(t)

	result, err := e.Evaluate(context.Background(), Input{
		Kind:     "bucket",
		Name:     "photos",
		Op:       "delete",
		Existing: true,
	})
	if err != nil {
		t.Fatalf("Evaluate() error: %v", err)
	}
	if result.Allowed {
		t.Error("delete of an adopted resource was allowed")
	}
	if len(result.Violations) != 1 {
		t.Fatalf("got %d violations, want 1: %+v", len(result.Violations), result.Violations)
	}
	v := result.Violations[0]
	if v.Policy != "protect-existing" {
		t.Errorf("Policy = %q", v.Policy)
	}
	if !strings.Contains(v.Message, "adopted") {
		t.Errorf("Message = %q", v.Message)
	}
}

func TestBuiltinAllowsDeleteOfOwnResource(t *testing.T) {
	e := newEngine(t)

	result, err := e.Evaluate(context.Background(), Input{
		Kind: "bucket",
		Name: "photos",
		Op:   "delete",
	})
	if err != nil {
		t.Fatalf("Evaluate() error: %v", err)
	}
	if !result.Allowed {
		t.Errorf("delete of an owned resource blocked: %+v", result.Violations)
	}
}

func TestBuiltinNamingWarns(t *testing.T) {
	e := newEngine(t)

	result, err := e.Evaluate(context.Background(), Input{
		Kind: "bucket",
		Name: "My_Bucket",
		Op:   "create",
	})
	if err != nil {
		t.Fatalf("Evaluate() error: %v", err)
	}
	// Naming problems warn; they never block.
	if !result.Allowed {
		t.Errorf("create blocked by naming policy: %+v", result.Violations)
	}
	if len(result.Warnings) == 0 {
		t.Error("expected a naming warning")
	}
}

func TestAddCustomPolicy(t *testing.T) {
	e := newEngine(t)

	err := e.Add(context.Background(), Policy{
		Name:     "no-prod-cdn-delete",
		Severity: SeverityError,
		Enabled:  true,
		Rego: `package cloudmoor.policies.prod

import rego.v1

deny contains msg if {
	input.op == "delete"
	input.kind == "cdn"
	input.definition.env == "prod"
	msg := "production distributions are deleted manually"
}
`,
	})
	if err != nil {
		t.Fatalf("Add() error: %v", err)
	}

	result, err := e.Evaluate(context.Background(), Input{
		Kind:       "cdn",
		Name:       "site",
		Op:         "delete",
		Definition: map[string]any{"env": "prod"},
	})
	if err != nil {
		t.Fatalf("Evaluate() error: %v", err)
	}
	if result.Allowed {
		t.Error("custom deny policy did not block")
	}

	// A plain string deny uses the policy's own severity and message.
	found := false
	for _, v := range result.Violations {
		if v.Policy == "no-prod-cdn-delete" && strings.Contains(v.Message, "manually") {
			found = true
		}
	}
	if !found {
		t.Errorf("violations = %+v", result.Violations)
	}
}

func TestDisabledPolicySkipped(t *testing.T) {
	e := newEngine(t)

	err := e.Add(context.Background(), Policy{
		Name:     "deny-everything",
		Severity: SeverityError,
		Enabled:  false,
		Rego: `package cloudmoor.policies.denyall

import rego.v1

deny contains msg if {
	true
	msg := "no"
}
`,
	})
	if err != nil {
		t.Fatalf("Add() error: %v", err)
	}

	result, err := e.Evaluate(context.Background(), Input{Kind: "bucket", Name: "photos", Op: "create"})
	if err != nil {
		t.Fatalf("Evaluate() error: %v", err)
	}
	if !result.Allowed {
		t.Errorf("disabled policy still evaluated: %+v", result.Violations)
	}
}

func TestAddRejectsBadRego(t *testing.T) {
	e := newEngine(t)
	err := e.Add(context.Background(), Policy{
		Name:    "broken",
		Enabled: true,
		Rego:    "this is not rego",
	})
	if err == nil {
		t.Error("Add() of invalid Rego succeeded")
	}
}

func TestReplaceKeepsBuiltins(t *testing.T) {
	e := newEngine(t)
	if err := e.Replace(context.Background(), nil); err != nil {
		t.Fatalf("Replace() error: %v", err)
	}

	result, err := e.Evaluate(context.Background(), Input{
		Kind:     "bucket",
		Name:     "photos",
		Op:       "delete",
		Existing: true,
	})
	if err != nil {
		t.Fatalf("Evaluate() error: %v", err)
	}
	if result.Allowed {
		t.Error("builtin protection lost after Replace")
	}
}

func TestListSorted(t *testing.T) {
	e := newEngine(t)
	policies := e.List()
	if len(policies) < 2 {
		t.Fatalf("List() = %d policies", len(policies))
	}
	for i := 1; i < len(policies); i++ {
		if policies[i-1].Name > policies[i].Name {
			t.Errorf("List() not sorted: %q before %q", policies[i-1].Name, policies[i].Name)
		}
	}
}
