package policy

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
)

const sampleRego = `# Denies bucket deletes on Fridays.
# Operational superstition encoded as policy.
package cloudmoor.policies.friday

import rego.v1

deny contains msg if {
	input.op == "delete"
	msg := "not today"
}
`

func TestLoadRegoFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "friday.rego")
	if err := os.WriteFile(path, []byte(sampleRego), 0o644); err != nil {
		t.Fatal(err)
	}

	l := NewLoader(zerolog.Nop())
	policies, err := l.LoadFromPaths(context.Background(), []string{path})
	if err != nil {
		t.Fatalf("LoadFromPaths() error: %v", err)
	}
	if len(policies) != 1 {
		t.Fatalf("got %d policies, want 1", len(policies))
	}

	p := policies[0]
	if p.Name != "friday" {
		t.Errorf("Name = %q", p.Name)
	}
	if p.Severity != SeverityWarning {
		t.Errorf("Severity = %q, want default warning", p.Severity)
	}
	if p.Description == "" {
		t.Error("description not extracted from leading comments")
	}
	if !p.Enabled {
		t.Error("loaded policy not enabled")
	}
}

func TestLoadYAMLBundle(t *testing.T) {
	bundle := `name: team-policies
version: "1"
policies:
  - name: no-public-buckets
    severity: error
    enabled: true
    rego: |
      package cloudmoor.policies.acl

      import rego.v1

      deny contains msg if {
        input.definition.acl == "public-read"
        msg := "public buckets are forbidden"
      }
  - name: advisory-tagging
    enabled: true
    rego: |
      package cloudmoor.policies.tags

      import rego.v1

      deny contains msg if {
        not input.definition.labels
        msg := "entities should carry labels"
      }
`
	dir := t.TempDir()
	path := filepath.Join(dir, "bundle.yaml")
	if err := os.WriteFile(path, []byte(bundle), 0o644); err != nil {
		t.Fatal(err)
	}

	l := NewLoader(zerolog.Nop())
	policies, err := l.LoadFromPaths(context.Background(), []string{path})
	if err != nil {
		t.Fatalf("LoadFromPaths() error: %v", err)
	}
	if len(policies) != 2 {
		t.Fatalf("got %d policies, want 2", len(policies))
	}
	if policies[0].Severity != SeverityError {
		t.Errorf("explicit severity = %q", policies[0].Severity)
	}
	if policies[1].Severity != SeverityWarning {
		t.Errorf("defaulted severity = %q", policies[1].Severity)
	}
}

func TestLoadDirectorySkipsBadFiles(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "good.rego"), []byte(sampleRego), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "bad.yaml"), []byte("{not yaml"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignore me"), 0o644); err != nil {
		t.Fatal(err)
	}

	l := NewLoader(zerolog.Nop())
	policies, err := l.LoadFromPaths(context.Background(), []string{dir})
	if err != nil {
		t.Fatalf("LoadFromPaths() error: %v", err)
	}
	if len(policies) != 1 {
		t.Errorf("got %d policies, want 1", len(policies))
	}
}

func TestLoadedPolicyCompilesAndGates(t *testing.T) {
	bundle := `name: gate
policies:
  - name: no-public-buckets
    severity: error
    enabled: true
    rego: |
      package cloudmoor.policies.acl

      import rego.v1

      deny contains msg if {
        input.definition.acl == "public-read"
        msg := "public buckets are forbidden"
      }
`
	dir := t.TempDir()
	path := filepath.Join(dir, "bundle.yaml")
	if err := os.WriteFile(path, []byte(bundle), 0o644); err != nil {
		t.Fatal(err)
	}

	l := NewLoader(zerolog.Nop())
	policies, err := l.LoadFromPaths(context.Background(), []string{path})
	if err != nil {
		t.Fatal(err)
	}

	e, err := NewEngine(zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	if err := e.AddAll(context.Background(), policies); err != nil {
		t.Fatalf("AddAll() error: %v", err)
	}

	result, err := e.Evaluate(context.Background(), Input{
		Kind:       "bucket",
		Name:       "photos",
		Op:         "create",
		Definition: map[string]any{"acl": "public-read"},
	})
	if err != nil {
		t.Fatalf("Evaluate() error: %v", err)
	}
	if result.Allowed {
		t.Error("loaded bundle policy did not block")
	}
}
