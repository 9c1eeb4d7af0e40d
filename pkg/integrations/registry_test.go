package integrations

import (
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/cloudmoor/cloudmoor/pkg/reconcile"
	"github.com/cloudmoor/cloudmoor/pkg/transports/signed"
)

type nopTransport struct{}

func (nopTransport) Do(ctx context.Context, req *signed.Request) (*signed.Response, error) {
	return &signed.Response{StatusCode: 200}, nil
}

type nopIntegration struct{ kind string }

func (n *nopIntegration) Kind() string                 { return n.kind }
func (n *nopIntegration) Schedule() reconcile.Schedule { return reconcile.Schedule{} }
func (n *nopIntegration) Create(context.Context, reconcile.Definition, *reconcile.State) error {
	return nil
}
func (n *nopIntegration) Update(context.Context, reconcile.Definition, *reconcile.State) error {
	return nil
}
func (n *nopIntegration) Delete(context.Context, *reconcile.State) error { return nil }
func (n *nopIntegration) CheckReadiness(context.Context, reconcile.Definition, *reconcile.State) (bool, error) {
	return false, nil
}
func (n *nopIntegration) Action(context.Context, string, map[string]any, reconcile.Definition, *reconcile.State) (map[string]any, error) {
	return nil, nil
}

func constructor(kind string) Constructor {
	return func(deps Deps) (reconcile.Integration, error) {
		return &nopIntegration{kind: kind}, nil
	}
}

func validDeps() Deps {
	return Deps{
		Transport: nopTransport{},
		Logger:    zerolog.Nop(),
		BaseURL:   "https://api.vendor.test",
	}
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	r := NewRegistry()
	if err := r.Register("widget", constructor("widget")); err != nil {
		t.Fatalf("Register() error: %v", err)
	}
	err := r.Register("widget", constructor("widget"))
	if err == nil || !strings.Contains(err.Error(), "already registered") {
		t.Errorf("duplicate Register() error = %v", err)
	}
}

func TestLookup(t *testing.T) {
	r := NewRegistry()
	if err := r.Register("widget", constructor("widget")); err != nil {
		t.Fatal(err)
	}

	integration, err := r.Lookup("widget", validDeps())
	if err != nil {
		t.Fatalf("Lookup() error: %v", err)
	}
	if integration.Kind() != "widget" {
		t.Errorf("Kind() = %q, want %q", integration.Kind(), "widget")
	}

	if _, err := r.Lookup("gadget", validDeps()); err == nil {
		t.Error("Lookup() of unknown kind succeeded")
	}
}

func TestLookupValidatesDeps(t *testing.T) {
	r := NewRegistry()
	if err := r.Register("widget", constructor("widget")); err != nil {
		t.Fatal(err)
	}

	deps := validDeps()
	deps.Transport = nil
	if _, err := r.Lookup("widget", deps); err == nil {
		t.Error("Lookup() with nil transport succeeded")
	}

	deps = validDeps()
	deps.BaseURL = ""
	if _, err := r.Lookup("widget", deps); err == nil {
		t.Error("Lookup() with empty base URL succeeded")
	}
}

func TestKindsSorted(t *testing.T) {
	r := NewRegistry()
	for _, k := range []string{"zebra", "alpha", "mango"} {
		if err := r.Register(k, constructor(k)); err != nil {
			t.Fatal(err)
		}
	}
	kinds := r.Kinds()
	want := []string{"alpha", "mango", "zebra"}
	if len(kinds) != len(want) {
		t.Fatalf("Kinds() = %v", kinds)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Errorf("Kinds()[%d] = %q, want %q", i, kinds[i], want[i])
		}
	}
}
