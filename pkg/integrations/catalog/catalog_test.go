package catalog

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"github.com/cloudmoor/cloudmoor/pkg/integrations"
	"github.com/cloudmoor/cloudmoor/pkg/secrets"
	"github.com/cloudmoor/cloudmoor/pkg/transports/signed"
)

type nopTransport struct{}

func (nopTransport) Do(ctx context.Context, req *signed.Request) (*signed.Response, error) {
	return &signed.Response{StatusCode: 200}, nil
}

func TestDefaultRegistersAllKinds(t *testing.T) {
	r := Default()
	want := []string{"bucket", "cdn", "database", "subscription"}
	kinds := r.Kinds()
	if len(kinds) != len(want) {
		t.Fatalf("Kinds() = %v, want %v", kinds, want)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Errorf("Kinds()[%d] = %q, want %q", i, kinds[i], want[i])
		}
	}
}

func TestDefaultConstructsEveryKind(t *testing.T) {
	r := Default()
	deps := integrations.Deps{
		Transport: nopTransport{},
		Secrets:   secrets.NewMemStore(),
		Logger:    zerolog.Nop(),
		BaseURL:   "https://api.vendor.test",
	}
	for _, kind := range r.Kinds() {
		integration, err := r.Lookup(kind, deps)
		if err != nil {
			t.Errorf("Lookup(%q) error: %v", kind, err)
			continue
		}
		if integration.Kind() != kind {
			t.Errorf("Lookup(%q).Kind() = %q", kind, integration.Kind())
		}
		if integration.Schedule().Attempts <= 0 {
			t.Errorf("%s: schedule has no attempt budget", kind)
		}
	}
}
