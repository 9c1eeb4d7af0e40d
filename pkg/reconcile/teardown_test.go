package reconcile

import (
	"context"
	"errors"
	"testing"
	"time"
)

// fakeVendor simulates a teardown-requiring vendor resource. Every mutation
// bumps the concurrency token; deployment stabilizes after a fixed number of
// fetches once disabled.
type fakeVendor struct {
	enabled      bool
	deployed     bool
	token        int
	gone         bool
	stabilizeIn  int
	fetches      int
	disableCalls []string // tokens the disable calls arrived with
	deleteCalls  []string // tokens the delete calls arrived with
	deleteErr    error
}

func (v *fakeVendor) sequencer() *Sequencer {
	return &Sequencer{
		PollInterval: time.Millisecond,
		MaxPolls:     10,
		FetchConfig: func(ctx context.Context, id string) (*TeardownConfig, error) {
			if v.gone {
				return nil, NewVendorError("get", 404, "NoSuchResource", "gone")
			}
			v.fetches++
			if !v.enabled && !v.deployed {
				if v.stabilizeIn > 0 {
					v.stabilizeIn--
				}
				if v.stabilizeIn == 0 {
					v.deployed = true
				}
			}
			return &TeardownConfig{
				Doc:      map[string]any{"enabled": v.enabled},
				Token:    tokenString(v.token),
				Enabled:  v.enabled,
				Deployed: v.deployed,
			}, nil
		},
		Disable: func(ctx context.Context, id string, doc map[string]any, token string) error {
			v.disableCalls = append(v.disableCalls, token)
			v.enabled = false
			v.deployed = false
			v.token++
			return nil
		},
		Delete: func(ctx context.Context, id string, token string) error {
			v.deleteCalls = append(v.deleteCalls, token)
			if v.deleteErr != nil {
				return v.deleteErr
			}
			v.gone = true
			return nil
		},
	}
}

func tokenString(n int) string {
	return "etag-" + string(rune('a'+n))
}

func TestTeardownOrdering(t *testing.T) {
	v := &fakeVendor{enabled: true, deployed: true, stabilizeIn: 3}
	st := &State{ID: "r-2"}

	if err := v.sequencer().Run(context.Background(), st); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if len(v.disableCalls) != 1 {
		t.Fatalf("disable called %d times, want exactly 1", len(v.disableCalls))
	}
	if len(v.deleteCalls) != 1 {
		t.Fatalf("delete called %d times, want exactly 1", len(v.deleteCalls))
	}
	// The delete token must postdate the disable mutation: disable saw
	// etag-a, the delete must carry the refreshed etag-b.
	if v.disableCalls[0] != tokenString(0) {
		t.Errorf("disable used token %q, want %q", v.disableCalls[0], tokenString(0))
	}
	if v.deleteCalls[0] != tokenString(1) {
		t.Errorf("delete used token %q, want a token fetched after the deployment wait", v.deleteCalls[0])
	}
	if st.ID != "" || st.ARN != "" || st.Token != "" {
		t.Errorf("identifying fields not cleared: %+v", st)
	}
}

func TestTeardownExistingSkipsVendor(t *testing.T) {
	v := &fakeVendor{enabled: true, deployed: true}
	st := &State{ID: "r-2", Existing: true}

	if err := v.sequencer().Run(context.Background(), st); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if v.fetches != 0 || len(v.disableCalls) != 0 || len(v.deleteCalls) != 0 {
		t.Errorf("vendor contacted for an existing resource: %+v", v)
	}
	if st.ID != "" {
		t.Error("identifying fields not cleared")
	}
	if !st.Existing {
		t.Error("Existing flag lost during teardown")
	}
}

func TestTeardownVanishedResource(t *testing.T) {
	v := &fakeVendor{gone: true}
	st := &State{ID: "r-2"}

	if err := v.sequencer().Run(context.Background(), st); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if st.ID != "" {
		t.Error("identifying fields not cleared for a vanished resource")
	}
}

func TestTeardownAlreadyDisabled(t *testing.T) {
	v := &fakeVendor{enabled: false, deployed: true}
	st := &State{ID: "r-2"}

	if err := v.sequencer().Run(context.Background(), st); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(v.disableCalls) != 0 {
		t.Errorf("disable called on an already-disabled resource")
	}
	if len(v.deleteCalls) != 1 {
		t.Errorf("delete called %d times, want 1", len(v.deleteCalls))
	}
}

func TestTeardownMissingID(t *testing.T) {
	v := &fakeVendor{}
	err := v.sequencer().Run(context.Background(), &State{})
	if !IsPrecondition(err) {
		t.Errorf("Run() without id = %v, want precondition", err)
	}
}

func TestTeardownPhaseReported(t *testing.T) {
	v := &fakeVendor{enabled: true, deployed: true, stabilizeIn: 1}
	v.deleteErr = NewVendorError("delete", 412, "PreconditionFailed", "stale token")
	st := &State{ID: "r-2"}

	err := v.sequencer().Run(context.Background(), st)
	if err == nil {
		t.Fatal("Run() succeeded, want delete-phase failure")
	}
	if got := TeardownPhase(err); got != PhaseDeleting {
		t.Errorf("TeardownPhase() = %q, want %q", got, PhaseDeleting)
	}
	// State stays un-cleared so a retry resumes from detection.
	if st.ID != "r-2" {
		t.Errorf("state cleared on failure: %+v", st)
	}
}

func TestTeardownWaitBounded(t *testing.T) {
	v := &fakeVendor{enabled: true, deployed: true, stabilizeIn: -1} // never stabilizes
	seq := v.sequencer()
	seq.MaxPolls = 3
	st := &State{ID: "r-2"}

	err := seq.Run(context.Background(), st)
	if err == nil {
		t.Fatal("Run() succeeded, want wait-phase failure")
	}
	if got := TeardownPhase(err); got != PhaseAwaitingDisabledDeployment {
		t.Errorf("TeardownPhase() = %q, want %q", got, PhaseAwaitingDisabledDeployment)
	}
	if len(v.deleteCalls) != 0 {
		t.Error("delete issued despite unstable deployment")
	}
}

func TestTeardownPhaseErrorUnwraps(t *testing.T) {
	inner := errors.New("boom")
	pe := &PhaseError{Phase: PhaseDisabling, Err: inner}
	if !errors.Is(pe, inner) {
		t.Error("PhaseError does not unwrap to the inner error")
	}
}
