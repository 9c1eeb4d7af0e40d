package reconcile

import (
	"context"
	"testing"
	"time"
)

// scriptedFetch returns vendor documents from a fixed status sequence and
// counts calls.
type scriptedFetch struct {
	statuses []string
	calls    int
}

func (f *scriptedFetch) fetch(ctx context.Context, st *State) (map[string]any, error) {
	i := f.calls
	f.calls++
	if i >= len(f.statuses) {
		i = len(f.statuses) - 1
	}
	return map[string]any{"status": f.statuses[i]}, nil
}

func newTestProbe(t *testing.T, f *scriptedFetch) *Probe {
	t.Helper()
	p, err := NewProbe(f.fetch, `status == "online"`, `status == "failed"`)
	if err != nil {
		t.Fatalf("NewProbe() error = %v", err)
	}
	return p
}

func TestCheckNoID(t *testing.T) {
	f := &scriptedFetch{statuses: []string{"online"}}
	p := newTestProbe(t, f)

	ready, err := p.Check(context.Background(), &State{})
	if err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	if ready {
		t.Error("missing id must report not ready")
	}
	if f.calls != 0 {
		t.Errorf("fetch called %d times without an id", f.calls)
	}
}

func TestCheckTransientThenReady(t *testing.T) {
	f := &scriptedFetch{statuses: []string{"creating", "creating", "online"}}
	p := newTestProbe(t, f)
	st := &State{ID: "r-1"}

	for i, want := range []bool{false, false, true} {
		ready, err := p.Check(context.Background(), st)
		if err != nil {
			t.Fatalf("Check() call %d error = %v", i+1, err)
		}
		if ready != want {
			t.Errorf("Check() call %d = %v, want %v", i+1, ready, want)
		}
	}
	if st.Status != "online" {
		t.Errorf("state status not refreshed from vendor, got %q", st.Status)
	}
}

func TestCheckFatalNotRetried(t *testing.T) {
	f := &scriptedFetch{statuses: []string{"creating", "creating", "failed"}}
	p := newTestProbe(t, f)
	st := &State{ID: "r-1"}

	var err error
	for i := 0; i < 3; i++ {
		_, err = p.Check(context.Background(), st)
		if i < 2 && err != nil {
			t.Fatalf("Check() call %d error = %v", i+1, err)
		}
	}
	if !IsFatal(err) {
		t.Fatalf("Check() on terminal status = %v, want fatal", err)
	}
	if f.calls != 3 {
		t.Errorf("fetch called %d times, want 3", f.calls)
	}
}

func TestCheckNotFoundIsNotReady(t *testing.T) {
	p, err := NewProbe(func(ctx context.Context, st *State) (map[string]any, error) {
		return nil, NewVendorError("get", 404, "NotFound", "no such resource")
	}, `status == "online"`, "")
	if err != nil {
		t.Fatalf("NewProbe() error = %v", err)
	}
	ready, err := p.Check(context.Background(), &State{ID: "r-1"})
	if err != nil {
		t.Fatalf("Check() error = %v, want 404 treated as not-ready", err)
	}
	if ready {
		t.Error("missing resource reported ready")
	}
}

func TestWaitReadyOnThirdAttempt(t *testing.T) {
	f := &scriptedFetch{statuses: []string{"creating", "creating", "online"}}
	p := newTestProbe(t, f)
	st := &State{ID: "r-1"}

	err := p.Wait(context.Background(), st, Schedule{Period: time.Millisecond, Attempts: 5})
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if f.calls != 3 {
		t.Errorf("fetch called %d times, want exactly 3", f.calls)
	}
}

func TestWaitBounded(t *testing.T) {
	f := &scriptedFetch{statuses: []string{"creating"}}
	p := newTestProbe(t, f)
	st := &State{ID: "r-1"}

	err := p.Wait(context.Background(), st, Schedule{Period: time.Millisecond, Attempts: 4})
	if err == nil {
		t.Fatal("Wait() succeeded, want budget exhaustion")
	}
	if f.calls != 4 {
		t.Errorf("fetch called %d times, want exactly Attempts=4", f.calls)
	}
}

func TestWaitAbortsOnFatal(t *testing.T) {
	f := &scriptedFetch{statuses: []string{"creating", "failed"}}
	p := newTestProbe(t, f)
	st := &State{ID: "r-1"}

	err := p.Wait(context.Background(), st, Schedule{Period: time.Millisecond, Attempts: 10})
	if !IsFatal(err) {
		t.Fatalf("Wait() error = %v, want fatal", err)
	}
	if f.calls != 2 {
		t.Errorf("fetch called %d times after terminal failure, want 2", f.calls)
	}
}

func TestScheduleBudget(t *testing.T) {
	s := Schedule{Period: 10 * time.Second, InitialDelay: 20 * time.Second, Attempts: 6}
	if got, want := s.Budget(), 80*time.Second; got != want {
		t.Errorf("Budget() = %v, want %v", got, want)
	}
}
