package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// ErrNotReady is returned by Wait when the attempt budget is exhausted
// before the resource reaches its ready status.
var ErrNotReady = errors.New("resource not ready")

// Probe answers "is the resource ready?" for one resource kind. Readiness
// and terminal-failure conditions are expressions evaluated against the
// fresh vendor document, e.g. `status == "online"` and
// `status in ["failed", "errored"]`.
type Probe struct {
	// Fetch retrieves the current vendor document for the resource in st.
	Fetch func(ctx context.Context, st *State) (map[string]any, error)

	// Mirror refreshes the state's mirrored fields from the vendor
	// document. Defaults to copying the "status" field.
	Mirror func(st *State, doc map[string]any)

	ready  *vm.Program
	failed *vm.Program
}

// NewProbe compiles the readiness and failure expressions. failedWhen may be
// empty for kinds without a terminal failure status.
func NewProbe(fetch func(ctx context.Context, st *State) (map[string]any, error), readyWhen, failedWhen string) (*Probe, error) {
	if fetch == nil {
		return nil, fmt.Errorf("probe requires a fetch func")
	}
	ready, err := expr.Compile(readyWhen)
	if err != nil {
		return nil, fmt.Errorf("invalid readiness expression %q: %w", readyWhen, err)
	}
	p := &Probe{Fetch: fetch, ready: ready}
	if failedWhen != "" {
		failed, err := expr.Compile(failedWhen)
		if err != nil {
			return nil, fmt.Errorf("invalid failure expression %q: %w", failedWhen, err)
		}
		p.failed = failed
	}
	return p, nil
}

// Check performs one readiness probe. The state's mirrored fields are always
// refreshed from the system of record, never trusted from a previous poll.
//
// A missing id and a vendor 404 both mean "not ready, not an error": the
// resource simply is not visible yet. A terminal failure status raises a
// fatal error that must not be retried, since retrying a condition that
// cannot self-heal wastes the host's entire attempt budget.
func (p *Probe) Check(ctx context.Context, st *State) (bool, error) {
	if st.ID == "" {
		return false, nil
	}

	doc, err := p.Fetch(ctx, st)
	if err != nil {
		if IsNotFound(err) {
			return false, nil
		}
		return false, err
	}

	if p.failed != nil {
		failed, err := runBool(p.failed, doc)
		if err != nil {
			return false, fmt.Errorf("failure expression: %w", err)
		}
		if failed {
			return false, NewFatalError(
				fmt.Sprintf("resource %s reached terminal failure status %q", st.ID, docStatus(doc)), nil)
		}
	}

	if p.Mirror != nil {
		p.Mirror(st, doc)
	} else {
		st.Status = docStatus(doc)
	}

	return runBool(p.ready, doc)
}

// Wait drives Check on the given schedule until ready, fatal, or exhausted.
// This is the host-side loop: one Wait call never exceeds the schedule's
// wall-clock budget of InitialDelay + Period*Attempts.
func (p *Probe) Wait(ctx context.Context, st *State, sched Schedule) error {
	if sched.Attempts <= 0 {
		sched.Attempts = 1
	}

	if sched.InitialDelay > 0 {
		if err := sleepCtx(ctx, sched.InitialDelay); err != nil {
			return err
		}
	}

	bo := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(sched.Period), uint64(sched.Attempts-1)),
		ctx,
	)
	err := backoff.Retry(func() error {
		ready, err := p.Check(ctx, st)
		if err != nil {
			// Fatal and vendor errors alike abort the wait; only
			// "not yet" is worth another attempt.
			return backoff.Permanent(err)
		}
		if !ready {
			return ErrNotReady
		}
		return nil
	}, bo)

	if errors.Is(err, ErrNotReady) {
		return fmt.Errorf("%w after %d attempts (budget %s)", ErrNotReady, sched.Attempts, sched.Budget())
	}
	return err
}

// runBool evaluates a compiled expression against the vendor document.
func runBool(prog *vm.Program, doc map[string]any) (bool, error) {
	out, err := expr.Run(prog, doc)
	if err != nil {
		return false, err
	}
	b, ok := out.(bool)
	if !ok {
		return false, fmt.Errorf("expression returned %T, want bool", out)
	}
	return b, nil
}

func docStatus(doc map[string]any) string {
	s, _ := doc["status"].(string)
	return s
}

// sleepCtx sleeps cooperatively, returning early on context cancellation.
func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
