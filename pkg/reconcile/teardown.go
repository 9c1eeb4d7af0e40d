package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
)

// Phase names the step a teardown is in. Phase transitions are strictly
// ordered: Active -> Disabling -> AwaitingDisabledDeployment -> Deleting ->
// Deleted.
type Phase string

const (
	PhaseActive                     Phase = "active"
	PhaseDisabling                  Phase = "disabling"
	PhaseAwaitingDisabledDeployment Phase = "awaiting-disabled-deployment"
	PhaseDeleting                   Phase = "deleting"
	PhaseDeleted                    Phase = "deleted"
)

// PhaseError reports which teardown phase failed so the host can surface it.
type PhaseError struct {
	Phase Phase
	Err   error
}

func (e *PhaseError) Error() string {
	return fmt.Sprintf("teardown phase %s: %v", e.Phase, e.Err)
}

func (e *PhaseError) Unwrap() error {
	return e.Err
}

// TeardownPhase extracts the failed phase from an error chain, or "" when
// the error did not come from a sequencer.
func TeardownPhase(err error) Phase {
	var pe *PhaseError
	if errors.As(err, &pe) {
		return pe.Phase
	}
	return ""
}

// errNotStable drives the deployment-wait retry loop.
var errNotStable = errors.New("deployment not yet stable")

// TeardownConfig is the vendor's current view of a resource during teardown.
type TeardownConfig struct {
	// Doc is the full vendor configuration document, round-tripped into
	// the disable call.
	Doc map[string]any

	// Token is the concurrency token accompanying this read. It is
	// invalidated by every mutation, which is why the sequencer re-fetches
	// before each mutating call.
	Token string

	// Enabled reports whether the resource is still active.
	Enabled bool

	// Deployed reports whether the vendor considers the configuration
	// fully propagated (terminal/stable deployment status).
	Deployed bool
}

// Sequencer tears down resource kinds whose vendor refuses to delete an
// active resource: disable under optimistic concurrency, wait for the
// disabled configuration to deploy, then delete with a freshly fetched
// token.
//
// A failure at any phase leaves the state un-cleared, so a retried delete
// resumes from detection rather than repeating completed phases blindly.
type Sequencer struct {
	// FetchConfig reads the current vendor configuration and token.
	FetchConfig func(ctx context.Context, id string) (*TeardownConfig, error)

	// Disable flips exactly the enabled flag and writes the document back
	// under the given token.
	Disable func(ctx context.Context, id string, doc map[string]any, token string) error

	// Delete issues the destructive call under the given token.
	Delete func(ctx context.Context, id string, token string) error

	// PollInterval is the wait between deployment polls. Defaults to 30s.
	PollInterval time.Duration

	// MaxPolls bounds the deployment wait. Defaults to 60.
	MaxPolls int

	// Logger records phase transitions. Optional.
	Logger zerolog.Logger
}

// Run drives the teardown to completion for the resource in st, clearing
// the state's identifying fields on success.
func (s *Sequencer) Run(ctx context.Context, st *State) error {
	// The non-destruction invariant is absolute: an adopted or pre-existing
	// resource is never disabled or deleted, only forgotten.
	if st.Existing {
		s.Logger.Info().Str("id", st.ID).Msg("Resource was not created here, skipping teardown")
		st.ClearIdentity()
		return nil
	}
	if st.ID == "" {
		return NewPreconditionError("delete requires an id in state")
	}

	cfg, err := s.FetchConfig(ctx, st.ID)
	if err != nil {
		if IsNotFound(err) {
			st.ClearIdentity()
			return nil
		}
		return &PhaseError{Phase: PhaseActive, Err: err}
	}

	if cfg.Enabled {
		s.Logger.Info().Str("id", st.ID).Msg("Disabling resource before delete")
		if err := s.Disable(ctx, st.ID, cfg.Doc, cfg.Token); err != nil {
			return &PhaseError{Phase: PhaseDisabling, Err: err}
		}
	}

	if cfg.Enabled || !cfg.Deployed {
		if err := s.awaitStable(ctx, st.ID); err != nil {
			return err
		}
	}

	// The disable mutation invalidated the earlier token; the delete call
	// needs one fetched after the deployment wait completed.
	cfg, err = s.FetchConfig(ctx, st.ID)
	if err != nil {
		if IsNotFound(err) {
			st.ClearIdentity()
			return nil
		}
		return &PhaseError{Phase: PhaseDeleting, Err: err}
	}

	s.Logger.Info().Str("id", st.ID).Msg("Deleting resource")
	if err := s.Delete(ctx, st.ID, cfg.Token); err != nil {
		return &PhaseError{Phase: PhaseDeleting, Err: err}
	}

	st.ClearIdentity()
	return nil
}

// awaitStable polls the vendor until the deployment status is terminal,
// bounded by MaxPolls attempts at PollInterval.
func (s *Sequencer) awaitStable(ctx context.Context, id string) error {
	interval := s.PollInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	maxPolls := s.MaxPolls
	if maxPolls <= 0 {
		maxPolls = 60
	}

	bo := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(interval), uint64(maxPolls-1)),
		ctx,
	)
	err := backoff.Retry(func() error {
		cfg, err := s.FetchConfig(ctx, id)
		if err != nil {
			if IsNotFound(err) {
				// Vanished mid-teardown: nothing left to wait for.
				return nil
			}
			return backoff.Permanent(err)
		}
		if !cfg.Deployed {
			return errNotStable
		}
		return nil
	}, bo)

	if err != nil {
		if errors.Is(err, errNotStable) {
			err = fmt.Errorf("deployment did not stabilize within %d polls", maxPolls)
		}
		return &PhaseError{Phase: PhaseAwaitingDisabledDeployment, Err: err}
	}
	return nil
}
