package reconcile

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Recorder receives operation outcomes for metrics. Implemented by
// telemetry.Metrics; nil disables recording.
type Recorder interface {
	RecordOperation(kind, op, outcome string, seconds float64)
}

// Reconciler is the single entry point for lifecycle operations. It owns
// definition reconstruction, operation dispatch, the Existing-flag
// invariant, and the state record; integrations own the vendor mapping.
//
// The reconciler never retries mutating calls: retrying a non-idempotent
// create or delete is unsafe outside the adoption guard's specific conflict
// handling. Errors surface to the host verbatim for its own backoff
// scheduling.
type Reconciler struct {
	// Logger is the component logger.
	Logger zerolog.Logger

	// Recorder receives per-operation metrics. Optional.
	Recorder Recorder

	// ProbeAfterCreate kicks one best-effort readiness check immediately
	// after a successful create, so fast-provisioning kinds report ready
	// without waiting for the host's first scheduled check.
	ProbeAfterCreate bool
}

// New creates a reconciler with the given logger.
func New(logger zerolog.Logger) *Reconciler {
	return &Reconciler{Logger: logger.With().Str("component", "reconciler").Logger()}
}

// Reconcile performs one lifecycle operation against the given integration
// and returns the updated state record for the host to persist.
func (r *Reconciler) Reconcile(ctx context.Context, integ Integration, req Request) (*Result, error) {
	started := time.Now()

	def := Definition(Reconstruct(req.Definition))
	st, err := StateFromMap(req.State)
	if err != nil {
		return nil, NewPreconditionError("malformed state record").WithOp(req.Op.String())
	}

	// Existing is immutable once true, whatever integration code does.
	wasExisting := st.Existing

	res := &Result{}
	err = r.dispatch(ctx, integ, req, def, st, res)

	if wasExisting {
		st.Existing = true
	}
	res.State = st.ToMap()

	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	if r.Recorder != nil {
		r.Recorder.RecordOperation(integ.Kind(), req.Op.String(), outcome, time.Since(started).Seconds())
	}

	evt := r.Logger.Info()
	if err != nil {
		evt = r.Logger.Error().Err(err)
	}
	evt.Str("kind", integ.Kind()).
		Str("op", req.Op.String()).
		Str("id", st.ID).
		Dur("duration", time.Since(started)).
		Msg("Reconciliation finished")

	if err != nil {
		return res, err
	}
	return res, nil
}

// dispatch routes the request to the integration. The switch is exhaustive
// over the closed Op set; anything else is a host sequencing error.
func (r *Reconciler) dispatch(ctx context.Context, integ Integration, req Request, def Definition, st *State, res *Result) error {
	switch req.Op {
	case OpCreate:
		if err := integ.Create(ctx, def, st); err != nil {
			return err
		}
		if r.ProbeAfterCreate && st.ID != "" {
			ready, err := integ.CheckReadiness(ctx, def, st)
			if err != nil {
				// The create itself succeeded; the probe is a
				// courtesy and its failure is not the caller's
				// problem yet.
				r.Logger.Warn().Err(err).Str("id", st.ID).Msg("Post-create readiness probe failed")
				return nil
			}
			res.Ready = ready
		}
		return nil

	case OpUpdate:
		if st.ID == "" {
			return NewPreconditionError("update requires an id in state").WithOp("update")
		}
		return integ.Update(ctx, def, st)

	case OpDelete:
		if st.Existing {
			// Never destroy what cloudmoor did not create. Clearing
			// the identifiers here also spares integrations from
			// re-implementing the check.
			r.Logger.Info().
				Str("kind", integ.Kind()).
				Str("id", st.ID).
				Msg("Resource was adopted, clearing state without vendor delete")
			st.ClearIdentity()
			return nil
		}
		return integ.Delete(ctx, st)

	case OpCheckReadiness:
		ready, err := integ.CheckReadiness(ctx, def, st)
		if err != nil {
			return err
		}
		res.Ready = ready
		return nil

	case OpAction:
		if req.Action == "" {
			return NewPreconditionError("action requires a name")
		}
		// Named actions report results; they never touch identity.
		id, arn, token, existing := st.ID, st.ARN, st.Token, st.Existing
		out, err := integ.Action(ctx, req.Action, req.Args, def, st)
		st.ID, st.ARN, st.Token = id, arn, token
		st.Existing = existing
		if err != nil {
			return err
		}
		res.Output = out
		return nil

	default:
		return NewPreconditionError("unknown operation").WithOp(req.Op.String())
	}
}
