package reconcile

import (
	"context"

	"github.com/rs/zerolog"
)

// Resource is the vendor-side view of a resource returned by create or
// lookup calls.
type Resource struct {
	ID     string
	ARN    string
	Token  string
	Status string
	Attrs  map[string]string
}

// AdoptSpec describes one guarded create attempt. Create and LookupByName
// issue the vendor calls; the classifier funcs default to the package-level
// predicates when nil.
type AdoptSpec struct {
	// Name is the resource name, used only for logging.
	Name string

	// Create issues the vendor create call.
	Create func(ctx context.Context) (*Resource, error)

	// LookupByName finds an already-existing resource with the same name.
	LookupByName func(ctx context.Context) (*Resource, error)

	// IsConflict classifies create errors as name conflicts.
	// Defaults to IsConflict.
	IsConflict func(error) bool

	// IsForbidden classifies lookup errors as permission failures.
	// Defaults to IsForbidden.
	IsForbidden func(error) bool

	// Logger receives the adoption warning. Optional.
	Logger zerolog.Logger
}

// Adopt attempts the vendor create call and, on a name conflict, adopts the
// already-existing resource instead of erroring or duplicating it. The
// returned adopted flag feeds State.Existing directly: a fresh create yields
// adopted=false, any adoption path yields adopted=true.
//
// When the conflict lookup itself is forbidden, Adopt returns a minimal
// placeholder with adopted=true and logs a warning rather than failing:
// failing here would block legitimate re-runs against infrastructure the
// caller does not fully control.
func Adopt(ctx context.Context, spec AdoptSpec) (*Resource, bool, error) {
	isConflict := spec.IsConflict
	if isConflict == nil {
		isConflict = IsConflict
	}
	isForbidden := spec.IsForbidden
	if isForbidden == nil {
		isForbidden = IsForbidden
	}

	res, err := spec.Create(ctx)
	if err == nil {
		return res, false, nil
	}
	if !isConflict(err) {
		return nil, false, err
	}

	spec.Logger.Debug().
		Str("name", spec.Name).
		Msg("Create reported a name conflict, attempting adoption")

	if spec.LookupByName == nil {
		spec.Logger.Warn().
			Str("name", spec.Name).
			Msg("Resource already exists and the kind has no lookup, adopting without identifiers")
		return &Resource{}, true, nil
	}

	found, lerr := spec.LookupByName(ctx)
	switch {
	case lerr == nil && found != nil:
		spec.Logger.Info().
			Str("name", spec.Name).
			Str("id", found.ID).
			Msg("Adopted existing resource")
		return found, true, nil
	case isForbidden(lerr):
		spec.Logger.Warn().
			Str("name", spec.Name).
			Msg("Resource already exists but lookup is forbidden, adopting without identifiers")
		return &Resource{}, true, nil
	case lerr != nil:
		return nil, false, NewConflictError("resource already exists and lookup by name failed", lerr)
	default:
		return nil, false, NewConflictError("resource already exists but lookup by name found nothing", err)
	}
}

// PopulateFromAdoption copies a guarded-create result into the state record.
// An already-set Existing flag is preserved.
func PopulateFromAdoption(st *State, res *Resource, adopted bool) {
	st.ID = res.ID
	st.ARN = res.ARN
	st.Token = res.Token
	st.Status = res.Status
	for k, v := range res.Attrs {
		st.SetAttr(k, v)
	}
	if adopted {
		st.Existing = true
	}
}
