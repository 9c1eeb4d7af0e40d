package reconcile

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Definition is the desired-state input to a reconciliation call. It is
// immutable for the duration of the call. Flattened array encodings
// (key!0, key!1, ...) are expanded by Reconstruct before integration code
// sees the definition.
type Definition map[string]any

// String returns the string value of key, or "" when absent or not a string.
func (d Definition) String(key string) string {
	s, _ := d[key].(string)
	return s
}

// Int returns the integer value of key, tolerating JSON float decoding.
func (d Definition) Int(key string) int {
	switch v := d[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}

// Bool returns the boolean value of key, or false when absent.
func (d Definition) Bool(key string) bool {
	b, _ := d[key].(bool)
	return b
}

// State is the only durable record the host persists between reconciliation
// calls. It is minimal by design: vendor-assigned identifiers, a mirrored
// status string, and the Existing safety flag.
type State struct {
	// ID is the vendor-assigned resource identifier.
	ID string `json:"id,omitempty"`

	// ARN is the vendor's fully-qualified resource name, where the vendor
	// has one.
	ARN string `json:"arn,omitempty"`

	// Token is the vendor concurrency token (ETag-equivalent) from the most
	// recent read. It is advisory only: mutating calls must re-fetch a
	// fresh token immediately before use.
	Token string `json:"token,omitempty"`

	// Status mirrors the vendor-reported status from the most recent probe.
	Status string `json:"status,omitempty"`

	// Existing is true when the resource pre-dates cloudmoor's management
	// or was adopted. Delete must never issue a destructive vendor call
	// for an Existing resource. Once true, never reset to false.
	Existing bool `json:"existing,omitempty"`

	// Attrs holds additional vendor identifiers (endpoint hosts, secret
	// references) that do not warrant first-class fields.
	Attrs map[string]string `json:"attrs,omitempty"`
}

// StateFromMap decodes the host-supplied state map. A nil or empty map
// yields a zero State.
func StateFromMap(m map[string]any) (*State, error) {
	st := &State{}
	if len(m) == 0 {
		return st, nil
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to encode state map: %w", err)
	}
	if err := json.Unmarshal(raw, st); err != nil {
		return nil, fmt.Errorf("failed to decode state map: %w", err)
	}
	return st, nil
}

// ToMap encodes the state for the host.
func (s *State) ToMap() map[string]any {
	m := map[string]any{}
	raw, err := json.Marshal(s)
	if err != nil {
		return m
	}
	_ = json.Unmarshal(raw, &m)
	return m
}

// ClearIdentity removes all identifying fields after a successful delete.
// The Existing flag is deliberately preserved.
func (s *State) ClearIdentity() {
	s.ID = ""
	s.ARN = ""
	s.Token = ""
	s.Status = ""
	s.Attrs = nil
}

// SetAttr stores an auxiliary identifier, allocating the map on first use.
func (s *State) SetAttr(key, value string) {
	if s.Attrs == nil {
		s.Attrs = make(map[string]string)
	}
	s.Attrs[key] = value
}

// Attr returns an auxiliary identifier, or "" when absent.
func (s *State) Attr(key string) string {
	return s.Attrs[key]
}

// Op is the requested lifecycle operation. The set is closed: dispatch is an
// exhaustive switch, and unknown action strings fail at parse time.
type Op int

const (
	// OpCreate provisions the resource, adopting a same-named one if it
	// already exists.
	OpCreate Op = iota

	// OpUpdate applies definition changes to an already-provisioned
	// resource.
	OpUpdate

	// OpDelete tears the resource down, honoring the Existing flag.
	OpDelete

	// OpCheckReadiness asks whether the resource reached its ready status.
	OpCheckReadiness

	// OpAction invokes a named side-effecting action against the resource.
	OpAction
)

// opNames maps operations to their wire names.
var opNames = map[Op]string{
	OpCreate:         "create",
	OpUpdate:         "update",
	OpDelete:         "delete",
	OpCheckReadiness: "check-readiness",
	OpAction:         "action",
}

// String returns the wire name of the operation.
func (o Op) String() string {
	if n, ok := opNames[o]; ok {
		return n
	}
	return fmt.Sprintf("op(%d)", int(o))
}

// ParseOp maps a host-supplied action string to an operation. Strings that
// name none of the lifecycle operations are treated as named actions.
func ParseOp(s string) (Op, string, error) {
	switch s {
	case "create":
		return OpCreate, "", nil
	case "update":
		return OpUpdate, "", nil
	case "delete", "purge":
		return OpDelete, "", nil
	case "check-readiness":
		return OpCheckReadiness, "", nil
	case "":
		return 0, "", NewPreconditionError("empty action string")
	default:
		return OpAction, s, nil
	}
}

// Request is one reconciliation call: desired definition, last known state,
// and the requested operation.
type Request struct {
	// Definition is the desired state, possibly in flattened-array form.
	Definition map[string]any

	// State is the host-persisted state from the previous call, nil or
	// empty on first create.
	State map[string]any

	// Op is the lifecycle operation to perform.
	Op Op

	// Action is the action name when Op is OpAction.
	Action string

	// Args are caller-supplied action arguments.
	Args map[string]any
}

// Result is the outcome of a reconciliation call.
type Result struct {
	// State is the updated state record for the host to persist.
	State map[string]any

	// Ready reports the readiness verdict for OpCheckReadiness (and the
	// optional post-create probe).
	Ready bool

	// Output carries named-action results.
	Output map[string]any
}

// Schedule is the static per-resource-kind readiness schedule read by the
// host. It bounds total wait to InitialDelay + Period*Attempts.
type Schedule struct {
	// Period is the interval between readiness checks.
	Period time.Duration `json:"period"`

	// InitialDelay is the wait before the first check.
	InitialDelay time.Duration `json:"initial_delay"`

	// Attempts is the maximum number of checks before giving up.
	Attempts int `json:"attempts"`
}

// Budget returns the total wall-clock budget of the schedule.
func (s Schedule) Budget() time.Duration {
	return s.InitialDelay + time.Duration(s.Attempts)*s.Period
}

// Integration is implemented by every catalog entry. Methods receive the
// reconstructed definition and mutate the state in place; the reconciler
// owns persistence, the Existing invariant, and operation dispatch.
type Integration interface {
	// Kind returns the resource kind, e.g. "cdn" or "database".
	Kind() string

	// Schedule returns the kind's readiness schedule for the host.
	Schedule() Schedule

	// Create provisions the resource described by def, populating st.
	Create(ctx context.Context, def Definition, st *State) error

	// Update applies def to the resource identified by st.
	Update(ctx context.Context, def Definition, st *State) error

	// Delete removes the resource identified by st.
	Delete(ctx context.Context, st *State) error

	// CheckReadiness reports whether the resource reached its ready
	// status, refreshing st's mirrored fields from the vendor.
	CheckReadiness(ctx context.Context, def Definition, st *State) (bool, error)

	// Action performs a named side-effecting action. It must not mutate
	// identifying state fields.
	Action(ctx context.Context, name string, args map[string]any, def Definition, st *State) (map[string]any, error)
}
