package stores

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/cloudmoor/cloudmoor/pkg/reconcile"
)

// SaveState persists a reconciliation state for the given entity,
// denormalizing its status and existing flag into dedicated columns.
func SaveState(ctx context.Context, s Store, kind, name string, st *reconcile.State) error {
	raw, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("failed to encode state for %s/%s: %w", kind, name, err)
	}

	return s.UpsertEntity(ctx, &Entity{
		Kind:     kind,
		Name:     name,
		State:    string(raw),
		Status:   st.Status,
		Existing: st.Existing,
	})
}

// LoadState retrieves the reconciliation state for the given entity.
// A missing row yields a zero state, so first-time entities reconcile
// from scratch without a special case at the call site.
func LoadState(ctx context.Context, s Store, kind, name string) (*reconcile.State, error) {
	entity, err := s.GetEntity(ctx, kind, name)
	if errors.Is(err, ErrNotFound) {
		return &reconcile.State{}, nil
	}
	if err != nil {
		return nil, err
	}

	st := &reconcile.State{}
	if err := json.Unmarshal([]byte(entity.State), st); err != nil {
		return nil, fmt.Errorf("failed to decode state for %s/%s: %w", kind, name, err)
	}

	return st, nil
}

// NewOperation builds an operations-log entry with a fresh id and the
// current time as its start.
func NewOperation(kind, name, op string) *Operation {
	return &Operation{
		ID:        uuid.New().String(),
		Kind:      kind,
		Name:      name,
		Op:        op,
		StartedAt: time.Now().UTC(),
	}
}

// Finish stamps the completion time and records the outcome. A non-nil
// err marks the operation failed and captures the message.
func (o *Operation) Finish(outcome Outcome, err error) *Operation {
	now := time.Now().UTC()
	o.CompletedAt = &now
	o.Outcome = outcome
	if err != nil {
		msg := err.Error()
		o.Error = &msg
		if o.Outcome == "" || o.Outcome == OutcomeSucceeded {
			o.Outcome = OutcomeFailed
		}
	}
	return o
}
