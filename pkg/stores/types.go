package stores

import (
	"context"
	"database/sql"
	"time"
)

// Outcome represents the result of a recorded operation.
type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"
	OutcomeBlocked   Outcome = "blocked"
	OutcomeSkipped   Outcome = "skipped"
)

// Entity represents the persisted state of a managed entity.
//
// The State column carries the full reconciliation state as JSON; Status
// and Existing are denormalized copies of its hot fields so listing and
// policy checks do not need to unmarshal every row.
type Entity struct {
	Kind      string    `json:"kind"`
	Name      string    `json:"name"`
	State     string    `json:"state"` // JSON blob
	Status    string    `json:"status"`
	Existing  bool      `json:"existing"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Operation represents one entry in the append-only operations log.
type Operation struct {
	ID          string     `json:"id"`
	Kind        string     `json:"kind"`
	Name        string     `json:"name"`
	Op          string     `json:"op"` // create, update, delete, or an action name
	Outcome     Outcome    `json:"outcome"`
	Error       *string    `json:"error,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Store defines the interface for the persistence layer.
type Store interface {
	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	// Transaction support
	BeginTx(ctx context.Context) (*sql.Tx, error)
	CommitTx(tx *sql.Tx) error
	RollbackTx(tx *sql.Tx) error

	// Entity state operations
	UpsertEntity(ctx context.Context, entity *Entity) error
	GetEntity(ctx context.Context, kind, name string) (*Entity, error)
	ListEntities(ctx context.Context, kind *string, limit, offset int) ([]*Entity, error)
	DeleteEntity(ctx context.Context, kind, name string) error

	// Operations log
	AppendOperation(ctx context.Context, op *Operation) error
	ListOperations(ctx context.Context, kind *string, name *string, limit, offset int) ([]*Operation, error)

	// Utility
	HealthCheck(ctx context.Context) error
}
