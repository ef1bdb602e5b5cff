// Package store defines the persistence interface for the insurance engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
package store

import (
	"context"
	"errors"

	"github.com/parametrix/insurance-engine/internal/model"
)

// ErrNotFound is returned when a policy does not exist.
var ErrNotFound = errors.New("store: not found")

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer. Operations are granular —
// atomicity across calls comes from the service-level serialization plus
// check-before-write ordering in the engine.
type Store interface {
	// --- Policy operations ---

	// CreatePolicy persists a new policy.
	CreatePolicy(ctx context.Context, p *model.Policy) error

	// GetPolicy retrieves a policy by its ID.
	GetPolicy(ctx context.Context, id string) (*model.Policy, error)

	// GetPolicyByTicker retrieves a policy by its ticker.
	GetPolicyByTicker(ctx context.Context, ticker string) (*model.Policy, error)

	// ListPolicies returns all policies.
	ListPolicies(ctx context.Context) ([]model.Policy, error)

	// UpdatePolicy persists mutable policy state (forecast triple, operator
	// set, minimum premium, balance, participants, status).
	UpdatePolicy(ctx context.Context, p *model.Policy) error

	// --- Positions ---

	// GetPosition returns a participant's position. A participant with no
	// recorded position gets a zero-valued one, not an error.
	GetPosition(ctx context.Context, policyID, participantID string) (*model.Position, error)

	// UpsertPosition persists a position.
	UpsertPosition(ctx context.Context, pos *model.Position) error

	// ListPositions returns all recorded positions for a policy.
	ListPositions(ctx context.Context, policyID string) ([]model.Position, error)

	// --- Immutable event ledger ---

	// InsertEvent appends an immutable audit record.
	InsertEvent(ctx context.Context, ev *model.Event) error

	// ListEvents returns a policy's events in execution order.
	ListEvents(ctx context.Context, policyID string) ([]model.Event, error)
}
