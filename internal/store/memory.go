package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/parametrix/insurance-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing and
// development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu        sync.RWMutex
	policies  map[string]*model.Policy
	positions map[string]map[string]*model.Position // policyID → participantID
	events    []model.Event
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		policies:  make(map[string]*model.Policy),
		positions: make(map[string]map[string]*model.Position),
	}
}

func copyPolicy(p *model.Policy) *model.Policy {
	cp := *p
	cp.Operators = append([]string(nil), p.Operators...)
	cp.Participants = append([]string(nil), p.Participants...)
	return &cp
}

func (s *MemoryStore) CreatePolicy(_ context.Context, p *model.Policy) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.policies {
		if existing.Ticker == p.Ticker {
			return fmt.Errorf("policy for ticker %s already exists", p.Ticker)
		}
	}

	// Store a copy to avoid external mutation.
	s.policies[p.ID] = copyPolicy(p)
	return nil
}

func (s *MemoryStore) GetPolicy(_ context.Context, id string) (*model.Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.policies[id]
	if !ok {
		return nil, fmt.Errorf("policy %s: %w", id, ErrNotFound)
	}
	return copyPolicy(p), nil
}

func (s *MemoryStore) GetPolicyByTicker(_ context.Context, ticker string) (*model.Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, p := range s.policies {
		if p.Ticker == ticker {
			return copyPolicy(p), nil
		}
	}
	return nil, fmt.Errorf("policy for ticker %s: %w", ticker, ErrNotFound)
}

func (s *MemoryStore) ListPolicies(_ context.Context) ([]model.Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	policies := make([]model.Policy, 0, len(s.policies))
	for _, p := range s.policies {
		policies = append(policies, *copyPolicy(p))
	}
	return policies, nil
}

func (s *MemoryStore) UpdatePolicy(_ context.Context, p *model.Policy) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.policies[p.ID]; !ok {
		return fmt.Errorf("policy %s: %w", p.ID, ErrNotFound)
	}
	s.policies[p.ID] = copyPolicy(p)
	return nil
}

func (s *MemoryStore) GetPosition(_ context.Context, policyID, participantID string) (*model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if byUser, ok := s.positions[policyID]; ok {
		if pos, ok := byUser[participantID]; ok {
			cp := *pos
			return &cp, nil
		}
	}
	// Absent position is a zero position, not an error.
	return &model.Position{
		PolicyID:      policyID,
		ParticipantID: participantID,
		Notional:      decimal.Zero,
		PremiumPaid:   decimal.Zero,
	}, nil
}

func (s *MemoryStore) UpsertPosition(_ context.Context, pos *model.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	byUser, ok := s.positions[pos.PolicyID]
	if !ok {
		byUser = make(map[string]*model.Position)
		s.positions[pos.PolicyID] = byUser
	}
	cp := *pos
	byUser[pos.ParticipantID] = &cp
	return nil
}

func (s *MemoryStore) ListPositions(_ context.Context, policyID string) ([]model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Position
	for _, pos := range s.positions[policyID] {
		result = append(result, *pos)
	}
	return result, nil
}

func (s *MemoryStore) InsertEvent(_ context.Context, ev *model.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.events = append(s.events, *ev)
	return nil
}

func (s *MemoryStore) ListEvents(_ context.Context, policyID string) ([]model.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Event
	for _, ev := range s.events {
		if ev.PolicyID == policyID {
			result = append(result, ev)
		}
	}
	return result, nil
}
