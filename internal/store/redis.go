package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/parametrix/insurance-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Writes go to the primary store and invalidate the cache; reads
// check Redis first then fall back to the primary.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) CreatePolicy(ctx context.Context, p *model.Policy) error {
	if err := s.primary.CreatePolicy(ctx, p); err != nil {
		return err
	}
	s.cachePolicy(ctx, p)
	return nil
}

func (s *CachedStore) UpdatePolicy(ctx context.Context, p *model.Policy) error {
	if err := s.primary.UpdatePolicy(ctx, p); err != nil {
		return err
	}
	// Invalidate; next read re-populates.
	s.rdb.Del(ctx, policyKey(p.ID))
	return nil
}

func (s *CachedStore) UpsertPosition(ctx context.Context, pos *model.Position) error {
	if err := s.primary.UpsertPosition(ctx, pos); err != nil {
		return err
	}
	s.rdb.Del(ctx, positionKey(pos.PolicyID, pos.ParticipantID))
	return nil
}

func (s *CachedStore) InsertEvent(ctx context.Context, ev *model.Event) error {
	return s.primary.InsertEvent(ctx, ev)
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetPolicy(ctx context.Context, id string) (*model.Policy, error) {
	data, err := s.rdb.Get(ctx, policyKey(id)).Bytes()
	if err == nil {
		var p model.Policy
		if json.Unmarshal(data, &p) == nil {
			return &p, nil
		}
	}

	// Cache miss: read from primary.
	p, err := s.primary.GetPolicy(ctx, id)
	if err != nil {
		return nil, err
	}

	s.cachePolicy(ctx, p)
	return p, nil
}

func (s *CachedStore) GetPolicyByTicker(ctx context.Context, ticker string) (*model.Policy, error) {
	// Try cache via ticker→policyID mapping.
	policyID, err := s.rdb.Get(ctx, tickerKey(ticker)).Result()
	if err == nil {
		return s.GetPolicy(ctx, policyID)
	}

	p, err := s.primary.GetPolicyByTicker(ctx, ticker)
	if err != nil {
		return nil, err
	}

	// Cache both the policy and the ticker→ID mapping.
	s.cachePolicy(ctx, p)
	s.rdb.Set(ctx, tickerKey(ticker), p.ID, s.ttl)
	return p, nil
}

func (s *CachedStore) GetPosition(ctx context.Context, policyID, participantID string) (*model.Position, error) {
	data, err := s.rdb.Get(ctx, positionKey(policyID, participantID)).Bytes()
	if err == nil {
		var pos model.Position
		if json.Unmarshal(data, &pos) == nil {
			return &pos, nil
		}
	}

	pos, err := s.primary.GetPosition(ctx, policyID, participantID)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(pos); err == nil {
		s.rdb.Set(ctx, positionKey(policyID, participantID), data, s.ttl)
	}
	return pos, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) ListPolicies(ctx context.Context) ([]model.Policy, error) {
	return s.primary.ListPolicies(ctx)
}

func (s *CachedStore) ListPositions(ctx context.Context, policyID string) ([]model.Position, error) {
	return s.primary.ListPositions(ctx, policyID)
}

func (s *CachedStore) ListEvents(ctx context.Context, policyID string) ([]model.Event, error) {
	return s.primary.ListEvents(ctx, policyID)
}

// --- Cache helpers ---

func (s *CachedStore) cachePolicy(ctx context.Context, p *model.Policy) {
	if data, err := json.Marshal(p); err == nil {
		s.rdb.Set(ctx, policyKey(p.ID), data, s.ttl)
	}
}

func policyKey(id string) string { return fmt.Sprintf("policy:%s", id) }

func tickerKey(t string) string { return fmt.Sprintf("ticker:%s", t) }

func positionKey(pid, uid string) string { return fmt.Sprintf("position:%s:%s", pid, uid) }
