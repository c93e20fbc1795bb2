package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rentkit/reservation-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache for resources and pools. Ledger and cart traffic passes straight
// through: availability is always computed from the source of truth so a
// stale cache can never cause an oversell.
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

// --- Resources (read-through) ---

func (s *CachedStore) CreateResource(ctx context.Context, r *model.Resource) error {
	if err := s.primary.CreateResource(ctx, r); err != nil {
		return err
	}
	s.cacheJSON(ctx, resourceKey(r.ID), r)
	return nil
}

func (s *CachedStore) GetResource(ctx context.Context, id string) (*model.Resource, error) {
	data, err := s.rdb.Get(ctx, resourceKey(id)).Bytes()
	if err == nil {
		var r model.Resource
		if json.Unmarshal(data, &r) == nil {
			return &r, nil
		}
	}

	r, err := s.primary.GetResource(ctx, id)
	if err != nil {
		return nil, err
	}

	s.cacheJSON(ctx, resourceKey(id), r)
	return r, nil
}

func (s *CachedStore) UpdateResourcePrice(ctx context.Context, id string, price *model.Cents) error {
	if err := s.primary.UpdateResourcePrice(ctx, id, price); err != nil {
		return err
	}
	// Invalidate; next read will re-populate.
	s.rdb.Del(ctx, resourceKey(id))
	return nil
}

// --- Pools (read-through) ---

func (s *CachedStore) CreatePool(ctx context.Context, p *model.Pool) error {
	if err := s.primary.CreatePool(ctx, p); err != nil {
		return err
	}
	s.cacheJSON(ctx, poolKey(p.ID), p)
	return nil
}

func (s *CachedStore) GetPool(ctx context.Context, id string) (*model.Pool, error) {
	data, err := s.rdb.Get(ctx, poolKey(id)).Bytes()
	if err == nil {
		var p model.Pool
		if json.Unmarshal(data, &p) == nil {
			return &p, nil
		}
	}

	p, err := s.primary.GetPool(ctx, id)
	if err != nil {
		return nil, err
	}

	s.cacheJSON(ctx, poolKey(id), p)
	return p, nil
}

// --- Passthrough (never cached: availability correctness) ---

func (s *CachedStore) ListResources(ctx context.Context) ([]model.Resource, error) {
	return s.primary.ListResources(ctx)
}

func (s *CachedStore) ListPools(ctx context.Context) ([]model.Pool, error) {
	return s.primary.ListPools(ctx)
}

func (s *CachedStore) InsertLedgerEntry(ctx context.Context, e *model.LedgerEntry) error {
	return s.primary.InsertLedgerEntry(ctx, e)
}

func (s *CachedStore) InsertLedgerEntryPair(ctx context.Context, decrease, marker *model.LedgerEntry, check func([]model.LedgerEntry) error) error {
	return s.primary.InsertLedgerEntryPair(ctx, decrease, marker, check)
}

func (s *CachedStore) LedgerEntriesByResource(ctx context.Context, resourceID string) ([]model.LedgerEntry, error) {
	return s.primary.LedgerEntriesByResource(ctx, resourceID)
}

func (s *CachedStore) PendingClaimByReference(ctx context.Context, reference string) (*model.LedgerEntry, error) {
	return s.primary.PendingClaimByReference(ctx, reference)
}

func (s *CachedStore) CompleteLedgerEntry(ctx context.Context, entryID string) error {
	return s.primary.CompleteLedgerEntry(ctx, entryID)
}

func (s *CachedStore) CompleteExpiredClaims(ctx context.Context, now time.Time) (int64, error) {
	return s.primary.CompleteExpiredClaims(ctx, now)
}

func (s *CachedStore) UpsertCart(ctx context.Context, c *model.Cart) error {
	return s.primary.UpsertCart(ctx, c)
}

func (s *CachedStore) GetCart(ctx context.Context, id string) (*model.Cart, error) {
	return s.primary.GetCart(ctx, id)
}

func (s *CachedStore) InsertCartEntry(ctx context.Context, e *model.CartEntry) error {
	return s.primary.InsertCartEntry(ctx, e)
}

func (s *CachedStore) UpdateCartEntry(ctx context.Context, e *model.CartEntry) error {
	return s.primary.UpdateCartEntry(ctx, e)
}

func (s *CachedStore) DeleteCartEntry(ctx context.Context, id string) error {
	return s.primary.DeleteCartEntry(ctx, id)
}

func (s *CachedStore) CartEntries(ctx context.Context, cartID string) ([]model.CartEntry, error) {
	return s.primary.CartEntries(ctx, cartID)
}

func (s *CachedStore) DeleteCartEntries(ctx context.Context, cartID string) error {
	return s.primary.DeleteCartEntries(ctx, cartID)
}

// --- Cache helpers ---

func (s *CachedStore) cacheJSON(ctx context.Context, key string, v any) {
	if data, err := json.Marshal(v); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
}

func resourceKey(id string) string { return fmt.Sprintf("resource:%s", id) }
func poolKey(id string) string     { return fmt.Sprintf("pool:%s", id) }
