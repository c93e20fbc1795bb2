package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rentkit/reservation-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu          sync.RWMutex
	resources   map[string]*model.Resource
	pools       map[string]*model.Pool
	ledger      []model.LedgerEntry
	carts       map[string]*model.Cart
	cartEntries []model.CartEntry
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		resources: make(map[string]*model.Resource),
		pools:     make(map[string]*model.Pool),
		carts:     make(map[string]*model.Cart),
	}
}

// --- Resources ---

func (s *MemoryStore) CreateResource(_ context.Context, r *model.Resource) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.resources[r.ID]; ok {
		return fmt.Errorf("resource %s already exists", r.ID)
	}
	// Store a copy to avoid external mutation.
	cp := *r
	s.resources[r.ID] = &cp
	return nil
}

func (s *MemoryStore) GetResource(_ context.Context, id string) (*model.Resource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.resources[id]
	if !ok {
		return nil, fmt.Errorf("resource %s: %w", id, ErrNotFound)
	}
	cp := *r
	return &cp, nil
}

func (s *MemoryStore) ListResources(_ context.Context) ([]model.Resource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	resources := make([]model.Resource, 0, len(s.resources))
	for _, r := range s.resources {
		resources = append(resources, *r)
	}
	return resources, nil
}

func (s *MemoryStore) UpdateResourcePrice(_ context.Context, id string, price *model.Cents) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.resources[id]
	if !ok {
		return fmt.Errorf("resource %s: %w", id, ErrNotFound)
	}
	if price == nil {
		r.Price = nil
	} else {
		p := *price
		r.Price = &p
	}
	return nil
}

// --- Pools ---

func (s *MemoryStore) CreatePool(_ context.Context, p *model.Pool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.pools[p.ID]; ok {
		return fmt.Errorf("pool %s already exists", p.ID)
	}
	cp := *p
	cp.MemberIDs = append([]string(nil), p.MemberIDs...)
	s.pools[p.ID] = &cp
	return nil
}

func (s *MemoryStore) GetPool(_ context.Context, id string) (*model.Pool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.pools[id]
	if !ok {
		return nil, fmt.Errorf("pool %s: %w", id, ErrNotFound)
	}
	cp := *p
	cp.MemberIDs = append([]string(nil), p.MemberIDs...)
	return &cp, nil
}

func (s *MemoryStore) ListPools(_ context.Context) ([]model.Pool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pools := make([]model.Pool, 0, len(s.pools))
	for _, p := range s.pools {
		cp := *p
		cp.MemberIDs = append([]string(nil), p.MemberIDs...)
		pools = append(pools, cp)
	}
	return pools, nil
}

// --- Stock ledger ---

func (s *MemoryStore) InsertLedgerEntry(_ context.Context, e *model.LedgerEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ledger = append(s.ledger, *e)
	return nil
}

func (s *MemoryStore) InsertLedgerEntryPair(_ context.Context, decrease, marker *model.LedgerEntry, check func([]model.LedgerEntry) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if check != nil {
		var current []model.LedgerEntry
		for _, e := range s.ledger {
			if e.ResourceID == decrease.ResourceID {
				current = append(current, e)
			}
		}
		if err := check(current); err != nil {
			return err
		}
	}

	s.ledger = append(s.ledger, *decrease, *marker)
	return nil
}

func (s *MemoryStore) LedgerEntriesByResource(_ context.Context, resourceID string) ([]model.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.LedgerEntry
	for _, e := range s.ledger {
		if e.ResourceID == resourceID {
			result = append(result, e)
		}
	}
	return result, nil
}

func (s *MemoryStore) PendingClaimByReference(_ context.Context, reference string) (*model.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := range s.ledger {
		e := &s.ledger[i]
		if e.Kind == model.KindClaim && e.Status == model.StatusPending && e.Reference == reference {
			cp := *e
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("pending claim %s: %w", reference, ErrNotFound)
}

func (s *MemoryStore) CompleteLedgerEntry(_ context.Context, entryID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.ledger {
		if s.ledger[i].ID == entryID {
			s.ledger[i].Status = model.StatusCompleted
			return nil
		}
	}
	return fmt.Errorf("ledger entry %s: %w", entryID, ErrNotFound)
}

func (s *MemoryStore) CompleteExpiredClaims(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var swept int64
	for i := range s.ledger {
		e := &s.ledger[i]
		if e.Kind == model.KindClaim && e.Status == model.StatusPending &&
			e.Window != nil && e.Window.Expired(now) {
			e.Status = model.StatusCompleted
			swept++
		}
	}
	return swept, nil
}

// --- Carts ---

func (s *MemoryStore) UpsertCart(_ context.Context, c *model.Cart) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *c
	s.carts[c.ID] = &cp
	return nil
}

func (s *MemoryStore) GetCart(_ context.Context, id string) (*model.Cart, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.carts[id]
	if !ok {
		return nil, fmt.Errorf("cart %s: %w", id, ErrNotFound)
	}
	cp := *c
	return &cp, nil
}

func (s *MemoryStore) InsertCartEntry(_ context.Context, e *model.CartEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cartEntries = append(s.cartEntries, *copyCartEntry(e))
	return nil
}

func (s *MemoryStore) UpdateCartEntry(_ context.Context, e *model.CartEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.cartEntries {
		if s.cartEntries[i].ID == e.ID {
			s.cartEntries[i] = *copyCartEntry(e)
			return nil
		}
	}
	return fmt.Errorf("cart entry %s: %w", e.ID, ErrNotFound)
}

func (s *MemoryStore) DeleteCartEntry(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.cartEntries {
		if s.cartEntries[i].ID == id {
			s.cartEntries = append(s.cartEntries[:i], s.cartEntries[i+1:]...)
			return nil
		}
	}
	return nil
}

func (s *MemoryStore) CartEntries(_ context.Context, cartID string) ([]model.CartEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.CartEntry
	for i := range s.cartEntries {
		if s.cartEntries[i].CartID == cartID {
			result = append(result, *copyCartEntry(&s.cartEntries[i]))
		}
	}
	return result, nil
}

func (s *MemoryStore) DeleteCartEntries(_ context.Context, cartID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.cartEntries[:0]
	for _, e := range s.cartEntries {
		if e.CartID != cartID {
			kept = append(kept, e)
		}
	}
	s.cartEntries = kept
	return nil
}

func copyCartEntry(e *model.CartEntry) *model.CartEntry {
	cp := *e
	if e.UnitPrice != nil {
		p := *e.UnitPrice
		cp.UnitPrice = &p
	}
	if e.Parameters != nil {
		cp.Parameters = make(map[string]string, len(e.Parameters))
		for k, v := range e.Parameters {
			cp.Parameters[k] = v
		}
	}
	return &cp
}
