// Package ledger implements the per-resource append-only stock ledger
// and the claim lifecycle.
//
// Availability is always derived from the log, never mutated in place:
// completed movement entries (increase, decrease, return) contribute
// their signed quantity whenever their window — if any — covers the
// queried instant or overlaps the queried range. A claim is written as a
// pair sharing one reference: a completed decrease that reduces
// availability for the claim's window, and a pending claim marker that
// tags the decrease as provisional ("claimed stock"). Releasing a claim
// flips the marker to completed without reversing the decrease; past the
// window's until the decrease stops counting on its own, so stock
// returns with no second ledger write. A refund that must restore stock
// inside the window writes a return entry instead.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rentkit/reservation-engine/internal/model"
	"github.com/rentkit/reservation-engine/internal/store"
	"github.com/rentkit/reservation-engine/internal/timespan"
)

// Unbounded is the availability sentinel for resources that do not
// manage their own stock.
const Unbounded int64 = math.MaxInt64

// ErrInsufficientStock is the base error for failed decreases and claims.
var ErrInsufficientStock = errors.New("ledger: insufficient stock")

// InsufficientStockError reports how much stock was actually available
// when a decrease or claim was rejected.
type InsufficientStockError struct {
	ResourceID string
	Requested  int64
	Available  int64
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("ledger: insufficient stock for %s: requested %d, available %d",
		e.ResourceID, e.Requested, e.Available)
}

func (e *InsufficientStockError) Unwrap() error { return ErrInsufficientStock }

// Service provides stock ledger operations over a store. Mutations are
// serialized with a mutex so the availability check and the subsequent
// write are atomic against concurrent claims (single-instance); the
// postgres store additionally writes claim pairs inside a serializable
// transaction for multi-instance deployments.
type Service struct {
	store store.Store
	mu    sync.Mutex
	now   func() time.Time
}

// NewService creates a ledger service. Pass nil for now to use the wall
// clock; tests inject a fixed clock.
func NewService(st store.Store, now func() time.Time) *Service {
	if now == nil {
		now = time.Now
	}
	return &Service{store: st, now: now}
}

// --- Pure availability math over an entry log ---

// AvailableAt computes the available quantity at the instant at. Claim
// markers never count here: their paired decrease already does, and only
// while its window covers the instant.
func AvailableAt(entries []model.LedgerEntry, at time.Time) int64 {
	var total int64
	for _, e := range entries {
		if e.Kind == model.KindClaim || e.Status != model.StatusCompleted {
			continue
		}
		if e.Window != nil && !e.Window.Contains(at) {
			continue
		}
		total += e.Quantity
	}
	return total
}

// AvailableDuring computes the available quantity over a query window
// using the half-open overlap rule: an entry with window [ef, eu) counts
// iff ef < q.until and (eu is nil or eu > q.from). Unwindowed entries
// always count.
func AvailableDuring(entries []model.LedgerEntry, window timespan.Timespan) int64 {
	var total int64
	for _, e := range entries {
		if e.Kind == model.KindClaim || e.Status != model.StatusCompleted {
			continue
		}
		if e.Window != nil && !e.Window.Overlaps(window) {
			continue
		}
		total += e.Quantity
	}
	return total
}

// ClaimedAt computes the quantity held by pending claims active at the
// instant at. Expired pending claims are excluded regardless of whether
// the sweep has run.
func ClaimedAt(entries []model.LedgerEntry, at time.Time) int64 {
	var total int64
	for _, e := range entries {
		if e.Kind != model.KindClaim || e.Status != model.StatusPending {
			continue
		}
		if e.Window != nil && !e.Window.Contains(at) {
			continue
		}
		total += -e.Quantity
	}
	return total
}

// --- Stock movements ---

// Increase appends stock for a resource, optionally scoped to a window
// (seasonal capacity).
func (s *Service) Increase(ctx context.Context, resourceID string, qty int64, window *timespan.Timespan) (*model.LedgerEntry, error) {
	if qty <= 0 {
		return nil, fmt.Errorf("ledger: increase quantity must be positive, got %d", qty)
	}
	e := s.newEntry(resourceID, qty, model.KindIncrease, window, "", "")
	if err := s.store.InsertLedgerEntry(ctx, e); err != nil {
		return nil, err
	}
	return e, nil
}

// Decrease removes stock for a resource. For resources that manage their
// own stock it fails with InsufficientStockError when the current
// availability would go negative.
func (s *Service) Decrease(ctx context.Context, resourceID string, qty int64) (*model.LedgerEntry, error) {
	if qty <= 0 {
		return nil, fmt.Errorf("ledger: decrease quantity must be positive, got %d", qty)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkAvailability(ctx, resourceID, qty, nil); err != nil {
		return nil, err
	}

	e := s.newEntry(resourceID, -qty, model.KindDecrease, nil, "", "")
	if err := s.store.InsertLedgerEntry(ctx, e); err != nil {
		return nil, err
	}
	return e, nil
}

// Return restores stock, typically on cancellation or refund of a claim
// whose window has not yet passed.
func (s *Service) Return(ctx context.Context, resourceID string, qty int64, window *timespan.Timespan, reference string) (*model.LedgerEntry, error) {
	if qty <= 0 {
		return nil, fmt.Errorf("ledger: return quantity must be positive, got %d", qty)
	}
	e := s.newEntry(resourceID, qty, model.KindReturn, window, "", reference)
	if err := s.store.InsertLedgerEntry(ctx, e); err != nil {
		return nil, err
	}
	return e, nil
}

// Claim provisionally deducts stock, optionally for a window. It writes
// the completed-decrease / pending-marker pair and fails with
// InsufficientStockError when qty exceeds the current (or windowed)
// availability of a stock-managed ledger. The ledger ID may name a
// resource or a pool that carries its own stock; the availability check
// runs inside the store's pair insert so it sees the same entries the
// write lands next to.
func (s *Service) Claim(ctx context.Context, ledgerID string, qty int64, window *timespan.Timespan, note, reference string) (*model.Claim, error) {
	if qty <= 0 {
		return nil, fmt.Errorf("ledger: claim quantity must be positive, got %d", qty)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Opportunistic sweep so expired holds never block a new claim.
	if _, err := s.store.CompleteExpiredClaims(ctx, s.now()); err != nil {
		slog.Warn("expired claim sweep failed", "err", err)
	}

	managed, err := s.managesOwnStock(ctx, ledgerID)
	if err != nil {
		return nil, err
	}
	var check func([]model.LedgerEntry) error
	if managed {
		at := s.now()
		check = func(entries []model.LedgerEntry) error {
			return verifyAvailable(ledgerID, entries, qty, window, at)
		}
	}

	if reference == "" {
		reference = uuid.New().String()
	}
	decrease := s.newEntry(ledgerID, -qty, model.KindDecrease, window, note, reference)
	marker := s.newEntry(ledgerID, -qty, model.KindClaim, window, note, reference)
	marker.Status = model.StatusPending

	if err := s.store.InsertLedgerEntryPair(ctx, decrease, marker, check); err != nil {
		return nil, err
	}

	slog.Info("stock claimed",
		"resource", ledgerID,
		"qty", qty,
		"reference", reference,
	)

	return &model.Claim{
		Reference:  reference,
		ResourceID: ledgerID,
		Quantity:   qty,
		Window:     window,
		CreatedAt:  decrease.CreatedAt,
	}, nil
}

// Release flips a claim's pending marker to completed. Idempotent: a
// second release (or releasing an expired, already-swept claim) returns
// false without error. The paired decrease is never reversed here; use
// Return to restore stock inside the window.
func (s *Service) Release(ctx context.Context, reference string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	marker, err := s.store.PendingClaimByReference(ctx, reference)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	if err := s.store.CompleteLedgerEntry(ctx, marker.ID); err != nil {
		return false, err
	}

	slog.Info("claim released", "resource", marker.ResourceID, "reference", reference)
	return true, nil
}

// ReleaseExpired flips every pending claim whose window has ended. Safe
// to run redundantly and safe to skip: the availability math excludes
// expired pending claims either way.
func (s *Service) ReleaseExpired(ctx context.Context, now time.Time) (int64, error) {
	swept, err := s.store.CompleteExpiredClaims(ctx, now)
	if err != nil {
		return 0, err
	}
	if swept > 0 {
		slog.Info("expired claims swept", "count", swept)
	}
	return swept, nil
}

// --- Availability queries ---

// AvailableStock returns the resource's current availability, or the
// Unbounded sentinel for resources that do not manage their own stock.
func (s *Service) AvailableStock(ctx context.Context, resourceID string, at time.Time) (int64, error) {
	r, err := s.store.GetResource(ctx, resourceID)
	if err != nil {
		return 0, err
	}
	if !r.ManagesOwnStock {
		return Unbounded, nil
	}
	return s.AvailableOn(ctx, resourceID, at)
}

// AvailableOn returns the available quantity at a point in time.
func (s *Service) AvailableOn(ctx context.Context, resourceID string, at time.Time) (int64, error) {
	s.sweep(ctx)
	entries, err := s.store.LedgerEntriesByResource(ctx, resourceID)
	if err != nil {
		return 0, err
	}
	return AvailableAt(entries, at), nil
}

// AvailableOnRange returns the available quantity over a query window.
func (s *Service) AvailableOnRange(ctx context.Context, resourceID string, window timespan.Timespan) (int64, error) {
	s.sweep(ctx)
	entries, err := s.store.LedgerEntriesByResource(ctx, resourceID)
	if err != nil {
		return 0, err
	}
	return AvailableDuring(entries, window), nil
}

// ClaimedStock returns the quantity currently held by active pending
// claims.
func (s *Service) ClaimedStock(ctx context.Context, resourceID string, at time.Time) (int64, error) {
	entries, err := s.store.LedgerEntriesByResource(ctx, resourceID)
	if err != nil {
		return 0, err
	}
	return ClaimedAt(entries, at), nil
}

// --- internals ---

// checkAvailability rejects a deduction that would overdraw a
// stock-managed ledger. Windowed deductions check the windowed
// availability; unwindowed ones check the current instant.
func (s *Service) checkAvailability(ctx context.Context, ledgerID string, qty int64, window *timespan.Timespan) error {
	managed, err := s.managesOwnStock(ctx, ledgerID)
	if err != nil {
		return err
	}
	if !managed {
		return nil
	}

	entries, err := s.store.LedgerEntriesByResource(ctx, ledgerID)
	if err != nil {
		return err
	}
	return verifyAvailable(ledgerID, entries, qty, window, s.now())
}

// managesOwnStock resolves whether the ledger ID names a stock-managed
// resource, falling back to pools so pool-level ledgers (pools that
// carry stock their members do not) get the same overdraw protection.
func (s *Service) managesOwnStock(ctx context.Context, ledgerID string) (bool, error) {
	r, err := s.store.GetResource(ctx, ledgerID)
	if err == nil {
		return r.ManagesOwnStock, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return false, err
	}
	p, err := s.store.GetPool(ctx, ledgerID)
	if err != nil {
		return false, err
	}
	return p.ManagesOwnStock, nil
}

// verifyAvailable is the overdraw predicate run against a ledger's
// entries, either ahead of a single insert or inside the store's pair
// insert.
func verifyAvailable(ledgerID string, entries []model.LedgerEntry, qty int64, window *timespan.Timespan, at time.Time) error {
	var available int64
	if window != nil {
		available = AvailableDuring(entries, *window)
	} else {
		available = AvailableAt(entries, at)
	}
	if qty > available {
		return &InsufficientStockError{ResourceID: ledgerID, Requested: qty, Available: available}
	}
	return nil
}

// sweep is the best-effort expired-claim sweep run on availability
// queries. Errors are logged, not propagated: correctness falls back to
// the point-in-time overlap filter.
func (s *Service) sweep(ctx context.Context) {
	if _, err := s.store.CompleteExpiredClaims(ctx, s.now()); err != nil {
		slog.Warn("expired claim sweep failed", "err", err)
	}
}

func (s *Service) newEntry(resourceID string, qty int64, kind model.EntryKind, window *timespan.Timespan, note, reference string) *model.LedgerEntry {
	return &model.LedgerEntry{
		ID:         uuid.New().String(),
		ResourceID: resourceID,
		Quantity:   qty,
		Kind:       kind,
		Status:     model.StatusCompleted,
		Window:     window,
		CreatedAt:  s.now().UTC(),
		Note:       note,
		Reference:  reference,
	}
}
