// Package allocation implements the greedy pool-allocation engine: given
// a pool, a window, and the draft usage already held by the current cart,
// it selects the next cheapest (or otherwise ranked) available resource
// and its effective price.
//
// Allocation is a pure decision over a snapshot: all member availabilities
// are read up front, then assignments are decided against that snapshot,
// so a single call never assigns against capacity it observed mid-way.
// Reallocation after a window change is always a full re-derivation, so
// greedy per-call ranking needs no global optimization.
package allocation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rentkit/reservation-engine/internal/ledger"
	"github.com/rentkit/reservation-engine/internal/metrics"
	"github.com/rentkit/reservation-engine/internal/model"
	"github.com/rentkit/reservation-engine/internal/pricing"
	"github.com/rentkit/reservation-engine/internal/store"
	"github.com/rentkit/reservation-engine/internal/timespan"
)

var (
	// ErrNoPriceAvailable is returned when a pool has no member with both
	// an effective price and remaining capacity. Distinct from running out
	// of stock: it can occur with physical capacity remaining.
	ErrNoPriceAvailable = errors.New("allocation: no member with both price and capacity")

	// ErrNotEnoughStock is the base error for partially satisfiable
	// allocations.
	ErrNotEnoughStock = errors.New("allocation: not enough stock")
)

// NotEnoughStockError reports how many units were actually satisfiable
// when a pool allocation ran out before the requested quantity.
type NotEnoughStockError struct {
	PoolID    string
	Requested int64
	Available int64
}

func (e *NotEnoughStockError) Error() string {
	return fmt.Sprintf("allocation: pool %s can satisfy only %d of %d requested units",
		e.PoolID, e.Available, e.Requested)
}

func (e *NotEnoughStockError) Unwrap() error { return ErrNotEnoughStock }

// Assignment binds one unit to a concrete resource at a resolved price.
type Assignment struct {
	Resource  model.Resource
	UnitPrice model.Cents
}

// DraftUsage maps resource ID to the quantity already drafted against it
// in the current, uncommitted cart for overlapping windows. Draft
// bookkeeping never touches the ledger; it only shrinks what this engine
// may hand out next.
type DraftUsage map[string]int64

// Engine selects resources from pools. It is stateless between calls;
// every decision starts from a fresh store snapshot.
type Engine struct {
	store store.Store
}

// NewEngine creates an allocation engine over the given store.
func NewEngine(st store.Store) *Engine {
	return &Engine{store: st}
}

// snapshot reads every member's availability for the window (or the
// instant at, when no window is given) before any decision is made, and
// resolves effective prices. Members lacking both an own and a fallback
// price are excluded. The second return is the pool-level capacity cap,
// ledger.Unbounded unless the pool manages its own stock and no member
// manages theirs.
func (e *Engine) snapshot(ctx context.Context, pool *model.Pool, window *timespan.Timespan, at time.Time) ([]pricing.Candidate, int64, error) {
	memberManages := false
	candidates := make([]pricing.Candidate, 0, len(pool.MemberIDs))

	for _, id := range pool.MemberIDs {
		r, err := e.store.GetResource(ctx, id)
		if err != nil {
			return nil, 0, fmt.Errorf("snapshot pool %s: %w", pool.ID, err)
		}
		if r.ManagesOwnStock {
			memberManages = true
		}

		price := pricing.Effective(*r, *pool)
		if price == nil {
			continue
		}

		available := ledger.Unbounded
		if r.ManagesOwnStock {
			available, err = e.availability(ctx, r.ID, window, at)
			if err != nil {
				return nil, 0, err
			}
		}

		candidates = append(candidates, pricing.Candidate{
			Resource:  *r,
			Price:     *price,
			Available: available,
		})
	}

	// Pool-level stock is ignored whenever at least one member manages
	// its own stock.
	poolCap := ledger.Unbounded
	if pool.ManagesOwnStock && !memberManages {
		var err error
		poolCap, err = e.availability(ctx, pool.ID, window, at)
		if err != nil {
			return nil, 0, err
		}
	}

	return candidates, poolCap, nil
}

func (e *Engine) availability(ctx context.Context, ledgerID string, window *timespan.Timespan, at time.Time) (int64, error) {
	entries, err := e.store.LedgerEntriesByResource(ctx, ledgerID)
	if err != nil {
		return 0, err
	}
	if window != nil {
		return ledger.AvailableDuring(entries, *window), nil
	}
	return ledger.AvailableAt(entries, at), nil
}

// draftedPoolCap shrinks the pool-level cap by the cart's drafts against
// the pool's members. The cap is only finite when no member manages its
// own stock, so every drafted unit in the pool draws on the pool ledger.
func draftedPoolCap(poolCap int64, pool *model.Pool, drafts DraftUsage) int64 {
	if poolCap == ledger.Unbounded || len(drafts) == 0 {
		return poolCap
	}
	for _, id := range pool.MemberIDs {
		poolCap -= drafts[id]
	}
	return poolCap
}

// applyDrafts shrinks snapshot capacities by what the current cart has
// already drafted, then drops exhausted members and ranks the remainder.
func applyDrafts(candidates []pricing.Candidate, drafts DraftUsage, strategy model.PricingStrategy) []pricing.Candidate {
	remaining := candidates[:0]
	for _, c := range candidates {
		if used := drafts[c.Resource.ID]; used > 0 && c.Available != ledger.Unbounded {
			c.Available -= used
		}
		if c.Available > 0 {
			remaining = append(remaining, c)
		}
	}
	pricing.Rank(remaining, strategy)
	return remaining
}

// NextAvailable returns the next resource the pool would hand out for the
// window under its strategy, with its effective price, or nil when no
// member has both a price and remaining capacity.
func (e *Engine) NextAvailable(ctx context.Context, pool *model.Pool, window *timespan.Timespan, at time.Time, drafts DraftUsage) (*Assignment, error) {
	candidates, poolCap, err := e.snapshot(ctx, pool, window, at)
	if err != nil {
		return nil, err
	}
	if draftedPoolCap(poolCap, pool, drafts) <= 0 {
		return nil, nil
	}
	ranked := applyDrafts(candidates, drafts, pool.Strategy)
	if len(ranked) == 0 {
		return nil, nil
	}
	return &Assignment{Resource: ranked[0].Resource, UnitPrice: ranked[0].Price}, nil
}

// Allocate satisfies quantity units from the pool for the window, one
// unit at a time in strategy order, against a single availability
// snapshot. It fails with ErrNoPriceAvailable when the pool has zero
// priced, available members from the start — including when every priced
// member is fully drafted out, since then no priced capacity remains for
// the next unit — and with NotEnoughStockError, reporting the
// satisfiable unit count, when priced members remain but capacity runs
// out early.
func (e *Engine) Allocate(ctx context.Context, pool *model.Pool, quantity int64, window *timespan.Timespan, at time.Time, drafts DraftUsage) ([]Assignment, error) {
	if quantity <= 0 {
		return nil, fmt.Errorf("allocation: quantity must be positive, got %d", quantity)
	}

	candidates, poolCap, err := e.snapshot(ctx, pool, window, at)
	if err != nil {
		return nil, err
	}
	poolCap = draftedPoolCap(poolCap, pool, drafts)
	ranked := applyDrafts(candidates, drafts, pool.Strategy)
	if len(ranked) == 0 {
		return nil, ErrNoPriceAvailable
	}
	if poolCap <= 0 {
		return nil, &NotEnoughStockError{PoolID: pool.ID, Requested: quantity, Available: 0}
	}

	assignments := make([]Assignment, 0, quantity)
	for _, c := range ranked {
		for c.Available > 0 && int64(len(assignments)) < quantity && poolCap > 0 {
			assignments = append(assignments, Assignment{Resource: c.Resource, UnitPrice: c.Price})
			c.Available--
			if poolCap != ledger.Unbounded {
				poolCap--
			}
		}
	}

	if int64(len(assignments)) < quantity {
		return nil, &NotEnoughStockError{
			PoolID:    pool.ID,
			Requested: quantity,
			Available: int64(len(assignments)),
		}
	}

	metrics.AllocationsTotal.WithLabelValues(string(pool.Strategy)).Inc()
	return assignments, nil
}

// CurrentPrice quotes the next unit's price for the pool under its own
// strategy and the given cart context, or nil once the pool has no
// remaining priced capacity for the window. Under Average the quote is
// the mean of all effective member prices, which can differ from any
// per-assignment price.
func (e *Engine) CurrentPrice(ctx context.Context, pool *model.Pool, window *timespan.Timespan, at time.Time, drafts DraftUsage) (*model.Cents, error) {
	candidates, poolCap, err := e.snapshot(ctx, pool, window, at)
	if err != nil {
		return nil, err
	}
	if draftedPoolCap(poolCap, pool, drafts) <= 0 {
		return nil, nil
	}

	if pool.Strategy == model.StrategyAverage {
		// A caller must still be able to distinguish "no more stock"
		// from a quoted mean.
		if len(applyDrafts(append([]pricing.Candidate(nil), candidates...), drafts, pool.Strategy)) == 0 {
			return nil, nil
		}
		prices := make([]model.Cents, 0, len(candidates))
		for _, c := range candidates {
			prices = append(prices, c.Price)
		}
		mean, err := pricing.Mean(prices)
		if err != nil {
			return nil, nil
		}
		return &mean, nil
	}

	ranked := applyDrafts(candidates, drafts, pool.Strategy)
	if len(ranked) == 0 {
		return nil, nil
	}
	price := ranked[0].Price
	return &price, nil
}

// LowestAvailablePrice quotes the cheapest remaining unit regardless of
// the pool's own strategy, or nil with no remaining priced capacity.
func (e *Engine) LowestAvailablePrice(ctx context.Context, pool *model.Pool, window *timespan.Timespan, at time.Time, drafts DraftUsage) (*model.Cents, error) {
	return e.extremePrice(ctx, pool, window, at, drafts, model.StrategyLowest)
}

// HighestAvailablePrice quotes the most expensive remaining unit, or nil
// with no remaining priced capacity.
func (e *Engine) HighestAvailablePrice(ctx context.Context, pool *model.Pool, window *timespan.Timespan, at time.Time, drafts DraftUsage) (*model.Cents, error) {
	return e.extremePrice(ctx, pool, window, at, drafts, model.StrategyHighest)
}

func (e *Engine) extremePrice(ctx context.Context, pool *model.Pool, window *timespan.Timespan, at time.Time, drafts DraftUsage, order model.PricingStrategy) (*model.Cents, error) {
	candidates, poolCap, err := e.snapshot(ctx, pool, window, at)
	if err != nil {
		return nil, err
	}
	if draftedPoolCap(poolCap, pool, drafts) <= 0 {
		return nil, nil
	}
	ranked := applyDrafts(candidates, drafts, order)
	if len(ranked) == 0 {
		return nil, nil
	}
	price := ranked[0].Price
	return &price, nil
}
