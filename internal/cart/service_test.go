package cart_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rentkit/reservation-engine/internal/allocation"
	"github.com/rentkit/reservation-engine/internal/cart"
	"github.com/rentkit/reservation-engine/internal/ledger"
	"github.com/rentkit/reservation-engine/internal/model"
	"github.com/rentkit/reservation-engine/internal/store"
	"github.com/rentkit/reservation-engine/internal/timespan"
)

var base = time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

func day(n int) time.Time {
	return base.AddDate(0, 0, n)
}

func span(fromDay, untilDay int) *timespan.Timespan {
	ts := timespan.New(day(fromDay), day(untilDay))
	return &ts
}

func cents(v int64) *model.Cents {
	c := model.Cents(v)
	return &c
}

type env struct {
	carts  *cart.Service
	ledger *ledger.Service
	store  *store.MemoryStore
}

func newTestEnv(t *testing.T) *env {
	t.Helper()
	ms := store.NewMemoryStore()
	now := func() time.Time { return day(0) }
	lg := ledger.NewService(ms, now)
	engine := allocation.NewEngine(ms)
	return &env{
		carts:  cart.NewService(ms, engine, lg, now),
		ledger: lg,
		store:  ms,
	}
}

func (e *env) seedResource(t *testing.T, id string, price *model.Cents, stock int64, timeBound bool) {
	t.Helper()
	r := &model.Resource{
		ID:              id,
		Name:            "test " + id,
		ManagesOwnStock: stock >= 0,
		TimeBound:       timeBound,
		Price:           price,
		CreatedAt:       day(0),
	}
	if err := e.store.CreateResource(context.Background(), r); err != nil {
		t.Fatalf("failed to seed resource: %v", err)
	}
	if stock > 0 {
		if _, err := e.ledger.Increase(context.Background(), id, stock, nil); err != nil {
			t.Fatalf("failed to seed stock: %v", err)
		}
	}
}

// seedBoatPool seeds the three-member pool fixture: member prices 300,
// nil (pool fallback 500) and 1000, two units of stock each.
func (e *env) seedBoatPool(t *testing.T, strategy model.PricingStrategy) *model.Pool {
	t.Helper()
	e.seedResource(t, "cheap", cents(300), 2, true)
	e.seedResource(t, "fallback", nil, 2, true)
	e.seedResource(t, "premium", cents(1000), 2, true)

	pool := &model.Pool{
		ID:        "boats",
		Name:      "boat pool",
		MemberIDs: []string{"cheap", "fallback", "premium"},
		Strategy:  strategy,
		OwnPrice:  cents(500),
		CreatedAt: day(0),
	}
	if err := e.store.CreatePool(context.Background(), pool); err != nil {
		t.Fatalf("failed to seed pool: %v", err)
	}
	return pool
}

// seedVenuePool seeds a pool that carries 3 units of its own stock over
// two members that do not manage theirs.
func (e *env) seedVenuePool(t *testing.T) *model.Pool {
	t.Helper()
	e.seedResource(t, "seat-a", cents(400), -1, false)
	e.seedResource(t, "seat-b", cents(400), -1, false)

	pool := &model.Pool{
		ID:              "venue",
		Name:            "venue pool",
		MemberIDs:       []string{"seat-a", "seat-b"},
		Strategy:        model.StrategyLowest,
		ManagesOwnStock: true,
		CreatedAt:       day(0),
	}
	if err := e.store.CreatePool(context.Background(), pool); err != nil {
		t.Fatalf("failed to seed pool: %v", err)
	}
	if _, err := e.ledger.Increase(context.Background(), "venue", 3, nil); err != nil {
		t.Fatalf("failed to seed pool stock: %v", err)
	}
	return pool
}

func (e *env) entries(t *testing.T, cartID string) []model.CartEntry {
	t.Helper()
	entries, err := e.store.CartEntries(context.Background(), cartID)
	if err != nil {
		t.Fatalf("failed to load cart entries: %v", err)
	}
	return entries
}

func totalQuantity(entries []model.CartEntry) int64 {
	var total int64
	for _, e := range entries {
		total += e.Quantity
	}
	return total
}

// --- Add ---

func TestAdd_PoolAllocatesCheapestFirst(t *testing.T) {
	e := newTestEnv(t)
	e.seedBoatPool(t, model.StrategyLowest)

	entries, err := e.carts.Add(context.Background(), "c1", "boats", 3, span(5, 10), nil)
	if err != nil {
		t.Fatalf("add failed: %v", err)
	}
	// 300x2 + 500x1, folded into one entry per (resource, price).
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	if entries[0].AssignedResourceID != "cheap" || entries[0].Quantity != 2 || *entries[0].UnitPrice != 300 {
		t.Errorf("first entry = %s x%d @%v, want cheap x2 @300",
			entries[0].AssignedResourceID, entries[0].Quantity, entries[0].UnitPrice)
	}
	if entries[1].AssignedResourceID != "fallback" || entries[1].Quantity != 1 || *entries[1].UnitPrice != 500 {
		t.Errorf("second entry = %s x%d @%v, want fallback x1 @500",
			entries[1].AssignedResourceID, entries[1].Quantity, entries[1].UnitPrice)
	}
}

func TestAdd_SecondAddMergesAndContinuesRanking(t *testing.T) {
	e := newTestEnv(t)
	e.seedBoatPool(t, model.StrategyLowest)

	if _, err := e.carts.Add(context.Background(), "c1", "boats", 2, span(5, 10), nil); err != nil {
		t.Fatalf("first add failed: %v", err)
	}
	// Cheap is fully drafted by this cart; the next add starts at 500.
	entries, err := e.carts.Add(context.Background(), "c1", "boats", 2, span(5, 10), nil)
	if err != nil {
		t.Fatalf("second add failed: %v", err)
	}
	if len(entries) != 1 || entries[0].AssignedResourceID != "fallback" {
		t.Fatalf("second add should land on fallback, got %+v", entries)
	}

	all := e.entries(t, "c1")
	if len(all) != 2 || totalQuantity(all) != 4 {
		t.Errorf("cart should hold 2 merged entries with 4 units, got %d entries, %d units",
			len(all), totalQuantity(all))
	}
}

func TestAdd_RejectsInvalidWindow(t *testing.T) {
	e := newTestEnv(t)
	e.seedBoatPool(t, model.StrategyLowest)

	// from in the past relative to the fixed clock at day 0.
	_, err := e.carts.Add(context.Background(), "c1", "boats", 1, span(-2, 5), nil)
	if !errors.Is(err, timespan.ErrInvalidTimespan) {
		t.Errorf("past window should fail validation, got %v", err)
	}

	from := day(5)
	_, err = e.carts.Add(context.Background(), "c1", "boats", 1, &timespan.Timespan{From: &from}, nil)
	if !errors.Is(err, timespan.ErrInvalidTimespan) {
		t.Errorf("half-specified window should fail validation, got %v", err)
	}
}

func TestAdd_UnknownTarget(t *testing.T) {
	e := newTestEnv(t)
	_, err := e.carts.Add(context.Background(), "c1", "nothing", 1, nil, nil)
	if !errors.Is(err, cart.ErrUnknownTarget) {
		t.Errorf("expected ErrUnknownTarget, got %v", err)
	}
}

func TestAdd_BareResource(t *testing.T) {
	e := newTestEnv(t)
	e.seedResource(t, "kayak", cents(300), 2, true)

	entries, err := e.carts.Add(context.Background(), "c1", "kayak", 2, span(5, 10), nil)
	if err != nil {
		t.Fatalf("add failed: %v", err)
	}
	if len(entries) != 1 || entries[0].ResourceID != "kayak" || entries[0].Quantity != 2 {
		t.Fatalf("unexpected entries: %+v", entries)
	}

	// Capacity is already fully drafted by this cart.
	_, err = e.carts.Add(context.Background(), "c1", "kayak", 1, span(5, 10), nil)
	if !errors.Is(err, ledger.ErrInsufficientStock) {
		t.Errorf("overdraft should fail with ErrInsufficientStock, got %v", err)
	}
}

func TestAdd_BareResourceWithoutPrice(t *testing.T) {
	e := newTestEnv(t)
	e.seedResource(t, "unpriced", nil, 5, true)

	_, err := e.carts.Add(context.Background(), "c1", "unpriced", 1, span(5, 10), nil)
	if !errors.Is(err, allocation.ErrNoPriceAvailable) {
		t.Errorf("expected ErrNoPriceAvailable, got %v", err)
	}
}

func TestAdd_ParametersSplitEntries(t *testing.T) {
	e := newTestEnv(t)
	e.seedResource(t, "kayak", cents(300), 4, true)

	red := map[string]string{"color": "red"}
	blue := map[string]string{"color": "blue"}
	if _, err := e.carts.Add(context.Background(), "c1", "kayak", 1, span(5, 10), red); err != nil {
		t.Fatalf("add failed: %v", err)
	}
	if _, err := e.carts.Add(context.Background(), "c1", "kayak", 1, span(5, 10), blue); err != nil {
		t.Fatalf("add failed: %v", err)
	}
	if _, err := e.carts.Add(context.Background(), "c1", "kayak", 1, span(5, 10), red); err != nil {
		t.Fatalf("add failed: %v", err)
	}

	all := e.entries(t, "c1")
	if len(all) != 2 {
		t.Fatalf("distinct parameters must not merge: got %d entries, want 2", len(all))
	}
}

func TestAdd_PoolOwnStockLimitsAcrossAdds(t *testing.T) {
	e := newTestEnv(t)
	e.seedVenuePool(t)

	// The first add drafts the whole pool-level stock.
	if _, err := e.carts.Add(context.Background(), "c1", "venue", 3, span(5, 10), nil); err != nil {
		t.Fatalf("add within pool cap failed: %v", err)
	}

	// The members are unbounded, so only the pool ledger can stop the
	// same cart from drafting past the 3 units it carries.
	_, err := e.carts.Add(context.Background(), "c1", "venue", 3, span(5, 10), nil)
	if !errors.Is(err, allocation.ErrNotEnoughStock) {
		t.Fatalf("second add must exceed the pool cap, got %v", err)
	}
	if _, err := e.carts.Add(context.Background(), "c1", "venue", 1, span(5, 10), nil); !errors.Is(err, allocation.ErrNotEnoughStock) {
		t.Errorf("even one more unit must exceed the pool cap, got %v", err)
	}

	if total := totalQuantity(e.entries(t, "c1")); total != 3 {
		t.Errorf("cart should hold exactly the pool's 3 units, got %d", total)
	}
}

// --- Remove ---

func TestRemove_MostExpensiveFirst(t *testing.T) {
	e := newTestEnv(t)
	e.seedBoatPool(t, model.StrategyLowest)

	if _, err := e.carts.Add(context.Background(), "c1", "boats", 6, span(5, 10), nil); err != nil {
		t.Fatalf("add failed: %v", err)
	}

	touched, err := e.carts.Remove(context.Background(), "c1", "boats", 3, nil)
	if err != nil {
		t.Fatalf("remove failed: %v", err)
	}
	if len(touched) != 2 {
		t.Fatalf("expected 2 touched entries, got %d", len(touched))
	}

	remaining := e.entries(t, "c1")
	if totalQuantity(remaining) != 3 {
		t.Fatalf("3 units should remain, got %d", totalQuantity(remaining))
	}
	for _, entry := range remaining {
		if *entry.UnitPrice == 1000 {
			t.Error("premium units should have been removed first")
		}
	}
}

func TestRemove_MissingMatchIsNoOp(t *testing.T) {
	e := newTestEnv(t)
	e.seedBoatPool(t, model.StrategyLowest)

	touched, err := e.carts.Remove(context.Background(), "c1", "boats", 3, nil)
	if err != nil {
		t.Fatalf("remove of nothing should succeed, got %v", err)
	}
	if len(touched) != 0 {
		t.Errorf("nothing should be touched, got %d entries", len(touched))
	}
}

// --- SetTimespan / reallocation ---

func TestSetTimespan_FullReDerivation(t *testing.T) {
	e := newTestEnv(t)
	e.seedBoatPool(t, model.StrategyLowest)

	// Cheap is claimed out for the first window, so the cart lands on the
	// fallback price.
	if _, err := e.ledger.Claim(context.Background(), "cheap", 2, span(5, 10), "", ""); err != nil {
		t.Fatalf("claim failed: %v", err)
	}
	if _, err := e.carts.Add(context.Background(), "c1", "boats", 2, span(5, 10), nil); err != nil {
		t.Fatalf("add failed: %v", err)
	}
	before := e.entries(t, "c1")
	if before[0].AssignedResourceID != "fallback" {
		t.Fatalf("setup: expected fallback assignment, got %s", before[0].AssignedResourceID)
	}

	// Moving to a window where cheap is free must re-derive, not merely
	// relabel the old assignment.
	after, err := e.carts.SetTimespan(context.Background(), "c1", *span(20, 25), false, true)
	if err != nil {
		t.Fatalf("SetTimespan failed: %v", err)
	}
	if len(after) != 1 || after[0].AssignedResourceID != "cheap" || *after[0].UnitPrice != 300 {
		t.Fatalf("reallocation should pick cheap at 300, got %+v", after)
	}
	if !after[0].Window.Equal(*span(20, 25)) {
		t.Errorf("entry window should follow the cart window, got %s", after[0].Window)
	}
}

func TestSetTimespan_Idempotent(t *testing.T) {
	e := newTestEnv(t)
	e.seedBoatPool(t, model.StrategyLowest)

	if _, err := e.carts.Add(context.Background(), "c1", "boats", 4, nil, nil); err != nil {
		t.Fatalf("add failed: %v", err)
	}

	first, err := e.carts.SetTimespan(context.Background(), "c1", *span(5, 10), false, false)
	if err != nil {
		t.Fatalf("first SetTimespan failed: %v", err)
	}
	second, err := e.carts.SetTimespan(context.Background(), "c1", *span(5, 10), false, false)
	if err != nil {
		t.Fatalf("second SetTimespan failed: %v", err)
	}

	if len(first) != len(second) {
		t.Fatalf("entry count changed across idempotent runs: %d vs %d", len(first), len(second))
	}
	count := func(entries []model.CartEntry) map[string]int64 {
		m := make(map[string]int64)
		for _, e := range entries {
			m[e.AssignedResourceID] += e.Quantity
		}
		return m
	}
	f, s := count(first), count(second)
	for id, q := range f {
		if s[id] != q {
			t.Errorf("assignment %s changed: %d vs %d", id, q, s[id])
		}
	}
}

func TestSetTimespan_OwnWindowKeptUnlessOverwrite(t *testing.T) {
	e := newTestEnv(t)
	e.seedBoatPool(t, model.StrategyLowest)

	// This entry carries its own distinct window.
	if _, err := e.carts.Add(context.Background(), "c1", "boats", 1, span(30, 35), nil); err != nil {
		t.Fatalf("add failed: %v", err)
	}

	if _, err := e.carts.SetTimespan(context.Background(), "c1", *span(5, 10), false, false); err != nil {
		t.Fatalf("SetTimespan failed: %v", err)
	}
	entries := e.entries(t, "c1")
	if !entries[0].Window.Equal(*span(30, 35)) {
		t.Errorf("own window must survive without overwrite, got %s", entries[0].Window)
	}

	if _, err := e.carts.SetTimespan(context.Background(), "c1", *span(5, 10), false, true); err != nil {
		t.Fatalf("SetTimespan with overwrite failed: %v", err)
	}
	entries = e.entries(t, "c1")
	if !entries[0].Window.Equal(*span(5, 10)) {
		t.Errorf("overwrite should replace the own window, got %s", entries[0].Window)
	}
}

func TestSetTimespan_StrictRaisesOnShortage(t *testing.T) {
	e := newTestEnv(t)
	e.seedResource(t, "cheap", cents(300), 2, true)
	pool := &model.Pool{
		ID:        "solo",
		MemberIDs: []string{"cheap"},
		Strategy:  model.StrategyLowest,
		CreatedAt: day(0),
	}
	if err := e.store.CreatePool(context.Background(), pool); err != nil {
		t.Fatalf("failed to seed pool: %v", err)
	}

	if _, err := e.carts.Add(context.Background(), "c1", "solo", 2, span(5, 10), nil); err != nil {
		t.Fatalf("add failed: %v", err)
	}
	if _, err := e.ledger.Claim(context.Background(), "cheap", 2, span(20, 25), "", ""); err != nil {
		t.Fatalf("claim failed: %v", err)
	}

	_, err := e.carts.SetTimespan(context.Background(), "c1", *span(20, 25), false, true)
	if !errors.Is(err, cart.ErrNotEnoughAvailableInTimespan) {
		t.Errorf("expected ErrNotEnoughAvailableInTimespan, got %v", err)
	}
}

func TestSetTimespan_ValidateMarksUnavailable(t *testing.T) {
	e := newTestEnv(t)
	e.seedResource(t, "cheap", cents(300), 2, true)
	e.seedResource(t, "kayak", cents(400), 5, true)
	pool := &model.Pool{
		ID:        "solo",
		MemberIDs: []string{"cheap"},
		Strategy:  model.StrategyLowest,
		CreatedAt: day(0),
	}
	if err := e.store.CreatePool(context.Background(), pool); err != nil {
		t.Fatalf("failed to seed pool: %v", err)
	}

	if _, err := e.carts.Add(context.Background(), "c1", "solo", 2, span(5, 10), nil); err != nil {
		t.Fatalf("add failed: %v", err)
	}
	if _, err := e.carts.Add(context.Background(), "c1", "kayak", 1, span(5, 10), nil); err != nil {
		t.Fatalf("add failed: %v", err)
	}
	if _, err := e.ledger.Claim(context.Background(), "cheap", 2, span(20, 25), "", ""); err != nil {
		t.Fatalf("claim failed: %v", err)
	}

	entries, err := e.carts.SetTimespan(context.Background(), "c1", *span(20, 25), true, true)
	if err != nil {
		t.Fatalf("SetTimespan with validate should not raise, got %v", err)
	}

	var unavailable, healthy int
	for _, entry := range entries {
		if entry.Unavailable {
			unavailable++
			if entry.UnitPrice != nil {
				t.Error("unavailable entry should have its price cleared")
			}
		} else {
			healthy++
		}
	}
	if unavailable != 1 || healthy != 1 {
		t.Errorf("one entry unavailable, one untouched; got %d/%d", unavailable, healthy)
	}

	ready, err := e.carts.Ready(context.Background(), "c1")
	if err != nil {
		t.Fatalf("Ready failed: %v", err)
	}
	if ready {
		t.Error("cart with an unavailable entry must not be ready")
	}
}

func TestSetTimespan_StrictFailureLeavesCartUntouched(t *testing.T) {
	e := newTestEnv(t)
	e.seedResource(t, "kayak", cents(400), 5, true)
	e.seedResource(t, "cheap", cents(300), 2, true)
	pool := &model.Pool{
		ID:        "solo",
		MemberIDs: []string{"cheap"},
		Strategy:  model.StrategyLowest,
		CreatedAt: day(0),
	}
	if err := e.store.CreatePool(context.Background(), pool); err != nil {
		t.Fatalf("failed to seed pool: %v", err)
	}

	if _, err := e.carts.Add(context.Background(), "c1", "kayak", 1, span(5, 10), nil); err != nil {
		t.Fatalf("add failed: %v", err)
	}
	if _, err := e.carts.Add(context.Background(), "c1", "solo", 2, span(5, 10), nil); err != nil {
		t.Fatalf("add failed: %v", err)
	}
	if _, err := e.ledger.Claim(context.Background(), "cheap", 2, span(20, 25), "", ""); err != nil {
		t.Fatalf("claim failed: %v", err)
	}

	// The kayak group would succeed for the new window; the pool group
	// cannot. The strict failure must not leave the kayak entry — or the
	// cart window — already moved.
	_, err := e.carts.SetTimespan(context.Background(), "c1", *span(20, 25), false, true)
	if !errors.Is(err, cart.ErrNotEnoughAvailableInTimespan) {
		t.Fatalf("expected ErrNotEnoughAvailableInTimespan, got %v", err)
	}

	c, err := e.store.GetCart(context.Background(), "c1")
	if err != nil {
		t.Fatalf("GetCart failed: %v", err)
	}
	if c.Window != nil {
		t.Errorf("failed strict change must not store the window, got %s", c.Window)
	}
	for _, entry := range e.entries(t, "c1") {
		if !entry.Window.Equal(*span(5, 10)) {
			t.Errorf("entry %s window moved to %s despite the failure", entry.AssignedResourceID, entry.Window)
		}
		if entry.UnitPrice == nil || entry.Unavailable {
			t.Errorf("entry %s lost its price despite the failure", entry.AssignedResourceID)
		}
	}
}

func TestSetTimespan_StoresWindowVerbatim(t *testing.T) {
	e := newTestEnv(t)

	// Cart-level storage skips the strict validator: an inverted window
	// is stored as-is and only rejected at booking points.
	inverted := timespan.New(day(10), day(5))
	if _, err := e.carts.SetTimespan(context.Background(), "c1", inverted, false, false); err != nil {
		t.Fatalf("cart-level window storage must not validate, got %v", err)
	}

	c, err := e.store.GetCart(context.Background(), "c1")
	if err != nil {
		t.Fatalf("GetCart failed: %v", err)
	}
	if c.Window == nil || !c.Window.Equal(inverted) {
		t.Errorf("window should be stored verbatim, got %v", c.Window)
	}
}

// --- Readiness ---

func TestReadiness_TimeBoundNeedsWindow(t *testing.T) {
	e := newTestEnv(t)
	e.seedResource(t, "kayak", cents(300), 2, true)

	if _, err := e.carts.Add(context.Background(), "c1", "kayak", 1, nil, nil); err != nil {
		t.Fatalf("add failed: %v", err)
	}

	entries := e.entries(t, "c1")
	missing, err := e.carts.RequiredAdjustments(context.Background(), &entries[0])
	if err != nil {
		t.Fatalf("RequiredAdjustments failed: %v", err)
	}
	if len(missing) != 2 || missing[0] != "from" || missing[1] != "until" {
		t.Errorf("missing = %v, want [from until]", missing)
	}
	if ready, _ := e.carts.Ready(context.Background(), "c1"); ready {
		t.Error("time-bound entry without window must not be ready")
	}

	if _, err := e.carts.SetTimespan(context.Background(), "c1", *span(5, 10), false, false); err != nil {
		t.Fatalf("SetTimespan failed: %v", err)
	}
	if ready, _ := e.carts.Ready(context.Background(), "c1"); !ready {
		t.Error("cart should be ready after a window is supplied")
	}
}

func TestReadiness_NonTimeBoundNeedsNoWindow(t *testing.T) {
	e := newTestEnv(t)
	e.seedResource(t, "license", cents(900), -1, false)

	if _, err := e.carts.Add(context.Background(), "c1", "license", 1, nil, nil); err != nil {
		t.Fatalf("add failed: %v", err)
	}
	if ready, _ := e.carts.Ready(context.Background(), "c1"); !ready {
		t.Error("non-time-bound entry should be ready without a window")
	}
}

// --- Confirm / Cancel ---

func TestConfirm_IssuesClaimsAndConsumesCart(t *testing.T) {
	e := newTestEnv(t)
	e.seedResource(t, "kayak", cents(300), 2, true)

	if _, err := e.carts.Add(context.Background(), "c1", "kayak", 2, span(5, 10), nil); err != nil {
		t.Fatalf("add failed: %v", err)
	}

	claims, err := e.carts.Confirm(context.Background(), "c1")
	if err != nil {
		t.Fatalf("confirm failed: %v", err)
	}
	if len(claims) != 1 || claims[0].ResourceID != "kayak" || claims[0].Quantity != 2 {
		t.Fatalf("unexpected claims: %+v", claims)
	}

	if remaining := e.entries(t, "c1"); len(remaining) != 0 {
		t.Errorf("confirm should consume the cart, %d entries remain", len(remaining))
	}

	inWindow, err := e.ledger.AvailableOn(context.Background(), "kayak", day(7))
	if err != nil {
		t.Fatalf("AvailableOn failed: %v", err)
	}
	if inWindow != 0 {
		t.Errorf("claimed stock should be gone inside the window, got %d", inWindow)
	}
	after, err := e.ledger.AvailableOn(context.Background(), "kayak", day(12))
	if err != nil {
		t.Fatalf("AvailableOn failed: %v", err)
	}
	if after != 2 {
		t.Errorf("stock should return past the window, got %d", after)
	}
}

func TestConfirm_NotReady(t *testing.T) {
	e := newTestEnv(t)
	e.seedResource(t, "kayak", cents(300), 2, true)

	if _, err := e.carts.Add(context.Background(), "c1", "kayak", 1, nil, nil); err != nil {
		t.Fatalf("add failed: %v", err)
	}
	_, err := e.carts.Confirm(context.Background(), "c1")
	if !errors.Is(err, cart.ErrCartNotReady) {
		t.Errorf("expected ErrCartNotReady, got %v", err)
	}
}

func TestConfirm_PartialFailureRollsBack(t *testing.T) {
	e := newTestEnv(t)
	e.seedResource(t, "alpha", cents(300), 1, true)
	e.seedResource(t, "beta", cents(400), 1, true)

	if _, err := e.carts.Add(context.Background(), "c1", "alpha", 1, span(5, 10), nil); err != nil {
		t.Fatalf("add failed: %v", err)
	}
	if _, err := e.carts.Add(context.Background(), "c1", "beta", 1, span(5, 10), nil); err != nil {
		t.Fatalf("add failed: %v", err)
	}

	// Someone else takes beta's unit between drafting and checkout.
	if _, err := e.ledger.Claim(context.Background(), "beta", 1, span(5, 10), "", "rival"); err != nil {
		t.Fatalf("rival claim failed: %v", err)
	}

	_, err := e.carts.Confirm(context.Background(), "c1")
	if !errors.Is(err, ledger.ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}

	// Alpha's claim was rolled back; the window is fully available again.
	available, err := e.ledger.AvailableOn(context.Background(), "alpha", day(7))
	if err != nil {
		t.Fatalf("AvailableOn failed: %v", err)
	}
	if available != 1 {
		t.Errorf("rolled-back claim should restore alpha's stock, got %d", available)
	}

	// The cart survives for the caller to retry or adjust.
	if remaining := e.entries(t, "c1"); len(remaining) != 2 {
		t.Errorf("cart should survive a failed confirm, got %d entries", len(remaining))
	}
}

func TestConfirm_PoolStockClaimsPoolLedger(t *testing.T) {
	e := newTestEnv(t)
	e.seedVenuePool(t)

	if _, err := e.carts.Add(context.Background(), "c1", "venue", 2, span(5, 10), nil); err != nil {
		t.Fatalf("add failed: %v", err)
	}
	claims, err := e.carts.Confirm(context.Background(), "c1")
	if err != nil {
		t.Fatalf("confirm failed: %v", err)
	}
	if len(claims) != 1 || claims[0].ResourceID != "venue" {
		t.Fatalf("pool-carried stock must be claimed on the pool ledger, got %+v", claims)
	}

	remaining, err := e.ledger.AvailableOnRange(context.Background(), "venue", *span(5, 10))
	if err != nil {
		t.Fatalf("AvailableOnRange failed: %v", err)
	}
	if remaining != 1 {
		t.Errorf("pool ledger should hold 1 unit after checkout, got %d", remaining)
	}

	// A fresh cart sees the deduction and cannot draft past it.
	if _, err := e.carts.Add(context.Background(), "c2", "venue", 2, span(5, 10), nil); !errors.Is(err, allocation.ErrNotEnoughStock) {
		t.Errorf("second cart must not exceed the remaining pool unit, got %v", err)
	}
	if _, err := e.carts.Add(context.Background(), "c2", "venue", 1, span(5, 10), nil); err != nil {
		t.Errorf("the remaining pool unit should still be draftable: %v", err)
	}
}

func TestCancel_RestoresStockInsideWindow(t *testing.T) {
	e := newTestEnv(t)
	e.seedResource(t, "kayak", cents(300), 2, true)

	if _, err := e.carts.Add(context.Background(), "c1", "kayak", 2, span(5, 10), nil); err != nil {
		t.Fatalf("add failed: %v", err)
	}
	claims, err := e.carts.Confirm(context.Background(), "c1")
	if err != nil {
		t.Fatalf("confirm failed: %v", err)
	}

	if err := e.carts.Cancel(context.Background(), claims); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	available, err := e.ledger.AvailableOn(context.Background(), "kayak", day(7))
	if err != nil {
		t.Fatalf("AvailableOn failed: %v", err)
	}
	if available != 2 {
		t.Errorf("cancel should restore stock inside the window, got %d", available)
	}

	// Cancelling again is harmless.
	if err := e.carts.Cancel(context.Background(), claims); err != nil {
		t.Errorf("second cancel should be a no-op, got %v", err)
	}
	available, _ = e.ledger.AvailableOn(context.Background(), "kayak", day(7))
	if available != 2 {
		t.Errorf("double cancel must not inflate stock, got %d", available)
	}
}
