package ledger_test

import (
	"context"
	"errors"
	"testing"
	"time"

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

// clock is an injectable test clock.
type clock struct{ at time.Time }

func (c *clock) now() time.Time { return c.at }

// newTestEnv creates a ledger service over an in-memory store with a
// fixed clock starting at day 0.
func newTestEnv(t *testing.T) (*ledger.Service, *store.MemoryStore, *clock) {
	t.Helper()
	ms := store.NewMemoryStore()
	clk := &clock{at: day(0)}
	return ledger.NewService(ms, clk.now), ms, clk
}

// seedResource creates a resource directly in the store.
func seedResource(t *testing.T, ms *store.MemoryStore, id string, managesStock bool) *model.Resource {
	t.Helper()
	r := &model.Resource{
		ID:              id,
		Name:            "test " + id,
		ManagesOwnStock: managesStock,
		TimeBound:       true,
		CreatedAt:       day(0),
	}
	if err := ms.CreateResource(context.Background(), r); err != nil {
		t.Fatalf("failed to seed resource: %v", err)
	}
	return r
}

func mustIncrease(t *testing.T, svc *ledger.Service, resourceID string, qty int64) {
	t.Helper()
	if _, err := svc.Increase(context.Background(), resourceID, qty, nil); err != nil {
		t.Fatalf("failed to seed stock: %v", err)
	}
}

func availableOn(t *testing.T, svc *ledger.Service, resourceID string, at time.Time) int64 {
	t.Helper()
	got, err := svc.AvailableOn(context.Background(), resourceID, at)
	if err != nil {
		t.Fatalf("AvailableOn failed: %v", err)
	}
	return got
}

// --- Windowed claim accounting ---

func TestClaim_WindowedReducesOnlyInsideWindow(t *testing.T) {
	svc, ms, _ := newTestEnv(t)
	seedResource(t, ms, "kayak", true)
	mustIncrease(t, svc, "kayak", 2)

	if _, err := svc.Claim(context.Background(), "kayak", 1, span(5, 10), "", ""); err != nil {
		t.Fatalf("claim failed: %v", err)
	}

	if got := availableOn(t, svc, "kayak", day(7)); got != 1 {
		t.Errorf("inside the claim window: available = %d, want 1", got)
	}
	if got := availableOn(t, svc, "kayak", day(3)); got != 2 {
		t.Errorf("before the claim window: available = %d, want 2", got)
	}
	if got := availableOn(t, svc, "kayak", day(12)); got != 2 {
		t.Errorf("after the claim window: available = %d, want 2", got)
	}
}

func TestClaim_RangeQueryCountsOverlap(t *testing.T) {
	svc, ms, _ := newTestEnv(t)
	seedResource(t, ms, "kayak", true)
	mustIncrease(t, svc, "kayak", 2)

	if _, err := svc.Claim(context.Background(), "kayak", 1, span(5, 10), "", ""); err != nil {
		t.Fatalf("claim failed: %v", err)
	}

	got, err := svc.AvailableOnRange(context.Background(), "kayak", *span(8, 15))
	if err != nil {
		t.Fatalf("AvailableOnRange failed: %v", err)
	}
	if got != 1 {
		t.Errorf("overlapping range sees the windowed decrease: available = %d, want 1", got)
	}

	got, err = svc.AvailableOnRange(context.Background(), "kayak", *span(10, 15))
	if err != nil {
		t.Fatalf("AvailableOnRange failed: %v", err)
	}
	if got != 2 {
		t.Errorf("adjacent range does not overlap a half-open window: available = %d, want 2", got)
	}
}

func TestClaim_RejectsOverdraw(t *testing.T) {
	svc, ms, _ := newTestEnv(t)
	seedResource(t, ms, "kayak", true)
	mustIncrease(t, svc, "kayak", 2)

	if _, err := svc.Claim(context.Background(), "kayak", 2, span(5, 10), "", ""); err != nil {
		t.Fatalf("first claim failed: %v", err)
	}

	_, err := svc.Claim(context.Background(), "kayak", 1, span(5, 10), "", "")
	if !errors.Is(err, ledger.ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}
	var stockErr *ledger.InsufficientStockError
	if !errors.As(err, &stockErr) {
		t.Fatalf("expected InsufficientStockError, got %T", err)
	}
	if stockErr.Available != 0 || stockErr.Requested != 1 {
		t.Errorf("error should report requested 1, available 0; got %+v", stockErr)
	}

	// A claim for a disjoint window still succeeds.
	if _, err := svc.Claim(context.Background(), "kayak", 2, span(10, 15), "", ""); err != nil {
		t.Errorf("disjoint window claim should succeed, got %v", err)
	}
}

func TestClaim_PoolLedgerChecked(t *testing.T) {
	svc, ms, _ := newTestEnv(t)

	// The ledger ID names a stock-managed pool, not a resource.
	p := &model.Pool{
		ID:              "venue",
		Name:            "venue",
		Strategy:        model.StrategyLowest,
		ManagesOwnStock: true,
		CreatedAt:       day(0),
	}
	if err := ms.CreatePool(context.Background(), p); err != nil {
		t.Fatalf("failed to seed pool: %v", err)
	}
	mustIncrease(t, svc, "venue", 2)

	if _, err := svc.Claim(context.Background(), "venue", 2, span(5, 10), "", ""); err != nil {
		t.Fatalf("pool ledger claim failed: %v", err)
	}
	_, err := svc.Claim(context.Background(), "venue", 1, span(5, 10), "", "")
	if !errors.Is(err, ledger.ErrInsufficientStock) {
		t.Errorf("pool ledger overdraw should be rejected, got %v", err)
	}

	// An unknown ledger ID is neither resource nor pool.
	if _, err := svc.Claim(context.Background(), "ghost", 1, span(5, 10), "", ""); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("unknown ledger should fail with ErrNotFound, got %v", err)
	}
}

func TestDecrease_PermanentAndChecked(t *testing.T) {
	svc, ms, _ := newTestEnv(t)
	seedResource(t, ms, "kayak", true)
	mustIncrease(t, svc, "kayak", 3)

	if _, err := svc.Decrease(context.Background(), "kayak", 2); err != nil {
		t.Fatalf("decrease failed: %v", err)
	}
	if got := availableOn(t, svc, "kayak", day(100)); got != 1 {
		t.Errorf("unwindowed decrease is permanent: available = %d, want 1", got)
	}

	if _, err := svc.Decrease(context.Background(), "kayak", 2); !errors.Is(err, ledger.ErrInsufficientStock) {
		t.Errorf("overdraw should fail with ErrInsufficientStock, got %v", err)
	}
}

func TestAvailableStock_UnboundedWithoutStockManagement(t *testing.T) {
	svc, ms, _ := newTestEnv(t)
	seedResource(t, ms, "license", false)

	got, err := svc.AvailableStock(context.Background(), "license", day(0))
	if err != nil {
		t.Fatalf("AvailableStock failed: %v", err)
	}
	if got != ledger.Unbounded {
		t.Errorf("non-stock-managed resource should report Unbounded, got %d", got)
	}

	// Claims against it always succeed, no ledger check.
	if _, err := svc.Claim(context.Background(), "license", 1000, span(5, 10), "", ""); err != nil {
		t.Errorf("claim against unbounded resource should succeed, got %v", err)
	}
}

// --- Claim lifecycle ---

func TestRelease_FlipsMarkerWithoutRestoringStock(t *testing.T) {
	svc, ms, _ := newTestEnv(t)
	seedResource(t, ms, "kayak", true)
	mustIncrease(t, svc, "kayak", 2)

	claim, err := svc.Claim(context.Background(), "kayak", 1, span(5, 10), "", "order-1")
	if err != nil {
		t.Fatalf("claim failed: %v", err)
	}
	if claim.Reference != "order-1" {
		t.Errorf("claim should carry the supplied reference, got %q", claim.Reference)
	}

	released, err := svc.Release(context.Background(), "order-1")
	if err != nil || !released {
		t.Fatalf("release = (%v, %v), want (true, nil)", released, err)
	}

	// The decrease stays: release settles the hold, it is not a refund.
	if got := availableOn(t, svc, "kayak", day(7)); got != 1 {
		t.Errorf("release must not restore stock inside the window: available = %d, want 1", got)
	}

	claimed, err := svc.ClaimedStock(context.Background(), "kayak", day(7))
	if err != nil {
		t.Fatalf("ClaimedStock failed: %v", err)
	}
	if claimed != 0 {
		t.Errorf("released claim should no longer count as claimed, got %d", claimed)
	}
}

func TestRelease_Idempotent(t *testing.T) {
	svc, ms, _ := newTestEnv(t)
	seedResource(t, ms, "kayak", true)
	mustIncrease(t, svc, "kayak", 1)

	if _, err := svc.Claim(context.Background(), "kayak", 1, span(5, 10), "", "order-1"); err != nil {
		t.Fatalf("claim failed: %v", err)
	}

	if released, err := svc.Release(context.Background(), "order-1"); err != nil || !released {
		t.Fatalf("first release = (%v, %v), want (true, nil)", released, err)
	}
	if released, err := svc.Release(context.Background(), "order-1"); err != nil || released {
		t.Fatalf("second release = (%v, %v), want (false, nil)", released, err)
	}
	if released, err := svc.Release(context.Background(), "never-existed"); err != nil || released {
		t.Fatalf("unknown reference = (%v, %v), want (false, nil)", released, err)
	}
}

func TestReturn_RestoresStockInsideWindow(t *testing.T) {
	svc, ms, _ := newTestEnv(t)
	seedResource(t, ms, "kayak", true)
	mustIncrease(t, svc, "kayak", 2)

	if _, err := svc.Claim(context.Background(), "kayak", 2, span(5, 10), "", "order-1"); err != nil {
		t.Fatalf("claim failed: %v", err)
	}
	if _, err := svc.Release(context.Background(), "order-1"); err != nil {
		t.Fatalf("release failed: %v", err)
	}
	if _, err := svc.Return(context.Background(), "kayak", 2, span(5, 10), "order-1"); err != nil {
		t.Fatalf("return failed: %v", err)
	}

	if got := availableOn(t, svc, "kayak", day(7)); got != 2 {
		t.Errorf("return should restore stock inside the window: available = %d, want 2", got)
	}
	if got := availableOn(t, svc, "kayak", day(12)); got != 2 {
		t.Errorf("windowed return must not inflate stock outside the window: available = %d, want 2", got)
	}
}

func TestReleaseExpired_SweepsPendingClaims(t *testing.T) {
	svc, ms, clk := newTestEnv(t)
	seedResource(t, ms, "kayak", true)
	mustIncrease(t, svc, "kayak", 2)

	if _, err := svc.Claim(context.Background(), "kayak", 2, span(5, 10), "", "order-1"); err != nil {
		t.Fatalf("claim failed: %v", err)
	}

	// Window has passed; the hold must not block a new claim even before
	// any sweep runs.
	clk.at = day(11)

	claimed, err := svc.ClaimedStock(context.Background(), "kayak", day(11))
	if err != nil {
		t.Fatalf("ClaimedStock failed: %v", err)
	}
	if claimed != 0 {
		t.Errorf("expired pending claim should not count as claimed, got %d", claimed)
	}

	swept, err := svc.ReleaseExpired(context.Background(), clk.at)
	if err != nil {
		t.Fatalf("ReleaseExpired failed: %v", err)
	}
	if swept != 1 {
		t.Errorf("swept = %d, want 1", swept)
	}

	// Redundant sweep is a no-op.
	swept, err = svc.ReleaseExpired(context.Background(), clk.at)
	if err != nil || swept != 0 {
		t.Errorf("second sweep = (%d, %v), want (0, nil)", swept, err)
	}

	if got := availableOn(t, svc, "kayak", day(12)); got != 2 {
		t.Errorf("stock returns automatically past the window: available = %d, want 2", got)
	}
	if _, err := svc.Claim(context.Background(), "kayak", 2, span(12, 15), "", ""); err != nil {
		t.Errorf("claim after expiry should succeed, got %v", err)
	}
}

func TestIncrease_WindowedSeasonalCapacity(t *testing.T) {
	svc, ms, _ := newTestEnv(t)
	seedResource(t, ms, "kayak", true)

	if _, err := svc.Increase(context.Background(), "kayak", 3, span(0, 30)); err != nil {
		t.Fatalf("increase failed: %v", err)
	}

	if got := availableOn(t, svc, "kayak", day(15)); got != 3 {
		t.Errorf("inside the season: available = %d, want 3", got)
	}
	if got := availableOn(t, svc, "kayak", day(45)); got != 0 {
		t.Errorf("after the season: available = %d, want 0", got)
	}
}

func TestClaim_NoOversellUnderConcurrency(t *testing.T) {
	svc, ms, _ := newTestEnv(t)
	seedResource(t, ms, "kayak", true)
	mustIncrease(t, svc, "kayak", 5)

	const workers = 20
	results := make(chan error, workers)
	for i := 0; i < workers; i++ {
		go func() {
			_, err := svc.Claim(context.Background(), "kayak", 1, span(5, 10), "", "")
			results <- err
		}()
	}

	var granted int
	for i := 0; i < workers; i++ {
		if err := <-results; err == nil {
			granted++
		} else if !errors.Is(err, ledger.ErrInsufficientStock) {
			t.Errorf("unexpected error: %v", err)
		}
	}
	if granted != 5 {
		t.Errorf("granted %d claims for 5 units of stock", granted)
	}
	if got := availableOn(t, svc, "kayak", day(7)); got != 0 {
		t.Errorf("available after saturation = %d, want 0", got)
	}
}

func TestQuantityValidation(t *testing.T) {
	svc, ms, _ := newTestEnv(t)
	seedResource(t, ms, "kayak", true)

	if _, err := svc.Increase(context.Background(), "kayak", 0, nil); err == nil {
		t.Error("zero increase should be rejected")
	}
	if _, err := svc.Decrease(context.Background(), "kayak", -1); err == nil {
		t.Error("negative decrease should be rejected")
	}
	if _, err := svc.Claim(context.Background(), "kayak", 0, nil, "", ""); err == nil {
		t.Error("zero claim should be rejected")
	}
}
