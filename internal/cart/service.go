// Package cart maintains the draft line-allocations of one shopping
// session: incremental add, decrement/removal, and the full reallocation
// protocol that re-derives every assignment when the requested window
// changes.
//
// Drafts never touch the stock ledger. They only shrink what the
// allocation engine may hand out to the same cart next; permanent claims
// are issued at checkout via Confirm.
package cart

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/rentkit/reservation-engine/internal/allocation"
	"github.com/rentkit/reservation-engine/internal/ledger"
	"github.com/rentkit/reservation-engine/internal/model"
	"github.com/rentkit/reservation-engine/internal/store"
	"github.com/rentkit/reservation-engine/internal/timespan"
)

var (
	// ErrNotEnoughAvailableInTimespan is returned by a strict cart-level
	// window change that cannot be satisfied for at least one entry.
	ErrNotEnoughAvailableInTimespan = errors.New("cart: not enough available in timespan")

	// ErrCartNotReady is returned by Confirm while any entry still lacks
	// a required window or a resolved price.
	ErrCartNotReady = errors.New("cart: not ready for checkout")

	// ErrUnknownTarget is returned when an ID matches neither a pool nor
	// a resource.
	ErrUnknownTarget = errors.New("cart: unknown pool or resource")
)

// Service manages cart allocation sets.
type Service struct {
	store  store.Store
	engine *allocation.Engine
	ledger *ledger.Service
	now    func() time.Time
}

// NewService creates a cart service. Pass nil for now to use the wall
// clock; tests inject a fixed clock.
func NewService(st store.Store, engine *allocation.Engine, lg *ledger.Service, now func() time.Time) *Service {
	if now == nil {
		now = time.Now
	}
	return &Service{store: st, engine: engine, ledger: lg, now: now}
}

// Add drafts quantity units of a pool or bare resource into the cart.
// A present window passes the strict booking validator; adding without a
// window is permitted but leaves the entries incomplete until a window
// is supplied. Entries matching on (assigned resource, unit price,
// window, parameters) merge by summing quantity.
func (s *Service) Add(ctx context.Context, cartID, targetID string, quantity int64, window *timespan.Timespan, params map[string]string) ([]model.CartEntry, error) {
	if quantity <= 0 {
		return nil, fmt.Errorf("cart: quantity must be positive, got %d", quantity)
	}
	if window != nil {
		if err := timespan.Validate(window.From, window.Until, s.now()); err != nil {
			return nil, err
		}
	}
	if err := s.ensureCart(ctx, cartID); err != nil {
		return nil, err
	}

	existing, err := s.store.CartEntries(ctx, cartID)
	if err != nil {
		return nil, err
	}

	pool, err := s.store.GetPool(ctx, targetID)
	switch {
	case err == nil:
		return s.addPool(ctx, cartID, pool, quantity, window, params, existing)
	case errors.Is(err, store.ErrNotFound):
		resource, rerr := s.store.GetResource(ctx, targetID)
		if errors.Is(rerr, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownTarget, targetID)
		}
		if rerr != nil {
			return nil, rerr
		}
		return s.addResource(ctx, cartID, resource, quantity, window, params, existing)
	default:
		return nil, err
	}
}

func (s *Service) addPool(ctx context.Context, cartID string, pool *model.Pool, quantity int64, window *timespan.Timespan, params map[string]string, existing []model.CartEntry) ([]model.CartEntry, error) {
	drafts := draftUsage(existing, window)

	assignments, err := s.engine.Allocate(ctx, pool, quantity, window, s.now(), drafts)
	if err != nil {
		return nil, err
	}

	// One merged entry per distinct (resource, price) pair.
	var affected []model.CartEntry
	for _, group := range groupAssignments(assignments) {
		entry, err := s.mergeEntry(ctx, cartID, existing, model.CartEntry{
			PoolID:             pool.ID,
			AssignedResourceID: group.resourceID,
			Quantity:           group.quantity,
			UnitPrice:          model.CentsPtr(group.price),
			Window:             window,
			Parameters:         params,
		})
		if err != nil {
			return nil, err
		}
		affected = append(affected, *entry)
	}

	slog.Info("cart allocation drafted",
		"cart", cartID,
		"pool", pool.ID,
		"qty", quantity,
		"entries", len(affected),
	)
	return affected, nil
}

func (s *Service) addResource(ctx context.Context, cartID string, resource *model.Resource, quantity int64, window *timespan.Timespan, params map[string]string, existing []model.CartEntry) ([]model.CartEntry, error) {
	if resource.Price == nil {
		return nil, allocation.ErrNoPriceAvailable
	}

	// Single capacity check suffices for a bare resource.
	if resource.ManagesOwnStock {
		available, err := s.resourceAvailability(ctx, resource.ID, window)
		if err != nil {
			return nil, err
		}
		available -= draftUsage(existing, window)[resource.ID]
		if quantity > available {
			return nil, &ledger.InsufficientStockError{
				ResourceID: resource.ID,
				Requested:  quantity,
				Available:  available,
			}
		}
	}

	entry, err := s.mergeEntry(ctx, cartID, existing, model.CartEntry{
		ResourceID:         resource.ID,
		AssignedResourceID: resource.ID,
		Quantity:           quantity,
		UnitPrice:          resource.Price,
		Window:             window,
		Parameters:         params,
	})
	if err != nil {
		return nil, err
	}
	return []model.CartEntry{*entry}, nil
}

// Remove decrements matching entries by quantity, most expensive first
// (LIFO relative to allocation order), deleting entries that reach zero.
// Removing a non-existent match is a no-op reported as success; the
// returned slice holds the entries that were touched.
func (s *Service) Remove(ctx context.Context, cartID, targetID string, quantity int64, params map[string]string) ([]model.CartEntry, error) {
	if quantity <= 0 {
		return nil, fmt.Errorf("cart: quantity must be positive, got %d", quantity)
	}

	entries, err := s.store.CartEntries(ctx, cartID)
	if err != nil {
		return nil, err
	}

	var matches []model.CartEntry
	for _, e := range entries {
		if e.TargetID() != targetID {
			continue
		}
		if params != nil && !e.SameParameters(params) {
			continue
		}
		matches = append(matches, e)
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return priceOf(&matches[i]) > priceOf(&matches[j])
	})

	var touched []model.CartEntry
	remaining := quantity
	for i := range matches {
		if remaining == 0 {
			break
		}
		e := matches[i]
		take := e.Quantity
		if take > remaining {
			take = remaining
		}
		e.Quantity -= take
		remaining -= take

		if e.Quantity == 0 {
			if err := s.store.DeleteCartEntry(ctx, e.ID); err != nil {
				return nil, err
			}
		} else {
			if err := s.store.UpdateCartEntry(ctx, &e); err != nil {
				return nil, err
			}
		}
		touched = append(touched, e)
	}
	return touched, nil
}

// SetTimespan stores the new window on the cart verbatim — unordered or
// past windows included, the strict validator binds only at booking
// points — and re-derives every affected entry's assignment from scratch
// against the new window in strategy order. Entries carrying their own
// distinct window are re-derived only when overwrite is true.
//
// With validate, an unsatisfiable entry is marked unavailable (price
// cleared, not ready for checkout) so unrelated entries are unaffected;
// without it the first unsatisfiable entry aborts with
// ErrNotEnoughAvailableInTimespan and the cart — window and entries —
// is left exactly as it was. Re-running with the same window and
// unchanged stock yields the same assignments.
func (s *Service) SetTimespan(ctx context.Context, cartID string, window timespan.Timespan, validate, overwrite bool) ([]model.CartEntry, error) {
	cart, err := s.store.GetCart(ctx, cartID)
	if errors.Is(err, store.ErrNotFound) {
		cart = &model.Cart{ID: cartID, CreatedAt: s.now().UTC()}
	} else if err != nil {
		return nil, err
	}
	previous := cart.Window

	entries, err := s.store.CartEntries(ctx, cartID)
	if err != nil {
		return nil, err
	}

	var selected, kept []model.CartEntry
	for _, e := range entries {
		if reallocatable(&e, previous, overwrite) {
			selected = append(selected, e)
		} else {
			kept = append(kept, e)
		}
	}

	// Consistent snapshot discipline: draft usage from untouched entries
	// is fixed up front; freshly re-derived assignments join it group by
	// group so later groups see earlier decisions.
	drafts := draftUsage(kept, &window)

	// Every group is decided before anything is written. A strict
	// failure in a later group must not leave earlier groups — or the
	// cart window — half-updated.
	var plans []groupPlan
	for _, group := range groupEntries(selected) {
		plan, err := s.planGroup(ctx, group, window, drafts, validate)
		if err != nil {
			return nil, err
		}
		plans = append(plans, *plan)
	}

	cart.Window = &window
	cart.UpdatedAt = s.now().UTC()
	if err := s.store.UpsertCart(ctx, cart); err != nil {
		return nil, err
	}

	var result []model.CartEntry
	result = append(result, kept...)
	for i := range plans {
		entries, err := s.applyGroupPlan(ctx, cartID, &plans[i], window)
		if err != nil {
			return nil, err
		}
		result = append(result, entries...)
	}

	slog.Info("cart reallocated",
		"cart", cartID,
		"window", window.String(),
		"entries", len(result),
	)
	return result, nil
}

// groupPlan is one group's re-derivation decision, computed from reads
// only so the whole cart can be validated before the first write.
type groupPlan struct {
	group       entryGroup
	unavailable bool
	assignments []assignmentGroup // pool groups
	unitPrice   *model.Cents      // resource groups
}

// planGroup decides a group's new assignments against the new window
// without writing anything. It extends drafts with the decision so
// later groups allocate against it.
func (s *Service) planGroup(ctx context.Context, group entryGroup, window timespan.Timespan, drafts allocation.DraftUsage, validate bool) (*groupPlan, error) {
	if group.poolID == "" {
		return s.planResourceGroup(ctx, group, window, drafts, validate)
	}

	pool, err := s.store.GetPool(ctx, group.poolID)
	if err != nil {
		return nil, err
	}

	assignments, err := s.engine.Allocate(ctx, pool, group.quantity, &window, s.now(), drafts)
	switch {
	case err == nil:
	case errors.Is(err, allocation.ErrNotEnoughStock) || errors.Is(err, allocation.ErrNoPriceAvailable):
		if !validate {
			return nil, fmt.Errorf("%w: pool %s", ErrNotEnoughAvailableInTimespan, group.poolID)
		}
		return &groupPlan{group: group, unavailable: true}, nil
	default:
		return nil, err
	}

	grouped := groupAssignments(assignments)
	for _, ag := range grouped {
		drafts[ag.resourceID] += ag.quantity
	}
	return &groupPlan{group: group, assignments: grouped}, nil
}

func (s *Service) planResourceGroup(ctx context.Context, group entryGroup, window timespan.Timespan, drafts allocation.DraftUsage, validate bool) (*groupPlan, error) {
	resource, err := s.store.GetResource(ctx, group.resourceID)
	if err != nil {
		return nil, err
	}

	if resource.ManagesOwnStock {
		available, err := s.resourceAvailability(ctx, resource.ID, &window)
		if err != nil {
			return nil, err
		}
		if group.quantity > available-drafts[resource.ID] {
			if !validate {
				return nil, fmt.Errorf("%w: resource %s", ErrNotEnoughAvailableInTimespan, resource.ID)
			}
			return &groupPlan{group: group, unavailable: true}, nil
		}
	}

	drafts[resource.ID] += group.quantity
	return &groupPlan{group: group, unitPrice: resource.Price}, nil
}

// applyGroupPlan writes one decided group: full re-derivation drops the
// old entries and inserts the fresh assignments, resource groups are
// updated in place, unsatisfiable groups are marked unavailable.
func (s *Service) applyGroupPlan(ctx context.Context, cartID string, plan *groupPlan, window timespan.Timespan) ([]model.CartEntry, error) {
	if plan.unavailable {
		return s.markUnavailable(ctx, plan.group, window)
	}

	if plan.group.poolID == "" {
		var result []model.CartEntry
		for _, e := range plan.group.entries {
			e.Window = &window
			e.UnitPrice = plan.unitPrice
			e.Unavailable = false
			if err := s.store.UpdateCartEntry(ctx, &e); err != nil {
				return nil, err
			}
			result = append(result, e)
		}
		return result, nil
	}

	for _, e := range plan.group.entries {
		if err := s.store.DeleteCartEntry(ctx, e.ID); err != nil {
			return nil, err
		}
	}

	var result []model.CartEntry
	for _, ag := range plan.assignments {
		entry := model.CartEntry{
			ID:                 uuid.New().String(),
			CartID:             cartID,
			PoolID:             plan.group.poolID,
			AssignedResourceID: ag.resourceID,
			Quantity:           ag.quantity,
			UnitPrice:          model.CentsPtr(ag.price),
			Window:             &window,
			Parameters:         plan.group.params,
			CreatedAt:          s.now().UTC(),
		}
		if err := s.store.InsertCartEntry(ctx, &entry); err != nil {
			return nil, err
		}
		result = append(result, entry)
	}
	return result, nil
}

// markUnavailable clears prices instead of raising, so one entry's
// unavailability never disturbs the rest of the cart.
func (s *Service) markUnavailable(ctx context.Context, group entryGroup, window timespan.Timespan) ([]model.CartEntry, error) {
	var result []model.CartEntry
	for _, e := range group.entries {
		e.Window = &window
		e.UnitPrice = nil
		e.Unavailable = true
		if err := s.store.UpdateCartEntry(ctx, &e); err != nil {
			return nil, err
		}
		result = append(result, e)
	}
	return result, nil
}

// --- Readiness ---

// RequiredAdjustments lists the still-missing window fields for an
// entry, derived from whether its assigned resource — or any member of
// its pool — is time-bound.
func (s *Service) RequiredAdjustments(ctx context.Context, e *model.CartEntry) ([]string, error) {
	needed, err := s.requiresWindow(ctx, e)
	if err != nil {
		return nil, err
	}
	if !needed {
		return nil, nil
	}

	var missing []string
	if e.Window == nil || e.Window.From == nil {
		missing = append(missing, "from")
	}
	if e.Window == nil || e.Window.Until == nil {
		missing = append(missing, "until")
	}
	return missing, nil
}

// EntryReady reports whether one entry can proceed to checkout: a
// resolved price, not marked unavailable, and a window whenever its
// resource type is time-bound.
func (s *Service) EntryReady(ctx context.Context, e *model.CartEntry) (bool, error) {
	if e.Unavailable || e.UnitPrice == nil {
		return false, nil
	}
	missing, err := s.RequiredAdjustments(ctx, e)
	if err != nil {
		return false, err
	}
	return len(missing) == 0, nil
}

// Ready reports whether every entry in the cart is ready for checkout.
func (s *Service) Ready(ctx context.Context, cartID string) (bool, error) {
	entries, err := s.store.CartEntries(ctx, cartID)
	if err != nil {
		return false, err
	}
	for i := range entries {
		ok, err := s.EntryReady(ctx, &entries[i])
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

// --- Checkout boundary ---

// Confirm issues a permanent ledger claim for every entry and consumes
// the cart. It fails with ErrCartNotReady if any entry lacks a window or
// price; on a partial failure the claims already issued are released
// again before the error is returned.
func (s *Service) Confirm(ctx context.Context, cartID string) ([]model.Claim, error) {
	ready, err := s.Ready(ctx, cartID)
	if err != nil {
		return nil, err
	}
	if !ready {
		return nil, ErrCartNotReady
	}

	entries, err := s.store.CartEntries(ctx, cartID)
	if err != nil {
		return nil, err
	}

	var claims []model.Claim
	for _, e := range entries {
		target, err := s.claimTarget(ctx, &e)
		if err != nil {
			s.rollback(ctx, claims)
			return nil, err
		}
		claim, err := s.ledger.Claim(ctx, target, e.Quantity, e.Window, "cart checkout", e.ID)
		if err != nil {
			s.rollback(ctx, claims)
			return nil, fmt.Errorf("confirm cart %s: %w", cartID, err)
		}
		claims = append(claims, *claim)
	}

	if err := s.store.DeleteCartEntries(ctx, cartID); err != nil {
		return nil, err
	}

	slog.Info("cart confirmed", "cart", cartID, "claims", len(claims))
	return claims, nil
}

// Cancel reverses confirmed claims: the pending marker is released and,
// because a release alone never reverses the claim's decrease, a return
// entry restores the stock for the remainder of the window.
func (s *Service) Cancel(ctx context.Context, claims []model.Claim) error {
	for _, c := range claims {
		released, err := s.ledger.Release(ctx, c.Reference)
		if err != nil {
			return err
		}
		if !released {
			continue // already released or expired
		}
		if _, err := s.ledger.Return(ctx, c.ResourceID, c.Quantity, c.Window, c.Reference); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) rollback(ctx context.Context, claims []model.Claim) {
	if err := s.Cancel(ctx, claims); err != nil {
		slog.Error("checkout rollback failed", "err", err)
	}
}

// claimTarget resolves which ledger a confirmed entry deducts from. A
// pool entry draws on the pool's own ledger when the pool carries the
// stock — it manages its own and no member manages theirs, the same
// rule under which the allocation engine enforces the pool-level cap.
// Everything else deducts from the assigned resource.
func (s *Service) claimTarget(ctx context.Context, e *model.CartEntry) (string, error) {
	if e.PoolID == "" {
		return e.AssignedResourceID, nil
	}
	pool, err := s.store.GetPool(ctx, e.PoolID)
	if err != nil {
		return "", err
	}
	if !pool.ManagesOwnStock {
		return e.AssignedResourceID, nil
	}
	for _, id := range pool.MemberIDs {
		r, err := s.store.GetResource(ctx, id)
		if err != nil {
			return "", err
		}
		if r.ManagesOwnStock {
			return e.AssignedResourceID, nil
		}
	}
	return pool.ID, nil
}

// --- internals ---

func (s *Service) ensureCart(ctx context.Context, cartID string) error {
	_, err := s.store.GetCart(ctx, cartID)
	if errors.Is(err, store.ErrNotFound) {
		now := s.now().UTC()
		return s.store.UpsertCart(ctx, &model.Cart{ID: cartID, CreatedAt: now, UpdatedAt: now})
	}
	return err
}

func (s *Service) resourceAvailability(ctx context.Context, resourceID string, window *timespan.Timespan) (int64, error) {
	if window != nil {
		return s.ledger.AvailableOnRange(ctx, resourceID, *window)
	}
	return s.ledger.AvailableOn(ctx, resourceID, s.now())
}

// mergeEntry folds the draft into an existing entry when the full merge
// key — assigned resource, unit price, window, parameters — matches, and
// inserts a fresh entry otherwise.
func (s *Service) mergeEntry(ctx context.Context, cartID string, existing []model.CartEntry, draft model.CartEntry) (*model.CartEntry, error) {
	for i := range existing {
		e := &existing[i]
		if e.AssignedResourceID != draft.AssignedResourceID ||
			!samePrice(e.UnitPrice, draft.UnitPrice) ||
			!e.SameWindow(draft.Window) ||
			!e.SameParameters(draft.Parameters) {
			continue
		}
		e.Quantity += draft.Quantity
		if err := s.store.UpdateCartEntry(ctx, e); err != nil {
			return nil, err
		}
		return e, nil
	}

	draft.ID = uuid.New().String()
	draft.CartID = cartID
	draft.CreatedAt = s.now().UTC()
	if err := s.store.InsertCartEntry(ctx, &draft); err != nil {
		return nil, err
	}
	return &draft, nil
}

func (s *Service) requiresWindow(ctx context.Context, e *model.CartEntry) (bool, error) {
	if e.PoolID != "" {
		pool, err := s.store.GetPool(ctx, e.PoolID)
		if err != nil {
			return false, err
		}
		for _, id := range pool.MemberIDs {
			r, err := s.store.GetResource(ctx, id)
			if err != nil {
				return false, err
			}
			if r.TimeBound {
				return true, nil
			}
		}
		return false, nil
	}

	r, err := s.store.GetResource(ctx, e.AssignedResourceID)
	if err != nil {
		return false, err
	}
	return r.TimeBound, nil
}

// reallocatable decides whether SetTimespan touches an entry: every
// pool-backed or resource-backed entry without its own distinct window
// (nil, or inherited from the previous cart-level window) is re-derived;
// entries carrying a different window only with overwrite.
func reallocatable(e *model.CartEntry, previous *timespan.Timespan, overwrite bool) bool {
	if overwrite || e.Window == nil {
		return true
	}
	return previous != nil && e.Window.Equal(*previous)
}

// draftUsage sums the cart's in-progress usage per resource for windows
// overlapping the query window. A windowless draft counts against every
// window.
func draftUsage(entries []model.CartEntry, window *timespan.Timespan) allocation.DraftUsage {
	usage := make(allocation.DraftUsage)
	for _, e := range entries {
		if e.AssignedResourceID == "" || e.Unavailable {
			continue
		}
		if e.Window != nil && window != nil && !e.Window.Overlaps(*window) {
			continue
		}
		usage[e.AssignedResourceID] += e.Quantity
	}
	return usage
}

func priceOf(e *model.CartEntry) model.Cents {
	if e.UnitPrice == nil {
		return 0
	}
	return *e.UnitPrice
}

func samePrice(a, b *model.Cents) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// --- assignment / entry grouping ---

type assignmentGroup struct {
	resourceID string
	price      model.Cents
	quantity   int64
}

// groupAssignments folds per-unit assignments into (resource, price)
// totals, preserving first-seen order.
func groupAssignments(assignments []allocation.Assignment) []assignmentGroup {
	var groups []assignmentGroup
	index := make(map[string]int)
	for _, a := range assignments {
		key := fmt.Sprintf("%s|%d", a.Resource.ID, a.UnitPrice)
		if i, ok := index[key]; ok {
			groups[i].quantity++
			continue
		}
		index[key] = len(groups)
		groups = append(groups, assignmentGroup{
			resourceID: a.Resource.ID,
			price:      a.UnitPrice,
			quantity:   1,
		})
	}
	return groups
}

type entryGroup struct {
	poolID     string
	resourceID string
	params     map[string]string
	quantity   int64
	entries    []model.CartEntry
}

// groupEntries clusters cart entries that must be re-derived together:
// same target and same parameters, regardless of their current
// assignments, preserving first-seen order.
func groupEntries(entries []model.CartEntry) []entryGroup {
	var groups []entryGroup
	for _, e := range entries {
		found := false
		for i := range groups {
			if groups[i].poolID == e.PoolID && groups[i].resourceID == e.ResourceID &&
				e.SameParameters(groups[i].params) {
				groups[i].quantity += e.Quantity
				groups[i].entries = append(groups[i].entries, e)
				found = true
				break
			}
		}
		if !found {
			groups = append(groups, entryGroup{
				poolID:     e.PoolID,
				resourceID: e.ResourceID,
				params:     e.Parameters,
				quantity:   e.Quantity,
				entries:    []model.CartEntry{e},
			})
		}
	}
	return groups
}
