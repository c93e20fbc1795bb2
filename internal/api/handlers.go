// Package api provides the HTTP handlers for managing resources, pools,
// stock, and cart allocation sets.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/rentkit/reservation-engine/internal/allocation"
	"github.com/rentkit/reservation-engine/internal/cart"
	"github.com/rentkit/reservation-engine/internal/ledger"
	"github.com/rentkit/reservation-engine/internal/metrics"
	"github.com/rentkit/reservation-engine/internal/model"
	"github.com/rentkit/reservation-engine/internal/pricing"
	"github.com/rentkit/reservation-engine/internal/store"
	"github.com/rentkit/reservation-engine/internal/timespan"
)

// Service handles HTTP requests against the reservation engine. All
// business rules live in the ledger, allocation, and cart services; the
// handlers translate requests, map domain errors to status codes, and
// broadcast stock events.
type Service struct {
	store  store.Store
	ledger *ledger.Service
	engine *allocation.Engine
	carts  *cart.Service
	wsHub  *WSHub // optional WebSocket hub for real-time broadcasts
}

// NewService creates the HTTP service. Pass nil for hub if WebSocket
// broadcasting is not needed.
func NewService(st store.Store, lg *ledger.Service, engine *allocation.Engine, carts *cart.Service, hub *WSHub) *Service {
	return &Service{store: st, ledger: lg, engine: engine, carts: carts, wsHub: hub}
}

// Routes mounts all handlers on the router.
func (s *Service) Routes(r chi.Router) {
	if s.wsHub != nil {
		r.Get("/ws", s.wsHub.HandleWS)
	}

	r.Post("/resources", s.CreateResource)
	r.Get("/resources", s.ListResources)
	r.Get("/resources/{resourceID}", s.GetResource)
	r.Put("/resources/{resourceID}/price", s.UpdateResourcePrice)
	r.Post("/resources/{resourceID}/stock", s.MoveStock)
	r.Post("/resources/{resourceID}/release", s.ReleaseClaim)
	r.Get("/resources/{resourceID}/availability", s.GetAvailability)

	r.Post("/pools", s.CreatePool)
	r.Get("/pools", s.ListPools)
	r.Get("/pools/{poolID}", s.GetPool)
	r.Get("/pools/{poolID}/price", s.GetPoolPrice)

	r.Get("/carts/{cartID}", s.GetCart)
	r.Post("/carts/{cartID}/entries", s.AddCartEntry)
	r.Delete("/carts/{cartID}/entries", s.RemoveCartEntry)
	r.Put("/carts/{cartID}/timespan", s.SetCartTimespan)
	r.Post("/carts/{cartID}/confirm", s.ConfirmCart)
	r.Post("/carts/{cartID}/cancel", s.CancelClaims)
}

// --- Request/Response types ---

// CreateResourceRequest is the JSON body for resource creation.
type CreateResourceRequest struct {
	Name            string       `json:"name"`
	ManagesOwnStock bool         `json:"manages_own_stock"`
	TimeBound       bool         `json:"time_bound"`
	Price           *model.Cents `json:"price,omitempty"`
}

// CreatePoolRequest is the JSON body for pool creation.
type CreatePoolRequest struct {
	Name            string                `json:"name"`
	MemberIDs       []string              `json:"member_ids"`
	Strategy        model.PricingStrategy `json:"strategy"`
	OwnPrice        *model.Cents          `json:"own_price,omitempty"`
	ManagesOwnStock bool                  `json:"manages_own_stock"`
}

// StockRequest is the JSON body for POST /resources/{id}/stock.
type StockRequest struct {
	Op        string  `json:"op"` // "increase", "decrease", "claim" or "return"
	Quantity  int64   `json:"quantity"`
	From      *string `json:"from,omitempty"`
	Until     *string `json:"until,omitempty"`
	Note      string  `json:"note,omitempty"`
	Reference string  `json:"reference,omitempty"`
}

// CartEntryRequest is the JSON body for cart add/remove.
type CartEntryRequest struct {
	TargetID   string            `json:"target_id"`
	Quantity   int64             `json:"quantity"`
	From       *string           `json:"from,omitempty"`
	Until      *string           `json:"until,omitempty"`
	Parameters map[string]string `json:"parameters,omitempty"`
}

// SetTimespanRequest is the JSON body for PUT /carts/{id}/timespan.
type SetTimespanRequest struct {
	From      *string `json:"from,omitempty"`
	Until     *string `json:"until,omitempty"`
	Validate  bool    `json:"validate"`
	Overwrite bool    `json:"overwrite_existing_item_windows"`
}

// PoolPriceResponse quotes the pool's prices for a window. Null fields
// mean "no remaining priced capacity" — distinct from free.
type PoolPriceResponse struct {
	Current *model.Cents `json:"current"`
	Lowest  *model.Cents `json:"lowest"`
	Highest *model.Cents `json:"highest"`
}

// CartEntryView is one cart line with its billed total: unit price
// times billable units times quantity. Unpriced (unavailable) entries
// carry no total.
type CartEntryView struct {
	model.CartEntry
	LineTotal *model.Cents `json:"line_total,omitempty"`
}

// CartResponse is the cart view returned from GET /carts/{id}.
type CartResponse struct {
	Cart        model.Cart          `json:"cart"`
	Entries     []CartEntryView     `json:"entries"`
	Total       model.Cents         `json:"total"`
	Ready       bool                `json:"ready"`
	Adjustments map[string][]string `json:"required_adjustments,omitempty"`
}

// --- Resource handlers ---

// CreateResource handles POST /api/v1/resources.
func (s *Service) CreateResource(w http.ResponseWriter, r *http.Request) {
	var req CreateResourceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Name == "" {
		writeError(w, "name is required", http.StatusBadRequest)
		return
	}

	resource := &model.Resource{
		ID:              uuid.New().String(),
		Name:            req.Name,
		ManagesOwnStock: req.ManagesOwnStock,
		TimeBound:       req.TimeBound,
		Price:           req.Price,
		CreatedAt:       time.Now().UTC(),
	}
	if err := s.store.CreateResource(r.Context(), resource); err != nil {
		writeError(w, err.Error(), http.StatusConflict)
		return
	}

	slog.Info("resource created", "id", resource.ID, "name", resource.Name)
	writeJSON(w, http.StatusCreated, resource)
}

// ListResources handles GET /api/v1/resources.
func (s *Service) ListResources(w http.ResponseWriter, r *http.Request) {
	resources, err := s.store.ListResources(r.Context())
	if err != nil {
		writeError(w, "failed to list resources", http.StatusInternalServerError)
		return
	}
	if resources == nil {
		resources = []model.Resource{}
	}
	writeJSON(w, http.StatusOK, resources)
}

// GetResource handles GET /api/v1/resources/{resourceID}.
func (s *Service) GetResource(w http.ResponseWriter, r *http.Request) {
	resource, err := s.store.GetResource(r.Context(), chi.URLParam(r, "resourceID"))
	if err != nil {
		writeError(w, "resource not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, resource)
}

// UpdateResourcePrice handles PUT /api/v1/resources/{resourceID}/price.
// A null price clears the resource's own price so the pool fallback
// applies again.
func (s *Service) UpdateResourcePrice(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Price *model.Cents `json:"price"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	id := chi.URLParam(r, "resourceID")
	if err := s.store.UpdateResourcePrice(r.Context(), id, req.Price); err != nil {
		s.writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// MoveStock handles POST /api/v1/resources/{resourceID}/stock.
func (s *Service) MoveStock(w http.ResponseWriter, r *http.Request) {
	var req StockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Quantity <= 0 {
		writeError(w, "quantity must be positive", http.StatusBadRequest)
		return
	}

	window, err := parseWindow(req.From, req.Until)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	resourceID := chi.URLParam(r, "resourceID")

	switch req.Op {
	case "increase":
		entry, err := s.ledger.Increase(ctx, resourceID, req.Quantity, window)
		if err != nil {
			s.writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, entry)

	case "decrease":
		entry, err := s.ledger.Decrease(ctx, resourceID, req.Quantity)
		if err != nil {
			s.writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, entry)

	case "claim":
		claim, err := s.ledger.Claim(ctx, resourceID, req.Quantity, window, req.Note, req.Reference)
		if err != nil {
			metrics.ClaimsTotal.WithLabelValues("rejected").Inc()
			s.writeDomainError(w, err)
			return
		}
		metrics.ClaimsTotal.WithLabelValues("issued").Inc()
		s.broadcast(WSMessage{
			Type:       "stock_claimed",
			ResourceID: resourceID,
			Quantity:   claim.Quantity,
			Reference:  claim.Reference,
			Window:     windowString(claim.Window),
		})
		writeJSON(w, http.StatusCreated, claim)

	case "return":
		entry, err := s.ledger.Return(ctx, resourceID, req.Quantity, window, req.Reference)
		if err != nil {
			s.writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, entry)

	default:
		writeError(w, "op must be increase, decrease, claim or return", http.StatusBadRequest)
	}
}

// ReleaseClaim handles POST /api/v1/resources/{resourceID}/release.
// Releasing an unknown or already-released claim reports released=false
// rather than failing.
func (s *Service) ReleaseClaim(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reference string `json:"reference"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Reference == "" {
		writeError(w, "reference is required", http.StatusBadRequest)
		return
	}

	released, err := s.ledger.Release(r.Context(), req.Reference)
	if err != nil {
		writeError(w, "failed to release claim", http.StatusInternalServerError)
		return
	}
	if released {
		s.broadcast(WSMessage{
			Type:       "claim_released",
			ResourceID: chi.URLParam(r, "resourceID"),
			Reference:  req.Reference,
		})
	}
	writeJSON(w, http.StatusOK, map[string]bool{"released": released})
}

// GetAvailability handles GET /api/v1/resources/{resourceID}/availability.
// Query with ?at= for a point in time or ?from=&until= for a range;
// without parameters it reports current availability.
func (s *Service) GetAvailability(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	resourceID := chi.URLParam(r, "resourceID")
	q := r.URL.Query()

	var (
		available int64
		err       error
	)
	switch {
	case q.Get("at") != "":
		var at time.Time
		at, err = time.Parse(time.RFC3339, q.Get("at"))
		if err != nil {
			writeError(w, "at must be RFC3339", http.StatusBadRequest)
			return
		}
		available, err = s.ledger.AvailableOn(ctx, resourceID, at)

	case q.Get("from") != "" || q.Get("until") != "":
		from, until := q.Get("from"), q.Get("until")
		var window *timespan.Timespan
		window, err = parseWindow(&from, &until)
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		available, err = s.ledger.AvailableOnRange(ctx, resourceID, *window)

	default:
		available, err = s.ledger.AvailableStock(ctx, resourceID, time.Now().UTC())
	}

	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	resp := map[string]any{"resource_id": resourceID, "available": available}
	if available == ledger.Unbounded {
		resp["available"] = nil
		resp["unbounded"] = true
	}
	writeJSON(w, http.StatusOK, resp)
}

// --- Pool handlers ---

// CreatePool handles POST /api/v1/pools.
func (s *Service) CreatePool(w http.ResponseWriter, r *http.Request) {
	var req CreatePoolRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Name == "" || len(req.MemberIDs) == 0 {
		writeError(w, "name and member_ids are required", http.StatusBadRequest)
		return
	}
	if !req.Strategy.Valid() {
		writeError(w, "strategy must be lowest, highest or average", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	for _, id := range req.MemberIDs {
		if _, err := s.store.GetResource(ctx, id); err != nil {
			writeError(w, "unknown member resource: "+id, http.StatusBadRequest)
			return
		}
	}

	pool := &model.Pool{
		ID:              uuid.New().String(),
		Name:            req.Name,
		MemberIDs:       req.MemberIDs,
		Strategy:        req.Strategy,
		OwnPrice:        req.OwnPrice,
		ManagesOwnStock: req.ManagesOwnStock,
		CreatedAt:       time.Now().UTC(),
	}
	if err := s.store.CreatePool(ctx, pool); err != nil {
		writeError(w, err.Error(), http.StatusConflict)
		return
	}

	slog.Info("pool created", "id", pool.ID, "name", pool.Name, "members", len(pool.MemberIDs))
	writeJSON(w, http.StatusCreated, pool)
}

// ListPools handles GET /api/v1/pools.
func (s *Service) ListPools(w http.ResponseWriter, r *http.Request) {
	pools, err := s.store.ListPools(r.Context())
	if err != nil {
		writeError(w, "failed to list pools", http.StatusInternalServerError)
		return
	}
	if pools == nil {
		pools = []model.Pool{}
	}
	writeJSON(w, http.StatusOK, pools)
}

// GetPool handles GET /api/v1/pools/{poolID}.
func (s *Service) GetPool(w http.ResponseWriter, r *http.Request) {
	pool, err := s.store.GetPool(r.Context(), chi.URLParam(r, "poolID"))
	if err != nil {
		writeError(w, "pool not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, pool)
}

// GetPoolPrice handles GET /api/v1/pools/{poolID}/price.
// Quotes are the next unit's price for the window; null means no
// remaining priced capacity, which callers must distinguish from free.
func (s *Service) GetPoolPrice(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	pool, err := s.store.GetPool(ctx, chi.URLParam(r, "poolID"))
	if err != nil {
		writeError(w, "pool not found", http.StatusNotFound)
		return
	}

	var window *timespan.Timespan
	q := r.URL.Query()
	if q.Get("from") != "" || q.Get("until") != "" {
		from, until := q.Get("from"), q.Get("until")
		window, err = parseWindow(&from, &until)
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
	}

	now := time.Now().UTC()
	var resp PoolPriceResponse
	if resp.Current, err = s.engine.CurrentPrice(ctx, pool, window, now, nil); err != nil {
		s.writeDomainError(w, err)
		return
	}
	if resp.Lowest, err = s.engine.LowestAvailablePrice(ctx, pool, window, now, nil); err != nil {
		s.writeDomainError(w, err)
		return
	}
	if resp.Highest, err = s.engine.HighestAvailablePrice(ctx, pool, window, now, nil); err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// --- Cart handlers ---

// GetCart handles GET /api/v1/carts/{cartID}.
func (s *Service) GetCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	cartID := chi.URLParam(r, "cartID")

	c, err := s.store.GetCart(ctx, cartID)
	if err != nil {
		writeError(w, "cart not found", http.StatusNotFound)
		return
	}
	entries, err := s.store.CartEntries(ctx, cartID)
	if err != nil {
		writeError(w, "failed to load cart entries", http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []model.CartEntry{}
	}

	resp := CartResponse{Cart: *c, Entries: make([]CartEntryView, 0, len(entries)), Ready: true}
	for i := range entries {
		view := CartEntryView{CartEntry: entries[i]}
		if entries[i].UnitPrice != nil {
			total := pricing.LineTotal(*entries[i].UnitPrice, entries[i].Quantity, entries[i].Window)
			view.LineTotal = &total
			resp.Total += total
		}
		resp.Entries = append(resp.Entries, view)

		ok, err := s.carts.EntryReady(ctx, &entries[i])
		if err != nil {
			writeError(w, "failed to compute readiness", http.StatusInternalServerError)
			return
		}
		if ok {
			continue
		}
		resp.Ready = false
		missing, err := s.carts.RequiredAdjustments(ctx, &entries[i])
		if err != nil {
			writeError(w, "failed to compute readiness", http.StatusInternalServerError)
			return
		}
		if len(missing) > 0 {
			if resp.Adjustments == nil {
				resp.Adjustments = make(map[string][]string)
			}
			resp.Adjustments[entries[i].ID] = missing
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// AddCartEntry handles POST /api/v1/carts/{cartID}/entries.
func (s *Service) AddCartEntry(w http.ResponseWriter, r *http.Request) {
	var req CartEntryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.TargetID == "" {
		writeError(w, "target_id is required", http.StatusBadRequest)
		return
	}

	window, err := parseWindow(req.From, req.Until)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	start := time.Now()
	entries, err := s.carts.Add(r.Context(), chi.URLParam(r, "cartID"), req.TargetID, req.Quantity, window, req.Parameters)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	metrics.AllocationLatency.Observe(time.Since(start).Seconds())

	writeJSON(w, http.StatusCreated, entries)
}

// RemoveCartEntry handles DELETE /api/v1/carts/{cartID}/entries.
// Removing a non-existent match is a no-op reported as success.
func (s *Service) RemoveCartEntry(w http.ResponseWriter, r *http.Request) {
	var req CartEntryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.TargetID == "" {
		writeError(w, "target_id is required", http.StatusBadRequest)
		return
	}

	touched, err := s.carts.Remove(r.Context(), chi.URLParam(r, "cartID"), req.TargetID, req.Quantity, req.Parameters)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if touched == nil {
		touched = []model.CartEntry{}
	}
	writeJSON(w, http.StatusOK, touched)
}

// SetCartTimespan handles PUT /api/v1/carts/{cartID}/timespan.
// The cart window is stored verbatim; assignments are fully re-derived.
func (s *Service) SetCartTimespan(w http.ResponseWriter, r *http.Request) {
	var req SetTimespanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	window, err := parseWindow(req.From, req.Until)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if window == nil {
		writeError(w, "from and until are required", http.StatusBadRequest)
		return
	}

	cartID := chi.URLParam(r, "cartID")
	entries, err := s.carts.SetTimespan(r.Context(), cartID, *window, req.Validate, req.Overwrite)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	metrics.ReallocationsTotal.Inc()
	s.broadcast(WSMessage{
		Type:   "cart_reallocated",
		CartID: cartID,
		Window: window.String(),
	})
	writeJSON(w, http.StatusOK, entries)
}

// ConfirmCart handles POST /api/v1/carts/{cartID}/confirm.
// Issues a permanent claim per entry and consumes the cart.
func (s *Service) ConfirmCart(w http.ResponseWriter, r *http.Request) {
	cartID := chi.URLParam(r, "cartID")
	claims, err := s.carts.Confirm(r.Context(), cartID)
	if err != nil {
		metrics.ClaimsTotal.WithLabelValues("rejected").Inc()
		s.writeDomainError(w, err)
		return
	}

	for _, c := range claims {
		metrics.ClaimsTotal.WithLabelValues("issued").Inc()
		s.broadcast(WSMessage{
			Type:       "stock_claimed",
			ResourceID: c.ResourceID,
			CartID:     cartID,
			Quantity:   c.Quantity,
			Reference:  c.Reference,
			Window:     windowString(c.Window),
		})
	}

	slog.Info("cart checked out", "cart", cartID, "claims", len(claims))
	writeJSON(w, http.StatusCreated, claims)
}

// CancelClaims handles POST /api/v1/carts/{cartID}/cancel.
func (s *Service) CancelClaims(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Claims []model.Claim `json:"claims"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if err := s.carts.Cancel(r.Context(), req.Claims); err != nil {
		writeError(w, "failed to cancel claims", http.StatusInternalServerError)
		return
	}
	for _, c := range req.Claims {
		s.broadcast(WSMessage{
			Type:       "claim_released",
			ResourceID: c.ResourceID,
			Reference:  c.Reference,
		})
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- helpers ---

// writeDomainError maps domain errors onto HTTP status codes:
// user-correctable window errors → 400, missing records → 404,
// availability conflicts → 409, missing prices → 422.
func (s *Service) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, timespan.ErrInvalidTimespan):
		writeError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, store.ErrNotFound), errors.Is(err, cart.ErrUnknownTarget):
		writeError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, ledger.ErrInsufficientStock),
		errors.Is(err, allocation.ErrNotEnoughStock),
		errors.Is(err, cart.ErrNotEnoughAvailableInTimespan):
		metrics.StockRejections.Inc()
		writeError(w, err.Error(), http.StatusConflict)
	case errors.Is(err, cart.ErrCartNotReady):
		writeError(w, err.Error(), http.StatusConflict)
	case errors.Is(err, allocation.ErrNoPriceAvailable):
		writeError(w, err.Error(), http.StatusUnprocessableEntity)
	default:
		writeError(w, err.Error(), http.StatusInternalServerError)
	}
}

func (s *Service) broadcast(msg WSMessage) {
	if s.wsHub != nil {
		s.wsHub.Broadcast(msg)
	}
}

// parseWindow builds an optional window from RFC3339 bound strings.
// Presence handling is the validator's job; this only parses.
func parseWindow(from, until *string) (*timespan.Timespan, error) {
	var w timespan.Timespan
	if from != nil && *from != "" {
		t, err := time.Parse(time.RFC3339, *from)
		if err != nil {
			return nil, errors.New("from must be RFC3339")
		}
		w.From = &t
	}
	if until != nil && *until != "" {
		t, err := time.Parse(time.RFC3339, *until)
		if err != nil {
			return nil, errors.New("until must be RFC3339")
		}
		w.Until = &t
	}
	if w.From == nil && w.Until == nil {
		return nil, nil
	}
	return &w, nil
}

func windowString(w *timespan.Timespan) string {
	if w == nil {
		return ""
	}
	return w.String()
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
