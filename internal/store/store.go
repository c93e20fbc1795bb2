// Package store defines the persistence interface for the reservation
// engine. Implementations include PostgreSQL (source of truth, with
// serializable claim transactions), Redis (read-through cache), and
// in-memory (for testing).
package store

import (
	"context"
	"errors"
	"time"

	"github.com/rentkit/reservation-engine/internal/model"
)

// ErrNotFound is returned when a record does not exist. All
// implementations wrap it so callers can errors.Is against it.
var ErrNotFound = errors.New("store: not found")

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache for resources and pools.
type Store interface {
	// --- Resources ---

	// CreateResource persists a new sellable resource.
	CreateResource(ctx context.Context, r *model.Resource) error

	// GetResource retrieves a resource by its ID.
	GetResource(ctx context.Context, id string) (*model.Resource, error)

	// ListResources returns all resources.
	ListResources(ctx context.Context) ([]model.Resource, error)

	// UpdateResourcePrice sets or clears a resource's unit price.
	UpdateResourcePrice(ctx context.Context, id string, price *model.Cents) error

	// --- Pools ---

	// CreatePool persists a pool with its ordered member list.
	CreatePool(ctx context.Context, p *model.Pool) error

	// GetPool retrieves a pool by its ID.
	GetPool(ctx context.Context, id string) (*model.Pool, error)

	// ListPools returns all pools.
	ListPools(ctx context.Context) ([]model.Pool, error)

	// --- Stock ledger (append-only) ---

	// InsertLedgerEntry appends one ledger entry.
	InsertLedgerEntry(ctx context.Context, e *model.LedgerEntry) error

	// InsertLedgerEntryPair atomically appends a claim's decrease and
	// pending marker. When check is non-nil it is evaluated against the
	// ledger's current entries for decrease.ResourceID within the same
	// atomic scope as the writes; a check error aborts the insert.
	// Postgres runs check and both inserts in one serializable
	// transaction, so the read creates a conflict with any concurrent
	// claim against the same ledger.
	InsertLedgerEntryPair(ctx context.Context, decrease, marker *model.LedgerEntry, check func([]model.LedgerEntry) error) error

	// LedgerEntriesByResource returns a resource's full ledger in append order.
	LedgerEntriesByResource(ctx context.Context, resourceID string) ([]model.LedgerEntry, error)

	// PendingClaimByReference finds the pending claim marker for a claim
	// reference, or ErrNotFound when already released or unknown.
	PendingClaimByReference(ctx context.Context, reference string) (*model.LedgerEntry, error)

	// CompleteLedgerEntry flips an entry's status to completed.
	CompleteLedgerEntry(ctx context.Context, entryID string) error

	// CompleteExpiredClaims flips every pending claim whose window ended
	// at or before now, returning how many were swept.
	CompleteExpiredClaims(ctx context.Context, now time.Time) (int64, error)

	// --- Carts ---

	// UpsertCart stores the cart-level record, window verbatim.
	UpsertCart(ctx context.Context, c *model.Cart) error

	// GetCart retrieves a cart by its ID.
	GetCart(ctx context.Context, id string) (*model.Cart, error)

	// InsertCartEntry persists a new draft line-allocation.
	InsertCartEntry(ctx context.Context, e *model.CartEntry) error

	// UpdateCartEntry replaces a draft line-allocation by ID.
	UpdateCartEntry(ctx context.Context, e *model.CartEntry) error

	// DeleteCartEntry removes one draft line-allocation.
	DeleteCartEntry(ctx context.Context, id string) error

	// CartEntries returns all draft line-allocations for a cart in
	// creation order.
	CartEntries(ctx context.Context, cartID string) ([]model.CartEntry, error)

	// DeleteCartEntries clears a cart.
	DeleteCartEntries(ctx context.Context, cartID string) error
}
