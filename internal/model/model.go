// Package model defines the core domain types shared across the
// reservation engine. All monetary amounts are integer minor units
// (cents) — never float64 for money; fractional arithmetic happens in
// the pricing package with shopspring/decimal and rounds back to cents.
package model

import (
	"time"

	"github.com/rentkit/reservation-engine/internal/timespan"
)

// Cents is a monetary amount in integer minor units of the shop currency.
type Cents int64

// CentsPtr is a convenience constructor for optional prices.
func CentsPtr(v Cents) *Cents { return &v }

// EntryKind classifies a stock ledger entry.
type EntryKind string

const (
	KindIncrease EntryKind = "increase"
	KindDecrease EntryKind = "decrease"
	KindClaim    EntryKind = "claim"
	KindReturn   EntryKind = "return"
)

// EntryStatus is the lifecycle state of a ledger entry. Only claim
// markers ever sit in "pending"; releasing or expiring a claim flips the
// marker to "completed" and it becomes inert.
type EntryStatus string

const (
	StatusPending   EntryStatus = "pending"
	StatusCompleted EntryStatus = "completed"
)

// LedgerEntry is an immutable signed-quantity record in a resource's
// append-only stock ledger, optionally scoped to a half-open window.
// Entries are never deleted; a claim's pending marker is the only field
// that ever changes (pending → completed).
type LedgerEntry struct {
	ID         string             `json:"id" db:"id"`
	ResourceID string             `json:"resource_id" db:"resource_id"`
	Quantity   int64              `json:"quantity" db:"quantity"` // signed: + adds stock, - removes
	Kind       EntryKind          `json:"kind" db:"kind"`
	Status     EntryStatus        `json:"status" db:"status"`
	Window     *timespan.Timespan `json:"window,omitempty"`
	CreatedAt  time.Time          `json:"created_at" db:"created_at"`
	Note       string             `json:"note,omitempty" db:"note"`
	Reference  string             `json:"reference,omitempty" db:"reference"`
}

// Claim is the handle returned when stock is claimed. The Reference ties
// together the completed decrease and the pending marker written as a
// pair, and is what Release operates on.
type Claim struct {
	Reference  string             `json:"reference"`
	ResourceID string             `json:"resource_id"`
	Quantity   int64              `json:"quantity"`
	Window     *timespan.Timespan `json:"window,omitempty"`
	CreatedAt  time.Time          `json:"created_at"`
}

// Resource is one concrete sellable unit backed by a stock ledger.
type Resource struct {
	ID              string    `json:"id" db:"id"`
	Name            string    `json:"name" db:"name"`
	ManagesOwnStock bool      `json:"manages_own_stock" db:"manages_own_stock"`
	TimeBound       bool      `json:"time_bound" db:"time_bound"` // requires a window before checkout
	Price           *Cents    `json:"price,omitempty" db:"price"` // nil → fall back to pool price
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
}

// PricingStrategy selects how a pool ranks its members during allocation.
// A closed set; ranking lives in the pricing package.
type PricingStrategy string

const (
	StrategyLowest  PricingStrategy = "lowest"
	StrategyHighest PricingStrategy = "highest"
	StrategyAverage PricingStrategy = "average"
)

// Valid reports whether s is one of the known strategies.
func (s PricingStrategy) Valid() bool {
	switch s {
	case StrategyLowest, StrategyHighest, StrategyAverage:
		return true
	}
	return false
}

// Pool is an ordered collection of interchangeable resources sold as one
// logical product. Member order is significant: it is the stable ranking
// for the Average strategy and the tie-break for the others.
type Pool struct {
	ID              string          `json:"id" db:"id"`
	Name            string          `json:"name" db:"name"`
	MemberIDs       []string        `json:"member_ids" db:"member_ids"`
	Strategy        PricingStrategy `json:"strategy" db:"strategy"`
	OwnPrice        *Cents          `json:"own_price,omitempty" db:"own_price"` // fallback for unpriced members
	ManagesOwnStock bool            `json:"manages_own_stock" db:"manages_own_stock"`
	CreatedAt       time.Time       `json:"created_at" db:"created_at"`
}

// Cart is the cart-level record. Its window is stored verbatim — even
// unordered or past-dated — and only becomes subject to validation when
// bound to individual bookings.
type Cart struct {
	ID        string             `json:"id" db:"id"`
	Window    *timespan.Timespan `json:"window,omitempty"`
	CreatedAt time.Time          `json:"created_at" db:"created_at"`
	UpdatedAt time.Time          `json:"updated_at" db:"updated_at"`
}

// CartEntry is one draft line-allocation in a shopping session. Entries
// merge when (assigned resource, unit price, window, parameters) all
// match; any difference keeps them separate.
type CartEntry struct {
	ID                 string             `json:"id" db:"id"`
	CartID             string             `json:"cart_id" db:"cart_id"`
	PoolID             string             `json:"pool_id,omitempty" db:"pool_id"`         // set for pool-backed entries
	ResourceID         string             `json:"resource_id,omitempty" db:"resource_id"` // set for bare-resource entries
	AssignedResourceID string             `json:"assigned_resource_id" db:"assigned_resource_id"`
	Quantity           int64              `json:"quantity" db:"quantity"`
	UnitPrice          *Cents             `json:"unit_price,omitempty" db:"unit_price"` // nil → unpriced / marked unavailable
	Window             *timespan.Timespan `json:"window,omitempty"`
	Parameters         map[string]string  `json:"parameters,omitempty" db:"parameters"`
	Unavailable        bool               `json:"unavailable" db:"unavailable"` // set by reallocation fallback
	CreatedAt          time.Time          `json:"created_at" db:"created_at"`
}

// TargetID returns the pool or resource the entry was added against.
func (e *CartEntry) TargetID() string {
	if e.PoolID != "" {
		return e.PoolID
	}
	return e.ResourceID
}

// SameParameters reports whether the entry's opaque parameter map equals
// params, treating nil and empty as identical.
func (e *CartEntry) SameParameters(params map[string]string) bool {
	if len(e.Parameters) != len(params) {
		return false
	}
	for k, v := range e.Parameters {
		if params[k] != v {
			return false
		}
	}
	return true
}

// SameWindow reports whether the entry's window equals w, treating nil
// as "no window".
func (e *CartEntry) SameWindow(w *timespan.Timespan) bool {
	if e.Window == nil || w == nil {
		return e.Window == nil && w == nil
	}
	return e.Window.Equal(*w)
}
