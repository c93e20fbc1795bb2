// Package pricing implements effective-price resolution and candidate
// ranking for pool allocation.
//
// A pool ranks its members by effective per-unit price under one of
// three strategies:
//   - Lowest: ascending effective price
//   - Highest: descending effective price
//   - Average: stable member order; a single assignment cannot itself
//     average, so the quoted pool price is the mean of all effective
//     member prices while allocation walks members first-to-last
//
// All amounts are integer minor units (model.Cents). Division — the
// Average mean and per-unit proration — goes through shopspring/decimal
// and rounds half-up back to whole cents. It is stateless: pool and
// member snapshots are passed as arguments, never stored.
package pricing

import (
	"errors"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/rentkit/reservation-engine/internal/model"
	"github.com/rentkit/reservation-engine/internal/timespan"
)

var (
	// ErrNoPrices is returned when a mean is requested over zero prices.
	ErrNoPrices = errors.New("pricing: no effective prices to average")
)

// Candidate is one pool member considered for allocation: its snapshot,
// resolved effective price, and remaining capacity for the requested
// window (already net of draft usage by the caller).
type Candidate struct {
	Resource  model.Resource
	Price     model.Cents
	Available int64
}

// Effective resolves the per-unit price used to rank a member: the
// member's own price if present, else the pool's fallback price. A
// member with neither is excluded from ranking (nil return).
func Effective(member model.Resource, pool model.Pool) *model.Cents {
	if member.Price != nil {
		return member.Price
	}
	return pool.OwnPrice
}

// Rank orders candidates in place according to the strategy. Sorting is
// stable so that members tie-break in pool order, and Average keeps the
// pool's member order untouched.
func Rank(candidates []Candidate, strategy model.PricingStrategy) {
	switch strategy {
	case model.StrategyLowest:
		sort.SliceStable(candidates, func(i, j int) bool {
			return candidates[i].Price < candidates[j].Price
		})
	case model.StrategyHighest:
		sort.SliceStable(candidates, func(i, j int) bool {
			return candidates[i].Price > candidates[j].Price
		})
	case model.StrategyAverage:
		// Fixed stable order: first member first.
	}
}

// Mean computes the arithmetic mean of the given prices, rounding
// half-up to whole cents.
func Mean(prices []model.Cents) (model.Cents, error) {
	if len(prices) == 0 {
		return 0, ErrNoPrices
	}
	sum := decimal.Zero
	for _, p := range prices {
		sum = sum.Add(decimal.NewFromInt(int64(p)))
	}
	mean := sum.Div(decimal.NewFromInt(int64(len(prices)))).Round(0)
	return model.Cents(mean.IntPart()), nil
}

// LineTotal prices a draft line: unit price times the window's billable
// units times quantity. A nil window bills one unit per item.
func LineTotal(unit model.Cents, qty int64, window *timespan.Timespan) model.Cents {
	units := int64(1)
	if window != nil {
		units = window.BillableUnits()
	}
	return unit * model.Cents(units) * model.Cents(qty)
}
