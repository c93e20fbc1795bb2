package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rentkit/reservation-engine/internal/model"
	"github.com/rentkit/reservation-engine/internal/timespan"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// Monetary amounts are stored as BIGINT minor units; window bounds as
// nullable TIMESTAMPTZ so half-open and unbounded windows round-trip.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// --- Resources ---

func (s *PostgresStore) CreateResource(ctx context.Context, r *model.Resource) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO resources (id, name, manages_own_stock, time_bound, price, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		r.ID, r.Name, r.ManagesOwnStock, r.TimeBound, centsParam(r.Price), r.CreatedAt,
	)
	return err
}

func (s *PostgresStore) GetResource(ctx context.Context, id string) (*model.Resource, error) {
	var r model.Resource
	var price *int64

	err := s.pool.QueryRow(ctx,
		`SELECT id, name, manages_own_stock, time_bound, price, created_at
		 FROM resources WHERE id = $1`, id).
		Scan(&r.ID, &r.Name, &r.ManagesOwnStock, &r.TimeBound, &price, &r.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("resource %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get resource %s: %w", id, err)
	}

	r.Price = centsFromParam(price)
	return &r, nil
}

func (s *PostgresStore) ListResources(ctx context.Context) ([]model.Resource, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, manages_own_stock, time_bound, price, created_at
		 FROM resources ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var resources []model.Resource
	for rows.Next() {
		var r model.Resource
		var price *int64
		if err := rows.Scan(&r.ID, &r.Name, &r.ManagesOwnStock, &r.TimeBound, &price, &r.CreatedAt); err != nil {
			return nil, err
		}
		r.Price = centsFromParam(price)
		resources = append(resources, r)
	}
	return resources, rows.Err()
}

func (s *PostgresStore) UpdateResourcePrice(ctx context.Context, id string, price *model.Cents) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE resources SET price = $2 WHERE id = $1`, id, centsParam(price))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("resource %s: %w", id, ErrNotFound)
	}
	return nil
}

// --- Pools ---

func (s *PostgresStore) CreatePool(ctx context.Context, p *model.Pool) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO pools (id, name, member_ids, strategy, own_price, manages_own_stock, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		p.ID, p.Name, p.MemberIDs, string(p.Strategy), centsParam(p.OwnPrice),
		p.ManagesOwnStock, p.CreatedAt,
	)
	return err
}

func (s *PostgresStore) GetPool(ctx context.Context, id string) (*model.Pool, error) {
	var p model.Pool
	var strategy string
	var ownPrice *int64

	err := s.pool.QueryRow(ctx,
		`SELECT id, name, member_ids, strategy, own_price, manages_own_stock, created_at
		 FROM pools WHERE id = $1`, id).
		Scan(&p.ID, &p.Name, &p.MemberIDs, &strategy, &ownPrice, &p.ManagesOwnStock, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("pool %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get pool %s: %w", id, err)
	}

	p.Strategy = model.PricingStrategy(strategy)
	p.OwnPrice = centsFromParam(ownPrice)
	return &p, nil
}

func (s *PostgresStore) ListPools(ctx context.Context) ([]model.Pool, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, member_ids, strategy, own_price, manages_own_stock, created_at
		 FROM pools ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pools []model.Pool
	for rows.Next() {
		var p model.Pool
		var strategy string
		var ownPrice *int64
		if err := rows.Scan(&p.ID, &p.Name, &p.MemberIDs, &strategy, &ownPrice,
			&p.ManagesOwnStock, &p.CreatedAt); err != nil {
			return nil, err
		}
		p.Strategy = model.PricingStrategy(strategy)
		p.OwnPrice = centsFromParam(ownPrice)
		pools = append(pools, p)
	}
	return pools, rows.Err()
}

// --- Stock ledger ---

const insertLedgerEntrySQL = `
	INSERT INTO ledger_entries
		(id, resource_id, quantity, kind, status, window_from, window_until, created_at, note, reference)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

func (s *PostgresStore) InsertLedgerEntry(ctx context.Context, e *model.LedgerEntry) error {
	from, until := windowBounds(e.Window)
	_, err := s.pool.Exec(ctx, insertLedgerEntrySQL,
		e.ID, e.ResourceID, e.Quantity, string(e.Kind), string(e.Status),
		from, until, e.CreatedAt, e.Note, e.Reference,
	)
	return err
}

// InsertLedgerEntryPair appends a claim's decrease and pending marker
// inside one serializable transaction. The check runs against the
// ledger rows read in that same transaction, so the read-then-write
// pair forms a dependency with any concurrent claim on the same ledger
// and one of the two transactions is forced to retry instead of both
// committing an overdraw.
func (s *PostgresStore) InsertLedgerEntryPair(ctx context.Context, decrease, marker *model.LedgerEntry, check func([]model.LedgerEntry) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return fmt.Errorf("begin claim tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if check != nil {
		rows, err := tx.Query(ctx,
			`SELECT id, resource_id, quantity, kind, status, window_from, window_until, created_at, note, reference
			 FROM ledger_entries WHERE resource_id = $1 ORDER BY created_at, id`, decrease.ResourceID)
		if err != nil {
			return fmt.Errorf("read ledger for claim check: %w", err)
		}
		entries, err := scanLedgerEntries(rows)
		rows.Close()
		if err != nil {
			return fmt.Errorf("read ledger for claim check: %w", err)
		}
		if err := check(entries); err != nil {
			return err
		}
	}

	for _, e := range []*model.LedgerEntry{decrease, marker} {
		from, until := windowBounds(e.Window)
		if _, err := tx.Exec(ctx, insertLedgerEntrySQL,
			e.ID, e.ResourceID, e.Quantity, string(e.Kind), string(e.Status),
			from, until, e.CreatedAt, e.Note, e.Reference,
		); err != nil {
			return fmt.Errorf("insert claim pair: %w", err)
		}
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) LedgerEntriesByResource(ctx context.Context, resourceID string) ([]model.LedgerEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, resource_id, quantity, kind, status, window_from, window_until, created_at, note, reference
		 FROM ledger_entries WHERE resource_id = $1 ORDER BY created_at, id`, resourceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanLedgerEntries(rows)
}

func (s *PostgresStore) PendingClaimByReference(ctx context.Context, reference string) (*model.LedgerEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, resource_id, quantity, kind, status, window_from, window_until, created_at, note, reference
		 FROM ledger_entries
		 WHERE reference = $1 AND kind = 'claim' AND status = 'pending'
		 LIMIT 1`, reference)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries, err := scanLedgerEntries(rows)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("pending claim %s: %w", reference, ErrNotFound)
	}
	return &entries[0], nil
}

func (s *PostgresStore) CompleteLedgerEntry(ctx context.Context, entryID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE ledger_entries SET status = 'completed' WHERE id = $1`, entryID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("ledger entry %s: %w", entryID, ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) CompleteExpiredClaims(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE ledger_entries SET status = 'completed'
		 WHERE kind = 'claim' AND status = 'pending'
		   AND window_until IS NOT NULL AND window_until <= $1`, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// --- Carts ---

func (s *PostgresStore) UpsertCart(ctx context.Context, c *model.Cart) error {
	from, until := windowBounds(c.Window)
	_, err := s.pool.Exec(ctx,
		`INSERT INTO carts (id, window_from, window_until, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (id) DO UPDATE
		 SET window_from = EXCLUDED.window_from,
		     window_until = EXCLUDED.window_until,
		     updated_at = EXCLUDED.updated_at`,
		c.ID, from, until, c.CreatedAt, c.UpdatedAt,
	)
	return err
}

func (s *PostgresStore) GetCart(ctx context.Context, id string) (*model.Cart, error) {
	var c model.Cart
	var from, until *time.Time

	err := s.pool.QueryRow(ctx,
		`SELECT id, window_from, window_until, created_at, updated_at
		 FROM carts WHERE id = $1`, id).
		Scan(&c.ID, &from, &until, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("cart %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get cart %s: %w", id, err)
	}

	c.Window = windowFromBounds(from, until)
	return &c, nil
}

func (s *PostgresStore) InsertCartEntry(ctx context.Context, e *model.CartEntry) error {
	params, err := json.Marshal(e.Parameters)
	if err != nil {
		return fmt.Errorf("marshal cart entry parameters: %w", err)
	}
	from, until := windowBounds(e.Window)
	_, err = s.pool.Exec(ctx,
		`INSERT INTO cart_entries
			(id, cart_id, pool_id, resource_id, assigned_resource_id, quantity,
			 unit_price, window_from, window_until, parameters, unavailable, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		e.ID, e.CartID, e.PoolID, e.ResourceID, e.AssignedResourceID, e.Quantity,
		centsParam(e.UnitPrice), from, until, params, e.Unavailable, e.CreatedAt,
	)
	return err
}

func (s *PostgresStore) UpdateCartEntry(ctx context.Context, e *model.CartEntry) error {
	params, err := json.Marshal(e.Parameters)
	if err != nil {
		return fmt.Errorf("marshal cart entry parameters: %w", err)
	}
	from, until := windowBounds(e.Window)
	tag, err := s.pool.Exec(ctx,
		`UPDATE cart_entries
		 SET assigned_resource_id = $2, quantity = $3, unit_price = $4,
		     window_from = $5, window_until = $6, parameters = $7, unavailable = $8
		 WHERE id = $1`,
		e.ID, e.AssignedResourceID, e.Quantity, centsParam(e.UnitPrice),
		from, until, params, e.Unavailable,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("cart entry %s: %w", e.ID, ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) DeleteCartEntry(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM cart_entries WHERE id = $1`, id)
	return err
}

func (s *PostgresStore) CartEntries(ctx context.Context, cartID string) ([]model.CartEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, cart_id, pool_id, resource_id, assigned_resource_id, quantity,
		        unit_price, window_from, window_until, parameters, unavailable, created_at
		 FROM cart_entries WHERE cart_id = $1 ORDER BY created_at, id`, cartID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []model.CartEntry
	for rows.Next() {
		var e model.CartEntry
		var price *int64
		var from, until *time.Time
		var params []byte
		if err := rows.Scan(&e.ID, &e.CartID, &e.PoolID, &e.ResourceID, &e.AssignedResourceID,
			&e.Quantity, &price, &from, &until, &params, &e.Unavailable, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.UnitPrice = centsFromParam(price)
		e.Window = windowFromBounds(from, until)
		if len(params) > 0 {
			if err := json.Unmarshal(params, &e.Parameters); err != nil {
				return nil, fmt.Errorf("unmarshal cart entry parameters: %w", err)
			}
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *PostgresStore) DeleteCartEntries(ctx context.Context, cartID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM cart_entries WHERE cart_id = $1`, cartID)
	return err
}

// --- Scan helpers ---

type pgxRows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
}

func scanLedgerEntries(rows pgxRows) ([]model.LedgerEntry, error) {
	var entries []model.LedgerEntry
	for rows.Next() {
		var e model.LedgerEntry
		var kind, status string
		var from, until *time.Time

		if err := rows.Scan(&e.ID, &e.ResourceID, &e.Quantity, &kind, &status,
			&from, &until, &e.CreatedAt, &e.Note, &e.Reference); err != nil {
			return nil, err
		}

		e.Kind = model.EntryKind(kind)
		e.Status = model.EntryStatus(status)
		e.Window = windowFromBounds(from, until)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func centsParam(c *model.Cents) *int64 {
	if c == nil {
		return nil
	}
	v := int64(*c)
	return &v
}

func centsFromParam(v *int64) *model.Cents {
	if v == nil {
		return nil
	}
	c := model.Cents(*v)
	return &c
}

func windowBounds(w *timespan.Timespan) (*time.Time, *time.Time) {
	if w == nil {
		return nil, nil
	}
	return w.From, w.Until
}

func windowFromBounds(from, until *time.Time) *timespan.Timespan {
	if from == nil && until == nil {
		return nil
	}
	return &timespan.Timespan{From: from, Until: until}
}
