// Package postgres implements the audit trail on PostgreSQL for
// deployments that already run one. Entries carry the same hash chain as
// the bbolt backend, so either trail verifies with the same walk.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vpnforge/vpnforge/audit"
)

// Store implements audit.Trail backed by PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

var _ audit.Trail = (*Store)(nil)

// NewStore returns a Store over the given pgx connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// NewStoreFromDSN creates a connection pool from a DSN string, ensures the
// schema exists, and returns a new Store.
func NewStoreFromDSN(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := EnsureSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensuring schema: %w", err)
	}
	return NewStore(pool), nil
}

// Pool returns the underlying connection pool.
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// Record appends an event to the chain. The table is locked for the
// duration of the transaction so concurrent writers cannot fork the chain.
func (s *Store) Record(ctx context.Context, ev audit.Event) error {
	if ev.Type == "" {
		return fmt.Errorf("audit event has no type")
	}
	detail, err := json.Marshal(ev.Detail)
	if err != nil {
		return fmt.Errorf("encoding audit detail: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `LOCK TABLE audit_events IN EXCLUSIVE MODE`); err != nil {
		return err
	}

	prev := audit.GenesisHash
	var (
		lastID   string
		lastPrev string
		lastTime time.Time
	)
	err = tx.QueryRow(ctx,
		`SELECT id, prev_hash, time FROM audit_events ORDER BY seq DESC LIMIT 1`).
		Scan(&lastID, &lastPrev, &lastTime)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		// First entry anchors at the genesis hash.
	case err != nil:
		return err
	default:
		prev = audit.ChainHash(lastID, lastPrev, lastTime)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO audit_events (id, type, entity, actor, remote_addr, result, detail, time, prev_hash)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		ev.ID, string(ev.Type), ev.Entity, ev.Actor, ev.RemoteAddr, string(ev.Result),
		detail, ev.Time, prev)
	if err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// List returns up to limit events, newest first. A non-positive limit
// returns everything.
func (s *Store) List(limit int) ([]audit.Event, error) {
	q := `SELECT id, type, entity, actor, remote_addr, result, COALESCE(detail::text, 'null'), time
	      FROM audit_events ORDER BY seq DESC`
	args := []any{}
	if limit > 0 {
		q += ` LIMIT $1`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(context.Background(), q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []audit.Event
	for rows.Next() {
		var (
			ev     audit.Event
			typ    string
			result string
			detail string
		)
		if err := rows.Scan(&ev.ID, &typ, &ev.Entity, &ev.Actor, &ev.RemoteAddr,
			&result, &detail, &ev.Time); err != nil {
			return nil, err
		}
		ev.Type = audit.EventType(typ)
		ev.Result = audit.Result(result)
		if err := json.Unmarshal([]byte(detail), &ev.Detail); err != nil {
			return nil, fmt.Errorf("decoding audit detail for %s: %w", ev.ID, err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// Verify walks the chain oldest-first, recomputing every link, and returns
// the number of entries checked.
func (s *Store) Verify() (int, error) {
	rows, err := s.pool.Query(context.Background(),
		`SELECT id, time, prev_hash FROM audit_events ORDER BY seq`)
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	n := 0
	prev := audit.GenesisHash
	for rows.Next() {
		var (
			id       string
			t        time.Time
			prevHash string
		)
		if err := rows.Scan(&id, &t, &prevHash); err != nil {
			return 0, err
		}
		if prevHash != prev {
			return 0, fmt.Errorf("audit chain broken at entry %d (id=%s)", n, id)
		}
		prev = audit.ChainHash(id, prevHash, t)
		n++
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}
	return n, nil
}
