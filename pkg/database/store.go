// Package database provides the PostgreSQL event store and ASN-to-country
// resolution.
package database

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"log/slog"
	"net/netip"
	"time"

	"github.com/lib/pq"

	"github.com/hervehildenbrand/bgp-shortlived/pkg/codec"
	"github.com/hervehildenbrand/bgp-shortlived/pkg/ingest"
	"github.com/hervehildenbrand/bgp-shortlived/pkg/models"
)

//go:embed schema.sql
var schema string

const (
	defaultMaxOpenConns = 10
	tableName           = "announcement"
)

var copyColumns = []string{"id", "asn", "withdraw", "timestamp", "prefix", "as_path"}

const shortLivedQuery = `
SELECT a.asn, a.prefix::text, a.timestamp, MIN(w.timestamp)
FROM announcement a
JOIN announcement w
  ON w.asn = a.asn
 AND w.prefix = a.prefix
 AND w.withdraw
 AND w.timestamp > a.timestamp
 AND w.timestamp - a.timestamp <= $1
 AND w.timestamp < $3 + $1
WHERE NOT a.withdraw
  AND a.timestamp >= $2
  AND a.timestamp < $3
GROUP BY a.id, a.asn, a.prefix, a.timestamp
ORDER BY a.timestamp, a.asn, a.prefix
LIMIT $4`

const containingIPQuery = `
SELECT id::text, asn, withdraw, timestamp, prefix::text, as_path::text
FROM announcement
WHERE prefix >>= $1::inet
ORDER BY timestamp
LIMIT $2`

// Store is the append-only announcement table.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open connects to PostgreSQL and verifies the connection.
func Open(ctx context.Context, databaseURL string, maxOpenConns int, logger *slog.Logger) (*Store, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, err
	}

	if maxOpenConns <= 0 {
		maxOpenConns = defaultMaxOpenConns
	}
	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxOpenConns / 2)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := NewStore(db, logger)
	s.logger.Info("connected to PostgreSQL")
	return s, nil
}

// NewStore wraps an existing handle.
func NewStore(db *sql.DB, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, logger: logger.With("component", "store")}
}

// DB returns the underlying handle.
func (s *Store) DB() *sql.DB { return s.db }

// Close releases the connection pool.
func (s *Store) Close() error { return s.db.Close() }

// Migrate creates the type, table and indexes if missing.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Truncate removes every announcement. Used before a full reload.
func (s *Store) Truncate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "TRUNCATE TABLE "+tableName); err != nil {
		return fmt.Errorf("truncate %s: %w", tableName, err)
	}
	s.logger.Info("announcement table truncated")
	return nil
}

// Count returns the number of stored announcements.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, "SELECT count(*) FROM "+tableName).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %v: %w", tableName, err, models.ErrStoreQuery)
	}
	return n, nil
}

// Begin opens a COPY session inside a new transaction.
func (s *Store) Begin() (ingest.Session, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	stmt, err := tx.Prepare(pq.CopyIn(tableName, copyColumns...))
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("prepare copy: %w", err)
	}
	return &CopySession{tx: tx, stmt: stmt}, nil
}

// CopySession streams rows into one COPY ... FROM STDIN.
type CopySession struct {
	tx   *sql.Tx
	stmt *sql.Stmt
	rows int
}

// Write queues one row.
func (c *CopySession) Write(rec models.PersistedAnnouncement) error {
	_, err := c.stmt.Exec(
		rec.ID,
		int64(rec.Origin),
		rec.Withdraw,
		rec.Timestamp,
		rec.Prefix.Masked().String(),
		codec.FormatASPath(rec.ASPath),
	)
	if err != nil {
		return fmt.Errorf("copy row %s: %w", rec.ID, err)
	}
	c.rows++
	return nil
}

// Commit flushes the COPY and commits the transaction.
func (c *CopySession) Commit() error {
	if _, err := c.stmt.Exec(); err != nil {
		c.stmt.Close()
		c.tx.Rollback()
		return fmt.Errorf("flush copy of %d rows: %w", c.rows, err)
	}
	if err := c.stmt.Close(); err != nil {
		c.tx.Rollback()
		return fmt.Errorf("close copy: %w", err)
	}
	if err := c.tx.Commit(); err != nil {
		return fmt.Errorf("commit copy: %w", err)
	}
	return nil
}

// Rollback abandons the COPY and the transaction.
func (c *CopySession) Rollback() error {
	c.stmt.Close()
	return c.tx.Rollback()
}

// ShortLived runs the windowed self-join for one sub-range.
func (s *Store) ShortLived(ctx context.Context, q models.WindowQuery) ([]models.PotentialHijack, error) {
	var limit sql.NullInt64
	if q.Limit > 0 {
		limit = sql.NullInt64{Int64: int64(q.Limit), Valid: true}
	}

	rows, err := s.db.QueryContext(ctx, shortLivedQuery, q.Window, q.Start, q.Stop, limit)
	if err != nil {
		return nil, fmt.Errorf("short-lived query [%.0f, %.0f): %v: %w", q.Start, q.Stop, err, models.ErrStoreQuery)
	}
	defer rows.Close()

	var out []models.PotentialHijack
	for rows.Next() {
		var (
			asn    int64
			prefix string
			h      models.PotentialHijack
		)
		if err := rows.Scan(&asn, &prefix, &h.AnnTime, &h.WdTime); err != nil {
			return nil, fmt.Errorf("scan short-lived row: %v: %w", err, models.ErrStoreQuery)
		}
		if h.Prefix, err = netip.ParsePrefix(prefix); err != nil {
			return nil, fmt.Errorf("short-lived row prefix %q: %v: %w", prefix, err, models.ErrStoreQuery)
		}
		h.Origin = uint32(asn)
		out = append(out, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("short-lived rows: %v: %w", err, models.ErrStoreQuery)
	}
	return out, nil
}

// ContainingIP returns announcements whose prefix contains ip, oldest first.
// limit <= 0 returns every match.
func (s *Store) ContainingIP(ctx context.Context, ip netip.Addr, limit int) ([]models.PersistedAnnouncement, error) {
	if !ip.IsValid() {
		return nil, fmt.Errorf("invalid address")
	}
	var lim sql.NullInt64
	if limit > 0 {
		lim = sql.NullInt64{Int64: int64(limit), Valid: true}
	}

	rows, err := s.db.QueryContext(ctx, containingIPQuery, ip.String(), lim)
	if err != nil {
		return nil, fmt.Errorf("containing %s: %v: %w", ip, err, models.ErrStoreQuery)
	}
	defer rows.Close()

	var out []models.PersistedAnnouncement
	for rows.Next() {
		var (
			rec    models.PersistedAnnouncement
			asn    int64
			prefix string
			path   string
		)
		if err := rows.Scan(&rec.ID, &asn, &rec.Withdraw, &rec.Timestamp, &prefix, &path); err != nil {
			return nil, fmt.Errorf("scan announcement: %v: %w", err, models.ErrStoreQuery)
		}
		rec.Origin = uint32(asn)
		if rec.Prefix, err = netip.ParsePrefix(prefix); err != nil {
			return nil, fmt.Errorf("announcement %s prefix: %v: %w", rec.ID, err, models.ErrStoreQuery)
		}
		if rec.ASPath, err = codec.ParseASPath(path); err != nil {
			return nil, fmt.Errorf("announcement %s: %v: %w", rec.ID, err, models.ErrStoreQuery)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("announcement rows: %v: %w", err, models.ErrStoreQuery)
	}
	return out, nil
}
