// Package postgres provides the Postgres-backed delivery ledger.
package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/JakeFAU/notice-notifier/internal/notice"
)

// Config controls the Postgres connection pool and startup behavior.
type Config struct {
	DSN             string
	RequireSSL      bool
	Migrate         bool
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// pool is the subset of pgxpool.Pool the ledger uses.
type pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// Ledger implements notice.AdminLedger on Postgres. Each statement runs in
// its own implicit transaction.
type Ledger struct {
	pool pool
}

// NewLedger migrates the schema when enabled and opens a connection pool.
func NewLedger(ctx context.Context, cfg Config, logger *zap.Logger) (*Ledger, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	dsn := cfg.DSN
	if cfg.RequireSSL {
		dsn = EnsureSSLMode(dsn)
	}
	if cfg.Migrate {
		if err := Migrate(dsn, logger); err != nil {
			return nil, err
		}
	}

	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Ledger{pool: p}, nil
}

// NewLedgerWithPool constructs a ledger from an existing pool (primarily for testing).
func NewLedgerWithPool(p pool) (*Ledger, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Ledger{pool: p}, nil
}

// Close releases the underlying pool resources.
func (l *Ledger) Close() {
	if l == nil || l.pool == nil {
		return
	}
	l.pool.Close()
}

// Ping checks connectivity.
func (l *Ledger) Ping(ctx context.Context) error {
	if err := l.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// IsDelivered reports whether link has a posts row.
func (l *Ledger) IsDelivered(ctx context.Context, link string) (bool, error) {
	return l.exists(ctx, `SELECT EXISTS (SELECT 1 FROM posts WHERE link = $1)`, link)
}

// MarkDelivered inserts link; an existing row is left untouched.
func (l *Ledger) MarkDelivered(ctx context.Context, link, title string) error {
	if _, err := l.pool.Exec(ctx,
		`INSERT INTO posts (link, title) VALUES ($1, $2) ON CONFLICT (link) DO NOTHING`,
		link, title,
	); err != nil {
		return fmt.Errorf("insert post: %w", err)
	}
	return nil
}

// ListSubscribers returns user ids in subscription order.
func (l *Ledger) ListSubscribers(ctx context.Context) ([]string, error) {
	rows, err := l.pool.Query(ctx, `SELECT user_id FROM subscribers ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("query subscribers: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan subscriber: %w", err)
		}
		out = append(out, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate subscribers: %w", err)
	}
	return out, nil
}

// AddSubscriber reports true when a row was inserted.
func (l *Ledger) AddSubscriber(ctx context.Context, userID string) (bool, error) {
	userID = notice.NormalizeSubscriberID(userID)
	if userID == "" {
		return false, nil
	}
	tag, err := l.pool.Exec(ctx,
		`INSERT INTO subscribers (user_id) VALUES ($1) ON CONFLICT (user_id) DO NOTHING`,
		userID,
	)
	if err != nil {
		return false, fmt.Errorf("insert subscriber: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// RemoveSubscriber reports true when a row was deleted.
func (l *Ledger) RemoveSubscriber(ctx context.Context, userID string) (bool, error) {
	userID = notice.NormalizeSubscriberID(userID)
	if userID == "" {
		return false, nil
	}
	tag, err := l.pool.Exec(ctx, `DELETE FROM subscribers WHERE user_id = $1`, userID)
	if err != nil {
		return false, fmt.Errorf("delete subscriber: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// IsSubscribed reports whether userID has a subscribers row.
func (l *Ledger) IsSubscribed(ctx context.Context, userID string) (bool, error) {
	userID = notice.NormalizeSubscriberID(userID)
	if userID == "" {
		return false, nil
	}
	return l.exists(ctx, `SELECT EXISTS (SELECT 1 FROM subscribers WHERE user_id = $1)`, userID)
}

// ClearSubscribers deletes every subscriber.
func (l *Ledger) ClearSubscribers(ctx context.Context) (int64, error) {
	tag, err := l.pool.Exec(ctx, `DELETE FROM subscribers`)
	if err != nil {
		return 0, fmt.Errorf("clear subscribers: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ClearDelivered deletes every delivered post.
func (l *Ledger) ClearDelivered(ctx context.Context) (int64, error) {
	tag, err := l.pool.Exec(ctx, `DELETE FROM posts`)
	if err != nil {
		return 0, fmt.Errorf("clear posts: %w", err)
	}
	return tag.RowsAffected(), nil
}

// CountDelivered returns the number of delivered posts.
func (l *Ledger) CountDelivered(ctx context.Context) (int64, error) {
	var n int64
	if err := l.pool.QueryRow(ctx, `SELECT COUNT(*) FROM posts`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count posts: %w", err)
	}
	return n, nil
}

func (l *Ledger) exists(ctx context.Context, query string, arg string) (bool, error) {
	var ok bool
	if err := l.pool.QueryRow(ctx, query, arg).Scan(&ok); err != nil {
		return false, fmt.Errorf("query exists: %w", err)
	}
	return ok, nil
}

var _ notice.AdminLedger = (*Ledger)(nil)
