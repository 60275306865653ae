// Package storage persists crawl batches to Postgres.
package storage

import (
	"context"
	"fmt"
	"regexp"

	"sjsage522/pricecrawler/internal/crawler"
	"sjsage522/pricecrawler/logger"
	"sjsage522/pricecrawler/pkg/errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// PersistStatus is the batch-level result of a write
type PersistStatus string

const (
	// PersistSuccess means every record was committed
	PersistSuccess PersistStatus = "success"
	// PersistPartialFailure means an insert failed and the batch was rolled back
	PersistPartialFailure PersistStatus = "partial_failure"
)

// PersistOutcome reports what reached durable storage. Written counts committed
// rows; Attempted counts inserts that succeeded inside the transaction before
// it was rolled back.
type PersistOutcome struct {
	Status    PersistStatus `json:"status"`
	Written   int           `json:"written"`
	Attempted int           `json:"attempted"`
	Err       error         `json:"-"`
}

// Config controls the Postgres connection pool
type Config struct {
	DSN      string
	Table    string
	MaxConns int32
}

type pool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Ping(ctx context.Context) error
	Close()
}

// ProductStore writes crawl batches into the products table
type ProductStore struct {
	pool  pool
	table string
	log   *logger.Logger
}

// NewProductStore opens and pings a pgx pool
func NewProductStore(ctx context.Context, cfg Config) (*ProductStore, error) {
	if cfg.DSN == "" {
		return nil, errors.NewConfiguration("DATABASE_URL is required", nil)
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := p.Ping(ctx); err != nil {
		p.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return NewProductStoreWithPool(p, cfg.Table)
}

// NewProductStoreWithPool constructs a store from an existing pool (primarily for testing)
func NewProductStoreWithPool(p pool, table string) (*ProductStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "products"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &ProductStore{pool: p, table: table, log: logger.ForStorage()}, nil
}

// Close releases the underlying pool resources
func (s *ProductStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the products table if it does not exist.
// Rows are append-only; repeated crawls of the same product add new rows.
func (s *ProductStore) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	name TEXT NOT NULL,
	price TEXT NOT NULL,
	old_price TEXT,
	link TEXT NOT NULL,
	scraped_at DATE NOT NULL
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return errors.NewPersistence(s.table, "create table", err)
	}
	return nil
}

// Persist writes the batch in a single transaction. The first failed insert
// stops the batch and rolls the transaction back, so either every record is
// committed or none is.
func (s *ProductStore) Persist(ctx context.Context, batch crawler.CrawlBatch) PersistOutcome {
	if len(batch) == 0 {
		return PersistOutcome{Status: PersistSuccess}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return s.fail(0, errors.NewPersistence(s.table, "begin transaction", err))
	}

	query := fmt.Sprintf(
		`INSERT INTO %s (name, price, old_price, link, scraped_at) VALUES ($1, $2, $3, $4, $5)`,
		s.table,
	)

	for i, record := range batch {
		if _, err := tx.Exec(ctx, query,
			record.Name,
			record.Price,
			record.OldPrice,
			record.Link,
			record.ScrapedAt,
		); err != nil {
			insertErr := errors.NewPersistence(s.table, fmt.Sprintf("insert record %d (%s)", i, record.Link), err)
			if rbErr := tx.Rollback(ctx); rbErr != nil {
				s.log.Error().Err(rbErr).Msg("Rollback failed")
			}
			return s.fail(i, insertErr)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return s.fail(len(batch), errors.NewPersistence(s.table, "commit transaction", err))
	}

	s.log.Info().Int("records", len(batch)).Msg("Batch committed")
	return PersistOutcome{Status: PersistSuccess, Written: len(batch), Attempted: len(batch)}
}

func (s *ProductStore) fail(attempted int, err error) PersistOutcome {
	s.log.WithError(err).Error().
		Int("attempted", attempted).
		Msg("Batch rolled back")
	return PersistOutcome{Status: PersistPartialFailure, Attempted: attempted, Err: err}
}
