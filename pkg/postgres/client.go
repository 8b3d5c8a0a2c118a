package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/Adithya-Monish-Kumar-K/visual-search/pkg/config"
)

// Schema creates the descriptor source tables, the API key table and the
// query statistics snapshot table.
const Schema = `
CREATE TABLE IF NOT EXISTS documents (
    id          BIGINT PRIMARY KEY,
    corpus      TEXT NOT NULL,
    label       TEXT,
    captured_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS documents_corpus_idx ON documents (corpus);

CREATE TABLE IF NOT EXISTS descriptors (
    document_id BIGINT NOT NULL REFERENCES documents (id) ON DELETE CASCADE,
    fx          INT NOT NULL,
    vector      BYTEA NOT NULL,
    kp_x        REAL NOT NULL DEFAULT 0,
    kp_y        REAL NOT NULL DEFAULT 0,
    kp_scale    REAL NOT NULL DEFAULT 0,
    kp_ori      REAL NOT NULL DEFAULT 0,
    PRIMARY KEY (document_id, fx)
);

CREATE TABLE IF NOT EXISTS vocabularies (
    name      TEXT PRIMARY KEY,
    dimension INT NOT NULL,
    centroids BYTEA NOT NULL
);

CREATE TABLE IF NOT EXISTS api_keys (
    id                 BIGSERIAL PRIMARY KEY,
    key_hash           TEXT NOT NULL UNIQUE,
    name               TEXT NOT NULL,
    queries_per_minute INT NOT NULL DEFAULT 0,
    is_active          BOOLEAN NOT NULL DEFAULT TRUE,
    created_at         TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    expires_at         TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS query_stats_snapshots (
    id          BIGSERIAL PRIMARY KEY,
    data        JSONB NOT NULL,
    captured_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);`

type Client struct {
	DB  *sql.DB
	cfg config.PostgresConfig
}

func New(cfg config.PostgresConfig) (*Client, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("opening postgres connection: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	return &Client{DB: db, cfg: cfg}, nil
}

func (c *Client) Close() error {
	return c.DB.Close()
}

// Migrate applies Schema. It is safe to run repeatedly.
func (c *Client) Migrate(ctx context.Context) error {
	if _, err := c.DB.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("applying schema: %w", err)
	}
	return nil
}

// Ping reports whether the database is reachable, for health checks.
func (c *Client) Ping(ctx context.Context) error {
	return c.DB.PingContext(ctx)
}

func (c *Client) InTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := c.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("rolling back transaction after error %v: %w", rbErr, err)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}

	return nil
}
