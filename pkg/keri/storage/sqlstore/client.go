// Copyright 2025 Certen Protocol
//
// Package sqlstore provides an optional Postgres-backed implementation of
// the two tables spec §6.3 calls out as benefiting from queryable secondary
// lookups: duplicitous events (forensic audit, "find every fork seen for
// prefix X") and accepted replies (BADA state, "find every KSN this node
// holds for signer Y"). The KV-backed pkg/keri/storage.Store remains the
// primary, required implementation; this package is an additive option for
// deployments that already run Postgres for other services.
//
// Grounded on pkg/database/client.go's connection-pooling Client and
// pkg/database/repository_anchor.go's repository-per-table shape.
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/certen/keri-core/pkg/keri/config"
)

// Client wraps a pooled Postgres connection.
type Client struct {
	db *sql.DB
}

// NewClient opens a connection pool against cfg.Database and verifies
// connectivity with a short-lived ping, matching database.NewClient's
// "fail fast if the database is unreachable at startup" behavior.
func NewClient(cfg config.DatabaseSettings) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("sqlstore: database.url is empty")
	}
	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxConnections)
	db.SetMaxIdleConns(cfg.MinConnections)
	db.SetConnMaxIdleTime(cfg.MaxIdleTime.Duration())
	db.SetConnMaxLifetime(cfg.MaxLifetime.Duration())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlstore: ping database: %w", err)
	}

	return &Client{db: db}, nil
}

// Close releases the underlying connection pool.
func (c *Client) Close() error { return c.db.Close() }

// Ping verifies the connection is alive.
func (c *Client) Ping(ctx context.Context) error { return c.db.PingContext(ctx) }

const schema = `
CREATE TABLE IF NOT EXISTS keri_duplicitous_events (
	prefix     TEXT NOT NULL,
	sn         BIGINT NOT NULL,
	said       TEXT NOT NULL,
	event_json JSONB NOT NULL,
	raw        BYTEA NOT NULL,
	seen_at    TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (prefix, sn, said)
);

CREATE TABLE IF NOT EXISTS keri_accepted_replies (
	prefix        TEXT NOT NULL,
	signer_prefix TEXT NOT NULL,
	ksn_json      JSONB NOT NULL,
	raw           BYTEA NOT NULL,
	accepted_at   TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (prefix, signer_prefix)
);
`

// EnsureSchema creates the tables this package needs if they do not already
// exist. Idempotent; safe to call on every startup.
func (c *Client) EnsureSchema(ctx context.Context) error {
	if _, err := c.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("sqlstore: ensure schema: %w", err)
	}
	return nil
}
