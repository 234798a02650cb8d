package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/PratikDhanave/event-ingestion-service/internal/auth"
)

// schemaSQL is embedded so the service can self-bootstrap the api_keys table.
//
//go:embed schema.sql
var schemaSQL string

// RevocationChannel is the NOTIFY channel carrying the key_hash of revoked keys.
const RevocationChannel = "api_key_revoked"

// PostgresStore is the relational metadata store: API key bindings and
// liveness for health checks. It never writes key data.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a connection pool and fails fast if DB is unreachable.
func NewPostgresStore(ctx context.Context, dbURL string) (*PostgresStore, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		return nil, fmt.Errorf("postgres: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

// EnsureSchema applies schema.sql. Safe to run multiple times.
func (p *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, schemaSQL)
	return err
}

// Ping is used by the health endpoint to validate DB connectivity.
func (p *PostgresStore) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// Close shuts down the connection pool.
func (p *PostgresStore) Close() {
	p.pool.Close()
}

// LookupAPIKey returns the project binding for an active key. Unknown and
// revoked keys yield auth.ErrKeyNotFound.
func (p *PostgresStore) LookupAPIKey(ctx context.Context, keyHash string) (auth.Binding, error) {
	var b auth.Binding
	err := p.pool.QueryRow(ctx, `
		SELECT project_id, workspace_id
		FROM api_keys
		WHERE key_hash = $1
		  AND revoked_at IS NULL
	`, keyHash).Scan(&b.ProjectID, &b.WorkspaceID)

	if errors.Is(err, pgx.ErrNoRows) {
		return auth.Binding{}, auth.ErrKeyNotFound
	}
	if err != nil {
		return auth.Binding{}, fmt.Errorf("lookup api key: %w", err)
	}
	return b, nil
}

// ListenRevocations holds a dedicated connection subscribed to
// RevocationChannel and calls onRevoke with each notified key hash until ctx
// is cancelled. Lost connections are re-established after a short pause.
func (p *PostgresStore) ListenRevocations(ctx context.Context, log *slog.Logger, onRevoke func(keyHash string)) {
	for ctx.Err() == nil {
		err := p.listenOnce(ctx, onRevoke)
		if ctx.Err() != nil {
			return
		}
		log.Warn("revocation listener disconnected", "error", err)

		select {
		case <-ctx.Done():
			return
		case <-time.After(2 * time.Second):
		}
	}
}

func (p *PostgresStore) listenOnce(ctx context.Context, onRevoke func(string)) error {
	pooled, err := p.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	// a connection that ran LISTEN must not return to the pool
	conn := pooled.Hijack()
	defer conn.Close(context.Background())

	if _, err := conn.Exec(ctx, "LISTEN "+RevocationChannel); err != nil {
		return err
	}
	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			return err
		}
		onRevoke(n.Payload)
	}
}
