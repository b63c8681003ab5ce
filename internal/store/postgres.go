package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresBackend persists one row per conversation keyed by phone number.
// The row upsert is atomic, so concurrent appends to different conversations
// never clobber each other.
type PostgresBackend struct {
	pool *pgxpool.Pool
}

// NewPostgresBackend connects to the database, runs pending migrations and
// verifies the connection.
func NewPostgresBackend(ctx context.Context, databaseURL string) (*PostgresBackend, error) {
	if _, err := Migrate(databaseURL); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &PostgresBackend{pool: pool}, nil
}

// LoadAll reads every conversation row.
func (b *PostgresBackend) LoadAll(ctx context.Context) (Snapshot, error) {
	rows, err := b.pool.Query(ctx, `SELECT phone_key, payload FROM conversations`)
	if err != nil {
		return nil, fmt.Errorf("query conversations: %w", err)
	}
	defer rows.Close()

	snapshot := make(Snapshot)
	for rows.Next() {
		var key string
		var payload []byte
		if err := rows.Scan(&key, &payload); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		var conv Conversation
		if err := json.Unmarshal(payload, &conv); err != nil {
			return nil, fmt.Errorf("decode conversation %q: %w", key, err)
		}
		snapshot[key] = &conv
	}
	return snapshot, rows.Err()
}

// UpsertConversation writes one conversation row atomically.
func (b *PostgresBackend) UpsertConversation(ctx context.Context, c *Conversation) error {
	payload, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode conversation: %w", err)
	}
	_, err = b.pool.Exec(ctx, `
		INSERT INTO conversations (phone_key, name, unread_count, payload, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (phone_key) DO UPDATE SET
			name = excluded.name,
			unread_count = excluded.unread_count,
			payload = excluded.payload,
			updated_at = excluded.updated_at`,
		c.PhoneKey, c.Name, c.UnreadCount, payload)
	return err
}

// SaveAll replaces the whole table with the given snapshot in one
// transaction.
func (b *PostgresBackend) SaveAll(ctx context.Context, s Snapshot) error {
	tx, err := b.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM conversations`); err != nil {
		return fmt.Errorf("clear conversations: %w", err)
	}
	for _, conv := range s {
		payload, err := json.Marshal(conv)
		if err != nil {
			return fmt.Errorf("encode conversation: %w", err)
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO conversations (phone_key, name, unread_count, payload, updated_at)
			VALUES ($1, $2, $3, $4, now())`,
			conv.PhoneKey, conv.Name, conv.UnreadCount, payload); err != nil {
			return fmt.Errorf("insert conversation %q: %w", conv.PhoneKey, err)
		}
	}
	return tx.Commit(ctx)
}

// Close releases the connection pool.
func (b *PostgresBackend) Close() error {
	b.pool.Close()
	return nil
}
