package store

import "context"

// Backend persists conversations outside the process. Implementations must
// make UpsertConversation atomic per phone key (single-row upsert); the
// store relies on that instead of read-modify-write over the whole mapping.
type Backend interface {
	// LoadAll returns the complete persisted snapshot.
	LoadAll(ctx context.Context) (Snapshot, error)
	// UpsertConversation writes one conversation keyed by its phone key.
	UpsertConversation(ctx context.Context, c *Conversation) error
	// SaveAll replaces the persisted snapshot wholesale.
	SaveAll(ctx context.Context, s Snapshot) error
	// Close releases backend resources.
	Close() error
}
