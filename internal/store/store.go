package store

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// persistTimeout bounds a single detached write-through call.
const persistTimeout = 10 * time.Second

// Store owns the phone-key → conversation mapping. All access goes through
// its methods; callers only ever see deep copies. When a Backend is
// configured every mutation is written through asynchronously, one
// conversation row at a time. Backend failures are logged and never surfaced
// to callers.
type Store struct {
	mu      sync.RWMutex
	chats   Snapshot
	backend Backend // nil means in-memory only
	logger  *zap.Logger
}

// New creates a store. backend may be nil for a purely in-memory store.
func New(backend Backend, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		chats:   make(Snapshot),
		backend: backend,
		logger:  logger,
	}
}

// Load returns the current known state. With a backend configured it
// refreshes the in-memory cache from it first; on a backend read failure the
// last known in-memory snapshot is returned and the condition is logged.
// Load never fails the caller.
//
// The refresh merges per conversation rather than replacing the map:
// write-through is asynchronous, so a backend read can miss an in-flight
// upsert. A local conversation that is ahead of its backend row keeps the
// in-memory version; the next write-through repairs the row.
func (s *Store) Load(ctx context.Context) Snapshot {
	if s.backend != nil {
		remote, err := s.backend.LoadAll(ctx)
		if err != nil {
			s.logger.Warn("backend read failed, serving in-memory state", zap.Error(err))
		} else {
			s.mu.Lock()
			s.chats = mergeSnapshots(s.chats, remote)
			s.mu.Unlock()
		}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.chats.Clone()
}

// mergeSnapshots overlays the backend state with any local conversation the
// backend has not caught up with yet. Messages are append-only, so a longer
// local history always supersedes its row.
func mergeSnapshots(local, remote Snapshot) Snapshot {
	merged := make(Snapshot, len(remote))
	for key, conv := range remote {
		merged[key] = conv
	}
	for key, conv := range local {
		if prev, ok := merged[key]; !ok || len(conv.Messages) > len(prev.Messages) {
			merged[key] = conv
		}
	}
	return merged
}

// Save replaces the in-memory cache with the given snapshot and persists it
// asynchronously. Persistence failure is logged, not retried.
func (s *Store) Save(_ context.Context, snapshot Snapshot) {
	clone := snapshot.Clone()
	s.mu.Lock()
	s.chats = clone
	s.mu.Unlock()

	if s.backend != nil {
		go s.persistAll(clone.Clone())
	}
}

// Append routes the message to its owning conversation (creating it when
// absent, named after the raw key), appends it, updates the last-message
// pointer and the unread counter, and writes the conversation through.
// A message whose ID already exists in the conversation is ignored
// deterministically: the returned bool is false and nothing changes.
func (s *Store) Append(_ context.Context, msg Message) (Conversation, bool) {
	key := msg.PhoneKey()

	s.mu.Lock()
	conv, ok := s.chats[key]
	if !ok {
		conv = &Conversation{
			PhoneKey: key,
			Name:     key,
			Messages: []Message{},
		}
		s.chats[key] = conv
	}

	if msg.ID != "" && conv.hasMessage(msg.ID) {
		snapshot := *conv.Clone()
		s.mu.Unlock()
		return snapshot, false
	}

	conv.Messages = append(conv.Messages, msg)
	last := msg
	conv.LastMessage = &last
	if !msg.FromMe {
		conv.UnreadCount++
	}
	clone := conv.Clone()
	s.mu.Unlock()

	if s.backend != nil {
		go s.persist(clone.Clone())
	}
	return *clone, true
}

// Create adds an empty conversation for key. Returns the conversation and
// whether it was newly created; an existing conversation is returned as-is.
func (s *Store) Create(_ context.Context, key, name string) (Conversation, bool) {
	if name == "" {
		name = key
	}

	s.mu.Lock()
	if conv, ok := s.chats[key]; ok {
		snapshot := *conv.Clone()
		s.mu.Unlock()
		return snapshot, false
	}
	conv := &Conversation{
		PhoneKey: key,
		Name:     name,
		Messages: []Message{},
	}
	s.chats[key] = conv
	clone := conv.Clone()
	s.mu.Unlock()

	if s.backend != nil {
		go s.persist(clone.Clone())
	}
	return *clone, true
}

// ClearUnread resets the unread counter for key. Idempotent; unknown keys
// are a no-op.
func (s *Store) ClearUnread(_ context.Context, key string) {
	s.mu.Lock()
	conv, ok := s.chats[key]
	if !ok || conv.UnreadCount == 0 {
		s.mu.Unlock()
		return
	}
	conv.UnreadCount = 0
	clone := conv.Clone()
	s.mu.Unlock()

	if s.backend != nil {
		go s.persist(clone.Clone())
	}
}

// Snapshot returns a copy of the in-memory state without touching the
// backend.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.chats.Clone()
}

func (s *Store) persist(conv *Conversation) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := s.backend.UpsertConversation(ctx, conv); err != nil {
		s.logger.Warn("backend write failed",
			zap.String("phone_key", conv.PhoneKey),
			zap.Error(err))
	}
}

func (s *Store) persistAll(snapshot Snapshot) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := s.backend.SaveAll(ctx, snapshot); err != nil {
		s.logger.Warn("backend snapshot write failed", zap.Error(err))
	}
}

func (c *Conversation) hasMessage(id string) bool {
	// Linear scan; conversation volumes are small (personal messaging).
	for i := range c.Messages {
		if c.Messages[i].ID == id {
			return true
		}
	}
	return false
}
