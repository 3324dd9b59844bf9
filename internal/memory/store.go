// Package memory keeps the bounded short-term conversation history. Each
// conversation holds at most a fixed number of records; evicted turns spill
// into a long-term recall sink exactly once.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/kumoagent/kumo/pkg/models"
)

// DefaultCapacity bounds per-conversation history when no explicit value is
// configured.
const DefaultCapacity = 20

// Sink receives turns evicted from short-term history.
type Sink interface {
	// Exists reports whether a document with the given id was already pushed.
	Exists(ctx context.Context, id string) (bool, error)

	// Add stores a document under id with conversation metadata.
	Add(ctx context.Context, id string, doc string, key models.ConversationKey) error

	// Query returns up to limit documents relevant to the query text,
	// scoped to one conversation.
	Query(ctx context.Context, key models.ConversationKey, query string, limit int) ([]string, error)
}

// Store is the short-term conversation memory. All operations on one store
// are safe for concurrent use; a nil sink disables long-term spill.
type Store struct {
	capacity int
	sink     Sink
	logger   *slog.Logger

	mu      sync.Mutex
	history map[models.ConversationKey][]models.MessageRecord
	replies map[models.ConversationKey]map[int64]string
}

// NewStore creates a store holding up to capacity records per conversation.
func NewStore(capacity int, sink Sink, logger *slog.Logger) *Store {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		capacity: capacity,
		sink:     sink,
		logger:   logger.With("component", "memory"),
		history:  make(map[models.ConversationKey][]models.MessageRecord),
		replies:  make(map[models.ConversationKey]map[int64]string),
	}
}

// Capacity returns the per-conversation history bound.
func (s *Store) Capacity() int {
	return s.capacity
}

// Append records a message in its conversation's history. Appending a
// message id that is already present is a no-op. When the conversation is
// full, the oldest record is evicted first and spilled to the sink together
// with its reply.
func (s *Store) Append(ctx context.Context, rec models.MessageRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()

	turns := s.history[rec.Key]
	for _, existing := range turns {
		if existing.ID == rec.ID {
			return
		}
	}

	if len(turns) >= s.capacity {
		evicted := turns[0]
		turns = turns[1:]
		reply := s.takeReplyLocked(evicted.Key, evicted.ID)
		s.spill(ctx, evicted, reply)
	}

	s.history[rec.Key] = append(turns, rec)
}

// RecordReply attaches the assistant's reply to a previously appended
// message. Empty replies and replies for ids that already have one are
// ignored.
func (s *Store) RecordReply(key models.ConversationKey, id int64, reply string) {
	if reply == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	byID := s.replies[key]
	if byID == nil {
		byID = make(map[int64]string)
		s.replies[key] = byID
	}
	if _, exists := byID[id]; exists {
		return
	}
	byID[id] = reply
}

// Reply returns the recorded reply for a message id, if any.
func (s *Store) Reply(key models.ConversationKey, id int64) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	reply, ok := s.replies[key][id]
	return reply, ok
}

// History returns a copy of the conversation's records, oldest first.
func (s *Store) History(key models.ConversationKey) []models.MessageRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	turns := s.history[key]
	out := make([]models.MessageRecord, len(turns))
	copy(out, turns)
	return out
}

// Turn pairs a message with the reply it received, if any.
type Turn struct {
	Record models.MessageRecord
	Reply  string
}

// Turns returns the conversation as message/reply pairs, oldest first.
func (s *Store) Turns(key models.ConversationKey) []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()

	turns := s.history[key]
	out := make([]Turn, 0, len(turns))
	for _, rec := range turns {
		out = append(out, Turn{Record: rec, Reply: s.replies[key][rec.ID]})
	}
	return out
}

// Recall queries the long-term sink for documents relevant to the query.
// Without a sink it returns nothing.
func (s *Store) Recall(ctx context.Context, key models.ConversationKey, query string, limit int) []string {
	if s.sink == nil {
		return nil
	}
	docs, err := s.sink.Query(ctx, key, query, limit)
	if err != nil {
		s.logger.Error("recall query failed",
			"conversation", key.String(),
			"error", err)
		return nil
	}
	return docs
}

// Warm preloads a conversation's history, typically from the persistent
// message log at startup. Records flow through Append, so capacity and
// dedup rules apply.
func (s *Store) Warm(ctx context.Context, recs []models.MessageRecord, replies map[int64]string) {
	for _, rec := range recs {
		if reply, ok := replies[rec.ID]; ok {
			s.RecordReply(rec.Key, rec.ID, reply)
		}
		s.Append(ctx, rec)
	}
}

// takeReplyLocked removes and returns the reply for id. Caller holds s.mu.
func (s *Store) takeReplyLocked(key models.ConversationKey, id int64) string {
	byID := s.replies[key]
	reply, ok := byID[id]
	if ok {
		delete(byID, id)
	}
	return reply
}

// spill pushes an evicted turn to the sink. The push is at most once per
// message id; sink failures are logged and swallowed so eviction never
// blocks the conversation.
func (s *Store) spill(ctx context.Context, rec models.MessageRecord, reply string) {
	if s.sink == nil {
		return
	}

	id := fmt.Sprintf("%d", rec.ID)
	exists, err := s.sink.Exists(ctx, id)
	if err != nil {
		s.logger.Error("recall sink lookup failed", "id", id, "error", err)
		return
	}
	if exists {
		return
	}

	doc := FormatRecallDoc(rec, reply)
	if err := s.sink.Add(ctx, id, doc, rec.Key); err != nil {
		s.logger.Error("recall sink push failed", "id", id, "error", err)
	}
}

// FormatRecallDoc renders an evicted turn as a recall document.
func FormatRecallDoc(rec models.MessageRecord, reply string) string {
	doc := fmt.Sprintf("%s|%s|%s",
		rec.SentAt.Format("2006-01-02 15:04:05"),
		rec.SenderLabel(),
		rec.Content)
	if reply != "" {
		doc += "\nassistant|" + reply
	}
	return doc
}
