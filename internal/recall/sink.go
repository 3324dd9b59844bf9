// Package recall is the long-term conversation memory: evicted turns are
// embedded and stored in SQLite, then retrieved by similarity when the
// current message needs older context.
package recall

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	_ "modernc.org/sqlite"

	"github.com/kumoagent/kumo/pkg/models"
)

// DefaultLimit is how many documents a query returns when the caller does
// not say otherwise.
const DefaultLimit = 5

// Embedder turns text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Sink stores recall documents with their embeddings in SQLite and serves
// similarity queries scoped to one conversation.
type Sink struct {
	db       *sql.DB
	embedder Embedder
	logger   *slog.Logger
}

// Open creates or opens the recall database at path. Use ":memory:" for an
// ephemeral store.
func Open(path string, embedder Embedder, logger *slog.Logger) (*Sink, error) {
	if path == "" {
		path = ":memory:"
	}
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open recall db: %w", err)
	}

	s := &Sink{
		db:       db,
		embedder: embedder,
		logger:   logger.With("component", "recall"),
	}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Sink) init() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS recall_docs (
			id TEXT PRIMARY KEY,
			conversation TEXT NOT NULL,
			content TEXT NOT NULL,
			embedding BLOB,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("create recall_docs table: %w", err)
	}
	_, err = s.db.Exec("CREATE INDEX IF NOT EXISTS idx_recall_conversation ON recall_docs(conversation)")
	if err != nil {
		return fmt.Errorf("create recall index: %w", err)
	}
	return nil
}

// Exists reports whether a document with the given id is already stored.
func (s *Sink) Exists(ctx context.Context, id string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM recall_docs WHERE id = ?", id).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("recall lookup: %w", err)
	}
	return count > 0, nil
}

// Add embeds and stores a document. An existing id is left untouched.
func (s *Sink) Add(ctx context.Context, id string, doc string, key models.ConversationKey) error {
	embedding, err := s.embedder.Embed(ctx, doc)
	if err != nil {
		return fmt.Errorf("embed document: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO recall_docs (id, conversation, content, embedding, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, id, key.String(), doc, encodeEmbedding(embedding), time.Now())
	if err != nil {
		return fmt.Errorf("insert recall doc: %w", err)
	}
	return nil
}

// Query returns the documents of one conversation most similar to the query
// text, best match first.
func (s *Sink) Query(ctx context.Context, key models.ConversationKey, query string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}

	queryVec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT content, embedding FROM recall_docs WHERE conversation = ?", key.String())
	if err != nil {
		return nil, fmt.Errorf("query recall docs: %w", err)
	}
	defer rows.Close()

	type scored struct {
		content string
		score   float32
	}
	var candidates []scored
	for rows.Next() {
		var content string
		var blob []byte
		if err := rows.Scan(&content, &blob); err != nil {
			return nil, fmt.Errorf("scan recall doc: %w", err)
		}
		candidates = append(candidates, scored{
			content: content,
			score:   cosineSimilarity(queryVec, decodeEmbedding(blob)),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate recall docs: %w", err)
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}

	out := make([]string, 0, len(candidates))
	for _, c := range candidates {
		out = append(out, c.content)
	}
	return out, nil
}

// Count returns the number of documents stored for a conversation.
func (s *Sink) Count(ctx context.Context, key models.ConversationKey) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM recall_docs WHERE conversation = ?", key.String()).Scan(&count)
	return count, err
}

// Close releases the database handle.
func (s *Sink) Close() error {
	return s.db.Close()
}

// encodeEmbedding packs float32 values little-endian, 4 bytes each.
func encodeEmbedding(embedding []float32) []byte {
	if len(embedding) == 0 {
		return nil
	}
	data := make([]byte, len(embedding)*4)
	for i, f := range embedding {
		bits := math.Float32bits(f)
		data[i*4] = byte(bits)
		data[i*4+1] = byte(bits >> 8)
		data[i*4+2] = byte(bits >> 16)
		data[i*4+3] = byte(bits >> 24)
	}
	return data
}

func decodeEmbedding(data []byte) []float32 {
	if len(data) == 0 || len(data)%4 != 0 {
		return nil
	}
	embedding := make([]float32, len(data)/4)
	for i := range embedding {
		bits := uint32(data[i*4]) |
			uint32(data[i*4+1])<<8 |
			uint32(data[i*4+2])<<16 |
			uint32(data[i*4+3])<<24
		embedding[i] = math.Float32frombits(bits)
	}
	return embedding
}

func cosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}
