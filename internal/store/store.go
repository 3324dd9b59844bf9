// Package store persists the raw message log and user profiles in SQLite.
// The log survives restarts so short-term memory can be rebuilt at startup.
package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/kumoagent/kumo/pkg/models"
)

// Store wraps the SQLite database holding messages, replies, and profiles.
type Store struct {
	db *sql.DB
}

// Open creates or opens the database at path. Use ":memory:" for tests.
func Open(path string) (*Store, error) {
	if path == "" {
		path = ":memory:"
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open message db: %w", err)
	}

	s := &Store{db: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) init() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY,
			conversation TEXT NOT NULL,
			class TEXT NOT NULL,
			conversation_id INTEGER NOT NULL,
			sender_id INTEGER NOT NULL,
			mention_id INTEGER NOT NULL DEFAULT 0,
			content TEXT NOT NULL,
			from_bot INTEGER NOT NULL DEFAULT 0,
			sent_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation)`,
		`CREATE TABLE IF NOT EXISTS replies (
			message_id INTEGER PRIMARY KEY,
			conversation TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS profiles (
			user_id INTEGER PRIMARY KEY,
			nickname TEXT,
			sex TEXT,
			age INTEGER,
			bio TEXT,
			location TEXT,
			refreshed_at DATETIME NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

// InsertMessage records a message. Re-inserting an existing id is a no-op.
func (s *Store) InsertMessage(ctx context.Context, rec models.MessageRecord) error {
	fromBot := 0
	if rec.FromBot {
		fromBot = 1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO messages
			(id, conversation, class, conversation_id, sender_id, mention_id, content, from_bot, sent_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.ID, rec.Key.String(), string(rec.Key.Class), rec.Key.ID,
		rec.SenderID, rec.MentionID, rec.Content, fromBot, rec.SentAt)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// InsertReply records the assistant reply for a message id. The first reply
// for an id wins.
func (s *Store) InsertReply(ctx context.Context, key models.ConversationKey, messageID int64, content string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO replies (message_id, conversation, content)
		VALUES (?, ?, ?)
	`, messageID, key.String(), content)
	if err != nil {
		return fmt.Errorf("insert reply: %w", err)
	}
	return nil
}

// Messages returns the last limit messages of a conversation in send order.
// A non-positive limit returns everything.
func (s *Store) Messages(ctx context.Context, key models.ConversationKey, limit int) ([]models.MessageRecord, error) {
	query := `
		SELECT id, sender_id, mention_id, content, from_bot, sent_at
		FROM messages WHERE conversation = ?
		ORDER BY id DESC
	`
	args := []any{key.String()}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var out []models.MessageRecord
	for rows.Next() {
		var rec models.MessageRecord
		var fromBot int
		if err := rows.Scan(&rec.ID, &rec.SenderID, &rec.MentionID, &rec.Content, &fromBot, &rec.SentAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		rec.Key = key
		rec.FromBot = fromBot != 0
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}

	// Flip newest-first to send order.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// Replies returns the recorded replies of a conversation keyed by message id.
func (s *Store) Replies(ctx context.Context, key models.ConversationKey) (map[int64]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT message_id, content FROM replies WHERE conversation = ?", key.String())
	if err != nil {
		return nil, fmt.Errorf("query replies: %w", err)
	}
	defer rows.Close()

	out := make(map[int64]string)
	for rows.Next() {
		var id int64
		var content string
		if err := rows.Scan(&id, &content); err != nil {
			return nil, fmt.Errorf("scan reply: %w", err)
		}
		out[id] = content
	}
	return out, rows.Err()
}

// Conversations lists every conversation key present in the message log.
func (s *Store) Conversations(ctx context.Context) ([]models.ConversationKey, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT DISTINCT class, conversation_id FROM messages ORDER BY class, conversation_id")
	if err != nil {
		return nil, fmt.Errorf("query conversations: %w", err)
	}
	defer rows.Close()

	var out []models.ConversationKey
	for rows.Next() {
		var class string
		var id int64
		if err := rows.Scan(&class, &id); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		out = append(out, models.ConversationKey{Class: models.MessageClass(class), ID: id})
	}
	return out, rows.Err()
}

// UpsertProfile stores or refreshes a user profile.
func (s *Store) UpsertProfile(ctx context.Context, p models.UserProfile) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO profiles (user_id, nickname, sex, age, bio, location, refreshed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			nickname = excluded.nickname,
			sex = excluded.sex,
			age = excluded.age,
			bio = excluded.bio,
			location = excluded.location,
			refreshed_at = excluded.refreshed_at
	`, p.UserID, p.Nickname, p.Sex, p.Age, p.Bio, p.Location, p.RefreshedAt)
	if err != nil {
		return fmt.Errorf("upsert profile: %w", err)
	}
	return nil
}

// Profile loads one user profile.
func (s *Store) Profile(ctx context.Context, userID int64) (models.UserProfile, bool, error) {
	var p models.UserProfile
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id, nickname, sex, age, bio, location, refreshed_at
		FROM profiles WHERE user_id = ?
	`, userID).Scan(&p.UserID, &p.Nickname, &p.Sex, &p.Age, &p.Bio, &p.Location, &p.RefreshedAt)
	if err == sql.ErrNoRows {
		return models.UserProfile{}, false, nil
	}
	if err != nil {
		return models.UserProfile{}, false, fmt.Errorf("query profile: %w", err)
	}
	return p, true, nil
}

// Profiles loads all stored user profiles.
func (s *Store) Profiles(ctx context.Context) ([]models.UserProfile, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, nickname, sex, age, bio, location, refreshed_at
		FROM profiles ORDER BY user_id
	`)
	if err != nil {
		return nil, fmt.Errorf("query profiles: %w", err)
	}
	defer rows.Close()

	var out []models.UserProfile
	for rows.Next() {
		var p models.UserProfile
		if err := rows.Scan(&p.UserID, &p.Nickname, &p.Sex, &p.Age, &p.Bio, &p.Location, &p.RefreshedAt); err != nil {
			return nil, fmt.Errorf("scan profile: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
