package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// SQLite implements ConversationStore on a single SQLite file.
type SQLite struct {
	db *sql.DB
}

var _ ConversationStore = (*SQLite)(nil)

// NewSQLite opens (or creates) the store. An empty path uses an in-memory
// database.
func NewSQLite(path string) (*SQLite, error) {
	if path == "" {
		path = ":memory:"
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// The word-index writes share transactions with message writes; a
	// single connection avoids table-lock races in the pure-Go driver.
	db.SetMaxOpenConns(1)

	s := &SQLite{db: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLite) init() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS topics (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			title TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			last_active DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			topic_id INTEGER NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			timestamp DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_topic_time ON messages(topic_id, timestamp)`,
		`CREATE TABLE IF NOT EXISTS wordIndex (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			word TEXT NOT NULL,
			topic_id INTEGER NOT NULL,
			message_id INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_word_topic ON wordIndex(word, topic_id)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to initialize schema: %w", err)
		}
	}
	return nil
}

// CreateTopic inserts a topic and returns it with its assigned ID.
func (s *SQLite) CreateTopic(ctx context.Context, title string) (*Topic, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO topics (title, created_at, last_active) VALUES (?, ?, ?)`,
		title, now, now)
	if err != nil {
		return nil, fmt.Errorf("failed to create topic: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return &Topic{ID: id, Title: title, CreatedAt: now, LastActive: now}, nil
}

// GetTopic loads one topic.
func (s *SQLite) GetTopic(ctx context.Context, id int64) (*Topic, error) {
	var t Topic
	err := s.db.QueryRowContext(ctx,
		`SELECT id, title, created_at, last_active FROM topics WHERE id = ?`, id).
		Scan(&t.ID, &t.Title, &t.CreatedAt, &t.LastActive)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get topic: %w", err)
	}
	return &t, nil
}

// ListTopics returns all topics, most recently active first.
func (s *SQLite) ListTopics(ctx context.Context) ([]*Topic, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, created_at, last_active FROM topics ORDER BY last_active DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list topics: %w", err)
	}
	defer rows.Close()

	var out []*Topic
	for rows.Next() {
		var t Topic
		if err := rows.Scan(&t.ID, &t.Title, &t.CreatedAt, &t.LastActive); err != nil {
			return nil, err
		}
		out = append(out, &t)
	}
	return out, rows.Err()
}

// DeleteTopic removes the topic, its messages, and its word index in one
// transaction.
func (s *SQLite) DeleteTopic(ctx context.Context, id int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			_ = err
		}
	}()

	res, err := tx.ExecContext(ctx, `DELETE FROM topics WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete topic: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE topic_id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete messages: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM wordIndex WHERE topic_id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete word index: %w", err)
	}
	return tx.Commit()
}

// SaveMessage stores a message and indexes its words, bumping the topic's
// last-active time.
func (s *SQLite) SaveMessage(ctx context.Context, msg *StoredMessage) (int64, error) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			_ = err
		}
	}()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO messages (topic_id, role, content, timestamp) VALUES (?, ?, ?, ?)`,
		msg.TopicID, msg.Role, msg.Content, msg.Timestamp)
	if err != nil {
		return 0, fmt.Errorf("failed to save message: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}

	words := indexableWords(msg.Content)
	if len(words) > 0 {
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO wordIndex (word, topic_id, message_id) VALUES (?, ?, ?)`)
		if err != nil {
			return 0, fmt.Errorf("failed to prepare word index: %w", err)
		}
		defer stmt.Close()
		for _, w := range words {
			if _, err := stmt.ExecContext(ctx, w, msg.TopicID, id); err != nil {
				return 0, fmt.Errorf("failed to index word: %w", err)
			}
		}
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE topics SET last_active = ? WHERE id = ?`, msg.Timestamp, msg.TopicID); err != nil {
		return 0, fmt.Errorf("failed to touch topic: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	msg.ID = id
	return id, nil
}

// ListMessages returns a topic's messages in chronological order, using
// the (topic_id, timestamp) index. A non-positive limit returns all.
func (s *SQLite) ListMessages(ctx context.Context, topicID int64, limit int) ([]*StoredMessage, error) {
	query := `SELECT id, topic_id, role, content, timestamp FROM messages
		WHERE topic_id = ? ORDER BY timestamp ASC, id ASC`
	args := []any{topicID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

// SearchByWord looks a word up in the per-topic index, newest match first.
func (s *SQLite) SearchByWord(ctx context.Context, topicID int64, word string) ([]*StoredMessage, error) {
	word = strings.ToLower(strings.TrimSpace(word))
	rows, err := s.db.QueryContext(ctx,
		`SELECT m.id, m.topic_id, m.role, m.content, m.timestamp
		 FROM wordIndex w
		 JOIN messages m ON m.id = w.message_id
		 WHERE w.word = ? AND w.topic_id = ?
		 ORDER BY m.timestamp DESC, m.id DESC`,
		word, topicID)
	if err != nil {
		return nil, fmt.Errorf("failed to search word index: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

// Close releases the database handle.
func (s *SQLite) Close() error {
	return s.db.Close()
}

func scanMessages(rows *sql.Rows) ([]*StoredMessage, error) {
	var out []*StoredMessage
	for rows.Next() {
		var m StoredMessage
		if err := rows.Scan(&m.ID, &m.TopicID, &m.Role, &m.Content, &m.Timestamp); err != nil {
			return nil, err
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}
