package vectorstore

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	pq "github.com/lib/pq"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// PGVector is a Store backed by PostgreSQL with the pgvector extension.
type PGVector struct {
	db     *sql.DB
	ownsDB bool
}

// PGVectorConfig configures the pgvector store.
type PGVectorConfig struct {
	// DSN is the PostgreSQL connection string. Ignored when DB is set.
	DSN string
	// DB is an existing connection to reuse; the store will not close it.
	DB *sql.DB
	// SkipMigrations disables applying pending migrations on startup.
	SkipMigrations bool
}

// NewPGVector connects to PostgreSQL and prepares the message_vectors table.
func NewPGVector(cfg PGVectorConfig) (*PGVector, error) {
	var db *sql.DB
	var ownsDB bool
	var err error

	switch {
	case cfg.DB != nil:
		db = cfg.DB
	case cfg.DSN != "":
		db, err = sql.Open("postgres", cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		ownsDB = true

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	default:
		return nil, errors.New("either DSN or DB must be provided")
	}

	s := &PGVector{db: db, ownsDB: ownsDB}
	if !cfg.SkipMigrations {
		if err := s.runMigrations(context.Background()); err != nil {
			if ownsDB {
				db.Close()
			}
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
	}
	return s, nil
}

func (s *PGVector) runMigrations(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS vector_schema_migrations (
			id TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`)
	if err != nil {
		return fmt.Errorf("create vector_schema_migrations: %w", err)
	}

	applied := map[string]bool{}
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM vector_schema_migrations`)
	if err != nil {
		return fmt.Errorf("query vector_schema_migrations: %w", err)
	}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return fmt.Errorf("scan vector_schema_migrations: %w", err)
		}
		applied[id] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("vector_schema_migrations: %w", err)
	}

	names, err := fs.Glob(migrationsFS, "migrations/*.up.sql")
	if err != nil {
		return fmt.Errorf("list migrations: %w", err)
	}
	sort.Strings(names)

	for _, name := range names {
		id := strings.TrimSuffix(strings.TrimPrefix(name, "migrations/"), ".up.sql")
		if applied[id] {
			continue
		}
		body, err := migrationsFS.ReadFile(name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", id, err)
		}

		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin migration %s: %w", id, err)
		}
		if _, err := tx.ExecContext(ctx, string(body)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("apply migration %s: %w", id, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO vector_schema_migrations (id) VALUES ($1)`, id); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %s: %w", id, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %s: %w", id, err)
		}
	}
	return nil
}

// Index upserts entries by ID within one transaction.
func (s *PGVector) Index(ctx context.Context, entries []*Entry) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			_ = err
		}
	}()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO message_vectors (id, chat_id, kind, ref_id, message_id, content, metadata, embedding, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			chat_id = EXCLUDED.chat_id,
			kind = EXCLUDED.kind,
			ref_id = EXCLUDED.ref_id,
			message_id = EXCLUDED.message_id,
			content = EXCLUDED.content,
			metadata = EXCLUDED.metadata,
			embedding = EXCLUDED.embedding,
			updated_at = EXCLUDED.updated_at
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	now := time.Now()
	for _, entry := range entries {
		if entry.ID == "" {
			entry.ID = uuid.New().String()
		}
		if entry.Kind == "" {
			entry.Kind = KindMessage
		}
		if entry.CreatedAt.IsZero() {
			entry.CreatedAt = now
		}
		entry.UpdatedAt = now

		metadata, err := json.Marshal(entry.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}

		_, err = stmt.ExecContext(ctx,
			entry.ID,
			entry.ChatID,
			string(entry.Kind),
			entry.RefID,
			entry.MessageID,
			entry.Content,
			string(metadata),
			encodeEmbedding(entry.Embedding),
			entry.CreatedAt,
			entry.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert entry: %w", err)
		}
	}
	return tx.Commit()
}

// Search runs a cosine-similarity query. Similarity is 1 minus the pgvector
// cosine distance, so scores land in [0, 1] for normalized embeddings.
func (s *PGVector) Search(ctx context.Context, embedding []float32, opts *SearchOptions) ([]*Result, error) {
	if opts == nil {
		opts = &SearchOptions{}
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = 10
	}

	query := `
		SELECT
			id, chat_id, kind, ref_id, message_id, content, metadata,
			embedding, created_at, updated_at,
			1 - (embedding <=> $1::vector) AS similarity
		FROM message_vectors
		WHERE embedding IS NOT NULL
	`
	args := []any{encodeEmbedding(embedding)}
	argNum := 2

	if opts.ChatID != "" {
		query += fmt.Sprintf(" AND chat_id = $%d", argNum)
		args = append(args, opts.ChatID)
		argNum++
	}
	if opts.Kind != "" {
		query += fmt.Sprintf(" AND kind = $%d", argNum)
		args = append(args, string(opts.Kind))
		argNum++
	}
	if opts.Threshold > 0 {
		query += fmt.Sprintf(" AND (1 - (embedding <=> $1::vector)) >= $%d", argNum)
		args = append(args, opts.Threshold)
		argNum++
	}

	query += " ORDER BY embedding <=> $1::vector ASC"
	query += fmt.Sprintf(" LIMIT $%d", argNum)
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query: %w", err)
	}
	defer rows.Close()

	var results []*Result
	for rows.Next() {
		entry, similarity, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, &Result{Entry: entry, Score: similarity})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return results, nil
}

// Get returns one entry by ID.
func (s *PGVector) Get(ctx context.Context, id string) (*Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT
			id, chat_id, kind, ref_id, message_id, content, metadata,
			embedding, created_at, updated_at,
			0 AS similarity
		FROM message_vectors
		WHERE id = $1
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("rows error: %w", err)
		}
		return nil, ErrNotFound
	}
	entry, _, err := scanEntry(rows)
	if err != nil {
		return nil, err
	}
	return entry, rows.Err()
}

// Delete removes entries by ID.
func (s *PGVector) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.db.ExecContext(ctx, "DELETE FROM message_vectors WHERE id = ANY($1::uuid[])", pq.Array(ids))
	return err
}

// DeleteChat removes every entry belonging to a conversation.
func (s *PGVector) DeleteChat(ctx context.Context, chatID string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM message_vectors WHERE chat_id = $1", chatID)
	return err
}

// Count returns the entry count, scoped to a chat when chatID is non-empty.
func (s *PGVector) Count(ctx context.Context, chatID string) (int64, error) {
	var count int64
	var err error
	if chatID == "" {
		err = s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM message_vectors").Scan(&count)
	} else {
		err = s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM message_vectors WHERE chat_id = $1", chatID).Scan(&count)
	}
	return count, err
}

// Backend names the implementation for metric labels.
func (s *PGVector) Backend() string { return "pgvector" }

// Close releases the connection when this store owns it.
func (s *PGVector) Close() error {
	if s.ownsDB && s.db != nil {
		return s.db.Close()
	}
	return nil
}

func scanEntry(rows *sql.Rows) (*Entry, float32, error) {
	var entry Entry
	var kind string
	var metadataJSON string
	var embeddingStr sql.NullString
	var similarity float64

	err := rows.Scan(
		&entry.ID,
		&entry.ChatID,
		&kind,
		&entry.RefID,
		&entry.MessageID,
		&entry.Content,
		&metadataJSON,
		&embeddingStr,
		&entry.CreatedAt,
		&entry.UpdatedAt,
		&similarity,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to scan row: %w", err)
	}
	entry.Kind = Kind(kind)

	if metadataJSON != "" {
		if err := json.Unmarshal([]byte(metadataJSON), &entry.Metadata); err != nil {
			return nil, 0, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}
	if embeddingStr.Valid {
		entry.Embedding = decodeEmbedding(embeddingStr.String)
	}
	return &entry, float32(similarity), nil
}

// encodeEmbedding converts []float32 to pgvector text format: [0.1,0.2,...]
func encodeEmbedding(embedding []float32) sql.NullString {
	if len(embedding) == 0 {
		return sql.NullString{}
	}
	var sb strings.Builder
	sb.WriteByte('[')
	for i, f := range embedding {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(strconv.FormatFloat(float64(f), 'g', -1, 32))
	}
	sb.WriteByte(']')
	return sql.NullString{String: sb.String(), Valid: true}
}

// decodeEmbedding parses pgvector text format back to []float32.
func decodeEmbedding(s string) []float32 {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "[")
	s = strings.TrimSuffix(s, "]")
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]float32, 0, len(parts))
	for _, part := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(part), 32)
		if err != nil {
			return nil
		}
		out = append(out, float32(f))
	}
	return out
}
