// Package storage persists conversations, documents, and fragments in
// SQLite. It owns the schema via embedded migrations; the retrieval package
// layers vector search on top of the same database handle.
package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sagekb/sage/internal/conversation"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps a SQLite database with methods for conversations and documents.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database in dataDir and runs pending
// migrations. Pass ":memory:" as dataDir for an in-memory database (tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "sage.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	// Set busy timeout so concurrent access waits briefly instead of failing immediately.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying handle so the vector index can share it.
func (s *Store) DB() *sql.DB {
	return s.db
}

// migrate reads embedded SQL migration files and applies any that haven't been run yet.
func (s *Store) migrate() error {
	// Ensure schema_version table exists (bootstrap).
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	// Sort by filename to guarantee ascending order.
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		// Check if already applied.
		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}

		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}

	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// --- Conversations ---

// SaveConversation persists the full aggregate in one transaction: the
// conversation row is upserted and any message that has not been persisted
// yet (empty ID) gets an ID and is inserted. Messages already persisted are
// never touched — the history is append-only.
func (s *Store) SaveConversation(ctx context.Context, c *conversation.Conversation) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning save transaction: %w", err)
	}
	defer tx.Rollback()

	var deletedAt any
	if c.DeletedAt != nil {
		deletedAt = c.DeletedAt.UTC().Format(time.RFC3339)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO conversations (id, user_id, sector_id, created_at, updated_at, deleted_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET updated_at = excluded.updated_at, deleted_at = excluded.deleted_at`,
		c.ID, c.UserID, c.SectorID,
		c.CreatedAt.UTC().Format(time.RFC3339), c.UpdatedAt.UTC().Format(time.RFC3339), deletedAt,
	); err != nil {
		return fmt.Errorf("upserting conversation %s: %w", c.ID, err)
	}

	for i := range c.Messages {
		m := &c.Messages[i]
		if m.ID != "" {
			continue
		}
		m.ID = uuid.New().String()

		metadata, err := encodeMetadata(m.Metadata)
		if err != nil {
			return fmt.Errorf("encoding metadata for message %d: %w", i, err)
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO messages (id, conversation_id, position, role, content, metadata, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			m.ID, c.ID, i, string(m.Role), m.Content, metadata,
			m.CreatedAt.UTC().Format(time.RFC3339),
		); err != nil {
			return fmt.Errorf("inserting message %d of conversation %s: %w", i, c.ID, err)
		}
	}

	return tx.Commit()
}

// GetConversation loads a non-deleted conversation with its full ordered
// message history. Returns ErrNotFound for absent or soft-deleted ids.
func (s *Store) GetConversation(ctx context.Context, id string) (*conversation.Conversation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, sector_id, created_at, updated_at
		FROM conversations WHERE id = ? AND deleted_at IS NULL`, id)
	return s.scanConversation(ctx, row)
}

// FindConversation returns the most recent non-deleted conversation for a
// (user, sector) pair, or ErrNotFound if none exists.
func (s *Store) FindConversation(ctx context.Context, userID, sectorID string) (*conversation.Conversation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, sector_id, created_at, updated_at
		FROM conversations
		WHERE user_id = ? AND sector_id = ? AND deleted_at IS NULL
		ORDER BY updated_at DESC LIMIT 1`, userID, sectorID)
	return s.scanConversation(ctx, row)
}

// SoftDeleteConversation marks a conversation deleted. The row and its
// messages are kept; the core never hard-deletes.
func (s *Store) SoftDeleteConversation(ctx context.Context, id string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	res, err := s.db.ExecContext(ctx, `
		UPDATE conversations SET deleted_at = ? WHERE id = ? AND deleted_at IS NULL`, now, id)
	if err != nil {
		return fmt.Errorf("soft deleting conversation %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) scanConversation(ctx context.Context, row *sql.Row) (*conversation.Conversation, error) {
	var c conversation.Conversation
	var createdAt, updatedAt string
	err := row.Scan(&c.ID, &c.UserID, &c.SectorID, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if c.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at for conversation %s: %w", c.ID, err)
	}
	if c.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at for conversation %s: %w", c.ID, err)
	}

	msgs, err := s.loadMessages(ctx, c.ID)
	if err != nil {
		return nil, err
	}
	c.Messages = msgs
	return &c, nil
}

func (s *Store) loadMessages(ctx context.Context, conversationID string) ([]conversation.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, role, content, metadata, created_at
		FROM messages WHERE conversation_id = ? ORDER BY position ASC`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("querying messages for %s: %w", conversationID, err)
	}
	defer rows.Close()

	var msgs []conversation.Message
	for rows.Next() {
		var m conversation.Message
		var role, createdAt string
		var metadata sql.NullString
		if err := rows.Scan(&m.ID, &m.ConversationID, &role, &m.Content, &metadata, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		m.Role = conversation.Role(role)
		if metadata.Valid && metadata.String != "" {
			if err := json.Unmarshal([]byte(metadata.String), &m.Metadata); err != nil {
				return nil, fmt.Errorf("decoding metadata for message %s: %w", m.ID, err)
			}
		}
		if m.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at for message %s: %w", m.ID, err)
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

func encodeMetadata(m map[string]string) (any, error) {
	if len(m) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// --- Documents ---

// SaveDocument records the bookkeeping row for one ingested document.
func (s *Store) SaveDocument(ctx context.Context, doc Document) error {
	createdAt := doc.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (id, sector_id, title, format, byte_size, page_count, chunk_count, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		doc.ID, doc.SectorID, doc.Title, doc.Format, doc.ByteSize, doc.PageCount, doc.ChunkCount,
		createdAt.Format(time.RFC3339),
	)
	return err
}

// GetDocument returns one document record by ID.
func (s *Store) GetDocument(ctx context.Context, id string) (Document, error) {
	var d Document
	var createdAt string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, sector_id, title, format, byte_size, page_count, chunk_count, created_at
		FROM documents WHERE id = ?`, id,
	).Scan(&d.ID, &d.SectorID, &d.Title, &d.Format, &d.ByteSize, &d.PageCount, &d.ChunkCount, &createdAt)
	if err == sql.ErrNoRows {
		return Document{}, ErrNotFound
	}
	if err != nil {
		return Document{}, err
	}
	if d.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return Document{}, fmt.Errorf("parsing created_at for document %s: %w", d.ID, err)
	}
	return d, nil
}

// ListDocuments returns the most recent document records for a sector.
func (s *Store) ListDocuments(ctx context.Context, sectorID string, limit int) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, sector_id, title, format, byte_size, page_count, chunk_count, created_at
		FROM documents WHERE sector_id = ? ORDER BY created_at DESC LIMIT ?`, sectorID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Document
	for rows.Next() {
		var d Document
		var createdAt string
		if err := rows.Scan(&d.ID, &d.SectorID, &d.Title, &d.Format, &d.ByteSize, &d.PageCount, &d.ChunkCount, &createdAt); err != nil {
			return nil, err
		}
		if d.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at for document %s: %w", d.ID, err)
		}
		results = append(results, d)
	}
	return results, rows.Err()
}
