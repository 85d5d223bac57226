package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dataSourceName string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err = db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err = store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) initSchema() error {
	schema := `
    CREATE TABLE IF NOT EXISTS conversations (
        id TEXT PRIMARY KEY, -- UUID
        created_at DATETIME DEFAULT CURRENT_TIMESTAMP
    );

    CREATE TABLE IF NOT EXISTS turns (
        seq INTEGER PRIMARY KEY AUTOINCREMENT, -- insertion order within a conversation
        id TEXT UNIQUE NOT NULL, -- UUID
        conversation_id TEXT NOT NULL,
        role TEXT NOT NULL CHECK (role IN ('user', 'assistant')),
        content TEXT NOT NULL,
        timestamp DATETIME DEFAULT CURRENT_TIMESTAMP,
        FOREIGN KEY (conversation_id) REFERENCES conversations (id)
    );

    CREATE INDEX IF NOT EXISTS idx_turns_conversation ON turns (conversation_id, seq);

    CREATE TABLE IF NOT EXISTS documents (
        name TEXT PRIMARY KEY,
        chunk_count INTEGER NOT NULL DEFAULT 0,
        indexed_at DATETIME DEFAULT CURRENT_TIMESTAMP
    );
    `
	_, err := s.db.Exec(schema)
	return err
}

// Conversation methods
func (s *SQLiteStore) CreateConversation() (*Conversation, error) {
	conv := &Conversation{ID: uuid.NewString(), CreatedAt: time.Now()}
	if _, err := s.db.Exec("INSERT INTO conversations (id, created_at) VALUES (?, ?)", conv.ID, conv.CreatedAt); err != nil {
		return nil, fmt.Errorf("failed to insert conversation: %w", err)
	}
	return conv, nil
}

// GetConversation returns nil, nil when no conversation has the given ID.
func (s *SQLiteStore) GetConversation(id string) (*Conversation, error) {
	var conv Conversation
	err := s.db.QueryRow("SELECT id, created_at FROM conversations WHERE id = ?", id).Scan(&conv.ID, &conv.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}
	return &conv, nil
}

// Turn methods
func (s *SQLiteStore) AppendTurn(conversationID, role, content string) (*Turn, error) {
	turn := &Turn{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		Timestamp:      time.Now(),
	}

	stmt, err := s.db.Prepare("INSERT INTO turns (id, conversation_id, role, content, timestamp) VALUES (?, ?, ?, ?, ?)")
	if err != nil {
		return nil, fmt.Errorf("failed to prepare turn insert: %w", err)
	}
	defer stmt.Close()

	if _, err := stmt.Exec(turn.ID, turn.ConversationID, turn.Role, turn.Content, turn.Timestamp); err != nil {
		return nil, fmt.Errorf("failed to execute turn insert: %w", err)
	}
	return turn, nil
}

// GetTurns returns the last limit turns of a conversation, oldest first. A
// limit <= 0 returns every turn.
func (s *SQLiteStore) GetTurns(conversationID string, limit int) ([]Turn, error) {
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}
	query := `
        SELECT id, conversation_id, role, content, timestamp FROM (
            SELECT seq, id, conversation_id, role, content, timestamp
            FROM turns
            WHERE conversation_id = ?
            ORDER BY seq DESC
            LIMIT ?
        ) ORDER BY seq ASC
    `
	rows, err := s.db.Query(query, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query turns: %w", err)
	}
	defer rows.Close()

	var turns []Turn
	for rows.Next() {
		var turn Turn
		if err := rows.Scan(&turn.ID, &turn.ConversationID, &turn.Role, &turn.Content, &turn.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan turn row: %w", err)
		}
		turns = append(turns, turn)
	}
	return turns, rows.Err()
}

// Document registry methods

// RecordDocument adds chunks to the indexed chunk count of name. Indexing the
// same document twice adds up, as the index keeps both copies.
func (s *SQLiteStore) RecordDocument(name string, chunks int) error {
	_, err := s.db.Exec(`
        INSERT INTO documents (name, chunk_count, indexed_at) VALUES (?, ?, ?)
        ON CONFLICT(name) DO UPDATE SET
            chunk_count = chunk_count + excluded.chunk_count,
            indexed_at = excluded.indexed_at
    `, name, chunks, time.Now())
	if err != nil {
		return fmt.Errorf("failed to record document %s: %w", name, err)
	}
	return nil
}

func (s *SQLiteStore) ListDocuments() ([]DocumentRecord, error) {
	rows, err := s.db.Query("SELECT name, chunk_count, indexed_at FROM documents ORDER BY name ASC")
	if err != nil {
		return nil, fmt.Errorf("failed to query documents: %w", err)
	}
	defer rows.Close()

	docs := []DocumentRecord{}
	for rows.Next() {
		var doc DocumentRecord
		if err := rows.Scan(&doc.Name, &doc.ChunkCount, &doc.IndexedAt); err != nil {
			return nil, fmt.Errorf("failed to scan document row: %w", err)
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}
