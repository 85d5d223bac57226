package store

import "time"

type Conversation struct {
	ID        string    `json:"id"` // UUID
	CreatedAt time.Time `json:"created_at"`
}

type Turn struct {
	ID             string    `json:"id"` // UUID
	ConversationID string    `json:"conversation_id"`
	Role           string    `json:"role"` // "user" or "assistant"
	Content        string    `json:"content"`
	Timestamp      time.Time `json:"timestamp"`
}

// DocumentRecord is one entry of the indexed-documents registry.
type DocumentRecord struct {
	Name       string    `json:"name"`
	ChunkCount int       `json:"chunk_count"`
	IndexedAt  time.Time `json:"indexed_at"`
}
