package domain

import (
	"time"

	"github.com/google/uuid"
)

// DocumentStatus tracks a document through ingestion.
type DocumentStatus string

const (
	DocumentPending    DocumentStatus = "pending"
	DocumentProcessing DocumentStatus = "processing"
	DocumentIngested   DocumentStatus = "ingested"
	DocumentFailed     DocumentStatus = "failed"
)

// Terminal reports whether the document can no longer change status.
func (s DocumentStatus) Terminal() bool {
	return s == DocumentIngested || s == DocumentFailed
}

// Document represents an uploaded document owned by a tenant
type Document struct {
	ID        uuid.UUID
	TenantID  string
	Status    DocumentStatus
	Metadata  map[string]any // original name, size, type
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Chunk is a bounded slice of a document's text with its embedding
type Chunk struct {
	ID         uuid.UUID
	DocumentID uuid.UUID
	TenantID   string
	ChunkIndex int
	Content    string
	Embedding  []float32
	Metadata   map[string]any
	CreatedAt  time.Time
}

// ScoredChunk is a search hit with its cosine similarity to the query.
type ScoredChunk struct {
	Chunk
	Similarity float64
}

// Conversation groups the messages of one user within a tenant
type Conversation struct {
	ID        uuid.UUID
	TenantID  string
	UserID    string
	Title     string
	CreatedAt time.Time
}

// Role identifies the author of a message
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// Message is an append-only entry in a conversation
type Message struct {
	ID             uuid.UUID      `json:"id"`
	ConversationID uuid.UUID      `json:"conversationId"`
	Role           Role           `json:"role"`
	Content        string         `json:"content"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	CreatedAt      time.Time      `json:"createdAt"`
}

const (
	DefaultTopK                = 6
	DefaultSimilarityThreshold = 0.75
)

// SearchOptions bounds a similarity search. A non-positive TopK means
// DefaultTopK and a zero Threshold means DefaultSimilarityThreshold.
type SearchOptions struct {
	TopK      int
	Threshold float64
}

// DefaultSearchOptions returns TopK 6 and threshold 0.75.
func DefaultSearchOptions() SearchOptions {
	return SearchOptions{TopK: DefaultTopK, Threshold: DefaultSimilarityThreshold}
}

// Limit returns the effective result bound.
func (o SearchOptions) Limit() int {
	if o.TopK <= 0 {
		return DefaultTopK
	}
	return o.TopK
}

// MinSimilarity returns the effective similarity cutoff.
func (o SearchOptions) MinSimilarity() float64 {
	if o.Threshold == 0 {
		return DefaultSimilarityThreshold
	}
	return o.Threshold
}
