// Package memstore keeps documents, chunks and conversations in process
// memory. It backs the test suites and `serve --memory`.
package memstore

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dream-ai/docchat/internal/domain"
)

type MemoryStore struct {
	mu            sync.RWMutex
	docs          map[uuid.UUID]*domain.Document
	chunks        []domain.Chunk
	conversations map[uuid.UUID]*domain.Conversation
	messages      map[uuid.UUID][]domain.Message
	now           func() time.Time
}

func New() *MemoryStore {
	return &MemoryStore{
		docs:          make(map[uuid.UUID]*domain.Document),
		conversations: make(map[uuid.UUID]*domain.Conversation),
		messages:      make(map[uuid.UUID][]domain.Message),
		now:           time.Now,
	}
}

func (s *MemoryStore) CreateDocument(_ context.Context, doc *domain.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if doc.ID == uuid.Nil {
		doc.ID = uuid.New()
	}
	if _, ok := s.docs[doc.ID]; ok {
		return fmt.Errorf("%w: document %s already exists", domain.ErrPersistence, doc.ID)
	}
	if doc.Status == "" {
		doc.Status = domain.DocumentPending
	}
	doc.CreatedAt = s.now()
	doc.UpdatedAt = doc.CreatedAt
	stored := *doc
	s.docs[doc.ID] = &stored
	return nil
}

func (s *MemoryStore) GetDocument(_ context.Context, tenant string, id uuid.UUID) (*domain.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[id]
	if !ok || doc.TenantID != tenant {
		return nil, domain.ErrDocumentNotFound
	}
	out := *doc
	return &out, nil
}

func (s *MemoryStore) UpdateDocumentStatus(_ context.Context, tenant string, id uuid.UUID, status domain.DocumentStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[id]
	if !ok || doc.TenantID != tenant {
		return domain.ErrDocumentNotFound
	}
	if doc.Status.Terminal() {
		return fmt.Errorf("%w: document %s is already %s", domain.ErrValidation, id, doc.Status)
	}
	doc.Status = status
	doc.UpdatedAt = s.now()
	return nil
}

// DeleteDocument removes a document and cascades to its chunks.
func (s *MemoryStore) DeleteDocument(_ context.Context, tenant string, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[id]
	if !ok || doc.TenantID != tenant {
		return domain.ErrDocumentNotFound
	}
	delete(s.docs, id)
	s.dropChunks(id)
	return nil
}

func (s *MemoryStore) InsertChunks(_ context.Context, tenant string, documentID uuid.UUID, chunks []domain.Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[documentID]
	if !ok || doc.TenantID != tenant {
		return domain.ErrDocumentNotFound
	}
	batch := make([]domain.Chunk, 0, len(chunks))
	for i, c := range chunks {
		if len(c.Embedding) == 0 {
			return fmt.Errorf("%w: chunk %d has no embedding", domain.ErrPersistence, i)
		}
		if c.ID == uuid.Nil {
			c.ID = uuid.New()
		}
		c.TenantID = tenant
		c.DocumentID = documentID
		c.CreatedAt = s.now()
		batch = append(batch, c)
	}
	s.chunks = append(s.chunks, batch...)
	return nil
}

// DeleteChunks removes every chunk of a document.
func (s *MemoryStore) DeleteChunks(_ context.Context, documentID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dropChunks(documentID)
	return nil
}

func (s *MemoryStore) dropChunks(documentID uuid.UUID) {
	kept := s.chunks[:0]
	for _, c := range s.chunks {
		if c.DocumentID != documentID {
			kept = append(kept, c)
		}
	}
	s.chunks = kept
}

// Search scans every visible chunk of the tenant. Results are ordered by
// similarity, ties by insertion order.
func (s *MemoryStore) Search(_ context.Context, tenant string, vector []float32, opts domain.SearchOptions) ([]domain.ScoredChunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	threshold := opts.MinSimilarity()
	var hits []domain.ScoredChunk
	for _, c := range s.chunks {
		if c.TenantID != tenant {
			continue
		}
		if doc, ok := s.docs[c.DocumentID]; !ok || doc.Status != domain.DocumentIngested {
			continue
		}
		sim, ok := cosine(vector, c.Embedding)
		if !ok || sim < threshold {
			continue
		}
		hits = append(hits, domain.ScoredChunk{Chunk: c, Similarity: sim})
	}

	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].Similarity > hits[j].Similarity
	})
	if limit := opts.Limit(); len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

func cosine(a, b []float32) (float64, bool) {
	if len(a) != len(b) || len(a) == 0 {
		return 0, false
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0, false
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb)), true
}

func (s *MemoryStore) GetConversation(_ context.Context, id uuid.UUID) (*domain.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.conversations[id]
	if !ok {
		return nil, domain.ErrConversationNotFound
	}
	out := *conv
	return &out, nil
}

func (s *MemoryStore) CountConversations(_ context.Context, tenant string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, conv := range s.conversations {
		if conv.TenantID == tenant {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) CreateConversation(_ context.Context, conv *domain.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if conv.ID == uuid.Nil {
		conv.ID = uuid.New()
	}
	conv.CreatedAt = s.now()
	stored := *conv
	s.conversations[conv.ID] = &stored
	return nil
}

func (s *MemoryStore) InsertMessage(_ context.Context, msg *domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conversations[msg.ConversationID]; !ok {
		return domain.ErrConversationNotFound
	}
	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}
	msg.CreatedAt = s.now()
	s.messages[msg.ConversationID] = append(s.messages[msg.ConversationID], *msg)
	return nil
}

func (s *MemoryStore) ListMessages(_ context.Context, conversationID uuid.UUID) ([]domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := s.messages[conversationID]
	out := make([]domain.Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

func (s *MemoryStore) Close() error {
	return nil
}
