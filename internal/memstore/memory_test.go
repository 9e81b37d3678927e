package memstore

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dream-ai/docchat/internal/domain"
)

func ingestedDoc(t *testing.T, s *MemoryStore, tenant string, vectors ...[]float32) uuid.UUID {
	t.Helper()
	ctx := context.Background()
	doc := &domain.Document{TenantID: tenant}
	require.NoError(t, s.CreateDocument(ctx, doc))

	chunks := make([]domain.Chunk, len(vectors))
	for i, v := range vectors {
		chunks[i] = domain.Chunk{ChunkIndex: i, Content: "chunk", Embedding: v}
	}
	require.NoError(t, s.InsertChunks(ctx, tenant, doc.ID, chunks))
	require.NoError(t, s.UpdateDocumentStatus(ctx, tenant, doc.ID, domain.DocumentIngested))
	return doc.ID
}

func TestSearch_ThresholdTopKAndOrder(t *testing.T) {
	s := New()
	ctx := context.Background()
	ingestedDoc(t, s, "acme",
		[]float32{0.8, 0.6},   // 0.8
		[]float32{1, 0},       // 1.0
		[]float32{0, 1},       // 0.0
		[]float32{0.96, 0.28}, // 0.96
		[]float32{0.8, -0.6},  // 0.8
	)

	hits, err := s.Search(ctx, "acme", []float32{1, 0}, domain.SearchOptions{TopK: 10, Threshold: 0.75})
	require.NoError(t, err)
	require.Len(t, hits, 4)
	assert.InDelta(t, 1.0, hits[0].Similarity, 1e-6)
	assert.InDelta(t, 0.96, hits[1].Similarity, 1e-6)
	assert.Equal(t, 0, hits[2].ChunkIndex, "ties keep insertion order")
	assert.Equal(t, 4, hits[3].ChunkIndex)
	for _, h := range hits {
		assert.GreaterOrEqual(t, h.Similarity, 0.75)
	}

	hits, err = s.Search(ctx, "acme", []float32{1, 0}, domain.SearchOptions{TopK: 2, Threshold: 0.75})
	require.NoError(t, err)
	assert.Len(t, hits, 2)
}

func TestSearch_DefaultTopK(t *testing.T) {
	s := New()
	vectors := make([][]float32, 10)
	for i := range vectors {
		vectors[i] = []float32{1, 0}
	}
	ingestedDoc(t, s, "acme", vectors...)

	hits, err := s.Search(context.Background(), "acme", []float32{1, 0}, domain.SearchOptions{Threshold: 0.75})
	require.NoError(t, err)
	assert.Len(t, hits, domain.DefaultTopK)
}

func TestSearch_ZeroThresholdMeansDefault(t *testing.T) {
	s := New()
	ingestedDoc(t, s, "acme",
		[]float32{0.995, 0.0995}, // ~0.995
		[]float32{0.0995, 0.995}, // ~0.0995
		[]float32{0.7, 0.714},    // ~0.70
	)

	hits, err := s.Search(context.Background(), "acme", []float32{1, 0}, domain.SearchOptions{})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, 0, hits[0].ChunkIndex)

	hits, err = s.Search(context.Background(), "acme", []float32{1, 0}, domain.SearchOptions{Threshold: -1})
	require.NoError(t, err)
	assert.Len(t, hits, 3, "an explicit threshold is used as given")
}

func TestSearch_HighThresholdReturnsEmpty(t *testing.T) {
	s := New()
	ingestedDoc(t, s, "acme", []float32{0.8, 0.6})

	hits, err := s.Search(context.Background(), "acme", []float32{1, 0}, domain.SearchOptions{TopK: 6, Threshold: 0.99})
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestSearch_TenantIsolation(t *testing.T) {
	s := New()
	ingestedDoc(t, s, "acme", []float32{1, 0})
	other := ingestedDoc(t, s, "globex", []float32{1, 0}, []float32{1, 0})

	hits, err := s.Search(context.Background(), "acme", []float32{1, 0}, domain.DefaultSearchOptions())
	require.NoError(t, err)
	require.Len(t, hits, 1)
	for _, h := range hits {
		assert.Equal(t, "acme", h.TenantID)
		assert.NotEqual(t, other, h.DocumentID)
	}
}

func TestSearch_OnlyIngestedDocumentsVisible(t *testing.T) {
	s := New()
	ctx := context.Background()
	doc := &domain.Document{TenantID: "acme"}
	require.NoError(t, s.CreateDocument(ctx, doc))
	require.NoError(t, s.InsertChunks(ctx, "acme", doc.ID, []domain.Chunk{{Content: "x", Embedding: []float32{1, 0}}}))

	hits, err := s.Search(ctx, "acme", []float32{1, 0}, domain.DefaultSearchOptions())
	require.NoError(t, err)
	assert.Empty(t, hits, "processing documents are invisible")

	require.NoError(t, s.UpdateDocumentStatus(ctx, "acme", doc.ID, domain.DocumentFailed))
	hits, err = s.Search(ctx, "acme", []float32{1, 0}, domain.DefaultSearchOptions())
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestSearch_SkipsMismatchedDimensions(t *testing.T) {
	s := New()
	ingestedDoc(t, s, "acme", []float32{1, 0, 0}, []float32{1, 0})

	hits, err := s.Search(context.Background(), "acme", []float32{1, 0}, domain.DefaultSearchOptions())
	require.NoError(t, err)
	assert.Len(t, hits, 1)
}

func TestDocumentStatus_TerminalIsImmutable(t *testing.T) {
	s := New()
	ctx := context.Background()
	doc := &domain.Document{TenantID: "acme"}
	require.NoError(t, s.CreateDocument(ctx, doc))
	assert.Equal(t, domain.DocumentPending, doc.Status)

	require.NoError(t, s.UpdateDocumentStatus(ctx, "acme", doc.ID, domain.DocumentProcessing))
	require.NoError(t, s.UpdateDocumentStatus(ctx, "acme", doc.ID, domain.DocumentIngested))
	assert.ErrorIs(t, s.UpdateDocumentStatus(ctx, "acme", doc.ID, domain.DocumentFailed), domain.ErrValidation)
	assert.ErrorIs(t, s.UpdateDocumentStatus(ctx, "globex", doc.ID, domain.DocumentFailed), domain.ErrDocumentNotFound)
}

func TestDeleteDocument_CascadesChunks(t *testing.T) {
	s := New()
	ctx := context.Background()
	id := ingestedDoc(t, s, "acme", []float32{1, 0})

	require.NoError(t, s.DeleteDocument(ctx, "acme", id))
	hits, err := s.Search(ctx, "acme", []float32{1, 0}, domain.DefaultSearchOptions())
	require.NoError(t, err)
	assert.Empty(t, hits)
	assert.Empty(t, s.chunks)
}

func TestMessages_AppendOrder(t *testing.T) {
	s := New()
	ctx := context.Background()
	conv := &domain.Conversation{TenantID: "acme", UserID: "u1", Title: "t"}
	require.NoError(t, s.CreateConversation(ctx, conv))

	for _, role := range []domain.Role{domain.RoleUser, domain.RoleAssistant, domain.RoleUser} {
		require.NoError(t, s.InsertMessage(ctx, &domain.Message{ConversationID: conv.ID, Role: role, Content: string(role)}))
	}
	msgs, err := s.ListMessages(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, domain.RoleAssistant, msgs[1].Role)

	n, err := s.CountConversations(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	err = s.InsertMessage(ctx, &domain.Message{ConversationID: uuid.New(), Role: domain.RoleUser})
	assert.ErrorIs(t, err, domain.ErrConversationNotFound)
}
