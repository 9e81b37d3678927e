package documents

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dream-ai/docchat/internal/domain"
	"github.com/dream-ai/docchat/internal/memstore"
)

type fakeEmbedder struct {
	err   error
	calls int
}

func (e *fakeEmbedder) EmbedMany(_ context.Context, texts []string) ([][]float32, error) {
	e.calls++
	if e.err != nil {
		return nil, e.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, float32(i)}
	}
	return out, nil
}

// strictEmbedder rejects blank texts the way the Ollama embedder does.
type strictEmbedder struct {
	fakeEmbedder
}

func (e *strictEmbedder) EmbedMany(ctx context.Context, texts []string) ([][]float32, error) {
	for _, text := range texts {
		if strings.TrimSpace(text) == "" {
			return nil, domain.ErrValidation
		}
	}
	return e.fakeEmbedder.EmbedMany(ctx, texts)
}

type failingInsertStore struct {
	*memstore.MemoryStore
}

func (failingInsertStore) InsertChunks(context.Context, string, uuid.UUID, []domain.Chunk) error {
	return errors.New("disk full")
}

func newProcessor(t *testing.T, store Store, emb Embedder) *Processor {
	t.Helper()
	chunker, err := NewChunker(100, 20)
	require.NoError(t, err)
	return NewProcessor(store, emb, chunker, nil)
}

func TestIngestStoresChunks(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	p := newProcessor(t, store, &fakeEmbedder{})
	id := uuid.New()

	res, err := p.Ingest(ctx, IngestRequest{
		Tenant:     "t1",
		DocumentID: id,
		RawText:    strings.Repeat("word ", 50),
		FileName:   "guide.txt",
		FileType:   "text",
	})
	require.NoError(t, err)
	assert.Equal(t, id, res.DocumentID)
	assert.Greater(t, res.ChunksCreated, 1)

	doc, err := store.GetDocument(ctx, "t1", id)
	require.NoError(t, err)
	assert.Equal(t, domain.DocumentIngested, doc.Status)
	assert.Equal(t, "guide.txt", doc.Metadata["name"])

	hits, err := store.Search(ctx, "t1", []float32{1, 0}, domain.SearchOptions{TopK: 100, Threshold: -1})
	require.NoError(t, err)
	require.Len(t, hits, res.ChunksCreated)
	for _, h := range hits {
		assert.Equal(t, "guide.txt", h.Metadata["source"])
		assert.Equal(t, "text", h.Metadata["file_type"])
		assert.Equal(t, h.ChunkIndex, h.Metadata["chunk_index"])
	}
}

func TestIngestEmbeddingFailureMarksFailed(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	p := newProcessor(t, store, &fakeEmbedder{err: domain.ErrEmbeddingService})
	id := uuid.New()

	_, err := p.Ingest(ctx, IngestRequest{Tenant: "t1", DocumentID: id, RawText: "some document text"})
	assert.ErrorIs(t, err, domain.ErrEmbeddingService)

	doc, err := store.GetDocument(ctx, "t1", id)
	require.NoError(t, err)
	assert.Equal(t, domain.DocumentFailed, doc.Status)
}

func TestIngestInsertFailure(t *testing.T) {
	ctx := context.Background()
	mem := memstore.New()
	p := newProcessor(t, failingInsertStore{mem}, &fakeEmbedder{})
	id := uuid.New()

	_, err := p.Ingest(ctx, IngestRequest{Tenant: "t1", DocumentID: id, RawText: "text"})
	assert.ErrorIs(t, err, domain.ErrPersistence)

	doc, err := mem.GetDocument(ctx, "t1", id)
	require.NoError(t, err)
	assert.Equal(t, domain.DocumentFailed, doc.Status)
}

func TestIngestEmptyText(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	emb := &fakeEmbedder{}
	p := newProcessor(t, store, emb)
	id := uuid.New()

	_, err := p.Ingest(ctx, IngestRequest{Tenant: "t1", DocumentID: id, RawText: " \r\n "})
	assert.ErrorIs(t, err, domain.ErrEmptyInput)
	assert.Zero(t, emb.calls)

	doc, err := store.GetDocument(ctx, "t1", id)
	require.NoError(t, err)
	assert.Equal(t, domain.DocumentFailed, doc.Status)
}

func TestIngestLongWhitespaceRuns(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	text := "Refunds" + strings.Repeat(" ", 3000) + "take" + strings.Repeat("\n\n", 800) + "five days."

	for _, size := range []int{100, 1} {
		chunker, err := NewChunker(size, 0)
		require.NoError(t, err)
		p := NewProcessor(store, &strictEmbedder{}, chunker, nil)
		id := uuid.New()

		res, err := p.Ingest(ctx, IngestRequest{Tenant: "t1", DocumentID: id, RawText: text})
		require.NoError(t, err, "size %d", size)
		assert.Positive(t, res.ChunksCreated)

		doc, err := store.GetDocument(ctx, "t1", id)
		require.NoError(t, err)
		assert.Equal(t, domain.DocumentIngested, doc.Status)
	}
}

func TestIngestRejectsTerminalDocuments(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	p := newProcessor(t, store, &fakeEmbedder{})
	id := uuid.New()

	_, err := p.Ingest(ctx, IngestRequest{Tenant: "t1", DocumentID: id, RawText: "first version"})
	require.NoError(t, err)

	_, err = p.Ingest(ctx, IngestRequest{Tenant: "t1", DocumentID: id, RawText: "second version"})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestIngestUsesExistingPendingDocument(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	doc := &domain.Document{ID: uuid.New(), TenantID: "t1", Metadata: map[string]any{"name": "uploaded.pdf"}}
	require.NoError(t, store.CreateDocument(ctx, doc))

	_, err := newProcessor(t, store, &fakeEmbedder{}).Ingest(ctx, IngestRequest{Tenant: "t1", DocumentID: doc.ID, RawText: "body"})
	require.NoError(t, err)

	got, err := store.GetDocument(ctx, "t1", doc.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.DocumentIngested, got.Status)
	assert.Equal(t, "uploaded.pdf", got.Metadata["name"])
}

func TestIngestValidation(t *testing.T) {
	p := newProcessor(t, memstore.New(), &fakeEmbedder{})

	_, err := p.Ingest(context.Background(), IngestRequest{DocumentID: uuid.New(), RawText: "x"})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = p.Ingest(context.Background(), IngestRequest{Tenant: "t1", RawText: "x"})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestIngestFile(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	path := writeFile(t, "faq.txt", "How do refunds work? Refunds take five days.")

	res, err := newProcessor(t, store, &fakeEmbedder{}).IngestFile(ctx, "t1", path)
	require.NoError(t, err)
	assert.Equal(t, 1, res.ChunksCreated)

	doc, err := store.GetDocument(ctx, "t1", res.DocumentID)
	require.NoError(t, err)
	assert.Equal(t, "faq.txt", doc.Metadata["name"])
	assert.Equal(t, "text", doc.Metadata["file_type"])
	assert.NotEmpty(t, doc.Metadata["sha256"])
}
