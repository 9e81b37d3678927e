package documents

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dream-ai/docchat/internal/domain"
)

// Store persists documents and their chunks
type Store interface {
	CreateDocument(ctx context.Context, doc *domain.Document) error
	GetDocument(ctx context.Context, tenant string, id uuid.UUID) (*domain.Document, error)
	UpdateDocumentStatus(ctx context.Context, tenant string, id uuid.UUID, status domain.DocumentStatus) error
	InsertChunks(ctx context.Context, tenant string, documentID uuid.UUID, chunks []domain.Chunk) error
	DeleteChunks(ctx context.Context, documentID uuid.UUID) error
}

// Embedder embeds chunk texts, returning one vector per input in order
type Embedder interface {
	EmbedMany(ctx context.Context, texts []string) ([][]float32, error)
}

// IngestRequest describes raw document text to ingest
type IngestRequest struct {
	Tenant     string
	DocumentID uuid.UUID
	RawText    string
	FileName   string
	FileType   string
	// Metadata is merged into the document record when it is created.
	Metadata map[string]any
}

// IngestResult reports a successful ingestion
type IngestResult struct {
	DocumentID    uuid.UUID
	ChunksCreated int
}

// Processor chunks, embeds and stores documents
type Processor struct {
	store    Store
	embedder Embedder
	chunker  *Chunker
	logger   *zap.Logger
}

// NewProcessor creates a new document processor
func NewProcessor(store Store, embedder Embedder, chunker *Chunker, logger *zap.Logger) *Processor {
	if chunker == nil {
		chunker = &Chunker{Size: DefaultChunkSize, Overlap: DefaultChunkOverlap}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{
		store:    store,
		embedder: embedder,
		chunker:  chunker,
		logger:   logger.With(zap.String("component", "ingest")),
	}
}

// Ingest moves a document through processing to ingested. The document is
// created as pending when it does not exist yet. On any failure its chunks
// are removed, it is marked failed and the error is returned.
func (p *Processor) Ingest(ctx context.Context, req IngestRequest) (*IngestResult, error) {
	if strings.TrimSpace(req.Tenant) == "" {
		return nil, fmt.Errorf("%w: tenant is required", domain.ErrValidation)
	}
	if req.DocumentID == uuid.Nil {
		return nil, fmt.Errorf("%w: document id is required", domain.ErrValidation)
	}

	if err := p.prepare(ctx, req); err != nil {
		return nil, err
	}

	n, err := p.process(ctx, req)
	if err != nil {
		p.fail(ctx, req, err)
		return nil, err
	}

	p.logger.Info("document ingested",
		zap.String("tenant", req.Tenant),
		zap.String("document_id", req.DocumentID.String()),
		zap.Int("chunks", n))
	return &IngestResult{DocumentID: req.DocumentID, ChunksCreated: n}, nil
}

// IngestFile parses a file and ingests it as a new document.
func (p *Processor) IngestFile(ctx context.Context, tenant, path string) (*IngestResult, error) {
	parsed, err := ParseFile(path)
	if err != nil {
		return nil, err
	}
	return p.Ingest(ctx, IngestRequest{
		Tenant:     tenant,
		DocumentID: uuid.New(),
		RawText:    parsed.Text,
		FileName:   parsed.FileName,
		FileType:   parsed.FileType,
		Metadata: map[string]any{
			"pages":  parsed.Pages,
			"sha256": parsed.SHA256,
			"size":   parsed.Size,
		},
	})
}

func (p *Processor) prepare(ctx context.Context, req IngestRequest) error {
	doc, err := p.store.GetDocument(ctx, req.Tenant, req.DocumentID)
	switch {
	case errors.Is(err, domain.ErrDocumentNotFound):
		md := map[string]any{"name": req.FileName, "file_type": req.FileType}
		for k, v := range req.Metadata {
			md[k] = v
		}
		doc = &domain.Document{
			ID:       req.DocumentID,
			TenantID: req.Tenant,
			Status:   domain.DocumentPending,
			Metadata: md,
		}
		if err := p.store.CreateDocument(ctx, doc); err != nil {
			return persistenceErr("create document", err)
		}
	case err != nil:
		return persistenceErr("load document", err)
	case doc.Status.Terminal():
		return fmt.Errorf("%w: document %s is already %s", domain.ErrValidation, req.DocumentID, doc.Status)
	}

	if err := p.store.UpdateDocumentStatus(ctx, req.Tenant, req.DocumentID, domain.DocumentProcessing); err != nil {
		return persistenceErr("mark processing", err)
	}
	return nil
}

func (p *Processor) process(ctx context.Context, req IngestRequest) (int, error) {
	split, err := p.chunker.Split(req.RawText)
	if err != nil {
		return 0, err
	}
	// Tiny windows can still land entirely on whitespace.
	texts := split[:0]
	for _, text := range split {
		if strings.TrimSpace(text) != "" {
			texts = append(texts, text)
		}
	}
	if len(texts) == 0 {
		return 0, domain.ErrNoChunksProduced
	}

	vectors, err := p.embedder.EmbedMany(ctx, texts)
	if err != nil {
		return 0, err
	}
	if len(vectors) != len(texts) {
		return 0, fmt.Errorf("%w: got %d embeddings for %d chunks", domain.ErrEmbeddingService, len(vectors), len(texts))
	}

	source := req.FileName
	if source == "" {
		source = req.DocumentID.String()
	}
	chunks := make([]domain.Chunk, len(texts))
	for i, text := range texts {
		chunks[i] = domain.Chunk{
			ID:         uuid.New(),
			ChunkIndex: i,
			Content:    text,
			Embedding:  vectors[i],
			Metadata: map[string]any{
				"source":      source,
				"chunk_index": i,
				"file_type":   req.FileType,
			},
		}
	}

	if err := p.store.InsertChunks(ctx, req.Tenant, req.DocumentID, chunks); err != nil {
		return 0, persistenceErr("insert chunks", err)
	}
	if err := p.store.UpdateDocumentStatus(ctx, req.Tenant, req.DocumentID, domain.DocumentIngested); err != nil {
		return 0, persistenceErr("mark ingested", err)
	}
	return len(chunks), nil
}

// fail cleans up after a failed ingestion. Cleanup outlives cancellation of ctx.
func (p *Processor) fail(ctx context.Context, req IngestRequest, cause error) {
	ctx = context.WithoutCancel(ctx)
	log := p.logger.With(
		zap.String("tenant", req.Tenant),
		zap.String("document_id", req.DocumentID.String()))

	log.Error("ingestion failed", zap.Error(cause))
	if err := p.store.DeleteChunks(ctx, req.DocumentID); err != nil {
		log.Warn("failed to remove chunks", zap.Error(err))
	}
	if err := p.store.UpdateDocumentStatus(ctx, req.Tenant, req.DocumentID, domain.DocumentFailed); err != nil {
		log.Warn("failed to mark document failed", zap.Error(err))
	}
}

func persistenceErr(op string, err error) error {
	if errors.Is(err, domain.ErrPersistence) || errors.Is(err, domain.ErrValidation) || errors.Is(err, domain.ErrDocumentNotFound) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%w: %s: %v", domain.ErrPersistence, op, err)
}
