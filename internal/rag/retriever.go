package rag

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/dream-ai/docchat/internal/domain"
)

// QueryEmbedder embeds a single query string
type QueryEmbedder interface {
	EmbedOne(ctx context.Context, text string) ([]float32, error)
}

// VectorStore stores chunk embeddings and answers tenant-scoped similarity
// searches. Results are ordered by descending similarity and only include
// chunks of ingested documents.
type VectorStore interface {
	InsertChunks(ctx context.Context, tenant string, documentID uuid.UUID, chunks []domain.Chunk) error
	Search(ctx context.Context, tenant string, vector []float32, opts domain.SearchOptions) ([]domain.ScoredChunk, error)
}

// Retriever finds the chunks most relevant to a query
type Retriever struct {
	store    VectorStore
	embedder QueryEmbedder
	opts     domain.SearchOptions
}

// NewRetriever creates a retriever with default search options
func NewRetriever(store VectorStore, embedder QueryEmbedder, opts domain.SearchOptions) *Retriever {
	opts = domain.SearchOptions{TopK: opts.Limit(), Threshold: opts.MinSimilarity()}
	return &Retriever{store: store, embedder: embedder, opts: opts}
}

// Retrieve embeds query and searches the tenant's chunks.
func (r *Retriever) Retrieve(ctx context.Context, tenant, query string) ([]domain.ScoredChunk, error) {
	return r.RetrieveWith(ctx, tenant, query, r.opts)
}

// RetrieveWith is Retrieve with explicit search options.
func (r *Retriever) RetrieveWith(ctx context.Context, tenant, query string, opts domain.SearchOptions) ([]domain.ScoredChunk, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, domain.ErrEmptyInput
	}

	vector, err := r.embedder.EmbedOne(ctx, query)
	if err != nil {
		return nil, err
	}

	chunks, err := r.store.Search(ctx, tenant, vector, opts)
	if err != nil && !errors.Is(err, domain.ErrPersistence) {
		return nil, fmt.Errorf("%w: search: %v", domain.ErrPersistence, err)
	}
	if err != nil {
		return nil, err
	}
	return chunks, nil
}
