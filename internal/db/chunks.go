package db

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"

	"github.com/dream-ai/docchat/internal/domain"
)

// InsertChunks inserts a document's chunks in one transaction. Either every
// row lands or none does.
func (db *DB) InsertChunks(ctx context.Context, tenant string, documentID uuid.UUID, chunks []domain.Chunk) error {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%w: failed to begin chunk insert: %v", domain.ErrPersistence, err)
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	for _, chunk := range chunks {
		id := chunk.ID
		if id == uuid.Nil {
			id = uuid.New()
		}
		metadata := chunk.Metadata
		if metadata == nil {
			metadata = map[string]any{}
		}
		batch.Queue(
			`INSERT INTO chunks (id, document_id, tenant_id, chunk_index, content, embedding, metadata)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			id, documentID, tenant, chunk.ChunkIndex, chunk.Content, pgvector.NewVector(chunk.Embedding), metadata,
		)
	}

	br := tx.SendBatch(ctx, batch)
	for i := 0; i < len(chunks); i++ {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return fmt.Errorf("%w: failed to insert chunk %d: %v", domain.ErrPersistence, i, err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("%w: failed to insert chunks: %v", domain.ErrPersistence, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: failed to commit chunks: %v", domain.ErrPersistence, err)
	}
	return nil
}

// DeleteChunks removes every chunk of a document
func (db *DB) DeleteChunks(ctx context.Context, documentID uuid.UUID) error {
	if _, err := db.pool.Exec(ctx, `DELETE FROM chunks WHERE document_id = $1`, documentID); err != nil {
		return fmt.Errorf("%w: failed to delete chunks: %v", domain.ErrPersistence, err)
	}
	return nil
}

// searchChunksSQL ranks a tenant's chunks of ingested documents by cosine
// distance through the HNSW index, ties by insertion sequence.
const searchChunksSQL = `
SELECT c.id, c.document_id, c.tenant_id, c.chunk_index, c.content, c.metadata, c.created_at,
       1 - (c.embedding <=> $2) AS similarity
FROM chunks c
JOIN documents d ON d.id = c.document_id
WHERE c.tenant_id = $1
  AND d.status = 'ingested'
  AND 1 - (c.embedding <=> $2) >= $3
ORDER BY c.embedding <=> $2, c.seq
LIMIT $4`

// Search finds a tenant's chunks similar to vector above the threshold
func (db *DB) Search(ctx context.Context, tenant string, vector []float32, opts domain.SearchOptions) ([]domain.ScoredChunk, error) {
	rows, err := db.pool.Query(ctx, searchChunksSQL,
		tenant, pgvector.NewVector(vector), opts.MinSimilarity(), opts.Limit(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to search chunks: %v", domain.ErrPersistence, err)
	}
	defer rows.Close()

	var hits []domain.ScoredChunk
	for rows.Next() {
		var hit domain.ScoredChunk
		if err := rows.Scan(
			&hit.ID, &hit.DocumentID, &hit.TenantID, &hit.ChunkIndex,
			&hit.Content, &hit.Metadata, &hit.CreatedAt, &hit.Similarity,
		); err != nil {
			return nil, fmt.Errorf("%w: failed to scan chunk: %v", domain.ErrPersistence, err)
		}
		hits = append(hits, hit)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: failed to read chunks: %v", domain.ErrPersistence, err)
	}
	return hits, nil
}
