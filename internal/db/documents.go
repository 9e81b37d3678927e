package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/dream-ai/docchat/internal/domain"
)

// CreateDocument creates a new document record
func (db *DB) CreateDocument(ctx context.Context, doc *domain.Document) error {
	if doc.ID == uuid.Nil {
		doc.ID = uuid.New()
	}
	if doc.Status == "" {
		doc.Status = domain.DocumentPending
	}
	metadata := doc.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	err := db.pool.QueryRow(ctx,
		`INSERT INTO documents (id, tenant_id, status, metadata)
		 VALUES ($1, $2, $3, $4)
		 RETURNING created_at, updated_at`,
		doc.ID, doc.TenantID, doc.Status, metadata,
	).Scan(&doc.CreatedAt, &doc.UpdatedAt)
	if err != nil {
		return fmt.Errorf("%w: failed to create document: %v", domain.ErrPersistence, err)
	}
	return nil
}

// GetDocument retrieves a tenant's document by id
func (db *DB) GetDocument(ctx context.Context, tenant string, id uuid.UUID) (*domain.Document, error) {
	var doc domain.Document
	err := db.pool.QueryRow(ctx,
		`SELECT id, tenant_id, status, metadata, created_at, updated_at
		 FROM documents WHERE id = $1 AND tenant_id = $2`,
		id, tenant,
	).Scan(&doc.ID, &doc.TenantID, &doc.Status, &doc.Metadata, &doc.CreatedAt, &doc.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrDocumentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: failed to get document: %v", domain.ErrPersistence, err)
	}
	return &doc, nil
}

// UpdateDocumentStatus moves a document to status unless it is already
// ingested or failed.
func (db *DB) UpdateDocumentStatus(ctx context.Context, tenant string, id uuid.UUID, status domain.DocumentStatus) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE documents SET status = $3, updated_at = NOW()
		 WHERE id = $1 AND tenant_id = $2 AND status NOT IN ('ingested', 'failed')`,
		id, tenant, status,
	)
	if err != nil {
		return fmt.Errorf("%w: failed to update document status: %v", domain.ErrPersistence, err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	doc, err := db.GetDocument(ctx, tenant, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: document %s is already %s", domain.ErrValidation, id, doc.Status)
}

// DeleteDocument deletes a document; chunks go with it through the cascade
func (db *DB) DeleteDocument(ctx context.Context, tenant string, id uuid.UUID) error {
	tag, err := db.pool.Exec(ctx, `DELETE FROM documents WHERE id = $1 AND tenant_id = $2`, id, tenant)
	if err != nil {
		return fmt.Errorf("%w: failed to delete document: %v", domain.ErrPersistence, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrDocumentNotFound
	}
	return nil
}
