// Package domain holds the entities shared by ingestion, retrieval and chat,
// together with the error taxonomy every layer wraps.
package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrValidation indicates bad input shape or size. Never retried.
	ErrValidation = errors.New("validation failed")

	// ErrAuthorization indicates the caller may not act on the resource.
	ErrAuthorization = errors.New("not authorized")

	// ErrQuotaExceeded indicates a plan limit has been reached.
	ErrQuotaExceeded = errors.New("quota exceeded")

	// ErrRateLimited indicates the caller exceeded an operation's rate policy.
	// Returned errors carry a retry hint; see RateLimitError.
	ErrRateLimited = errors.New("rate limited")

	// ErrEmbeddingService indicates the embedding service failed.
	ErrEmbeddingService = errors.New("embedding service error")

	// ErrModelService indicates the language model service failed.
	ErrModelService = errors.New("model service error")

	// ErrPersistence indicates a storage failure.
	ErrPersistence = errors.New("persistence error")

	// ErrConversationNotFound indicates the conversation does not exist for the tenant.
	ErrConversationNotFound = errors.New("conversation not found")

	// ErrDocumentNotFound indicates the document does not exist for the tenant.
	ErrDocumentNotFound = errors.New("document not found")

	// ErrEmptyInput indicates the text to chunk was empty after normalization.
	ErrEmptyInput = errors.New("empty input")

	// ErrNoChunksProduced indicates chunking yielded nothing.
	ErrNoChunksProduced = errors.New("no chunks produced")
)

// RateLimitError is returned when a rate policy rejects a call.
type RateLimitError struct {
	Operation  string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited on %s: retry after %s", e.Operation, e.RetryAfter)
}

// Is makes errors.Is(err, ErrRateLimited) hold for any RateLimitError.
func (e *RateLimitError) Is(target error) bool {
	return target == ErrRateLimited
}
