package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"

	"github.com/dream-ai/docchat/internal/domain"
)

// Config configures a TextEmbedder
type Config struct {
	BaseURL    string
	Model      string
	Dimensions int
	BatchSize  int
	MaxRetries int
	// InitialBackoff is the first retry delay; it doubles per attempt.
	InitialBackoff time.Duration
	HTTPClient     *http.Client
}

// TextEmbedder generates text embeddings using Ollama
type TextEmbedder struct {
	baseURL    string
	model      string
	dims       int
	batchSize  int
	maxRetries int
	backoff    time.Duration
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
}

// NewTextEmbedder creates a new text embedder
func NewTextEmbedder(cfg Config) *TextEmbedder {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:11434"
	}
	if cfg.Model == "" {
		cfg.Model = "nomic-embed-text"
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 32
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 200 * time.Millisecond
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: time.Minute}
	}
	return &TextEmbedder{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		model:      cfg.Model,
		dims:       cfg.Dimensions,
		batchSize:  cfg.BatchSize,
		maxRetries: cfg.MaxRetries,
		backoff:    cfg.InitialBackoff,
		httpClient: cfg.HTTPClient,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "embeddings",
			Timeout: 30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			IsSuccessful: func(err error) bool {
				return err == nil || errors.Is(err, context.Canceled) || isPermanent(err)
			},
		}),
	}
}

// Dimensions returns the vector length every embedding must have.
func (e *TextEmbedder) Dimensions() int {
	return e.dims
}

// EmbedOne generates an embedding for a single text
func (e *TextEmbedder) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.EmbedMany(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedMany generates embeddings for texts, preserving order. Texts are sent
// in batches of the configured size. Nothing is returned unless every batch
// succeeds.
func (e *TextEmbedder) EmbedMany(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: no texts to embed", domain.ErrValidation)
	}
	for i, text := range texts {
		if strings.TrimSpace(text) == "" {
			return nil, fmt.Errorf("%w: text %d is empty", domain.ErrValidation, i)
		}
	}

	vectors := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += e.batchSize {
		end := start + e.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		batch, err := e.embedBatch(ctx, texts[start:end])
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrEmbeddingService, err)
		}
		vectors = append(vectors, batch...)
	}
	return vectors, nil
}

func (e *TextEmbedder) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = e.backoff
	retry := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(e.maxRetries)), ctx)

	var vectors [][]float32
	err := backoff.Retry(func() error {
		out, err := e.breaker.Execute(func() (interface{}, error) {
			return e.request(ctx, texts)
		})
		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) || isPermanent(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		vectors = out.([][]float32)
		return nil
	}, retry)
	if err != nil {
		return nil, err
	}

	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(texts), len(vectors))
	}
	for i, v := range vectors {
		if len(v) == 0 {
			return nil, fmt.Errorf("empty embedding returned for text %d", i)
		}
		if e.dims > 0 && len(v) != e.dims {
			return nil, fmt.Errorf("embedding %d has %d dimensions, want %d", i, len(v), e.dims)
		}
	}
	return vectors, nil
}

// permanentError marks a failure retrying cannot fix.
type permanentError struct{ err error }

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

func isPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

func (e *TextEmbedder) request(ctx context.Context, texts []string) ([][]float32, error) {
	payload := map[string]interface{}{
		"model": e.model,
		"input": texts,
	}
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, &permanentError{fmt.Errorf("failed to marshal request: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/api/embed", bytes.NewReader(jsonData))
	if err != nil {
		return nil, &permanentError{fmt.Errorf("failed to create request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		apiErr := fmt.Errorf("ollama API error: %d - %s", resp.StatusCode, strings.TrimSpace(string(body)))
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return nil, apiErr
		}
		return nil, &permanentError{apiErr}
	}

	var result struct {
		Embeddings [][]float32 `json:"embeddings"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, &permanentError{fmt.Errorf("failed to decode response: %w", err)}
	}
	return result.Embeddings, nil
}
