package ollama

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

	"github.com/sony/gobreaker"
)

// Client wraps Ollama API interactions
type Client struct {
	baseURL    string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
}

// NewClient creates a new Ollama client. A zero timeout leaves streams
// bounded only by their context.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "ollama-generate",
			Timeout: 30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			IsSuccessful: func(err error) bool {
				return err == nil || errors.Is(err, context.Canceled)
			},
		}),
	}
}

// GenerateRequest represents a generation request
type GenerateRequest struct {
	Model   string                 `json:"model"`
	Prompt  string                 `json:"prompt"`
	System  string                 `json:"system,omitempty"`
	Stream  bool                   `json:"stream"`
	Options map[string]interface{} `json:"options,omitempty"`
}

// GenerateResponse is one NDJSON line of a generation response
type GenerateResponse struct {
	Model           string `json:"model"`
	CreatedAt       string `json:"created_at"`
	Response        string `json:"response"`
	Done            bool   `json:"done"`
	Error           string `json:"error,omitempty"`
	PromptEvalCount int    `json:"prompt_eval_count,omitempty"`
	EvalCount       int    `json:"eval_count,omitempty"`
	EvalDuration    int64  `json:"eval_duration,omitempty"`
}

// Stream is an open token stream from /api/generate
type Stream struct {
	body    io.ReadCloser
	decoder *json.Decoder
	done    bool
}

// Generate opens a streaming generation. The caller must Close the stream.
// Cancelling ctx aborts the underlying request and any blocked Next.
func (c *Client) Generate(ctx context.Context, req *GenerateRequest) (*Stream, error) {
	req.Stream = true
	out, err := c.breaker.Execute(func() (interface{}, error) {
		return c.open(ctx, req)
	})
	if err != nil {
		return nil, err
	}
	return out.(*Stream), nil
}

func (c *Client) open(ctx context.Context, req *GenerateRequest) (*Stream, error) {
	jsonData, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/generate", bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("ollama API error: %d - %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	return &Stream{body: resp.Body, decoder: json.NewDecoder(resp.Body)}, nil
}

// Next returns the next non-empty text fragment, or io.EOF once the model
// reports completion.
func (s *Stream) Next(ctx context.Context) (string, error) {
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if s.done {
			return "", io.EOF
		}

		var genResp GenerateResponse
		if err := s.decoder.Decode(&genResp); err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			if errors.Is(err, io.EOF) {
				return "", io.ErrUnexpectedEOF
			}
			return "", fmt.Errorf("failed to decode response: %w", err)
		}
		if genResp.Error != "" {
			return "", fmt.Errorf("ollama stream error: %s", genResp.Error)
		}

		s.done = genResp.Done
		if genResp.Response != "" {
			return genResp.Response, nil
		}
	}
}

// Close releases the response body.
func (s *Stream) Close() error {
	return s.body.Close()
}
