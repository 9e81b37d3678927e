package tui

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/dream-ai/docchat/internal/domain"
	"github.com/dream-ai/docchat/internal/rag"
)

// Identity is sent with every request as gateway headers
type Identity struct {
	Tenant string
	UserID string
	Plan   string
}

// Client talks to a docchat server
type Client struct {
	baseURL    string
	identity   Identity
	httpClient *http.Client
}

func NewClient(baseURL string, identity Identity) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		identity:   identity,
		httpClient: &http.Client{},
	}
}

// APIError is a non-2xx response
type APIError struct {
	Status     int
	Message    string
	RetryAfter string
}

func (e *APIError) Error() string {
	if e.RetryAfter != "" {
		return fmt.Sprintf("%s (retry in %ss)", e.Message, e.RetryAfter)
	}
	return fmt.Sprintf("%s (HTTP %d)", e.Message, e.Status)
}

// EventStream is an open answer stream
type EventStream struct {
	body    io.ReadCloser
	decoder *rag.Decoder
}

// Next returns the next event or io.EOF.
func (s *EventStream) Next() (rag.Event, error) {
	return s.decoder.Decode()
}

func (s *EventStream) Close() error {
	return s.body.Close()
}

// Query asks a question. conversationID may be empty to start a new
// conversation. Cancelling ctx aborts the stream.
func (c *Client) Query(ctx context.Context, query, conversationID string) (*EventStream, error) {
	payload := map[string]any{"query": query}
	if conversationID != "" {
		payload["conversationId"] = conversationID
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/chat/query", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", rag.ContentType)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to reach server: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, readAPIError(resp)
	}
	return &EventStream{body: resp.Body, decoder: rag.NewDecoder(resp.Body)}, nil
}

// History lists the messages of a conversation.
func (c *Client) History(ctx context.Context, conversationID string) ([]domain.Message, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/chat/messages?conversationId="+url.QueryEscape(conversationID), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to reach server: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, readAPIError(resp)
	}

	var out struct {
		Messages []domain.Message `json:"messages"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode history: %w", err)
	}
	return out.Messages, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-Tenant-ID", c.identity.Tenant)
	req.Header.Set("X-User-ID", c.identity.UserID)
	if c.identity.Plan != "" {
		req.Header.Set("X-Plan", c.identity.Plan)
	}
	return req, nil
}

func readAPIError(resp *http.Response) error {
	apiErr := &APIError{Status: resp.StatusCode, RetryAfter: resp.Header.Get("Retry-After")}
	var body struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64*1024)).Decode(&body); err == nil && body.Error != "" {
		apiErr.Message = body.Error
	} else {
		apiErr.Message = http.StatusText(resp.StatusCode)
	}
	return apiErr
}
