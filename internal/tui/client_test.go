package tui

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dream-ai/docchat/internal/rag"
)

func TestClientQueryStreamsEvents(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/query", r.URL.Path)
		assert.Equal(t, "acme", r.Header.Get("X-Tenant-ID"))
		assert.Equal(t, "alice", r.Header.Get("X-User-ID"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))

		w.Header().Set("Content-Type", rag.ContentType)
		enc := rag.NewEncoder(w)
		_ = enc.Encode(rag.MetaEvent{ConversationID: "c1"})
		_ = enc.Encode(rag.TokenEvent{Data: "Hi"})
		_ = enc.Encode(rag.DoneEvent{})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, Identity{Tenant: "acme", UserID: "alice"})
	stream, err := c.Query(context.Background(), "hello there", "c0")
	require.NoError(t, err)
	defer stream.Close()

	var events []rag.Event
	for {
		ev, err := stream.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		events = append(events, ev)
	}
	assert.Equal(t, []rag.Event{rag.MetaEvent{ConversationID: "c1", Chunks: []rag.ChunkRef{}}, rag.TokenEvent{Data: "Hi"}, rag.DoneEvent{}}, events)
	assert.Equal(t, "hello there", gotBody["query"])
	assert.Equal(t, "c0", gotBody["conversationId"])
}

func TestClientQueryAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Retry-After", "42")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":"rate limited on query"}`))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, Identity{Tenant: "acme", UserID: "alice"}).Query(context.Background(), "hello there", "")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusTooManyRequests, apiErr.Status)
	assert.Equal(t, "42", apiErr.RetryAfter)
	assert.Contains(t, apiErr.Error(), "rate limited on query")
}

func TestClientHistory(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "c1", r.URL.Query().Get("conversationId"))
		_, _ = w.Write([]byte(`{"messages":[{"role":"user","content":"q"},{"role":"assistant","content":"a"}]}`))
	}))
	defer srv.Close()

	msgs, err := NewClient(srv.URL, Identity{Tenant: "acme", UserID: "alice"}).History(context.Background(), "c1")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "a", msgs[1].Content)
}
