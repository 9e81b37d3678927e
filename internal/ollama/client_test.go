package ollama

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ndjsonServer(t *testing.T, lines ...string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/generate", r.URL.Path)
		var req GenerateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.True(t, req.Stream)
		for _, line := range lines {
			fmt.Fprintln(w, line)
			w.(http.Flusher).Flush()
		}
	}))
}

func collect(t *testing.T, s *Stream) ([]string, error) {
	t.Helper()
	var out []string
	for {
		frag, err := s.Next(context.Background())
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, frag)
	}
}

func TestGenerate_StreamsFragmentsInOrder(t *testing.T) {
	srv := ndjsonServer(t,
		`{"response":"Hel","done":false}`,
		`{"response":"","done":false}`,
		`{"response":"lo","done":false}`,
		`{"response":"!","done":true}`,
	)
	defer srv.Close()

	s, err := NewClient(srv.URL, 0).Generate(context.Background(), &GenerateRequest{Model: "m", Prompt: "p"})
	require.NoError(t, err)
	defer s.Close()

	frags, err := collect(t, s)
	require.NoError(t, err)
	assert.Equal(t, []string{"Hel", "lo", "!"}, frags)
}

func TestGenerate_TruncatedStreamIsAnError(t *testing.T) {
	srv := ndjsonServer(t, `{"response":"partial","done":false}`)
	defer srv.Close()

	s, err := NewClient(srv.URL, 0).Generate(context.Background(), &GenerateRequest{Model: "m", Prompt: "p"})
	require.NoError(t, err)
	defer s.Close()

	frags, err := collect(t, s)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	assert.Equal(t, []string{"partial"}, frags)
}

func TestGenerate_InStreamError(t *testing.T) {
	srv := ndjsonServer(t, `{"error":"model crashed"}`)
	defer srv.Close()

	s, err := NewClient(srv.URL, 0).Generate(context.Background(), &GenerateRequest{Model: "m", Prompt: "p"})
	require.NoError(t, err)
	defer s.Close()

	_, err = collect(t, s)
	assert.ErrorContains(t, err, "model crashed")
}

func TestGenerate_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model 'x' not found", http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, 0).Generate(context.Background(), &GenerateRequest{Model: "x", Prompt: "p"})
	assert.ErrorContains(t, err, "404")
}

func TestStreamNext_CancelledContext(t *testing.T) {
	srv := ndjsonServer(t, `{"response":"a","done":false}`, `{"response":"b","done":true}`)
	defer srv.Close()

	s, err := NewClient(srv.URL, 0).Generate(context.Background(), &GenerateRequest{Model: "m", Prompt: "p"})
	require.NoError(t, err)
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPickModel(t *testing.T) {
	models := []ModelInfo{
		{Name: "nomic-embed-text", Size: 9000},
		{Name: "phi3:mini", Size: 100},
		{Name: "mistral:7b", Size: 400},
		{Name: "codellama:13b", Size: 800},
	}

	name, err := pickModel(models, "phi3:mini")
	require.NoError(t, err)
	assert.Equal(t, "phi3:mini", name)

	name, err = pickModel(models, "missing")
	require.NoError(t, err)
	assert.Equal(t, "mistral:7b", name)

	name, err = pickModel(models[:2], "")
	require.NoError(t, err)
	assert.Equal(t, "phi3:mini", name)

	_, err = pickModel([]ModelInfo{{Name: "nomic-embed-text"}}, "")
	assert.Error(t, err)
}

func TestResolveModel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/tags", r.URL.Path)
		_, _ = w.Write([]byte(`{"models":[{"name":"llama3.2:3b","size":10}]}`))
	}))
	defer srv.Close()

	name, err := NewClient(srv.URL, 0).ResolveModel(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "llama3.2:3b", name)
}
