package rag

import (
	"bytes"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalWireFormat(t *testing.T) {
	tests := []struct {
		name string
		ev   Event
		want string
	}{
		{"meta", MetaEvent{ConversationID: "c1", Chunks: []ChunkRef{{ID: "k1", ChunkText: "text"}}},
			`{"type":"meta","conversationId":"c1","chunks":[{"id":"k1","chunk_text":"text","chunk_metadata":{}}]}`},
		{"meta without chunks", MetaEvent{ConversationID: "c1"}, `{"type":"meta","conversationId":"c1","chunks":[]}`},
		{"token", TokenEvent{Data: "Hel"}, `{"type":"token","data":"Hel"}`},
		{"done", DoneEvent{}, `{"type":"done"}`},
		{"error", ErrorEvent{Message: "boom"}, `{"type":"error","error":"boom"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Marshal(tt.ev)
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(got))
		})
	}
}

func TestEncoderWritesOneLinePerEvent(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf)
	require.NoError(t, enc.Encode(MetaEvent{ConversationID: "c1"}))
	require.NoError(t, enc.Encode(TokenEvent{Data: "a\nb"}))
	require.NoError(t, enc.Encode(DoneEvent{}))

	lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
	assert.Len(t, lines, 3)
}

func TestEncoderFlushes(t *testing.T) {
	rec := httptest.NewRecorder()
	enc := NewEncoder(rec)
	require.NoError(t, enc.Encode(TokenEvent{Data: "x"}))
	assert.True(t, rec.Flushed)
}

func TestDecoderReadsEncodedStream(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf)
	sent := []Event{
		MetaEvent{ConversationID: "c1", Chunks: []ChunkRef{{ID: "k1", ChunkText: "t", ChunkMetadata: map[string]any{"source": "a.txt"}}}},
		TokenEvent{Data: "Hello"},
		TokenEvent{Data: " world"},
		ErrorEvent{Message: "failed"},
	}
	for _, ev := range sent {
		require.NoError(t, enc.Encode(ev))
	}

	dec := NewDecoder(&buf)
	var got []Event
	for {
		ev, err := dec.Decode()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		got = append(got, ev)
	}
	assert.Equal(t, sent, got)
}

func TestDecoderRejectsUnknownType(t *testing.T) {
	dec := NewDecoder(strings.NewReader(`{"type":"progress","data":"50%"}` + "\n"))
	_, err := dec.Decode()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "progress")

	dec = NewDecoder(strings.NewReader("not json\n"))
	_, err = dec.Decode()
	assert.Error(t, err)
}
