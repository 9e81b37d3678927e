package rag

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// ContentType is the media type of an encoded event stream.
const ContentType = "application/x-ndjson"

// EventType discriminates the wire representation of an Event.
type EventType string

const (
	EventMeta  EventType = "meta"
	EventToken EventType = "token"
	EventDone  EventType = "done"
	EventError EventType = "error"
)

// Event is one frame of an answer stream. The set of implementations is
// closed: MetaEvent, TokenEvent, DoneEvent and ErrorEvent.
type Event interface {
	Type() EventType
	isEvent()
}

// ChunkRef is a grounding chunk as shown to clients.
type ChunkRef struct {
	ID            string         `json:"id"`
	ChunkText     string         `json:"chunk_text"`
	ChunkMetadata map[string]any `json:"chunk_metadata"`
}

// MetaEvent opens every stream.
type MetaEvent struct {
	ConversationID string
	Chunks         []ChunkRef
}

// TokenEvent carries one incremental fragment of the answer.
type TokenEvent struct {
	Data string
}

// DoneEvent terminates a successful stream.
type DoneEvent struct{}

// ErrorEvent terminates a failed stream.
type ErrorEvent struct {
	Message string
}

func (MetaEvent) Type() EventType  { return EventMeta }
func (TokenEvent) Type() EventType { return EventToken }
func (DoneEvent) Type() EventType  { return EventDone }
func (ErrorEvent) Type() EventType { return EventError }

func (MetaEvent) isEvent()  {}
func (TokenEvent) isEvent() {}
func (DoneEvent) isEvent()  {}
func (ErrorEvent) isEvent() {}

type wireMeta struct {
	Type           EventType  `json:"type"`
	ConversationID string     `json:"conversationId"`
	Chunks         []ChunkRef `json:"chunks"`
}

type wireToken struct {
	Type EventType `json:"type"`
	Data string    `json:"data"`
}

type wireDone struct {
	Type EventType `json:"type"`
}

type wireError struct {
	Type  EventType `json:"type"`
	Error string    `json:"error"`
}

// Marshal returns the single-line JSON form of ev, without the newline.
func Marshal(ev Event) ([]byte, error) {
	switch e := ev.(type) {
	case MetaEvent:
		chunks := make([]ChunkRef, len(e.Chunks))
		copy(chunks, e.Chunks)
		for i := range chunks {
			if chunks[i].ChunkMetadata == nil {
				chunks[i].ChunkMetadata = map[string]any{}
			}
		}
		return json.Marshal(wireMeta{Type: EventMeta, ConversationID: e.ConversationID, Chunks: chunks})
	case TokenEvent:
		return json.Marshal(wireToken{Type: EventToken, Data: e.Data})
	case DoneEvent:
		return json.Marshal(wireDone{Type: EventDone})
	case ErrorEvent:
		return json.Marshal(wireError{Type: EventError, Error: e.Message})
	default:
		return nil, fmt.Errorf("unknown event %T", ev)
	}
}

// Unmarshal parses one JSON event line. Unknown types are an error.
func Unmarshal(line []byte) (Event, error) {
	var head struct {
		Type EventType `json:"type"`
	}
	if err := json.Unmarshal(line, &head); err != nil {
		return nil, fmt.Errorf("invalid event: %w", err)
	}

	switch head.Type {
	case EventMeta:
		var w wireMeta
		if err := json.Unmarshal(line, &w); err != nil {
			return nil, fmt.Errorf("invalid meta event: %w", err)
		}
		return MetaEvent{ConversationID: w.ConversationID, Chunks: w.Chunks}, nil
	case EventToken:
		var w wireToken
		if err := json.Unmarshal(line, &w); err != nil {
			return nil, fmt.Errorf("invalid token event: %w", err)
		}
		return TokenEvent{Data: w.Data}, nil
	case EventDone:
		return DoneEvent{}, nil
	case EventError:
		var w wireError
		if err := json.Unmarshal(line, &w); err != nil {
			return nil, fmt.Errorf("invalid error event: %w", err)
		}
		return ErrorEvent{Message: w.Error}, nil
	default:
		return nil, fmt.Errorf("unknown event type %q", head.Type)
	}
}

// Encoder writes newline-terminated events, flushing after each when the
// writer supports it.
type Encoder struct {
	w       io.Writer
	flusher http.Flusher
}

func NewEncoder(w io.Writer) *Encoder {
	f, _ := w.(http.Flusher)
	return &Encoder{w: w, flusher: f}
}

func (e *Encoder) Encode(ev Event) error {
	line, err := Marshal(ev)
	if err != nil {
		return err
	}
	line = append(line, '\n')
	if _, err := e.w.Write(line); err != nil {
		return err
	}
	if e.flusher != nil {
		e.flusher.Flush()
	}
	return nil
}

// Decoder reads events written by an Encoder.
type Decoder struct {
	scanner *bufio.Scanner
}

func NewDecoder(r io.Reader) *Decoder {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	return &Decoder{scanner: s}
}

// Decode returns the next event, skipping blank lines, or io.EOF.
func (d *Decoder) Decode() (Event, error) {
	for d.scanner.Scan() {
		line := d.scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		return Unmarshal(line)
	}
	if err := d.scanner.Err(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}
