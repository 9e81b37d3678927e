package rag

import (
	"context"
	"errors"
	"io"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dream-ai/docchat/internal/domain"
	"github.com/dream-ai/docchat/internal/ollama"
)

// MetaChunkLimit is the number of grounding chunks sent in the meta event.
const MetaChunkLimit = 3

// TokenStream yields answer fragments until io.EOF
type TokenStream interface {
	Next(ctx context.Context) (string, error)
	Close() error
}

// LanguageModel opens a streaming completion for a prompt
type LanguageModel interface {
	Name() string
	Stream(ctx context.Context, prompt string) (TokenStream, error)
}

// MessageRecorder persists conversation messages
type MessageRecorder interface {
	AppendMessage(ctx context.Context, conversationID uuid.UUID, role domain.Role, content string, metadata map[string]any) (*domain.Message, error)
}

// Request is one grounded answer to produce
type Request struct {
	ConversationID uuid.UUID
	Query          string
	Chunks         []domain.ScoredChunk
}

// Generator streams grounded answers and records them once complete
type Generator struct {
	model    LanguageModel
	recorder MessageRecorder
	builder  *ContextBuilder
	logger   *zap.Logger
}

func NewGenerator(model LanguageModel, recorder MessageRecorder, builder *ContextBuilder, logger *zap.Logger) *Generator {
	if builder == nil {
		builder = NewContextBuilder(0, false)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Generator{model: model, recorder: recorder, builder: builder, logger: logger.With(zap.String("component", "generator"))}
}

// Stream starts generation and returns its events. The channel yields a
// MetaEvent, zero or more TokenEvents and then exactly one DoneEvent or
// ErrorEvent, and is closed afterwards. The assistant message is stored
// before DoneEvent and never on failure. When ctx is cancelled the stream
// stops without a terminal event and nothing is stored.
func (g *Generator) Stream(ctx context.Context, req Request) <-chan Event {
	out := make(chan Event)
	go func() {
		defer close(out)
		g.run(ctx, req, out)
	}()
	return out
}

func (g *Generator) run(ctx context.Context, req Request, out chan<- Event) {
	send := func(ev Event) bool {
		if ctx.Err() != nil {
			return false
		}
		select {
		case out <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}
	fail := func(msg string, err error) {
		g.logger.Error(msg,
			zap.String("conversation_id", req.ConversationID.String()),
			zap.Error(err))
		send(ErrorEvent{Message: msg})
	}

	excerpts, used := g.builder.BuildContext(req.Chunks)
	prompt := g.builder.BuildPrompt(excerpts, req.Query)

	if !send(MetaEvent{ConversationID: req.ConversationID.String(), Chunks: chunkRefs(used, MetaChunkLimit)}) {
		return
	}

	stream, err := g.model.Stream(ctx, prompt)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		fail("the language model is unavailable", err)
		return
	}
	defer stream.Close()

	var answer strings.Builder
	for {
		if ctx.Err() != nil {
			return
		}
		fragment, err := stream.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			fail("the language model failed while answering", err)
			return
		}
		answer.WriteString(fragment)
		if !send(TokenEvent{Data: fragment}) {
			return
		}
	}

	if strings.TrimSpace(answer.String()) == "" {
		fail("the language model returned an empty answer", domain.ErrModelService)
		return
	}
	if ctx.Err() != nil {
		return
	}

	ids := make([]string, 0, len(used))
	for _, c := range used {
		ids = append(ids, c.ID.String())
	}
	metadata := map[string]any{
		"chunk_ids": ids,
		"model":     g.model.Name(),
	}
	if _, err := g.recorder.AppendMessage(ctx, req.ConversationID, domain.RoleAssistant, answer.String(), metadata); err != nil {
		if ctx.Err() != nil {
			return
		}
		fail("failed to save the answer", err)
		return
	}

	send(DoneEvent{})
}

func chunkRefs(chunks []domain.ScoredChunk, limit int) []ChunkRef {
	if len(chunks) > limit {
		chunks = chunks[:limit]
	}
	refs := make([]ChunkRef, 0, len(chunks))
	for _, c := range chunks {
		md := make(map[string]any, len(c.Metadata)+1)
		for k, v := range c.Metadata {
			md[k] = v
		}
		md["similarity"] = c.Similarity
		refs = append(refs, ChunkRef{ID: c.ID.String(), ChunkText: c.Content, ChunkMetadata: md})
	}
	return refs
}

// OllamaModel adapts an ollama client to LanguageModel
type OllamaModel struct {
	client  *ollama.Client
	model   string
	options map[string]interface{}
}

func NewOllamaModel(client *ollama.Client, model string) *OllamaModel {
	return &OllamaModel{
		client:  client,
		model:   model,
		options: map[string]interface{}{"temperature": 0.2},
	}
}

func (m *OllamaModel) Name() string { return m.model }

func (m *OllamaModel) Stream(ctx context.Context, prompt string) (TokenStream, error) {
	s, err := m.client.Generate(ctx, &ollama.GenerateRequest{
		Model:   m.model,
		Prompt:  prompt,
		Options: m.options,
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}
