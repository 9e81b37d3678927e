// Package chat orchestrates a grounded question: admission, retrieval,
// conversation bookkeeping and the answer stream.
package chat

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dream-ai/docchat/internal/conversations"
	"github.com/dream-ai/docchat/internal/documents"
	"github.com/dream-ai/docchat/internal/domain"
	"github.com/dream-ai/docchat/internal/rag"
	"github.com/dream-ai/docchat/internal/ratelimit"
)

const (
	MinQueryLength = 4
	MaxQueryLength = 1000
)

// Rate limited operations.
const (
	OpQuery   = "query"
	OpHistory = "history"
	OpIngest  = "ingest"
)

// Principal is the authenticated caller
type Principal struct {
	Tenant string
	UserID string
	Plan   string
}

// QueryRequest is a question, optionally continuing a conversation
type QueryRequest struct {
	Query          string  `json:"query"`
	ConversationID *string `json:"conversationId,omitempty"`
}

// Deps are the collaborators of a Service
type Deps struct {
	Limiter       ratelimit.Limiter
	Policies      map[string]ratelimit.Policy
	Retriever     *rag.Retriever
	Conversations *conversations.Store
	Generator     *rag.Generator
	Processor     *documents.Processor
	Logger        *zap.Logger
}

// Service answers questions over a tenant's documents
type Service struct {
	limiter       ratelimit.Limiter
	policies      map[string]ratelimit.Policy
	retriever     *rag.Retriever
	conversations *conversations.Store
	generator     *rag.Generator
	processor     *documents.Processor
	logger        *zap.Logger
	now           func() time.Time
}

func NewService(d Deps) *Service {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		limiter:       d.Limiter,
		policies:      d.Policies,
		retriever:     d.Retriever,
		conversations: d.Conversations,
		generator:     d.Generator,
		processor:     d.Processor,
		logger:        logger.With(zap.String("component", "chat")),
		now:           time.Now,
	}
}

// Query admits the question and starts streaming its answer. Every error
// returned here happens before any event is produced; later failures arrive
// as a terminal rag.ErrorEvent on the channel.
func (s *Service) Query(ctx context.Context, p Principal, req QueryRequest) (<-chan rag.Event, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	query, existing, err := validateQuery(req)
	if err != nil {
		return nil, err
	}
	if err := s.admit(ctx, p, OpQuery); err != nil {
		return nil, err
	}

	chunks, err := s.retriever.Retrieve(ctx, p.Tenant, query)
	if err != nil {
		return nil, err
	}

	convID, err := s.conversations.EnsureConversation(ctx, conversations.EnsureParams{
		ExistingID:   existing,
		Tenant:       p.Tenant,
		UserID:       p.UserID,
		Plan:         p.Plan,
		DefaultTitle: query,
	})
	if err != nil {
		return nil, err
	}

	if _, err := s.conversations.AppendMessage(ctx, convID, domain.RoleUser, query, nil); err != nil {
		return nil, err
	}

	s.logger.Debug("query admitted",
		zap.String("tenant", p.Tenant),
		zap.String("conversation_id", convID.String()),
		zap.Int("chunks", len(chunks)))

	return s.generator.Stream(ctx, rag.Request{
		ConversationID: convID,
		Query:          query,
		Chunks:         chunks,
	}), nil
}

// History returns a conversation's messages in order.
func (s *Service) History(ctx context.Context, p Principal, conversationID string) ([]domain.Message, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	id, err := uuid.Parse(strings.TrimSpace(conversationID))
	if err != nil {
		return nil, fmt.Errorf("%w: conversationId must be a UUID", domain.ErrValidation)
	}
	if err := s.admit(ctx, p, OpHistory); err != nil {
		return nil, err
	}
	return s.conversations.Messages(ctx, p.Tenant, id)
}

// Ingest processes a document on behalf of the caller's tenant.
func (s *Service) Ingest(ctx context.Context, p Principal, req documents.IngestRequest) (*documents.IngestResult, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	if err := s.admit(ctx, p, OpIngest); err != nil {
		return nil, err
	}
	req.Tenant = p.Tenant
	return s.processor.Ingest(ctx, req)
}

// admit charges one call against the operation's policy. A limiter that
// cannot be reached admits the call.
func (s *Service) admit(ctx context.Context, p Principal, op string) error {
	policy, ok := s.policies[op]
	if !ok {
		return nil
	}
	decision, err := s.limiter.Allow(ctx, ratelimit.Key{Actor: p.UserID, Operation: op}, policy)
	if err != nil {
		s.logger.Warn("rate limiter unavailable", zap.String("operation", op), zap.Error(err))
		return nil
	}
	if !decision.Allowed {
		return &domain.RateLimitError{Operation: op, RetryAfter: decision.RetryAfter(s.now())}
	}
	return nil
}

func (p Principal) validate() error {
	if strings.TrimSpace(p.Tenant) == "" || strings.TrimSpace(p.UserID) == "" {
		return fmt.Errorf("%w: tenant and user are required", domain.ErrAuthorization)
	}
	return nil
}

func validateQuery(req QueryRequest) (string, *uuid.UUID, error) {
	query := strings.TrimSpace(req.Query)
	n := utf8.RuneCountInString(query)
	if n < MinQueryLength || n > MaxQueryLength {
		return "", nil, fmt.Errorf("%w: query must be %d to %d characters", domain.ErrValidation, MinQueryLength, MaxQueryLength)
	}

	if req.ConversationID == nil {
		return query, nil, nil
	}
	id, err := uuid.Parse(strings.TrimSpace(*req.ConversationID))
	if err != nil {
		return "", nil, fmt.Errorf("%w: conversationId must be a UUID", domain.ErrValidation)
	}
	return query, &id, nil
}
