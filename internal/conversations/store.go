// Package conversations owns the conversation and message lifecycle: lazy
// creation under a per-plan quota and append-only message recording.
package conversations

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dream-ai/docchat/internal/domain"
)

const (
	// MaxTitleLength bounds conversation titles, in runes.
	MaxTitleLength = 100
	defaultTitle   = "New conversation"
	fallbackPlan   = "free"
)

// Repository persists conversations and messages
type Repository interface {
	GetConversation(ctx context.Context, id uuid.UUID) (*domain.Conversation, error)
	CountConversations(ctx context.Context, tenant string) (int, error)
	CreateConversation(ctx context.Context, conv *domain.Conversation) error
	InsertMessage(ctx context.Context, msg *domain.Message) error
	ListMessages(ctx context.Context, conversationID uuid.UUID) ([]domain.Message, error)
}

// Store enforces conversation ownership and plan quotas over a Repository
type Store struct {
	repo   Repository
	plans  map[string]int
	logger *zap.Logger
}

// NewStore creates a store. plans maps plan names to their maximum
// conversation count per tenant; 0 means unlimited.
func NewStore(repo Repository, plans map[string]int, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{repo: repo, plans: plans, logger: logger.With(zap.String("component", "conversations"))}
}

// EnsureParams identifies the conversation a query belongs to
type EnsureParams struct {
	ExistingID   *uuid.UUID
	Tenant       string
	UserID       string
	Plan         string
	DefaultTitle string
}

// EnsureConversation returns ExistingID when it belongs to the tenant, or
// creates a conversation when none was given and the plan quota allows it.
func (s *Store) EnsureConversation(ctx context.Context, p EnsureParams) (uuid.UUID, error) {
	if p.ExistingID != nil {
		if _, err := s.Get(ctx, p.Tenant, *p.ExistingID); err != nil {
			return uuid.Nil, err
		}
		return *p.ExistingID, nil
	}

	if limit := s.limitFor(p.Plan); limit > 0 {
		n, err := s.repo.CountConversations(ctx, p.Tenant)
		if err != nil {
			return uuid.Nil, persistenceErr(err)
		}
		if n >= limit {
			return uuid.Nil, fmt.Errorf("%w: plan %q allows %d conversations", domain.ErrQuotaExceeded, p.Plan, limit)
		}
	}

	conv := &domain.Conversation{
		ID:       uuid.New(),
		TenantID: p.Tenant,
		UserID:   p.UserID,
		Title:    Title(p.DefaultTitle),
	}
	if err := s.repo.CreateConversation(ctx, conv); err != nil {
		return uuid.Nil, persistenceErr(err)
	}
	s.logger.Debug("conversation created",
		zap.String("tenant", p.Tenant),
		zap.String("conversation_id", conv.ID.String()))
	return conv.ID, nil
}

// Get returns the conversation if it belongs to tenant.
func (s *Store) Get(ctx context.Context, tenant string, id uuid.UUID) (*domain.Conversation, error) {
	conv, err := s.repo.GetConversation(ctx, id)
	if errors.Is(err, domain.ErrConversationNotFound) {
		return nil, domain.ErrConversationNotFound
	}
	if err != nil {
		return nil, persistenceErr(err)
	}
	if conv.TenantID != tenant {
		return nil, domain.ErrConversationNotFound
	}
	return conv, nil
}

// AppendMessage records a message. There is no update path.
func (s *Store) AppendMessage(ctx context.Context, conversationID uuid.UUID, role domain.Role, content string, metadata map[string]any) (*domain.Message, error) {
	if !role.Valid() {
		return nil, fmt.Errorf("%w: unknown role %q", domain.ErrValidation, role)
	}
	msg := &domain.Message{
		ID:             uuid.New(),
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		Metadata:       metadata,
	}
	if err := s.repo.InsertMessage(ctx, msg); err != nil {
		return nil, persistenceErr(err)
	}
	return msg, nil
}

// Messages lists a tenant's conversation in append order.
func (s *Store) Messages(ctx context.Context, tenant string, conversationID uuid.UUID) ([]domain.Message, error) {
	if _, err := s.Get(ctx, tenant, conversationID); err != nil {
		return nil, err
	}
	msgs, err := s.repo.ListMessages(ctx, conversationID)
	if err != nil {
		return nil, persistenceErr(err)
	}
	return msgs, nil
}

func (s *Store) limitFor(plan string) int {
	if limit, ok := s.plans[plan]; ok {
		return limit
	}
	return s.plans[fallbackPlan]
}

// Title trims a query into a conversation title of at most MaxTitleLength runes.
func Title(query string) string {
	title := strings.Join(strings.Fields(query), " ")
	if title == "" {
		return defaultTitle
	}
	if utf8.RuneCountInString(title) <= MaxTitleLength {
		return title
	}
	r := []rune(title)
	return strings.TrimSpace(string(r[:MaxTitleLength]))
}

func persistenceErr(err error) error {
	if errors.Is(err, domain.ErrPersistence) {
		return err
	}
	return fmt.Errorf("%w: %v", domain.ErrPersistence, err)
}
