package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/dream-ai/docchat/internal/domain"
)

// GetConversation retrieves a conversation by id
func (db *DB) GetConversation(ctx context.Context, id uuid.UUID) (*domain.Conversation, error) {
	var conv domain.Conversation
	err := db.pool.QueryRow(ctx,
		`SELECT id, tenant_id, user_id, title, created_at FROM conversations WHERE id = $1`, id,
	).Scan(&conv.ID, &conv.TenantID, &conv.UserID, &conv.Title, &conv.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrConversationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: failed to get conversation: %v", domain.ErrPersistence, err)
	}
	return &conv, nil
}

// CountConversations counts a tenant's conversations
func (db *DB) CountConversations(ctx context.Context, tenant string) (int, error) {
	var n int
	if err := db.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM conversations WHERE tenant_id = $1`, tenant,
	).Scan(&n); err != nil {
		return 0, fmt.Errorf("%w: failed to count conversations: %v", domain.ErrPersistence, err)
	}
	return n, nil
}

// CreateConversation creates a new conversation record
func (db *DB) CreateConversation(ctx context.Context, conv *domain.Conversation) error {
	if conv.ID == uuid.Nil {
		conv.ID = uuid.New()
	}
	err := db.pool.QueryRow(ctx,
		`INSERT INTO conversations (id, tenant_id, user_id, title)
		 VALUES ($1, $2, $3, $4)
		 RETURNING created_at`,
		conv.ID, conv.TenantID, conv.UserID, conv.Title,
	).Scan(&conv.CreatedAt)
	if err != nil {
		return fmt.Errorf("%w: failed to create conversation: %v", domain.ErrPersistence, err)
	}
	return nil
}

// InsertMessage appends a message to its conversation
func (db *DB) InsertMessage(ctx context.Context, msg *domain.Message) error {
	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}
	err := db.pool.QueryRow(ctx,
		`INSERT INTO messages (id, conversation_id, role, content, metadata)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING created_at`,
		msg.ID, msg.ConversationID, msg.Role, msg.Content, msg.Metadata,
	).Scan(&msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("%w: failed to insert message: %v", domain.ErrPersistence, err)
	}
	return nil
}

// ListMessages returns a conversation's messages in append order
func (db *DB) ListMessages(ctx context.Context, conversationID uuid.UUID) ([]domain.Message, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, conversation_id, role, content, metadata, created_at
		 FROM messages WHERE conversation_id = $1
		 ORDER BY seq`,
		conversationID,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to list messages: %v", domain.ErrPersistence, err)
	}
	defer rows.Close()

	msgs := []domain.Message{}
	for rows.Next() {
		var msg domain.Message
		if err := rows.Scan(&msg.ID, &msg.ConversationID, &msg.Role, &msg.Content, &msg.Metadata, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("%w: failed to scan message: %v", domain.ErrPersistence, err)
		}
		msgs = append(msgs, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: failed to read messages: %v", domain.ErrPersistence, err)
	}
	return msgs, nil
}
