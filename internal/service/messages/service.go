package messages

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"nijichat/internal/models"
)

// Service is the row store behind /rest/v1/messages.
type Service struct {
	db *sql.DB
}

// NewService builds a message store over db.
func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

// Insert stores a message for its user and returns it with a durable id and creation time.
func (s *Service) Insert(ctx context.Context, msg models.Message) (*models.Message, error) {
	if msg.UserID == "" {
		return nil, errors.New("user_id is required")
	}
	if _, err := models.ParseRole(string(msg.Role)); err != nil {
		return nil, err
	}
	if strings.TrimSpace(msg.Content) == "" {
		return nil, errors.New("content cannot be empty")
	}

	msg.ID = uuid.NewString()
	msg.TempID = ""
	msg.CreatedAt = time.Now().UTC()
	var conversationID sql.NullString
	if msg.ConversationID != "" {
		conversationID = sql.NullString{String: msg.ConversationID, Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, user_id, conversation_id, role, content, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.UserID, conversationID, msg.Role, msg.Content, msg.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}
	return &msg, nil
}

// List returns the user's messages matching filter, ordered by creation time.
func (s *Service) List(ctx context.Context, filter models.MessageFilter) ([]models.Message, error) {
	if filter.UserID == "" {
		return nil, errors.New("user_id is required")
	}
	query := `SELECT id, user_id, conversation_id, role, content, created_at FROM messages WHERE user_id = ?`
	args := []any{filter.UserID}
	if filter.ConversationID != "" {
		query += ` AND conversation_id = ?`
		args = append(args, filter.ConversationID)
	}
	if filter.Ascending {
		query += ` ORDER BY created_at ASC, seq ASC`
	} else {
		query += ` ORDER BY created_at DESC, seq DESC`
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	messages := make([]models.Message, 0)
	for rows.Next() {
		var (
			m              models.Message
			conversationID sql.NullString
		)
		if err := rows.Scan(&m.ID, &m.UserID, &conversationID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.ConversationID = conversationID.String
		messages = append(messages, m)
	}
	return messages, rows.Err()
}
