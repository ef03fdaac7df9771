package models

import (
	"fmt"
	"time"
)

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ParseRole accepts only the two roles a thread can hold.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleUser, RoleAssistant:
		return Role(s), nil
	default:
		return "", fmt.Errorf("invalid role %q", s)
	}
}

// Message is one turn of a conversation. ID and CreatedAt are set once the row is persisted;
// TempID only lives in the client until then.
type Message struct {
	ID             string    `json:"id,omitempty"`
	TempID         string    `json:"-"`
	UserID         string    `json:"user_id,omitempty"`
	ConversationID string    `json:"conversation_id,omitempty"`
	Role           Role      `json:"role"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"created_at,omitzero"`
}

// Key prefers the durable id and falls back to the temporary one.
func (m Message) Key() string {
	if m.ID != "" {
		return m.ID
	}
	return m.TempID
}

// MessageFilter selects a user's messages, optionally narrowed to one conversation,
// ordered by creation time.
type MessageFilter struct {
	UserID         string
	ConversationID string
	Ascending      bool
}
