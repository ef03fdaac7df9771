package chat

import (
	"context"

	"nijichat/internal/models"
)

// AuthProvider is the identity side of the hosted backend.
type AuthProvider interface {
	GetSession(ctx context.Context) (*models.Session, error)
	// OnAuthStateChange calls fn on every session transition until the returned func is called.
	OnAuthStateChange(fn func(event models.AuthEvent, session *models.Session)) func()
	SignInWithPassword(ctx context.Context, email, password string) (*models.Session, error)
	SignUp(ctx context.Context, email, password string, opts models.SignUpOptions) error
	SignOut(ctx context.Context) error
}

// MessageStore is the row store of messages.
type MessageStore interface {
	ListMessages(ctx context.Context, filter models.MessageFilter) ([]models.Message, error)
	InsertMessage(ctx context.Context, msg models.Message) (*models.Message, error)
}

// Generator answers a thread. It never fails.
type Generator interface {
	Generate(ctx context.Context, thread []models.Message) string
}

type Copier interface {
	Copy(key, text string)
	Copied(key string) bool
}
