// Package chat holds the client-side application state: the session gate, the conversation
// index and the active message thread. Every user intent is a method on App.
package chat

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lithammer/shortuuid/v4"

	"nijichat/internal/models"
)

const defaultCallTimeout = 60 * time.Second

type Options struct {
	Auth      AuthProvider
	Store     MessageStore
	Generator Generator
	Copier    Copier
	// RedirectURL is sent with sign-up as the confirm-email target.
	RedirectURL string
	CallTimeout time.Duration
	Logger      *slog.Logger
	// NewID returns conversation ids. Defaults to random UUIDs.
	NewID func() string
}

// State is a point-in-time view of the App.
type State struct {
	Session        *models.Session
	Loading        bool
	Email          string
	Password       string
	AuthError      string
	Input          string
	Conversations  []models.Conversation
	ConversationID string
	Messages       []models.Message
	Generating     bool
}

type App struct {
	auth        AuthProvider
	store       MessageStore
	generator   Generator
	copier      Copier
	redirectURL string
	callTimeout time.Duration
	logger      *slog.Logger
	newID       func() string

	mu    sync.Mutex
	state State
	// bumped by each submit and new chat; only the owner clears Generating
	submitSeq uint64
	baseCtx   context.Context
	unsub     func()
}

func New(opts Options) *App {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = defaultCallTimeout
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	return &App{
		auth:        opts.Auth,
		store:       opts.Store,
		generator:   opts.Generator,
		copier:      opts.Copier,
		redirectURL: opts.RedirectURL,
		callTimeout: opts.CallTimeout,
		logger:      opts.Logger,
		newID:       opts.NewID,
		state:       State{Loading: true},
		baseCtx:     context.Background(),
	}
}

// Snapshot returns a copy of the current state.
func (a *App) Snapshot() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	s := a.state
	if s.Session != nil {
		session := *s.Session
		s.Session = &session
	}
	s.Conversations = slices.Clone(s.Conversations)
	s.Messages = slices.Clone(s.Messages)
	return s
}

func (a *App) SetInput(text string) {
	a.mu.Lock()
	a.state.Input = text
	a.mu.Unlock()
}

// Copy puts an assistant message on the clipboard. Unknown keys and user messages are ignored.
func (a *App) Copy(key string) bool {
	if a.copier == nil || key == "" {
		return false
	}
	a.mu.Lock()
	var content string
	found := false
	for _, msg := range a.state.Messages {
		if msg.Key() == key && msg.Role == models.RoleAssistant {
			content, found = msg.Content, true
			break
		}
	}
	a.mu.Unlock()
	if !found {
		return false
	}
	a.copier.Copy(key, content)
	return true
}

// Copied reports whether the message with key shows the copied indicator.
func (a *App) Copied(key string) bool {
	return a.copier != nil && a.copier.Copied(key)
}

func (a *App) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, a.callTimeout)
}

func tempID(suffix string) string {
	return "temp-" + shortuuid.New() + "-" + suffix
}
