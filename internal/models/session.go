package models

import "time"

// Conversation is a summary synthesized from the newest message sharing a conversation id.
type Conversation struct {
	ID          string    `json:"id"`
	CreatedAt   time.Time `json:"created_at"`
	UserID      string    `json:"user_id"`
	LastMessage string    `json:"last_message"`
}

// Session is the proof of identity issued on sign-in.
type Session struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresAt   time.Time `json:"expires_at"`
	User        User      `json:"user"`
}

// AuthEvent names a session transition pushed to subscribers.
type AuthEvent string

const (
	AuthInitialSession AuthEvent = "INITIAL_SESSION"
	AuthSignedIn       AuthEvent = "SIGNED_IN"
	AuthSignedOut      AuthEvent = "SIGNED_OUT"
	AuthTokenExpired   AuthEvent = "TOKEN_EXPIRED"
)
