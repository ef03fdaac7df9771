package models

import "time"

type User struct {
	ID           string            `json:"id"`
	Email        string            `json:"email"`
	Username     string            `json:"username,omitempty"`
	PasswordHash string            `json:"-"`
	Metadata     map[string]string `json:"user_metadata,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
}

// SignUpOptions carries the redirect-on-confirm target and free-form profile data.
type SignUpOptions struct {
	RedirectTo string            `json:"redirect_to,omitempty"`
	Data       map[string]string `json:"data,omitempty"`
}
