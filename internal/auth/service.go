package auth

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"nijichat/internal/models"
	"nijichat/internal/redis"
)

// MinPasswordLength is the shortest password accepted at sign-up.
const MinPasswordLength = 6

const redisTokenPrefix = "auth:token:"

var (
	ErrMissingCredentials = errors.New("email and password are required")
	ErrWeakPassword       = fmt.Errorf("password should be at least %d characters", MinPasswordLength)
	ErrAlreadyRegistered  = errors.New("user already registered")
	ErrInvalidCredentials = errors.New("invalid login credentials")
	ErrInvalidToken       = errors.New("invalid token")
	ErrTokenExpired       = errors.New("token expired")
)

// Service signs users up and in, and issues, validates and revokes access tokens.
type Service struct {
	db         *sql.DB
	cache      *redis.Client
	events     *Events
	logger     *slog.Logger
	tokenTTL   time.Duration
	hashCost   int
	headerName string
}

// NewService constructs an auth service. cache and events may be nil.
func NewService(db *sql.DB, cache *redis.Client, events *Events, ttl time.Duration, logger *slog.Logger) *Service {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		db:         db,
		cache:      cache,
		events:     events,
		logger:     logger,
		tokenTTL:   ttl,
		hashCost:   bcrypt.DefaultCost,
		headerName: "Authorization",
	}
}

// SignUp registers a new account. The account can sign in immediately; opts.RedirectTo is recorded
// for confirmation links and opts.Data becomes the profile metadata.
func (s *Service) SignUp(ctx context.Context, email, password string, opts models.SignUpOptions) (*models.User, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return nil, ErrMissingCredentials
	}
	if len(password) < MinPasswordLength {
		return nil, ErrWeakPassword
	}

	var exists bool
	if err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM users WHERE email = ?)`, email).Scan(&exists); err != nil {
		return nil, fmt.Errorf("verify user: %w", err)
	}
	if exists {
		return nil, ErrAlreadyRegistered
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.hashCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	meta := opts.Data
	if meta == nil {
		meta = map[string]string{}
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}
	user := &models.User{
		ID:           uuid.NewString(),
		Email:        email,
		Username:     meta["username"],
		PasswordHash: string(hash),
		Metadata:     meta,
		CreatedAt:    time.Now().UTC(),
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO users (id, email, username, password_hash, metadata, redirect_to, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		user.ID, user.Email, user.Username, user.PasswordHash, string(metaJSON), opts.RedirectTo, user.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	return user, nil
}

// SignIn checks the password and issues a session.
func (s *Service) SignIn(ctx context.Context, email, password string) (*models.Session, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return nil, ErrMissingCredentials
	}
	user, err := s.userBy(ctx, `email = ?`, email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	token, expiresAt, err := s.IssueToken(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	s.events.Publish(ctx, Event{Type: models.AuthSignedIn, UserID: user.ID, Token: token})
	return &models.Session{
		AccessToken: token,
		TokenType:   "bearer",
		ExpiresAt:   expiresAt,
		User:        *user,
	}, nil
}

// SignOut revokes the token and notifies its subscribers.
func (s *Service) SignOut(ctx context.Context, authToken string) error {
	userID, _ := s.lookupToken(ctx, authToken)
	if err := s.RevokeToken(ctx, authToken); err != nil {
		return err
	}
	s.events.Publish(ctx, Event{Type: models.AuthSignedOut, UserID: userID, Token: authToken})
	return nil
}

// IssueToken mints a new random token for the user and persists it.
func (s *Service) IssueToken(ctx context.Context, userID string) (string, time.Time, error) {
	if userID == "" {
		return "", time.Time{}, errors.New("invalid user id")
	}
	now := time.Now().UTC()
	expiresAt := now.Add(s.tokenTTL)
	for i := 0; i < 5; i++ {
		token, err := generateToken()
		if err != nil {
			return "", time.Time{}, err
		}
		_, err = s.db.ExecContext(ctx,
			`INSERT INTO user_tokens (token, user_id, created_at, expires_at) VALUES (?, ?, ?, ?)`,
			token, userID, now, expiresAt,
		)
		if err == nil {
			if s.cache != nil {
				if err := s.cache.Set(ctx, redisTokenPrefix+token, userID, s.tokenTTL); err != nil {
					s.logger.Warn("cache token failed", "error", err)
				}
			}
			return token, expiresAt, nil
		}
	}
	return "", time.Time{}, errors.New("could not issue token")
}

// ValidateToken verifies the token exists and has not expired, returning the user id.
// An expired token is purged and its subscribers receive TOKEN_EXPIRED.
func (s *Service) ValidateToken(ctx context.Context, authToken string) (string, error) {
	if authToken == "" {
		return "", ErrInvalidToken
	}
	if s.cache != nil {
		if userID, err := s.cache.Get(ctx, redisTokenPrefix+authToken); err == nil && userID != "" {
			return userID, nil
		} else if err != nil && !errors.Is(err, redis.ErrCacheMiss) {
			s.logger.Warn("token cache lookup failed", "error", err)
		}
	}
	var userID string
	var expires time.Time
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, expires_at FROM user_tokens WHERE token = ?`, authToken,
	).Scan(&userID, &expires)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrInvalidToken
		}
		return "", fmt.Errorf("lookup token: %w", err)
	}
	if time.Now().UTC().After(expires) {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM user_tokens WHERE token = ?`, authToken)
		s.events.Publish(ctx, Event{Type: models.AuthTokenExpired, UserID: userID, Token: authToken})
		return "", ErrTokenExpired
	}
	return userID, nil
}

// RevokeToken deletes a single token.
func (s *Service) RevokeToken(ctx context.Context, authToken string) error {
	if authToken == "" {
		return nil
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM user_tokens WHERE token = ?`, authToken); err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	if s.cache != nil {
		if err := s.cache.Del(ctx, redisTokenPrefix+authToken); err != nil {
			s.logger.Warn("drop cached token failed", "error", err)
		}
	}
	return nil
}

// RevokeUserTokens removes all tokens belonging to the user and signs every one of them out.
func (s *Service) RevokeUserTokens(ctx context.Context, userID string) error {
	if userID == "" {
		return nil
	}
	rows, err := s.db.QueryContext(ctx, `SELECT token FROM user_tokens WHERE user_id = ?`, userID)
	if err != nil {
		return fmt.Errorf("list user tokens: %w", err)
	}
	var tokens []string
	for rows.Next() {
		var tok string
		if err := rows.Scan(&tok); err != nil {
			rows.Close()
			return fmt.Errorf("scan token: %w", err)
		}
		tokens = append(tokens, tok)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("list user tokens: %w", err)
	}
	for _, tok := range tokens {
		if err := s.SignOut(ctx, tok); err != nil {
			return fmt.Errorf("revoke user tokens: %w", err)
		}
	}
	return nil
}

// GetUser loads a profile by id.
func (s *Service) GetUser(ctx context.Context, userID string) (*models.User, error) {
	return s.userBy(ctx, `id = ?`, userID)
}

// Events returns the session event hub; nil when none is configured.
func (s *Service) Events() *Events {
	return s.events
}

// TokenTTL reports the configured token lifetime.
func (s *Service) TokenTTL() time.Duration {
	return s.tokenTTL
}

func (s *Service) userBy(ctx context.Context, where string, arg string) (*models.User, error) {
	var (
		user     models.User
		metadata string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, email, username, password_hash, metadata, created_at FROM users WHERE `+where, arg,
	).Scan(&user.ID, &user.Email, &user.Username, &user.PasswordHash, &metadata, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("query user: %w", err)
	}
	if metadata != "" {
		if err := json.Unmarshal([]byte(metadata), &user.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
	}
	return &user, nil
}

func (s *Service) lookupToken(ctx context.Context, authToken string) (string, error) {
	var userID string
	err := s.db.QueryRowContext(ctx, `SELECT user_id FROM user_tokens WHERE token = ?`, authToken).Scan(&userID)
	return userID, err
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func generateToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
