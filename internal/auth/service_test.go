package auth

import (
	"context"
	"database/sql"
	"errors"
	"net"
	"os"
	"strconv"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"nijichat/internal/config"
	"nijichat/internal/models"
	"nijichat/internal/redis"
	"nijichat/internal/storage"
)

func TestAuthSignUpSignInSignOut(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()
	events := NewEvents(nil, nil)
	svc := newTestService(db, nil, events, time.Hour)
	ctx := context.Background()

	user, err := svc.SignUp(ctx, " Alice@Example.com ", "secret1", models.SignUpOptions{
		RedirectTo: "http://localhost:5173",
		Data:       map[string]string{"username": "alice"},
	})
	if err != nil {
		t.Fatalf("SignUp error: %v", err)
	}
	if user.ID == "" || user.Email != "alice@example.com" || user.Username != "alice" {
		t.Fatalf("unexpected user %#v", user)
	}

	session, err := svc.SignIn(ctx, "alice@example.com", "secret1")
	if err != nil {
		t.Fatalf("SignIn error: %v", err)
	}
	if session.AccessToken == "" || session.User.ID != user.ID || session.User.Metadata["username"] != "alice" {
		t.Fatalf("unexpected session %#v", session)
	}
	userID, err := svc.ValidateToken(ctx, session.AccessToken)
	if err != nil || userID != user.ID {
		t.Fatalf("ValidateToken failed: id=%s err=%v", userID, err)
	}

	ch, cancel := events.Subscribe(session.AccessToken)
	defer cancel()
	if err := svc.SignOut(ctx, session.AccessToken); err != nil {
		t.Fatalf("SignOut error: %v", err)
	}
	select {
	case ev := <-ch:
		if ev.Type != models.AuthSignedOut || ev.UserID != user.ID {
			t.Fatalf("unexpected event %#v", ev)
		}
	case <-time.After(time.Second):
		t.Fatalf("no sign-out event delivered")
	}
	if _, err := svc.ValidateToken(ctx, session.AccessToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected invalid token after sign out, got %v", err)
	}
}

func TestAuthSignUpValidation(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()
	svc := newTestService(db, nil, nil, time.Hour)
	ctx := context.Background()

	if _, err := svc.SignUp(ctx, "", "secret1", models.SignUpOptions{}); !errors.Is(err, ErrMissingCredentials) {
		t.Fatalf("expected missing credentials, got %v", err)
	}
	if _, err := svc.SignUp(ctx, "bob@example.com", "12345", models.SignUpOptions{}); !errors.Is(err, ErrWeakPassword) {
		t.Fatalf("expected weak password, got %v", err)
	}
	if _, err := svc.SignUp(ctx, "bob@example.com", "123456", models.SignUpOptions{}); err != nil {
		t.Fatalf("SignUp error: %v", err)
	}
	if _, err := svc.SignUp(ctx, "BOB@example.com", "123456", models.SignUpOptions{}); !errors.Is(err, ErrAlreadyRegistered) {
		t.Fatalf("expected already registered, got %v", err)
	}
	if _, err := svc.SignIn(ctx, "bob@example.com", "wrong-pass"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials, got %v", err)
	}
	if _, err := svc.SignIn(ctx, "nobody@example.com", "123456"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials for unknown user, got %v", err)
	}
}

func TestAuthValidateExpiredToken(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()
	events := NewEvents(nil, nil)
	svc := newTestService(db, nil, events, 10*time.Millisecond)
	ctx := context.Background()
	user := mustSignUp(t, svc, "carol@example.com")

	token, _, err := svc.IssueToken(ctx, user.ID)
	if err != nil {
		t.Fatalf("IssueToken error: %v", err)
	}
	ch, cancel := events.Subscribe(token)
	defer cancel()
	time.Sleep(20 * time.Millisecond)
	if _, err := svc.ValidateToken(ctx, token); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected expiration error, got %v", err)
	}
	select {
	case ev := <-ch:
		if ev.Type != models.AuthTokenExpired {
			t.Fatalf("unexpected event %#v", ev)
		}
	case <-time.After(time.Second):
		t.Fatalf("no expiry event delivered")
	}
	// ensure token removed
	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM user_tokens WHERE token = ?`, token).Scan(&count); err != nil {
		t.Fatalf("query tokens: %v", err)
	}
	if count != 0 {
		t.Fatalf("expired token not purged")
	}
}

func TestAuthRevokeUserTokensAndSweep(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()
	svc := newTestService(db, nil, nil, time.Hour)
	ctx := context.Background()
	user := mustSignUp(t, svc, "dave@example.com")

	tok1, _, err := svc.IssueToken(ctx, user.ID)
	if err != nil {
		t.Fatalf("IssueToken error: %v", err)
	}
	if _, _, err := svc.IssueToken(ctx, user.ID); err != nil {
		t.Fatalf("IssueToken error: %v", err)
	}
	if err := svc.RevokeUserTokens(ctx, user.ID); err != nil {
		t.Fatalf("RevokeUserTokens error: %v", err)
	}
	if _, err := svc.ValidateToken(ctx, tok1); err == nil {
		t.Fatalf("expected error after revoke all")
	}

	if _, err := db.Exec(`INSERT INTO user_tokens (token, user_id, created_at, expires_at) VALUES (?, ?, ?, ?)`,
		"stale", user.ID, time.Now().UTC().Add(-2*time.Hour), time.Now().UTC().Add(-time.Hour)); err != nil {
		t.Fatalf("insert stale token: %v", err)
	}
	n, err := svc.sweepExpiredTokens(ctx)
	if err != nil || n != 1 {
		t.Fatalf("sweep = %d, %v", n, err)
	}
}

func TestAuthTokenCacheUsesRedis(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()
	cacheClient := newRedisCacheClient(t)
	svc := newTestService(db, cacheClient, nil, time.Hour)
	ctx := context.Background()
	user := mustSignUp(t, svc, "erin@example.com")

	token, _, err := svc.IssueToken(ctx, user.ID)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	got, err := cacheClient.Get(ctx, redisTokenPrefix+token)
	if err != nil || got != user.ID {
		t.Fatalf("expected user %s in redis, got %q err=%v", user.ID, got, err)
	}

	// served from the cache even once the row is gone
	_, _ = db.Exec(`DELETE FROM user_tokens WHERE token = ?`, token)
	userID, err := svc.ValidateToken(ctx, token)
	if err != nil || userID != user.ID {
		t.Fatalf("ValidateToken via redis failed: id=%s err=%v", userID, err)
	}

	if err := svc.RevokeToken(ctx, token); err != nil {
		t.Fatalf("RevokeToken: %v", err)
	}
	if _, err := cacheClient.Get(ctx, redisTokenPrefix+token); err == nil {
		t.Fatalf("expected redis key deleted")
	}
	if _, err := svc.ValidateToken(ctx, token); err == nil {
		t.Fatalf("expected error after revoke and redis delete")
	}
}

func TestEventsOverRedis(t *testing.T) {
	cacheClient := newRedisCacheClient(t)
	events := NewEvents(cacheClient, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, unsubscribe := events.Subscribe("tok")
	defer unsubscribe()
	started := make(chan struct{})
	go func() {
		close(started)
		_ = events.Start(ctx)
	}()
	<-started

	// the relay subscribes asynchronously; publish until delivery
	deadline := time.After(2 * time.Second)
	for {
		events.Publish(ctx, Event{Type: models.AuthSignedOut, UserID: "u1", Token: "tok"})
		select {
		case ev := <-ch:
			if ev.Type != models.AuthSignedOut || ev.UserID != "u1" {
				t.Fatalf("unexpected event %#v", ev)
			}
			return
		case <-time.After(50 * time.Millisecond):
		case <-deadline:
			t.Fatalf("event not relayed through redis")
		}
	}
}

func newTestService(db *sql.DB, cache *redis.Client, events *Events, ttl time.Duration) *Service {
	svc := NewService(db, cache, events, ttl, nil)
	svc.hashCost = bcrypt.MinCost
	return svc
}

func mustSignUp(t *testing.T, svc *Service, email string) *models.User {
	t.Helper()
	user, err := svc.SignUp(context.Background(), email, "secret1", models.SignUpOptions{})
	if err != nil {
		t.Fatalf("sign up %s: %v", email, err)
	}
	return user
}

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	cfg := &config.Config{
		Databases: map[string]config.DatabaseConfig{
			"sqlite3": {
				DSN: ":memory:",
			},
		},
	}
	db, err := storage.Open("sqlite3", cfg)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := storage.Migrate(db, "sqlite3"); err != nil {
		t.Fatalf("migrate db: %v", err)
	}
	return db
}

func newRedisCacheClient(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("set TEST_REDIS_ADDR to run redis-backed auth tests")
	}
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatalf("split host port: %v", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("atoi port: %v", err)
	}
	client, err := redis.NewRedisClient(&config.Config{Redis: config.RedisConfig{Host: host, Port: port}})
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}
