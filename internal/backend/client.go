// Package backend is the HTTP client of the nijichat service. It keeps the signed-in session and
// implements the identity and message-store ports of the chat core.
package backend

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"nijichat/internal/models"
)

// APIError is a non-2xx answer from the service.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return http.StatusText(e.Status)
	}
	return e.Message
}

// AuthListener receives every session transition. session is nil once signed out.
type AuthListener = func(event models.AuthEvent, session *models.Session)

type Client struct {
	baseURL    string
	httpClient *http.Client
	// long-lived event stream, no overall timeout
	streamClient *http.Client
	logger       *slog.Logger

	mu          sync.Mutex
	session     *models.Session
	listeners   map[int]AuthListener
	nextID      int
	stopWatcher context.CancelFunc
}

func New(baseURL string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		httpClient:   httpClient,
		streamClient: &http.Client{Transport: httpClient.Transport},
		logger:       logger,
		listeners:    make(map[int]AuthListener),
	}
}

// GetSession returns the current session after checking the token is still accepted.
func (c *Client) GetSession(ctx context.Context) (*models.Session, error) {
	session := c.currentSession()
	if session == nil {
		return nil, nil
	}
	var user models.User
	err := c.do(ctx, http.MethodGet, "/auth/v1/user", session.AccessToken, nil, &user)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Status == http.StatusUnauthorized {
			c.clearSession(session.AccessToken, models.AuthTokenExpired)
			return nil, nil
		}
		return nil, err
	}
	return session, nil
}

// OnAuthStateChange registers fn and returns its unsubscribe.
func (c *Client) OnAuthStateChange(fn AuthListener) func() {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
	}
}

func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*models.Session, error) {
	var session models.Session
	body := map[string]string{"email": email, "password": password}
	if err := c.do(ctx, http.MethodPost, "/auth/v1/token", "", body, &session); err != nil {
		return nil, err
	}
	c.mu.Lock()
	if c.stopWatcher != nil {
		c.stopWatcher()
	}
	c.session = &session
	watchCtx, stop := context.WithCancel(context.Background())
	c.stopWatcher = stop
	c.mu.Unlock()

	go c.watchSession(watchCtx, session.AccessToken)
	c.notify(models.AuthSignedIn, &session)
	return &session, nil
}

func (c *Client) SignUp(ctx context.Context, email, password string, opts models.SignUpOptions) error {
	body := map[string]any{
		"email":       email,
		"password":    password,
		"data":        opts.Data,
		"redirect_to": opts.RedirectTo,
	}
	return c.do(ctx, http.MethodPost, "/auth/v1/signup", "", body, nil)
}

// SignOut revokes the token on the service. The local session is dropped even when that fails.
func (c *Client) SignOut(ctx context.Context) error {
	session := c.currentSession()
	if session == nil {
		return nil
	}
	err := c.do(ctx, http.MethodPost, "/auth/v1/logout", session.AccessToken, nil, nil)
	c.clearSession(session.AccessToken, models.AuthSignedOut)
	return err
}

// ListMessages returns the caller's messages. The service scopes rows to the token's user,
// so filter.UserID is not sent.
func (c *Client) ListMessages(ctx context.Context, filter models.MessageFilter) ([]models.Message, error) {
	session := c.currentSession()
	if session == nil {
		return nil, fmt.Errorf("list messages: not signed in")
	}
	q := url.Values{}
	if filter.ConversationID != "" {
		q.Set("conversation_id", filter.ConversationID)
	}
	if filter.Ascending {
		q.Set("order", "asc")
	} else {
		q.Set("order", "desc")
	}
	var list []models.Message
	if err := c.do(ctx, http.MethodGet, "/rest/v1/messages?"+q.Encode(), session.AccessToken, nil, &list); err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return list, nil
}

func (c *Client) InsertMessage(ctx context.Context, msg models.Message) (*models.Message, error) {
	session := c.currentSession()
	if session == nil {
		return nil, fmt.Errorf("insert message: not signed in")
	}
	body := map[string]string{
		"role":            string(msg.Role),
		"content":         msg.Content,
		"conversation_id": msg.ConversationID,
	}
	var stored models.Message
	if err := c.do(ctx, http.MethodPost, "/rest/v1/messages", session.AccessToken, body, &stored); err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}
	return &stored, nil
}

// Close stops the session event stream.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopWatcher != nil {
		c.stopWatcher()
		c.stopWatcher = nil
	}
}

func (c *Client) currentSession() *models.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return nil
	}
	s := *c.session
	return &s
}

// clearSession drops the session if token is still the active one and tells listeners.
func (c *Client) clearSession(token string, event models.AuthEvent) {
	c.mu.Lock()
	if c.session == nil || c.session.AccessToken != token {
		c.mu.Unlock()
		return
	}
	c.session = nil
	if c.stopWatcher != nil {
		c.stopWatcher()
		c.stopWatcher = nil
	}
	c.mu.Unlock()
	c.notify(event, nil)
}

func (c *Client) notify(event models.AuthEvent, session *models.Session) {
	c.mu.Lock()
	fns := make([]AuthListener, 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	c.mu.Unlock()
	for _, fn := range fns {
		fn(event, session)
	}
}

type sessionEvent struct {
	Event models.AuthEvent `json:"event"`
}

// watchSession follows /auth/v1/events until the stream ends or ctx is cancelled.
func (c *Client) watchSession(ctx context.Context, token string) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/auth/v1/events", nil)
	if err != nil {
		c.logger.Error("build session stream request failed", "error", err)
		return
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "text/event-stream")
	resp, err := c.streamClient.Do(req)
	if err != nil {
		if ctx.Err() == nil {
			c.logger.Warn("session stream unavailable", "error", err)
		}
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusUnauthorized {
		c.clearSession(token, models.AuthTokenExpired)
		return
	}
	if resp.StatusCode != http.StatusOK {
		c.logger.Warn("session stream rejected", "status", resp.StatusCode)
		return
	}

	scanner := bufio.NewScanner(resp.Body)
	var eventName string
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event:"):
			eventName = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			if eventName != "session" {
				continue
			}
			var ev sessionEvent
			if err := json.Unmarshal([]byte(strings.TrimSpace(strings.TrimPrefix(line, "data:"))), &ev); err != nil {
				c.logger.Warn("session event decode failed", "error", err)
				continue
			}
			if ev.Event == models.AuthSignedOut || ev.Event == models.AuthTokenExpired {
				c.clearSession(token, ev.Event)
				return
			}
		case line == "":
			eventName = ""
		}
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		c.logger.Warn("session stream closed", "error", err)
	}
}

func (c *Client) do(ctx context.Context, method, path, token string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var payload struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&payload)
		return &APIError{Status: resp.StatusCode, Message: payload.Error}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
