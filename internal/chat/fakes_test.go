package chat

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"nijichat/internal/models"
)

type fakeAuth struct {
	mu         sync.Mutex
	session    *models.Session
	listeners  map[int]func(models.AuthEvent, *models.Session)
	nextID     int
	signInErr  error
	signUpErr  error
	signOutErr error
	signUps    []models.SignUpOptions
}

func newFakeAuth() *fakeAuth {
	return &fakeAuth{listeners: make(map[int]func(models.AuthEvent, *models.Session))}
}

func testSession(userID string) *models.Session {
	return &models.Session{AccessToken: "token-" + userID, TokenType: "bearer", User: models.User{ID: userID}}
}

func (f *fakeAuth) GetSession(context.Context) (*models.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.session, nil
}

func (f *fakeAuth) OnAuthStateChange(fn func(models.AuthEvent, *models.Session)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextID
	f.nextID++
	f.listeners[id] = fn
	return func() {
		f.mu.Lock()
		delete(f.listeners, id)
		f.mu.Unlock()
	}
}

func (f *fakeAuth) emit(event models.AuthEvent, session *models.Session) {
	f.mu.Lock()
	f.session = session
	fns := make([]func(models.AuthEvent, *models.Session), 0, len(f.listeners))
	for _, fn := range f.listeners {
		fns = append(fns, fn)
	}
	f.mu.Unlock()
	for _, fn := range fns {
		fn(event, session)
	}
}

func (f *fakeAuth) SignInWithPassword(_ context.Context, email, _ string) (*models.Session, error) {
	if f.signInErr != nil {
		return nil, f.signInErr
	}
	session := testSession(email)
	f.emit(models.AuthSignedIn, session)
	return session, nil
}

func (f *fakeAuth) SignUp(_ context.Context, _, _ string, opts models.SignUpOptions) error {
	f.mu.Lock()
	f.signUps = append(f.signUps, opts)
	f.mu.Unlock()
	return f.signUpErr
}

func (f *fakeAuth) SignOut(context.Context) error {
	if f.signOutErr != nil {
		return f.signOutErr
	}
	f.emit(models.AuthSignedOut, nil)
	return nil
}

type fakeStore struct {
	mu        sync.Mutex
	rows      []models.Message
	insertErr error
	listErr   error
	inserts   int
	lists     int
	clock     time.Time
}

func newFakeStore() *fakeStore {
	return &fakeStore{clock: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (s *fakeStore) add(userID, conversationID string, role models.Role, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.addLocked(models.Message{UserID: userID, ConversationID: conversationID, Role: role, Content: content})
}

func (s *fakeStore) addLocked(msg models.Message) models.Message {
	s.clock = s.clock.Add(time.Second)
	msg.ID = fmt.Sprintf("row-%d", len(s.rows)+1)
	msg.TempID = ""
	msg.CreatedAt = s.clock
	s.rows = append(s.rows, msg)
	return msg
}

func (s *fakeStore) ListMessages(_ context.Context, filter models.MessageFilter) ([]models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lists++
	if s.listErr != nil {
		return nil, s.listErr
	}
	var out []models.Message
	for _, m := range s.rows {
		if m.UserID != filter.UserID {
			continue
		}
		if filter.ConversationID != "" && m.ConversationID != filter.ConversationID {
			continue
		}
		out = append(out, m)
	}
	if !filter.Ascending {
		slices.Reverse(out)
	}
	return out, nil
}

func (s *fakeStore) InsertMessage(_ context.Context, msg models.Message) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inserts++
	if s.insertErr != nil {
		return nil, s.insertErr
	}
	stored := s.addLocked(msg)
	return &stored, nil
}

func (s *fakeStore) counts() (inserts, lists int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inserts, s.lists
}

type fakeGenerator struct {
	mu      sync.Mutex
	reply   string
	threads [][]models.Message
	// when set, Generate waits for it to close
	block   chan struct{}
	entered chan struct{}
}

func (g *fakeGenerator) Generate(_ context.Context, thread []models.Message) string {
	g.mu.Lock()
	g.threads = append(g.threads, slices.Clone(thread))
	block, entered := g.block, g.entered
	g.mu.Unlock()
	if entered != nil {
		entered <- struct{}{}
	}
	if block != nil {
		<-block
	}
	return g.reply
}

func (g *fakeGenerator) calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.threads)
}

type fakeCopier struct {
	mu     sync.Mutex
	copied map[string]string
}

func (c *fakeCopier) Copy(key, text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.copied == nil {
		c.copied = make(map[string]string)
	}
	c.copied[key] = text
}

func (c *fakeCopier) Copied(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.copied[key]
	return ok
}

var errBackendDown = errors.New("backend down")
