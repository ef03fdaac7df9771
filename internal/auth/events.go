package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"sync"

	"nijichat/internal/models"
	"nijichat/internal/redis"
)

const redisEventsChannel = "auth:events"

// Event is a session transition for one access token.
type Event struct {
	Type   models.AuthEvent
	UserID string
	Token  string
}

// wire form; tokens never leave the process, only their digest does
type eventMessage struct {
	Type     models.AuthEvent `json:"event"`
	UserID   string           `json:"user_id"`
	TokenKey string           `json:"token_key"`
}

// Events fans session transitions out to subscribers of a token. With a redis client the events
// travel through pub/sub so every instance behind a load balancer sees them.
type Events struct {
	cache  *redis.Client
	logger *slog.Logger

	mu   sync.Mutex
	subs map[string]map[chan Event]struct{}
}

func NewEvents(cache *redis.Client, logger *slog.Logger) *Events {
	if logger == nil {
		logger = slog.Default()
	}
	return &Events{
		cache:  cache,
		logger: logger,
		subs:   make(map[string]map[chan Event]struct{}),
	}
}

// Subscribe registers for events on token. The returned cancel must be called once.
func (e *Events) Subscribe(authToken string) (<-chan Event, func()) {
	ch := make(chan Event, 4)
	key := tokenKey(authToken)
	e.mu.Lock()
	set := e.subs[key]
	if set == nil {
		set = make(map[chan Event]struct{})
		e.subs[key] = set
	}
	set[ch] = struct{}{}
	e.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			e.mu.Lock()
			if set, ok := e.subs[key]; ok {
				delete(set, ch)
				if len(set) == 0 {
					delete(e.subs, key)
				}
			}
			e.mu.Unlock()
		})
	}
	return ch, cancel
}

// Publish delivers ev to the token's subscribers, through redis when configured.
func (e *Events) Publish(ctx context.Context, ev Event) {
	if e == nil {
		return
	}
	msg := eventMessage{Type: ev.Type, UserID: ev.UserID, TokenKey: tokenKey(ev.Token)}
	if e.cache == nil {
		e.dispatch(msg)
		return
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		e.logger.Error("auth event marshal failed", "error", err)
		return
	}
	if err := e.cache.Publish(ctx, redisEventsChannel, payload); err != nil {
		e.logger.Error("auth event publish failed, delivering locally", "error", err)
		e.dispatch(msg)
	}
}

// Start relays redis events to local subscribers until ctx is done. Without redis it returns at once.
func (e *Events) Start(ctx context.Context) error {
	if e == nil || e.cache == nil {
		return nil
	}
	ch, err := e.cache.Subscribe(ctx, redisEventsChannel)
	if err != nil {
		return err
	}
	for payload := range ch {
		var msg eventMessage
		if err := json.Unmarshal([]byte(payload), &msg); err != nil {
			e.logger.Warn("auth event decode failed", "error", err)
			continue
		}
		e.dispatch(msg)
	}
	return nil
}

func (e *Events) dispatch(msg eventMessage) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for ch := range e.subs[msg.TokenKey] {
		select {
		case ch <- Event{Type: msg.Type, UserID: msg.UserID}:
		default:
			e.logger.Warn("auth event dropped, subscriber is slow", "event", msg.Type)
		}
	}
}

func tokenKey(authToken string) string {
	sum := sha256.Sum256([]byte(authToken))
	return hex.EncodeToString(sum[:])
}
