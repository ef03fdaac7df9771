package chat

import (
	"context"

	"nijichat/internal/models"
)

const summaryLength = 60

// Summarize keeps the first 60 characters of content and marks the cut with "...".
func Summarize(content string) string {
	runes := []rune(content)
	if len(runes) <= summaryLength {
		return content
	}
	return string(runes[:summaryLength]) + "..."
}

// BuildIndex groups a newest-first message log by conversation id. The first message seen for
// an id is its summary, so the result is newest conversation first. Rows without a
// conversation id are skipped.
func BuildIndex(log []models.Message, userID string) []models.Conversation {
	seen := make(map[string]struct{})
	var conversations []models.Conversation
	for _, msg := range log {
		if msg.ConversationID == "" {
			continue
		}
		if _, ok := seen[msg.ConversationID]; ok {
			continue
		}
		seen[msg.ConversationID] = struct{}{}
		conversations = append(conversations, models.Conversation{
			ID:          msg.ConversationID,
			CreatedAt:   msg.CreatedAt,
			UserID:      userID,
			LastMessage: Summarize(msg.Content),
		})
	}
	return conversations
}

// RefreshConversations reloads the index from the signed-in user's message log. A failed fetch
// is logged and leaves the index as it was.
func (a *App) RefreshConversations(ctx context.Context) {
	a.mu.Lock()
	session := a.state.Session
	a.mu.Unlock()
	if session == nil {
		return
	}
	userID := session.User.ID

	callCtx, cancel := a.withTimeout(ctx)
	defer cancel()
	log, err := a.store.ListMessages(callCtx, models.MessageFilter{UserID: userID})
	if err != nil {
		a.logger.Error("load conversations failed", "error", err)
		return
	}
	conversations := BuildIndex(log, userID)

	a.mu.Lock()
	defer a.mu.Unlock()
	// signed out or switched user while loading
	if a.state.Session == nil || a.state.Session.User.ID != userID {
		return
	}
	a.state.Conversations = conversations
}
