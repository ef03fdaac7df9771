package chat

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"nijichat/internal/models"
)

// MessageKey identifies a message for rendering and copying: the durable id once persisted,
// the temporary id before that.
func MessageKey(msg models.Message) string {
	return msg.Key()
}

// NewConversation makes a fresh conversation active and clears the thread, the input and the
// generating flag. Nothing is persisted until the first message is sent. Without a session
// only the input and the flag are reset and "" is returned.
func (a *App) NewConversation() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.state.Input = ""
	a.state.Generating = false
	a.submitSeq++
	if a.state.Session == nil {
		return ""
	}
	id := a.newID()
	a.state.ConversationID = id
	a.state.Messages = nil
	return id
}

// SelectConversation makes id active and replaces the thread with its stored messages,
// oldest first.
func (a *App) SelectConversation(ctx context.Context, id string) error {
	a.mu.Lock()
	session := a.state.Session
	if session == nil {
		a.mu.Unlock()
		return nil
	}
	a.state.ConversationID = id
	a.state.Messages = nil
	a.mu.Unlock()

	callCtx, cancel := a.withTimeout(ctx)
	defer cancel()
	thread, err := a.store.ListMessages(callCtx, models.MessageFilter{
		UserID:         session.User.ID,
		ConversationID: id,
		Ascending:      true,
	})
	if err != nil {
		a.logger.Error("load messages failed", "conversation_id", id, "error", err)
		return fmt.Errorf("load conversation %s: %w", id, err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state.ConversationID == id && a.state.Session != nil {
		a.state.Messages = thread
	}
	return nil
}

// Submit sends text as a user message and appends the generated reply. It does nothing for
// blank text, without a session, or while a reply is being generated. A failed save is
// logged and returned; the optimistic message stays in the thread.
func (a *App) Submit(ctx context.Context, text string) error {
	a.mu.Lock()
	if strings.TrimSpace(text) == "" || a.state.Session == nil || a.state.Generating {
		a.mu.Unlock()
		return nil
	}
	userID := a.state.Session.User.ID
	a.state.Generating = true
	a.submitSeq++
	seq := a.submitSeq

	conversationID := a.state.ConversationID
	if conversationID == "" {
		conversationID = a.newID()
		a.state.ConversationID = conversationID
		a.state.Messages = nil
	}
	userMsg := models.Message{
		TempID:         tempID("user"),
		UserID:         userID,
		ConversationID: conversationID,
		Role:           models.RoleUser,
		Content:        text,
	}
	a.state.Messages = append(a.state.Messages, userMsg)
	a.state.Input = ""
	thread := slices.Clone(a.state.Messages)
	a.mu.Unlock()
	defer a.finishSubmit(seq)

	if err := a.persist(ctx, userMsg); err != nil {
		return fmt.Errorf("save user message: %w", err)
	}

	reply := a.generator.Generate(ctx, thread)
	aiMsg := models.Message{
		TempID:         tempID("ai"),
		UserID:         userID,
		ConversationID: conversationID,
		Role:           models.RoleAssistant,
		Content:        reply,
	}
	a.mu.Lock()
	if a.state.Session != nil && a.state.ConversationID == conversationID {
		a.state.Messages = append(a.state.Messages, aiMsg)
	}
	a.mu.Unlock()

	if err := a.persist(ctx, aiMsg); err != nil {
		return fmt.Errorf("save assistant message: %w", err)
	}
	a.RefreshConversations(ctx)
	return nil
}

// persist stores msg and records the durable id on the matching thread entry.
func (a *App) persist(ctx context.Context, msg models.Message) error {
	callCtx, cancel := a.withTimeout(ctx)
	defer cancel()
	stored, err := a.store.InsertMessage(callCtx, msg)
	if err != nil {
		a.logger.Error("save message failed", "role", msg.Role, "conversation_id", msg.ConversationID, "error", err)
		return err
	}
	if stored == nil {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	for i := range a.state.Messages {
		if a.state.Messages[i].TempID == msg.TempID {
			a.state.Messages[i].ID = stored.ID
			a.state.Messages[i].CreatedAt = stored.CreatedAt
			break
		}
	}
	return nil
}

func (a *App) finishSubmit(seq uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.submitSeq == seq {
		a.state.Generating = false
	}
}
