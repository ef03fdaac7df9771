package chat

import (
	"context"
	"strings"

	"nijichat/internal/models"
)

const (
	MsgMissingCredentials = "Please enter both email and password"
	MsgWeakPassword       = "Password must be at least 6 characters long"
	MsgAlreadyRegistered  = "This email is already registered. Please log in instead."
	MsgSignedUp           = "Successfully signed up! You can now log in."

	minPasswordLength = 6
)

// Start fetches the existing session once and then follows session changes until Close.
// Loading stays true until the initial fetch returns.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	a.baseCtx = context.WithoutCancel(ctx)
	a.mu.Unlock()

	a.unsub = a.auth.OnAuthStateChange(func(event models.AuthEvent, session *models.Session) {
		a.logger.Debug("auth state changed", "event", event, "signed_in", session != nil)
		a.setSession(a.context(), session)
	})

	callCtx, cancel := a.withTimeout(ctx)
	session, err := a.auth.GetSession(callCtx)
	cancel()
	if err != nil {
		a.logger.Error("get session failed", "error", err)
	}
	a.setSession(ctx, session)
	a.mu.Lock()
	a.state.Loading = false
	a.mu.Unlock()
	return err
}

// Close stops following session changes.
func (a *App) Close() {
	if a.unsub != nil {
		a.unsub()
		a.unsub = nil
	}
}

func (a *App) context() context.Context {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.baseCtx
}

// setSession applies a session transition. Losing the session clears every piece of
// per-user state; gaining one reloads the conversation index.
func (a *App) setSession(ctx context.Context, session *models.Session) {
	a.mu.Lock()
	a.state.Session = session
	if session == nil {
		a.clearUserStateLocked()
	}
	a.mu.Unlock()
	if session != nil {
		a.RefreshConversations(ctx)
	}
}

func (a *App) clearUserStateLocked() {
	a.state.Conversations = nil
	a.state.Messages = nil
	a.state.ConversationID = ""
}

func (a *App) SetCredentials(email, password string) {
	a.mu.Lock()
	a.state.Email = email
	a.state.Password = password
	a.mu.Unlock()
}

// credentials resets AuthError and returns the current inputs.
func (a *App) credentials() (string, string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.state.AuthError = ""
	return a.state.Email, a.state.Password
}

func (a *App) setAuthResult(message string, clearCredentials bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.state.AuthError = message
	if clearCredentials {
		a.state.Email = ""
		a.state.Password = ""
	}
}

// Login signs in with the current credentials. Failures land in State.AuthError.
func (a *App) Login(ctx context.Context) {
	email, password := a.credentials()
	if email == "" || password == "" {
		a.setAuthResult(MsgMissingCredentials, false)
		return
	}
	callCtx, cancel := a.withTimeout(ctx)
	defer cancel()
	if _, err := a.auth.SignInWithPassword(callCtx, email, password); err != nil {
		a.setAuthResult(err.Error(), false)
		return
	}
	a.setAuthResult("", true)
}

// SignUp registers the current credentials with the email's local part as username.
func (a *App) SignUp(ctx context.Context) {
	email, password := a.credentials()
	if email == "" || password == "" {
		a.setAuthResult(MsgMissingCredentials, false)
		return
	}
	if len(password) < minPasswordLength {
		a.setAuthResult(MsgWeakPassword, false)
		return
	}
	username, _, _ := strings.Cut(email, "@")
	callCtx, cancel := a.withTimeout(ctx)
	defer cancel()
	err := a.auth.SignUp(callCtx, email, password, models.SignUpOptions{
		RedirectTo: a.redirectURL,
		Data:       map[string]string{"username": username},
	})
	if err != nil {
		if strings.Contains(err.Error(), "already registered") {
			a.setAuthResult(MsgAlreadyRegistered, false)
		} else {
			a.setAuthResult(err.Error(), false)
		}
		return
	}
	a.setAuthResult(MsgSignedUp, true)
}

// Logout signs out with the provider and clears local state even if that call fails.
func (a *App) Logout(ctx context.Context) {
	callCtx, cancel := a.withTimeout(ctx)
	defer cancel()
	if err := a.auth.SignOut(callCtx); err != nil {
		a.logger.Error("logout failed", "error", err)
	}
	a.mu.Lock()
	a.state.Session = nil
	a.clearUserStateLocked()
	a.mu.Unlock()
}
