package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"nijichat/internal/auth"
	"nijichat/internal/models"
	"nijichat/internal/service/messages"
)

const defaultPingInterval = 30 * time.Second

// Handler exposes the identity provider and the message row store over HTTP.
type Handler struct {
	auth         *auth.Service
	messages     *messages.Service
	logger       *slog.Logger
	pingInterval time.Duration
}

// NewHandler constructs a Handler instance.
func NewHandler(authService *auth.Service, messageService *messages.Service, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		auth:         authService,
		messages:     messageService,
		logger:       logger,
		pingInterval: defaultPingInterval,
	}
}

// RegisterRoutes attaches all HTTP routes to the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	authGroup := router.Group("/auth/v1")
	authGroup.POST("/signup", h.signUp)
	authGroup.POST("/token", h.signIn)
	authMW := h.auth.Middleware()
	authGroup.POST("/logout", authMW, h.signOut)
	authGroup.GET("/user", authMW, h.getUser)
	authGroup.GET("/events", authMW, h.sessionEvents)

	rest := router.Group("/rest/v1")
	rest.Use(authMW)
	rest.GET("/messages", h.listMessages)
	rest.POST("/messages", h.insertMessage)
}

type signUpRequest struct {
	Email      string            `json:"email"`
	Password   string            `json:"password"`
	Data       map[string]string `json:"data"`
	RedirectTo string            `json:"redirect_to"`
}

func (h *Handler) signUp(c *gin.Context) {
	var req signUpRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	user, err := h.auth.SignUp(c.Request.Context(), req.Email, req.Password, models.SignUpOptions{
		RedirectTo: req.RedirectTo,
		Data:       req.Data,
	})
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrAlreadyRegistered), errors.Is(err, auth.ErrWeakPassword):
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		case errors.Is(err, auth.ErrMissingCredentials):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		default:
			h.logger.Error("sign up failed", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "sign up failed"})
		}
		return
	}
	c.JSON(http.StatusCreated, user)
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *Handler) signIn(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	session, err := h.auth.SignIn(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrInvalidCredentials), errors.Is(err, auth.ErrMissingCredentials):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		default:
			h.logger.Error("sign in failed", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "sign in failed"})
		}
		return
	}
	c.JSON(http.StatusOK, session)
}

func (h *Handler) signOut(c *gin.Context) {
	authToken, _ := auth.AuthTokenFromContext(c)
	if err := h.auth.SignOut(c.Request.Context(), authToken); err != nil {
		h.logger.Error("sign out failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "sign out failed"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) getUser(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	user, err := h.auth.GetUser(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return
	}
	c.JSON(http.StatusOK, user)
}

// sessionEvents streams session transitions for the caller's token as server-sent events.
// The stream ends once the token is signed out or expires.
func (h *Handler) sessionEvents(c *gin.Context) {
	authToken, _ := auth.AuthTokenFromContext(c)
	events := h.auth.Events()
	if events == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "session events not enabled"})
		return
	}
	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming not supported"})
		return
	}
	ch, cancel := events.Subscribe(authToken)
	defer cancel()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	sendEvent := func(event string, payload interface{}) error {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", event, data); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}
	if err := sendEvent("session", gin.H{"event": models.AuthInitialSession}); err != nil {
		return
	}

	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()
	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-ch:
			if err := sendEvent("session", gin.H{"event": ev.Type}); err != nil {
				return
			}
			if ev.Type == models.AuthSignedOut || ev.Type == models.AuthTokenExpired {
				return
			}
		case <-ticker.C:
			// expiry is only noticed on validation, so re-check on every ping
			if _, err := h.auth.ValidateToken(ctx, authToken); err != nil {
				_ = sendEvent("session", gin.H{"event": models.AuthTokenExpired})
				return
			}
			if err := sendEvent("ping", gin.H{"at": time.Now().UTC()}); err != nil {
				return
			}
		}
	}
}

func (h *Handler) listMessages(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	filter := models.MessageFilter{
		UserID:         userID,
		ConversationID: strings.TrimSpace(c.Query("conversation_id")),
	}
	switch strings.ToLower(c.DefaultQuery("order", "asc")) {
	case "asc", "created_at.asc":
		filter.Ascending = true
	case "desc", "created_at.desc":
		filter.Ascending = false
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "order must be asc or desc"})
		return
	}
	list, err := h.messages.List(c.Request.Context(), filter)
	if err != nil {
		h.logger.Error("list messages failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list messages failed"})
		return
	}
	c.JSON(http.StatusOK, list)
}

type insertMessageRequest struct {
	Role           string `json:"role"`
	Content        string `json:"content"`
	ConversationID string `json:"conversation_id"`
}

func (h *Handler) insertMessage(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	var req insertMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	role, err := models.ParseRole(req.Role)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	msg, err := h.messages.Insert(c.Request.Context(), models.Message{
		UserID:         userID,
		ConversationID: strings.TrimSpace(req.ConversationID),
		Role:           role,
		Content:        req.Content,
	})
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, msg)
}

func (h *Handler) authorizedUserID(c *gin.Context) (string, bool) {
	userID, ok := auth.UserIDFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authorization required"})
		return "", false
	}
	return userID, true
}
