// Package httpserver exposes the hub over REST plus a WebSocket event stream.
package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/cross-messenger/internal/errs"
	"github.com/and161185/cross-messenger/internal/model"
	"github.com/and161185/cross-messenger/internal/registry"
	"github.com/and161185/cross-messenger/internal/repository"
	"github.com/and161185/cross-messenger/internal/service"
)

// Engine is the aggregation surface the HTTP layer drives.
// Implemented by engine.Engine.
type Engine interface {
	BeginOnboarding(ctx context.Context, userID uuid.UUID, platform, identityHint string) (string, error)
	CompleteOnboarding(ctx context.Context, userID uuid.UUID, platform, challenge, proof string) (uuid.UUID, error)
	SendMessage(ctx context.Context, userID, accountID, chatID uuid.UUID, text string) (uuid.UUID, error)
	DisconnectAccount(ctx context.Context, userID, accountID uuid.UUID) error
	ListAccounts(ctx context.Context, userID uuid.UUID) ([]model.Account, error)
}

// Hub registers live client channels for event fanout.
// Implemented by registry.Registry.
type Hub interface {
	Register(userID uuid.UUID, ch registry.Channel)
	Unregister(userID uuid.UUID, ch registry.Channel)
}

// Server wires auth, the engine and storage reads into an HTTP API.
type Server struct {
	log    *zap.Logger
	auth   service.AuthService
	engine Engine
	store  repository.ChatStore
	hub    Hub

	messageLimit int
}

// New constructs the HTTP server. messageLimit caps ListMessages page size.
func New(log *zap.Logger, auth service.AuthService, eng Engine, store repository.ChatStore, hub Hub, messageLimit int) *Server {
	if messageLimit <= 0 {
		messageLimit = 50
	}
	return &Server{log: log, auth: auth, engine: eng, store: store, hub: hub, messageLimit: messageLimit}
}

// Router builds the route tree with logging and panic recovery applied.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(Recover(s.log), Logging(s.log))

	r.Route("/api", func(r chi.Router) {
		r.Post("/auth/register", s.handleRegister)
		r.Post("/auth/login", s.handleLogin)

		r.Group(func(r chi.Router) {
			r.Use(s.Auth)
			r.Get("/accounts", s.handleListAccounts)
			r.Post("/accounts/{platform}/onboard/start", s.handleOnboardStart)
			r.Post("/accounts/{platform}/onboard/complete", s.handleOnboardComplete)
			r.Delete("/accounts/{id}", s.handleDisconnect)
			r.Get("/chats", s.handleListChats)
			r.Get("/chats/{id}/messages", s.handleListMessages)
			r.Post("/messages/send", s.handleSend)
		})
	})

	r.Group(func(r chi.Router) {
		r.Use(s.Auth)
		r.Get("/ws", s.handleWS)
	})
	return r
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	id, err := s.auth.Register(r.Context(), req.Email, req.Password)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"userId": id})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	tokens, _, err := s.auth.LoginWithIP(r.Context(), req.Email, req.Password, r.RemoteAddr)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"accessToken": tokens.AccessToken,
		"expiresAt":   tokens.ExpiresAt.UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleOnboardStart(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFromCtx(r.Context())
	var req struct {
		IdentityHint string `json:"identityHint"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	challenge, err := s.engine.BeginOnboarding(r.Context(), userID, chi.URLParam(r, "platform"), req.IdentityHint)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"challenge": challenge})
}

func (s *Server) handleOnboardComplete(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFromCtx(r.Context())
	var req struct {
		Challenge string `json:"challenge"`
		Proof     string `json:"proof"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	accountID, err := s.engine.CompleteOnboarding(r.Context(), userID, chi.URLParam(r, "platform"), req.Challenge, req.Proof)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"accountId": accountID.String()})
}

func (s *Server) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFromCtx(r.Context())
	accounts, err := s.engine.ListAccounts(r.Context(), userID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	type accountView struct {
		ID                string `json:"id"`
		Platform          string `json:"platform"`
		PlatformAccountID string `json:"platformAccountId"`
		State             string `json:"state"`
	}
	out := make([]accountView, 0, len(accounts))
	for _, a := range accounts {
		out = append(out, accountView{
			ID:                a.ID.String(),
			Platform:          a.Platform,
			PlatformAccountID: a.PlatformAccountID,
			State:             string(a.State),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFromCtx(r.Context())
	accountID, err := uuid.FromString(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid account id")
		return
	}
	if err := s.engine.DisconnectAccount(r.Context(), userID, accountID); err != nil {
		s.writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListChats(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFromCtx(r.Context())
	chats, err := s.store.ListChats(r.Context(), userID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	type chatView struct {
		ID             string `json:"id"`
		AccountID      string `json:"accountId"`
		Platform       string `json:"platform"`
		PlatformChatID string `json:"platformChatId"`
		Title          string `json:"title"`
		LastMessageAt  string `json:"lastMessageAt"`
	}
	out := make([]chatView, 0, len(chats))
	for _, c := range chats {
		out = append(out, chatView{
			ID:             c.ID.String(),
			AccountID:      c.AccountID.String(),
			Platform:       c.Platform,
			PlatformChatID: c.PlatformChatID,
			Title:          c.Title,
			LastMessageAt:  c.LastMessageAt.UTC().Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFromCtx(r.Context())
	chatID, err := uuid.FromString(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid chat id")
		return
	}

	// Ownership runs through the chat's account before anything is read.
	chat, err := s.store.GetChat(r.Context(), chatID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	acc, err := s.store.GetAccount(r.Context(), chat.AccountID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if acc.UserID != userID {
		s.writeDomainError(w, errs.ErrForbidden)
		return
	}

	limit := s.messageLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		if n < limit {
			limit = n
		}
	}

	msgs, err := s.store.ListMessages(r.Context(), chatID, limit)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	type messageView struct {
		ID          string             `json:"id"`
		Platform    string             `json:"platform"`
		SenderID    string             `json:"senderId"`
		SenderName  string             `json:"senderName"`
		Text        string             `json:"text"`
		Attachments []model.Attachment `json:"attachments,omitempty"`
		Timestamp   string             `json:"timestamp"`
		Status      string             `json:"status"`
	}
	out := make([]messageView, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, messageView{
			ID:          m.ID.String(),
			Platform:    m.Platform,
			SenderID:    m.SenderID,
			SenderName:  m.SenderName,
			Text:        m.Text,
			Attachments: m.Attachments,
			Timestamp:   m.Timestamp.UTC().Format(time.RFC3339),
			Status:      m.Status,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFromCtx(r.Context())
	var req struct {
		AccountID string `json:"accountId"`
		ChatID    string `json:"chatId"`
		Text      string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	accountID, err := uuid.FromString(req.AccountID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid account id")
		return
	}
	chatID, err := uuid.FromString(req.ChatID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid chat id")
		return
	}
	if req.Text == "" {
		writeError(w, http.StatusBadRequest, "empty text")
		return
	}

	msgID, err := s.engine.SendMessage(r.Context(), userID, accountID, chatID, req.Text)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"messageId": msgID.String()})
}

// writeDomainError maps taxonomy kinds to HTTP statuses, preserving the kind
// for callers instead of collapsing everything to 500.
func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errs.ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, "unauthorized")
	case errors.Is(err, errs.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden")
	case errors.Is(err, errs.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, errs.ErrAlreadyExists):
		writeError(w, http.StatusConflict, "already exists")
	case errors.Is(err, errs.ErrRateLimited):
		writeError(w, http.StatusTooManyRequests, "rate limited")
	case errors.Is(err, errs.ErrAuthRejected):
		writeError(w, http.StatusUnprocessableEntity, "platform rejected credentials")
	case errors.Is(err, errs.ErrSessionExpired), errors.Is(err, errs.ErrDecryption):
		writeError(w, http.StatusGone, "session expired, re-onboarding required")
	case errors.Is(err, errs.ErrSendFailed):
		writeError(w, http.StatusBadGateway, "platform send failed")
	case errors.Is(err, errs.ErrDegraded):
		writeError(w, http.StatusServiceUnavailable, "account degraded")
	default:
		s.log.Error("request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
