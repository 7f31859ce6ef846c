package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"tanpatsu/internal/auth"
	"tanpatsu/internal/chat"
	"tanpatsu/internal/httpserver"

	"github.com/go-chi/chi/v5"
)

type AuthService interface {
	Login(ctx context.Context, sessionID string, password string) (auth.Session, error)
	Logout(ctx context.Context, sessionID string)
	IsAuthorized(ctx context.Context, sessionID string) bool
}

type Deps struct {
	Auth     AuthService
	Sessions *chat.Registry
	Logger   *slog.Logger

	// Unavailable ошибка инициализации клиента модели; пока она не nil, ходы не выполняются.
	Unavailable error
}

type Handler struct {
	auth        AuthService
	sessions    *chat.Registry
	logger      *slog.Logger
	unavailable error
}

func NewHandler(deps Deps) *Handler {
	return &Handler{
		auth:        deps.Auth,
		sessions:    deps.Sessions,
		logger:      deps.Logger,
		unavailable: deps.Unavailable,
	}
}

// Routes возвращает подроутер для монтирования под /api.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(withSession)

	r.Post("/login", h.handleLogin)
	r.Post("/logout", h.handleLogout)

	r.Group(func(r chi.Router) {
		r.Use(h.requireAuth)
		r.Get("/history", h.handleHistory)
		r.Post("/reset", h.handleReset)
		r.Get("/chat", h.handleChatSocket)
	})

	return r
}

type loginRequest struct {
	Password string `json:"password"`
}

type historyResponse struct {
	Messages []chat.Turn `json:"messages"`
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpserver.WriteJSONError(w, http.StatusBadRequest, "bad_request", "cannot parse login request")
		return
	}

	sessionID := SessionIDFromContext(r.Context())
	if _, err := h.auth.Login(r.Context(), sessionID, req.Password); err != nil {
		if errors.Is(err, auth.ErrUnauthorized) {
			httpserver.WriteJSONError(w, http.StatusUnauthorized, "unauthorized", "Incorrect password.")
			return
		}
		h.logger.Error("login failed", slog.String("error", err.Error()))
		httpserver.WriteJSONError(w, http.StatusInternalServerError, "internal", "login failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	sessionID := SessionIDFromContext(r.Context())
	h.auth.Logout(r.Context(), sessionID)
	h.sessions.Delete(sessionID)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	turns := []chat.Turn{}
	if ctrl, ok := h.sessions.Lookup(SessionIDFromContext(r.Context())); ok {
		turns = append(turns, ctrl.History()...)
	}
	httpserver.WriteJSON(w, http.StatusOK, historyResponse{Messages: turns})
}

func (h *Handler) handleReset(w http.ResponseWriter, r *http.Request) {
	if ctrl, ok := h.sessions.Lookup(SessionIDFromContext(r.Context())); ok {
		ctrl.Reset()
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !h.auth.IsAuthorized(r.Context(), SessionIDFromContext(r.Context())) {
			httpserver.WriteJSONError(w, http.StatusUnauthorized, "unauthorized", "Login required.")
			return
		}
		next.ServeHTTP(w, r)
	})
}
