package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"tanpatsu/internal/auth"
	"tanpatsu/internal/chat"
	"tanpatsu/internal/httpserver"

	"golang.org/x/time/rate"
)

const (
	defaultEditInterval = time.Second
	placeholderText     = "…"
)

type AuthService interface {
	Login(ctx context.Context, sessionID string, password string) (auth.Session, error)
	Logout(ctx context.Context, sessionID string)
	IsAuthorized(ctx context.Context, sessionID string) bool
}

type WebhookDeps struct {
	Auth          AuthService
	Sessions      *chat.Registry
	Bot           BotClient
	Logger        *slog.Logger
	WebhookSecret string

	// EditInterval минимальный интервал между правками сообщения во время стриминга.
	EditInterval time.Duration

	// Unavailable ошибка инициализации клиента модели.
	Unavailable error
}

type WebhookHandler struct {
	auth          AuthService
	sessions      *chat.Registry
	bot           BotClient
	logger        *slog.Logger
	webhookSecret string
	editInterval  time.Duration
	unavailable   error
}

func NewWebhookHandler(deps WebhookDeps) *WebhookHandler {
	interval := deps.EditInterval
	if interval <= 0 {
		interval = defaultEditInterval
	}
	return &WebhookHandler{
		auth:          deps.Auth,
		sessions:      deps.Sessions,
		bot:           deps.Bot,
		logger:        deps.Logger,
		webhookSecret: deps.WebhookSecret,
		editInterval:  interval,
		unavailable:   deps.Unavailable,
	}
}

// SessionID ключ сессии пользователя Telegram.
func SessionID(userID int64) string {
	return fmt.Sprintf("tg:%d", userID)
}

func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.webhookSecret != "" {
		if secret := r.Header.Get("X-Telegram-Bot-Api-Secret-Token"); secret != h.webhookSecret {
			httpserver.WriteJSONError(w, http.StatusForbidden, "forbidden", "invalid webhook secret")
			return
		}
	}

	var upd Update
	if err := json.NewDecoder(r.Body).Decode(&upd); err != nil {
		httpserver.WriteJSONError(w, http.StatusBadRequest, "bad_request", "cannot parse update")
		return
	}
	if upd.Message == nil || upd.Message.From == nil {
		w.WriteHeader(http.StatusOK)
		return
	}

	ctx := r.Context()
	text := strings.TrimSpace(upd.Message.Text)

	switch {
	case text == "":
		h.reply(ctx, upd.Message.Chat.ID, "Empty message. Try /start.")
	case strings.HasPrefix(text, "/"):
		h.handleCommand(ctx, upd.Message, text)
	default:
		// Обрезанный текст только для проверок; в диалог уходит исходный.
		h.handleText(ctx, upd.Message, upd.Message.Text)
	}

	httpserver.WriteJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (h *WebhookHandler) handleCommand(ctx context.Context, msg *Message, text string) {
	parts := strings.SplitN(text, " ", 2)
	cmd := parts[0]
	arg := ""
	if len(parts) > 1 {
		arg = strings.TrimSpace(parts[1])
	}
	sessionID := SessionID(msg.From.ID)

	switch cmd {
	case "/start":
		h.reply(ctx, msg.Chat.ID, "こんにちは! Commands: /login <password>, /reset, /logout. Then just write.")
	case "/login":
		h.handleLogin(ctx, msg, arg)
	case "/logout":
		h.auth.Logout(ctx, sessionID)
		h.sessions.Delete(sessionID)
		h.reply(ctx, msg.Chat.ID, "Logged out.")
	case "/reset":
		if ctrl, ok := h.sessions.Lookup(sessionID); ok {
			ctrl.Reset()
		}
		h.reply(ctx, msg.Chat.ID, "Conversation cleared.")
	default:
		h.reply(ctx, msg.Chat.ID, "Unknown command. Try /start.")
	}
}

func (h *WebhookHandler) handleLogin(ctx context.Context, msg *Message, password string) {
	if password == "" {
		h.reply(ctx, msg.Chat.ID, "Usage: /login <password>")
		return
	}
	if _, err := h.auth.Login(ctx, SessionID(msg.From.ID), password); err != nil {
		h.reply(ctx, msg.Chat.ID, "Incorrect password.")
		return
	}
	h.reply(ctx, msg.Chat.ID, "Logged in.")
}

func (h *WebhookHandler) handleText(ctx context.Context, msg *Message, text string) {
	sessionID := SessionID(msg.From.ID)
	if !h.auth.IsAuthorized(ctx, sessionID) {
		h.reply(ctx, msg.Chat.ID, "Login required: /login <password>")
		return
	}
	if h.unavailable != nil {
		h.reply(ctx, msg.Chat.ID, "Model is unavailable: "+h.unavailable.Error())
		return
	}

	chatID := msg.Chat.ID
	messageID, err := h.bot.SendMessage(ctx, chatID, placeholderText)
	if err != nil {
		h.logger.Error("send placeholder failed", slog.String("error", err.Error()), slog.String("session_id", sessionID))
		return
	}

	limiter := rate.NewLimiter(rate.Every(h.editInterval), 1)
	ctrl := h.sessions.Get(sessionID)
	answer, err := ctrl.Submit(ctx, text, func(display string) {
		if limiter.Allow() {
			h.edit(ctx, chatID, messageID, display)
		}
	})
	switch {
	case err == nil:
		if answer == "" {
			answer = placeholderText
		}
		h.edit(ctx, chatID, messageID, answer)
	case errors.Is(err, chat.ErrBusy):
		h.edit(ctx, chatID, messageID, "Please wait for the current reply.")
	case errors.Is(err, chat.ErrDiscarded):
		h.edit(ctx, chatID, messageID, "Conversation was reset.")
	default:
		h.edit(ctx, chatID, messageID, "Error generating response: "+err.Error())
	}
}

func (h *WebhookHandler) reply(ctx context.Context, chatID int64, text string) {
	if _, err := h.bot.SendMessage(ctx, chatID, text); err != nil {
		h.logger.Error("send message failed", slog.String("error", err.Error()))
	}
}

func (h *WebhookHandler) edit(ctx context.Context, chatID int64, messageID int64, text string) {
	if err := h.bot.EditMessage(ctx, chatID, messageID, text); err != nil {
		h.logger.Warn("edit message failed", slog.String("error", err.Error()), slog.Int64("message_id", messageID))
	}
}
