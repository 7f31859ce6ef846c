package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"tanpatsu/internal/chat"
	"tanpatsu/internal/httpserver"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

const (
	writeTimeout = 5 * time.Second
	readLimit    = 64 * 1024
)

// Типы сообщений протокола чата.
const (
	msgMessage  = "message"
	msgReset    = "reset"
	msgFragment = "fragment"
	msgDone     = "done"
	msgError    = "error"
	msgBusy     = "busy"
)

type clientMessage struct {
	Type    string `json:"type"`
	Content string `json:"content,omitempty"`
}

type serverMessage struct {
	Type    string `json:"type"`
	Content string `json:"content,omitempty"`
	Message string `json:"message,omitempty"`
}

// handleChatSocket один сокет на вкладку. Ход выполняется в отдельной горутине,
// чтобы reset доходил до контроллера во время стриминга.
func (h *Handler) handleChatSocket(w http.ResponseWriter, r *http.Request) {
	if h.unavailable != nil {
		httpserver.WriteJSONError(w, http.StatusServiceUnavailable, "provider_unavailable", h.unavailable.Error())
		return
	}

	sessionID := SessionIDFromContext(r.Context())
	ws, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket accept failed", slog.String("error", err.Error()), slog.String("session_id", sessionID))
		return
	}
	defer ws.CloseNow()
	ws.SetReadLimit(readLimit)

	ctx, cancel := context.WithCancel(r.Context())
	var wg sync.WaitGroup
	defer wg.Wait()
	defer cancel()

	for {
		var msg clientMessage
		if err := wsjson.Read(ctx, ws, &msg); err != nil {
			if websocket.CloseStatus(err) == -1 && !errors.Is(err, context.Canceled) {
				h.logger.Debug("websocket read failed", slog.String("error", err.Error()), slog.String("session_id", sessionID))
			}
			return
		}

		// Вход мог истечь или завершиться из другой вкладки, пока сокет открыт.
		if !h.auth.IsAuthorized(ctx, sessionID) {
			h.send(ctx, ws, serverMessage{Type: msgError, Message: "Login required."})
			ws.Close(websocket.StatusPolicyViolation, "login required")
			return
		}

		// Контроллер берём на каждое сообщение: сессию могли удалить или вытеснить по TTL.
		ctrl := h.sessions.Get(sessionID)
		switch msg.Type {
		case msgMessage:
			wg.Add(1)
			go func(input string) {
				defer wg.Done()
				h.runTurn(ctx, ws, ctrl, sessionID, input)
			}(msg.Content)
		case msgReset:
			ctrl.Reset()
			h.send(ctx, ws, serverMessage{Type: msgReset})
		default:
			h.send(ctx, ws, serverMessage{Type: msgError, Message: "unknown message type"})
		}
	}
}

func (h *Handler) runTurn(ctx context.Context, ws *websocket.Conn, ctrl *chat.Controller, sessionID string, input string) {
	answer, err := ctrl.Submit(ctx, input, func(display string) {
		h.send(ctx, ws, serverMessage{Type: msgFragment, Content: display})
	})
	switch {
	case err == nil:
		h.send(ctx, ws, serverMessage{Type: msgDone, Content: answer})
	case errors.Is(err, chat.ErrEmptyInput), errors.Is(err, chat.ErrDiscarded):
	case errors.Is(err, chat.ErrBusy):
		h.send(ctx, ws, serverMessage{Type: msgBusy})
	default:
		h.send(ctx, ws, serverMessage{Type: msgError, Message: "Error generating response: " + err.Error()})
	}
}

func (h *Handler) send(ctx context.Context, ws *websocket.Conn, msg serverMessage) {
	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := wsjson.Write(writeCtx, ws, msg); err != nil && ctx.Err() == nil {
		h.logger.Debug("websocket write failed", slog.String("error", err.Error()), slog.String("type", msg.Type))
	}
}
