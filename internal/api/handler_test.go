package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"tanpatsu/internal/auth"
	"tanpatsu/internal/chat"
	"tanpatsu/internal/llm"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

type stubCompleter struct {
	fragments []string
	err       error
}

func (s *stubCompleter) StreamChat(ctx context.Context, req llm.Request) (llm.Stream, error) {
	return func(yield func(string, error) bool) {
		for _, fragment := range s.fragments {
			if !yield(fragment, nil) {
				return
			}
		}
		if s.err != nil {
			yield("", s.err)
		}
	}, nil
}

type testEnv struct {
	server   *httptest.Server
	client   *http.Client
	sessions *chat.Registry
}

func newTestEnv(t *testing.T, completer chat.Completer, unavailable error) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	sessions := chat.NewRegistry(time.Hour, func(sessionID string) *chat.Controller {
		return chat.NewController(chat.ControllerConfig{Client: completer, Logger: logger, SessionID: sessionID})
	})
	handler := NewHandler(Deps{
		Auth:        auth.NewService("pass", time.Hour, auth.NewMemoryStore()),
		Sessions:    sessions,
		Logger:      logger,
		Unavailable: unavailable,
	})

	server := httptest.NewServer(handler.Routes())
	t.Cleanup(server.Close)

	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("cookie jar: %v", err)
	}
	return &testEnv{server: server, client: &http.Client{Jar: jar}, sessions: sessions}
}

func (e *testEnv) post(t *testing.T, path string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	resp, err := e.client.Post(e.server.URL+path, "application/json", &buf)
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (e *testEnv) history(t *testing.T) (int, []chat.Turn) {
	t.Helper()
	resp, err := e.client.Get(e.server.URL + "/history")
	if err != nil {
		t.Fatalf("GET /history: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return resp.StatusCode, nil
	}
	var payload historyResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode history: %v", err)
	}
	return resp.StatusCode, payload.Messages
}

func (e *testEnv) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(e.server.URL, "http") + "/chat"
	conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{HTTPClient: e.client})
	if err != nil {
		t.Fatalf("dial websocket: %v", err)
	}
	t.Cleanup(func() { conn.CloseNow() })
	return conn
}

func readUntil(t *testing.T, conn *websocket.Conn, want string) []serverMessage {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var seen []serverMessage
	for {
		var msg serverMessage
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			t.Fatalf("read websocket: %v (seen %+v)", err, seen)
		}
		seen = append(seen, msg)
		if msg.Type == want {
			return seen
		}
	}
}

func TestLoginWrongPassword(t *testing.T) {
	env := newTestEnv(t, &stubCompleter{}, nil)

	resp := env.post(t, "/login", loginRequest{Password: "nope"})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
	if status, _ := env.history(t); status != http.StatusUnauthorized {
		t.Fatalf("history must require auth, got %d", status)
	}
}

func TestLoginThenEmptyHistory(t *testing.T) {
	env := newTestEnv(t, &stubCompleter{}, nil)

	if resp := env.post(t, "/login", loginRequest{Password: "pass"}); resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.StatusCode)
	}
	status, turns := env.history(t)
	if status != http.StatusOK || len(turns) != 0 {
		t.Fatalf("expected empty history, got %d %+v", status, turns)
	}
}

func TestChatSocketStreamsAndStores(t *testing.T) {
	env := newTestEnv(t, &stubCompleter{fragments: []string{"よう", "@", "だぜ"}}, nil)
	env.post(t, "/login", loginRequest{Password: "pass"})

	conn := env.dial(t)
	ctx := context.Background()
	if err := wsjson.Write(ctx, conn, clientMessage{Type: msgMessage, Content: "やあ"}); err != nil {
		t.Fatalf("write: %v", err)
	}

	seen := readUntil(t, conn, msgDone)
	if len(seen) != 4 {
		t.Fatalf("expected 3 fragments and done, got %+v", seen)
	}
	if seen[1].Type != msgFragment || seen[1].Content != "よう@"+chat.Cursor {
		t.Fatalf("unexpected fragment: %+v", seen[1])
	}
	if seen[3].Content != "ようだぜ" {
		t.Fatalf("expected cleaned final text, got %q", seen[3].Content)
	}

	_, turns := env.history(t)
	if len(turns) != 2 || turns[1].Content != "ようだぜ" {
		t.Fatalf("unexpected history: %+v", turns)
	}

	if err := wsjson.Write(ctx, conn, clientMessage{Type: msgReset}); err != nil {
		t.Fatalf("write reset: %v", err)
	}
	readUntil(t, conn, msgReset)
	if _, turns := env.history(t); len(turns) != 0 {
		t.Fatalf("expected empty history after reset, got %+v", turns)
	}
}

func TestChatSocketProviderError(t *testing.T) {
	completer := &stubCompleter{
		fragments: []string{"partial"},
		err:       &llm.ProviderError{Op: "stream", Err: llm.ErrStreamCutOff},
	}
	env := newTestEnv(t, completer, nil)
	env.post(t, "/login", loginRequest{Password: "pass"})

	conn := env.dial(t)
	if err := wsjson.Write(context.Background(), conn, clientMessage{Type: msgMessage, Content: "hi"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	seen := readUntil(t, conn, msgError)
	if !strings.Contains(seen[len(seen)-1].Message, "Error generating response") {
		t.Fatalf("unexpected error frame: %+v", seen[len(seen)-1])
	}

	_, turns := env.history(t)
	if len(turns) != 1 || turns[0].Role != chat.RoleUser {
		t.Fatalf("expected only the user turn, got %+v", turns)
	}
}

func TestChatSocketUnavailable(t *testing.T) {
	initErr := &llm.InitError{Err: llm.ErrEmptyAPIKey}
	env := newTestEnv(t, nil, initErr)
	env.post(t, "/login", loginRequest{Password: "pass"})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(env.server.URL, "http") + "/chat"
	_, resp, err := websocket.Dial(ctx, url, &websocket.DialOptions{HTTPClient: env.client})
	if err == nil {
		t.Fatalf("expected dial to fail while provider is unavailable")
	}
	if resp == nil || resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %+v", resp)
	}
}

func TestLogoutDropsConversation(t *testing.T) {
	env := newTestEnv(t, &stubCompleter{fragments: []string{"ok"}}, nil)
	env.post(t, "/login", loginRequest{Password: "pass"})

	conn := env.dial(t)
	if err := wsjson.Write(context.Background(), conn, clientMessage{Type: msgMessage, Content: "hi"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	readUntil(t, conn, msgDone)

	if resp := env.post(t, "/logout", nil); resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.StatusCode)
	}
	if status, _ := env.history(t); status != http.StatusUnauthorized {
		t.Fatalf("expected 401 after logout, got %d", status)
	}
	if env.sessions.Len() != 0 {
		t.Fatalf("expected conversation to be dropped")
	}
}

func TestChatSocketRejectsTurnAfterLogout(t *testing.T) {
	env := newTestEnv(t, &stubCompleter{fragments: []string{"まだ", "話せる"}}, nil)
	env.post(t, "/login", loginRequest{Password: "pass"})

	conn := env.dial(t)
	if resp := env.post(t, "/logout", nil); resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.StatusCode)
	}
	if err := wsjson.Write(context.Background(), conn, clientMessage{Type: msgMessage, Content: "hi"}); err != nil {
		t.Fatalf("write: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var seen []serverMessage
	var readErr error
	for {
		var msg serverMessage
		if readErr = wsjson.Read(ctx, conn, &msg); readErr != nil {
			break
		}
		seen = append(seen, msg)
	}
	for _, msg := range seen {
		if msg.Type == msgDone || msg.Type == msgFragment {
			t.Fatalf("turn must not run after logout, got %+v", seen)
		}
	}
	if len(seen) == 0 || seen[0].Type != msgError {
		t.Fatalf("expected error frame, got %+v", seen)
	}
	if status := websocket.CloseStatus(readErr); status != websocket.StatusPolicyViolation {
		t.Fatalf("expected policy violation close, got %v (%v)", status, readErr)
	}
	if env.sessions.Len() != 0 {
		t.Fatalf("no conversation should be recreated after logout")
	}
}

func TestChatSocketFollowsEvictedConversation(t *testing.T) {
	env := newTestEnv(t, &stubCompleter{fragments: []string{"ok"}}, nil)
	env.post(t, "/login", loginRequest{Password: "pass"})

	conn := env.dial(t)
	ctx := context.Background()
	if err := wsjson.Write(ctx, conn, clientMessage{Type: msgMessage, Content: "first"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	readUntil(t, conn, msgDone)

	if n := env.sessions.ClearExpired(time.Now().Add(2 * time.Hour)); n != 1 {
		t.Fatalf("expected idle conversation to be evicted, got %d", n)
	}

	if err := wsjson.Write(ctx, conn, clientMessage{Type: msgMessage, Content: "second"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	readUntil(t, conn, msgDone)

	_, turns := env.history(t)
	if len(turns) != 2 || turns[0].Content != "second" {
		t.Fatalf("expected the new turn in a fresh conversation, got %+v", turns)
	}
}
