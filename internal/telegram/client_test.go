package telegram

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"tanpatsu/internal/config"
)

func TestHTTPBotClientSendAndEdit(t *testing.T) {
	var paths []string
	var lastBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		_ = json.NewDecoder(r.Body).Decode(&lastBody)

		w.Header().Set("Content-Type", "application/json")
		if strings.HasSuffix(r.URL.Path, "/sendMessage") {
			w.Write([]byte(`{"ok":true,"result":{"message_id":77,"chat":{"id":1}}}`))
			return
		}
		w.Write([]byte(`{"ok":true,"result":true}`))
	}))
	defer srv.Close()

	client := NewClient(config.TelegramConfig{BotToken: "T", APIBaseURL: srv.URL + "/"}, srv.Client())

	id, err := client.SendMessage(context.Background(), 1, "hi")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if id != 77 {
		t.Fatalf("expected message id 77, got %d", id)
	}
	if err := client.EditMessage(context.Background(), 1, id, "edited"); err != nil {
		t.Fatalf("edit: %v", err)
	}

	if len(paths) != 2 || paths[0] != "/botT/sendMessage" || paths[1] != "/botT/editMessageText" {
		t.Fatalf("unexpected paths: %v", paths)
	}
	if lastBody["text"] != "edited" || lastBody["message_id"] != float64(77) {
		t.Fatalf("unexpected edit body: %v", lastBody)
	}
}

func TestHTTPBotClientAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"ok":false,"description":"Bad Request: message is not modified"}`))
	}))
	defer srv.Close()

	client := NewClient(config.TelegramConfig{BotToken: "T", APIBaseURL: srv.URL}, srv.Client())
	err := client.EditMessage(context.Background(), 1, 2, "same")
	if err == nil || !strings.Contains(err.Error(), "message is not modified") {
		t.Fatalf("expected api description in error, got %v", err)
	}
}
