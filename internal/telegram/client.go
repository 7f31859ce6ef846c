package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"tanpatsu/internal/config"
)

type BotClient interface {
	SendMessage(ctx context.Context, chatID int64, text string) (int64, error)
	EditMessage(ctx context.Context, chatID int64, messageID int64, text string) error
}

type HTTPBotClient struct {
	token      string
	baseURL    string
	httpClient *http.Client
}

func NewClient(cfg config.TelegramConfig, httpClient *http.Client) *HTTPBotClient {
	baseURL := strings.TrimSuffix(cfg.APIBaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}
	return &HTTPBotClient{
		token:      cfg.BotToken,
		baseURL:    baseURL,
		httpClient: httpClient,
	}
}

type sendMessageRequest struct {
	ChatID int64  `json:"chat_id"`
	Text   string `json:"text"`
}

type editMessageRequest struct {
	ChatID    int64  `json:"chat_id"`
	MessageID int64  `json:"message_id"`
	Text      string `json:"text"`
}

func (c *HTTPBotClient) SendMessage(ctx context.Context, chatID int64, text string) (int64, error) {
	var sent Message
	if err := callAPI(ctx, c, "sendMessage", sendMessageRequest{ChatID: chatID, Text: text}, &sent); err != nil {
		return 0, err
	}
	return sent.MessageID, nil
}

func (c *HTTPBotClient) EditMessage(ctx context.Context, chatID int64, messageID int64, text string) error {
	// editMessageText возвращает либо Message, либо true, результат не нужен.
	var ignored json.RawMessage
	return callAPI(ctx, c, "editMessageText", editMessageRequest{ChatID: chatID, MessageID: messageID, Text: text}, &ignored)
}

func callAPI[T any](ctx context.Context, c *HTTPBotClient, method string, payload any, out *T) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal telegram request: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/%s", c.baseURL, c.token, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute telegram request: %w", err)
	}
	defer resp.Body.Close()

	var response apiResponse[T]
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return fmt.Errorf("decode telegram response (status %d): %w", resp.StatusCode, err)
	}
	if !response.Ok {
		return fmt.Errorf("telegram api %s status %d: %s", method, resp.StatusCode, response.Description)
	}
	*out = response.Result
	return nil
}
