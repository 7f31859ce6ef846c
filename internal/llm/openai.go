package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"unicode"

	"tanpatsu/internal/config"
	"tanpatsu/internal/retry"
)

// OpenAIClient стриминговый клиент chat/completions.
type OpenAIClient struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
	policy     retry.Policy
	logger     *slog.Logger
}

// NewOpenAIClient проверяет ключ и собирает клиент. Ошибка всегда *InitError.
func NewOpenAIClient(cfg config.OpenAIConfig, httpClient *http.Client, logger *slog.Logger) (*OpenAIClient, error) {
	if err := validateAPIKey(cfg.APIKey); err != nil {
		return nil, &InitError{Err: err}
	}
	if cfg.Model == "" {
		return nil, &InitError{Err: ErrInvalidModel}
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &OpenAIClient{
		apiKey:     cfg.APIKey,
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		model:      cfg.Model,
		httpClient: httpClient,
		policy:     retry.DefaultPolicy(),
		logger:     logger,
	}, nil
}

// SetRetryPolicy заменяет политику повторов установки соединения.
func (c *OpenAIClient) SetRetryPolicy(policy retry.Policy) {
	c.policy = policy
}

// StreamChat отправляет ровно два сообщения и возвращает поток фрагментов.
// Повторяется только установка соединения; оборванный поток не переигрывается.
func (c *OpenAIClient) StreamChat(ctx context.Context, req Request) (Stream, error) {
	body, err := json.Marshal(chatRequest{
		Model:       c.model,
		Messages:    req.Messages(),
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Stream:      true,
	})
	if err != nil {
		return nil, &ProviderError{Op: "connect", Err: fmt.Errorf("marshal request: %w", err)}
	}

	resp, err := retry.Open(ctx, c.policy, c.logger, func(ctx context.Context) (*http.Response, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Accept", "text/event-stream")
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
		return c.httpClient.Do(httpReq)
	})
	if err != nil {
		return nil, &ProviderError{Op: "connect", StatusCode: retry.StatusCode(err), Err: err}
	}

	return readEvents(resp.Body), nil
}

func validateAPIKey(key string) error {
	if key == "" {
		return ErrEmptyAPIKey
	}
	for _, r := range key {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			return ErrMalformedKey
		}
	}
	return nil
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens"`
	Stream      bool      `json:"stream"`
}
