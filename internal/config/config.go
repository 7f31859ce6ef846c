package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

// ModelID идентификатор дообученной модели, с которой общается чат.
const ModelID = "ft:gpt-4o-mini-2024-07-18:personal::Czi7N6OW"

// ErrMissingPassword означает, что пароль доступа не задан ни в секретах, ни в окружении.
var ErrMissingPassword = errors.New("app password is not configured")

type Config struct {
	HTTPAddr        string
	LogLevel        string
	AppPassword     string
	SessionTTL      time.Duration
	ConversationTTL time.Duration
	RequestTimeout  time.Duration
	AuthStoreType   string
	AuthStorePath   string
	OpenAI          OpenAIConfig
	Telegram        TelegramConfig
}

type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

type TelegramConfig struct {
	BotToken      string
	APIBaseURL    string
	WebhookSecret string
}

// Secrets содержимое TOML-файла с секретами.
type Secrets struct {
	AppPassword  string `toml:"app_password"`
	OpenAIAPIKey string `toml:"openai_api_key"`
}

// Load собирает конфигурацию из .env, файла секретов и переменных окружения.
func Load() (Config, error) {
	// .env необязателен: в проде переменные приходят из окружения.
	_ = godotenv.Load()

	secrets, err := LoadSecrets(getEnv("SECRETS_PATH", "secrets.toml"))
	if err != nil {
		return Config{}, err
	}
	return fromEnv(secrets)
}

func fromEnv(secrets Secrets) (Config, error) {
	var cfg Config

	cfg.HTTPAddr = getEnv("HTTP_ADDR", ":8080")
	cfg.LogLevel = getEnv("LOG_LEVEL", "info")

	cfg.AppPassword = firstNonEmpty(secrets.AppPassword, getEnv("APP_PASSWORD", ""))
	if cfg.AppPassword == "" {
		return Config{}, fmt.Errorf("load config: %w", ErrMissingPassword)
	}

	sessionTTL, err := parseDuration(getEnv("SESSION_TTL", "2h"))
	if err != nil {
		return Config{}, fmt.Errorf("parse SESSION_TTL: %w", err)
	}
	cfg.SessionTTL = sessionTTL

	conversationTTL, err := parseDuration(getEnv("CONVERSATION_TTL", "24h"))
	if err != nil {
		return Config{}, fmt.Errorf("parse CONVERSATION_TTL: %w", err)
	}
	cfg.ConversationTTL = conversationTTL

	reqTimeout, err := parseDuration(getEnv("HTTP_CLIENT_TIMEOUT", "30s"))
	if err != nil {
		return Config{}, fmt.Errorf("parse HTTP_CLIENT_TIMEOUT: %w", err)
	}
	cfg.RequestTimeout = reqTimeout

	cfg.AuthStoreType = getEnv("AUTH_STORE_TYPE", "memory")
	cfg.AuthStorePath = getEnv("AUTH_STORE_PATH", "data/auth_sessions.json")

	cfg.OpenAI = OpenAIConfig{
		APIKey:  firstNonEmpty(secrets.OpenAIAPIKey, getEnv("OPENAI_API_KEY", "")),
		BaseURL: getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		Model:   ModelID,
	}

	cfg.Telegram = TelegramConfig{
		BotToken:      getEnv("TELEGRAM_BOT_TOKEN", ""),
		APIBaseURL:    getEnv("TELEGRAM_API_BASE_URL", "https://api.telegram.org"),
		WebhookSecret: getEnv("TELEGRAM_WEBHOOK_SECRET", ""),
	}

	return cfg, nil
}

// LoadSecrets читает файл секретов. Нет файла: пустые секреты. Битый файл: ошибка.
func LoadSecrets(path string) (Secrets, error) {
	var secrets Secrets
	if path == "" {
		return secrets, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return secrets, nil
		}
		return Secrets{}, fmt.Errorf("read secrets %s: %w", path, err)
	}
	if err := toml.Unmarshal(data, &secrets); err != nil {
		return Secrets{}, fmt.Errorf("decode secrets %s: %w", path, err)
	}
	return secrets, nil
}

func parseDuration(value string) (time.Duration, error) {
	if value == "" {
		return 0, fmt.Errorf("duration is empty")
	}
	return time.ParseDuration(value)
}

func getEnv(key, def string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return def
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
