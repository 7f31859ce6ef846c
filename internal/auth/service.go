package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

var ErrUnauthorized = errors.New("unauthorized")

// Session вход одной браузерной вкладки или пользователя Telegram.
// Нулевой ExpiresAt означает бессрочный вход.
type Session struct {
	SessionID string
	Token     string
	ExpiresAt time.Time
}

func (s Session) expiredAt(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt)
}

type Store interface {
	Save(session Session) error
	Get(sessionID string) (Session, bool)
	Delete(sessionID string)

	// DeleteExpired удаляет сессии, истёкшие к now, и возвращает их число.
	DeleteExpired(now time.Time) int
}

type Service struct {
	password string
	ttl      time.Duration
	store    Store
}

func NewService(password string, ttl time.Duration, store Store) *Service {
	return &Service{
		password: password,
		ttl:      ttl,
		store:    store,
	}
}

// Login проверяет пароль и открывает сессию. Лимита попыток нет.
func (s *Service) Login(ctx context.Context, sessionID string, password string) (Session, error) {
	if sessionID == "" {
		return Session{}, fmt.Errorf("empty session id: %w", ErrUnauthorized)
	}
	if subtle.ConstantTimeCompare([]byte(s.password), []byte(password)) != 1 {
		return Session{}, ErrUnauthorized
	}

	expiresAt := time.Time{}
	if s.ttl > 0 {
		expiresAt = time.Now().Add(s.ttl)
	}

	session := Session{
		SessionID: sessionID,
		Token:     uuid.NewString(),
		ExpiresAt: expiresAt,
	}
	if err := s.store.Save(session); err != nil {
		return Session{}, fmt.Errorf("save session: %w", err)
	}
	return session, nil
}

func (s *Service) Logout(ctx context.Context, sessionID string) {
	s.store.Delete(sessionID)
}

func (s *Service) IsAuthorized(ctx context.Context, sessionID string) bool {
	session, ok := s.store.Get(sessionID)
	if !ok {
		return false
	}

	// TTL == 0 означает, что сессии вечные и не истекают по времени.
	if s.ttl <= 0 {
		return true
	}
	if session.ExpiresAt.IsZero() || time.Now().After(session.ExpiresAt) {
		s.store.Delete(sessionID)
		return false
	}
	return true
}

// RunJanitor периодически вычищает истёкшие входы до отмены ctx.
func (s *Service) RunJanitor(ctx context.Context, interval time.Duration, logger *slog.Logger) {
	if s.ttl <= 0 || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := s.store.DeleteExpired(now); n > 0 && logger != nil {
				logger.Info("expired logins removed", slog.Int("count", n))
			}
		}
	}
}
