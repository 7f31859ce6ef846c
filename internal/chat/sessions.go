package chat

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// session контроллер сессии и метаданные для TTL.
type session struct {
	controller  *Controller
	createdAt   time.Time
	lastTouched time.Time
}

// Registry потокобезопасное хранилище контроллеров по идентификатору сессии.
// У каждой сессии своя история; между сессиями ничего не разделяется.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]session
	ttl      time.Duration
	factory  func(sessionID string) *Controller
	now      func() time.Time
}

// NewRegistry создаёт реестр. ttl определяет, как долго сессия живёт без активности.
// Если ttl == 0, сессии никогда не истекают.
func NewRegistry(ttl time.Duration, factory func(sessionID string) *Controller) *Registry {
	return &Registry{
		sessions: make(map[string]session),
		ttl:      ttl,
		factory:  factory,
		now:      time.Now,
	}
}

// Get возвращает контроллер сессии, создавая его при необходимости.
// Ленивая очистка: истёкшая простаивающая сессия заменяется новой.
func (r *Registry) Get(sessionID string) *Controller {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	s, ok := r.sessions[sessionID]
	if ok && r.expired(s, now) {
		ok = false
	}
	if !ok {
		s = session{
			controller: r.factory(sessionID),
			createdAt:  now,
		}
	}
	s.lastTouched = now
	r.sessions[sessionID] = s
	return s.controller
}

// Lookup возвращает контроллер без создания и без продления TTL.
func (r *Registry) Lookup(sessionID string) (*Controller, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[sessionID]
	if !ok || r.expired(s, r.now()) {
		return nil, false
	}
	return s.controller, true
}

// Delete сбрасывает и удаляет сессию.
func (r *Registry) Delete(sessionID string) {
	r.mu.Lock()
	s, ok := r.sessions[sessionID]
	delete(r.sessions, sessionID)
	r.mu.Unlock()

	if ok {
		s.controller.Reset()
	}
}

// ClearExpired удаляет все истёкшие простаивающие сессии относительно now.
// Возвращает количество удалённых.
func (r *Registry) ClearExpired(now time.Time) int {
	if r.ttl == 0 {
		return 0
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var deleted int
	for id, s := range r.sessions {
		if r.expired(s, now) {
			delete(r.sessions, id)
			deleted++
		}
	}
	return deleted
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// RunJanitor периодически вызывает ClearExpired до отмены ctx.
func (r *Registry) RunJanitor(ctx context.Context, interval time.Duration, logger *slog.Logger) {
	if r.ttl == 0 || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := r.ClearExpired(r.now()); n > 0 && logger != nil {
				logger.Info("expired sessions cleared", slog.Int("count", n))
			}
		}
	}
}

// expired сессию с активным ходом не трогаем, даже если TTL вышел.
func (r *Registry) expired(s session, now time.Time) bool {
	if r.ttl <= 0 || now.Sub(s.lastTouched) <= r.ttl {
		return false
	}
	return s.controller.State() == StateIdle
}
