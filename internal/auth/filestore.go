package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// FileStore хранит сессии входа в памяти и синхронизирует их с JSON-файлом,
// чтобы вход переживал рестарт. История диалогов сюда не пишется.
// Формат файла: JSON-объект map[sessionID]fileSession.
type FileStore struct {
	mu       sync.RWMutex
	sessions map[string]Session
	path     string
	logger   *slog.Logger
}

type fileSession struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// NewFileStore создает FileStore и загружает данные из указанного файла.
// Нечитаемый или битый файл не фатален: стартуем с пустой картой.
func NewFileStore(path string, logger *slog.Logger) (*FileStore, error) {
	if path == "" {
		return nil, fmt.Errorf("filestore path is empty")
	}
	if logger == nil {
		logger = slog.Default()
	}

	fs := &FileStore{
		sessions: make(map[string]Session),
		path:     path,
		logger:   logger,
	}
	if err := fs.load(); err != nil {
		return nil, err
	}
	return fs, nil
}

func (s *FileStore) Save(session Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessions[session.SessionID] = session
	return s.persistLocked()
}

func (s *FileStore) Get(sessionID string) (Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.sessions[sessionID]
	return session, ok
}

// Delete удаляет сессию. Ошибка записи логируется (интерфейс совместим с MemoryStore).
func (s *FileStore) Delete(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[sessionID]; !ok {
		return
	}
	delete(s.sessions, sessionID)
	if err := s.persistLocked(); err != nil {
		s.logger.Warn("filestore: persist after delete failed", slog.String("error", err.Error()))
	}
}

// DeleteExpired удаляет истёкшие сессии одной записью файла.
func (s *FileStore) DeleteExpired(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted int
	for id, session := range s.sessions {
		if session.expiredAt(now) {
			delete(s.sessions, id)
			deleted++
		}
	}
	if deleted > 0 {
		if err := s.persistLocked(); err != nil {
			s.logger.Warn("filestore: persist after purge failed", slog.String("error", err.Error()))
		}
	}
	return deleted
}

func (s *FileStore) load() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create store dir: %w", err)
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn("filestore: read failed", slog.String("path", s.path), slog.String("error", err.Error()))
		}
		return nil
	}
	if len(data) == 0 {
		return nil
	}

	var raw map[string]fileSession
	if err := json.Unmarshal(data, &raw); err != nil {
		s.logger.Warn("filestore: unmarshal failed", slog.String("path", s.path), slog.String("error", err.Error()))
		return nil
	}

	// Истёкшие к моменту старта входы не поднимаем.
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, fsess := range raw {
		session := Session{SessionID: id, Token: fsess.Token, ExpiresAt: fsess.ExpiresAt}
		if id == "" || session.expiredAt(now) {
			continue
		}
		s.sessions[id] = session
	}
	return nil
}

// persistLocked пишет во временный файл и атомарно переименовывает.
func (s *FileStore) persistLocked() error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create store dir: %w", err)
	}

	payload := make(map[string]fileSession, len(s.sessions))
	for id, session := range s.sessions {
		payload[id] = fileSession{Token: session.Token, ExpiresAt: session.ExpiresAt}
	}
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal sessions: %w", err)
	}

	tmpFile, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmpFile.Name()
	cleanup := func() {
		tmpFile.Close()
		_ = os.Remove(tmpName)
	}

	if err := tmpFile.Chmod(0o600); err != nil && !errors.Is(err, os.ErrPermission) {
		cleanup()
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if _, err := tmpFile.Write(data); err != nil {
		cleanup()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}
