package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"tanpatsu/internal/llm"
)

// Cursor дописывается к промежуточному буферу во время стриминга.
const Cursor = "▌"

var (
	ErrBusy       = errors.New("turn already in progress")
	ErrEmptyInput = errors.New("empty input")

	// ErrDiscarded ход прерван сбросом диалога, результат выброшен.
	ErrDiscarded = errors.New("turn discarded by reset")
)

type State int

const (
	StateIdle State = iota
	StateAwaitingInput
	StateComposing
	StateStreaming
	StatePostProcessing
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingInput:
		return "awaiting_input"
	case StateComposing:
		return "composing"
	case StateStreaming:
		return "streaming"
	case StatePostProcessing:
		return "post_processing"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Completer источник стримингового ответа модели.
type Completer = llm.Client

// FragmentFunc получает промежуточный текст (накопленный буфер + Cursor).
type FragmentFunc func(display string)

type ControllerConfig struct {
	Client    Completer
	Composer  *Composer
	Logger    *slog.Logger
	SessionID string

	// OnState вызывается под мьютексом контроллера; из него нельзя звать методы Controller.
	OnState func(State)
}

// Controller ведёт один ход диалога: user → промпт → стрим → очистка → assistant.
// В каждый момент активен не более одного хода.
type Controller struct {
	client    Completer
	composer  *Composer
	logger    *slog.Logger
	sessionID string
	onState   func(State)

	mu         sync.Mutex
	conv       Conversation
	state      State
	generation uint64
	cancel     context.CancelFunc
}

func NewController(cfg ControllerConfig) *Controller {
	composer := cfg.Composer
	if composer == nil {
		composer = NewComposer(DefaultPersona())
	}
	return &Controller{
		client:    cfg.Client,
		composer:  composer,
		logger:    cfg.Logger,
		sessionID: cfg.SessionID,
		onState:   cfg.OnState,
	}
}

// Submit выполняет полный ход и возвращает очищенный ответ.
// Пустой ввод не меняет состояние. При ошибке провайдера реплика пользователя
// остаётся в истории, ответ ассистента не добавляется.
func (c *Controller) Submit(ctx context.Context, input string, onFragment FragmentFunc) (string, error) {
	if strings.TrimSpace(input) == "" {
		return "", ErrEmptyInput
	}

	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		return "", ErrBusy
	}
	c.setStateLocked(StateAwaitingInput)
	c.conv.Append(Turn{Role: RoleUser, Content: input})
	c.setStateLocked(StateComposing)
	system := c.composer.Compose(c.conv.Turns())
	turnCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	generation := c.generation
	historyLen := c.conv.Len()
	c.setStateLocked(StateStreaming)
	c.mu.Unlock()
	defer cancel()

	raw, err := c.stream(turnCtx, llm.NewRequest(system, input), onFragment)

	c.mu.Lock()
	defer c.mu.Unlock()
	if generation != c.generation {
		return "", ErrDiscarded
	}
	c.cancel = nil

	if err != nil {
		c.setStateLocked(StateFailed)
		c.logError("turn failed", err, historyLen)
		c.setStateLocked(StateIdle)
		return "", err
	}

	c.setStateLocked(StatePostProcessing)
	cleaned := Clean(raw)
	c.conv.Append(Turn{Role: RoleAssistant, Content: cleaned})
	c.setStateLocked(StateIdle)

	if c.logger != nil {
		c.logger.Info("turn completed",
			slog.String("session_id", c.sessionID),
			slog.Int("history_len", c.conv.Len()),
			slog.Int("raw_len", len(raw)),
			slog.Int("cleaned_len", len(cleaned)))
	}
	return cleaned, nil
}

func (c *Controller) stream(ctx context.Context, req llm.Request, onFragment FragmentFunc) (string, error) {
	if c.client == nil {
		return "", &llm.ProviderError{Op: "connect", Err: errors.New("completion client is not configured")}
	}
	stream, err := c.client.StreamChat(ctx, req)
	if err != nil {
		return "", asProviderError("connect", err)
	}

	var sb strings.Builder
	for fragment, err := range stream {
		if err != nil {
			return "", asProviderError("stream", err)
		}
		if err := ctx.Err(); err != nil {
			return "", asProviderError("stream", err)
		}
		sb.WriteString(fragment)
		if onFragment != nil {
			onFragment(sb.String() + Cursor)
		}
	}
	return sb.String(), nil
}

// Reset очищает историю и возвращает контроллер в Idle. Активный ход отменяется,
// его результат в историю не попадёт.
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.generation++
	c.conv.Reset()
	c.setStateLocked(StateIdle)
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// History возвращает копию истории для отображения.
func (c *Controller) History() []Turn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conv.Turns()
}

func (c *Controller) setStateLocked(state State) {
	c.state = state
	if c.onState != nil {
		c.onState(state)
	}
}

func (c *Controller) logError(msg string, err error, historyLen int) {
	if c.logger == nil {
		return
	}
	c.logger.Error(msg,
		slog.String("session_id", c.sessionID),
		slog.Int("history_len", historyLen),
		slog.String("error", err.Error()))
}

func asProviderError(op string, err error) error {
	var pe *llm.ProviderError
	if errors.As(err, &pe) {
		return err
	}
	return &llm.ProviderError{Op: op, Err: err}
}
