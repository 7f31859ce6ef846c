package llm

import (
	"errors"
	"fmt"
)

var (
	ErrEmptyAPIKey  = errors.New("api key is empty")
	ErrMalformedKey = errors.New("api key contains whitespace or control characters")
	ErrInvalidModel = errors.New("model is required")
	ErrStreamCutOff = errors.New("stream ended before [DONE]")
)

// InitError клиент не может быть создан (например, кривой ключ).
type InitError struct {
	Err error
}

func (e *InitError) Error() string {
	return fmt.Sprintf("init completion client: %v", e.Err)
}

func (e *InitError) Unwrap() error {
	return e.Err
}

// ProviderError сбой удалённого вызова до или во время стриминга.
type ProviderError struct {
	Op         string // "connect" или "stream"
	StatusCode int
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("provider %s (status %d): %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("provider %s: %v", e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}
