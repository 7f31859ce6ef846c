package llm

import (
	"context"
	"iter"
)

// Stream ленивая конечная последовательность фрагментов ответа.
// Проход возможен один раз; ошибка приходит последним элементом.
type Stream = iter.Seq2[string, error]

// Client минимальный публичный интерфейс стримингового LLM клиента.
type Client interface {
	StreamChat(ctx context.Context, req Request) (Stream, error)
}
