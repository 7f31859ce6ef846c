package llm

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

const maxEventSize = 1 << 20

var errStreamConsumed = errors.New("stream already consumed")

type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// readEvents разбирает SSE поток chat/completions. Тело закрывается по окончании прохода
// или при досрочной остановке потребителем.
func readEvents(body io.ReadCloser) Stream {
	consumed := false
	return func(yield func(string, error) bool) {
		if consumed {
			yield("", &ProviderError{Op: "stream", Err: errStreamConsumed})
			return
		}
		consumed = true
		defer body.Close()

		scanner := bufio.NewScanner(body)
		scanner.Buffer(make([]byte, 0, 64*1024), maxEventSize)
		for scanner.Scan() {
			data, ok := strings.CutPrefix(strings.TrimSpace(scanner.Text()), "data:")
			if !ok {
				continue
			}
			data = strings.TrimSpace(data)
			if data == "[DONE]" {
				return
			}

			var chunk streamChunk
			if err := json.Unmarshal([]byte(data), &chunk); err != nil {
				yield("", &ProviderError{Op: "stream", Err: fmt.Errorf("decode chunk: %w", err)})
				return
			}
			if chunk.Error != nil {
				yield("", &ProviderError{Op: "stream", Err: errors.New(chunk.Error.Message)})
				return
			}
			if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
				continue
			}
			if !yield(chunk.Choices[0].Delta.Content, nil) {
				return
			}
		}
		if err := scanner.Err(); err != nil {
			yield("", &ProviderError{Op: "stream", Err: err})
			return
		}
		yield("", &ProviderError{Op: "stream", Err: ErrStreamCutOff})
	}
}
