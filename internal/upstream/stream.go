package upstream

import (
	"bufio"
	"encoding/json"
	"io"
	"log/slog"
	"strings"

	"github.com/pkg/errors"
)

const (
	sseDataPrefix = "data:"
	sseDone       = "[DONE]"

	maxSSELine = 1 << 20
)

// ReadStream consumes server-sent chat completion chunks from r until the
// [DONE] sentinel or EOF. Lines that are not data lines are ignored and data
// lines that do not decode are skipped with a warning.
func ReadStream(logger *slog.Logger, r io.Reader, onDelta func(string) error) (string, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxSSELine)

	var sb strings.Builder
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, sseDataPrefix) {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, sseDataPrefix))
		if payload == sseDone {
			break
		}

		var chunk ChatCompletionStreamResponse
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			logger.Warn("skipping malformed stream chunk", "error", err, "payload", payload)
			continue
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		sb.WriteString(delta)
		if onDelta != nil {
			if err := onDelta(delta); err != nil {
				return sb.String(), err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return sb.String(), errors.Wrap(err, "read event stream")
	}
	return sb.String(), nil
}
