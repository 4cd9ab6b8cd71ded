package llm

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync/atomic"
	"time"

	"chat-relay-go/pkg/log"

	"github.com/sashabaranov/go-openai"
)

// sseStream reads newline-delimited "data:" frames from a streaming completion.
type sseStream struct {
	parent   context.Context
	cancel   context.CancelFunc
	timer    *time.Timer
	timeout  time.Duration
	timedOut atomic.Bool

	body   io.ReadCloser
	reader *bufio.Reader
	done   bool
}

// errorFrame is the shape providers use to report a failure mid-stream.
type errorFrame struct {
	Error *openai.APIError `json:"error"`
}

func (s *sseStream) Recv() (string, error) {
	for !s.done {
		s.timer.Reset(s.timeout)
		line, err := s.reader.ReadString('\n')
		s.timer.Stop()
		if err != nil && !errors.Is(err, io.EOF) {
			s.done = true
			return "", s.wrapErr("failed to read from stream", err)
		}
		if err != nil {
			// 没有 [DONE] 的流在 EOF 处结束，最后一行可能没有换行符
			s.done = true
		}

		fragment, finished, ferr := s.parseLine(line)
		if ferr != nil {
			s.done = true
			return "", ferr
		}
		if finished {
			s.done = true
			break
		}
		if fragment != "" {
			return fragment, nil
		}
	}
	return "", io.EOF
}

// parseLine handles one line of the stream. Malformed frames are logged and skipped.
func (s *sseStream) parseLine(line string) (fragment string, finished bool, err error) {
	line = strings.TrimRight(line, "\r\n")
	if !strings.HasPrefix(line, "data:") {
		return "", false, nil
	}
	data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
	if data == "" {
		return "", false, nil
	}
	if data == "[DONE]" {
		return "", true, nil
	}

	var ef errorFrame
	if jerr := json.Unmarshal([]byte(data), &ef); jerr != nil {
		log.Warnw("skipping malformed upstream frame", "frame", data, "error", jerr)
		return "", false, nil
	}
	if ef.Error != nil {
		return "", false, &UpstreamError{Err: ef.Error}
	}

	var chunk openai.ChatCompletionStreamResponse
	if jerr := json.Unmarshal([]byte(data), &chunk); jerr != nil {
		log.Warnw("skipping malformed upstream frame", "frame", data, "error", jerr)
		return "", false, nil
	}
	if len(chunk.Choices) == 0 {
		return "", false, nil
	}
	return chunk.Choices[0].Delta.Content, false, nil
}

func (s *sseStream) wrapErr(msg string, err error) error {
	switch {
	case s.timedOut.Load():
		return &UpstreamError{Err: ErrReadTimeout}
	case s.parent.Err() != nil:
		return &UpstreamError{Err: fmt.Errorf("%s: %w", msg, s.parent.Err())}
	default:
		return &UpstreamError{Err: fmt.Errorf("%s: %w", msg, err)}
	}
}

func (s *sseStream) stop() {
	s.timer.Stop()
	s.cancel()
}

func (s *sseStream) Close() error {
	s.stop()
	if s.body == nil {
		return nil
	}
	return s.body.Close()
}
