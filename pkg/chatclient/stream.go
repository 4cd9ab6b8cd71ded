package chatclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"chat-relay-go/pkg/log"
)

// ErrStreamClosed is reported when the response ends without an end or error event.
var ErrStreamClosed = errors.New("stream closed before completion")

// StreamError carries the message of an error event sent by the server.
type StreamError struct {
	Message string
}

func (e *StreamError) Error() string {
	return e.Message
}

// Handlers receive the events of one turn. Any of them may be nil.
// OnComplete is called exactly once, after every other callback.
type Handlers struct {
	OnChunk                  func(content string)
	OnConversationID         func(id uint)
	OnNewConversationCreated func(created bool)
	OnComplete               func()
	OnError                  func(err error)
}

type turnBody struct {
	ConversationID *uint  `json:"conversationId"`
	UserMessage    string `json:"userMessage"`
}

var recordSep = []byte("\n\n")

// StreamTurn sends one user message and dispatches the streamed reply to h.
// It returns nil after the end event and the reported error otherwise.
func (c *Client) StreamTurn(ctx context.Context, conversationID *uint, userMessage string, h Handlers) error {
	if h.OnComplete != nil {
		defer h.OnComplete()
	}
	fail := func(err error) error {
		if h.OnError != nil {
			h.OnError(err)
		}
		return err
	}

	payload, err := json.Marshal(turnBody{ConversationID: conversationID, UserMessage: userMessage})
	if err != nil {
		return fail(err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat/complete", bytes.NewReader(payload))
	if err != nil {
		return fail(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.http.Do(req)
	if err != nil {
		return fail(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fail(readHTTPError(resp))
	}

	var (
		buf   []byte
		chunk = make([]byte, 4096)
	)
	for {
		n, readErr := resp.Body.Read(chunk)
		buf = append(buf, chunk[:n]...)

		for {
			idx := bytes.Index(buf, recordSep)
			if idx < 0 {
				break
			}
			record := string(buf[:idx])
			buf = append(buf[:0], buf[idx+len(recordSep):]...)

			done, err := dispatch(record, h)
			if done {
				if err != nil && h.OnError != nil {
					h.OnError(err)
				}
				return err
			}
		}

		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				if strings.TrimSpace(string(buf)) != "" {
					log.Warnw("discarding incomplete stream record", "data", string(buf))
				}
				return fail(ErrStreamClosed)
			}
			return fail(readErr)
		}
	}
}

// dispatch parses one record and invokes the matching handler.
// done is true for the terminal end and error events.
func dispatch(record string, h Handlers) (done bool, err error) {
	eventType := "message"
	var dataLines []string
	for _, line := range strings.Split(record, "\n") {
		line = strings.TrimSuffix(line, "\r")
		switch {
		case strings.HasPrefix(line, "event:"):
			eventType = fieldValue(line[len("event:"):])
		case strings.HasPrefix(line, "data:"):
			dataLines = append(dataLines, fieldValue(line[len("data:"):]))
		}
	}
	if len(dataLines) == 0 {
		return false, nil
	}
	data := []byte(strings.Join(dataLines, "\n"))

	switch eventType {
	case "conversationId":
		var id uint
		if err := json.Unmarshal(data, &id); err != nil {
			logSkipped(eventType, data, err)
			return false, nil
		}
		if h.OnConversationID != nil {
			h.OnConversationID(id)
		}
	case "newConversationCreated":
		var created bool
		if err := json.Unmarshal(data, &created); err != nil {
			logSkipped(eventType, data, err)
			return false, nil
		}
		if h.OnNewConversationCreated != nil {
			h.OnNewConversationCreated(created)
		}
	case "chunk":
		var p struct {
			Content string `json:"content"`
		}
		if err := json.Unmarshal(data, &p); err != nil {
			logSkipped(eventType, data, err)
			return false, nil
		}
		if p.Content != "" && h.OnChunk != nil {
			h.OnChunk(p.Content)
		}
	case "error":
		var p struct {
			Message string `json:"message"`
		}
		if err := json.Unmarshal(data, &p); err != nil {
			logSkipped(eventType, data, err)
			return false, nil
		}
		if p.Message == "" {
			p.Message = "server reported an error"
		}
		return true, &StreamError{Message: p.Message}
	case "end":
		return true, nil
	}
	return false, nil
}

// fieldValue drops the single optional space after the field colon.
func fieldValue(v string) string {
	return strings.TrimPrefix(v, " ")
}

func logSkipped(event string, data []byte, err error) {
	log.Warnw("skipping unparsable stream record", "event", event, "data", string(data), "error", err)
}
