// Package chatclient is a Go client for the chat relay: REST calls for
// conversation management and a consumer for the streamed completion protocol.
package chatclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Conversation mirrors an entry of GET /api/conversations.
type Conversation struct {
	ID        uint      `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
}

// Message mirrors an entry of GET /api/conversations/:id/messages.
type Message struct {
	ID        uint      `json:"id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// HTTPError is returned when the server answers with a non-2xx status.
type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("http error: %d", e.StatusCode)
	}
	return fmt.Sprintf("http error: %d - %s", e.StatusCode, e.Message)
}

// Client talks to a relay server rooted at BaseURL.
type Client struct {
	baseURL string
	http    *http.Client
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// New returns a Client for the server at baseURL (e.g. http://localhost:3000).
func New(baseURL string, opts ...Option) *Client {
	c := &Client{baseURL: strings.TrimRight(baseURL, "/"), http: &http.Client{}}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ListConversations returns all conversations, newest first.
func (c *Client) ListConversations(ctx context.Context) ([]Conversation, error) {
	var out []Conversation
	if err := c.doJSON(ctx, http.MethodGet, "/api/conversations", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ListMessages returns the ordered history of a conversation.
func (c *Client) ListMessages(ctx context.Context, conversationID uint) ([]Message, error) {
	var out []Message
	if err := c.doJSON(ctx, http.MethodGet, fmt.Sprintf("/api/conversations/%d/messages", conversationID), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteConversation removes a conversation and its messages.
func (c *Client) DeleteConversation(ctx context.Context, conversationID uint) error {
	return c.doJSON(ctx, http.MethodDelete, fmt.Sprintf("/api/conversations/%d", conversationID), nil, nil)
}

// RenameConversation sets a new title.
func (c *Client) RenameConversation(ctx context.Context, conversationID uint, title string) error {
	body := map[string]string{"title": title}
	return c.doJSON(ctx, http.MethodPut, fmt.Sprintf("/api/conversations/%d/title", conversationID), body, nil)
}

func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return readHTTPError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// readHTTPError prefers the server's {"error": "..."} message over the raw body.
func readHTTPError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var payload struct {
		Error string `json:"error"`
	}
	msg := strings.TrimSpace(string(raw))
	if json.Unmarshal(raw, &payload) == nil && payload.Error != "" {
		msg = payload.Error
	}
	return &HTTPError{StatusCode: resp.StatusCode, Message: msg}
}
