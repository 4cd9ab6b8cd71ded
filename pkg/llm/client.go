// Package llm provides a client for OpenAI-compatible chat completion APIs.
package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"chat-relay-go/internal/config"

	"github.com/sashabaranov/go-openai"
)

const (
	defaultReadTimeout = 60 * time.Second
	maxErrorBodyBytes  = 64 << 10
)

// Message is a single role-tagged entry of the conversation history sent upstream.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionRequest describes a non-streaming completion call.
// An empty Model falls back to the configured one.
type CompletionRequest struct {
	Model    string
	Messages []Message
}

// Stream yields content fragments in the order the provider produced them.
// Recv returns io.EOF once the provider signalled the end of the completion.
type Stream interface {
	Recv() (string, error)
	Close() error
}

// Client defines the interface for an LLM client.
type Client interface {
	// Configured reports whether an API key is available.
	Configured() bool
	// StreamCompletion sends the full history and returns the incremental answer.
	StreamCompletion(ctx context.Context, messages []Message) (Stream, error)
	// Complete performs a single non-streaming completion.
	Complete(ctx context.Context, req CompletionRequest) (*openai.ChatCompletionResponse, error)
}

type openAIClient struct {
	cfg    config.LLMConfig
	client *http.Client
}

// NewClient creates a new LLM client from the given configuration.
func NewClient(cfg config.LLMConfig) Client {
	return NewClientWithHTTP(cfg, &http.Client{})
}

// NewClientWithHTTP is like NewClient but uses the supplied http.Client.
func NewClientWithHTTP(cfg config.LLMConfig, httpClient *http.Client) Client {
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = defaultReadTimeout
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &openAIClient{cfg: cfg, client: httpClient}
}

func (c *openAIClient) Configured() bool {
	return c.cfg.APIKey != ""
}

func (c *openAIClient) buildRequest(model string, messages []Message, stream bool) openai.ChatCompletionRequest {
	if model == "" {
		model = c.cfg.Model
	}
	req := openai.ChatCompletionRequest{
		Model:    model,
		Messages: make([]openai.ChatCompletionMessage, 0, len(messages)),
		Stream:   stream,
	}
	for _, m := range messages {
		req.Messages = append(req.Messages, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}
	// 零值表示沿用提供方默认值
	if gen := c.cfg.Generation; gen.Temperature != 0 || gen.TopP != 0 || gen.MaxTokens != 0 {
		req.Temperature = float32(gen.Temperature)
		req.TopP = float32(gen.TopP)
		req.MaxTokens = gen.MaxTokens
	}
	return req
}

func (c *openAIClient) newHTTPRequest(ctx context.Context, body openai.ChatCompletionRequest) (*http.Request, error) {
	reqBytes, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/chat/completions", bytes.NewReader(reqBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	if body.Stream {
		req.Header.Set("Accept", "text/event-stream")
	}
	return req, nil
}

// StreamCompletion opens a streaming completion. The idle read timeout covers
// both the wait for response headers and every gap between lines.
func (c *openAIClient) StreamCompletion(ctx context.Context, messages []Message) (Stream, error) {
	req, err := c.newHTTPRequest(ctx, c.buildRequest("", messages, true))
	if err != nil {
		return nil, err
	}

	readCtx, cancel := context.WithCancel(ctx)
	s := &sseStream{
		parent:  ctx,
		cancel:  cancel,
		timeout: c.cfg.ReadTimeout,
	}
	s.timer = time.AfterFunc(s.timeout, func() {
		s.timedOut.Store(true)
		cancel()
	})

	resp, err := c.client.Do(req.WithContext(readCtx))
	if err != nil {
		s.stop()
		return nil, s.wrapErr("failed to call chat api", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		_ = resp.Body.Close()
		s.stop()
		return nil, &UpstreamError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(bodyBytes))}
	}

	s.body = resp.Body
	s.reader = bufio.NewReader(resp.Body)
	return s, nil
}

// Complete performs a non-streaming completion and requires non-empty content in the first choice.
func (c *openAIClient) Complete(ctx context.Context, creq CompletionRequest) (*openai.ChatCompletionResponse, error) {
	req, err := c.newHTTPRequest(ctx, c.buildRequest(creq.Model, creq.Messages, false))
	if err != nil {
		return nil, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &UpstreamError{Err: fmt.Errorf("failed to call chat api: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return nil, &UpstreamError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(bodyBytes))}
	}

	var out openai.ChatCompletionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, &UpstreamError{Err: fmt.Errorf("failed to decode chat response: %w", err)}
	}
	if len(out.Choices) == 0 || out.Choices[0].Message.Content == "" {
		return nil, &UpstreamError{Err: ErrMissingCompletion}
	}
	return &out, nil
}
