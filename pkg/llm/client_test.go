package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"chat-relay-go/internal/config"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/require"
)

func deltaFrame(content string) string {
	return fmt.Sprintf(`data: {"id":"c1","object":"chat.completion.chunk","choices":[{"index":0,"delta":{"content":%q}}]}`+"\n\n", content)
}

func newTestClient(t *testing.T, h http.HandlerFunc, mutate ...func(*config.LLMConfig)) Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	cfg := config.LLMConfig{APIKey: "test-key", BaseURL: srv.URL + "/", Model: "test-model", ReadTimeout: 2 * time.Second}
	for _, m := range mutate {
		m(&cfg)
	}
	return NewClient(cfg)
}

func drain(t *testing.T, s Stream) ([]string, error) {
	t.Helper()
	defer s.Close()
	var out []string
	for {
		frag, err := s.Recv()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, frag)
	}
}

func TestStreamCompletion_YieldsFragmentsInOrder(t *testing.T) {
	var got openai.ChatCompletionRequest
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat/completions", r.URL.Path)
		require.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, ": keep-alive\n\n")
		fmt.Fprint(w, `data: {"choices":[{"index":0,"delta":{"role":"assistant"}}]}`+"\n\n")
		fmt.Fprint(w, deltaFrame("Hi"))
		fmt.Fprint(w, deltaFrame(" there"))
		fmt.Fprint(w, "data: {not json}\n\n")
		fmt.Fprint(w, deltaFrame("!"))
		fmt.Fprint(w, "data: [DONE]\n\n")
		fmt.Fprint(w, deltaFrame("ignored after done"))
	})

	stream, err := client.StreamCompletion(context.Background(), []Message{
		{Role: "user", Content: "Hello"},
	})
	require.NoError(t, err)

	frags, err := drain(t, stream)
	require.NoError(t, err)
	require.Equal(t, []string{"Hi", " there", "!"}, frags)

	require.True(t, got.Stream)
	require.Equal(t, "test-model", got.Model)
	require.Len(t, got.Messages, 1)
	require.Equal(t, "Hello", got.Messages[0].Content)
}

func TestStreamCompletion_EndsWithoutDoneMarker(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, deltaFrame("partial"))
		fmt.Fprint(w, `data: {"choices":[{"index":0,"delta":{"content":"tail"}}]}`)
	})

	stream, err := client.StreamCompletion(context.Background(), nil)
	require.NoError(t, err)
	frags, err := drain(t, stream)
	require.NoError(t, err)
	require.Equal(t, []string{"partial", "tail"}, frags)
}

func TestStreamCompletion_GenerationParams(t *testing.T) {
	var got openai.ChatCompletionRequest
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		fmt.Fprint(w, "data: [DONE]\n\n")
	}, func(cfg *config.LLMConfig) {
		cfg.Generation = config.LLMGenerationConfig{Temperature: 0.5, MaxTokens: 256}
	})

	stream, err := client.StreamCompletion(context.Background(), nil)
	require.NoError(t, err)
	frags, err := drain(t, stream)
	require.NoError(t, err)
	require.Empty(t, frags)
	require.InDelta(t, 0.5, got.Temperature, 1e-6)
	require.Equal(t, 256, got.MaxTokens)
}

func TestStreamCompletion_NonSuccessStatus(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":{"message":"Invalid API Key"}}`)
	})

	_, err := client.StreamCompletion(context.Background(), nil)
	require.Error(t, err)

	var ue *UpstreamError
	require.True(t, errors.As(err, &ue))
	require.Equal(t, http.StatusUnauthorized, ue.StatusCode)
	require.Contains(t, ue.Body, "Invalid API Key")
}

func TestStreamCompletion_ErrorFrame(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, deltaFrame("Hel"))
		fmt.Fprint(w, `data: {"error":{"message":"model overloaded","type":"server_error"}}`+"\n\n")
	})

	stream, err := client.StreamCompletion(context.Background(), nil)
	require.NoError(t, err)
	frags, err := drain(t, stream)
	require.Equal(t, []string{"Hel"}, frags)

	var ue *UpstreamError
	require.True(t, errors.As(err, &ue))
	require.Contains(t, err.Error(), "model overloaded")
}

func TestStreamCompletion_DropMidStream(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, deltaFrame("Hel"))
		fmt.Fprint(w, deltaFrame("lo"))
		w.(http.Flusher).Flush()

		conn, _, err := w.(http.Hijacker).Hijack()
		require.NoError(t, err)
		_ = conn.Close()
	})

	stream, err := client.StreamCompletion(context.Background(), nil)
	require.NoError(t, err)
	frags, err := drain(t, stream)
	require.Equal(t, []string{"Hel", "lo"}, frags)

	var ue *UpstreamError
	require.True(t, errors.As(err, &ue))
}

func TestStreamCompletion_IdleTimeout(t *testing.T) {
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, deltaFrame("slow"))
		w.(http.Flusher).Flush()
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}, func(cfg *config.LLMConfig) {
		cfg.ReadTimeout = 100 * time.Millisecond
	})

	stream, err := client.StreamCompletion(context.Background(), nil)
	require.NoError(t, err)
	frags, err := drain(t, stream)
	require.Equal(t, []string{"slow"}, frags)
	require.ErrorIs(t, err, ErrReadTimeout)
}

func TestStreamCompletion_ContextCancelled(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, deltaFrame("first"))
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	})

	ctx, cancel := context.WithCancel(context.Background())
	stream, err := client.StreamCompletion(ctx, nil)
	require.NoError(t, err)
	defer stream.Close()

	frag, err := stream.Recv()
	require.NoError(t, err)
	require.Equal(t, "first", frag)

	cancel()
	_, err = stream.Recv()
	require.ErrorIs(t, err, context.Canceled)
}

func TestComplete(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req openai.ChatCompletionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.False(t, req.Stream)
		require.Equal(t, "llama3-8b-8192", req.Model)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"x","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"pong"}}]}`)
	})

	resp, err := client.Complete(context.Background(), CompletionRequest{
		Model:    "llama3-8b-8192",
		Messages: []Message{{Role: "user", Content: "ping"}},
	})
	require.NoError(t, err)
	require.Equal(t, "pong", resp.Choices[0].Message.Content)
}

func TestComplete_MissingContent(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"choices":[]}`)
	})

	_, err := client.Complete(context.Background(), CompletionRequest{Messages: []Message{{Role: "user", Content: "ping"}}})
	require.ErrorIs(t, err, ErrMissingCompletion)
}

func TestConfigured(t *testing.T) {
	require.True(t, NewClient(config.LLMConfig{APIKey: "k"}).Configured())
	require.False(t, NewClient(config.LLMConfig{}).Configured())
}

func TestUpstreamError_Message(t *testing.T) {
	require.Equal(t, "upstream returned status 500: boom", (&UpstreamError{StatusCode: 500, Body: "boom"}).Error())
	require.Equal(t, "upstream: upstream read timed out", (&UpstreamError{Err: ErrReadTimeout}).Error())
}
