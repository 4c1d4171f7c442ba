package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liuran001/BiliSummary-Go/summary"
	"github.com/liuran001/BiliSummary-Go/summary/config"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client := New(nil, config.LLMOptions{
		APIBase:     srv.URL + "/v1/",
		APIKey:      "sk-test",
		Model:       "text-model",
		VLModel:     "vision-model",
		Temperature: 0.2,
		Timeout:     5 * time.Second,
	})
	client.httpClient.RetryMax = 0
	return client
}

var testMessages = []summary.Message{
	{Role: summary.RoleSystem, Content: "be brief"},
	{Role: summary.RoleUser, Content: "hello"},
}

func TestComplete(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var req chatRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "text-model", req.Model)
		assert.Equal(t, 0.2, req.Temperature)
		assert.False(t, req.Stream)
		assert.Equal(t, testMessages, req.Messages)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"hi there"},"finish_reason":"stop"}]}`))
	})

	got, err := client.Complete(context.Background(), testMessages)
	require.NoError(t, err)
	assert.Equal(t, "hi there", got)
}

func TestCompleteErrors(t *testing.T) {
	t.Run("api error body", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":{"message":"bad key","type":"invalid_request_error"}}`))
		})
		_, err := client.Complete(context.Background(), testMessages)
		var apiErr *APIError
		require.True(t, errors.As(err, &apiErr), "got %v", err)
		assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
		assert.Equal(t, "bad key", apiErr.Message)
	})

	t.Run("plain error body", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "gateway down", http.StatusBadGateway)
		})
		_, err := client.Complete(context.Background(), testMessages)
		var apiErr *APIError
		require.True(t, errors.As(err, &apiErr), "got %v", err)
		assert.Equal(t, "gateway down", apiErr.Message)
	})

	t.Run("no choices", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"choices":[]}`))
		})
		_, err := client.Complete(context.Background(), testMessages)
		assert.ErrorIs(t, err, ErrEmptyReply)
	})

	t.Run("no messages", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			t.Error("request must not be sent")
		})
		_, err := client.Complete(context.Background(), nil)
		assert.Error(t, err)
	})
}

func streamHandler(t *testing.T, tokens []string, terminate bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.True(t, req.Stream)
		assert.Equal(t, "text/event-stream", r.Header.Get("Accept"))

		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, ": keep-alive\n\n")
		for _, token := range tokens {
			chunk, _ := json.Marshal(map[string]any{
				"choices": []map[string]any{{"delta": map[string]string{"content": token}}},
			})
			fmt.Fprintf(w, "data: %s\n\n", chunk)
		}
		fmt.Fprint(w, "data: not-json\n\n")
		if terminate {
			fmt.Fprint(w, "data: [DONE]\n\n")
		}
	}
}

func TestStream(t *testing.T) {
	client := newTestClient(t, streamHandler(t, []string{"弹幕", "很", "多"}, true))

	var tokens []string
	got, err := client.Stream(context.Background(), testMessages, func(token string) error {
		tokens = append(tokens, token)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "弹幕很多", got)
	assert.Equal(t, []string{"弹幕", "很", "多"}, tokens)
}

func TestStreamWithoutTerminator(t *testing.T) {
	client := newTestClient(t, streamHandler(t, []string{"a", "b"}, false))

	got, err := client.Stream(context.Background(), testMessages, nil)
	require.NoError(t, err)
	assert.Equal(t, "ab", got)
}

func TestStreamStopsOnCallbackError(t *testing.T) {
	client := newTestClient(t, streamHandler(t, []string{"a", "b", "c"}, true))
	stop := errors.New("stop")

	calls := 0
	got, err := client.Stream(context.Background(), testMessages, func(string) error {
		calls++
		if calls == 2 {
			return stop
		}
		return nil
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, "ab", got)
	assert.Equal(t, 2, calls)
}

func TestWithVision(t *testing.T) {
	client := New(nil, config.LLMOptions{Model: "text-model", VLModel: "vision-model"})
	vision := client.WithVision()

	assert.Equal(t, "vision-model", vision.Model())
	assert.Equal(t, "text-model", client.Model())

	fallback := New(nil, config.LLMOptions{Model: "text-model"}).WithVision()
	assert.Equal(t, "text-model", fallback.Model())
	assert.Equal(t, "https://api.openai.com/v1", fallback.apiBase)
}
