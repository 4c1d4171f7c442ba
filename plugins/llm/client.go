package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/liuran001/BiliSummary-Go/summary"
	"github.com/liuran001/BiliSummary-Go/summary/config"
	"github.com/liuran001/BiliSummary-Go/summary/metrics"
)

const (
	completionsPath = "/chat/completions"
	streamDone      = "[DONE]"
	maxLineSize     = 1 << 20
	maxErrorLen     = 512
)

// ErrEmptyReply is returned when the model answers with no choices.
var ErrEmptyReply = errors.New("llm: empty reply")

// APIError is a non-200 answer from the completion endpoint.
type APIError struct {
	StatusCode int
	Type       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Type != "" {
		return fmt.Sprintf("llm: status %d (%s): %s", e.StatusCode, e.Type, e.Message)
	}
	return fmt.Sprintf("llm: status %d: %s", e.StatusCode, e.Message)
}

// Client talks to an OpenAI compatible chat completion API.
type Client struct {
	httpClient  *retryablehttp.Client
	apiBase     string
	apiKey      string
	model       string
	visionModel string
	temperature float64
	timeout     time.Duration
	logger      summary.Logger
}

var _ summary.ChatClient = (*Client)(nil)

// New creates a client. Transport errors, 429 and 5xx answers are retried by
// the underlying retryablehttp client before any body is read.
func New(logger summary.Logger, opts config.LLMOptions) *Client {
	httpClient := retryablehttp.NewClient()
	httpClient.RetryMax = 2
	httpClient.RetryWaitMin = 500 * time.Millisecond
	httpClient.RetryWaitMax = 4 * time.Second
	httpClient.Logger = nil
	httpClient.ErrorHandler = retryablehttp.PassthroughErrorHandler

	apiBase := strings.TrimRight(strings.TrimSpace(opts.APIBase), "/")
	if apiBase == "" {
		apiBase = "https://api.openai.com/v1"
	}
	visionModel := opts.VLModel
	if visionModel == "" {
		visionModel = opts.Model
	}

	return &Client{
		httpClient:  httpClient,
		apiBase:     apiBase,
		apiKey:      opts.APIKey,
		model:       opts.Model,
		visionModel: visionModel,
		temperature: opts.Temperature,
		timeout:     opts.Timeout,
		logger:      logger,
	}
}

// Model returns the model name sent with each request.
func (c *Client) Model() string {
	return c.model
}

// WithVision returns a copy of the client that uses the vision model.
func (c *Client) WithVision() *Client {
	clone := *c
	clone.model = c.visionModel
	return &clone
}

type chatRequest struct {
	Model       string            `json:"model"`
	Messages    []summary.Message `json:"messages"`
	Temperature float64           `json:"temperature"`
	Stream      bool              `json:"stream,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Complete sends messages and returns the whole reply.
func (c *Client) Complete(ctx context.Context, messages []summary.Message) (string, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	resp, err := c.post(ctx, messages, false)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("llm: decode reply: %w", err)
	}
	if out.Error != nil {
		return "", &APIError{StatusCode: resp.StatusCode, Type: out.Error.Type, Message: out.Error.Message}
	}
	if len(out.Choices) == 0 {
		return "", ErrEmptyReply
	}
	return out.Choices[0].Message.Content, nil
}

// Stream sends messages with stream enabled and hands every content delta to
// onToken. It returns the concatenated reply, including when onToken fails.
func (c *Client) Stream(ctx context.Context, messages []summary.Message, onToken func(string) error) (string, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	resp, err := c.post(ctx, messages, true)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var full strings.Builder
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == streamDone {
			return full.String(), nil
		}
		if data == "" {
			continue
		}

		var chunk chatResponse
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			if c.logger != nil {
				c.logger.Debug("llm: skipping malformed stream chunk", "err", err)
			}
			continue
		}
		if chunk.Error != nil {
			return full.String(), &APIError{StatusCode: resp.StatusCode, Type: chunk.Error.Type, Message: chunk.Error.Message}
		}
		for _, choice := range chunk.Choices {
			token := choice.Delta.Content
			if token == "" {
				continue
			}
			full.WriteString(token)
			if onToken != nil {
				if err := onToken(token); err != nil {
					return full.String(), err
				}
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return full.String(), fmt.Errorf("llm: read stream: %w", err)
	}
	// Some servers close the stream without a terminator.
	if full.Len() == 0 {
		return "", ErrEmptyReply
	}
	return full.String(), nil
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.timeout)
}

func (c *Client) post(ctx context.Context, messages []summary.Message, stream bool) (*http.Response, error) {
	if len(messages) == 0 {
		return nil, errors.New("llm: no messages")
	}
	payload, err := json.Marshal(chatRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: c.temperature,
		Stream:      stream,
	})
	if err != nil {
		return nil, err
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.apiBase+completionsPath, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if stream {
		req.Header.Set("Accept", "text/event-stream")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	if c.logger != nil {
		c.logger.Debug("llm: sending completion request", "model", c.model, "messages", len(messages), "stream", stream)
	}
	start := time.Now()
	resp, err := c.httpClient.Do(req)
	metrics.UpstreamRequestDuration.WithLabelValues("llm.chat").Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("llm: request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, decodeError(resp)
	}
	return resp, nil
}

func decodeError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	apiErr := &APIError{StatusCode: resp.StatusCode}

	var out chatResponse
	if err := json.Unmarshal(body, &out); err == nil && out.Error != nil {
		apiErr.Type = out.Error.Type
		apiErr.Message = out.Error.Message
		return apiErr
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > maxErrorLen {
		msg = msg[:maxErrorLen] + "..."
	}
	apiErr.Message = msg
	return apiErr
}
