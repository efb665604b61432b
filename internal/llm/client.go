// Package llm talks to an OpenAI-compatible chat completions endpoint.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"regdesk/internal/conversation/state"
	dErrors "regdesk/pkg/domain-errors"
	"regdesk/pkg/platform/circuit"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// historyWindow is how many prior messages accompany a chat request.
const historyWindow = 12

const chatPrompt = `You are the registration assistant for a community training centre.
Answer briefly and politely. You can explain courses, prices and how registration works.
Do not make up dates, prices or policies. If the user wants to register, tell them to say "register".`

// Message is one chat completion message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Client is a minimal chat completions client.
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	client     *http.Client
	breaker    *circuit.Breaker
	timeout    time.Duration
	maxRetries uint64
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		if c != nil {
			cl.client = c
		}
	}
}

// WithBreaker fails calls fast while the provider is unhealthy.
func WithBreaker(b *circuit.Breaker) Option {
	return func(cl *Client) {
		cl.breaker = b
	}
}

func WithTimeout(d time.Duration) Option {
	return func(cl *Client) {
		if d > 0 {
			cl.timeout = d
		}
	}
}

func WithRetries(n uint64) Option {
	return func(cl *Client) {
		cl.maxRetries = n
	}
}

func NewClient(baseURL, apiKey, model string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		model:      model,
		client:     &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
		timeout:    8 * time.Second,
		maxRetries: 1,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type completionRequest struct {
	Model          string          `json:"model"`
	Messages       []Message       `json:"messages"`
	Temperature    float64         `json:"temperature"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type completionResponse struct {
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
}

// Complete returns the first choice's content.
func (c *Client) Complete(ctx context.Context, messages []Message) (string, error) {
	return c.complete(ctx, completionRequest{Model: c.model, Messages: messages})
}

// CompleteJSON asks the provider for a JSON object reply.
func (c *Client) CompleteJSON(ctx context.Context, messages []Message) (string, error) {
	return c.complete(ctx, completionRequest{
		Model:          c.model,
		Messages:       messages,
		ResponseFormat: &responseFormat{Type: "json_object"},
	})
}

// Chat answers free text with the recent conversation as context.
func (c *Client) Chat(ctx context.Context, history []state.Message, text string) (string, error) {
	if len(history) > historyWindow {
		history = history[len(history)-historyWindow:]
	}
	messages := make([]Message, 0, len(history)+2)
	messages = append(messages, Message{Role: RoleSystem, Content: chatPrompt})
	for _, m := range history {
		role := RoleUser
		if m.Role == state.RoleAssistant {
			role = RoleAssistant
		}
		messages = append(messages, Message{Role: role, Content: m.Text})
	}
	messages = append(messages, Message{Role: RoleUser, Content: text})
	return c.Complete(ctx, messages)
}

func (c *Client) complete(ctx context.Context, body completionRequest) (string, error) {
	if c.baseURL == "" {
		return "", dErrors.New(dErrors.CodeUnavailable, "llm is not configured")
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("encode completion request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var out completionResponse
	call := func(ctx context.Context) error {
		return backoff.Retry(func() error { return c.post(ctx, payload, &out) },
			backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(
				backoff.WithInitialInterval(250*time.Millisecond)), c.maxRetries), ctx))
	}
	if c.breaker != nil {
		err = c.breaker.Execute(ctx, call)
	} else {
		err = call(ctx)
	}
	switch {
	case errors.Is(err, circuit.ErrOpen):
		return "", dErrors.Wrap(err, dErrors.CodeUnavailable, "llm unavailable")
	case errors.Is(err, context.DeadlineExceeded):
		return "", dErrors.Wrap(err, dErrors.CodeTimeout, "llm timed out")
	case err != nil:
		return "", err
	}
	if len(out.Choices) == 0 {
		return "", dErrors.New(dErrors.CodeUnavailable, "llm returned no choices")
	}
	return strings.TrimSpace(out.Choices[0].Message.Content), nil
}

func (c *Client) post(ctx context.Context, payload []byte, out *completionResponse) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("llm: status %d", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return backoff.Permanent(fmt.Errorf("llm: status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return backoff.Permanent(fmt.Errorf("llm: decode response: %w", err))
	}
	return nil
}
