// Package llm wraps the OpenAI chat API with rate limiting and a circuit breaker.
package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sashabaranov/go-openai"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/opensource-finance/fraudsentry/internal/metrics"
)

// ErrNotConfigured is returned when no API key is available.
var ErrNotConfigured = errors.New("llm: not configured")

// ErrUnavailable is returned while the circuit breaker is open.
var ErrUnavailable = errors.New("llm: unavailable, circuit breaker is open")

// errAbandoned marks calls the caller cancelled without a deadline or cause.
// They do not count against the breaker.
var errAbandoned = errors.New("llm: call abandoned by caller")

// Completer is the chat completion surface used by the agent and enrichment.
type Completer interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Options configures a Client.
type Options struct {
	APIKey            string
	BaseURL           string
	Model             string
	RequestsPerSecond float64
	Burst             int

	// Breaker settings
	FailureRatio float64
	MinRequests  uint32
	OpenTimeout  time.Duration
}

// Client is a rate-limited, circuit-broken OpenAI client.
type Client struct {
	api     Completer
	model   string
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
	logger  *slog.Logger
}

// NewClient creates a client for the OpenAI API. It returns ErrNotConfigured when
// opts.APIKey is empty.
func NewClient(opts Options, logger *slog.Logger) (*Client, error) {
	if opts.APIKey == "" {
		return nil, ErrNotConfigured
	}

	cfg := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = opts.BaseURL
	}

	return NewClientWith(openai.NewClientWithConfig(cfg), opts, logger), nil
}

// NewClientWith wraps an existing Completer. Used for alternative backends and tests.
func NewClientWith(api Completer, opts Options, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Model == "" {
		opts.Model = openai.GPT4oMini
	}
	if opts.RequestsPerSecond <= 0 {
		opts.RequestsPerSecond = 5
	}
	if opts.Burst <= 0 {
		opts.Burst = max(1, int(opts.RequestsPerSecond))
	}
	if opts.FailureRatio <= 0 {
		opts.FailureRatio = 0.5
	}
	if opts.MinRequests == 0 {
		opts.MinRequests = 5
	}
	if opts.OpenTimeout <= 0 {
		opts.OpenTimeout = 30 * time.Second
	}

	minRequests := opts.MinRequests
	failureRatio := opts.FailureRatio

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "openai",
		Timeout: opts.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= minRequests && ratio >= failureRatio
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, errAbandoned)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				"name", name,
				"from", from.String(),
				"to", to.String(),
			)
			metrics.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
		},
	})

	return &Client{
		api:     api,
		model:   opts.Model,
		limiter: rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), opts.Burst),
		breaker: cb,
		logger:  logger,
	}
}

// CreateChatCompletion implements Completer with rate limiting and the breaker.
func (c *Client) CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	if req.Model == "" {
		req.Model = c.model
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return openai.ChatCompletionResponse{}, fmt.Errorf("llm: rate limit wait: %w", err)
	}

	out, err := c.breaker.Execute(func() (interface{}, error) {
		resp, err := c.api.CreateChatCompletion(ctx, req)
		if err != nil && abandoned(ctx) {
			return resp, fmt.Errorf("%w: %w", errAbandoned, err)
		}
		return resp, err
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return openai.ChatCompletionResponse{}, ErrUnavailable
		}
		return openai.ChatCompletionResponse{}, err
	}

	return out.(openai.ChatCompletionResponse), nil
}

// abandoned reports a plain caller cancellation. A missed deadline, including an
// agent timeout recorded as the cancel cause, means the backend was too slow.
func abandoned(ctx context.Context) bool {
	return ctx.Err() != nil && context.Cause(ctx) == context.Canceled
}

// Complete sends a single system+user exchange through any Completer. An empty
// model falls back to the Client's default when api is a *Client.
func Complete(ctx context.Context, api Completer, model, system, user string) (string, error) {
	resp, err := api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("llm: empty completion")
	}
	return resp.Choices[0].Message.Content, nil
}
