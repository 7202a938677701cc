// Package llm provides the single LLM call surface used by every pipeline
// stage: chat completions with retry, rate-limit backoff, and model
// fallback, plus the per-stage model registry.
package llm

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/atlas-agents/atlas/pkg/config"
)

// ChatCompleter captures the subset of the go-openai client the gateway uses.
type ChatCompleter interface {
	CreateChatCompletion(ctx context.Context, request openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// RetryPolicy bounds the retry loop. All retry/backoff behaviour lives here
// rather than in individual stages.
type RetryPolicy struct {
	// MaxModelAttempts is the total attempt budget across primary and
	// fallback models for one Call.
	MaxModelAttempts int
	// BaseDelay is the first backoff delay.
	BaseDelay time.Duration
	// MaxDelay caps the doubled backoff.
	MaxDelay time.Duration
}

// DefaultRetryPolicy matches the documented backoff: 10s doubling to 60s,
// at most 3 model attempts per call.
var DefaultRetryPolicy = RetryPolicy{
	MaxModelAttempts: 3,
	BaseDelay:        10 * time.Second,
	MaxDelay:         60 * time.Second,
}

// Request is one chat-completion call.
type Request struct {
	System      string
	User        string
	Model       string
	Fallback    string // model used after persistent primary failure
	Temperature float32
	MaxTokens   int
	JSONObject  bool // request response_format: json_object
}

// Response carries the raw assistant text and the model actually used.
type Response struct {
	Text  string
	Model string
}

// Gateway is the shared call surface. Safe for parallel use; the model
// cooldown table is updated atomically so concurrent sessions back off a
// rate-limited model together.
type Gateway struct {
	primary  ChatCompleter
	fallback ChatCompleter // nil when no fallback endpoint is configured
	timeout  time.Duration
	policy   RetryPolicy

	mu        sync.Mutex
	cooldowns map[string]time.Time // model → earliest next use

	logger *slog.Logger

	// sleep is swapped in tests to avoid real backoff waits.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewGateway builds a gateway from the endpoint configuration.
func NewGateway(cfg config.APIEndpointConfig, timeout time.Duration, policy RetryPolicy) *Gateway {
	apiKey := ""
	if cfg.APIKeyEnv != "" {
		apiKey = getenv(cfg.APIKeyEnv)
	}

	primaryCfg := openai.DefaultConfig(apiKey)
	if cfg.Primary != "" {
		primaryCfg.BaseURL = cfg.Primary
	}

	g := &Gateway{
		primary:   openai.NewClientWithConfig(primaryCfg),
		timeout:   timeout,
		policy:    policy,
		cooldowns: make(map[string]time.Time),
		logger:    slog.Default(),
		sleep:     sleepCtx,
	}

	if cfg.UseFallback && cfg.Fallback != "" {
		fallbackCfg := openai.DefaultConfig(apiKey)
		fallbackCfg.BaseURL = cfg.Fallback
		g.fallback = openai.NewClientWithConfig(fallbackCfg)
	}

	return g
}

// NewGatewayWithClients builds a gateway over explicit clients. Used by tests
// and by callers that manage their own HTTP configuration.
func NewGatewayWithClients(primary, fallback ChatCompleter, timeout time.Duration, policy RetryPolicy) *Gateway {
	return &Gateway{
		primary:   primary,
		fallback:  fallback,
		timeout:   timeout,
		policy:    policy,
		cooldowns: make(map[string]time.Time),
		logger:    slog.Default(),
		sleep:     sleepCtx,
	}
}

// Call issues one chat completion, retrying per policy and switching to the
// fallback model after persistent primary failure. At most
// policy.MaxModelAttempts attempts are made in total.
func (g *Gateway) Call(ctx context.Context, req Request) (*Response, error) {
	if req.Model == "" {
		return nil, &Error{Kind: KindModelUnavailable, Err: fmt.Errorf("no model configured")}
	}

	model := req.Model
	delay := g.policy.BaseDelay
	var lastErr *Error

	for attempt := 1; attempt <= g.policy.MaxModelAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		// Honour a shared cooldown before touching a rate-limited model.
		if wait := g.cooldownRemaining(model); wait > 0 {
			if next := g.switchModel(model, req); next != model {
				model = next
			} else if err := g.sleep(ctx, wait); err != nil {
				return nil, err
			}
		}

		resp, err := g.callOnce(ctx, model, req)
		if err == nil {
			return resp, nil
		}

		lastErr = Classify(err)
		g.logger.Warn("LLM call failed",
			"model", model, "attempt", attempt,
			"kind", lastErr.Kind, "error", err)

		if !lastErr.Retryable() {
			// Persistent failure on this model: switch to the fallback model
			// if one remains, otherwise give up.
			if next := g.switchModel(model, req); next != model {
				model = next
				continue
			}
			return nil, lastErr
		}

		if attempt == g.policy.MaxModelAttempts {
			break
		}

		// Rate limits cool the model down for everyone and honour a
		// server-supplied retry-after over our own schedule.
		wait := delay
		if lastErr.Kind == KindRateLimited {
			if lastErr.RetryAfterSeconds > 0 {
				wait = time.Duration(lastErr.RetryAfterSeconds) * time.Second
			}
			g.setCooldown(model, wait)
		}
		if err := g.sleep(ctx, wait); err != nil {
			return nil, err
		}
		delay = min(delay*2, g.policy.MaxDelay)

		// Timeout/Transport: one retry on primary, then move to fallback.
		if lastErr.Kind == KindTimeout || lastErr.Kind == KindTransport {
			if next := g.switchModel(model, req); next != model && attempt >= 2 {
				model = next
			}
		}
	}

	return nil, lastErr
}

// callOnce performs a single completion attempt with the per-call deadline,
// preferring the fallback endpoint when the model is the fallback model and
// a fallback endpoint exists.
func (g *Gateway) callOnce(ctx context.Context, model string, req Request) (*Response, error) {
	client := g.primary
	if g.fallback != nil && req.Fallback != "" && model == req.Fallback {
		client = g.fallback
	}

	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	messages := []openai.ChatCompletionMessage{}
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role: openai.ChatMessageRoleSystem, Content: req.System,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role: openai.ChatMessageRoleUser, Content: req.User,
	})

	completion := openai.ChatCompletionRequest{
		Model:       model,
		Messages:    messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
	if req.JSONObject {
		completion.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	resp, err := client.CreateChatCompletion(callCtx, completion)
	if err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, &Error{Kind: KindBadResponse, Err: fmt.Errorf("no choices in response")}
	}
	return &Response{Text: resp.Choices[0].Message.Content, Model: model}, nil
}

// switchModel returns the fallback model when current is the primary and a
// fallback is configured; otherwise returns current unchanged.
func (g *Gateway) switchModel(current string, req Request) string {
	if req.Fallback != "" && current == req.Model && req.Fallback != req.Model {
		g.logger.Info("Switching to fallback model",
			"primary", req.Model, "fallback", req.Fallback)
		return req.Fallback
	}
	return current
}

func (g *Gateway) cooldownRemaining(model string) time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()
	until, ok := g.cooldowns[model]
	if !ok {
		return 0
	}
	remaining := time.Until(until)
	if remaining <= 0 {
		delete(g.cooldowns, model)
		return 0
	}
	return remaining
}

func (g *Gateway) setCooldown(model string, d time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()
	until := time.Now().Add(d)
	if existing, ok := g.cooldowns[model]; !ok || until.After(existing) {
		g.cooldowns[model] = until
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
