package ai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sony/gobreaker"
)

// ErrAllProvidersFailed is returned when no registered provider produced a
// completion.
var ErrAllProvidersFailed = errors.New("all AI providers failed")

const (
	breakerFailures = 3
	breakerOpenFor  = 30 * time.Second
)

type routedProvider struct {
	name     string
	provider Provider
	breaker  *gobreaker.CircuitBreaker
}

// Router tries providers in registration order. Each provider sits behind a
// circuit breaker so a provider that keeps failing is skipped until it cools
// down.
type Router struct {
	providers []routedProvider
	mu        sync.RWMutex
}

// NewRouter creates a new AI router.
func NewRouter() *Router {
	return &Router{}
}

// Register adds a provider to the end of the fallback chain.
func (r *Router) Register(name string, provider Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers = append(r.providers, routedProvider{
		name:     name,
		provider: provider,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    name,
			Timeout: breakerOpenFor,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= breakerFailures
			},
			IsSuccessful: func(err error) bool {
				// A cancelled caller says nothing about the provider's health.
				return err == nil || errors.Is(err, context.Canceled)
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				slog.Warn("AI provider circuit changed",
					"provider", name,
					"from", from.String(),
					"to", to.String(),
				)
			},
		}),
	})
}

// Complete routes a request to the first provider that answers. A model named
// in the request is only meaningful to the first registered provider; the
// fallbacks are asked with their own default model.
func (r *Router) Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error) {
	r.mu.RLock()
	providers := append([]routedProvider{}, r.providers...)
	r.mu.RUnlock()

	lastErr := errors.New("no providers registered")
	for i, p := range providers {
		if err := ctx.Err(); err != nil {
			return CompletionResponse{}, err
		}

		attempt := req
		if i > 0 {
			attempt.Model = ""
		}
		out, err := p.breaker.Execute(func() (interface{}, error) {
			return p.provider.Complete(ctx, attempt)
		})
		if err != nil {
			slog.Warn("AI provider failed, trying next",
				"provider", p.name,
				"error", err,
			)
			lastErr = err
			continue
		}

		resp := out.(CompletionResponse)
		resp.Provider = p.name
		slog.Debug("AI request completed",
			"provider", p.name,
			"model", resp.Model,
			"input_tokens", resp.InputTokens,
			"output_tokens", resp.OutputTokens,
		)
		return resp, nil
	}

	return CompletionResponse{}, fmt.Errorf("%w: %w", ErrAllProvidersFailed, lastErr)
}

// Models lists the models of every registered provider.
func (r *Router) Models() []ModelInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var models []ModelInfo
	for _, p := range r.providers {
		models = append(models, p.provider.Models()...)
	}
	return models
}

// HealthCheck succeeds when at least one provider is healthy.
func (r *Router) HealthCheck(ctx context.Context) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.providers) == 0 {
		return errors.New("no providers registered")
	}
	var errs []error
	for _, p := range r.providers {
		err := p.provider.HealthCheck(ctx)
		if err == nil {
			return nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", p.name, err))
	}
	return errors.Join(errs...)
}

// HasProvider returns true if at least one provider is registered.
func (r *Router) HasProvider() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.providers) > 0
}
