package tutor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/p-n-ai/pai-tutor/internal/ai"
	"github.com/p-n-ai/pai-tutor/internal/platform/metrics"
)

const (
	defaultModelTimeout = 60 * time.Second
	defaultMaxTokens    = 1024
)

var (
	// ErrNothingToRetry is returned by Retry when the last turn already has
	// a reply.
	ErrNothingToRetry = errors.New("no unanswered message to retry")
	// ErrBudgetExhausted is returned when the session has used its token
	// budget. The state is left untouched.
	ErrBudgetExhausted = errors.New("session token budget exhausted")

	errEmptyReply = errors.New("model returned an empty reply")
)

// ModelError wraps a failed model invocation. The user's turn is kept in the
// returned state, so the caller can offer a retry.
type ModelError struct {
	Err error
}

func (e *ModelError) Error() string { return "model invocation failed: " + e.Err.Error() }
func (e *ModelError) Unwrap() error { return e.Err }

// Retryable is always true; the engine itself never retries.
func (e *ModelError) Retryable() bool { return true }

// Timeout reports whether the call ran past its deadline.
func (e *ModelError) Timeout() bool { return errors.Is(e.Err, context.DeadlineExceeded) }

// EngineConfig holds dependencies for the conversation engine.
type EngineConfig struct {
	Model       ai.Provider
	ModelID     string        // passed through to the provider; empty lets it choose
	Temperature *float64      // nil means ai.DefaultTemperature; zero is honoured
	MaxTokens   int           // default 1024
	Timeout     time.Duration // per model call, default 60s
	Budget      ai.BudgetChecker
	Metrics     *metrics.Metrics
}

// Engine runs conversation turns against the language model.
type Engine struct {
	model       ai.Provider
	modelID     string
	temperature float64
	maxTokens   int
	timeout     time.Duration
	budget      ai.BudgetChecker
	metrics     *metrics.Metrics
}

// NewEngine creates a conversation engine.
func NewEngine(cfg EngineConfig) *Engine {
	temperature := ai.DefaultTemperature
	if cfg.Temperature != nil {
		temperature = *cfg.Temperature
	}
	maxTokens := cfg.MaxTokens
	if maxTokens == 0 {
		maxTokens = defaultMaxTokens
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultModelTimeout
	}
	return &Engine{
		model:       cfg.Model,
		modelID:     cfg.ModelID,
		temperature: temperature,
		maxTokens:   maxTokens,
		timeout:     timeout,
		budget:      cfg.Budget,
		metrics:     cfg.Metrics,
	}
}

// Submit appends the user's message, asks the model for a reply and appends
// it. On a model failure the returned state still holds the user turn, no
// assistant turn is added, and the error is a *ModelError.
func (e *Engine) Submit(ctx context.Context, state State, text string) (State, string, error) {
	if state.Phase() != PhaseInSession {
		return state, "", fmt.Errorf("submit message: no active sub-topic: %w", ErrInvalidTransition)
	}
	text = norm.NFC.String(text)
	if strings.TrimSpace(text) == "" {
		return state, "", ErrEmptyMessage
	}
	if err := e.checkBudget(state.Key); err != nil {
		return state, "", err
	}

	next := state.withTurn(userTurn(text))
	return e.reply(ctx, next)
}

// Retry asks the model again for the trailing unanswered user turn, without
// adding another user turn.
func (e *Engine) Retry(ctx context.Context, state State) (State, string, error) {
	if state.Phase() != PhaseInSession {
		return state, "", fmt.Errorf("retry message: no active sub-topic: %w", ErrInvalidTransition)
	}
	if !state.PendingUserTurn() {
		return state, "", ErrNothingToRetry
	}
	if err := e.checkBudget(state.Key); err != nil {
		return state, "", err
	}
	return e.reply(ctx, state.clone())
}

// reply expects state to end with the user turn being answered.
func (e *Engine) reply(ctx context.Context, state State) (State, string, error) {
	sub := state.ActiveSubTopic
	directive := BuildSystemDirective(sub.Name, sub.ContentGuidelines)
	messages := BuildContext(directive, state.Turns)

	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	start := time.Now()
	resp, err := e.model.Complete(callCtx, ai.CompletionRequest{
		Messages:    messages,
		Model:       e.modelID,
		MaxTokens:   e.maxTokens,
		Temperature: ai.Float(e.temperature),
	})
	elapsed := time.Since(start)
	if err == nil && strings.TrimSpace(resp.Content) == "" {
		err = errEmptyReply
	}
	if err != nil {
		e.metrics.ObserveModelCall(resp.Provider, "error", elapsed, 0, 0)
		slog.Warn("model invocation failed",
			"session_key", state.Key,
			"sub_topic_id", sub.ID,
			"turns", len(state.Turns),
			"elapsed_ms", elapsed.Milliseconds(),
			"error", err,
		)
		return state, "", &ModelError{Err: err}
	}

	e.metrics.ObserveModelCall(resp.Provider, "ok", elapsed, resp.InputTokens, resp.OutputTokens)
	if e.budget != nil && state.Key != "" {
		if err := e.budget.Record(state.Key, resp.TotalTokens()); err != nil {
			slog.Warn("failed to record token usage", "session_key", state.Key, "error", err)
		}
	}
	slog.Info("model replied",
		"session_key", state.Key,
		"sub_topic_id", sub.ID,
		"provider", resp.Provider,
		"model", resp.Model,
		"input_tokens", resp.InputTokens,
		"output_tokens", resp.OutputTokens,
		"elapsed_ms", elapsed.Milliseconds(),
	)

	return state.withTurn(assistantTurn(resp.Content)), resp.Content, nil
}

func (e *Engine) checkBudget(key string) error {
	if e.budget == nil || key == "" {
		return nil
	}
	ok, err := e.budget.Check(key)
	if err != nil {
		return fmt.Errorf("check budget: %w", err)
	}
	if !ok {
		return ErrBudgetExhausted
	}
	return nil
}

// BuildContext assembles the model input: the system directive first, then
// every turn in the order it was produced.
func BuildContext(directive string, turns []Turn) []ai.Message {
	messages := make([]ai.Message, 0, len(turns)+1)
	messages = append(messages, ai.Message{Role: ai.RoleSystem, Content: directive})
	for _, t := range turns {
		messages = append(messages, ai.Message{Role: t.Role, Content: t.Content})
	}
	return messages
}
