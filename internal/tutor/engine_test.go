package tutor

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/p-n-ai/pai-tutor/internal/ai"
)

func TestBuildContext_Order(t *testing.T) {
	for n := 0; n < 6; n++ {
		var turns []Turn
		for i := 0; i < n; i++ {
			role := ai.RoleUser
			if i%2 == 1 {
				role = ai.RoleAssistant
			}
			turns = append(turns, Turn{Role: role, Content: strings.Repeat("x", i+1)})
		}

		msgs := BuildContext("directive", turns)
		require.Len(t, msgs, n+1)
		assert.Equal(t, ai.Message{Role: ai.RoleSystem, Content: "directive"}, msgs[0])
		for i, turn := range turns {
			assert.Equal(t, turn.Role, msgs[i+1].Role)
			assert.Equal(t, turn.Content, msgs[i+1].Content)
		}
	}
}

func TestEngine_Submit(t *testing.T) {
	mock := ai.NewMockProvider("What two numbers multiply to 6?")
	engine := NewEngine(EngineConfig{Model: mock})

	st := inSession(t, 0)
	next, reply, err := engine.Submit(context.Background(), st, "help me solve x^2-5x+6=0")
	require.NoError(t, err)

	assert.Equal(t, "What two numbers multiply to 6?", reply)
	require.Len(t, next.Turns, 2)
	assert.Equal(t, userTurn("help me solve x^2-5x+6=0"), next.Turns[0])
	assert.Equal(t, assistantTurn(reply), next.Turns[1])
	assert.Empty(t, st.Turns, "input state must not change")

	req := mock.LastRequest()
	require.NotNil(t, req)
	require.NotNil(t, req.Temperature)
	assert.Equal(t, ai.DefaultTemperature, *req.Temperature)
	assert.Equal(t, defaultMaxTokens, req.MaxTokens)
	require.Len(t, req.Messages, 2)
	assert.Equal(t, BuildSystemDirective(subS1.Name, subS1.ContentGuidelines), req.Messages[0].Content)
}

func TestEngine_Submit_SocraticScenario(t *testing.T) {
	// The mock honours the directive: it only withholds the factors if the
	// guideline text reached it unmodified.
	mock := &ai.MockProvider{Respond: func(req ai.CompletionRequest) (string, error) {
		system := req.Messages[0].Content
		if strings.Contains(system, "never give the final factors directly") &&
			strings.Contains(system, "Factorising Quadratics") {
			return "Which two numbers add to $-5$ and multiply to $6$?", nil
		}
		return "(x-2)(x-3)", nil
	}}
	engine := NewEngine(EngineConfig{Model: mock})

	_, reply, err := engine.Submit(context.Background(), inSession(t, 0), "help me solve x^2-5x+6=0")
	require.NoError(t, err)
	assert.NotContains(t, reply, "(x-2)(x-3)")
	assert.Contains(t, reply, "?")
}

func TestEngine_Submit_ContextGrowsChronologically(t *testing.T) {
	mock := &ai.MockProvider{Replies: []string{"r1", "r2", "r3"}}
	engine := NewEngine(EngineConfig{Model: mock})

	st := inSession(t, 0)
	var err error
	for _, q := range []string{"q1", "q2", "q3"} {
		st, _, err = engine.Submit(context.Background(), st, q)
		require.NoError(t, err)
	}

	reqs := mock.Requests()
	require.Len(t, reqs, 3)
	last := reqs[2].Messages
	want := []string{"q1", "r1", "q2", "r2", "q3"}
	require.Len(t, last, len(want)+1)
	for i, c := range want {
		assert.Equal(t, c, last[i+1].Content)
	}
	assert.Len(t, st.Turns, 6)
}

func TestEngine_Submit_TimeoutOnSecondMessage(t *testing.T) {
	calls := 0
	mock := &ai.MockProvider{Respond: func(req ai.CompletionRequest) (string, error) {
		calls++
		if calls == 2 {
			return "", context.DeadlineExceeded
		}
		return "first reply", nil
	}}
	engine := NewEngine(EngineConfig{Model: mock})

	st, _, err := engine.Submit(context.Background(), inSession(t, 0), "first")
	require.NoError(t, err)
	before := st

	after, reply, err := engine.Submit(context.Background(), st, "second")
	require.Error(t, err)
	assert.Empty(t, reply)

	var modelErr *ModelError
	require.ErrorAs(t, err, &modelErr)
	assert.True(t, modelErr.Retryable())
	assert.True(t, modelErr.Timeout())
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	countRole := func(s State, role string) int {
		n := 0
		for _, turn := range s.Turns {
			if turn.Role == role {
				n++
			}
		}
		return n
	}
	assert.Equal(t, countRole(before, ai.RoleUser)+1, countRole(after, ai.RoleUser))
	assert.Equal(t, countRole(before, ai.RoleAssistant), countRole(after, ai.RoleAssistant))
	assert.Equal(t, userTurn("second"), after.Turns[len(after.Turns)-1])
}

func TestEngine_Submit_EnforcesTimeout(t *testing.T) {
	mock := &ai.MockProvider{Respond: func(ai.CompletionRequest) (string, error) {
		time.Sleep(50 * time.Millisecond)
		return "too late", nil
	}}
	engine := NewEngine(EngineConfig{Model: mock, Timeout: 10 * time.Millisecond})

	next, _, err := engine.Submit(context.Background(), inSession(t, 0), "hello")
	var modelErr *ModelError
	require.ErrorAs(t, err, &modelErr)
	assert.True(t, modelErr.Timeout())
	assert.Len(t, next.Turns, 1)
}

func TestEngine_Submit_EmptyReplyIsFailure(t *testing.T) {
	engine := NewEngine(EngineConfig{Model: ai.NewMockProvider("   ")})

	next, _, err := engine.Submit(context.Background(), inSession(t, 0), "hello")
	var modelErr *ModelError
	require.ErrorAs(t, err, &modelErr)
	assert.False(t, modelErr.Timeout())
	assert.Len(t, next.Turns, 1)
}

func TestEngine_Submit_Preconditions(t *testing.T) {
	engine := NewEngine(EngineConfig{Model: ai.NewMockProvider("ok")})
	ctx := context.Background()

	browsing := NewState("k").SelectUnit("U")
	got, _, err := engine.Submit(ctx, browsing, "hi")
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, browsing, got)

	for _, blank := range []string{"", "   ", "\n\t"} {
		st := inSession(t, 1)
		got, _, err := engine.Submit(ctx, st, blank)
		assert.ErrorIs(t, err, ErrEmptyMessage)
		assert.Len(t, got.Turns, 2)
	}
}

func TestEngine_Submit_NormalisesText(t *testing.T) {
	engine := NewEngine(EngineConfig{Model: ai.NewMockProvider("ok")})

	// "é" written as e + combining acute accent.
	next, _, err := engine.Submit(context.Background(), inSession(t, 0), "e\u0301quation")
	require.NoError(t, err)
	assert.Equal(t, "\u00e9quation", next.Turns[0].Content)
}

func TestEngine_Retry(t *testing.T) {
	mock := &ai.MockProvider{
		Errs:    []error{errors.New("upstream 503")},
		Replies: []string{"recovered"},
	}
	engine := NewEngine(EngineConfig{Model: mock})
	ctx := context.Background()

	failed, _, err := engine.Submit(ctx, inSession(t, 0), "hello")
	require.Error(t, err)
	require.Len(t, failed.Turns, 1)

	next, reply, err := engine.Retry(ctx, failed)
	require.NoError(t, err)
	assert.Equal(t, "recovered", reply)
	assert.Equal(t, []Turn{userTurn("hello"), assistantTurn("recovered")}, next.Turns)

	// Both calls saw the same context.
	reqs := mock.Requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, reqs[0].Messages, reqs[1].Messages)

	_, _, err = engine.Retry(ctx, next)
	assert.ErrorIs(t, err, ErrNothingToRetry)

	_, _, err = engine.Retry(ctx, NewState("k").SelectUnit("U"))
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestEngine_Budget(t *testing.T) {
	budget := ai.NewInMemoryBudget(20)
	mock := ai.NewMockProvider("0123456789") // 10 input + 10 output tokens
	engine := NewEngine(EngineConfig{Model: mock, Budget: budget})
	ctx := context.Background()

	st, _, err := engine.Submit(ctx, inSession(t, 0), "first")
	require.NoError(t, err)

	used, _, _ := budget.Usage("k")
	assert.Equal(t, int64(20), used)

	got, _, err := engine.Submit(ctx, st, "second")
	assert.ErrorIs(t, err, ErrBudgetExhausted)
	assert.Equal(t, st.Turns, got.Turns, "no user turn is recorded once the budget is spent")
	assert.Len(t, mock.Requests(), 1)
}

func TestEngine_PassesModelID(t *testing.T) {
	mock := ai.NewMockProvider("ok")
	engine := NewEngine(EngineConfig{Model: mock, ModelID: "claude-sonnet-4-6", MaxTokens: 256, Temperature: ai.Float(0.1)})

	_, _, err := engine.Submit(context.Background(), inSession(t, 0), "hi")
	require.NoError(t, err)

	req := mock.LastRequest()
	assert.Equal(t, "claude-sonnet-4-6", req.Model)
	assert.Equal(t, 256, req.MaxTokens)
	require.NotNil(t, req.Temperature)
	assert.Equal(t, 0.1, *req.Temperature)
}

func TestEngine_ZeroTemperatureIsSent(t *testing.T) {
	mock := ai.NewMockProvider("ok")
	engine := NewEngine(EngineConfig{Model: mock, Temperature: ai.Float(0)})

	_, _, err := engine.Submit(context.Background(), inSession(t, 0), "hi")
	require.NoError(t, err)

	req := mock.LastRequest()
	require.NotNil(t, req.Temperature)
	assert.Zero(t, *req.Temperature)
}
