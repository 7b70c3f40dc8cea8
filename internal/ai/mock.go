package ai

import (
	"context"
	"sync"
)

// MockProvider is a test double for AI providers. Scripted Replies and Errs
// are consumed one per call before falling back to Response and Err.
type MockProvider struct {
	Response string
	Err      error
	Replies  []string
	Errs     []error
	// Respond, when set, computes the reply from the request.
	Respond func(req CompletionRequest) (string, error)

	mu       sync.Mutex
	requests []CompletionRequest
}

// NewMockProvider creates a MockProvider that returns the given response.
func NewMockProvider(response string) *MockProvider {
	return &MockProvider{Response: response}
}

func (m *MockProvider) Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error) {
	m.mu.Lock()
	m.requests = append(m.requests, cloneRequest(req))

	reply, err := m.Response, m.Err
	if len(m.Errs) > 0 {
		err, m.Errs = m.Errs[0], m.Errs[1:]
	}
	if err == nil && len(m.Replies) > 0 {
		reply, m.Replies = m.Replies[0], m.Replies[1:]
	}
	respond := m.Respond
	m.mu.Unlock()

	if err == nil && respond != nil {
		reply, err = respond(req)
	}
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		return CompletionResponse{}, err
	}
	return CompletionResponse{
		Content:      reply,
		Model:        "mock",
		InputTokens:  10,
		OutputTokens: len(reply),
	}, nil
}

// Requests returns every request received, oldest first.
func (m *MockProvider) Requests() []CompletionRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]CompletionRequest{}, m.requests...)
}

// LastRequest returns the most recent request, or nil before the first call.
func (m *MockProvider) LastRequest() *CompletionRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.requests) == 0 {
		return nil
	}
	req := m.requests[len(m.requests)-1]
	return &req
}

func (m *MockProvider) Models() []ModelInfo {
	return []ModelInfo{
		{ID: "mock", Name: "Mock Model", MaxTokens: 4096, Description: "Test mock"},
	}
}

func (m *MockProvider) HealthCheck(_ context.Context) error {
	return m.Err
}

func cloneRequest(req CompletionRequest) CompletionRequest {
	req.Messages = append([]Message{}, req.Messages...)
	if req.Temperature != nil {
		req.Temperature = Float(*req.Temperature)
	}
	return req
}
