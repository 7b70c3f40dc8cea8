package ai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func anthropicServer(t *testing.T, status int, body string, inspect func(map[string]any)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if r.Header.Get("X-Api-Key") != "test-key" {
			t.Errorf("unexpected api key header: %q", r.Header.Get("X-Api-Key"))
		}
		var req map[string]any
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if inspect != nil {
			inspect(req)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
}

const anthropicOK = `{
	"id": "msg_01",
	"type": "message",
	"role": "assistant",
	"model": "claude-sonnet-4-6",
	"content": [{"type": "text", "text": "Which term would you expand first?"}],
	"stop_reason": "end_turn",
	"usage": {"input_tokens": 30, "output_tokens": 9}
}`

func TestNewAnthropicProvider_RequiresKey(t *testing.T) {
	if _, err := NewAnthropicProvider(""); err == nil {
		t.Fatal("NewAnthropicProvider() should reject an empty key")
	}
}

func TestAnthropicProvider_Complete(t *testing.T) {
	server := anthropicServer(t, http.StatusOK, anthropicOK, func(req map[string]any) {
		if req["model"] != "claude-sonnet-4-6" {
			t.Errorf("model = %v", req["model"])
		}
		system, _ := req["system"].([]any)
		if len(system) != 1 {
			t.Fatalf("system = %v, want one text block", req["system"])
		}
		if block, _ := system[0].(map[string]any); block["text"] != "You are a tutor." {
			t.Errorf("system text = %v", block["text"])
		}
		msgs, _ := req["messages"].([]any)
		if len(msgs) != 3 {
			t.Fatalf("messages = %d, want 3 (system stripped)", len(msgs))
		}
		roles := []string{"user", "assistant", "user"}
		for i, m := range msgs {
			if got := m.(map[string]any)["role"]; got != roles[i] {
				t.Errorf("messages[%d].role = %v, want %s", i, got, roles[i])
			}
		}
		if req["temperature"] != 0.2 {
			t.Errorf("temperature = %v, want 0.2", req["temperature"])
		}
	})
	defer server.Close()

	p, err := NewAnthropicProvider("test-key", WithAnthropicBaseURL(server.URL), WithAnthropicMaxRetries(0))
	if err != nil {
		t.Fatalf("NewAnthropicProvider() error = %v", err)
	}

	resp, err := p.Complete(context.Background(), CompletionRequest{
		Messages: []Message{
			{Role: RoleSystem, Content: "You are a tutor."},
			{Role: RoleUser, Content: "Expand (x+1)(x+2)"},
			{Role: RoleAssistant, Content: "What do you get from x times x?"},
			{Role: RoleUser, Content: "x squared"},
		},
		Temperature: Float(DefaultTemperature),
	})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if resp.Content != "Which term would you expand first?" {
		t.Errorf("content = %q", resp.Content)
	}
	if resp.InputTokens != 30 || resp.OutputTokens != 9 {
		t.Errorf("tokens = %d/%d, want 30/9", resp.InputTokens, resp.OutputTokens)
	}
	if resp.Provider != "anthropic" {
		t.Errorf("provider = %q", resp.Provider)
	}
}

func TestAnthropicProvider_Complete_APIError(t *testing.T) {
	server := anthropicServer(t, http.StatusBadRequest,
		`{"type":"error","error":{"type":"invalid_request_error","message":"bad"}}`, nil)
	defer server.Close()

	p, _ := NewAnthropicProvider("test-key", WithAnthropicBaseURL(server.URL), WithAnthropicMaxRetries(0))
	_, err := p.Complete(context.Background(), CompletionRequest{
		Messages: []Message{{Role: RoleUser, Content: "hello"}},
	})
	if err == nil {
		t.Fatal("Complete() should return error on API error")
	}
}

func TestAnthropicProvider_Complete_NoText(t *testing.T) {
	server := anthropicServer(t, http.StatusOK, `{
		"id": "msg_02", "type": "message", "role": "assistant", "model": "claude-sonnet-4-6",
		"content": [], "stop_reason": "end_turn", "usage": {"input_tokens": 1, "output_tokens": 0}
	}`, nil)
	defer server.Close()

	p, _ := NewAnthropicProvider("test-key", WithAnthropicBaseURL(server.URL), WithAnthropicMaxRetries(0))
	if _, err := p.Complete(context.Background(), CompletionRequest{
		Messages: []Message{{Role: RoleUser, Content: "hello"}},
	}); err == nil {
		t.Fatal("Complete() should fail when the reply has no text")
	}
}

func TestAnthropicProvider_Models(t *testing.T) {
	p, _ := NewAnthropicProvider("test-key")
	for _, m := range p.Models() {
		if m.ID == "" || m.Name == "" {
			t.Errorf("incomplete model info: %+v", m)
		}
	}
}
