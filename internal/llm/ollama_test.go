package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestParseTextToolCalls(t *testing.T) {
	tests := []struct {
		name      string
		content   string
		wantCount int
		wantName  string // First tool name if wantCount > 0
	}{
		{
			name:      "empty content",
			content:   "",
			wantCount: 0,
		},
		{
			name:      "plain text no JSON",
			content:   "Hypoglycemia typically presents with shakiness and sweating.",
			wantCount: 0,
		},
		{
			name:      "single tool call object",
			content:   `{"name": "retrieve_kb", "arguments": {"query": "hypoglycemia symptoms"}}`,
			wantCount: 1,
			wantName:  "retrieve_kb",
		},
		{
			name:      "array of tool calls",
			content:   `[{"name": "retrieve_kb", "arguments": {"query": "sepsis"}}, {"name": "fetch_patient_data_logs", "arguments": {"patient_user_id": "p1"}}]`,
			wantCount: 2,
			wantName:  "retrieve_kb",
		},
		{
			name:      "tagged with preamble",
			content:   `Let me look that up. <tool_call>{"name": "retrieve_kb", "arguments": {"query": "heparin dosing"}}</tool_call>`,
			wantCount: 1,
			wantName:  "retrieve_kb",
		},
		{
			name:      "tagged without closing tag",
			content:   `<tool_call>{"name": "retrieve_kb", "arguments": {"query": "DKA"}}`,
			wantCount: 1,
			wantName:  "retrieve_kb",
		},
		{
			name:      "malformed JSON",
			content:   `{"name": "retrieve_kb", "arguments": {`,
			wantCount: 0,
		},
		{
			name:      "object without name",
			content:   `{"query": "sepsis"}`,
			wantCount: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseTextToolCalls(tt.content)
			if len(got) != tt.wantCount {
				t.Fatalf("got %d tool calls, want %d", len(got), tt.wantCount)
			}
			if tt.wantCount > 0 && got[0].Function.Name != tt.wantName {
				t.Errorf("first tool = %q, want %q", got[0].Function.Name, tt.wantName)
			}
		})
	}
}

func TestOllamaClient_Chat(t *testing.T) {
	var gotReq ollamaRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"model": "qwen3:4b",
			"created_at": "2026-01-02T03:04:05.123Z",
			"message": {"role": "assistant", "content": "", "tool_calls": [
				{"function": {"name": "retrieve_kb", "arguments": {"query": "hypoglycemia symptoms"}}}
			]},
			"done": true,
			"prompt_eval_count": 120,
			"eval_count": 14
		}`))
	}))
	defer srv.Close()

	c := NewOllamaClient(srv.URL, nil)
	tools := []map[string]any{{"type": "function", "function": map[string]any{"name": "retrieve_kb"}}}
	resp, err := c.Chat(context.Background(), "qwen3:4b", []Message{{Role: RoleUser, Content: "hi"}}, tools)
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}

	if gotReq.Stream {
		t.Error("requests must not stream")
	}
	if len(gotReq.Tools) != 1 {
		t.Errorf("sent %d tools, want 1", len(gotReq.Tools))
	}
	if len(resp.Message.ToolCalls) != 1 || resp.Message.ToolCalls[0].Function.Name != "retrieve_kb" {
		t.Fatalf("tool calls = %+v", resp.Message.ToolCalls)
	}
	if resp.InputTokens != 120 || resp.OutputTokens != 14 {
		t.Errorf("tokens = %d/%d", resp.InputTokens, resp.OutputTokens)
	}
	if resp.CreatedAt.IsZero() {
		t.Error("CreatedAt should be parsed")
	}
}

func TestOllamaClient_TextToolCallsOnlyWithTools(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"model":"m","message":{"role":"assistant","content":"{\"name\":\"retrieve_kb\",\"arguments\":{}}"},"done":true}`))
	}))
	defer srv.Close()

	c := NewOllamaClient(srv.URL, nil)
	resp, err := c.Chat(context.Background(), "m", nil, nil)
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if len(resp.Message.ToolCalls) != 0 {
		t.Error("text must not be parsed as tool calls when no tools were offered")
	}
}

func TestOllamaClient_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"model \"nope\" not found"}`, http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := NewOllamaClient(srv.URL, nil).Chat(context.Background(), "nope", nil, nil)
	if err == nil || !strings.Contains(err.Error(), "404") {
		t.Fatalf("expected 404 error, got %v", err)
	}
}
