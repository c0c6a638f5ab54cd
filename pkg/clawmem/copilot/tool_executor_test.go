package copilot

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

func TestToolExecutor_Execute(t *testing.T) {
	t.Parallel()

	exec := NewToolExecutor(discardLogger())
	exec.Register(MakeToolDefinition("echo", "echoes text", nil), func(_ context.Context, args map[string]any) (any, error) {
		return args["text"], nil
	})
	exec.Register(MakeToolDefinition("fail", "always fails", nil), func(context.Context, map[string]any) (any, error) {
		return nil, errors.New("boom")
	})
	exec.Register(MakeToolDefinition("panic", "panics", nil), func(context.Context, map[string]any) (any, error) {
		panic("unexpected")
	})
	exec.Register(MakeToolDefinition("stats", "returns a struct", nil), func(context.Context, map[string]any) (any, error) {
		return map[string]int{"files": 2}, nil
	})

	results := exec.Execute(context.Background(), []openai.ToolCall{
		{ID: "1", Function: openai.FunctionCall{Name: "echo", Arguments: `{"text":"hi"}`}},
		{ID: "2", Function: openai.FunctionCall{Name: "fail", Arguments: `{}`}},
		{ID: "3", Function: openai.FunctionCall{Name: "panic"}},
		{ID: "4", Function: openai.FunctionCall{Name: "missing"}},
		{ID: "5", Function: openai.FunctionCall{Name: "echo", Arguments: `{not json`}},
		{ID: "6", Function: openai.FunctionCall{Name: "stats"}},
	})

	if len(results) != 6 {
		t.Fatalf("got %d results", len(results))
	}
	if results[0].Content != "hi" || results[0].Error != nil || results[0].ToolCallID != "1" {
		t.Errorf("echo = %+v", results[0])
	}
	for i, want := range map[int]string{1: "boom", 2: "tool panic", 3: "unknown tool", 4: "invalid JSON"} {
		r := results[i]
		if r.Error == nil || !strings.Contains(r.Content, want) {
			t.Errorf("result %d = %+v, want an error mentioning %q", i, r, want)
		}
		var payload map[string]string
		if err := json.Unmarshal([]byte(r.Content), &payload); err != nil || payload["status"] != "error" {
			t.Errorf("result %d content is not a JSON error: %q", i, r.Content)
		}
	}
	if !strings.Contains(results[5].Content, `"files": 2`) {
		t.Errorf("struct output = %q", results[5].Content)
	}
}

func TestToolExecutor_Timeout(t *testing.T) {
	t.Parallel()

	exec := NewToolExecutor(discardLogger())
	exec.SetTimeout(20 * time.Millisecond)
	exec.Register(MakeToolDefinition("slow", "waits", nil), func(ctx context.Context, _ map[string]any) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})

	_, err := exec.Call(context.Background(), "slow", nil)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("error = %v, want deadline exceeded", err)
	}
}

func TestToolExecutor_Tools(t *testing.T) {
	t.Parallel()

	exec := NewToolExecutor(discardLogger())
	exec.Register(MakeToolDefinition("zeta", "", nil), nil)
	exec.Register(MakeToolDefinition("memory.search", "", nil), nil)

	defs := exec.Tools()
	if len(defs) != 2 || defs[0].Function.Name != "memory_search" || defs[1].Function.Name != "zeta" {
		t.Errorf("Tools() = %+v", defs)
	}
	if !exec.HasTool("memory_search") || exec.HasTool("memory.search") {
		t.Error("HasTool does not use sanitized names")
	}

	raw, err := json.Marshal(defs[1].Function.Parameters)
	if err != nil {
		t.Fatal(err)
	}
	var schema map[string]any
	if err := json.Unmarshal(raw, &schema); err != nil || schema["type"] != "object" {
		t.Errorf("default schema = %s", raw)
	}
}

func TestSanitizeToolName(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"memory":          "memory",
		"memory.search":   "memory_search",
		"__a..b__":        "a_b",
		"session-warm v2": "session-warm_v2",
	}
	for in, want := range tests {
		if got := sanitizeToolName(in); got != want {
			t.Errorf("sanitizeToolName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestToolResult_Message(t *testing.T) {
	t.Parallel()

	msg := ToolResult{ToolCallID: "call_1", Name: "memory", Content: "OK"}.Message()
	if msg.Role != openai.ChatMessageRoleTool || msg.ToolCallID != "call_1" || msg.Content != "OK" {
		t.Errorf("Message() = %+v", msg)
	}
}
