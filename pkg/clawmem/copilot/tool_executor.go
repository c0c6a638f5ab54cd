// Package copilot – tool_executor.go is the agent-facing side of the memory
// service: a registry of function tools in the OpenAI tool-calling shape and
// a dispatcher that turns tool calls into handler invocations.
package copilot

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"runtime/debug"
	"slices"
	"strings"
	"sync"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// DefaultToolTimeout bounds one tool call.
const DefaultToolTimeout = 2 * time.Minute

// maxToolErrorLen caps error text handed back to the agent.
const maxToolErrorLen = 2000

var invalidToolChars = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)

// ToolHandlerFunc runs a tool with its decoded arguments.
type ToolHandlerFunc func(ctx context.Context, args map[string]any) (any, error)

// ToolResult is the outcome of one tool call.
type ToolResult struct {
	ToolCallID string
	Name       string
	Content    string
	Error      error
}

// Message converts the result into the tool message fed back to the model.
func (r ToolResult) Message() openai.ChatCompletionMessage {
	return openai.ChatCompletionMessage{
		Role:       openai.ChatMessageRoleTool,
		Name:       r.Name,
		Content:    r.Content,
		ToolCallID: r.ToolCallID,
	}
}

type toolEntry struct {
	tool    openai.Tool
	handler ToolHandlerFunc
}

// ToolExecutor holds the registered tools. It is safe for concurrent use.
type ToolExecutor struct {
	mu      sync.RWMutex
	entries map[string]toolEntry
	timeout time.Duration
	logger  *slog.Logger
}

// NewToolExecutor creates an executor with no tools.
func NewToolExecutor(logger *slog.Logger) *ToolExecutor {
	if logger == nil {
		logger = slog.Default()
	}
	return &ToolExecutor{
		entries: make(map[string]toolEntry),
		timeout: DefaultToolTimeout,
		logger:  logger.With("component", "tools"),
	}
}

// SetTimeout changes the per-call timeout. Non-positive values are ignored.
func (e *ToolExecutor) SetTimeout(d time.Duration) {
	if d <= 0 {
		return
	}
	e.mu.Lock()
	e.timeout = d
	e.mu.Unlock()
}

// Register adds a tool, replacing any tool with the same name.
func (e *ToolExecutor) Register(tool openai.Tool, handler ToolHandlerFunc) {
	name := tool.Function.Name
	e.mu.Lock()
	e.entries[name] = toolEntry{tool: tool, handler: handler}
	e.mu.Unlock()
	e.logger.Debug("tool registered", "name", name)
}

// Tools returns the registered tools ordered by name, ready to be sent
// with a chat completion request.
func (e *ToolExecutor) Tools() []openai.Tool {
	e.mu.RLock()
	defer e.mu.RUnlock()

	names := make([]string, 0, len(e.entries))
	for name := range e.entries {
		names = append(names, name)
	}
	slices.Sort(names)

	tools := make([]openai.Tool, len(names))
	for i, name := range names {
		tools[i] = e.entries[name].tool
	}
	return tools
}

// HasTool reports whether name is registered.
func (e *ToolExecutor) HasTool(name string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := e.entries[name]
	return ok
}

// Execute runs the tool calls of one assistant turn sequentially. The
// results line up with calls; failures become JSON error payloads.
func (e *ToolExecutor) Execute(ctx context.Context, calls []openai.ToolCall) []ToolResult {
	results := make([]ToolResult, 0, len(calls))
	for _, call := range calls {
		results = append(results, e.dispatch(ctx, call))
	}
	return results
}

// Call runs one tool with decoded arguments and returns its text output.
func (e *ToolExecutor) Call(ctx context.Context, name string, args map[string]any) (string, error) {
	e.mu.RLock()
	entry, ok := e.entries[name]
	timeout := e.timeout
	e.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("unknown tool: %s", name)
	}
	if args == nil {
		args = map[string]any{}
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	out, err := safeInvoke(ctx, entry.handler, args)
	e.logger.Debug("tool executed",
		"name", name,
		"duration_ms", time.Since(start).Milliseconds(),
		"error", err != nil)
	if err != nil {
		return "", err
	}
	return renderOutput(out), nil
}

func (e *ToolExecutor) dispatch(ctx context.Context, call openai.ToolCall) ToolResult {
	res := ToolResult{ToolCallID: call.ID, Name: call.Function.Name}

	args, err := decodeArguments(call.Function.Arguments)
	if err == nil {
		res.Content, err = e.Call(ctx, res.Name, args)
	}
	if err != nil {
		res.Error = err
		res.Content = errorPayload(res.Name, err)
		e.logger.Warn("tool call failed", "name", res.Name, "id", call.ID, "error", err)
	}
	return res
}

func safeInvoke(ctx context.Context, h ToolHandlerFunc, args map[string]any) (out any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tool panic: %v\n%s", r, debug.Stack())
		}
	}()
	return h(ctx, args)
}

// MakeToolDefinition builds a function tool. A nil schema declares a tool
// without parameters. The name is normalized to [a-zA-Z0-9_-].
func MakeToolDefinition(name, description string, schema map[string]any) openai.Tool {
	if schema == nil {
		schema = map[string]any{
			"type":                 "object",
			"properties":           map[string]any{},
			"additionalProperties": false,
		}
	}
	params, _ := json.Marshal(schema)

	return openai.Tool{
		Type: openai.ToolTypeFunction,
		Function: &openai.FunctionDefinition{
			Name:        sanitizeToolName(name),
			Description: description,
			Parameters:  json.RawMessage(params),
		},
	}
}

func sanitizeToolName(name string) string {
	name = invalidToolChars.ReplaceAllString(name, "_")
	for strings.Contains(name, "__") {
		name = strings.ReplaceAll(name, "__", "_")
	}
	return strings.Trim(name, "_")
}

func decodeArguments(raw string) (map[string]any, error) {
	args := map[string]any{}
	if strings.TrimSpace(raw) == "" {
		return args, nil
	}
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, fmt.Errorf("invalid JSON arguments: %w", err)
	}
	return args, nil
}

// renderOutput turns a handler result into text for the model.
func renderOutput(out any) string {
	switch v := out.(type) {
	case nil:
		return "OK"
	case string:
		return v
	case []byte:
		return string(v)
	}
	b, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", out)
	}
	return string(b)
}

func errorPayload(tool string, err error) string {
	msg := err.Error()
	if len(msg) > maxToolErrorLen {
		msg = msg[:maxToolErrorLen] + "... (truncated)"
	}
	b, _ := json.Marshal(map[string]string{
		"status": "error",
		"tool":   tool,
		"error":  msg,
	})
	return string(b)
}
