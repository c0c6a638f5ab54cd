package copilot

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jholhewres/clawmem/pkg/clawmem/memory"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestMemory opens a lexical-only memory over a fresh workspace.
func newTestMemory(t *testing.T) (*memory.Manager, *ToolExecutor) {
	t.Helper()
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.Workspace = filepath.Join(dir, "workspace")
	cfg.Memory.Path = filepath.Join(dir, "data", "memory.db")
	cfg.Memory.Embedding.Provider = "none"

	m, err := OpenMemory(context.Background(), cfg, discardLogger())
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { m.Close() })
	return m, NewMemoryExecutor(m, discardLogger())
}

func callMemory(t *testing.T, exec *ToolExecutor, args map[string]any) string {
	t.Helper()
	out, err := exec.Call(context.Background(), MemoryToolName, args)
	if err != nil {
		t.Fatalf("memory %v: %v", args, err)
	}
	return out
}

func TestMemoryTool_SaveAndSearch(t *testing.T) {
	t.Parallel()
	_, exec := newTestMemory(t)

	out := callMemory(t, exec, map[string]any{
		"action":   "save",
		"content":  "prefers green tea in the afternoon",
		"category": "preference",
	})
	if out != "Saved to memory [preference]: prefers green tea in the afternoon" {
		t.Errorf("save output = %q", out)
	}

	out = callMemory(t, exec, map[string]any{"action": "search", "query": "green tea"})
	if !strings.HasPrefix(out, "Found 1 memories:") {
		t.Fatalf("search output = %q", out)
	}
	if !strings.Contains(out, "- [MEMORY.md:1-") || !strings.Contains(out, "(score: 0.30)") {
		t.Errorf("search line format = %q", out)
	}
	if !strings.Contains(out, "green tea") {
		t.Errorf("search output misses the fact text: %q", out)
	}

	out = callMemory(t, exec, map[string]any{"action": "search", "query": "kubernetes"})
	if out != "No memories found matching the query." {
		t.Errorf("miss output = %q", out)
	}
}

func TestMemoryTool_Errors(t *testing.T) {
	t.Parallel()
	_, exec := newTestMemory(t)

	tests := []struct {
		name string
		args map[string]any
		want string
	}{
		{"missing action", map[string]any{}, "action is required"},
		{"unknown action", map[string]any{"action": "forget"}, "unknown action: forget"},
		{"search without query", map[string]any{"action": "search"}, "query is required"},
		{"save without content", map[string]any{"action": "save", "content": "  "}, "content is required"},
		{"bad category", map[string]any{"action": "save", "content": "x", "category": "gossip"}, "invalid category"},
		{"get without path", map[string]any{"action": "get"}, "path is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := exec.Call(context.Background(), MemoryToolName, tt.args)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %v, want it to contain %q", err, tt.want)
			}
		})
	}
}

func TestMemoryTool_Get(t *testing.T) {
	t.Parallel()
	m, exec := newTestMemory(t)

	path := filepath.Join(m.Root(), "memory", "projects.md")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("one\ntwo\nthree\nfour\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	out := callMemory(t, exec, map[string]any{"action": "get", "path": "memory/projects.md", "from": float64(2), "lines": float64(2)})
	if out != "memory/projects.md:\n\ntwo\nthree" {
		t.Errorf("get output = %q", out)
	}

	_, err := exec.Call(context.Background(), MemoryToolName, map[string]any{"action": "get", "path": "../secrets.md"})
	if !errors.Is(err, memory.ErrPathOutsideScope) {
		t.Errorf("get outside workspace error = %v", err)
	}
}

func TestMemoryTool_ListAndDaily(t *testing.T) {
	t.Parallel()
	_, exec := newTestMemory(t)

	if out := callMemory(t, exec, map[string]any{"action": "list"}); out != "No memories stored yet." {
		t.Errorf("empty list = %q", out)
	}

	callMemory(t, exec, map[string]any{"action": "save", "content": "likes jazz"})
	callMemory(t, exec, map[string]any{"action": "save", "content": "lives in Porto", "category": "fact"})
	daily := callMemory(t, exec, map[string]any{"action": "save", "content": "shipped the release", "target": "daily"})
	today := time.Now().Format("2006-01-02")
	if daily != "Appended to memory/"+today+".md: shipped the release" {
		t.Errorf("daily save output = %q", daily)
	}

	out := callMemory(t, exec, map[string]any{"action": "list"})
	if !strings.Contains(out, "Recent memories (2):") {
		t.Errorf("list output = %q", out)
	}
	if !strings.Contains(out, "[fact] lives in Porto") {
		t.Errorf("list output misses a fact: %q", out)
	}
	if !strings.Contains(out, "Daily logs: "+today) {
		t.Errorf("list output misses the daily log: %q", out)
	}

	out = callMemory(t, exec, map[string]any{"action": "search", "query": "release"})
	if !strings.Contains(out, "[memory/"+today+".md:") {
		t.Errorf("daily log not searchable: %q", out)
	}
}

func TestMemoryTool_Index(t *testing.T) {
	t.Parallel()
	m, exec := newTestMemory(t)
	ctx := context.Background()

	for rel, content := range map[string]string{
		"MEMORY.md":   "- the wifi password rotates monthly\n",
		"memory/a.md": "grocery list: eggs, rice\n",
	} {
		path := filepath.Join(m.Root(), filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	out := callMemory(t, exec, map[string]any{"action": "index"})
	if !strings.Contains(out, "2 files (2 indexed, 0 unchanged, 0 failed, 0 retired)") {
		t.Errorf("index output = %q", out)
	}

	out = callMemory(t, exec, map[string]any{"action": "index", "path": "memory/a.md"})
	if out != "memory/a.md is up to date." {
		t.Errorf("single-file index output = %q", out)
	}

	sess := memory.NewSession("telegram", "7")
	sess.Entries = []memory.ConversationEntry{
		{UserMessage: "remind me about the dentist", AssistantResponse: "noted", Timestamp: time.Now()},
	}
	if err := m.Store().SaveSession(ctx, sess); err != nil {
		t.Fatal(err)
	}
	out = callMemory(t, exec, map[string]any{"action": "index", "session_id": sess.ID})
	if !strings.HasPrefix(out, "Indexed sessions/"+sess.ID+".md: 1 chunks") {
		t.Errorf("session index output = %q", out)
	}

	out = callMemory(t, exec, map[string]any{"action": "search", "query": "dentist"})
	if !strings.Contains(out, "[sessions/"+sess.ID+".md:") {
		t.Errorf("warmed session not searchable: %q", out)
	}
}

func TestMemoryTool_Status(t *testing.T) {
	t.Parallel()
	_, exec := newTestMemory(t)
	callMemory(t, exec, map[string]any{"action": "save", "content": "uses vim"})

	out := callMemory(t, exec, map[string]any{"action": "status"})
	var st memory.Status
	if err := json.Unmarshal([]byte(out), &st); err != nil {
		t.Fatalf("status is not JSON: %v\n%s", err, out)
	}
	if st.Provider != "none" || st.Files != 1 || st.Chunks < 1 {
		t.Errorf("status = %+v", st)
	}
}

func TestFormatSearchResults(t *testing.T) {
	t.Parallel()

	got := FormatSearchResults([]memory.SearchResult{
		{Path: "memory/2024-01-15.md", StartLine: 3, EndLine: 9, Score: 0.8349, Text: "  paid the invoice  "},
	})
	want := "Found 1 memories:\n\n- [memory/2024-01-15.md:3-9] (score: 0.83) paid the invoice\n"
	if got != want {
		t.Errorf("FormatSearchResults() = %q, want %q", got, want)
	}
}

func TestArgHelpers(t *testing.T) {
	t.Parallel()

	args := map[string]any{"f": float64(3), "i": 4, "s": " 5 ", "bad": "x", "score": "0.25"}
	for key, want := range map[string]int{"f": 3, "i": 4, "s": 5, "bad": 0, "missing": 0} {
		if got := intArg(args, key); got != want {
			t.Errorf("intArg(%q) = %d, want %d", key, got, want)
		}
	}
	if f, ok := floatArg(args, "score"); !ok || f != 0.25 {
		t.Errorf("floatArg(score) = %v, %v", f, ok)
	}
	if _, ok := floatArg(args, "missing"); ok {
		t.Error("floatArg(missing) reported ok")
	}
}
