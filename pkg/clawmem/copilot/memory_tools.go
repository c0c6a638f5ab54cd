// Package copilot – memory_tools.go implements the memory dispatcher tool.
// A single tool with an action parameter covers search, read, save, list,
// index and status.
package copilot

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/jholhewres/clawmem/pkg/clawmem/memory"
)

// MemoryToolName is the dispatcher tool name.
const MemoryToolName = "memory"

// MemoryActions lists the dispatcher actions.
var MemoryActions = []string{"search", "get", "save", "list", "index", "status"}

// MemoryCategories are the accepted categories for saved facts.
var MemoryCategories = []string{"fact", "preference", "event", "summary"}

const (
	maxSearchLimit = 50
	maxListLimit   = 100
)

// MemoryDispatcherConfig holds the dependencies of the memory tool.
type MemoryDispatcherConfig struct {
	Manager *memory.Manager
	Logger  *slog.Logger
}

// RegisterMemoryTools registers the memory dispatcher tool.
func RegisterMemoryTools(executor *ToolExecutor, cfg MemoryDispatcherConfig) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	h := &memoryHandlers{m: cfg.Manager, logger: logger}

	desc := "Manage long-term memory. Actions: " +
		"search (hybrid keyword + semantic search over MEMORY.md and memory/*.md), " +
		"get (read lines of a memory file), " +
		"save (remember a fact, or append to today's log with target='daily'), " +
		"list (recent facts and daily logs), " +
		"index (re-index the workspace, one file, or a session transcript), " +
		"status (index statistics)."

	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"action": map[string]any{
				"type":        "string",
				"enum":        MemoryActions,
				"description": "Action to perform",
			},
			"query": map[string]any{
				"type":        "string",
				"description": "Search query (for action='search')",
			},
			"limit": map[string]any{
				"type":        "integer",
				"description": "Maximum results (for action='search' or 'list')",
			},
			"min_score": map[string]any{
				"type":        "number",
				"description": "Minimum score between 0 and 1 (for action='search')",
			},
			"path": map[string]any{
				"type":        "string",
				"description": "Workspace-relative memory file (for action='get' or 'index')",
			},
			"from": map[string]any{
				"type":        "integer",
				"description": "First line, 1-based (for action='get')",
			},
			"lines": map[string]any{
				"type":        "integer",
				"description": "Number of lines (for action='get')",
			},
			"content": map[string]any{
				"type":        "string",
				"description": "Content to save (for action='save')",
			},
			"category": map[string]any{
				"type":        "string",
				"enum":        MemoryCategories,
				"description": "Category for saved facts (for action='save')",
			},
			"target": map[string]any{
				"type":        "string",
				"enum":        []string{"memory", "daily"},
				"description": "Where to save: MEMORY.md (default) or today's daily log",
			},
			"session_id": map[string]any{
				"type":        "string",
				"description": "Session to index into memory (for action='index')",
			},
		},
		"required": []string{"action"},
	}

	executor.Register(
		MakeToolDefinition(MemoryToolName, desc, schema),
		func(ctx context.Context, args map[string]any) (any, error) {
			action, _ := args["action"].(string)
			if action == "" {
				return nil, fmt.Errorf("action is required")
			}

			switch action {
			case "search":
				return h.search(ctx, args)
			case "get":
				return h.get(args)
			case "save":
				return h.save(ctx, args)
			case "list":
				return h.list(args)
			case "index":
				return h.index(ctx, args)
			case "status":
				return h.status(ctx)
			default:
				return nil, fmt.Errorf("unknown action: %s (valid: %s)", action, strings.Join(MemoryActions, ", "))
			}
		},
	)
}

type memoryHandlers struct {
	m      *memory.Manager
	logger *slog.Logger
}

func (h *memoryHandlers) search(ctx context.Context, args map[string]any) (any, error) {
	query := strings.TrimSpace(stringArg(args, "query"))
	if query == "" {
		return nil, fmt.Errorf("query is required for search action")
	}

	opts := h.m.SearchDefaults()
	if limit := intArg(args, "limit"); limit > 0 {
		opts.MaxResults = min(limit, maxSearchLimit)
	}
	if score, ok := floatArg(args, "min_score"); ok {
		opts.MinScore = score
	}

	results, err := h.m.SearchHybrid(ctx, query, opts)
	if err != nil {
		return nil, err
	}
	return FormatSearchResults(results), nil
}

// FormatSearchResults renders results as "- [path:start-end] (score: 0.83) text" lines.
func FormatSearchResults(results []memory.SearchResult) string {
	if len(results) == 0 {
		return "No memories found matching the query."
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Found %d memories:\n\n", len(results))
	for _, r := range results {
		fmt.Fprintf(&sb, "- [%s:%d-%d] (score: %.2f) %s\n", r.Path, r.StartLine, r.EndLine, r.Score, memory.Snippet(r.Text))
	}
	return sb.String()
}

func (h *memoryHandlers) get(args map[string]any) (any, error) {
	path := stringArg(args, "path")
	if path == "" {
		return nil, fmt.Errorf("path is required for get action")
	}
	text, rel, err := h.m.ReadFile(path, memory.ReadFileOptions{
		From:  intArg(args, "from"),
		Lines: intArg(args, "lines"),
	})
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(text) == "" {
		return fmt.Sprintf("%s is empty.", rel), nil
	}
	return fmt.Sprintf("%s:\n\n%s", rel, text), nil
}

func (h *memoryHandlers) save(ctx context.Context, args map[string]any) (any, error) {
	content := strings.TrimSpace(stringArg(args, "content"))
	if content == "" {
		return nil, fmt.Errorf("content is required for save action")
	}

	if stringArg(args, "target") == "daily" {
		rel, err := h.m.SaveDailyLog(ctx, content)
		if err != nil {
			return nil, err
		}
		h.logger.Info("daily log appended", "path", rel)
		return fmt.Sprintf("Appended to %s: %s", rel, content), nil
	}

	category := stringArg(args, "category")
	if category == "" {
		category = "fact"
	} else if !slices.Contains(MemoryCategories, category) {
		return nil, fmt.Errorf("invalid category: %s (valid: %s)", category, strings.Join(MemoryCategories, ", "))
	}

	rel, err := h.m.SaveFact(ctx, category, content)
	if err != nil {
		return nil, err
	}
	h.logger.Info("memory saved", "path", rel, "category", category)
	return fmt.Sprintf("Saved to memory [%s]: %s", category, content), nil
}

func (h *memoryHandlers) list(args map[string]any) (any, error) {
	limit := 20
	if l := intArg(args, "limit"); l > 0 {
		limit = min(l, maxListLimit)
	}

	facts, err := h.m.Notes().RecentFacts(limit)
	if err != nil {
		return nil, err
	}
	days, err := h.m.Notes().ListDailyLogs()
	if err != nil {
		return nil, err
	}
	if len(facts) == 0 && len(days) == 0 {
		return "No memories stored yet.", nil
	}

	var sb strings.Builder
	if len(facts) > 0 {
		fmt.Fprintf(&sb, "Recent memories (%d):\n\n", len(facts))
		for _, f := range facts {
			fmt.Fprintf(&sb, "- [%s] [%s] %s\n", f.Timestamp.Format("2006-01-02"), f.Category, f.Content)
		}
	}
	if len(days) > 0 {
		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		if len(days) > 10 {
			days = days[:10]
		}
		fmt.Fprintf(&sb, "Daily logs: %s\n", strings.Join(days, ", "))
	}
	return sb.String(), nil
}

func (h *memoryHandlers) index(ctx context.Context, args map[string]any) (any, error) {
	if id := stringArg(args, "session_id"); id != "" {
		out, err := h.m.WarmSessionByID(ctx, id)
		if err != nil {
			return nil, err
		}
		return describeOutcome(out), nil
	}

	if path := stringArg(args, "path"); path != "" {
		out, err := h.m.IndexFile(ctx, h.m.Root(), path)
		if err != nil {
			return nil, fmt.Errorf("indexing failed: %w", err)
		}
		return describeOutcome(out), nil
	}

	report, err := h.m.SyncWorkspace(ctx, h.m.Root())
	if err != nil {
		return nil, fmt.Errorf("indexing failed: %w", err)
	}
	return fmt.Sprintf("Memory index updated: %d files (%d indexed, %d unchanged, %d failed, %d retired), %d chunks in %s.",
		report.Files, report.Indexed, report.Skipped, report.Failed, report.Retired, report.Chunks,
		report.Duration.Round(time.Millisecond)), nil
}

func describeOutcome(out memory.IndexOutcome) string {
	if out.Skipped {
		return fmt.Sprintf("%s is up to date.", out.Path)
	}
	return fmt.Sprintf("Indexed %s: %d chunks (%d embedded, %d from cache).", out.Path, out.Chunks, out.Embeds, out.Cached)
}

func (h *memoryHandlers) status(ctx context.Context) (any, error) {
	st, err := h.m.Status(ctx)
	if err != nil {
		return nil, err
	}
	b, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// ---------- Argument helpers ----------

func stringArg(args map[string]any, key string) string {
	switch v := args[key].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// intArg accepts JSON numbers (float64), ints and numeric strings.
func intArg(args map[string]any, key string) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case int64:
		return int(v)
	case string:
		n, _ := strconv.Atoi(strings.TrimSpace(v))
		return n
	}
	return 0
}

func floatArg(args map[string]any, key string) (float64, bool) {
	switch v := args[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return f, err == nil
	}
	return 0, false
}
