package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
)

// toolSpec binds an MCP tool to a dispatcher action.
type toolSpec struct {
	tool     mcp.Tool
	action   string
	required []string
	optional []string
}

var readOnly = mcp.ToolAnnotation{
	ReadOnlyHint:    mcp.ToBoolPtr(true),
	DestructiveHint: mcp.ToBoolPtr(false),
	IdempotentHint:  mcp.ToBoolPtr(true),
	OpenWorldHint:   mcp.ToBoolPtr(false),
}

func toolSpecs() []toolSpec {
	return []toolSpec{
		{
			tool: mcp.NewTool("memory_search",
				mcp.WithDescription("Search long-term memory (MEMORY.md, memory/*.md and indexed sessions) with hybrid keyword and semantic matching. Returns snippets with path and line range."),
				mcp.WithToolAnnotation(readOnly),
				mcp.WithString("query", mcp.Required(), mcp.Description("What to look for")),
				mcp.WithNumber("limit", mcp.Description("Maximum results (default 6, max 50)")),
				mcp.WithNumber("min_score", mcp.Description("Drop results scoring below this (0-1)")),
			),
			action:   "search",
			required: []string{"query"},
			optional: []string{"limit", "min_score"},
		},
		{
			tool: mcp.NewTool("memory_get",
				mcp.WithDescription("Read a memory file, optionally a line window. Use the path and start line from a search result."),
				mcp.WithToolAnnotation(readOnly),
				mcp.WithString("path", mcp.Required(), mcp.Description("Workspace-relative path, e.g. MEMORY.md or memory/2026-01-10.md")),
				mcp.WithNumber("from", mcp.Description("First line to read (1-based)")),
				mcp.WithNumber("lines", mcp.Description("Number of lines to read")),
			),
			action:   "get",
			required: []string{"path"},
			optional: []string{"from", "lines"},
		},
		{
			tool: mcp.NewTool("memory_save",
				mcp.WithDescription("Save a fact to MEMORY.md or append a note to today's daily log."),
				mcp.WithString("content", mcp.Required(), mcp.Description("Text to remember")),
				mcp.WithString("category",
					mcp.Description("Fact category"),
					mcp.Enum("fact", "preference", "event", "summary"),
				),
				mcp.WithString("target",
					mcp.Description("memory (default) or daily"),
					mcp.Enum("memory", "daily"),
				),
			),
			action:   "save",
			required: []string{"content"},
			optional: []string{"category", "target"},
		},
		{
			tool: mcp.NewTool("memory_list",
				mcp.WithDescription("List recent facts and the available daily logs."),
				mcp.WithToolAnnotation(readOnly),
				mcp.WithNumber("limit", mcp.Description("Maximum facts (default 20)")),
			),
			action:   "list",
			optional: []string{"limit"},
		},
		{
			tool: mcp.NewTool("memory_index",
				mcp.WithDescription("Re-index one memory file, or the whole workspace when no path is given. Unchanged files are skipped."),
				mcp.WithString("path", mcp.Description("Workspace-relative file to index")),
			),
			action:   "index",
			optional: []string{"path"},
		},
		{
			tool: mcp.NewTool("memory_status",
				mcp.WithDescription("Report the embedding provider, index counts and last sync."),
				mcp.WithToolAnnotation(readOnly),
			),
			action: "status",
		},
		{
			tool: mcp.NewTool("session_warm",
				mcp.WithDescription("Index a stored conversation transcript so it becomes searchable."),
				mcp.WithString("session_id", mcp.Required(), mcp.Description("Session ID")),
			),
			action:   "index",
			required: []string{"session_id"},
		},
	}
}
