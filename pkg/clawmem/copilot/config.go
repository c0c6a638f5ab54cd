// Package copilot – config.go defines the configuration structures for the
// clawmem memory service and the agent-facing memory tools.
package copilot

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/jholhewres/clawmem/pkg/clawmem/memory"
)

// ProviderKeyNames maps embedding provider IDs to their API key variable names.
var ProviderKeyNames = map[string]string{
	"openai":  "OPENAI_API_KEY",
	"gemini":  "GOOGLE_API_KEY",
	"google":  "GOOGLE_API_KEY",
	"voyage":  "VOYAGE_API_KEY",
	"mistral": "MISTRAL_API_KEY",
}

// GetProviderKeyName returns the API key variable name for a provider.
// Providers without a key (ollama, none) return "".
func GetProviderKeyName(provider string) string {
	return ProviderKeyNames[strings.ToLower(provider)]
}

// Config holds the whole service configuration.
type Config struct {
	// Workspace is the directory holding MEMORY.md and memory/.
	Workspace string `yaml:"workspace"`

	Logging   LoggingConfig   `yaml:"logging"`
	Memory    MemoryConfig    `yaml:"memory"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	MCP       MCPConfig       `yaml:"mcp"`
}

// LoggingConfig selects the slog handler.
type LoggingConfig struct {
	// Level is debug, info, warn or error.
	Level string `yaml:"level"`

	// Format is "text" or "json".
	Format string `yaml:"format"`
}

// MemoryConfig configures the store, the embedding provider and retrieval.
type MemoryConfig struct {
	// Path is the SQLite database file.
	Path string `yaml:"path"`

	Embedding memory.EmbeddingConfig `yaml:"embedding"`
	Search    SearchConfig           `yaml:"search"`
	Index     IndexConfig            `yaml:"index"`
}

// SearchConfig configures hybrid retrieval.
type SearchConfig struct {
	HybridWeightVector float64 `yaml:"hybrid_weight_vector"`
	HybridWeightBM25   float64 `yaml:"hybrid_weight_bm25"`
	MaxResults         int     `yaml:"max_results"`
	MinScore           float64 `yaml:"min_score"`

	TemporalDecay memory.TemporalDecayConfig `yaml:"temporal_decay"`
	MMR           memory.MMRConfig           `yaml:"mmr"`
}

// IndexConfig configures indexing and the watcher.
type IndexConfig struct {
	// Auto watches the workspace and re-indexes on change.
	Auto bool `yaml:"auto"`

	ChunkMaxChars   int `yaml:"chunk_max_chars"`
	WatchDebounceMs int `yaml:"watch_debounce_ms"`

	// CacheMaxEntries bounds the embedding cache; 0 disables pruning.
	CacheMaxEntries int `yaml:"cache_max_entries"`
}

// SchedulerConfig declares the maintenance jobs.
type SchedulerConfig struct {
	Enabled bool        `yaml:"enabled"`
	Jobs    []JobConfig `yaml:"jobs"`
}

// JobConfig is one cron entry. Command is one of sync, prune_cache or
// warm_sessions.
type JobConfig struct {
	ID       string `yaml:"id"`
	Schedule string `yaml:"schedule"`
	Command  string `yaml:"command"`

	// TimeoutSeconds bounds a single run (default 10 minutes).
	TimeoutSeconds int `yaml:"timeout_seconds,omitempty"`
}

// MCPConfig configures the MCP server started by "serve".
type MCPConfig struct {
	// Enabled starts the stdio MCP server alongside serve.
	Enabled bool `yaml:"enabled"`

	// Name is reported to MCP clients.
	Name string `yaml:"name"`
}

// JobCommands are the scheduler commands understood by the service.
var JobCommands = []string{"sync", "prune_cache", "warm_sessions"}

// DefaultConfig returns the configuration used when no file overrides it.
func DefaultConfig() *Config {
	return &Config{
		Workspace: "./workspace",
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Memory: MemoryConfig{
			Path:      "./data/memory.db",
			Embedding: memory.DefaultEmbeddingConfig(),
			Search: SearchConfig{
				HybridWeightVector: 0.7,
				HybridWeightBM25:   0.3,
				MaxResults:         6,
				MinScore:           0.1,
				TemporalDecay: memory.TemporalDecayConfig{
					Enabled:      false,
					HalfLifeDays: 30,
				},
				MMR: memory.MMRConfig{
					Enabled: false,
					Lambda:  memory.DefaultMMRLambda,
				},
			},
			Index: IndexConfig{
				Auto:            true,
				ChunkMaxChars:   memory.DefaultChunkMaxChars,
				WatchDebounceMs: 500,
				CacheMaxEntries: 10000,
			},
		},
		Scheduler: SchedulerConfig{
			Enabled: true,
			Jobs: []JobConfig{
				{ID: "resync", Schedule: "@every 30m", Command: "sync"},
				{ID: "prune", Schedule: "@daily", Command: "prune_cache"},
				{ID: "warm", Schedule: "@hourly", Command: "warm_sessions"},
			},
		},
		MCP: MCPConfig{
			Name: "clawmem",
		},
	}
}

// SearchOptions converts the search section to retriever options.
func (c SearchConfig) SearchOptions() memory.SearchOptions {
	return memory.SearchOptions{
		MaxResults:    c.MaxResults,
		MinScore:      c.MinScore,
		VectorWeight:  c.HybridWeightVector,
		TextWeight:    c.HybridWeightBM25,
		TemporalDecay: c.TemporalDecay,
		MMR:           c.MMR,
	}
}

// WatchDebounce returns the watcher debounce as a duration.
func (c IndexConfig) WatchDebounce() time.Duration {
	return time.Duration(c.WatchDebounceMs) * time.Millisecond
}

// SlogLevel parses the logging level, defaulting to info.
func (c LoggingConfig) SlogLevel() slog.Level {
	switch strings.ToLower(c.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Validate reports every configuration problem at once.
func (c *Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.Workspace) == "" {
		errs = append(errs, errors.New("workspace is required"))
	}
	if strings.TrimSpace(c.Memory.Path) == "" {
		errs = append(errs, errors.New("memory.path is required"))
	}
	switch strings.ToLower(c.Logging.Format) {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("logging.format %q: want text or json", c.Logging.Format))
	}

	provider := strings.ToLower(c.Memory.Embedding.Provider)
	if provider != "" && !knownProvider(provider) {
		errs = append(errs, fmt.Errorf("memory.embedding.provider %q: want one of %s",
			c.Memory.Embedding.Provider, strings.Join(memory.Providers(), ", ")))
	}

	s := c.Memory.Search
	if s.HybridWeightVector < 0 || s.HybridWeightBM25 < 0 {
		errs = append(errs, errors.New("memory.search weights must not be negative"))
	}
	if s.MaxResults < 0 {
		errs = append(errs, errors.New("memory.search.max_results must not be negative"))
	}
	if s.MMR.Lambda < 0 || s.MMR.Lambda > 1 {
		errs = append(errs, fmt.Errorf("memory.search.mmr.lambda %v: want a value in [0, 1]", s.MMR.Lambda))
	}
	if s.TemporalDecay.Enabled && s.TemporalDecay.HalfLifeDays <= 0 {
		errs = append(errs, errors.New("memory.search.temporal_decay.half_life_days must be positive"))
	}
	if c.Memory.Index.ChunkMaxChars < 0 {
		errs = append(errs, errors.New("memory.index.chunk_max_chars must not be negative"))
	}

	seen := make(map[string]bool)
	for i, job := range c.Scheduler.Jobs {
		if job.ID == "" {
			errs = append(errs, fmt.Errorf("scheduler.jobs[%d]: id is required", i))
		} else if seen[job.ID] {
			errs = append(errs, fmt.Errorf("scheduler.jobs[%d]: duplicate id %q", i, job.ID))
		}
		seen[job.ID] = true
		if job.Schedule == "" {
			errs = append(errs, fmt.Errorf("scheduler.jobs[%d]: schedule is required", i))
		}
		if !isJobCommand(job.Command) {
			errs = append(errs, fmt.Errorf("scheduler.jobs[%d]: unknown command %q", i, job.Command))
		}
	}

	return errors.Join(errs...)
}

func knownProvider(name string) bool {
	return slices.Contains(memory.Providers(), name)
}

func isJobCommand(cmd string) bool {
	return slices.Contains(JobCommands, cmd)
}
