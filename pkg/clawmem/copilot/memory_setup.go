// Package copilot – memory_setup.go wires the memory manager from config.
package copilot

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/jholhewres/clawmem/pkg/clawmem/memory"
)

// OpenMemory opens the chunk store, builds the embedding provider and
// returns a Manager configured from cfg. extra options are applied last.
// The caller owns Close.
func OpenMemory(ctx context.Context, cfg *Config, logger *slog.Logger, extra ...memory.Option) (*memory.Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(cfg.Workspace, 0o755); err != nil {
		return nil, fmt.Errorf("creating workspace: %w", err)
	}

	provider, err := memory.NewEmbeddingProvider(cfg.Memory.Embedding, logger)
	if err != nil {
		return nil, fmt.Errorf("embedding provider: %w", err)
	}

	store, err := memory.OpenStore(ctx, cfg.Memory.Path, logger)
	if err != nil {
		return nil, err
	}

	opts := []memory.Option{
		memory.WithLogger(logger),
		memory.WithChunkMaxChars(cfg.Memory.Index.ChunkMaxChars),
		memory.WithEmbeddingCache(cfg.Memory.Embedding.Cache),
		memory.WithSearchDefaults(cfg.Memory.Search.SearchOptions()),
		memory.WithWatchDebounce(cfg.Memory.Index.WatchDebounce()),
	}
	m := memory.NewManager(store, provider, cfg.Workspace, append(opts, extra...)...)

	logger.Info("memory opened",
		"workspace", m.Root(),
		"db", cfg.Memory.Path,
		"provider", provider.ID(),
		"model", provider.Model(),
		"fts", store.FTSAvailable(),
		"vector", store.VectorAvailable())
	return m, nil
}

// NewMemoryExecutor returns a tool executor with the memory dispatcher
// registered.
func NewMemoryExecutor(m *memory.Manager, logger *slog.Logger) *ToolExecutor {
	exec := NewToolExecutor(logger)
	RegisterMemoryTools(exec, MemoryDispatcherConfig{Manager: m, Logger: logger})
	return exec
}
