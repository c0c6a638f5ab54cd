package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/jholhewres/clawmem/pkg/clawmem/copilot"
	"github.com/jholhewres/clawmem/pkg/clawmem/memory"
	"github.com/jholhewres/clawmem/pkg/clawmem/scheduler"
)

// runtimeEnv reúne a configuração resolvida e o logger de um comando.
type runtimeEnv struct {
	cfg        *copilot.Config
	configPath string
	logger     *slog.Logger
}

// resolveConfig carrega a configuração do --config ou da descoberta automática.
// Sem arquivo, usa os padrões. configPath fica vazio nesse caso.
func resolveConfig(cmd *cobra.Command) (*copilot.Config, string, error) {
	configPath, _ := cmd.Root().PersistentFlags().GetString("config")

	if configPath != "" {
		cfg, err := copilot.LoadConfigFromFile(configPath)
		if err != nil {
			return nil, "", fmt.Errorf("loading config: %w", err)
		}
		return cfg, configPath, nil
	}

	if found := copilot.FindConfigFile(); found != "" {
		cfg, err := copilot.LoadConfigFromFile(found)
		if err != nil {
			return nil, "", fmt.Errorf("loading config from %s: %w", found, err)
		}
		return cfg, found, nil
	}

	return copilot.DefaultConfig(), "", nil
}

// newLogger monta o handler slog conforme logging.format. Logs vão sempre
// para stderr; stdout é reservado para a saída dos comandos (e para o MCP).
// Comandos pontuais (quiet) só mostram avisos, a menos que --verbose.
func newLogger(cmd *cobra.Command, cfg *copilot.Config, quiet bool) *slog.Logger {
	verbose, _ := cmd.Root().PersistentFlags().GetBool("verbose")
	level := cfg.Logging.SlogLevel()
	switch {
	case verbose:
		level = slog.LevelDebug
	case quiet && level < slog.LevelWarn:
		level = slog.LevelWarn
	}
	return newLoggerTo(os.Stderr, cfg.Logging.Format, level)
}

func newLoggerTo(w io.Writer, format string, level slog.Level) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// prepare carrega config, logger e segredos, e valida a configuração.
func prepare(cmd *cobra.Command, quiet bool) (*runtimeEnv, error) {
	cfg, configPath, err := resolveConfig(cmd)
	if err != nil {
		return nil, err
	}
	logger := newLogger(cmd, cfg, quiet)
	if configPath != "" {
		logger.Debug("config loaded", "path", configPath)
	}

	// Audita ANTES de resolver: verifica valores crus com chaves hardcoded.
	copilot.AuditSecrets(cfg, logger)
	// Resolve keyring → env → config.
	copilot.ResolveAPIKeys(cfg, logger)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &runtimeEnv{cfg: cfg, configPath: configPath, logger: logger}, nil
}

// openMemory abre o manager de memória a partir do ambiente.
func (e *runtimeEnv) openMemory(ctx context.Context, extra ...memory.Option) (*memory.Manager, error) {
	return copilot.OpenMemory(ctx, e.cfg, e.logger, extra...)
}

// newScheduler cria o scheduler de manutenção com os jobs da configuração.
// O estado dos jobs é persistido na tabela meta do store.
func newScheduler(m *memory.Manager, cfg *copilot.Config, logger *slog.Logger) (*scheduler.Scheduler, error) {
	handler := scheduler.MaintenanceHandler(m, scheduler.MaintenanceOptions{
		CacheMaxEntries: cfg.Memory.Index.CacheMaxEntries,
	}, logger)
	sched := scheduler.New(handler, logger,
		scheduler.WithStorage(scheduler.NewMetaStorage(m.Store())))

	for _, jc := range cfg.Scheduler.Jobs {
		job := &scheduler.Job{
			ID:             jc.ID,
			Schedule:       jc.Schedule,
			Command:        jc.Command,
			TimeoutSeconds: jc.TimeoutSeconds,
		}
		if err := sched.Add(job); err != nil {
			return nil, fmt.Errorf("scheduler job %q: %w", jc.ID, err)
		}
	}
	return sched, nil
}

// isTerminal informa se f é um terminal interativo.
func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}
