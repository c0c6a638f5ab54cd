package commands

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/jholhewres/clawmem/pkg/clawmem/copilot"
	"github.com/jholhewres/clawmem/pkg/clawmem/memory"
	"github.com/jholhewres/clawmem/pkg/clawmem/scheduler"
)

// newConfigCmd cria o comando `clawmem config` para gerenciar configurações.
func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the configuration file",
		Long: `Create, inspect and validate the clawmem configuration.

Examples:
  clawmem config init
  clawmem config show
  clawmem config validate -c ./config.yaml`,
	}

	cmd.AddCommand(
		newConfigInitCmd(),
		newConfigShowCmd(),
		newConfigValidateCmd(),
	)
	return cmd
}

func newConfigInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Create a config file (interactive wizard)",
		Long: `Create a config file, asking for the workspace, the embedding provider
and the database path. The provider API key is stored in the OS keyring,
never in the file. With --non-interactive (or when stdin is not a terminal)
the defaults are written as-is.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "config.yaml"
			if len(args) == 1 {
				path = args[0]
			}
			force, _ := cmd.Flags().GetBool("force")
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}

			cfg := copilot.DefaultConfig()
			nonInteractive, _ := cmd.Flags().GetBool("non-interactive")
			if !nonInteractive && isTerminal(os.Stdin) {
				if err := runConfigWizard(cfg); err != nil {
					return err
				}
			}

			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}
			if err := copilot.SaveConfigToFile(cfg, path); err != nil {
				return err
			}
			if err := os.MkdirAll(cfg.Workspace, 0o755); err != nil {
				return fmt.Errorf("creating workspace: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Config written to %s\n", path)
			fmt.Fprintf(out, "Workspace: %s (put notes in MEMORY.md and memory/*.md)\n", cfg.Workspace)
			fmt.Fprintln(out, "Next: clawmem sync")
			return nil
		},
	}
	cmd.Flags().Bool("force", false, "overwrite an existing file")
	cmd.Flags().Bool("non-interactive", false, "write defaults without prompting")
	return cmd
}

// runConfigWizard preenche cfg com as respostas do usuário.
func runConfigWizard(cfg *copilot.Config) error {
	auto := cfg.Memory.Index.Auto
	provider := cfg.Memory.Embedding.Provider

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Workspace directory").
				Description("Holds MEMORY.md and the memory/ folder.").
				Value(&cfg.Workspace).
				Validate(notBlank("workspace")),
			huh.NewSelect[string]().
				Title("Embedding provider").
				Description(`"auto" picks the first provider with an API key; "none" is keyword-only.`).
				Options(huh.NewOptions(memory.Providers()...)...).
				Value(&provider),
			huh.NewInput().
				Title("Database file").
				Value(&cfg.Memory.Path).
				Validate(notBlank("database file")),
			huh.NewConfirm().
				Title("Re-index files when they change?").
				Value(&auto),
		),
	)
	if err := form.Run(); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return errors.New("setup cancelled")
		}
		return err
	}
	cfg.Memory.Embedding.Provider = provider
	cfg.Memory.Index.Auto = auto

	keyName := copilot.GetProviderKeyName(provider)
	if keyName == "" || !copilot.KeyringAvailable() {
		return nil
	}

	var apiKey string
	keyForm := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title(keyName).
				Description("Stored in the OS keyring. Leave empty to use the environment.").
				EchoMode(huh.EchoModePassword).
				Value(&apiKey),
		),
	)
	if err := keyForm.Run(); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return nil
		}
		return err
	}
	if apiKey = strings.TrimSpace(apiKey); apiKey == "" {
		return nil
	}
	if err := copilot.StoreKeyring(keyName, apiKey); err != nil {
		return fmt.Errorf("storing API key: %w", err)
	}
	return nil
}

func notBlank(field string) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("%s is required", field)
		}
		return nil
	}
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Long:  `Print the resolved configuration as YAML. API keys are masked.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, path, err := resolveConfig(cmd)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if path == "" {
				fmt.Fprintln(out, "# no config file found, showing defaults (create one with: clawmem config init)")
			} else {
				fmt.Fprintf(out, "# %s\n", path)
			}
			return writeConfigYAML(out, cfg)
		},
	}
}

// writeConfigYAML escreve cfg como YAML com as chaves mascaradas.
func writeConfigYAML(w io.Writer, cfg *copilot.Config) error {
	masked := *cfg
	masked.Memory.Embedding.APIKey = maskSecret(cfg.Memory.Embedding.APIKey)
	masked.Memory.Embedding.FallbackAPIKey = maskSecret(cfg.Memory.Embedding.FallbackAPIKey)

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(&masked); err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	return enc.Close()
}

func maskSecret(s string) string {
	if s == "" || copilot.IsEnvReference(s) {
		return s
	}
	if len(s) <= 8 {
		return "****"
	}
	return s[:4] + "****"
}

func newConfigValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the configuration for errors",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, path, err := resolveConfig(cmd)
			if err != nil {
				return err
			}
			if err := validateConfig(cfg); err != nil {
				return fmt.Errorf("invalid config:\n%w", err)
			}
			if path == "" {
				path = "defaults"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: OK\n", path)
			return nil
		},
	}
}

// validateConfig soma à validação da config a checagem dos schedules.
func validateConfig(cfg *copilot.Config) error {
	errs := []error{cfg.Validate()}
	for _, job := range cfg.Scheduler.Jobs {
		if job.Schedule == "" {
			continue
		}
		if _, err := scheduler.NormalizeSchedule(job.Schedule); err != nil {
			errs = append(errs, fmt.Errorf("scheduler job %q: %w", job.ID, err))
		}
	}
	return errors.Join(errs...)
}
