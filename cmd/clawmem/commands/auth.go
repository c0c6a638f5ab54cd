package commands

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/jholhewres/clawmem/pkg/clawmem/copilot"
)

// newAuthCmd cria o comando `clawmem auth` para chaves de API no keyring.
func newAuthCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Manage embedding API keys in the OS keyring",
		Long: `Store embedding provider API keys in the OS keyring (macOS Keychain,
Linux Secret Service, Windows Credential Manager). Keys are resolved in the
order keyring, environment, config file.

Examples:
  clawmem auth set openai
  echo "$KEY" | clawmem auth set voyage
  clawmem auth status`,
	}

	cmd.AddCommand(
		newAuthSetCmd(),
		newAuthDeleteCmd(),
		newAuthStatusCmd(),
	)
	return cmd
}

func newAuthSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "set <provider>",
		Short:     "Store a provider API key",
		Args:      cobra.ExactArgs(1),
		ValidArgs: keyedProviders(),
		RunE: func(cmd *cobra.Command, args []string) error {
			name, err := copilot.KeyringKeyFor(args[0])
			if err != nil {
				return err
			}
			if !copilot.KeyringAvailable() {
				return fmt.Errorf("OS keyring unavailable; export %s instead", name)
			}

			secret, err := copilot.ReadPassword(name + ": ")
			if err != nil {
				return err
			}
			if secret == "" {
				return errors.New("empty key, nothing stored")
			}
			if err := copilot.StoreKeyring(name, secret); err != nil {
				return fmt.Errorf("storing %s: %w", name, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s stored in the OS keyring.\n", name)
			return nil
		},
	}
}

func newAuthDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "delete <provider>",
		Short:     "Remove a provider API key",
		Args:      cobra.ExactArgs(1),
		ValidArgs: keyedProviders(),
		RunE: func(cmd *cobra.Command, args []string) error {
			name, err := copilot.KeyringKeyFor(args[0])
			if err != nil {
				return err
			}
			if err := copilot.DeleteKeyring(name); err != nil {
				return fmt.Errorf("deleting %s: %w", name, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s removed from the OS keyring.\n", name)
			return nil
		},
	}
}

func newAuthStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show where each provider key comes from",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			if !copilot.KeyringAvailable() {
				fmt.Fprintln(out, "OS keyring: unavailable")
			}
			seen := make(map[string]bool)
			for _, provider := range keyedProviders() {
				name := copilot.GetProviderKeyName(provider)
				if seen[name] {
					continue
				}
				seen[name] = true
				fmt.Fprintf(out, "%-16s %s\n", name, keySource(name))
			}
			return nil
		},
	}
}

func keySource(name string) string {
	switch {
	case copilot.GetKeyring(name) != "":
		return "keyring"
	case os.Getenv(name) != "":
		return "environment"
	default:
		return "not set"
	}
}

// keyedProviders lista os providers que exigem chave de API.
func keyedProviders() []string {
	providers := make([]string, 0, len(copilot.ProviderKeyNames))
	for p := range copilot.ProviderKeyNames {
		providers = append(providers, p)
	}
	sort.Strings(providers)
	return providers
}
