// Package copilot – keyring.go provides credential storage using the
// operating system's native keyring (Linux: Secret Service/GNOME Keyring,
// macOS: Keychain, Windows: Credential Manager).
//
// Priority for resolving embedding API keys:
//  1. OS keyring (encrypted by the OS, requires user session)
//  2. Environment variable (OPENAI_API_KEY, VOYAGE_API_KEY, etc.)
//  3. .env file (loaded by godotenv)
//  4. config.yaml value (plaintext on disk)
package copilot

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/zalando/go-keyring"
	"golang.org/x/term"
)

// keyringService is the service name used in the OS keyring.
const keyringService = "clawmem"

// StoreKeyring saves a secret to the OS keyring.
func StoreKeyring(key, value string) error {
	return keyring.Set(keyringService, key, value)
}

// GetKeyring retrieves a secret from the OS keyring.
// Returns empty string if not found.
func GetKeyring(key string) string {
	val, err := keyring.Get(keyringService, key)
	if err != nil {
		return ""
	}
	return val
}

// DeleteKeyring removes a secret from the OS keyring.
func DeleteKeyring(key string) error {
	return keyring.Delete(keyringService, key)
}

// KeyringAvailable checks if the OS keyring is accessible.
func KeyringAvailable() bool {
	testKey := "__clawmem_test__"
	if err := keyring.Set(keyringService, testKey, "test"); err != nil {
		return false
	}
	_ = keyring.Delete(keyringService, testKey)
	return true
}

// KeyringKeyFor returns the keyring entry name holding a provider's key.
// The entry uses the provider's env var name so both sources line up.
func KeyringKeyFor(provider string) (string, error) {
	name := GetProviderKeyName(provider)
	if name == "" {
		return "", fmt.Errorf("provider %q does not take an API key", provider)
	}
	return name, nil
}

// ResolveAPIKeys resolves the primary and fallback embedding keys using the
// chain keyring → env → config, updating cfg in place.
func ResolveAPIKeys(cfg *Config, logger *slog.Logger) {
	emb := &cfg.Memory.Embedding
	emb.APIKey = resolveProviderKey(emb.Provider, emb.APIKey, logger)
	if emb.Fallback != "" && emb.Fallback != "none" {
		emb.FallbackAPIKey = resolveProviderKey(emb.Fallback, emb.FallbackAPIKey, logger)
	}
}

func resolveProviderKey(provider, configured string, logger *slog.Logger) string {
	name := GetProviderKeyName(provider)
	if name == "" {
		return configured
	}

	if val := GetKeyring(name); val != "" {
		logger.Debug("API key loaded from OS keyring", "provider", provider)
		return val
	}
	if val := os.Getenv(name); val != "" {
		logger.Debug("API key loaded from environment", "provider", provider, "var", name)
		return val
	}
	if configured != "" && !IsEnvReference(configured) {
		logger.Debug("API key loaded from config", "provider", provider)
		return configured
	}

	logger.Warn("no API key found for embedding provider",
		"provider", provider,
		"hint", "clawmem auth set "+provider)
	return ""
}

// ReadPassword prompts for a secret without echo. Piped input falls back to
// reading one line from stdin.
func ReadPassword(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)

	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		secret, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", fmt.Errorf("reading password: %w", err)
		}
		return strings.TrimSpace(string(secret)), nil
	}

	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("reading password: %w", err)
	}
	return strings.TrimSpace(line), nil
}
