// Package copilot – loader.go handles loading configuration from YAML files
// with credentials supplied by environment variables and .env files.
package copilot

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// envVarPattern matches environment variable patterns in config values:
//   - ${VAR_NAME}          - simple variable
//   - ${VAR_NAME:-default} - default value if not set
//   - ${VAR_NAME:?error}   - error message if not set
//   - $VAR_NAME            - bare variable
//
// Groups: 1=name, 2=modifier ("-" or "?"), 3=default or message, 4=bare name.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::(-|\?)([^}]*))?\}|\$([A-Z_][A-Z0-9_]*)`)

// LoadConfigFromFile reads and parses a YAML configuration file.
// .env files are loaded first and ${VAR} references expanded before parsing.
func LoadConfigFromFile(path string) (*Config, error) {
	loadEnvFiles(filepath.Dir(path))

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded, err := expandEnvVarsWithValidation(string(data))
	if err != nil {
		return nil, fmt.Errorf("expanding environment variables: %w", err)
	}

	cfg, err := ParseConfig([]byte(expanded))
	if err != nil {
		return nil, err
	}

	resolveSecrets(cfg)
	resolveRelativePaths(cfg, path)
	checkFilePermissions(path)

	return cfg, nil
}

// ParseConfig parses YAML bytes into a Config, starting from defaults.
// Fields absent from the YAML keep their default values; an explicit
// "jobs:" with no entries clears the default scheduler jobs.
func ParseConfig(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if len(strings.TrimSpace(string(data))) == 0 {
		return cfg, nil
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}

	return cfg, nil
}

// SaveConfigToFile writes a Config as YAML. Secrets are replaced with
// environment variable references and the previous file is kept as .bak.
func SaveConfigToFile(cfg *Config, path string) error {
	sanitized := *cfg
	emb := cfg.Memory.Embedding
	sanitized.Memory.Embedding.APIKey = sanitizeSecret(emb.APIKey, GetProviderKeyName(emb.Provider))
	sanitized.Memory.Embedding.FallbackAPIKey = sanitizeSecret(emb.FallbackAPIKey, GetProviderKeyName(emb.Fallback))

	data, err := yaml.Marshal(&sanitized)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	var check map[string]any
	if err := yaml.Unmarshal(data, &check); err != nil {
		return fmt.Errorf("config validation failed (refusing to write corrupt data): %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}
	if existing, err := os.ReadFile(path); err == nil {
		_ = os.WriteFile(path+".bak", existing, 0o600)
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

// FindConfigFile searches for config files in standard locations.
func FindConfigFile() string {
	candidates := []string{
		"config.yaml",
		"config.yml",
		"clawmem.yaml",
		"clawmem.yml",
		"configs/config.yaml",
		"configs/clawmem.yaml",
	}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".config", "clawmem", "config.yaml"))
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// AuditSecrets warns about API keys hardcoded in the config file.
func AuditSecrets(cfg *Config, logger *slog.Logger) {
	key := cfg.Memory.Embedding.APIKey
	if key != "" && !IsEnvReference(key) && looksLikeRealKey(key) {
		envVar := GetProviderKeyName(cfg.Memory.Embedding.Provider)
		logger.Warn("embedding API key appears to be hardcoded in config",
			"hint", fmt.Sprintf("use 'clawmem auth set %s' or api_key: ${%s}", cfg.Memory.Embedding.Provider, envVar))
	}
}

// IsEnvReference reports whether s is an unresolved ${VAR} or $VAR reference.
func IsEnvReference(s string) bool {
	s = strings.TrimSpace(s)
	return envVarPattern.FindString(s) == s && s != ""
}

// ---------- Internal ----------

// loadEnvFiles loads .env files from the config directory and the working
// directory. godotenv.Load does not overwrite variables already set.
func loadEnvFiles(configDir string) {
	files := []string{".env.local", ".env"}
	if configDir != "" && configDir != "." {
		files = append(files, filepath.Join(configDir, ".env.local"), filepath.Join(configDir, ".env"))
	}
	for _, f := range files {
		_ = godotenv.Load(f)
	}
}

// expandEnvVars replaces ${VAR}, ${VAR:-default}, ${VAR:?error} and $VAR
// references with environment values. Unset references without a modifier
// are kept verbatim. An unset ${VAR:?msg} becomes an "ERROR:VAR:msg" marker.
func expandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		sub := envVarPattern.FindStringSubmatch(match)
		varName, modifier, value, bare := sub[1], sub[2], sub[3], sub[4]

		if bare != "" {
			if v, ok := os.LookupEnv(bare); ok {
				return v
			}
			return match
		}

		if v, ok := os.LookupEnv(varName); ok {
			return v
		}
		switch modifier {
		case "?":
			if value == "" {
				value = "required environment variable not set"
			}
			return "ERROR:" + varName + ":" + value
		case "-":
			return value
		}
		return match
	})
}

// expandEnvVarsWithValidation is like expandEnvVars but returns an error
// when a ${VAR:?error} variable is unset.
func expandEnvVarsWithValidation(input string) (string, error) {
	result := expandEnvVars(input)
	idx := strings.Index(result, "ERROR:")
	if idx < 0 {
		return result, nil
	}

	rest := result[idx+len("ERROR:"):]
	if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
		rest = rest[:nl]
	}
	name, msg, ok := strings.Cut(rest, ":")
	if !ok {
		return "", fmt.Errorf("config error: malformed error marker")
	}
	return "", fmt.Errorf("config error: %s - %s", name, strings.TrimSpace(msg))
}

// resolveSecrets fills empty or placeholder keys from the provider env vars.
func resolveSecrets(cfg *Config) {
	emb := &cfg.Memory.Embedding
	if emb.APIKey == "" || IsEnvReference(emb.APIKey) {
		emb.APIKey = ""
		if name := GetProviderKeyName(emb.Provider); name != "" {
			emb.APIKey = os.Getenv(name)
		}
	}
	if emb.FallbackAPIKey == "" || IsEnvReference(emb.FallbackAPIKey) {
		emb.FallbackAPIKey = ""
		if name := GetProviderKeyName(emb.Fallback); name != "" {
			emb.FallbackAPIKey = os.Getenv(name)
		}
	}
}

// resolveRelativePaths makes workspace and database paths absolute,
// relative to the config file's directory.
func resolveRelativePaths(cfg *Config, configPath string) {
	configDir := filepath.Dir(configPath)
	cfg.Workspace = resolvePathFromConfig(cfg.Workspace, configDir)
	cfg.Memory.Path = resolvePathFromConfig(cfg.Memory.Path, configDir)
}

// resolvePathFromConfig resolves path against configDir and expands ~.
func resolvePathFromConfig(path, configDir string) string {
	if path == "" {
		return path
	}
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		path = filepath.Join(home, path[2:])
	}
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(configDir, path)
}

// sanitizeSecret replaces a real secret with an env var reference.
func sanitizeSecret(value, envVar string) string {
	if value == "" || IsEnvReference(value) || envVar == "" {
		return value
	}
	return "${" + envVar + "}"
}

func looksLikeRealKey(s string) bool {
	for _, prefix := range []string{"sk-", "pa-", "AIza"} {
		if strings.HasPrefix(s, prefix) {
			return true
		}
	}
	return len(s) >= 32 && !strings.ContainsAny(s, " \t")
}

// checkFilePermissions warns when the config file is readable by others.
func checkFilePermissions(path string) {
	info, err := os.Stat(path)
	if err != nil {
		return
	}
	if info.Mode().Perm()&0o077 != 0 {
		slog.Warn("config file permissions are too open",
			"path", path,
			"mode", fmt.Sprintf("%04o", info.Mode().Perm()),
			"hint", "chmod 600 "+path)
	}
}
