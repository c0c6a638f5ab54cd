package copilot

import (
	"testing"

	"github.com/zalando/go-keyring"
)

func TestKeyringRoundTrip(t *testing.T) {
	keyring.MockInit()

	if got := GetKeyring("OPENAI_API_KEY"); got != "" {
		t.Fatalf("empty keyring returned %q", got)
	}
	if err := StoreKeyring("OPENAI_API_KEY", "sk-keyring"); err != nil {
		t.Fatalf("StoreKeyring: %v", err)
	}
	if got := GetKeyring("OPENAI_API_KEY"); got != "sk-keyring" {
		t.Errorf("GetKeyring = %q", got)
	}
	if !KeyringAvailable() {
		t.Error("mock keyring reported unavailable")
	}
	if err := DeleteKeyring("OPENAI_API_KEY"); err != nil {
		t.Fatalf("DeleteKeyring: %v", err)
	}
	if got := GetKeyring("OPENAI_API_KEY"); got != "" {
		t.Errorf("deleted key still present: %q", got)
	}
}

func TestResolveAPIKeys_Priority(t *testing.T) {
	tests := []struct {
		name       string
		keyringVal string
		envVal     string
		configVal  string
		want       string
	}{
		{"keyring wins", "sk-keyring", "sk-env", "sk-config", "sk-keyring"},
		{"env over config", "", "sk-env", "sk-config", "sk-env"},
		{"config last", "", "", "sk-config", "sk-config"},
		{"unresolved reference dropped", "", "", "${OPENAI_API_KEY}", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			keyring.MockInit()
			t.Setenv("OPENAI_API_KEY", tt.envVal)
			if tt.keyringVal != "" {
				if err := StoreKeyring("OPENAI_API_KEY", tt.keyringVal); err != nil {
					t.Fatal(err)
				}
			}

			cfg := DefaultConfig()
			cfg.Memory.Embedding.Provider = "openai"
			cfg.Memory.Embedding.APIKey = tt.configVal
			ResolveAPIKeys(cfg, discardLogger())

			if cfg.Memory.Embedding.APIKey != tt.want {
				t.Errorf("APIKey = %q, want %q", cfg.Memory.Embedding.APIKey, tt.want)
			}
		})
	}
}

func TestResolveAPIKeys_Fallback(t *testing.T) {
	keyring.MockInit()
	t.Setenv("VOYAGE_API_KEY", "")
	if err := StoreKeyring("VOYAGE_API_KEY", "pa-fallback"); err != nil {
		t.Fatal(err)
	}

	cfg := DefaultConfig()
	cfg.Memory.Embedding.Provider = "ollama"
	cfg.Memory.Embedding.Fallback = "voyage"
	ResolveAPIKeys(cfg, discardLogger())

	if cfg.Memory.Embedding.APIKey != "" {
		t.Errorf("ollama got an API key: %q", cfg.Memory.Embedding.APIKey)
	}
	if cfg.Memory.Embedding.FallbackAPIKey != "pa-fallback" {
		t.Errorf("FallbackAPIKey = %q", cfg.Memory.Embedding.FallbackAPIKey)
	}
}

func TestKeyringKeyFor(t *testing.T) {
	t.Parallel()

	tests := []struct {
		provider string
		want     string
		wantErr  bool
	}{
		{"openai", "OPENAI_API_KEY", false},
		{"Gemini", "GOOGLE_API_KEY", false},
		{"voyage", "VOYAGE_API_KEY", false},
		{"ollama", "", true},
		{"none", "", true},
	}
	for _, tt := range tests {
		got, err := KeyringKeyFor(tt.provider)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("KeyringKeyFor(%q) = %q, %v", tt.provider, got, err)
		}
	}
}
