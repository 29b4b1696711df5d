// Package config provides configuration management for the agent console.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/goccy/go-json"
)

const (
	// DefaultHTTPPort is the port the console API listens on.
	DefaultHTTPPort = 37700
	// DefaultSessionListLimit caps how many sessions list endpoints return.
	DefaultSessionListLimit = 10
	// DefaultTokenURL is the token-issuing endpoint used for realtime
	// connections when settings do not override it.
	DefaultTokenURL = "http://127.0.0.1:8880/api/token"
)

// Config holds console runtime settings.
type Config struct {
	HTTPPort         int    `json:"CONSOLE_HTTP_PORT"`
	TokenURL         string `json:"CONSOLE_TOKEN_URL"`
	SessionListLimit int    `json:"CONSOLE_SESSION_LIMIT"`
	SeedFile         string `json:"CONSOLE_SEED_FILE"`
	DataDir          string `json:"-"`
}

var (
	cached   *Config
	cachedMu sync.Mutex
)

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		HTTPPort:         DefaultHTTPPort,
		TokenURL:         DefaultTokenURL,
		SessionListLimit: DefaultSessionListLimit,
		DataDir:          DataDir(),
	}
}

// DataDir returns the console data directory (~/.freya-console).
func DataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".freya-console")
}

// SettingsPath returns the path of the settings file.
func SettingsPath() string {
	return filepath.Join(DataDir(), "settings.json")
}

// PromptsPath returns the storage key (file) holding the prompt collection.
func PromptsPath() string {
	return filepath.Join(DataDir(), "prompts.json")
}

// SessionsPath returns the storage key (file) holding the session collection.
func SessionsPath() string {
	return filepath.Join(DataDir(), "sessions.json")
}

// EnsureDataDir creates the data directory if missing.
func EnsureDataDir() error {
	return os.MkdirAll(DataDir(), 0o750)
}

// EnsureSettings writes a default settings file if none exists.
func EnsureSettings() error {
	path := SettingsPath()
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	data, err := json.MarshalIndent(map[string]any{
		"CONSOLE_HTTP_PORT": DefaultHTTPPort,
		"CONSOLE_TOKEN_URL": DefaultTokenURL,
	}, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// EnsureAll creates the data directory and settings file.
func EnsureAll() error {
	if err := EnsureDataDir(); err != nil {
		return err
	}
	return EnsureSettings()
}

// Load reads settings.json, falling back to defaults for missing or
// unparsable values. It never fails hard on a bad settings file.
func Load() (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(SettingsPath())
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		// Corrupt settings file, keep defaults.
		return cfg, nil
	}

	if v, ok := raw["CONSOLE_HTTP_PORT"]; ok {
		var port int
		if json.Unmarshal(v, &port) == nil && port > 0 {
			cfg.HTTPPort = port
		}
	}
	if v, ok := raw["CONSOLE_TOKEN_URL"]; ok {
		var url string
		if json.Unmarshal(v, &url) == nil && url != "" {
			cfg.TokenURL = url
		}
	}
	if v, ok := raw["CONSOLE_SESSION_LIMIT"]; ok {
		var limit int
		if json.Unmarshal(v, &limit) == nil && limit > 0 {
			cfg.SessionListLimit = limit
		}
	}
	if v, ok := raw["CONSOLE_SEED_FILE"]; ok {
		var path string
		if json.Unmarshal(v, &path) == nil {
			cfg.SeedFile = path
		}
	}

	return cfg, nil
}

// Get returns the cached configuration, loading it on first use.
func Get() *Config {
	cachedMu.Lock()
	defer cachedMu.Unlock()
	if cached == nil {
		cfg, err := Load()
		if err != nil {
			cfg = Default()
		}
		cached = cfg
	}
	return cached
}

// GetHTTPPort returns the HTTP port, with the CONSOLE_HTTP_PORT
// environment variable taking precedence over settings.
func GetHTTPPort() int {
	if v := os.Getenv("CONSOLE_HTTP_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			return port
		}
	}
	return Get().HTTPPort
}

// GetTokenURL returns the token endpoint, with the CONSOLE_TOKEN_URL
// environment variable taking precedence over settings.
func GetTokenURL() string {
	if v := os.Getenv("CONSOLE_TOKEN_URL"); v != "" {
		return v
	}
	return Get().TokenURL
}
