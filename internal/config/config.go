package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Config represents runtime configuration for the backend service and the chat client.
type Config struct {
	BasicConfig BasicConfig               `json:"basic_config"`
	Databases   map[string]DatabaseConfig `json:"databases"`
	Redis       RedisConfig               `json:"redis"`
	Inference   InferenceConfig           `json:"inference"`
	Providers   map[string]ProviderConfig `json:"providers"`
	Client      ClientConfig              `json:"client"`
}

type BasicConfig struct {
	ServerAddress      string `json:"server_address"`
	LogFile            string `json:"log_file"`
	LogLevel           string `json:"log_level"`
	TokenTTLHours      int    `json:"token_ttl_hours"`
	TokenSweepInterval int    `json:"token_sweep_interval"` // minutes
}

type DatabaseConfig struct {
	DSN      string `json:"dsn"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	DBName   string `json:"dbname"`
	Params   string `json:"params"`
}

type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

// InferenceConfig selects the text-generation backend. Provider "inference" (the default) posts to URL;
// "openai", "claude" and "gemini" go through the matching entry in Providers.
type InferenceConfig struct {
	Provider       string `json:"provider"`
	URL            string `json:"url"`
	APIKey         string `json:"api_key"`
	Model          string `json:"model"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

type ProviderConfig struct {
	BaseURL string `json:"base_url"`
	Model   string `json:"model"`
	APIKey  string `json:"api_key"`
}

type ClientConfig struct {
	APIURL             string `json:"api_url"`
	RedirectURL        string `json:"redirect_url"`
	CallTimeoutSeconds int    `json:"call_timeout_seconds"`
}

const (
	defaultServerAddress = ":8090"
	defaultAPIURL        = "http://localhost:8090"
	defaultTimeout       = 60 * time.Second
	defaultTokenTTL      = 24 * time.Hour
)

// Load reads configuration from the provided path (defaults to config.json).
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.json"
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	file, err := os.Open(absPath)
	if err != nil {
		return nil, fmt.Errorf("open config %s: %w", absPath, err)
	}
	defer file.Close()

	var cfg Config
	if err := json.NewDecoder(file).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	// relative sqlite files live next to the config file
	if db, ok := cfg.Databases["sqlite3"]; ok && db.DSN != "" && db.DSN != ":memory:" && !strings.HasPrefix(db.DSN, "file:") {
		if !filepath.IsAbs(db.DSN) {
			db.DSN = filepath.Join(filepath.Dir(absPath), db.DSN)
			cfg.Databases["sqlite3"] = db
		}
	}
	cfg.applyEnv()
	return &cfg, nil
}

// FromEnv returns an empty configuration with the environment overrides applied.
func FromEnv() *Config {
	cfg := &Config{}
	cfg.applyEnv()
	return cfg
}

// applyEnv lets secrets live outside the config file.
func (c *Config) applyEnv() {
	if v := strings.TrimSpace(os.Getenv("NIJICHAT_INFERENCE_API_KEY")); v != "" {
		c.Inference.APIKey = v
	}
	if v := strings.TrimSpace(os.Getenv("NIJICHAT_INFERENCE_URL")); v != "" {
		c.Inference.URL = v
	}
	if v := strings.TrimSpace(os.Getenv("NIJICHAT_API_URL")); v != "" {
		c.Client.APIURL = v
	}
}

// Address returns the listen address, falling back to :8090.
func (c *Config) Address() string {
	if c.BasicConfig.ServerAddress == "" {
		return defaultServerAddress
	}
	return c.BasicConfig.ServerAddress
}

// TokenTTL returns the lifetime of issued access tokens.
func (c *Config) TokenTTL() time.Duration {
	if c.BasicConfig.TokenTTLHours <= 0 {
		return defaultTokenTTL
	}
	return time.Duration(c.BasicConfig.TokenTTLHours) * time.Hour
}

// SweepInterval returns how often expired tokens are purged; zero means the sweeper default.
func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.BasicConfig.TokenSweepInterval) * time.Minute
}

// InferenceTimeout bounds a single generation request.
func (c *Config) InferenceTimeout() time.Duration {
	if c.Inference.TimeoutSeconds <= 0 {
		return defaultTimeout
	}
	return time.Duration(c.Inference.TimeoutSeconds) * time.Second
}

// CallTimeout bounds every auth and persistence call made by the chat client.
func (c *Config) CallTimeout() time.Duration {
	if c.Client.CallTimeoutSeconds <= 0 {
		return defaultTimeout
	}
	return time.Duration(c.Client.CallTimeoutSeconds) * time.Second
}

// APIURL is the base URL the chat client talks to.
func (c *Config) APIURL() string {
	if c.Client.APIURL == "" {
		return defaultAPIURL
	}
	return c.Client.APIURL
}
