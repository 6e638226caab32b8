package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/pelletier/go-toml/v2"
)

type DirsConfig struct {
	Base      string `toml:"base"`
	Incoming  string `toml:"incoming"`
	Processed string `toml:"processed"`
	Library   string `toml:"library"`
	Errors    string `toml:"errors"`
	Review    string `toml:"review"`
	Logs      string `toml:"logs"`
}

type LLMConfig struct {
	Provider       string `toml:"provider"`
	Model          string `toml:"model"`
	APIKey         string `toml:"api_key"`
	BaseURL        string `toml:"base_url"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

type PipelineConfig struct {
	ConfidenceThreshold    float64 `toml:"confidence_threshold"`
	ScanIntervalSeconds    int     `toml:"scan_interval_seconds"`
	MaxRetries             int     `toml:"max_retries"`
	RetryBackoffSeconds    int     `toml:"retry_backoff_seconds"`
	DocumentTimeoutSeconds int     `toml:"document_timeout_seconds"`
	MaxChunkBytes          int     `toml:"max_chunk_bytes"`
	TaxonomyVersion        string  `toml:"taxonomy_version"`
	TaxonomyRules          string  `toml:"taxonomy_rules"`
}

type DatabaseConfig struct {
	Path string `toml:"path"`
}

type ServerConfig struct {
	Port string `toml:"port"`
}

type Config struct {
	Debug    bool           `toml:"debug"`
	Dirs     DirsConfig     `toml:"dirs"`
	LLM      LLMConfig      `toml:"llm"`
	Pipeline PipelineConfig `toml:"pipeline"`
	Database DatabaseConfig `toml:"database"`
	Server   ServerConfig   `toml:"server"`
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file '%s': %w", path, err)
	}

	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse TOML: %w", err)
	}

	cfg.applyEnv()
	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a config with every default applied, for tests and for
// running without a config file at all.
func Default(baseDir string) *Config {
	cfg := &Config{}
	cfg.Dirs.Base = baseDir
	cfg.applyEnv()
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyEnv() {
	if v := os.Getenv("BASTION_DEBUG"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Debug = b
		}
	}
	if v := os.Getenv("BASTION_BASE_DIR"); v != "" {
		c.Dirs.Base = v
	}
	if v := os.Getenv("LLM_PROVIDER"); v != "" {
		c.LLM.Provider = v
	}
	if v := os.Getenv("LLM_MODEL"); v != "" {
		c.LLM.Model = v
	}
	if v := os.Getenv("LLM_API_KEY"); v != "" {
		c.LLM.APIKey = v
	}
	if v := os.Getenv("LLM_BASE_URL"); v != "" {
		c.LLM.BaseURL = v
	}
	if v := os.Getenv("BASTION_DB_PATH"); v != "" {
		c.Database.Path = v
	}
	if v := os.Getenv("PORT"); v != "" {
		c.Server.Port = v
	}
	if v := os.Getenv("BASTION_CONFIDENCE_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Pipeline.ConfidenceThreshold = f
		}
	}
}

func (c *Config) applyDefaults() {
	if c.Dirs.Base == "" {
		c.Dirs.Base = "data"
	}
	if c.Dirs.Incoming == "" {
		c.Dirs.Incoming = filepath.Join(c.Dirs.Base, "incoming")
	}
	if c.Dirs.Processed == "" {
		c.Dirs.Processed = filepath.Join(c.Dirs.Base, "processed")
	}
	if c.Dirs.Library == "" {
		c.Dirs.Library = filepath.Join(c.Dirs.Base, "library")
	}
	if c.Dirs.Errors == "" {
		c.Dirs.Errors = filepath.Join(c.Dirs.Base, "errors")
	}
	if c.Dirs.Review == "" {
		c.Dirs.Review = filepath.Join(c.Dirs.Base, "review")
	}
	if c.Dirs.Logs == "" {
		c.Dirs.Logs = filepath.Join(c.Dirs.Base, "logs")
	}
	if c.LLM.Provider == "" {
		c.LLM.Provider = "ollama"
		c.LLM.Model = "gpt-oss:latest"
		c.LLM.BaseURL = "http://localhost:11434"
	}
	if c.LLM.TimeoutSeconds == 0 {
		c.LLM.TimeoutSeconds = 120
	}
	if c.Pipeline.ConfidenceThreshold == 0 {
		c.Pipeline.ConfidenceThreshold = 0.6
	}
	if c.Pipeline.ScanIntervalSeconds == 0 {
		c.Pipeline.ScanIntervalSeconds = 300
	}
	if c.Pipeline.MaxRetries == 0 {
		c.Pipeline.MaxRetries = 2
	}
	if c.Pipeline.RetryBackoffSeconds == 0 {
		c.Pipeline.RetryBackoffSeconds = 5
	}
	if c.Pipeline.DocumentTimeoutSeconds == 0 {
		c.Pipeline.DocumentTimeoutSeconds = 900
	}
	if c.Pipeline.MaxChunkBytes == 0 {
		c.Pipeline.MaxChunkBytes = 8192
	}
	if c.Pipeline.TaxonomyVersion == "" {
		c.Pipeline.TaxonomyVersion = "2024.1"
	}
	if c.Database.Path == "" {
		c.Database.Path = filepath.Join(c.Dirs.Base, "bastion.db")
	}
	if c.Server.Port == "" {
		c.Server.Port = "8080"
	}
}

func (c *Config) validate() error {
	if c.Pipeline.ConfidenceThreshold < 0 || c.Pipeline.ConfidenceThreshold > 1 {
		return fmt.Errorf("confidence_threshold must be in [0,1], got %v", c.Pipeline.ConfidenceThreshold)
	}
	if c.Pipeline.MaxChunkBytes < 256 {
		return fmt.Errorf("max_chunk_bytes too small: %d", c.Pipeline.MaxChunkBytes)
	}
	return nil
}

// Folders returns the five lifecycle directories in a fixed order.
func (c *Config) Folders() []string {
	return []string{c.Dirs.Incoming, c.Dirs.Processed, c.Dirs.Library, c.Dirs.Errors, c.Dirs.Review}
}

// EnsureDirs creates every configured directory. A directory that cannot be
// created is a refuse-to-start condition for the caller.
func (c *Config) EnsureDirs() error {
	dirs := append(c.Folders(), c.Dirs.Logs)
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0755); err != nil {
			return fmt.Errorf("failed to create directory '%s': %w", d, err)
		}
	}
	return nil
}

func (c *Config) ScanInterval() time.Duration {
	return time.Duration(c.Pipeline.ScanIntervalSeconds) * time.Second
}

func (c *Config) RetryBackoff() time.Duration {
	return time.Duration(c.Pipeline.RetryBackoffSeconds) * time.Second
}

func (c *Config) DocumentTimeout() time.Duration {
	return time.Duration(c.Pipeline.DocumentTimeoutSeconds) * time.Second
}

func (c *Config) LLMTimeout() time.Duration {
	return time.Duration(c.LLM.TimeoutSeconds) * time.Second
}
