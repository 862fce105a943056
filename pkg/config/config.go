package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultEndpoint is the Groq OpenAI-compatible chat completions endpoint.
const DefaultEndpoint = "https://api.groq.com/openai/v1/chat/completions"

// APIKeyEnv is the environment variable consulted when no api_key is configured.
const APIKeyEnv = "GROQ_API_KEY"

// Config holds all companion configuration.
type Config struct {
	Client   ClientConfig  `yaml:"client"`
	Defaults ChatDefaults  `yaml:"defaults"`
	Fetch    FetchConfig   `yaml:"fetch"`
	History  HistoryConfig `yaml:"history"`
	Log      LogConfig     `yaml:"log"`
	Server   ServerConfig  `yaml:"server"`
}

// ClientConfig controls the chat API client. A nil MaxRetries selects the
// default; zero disables retries.
type ClientConfig struct {
	APIKey      string        `yaml:"api_key"`
	Endpoint    string        `yaml:"endpoint"`
	Timeout     time.Duration `yaml:"timeout"`
	MaxRetries  *int          `yaml:"max_retries"`
	BackoffBase float64       `yaml:"backoff_base"`
	MinInterval time.Duration `yaml:"min_interval"`
	CacheSize   int           `yaml:"cache_size"`
}

// ChatDefaults are the generation parameters used when a caller does not override them.
type ChatDefaults struct {
	Model       string  `yaml:"model"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
	TopP        float64 `yaml:"top_p"`
}

// FetchConfig controls how URLs passed to summarize are downloaded.
type FetchConfig struct {
	Timeout  time.Duration `yaml:"timeout"`
	MaxChars int           `yaml:"max_chars"`
}

// HistoryConfig controls the interaction history store.
type HistoryConfig struct {
	DBPath      string `yaml:"db_path"`
	MemoryTurns int    `yaml:"memory_turns"`
}

// LogConfig controls structured logging.
// Format is "json" (default) or "text". An empty File logs to stderr.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

// ServerConfig controls the HTTP front end.
type ServerConfig struct {
	Listen string `yaml:"listen"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Client: DefaultClient(),
		Defaults: ChatDefaults{
			Model:       "llama-3.1-8b-instant",
			Temperature: 0.7,
			MaxTokens:   700,
			TopP:        1.0,
		},
		Fetch: DefaultFetch(),
		History: HistoryConfig{
			DBPath:      "companion.db",
			MemoryTurns: 3,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Server: ServerConfig{
			Listen: ":7860",
		},
	}
}

// DefaultClient returns the client settings used when nothing is configured.
func DefaultClient() ClientConfig {
	retries := 3
	return ClientConfig{
		Endpoint:    DefaultEndpoint,
		Timeout:     30 * time.Second,
		MaxRetries:  &retries,
		BackoffBase: 1.5,
		MinInterval: 200 * time.Millisecond,
		CacheSize:   64,
	}
}

// DefaultFetch returns the page fetch settings used when nothing is configured.
func DefaultFetch() FetchConfig {
	return FetchConfig{
		Timeout:  20 * time.Second,
		MaxChars: 6000,
	}
}

// Load reads a YAML config file and expands environment variables.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return cfg, nil
}

// LoadOptional behaves like Load but returns Default when path does not exist.
func LoadOptional(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}
