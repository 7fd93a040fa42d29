// Package config handles Noah configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order used when no
// explicit path is given: ./config.yaml, ~/.config/noah/config.yaml,
// /etc/noah/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "noah", "config.yaml"))
	}

	paths = append(paths, "/etc/noah/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise the first existing entry of DefaultSearchPaths is returned.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all Noah configuration.
type Config struct {
	Listen     ListenConfig            `yaml:"listen"`
	Models     ModelsConfig            `yaml:"models"`
	Anthropic  AnthropicConfig         `yaml:"anthropic"`
	Embeddings EmbeddingsConfig        `yaml:"embeddings"`
	Store      StoreConfig             `yaml:"store"`
	Knowledge  KnowledgeConfig         `yaml:"knowledge"`
	Cache      CacheConfig             `yaml:"cache"`
	Agent      AgentConfig             `yaml:"agent"`
	RateLimit  RateLimitConfig         `yaml:"rate_limit"`
	MQTT       MQTTConfig              `yaml:"mqtt"`
	Pricing    map[string]PricingEntry `yaml:"pricing"`
	DataDir    string                  `yaml:"data_dir"`
	LogLevel   string                  `yaml:"log_level"`
	LogFormat  string                  `yaml:"log_format"` // text (default) or json
}

// ListenConfig defines the API server settings.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`
}

// ModelsConfig defines model routing settings.
type ModelsConfig struct {
	Default   string        `yaml:"default"`
	Drafting  string        `yaml:"drafting"` // Model used for note/handoff drafts (defaults to Default)
	OllamaURL string        `yaml:"ollama_url"`
	Available []ModelConfig `yaml:"available"`
}

// ModelConfig maps a model name to the provider that serves it.
type ModelConfig struct {
	Name     string `yaml:"name"`
	Provider string `yaml:"provider"` // ollama, anthropic
}

// AnthropicConfig defines Anthropic API settings.
type AnthropicConfig struct {
	APIKey string `yaml:"api_key"`
}

// Configured reports whether an API key is present.
func (c AnthropicConfig) Configured() bool { return c.APIKey != "" }

// EmbeddingsConfig defines embedding generation settings.
type EmbeddingsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Model   string `yaml:"model"`   // e.g. nomic-embed-text
	BaseURL string `yaml:"baseurl"` // defaults to models.ollama_url
}

// StoreConfig selects the message history backend.
type StoreConfig struct {
	Backend string      `yaml:"backend"` // memory, sqlite (default), mongo
	Path    string      `yaml:"path"`    // SQLite file, defaults to <data_dir>/history.db
	Mongo   MongoConfig `yaml:"mongo"`

	// PatientPath is the SQLite file for patient data logs, defaults to
	// <data_dir>/patients.db. The memory backend keeps logs in memory.
	PatientPath string `yaml:"patient_path"`

	// ProfilePath is the SQLite file for user profiles, defaults to
	// <data_dir>/profiles.db.
	ProfilePath string `yaml:"profile_path"`
}

// MongoConfig holds document store connection settings.
type MongoConfig struct {
	URI        string        `yaml:"uri"`
	Database   string        `yaml:"database"`
	Collection string        `yaml:"collection"`
	Timeout    time.Duration `yaml:"timeout"`
}

// KnowledgeConfig defines the clinical knowledge base.
type KnowledgeConfig struct {
	Path         string `yaml:"path"` // SQLite file, defaults to <data_dir>/knowledge.db
	TopK         int    `yaml:"top_k"`
	ChunkSize    int    `yaml:"chunk_size"`
	ChunkOverlap int    `yaml:"chunk_overlap"`
}

// CacheConfig configures the optional retrieval cache.
type CacheConfig struct {
	Redis RedisConfig `yaml:"redis"`
}

// RedisConfig holds Redis connection settings. An empty Addr disables caching.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

// Configured reports whether a Redis address is set.
func (c RedisConfig) Configured() bool { return c.Addr != "" }

// AgentConfig tunes the turn orchestrator.
type AgentConfig struct {
	// HistoryLimit is how many prior messages are loaded per turn.
	HistoryLimit int `yaml:"history_limit"`
	// MaxIterations bounds tool round-trips in a single turn.
	MaxIterations int `yaml:"max_iterations"`
	// ModelTimeout bounds each individual model call.
	ModelTimeout time.Duration `yaml:"model_timeout"`
	// ToolTimeout bounds each individual tool call.
	ToolTimeout time.Duration `yaml:"tool_timeout"`
	// ParallelTools runs the calls of one batch concurrently.
	ParallelTools bool `yaml:"parallel_tools"`
}

// RateLimitConfig throttles outbound model requests. Zero disables limiting.
type RateLimitConfig struct {
	RequestsPerMinute int `yaml:"requests_per_minute"`
}

// PricingEntry is the per-million-token price of one model in USD.
// Models without an entry are treated as free.
type PricingEntry struct {
	InputPerMillion  float64 `yaml:"input_per_million"`
	OutputPerMillion float64 `yaml:"output_per_million"`
}

// MQTTConfig configures the optional turn audit publisher.
type MQTTConfig struct {
	Broker      string `yaml:"broker"` // e.g. mqtt://broker:1883; empty disables publishing
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	DeviceName  string `yaml:"device_name"`
	TopicPrefix string `yaml:"topic_prefix"` // default "noah"
}

// Configured reports whether a broker URL is set.
func (c MQTTConfig) Configured() bool { return c.Broker != "" }

// Load reads configuration from a YAML file, expanding environment
// variables, applying defaults and validating the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	expanded := os.ExpandEnv(string(data))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a configuration suitable for local development: an
// Ollama backend on localhost and SQLite storage under ./data.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Listen.Port == 0 {
		c.Listen.Port = 8080
	}
	if c.Models.Default == "" {
		c.Models.Default = "qwen3:4b"
	}
	if c.Models.Drafting == "" {
		c.Models.Drafting = c.Models.Default
	}
	if c.Models.OllamaURL == "" {
		c.Models.OllamaURL = "http://localhost:11434"
	}
	for i := range c.Models.Available {
		if c.Models.Available[i].Provider == "" {
			c.Models.Available[i].Provider = "ollama"
		}
	}
	if c.Embeddings.BaseURL == "" {
		c.Embeddings.BaseURL = c.Models.OllamaURL
	}
	if c.DataDir == "" {
		c.DataDir = "./data"
	}
	if c.Store.Backend == "" {
		c.Store.Backend = "sqlite"
	}
	if c.Store.Path == "" {
		c.Store.Path = filepath.Join(c.DataDir, "history.db")
	}
	if c.Store.PatientPath == "" {
		c.Store.PatientPath = filepath.Join(c.DataDir, "patients.db")
	}
	if c.Store.ProfilePath == "" {
		c.Store.ProfilePath = filepath.Join(c.DataDir, "profiles.db")
	}
	if c.Store.Mongo.Database == "" {
		c.Store.Mongo.Database = "noah"
	}
	if c.Store.Mongo.Timeout == 0 {
		c.Store.Mongo.Timeout = 5 * time.Second
	}
	if c.Knowledge.Path == "" {
		c.Knowledge.Path = filepath.Join(c.DataDir, "knowledge.db")
	}
	if c.Knowledge.TopK == 0 {
		c.Knowledge.TopK = 3
	}
	if c.Knowledge.ChunkSize == 0 {
		c.Knowledge.ChunkSize = 1000
	}
	if c.Knowledge.ChunkOverlap == 0 {
		c.Knowledge.ChunkOverlap = 150
	}
	if c.Cache.Redis.TTL == 0 {
		c.Cache.Redis.TTL = 10 * time.Minute
	}
	if c.Agent.HistoryLimit == 0 {
		c.Agent.HistoryLimit = 20
	}
	if c.Agent.MaxIterations == 0 {
		c.Agent.MaxIterations = 8
	}
	if c.Agent.ModelTimeout == 0 {
		c.Agent.ModelTimeout = 60 * time.Second
	}
	if c.Agent.ToolTimeout == 0 {
		c.Agent.ToolTimeout = 30 * time.Second
	}
	if c.MQTT.DeviceName == "" {
		c.MQTT.DeviceName = "noah"
	}
	if c.MQTT.TopicPrefix == "" {
		c.MQTT.TopicPrefix = "noah"
	}
}

// Validate checks the configuration for values the service cannot run with.
func (c *Config) Validate() error {
	if c.Listen.Port < 1 || c.Listen.Port > 65535 {
		return fmt.Errorf("listen.port %d out of range", c.Listen.Port)
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}
	switch c.LogFormat {
	case "", "text", "json":
	default:
		return fmt.Errorf("log_format %q: expected text or json", c.LogFormat)
	}
	switch c.Store.Backend {
	case "memory", "sqlite":
	case "mongo":
		if c.Store.Mongo.URI == "" {
			return fmt.Errorf("store.mongo.uri is required for the mongo backend")
		}
	default:
		return fmt.Errorf("store.backend %q: expected memory, sqlite or mongo", c.Store.Backend)
	}
	for _, m := range c.Models.Available {
		switch m.Provider {
		case "ollama":
		case "anthropic":
			if !c.Anthropic.Configured() {
				return fmt.Errorf("model %q uses anthropic but anthropic.api_key is empty", m.Name)
			}
		default:
			return fmt.Errorf("model %q: unknown provider %q", m.Name, m.Provider)
		}
	}
	if c.Agent.MaxIterations < 1 || c.Agent.MaxIterations > 50 {
		return fmt.Errorf("agent.max_iterations %d: must be between 1 and 50", c.Agent.MaxIterations)
	}
	if c.Agent.HistoryLimit < 1 || c.Agent.HistoryLimit > 100 {
		return fmt.Errorf("agent.history_limit %d: must be between 1 and 100", c.Agent.HistoryLimit)
	}
	if c.Knowledge.ChunkOverlap >= c.Knowledge.ChunkSize {
		return fmt.Errorf("knowledge.chunk_overlap must be smaller than knowledge.chunk_size")
	}
	for model, p := range c.Pricing {
		if p.InputPerMillion < 0 || p.OutputPerMillion < 0 {
			return fmt.Errorf("pricing for %q must not be negative", model)
		}
	}
	if c.RateLimit.RequestsPerMinute < 0 {
		return fmt.Errorf("rate_limit.requests_per_minute must not be negative")
	}
	return nil
}
