// Package config loads the agent configuration from defaults, an optional
// YAML file, a .env file and the process environment, in that order of
// increasing precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ProviderConfig holds the credentials of one model provider.
type ProviderConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
}

type AgentConfig struct {
	Name         string  `yaml:"name"`
	DefaultModel string  `yaml:"default_model"`
	MaxTokens    int     `yaml:"max_tokens"`
	Temperature  float64 `yaml:"temperature"`
	// RequestTimeout bounds one provider call. Zero means no limit.
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	ToolConcurrency int           `yaml:"tool_concurrency"`
	// Fallback lists provider names tried, in order, for unknown models.
	Fallback []string `yaml:"fallback"`
}

type ProvidersConfig struct {
	OpenAI    ProviderConfig `yaml:"openai"`
	Anthropic ProviderConfig `yaml:"anthropic"`
	Gemini    ProviderConfig `yaml:"gemini"`
	// Ollama uses BaseURL as the server address.
	Ollama ProviderConfig `yaml:"ollama"`
}

type StorageConfig struct {
	// URL selects the backend by scheme: sqlite://, postgres://,
	// mongodb://, redis:// or memory://.
	URL       string        `yaml:"url"`
	Driver    string        `yaml:"driver"`
	CacheSize int           `yaml:"cache_size"`
	CacheTTL  time.Duration `yaml:"cache_ttl"`
	// LockURL enables a Redis lock shared between processes.
	LockURL string `yaml:"lock_url"`
}

type HTTPConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	Metrics         bool          `yaml:"metrics"`
}

// MCPServerConfig describes an MCP server whose tools are imported.
type MCPServerConfig struct {
	Name    string            `yaml:"name"`
	Command string            `yaml:"command"`
	Args    []string          `yaml:"args"`
	Env     map[string]string `yaml:"env"`
	Prefix  string            `yaml:"prefix"`
}

type ToolsConfig struct {
	EnableWebSearch      bool              `yaml:"enable_web_search"`
	EnableFileOperations bool              `yaml:"enable_file_operations"`
	FileRoot             string            `yaml:"file_root"`
	MaxReadBytes         int64             `yaml:"max_read_bytes"`
	MCPServers           []MCPServerConfig `yaml:"mcp_servers"`
	// UTCPProviders is the path of a go-utcp providers file.
	UTCPProviders string `yaml:"utcp_providers"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// Config is the complete application configuration.
type Config struct {
	Agent     AgentConfig     `yaml:"agent"`
	Providers ProvidersConfig `yaml:"providers"`
	Storage   StorageConfig   `yaml:"storage"`
	HTTP      HTTPConfig      `yaml:"http"`
	Tools     ToolsConfig     `yaml:"tools"`
	Log       LogConfig       `yaml:"log"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Agent: AgentConfig{
			Name:            "AI Assistant",
			DefaultModel:    "gpt-4",
			MaxTokens:       4096,
			Temperature:     0.7,
			ToolConcurrency: 4,
		},
		Storage: StorageConfig{
			URL:       "sqlite:///agent_memory.db",
			CacheSize: 256,
		},
		HTTP: HTTPConfig{
			Host:            "localhost",
			Port:            5000,
			ShutdownTimeout: 10 * time.Second,
			Metrics:         true,
		},
		Tools: ToolsConfig{
			EnableWebSearch:      true,
			EnableFileOperations: true,
			FileRoot:             ".",
			MaxReadBytes:         1 << 20,
		},
		Log: LogConfig{Level: "INFO", File: "agent.log"},
	}
}

// Load builds the configuration. path names an optional YAML file; a
// missing file is an error only when path is not empty. A .env file in the
// working directory is loaded when present without overriding variables
// that are already set.
func Load(path string) (Config, error) {
	cfg := Default()

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return cfg, fmt.Errorf("load .env: %w", err)
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

type lookupFunc func(string) (string, bool)

func applyEnv(cfg *Config, lookup lookupFunc) error {
	str := func(dst *string, keys ...string) {
		for _, k := range keys {
			if v, ok := lookup(k); ok && v != "" {
				*dst = v
				return
			}
		}
	}
	var errs []error
	integer := func(dst *int, key string) {
		if v, ok := lookup(key); ok && v != "" {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	boolean := func(dst *bool, key string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = strings.EqualFold(strings.TrimSpace(v), "true")
		}
	}

	str(&cfg.Providers.OpenAI.APIKey, "OPENAI_API_KEY")
	str(&cfg.Providers.OpenAI.BaseURL, "OPENAI_BASE_URL")
	str(&cfg.Providers.Anthropic.APIKey, "ANTHROPIC_API_KEY")
	str(&cfg.Providers.Gemini.APIKey, "GEMINI_API_KEY", "GOOGLE_API_KEY")
	str(&cfg.Providers.Ollama.BaseURL, "OLLAMA_HOST")

	str(&cfg.Agent.Name, "AGENT_NAME")
	str(&cfg.Agent.DefaultModel, "DEFAULT_MODEL")
	integer(&cfg.Agent.MaxTokens, "MAX_TOKENS")
	if v, ok := lookup("TEMPERATURE"); ok && v != "" {
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("TEMPERATURE: %w", err))
		} else {
			cfg.Agent.Temperature = f
		}
	}
	if v, ok := lookup("REQUEST_TIMEOUT"); ok && v != "" {
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			errs = append(errs, fmt.Errorf("REQUEST_TIMEOUT: %w", err))
		} else {
			cfg.Agent.RequestTimeout = d
		}
	}
	if v, ok := lookup("FALLBACK_PROVIDERS"); ok && v != "" {
		cfg.Agent.Fallback = splitList(v)
	}

	str(&cfg.HTTP.Host, "HTTP_HOST", "FLASK_HOST")
	if _, ok := lookup("HTTP_PORT"); ok {
		integer(&cfg.HTTP.Port, "HTTP_PORT")
	} else {
		integer(&cfg.HTTP.Port, "FLASK_PORT")
	}

	str(&cfg.Storage.URL, "DATABASE_URL")
	str(&cfg.Storage.Driver, "STORAGE_DRIVER")
	str(&cfg.Storage.LockURL, "REDIS_LOCK_URL")

	boolean(&cfg.Tools.EnableWebSearch, "ENABLE_WEB_SEARCH")
	boolean(&cfg.Tools.EnableFileOperations, "ENABLE_FILE_OPERATIONS")
	str(&cfg.Tools.FileRoot, "FILE_ROOT")
	str(&cfg.Tools.UTCPProviders, "UTCP_PROVIDERS")

	str(&cfg.Log.Level, "LOG_LEVEL")
	if v, ok := lookup("LOG_FILE"); ok {
		cfg.Log.File = strings.TrimSpace(v)
	}
	return errors.Join(errs...)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate reports every invalid value.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Agent.Name) == "" {
		errs = append(errs, errors.New("agent.name must not be empty"))
	}
	if c.Agent.MaxTokens <= 0 {
		errs = append(errs, fmt.Errorf("agent.max_tokens must be positive, got %d", c.Agent.MaxTokens))
	}
	if c.Agent.Temperature < 0 || c.Agent.Temperature > 2 {
		errs = append(errs, fmt.Errorf("agent.temperature must be within [0, 2], got %g", c.Agent.Temperature))
	}
	if c.Agent.RequestTimeout < 0 {
		errs = append(errs, errors.New("agent.request_timeout must not be negative"))
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		errs = append(errs, fmt.Errorf("http.port out of range: %d", c.HTTP.Port))
	}
	if c.Storage.CacheSize < 0 {
		errs = append(errs, fmt.Errorf("storage.cache_size must not be negative, got %d", c.Storage.CacheSize))
	}
	switch strings.ToLower(c.Storage.Driver) {
	case "", "sqlite", "postgres", "mongodb", "redis", "memory":
	default:
		errs = append(errs, fmt.Errorf("unknown storage driver %q", c.Storage.Driver))
	}
	for i, s := range c.Tools.MCPServers {
		if s.Command == "" {
			errs = append(errs, fmt.Errorf("tools.mcp_servers[%d]: command is required", i))
		}
	}
	return errors.Join(errs...)
}

// StorageDSN returns the backend address. A "memory" driver overrides URL.
func (c Config) StorageDSN() string {
	if strings.EqualFold(c.Storage.Driver, "memory") {
		return "memory://"
	}
	return c.Storage.URL
}

// ConfiguredProviders lists the providers that have credentials, in the
// order openai, anthropic, gemini, ollama.
func (c Config) ConfiguredProviders() []string {
	var out []string
	if c.Providers.OpenAI.APIKey != "" {
		out = append(out, "openai")
	}
	if c.Providers.Anthropic.APIKey != "" {
		out = append(out, "anthropic")
	}
	if c.Providers.Gemini.APIKey != "" {
		out = append(out, "gemini")
	}
	if c.Providers.Ollama.BaseURL != "" {
		out = append(out, "ollama")
	}
	return out
}

// Provider returns the settings of the named provider.
func (c Config) Provider(name string) ProviderConfig {
	switch name {
	case "openai":
		return c.Providers.OpenAI
	case "anthropic":
		return c.Providers.Anthropic
	case "gemini":
		return c.Providers.Gemini
	case "ollama":
		return c.Providers.Ollama
	}
	return ProviderConfig{}
}
