// Package config assembles the service configuration from defaults, an optional
// YAML file and the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tributary-ai/intellihub-router/internal/cache"
	"github.com/tributary-ai/intellihub-router/internal/middleware"
	"github.com/tributary-ai/intellihub-router/internal/providers/anthropic"
	"github.com/tributary-ai/intellihub-router/internal/providers/gemini"
	"github.com/tributary-ai/intellihub-router/internal/providers/local"
	"github.com/tributary-ai/intellihub-router/internal/providers/openrouter"
	"github.com/tributary-ai/intellihub-router/internal/providers/perplexity"
	"github.com/tributary-ai/intellihub-router/internal/routing"
	"github.com/tributary-ai/intellihub-router/internal/security"
	"github.com/tributary-ai/intellihub-router/internal/server"
	"github.com/tributary-ai/intellihub-router/internal/types"
)

// Config represents the complete application configuration
type Config struct {
	Server     ServerConfig              `yaml:"server"`
	Logging    LoggingConfig             `yaml:"logging"`
	Cache      cache.Config              `yaml:"cache"`
	Models     routing.ModelsConfig      `yaml:"models"`
	OpenRouter openrouter.Config         `yaml:"openrouter"`
	Gemini     gemini.Config             `yaml:"gemini"`
	Perplexity perplexity.Config         `yaml:"perplexity"`
	Local      local.Config              `yaml:"local"`
	Anthropic  anthropic.AnthropicConfig `yaml:"anthropic"`
	Security   SecurityConfig            `yaml:"security"`

	// DisableSecondaryFallback ends the chain after the default model retry.
	DisableSecondaryFallback bool `yaml:"disable_secondary_fallback"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port           string        `yaml:"port"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	MaxHeaderBytes int           `yaml:"max_header_bytes"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "json" or "text"
	Output string `yaml:"output"` // "stdout", "stderr", or file path
}

// SecurityConfig holds the inbound guards of the HTTP surface.
type SecurityConfig struct {
	RateLimiting      security.RateLimitConfig    `yaml:"rate_limiting"`
	RequestValidation middleware.ValidationConfig `yaml:"request_validation"`
	AllowedOrigins    []string                    `yaml:"allowed_origins"`
}

// LoadConfig loads configuration from file and environment variables
func LoadConfig(configPath string) (*Config, error) {
	config := &Config{}

	config.setDefaults()

	if configPath != "" {
		if err := config.loadFromFile(configPath); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := config.loadFromEnv(os.Getenv); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// DefaultWriteTimeout outlasts a single-key chain in which every stage runs
// into its upstream timeout: research at 35s, three candidates and the default
// model at 20s, local, the Gemini model listing plus six models at 30s, and
// Anthropic at 30s. Dispatch itself stops shortly before it.
const DefaultWriteTimeout = 390 * time.Second

// setDefaults sets default configuration values
func (c *Config) setDefaults() {
	c.Server = ServerConfig{
		Port:           "8000",
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   DefaultWriteTimeout,
		MaxHeaderBytes: 1 << 20, // 1MB
	}

	c.Logging = LoggingConfig{
		Level:  "info",
		Format: "json",
		Output: "stdout",
	}

	c.Cache = cache.Config{
		Backend:    "memory",
		TTL:        cache.DefaultTTL,
		SQLitePath: "intellihub-cache.db",
		Redis: cache.RedisConfig{
			Address: "localhost:6379",
		},
	}

	c.Models = routing.ModelsConfig{
		Default: routing.DefaultModel,
	}

	c.OpenRouter = openrouter.Config{
		BaseURL:    openrouter.DefaultBaseURL,
		Timeout:    openrouter.DefaultTimeout,
		MaxBackoff: openrouter.DefaultMaxBackoff,
	}

	c.Gemini = gemini.Config{
		Model:           gemini.DefaultModel,
		PreferredFamily: gemini.DefaultPreferredFamily,
	}

	c.Perplexity = perplexity.Config{
		Model: perplexity.DefaultModel,
	}

	c.Anthropic = anthropic.AnthropicConfig{
		Model:   anthropic.DefaultModel,
		Timeout: anthropic.DefaultTimeout,
	}

	c.Security = SecurityConfig{
		RateLimiting: security.RateLimitConfig{
			Enabled:           false,
			RequestsPerMinute: 60,
			BurstSize:         10,
			CleanupInterval:   5 * time.Minute,
		},
		RequestValidation: middleware.ValidationConfig{
			Enabled: true,
		},
		AllowedOrigins: []string{"*"},
	}
}

// loadFromFile loads configuration from YAML file
func (c *Config) loadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse YAML config: %w", err)
	}

	return nil
}

// loadFromEnv applies environment overrides. Unset variables leave the file
// and default values alone.
func (c *Config) loadFromEnv(getenv func(string) string) error {
	if port := getenv("INTELLIHUB_PORT"); port != "" {
		c.Server.Port = port
	}

	// Logging configuration
	if level := getenv("INTELLIHUB_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if format := getenv("INTELLIHUB_LOG_FORMAT"); format != "" {
		c.Logging.Format = format
	}
	if getenv("INTELLIHUB_DEBUG") == "1" {
		c.Logging.Level = "debug"
	}

	// Cache configuration
	if backend := getenv("INTELLIHUB_CACHE_BACKEND"); backend != "" {
		c.Cache.Backend = backend
	}
	if raw := getenv("INTELLIHUB_CACHE_TTL"); raw != "" {
		ttl, err := parseSeconds(raw)
		if err != nil {
			return fmt.Errorf("INTELLIHUB_CACHE_TTL: %w", err)
		}
		c.Cache.TTL = ttl
	}
	if addr := getenv("INTELLIHUB_REDIS_ADDR"); addr != "" {
		c.Cache.Redis.Address = addr
	}
	if password := getenv("INTELLIHUB_REDIS_PASSWORD"); password != "" {
		c.Cache.Redis.Password = password
	}
	if path := getenv("INTELLIHUB_SQLITE_PATH"); path != "" {
		c.Cache.SQLitePath = path
	}

	// Model registry
	for task, name := range routing.PrimaryModelEnv {
		if model := strings.TrimSpace(getenv(name)); model != "" {
			if c.Models.Primary == nil {
				c.Models.Primary = make(map[types.TaskCategory]string)
			}
			c.Models.Primary[task] = model
		}
	}

	// Aggregator
	c.OpenRouter.APIKeys = openrouter.CollectAPIKeys(getenv, c.OpenRouter.APIKeys)
	if referer := getenv("INTELLIHUB_REFERER"); referer != "" {
		c.OpenRouter.Referer = referer
	}
	if title := getenv("INTELLIHUB_TITLE"); title != "" {
		c.OpenRouter.Title = title
	}
	if getenv("INTELLIHUB_DISABLE_GEMINI_FALLBACK") == "1" {
		c.DisableSecondaryFallback = true
	}

	// Gemini
	if key := getenv("GEMINI_API_KEY"); key != "" {
		c.Gemini.APIKey = key
	}
	if key := getenv("GEMINI_NEW_API_KEY"); key != "" {
		c.Gemini.NewAPIKey = key
	}
	if getenv("GEMINI_USE_NEW_KEY") == "1" {
		c.Gemini.UseNewKey = true
	}
	override := getenv("GEMINI_MODEL")
	if override == "" {
		override = getenv("INTELLIHUB_GEMINI_MODEL")
	}
	c.Gemini.ApplyModelOverride(override)
	if family := getenv("GEMINI_PREFERRED_FAMILY"); family != "" {
		c.Gemini.PreferredFamily = family
	}

	// Perplexity
	if key := getenv("PERPLEXITY_API_KEY"); key != "" {
		c.Perplexity.APIKey = key
	}
	if model := getenv("PERPLEXITY_RESEARCH_MODEL"); model != "" {
		c.Perplexity.Model = model
	}
	if raw := strings.TrimSpace(getenv("PERPLEXITY_MAX_TOKENS")); raw != "" && isDigits(raw) {
		c.Perplexity.MaxTokens, _ = strconv.Atoi(raw)
	}

	// Local LLM
	if endpoint := getenv("LOCAL_LLM_ENDPOINT"); endpoint != "" {
		c.Local.Endpoint = endpoint
	}
	if key := getenv("LOCAL_LLM_ENDPOINT_KEY"); key != "" {
		c.Local.EndpointKey = key
	}
	if command := getenv("LOCAL_LLM_CMD"); command != "" {
		c.Local.Command = command
	}
	if baseURL := getenv("LOCAL_LLM_OPENAI_BASE_URL"); baseURL != "" {
		c.Local.OpenAI.BaseURL = baseURL
	}
	if model := getenv("LOCAL_LLM_OPENAI_MODEL"); model != "" {
		c.Local.OpenAI.Model = model
	}
	if key := getenv("LOCAL_LLM_OPENAI_API_KEY"); key != "" {
		c.Local.OpenAI.APIKey = key
	}

	// Anthropic
	if key := getenv("ANTHROPIC_API_KEY"); key != "" {
		c.Anthropic.APIKey = key
	}
	if model := getenv("INTELLIHUB_ANTHROPIC_MODEL"); model != "" {
		c.Anthropic.Model = model
	}

	return nil
}

// validate validates the configuration
func (c *Config) validate() error {
	port, err := strconv.Atoi(c.Server.Port)
	if err != nil || port < 0 || port > 65535 {
		return fmt.Errorf("invalid server port: %q", c.Server.Port)
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
		"fatal": true,
	}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	if c.Logging.Format != "json" && c.Logging.Format != "text" {
		return fmt.Errorf("invalid log format: %s", c.Logging.Format)
	}

	switch c.Cache.Backend {
	case "memory":
	case "redis":
		if c.Cache.Redis.Address == "" {
			return fmt.Errorf("redis cache backend requires an address")
		}
	case "sqlite":
		if c.Cache.SQLitePath == "" {
			return fmt.Errorf("sqlite cache backend requires a path")
		}
	default:
		return fmt.Errorf("invalid cache backend: %s", c.Cache.Backend)
	}

	if c.Cache.TTL <= 0 {
		return fmt.Errorf("cache ttl must be positive, got %v", c.Cache.TTL)
	}

	return nil
}

// Warnings lists configuration that is valid but leaves the chain unable to
// answer most prompts.
func (c *Config) Warnings() []string {
	var warnings []string
	if len(c.OpenRouter.APIKeys) == 0 && !c.geminiConfigured() {
		warnings = append(warnings, "no OpenRouter keys and no Gemini key configured; only local and Anthropic fallbacks can answer")
	}
	if c.DisableSecondaryFallback && len(c.OpenRouter.APIKeys) == 0 {
		warnings = append(warnings, "secondary fallback disabled without OpenRouter keys")
	}
	return warnings
}

// ToServerConfig converts to server.ServerConfig
func (c *Config) ToServerConfig() *server.ServerConfig {
	rateLimit := c.Security.RateLimiting
	validation := c.Security.RequestValidation

	return &server.ServerConfig{
		Port:           c.Server.Port,
		ReadTimeout:    c.Server.ReadTimeout,
		WriteTimeout:   c.Server.WriteTimeout,
		MaxHeaderBytes: c.Server.MaxHeaderBytes,
		AllowedOrigins: c.Security.AllowedOrigins,
		Security: &middleware.SecurityMiddlewareConfig{
			RateLimit:  &rateLimit,
			Validation: &validation,
		},
	}
}

// SaveToFile saves the current configuration to a YAML file
func (c *Config) SaveToFile(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config to YAML: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// GetEnabledProviders returns the upstreams that have credentials or an
// endpoint, in chain order.
func (c *Config) GetEnabledProviders() []string {
	var providers []string

	if c.Perplexity.APIKey != "" {
		providers = append(providers, "perplexity")
	}
	if len(c.OpenRouter.APIKeys) > 0 {
		providers = append(providers, "openrouter")
	}
	if c.Local.Endpoint != "" || strings.TrimSpace(c.Local.Command) != "" || c.Local.OpenAI.BaseURL != "" {
		providers = append(providers, "local")
	}
	if c.geminiConfigured() {
		providers = append(providers, "gemini")
	}
	if c.Anthropic.APIKey != "" {
		providers = append(providers, "anthropic")
	}

	return providers
}

func (c *Config) geminiConfigured() bool {
	return c.Gemini.APIKey != "" || (c.Gemini.UseNewKey && c.Gemini.NewAPIKey != "")
}

// parseSeconds accepts a Go duration ("90s") or a bare number of seconds.
func parseSeconds(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if isDigits(raw) {
		seconds, err := strconv.Atoi(raw)
		if err != nil {
			return 0, err
		}
		return time.Duration(seconds) * time.Second, nil
	}
	return time.ParseDuration(raw)
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
