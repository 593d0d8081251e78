// Package config loads service settings from defaults, an optional YAML file
// and PROFRAG_* environment variables, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/rateprof/profrag/engine/domain"
	"github.com/rateprof/profrag/engine/embed"
	"github.com/rateprof/profrag/engine/semantic"
)

// EnvPrefix namespaces environment overrides: PROFRAG_INDEX_API_KEY sets
// index.api_key.
const EnvPrefix = "PROFRAG_"

type Config struct {
	Server  ServerConfig  `koanf:"server"`
	Log     LogConfig     `koanf:"log"`
	Store   StoreConfig   `koanf:"store"`
	Scraper ScraperConfig `koanf:"scraper"`
	Embed   EmbedConfig   `koanf:"embed"`
	Index   IndexConfig   `koanf:"index"`
	Chat    ChatConfig    `koanf:"chat"`
	NATS    NATSConfig    `koanf:"nats"`
	Metrics MetricsConfig `koanf:"metrics"`
}

type ServerConfig struct {
	Port       int     `koanf:"port"`
	CORSOrigin string  `koanf:"cors_origin"`
	RateLimit  float64 `koanf:"rate_limit"` // requests per second, 0 = off
	RateBurst  int     `koanf:"rate_burst"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"` // json, text
}

type StoreConfig struct {
	Path string `koanf:"path"`
}

type ScraperConfig struct {
	UserAgent string        `koanf:"user_agent"`
	Timeout   time.Duration `koanf:"timeout"`
}

type EmbedConfig struct {
	Provider       string `koanf:"provider"` // vertex, gemini, openai, ollama, fake
	Model          string `koanf:"model"`
	Dimensionality int    `koanf:"dimensionality"`
	Project        string `koanf:"project"`
	Location       string `koanf:"location"`
	APIKey         string `koanf:"api_key"`
	BaseURL        string `koanf:"base_url"`
}

type IndexConfig struct {
	Addr      string `koanf:"addr"`
	APIKey    string `koanf:"api_key"`
	TLS       bool   `koanf:"tls"`
	Name      string `koanf:"name"`
	Namespace string `koanf:"namespace"`
	Dimension int    `koanf:"dimension"`
	Metric    string `koanf:"metric"`
	IDScheme  string `koanf:"id_scheme"`
}

type ChatConfig struct {
	Provider    string  `koanf:"provider"` // gemini, ollama, none
	BaseURL     string  `koanf:"base_url"`
	Model       string  `koanf:"model"` // empty picks the provider default
	TopK        int     `koanf:"top_k"`
	Temperature float32 `koanf:"temperature"`
	TopP        float32 `koanf:"top_p"`
}

type NATSConfig struct {
	URL     string `koanf:"url"` // empty disables events
	Subject string `koanf:"subject"`
}

type MetricsConfig struct {
	Enabled bool `koanf:"enabled"`
}

var defaults = map[string]any{
	"server.port":          5000,
	"server.cors_origin":   "*",
	"server.rate_limit":    0.0,
	"server.rate_burst":    10,
	"log.level":            "info",
	"log.format":           "json",
	"store.path":           "reviews.json",
	"scraper.user_agent":   "",
	"scraper.timeout":      "0s",
	"embed.provider":       embed.ProviderVertex,
	"embed.model":          embed.DefaultModel,
	"embed.dimensionality": embed.DefaultDimensionality,
	"embed.location":       "us-central1",
	"index.addr":           "localhost:6334",
	"index.name":           "rag",
	"index.namespace":      "ns1",
	"index.dimension":      768,
	"index.metric":         "cosine",
	"index.id_scheme":      string(domain.IDSchemeProfessor),
	"chat.provider":        ChatGemini,
	"chat.model":           "",
	"chat.top_k":           5,
	"chat.temperature":     1.0,
	"chat.top_p":           0.95,
	"nats.subject":         "reviews.ingested",
	"metrics.enabled":      true,
}

// Chat generator providers.
const (
	ChatGemini = "gemini"
	ChatOllama = "ollama"
	ChatNone   = "none"
)

// LoadDotEnv loads KEY=VALUE pairs from the given files into the process
// environment without overriding variables that are already set. Missing
// files are skipped.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("config: load %s: %w", p, err)
		}
	}
	return nil
}

// Load builds a Config. path may be empty to skip the YAML file.
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	for key, v := range defaults {
		if err := k.Set(key, v); err != nil {
			return nil, fmt.Errorf("config: default %s: %w", key, err)
		}
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("config: load %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("config: load env: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// envKey maps PROFRAG_INDEX_API_KEY to index.api_key. Only the first
// underscore separates section from key, since keys contain underscores.
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.Replace(s, "_", ".", 1)
}

// Validate rejects settings no component can run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Server.RateLimit < 0 {
		errs = append(errs, fmt.Errorf("server.rate_limit must not be negative"))
	}
	if c.Store.Path == "" {
		errs = append(errs, fmt.Errorf("store.path is required"))
	}
	if c.Scraper.Timeout < 0 {
		errs = append(errs, fmt.Errorf("scraper.timeout must not be negative"))
	}
	switch strings.ToLower(c.Embed.Provider) {
	case embed.ProviderVertex, embed.ProviderGemini, embed.ProviderOpenAI, embed.ProviderOllama, embed.ProviderFake:
	default:
		errs = append(errs, fmt.Errorf("embed.provider %q unknown", c.Embed.Provider))
	}
	if c.Embed.Dimensionality < 0 {
		errs = append(errs, fmt.Errorf("embed.dimensionality must not be negative"))
	}
	if c.Index.Dimension <= 0 {
		errs = append(errs, fmt.Errorf("index.dimension must be positive"))
	}
	if _, err := semantic.ParseMetric(c.Index.Metric); err != nil {
		errs = append(errs, err)
	}
	if _, err := domain.ParseIDScheme(c.Index.IDScheme); err != nil {
		errs = append(errs, err)
	}
	switch strings.ToLower(c.Chat.Provider) {
	case ChatGemini, ChatOllama, ChatNone:
	default:
		errs = append(errs, fmt.Errorf("chat.provider %q unknown", c.Chat.Provider))
	}
	if c.Chat.TopK <= 0 {
		errs = append(errs, fmt.Errorf("chat.top_k must be positive"))
	}
	switch c.Log.Format {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("log.format %q unknown", c.Log.Format))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// IDScheme returns the parsed index.id_scheme. Call after Validate.
func (c *Config) IDScheme() domain.IDScheme {
	s, _ := domain.ParseIDScheme(c.Index.IDScheme)
	return s
}

// EmbedProvider maps the embed section to provider settings.
func (c *Config) EmbedProvider() embed.ProviderConfig {
	return embed.ProviderConfig{
		Provider: c.Embed.Provider,
		Project:  c.Embed.Project,
		Location: c.Embed.Location,
		APIKey:   c.Embed.APIKey,
		BaseURL:  c.Embed.BaseURL,
		Model:    c.Embed.Model,
	}
}

// EmbedOptions returns the model and dimensionality the pipeline embeds with.
func (c *Config) EmbedOptions() embed.Options {
	return embed.Options{Model: c.Embed.Model, Dimensionality: c.Embed.Dimensionality}
}

// IndexOptions maps the index section to connection settings.
func (c *Config) IndexOptions() semantic.Options {
	return semantic.Options{
		Addr:       c.Index.Addr,
		APIKey:     c.Index.APIKey,
		TLS:        c.Index.TLS,
		Collection: c.Index.Name,
		Metric:     c.Index.Metric,
	}
}
