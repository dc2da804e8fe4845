// Package config loads the engine's layered configuration: defaults →
// global ~/.memengine/config.yaml → local ./config.yaml → environment
// variables, following the same precedence order as the teacher's gateway
// config loader.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"github.com/nine5427/memengine/internal/domain/memengine"
)

// Config is the top-level engine configuration.
type Config struct {
	Log      LogConfig      `mapstructure:"log"`
	Provider ProviderConfig `mapstructure:"provider"`
	Store    StoreConfig    `mapstructure:"store"`
	Memory   MemoryConfig   `mapstructure:"memory"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// ProviderConfig selects the (provider, model) pair used for token counting
// and summarization, plus the LLM client used to produce summaries.
type ProviderConfig struct {
	Name    string        `mapstructure:"name"`     // anthropic, openai, gemini
	Model   string        `mapstructure:"model"`    // e.g. claude-3-5-sonnet-20241022
	BaseURL string        `mapstructure:"base_url"` // summarizer endpoint, if not the default
	APIKey  string        `mapstructure:"api_key"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// StoreConfig selects and configures the Session Store backend.
type StoreConfig struct {
	Backend string `mapstructure:"backend"` // "file" or "sql"

	// Backend: file
	RootDir string `mapstructure:"root_dir"`

	// Backend: sql
	Dialect string `mapstructure:"dialect"` // sqlite, postgres
	DSN     string `mapstructure:"dsn"`
}

// MemoryConfig maps directly onto memengine.Config's tunables.
type MemoryConfig struct {
	MaxContextTokens          int      `mapstructure:"max_context_tokens"`
	TargetWorkingMemoryTokens int      `mapstructure:"target_working_memory_tokens"`
	CompressionThreshold      int      `mapstructure:"compression_threshold"`
	ShortTermMessageCount     int      `mapstructure:"short_term_message_count"`
	CompressionRatio          float64  `mapstructure:"compression_ratio"`
	PreserveToolCalls         bool     `mapstructure:"preserve_tool_calls"`
	PreserveSystemPrompts     bool     `mapstructure:"preserve_system_prompts"`
	EnableCompression         bool     `mapstructure:"enable_compression"`
	Strategy                  string   `mapstructure:"strategy"` // "", deletion, sliding_window, selective, hierarchical
	ProtectedTools            []string `mapstructure:"protected_tools"`
	MinRecencyWindow          int      `mapstructure:"min_recency_window"`
}

// ToMemEngineConfig converts the loaded configuration into memengine.Config,
// merging user-specified protected tools with the built-in allowlist.
func (m MemoryConfig) ToMemEngineConfig() memengine.Config {
	protected := append([]string(nil), memengine.BuiltinProtectedTools...)
	protected = append(protected, m.ProtectedTools...)

	return memengine.Config{
		MaxContextTokens:          m.MaxContextTokens,
		TargetWorkingMemoryTokens: m.TargetWorkingMemoryTokens,
		CompressionThreshold:      m.CompressionThreshold,
		ShortTermMessageCount:     m.ShortTermMessageCount,
		CompressionRatio:          m.CompressionRatio,
		PreserveToolCalls:         m.PreserveToolCalls,
		PreserveSystemPrompts:     m.PreserveSystemPrompts,
		EnableCompression:         m.EnableCompression,
		Strategy:                  memengine.Strategy(m.Strategy),
		ProtectedTools:            protected,
		MinRecencyWindow:          m.MinRecencyWindow,
	}
}

// Load reads the layered configuration: defaults, then global
// ~/.memengine/config.yaml, then a local ./config.yaml overlay, then
// MEMENGINE-prefixed environment variables.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	globalDir := filepath.Join(os.Getenv("HOME"), ".memengine")
	v.AddConfigPath(globalDir)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read global config: %w", err)
		}
	}

	localPath := filepath.Join(".", "config.yaml")
	if _, err := os.Stat(localPath); err == nil {
		v2 := viper.New()
		v2.SetConfigFile(localPath)
		if err := v2.ReadInConfig(); err == nil {
			_ = v.MergeConfigMap(v2.AllSettings())
		}
	}

	v.SetEnvPrefix("MEMENGINE")
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("provider.name", "anthropic")
	v.SetDefault("provider.model", "claude-3-5-sonnet-20241022")
	v.SetDefault("provider.timeout", "60s")

	v.SetDefault("store.backend", "file")
	v.SetDefault("store.root_dir", filepath.Join(os.Getenv("HOME"), ".memengine", "sessions"))
	v.SetDefault("store.dialect", "sqlite")
	v.SetDefault("store.dsn", "memengine.db")

	def := memengine.DefaultConfig()
	v.SetDefault("memory.max_context_tokens", def.MaxContextTokens)
	v.SetDefault("memory.target_working_memory_tokens", def.TargetWorkingMemoryTokens)
	v.SetDefault("memory.compression_threshold", def.CompressionThreshold)
	v.SetDefault("memory.short_term_message_count", def.ShortTermMessageCount)
	v.SetDefault("memory.compression_ratio", def.CompressionRatio)
	v.SetDefault("memory.preserve_tool_calls", def.PreserveToolCalls)
	v.SetDefault("memory.preserve_system_prompts", def.PreserveSystemPrompts)
	v.SetDefault("memory.enable_compression", def.EnableCompression)
	v.SetDefault("memory.strategy", string(def.Strategy))
	v.SetDefault("memory.protected_tools", []string{})
	v.SetDefault("memory.min_recency_window", def.MinRecencyWindow)
}
