package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for DocChat
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	LLM      LLMConfig      `mapstructure:"llm"`
	Chat     ChatConfig     `mapstructure:"chat"`
	Upload   UploadConfig   `mapstructure:"upload"`
	Log      LogConfig      `mapstructure:"log"`
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	APIKey       string        `mapstructure:"api_key"`
	AllowOrigins []string      `mapstructure:"allow_origins"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	// WriteTimeout of zero keeps long-lived event streams open.
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// LLMConfig holds the upstream chat-completion provider configuration
type LLMConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	APIKey  string        `mapstructure:"api_key"`
	Model   string        `mapstructure:"model"`
	Referer string        `mapstructure:"referer"`
	Title   string        `mapstructure:"title"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// ChatConfig holds prompt assembly configuration
type ChatConfig struct {
	SystemPrompt     string        `mapstructure:"system_prompt"`
	MaxPDFTokens     int           `mapstructure:"max_pdf_tokens"`
	MaxHistoryTokens int           `mapstructure:"max_history_tokens"`
	FinalizeTimeout  time.Duration `mapstructure:"finalize_timeout"`
}

// UploadConfig holds PDF upload limits
type UploadConfig struct {
	MaxBytes int64 `mapstructure:"max_bytes"`
}

// LogConfig holds logger configuration
type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
	File        string `mapstructure:"file"`
	MaxSizeMB   int    `mapstructure:"max_size_mb"`
	MaxBackups  int    `mapstructure:"max_backups"`
	MaxAgeDays  int    `mapstructure:"max_age_days"`
}

// legacyAPIKeyEnv is the variable the first deployment read the provider key from.
const legacyAPIKeyEnv = "DEEP"

// Load loads configuration from file and environment
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	// DOCCHAT_LLM_API_KEY maps to llm.api_key
	v.SetEnvPrefix("DOCCHAT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.LLM.APIKey == "" {
		if err := v.BindEnv("llm_legacy_key", legacyAPIKeyEnv); err == nil {
			cfg.LLM.APIKey = v.GetString("llm_legacy_key")
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.api_key", "")
	v.SetDefault("server.allow_origins", []string{"*"})
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", time.Duration(0))
	v.SetDefault("server.idle_timeout", 120*time.Second)

	v.SetDefault("database.path", "./data/chat_history.db")

	v.SetDefault("llm.base_url", "https://openrouter.ai/api/v1")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.model", "deepseek/deepseek-chat")
	v.SetDefault("llm.referer", "http://localhost:3000")
	v.SetDefault("llm.title", "AI Chatbot")
	v.SetDefault("llm.timeout", 60*time.Second)

	v.SetDefault("chat.system_prompt", "You are a helpful AI assistant.")
	v.SetDefault("chat.max_pdf_tokens", 4000)
	v.SetDefault("chat.max_history_tokens", 2000)
	v.SetDefault("chat.finalize_timeout", 10*time.Second)

	v.SetDefault("upload.max_bytes", 32<<20)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age_days", 28)
}

// Validate reports configuration that cannot start a server
func (c *Config) Validate() error {
	if c.LLM.APIKey == "" {
		return fmt.Errorf("llm.api_key is not set (DOCCHAT_LLM_API_KEY or %s)", legacyAPIKeyEnv)
	}
	if c.Chat.MaxPDFTokens < 0 || c.Chat.MaxHistoryTokens < 0 {
		return fmt.Errorf("token ceilings must not be negative")
	}
	return nil
}

// Address returns the server address
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
