// Package config provides YAML-based configuration loading for Switchboard.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the top-level Switchboard configuration, loaded from config.yaml.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	DB       DBConfig       `yaml:"db"`
	Redis    RedisConfig    `yaml:"redis"`
	Append   AppendConfig   `yaml:"append"`
	Share    ShareConfig    `yaml:"share"`
	Executor ExecutorConfig `yaml:"executor"`
	Notify   NotifyConfig   `yaml:"notify"`
	Git      GitConfig      `yaml:"git"`
	Sweeper  SweeperConfig  `yaml:"sweeper"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// DBConfig holds connection settings for the MySQL server.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
}

// RedisConfig holds connection settings for the streaming cache.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// AppendConfig controls how long a finished task accepts follow-up turns.
type AppendConfig struct {
	ChatExpireHours int `yaml:"chat_expire_hours"`
	CodeExpireHours int `yaml:"code_expire_hours"`
}

// ShareConfig holds the share-token cipher material and link base URL.
// Key must be 32 bytes (AES-256) and IV 16 bytes.
type ShareConfig struct {
	AESKey  string `yaml:"aes_key"`
	AESIV   string `yaml:"aes_iv"`
	BaseURL string `yaml:"base_url"`
}

// ExecutorConfig points at the external executor service used for teardown.
type ExecutorConfig struct {
	BaseURL string `yaml:"base_url"`
}

// NotifyConfig configures optional task-event notifications.
type NotifyConfig struct {
	Slack   SlackConfig   `yaml:"slack"`
	Discord DiscordConfig `yaml:"discord"`
}

// SlackConfig holds Slack notifier credentials.
type SlackConfig struct {
	BotToken  string `yaml:"bot_token"`
	ChannelID string `yaml:"channel_id"`
}

// DiscordConfig holds Discord notifier credentials.
type DiscordConfig struct {
	BotToken  string `yaml:"bot_token"`
	ChannelID string `yaml:"channel_id"`
}

// GitConfig holds repository-provider tokens for workspace lookups.
type GitConfig struct {
	GitHubToken string `yaml:"github_token"`
}

// SweeperConfig controls the stale-placeholder sweep.
type SweeperConfig struct {
	Schedule string `yaml:"schedule"` // 5-field cron expression
	MaxAgeHr int    `yaml:"max_age_hours"`
}

// Load reads a YAML config file from path and returns a validated Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes into a validated Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.DB.Host == "" {
		c.DB.Host = "127.0.0.1"
	}
	if c.DB.Port == 0 {
		c.DB.Port = 3306
	}
	if c.DB.Database == "" {
		c.DB.Database = "switchboard"
	}
	if c.DB.User == "" {
		c.DB.User = "root"
	}
	if c.Redis.Addr == "" {
		c.Redis.Addr = "127.0.0.1:6379"
	}
	if c.Append.ChatExpireHours == 0 {
		c.Append.ChatExpireHours = 72
	}
	if c.Append.CodeExpireHours == 0 {
		c.Append.CodeExpireHours = 24
	}
	if c.Sweeper.Schedule == "" {
		c.Sweeper.Schedule = "0 * * * *"
	}
	if c.Sweeper.MaxAgeHr == 0 {
		c.Sweeper.MaxAgeHr = 24
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	if c.Share.AESKey != "" && len(c.Share.AESKey) != 32 {
		errs = append(errs, "share.aes_key must be 32 bytes")
	}
	if c.Share.AESIV != "" && len(c.Share.AESIV) != 16 {
		errs = append(errs, "share.aes_iv must be 16 bytes")
	}
	if c.Notify.Slack.BotToken != "" && c.Notify.Slack.ChannelID == "" {
		errs = append(errs, "notify.slack.channel_id is required when a bot token is set")
	}
	if c.Notify.Discord.BotToken != "" && c.Notify.Discord.ChannelID == "" {
		errs = append(errs, "notify.discord.channel_id is required when a bot token is set")
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
