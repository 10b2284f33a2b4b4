// Package config loads the application configuration from an optional
// YAML file with environment-variable overrides (prefix REPLYPOST_).
package config

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
)

var (
	cfg  *Config
	once sync.Once
	mu   sync.RWMutex
)

// Config is the application configuration.
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Token    TokenConfig    `mapstructure:"token"`
	Mailbox  MailboxConfig  `mapstructure:"mailbox"`
	Poll     PollConfig     `mapstructure:"poll"`
	Reply    ReplyConfig    `mapstructure:"reply"`
	Webhooks WebhookConfig  `mapstructure:"webhooks"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

type AppConfig struct {
	Name string `mapstructure:"name"`
	Env  string `mapstructure:"env"`
}

type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type DatabaseConfig struct {
	Driver string `mapstructure:"driver"` // mysql, postgres, sqlite3
	DSN    string `mapstructure:"dsn"`
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// TokenConfig keys the routing-token codec.
type TokenConfig struct {
	Secret string `mapstructure:"secret"`
}

// MailboxConfig describes the reply mailbox and addressing scheme.
type MailboxConfig struct {
	Type     string `mapstructure:"type"` // imap, imaps, pop3, pop3s
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Folder   string `mapstructure:"folder"`

	// AddressingMode is "tag" (user+TOKEN@domain) or "subdomain"
	// (TOKEN@reply.domain).
	AddressingMode string `mapstructure:"addressing_mode"`
	TagChar        string `mapstructure:"tag_char"`
}

type PollConfig struct {
	MaxDuration   time.Duration `mapstructure:"max_duration"`
	Sleep         time.Duration `mapstructure:"sleep"`
	MaxReconnects int           `mapstructure:"max_reconnects"`
	AutoReconnect bool          `mapstructure:"auto_reconnect"`
	MarkerDir     string        `mapstructure:"marker_dir"`

	// Schedule is the cron expression for the run command.
	Schedule string `mapstructure:"schedule"`
}

type ReplyConfig struct {
	Marker string `mapstructure:"marker"`
}

// WebhookConfig maps provider names to shared secrets; providers without a
// secret are disabled.
type WebhookConfig struct {
	Secrets     map[string]string `mapstructure:"secrets"`
	MandrillURL string            `mapstructure:"mandrill_url"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "replypost")
	v.SetDefault("app.env", "development")
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 10*time.Second)
	v.SetDefault("database.driver", "sqlite3")
	v.SetDefault("database.dsn", "replypost.db")
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("mailbox.type", "imaps")
	v.SetDefault("mailbox.addressing_mode", "tag")
	v.SetDefault("mailbox.tag_char", "+")
	v.SetDefault("poll.max_duration", 10*time.Minute)
	v.SetDefault("poll.sleep", 15*time.Second)
	v.SetDefault("poll.max_reconnects", 3)
	v.SetDefault("poll.marker_dir", "/tmp/replypost")
	v.SetDefault("poll.schedule", "*/15 * * * *")
	v.SetDefault("reply.marker", "--- Reply ABOVE THIS LINE ---")
	v.SetDefault("logging.level", "info")
}

func read(v *viper.Viper, path string) (*Config, error) {
	setDefaults(v)
	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}
	v.SetEnvPrefix("REPLYPOST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	c := &Config{}
	if err := v.Unmarshal(c); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	return c, nil
}

// Load reads the configuration once. An empty path uses defaults and
// environment variables only.
func Load(path string) error {
	var err error
	once.Do(func() {
		var c *Config
		c, err = read(viper.New(), path)
		if err != nil {
			return
		}
		mu.Lock()
		cfg = c
		mu.Unlock()
	})
	return err
}

// LoadFromFile parses a specific file without touching the singleton,
// useful for tests.
func LoadFromFile(path string) (*Config, error) {
	return read(viper.New(), path)
}

// Get returns the loaded configuration.
func Get() *Config {
	mu.RLock()
	defer mu.RUnlock()
	return cfg
}

// Validate rejects configurations the pipeline cannot run with.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Token.Secret) == "" {
		return errors.New("config: token.secret is required")
	}
	switch c.Mailbox.AddressingMode {
	case "tag", "subdomain":
	default:
		return fmt.Errorf("config: unknown addressing_mode %q", c.Mailbox.AddressingMode)
	}
	if len(c.Mailbox.TagChar) != 1 {
		return fmt.Errorf("config: tag_char must be a single character, got %q", c.Mailbox.TagChar)
	}
	return nil
}

// ServerAddr returns the HTTP listen address.
func (c *ServerConfig) ServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Addr returns the Redis server address.
func (c *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
