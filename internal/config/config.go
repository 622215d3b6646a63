package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"certdao/internal/registry"
)

// Config represents the application configuration
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Database      DatabaseConfig      `yaml:"database"`
	Log           LogConfig           `yaml:"log"`
	Auth          AuthConfig          `yaml:"auth"`
	Registry      RegistryConfig      `yaml:"registry"`
	Monitor       MonitorConfig       `yaml:"monitor"`
	Notifications NotificationsConfig `yaml:"notifications"`
}

// ServerConfig represents server configuration
type ServerConfig struct {
	Port string `yaml:"port"`
	Mode string `yaml:"mode"` // debug/release
}

// DatabaseConfig represents database configuration
type DatabaseConfig struct {
	Type string `yaml:"type"` // sqlite
	Path string `yaml:"path"`
}

// LogConfig represents logging configuration
type LogConfig struct {
	Level  string `yaml:"level"`  // trace/debug/info/warn/error
	Format string `yaml:"format"` // text/json
}

// AuthConfig represents authentication configuration
type AuthConfig struct {
	JWTSecret     string `yaml:"jwt_secret"`
	TokenTTL      string `yaml:"token_ttl"`
	AdminUsername string `yaml:"admin_username"`
	AdminPassword string `yaml:"admin_password"`
}

// RegistryConfig represents certification policy
type RegistryConfig struct {
	Administrator     string                  `yaml:"administrator"`
	MinFee            string                  `yaml:"min_fee"`
	ValidityPeriod    string                  `yaml:"validity_period"`
	SelfCertification SelfCertificationConfig `yaml:"self_certification"`
}

// SelfCertificationConfig is the pair certified by the administrator at startup
type SelfCertificationConfig struct {
	Subject string `yaml:"subject"`
	Domain  string `yaml:"domain"`
}

// MonitorConfig represents expiry monitoring configuration
type MonitorConfig struct {
	CheckInterval string `yaml:"check_interval"` // Cron expression
	AlertDays     []int  `yaml:"alert_days"`
}

// NotificationsConfig represents notification configuration
type NotificationsConfig struct {
	Email    EmailConfig    `yaml:"email"`
	Webhook  WebhookConfig  `yaml:"webhook"`
	Telegram TelegramConfig `yaml:"telegram"`
	DingDing DingDingConfig `yaml:"dingding"`
}

// EmailConfig represents email notification configuration
type EmailConfig struct {
	Enabled  bool     `yaml:"enabled"`
	SMTPHost string   `yaml:"smtp_host"`
	SMTPPort int      `yaml:"smtp_port"`
	From     string   `yaml:"from"`
	Password string   `yaml:"password"`
	To       []string `yaml:"to"`
}

// WebhookConfig represents webhook notification configuration
type WebhookConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
}

// TelegramConfig represents Telegram notification configuration
type TelegramConfig struct {
	Enabled  bool   `yaml:"enabled"`
	BotToken string `yaml:"bot_token"`
	ChatID   string `yaml:"chat_id"`
	APIURL   string `yaml:"api_url"`
	Proxy    string `yaml:"proxy"` // SOCKS5 address, e.g. 127.0.0.1:7890
}

// DingDingConfig represents DingTalk notification configuration
type DingDingConfig struct {
	Enabled bool   `yaml:"enabled"`
	Webhook string `yaml:"webhook"`
	Secret  string `yaml:"secret"`
}

// Default returns the configuration used for anything the file leaves out
func Default() *Config {
	return &Config{
		Server:   ServerConfig{Port: "8080", Mode: "debug"},
		Database: DatabaseConfig{Type: "sqlite", Path: "certdao.db"},
		Log:      LogConfig{Level: "info", Format: "text"},
		Auth: AuthConfig{
			TokenTTL:      "168h",
			AdminUsername: "admin",
		},
		Registry: RegistryConfig{
			MinFee:         registry.MinFee.String(),
			ValidityPeriod: registry.ValidityPeriod.String(),
		},
		Monitor: MonitorConfig{
			CheckInterval: "0 9 * * *",
			AlertDays:     []int{30, 7, 1},
		},
		Notifications: NotificationsConfig{
			Telegram: TelegramConfig{APIURL: "https://api.telegram.org"},
		},
	}
}

// LoadConfig loads configuration from a YAML file on top of Default
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes YAML on top of Default and validates the result
func Parse(data []byte) (*Config, error) {
	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate checks the fields the service cannot start without
func (c *Config) Validate() error {
	if c.Registry.Administrator == "" {
		return fmt.Errorf("registry.administrator is required")
	}
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}
	if _, err := c.Registry.Fee(); err != nil {
		return err
	}
	if _, err := c.Registry.Validity(); err != nil {
		return err
	}
	if _, err := c.Auth.TTL(); err != nil {
		return err
	}
	sc := c.Registry.SelfCertification
	if (sc.Subject == "") != (sc.Domain == "") {
		return fmt.Errorf("registry.self_certification needs both subject and domain")
	}
	return nil
}

// Fee parses MinFee
func (c RegistryConfig) Fee() (registry.Amount, error) {
	fee, err := registry.ParseAmount(c.MinFee)
	if err != nil {
		return 0, fmt.Errorf("registry.min_fee: %w", err)
	}
	return fee, nil
}

// Validity parses ValidityPeriod
func (c RegistryConfig) Validity() (time.Duration, error) {
	d, err := time.ParseDuration(c.ValidityPeriod)
	if err != nil {
		return 0, fmt.Errorf("registry.validity_period: %w", err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("registry.validity_period must be positive")
	}
	return d, nil
}

// TTL parses TokenTTL
func (c AuthConfig) TTL() (time.Duration, error) {
	d, err := time.ParseDuration(c.TokenTTL)
	if err != nil {
		return 0, fmt.Errorf("auth.token_ttl: %w", err)
	}
	return d, nil
}
