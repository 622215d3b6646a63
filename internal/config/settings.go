package config

import (
	"sort"
	"strconv"
	"strings"
)

type setter func(cfg *Config, val string)

func setString(field func(*Config) *string) setter {
	return func(cfg *Config, val string) { *field(cfg) = val }
}

func setBool(field func(*Config) *bool) setter {
	return func(cfg *Config, val string) { *field(cfg) = val == "true" }
}

// runtimeSettings lists the keys the settings table may override. Registry
// policy is absent on purpose: it only comes from the config file.
var runtimeSettings = map[string]setter{
	"monitor.check_interval": func(cfg *Config, val string) {
		if val != "" {
			cfg.Monitor.CheckInterval = val
		}
	},
	"monitor.alert_days": func(cfg *Config, val string) {
		if days := ParseAlertDays(val); len(days) > 0 {
			cfg.Monitor.AlertDays = days
		}
	},

	"email.enabled":   setBool(func(c *Config) *bool { return &c.Notifications.Email.Enabled }),
	"email.smtp_host": setString(func(c *Config) *string { return &c.Notifications.Email.SMTPHost }),
	"email.smtp_port": func(cfg *Config, val string) {
		if port, err := strconv.Atoi(val); err == nil {
			cfg.Notifications.Email.SMTPPort = port
		}
	},
	"email.from":     setString(func(c *Config) *string { return &c.Notifications.Email.From }),
	"email.password": setString(func(c *Config) *string { return &c.Notifications.Email.Password }),
	"email.to": func(cfg *Config, val string) {
		if val != "" {
			cfg.Notifications.Email.To = strings.Split(val, ",")
		}
	},

	"webhook.enabled": setBool(func(c *Config) *bool { return &c.Notifications.Webhook.Enabled }),
	"webhook.url":     setString(func(c *Config) *string { return &c.Notifications.Webhook.URL }),

	"telegram.enabled":   setBool(func(c *Config) *bool { return &c.Notifications.Telegram.Enabled }),
	"telegram.bot_token": setString(func(c *Config) *string { return &c.Notifications.Telegram.BotToken }),
	"telegram.chat_id":   setString(func(c *Config) *string { return &c.Notifications.Telegram.ChatID }),
	"telegram.proxy":     setString(func(c *Config) *string { return &c.Notifications.Telegram.Proxy }),

	"dingding.enabled": setBool(func(c *Config) *bool { return &c.Notifications.DingDing.Enabled }),
	"dingding.webhook": setString(func(c *Config) *string { return &c.Notifications.DingDing.Webhook }),
	"dingding.secret":  setString(func(c *Config) *string { return &c.Notifications.DingDing.Secret }),
}

// ApplySettings overrides monitor and notification settings with values
// stored at runtime. Unknown keys are ignored.
func ApplySettings(cfg *Config, settings map[string]string) {
	for key, val := range settings {
		if set, ok := runtimeSettings[key]; ok {
			set(cfg, val)
		}
	}
}

// SettingKeys returns the keys ApplySettings understands, sorted.
func SettingKeys() []string {
	keys := make([]string, 0, len(runtimeSettings))
	for key := range runtimeSettings {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// IsSettingKey reports whether key may be stored in the settings table.
func IsSettingKey(key string) bool {
	_, ok := runtimeSettings[key]
	return ok
}

// ParseAlertDays parses comma-separated days, skipping anything not a number
func ParseAlertDays(val string) []int {
	days := []int{}
	for _, d := range strings.Split(val, ",") {
		if day, err := strconv.Atoi(strings.TrimSpace(d)); err == nil {
			days = append(days, day)
		}
	}
	return days
}
