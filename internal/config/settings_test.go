package config

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestApplySettings(t *testing.T) {
	cfg := Default()
	cfg.Registry.Administrator = "0xadmin"

	ApplySettings(cfg, map[string]string{
		"monitor.check_interval": "@hourly",
		"monitor.alert_days":     "14, 3,x",
		"webhook.enabled":        "true",
		"webhook.url":            "https://hooks.example.com",
		"email.smtp_port":        "465",
		"email.to":               "a@example.com,b@example.com",
		"telegram.proxy":         "127.0.0.1:7890",
		"registry.administrator": "0xevil",
	})

	assert.Equal(t, "@hourly", cfg.Monitor.CheckInterval)
	assert.Equal(t, []int{14, 3}, cfg.Monitor.AlertDays)
	assert.True(t, cfg.Notifications.Webhook.Enabled)
	assert.Equal(t, "https://hooks.example.com", cfg.Notifications.Webhook.URL)
	assert.Equal(t, 465, cfg.Notifications.Email.SMTPPort)
	assert.Equal(t, []string{"a@example.com", "b@example.com"}, cfg.Notifications.Email.To)
	assert.Equal(t, "127.0.0.1:7890", cfg.Notifications.Telegram.Proxy)
	assert.Equal(t, "0xadmin", cfg.Registry.Administrator)
}

func TestApplySettingsKeepsAlertDaysOnGarbage(t *testing.T) {
	cfg := Default()
	ApplySettings(cfg, map[string]string{"monitor.alert_days": "soon"})
	assert.Equal(t, []int{30, 7, 1}, cfg.Monitor.AlertDays)
}

func TestSettingKeys(t *testing.T) {
	keys := SettingKeys()
	assert.Contains(t, keys, "monitor.alert_days")
	assert.Contains(t, keys, "telegram.proxy")
	assert.NotContains(t, keys, "registry.administrator")
	assert.NotContains(t, keys, "registry.min_fee")
	assert.True(t, sort.StringsAreSorted(keys))

	assert.True(t, IsSettingKey("dingding.secret"))
	assert.False(t, IsSettingKey("registry.validity_period"))
}
