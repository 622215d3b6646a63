package services

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/smtp"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/net/proxy"
	"gorm.io/gorm"

	"certdao/internal/config"
	"certdao/internal/models"
	"certdao/internal/registry"
)

// NoticeExpiryAlert is the kind of notices sent by the expiry monitor
const NoticeExpiryAlert = "ExpiryAlert"

// Notice is what notifiers deliver: a lifecycle event or an expiry alert
type Notice struct {
	Kind          string    `json:"kind"`
	Subject       string    `json:"subject"`
	Domain        string    `json:"domain"`
	Actor         string    `json:"actor,omitempty"`
	ExpiresAt     time.Time `json:"expires_at"`
	DaysRemaining int       `json:"days_remaining,omitempty"`
	At            time.Time `json:"at"`
}

// NoticeFromEvent converts a registry event into a notice
func NoticeFromEvent(e registry.Event) Notice {
	return Notice{
		Kind:      string(e.Kind),
		Subject:   e.Subject.String(),
		Domain:    e.Domain,
		Actor:     e.Actor.String(),
		ExpiresAt: e.ExpiresAt,
		At:        e.At,
	}
}

// Title is a one-line summary of the notice
func (n Notice) Title() string {
	switch n.Kind {
	case NoticeExpiryAlert:
		return fmt.Sprintf("Certification of %s for %s expires in %d days", n.Domain, n.Subject, n.DaysRemaining)
	case string(registry.EventSubmitted):
		return fmt.Sprintf("%s submitted %s for validation", n.Subject, n.Domain)
	default:
		return fmt.Sprintf("Certification of %s for %s: %s", n.Domain, n.Subject, n.Kind)
	}
}

// Body is the multi-line text of the notice
func (n Notice) Body() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n\n", n.Title())
	fmt.Fprintf(&b, "Subject: %s\n", n.Subject)
	fmt.Fprintf(&b, "Domain: %s\n", n.Domain)
	fmt.Fprintf(&b, "Event: %s\n", n.Kind)
	if n.Actor != "" {
		fmt.Fprintf(&b, "Actor: %s\n", n.Actor)
	}
	if !n.ExpiresAt.IsZero() {
		fmt.Fprintf(&b, "Expires: %s\n", n.ExpiresAt.Format("2006-01-02 15:04:05"))
	}
	fmt.Fprintf(&b, "Time: %s\n", n.At.Format("2006-01-02 15:04:05"))
	return b.String()
}

// Notifier interface for different notification types
type Notifier interface {
	Name() string
	Send(ctx context.Context, n Notice) error
}

// NotifyService fans notices out to every enabled notifier. As a
// registry.Sink it delivers in the background so a slow channel never
// holds up a transition.
type NotifyService struct {
	notifiers []Notifier
	db        *gorm.DB
	log       logrus.FieldLogger
	wg        sync.WaitGroup
}

// NewNotifyService creates a new notification service
func NewNotifyService(cfg *config.NotificationsConfig, db *gorm.DB, log logrus.FieldLogger) *NotifyService {
	service := NewNotifyServiceWith(db, log)

	// Add enabled notifiers
	if cfg.Email.Enabled {
		service.notifiers = append(service.notifiers, NewEmailNotifier(&cfg.Email))
	}

	if cfg.Webhook.Enabled {
		service.notifiers = append(service.notifiers, NewWebhookNotifier(&cfg.Webhook))
	}

	if cfg.Telegram.Enabled {
		service.notifiers = append(service.notifiers, NewTelegramNotifier(&cfg.Telegram, log))
	}

	if cfg.DingDing.Enabled {
		service.notifiers = append(service.notifiers, NewDingDingNotifier(&cfg.DingDing))
	}

	return service
}

// NewNotifyServiceWith creates a service over explicit notifiers
func NewNotifyServiceWith(db *gorm.DB, log logrus.FieldLogger, notifiers ...Notifier) *NotifyService {
	return &NotifyService{
		notifiers: notifiers,
		db:        db,
		log:       log,
	}
}

// Enabled reports whether any notifier is configured
func (s *NotifyService) Enabled() bool {
	return len(s.notifiers) > 0
}

// Publish implements registry.Sink
func (s *NotifyService) Publish(_ context.Context, e registry.Event) error {
	if !s.Enabled() {
		return nil
	}
	notice := NoticeFromEvent(e)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if err := s.SendNotification(ctx, notice); err != nil {
			s.log.WithError(err).WithField("subject", notice.Subject).Warn("Event notification failed")
		}
	}()
	return nil
}

// Wait blocks until background deliveries have finished
func (s *NotifyService) Wait() {
	s.wg.Wait()
}

// SendNotification sends a notice through all enabled channels
func (s *NotifyService) SendNotification(ctx context.Context, n Notice) error {
	var lastErr error
	successCount := 0

	for _, notifier := range s.notifiers {
		entry := s.log.WithFields(logrus.Fields{"notifier": notifier.Name(), "subject": n.Subject, "kind": n.Kind})
		if err := notifier.Send(ctx, n); err != nil {
			entry.WithError(err).Error("Notification failed")
			lastErr = err
			s.recordNotification(n, notifier, "failed")
			continue
		}

		s.recordNotification(n, notifier, "success")
		successCount++
		entry.Info("Notification sent")
	}

	if successCount > 0 {
		// At least one succeeded, don't return error
		return nil
	}

	return lastErr
}

// recordNotification records notification in database
func (s *NotifyService) recordNotification(n Notice, notifier Notifier, status string) {
	if s.db == nil {
		return
	}

	notification := &models.Notification{
		Subject: n.Subject,
		Kind:    n.Kind,
		Type:    notifier.Name(),
		Content: n.Title(),
		Status:  status,
		SentAt:  time.Now(),
	}

	if err := s.db.Create(notification).Error; err != nil {
		s.log.WithError(err).Warn("Failed to record notification")
	}
}

// EmailNotifier sends email notifications
type EmailNotifier struct {
	config *config.EmailConfig
	send   func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewEmailNotifier creates a new email notifier
func NewEmailNotifier(cfg *config.EmailConfig) *EmailNotifier {
	return &EmailNotifier{config: cfg, send: smtp.SendMail}
}

func (e *EmailNotifier) Name() string { return "email" }

// Send sends email notification
func (e *EmailNotifier) Send(_ context.Context, n Notice) error {
	// Build email message
	var message strings.Builder
	fmt.Fprintf(&message, "From: %s\r\n", e.config.From)
	fmt.Fprintf(&message, "To: %s\r\n", strings.Join(e.config.To, ","))
	fmt.Fprintf(&message, "Subject: %s\r\n", n.Title())
	message.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	message.WriteString("\r\n")
	message.WriteString(n.Body())

	// SMTP authentication
	auth := smtp.PlainAuth("", e.config.From, e.config.Password, e.config.SMTPHost)

	addr := fmt.Sprintf("%s:%d", e.config.SMTPHost, e.config.SMTPPort)
	err := e.send(addr, auth, e.config.From, e.config.To, []byte(message.String()))
	if err != nil {
		// Some providers answer "short response" after accepting the message
		if !strings.Contains(err.Error(), "short response") {
			return fmt.Errorf("failed to send email: %w", err)
		}
	}
	return nil
}

// WebhookNotifier sends webhook notifications
type WebhookNotifier struct {
	config *config.WebhookConfig
	client *http.Client
}

// NewWebhookNotifier creates a new webhook notifier
func NewWebhookNotifier(cfg *config.WebhookConfig) *WebhookNotifier {
	return &WebhookNotifier{config: cfg, client: &http.Client{Timeout: 30 * time.Second}}
}

func (w *WebhookNotifier) Name() string { return "webhook" }

// Send posts the notice as JSON
func (w *WebhookNotifier) Send(ctx context.Context, n Notice) error {
	return postJSON(ctx, w.client, w.config.URL, n, "webhook")
}

// TelegramNotifier sends Telegram notifications
type TelegramNotifier struct {
	config *config.TelegramConfig
	client *http.Client
}

// NewTelegramNotifier creates a new Telegram notifier, dialing through a
// SOCKS5 proxy when one is configured
func NewTelegramNotifier(cfg *config.TelegramConfig, log logrus.FieldLogger) *TelegramNotifier {
	client := &http.Client{
		Timeout: 30 * time.Second,
	}

	if cfg.Proxy != "" {
		dialer, err := proxy.SOCKS5("tcp", cfg.Proxy, nil, proxy.Direct)
		if err != nil {
			log.WithError(err).WithField("proxy", cfg.Proxy).Warn("Failed to create SOCKS5 proxy, dialing directly")
		} else {
			client.Transport = &http.Transport{
				DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
					if cd, ok := dialer.(proxy.ContextDialer); ok {
						return cd.DialContext(ctx, network, addr)
					}
					return dialer.Dial(network, addr)
				},
			}
		}
	}

	return &TelegramNotifier{config: cfg, client: client}
}

func (t *TelegramNotifier) Name() string { return "telegram" }

// Send sends Telegram notification
func (t *TelegramNotifier) Send(ctx context.Context, n Notice) error {
	apiURL := fmt.Sprintf("%s/bot%s/sendMessage", strings.TrimRight(t.config.APIURL, "/"), t.config.BotToken)

	payload := map[string]interface{}{
		"chat_id": t.config.ChatID,
		"text":    n.Body(),
	}
	return postJSON(ctx, t.client, apiURL, payload, "telegram API")
}

// DingDingNotifier sends DingTalk notifications
type DingDingNotifier struct {
	config *config.DingDingConfig
	client *http.Client
	now    func() time.Time
}

// NewDingDingNotifier creates a new DingTalk notifier
func NewDingDingNotifier(cfg *config.DingDingConfig) *DingDingNotifier {
	return &DingDingNotifier{config: cfg, client: &http.Client{Timeout: 30 * time.Second}, now: time.Now}
}

func (d *DingDingNotifier) Name() string { return "dingding" }

// Send sends DingTalk notification
func (d *DingDingNotifier) Send(ctx context.Context, n Notice) error {
	message := fmt.Sprintf("## %s\n\n"+
		"**Subject**: %s\n\n"+
		"**Domain**: %s\n\n"+
		"**Event**: %s\n\n"+
		"**Time**: %s",
		n.Title(),
		n.Subject,
		n.Domain,
		n.Kind,
		n.At.Format("2006-01-02 15:04:05"),
	)
	if !n.ExpiresAt.IsZero() {
		message += fmt.Sprintf("\n\n**Expires**: %s", n.ExpiresAt.Format("2006-01-02"))
	}

	payload := map[string]interface{}{
		"msgtype": "markdown",
		"markdown": map[string]interface{}{
			"title": n.Title(),
			"text":  message,
		},
	}

	webhookURL := d.config.Webhook

	// Signed webhooks carry timestamp and sign query parameters
	if d.config.Secret != "" {
		timestamp := strconv.FormatInt(d.now().UnixMilli(), 10)
		sign := d.generateSign(timestamp, d.config.Secret)

		parsedURL, err := url.Parse(webhookURL)
		if err != nil {
			return fmt.Errorf("invalid webhook URL: %w", err)
		}

		query := parsedURL.Query()
		query.Add("timestamp", timestamp)
		query.Add("sign", sign)
		parsedURL.RawQuery = query.Encode()
		webhookURL = parsedURL.String()
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhookURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("dingding webhook returned status %d", resp.StatusCode)
	}

	var result struct {
		ErrCode int    `json:"errcode"`
		ErrMsg  string `json:"errmsg"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil && result.ErrCode != 0 {
		return fmt.Errorf("dingding API error: %s", result.ErrMsg)
	}

	return nil
}

// generateSign signs the timestamp the way DingTalk expects
func (d *DingDingNotifier) generateSign(timestamp, secret string) string {
	stringToSign := fmt.Sprintf("%s\n%s", timestamp, secret)
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(stringToSign))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

func postJSON(ctx context.Context, client *http.Client, target string, payload interface{}, what string) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s returned status %d", what, resp.StatusCode)
	}
	return nil
}
