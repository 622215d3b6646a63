package services

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"certdao/internal/registry"
)

// AlertCounter counts sent expiry alerts
type AlertCounter interface {
	IncrementAlerts()
}

// ExpiryMonitor warns owners before their certification lapses. It only
// reads the registry; expiry itself needs no action.
type ExpiryMonitor struct {
	registry  *registry.Registry
	notify    *NotifyService
	mu        sync.Mutex
	alertDays []int
	counter   AlertCounter
	log       logrus.FieldLogger
}

// NewExpiryMonitor creates a new expiry monitor
func NewExpiryMonitor(reg *registry.Registry, notify *NotifyService, alertDays []int, counter AlertCounter, log logrus.FieldLogger) *ExpiryMonitor {
	return &ExpiryMonitor{
		registry:  reg,
		notify:    notify,
		alertDays: alertDays,
		counter:   counter,
		log:       log,
	}
}

// SetAlertDays replaces the alert thresholds
func (m *ExpiryMonitor) SetAlertDays(days []int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alertDays = append([]int(nil), days...)
}

// CheckAll sends an alert for every approved registration whose remaining
// whole days equal an alert threshold. It returns the number of alerts sent.
func (m *ExpiryMonitor) CheckAll(ctx context.Context) (int, error) {
	entries, err := m.registry.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list registrations: %w", err)
	}

	now := m.registry.Now()
	m.log.WithField("count", len(entries)).Info("Checking registrations for expiry")

	sent := 0
	for _, entry := range entries {
		if entry.Status != registry.StatusApproved {
			continue
		}
		reg := entry.Registration
		daysRemaining := int(reg.ExpiresAt.Sub(now).Hours() / 24)
		if !m.isThreshold(daysRemaining) {
			continue
		}

		notice := Notice{
			Kind:          NoticeExpiryAlert,
			Subject:       reg.Subject.String(),
			Domain:        reg.Domain,
			Actor:         reg.Owner.String(),
			ExpiresAt:     reg.ExpiresAt,
			DaysRemaining: daysRemaining,
			At:            now,
		}
		entryLog := m.log.WithFields(logrus.Fields{
			"subject":        reg.Subject,
			"domain":         reg.Domain,
			"days_remaining": daysRemaining,
		})
		if m.notify == nil || !m.notify.Enabled() {
			entryLog.Info("Certification expiring soon")
			continue
		}
		if err := m.notify.SendNotification(ctx, notice); err != nil {
			entryLog.WithError(err).Error("Failed to send expiry alert")
			continue
		}
		sent++
		if m.counter != nil {
			m.counter.IncrementAlerts()
		}
	}

	return sent, nil
}

func (m *ExpiryMonitor) isThreshold(days int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, threshold := range m.alertDays {
		if days == threshold {
			return true
		}
	}
	return false
}
