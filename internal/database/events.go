package database

import (
	"context"

	"gorm.io/gorm"

	"certdao/internal/models"
	"certdao/internal/registry"
)

// EventLog records every registry event as a row.
type EventLog struct {
	db *gorm.DB
}

// NewEventLog creates an event log over db.
func NewEventLog(db *gorm.DB) *EventLog {
	return &EventLog{db: db}
}

var _ registry.Sink = (*EventLog)(nil)

// Publish inserts e.
func (l *EventLog) Publish(ctx context.Context, e registry.Event) error {
	row := &models.Event{
		EventID:   e.ID,
		Kind:      string(e.Kind),
		Subject:   e.Subject.String(),
		Domain:    e.Domain,
		Actor:     e.Actor.String(),
		Value:     int64(e.Value),
		ExpiresAt: e.ExpiresAt,
		At:        e.At,
	}
	return l.db.WithContext(ctx).Create(row).Error
}

// List returns up to limit events, newest first, optionally for one subject.
func (l *EventLog) List(ctx context.Context, subject registry.Identity, limit int) ([]models.Event, error) {
	q := l.db.WithContext(ctx).Order("id desc")
	if !subject.IsZero() {
		q = q.Where("subject = ?", subject.String())
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	var events []models.Event
	if err := q.Find(&events).Error; err != nil {
		return nil, err
	}
	return events, nil
}
