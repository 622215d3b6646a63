package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Checker is the periodic job the scheduler runs
type Checker interface {
	CheckAll(ctx context.Context) (int, error)
}

// Scheduler handles scheduled tasks
type Scheduler struct {
	cron    *cron.Cron
	checker Checker
	timeout time.Duration
	log     logrus.FieldLogger
}

// NewScheduler creates a new scheduler
func NewScheduler(checker Checker, log logrus.FieldLogger) *Scheduler {
	return &Scheduler{
		cron:    cron.New(),
		checker: checker,
		timeout: 10 * time.Minute,
		log:     log,
	}
}

// Start starts the scheduler
func (s *Scheduler) Start(checkInterval string) error {
	// Add scheduled job to check all registrations
	_, err := s.cron.AddFunc(checkInterval, s.run)
	if err != nil {
		return err
	}

	s.cron.Start()
	s.log.WithField("interval", checkInterval).Info("Scheduler started")
	return nil
}

// Stop stops the scheduler and waits for a running check to finish
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.log.Info("Scheduler stopped")
}

func (s *Scheduler) run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	s.log.Info("Starting scheduled expiry check")
	sent, err := s.checker.CheckAll(ctx)
	if err != nil {
		s.log.WithError(err).Error("Scheduled check failed")
		return
	}
	s.log.WithField("alerts", sent).Info("Scheduled expiry check completed")
}
