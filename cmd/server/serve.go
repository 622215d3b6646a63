package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"certdao/internal/api"
	"certdao/internal/database"
	"certdao/internal/metrics"
	"certdao/internal/registry"
	"certdao/internal/scheduler"
	"certdao/internal/services"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the registry HTTP API and expiry monitor",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx)
		},
	}
}

func serve(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	db := database.GetDB()

	// Load settings from database and override config
	loadSettingsFromDB(db, cfg)

	fee, err := cfg.Registry.Fee()
	if err != nil {
		return err
	}
	validity, err := cfg.Registry.Validity()
	if err != nil {
		return err
	}

	// Initialize services
	authService, err := newAuthService(cfg)
	if err != nil {
		return err
	}
	m := metrics.New()
	eventLog := database.NewEventLog(db)
	notifyService := services.NewNotifyService(&cfg.Notifications, db, logrus.WithField("component", "notify"))

	opts := []registry.Option{
		registry.WithSink(registry.MultiSink(eventLog, notifyService)),
		registry.WithLogger(logrus.WithField("component", "registry")),
		registry.WithRecorder(m),
		registry.WithMinFee(fee),
		registry.WithValidityPeriod(validity),
	}
	if sc := cfg.Registry.SelfCertification; sc.Subject != "" {
		opts = append(opts, registry.WithSelfCertification(registry.Identity(sc.Subject), sc.Domain))
	}
	reg, err := registry.New(ctx, registry.Identity(cfg.Registry.Administrator), database.NewRegistrationStore(db), opts...)
	if err != nil {
		return fmt.Errorf("failed to initialize registry: %w", err)
	}

	// Initialize default admin account
	if err := initDefaultAdmin(db, cfg, authService); err != nil {
		return err
	}

	monitor := services.NewExpiryMonitor(reg, notifyService, cfg.Monitor.AlertDays, m, logrus.WithField("component", "monitor"))

	// Initialize scheduler
	sched := scheduler.NewScheduler(monitor, logrus.WithField("component", "scheduler"))
	if err := sched.Start(cfg.Monitor.CheckInterval); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	defer notifyService.Wait()
	defer sched.Stop()

	// Setup Gin
	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())

	// Enable CORS
	r.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	})

	handler := api.NewHandler(reg, db, authService, eventLog, monitor)
	api.SetupRoutes(r, handler)
	r.GET("/metrics", gin.WrapH(m.Handler()))

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logrus.WithField("addr", srv.Addr).Info("Server starting")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("failed to start server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logrus.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// requestLogger logs each request through logrus
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		entry := logrus.WithFields(logrus.Fields{
			"method":   c.Request.Method,
			"path":     c.FullPath(),
			"status":   c.Writer.Status(),
			"duration": time.Since(start),
		})
		if len(c.Errors) > 0 {
			entry.WithError(c.Errors.Last()).Error("Request failed")
			return
		}
		entry.Debug("Request handled")
	}
}
