package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fleet-billing/internal/application"
	"fleet-billing/internal/config"
	"fleet-billing/internal/infra/api"
	pg "fleet-billing/internal/infra/db/postgres"
	"fleet-billing/internal/infra/logging"
	"fleet-billing/internal/infra/metrics"
	"fleet-billing/internal/infra/sched"
	"fleet-billing/internal/infra/scheduler"
	"fleet-billing/internal/infra/security"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	devMode := flag.Bool("dev", false, "developer mode: console logs, unredacted phones")
	noJobs := flag.Bool("no-jobs", false, "serve HTTP only; do not start the scheduler")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, *devMode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	metrics.MustRegister()
	metrics.SetBuildInfo(version, commit, "app")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c, err := application.Build(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("startup failed")
	}
	defer func() {
		if err := c.Close(); err != nil {
			logger.Warn().Err(err).Msg("shutdown: close resources")
		}
	}()
	go pg.ReportPoolStats(ctx, c.Pool, 15*time.Second)

	var sch *scheduler.Scheduler
	if !*noJobs {
		sch, err = newScheduler(c)
		if err != nil {
			logger.Fatal().Err(err).Msg("scheduler setup failed")
		}
		sch.Start()
	}

	srv := api.NewServer(api.Deps{
		Payments:       c.Payments,
		Verifier:       c.Verifier,
		Reconcile:      c.Reconcile,
		Retention:      c.Retention,
		Expiration:     c.Expiration,
		Wallet:         c.Wallet,
		Catalog:        c.CatalogUC,
		Tokens:         security.NewTokenManager(cfg.Security.JWTSecret, 0),
		AdminKey:       cfg.Security.AdminAPIKey,
		Limiter:        limiterOrNil(c),
		Translator:     c.Translator,
		RequestTimeout: cfg.HTTP.WriteTimeout,
		Health:         c.Health,
	}, logger)

	logger.Info().Str("version", version).Str("tz", cfg.Scheduler.Timezone).Msg("fleet billing starting")
	if err := srv.Run(ctx, cfg.HTTP); err != nil {
		logger.Error().Err(err).Msg("http server stopped")
	}

	if sch != nil {
		shCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		sch.Stop(shCtx)
		cancel()
	}
	logger.Info().Msg("bye")
}

func newScheduler(c *application.Container) (*scheduler.Scheduler, error) {
	cfg := c.Config
	s := scheduler.New(cfg.Location(), c.Locker, cfg.Scheduler.LockTTL, c.Log)

	detect := sched.NewDetectionJob(c.Scan, c.Log)
	notify := sched.NewNotificationJob(c.Notification, c.NotificationLog, c.Log)
	retention := sched.NewRetentionJob(c.Retention, c.NotificationLog,
		time.Duration(cfg.Retention.NotificationLogDays)*24*time.Hour, c.Log)
	reconcile := sched.NewReconcileJob(c.Reconcile, cfg.Payment.PendingExpiry, 200, c.Log)

	jobs := []struct {
		name string
		spec string
		run  scheduler.Job
	}{
		{sched.JobDetectDevices, cfg.Scheduler.DeviceDetectCron, detect.Devices},
		{sched.JobDetectUsers, cfg.Scheduler.UserDetectCron, detect.Users},
		{sched.JobNotify, cfg.Scheduler.NotifyCron, notify.Run},
		{sched.JobRetention, cfg.Scheduler.RetentionCron, retention.Run},
		{sched.JobReconcile, cfg.Scheduler.ReconcileCron, reconcile.Run},
	}
	for _, j := range jobs {
		if err := s.Add(j.name, j.spec, j.run); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// limiterOrNil keeps a nil *RateLimiter from becoming a non-nil interface.
func limiterOrNil(c *application.Container) api.Limiter {
	if c.Limiter == nil {
		return nil
	}
	return c.Limiter
}
