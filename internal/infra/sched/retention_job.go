package sched

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"fleet-billing/internal/domain/ports/repository"
	"fleet-billing/internal/infra/logging"
	"fleet-billing/internal/infra/metrics"
	"fleet-billing/internal/usecase"
)

// RetentionJob purges old shadow rows and, when auditKeep is set, old
// notification audit rows.
type RetentionJob struct {
	ret       usecase.RetentionUseCase
	audit     repository.NotificationLogRepository
	auditKeep time.Duration
	now       func() time.Time
	log       *zerolog.Logger
}

func NewRetentionJob(ret usecase.RetentionUseCase, audit repository.NotificationLogRepository, auditKeep time.Duration, logger *zerolog.Logger) *RetentionJob {
	l := logger.With().Str("component", "RetentionJob").Logger()
	return &RetentionJob{ret: ret, audit: audit, auditKeep: auditKeep, now: time.Now, log: &l}
}

func (j *RetentionJob) Run(ctx context.Context) error {
	users, uErr := j.ret.CleanupExpiredUsers(ctx, false)
	devices, dErr := j.ret.CleanupExpiredDevices(ctx, false)
	var logs int64
	var lErr error
	if j.audit != nil && j.auditKeep > 0 {
		logs, lErr = j.audit.DeleteBefore(ctx, repository.NoTX, j.now().Add(-j.auditKeep))
	}
	metrics.AddJobItems(JobRetention, "purged_users", int(users))
	metrics.AddJobItems(JobRetention, "purged_devices", int(devices))
	metrics.AddJobItems(JobRetention, "purged_logs", int(logs))
	logging.With(ctx, j.log).Info().
		Int64("users", users).
		Int64("devices", devices).
		Int64("notification_logs", logs).
		Msg("retention purge done")
	return errors.Join(uErr, dErr, lErr)
}
