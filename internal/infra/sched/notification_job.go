package sched

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"fleet-billing/internal/domain/model"
	"fleet-billing/internal/domain/ports/repository"
	"fleet-billing/internal/infra/logging"
	"fleet-billing/internal/infra/metrics"
	"fleet-billing/internal/usecase"
)

// NotificationJob sends due milestone reminders for devices, then users,
// and writes every attempt to the audit log.
type NotificationJob struct {
	notif usecase.NotificationUseCase
	audit repository.NotificationLogRepository // optional
	log   *zerolog.Logger
}

func NewNotificationJob(notif usecase.NotificationUseCase, audit repository.NotificationLogRepository, logger *zerolog.Logger) *NotificationJob {
	l := logger.With().Str("component", "NotificationJob").Logger()
	return &NotificationJob{notif: notif, audit: audit, log: &l}
}

func (j *NotificationJob) Run(ctx context.Context) error {
	devRep, devErr := j.notif.NotifyDevices(ctx, usecase.NotifyOptions{})
	j.record(ctx, "devices", devRep, false)
	usrRep, usrErr := j.notif.NotifyUsers(ctx, usecase.NotifyOptions{})
	j.record(ctx, "users", usrRep, false)
	return errors.Join(devErr, usrErr)
}

// RecordReport exports a report produced outside the scheduler, e.g. by the CLI.
func (j *NotificationJob) RecordReport(ctx context.Context, subject string, rep usecase.NotifyReport, dryRun bool) {
	j.record(ctx, subject, rep, dryRun)
}

func (j *NotificationJob) record(ctx context.Context, subject string, rep usecase.NotifyReport, dryRun bool) {
	for _, d := range rep.Dispatches {
		result := "sent"
		switch {
		case dryRun:
			result = "dry_run"
		case d.Err != nil:
			result = "error"
		}
		metrics.IncSMS(string(d.Subject), string(d.Milestone), d.Channel, result)
		if !dryRun {
			j.writeAudit(ctx, d)
		}
	}
	metrics.AddJobItems(JobNotify, "notified", rep.Sent)
	metrics.AddJobItems(JobNotify, "failed", rep.Failed)
	metrics.AddJobItems(JobNotify, "skipped", rep.Skipped)
	logging.With(ctx, j.log).Info().
		Str("subject", subject).
		Int("scanned", rep.Scanned).
		Int("due", rep.Due).
		Int("sent", rep.Sent).
		Int("failed", rep.Failed).
		Int("skipped", rep.Skipped).
		Bool("dry_run", dryRun).
		Msg("notification pass done")
}

func (j *NotificationJob) writeAudit(ctx context.Context, d usecase.Dispatch) {
	if j.audit == nil {
		return
	}
	e := &model.NotificationLog{Subject: d.Subject, SubjectID: d.ID, Milestone: d.Milestone, Channel: d.Channel}
	if d.Err != nil {
		e.Error = d.Err.Error()
	}
	if err := j.audit.Save(ctx, repository.NoTX, e); err != nil {
		logging.With(ctx, j.log).Warn().Err(err).Int64("subject_id", d.ID).Msg("notification audit write failed")
	}
}
