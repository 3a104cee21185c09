package sched

import (
	"context"

	"github.com/rs/zerolog"

	"fleet-billing/internal/infra/logging"
	"fleet-billing/internal/infra/metrics"
	"fleet-billing/internal/usecase"
)

// Job names, also used as lock keys and metric labels.
const (
	JobDetectDevices = "detect-expired-devices"
	JobDetectUsers   = "detect-expired-users"
	JobNotify        = "send-expiry-sms"
	JobRetention     = "retention-purge"
	JobReconcile     = "reconcile-payments"
)

// DetectionJob copies expired devices and users from the tracking platform
// into the shadow tables.
type DetectionJob struct {
	scan usecase.ExpiryScanUseCase
	log  *zerolog.Logger
}

func NewDetectionJob(scan usecase.ExpiryScanUseCase, logger *zerolog.Logger) *DetectionJob {
	l := logger.With().Str("component", "DetectionJob").Logger()
	return &DetectionJob{scan: scan, log: &l}
}

func (j *DetectionJob) Devices(ctx context.Context) error {
	rep, err := j.scan.DetectExpiredDevices(ctx, usecase.ScanOptions{})
	j.record(ctx, JobDetectDevices, rep)
	return err
}

func (j *DetectionJob) Users(ctx context.Context) error {
	rep, err := j.scan.DetectExpiredUsers(ctx, usecase.ScanOptions{})
	j.record(ctx, JobDetectUsers, rep)
	return err
}

func (j *DetectionJob) record(ctx context.Context, job string, rep usecase.ScanReport) {
	metrics.AddJobItems(job, "scanned", rep.Scanned)
	metrics.AddJobItems(job, "detected", rep.Saved)
	metrics.AddJobItems(job, "capped", rep.Capped)
	metrics.AddJobItems(job, "error", rep.Errors)
	logging.With(ctx, j.log).Info().
		Int("users", rep.Users).
		Int("scanned", rep.Scanned).
		Int("expired", rep.Expired).
		Int("saved", rep.Saved).
		Int("capped", rep.Capped).
		Int("errors", rep.Errors).
		Msg("detection pass done")
}
