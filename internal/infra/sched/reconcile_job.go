package sched

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"fleet-billing/internal/infra/logging"
	"fleet-billing/internal/infra/metrics"
	"fleet-billing/internal/usecase"
)

// ReconcileJob finalizes pending gateway payments whose callback never
// arrived and re-applies failed fulfillments.
type ReconcileJob struct {
	uc         usecase.ReconcileUseCase
	staleAfter time.Duration
	limit      int
	log        *zerolog.Logger
}

func NewReconcileJob(uc usecase.ReconcileUseCase, staleAfter time.Duration, limit int, logger *zerolog.Logger) *ReconcileJob {
	if staleAfter <= 0 {
		staleAfter = 24 * time.Hour
	}
	if limit <= 0 {
		limit = 200
	}
	l := logger.With().Str("component", "ReconcileJob").Logger()
	return &ReconcileJob{uc: uc, staleAfter: staleAfter, limit: limit, log: &l}
}

func (j *ReconcileJob) Run(ctx context.Context) error {
	log := logging.With(ctx, j.log)

	abandoned, aErr := j.uc.ExpireAbandoned(ctx, j.staleAfter, j.limit)
	metrics.AddJobItems(JobReconcile, "reverified", abandoned.Scanned)
	metrics.AddJobItems(JobReconcile, "expired", abandoned.Failed)
	log.Info().
		Int("scanned", abandoned.Scanned).
		Int("succeeded", abandoned.Succeeded).
		Int("failed", abandoned.Failed).
		Int("pending", abandoned.Pending).
		Int("errors", abandoned.Errors).
		Msg("abandoned payments swept")

	retried, rErr := j.uc.RetryFulfillment(ctx, j.limit)
	metrics.AddJobItems(JobReconcile, "fulfilled", retried.Succeeded)
	metrics.AddJobItems(JobReconcile, "fulfillment_failed", retried.Errors)
	log.Info().
		Int("scanned", retried.Scanned).
		Int("succeeded", retried.Succeeded).
		Int("errors", retried.Errors).
		Msg("fulfillment retry done")

	return errors.Join(aErr, rErr)
}
