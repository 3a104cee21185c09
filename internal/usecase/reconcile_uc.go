package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"fleet-billing/internal/domain"
	"fleet-billing/internal/domain/model"
	"fleet-billing/internal/domain/ports/repository"
	"fleet-billing/internal/infra/logging"
)

// Compile-time check
var _ ReconcileUseCase = (*reconcileUC)(nil)

// ReconcileUseCase repairs payments whose callback never arrived or whose
// fulfillment failed.
type ReconcileUseCase interface {
	Reverify(ctx context.Context, paymentID string, dryRun bool) (*ReverifyOutcome, error)
	ReverifyAll(ctx context.Context, opts ReverifyAllOptions) (BatchReport, error)
	ExpireAbandoned(ctx context.Context, olderThan time.Duration, limit int) (BatchReport, error)
	RetryFulfillment(ctx context.Context, limit int) (BatchReport, error)
}

type ReverifyAllOptions struct {
	Status model.PaymentStatus // empty means any
	Limit  int
	DryRun bool
}

// ReverifyOutcome pairs the stored payment with what the state machine
// produced. Result is nil on a dry run.
type ReverifyOutcome struct {
	Payment     *model.Payment
	Result      *VerificationResult
	Fulfillment *FulfillmentResult
}

// BatchReport counts per-item outcomes of a sweep.
type BatchReport struct {
	Scanned   int
	Succeeded int
	Failed    int
	Pending   int
	Skipped   int
	Errors    int
}

type reconcileUC struct {
	payments repository.PaymentRepository
	verifier *verifyUC
	log      *zerolog.Logger
	now      func() time.Time
}

func NewReconcileUseCase(payments repository.PaymentRepository, verifier *verifyUC, logger *zerolog.Logger) *reconcileUC {
	l := logger.With().Str("component", "ReconcileUC").Logger()
	return &reconcileUC{payments: payments, verifier: verifier, log: &l, now: time.Now}
}

func (u *reconcileUC) WithClock(now func() time.Time) *reconcileUC {
	u.now = now
	return u
}

func (u *reconcileUC) Reverify(ctx context.Context, paymentID string, dryRun bool) (*ReverifyOutcome, error) {
	defer logging.TraceDuration(u.log, "ReconcileUC.Reverify")()
	p, err := u.payments.FindByID(ctx, repository.NoTX, paymentID)
	if err != nil {
		return nil, err
	}
	out := &ReverifyOutcome{Payment: p}
	if p.Authority == "" {
		return out, domain.ErrInvalidArgument
	}
	if dryRun {
		return out, nil
	}
	ctx = logging.WithPaymentID(ctx, p.ID)

	res, err := u.verifier.verifyPayment(ctx, p)
	if err != nil {
		return out, err
	}
	out.Result = res

	// A succeeded payment whose fulfillment failed earlier gets another try.
	if res.Replayed && res.Success && res.Fulfillment == model.FulfillmentFailed {
		fresh, err := u.payments.FindByID(ctx, repository.NoTX, p.ID)
		if err != nil {
			return out, err
		}
		fr := u.verifier.fulfill.Fulfill(ctx, fresh)
		out.Fulfillment = &fr
		out.Payment = fresh
		res.Fulfillment = fresh.Fulfillment
	}
	return out, nil
}

func (u *reconcileUC) ReverifyAll(ctx context.Context, opts ReverifyAllOptions) (BatchReport, error) {
	defer logging.TraceDuration(u.log, "ReconcileUC.ReverifyAll")()
	var rep BatchReport
	list, err := u.payments.List(ctx, repository.NoTX, repository.PaymentFilter{
		Status:        opts.Status,
		WithAuthority: true,
		Limit:         opts.Limit,
	})
	if err != nil {
		return rep, err
	}
	for _, p := range list {
		rep.Scanned++
		if ctx.Err() != nil {
			return rep, ctx.Err()
		}
		if opts.DryRun {
			rep.Skipped++
			u.log.Info().Str("payment_id", p.ID).Str("status", string(p.Status)).Str("authority", p.Authority).Msg("dry run")
			continue
		}
		out, err := u.Reverify(ctx, p.ID, false)
		u.count(&rep, p, out, err)
	}
	return rep, nil
}

// ExpireAbandoned closes pending gateway payments older than olderThan.
// Attempts that never got an authority are failed outright; the rest are
// verified and left pending when the gateway cannot be reached.
func (u *reconcileUC) ExpireAbandoned(ctx context.Context, olderThan time.Duration, limit int) (BatchReport, error) {
	defer logging.TraceDuration(u.log, "ReconcileUC.ExpireAbandoned")()
	var rep BatchReport
	cutoff := u.now().Add(-olderThan)
	list, err := u.payments.ListPendingOlderThan(ctx, repository.NoTX, cutoff, limit)
	if err != nil {
		return rep, err
	}
	for _, p := range list {
		rep.Scanned++
		if ctx.Err() != nil {
			return rep, ctx.Err()
		}
		if p.Method != model.PaymentMethodGateway {
			rep.Skipped++
			continue
		}
		if p.Authority == "" {
			won, err := u.payments.UpdateStatusIfPending(ctx, repository.NoTX, p.ID, repository.StatusUpdate{
				Status:      model.PaymentStatusFailed,
				FailureCode: model.FailureCodeAbandoned,
			})
			switch {
			case err != nil:
				rep.Errors++
				u.log.Error().Err(err).Str("payment_id", p.ID).Msg("could not close abandoned payment")
			case won:
				rep.Failed++
				u.log.Info().Str("payment_id", p.ID).Msg("abandoned payment closed")
			default:
				rep.Skipped++
			}
			continue
		}
		res, err := u.verifier.verifyPayment(logging.WithPaymentID(ctx, p.ID), p)
		u.count(&rep, p, &ReverifyOutcome{Payment: p, Result: res}, err)
	}
	return rep, nil
}

func (u *reconcileUC) RetryFulfillment(ctx context.Context, limit int) (BatchReport, error) {
	defer logging.TraceDuration(u.log, "ReconcileUC.RetryFulfillment")()
	var rep BatchReport
	list, err := u.payments.ListFulfillmentFailed(ctx, repository.NoTX, limit)
	if err != nil {
		return rep, err
	}
	for _, p := range list {
		rep.Scanned++
		if ctx.Err() != nil {
			return rep, ctx.Err()
		}
		fr := u.verifier.fulfill.Fulfill(logging.WithPaymentID(ctx, p.ID), p)
		switch {
		case fr.Err != nil:
			rep.Errors++
		case fr.Applied:
			rep.Succeeded++
		default:
			rep.Skipped++
		}
	}
	return rep, nil
}

func (u *reconcileUC) count(rep *BatchReport, p *model.Payment, out *ReverifyOutcome, err error) {
	switch {
	case errors.Is(err, domain.ErrGatewayUnavailable), errors.Is(err, domain.ErrPaymentInProgress):
		rep.Pending++
		u.log.Warn().Err(err).Str("payment_id", p.ID).Msg("payment left pending")
	case err != nil:
		rep.Errors++
		u.log.Error().Err(err).Str("payment_id", p.ID).Msg("reverify failed")
	case out == nil || out.Result == nil:
		rep.Skipped++
	case out.Result.Success:
		rep.Succeeded++
	default:
		rep.Failed++
	}
}
