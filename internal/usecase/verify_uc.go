package usecase

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"fleet-billing/internal/domain"
	"fleet-billing/internal/domain/model"
	"fleet-billing/internal/domain/ports/adapter"
	"fleet-billing/internal/domain/ports/repository"
	"fleet-billing/internal/infra/logging"
)

// Compile-time check
var _ VerificationUseCase = (*verifyUC)(nil)

// VerificationUseCase drives a gateway payment from pending to a terminal
// status exactly once.
type VerificationUseCase interface {
	Verify(ctx context.Context, authority string) (*VerificationResult, error)
}

type VerifyConfig struct {
	SuccessCodes []int         // gateway codes that count as paid
	LockTTL      time.Duration // 0 disables the per-authority lock
}

// VerificationResult is the receipt surface. Raw provider payloads never
// appear here.
type VerificationResult struct {
	Success       bool
	PaymentID     string
	Status        model.PaymentStatus
	Reference     string
	Code          string // provider code on failure
	DeviceID      string
	DurationDays  int
	CreditGranted decimal.Decimal
	CardPan       string
	FeeType       string
	Fee           int64
	Replayed      bool // outcome was read back, gateway was not called
	Fulfillment   model.FulfillmentState
}

type verifyUC struct {
	payments repository.PaymentRepository
	gateway  adapter.PaymentGateway
	locker   adapter.Locker
	fulfill  *fulfiller
	events   adapter.EventPublisher
	cfg      VerifyConfig
	success  map[int]struct{}
	log      *zerolog.Logger
	now      func() time.Time
}

func NewVerificationUseCase(
	payments repository.PaymentRepository,
	users repository.UserRepository,
	ledger repository.CreditTransactionRepository,
	tm repository.TransactionManager,
	gateway adapter.PaymentGateway,
	locker adapter.Locker,
	sync ExpirationSynchronizer,
	events adapter.EventPublisher,
	cfg VerifyConfig,
	logger *zerolog.Logger,
) *verifyUC {
	if len(cfg.SuccessCodes) == 0 {
		cfg.SuccessCodes = []int{100, 101}
	}
	success := make(map[int]struct{}, len(cfg.SuccessCodes))
	for _, c := range cfg.SuccessCodes {
		success[c] = struct{}{}
	}
	l := logger.With().Str("component", "VerifyUC").Logger()
	return &verifyUC{
		payments: payments,
		gateway:  gateway,
		locker:   locker,
		fulfill:  &fulfiller{payments: payments, users: users, ledger: ledger, tm: tm, sync: sync, events: events, log: &l},
		events:   events,
		cfg:      cfg,
		success:  success,
		log:      &l,
		now:      time.Now,
	}
}

func (u *verifyUC) WithClock(now func() time.Time) *verifyUC {
	u.now = now
	return u
}

func (u *verifyUC) Verify(ctx context.Context, authority string) (*VerificationResult, error) {
	defer logging.TraceDuration(u.log, "VerifyUC.Verify")()
	if authority == "" {
		return nil, domain.ErrInvalidArgument
	}
	p, err := u.payments.FindByAuthority(ctx, repository.NoTX, authority)
	if err != nil {
		return nil, err
	}
	return u.verifyPayment(logging.WithPaymentID(ctx, p.ID), p)
}

// verifyPayment runs the state machine for a payment that carries an
// authority. It is shared with the reconciler.
func (u *verifyUC) verifyPayment(ctx context.Context, p *model.Payment) (*VerificationResult, error) {
	if p.Status.IsTerminal() {
		return replay(p), nil
	}

	if u.locker != nil && u.cfg.LockTTL > 0 {
		key := "lock:verify:" + p.Authority
		token, err := u.locker.TryLock(ctx, key, u.cfg.LockTTL)
		switch {
		case errors.Is(err, adapter.ErrLockHeld):
			return nil, domain.ErrPaymentInProgress
		case err != nil:
			// lock backend down: the conditional update still guards the transition
			u.log.Warn().Err(err).Str("authority", p.Authority).Msg("verify lock unavailable")
		default:
			defer func() {
				if uerr := u.locker.Unlock(context.WithoutCancel(ctx), key, token); uerr != nil {
					u.log.Warn().Err(uerr).Str("authority", p.Authority).Msg("verify unlock failed")
				}
			}()
			fresh, err := u.payments.FindByID(ctx, repository.NoTX, p.ID)
			if err != nil {
				return nil, err
			}
			p = fresh
			if p.Status.IsTerminal() {
				return replay(p), nil
			}
		}
	}

	out, err := u.gateway.VerifyPayment(ctx, adapter.VerifyRequest{
		Authority: p.Authority,
		Amount:    p.AmountMinor(),
	})
	if err != nil {
		u.log.Warn().Err(err).Str("payment_id", p.ID).Str("authority", p.Authority).Msg("gateway verify failed; payment stays pending")
		return nil, fmt.Errorf("%w: %w", domain.ErrGatewayUnavailable, err)
	}

	if _, ok := u.success[out.Code]; !ok {
		return u.markFailed(ctx, p, strconv.Itoa(out.Code))
	}
	return u.markSucceeded(ctx, p, out)
}

func (u *verifyUC) markSucceeded(ctx context.Context, p *model.Payment, out adapter.VerifyResult) (*VerificationResult, error) {
	paidAt := u.now()
	ref := out.RefID
	won, err := u.payments.UpdateStatusIfPending(ctx, repository.NoTX, p.ID, repository.StatusUpdate{
		Status:  model.PaymentStatusSucceeded,
		RefID:   &ref,
		CardPan: out.CardPan,
		FeeType: out.FeeType,
		Fee:     out.Fee,
		PaidAt:  &paidAt,
	})
	if err != nil {
		return nil, err
	}
	if !won {
		return u.reload(ctx, p.ID)
	}

	p.Status = model.PaymentStatusSucceeded
	p.RefID = &ref
	p.CardPan, p.FeeType, p.Fee = out.CardPan, out.FeeType, out.Fee
	p.PaidAt = &paidAt
	u.log.Info().Str("payment_id", p.ID).Str("reference", ref).Int("code", out.Code).Msg("payment verified")
	publishEvent(ctx, u.events, u.log, adapter.EventPaymentSucceeded, p, nil)

	fr := u.fulfill.Fulfill(ctx, p)
	res := replay(p)
	res.Replayed = false
	if fr.Applied && fr.Kind == FulfillmentKindCredit {
		res.CreditGranted = fr.CreditGranted
	}
	return res, nil
}

func (u *verifyUC) markFailed(ctx context.Context, p *model.Payment, code string) (*VerificationResult, error) {
	won, err := u.payments.UpdateStatusIfPending(ctx, repository.NoTX, p.ID, repository.StatusUpdate{
		Status:      model.PaymentStatusFailed,
		FailureCode: code,
	})
	if err != nil {
		return nil, err
	}
	if !won {
		return u.reload(ctx, p.ID)
	}
	p.Status = model.PaymentStatusFailed
	p.FailureCode = code
	u.log.Info().Str("payment_id", p.ID).Str("code", code).Msg("payment rejected by gateway")
	publishEvent(ctx, u.events, u.log, adapter.EventPaymentFailed, p, map[string]string{"code": code})
	res := replay(p)
	res.Replayed = false
	return res, nil
}

// reload is used when a concurrent verifier won the transition.
func (u *verifyUC) reload(ctx context.Context, id string) (*VerificationResult, error) {
	p, err := u.payments.FindByID(ctx, repository.NoTX, id)
	if err != nil {
		return nil, err
	}
	return replay(p), nil
}

func replay(p *model.Payment) *VerificationResult {
	res := &VerificationResult{
		Success:      p.Status == model.PaymentStatusSucceeded,
		PaymentID:    p.ID,
		Status:       p.Status,
		Reference:    p.Reference(),
		Code:         p.FailureCode,
		DeviceID:     p.DeviceID,
		DurationDays: p.DurationDays,
		CardPan:      p.CardPan,
		FeeType:      p.FeeType,
		Fee:          p.Fee,
		Replayed:     true,
		Fulfillment:  p.Fulfillment,
	}
	if p.GrantsCredit() {
		res.CreditGranted = p.CreditAmount
		res.DurationDays = 0
	}
	return res
}
