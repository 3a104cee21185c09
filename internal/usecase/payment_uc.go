package usecase

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"fleet-billing/internal/domain"
	"fleet-billing/internal/domain/model"
	"fleet-billing/internal/domain/ports/adapter"
	"fleet-billing/internal/domain/ports/repository"
	"fleet-billing/internal/infra/logging"
)

// Compile-time check
var _ PaymentUseCase = (*paymentUC)(nil)

// PaymentUseCase creates purchases and dispatches them to the credit or
// gateway path.
type PaymentUseCase interface {
	Purchase(ctx context.Context, req PurchaseRequest) (*PurchaseResult, error)
}

// PurchaseConfig replaces the old process-wide pricing defaults.
type PurchaseConfig struct {
	CallbackBaseURL   string // device id is appended
	Description       string // used when the catalog row has none
	ReferenceAttempts int
}

// PurchaseRequest is the client's intent. Amount and Period only select a
// catalog row; the charged amount always comes from the catalog.
type PurchaseRequest struct {
	UserID   string
	PlanKind model.PlanKind
	PlanID   string
	Amount   *decimal.Decimal
	Period   string
	DeviceID string
	Method   model.PaymentMethod
}

type PurchaseResult struct {
	PaymentID string
	Status    model.PaymentStatus
	Method    model.PaymentMethod

	// gateway path
	Authority   string
	RedirectURL string

	// credit path
	Reference          string
	InsufficientCredit bool
	Fulfillment        *FulfillmentResult
}

type paymentUC struct {
	payments repository.PaymentRepository
	catalog  repository.CatalogRepository
	users    repository.UserRepository
	ledger   repository.CreditTransactionRepository
	tm       repository.TransactionManager
	gateway  adapter.PaymentGateway
	fulfill  *fulfiller
	events   adapter.EventPublisher
	cfg      PurchaseConfig
	log      *zerolog.Logger
	now      func() time.Time
	newRef   func() (string, error)
}

func NewPaymentUseCase(
	payments repository.PaymentRepository,
	catalog repository.CatalogRepository,
	users repository.UserRepository,
	ledger repository.CreditTransactionRepository,
	tm repository.TransactionManager,
	gateway adapter.PaymentGateway,
	sync ExpirationSynchronizer,
	events adapter.EventPublisher,
	cfg PurchaseConfig,
	logger *zerolog.Logger,
) *paymentUC {
	if cfg.ReferenceAttempts <= 0 {
		cfg.ReferenceAttempts = 5
	}
	l := logger.With().Str("component", "PaymentUC").Logger()
	return &paymentUC{
		payments: payments,
		catalog:  catalog,
		users:    users,
		ledger:   ledger,
		tm:       tm,
		gateway:  gateway,
		fulfill:  &fulfiller{payments: payments, users: users, ledger: ledger, tm: tm, sync: sync, events: events, log: &l},
		events:   events,
		cfg:      cfg,
		log:      &l,
		now:      time.Now,
		newRef:   randomReference,
	}
}

func (u *paymentUC) WithClock(now func() time.Time) *paymentUC {
	u.now = now
	return u
}

func (u *paymentUC) Purchase(ctx context.Context, req PurchaseRequest) (*PurchaseResult, error) {
	defer logging.TraceDuration(u.log, "PaymentUC.Purchase")()

	if !req.Method.Valid() || !req.PlanKind.Valid() {
		return nil, domain.ErrInvalidArgument
	}
	if _, err := strconv.ParseInt(req.DeviceID, 10, 64); err != nil {
		return nil, fmt.Errorf("%w: device id", domain.ErrInvalidArgument)
	}
	plan, err := u.resolvePlan(ctx, req)
	if err != nil {
		return nil, err
	}
	user, err := u.users.FindByID(ctx, repository.NoTX, req.UserID)
	if err != nil {
		return nil, accountErr(err, req.UserID)
	}

	p := u.newPayment(req, plan, user)
	if err := u.payments.Save(ctx, repository.NoTX, p); err != nil {
		return nil, err
	}
	ctx = logging.WithPaymentID(ctx, p.ID)

	if req.Method == model.PaymentMethodCredit {
		return u.purchaseWithCredit(ctx, p)
	}
	return u.purchaseWithGateway(ctx, p, user)
}

// resolvePlan looks the plan up server-side. A client amount, when given,
// must equal what the catalog charges for the selected method.
func (u *paymentUC) resolvePlan(ctx context.Context, req PurchaseRequest) (model.Plan, error) {
	var plan model.Plan
	switch req.PlanKind {
	case model.PlanKindAccountCharge:
		var (
			ac  *model.AccountCharge
			err error
		)
		switch {
		case req.PlanID != "":
			ac, err = u.catalog.FindAccountChargeByID(ctx, repository.NoTX, req.PlanID)
		case req.Amount != nil && req.Period != "":
			ac, err = u.catalog.FindAccountCharge(ctx, repository.NoTX, *req.Amount, req.Period)
		default:
			return plan, domain.ErrInvalidPlan
		}
		if err != nil {
			return plan, planErr(err)
		}
		plan = ac.Plan()
		if req.Period != "" && req.Period != plan.Period {
			return plan, domain.ErrInvalidPlan
		}
	case model.PlanKindService:
		if req.PlanID == "" {
			return plan, domain.ErrInvalidPlan
		}
		svc, err := u.catalog.FindServiceByID(ctx, repository.NoTX, req.PlanID)
		if err != nil {
			return plan, planErr(err)
		}
		plan = svc.Plan()
	}

	charge := plan.ChargeFor(req.Method)
	if !charge.IsPositive() {
		return plan, domain.ErrInvalidPlan
	}
	// the client may echo either the listed price or the method's charge
	if req.Amount != nil && !req.Amount.Equal(charge) && !req.Amount.Equal(plan.Price) {
		return plan, domain.ErrInvalidPlan
	}
	return plan, nil
}

// accountErr separates a token whose subject has no user row from a missing
// catalog entry or payment.
func accountErr(err error, userID string) error {
	if errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("%w: %s", domain.ErrUnknownAccount, userID)
	}
	return err
}

func planErr(err error) error {
	if errors.Is(err, domain.ErrNotFound) {
		return domain.ErrInvalidPlan
	}
	return err
}

func (u *paymentUC) newPayment(req PurchaseRequest, plan model.Plan, user *model.User) *model.Payment {
	now := u.now()
	desc := plan.Description
	if desc == "" {
		desc = u.cfg.Description
	}
	p := &model.Payment{
		ID:           uuid.NewString(),
		UserID:       user.ID,
		PlanKind:     plan.Kind,
		PlanID:       plan.ID,
		Period:       plan.Period,
		Description:  desc,
		Amount:       plan.ChargeFor(req.Method),
		DurationDays: plan.DurationDays,
		Method:       req.Method,
		Status:       model.PaymentStatusPending,
		DeviceID:     req.DeviceID,
		OwnerPhone:   user.Phone,
		OwnerName:    user.DisplayName(),
		Fulfillment:  model.FulfillmentNone,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if p.GrantsCredit() {
		p.CreditAmount = plan.CreditCost
	}
	return p
}

func (u *paymentUC) purchaseWithCredit(ctx context.Context, p *model.Payment) (*PurchaseResult, error) {
	res := &PurchaseResult{PaymentID: p.ID, Method: p.Method}
	paidAt := u.now()

	err := u.tm.WithTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(ctx context.Context, tx repository.Tx) error {
		ok, err := u.users.DebitIfSufficient(ctx, tx, p.UserID, p.Amount)
		if err != nil {
			return err
		}
		if !ok {
			if _, err := u.payments.UpdateStatusIfPending(ctx, tx, p.ID, repository.StatusUpdate{
				Status:      model.PaymentStatusFailed,
				FailureCode: model.FailureCodeInsufficientCredit,
			}); err != nil {
				return err
			}
			res.InsufficientCredit = true
			return nil
		}

		ref, err := u.allocateReference(ctx, tx)
		if err != nil {
			return err
		}
		won, err := u.payments.UpdateStatusIfPending(ctx, tx, p.ID, repository.StatusUpdate{
			Status: model.PaymentStatusSucceeded,
			RefID:  &ref,
			PaidAt: &paidAt,
		})
		if err != nil {
			return err
		}
		if !won {
			return fmt.Errorf("%w: payment %s left pending state", domain.ErrOperationFailed, p.ID)
		}
		res.Reference = ref
		return u.ledger.Append(ctx, tx, &model.CreditTransaction{
			ID:          uuid.NewString(),
			UserID:      p.UserID,
			PaymentID:   p.ID,
			Kind:        model.CreditTxUse,
			Amount:      p.Amount,
			Description: p.Description,
			CreatedAt:   paidAt,
		})
	})
	if err != nil {
		if errors.Is(err, domain.ErrReferenceExhausted) {
			// nothing was debited; close the attempt
			if _, uerr := u.payments.UpdateStatusIfPending(ctx, repository.NoTX, p.ID, repository.StatusUpdate{
				Status:      model.PaymentStatusFailed,
				FailureCode: model.FailureCodeReferenceExhausted,
			}); uerr != nil {
				u.log.Error().Err(uerr).Str("payment_id", p.ID).Msg("could not close payment")
			}
		}
		return nil, err
	}

	if res.InsufficientCredit {
		p.Status = model.PaymentStatusFailed
		p.FailureCode = model.FailureCodeInsufficientCredit
		res.Status = p.Status
		u.log.Info().Str("payment_id", p.ID).Str("user_id", p.UserID).Msg("insufficient credit")
		publishEvent(ctx, u.events, u.log, adapter.EventPaymentFailed, p, map[string]string{"code": p.FailureCode})
		return res, nil
	}

	p.Status = model.PaymentStatusSucceeded
	p.RefID = &res.Reference
	p.PaidAt = &paidAt
	res.Status = p.Status
	publishEvent(ctx, u.events, u.log, adapter.EventPaymentSucceeded, p, nil)

	// The debit is committed; a failed extension is left for the retry job.
	fr := u.fulfill.Fulfill(ctx, p)
	res.Fulfillment = &fr
	return res, nil
}

func (u *paymentUC) allocateReference(ctx context.Context, tx repository.Tx) (string, error) {
	for i := 0; i < u.cfg.ReferenceAttempts; i++ {
		ref, err := u.newRef()
		if err != nil {
			return "", err
		}
		taken, err := u.payments.RefExists(ctx, tx, ref)
		if err != nil {
			return "", err
		}
		if !taken {
			return ref, nil
		}
	}
	return "", domain.ErrReferenceExhausted
}

func (u *paymentUC) purchaseWithGateway(ctx context.Context, p *model.Payment, user *model.User) (*PurchaseResult, error) {
	out, err := u.gateway.RequestPayment(ctx, adapter.PaymentRequest{
		Amount:      p.AmountMinor(),
		Description: p.Description,
		CallbackURL: u.callbackURL(p.DeviceID),
		Mobile:      digitsOnly(user.Phone),
	})
	if err != nil {
		// The payment stays pending without an authority; the abandoned
		// sweep closes it later.
		u.log.Warn().Err(err).Str("payment_id", p.ID).Str("gateway", u.gateway.Name()).Msg("gateway request failed")
		return nil, fmt.Errorf("%w: %w", domain.ErrGatewayUnavailable, err)
	}

	ok, err := u.payments.SetAuthority(ctx, repository.NoTX, p.ID, out.Authority)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: authority already set on %s", domain.ErrOperationFailed, p.ID)
	}
	p.Authority = out.Authority
	u.log.Info().Str("payment_id", p.ID).Str("authority", out.Authority).Msg("gateway payment initiated")
	return &PurchaseResult{
		PaymentID:   p.ID,
		Status:      model.PaymentStatusPending,
		Method:      p.Method,
		Authority:   out.Authority,
		RedirectURL: out.RedirectURL,
	}, nil
}

func (u *paymentUC) callbackURL(deviceID string) string {
	base := u.cfg.CallbackBaseURL
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	return base + deviceID
}

// randomReference returns an 8-digit numeric ticket.
func randomReference() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(90_000_000))
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(n.Int64()+10_000_000, 10), nil
}

func digitsOnly(s string) string {
	s = strings.TrimPrefix(strings.TrimSpace(s), "+")
	for _, r := range s {
		if r < '0' || r > '9' {
			return ""
		}
	}
	return s
}
