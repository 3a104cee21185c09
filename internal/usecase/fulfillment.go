package usecase

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"fleet-billing/internal/domain/model"
	"fleet-billing/internal/domain/ports/adapter"
	"fleet-billing/internal/domain/ports/repository"
)

const (
	FulfillmentKindDevice = "device"
	FulfillmentKindCredit = "credit"
)

// FulfillmentResult describes what a succeeded payment granted.
type FulfillmentResult struct {
	Kind          string
	Applied       bool
	AlreadyDone   bool
	NewExpiration *time.Time
	CreditGranted decimal.Decimal
	Err           error
}

// fulfiller applies the entitlement of a succeeded payment. It never
// touches the payment status; failures are recorded on the fulfillment
// columns so the retry job can pick them up.
type fulfiller struct {
	payments repository.PaymentRepository
	users    repository.UserRepository
	ledger   repository.CreditTransactionRepository
	tm       repository.TransactionManager
	sync     ExpirationSynchronizer
	events   adapter.EventPublisher
	log      *zerolog.Logger
}

func (f *fulfiller) Fulfill(ctx context.Context, p *model.Payment) FulfillmentResult {
	if p.Status != model.PaymentStatusSucceeded {
		return FulfillmentResult{Err: fmt.Errorf("payment %s is %s", p.ID, p.Status)}
	}
	var res FulfillmentResult
	if p.GrantsCredit() {
		res = f.topUp(ctx, p)
	} else {
		res = f.extendDevice(ctx, p)
	}

	switch {
	case res.Err != nil:
		p.Fulfillment = model.FulfillmentFailed
		p.FulfillmentError = res.Err.Error()
		f.log.Error().Err(res.Err).Str("payment_id", p.ID).Str("kind", res.Kind).Msg("fulfillment failed; payment stays succeeded")
		f.publish(ctx, adapter.EventFulfillmentFailed, p, map[string]string{"kind": res.Kind, "error": res.Err.Error()})
	case res.Applied:
		p.Fulfillment = model.FulfillmentDone
		p.FulfillmentError = ""
		data := map[string]string{"kind": res.Kind}
		if res.NewExpiration != nil {
			data["expiration"] = adapter.FormatExpiration(*res.NewExpiration)
		}
		if !res.CreditGranted.IsZero() {
			data["credit"] = res.CreditGranted.String()
		}
		f.publish(ctx, adapter.EventFulfillmentApplied, p, data)
	}
	return res
}

func (f *fulfiller) topUp(ctx context.Context, p *model.Payment) FulfillmentResult {
	res := FulfillmentResult{Kind: FulfillmentKindCredit}
	if p.Fulfillment == model.FulfillmentDone {
		res.AlreadyDone = true
		return res
	}
	err := f.tm.WithTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(ctx context.Context, tx repository.Tx) error {
		claimed, err := f.payments.ClaimFulfillment(ctx, tx, p.ID)
		if err != nil {
			return err
		}
		if !claimed {
			res.AlreadyDone = true
			return nil
		}
		if err := f.users.AddCredit(ctx, tx, p.UserID, p.CreditAmount); err != nil {
			return err
		}
		return f.ledger.Append(ctx, tx, &model.CreditTransaction{
			ID:          uuid.NewString(),
			UserID:      p.UserID,
			PaymentID:   p.ID,
			Kind:        model.CreditTxAdd,
			Amount:      p.CreditAmount,
			Description: p.Description,
			CreatedAt:   time.Now(),
		})
	})
	if err != nil {
		res.Err = err
		if serr := f.payments.SetFulfillment(ctx, repository.NoTX, p.ID, model.FulfillmentFailed, err.Error()); serr != nil {
			f.log.Error().Err(serr).Str("payment_id", p.ID).Msg("could not record fulfillment failure")
		}
		return res
	}
	if !res.AlreadyDone {
		res.Applied = true
		res.CreditGranted = p.CreditAmount
	}
	return res
}

func (f *fulfiller) extendDevice(ctx context.Context, p *model.Payment) FulfillmentResult {
	res := FulfillmentResult{Kind: FulfillmentKindDevice}
	if p.Fulfillment == model.FulfillmentDone {
		res.AlreadyDone = true
		return res
	}
	deviceID, err := strconv.ParseInt(p.DeviceID, 10, 64)
	switch {
	case p.DurationDays <= 0:
		// nothing to extend
	case err != nil:
		res.Err = &ExpirationSyncError{Op: "parse", Err: fmt.Errorf("device id %q: %w", p.DeviceID, err)}
	default:
		exp, serr := f.sync.ExtendDevice(ctx, deviceID, p.DurationDays)
		if serr != nil {
			res.Err = serr
		} else {
			res.Applied = true
			res.NewExpiration = &exp
		}
	}

	state, errText := model.FulfillmentDone, ""
	if res.Err != nil {
		state, errText = model.FulfillmentFailed, res.Err.Error()
	}
	if err := f.payments.SetFulfillment(ctx, repository.NoTX, p.ID, state, errText); err != nil {
		f.log.Error().Err(err).Str("payment_id", p.ID).Str("state", string(state)).Msg("could not record fulfillment state")
	}
	return res
}

func (f *fulfiller) publish(ctx context.Context, typ string, p *model.Payment, data map[string]string) {
	publishEvent(ctx, f.events, f.log, typ, p, data)
}

// publishEvent is best effort: a broker outage never fails a payment.
func publishEvent(ctx context.Context, pub adapter.EventPublisher, log *zerolog.Logger, typ string, p *model.Payment, data map[string]string) {
	if pub == nil {
		return
	}
	if data == nil {
		data = map[string]string{}
	}
	data["user_id"] = p.UserID
	data["device_id"] = p.DeviceID
	data["method"] = string(p.Method)
	data["amount"] = p.Amount.String()
	if ref := p.Reference(); ref != "" {
		data["reference"] = ref
	}
	ev := adapter.Event{Type: typ, Key: p.ID, OccurredAt: time.Now().UTC(), Data: data}
	if err := pub.Publish(ctx, ev); err != nil {
		log.Warn().Err(err).Str("type", typ).Str("payment_id", p.ID).Msg("event not published")
	}
}
