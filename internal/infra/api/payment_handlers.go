package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"fleet-billing/internal/domain"
	"fleet-billing/internal/domain/model"
	"fleet-billing/internal/infra/logging"
	"fleet-billing/internal/infra/metrics"
	"fleet-billing/internal/usecase"
)

type purchaseBody struct {
	PlanKind string           `json:"plan_kind" validate:"required,oneof=account_charge service"`
	PlanID   string           `json:"plan_id" validate:"omitempty,max=64"`
	Amount   *decimal.Decimal `json:"amount"`
	Period   string           `json:"period" validate:"omitempty,max=16"`
	DeviceID string           `json:"device_id" validate:"required,numeric,max=20"`
	Method   string           `json:"method" validate:"required,oneof=credit gateway"`
}

type purchaseData struct {
	PaymentID   string `json:"payment_id"`
	Status      string `json:"status"`
	Method      string `json:"method"`
	Authority   string `json:"authority,omitempty"`
	RedirectURL string `json:"redirect_url,omitempty"`
	Reference   string `json:"reference,omitempty"`
	Expiration  string `json:"new_expiration,omitempty"`
	Fulfillment string `json:"fulfillment,omitempty"`
}

func (s *Server) handlePurchase(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r.Context())
	var body purchaseBody
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&body); err != nil {
		s.reply(w, r, http.StatusBadRequest, codeInvalidRequest, "err_invalid_request", nil)
		return
	}
	if err := s.validate.Struct(body); err != nil {
		s.fail(w, r, fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err))
		return
	}

	res, err := s.payments.Purchase(r.Context(), usecase.PurchaseRequest{
		UserID:   claims.Subject,
		PlanKind: model.PlanKind(body.PlanKind),
		PlanID:   body.PlanID,
		Amount:   body.Amount,
		Period:   body.Period,
		DeviceID: body.DeviceID,
		Method:   model.PaymentMethod(body.Method),
	})
	if err != nil {
		metrics.IncPayment(body.Method, "error")
		s.fail(w, r, err)
		return
	}

	data := purchaseData{
		PaymentID:   res.PaymentID,
		Status:      string(res.Status),
		Method:      string(res.Method),
		Authority:   res.Authority,
		RedirectURL: res.RedirectURL,
		Reference:   res.Reference,
	}
	if f := res.Fulfillment; f != nil {
		data.Fulfillment = string(fulfillmentState(f))
		if f.NewExpiration != nil {
			data.Expiration = f.NewExpiration.UTC().Format(time.RFC3339)
		}
	}
	if res.InsufficientCredit {
		metrics.IncPayment(body.Method, "insufficient_credit")
		s.reply(w, r, http.StatusPaymentRequired, codeInsufficientCredit, "err_insufficient_credit", data)
		return
	}
	metrics.IncPayment(body.Method, string(res.Status))
	s.ok(w, data)
}

// fulfillmentState reports done only when the entitlement was actually
// applied, now or by an earlier attempt.
func fulfillmentState(f *usecase.FulfillmentResult) model.FulfillmentState {
	switch {
	case f.Err != nil:
		return model.FulfillmentFailed
	case f.Applied || f.AlreadyDone:
		return model.FulfillmentDone
	default:
		return model.FulfillmentNone
	}
}

type verifyBody struct {
	Authority string `json:"Authority" validate:"required,max=64"`
}

type verifyData struct {
	PaymentID     string `json:"payment_id"`
	Status        string `json:"status"`
	StatusText    string `json:"status_text"`
	Reference     string `json:"reference,omitempty"`
	Code          string `json:"code,omitempty"`
	DeviceID      string `json:"device_id,omitempty"`
	DurationDays  int    `json:"duration_days,omitempty"`
	CreditGranted string `json:"credit_granted,omitempty"`
	CardPan       string `json:"card_pan,omitempty"`
	FeeType       string `json:"fee_type,omitempty"`
	Fee           int64  `json:"fee,omitempty"`
	Fulfillment   string `json:"fulfillment,omitempty"`
}

func (s *Server) toVerifyData(res *usecase.VerificationResult) verifyData {
	d := verifyData{
		PaymentID:    res.PaymentID,
		Status:       string(res.Status),
		StatusText:   s.tr.T("status_" + string(res.Status)),
		Reference:    res.Reference,
		Code:         res.Code,
		DeviceID:     res.DeviceID,
		DurationDays: res.DurationDays,
		CardPan:      res.CardPan,
		FeeType:      res.FeeType,
		Fee:          res.Fee,
		Fulfillment:  string(res.Fulfillment),
	}
	if !res.CreditGranted.IsZero() {
		d.CreditGranted = res.CreditGranted.String()
	}
	return d
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	var body verifyBody
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<12)).Decode(&body); err != nil {
		s.reply(w, r, http.StatusBadRequest, codeInvalidRequest, "err_invalid_request", nil)
		return
	}
	if err := s.validate.Struct(body); err != nil {
		s.reply(w, r, http.StatusBadRequest, codeInvalidRequest, "err_invalid_request", nil)
		return
	}
	res, err := s.verifier.Verify(r.Context(), body.Authority)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if !res.Success {
		writeJSON(w, http.StatusOK, envelope{Code: res.Code, Message: s.tr.T("payment_failed"), Data: s.toVerifyData(res)})
		return
	}
	s.ok(w, s.toVerifyData(res))
}

func (s *Server) handleWallet(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	view, err := s.wallet.Wallet(r.Context(), claimsFrom(r.Context()).Subject, limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	type entry struct {
		Kind        string `json:"kind"`
		Amount      string `json:"amount"`
		PaymentID   string `json:"payment_id,omitempty"`
		Description string `json:"description,omitempty"`
		CreatedAt   string `json:"created_at"`
	}
	history := make([]entry, 0, len(view.History))
	for _, tx := range view.History {
		history = append(history, entry{
			Kind:        string(tx.Kind),
			Amount:      tx.Amount.String(),
			PaymentID:   tx.PaymentID,
			Description: tx.Description,
			CreatedAt:   tx.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	s.ok(w, map[string]any{
		"user_id": view.UserID,
		"name":    view.Name,
		"credit":  view.Credit.String(),
		"history": history,
	})
}

func (s *Server) handleCatalog(w http.ResponseWriter, r *http.Request) {
	c, err := s.catalog.List(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	type item struct {
		Kind         string `json:"kind"`
		ID           string `json:"id"`
		Name         string `json:"name,omitempty"`
		Period       string `json:"period,omitempty"`
		Description  string `json:"description,omitempty"`
		Price        string `json:"price"`
		CreditCost   string `json:"credit_cost"`
		DurationDays int    `json:"duration_days"`
	}
	items := make([]item, 0, len(c.AccountCharges)+len(c.Services))
	for _, a := range c.AccountCharges {
		p := a.Plan()
		items = append(items, item{Kind: string(p.Kind), ID: p.ID, Period: p.Period, Description: p.Description,
			Price: p.Price.String(), CreditCost: p.CreditCost.String(), DurationDays: p.DurationDays})
	}
	for _, sv := range c.Services {
		p := sv.Plan()
		items = append(items, item{Kind: string(p.Kind), ID: p.ID, Name: sv.Name, Description: p.Description,
			Price: p.Price.String(), CreditCost: p.CreditCost.String(), DurationDays: p.DurationDays})
	}
	s.ok(w, map[string]any{"items": items})
}

// handleCallback is where the gateway sends the customer back. It verifies
// and renders a localized result page.
func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	authority := q.Get("Authority")
	status := q.Get("Status")
	lg := logging.With(r.Context(), s.log)

	if authority == "" {
		s.renderPage(w, http.StatusBadRequest, resultPage{Message: s.tr.T("err_invalid_request")})
		return
	}

	res, err := s.verifier.Verify(r.Context(), authority)
	if err != nil {
		code, _, key := classify(err)
		switch code {
		case http.StatusConflict, http.StatusBadGateway:
			key, code = "payment_pending", http.StatusOK
		case http.StatusInternalServerError:
			lg.Error().Err(err).Str("authority", authority).Msg("callback verify failed")
		}
		s.renderPage(w, code, resultPage{Message: s.tr.T(key)})
		return
	}
	if dev := chiParam(r, "deviceID"); dev != res.DeviceID {
		lg.Warn().Str("path_device", dev).Str("payment_device", res.DeviceID).Msg("callback device mismatch")
	}

	if !res.Success {
		key := "payment_failed"
		if status != "OK" {
			key = "payment_cancelled"
		}
		s.renderPage(w, http.StatusOK, resultPage{Message: s.tr.T(key), Code: res.Code})
		return
	}
	page := resultPage{OK: true, Message: s.tr.T("payment_ok"), Reference: s.tr.T("payment_ok_ref", res.Reference)}
	if res.Fulfillment == model.FulfillmentFailed {
		page.Note = s.tr.T("fulfillment_failed")
	}
	s.renderPage(w, http.StatusOK, page)
}
