package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"fleet-billing/internal/domain"
	"fleet-billing/internal/domain/ports/adapter"
	"fleet-billing/internal/infra/logging"
	"fleet-billing/internal/usecase"
)

// Stable machine codes of the response envelope.
const (
	codeInvalidRequest     = "invalid_request"
	codeInvalidPlan        = "invalid_plan"
	codeInsufficientCredit = "insufficient_credit"
	codeNotFound           = "not_found"
	codeInProgress         = "in_progress"
	codeGatewayUnavailable = "gateway_unavailable"
	codeTrackingFailed     = "tracking_unavailable"
	codeUnauthorized       = "unauthorized"
	codeUnknownAccount     = "unknown_account"
	codeTooManyRequests    = "too_many_requests"
	codeInternal           = "internal"
)

// envelope is the only response shape of the JSON API.
type envelope struct {
	Success bool   `json:"success"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) ok(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: data})
}

// reply writes a failure envelope with a localized message.
func (s *Server) reply(w http.ResponseWriter, _ *http.Request, status int, code, msgKey string, data any) {
	writeJSON(w, status, envelope{Code: code, Message: s.tr.T(msgKey), Data: data})
}

// fail maps err to the envelope. Details go to the log only.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code, key := classify(err)
	lg := logging.With(r.Context(), s.log)
	if status >= http.StatusInternalServerError {
		lg.Error().Err(err).Str("code", code).Msg("request failed")
	} else {
		lg.Info().Err(err).Str("code", code).Msg("request rejected")
	}
	s.reply(w, r, status, code, key, nil)
}

func classify(err error) (status int, code, msgKey string) {
	var (
		se *usecase.ExpirationSyncError
		te *adapter.TrackingError
	)
	switch {
	case errors.As(err, &se) && errors.As(err, &te) && te.StatusCode == http.StatusNotFound:
		return http.StatusNotFound, codeNotFound, "err_tracking_record_not_found"
	case errors.As(err, &se):
		return http.StatusBadGateway, codeTrackingFailed, "err_tracking_unavailable"
	case errors.Is(err, domain.ErrInvalidPlan):
		return http.StatusBadRequest, codeInvalidPlan, "err_invalid_plan"
	case errors.Is(err, domain.ErrInvalidArgument):
		return http.StatusBadRequest, codeInvalidRequest, "err_invalid_request"
	case errors.Is(err, domain.ErrUnknownAccount):
		return http.StatusUnauthorized, codeUnknownAccount, "err_unknown_account"
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, codeNotFound, "payment_not_found"
	case errors.Is(err, domain.ErrPaymentInProgress):
		return http.StatusConflict, codeInProgress, "err_payment_in_progress"
	case errors.Is(err, domain.ErrGatewayUnavailable):
		return http.StatusBadGateway, codeGatewayUnavailable, "err_gateway_unavailable"
	default:
		return http.StatusInternalServerError, codeInternal, "err_internal"
	}
}
