package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"fleet-billing/internal/domain"
	"fleet-billing/internal/domain/model"
	"fleet-billing/internal/usecase"
)

func chiParam(r *http.Request, name string) string { return chi.URLParam(r, name) }

func queryBool(r *http.Request, name string) bool {
	b, _ := strconv.ParseBool(r.URL.Query().Get(name))
	return b
}

func queryInt(r *http.Request, name string) int {
	n, _ := strconv.Atoi(r.URL.Query().Get(name))
	return n
}

type paymentView struct {
	ID          string `json:"id"`
	UserID      string `json:"user_id"`
	PlanKind    string `json:"plan_kind"`
	Method      string `json:"method"`
	Status      string `json:"status"`
	Amount      string `json:"amount"`
	Authority   string `json:"authority,omitempty"`
	Reference   string `json:"reference,omitempty"`
	FailureCode string `json:"failure_code,omitempty"`
	DeviceID    string `json:"device_id,omitempty"`
	Fulfillment string `json:"fulfillment"`
	CreatedAt   string `json:"created_at"`
}

func toPaymentView(p *model.Payment) paymentView {
	return paymentView{
		ID:          p.ID,
		UserID:      p.UserID,
		PlanKind:    string(p.PlanKind),
		Method:      string(p.Method),
		Status:      string(p.Status),
		Amount:      p.Amount.String(),
		Authority:   p.Authority,
		Reference:   p.Reference(),
		FailureCode: p.FailureCode,
		DeviceID:    p.DeviceID,
		Fulfillment: string(p.Fulfillment),
		CreatedAt:   p.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"),
	}
}

// POST /api/v1/admin/payments/{id}/reverify?dry_run=true
func (s *Server) handleReverify(w http.ResponseWriter, r *http.Request) {
	out, err := s.reconcile.Reverify(r.Context(), chiParam(r, "id"), queryBool(r, "dry_run"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	data := map[string]any{"payment": toPaymentView(out.Payment)}
	if out.Result != nil {
		data["result"] = s.toVerifyData(out.Result)
	}
	if out.Fulfillment != nil {
		data["fulfillment_applied"] = out.Fulfillment.Applied
	}
	s.ok(w, data)
}

// POST /api/v1/admin/payments/reverify-all?status=&limit=&dry_run=
func (s *Server) handleReverifyAll(w http.ResponseWriter, r *http.Request) {
	status := model.PaymentStatus(r.URL.Query().Get("status"))
	if status != "" && !status.Valid() {
		s.reply(w, r, http.StatusBadRequest, codeInvalidRequest, "err_invalid_request", nil)
		return
	}
	rep, err := s.reconcile.ReverifyAll(r.Context(), usecase.ReverifyAllOptions{
		Status: status,
		Limit:  queryInt(r, "limit"),
		DryRun: queryBool(r, "dry_run"),
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.ok(w, batchView(rep))
}

// POST /api/v1/admin/payments/retry-fulfillment?limit=
func (s *Server) handleRetryFulfillment(w http.ResponseWriter, r *http.Request) {
	rep, err := s.reconcile.RetryFulfillment(r.Context(), queryInt(r, "limit"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.ok(w, batchView(rep))
}

// POST /api/v1/admin/shadow/{kind}/{id}/reset. Device ids are "<user>:<device>".
func (s *Server) handleShadowReset(w http.ResponseWriter, r *http.Request) {
	kind := model.ShadowKind(chiParam(r, "kind"))
	if err := s.retention.ResetMilestones(r.Context(), kind, chiParam(r, "id")); err != nil {
		s.fail(w, r, err)
		return
	}
	s.ok(w, map[string]string{"kind": string(kind), "id": chiParam(r, "id")})
}

type extendBody struct {
	Days int `json:"days" validate:"required,min=1,max=3650"`
}

// POST /api/v1/admin/tracking-users/{id}/extend {"days": N}. Renews a
// tracking account N days from now.
func (s *Server) handleExtendTrackingUser(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chiParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		s.reply(w, r, http.StatusBadRequest, codeInvalidRequest, "err_invalid_request", nil)
		return
	}
	var body extendBody
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<12)).Decode(&body); err != nil {
		s.reply(w, r, http.StatusBadRequest, codeInvalidRequest, "err_invalid_request", nil)
		return
	}
	if err := s.validate.Struct(body); err != nil {
		s.fail(w, r, fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err))
		return
	}
	exp, err := s.expiration.ExtendUser(r.Context(), id, body.Days)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.ok(w, map[string]any{"tracking_user_id": id, "days": body.Days, "new_expiration": exp.UTC().Format(time.RFC3339)})
}

func batchView(rep usecase.BatchReport) map[string]int {
	return map[string]int{
		"scanned":   rep.Scanned,
		"succeeded": rep.Succeeded,
		"failed":    rep.Failed,
		"pending":   rep.Pending,
		"skipped":   rep.Skipped,
		"errors":    rep.Errors,
	}
}
