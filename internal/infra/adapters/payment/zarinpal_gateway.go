package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/cast"

	"fleet-billing/internal/domain/ports/adapter"
)

var _ adapter.PaymentGateway = (*ZarinPalGateway)(nil)

var validate = validator.New()

// ZarinPal result codes that mean the money was captured. 101 is returned
// when the authority was already verified once.
const (
	CodeVerified        = 100
	CodeAlreadyVerified = 101
)

// SuccessCodes lists the verify result codes that mean the payment succeeded.
// Verification decides paid against this list only.
func SuccessCodes() []int { return []int{CodeVerified, CodeAlreadyVerified} }

// ZarinPalGateway implements adapter.PaymentGateway over REST v4.
type ZarinPalGateway struct {
	merchantID string
	client     *http.Client
	apiBase    string
	payBase    string
}

func NewZarinPalGateway(merchantID string, sandbox bool, timeout time.Duration) (*ZarinPalGateway, error) {
	if merchantID == "" {
		return nil, errors.New("merchant id empty")
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	host := "https://payment.zarinpal.com"
	pay := "https://www.zarinpal.com"
	if sandbox {
		host = "https://sandbox.zarinpal.com"
		pay = "https://sandbox.zarinpal.com"
	}
	return &ZarinPalGateway{
		merchantID: merchantID,
		client:     &http.Client{Timeout: timeout},
		apiBase:    host + "/pg/v4",
		payBase:    pay + "/pg/StartPay/",
	}, nil
}

// SetEndpoints overrides the API and StartPay base URLs.
func (z *ZarinPalGateway) SetEndpoints(apiBase, startPayBase string) {
	z.apiBase = strings.TrimRight(apiBase, "/")
	z.payBase = startPayBase
}

func (z *ZarinPalGateway) Name() string { return "zarinpal" }

type zpEnvelope struct {
	Data   json.RawMessage `json:"data"`
	Errors json.RawMessage `json:"errors"`
}

type zpRequestData struct {
	Code      int    `json:"code"`
	Message   string `json:"message"`
	Authority string `json:"authority"`
}

type zpVerifyData struct {
	Code     int    `json:"code"`
	Message  string `json:"message"`
	RefID    any    `json:"ref_id"`
	CardPan  string `json:"card_pan"`
	CardHash string `json:"card_hash"`
	FeeType  string `json:"fee_type"`
	Fee      any    `json:"fee"`
}

type zpError struct {
	Code    any    `json:"code"`
	Message string `json:"message"`
}

// RequestPayment calls /payment/request.json and returns the authority with
// the StartPay URL the customer is redirected to.
func (z *ZarinPalGateway) RequestPayment(ctx context.Context, req adapter.PaymentRequest) (adapter.PaymentRequestResult, error) {
	const op = "request"
	if err := validate.Struct(req); err != nil {
		return adapter.PaymentRequestResult{}, &adapter.GatewayError{Op: op, Code: adapter.GatewayCodeInvalidRequest, Err: err}
	}
	payload := map[string]any{
		"merchant_id":  z.merchantID,
		"amount":       req.Amount,
		"description":  req.Description,
		"callback_url": req.CallbackURL,
	}
	if req.Mobile != "" {
		payload["metadata"] = map[string]string{"mobile": req.Mobile}
	}

	status, env, err := z.post(ctx, op, "/payment/request.json", payload)
	if err != nil {
		return adapter.PaymentRequestResult{}, err
	}
	var data zpRequestData
	if decodeObject(env.Data, &data) && data.Code == CodeVerified && data.Authority != "" {
		return adapter.PaymentRequestResult{
			Authority:   data.Authority,
			RedirectURL: z.payBase + data.Authority,
		}, nil
	}
	if data.Code != 0 {
		return adapter.PaymentRequestResult{}, &adapter.GatewayError{Op: op, Code: cast.ToString(data.Code), Err: adapter.ErrGatewayRejected}
	}
	if code, msg, ok := providerError(env.Errors); ok {
		return adapter.PaymentRequestResult{}, &adapter.GatewayError{Op: op, Code: cast.ToString(code), Err: fmt.Errorf("%w: %s", adapter.ErrGatewayRejected, msg)}
	}
	return adapter.PaymentRequestResult{}, &adapter.GatewayError{Op: op, Code: httpCode(status)}
}

// VerifyPayment calls /payment/verify.json. A decoded provider answer is a
// result even when the code is not a success code; only transport problems
// and unexplained HTTP failures are errors.
func (z *ZarinPalGateway) VerifyPayment(ctx context.Context, req adapter.VerifyRequest) (adapter.VerifyResult, error) {
	const op = "verify"
	if err := validate.Struct(req); err != nil {
		return adapter.VerifyResult{}, &adapter.GatewayError{Op: op, Code: adapter.GatewayCodeInvalidRequest, Err: err}
	}
	payload := map[string]any{
		"merchant_id": z.merchantID,
		"amount":      req.Amount,
		"authority":   req.Authority,
	}
	status, env, err := z.post(ctx, op, "/payment/verify.json", payload)
	if err != nil {
		return adapter.VerifyResult{}, err
	}

	var data zpVerifyData
	if decodeObject(env.Data, &data) && data.Code != 0 {
		res := adapter.VerifyResult{
			Code:    data.Code,
			Message: data.Message,
			CardPan: data.CardPan,
			FeeType: data.FeeType,
			Fee:     cast.ToInt64(data.Fee),
		}
		if data.RefID != nil {
			res.RefID = cast.ToString(data.RefID)
		}
		return res, nil
	}
	if code, msg, ok := providerError(env.Errors); ok {
		return adapter.VerifyResult{Code: code, Message: msg}, nil
	}
	return adapter.VerifyResult{}, &adapter.GatewayError{Op: op, Code: httpCode(status)}
}

func (z *ZarinPalGateway) post(ctx context.Context, op, path string, payload any) (int, zpEnvelope, error) {
	var env zpEnvelope
	b, err := json.Marshal(payload)
	if err != nil {
		return 0, env, &adapter.GatewayError{Op: op, Code: adapter.GatewayCodeInvalidRequest, Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, z.apiBase+path, bytes.NewReader(b))
	if err != nil {
		return 0, env, &adapter.GatewayError{Op: op, Code: adapter.GatewayCodeInvalidRequest, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := z.client.Do(req)
	if err != nil {
		return 0, env, &adapter.GatewayError{Op: op, Code: transportCode(err), Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return resp.StatusCode, env, &adapter.GatewayError{Op: op, Code: transportCode(err), Err: err}
	}
	if err := json.Unmarshal(body, &env); err != nil {
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return resp.StatusCode, env, &adapter.GatewayError{Op: op, Code: adapter.GatewayCodeInvalidJSON, Err: err}
		}
		return resp.StatusCode, env, &adapter.GatewayError{Op: op, Code: httpCode(resp.StatusCode)}
	}
	return resp.StatusCode, env, nil
}

// decodeObject decodes raw into dst when it holds a JSON object. The
// provider sends [] in place of an empty object.
func decodeObject(raw json.RawMessage, dst any) bool {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return false
	}
	return json.Unmarshal(trimmed, dst) == nil
}

func providerError(raw json.RawMessage) (int, string, bool) {
	var e zpError
	if !decodeObject(raw, &e) || e.Code == nil {
		return 0, "", false
	}
	code, err := cast.ToIntE(e.Code)
	if err != nil || code == 0 {
		return 0, "", false
	}
	return code, e.Message, true
}

func transportCode(err error) string {
	var ne net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
		return adapter.GatewayCodeTimeout
	}
	return adapter.GatewayCodeConnectionError
}

func httpCode(status int) string { return fmt.Sprintf("http_%d", status) }
