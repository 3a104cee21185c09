package adapter

import (
	"context"
	"errors"
	"fmt"
)

// PaymentRequest is validated before it leaves the process.
type PaymentRequest struct {
	Amount      int64  `validate:"gt=0"`
	Description string `validate:"required"`
	CallbackURL string `validate:"required,url"`
	Mobile      string `validate:"omitempty,numeric"`
}

type PaymentRequestResult struct {
	Authority   string
	RedirectURL string
}

type VerifyRequest struct {
	Authority string `validate:"required"`
	Amount    int64  `validate:"gt=0"`
}

// VerifyResult is the provider's answer. A business rejection is a result
// with a non-success Code, not an error.
type VerifyResult struct {
	Code    int
	RefID   string
	CardPan string
	FeeType string
	Fee     int64
	Message string
}

// PaymentGateway is the hex port for payment providers.
type PaymentGateway interface {
	Name() string
	RequestPayment(ctx context.Context, req PaymentRequest) (PaymentRequestResult, error)
	VerifyPayment(ctx context.Context, req VerifyRequest) (VerifyResult, error)
}

// Transport-level failure codes.
const (
	GatewayCodeTimeout         = "timeout"
	GatewayCodeConnectionError = "connection_error"
	GatewayCodeInvalidJSON     = "invalid_json"
	GatewayCodeInvalidRequest  = "invalid_request"
)

var ErrGatewayRejected = errors.New("gateway rejected the request")

// GatewayError is a failure talking to the gateway. Code is either one of
// the transport codes above, "http_<status>", or the provider's own error code.
type GatewayError struct {
	Op   string
	Code string
	Err  error
}

func (e *GatewayError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("gateway %s: %s: %v", e.Op, e.Code, e.Err)
	}
	return fmt.Sprintf("gateway %s: %s", e.Op, e.Code)
}

func (e *GatewayError) Unwrap() error { return e.Err }
