package payment

import (
	"context"
	"fmt"
	"sync"

	"fleet-billing/internal/domain/ports/adapter"
)

var _ adapter.PaymentGateway = (*NoopPaymentGateway)(nil)

// NoopPaymentGateway is an in-memory gateway for local runs and tests.
// Every requested payment verifies with code 100.
type NoopPaymentGateway struct {
	mu      sync.Mutex
	seq     int64
	intents map[string]int64 // authority -> expected amount (IRR)
}

func NewNoopPaymentGateway() *NoopPaymentGateway {
	return &NoopPaymentGateway{intents: make(map[string]int64)}
}

func (g *NoopPaymentGateway) Name() string { return "noop" }

func (g *NoopPaymentGateway) RequestPayment(ctx context.Context, req adapter.PaymentRequest) (adapter.PaymentRequestResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seq++
	authority := fmt.Sprintf("A%035d", g.seq)
	g.intents[authority] = req.Amount
	return adapter.PaymentRequestResult{Authority: authority, RedirectURL: "https://example.test/pay/" + authority}, nil
}

func (g *NoopPaymentGateway) VerifyPayment(ctx context.Context, req adapter.VerifyRequest) (adapter.VerifyResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	exp, ok := g.intents[req.Authority]
	if !ok {
		return adapter.VerifyResult{Code: -54, Message: "authority not found"}, nil
	}
	if exp != req.Amount {
		return adapter.VerifyResult{Code: -50, Message: "amount mismatch"}, nil
	}
	return adapter.VerifyResult{Code: CodeVerified, RefID: fmt.Sprintf("%d", 1000+g.seq), CardPan: "6037****1234"}, nil
}
