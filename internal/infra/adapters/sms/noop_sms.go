package sms

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"fleet-billing/internal/domain/ports/adapter"
)

var _ adapter.SMSProvider = (*NoopSMS)(nil)

// NoopSMS logs messages instead of sending them.
type NoopSMS struct {
	log  zerolog.Logger
	mu   sync.Mutex
	sent int
}

func NewNoopSMS(logger *zerolog.Logger) *NoopSMS {
	return &NoopSMS{log: logger.With().Str("component", "NoopSMS").Logger()}
}

func (n *NoopSMS) SendTemplate(ctx context.Context, receptor, template, token string) error {
	n.count()
	n.log.Info().Str("template", template).Str("token", token).Msg("sms template (noop)")
	return nil
}

func (n *NoopSMS) Send(ctx context.Context, receptor, message string) error {
	n.count()
	n.log.Info().Int("len", len(message)).Msg("sms send (noop)")
	return nil
}

func (n *NoopSMS) count() {
	n.mu.Lock()
	n.sent++
	n.mu.Unlock()
}

func (n *NoopSMS) Sent() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.sent
}
