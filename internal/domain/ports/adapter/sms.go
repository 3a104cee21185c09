package adapter

import (
	"context"
	"fmt"
)

type SMSProvider interface {
	SendTemplate(ctx context.Context, receptor, template, token string) error
	Send(ctx context.Context, receptor, message string) error
}

// SMSStatusInvalidToken is returned when a template token contains
// characters the provider refuses.
const SMSStatusInvalidToken = 431

type SMSError struct {
	Status  int
	Message string
}

func (e *SMSError) Error() string { return fmt.Sprintf("sms provider: %d %s", e.Status, e.Message) }
