//go:build !integration

package logging

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"fleet-billing/internal/config"
)

func TestWith_AttachesContextFields(t *testing.T) {
	var buf bytes.Buffer
	base := newWithWriter(config.LogConfig{Level: "info", Format: "json"}, false, &buf)

	ctx := WithTraceID(context.Background(), "tr-1")
	ctx = WithPaymentID(ctx, "pay-9")
	ctx = WithDeviceID(ctx, 42)
	With(ctx, base).Info().Msg("hello")

	out := buf.String()
	for _, want := range []string{`"trace_id":"tr-1"`, `"payment_id":"pay-9"`, `"device_id":42`} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %s in %s", want, out)
		}
	}
	if TraceIDFrom(ctx) != "tr-1" {
		t.Error("TraceIDFrom mismatch")
	}
}

func TestRedact(t *testing.T) {
	if got := Redact("09121234567", false); got != "0912...67" {
		t.Errorf("Redact = %q", got)
	}
	if got := Redact("0912", false); got != "***" {
		t.Errorf("short Redact = %q", got)
	}
	if got := Redact("09121234567", true); got != "09121234567" {
		t.Errorf("dev Redact = %q", got)
	}
}
