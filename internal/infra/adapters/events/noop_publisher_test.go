//go:build !integration

package events

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"fleet-billing/internal/domain/ports/adapter"
)

func TestMemoryPublisher_Bounded(t *testing.T) {
	p := NewMemoryPublisher(2)
	ctx := context.Background()
	for _, k := range []string{"a", "b", "c"} {
		assert.NoError(t, p.Publish(ctx, adapter.Event{Type: adapter.EventPaymentSucceeded, Key: k}))
	}
	got := p.Events()
	assert.Len(t, got, 2)
	assert.Equal(t, "b", got[0].Key)
	assert.Equal(t, "c", got[1].Key)
}
