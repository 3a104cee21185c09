//go:build !integration

package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCounters(t *testing.T) {
	MustRegister()
	MustRegister() // second call is a no-op

	IncPayment(" Gateway", "SUCCEEDED ")
	if got := testutil.ToFloat64(paymentsTotal.WithLabelValues("gateway", "succeeded")); got != 1 {
		t.Errorf("payments_total = %v", got)
	}

	AddJobItems("device_detect", "detected", 0)
	AddJobItems("device_detect", "detected", 3)
	if got := testutil.ToFloat64(jobItemsTotal.WithLabelValues("device_detect", "detected")); got != 3 {
		t.Errorf("job_items_total = %v", got)
	}

	ObserveJobRun("notify", "ok", time.Second)
	if got := testutil.ToFloat64(jobRunsTotal.WithLabelValues("notify", "ok")); got != 1 {
		t.Errorf("job_runs_total = %v", got)
	}
}
