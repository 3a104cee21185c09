package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(smsSentTotal) }

// channel: template|fallback, result: sent|error|dry_run
var smsSentTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "sms_sent_total",
		Help: "Expiry reminder SMS attempts by subject, milestone, channel and result.",
	},
	[]string{"subject", "milestone", "channel", "result"},
)

func IncSMS(subject, milestone, channel, result string) {
	smsSentTotal.WithLabelValues(norm(subject), norm(milestone), norm(channel), norm(result)).Inc()
}
