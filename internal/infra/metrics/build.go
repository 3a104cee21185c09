package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(buildInfo) }

var buildInfo = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "build_info",
		Help: "A constant metric with labels for version, commit and binary.",
	},
	[]string{"version", "commit", "binary"},
)

func SetBuildInfo(version, commit, binary string) {
	buildInfo.WithLabelValues(version, commit, binary).Set(1)
}
