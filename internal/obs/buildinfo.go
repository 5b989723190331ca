package obs

import (
	"runtime"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	buildInfoOnce sync.Once

	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "clientdesk_build_info",
			Help: "Build information of the clientdesk API, always 1.",
		},
		[]string{"version", "commit", "go_version"},
	)
)

// SetBuildInfo publishes clientdesk_build_info{version,commit,go_version} 1.
func SetBuildInfo(version, commit string) {
	buildInfoOnce.Do(func() { prometheus.MustRegister(buildInfo) })
	if commit == "" {
		commit = "unknown"
	}
	buildInfo.Reset()
	buildInfo.WithLabelValues(version, commit, runtime.Version()).Set(1)
}
