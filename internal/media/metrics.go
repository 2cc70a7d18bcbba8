package media

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts bridge outcomes. A nil *Metrics records nothing.
type Metrics struct {
	uploads  *prometheus.CounterVec
	removals *prometheus.CounterVec
}

// NewMetrics registers the bridge counters on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		uploads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "skilllink_media_uploads_total",
				Help: "Media upload attempts by outcome.",
			},
			[]string{"status"},
		),
		removals: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "skilllink_media_removals_total",
				Help: "Remote asset removals by outcome.",
			},
			[]string{"status"},
		),
	}
	reg.MustRegister(m.uploads, m.removals)
	return m
}

func (m *Metrics) observeUpload(s Status) {
	if m == nil {
		return
	}
	m.uploads.WithLabelValues(string(s)).Inc()
}

func (m *Metrics) observeRemoval(ok bool) {
	if m == nil {
		return
	}
	status := "ok"
	if !ok {
		status = "error"
	}
	m.removals.WithLabelValues(status).Inc()
}
