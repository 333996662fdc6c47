package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Recorder groups the portal's prometheus collectors.
type Recorder struct {
	upstream *prometheus.HistogramVec
	recovery *prometheus.CounterVec
	polls    *prometheus.CounterVec
}

// New registers the collectors on reg. A nil reg uses the default registerer.
func New(reg prometheus.Registerer) *Recorder {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	r := &Recorder{
		upstream: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "portal",
			Name:      "upstream_request_seconds",
			Help:      "Latency of attendance API requests.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"endpoint", "status"}),
		recovery: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "portal",
			Name:      "recovery_items_total",
			Help:      "Recovery submission sub-steps by step and outcome.",
		}, []string{"step", "outcome"}),
		polls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "portal",
			Name:      "poll_ticks_total",
			Help:      "Polling invocations by result.",
		}, []string{"result"}),
	}
	reg.MustRegister(r.upstream, r.recovery, r.polls)
	return r
}

// ObserveUpstream records one API call. status 0 means a transport failure.
func (r *Recorder) ObserveUpstream(endpoint string, status int, d time.Duration) {
	if r == nil {
		return
	}
	r.upstream.WithLabelValues(endpoint, strconv.Itoa(status)).Observe(d.Seconds())
}

// RecoveryStep counts one recovery sub-step outcome ("ok", "conflict", "error").
func (r *Recorder) RecoveryStep(step, outcome string) {
	if r == nil {
		return
	}
	r.recovery.WithLabelValues(step, outcome).Inc()
}

// PollTick counts one polling invocation.
func (r *Recorder) PollTick(err error) {
	if r == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	r.polls.WithLabelValues(result).Inc()
}
