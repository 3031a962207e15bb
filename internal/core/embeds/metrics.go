package embeds

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Resolution outcomes recorded by the service
const (
	outcomeCacheHit      = "cache_hit"
	outcomeCacheNegative = "cache_negative"
	outcomeOEmbed        = "oembed"
	outcomeOpenGraph     = "opengraph"
	outcomeNone          = "none"
	outcomeRejected      = "rejected"
	outcomeDisabled      = "disabled"
)

// Metrics holds the Prometheus collectors for the embed pipeline.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	resolutions   *prometheus.CounterVec
	fetches       *prometheus.CounterVec
	fetchDuration prometheus.Histogram
	cacheErrors   *prometheus.CounterVec
	breakerSkips  *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		resolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vivalatable",
			Subsystem: "embed",
			Name:      "resolutions_total",
			Help:      "Embed resolutions by outcome.",
		}, []string{"outcome"}),
		fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vivalatable",
			Subsystem: "embed",
			Name:      "fetches_total",
			Help:      "Outbound embed fetches by result.",
		}, []string{"result"}),
		fetchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "vivalatable",
			Subsystem: "embed",
			Name:      "fetch_duration_seconds",
			Help:      "Duration of outbound embed fetches.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
		cacheErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vivalatable",
			Subsystem: "embed",
			Name:      "cache_errors_total",
			Help:      "Embed cache backend errors by operation.",
		}, []string{"op"}),
		breakerSkips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vivalatable",
			Subsystem: "embed",
			Name:      "circuit_skips_total",
			Help:      "Strategies skipped because their circuit was open.",
		}, []string{"strategy"}),
	}

	if reg != nil {
		reg.MustRegister(m.resolutions, m.fetches, m.fetchDuration, m.cacheErrors, m.breakerSkips)
	}
	return m
}

func (m *Metrics) observeResolution(outcome string) {
	if m == nil {
		return
	}
	m.resolutions.WithLabelValues(outcome).Inc()
}

func (m *Metrics) observeCacheError(op string) {
	if m == nil {
		return
	}
	m.cacheErrors.WithLabelValues(op).Inc()
}

func (m *Metrics) observeBreakerSkip(strategy string) {
	if m == nil {
		return
	}
	m.breakerSkips.WithLabelValues(strategy).Inc()
}

func (m *Metrics) observeFetch(result *FetchResult, elapsed time.Duration) {
	if m == nil || result == nil {
		return
	}
	m.fetchDuration.Observe(elapsed.Seconds())
	m.fetches.WithLabelValues(fetchResultLabel(result)).Inc()
}

func fetchResultLabel(result *FetchResult) string {
	switch {
	case result.Success:
		return "ok"
	case errors.Is(result.Err, ErrBlockedURL):
		return "blocked"
	case errors.Is(result.Err, ErrInvalidURL):
		return "invalid"
	case errors.Is(result.Err, ErrTimeout):
		return "timeout"
	case errors.Is(result.Err, ErrBodyTooLarge):
		return "too_large"
	case errors.Is(result.Err, ErrTooManyRedirects):
		return "redirects"
	case errors.Is(result.Err, ErrBadStatus):
		return "bad_status"
	default:
		return "error"
	}
}
