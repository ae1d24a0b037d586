package chat

import "github.com/prometheus/client_golang/prometheus"

// Feed names used as metric labels.
const (
	feedConversations = "conversations"
	feedMessages      = "messages"
)

// Metrics are the engine's Prometheus collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	fetches      *prometheus.CounterVec
	staleDiscard *prometheus.CounterVec
	guardReject  *prometheus.CounterVec
	mutations    *prometheus.CounterVec
}

// NewMetrics builds the collectors and registers them on reg (when non-nil).
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hrchat",
			Subsystem: "feed",
			Name:      "fetch_total",
			Help:      "Feed page fetches by feed and result.",
		}, []string{"feed", "result"}),
		staleDiscard: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hrchat",
			Subsystem: "feed",
			Name:      "stale_discard_total",
			Help:      "Responses discarded because their owning key changed.",
		}, []string{"feed"}),
		guardReject: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hrchat",
			Subsystem: "feed",
			Name:      "guard_reject_total",
			Help:      "Load requests rejected because a fetch was already in flight.",
		}, []string{"feed"}),
		mutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hrchat",
			Name:      "mutation_total",
			Help:      "Send/edit/react mutations by operation and result.",
		}, []string{"op", "result"}),
	}

	if reg == nil {
		return m, nil
	}
	for _, c := range []prometheus.Collector{m.fetches, m.staleDiscard, m.guardReject, m.mutations} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) fetch(feed string, err error) {
	if m == nil {
		return
	}
	m.fetches.WithLabelValues(feed, resultLabel(err)).Inc()
}

func (m *Metrics) stale(feed string) {
	if m == nil {
		return
	}
	m.staleDiscard.WithLabelValues(feed).Inc()
}

func (m *Metrics) rejected(feed string) {
	if m == nil {
		return
	}
	m.guardReject.WithLabelValues(feed).Inc()
}

func (m *Metrics) mutation(op string, err error) {
	if m == nil {
		return
	}
	m.mutations.WithLabelValues(op, resultLabel(err)).Inc()
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case IsValidation(err):
		return "invalid"
	default:
		return "error"
	}
}
