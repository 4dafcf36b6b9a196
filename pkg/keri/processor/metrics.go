// Copyright 2025 Certen Protocol

package processor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the processor's Prometheus instruments. The teacher's own
// go.mod carries client_golang only as a transitive dependency (no package
// exercises it directly), so these follow the library's own documented
// promauto convention rather than a teacher file.
type Metrics struct {
	EventsAccepted   prometheus.Counter
	PromotionsTotal  prometheus.Counter
	ReceiptsAccepted prometheus.Counter
	DuplicitousTotal prometheus.Counter
	EscrowDepth      *prometheus.GaugeVec
}

// NewMetrics registers the processor's instruments against reg. Pass
// prometheus.DefaultRegisterer for the global registry, or a fresh
// prometheus.NewRegistry() in tests to avoid collisions between runs.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		EventsAccepted: f.NewCounter(prometheus.CounterOpts{
			Namespace: "keri", Subsystem: "processor", Name: "events_accepted_total",
			Help: "Key events appended to the log, whether accepted directly or promoted out of escrow.",
		}),
		PromotionsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: "keri", Subsystem: "processor", Name: "promotions_total",
			Help: "Key events that were escrowed before being accepted.",
		}),
		ReceiptsAccepted: f.NewCounter(prometheus.CounterOpts{
			Namespace: "keri", Subsystem: "processor", Name: "receipts_accepted_total",
			Help: "Non-transferable and transferable receipts appended to their tables.",
		}),
		DuplicitousTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: "keri", Subsystem: "processor", Name: "duplicitous_total",
			Help: "Events rejected because they conflict with an already-accepted digest at the same (prefix, sn).",
		}),
		EscrowDepth: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "keri", Subsystem: "processor", Name: "escrow_depth",
			Help: "Current number of entries held in each escrow class.",
		}, []string{"escrow"}),
	}
}

// SetEscrowDepth publishes escrow.Escrows.Depth()'s snapshot.
func (m *Metrics) SetEscrowDepth(depths map[string]int) {
	for name, n := range depths {
		m.EscrowDepth.WithLabelValues(name).Set(float64(n))
	}
}
