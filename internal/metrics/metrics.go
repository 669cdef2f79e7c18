package metrics

import (
	"errors"
	"time"

	"loyalty_service/internal/store"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "loyalty"

// Metrics holds the Prometheus collectors for the points core.
type Metrics struct {
	LedgerOps          *prometheus.CounterVec
	Spins              *prometheus.CounterVec
	Redemptions        *prometheus.CounterVec
	UnitOfWorkDuration *prometheus.HistogramVec
	UnitOfWorkResults  *prometheus.CounterVec
}

// New registers the collectors with reg. Pass prometheus.DefaultRegisterer
// in production and a fresh registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		LedgerOps: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ledger",
				Name:      "operations_total",
				Help:      "Ledger entries written, by entry type",
			},
			[]string{"type"},
		),
		Spins: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "wheel",
				Name:      "spins_total",
				Help:      "Completed spins, by prize type",
			},
			[]string{"prize_type"},
		),
		Redemptions: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "rewards",
				Name:      "redemptions_total",
				Help:      "Redemption lifecycle events",
			},
			[]string{"event"},
		),
		UnitOfWorkDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "store",
				Name:      "unit_of_work_duration_seconds",
				Help:      "Duration of atomic units of work",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"name"},
		),
		UnitOfWorkResults: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "store",
				Name:      "unit_of_work_total",
				Help:      "Units of work by outcome",
			},
			[]string{"name", "status"},
		),
	}
}

// ObserveUnitOfWork implements store.Observer.
func (m *Metrics) ObserveUnitOfWork(name string, took time.Duration, err error) {
	m.UnitOfWorkDuration.WithLabelValues(name).Observe(took.Seconds())
	m.UnitOfWorkResults.WithLabelValues(name, status(err)).Inc()
}

func (m *Metrics) LedgerEntry(entryType string) {
	if m == nil {
		return
	}
	m.LedgerOps.WithLabelValues(entryType).Inc()
}

func (m *Metrics) Spin(prizeType string) {
	if m == nil {
		return
	}
	m.Spins.WithLabelValues(prizeType).Inc()
}

func (m *Metrics) Redemption(event string) {
	if m == nil {
		return
	}
	m.Redemptions.WithLabelValues(event).Inc()
}

func status(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, store.ErrBusy):
		return "busy"
	case errors.Is(err, store.ErrInvariantViolation):
		return "invariant_violation"
	default:
		return "rejected"
	}
}
