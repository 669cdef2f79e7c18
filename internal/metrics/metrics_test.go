package metrics

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"loyalty_service/internal/store"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestObserveUnitOfWork(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveUnitOfWork("spin", 5*time.Millisecond, nil)
	m.ObserveUnitOfWork("spin", 5*time.Millisecond, fmt.Errorf("%w: lock wait", store.ErrBusy))
	m.ObserveUnitOfWork("spin", 5*time.Millisecond, errors.New("insufficient points"))
	m.ObserveUnitOfWork("redeem", time.Millisecond, store.ErrInvariantViolation)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.UnitOfWorkResults.WithLabelValues("spin", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.UnitOfWorkResults.WithLabelValues("spin", "busy")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.UnitOfWorkResults.WithLabelValues("spin", "rejected")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.UnitOfWorkResults.WithLabelValues("redeem", "invariant_violation")))
	assert.Equal(t, 2, testutil.CollectAndCount(m.UnitOfWorkDuration))
}

func TestCountersAreNilSafe(t *testing.T) {
	var m *Metrics
	m.LedgerEntry("earn")
	m.Spin("points")
	m.Redemption("created")

	m = New(prometheus.NewRegistry())
	m.LedgerEntry("earn")
	m.LedgerEntry("earn")
	m.Spin("item")
	m.Redemption("refunded")
	assert.Equal(t, 2.0, testutil.ToFloat64(m.LedgerOps.WithLabelValues("earn")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Spins.WithLabelValues("item")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Redemptions.WithLabelValues("refunded")))
}
