package library

import (
	"bytes"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCirculationMetrics(t *testing.T) {
	h := newHarness(t)
	book := h.addBook("Dune")
	c := h.addCopy(book.ID)
	alice := h.addMember("Alice", TierStandard)
	bob := h.addMember("Bob", TierStandard)

	loan := h.issue(c.ID, alice.ID)
	_, err := h.engine.Issue(h.ctx, c.ID, bob.ID)
	requireReason(t, err, ReasonCopyUnavailable)
	h.clock.Advance(DefaultLoanPeriod)
	h.reserve(book.ID, bob.ID)

	h.clock.Advance(3 * day)
	_, err = h.engine.Return(h.ctx, loan.ID)
	require.NoError(t, err)

	m := h.metrics
	assert.Equal(t, 1.0, testutil.ToFloat64(m.loansIssued))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.loansReturned))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.finesAssessed))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.rejections.WithLabelValues("issue", string(ReasonCopyUnavailable))))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.reservations.WithLabelValues(string(ReservationPending))))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.reservations.WithLabelValues(string(ReservationFulfilled))))
}

func TestRejectedSkipsStoreFailures(t *testing.T) {
	m := NewMetrics()
	m.rejected("issue", ErrStoreUnavailable)
	m.rejected("issue", nil)
	assert.Equal(t, 0, testutil.CollectAndCount(m.rejections))

	m.rejected("reserve", ErrDuplicateReservation)
	assert.Equal(t, 1, testutil.CollectAndCount(m.rejections))
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.loanIssued()
		m.loanReturned(decimal.NewFromInt(2))
		m.reservation(ReservationExpired)
		m.rejected("issue", ErrLimitReached)
		m.storeRetry()
	})
	assert.Nil(t, m.Registry())
	assert.NoError(t, m.WriteText(&bytes.Buffer{}))
}

func TestWriteText(t *testing.T) {
	m := NewMetrics()
	m.loanIssued()

	var buf bytes.Buffer
	require.NoError(t, m.WriteText(&buf))
	assert.Contains(t, buf.String(), "library_loans_issued_total 1")
	assert.Contains(t, buf.String(), "# TYPE library_store_retries_total counter")
}
