package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Market counts the outcomes of the money-moving and moderation operations.
// All methods are safe on a nil receiver.
type Market struct {
	settlements *prometheus.CounterVec
	lockBusy    *prometheus.CounterVec
	moderations *prometheus.CounterVec
	payouts     *prometheus.CounterVec
}

func NewMarket(reg prometheus.Registerer) *Market {
	if reg == nil {
		return &Market{}
	}
	m := &Market{
		settlements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "market_settlements_total",
			Help: "Purchase settlement attempts by funding source and result.",
		}, []string{"funding", "result"}),
		lockBusy: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "market_lock_busy_total",
			Help: "Operations that gave up waiting for a lock or a busy database.",
		}, []string{"scope"}),
		moderations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "market_moderations_total",
			Help: "Applied moderation verdicts.",
		}, []string{"decision"}),
		payouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "market_payouts_total",
			Help: "Resolved payout requests by outcome.",
		}, []string{"outcome"}),
	}
	reg.MustRegister(m.settlements, m.lockBusy, m.moderations, m.payouts)
	return m
}

func (m *Market) Settlement(funding, result string) {
	if m == nil || m.settlements == nil {
		return
	}
	m.settlements.WithLabelValues(label(funding), label(result)).Inc()
}

func (m *Market) LockBusy(scope string) {
	if m == nil || m.lockBusy == nil {
		return
	}
	m.lockBusy.WithLabelValues(label(scope)).Inc()
}

func (m *Market) Moderation(decision string) {
	if m == nil || m.moderations == nil {
		return
	}
	m.moderations.WithLabelValues(label(decision)).Inc()
}

func (m *Market) Payout(outcome string) {
	if m == nil || m.payouts == nil {
		return
	}
	m.payouts.WithLabelValues(label(outcome)).Inc()
}
