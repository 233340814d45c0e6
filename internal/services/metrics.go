package services

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts what the background loops and the payment handler do. A nil *Metrics is valid.
type Metrics struct {
	sweepActions     *prometheus.CounterVec
	reconcileRepairs *prometheus.CounterVec
	paymentCallbacks *prometheus.CounterVec
	providerUp       prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		sweepActions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vpn_sweep_actions_total",
			Help: "Lifecycle sweep actions by kind and result",
		}, []string{"action", "result"}),
		reconcileRepairs: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vpn_reconcile_repairs_total",
			Help: "Drift repairs by direction and result",
		}, []string{"direction", "result"}),
		paymentCallbacks: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vpn_payment_callbacks_total",
			Help: "Payment gateway callbacks by outcome",
		}, []string{"result"}),
		providerUp: f.NewGauge(prometheus.GaugeOpts{
			Name: "vpn_provider_up",
			Help: "1 if the key provider answered the last health check",
		}),
	}
}

func (m *Metrics) SweepAction(action, result string) {
	if m == nil {
		return
	}
	m.sweepActions.WithLabelValues(action, result).Inc()
}

func (m *Metrics) Repair(direction, result string) {
	if m == nil {
		return
	}
	m.reconcileRepairs.WithLabelValues(direction, result).Inc()
}

func (m *Metrics) Payment(result string) {
	if m == nil {
		return
	}
	m.paymentCallbacks.WithLabelValues(result).Inc()
}

func (m *Metrics) ProviderUp(up bool) {
	if m == nil {
		return
	}
	if up {
		m.providerUp.Set(1)
	} else {
		m.providerUp.Set(0)
	}
}
