package dispatch

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	outcomeOK     = "ok"
	outcomeError  = "error"
	outcomePanic  = "panic"
	observerLabel = "observer"
)

// Metrics 分发指标，按观察者类型区分；nil *Metrics 为空操作
type Metrics struct {
	Deliveries       *prometheus.CounterVec
	DeliveryDuration *prometheus.HistogramVec
}

// NewMetrics 在 reg 上注册分发指标
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Deliveries: f.NewCounterVec(prometheus.CounterOpts{
			Name: "policykit_dispatch_deliveries_total",
			Help: "Event deliveries to observers by outcome",
		}, []string{observerLabel, "outcome"}),
		DeliveryDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "policykit_dispatch_delivery_duration_seconds",
			Help:    "Time spent inside an observer for one delivery",
			Buckets: prometheus.DefBuckets,
		}, []string{observerLabel}),
	}
}

func (m *Metrics) observe(observerType string, elapsed time.Duration, err error, panicked bool) {
	if m == nil {
		return
	}
	outcome := outcomeOK
	switch {
	case panicked:
		outcome = outcomePanic
	case err != nil:
		outcome = outcomeError
	}
	m.Deliveries.WithLabelValues(observerType, outcome).Inc()
	m.DeliveryDuration.WithLabelValues(observerType).Observe(elapsed.Seconds())
}
