package numbering

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics 号码池指标
//
// 只以 category 作为标签，租户维度交给日志，避免标签基数失控。
// nil *Metrics 上的所有方法都是空操作。
type Metrics struct {
	NumbersAdded      *prometheus.CounterVec
	DuplicatesSkipped *prometheus.CounterVec
	Reservations      *prometheus.CounterVec
	Exhaustions       *prometheus.CounterVec
	Releases          *prometheus.CounterVec
	Consumptions      *prometheus.CounterVec
	DoubleConsumes    *prometheus.CounterVec
	ReserveDuration   prometheus.Histogram
}

// NewMetrics 在 reg 上注册号码池指标
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	labels := []string{"category"}
	return &Metrics{
		NumbersAdded: f.NewCounterVec(prometheus.CounterOpts{
			Name: "policykit_numberpool_added_total",
			Help: "Numbers newly loaded into the pool",
		}, labels),
		DuplicatesSkipped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "policykit_numberpool_duplicates_total",
			Help: "Candidate numbers skipped because they were already present",
		}, labels),
		Reservations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "policykit_numberpool_reservations_total",
			Help: "Numbers reserved",
		}, labels),
		Exhaustions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "policykit_numberpool_exhausted_total",
			Help: "Reservation attempts that found the pool empty",
		}, labels),
		Releases: f.NewCounterVec(prometheus.CounterOpts{
			Name: "policykit_numberpool_releases_total",
			Help: "Reservations returned to the available pool",
		}, labels),
		Consumptions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "policykit_numberpool_consumptions_total",
			Help: "Numbers permanently consumed",
		}, labels),
		DoubleConsumes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "policykit_numberpool_double_consume_total",
			Help: "Rejected attempts to consume an already consumed number",
		}, labels),
		ReserveDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "policykit_numberpool_reserve_duration_seconds",
			Help:    "Duration of ReserveNext against the store",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
	}
}

func (m *Metrics) observeAdd(category Category, r AddResult) {
	if m == nil {
		return
	}
	m.NumbersAdded.WithLabelValues(string(category)).Add(float64(len(r.added)))
	m.DuplicatesSkipped.WithLabelValues(string(category)).Add(float64(len(r.duplicates)))
}

func (m *Metrics) observeReserve(category Category, start time.Time, exhausted bool) {
	if m == nil {
		return
	}
	m.ReserveDuration.Observe(time.Since(start).Seconds())
	if exhausted {
		m.Exhaustions.WithLabelValues(string(category)).Inc()
		return
	}
	m.Reservations.WithLabelValues(string(category)).Inc()
}

func (m *Metrics) observeRelease(category Category, n int) {
	if m == nil || n == 0 {
		return
	}
	m.Releases.WithLabelValues(string(category)).Add(float64(n))
}

func (m *Metrics) observeConsume(category Category, doubleConsume bool) {
	if m == nil {
		return
	}
	if doubleConsume {
		m.DoubleConsumes.WithLabelValues(string(category)).Inc()
		return
	}
	m.Consumptions.WithLabelValues(string(category)).Inc()
}
