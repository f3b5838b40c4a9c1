package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// GaugeSource は登録時に値を読み出すゲージの元
type GaugeSource struct {
	Name string
	Help string
	Fn   func() float64
}

// NewRegistry はメトリクスを公開する Prometheus レジストリを作成する
// グローバルレジストリには登録しない
func NewRegistry(m *Metrics, namespace string, gauges ...GaugeSource) (*prometheus.Registry, error) {
	reg := prometheus.NewRegistry()
	if err := m.Register(reg, namespace, gauges...); err != nil {
		return nil, err
	}
	return reg, nil
}

// Register はカウンタとゲージを reg に登録する
// カウンタは Metrics の atomic 値を読み出すだけで、値を二重に持たない
func (m *Metrics) Register(reg prometheus.Registerer, namespace string, gauges ...GaugeSource) error {
	wrapped := prometheus.WrapRegistererWithPrefix(prefix(namespace), reg)

	collectors := []prometheus.Collector{
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "accepted_total",
			Help: "Total number of work units queued by the listener",
		}, func() float64 { return float64(m.Accepted()) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "rejected_total",
			Help: "Total number of work units rejected because the queue was full",
		}, func() float64 { return float64(m.Rejected()) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "processed_total",
			Help: "Total number of work units processed successfully",
		}, func() float64 { return float64(m.Processed()) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "failed_total",
			Help: "Total number of work units whose processing failed",
		}, func() float64 { return float64(m.Failed()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "in_flight",
			Help: "Number of work units currently being processed",
		}, func() float64 { return float64(m.InFlight()) }),
		m.latencyHist,
	}
	for _, g := range gauges {
		collectors = append(collectors, prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: g.Name,
			Help: g.Help,
		}, g.Fn))
	}

	for _, c := range collectors {
		if err := wrapped.Register(c); err != nil {
			return fmt.Errorf("failed to register collector: %w", err)
		}
	}
	return nil
}

func prefix(namespace string) string {
	if namespace == "" {
		return ""
	}
	return namespace + "_"
}
