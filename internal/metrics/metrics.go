// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// ワーカーや通知処理から利用する。
type MetricsCollector interface {
	RecordCycle(kind, result string)
	RecordCycleDuration(kind string, duration time.Duration)
	RecordOutcome(kind, outcome string)
	RecordFetchLatency(kind string, duration time.Duration)
	RecordDelivery(result string)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	cycles        *prometheus.CounterVec
	cycleDuration *prometheus.HistogramVec
	outcomes      *prometheus.CounterVec
	fetchLatency  *prometheus.HistogramVec
	deliveries    *prometheus.CounterVec
}

var _ MetricsCollector = (*Collector)(nil)

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relnotify_cycles_total",
			Help: "照合サイクルの実行回数",
		}, []string{"kind", "result"}),
		cycleDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "relnotify_cycle_duration_seconds",
			Help:    "照合サイクルの所要時間（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"kind"}),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relnotify_reconcile_outcomes_total",
			Help: "追跡対象ごとの照合結果の件数",
		}, []string{"kind", "outcome"}),
		fetchLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "relnotify_source_fetch_latency_seconds",
			Help:    "外部ソース取得のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"kind"}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relnotify_deliveries_total",
			Help: "通知配信の件数",
		}, []string{"result"}),
	}

	reg.MustRegister(
		c.cycles,
		c.cycleDuration,
		c.outcomes,
		c.fetchLatency,
		c.deliveries,
	)

	return c
}

// RecordCycle はサイクルの完了を結果別に記録する。
func (c *Collector) RecordCycle(kind, result string) {
	c.cycles.WithLabelValues(kind, result).Inc()
}

// RecordCycleDuration はサイクルの所要時間を記録する。
func (c *Collector) RecordCycleDuration(kind string, duration time.Duration) {
	c.cycleDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// RecordOutcome は追跡対象1件の照合結果を記録する。
func (c *Collector) RecordOutcome(kind, outcome string) {
	c.outcomes.WithLabelValues(kind, outcome).Inc()
}

// RecordFetchLatency は外部ソース取得のレイテンシを記録する。
func (c *Collector) RecordFetchLatency(kind string, duration time.Duration) {
	c.fetchLatency.WithLabelValues(kind).Observe(duration.Seconds())
}

// RecordDelivery は通知配信1件の結果を記録する。
func (c *Collector) RecordDelivery(result string) {
	c.deliveries.WithLabelValues(result).Inc()
}

// Nop は何も記録しないMetricsCollector。
type Nop struct{}

func (Nop) RecordCycle(string, string)                 {}
func (Nop) RecordCycleDuration(string, time.Duration) {}
func (Nop) RecordOutcome(string, string)               {}
func (Nop) RecordFetchLatency(string, time.Duration)  {}
func (Nop) RecordDelivery(string)                      {}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
