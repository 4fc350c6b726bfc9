// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// 監視ループやディスパッチャから利用する。
type MetricsCollector interface {
	RecordCycle()
	RecordScanError()
	RecordMatch(keyword string)
	RecordOutreach(status string)
	RecordLoginAttempt(success bool)
	RecordSendLatency(duration time.Duration)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	cycles       prometheus.Counter
	scanErrors   prometheus.Counter
	matches      *prometheus.CounterVec
	outreach     *prometheus.CounterVec
	loginAttempt *prometheus.CounterVec
	sendLatency  prometheus.Histogram
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		cycles: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "skooldm_scan_cycles_total",
			Help: "完了した監視サイクルの合計数",
		}),
		scanErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "skooldm_scan_errors_total",
			Help: "スキップされたサイクル（スキャンエラー）の合計数",
		}),
		matches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "skooldm_keyword_matches_total",
			Help: "キーワード別のマッチ合計数",
		}, []string{"keyword"}),
		outreach: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "skooldm_outreach_total",
			Help: "確定状態別のアウトリーチ合計数",
		}, []string{"status"}),
		loginAttempt: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "skooldm_login_attempts_total",
			Help: "結果別のログイン試行合計数",
		}, []string{"result"}),
		sendLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "skooldm_send_latency_seconds",
			Help:    "DM送信のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		c.cycles,
		c.scanErrors,
		c.matches,
		c.outreach,
		c.loginAttempt,
		c.sendLatency,
	)

	return c
}

// RecordCycle は監視サイクルの完了を記録する。
func (c *Collector) RecordCycle() {
	c.cycles.Inc()
}

// RecordScanError はスキャンエラーによるサイクルスキップを記録する。
func (c *Collector) RecordScanError() {
	c.scanErrors.Inc()
}

// RecordMatch はキーワードマッチを記録する。
func (c *Collector) RecordMatch(keyword string) {
	c.matches.WithLabelValues(keyword).Inc()
}

// RecordOutreach はアウトリーチの確定状態を記録する。
func (c *Collector) RecordOutreach(status string) {
	c.outreach.WithLabelValues(status).Inc()
}

// RecordLoginAttempt はログイン試行の結果を記録する。
func (c *Collector) RecordLoginAttempt(success bool) {
	result := "failure"
	if success {
		result = "success"
	}
	c.loginAttempt.WithLabelValues(result).Inc()
}

// RecordSendLatency はDM送信のレイテンシを記録する。
func (c *Collector) RecordSendLatency(duration time.Duration) {
	c.sendLatency.Observe(duration.Seconds())
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetupMetricsRoute は/metricsエンドポイントを提供するHTTPハンドラーを返す。
// Prometheusスクレイプに対応する。
func SetupMetricsRoute(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	return mux
}
