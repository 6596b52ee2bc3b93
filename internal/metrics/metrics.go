// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// 分析パイプラインやワーカーから利用する。
type MetricsCollector interface {
	RecordRunSuccess()
	RecordRunFailure()
	RecordPostsAnalyzed(count int)
	RecordUsersFlagged(count int)
	RecordEvidenceInserted(count int)
	RecordRunDuration(duration time.Duration)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	runSuccess       prometheus.Counter
	runFail          prometheus.Counter
	postsAnalyzed    prometheus.Counter
	usersFlagged     prometheus.Counter
	evidenceInserted prometheus.Counter
	runDuration      prometheus.Histogram
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		runSuccess: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "charcoal_analysis_run_success_total",
			Help: "分析実行成功の合計数",
		}),
		runFail: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "charcoal_analysis_run_fail_total",
			Help: "分析実行失敗の合計数",
		}),
		postsAnalyzed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "charcoal_posts_analyzed_total",
			Help: "分析対象となったオーナーポストの合計数",
		}),
		usersFlagged: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "charcoal_users_flagged_total",
			Help: "新規にフラグされたユーザーの合計数",
		}),
		evidenceInserted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "charcoal_evidence_inserted_total",
			Help: "挿入された毒性証拠の合計数",
		}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "charcoal_analysis_run_duration_seconds",
			Help:    "分析実行の所要時間（秒）",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		}),
	}

	reg.MustRegister(
		c.runSuccess,
		c.runFail,
		c.postsAnalyzed,
		c.usersFlagged,
		c.evidenceInserted,
		c.runDuration,
	)

	return c
}

// RecordRunSuccess は分析実行の成功を記録する。
func (c *Collector) RecordRunSuccess() {
	c.runSuccess.Inc()
}

// RecordRunFailure は分析実行の失敗を記録する。
func (c *Collector) RecordRunFailure() {
	c.runFail.Inc()
}

// RecordPostsAnalyzed は分析対象となったポスト数を記録する。
func (c *Collector) RecordPostsAnalyzed(count int) {
	c.postsAnalyzed.Add(float64(count))
}

// RecordUsersFlagged は新規フラグされたユーザー数を記録する。
func (c *Collector) RecordUsersFlagged(count int) {
	c.usersFlagged.Add(float64(count))
}

// RecordEvidenceInserted は挿入された証拠数を記録する。
func (c *Collector) RecordEvidenceInserted(count int) {
	c.evidenceInserted.Add(float64(count))
}

// RecordRunDuration は分析実行の所要時間を記録する。
func (c *Collector) RecordRunDuration(duration time.Duration) {
	c.runDuration.Observe(duration.Seconds())
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
