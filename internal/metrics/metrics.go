// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// アダプタ、取り込み、分類器、スケジューラ、HTTP層から利用する。
type MetricsCollector interface {
	RecordAdapterFetch(platform, result string, candidates int)
	RecordFetchLatency(platform string, duration time.Duration)
	RecordIngest(outcome string)
	RecordClassification(path string)
	RecordTaskRun(task, result string, duration time.Duration)
	RecordRescore(result string)
	RecordHTTPStatus(statusCode int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	adapterFetch   *prometheus.CounterVec
	candidates     *prometheus.CounterVec
	fetchLatency   *prometheus.HistogramVec
	ingest         *prometheus.CounterVec
	classification *prometheus.CounterVec
	taskRuns       *prometheus.CounterVec
	taskDuration   *prometheus.HistogramVec
	rescore        *prometheus.CounterVec
	httpStatus     *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		adapterFetch: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "forumscope_adapter_fetch_total",
			Help: "ソースアダプタの取得回数（結果別）",
		}, []string{"platform", "result"}),
		candidates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "forumscope_adapter_candidates_total",
			Help: "ソースアダプタが返した投稿候補数",
		}, []string{"platform"}),
		fetchLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "forumscope_fetch_latency_seconds",
			Help:    "ソースアダプタ取得のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"platform"}),
		ingest: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "forumscope_ingest_total",
			Help: "投稿候補の取り込み結果",
		}, []string{"outcome"}),
		classification: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "forumscope_classification_total",
			Help: "分類の実行経路（llm / fallback）",
		}, []string{"path"}),
		taskRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "forumscope_task_runs_total",
			Help: "スケジュールタスクの実行回数（結果別）",
		}, []string{"task", "result"}),
		taskDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "forumscope_task_duration_seconds",
			Help:    "スケジュールタスクの実行時間（秒）",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"task"}),
		rescore: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "forumscope_rescore_total",
			Help: "再スコアリングの処理結果",
		}, []string{"result"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "forumscope_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.adapterFetch,
		c.candidates,
		c.fetchLatency,
		c.ingest,
		c.classification,
		c.taskRuns,
		c.taskDuration,
		c.rescore,
		c.httpStatus,
	)

	return c
}

// RecordAdapterFetch はアダプタの取得結果と候補数を記録する。
func (c *Collector) RecordAdapterFetch(platform, result string, candidates int) {
	c.adapterFetch.WithLabelValues(platform, result).Inc()
	if candidates > 0 {
		c.candidates.WithLabelValues(platform).Add(float64(candidates))
	}
}

// RecordFetchLatency はアダプタ取得のレイテンシを記録する。
func (c *Collector) RecordFetchLatency(platform string, duration time.Duration) {
	c.fetchLatency.WithLabelValues(platform).Observe(duration.Seconds())
}

// RecordIngest は取り込み結果（inserted, duplicate, unresolved_category, failed）を記録する。
func (c *Collector) RecordIngest(outcome string) {
	c.ingest.WithLabelValues(outcome).Inc()
}

// RecordClassification は分類の実行経路を記録する。
func (c *Collector) RecordClassification(path string) {
	c.classification.WithLabelValues(path).Inc()
}

// RecordTaskRun はタスクの実行結果と所要時間を記録する。
// skipped（多重起動防止）の場合は所要時間を記録しない。
func (c *Collector) RecordTaskRun(task, result string, duration time.Duration) {
	c.taskRuns.WithLabelValues(task, result).Inc()
	if result != "skipped" {
		c.taskDuration.WithLabelValues(task).Observe(duration.Seconds())
	}
}

// RecordRescore は再スコアリングの処理結果を記録する。
func (c *Collector) RecordRescore(result string) {
	c.rescore.WithLabelValues(result).Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// Nop は何も記録しないMetricsCollector。テストやメトリクス無効時に使用する。
type Nop struct{}

func (Nop) RecordAdapterFetch(string, string, int)      {}
func (Nop) RecordFetchLatency(string, time.Duration)    {}
func (Nop) RecordIngest(string)                         {}
func (Nop) RecordClassification(string)                 {}
func (Nop) RecordTaskRun(string, string, time.Duration) {}
func (Nop) RecordRescore(string)                        {}
func (Nop) RecordHTTPStatus(int)                        {}

var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = Nop{}
)
