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
// バックエンドクライアント・セッション管理・承認チェック・同期ジョブから利用する。
type MetricsCollector interface {
	RecordBackendRequest(op string, statusCode int, duration time.Duration)
	RecordSessionState(state string)
	RecordApprovalVerdict(verdict string)
	RecordStatsSync(result string)
	RecordHTTPStatus(statusCode int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	backendRequests *prometheus.CounterVec
	backendLatency  *prometheus.HistogramVec
	sessionStates   *prometheus.CounterVec
	approvals       *prometheus.CounterVec
	statsSync       *prometheus.CounterVec
	httpStatus      *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		backendRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "directory_backend_requests_total",
			Help: "操作・ステータスコード別のバックエンドAPI呼び出し数",
		}, []string{"op", "status_code"}),
		backendLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "directory_backend_request_seconds",
			Help:    "バックエンドAPI呼び出しのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"op"}),
		sessionStates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "directory_session_transitions_total",
			Help: "遷移先の状態別のセッション状態遷移数",
		}, []string{"state"}),
		approvals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "directory_approval_checks_total",
			Help: "判定結果別の承認チェック数",
		}, []string{"verdict"}),
		statsSync: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "directory_stats_sync_total",
			Help: "結果別のプロジェクト統計値同期数",
		}, []string{"result"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "directory_http_status_total",
			Help: "ローカルAPIのHTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.backendRequests,
		c.backendLatency,
		c.sessionStates,
		c.approvals,
		c.statsSync,
		c.httpStatus,
	)

	return c
}

// RecordBackendRequest はバックエンドAPI呼び出しを記録する。
// 接続に失敗した場合のstatusCodeは0。
func (c *Collector) RecordBackendRequest(op string, statusCode int, duration time.Duration) {
	c.backendRequests.WithLabelValues(op, strconv.Itoa(statusCode)).Inc()
	c.backendLatency.WithLabelValues(op).Observe(duration.Seconds())
}

// RecordSessionState はセッション状態の遷移を記録する。
func (c *Collector) RecordSessionState(state string) {
	c.sessionStates.WithLabelValues(state).Inc()
}

// RecordApprovalVerdict は承認チェックの判定結果を記録する。
func (c *Collector) RecordApprovalVerdict(verdict string) {
	c.approvals.WithLabelValues(verdict).Inc()
}

// RecordStatsSync は統計値同期の結果を記録する。
func (c *Collector) RecordStatsSync(result string) {
	c.statsSync.WithLabelValues(result).Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetupMetricsRoute は/metricsエンドポイントを提供するHTTPハンドラーを返す。
// ワーカープロセスのようにAPIルーターを持たない場合に使う。
func SetupMetricsRoute(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	return mux
}
