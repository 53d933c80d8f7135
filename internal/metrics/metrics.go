// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder はメトリクス収集のインターフェース。
// サイクル、同期、通知の各層から利用する。
type Recorder interface {
	RecordFetchSuccess(locationID int64, deals int)
	RecordFetchFailure(locationID int64, reason string)
	RecordFetchLatency(duration time.Duration)
	RecordSync(created, updated, newDeals, failed int)
	RecordExpired(count int)
	RecordNotification(kind string, success bool)
	RecordCycle(trigger, status string, duration time.Duration)
	RecordHTTPStatus(statusCode int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	fetchSuccess  prometheus.Counter
	fetchFail     *prometheus.CounterVec
	fetchLatency  prometheus.Histogram
	dealsFetched  prometheus.Counter
	dealsSynced   *prometheus.CounterVec
	dealsExpired  prometheus.Counter
	notifications *prometheus.CounterVec
	cycles        *prometheus.CounterVec
	cycleDuration prometheus.Histogram
	httpStatus    *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		fetchSuccess: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dealsync_catalog_fetch_success_total",
			Help: "カタログ取得成功の合計数",
		}),
		fetchFail: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dealsync_catalog_fetch_fail_total",
			Help: "カタログ取得失敗の合計数（失敗種別ごと）",
		}, []string{"reason"}),
		fetchLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "dealsync_catalog_fetch_latency_seconds",
			Help:    "ロケーションごとのカタログ取得レイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		dealsFetched: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dealsync_catalog_deals_fetched_total",
			Help: "カタログから取得した検証済みディールの合計数",
		}),
		dealsSynced: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dealsync_deals_synced_total",
			Help: "同期したディールの合計数（結果ごと）",
		}, []string{"result"}),
		dealsExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dealsync_deals_expired_total",
			Help: "期限切れで無効化したディールの合計数",
		}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dealsync_notifications_total",
			Help: "送信した通知の合計数（種別・結果ごと）",
		}, []string{"kind", "outcome"}),
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dealsync_cycles_total",
			Help: "実行したサイクルの合計数（トリガー・結果ごと）",
		}, []string{"trigger", "status"}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "dealsync_cycle_duration_seconds",
			Help:    "サイクル全体の所要時間（秒）",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dealsync_http_status_total",
			Help: "HTTP APIのステータスコード別のレスポンス数",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.fetchSuccess,
		c.fetchFail,
		c.fetchLatency,
		c.dealsFetched,
		c.dealsSynced,
		c.dealsExpired,
		c.notifications,
		c.cycles,
		c.cycleDuration,
		c.httpStatus,
	)

	return c
}

// RecordFetchSuccess はカタログ取得成功と取得件数を記録する。
func (c *Collector) RecordFetchSuccess(locationID int64, deals int) {
	c.fetchSuccess.Inc()
	c.dealsFetched.Add(float64(deals))
}

// RecordFetchFailure はカタログ取得失敗を記録する。
// ロケーション数は無制限に増えうるため、ラベルには失敗種別のみを使う。
func (c *Collector) RecordFetchFailure(locationID int64, reason string) {
	c.fetchFail.WithLabelValues(reason).Inc()
}

// RecordFetchLatency はカタログ取得のレイテンシを記録する。
func (c *Collector) RecordFetchLatency(duration time.Duration) {
	c.fetchLatency.Observe(duration.Seconds())
}

// RecordSync は1ロケーション分の同期結果を記録する。
func (c *Collector) RecordSync(created, updated, newDeals, failed int) {
	c.dealsSynced.WithLabelValues("created").Add(float64(created))
	c.dealsSynced.WithLabelValues("updated").Add(float64(updated))
	c.dealsSynced.WithLabelValues("new").Add(float64(newDeals))
	c.dealsSynced.WithLabelValues("failed").Add(float64(failed))
}

// RecordExpired は無効化したディール数を記録する。
func (c *Collector) RecordExpired(count int) {
	c.dealsExpired.Add(float64(count))
}

// RecordNotification は通知の送信結果を記録する。
func (c *Collector) RecordNotification(kind string, success bool) {
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	c.notifications.WithLabelValues(kind, outcome).Inc()
}

// RecordCycle はサイクルの完了を記録する。
func (c *Collector) RecordCycle(trigger, status string, duration time.Duration) {
	c.cycles.WithLabelValues(trigger, status).Inc()
	c.cycleDuration.Observe(duration.Seconds())
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// Nop は何も記録しないRecorder。
type Nop struct{}

func (Nop) RecordFetchSuccess(int64, int)             {}
func (Nop) RecordFetchFailure(int64, string)          {}
func (Nop) RecordFetchLatency(time.Duration)          {}
func (Nop) RecordSync(int, int, int, int)             {}
func (Nop) RecordExpired(int)                         {}
func (Nop) RecordNotification(string, bool)           {}
func (Nop) RecordCycle(string, string, time.Duration) {}
func (Nop) RecordHTTPStatus(int)                      {}

var (
	_ Recorder = (*Collector)(nil)
	_ Recorder = Nop{}
)

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetupMetricsRoute は/metricsエンドポイントを提供するHTTPハンドラーを返す。
func SetupMetricsRoute(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	return mux
}
