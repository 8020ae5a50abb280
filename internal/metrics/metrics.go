// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// トランザクションリレーの失敗段階
const (
	StageDecode  = "decode"
	StageKey     = "key"
	StageSign    = "sign"
	StageNetwork = "network"
	StageConfirm = "confirm"
)

// MetricsCollector はメトリクス収集のインターフェース。
// リレー・ゲートウェイ・ワーカー・HTTPミドルウェアから利用する。
type MetricsCollector interface {
	RecordTxSubmitted()
	RecordTxFailure(stage string)
	RecordRelayLatency(duration time.Duration)
	RecordTxConfirmation(status string)
	RecordAirdrop(result string)
	RecordHTTPStatus(statusCode int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	txSubmitted  prometheus.Counter
	txFailed     *prometheus.CounterVec
	relayLatency prometheus.Histogram
	txConfirmed  *prometheus.CounterVec
	airdrops     *prometheus.CounterVec
	httpStatus   *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		txSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "solify_tx_submitted_total",
			Help: "ネットワークに送信したトランザクションの合計数",
		}),
		txFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "solify_tx_failed_total",
			Help: "失敗段階別のトランザクションリレー失敗数",
		}, []string{"stage"}),
		relayLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "solify_tx_relay_latency_seconds",
			Help:    "署名から送信完了までのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		txConfirmed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "solify_tx_confirmed_total",
			Help: "確定状態別のトランザクション数",
		}, []string{"status"}),
		airdrops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "solify_airdrop_total",
			Help: "結果別のエアドロップ要求数",
		}, []string{"result"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "solify_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.txSubmitted,
		c.txFailed,
		c.relayLatency,
		c.txConfirmed,
		c.airdrops,
		c.httpStatus,
	)

	return c
}

// RecordTxSubmitted はトランザクション送信成功を記録する。
func (c *Collector) RecordTxSubmitted() {
	c.txSubmitted.Inc()
}

// RecordTxFailure はリレー失敗を段階別に記録する。
func (c *Collector) RecordTxFailure(stage string) {
	c.txFailed.WithLabelValues(stage).Inc()
}

// RecordRelayLatency はリレーのレイテンシを記録する。
func (c *Collector) RecordRelayLatency(duration time.Duration) {
	c.relayLatency.Observe(duration.Seconds())
}

// RecordTxConfirmation は確定結果を記録する。
func (c *Collector) RecordTxConfirmation(status string) {
	c.txConfirmed.WithLabelValues(status).Inc()
}

// RecordAirdrop はエアドロップ結果を記録する。
func (c *Collector) RecordAirdrop(result string) {
	c.airdrops.WithLabelValues(result).Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// Nop は何も記録しないMetricsCollector。
type Nop struct{}

func (Nop) RecordTxSubmitted() {}
func (Nop) RecordTxFailure(string) {}
func (Nop) RecordRelayLatency(time.Duration) {}
func (Nop) RecordTxConfirmation(string) {}
func (Nop) RecordAirdrop(string) {}
func (Nop) RecordHTTPStatus(int) {}
