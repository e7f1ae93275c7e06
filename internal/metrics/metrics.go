// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 認証系メトリクスの結果ラベル
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
	ResultExpired = "expired"
	ResultLocked  = "locked"
	ResultInvalid = "invalid"
	ResultError   = "error"
)

// MetricsCollector はメトリクス収集のインターフェース。
// サービス層やミドルウェアから利用する。
type MetricsCollector interface {
	RecordLogin(result string)
	RecordOTPVerification(result string)
	RecordOAuthLogin(result string)
	RecordMailFailure()
	RecordChatResolved()
	RecordMessageSent()
	RecordHTTPStatus(statusCode int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	logins        *prometheus.CounterVec
	otpVerify     *prometheus.CounterVec
	oauthLogins   *prometheus.CounterVec
	mailFailures  prometheus.Counter
	chatsResolved prometheus.Counter
	messagesSent  prometheus.Counter
	httpStatus    *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mosaic_password_login_total",
			Help: "パスワード確認の結果別件数",
		}, []string{"result"}),
		otpVerify: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mosaic_otp_verification_total",
			Help: "確認コード検証の結果別件数",
		}, []string{"result"}),
		oauthLogins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mosaic_oauth_login_total",
			Help: "OAuthログインの結果別件数",
		}, []string{"result"}),
		mailFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mosaic_mail_failure_total",
			Help: "確認メール送信失敗の合計数",
		}),
		chatsResolved: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mosaic_chat_resolved_total",
			Help: "チャット解決（取得または作成）の合計数",
		}),
		messagesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mosaic_message_sent_total",
			Help: "送信されたメッセージの合計数",
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mosaic_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.logins,
		c.otpVerify,
		c.oauthLogins,
		c.mailFailures,
		c.chatsResolved,
		c.messagesSent,
		c.httpStatus,
	)

	return c
}

// RecordLogin はパスワード確認の結果を記録する。
func (c *Collector) RecordLogin(result string) {
	c.logins.WithLabelValues(result).Inc()
}

// RecordOTPVerification は確認コード検証の結果を記録する。
func (c *Collector) RecordOTPVerification(result string) {
	c.otpVerify.WithLabelValues(result).Inc()
}

// RecordOAuthLogin はOAuthログインの結果を記録する。
func (c *Collector) RecordOAuthLogin(result string) {
	c.oauthLogins.WithLabelValues(result).Inc()
}

// RecordMailFailure はメール送信失敗を記録する。
func (c *Collector) RecordMailFailure() {
	c.mailFailures.Inc()
}

// RecordChatResolved はチャット解決を記録する。
func (c *Collector) RecordChatResolved() {
	c.chatsResolved.Inc()
}

// RecordMessageSent はメッセージ送信を記録する。
func (c *Collector) RecordMessageSent() {
	c.messagesSent.Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// Nop は何も記録しないMetricsCollector。テストやメトリクス無効時に使用する。
type Nop struct{}

func (Nop) RecordLogin(string)           {}
func (Nop) RecordOTPVerification(string) {}
func (Nop) RecordOAuthLogin(string)      {}
func (Nop) RecordMailFailure()           {}
func (Nop) RecordChatResolved()          {}
func (Nop) RecordMessageSent()           {}
func (Nop) RecordHTTPStatus(int)         {}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// compile-time interface check
var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = Nop{}
)
