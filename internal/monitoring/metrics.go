package monitoring

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tempmail/client/internal/mailsync"
)

// Metrics 监控指标
//
// 使用独立的注册表，同一进程中可以创建多个实例（测试中常见）。
// 同时实现 mailapi.Recorder、mailsync.Recorder 和 mailsync.Notifier。
type Metrics struct {
	registry *prometheus.Registry

	// 上游请求指标
	UpstreamRequestsTotal   *prometheus.CounterVec
	UpstreamRequestDuration *prometheus.HistogramVec

	// 同步指标
	PollsTotal         *prometheus.CounterVec
	FailureStreak      prometheus.Gauge
	EnvelopesReceived  prometheus.Counter
	NoticesTotal       *prometheus.CounterVec
	AddressGenerations prometheus.Counter

	// 本地桥接服务指标
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	WebSocketClients    prometheus.Gauge
	WebSocketDropped    prometheus.Counter

	// 错误指标
	PanicsTotal prometheus.Counter

	// 附件指标
	AttachmentSize prometheus.Histogram
}

// NewMetrics 创建监控指标
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		UpstreamRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tempmail_client_upstream_requests_total",
				Help: "Total number of requests sent to the mail API",
			},
			[]string{"op", "status_code"},
		),

		UpstreamRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tempmail_client_upstream_request_duration_seconds",
				Help:    "Mail API request duration in seconds",
				Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 90},
			},
			[]string{"op"},
		),

		PollsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tempmail_client_long_polls_total",
				Help: "Total number of completed long polls by outcome",
			},
			[]string{"outcome"},
		),

		FailureStreak: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "tempmail_client_failure_streak",
				Help: "Current number of consecutive long poll failures",
			},
		),

		EnvelopesReceived: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "tempmail_client_envelopes_received_total",
				Help: "Total number of envelopes added to the mailbox",
			},
		),

		NoticesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tempmail_client_notices_total",
				Help: "Total number of notices emitted by kind",
			},
			[]string{"kind"},
		),

		AddressGenerations: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "tempmail_client_address_changes_total",
				Help: "Total number of address changes",
			},
		),

		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tempmail_client_http_requests_total",
				Help: "Total number of bridge HTTP requests",
			},
			[]string{"method", "endpoint", "status_code"},
		),

		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tempmail_client_http_request_duration_seconds",
				Help:    "Bridge HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),

		WebSocketClients: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "tempmail_client_websocket_clients",
				Help: "Number of connected websocket clients",
			},
		),

		WebSocketDropped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "tempmail_client_websocket_dropped_total",
				Help: "Total number of websocket messages dropped because a buffer was full",
			},
		),

		PanicsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "tempmail_client_panics_total",
				Help: "Total number of recovered panics",
			},
		),

		AttachmentSize: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "tempmail_client_attachment_size_bytes",
				Help:    "Downloaded attachment size in bytes",
				Buckets: prometheus.ExponentialBuckets(1024, 4, 8),
			},
		),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.UpstreamRequestsTotal,
		m.UpstreamRequestDuration,
		m.PollsTotal,
		m.FailureStreak,
		m.EnvelopesReceived,
		m.NoticesTotal,
		m.AddressGenerations,
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.WebSocketClients,
		m.WebSocketDropped,
		m.PanicsTotal,
		m.AttachmentSize,
	)

	return m
}

// ObserveRequest 记录一次上游请求，status 为 0 表示没有收到响应
func (m *Metrics) ObserveRequest(op string, status int, duration time.Duration) {
	m.UpstreamRequestsTotal.WithLabelValues(op, strconv.Itoa(status)).Inc()
	m.UpstreamRequestDuration.WithLabelValues(op).Observe(duration.Seconds())
}

// ObservePoll 记录一次长轮询的结果
func (m *Metrics) ObservePoll(outcome string) {
	m.PollsTotal.WithLabelValues(outcome).Inc()
}

// SetFailureStreak 更新连续失败次数
func (m *Metrics) SetFailureStreak(n int) {
	m.FailureStreak.Set(float64(n))
}

// AddEnvelopes 记录新增到列表中的邮件数量
func (m *Metrics) AddEnvelopes(n int) {
	if n > 0 {
		m.EnvelopesReceived.Add(float64(n))
	}
}

// Notify 按类型统计同步通知
func (m *Metrics) Notify(n mailsync.Notice) {
	m.NoticesTotal.WithLabelValues(string(n.Kind)).Inc()
	if n.Kind == mailsync.NoticeAddressChanged {
		m.AddressGenerations.Inc()
	}
}

// RecordHTTPRequest 记录本地桥接服务的 HTTP 请求
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// RecordPanic 记录 panic
func (m *Metrics) RecordPanic() {
	m.PanicsTotal.Inc()
}

// SetWebSocketClients 更新 WebSocket 连接数
func (m *Metrics) SetWebSocketClients(n int) {
	m.WebSocketClients.Set(float64(n))
}

// RecordWebSocketDrop 记录一条因缓冲区已满被丢弃的 WebSocket 消息
func (m *Metrics) RecordWebSocketDrop() {
	m.WebSocketDropped.Inc()
}

// RecordAttachmentSize 记录附件大小
func (m *Metrics) RecordAttachmentSize(size int64) {
	m.AttachmentSize.Observe(float64(size))
}

// HTTPHandler 返回 Prometheus HTTP 处理器
func (m *Metrics) HTTPHandler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
