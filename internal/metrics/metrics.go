// Package metrics exposes Prometheus counters for tool calls, Gemini
// requests, LINE pushes and webhook events on a private registry.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the collectors. A nil *Metrics is valid and records
// nothing, so packages can take one optionally.
type Metrics struct {
	reg *prometheus.Registry

	toolCalls      *prometheus.CounterVec
	toolDuration   *prometheus.HistogramVec
	geminiRequests *prometheus.CounterVec
	lineMessages   *prometheus.CounterVec
	webhookEvents  *prometheus.CounterVec
	estimatedToks  prometheus.Counter
}

// New creates and registers every collector.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		reg: reg,
		toolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "linebot_tool_calls_total",
			Help: "MCP tool invocations by tool and outcome.",
		}, []string{"tool", "outcome"}),
		toolDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "linebot_tool_duration_seconds",
			Help:    "MCP tool handler latency.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		}, []string{"tool"}),
		geminiRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "linebot_gemini_requests_total",
			Help: "Gemini generateContent attempts by model, API version and HTTP status.",
		}, []string{"model", "version", "status"}),
		lineMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "linebot_line_requests_total",
			Help: "LINE Messaging API sends by kind (push, broadcast) and outcome.",
		}, []string{"kind", "outcome"}),
		webhookEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "linebot_webhook_events_total",
			Help: "Webhook events by handling path.",
		}, []string{"path"}),
		estimatedToks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "linebot_estimated_tokens_total",
			Help: "Estimated tokens of text sent through admin tool calls.",
		}),
	}
	reg.MustRegister(
		m.toolCalls, m.toolDuration, m.geminiRequests, m.lineMessages, m.webhookEvents, m.estimatedToks,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// ToolCall records one tool invocation.
func (m *Metrics) ToolCall(tool string, failed bool, seconds float64) {
	if m == nil {
		return
	}
	m.toolCalls.WithLabelValues(tool, outcome(failed)).Inc()
	m.toolDuration.WithLabelValues(tool).Observe(seconds)
}

// GeminiRequest records one HTTP attempt. status 0 means a transport error.
func (m *Metrics) GeminiRequest(model, version string, status int) {
	if m == nil {
		return
	}
	m.geminiRequests.WithLabelValues(model, version, strconv.Itoa(status)).Inc()
}

// LineSend records one push or broadcast.
func (m *Metrics) LineSend(kind string, failed bool) {
	if m == nil {
		return
	}
	m.lineMessages.WithLabelValues(kind, outcome(failed)).Inc()
}

// WebhookEvent records which branch handled an inbound message.
func (m *Metrics) WebhookEvent(path string) {
	if m == nil {
		return
	}
	m.webhookEvents.WithLabelValues(path).Inc()
}

// Tokens adds to the estimated token counter.
func (m *Metrics) Tokens(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.estimatedToks.Add(float64(n))
}

func outcome(failed bool) string {
	if failed {
		return "error"
	}
	return "ok"
}
