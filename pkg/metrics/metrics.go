package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/maintrack/maintrack/internal/common/config"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the prometheus registry and the service instruments.
type Metrics struct {
	registry   *prometheus.Registry
	namespace  string
	httpReqCnt *prometheus.CounterVec
	httpDur    *prometheus.HistogramVec
	httpInfl   *prometheus.GaugeVec
	wsSessions prometheus.Gauge
	wsSent     *prometheus.CounterVec
	jobCnt     *prometheus.CounterVec
	jobDur     *prometheus.HistogramVec
	jobInfl    *prometheus.GaugeVec
}

func New(cfg config.MetricsConfig) *Metrics {
	ns := cfg.Namespace
	if ns == "" {
		ns = "maintrack"
	}
	r := prometheus.NewRegistry()
	r.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	r.MustRegister(collectors.NewGoCollector())

	httpReqCnt := prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: ns, Name: "http_requests_total"}, []string{"method", "route", "status"})
	httpDur := prometheus.NewHistogramVec(prometheus.HistogramOpts{Namespace: ns, Name: "http_request_duration_seconds", Buckets: cfg.Buckets}, []string{"method", "route", "status"})
	httpInfl := prometheus.NewGaugeVec(prometheus.GaugeOpts{Namespace: ns, Name: "http_requests_inflight"}, []string{"route"})
	r.MustRegister(httpReqCnt, httpDur, httpInfl)

	wsSessions := prometheus.NewGauge(prometheus.GaugeOpts{Namespace: ns, Name: "ws_sessions"})
	wsSent := prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: ns, Name: "ws_messages_sent_total"}, []string{"type"})
	r.MustRegister(wsSessions, wsSent)

	jobCnt := prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: ns, Name: "job_executions_total"}, []string{"queue", "status"})
	jobDur := prometheus.NewHistogramVec(prometheus.HistogramOpts{Namespace: ns, Name: "job_execution_duration_seconds", Buckets: cfg.Buckets}, []string{"queue", "status"})
	jobInfl := prometheus.NewGaugeVec(prometheus.GaugeOpts{Namespace: ns, Name: "job_executions_inflight"}, []string{"queue"})
	r.MustRegister(jobCnt, jobDur, jobInfl)

	return &Metrics{
		registry:   r,
		namespace:  ns,
		httpReqCnt: httpReqCnt,
		httpDur:    httpDur,
		httpInfl:   httpInfl,
		wsSessions: wsSessions,
		wsSent:     wsSent,
		jobCnt:     jobCnt,
		jobDur:     jobDur,
		jobInfl:    jobInfl,
	}
}

// SessionOpened increments the live session gauge.
func (m *Metrics) SessionOpened() { m.wsSessions.Inc() }

// SessionClosed decrements the live session gauge.
func (m *Metrics) SessionClosed() { m.wsSessions.Dec() }

// MessageSent counts one outbound websocket message by envelope type.
func (m *Metrics) MessageSent(msgType string) { m.wsSent.WithLabelValues(msgType).Inc() }

// JobStart marks a claimed job as in flight.
func (m *Metrics) JobStart(queue string) { m.jobInfl.WithLabelValues(queue).Inc() }

// JobDone records one finished job execution with its outcome.
func (m *Metrics) JobDone(queue, status string, since time.Time) {
	m.jobCnt.WithLabelValues(queue, status).Inc()
	m.jobDur.WithLabelValues(queue, status).Observe(time.Since(since).Seconds())
	m.jobInfl.WithLabelValues(queue).Dec()
}

// Middleware records HTTP request metrics for gin routes.
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		m.httpInfl.WithLabelValues(route).Inc()
		start := time.Now()
		c.Next()
		status := strconv.Itoa(c.Writer.Status())
		m.httpReqCnt.WithLabelValues(c.Request.Method, route, status).Inc()
		m.httpDur.WithLabelValues(c.Request.Method, route, status).Observe(time.Since(start).Seconds())
		m.httpInfl.WithLabelValues(route).Dec()
	}
}

// Handler exposes the registry over HTTP.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
