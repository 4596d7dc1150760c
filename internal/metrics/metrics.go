// Package metrics собирает метрики Prometheus для метеринга, биллинга и вызовов модели.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder интерфейс, через который сервисы пишут метрики.
type Recorder interface {
	RecordOperation(operation, outcome string)
	RecordQuotaDenied(operation, plan string)
	RecordTransformDuration(operation string, d time.Duration)
	RecordWebhookEvent(eventType, result string)
	RecordMeteringFailOpen()
	RecordUsageRecordError()
}

// Результаты операций generate/explain.
const (
	OutcomeSuccess       = "success"
	OutcomeInvalidInput  = "invalid_input"
	OutcomeAuthRequired  = "auth_required"
	OutcomeQuotaExceeded = "quota_exceeded"
	OutcomeUpstreamError = "upstream_error"
)

// Collector реализация Recorder на Prometheus.
type Collector struct {
	operations        *prometheus.CounterVec
	quotaDenied       *prometheus.CounterVec
	transformDuration *prometheus.HistogramVec
	webhookEvents     *prometheus.CounterVec
	failOpen          prometheus.Counter
	recordErrors      prometheus.Counter
}

// NewCollector создаёт Collector и регистрирует метрики в reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "regexgpt_operations_total",
			Help: "Metered operations by outcome.",
		}, []string{"operation", "outcome"}),
		quotaDenied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "regexgpt_quota_denied_total",
			Help: "Requests denied because the daily quota was exhausted.",
		}, []string{"operation", "plan"}),
		transformDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "regexgpt_transform_duration_seconds",
			Help:    "Latency of model provider calls.",
			Buckets: []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32},
		}, []string{"operation"}),
		webhookEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "regexgpt_webhook_events_total",
			Help: "Billing webhook events by type and result.",
		}, []string{"type", "result"}),
		failOpen: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "regexgpt_metering_fail_open_total",
			Help: "Quota checks allowed because the store read failed.",
		}),
		recordErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "regexgpt_usage_record_errors_total",
			Help: "Usage increments that failed and were dropped.",
		}),
	}

	reg.MustRegister(
		c.operations,
		c.quotaDenied,
		c.transformDuration,
		c.webhookEvents,
		c.failOpen,
		c.recordErrors,
	)
	return c
}

func (c *Collector) RecordOperation(operation, outcome string) {
	c.operations.WithLabelValues(operation, outcome).Inc()
}

func (c *Collector) RecordQuotaDenied(operation, plan string) {
	c.quotaDenied.WithLabelValues(operation, plan).Inc()
}

func (c *Collector) RecordTransformDuration(operation string, d time.Duration) {
	c.transformDuration.WithLabelValues(operation).Observe(d.Seconds())
}

func (c *Collector) RecordWebhookEvent(eventType, result string) {
	c.webhookEvents.WithLabelValues(eventType, result).Inc()
}

func (c *Collector) RecordMeteringFailOpen() {
	c.failOpen.Inc()
}

func (c *Collector) RecordUsageRecordError() {
	c.recordErrors.Inc()
}

// Nop Recorder, который ничего не пишет. Удобен в тестах.
type Nop struct{}

func (Nop) RecordOperation(string, string)                {}
func (Nop) RecordQuotaDenied(string, string)              {}
func (Nop) RecordTransformDuration(string, time.Duration) {}
func (Nop) RecordWebhookEvent(string, string)             {}
func (Nop) RecordMeteringFailOpen()                       {}
func (Nop) RecordUsageRecordError()                       {}

// Handler возвращает HTTP-обработчик для скрейпа.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
