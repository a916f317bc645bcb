// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Storefront Contributors

package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the storefront's Prometheus collectors. The recording methods
// are safe to call on a nil *Metrics, which records nothing.
type Metrics struct {
	HTTPRequests   *prometheus.CounterVec
	HTTPDuration   *prometheus.HistogramVec
	AuthOutcomes   *prometheus.CounterVec
	MailDeliveries *prometheus.CounterVec
	MailQueueDepth prometheus.Gauge
	SweptRows      *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "storefront_http_requests_total",
				Help: "HTTP requests by route pattern, method and status code",
			},
			[]string{"route", "method", "status"},
		),
		HTTPDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "storefront_http_request_duration_seconds",
				Help:    "HTTP request latency by route pattern and method",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route", "method"},
		),
		AuthOutcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "storefront_auth_outcomes_total",
				Help: "Authentication operations by operation and outcome",
			},
			[]string{"operation", "outcome"},
		),
		MailDeliveries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "storefront_mail_deliveries_total",
				Help: "Outbound mail by result (sent, failed, dropped)",
			},
			[]string{"result"},
		),
		MailQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "storefront_mail_queue_depth",
			Help: "Messages waiting in the mail queue",
		}),
		SweptRows: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "storefront_swept_rows_total",
				Help: "Expired rows removed by the sweeper by kind",
			},
			[]string{"kind"},
		),
	}

	reg.MustRegister(
		m.HTTPRequests,
		m.HTTPDuration,
		m.AuthOutcomes,
		m.MailDeliveries,
		m.MailQueueDepth,
		m.SweptRows,
	)
	return m
}

// ObserveHTTP records one served request.
func (m *Metrics) ObserveHTTP(route, method string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.HTTPDuration.WithLabelValues(route, method).Observe(elapsed.Seconds())
}

// AuthOutcome records the result of an auth operation such as "login".
func (m *Metrics) AuthOutcome(operation, outcome string) {
	if m == nil {
		return
	}
	m.AuthOutcomes.WithLabelValues(operation, outcome).Inc()
}

// MailDelivery records a mail result.
func (m *Metrics) MailDelivery(result string) {
	if m == nil {
		return
	}
	m.MailDeliveries.WithLabelValues(result).Inc()
}

// SetMailQueueDepth reports the current queue length.
func (m *Metrics) SetMailQueueDepth(n int) {
	if m == nil {
		return
	}
	m.MailQueueDepth.Set(float64(n))
}

// Swept records rows removed by the sweeper.
func (m *Metrics) Swept(kind string, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.SweptRows.WithLabelValues(kind).Add(float64(n))
}
