// Package metrics собирает метрики станции в формате Prometheus.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mmeshcher/canteen-station/internal/apperr"
)

// Station хранит счётчики станции.
type Station struct {
	upstreamDuration *prometheus.HistogramVec
	upstreamErrors   *prometheus.CounterVec
	checkouts        *prometheus.CounterVec
	verifications    *prometheus.CounterVec
	requests         *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
}

// NewStation регистрирует метрики на переданном регистраторе.
// Без регистратора возвращается сборщик, который ничего не записывает.
func NewStation(reg prometheus.Registerer) *Station {
	if reg == nil {
		return &Station{}
	}
	s := &Station{
		upstreamDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "canteen_upstream_duration_seconds",
			Help:    "Duration of calls to the canteen service in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"op"}),
		upstreamErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "canteen_upstream_errors_total",
			Help: "Failed calls to the canteen service.",
		}, []string{"op", "kind"}),
		checkouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "canteen_checkouts_total",
			Help: "Checkout attempts by outcome.",
		}, []string{"outcome"}),
		verifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "canteen_verifications_total",
			Help: "Pickup verifications by outcome.",
		}, []string{"outcome"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "canteen_http_requests_total",
			Help: "Station API requests by route and status.",
		}, []string{"method", "route", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "canteen_http_request_duration_seconds",
			Help:    "Station API request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
	reg.MustRegister(s.upstreamDuration, s.upstreamErrors, s.checkouts, s.verifications, s.requests, s.requestDuration)
	return s
}

// ObserveCall записывает обращение к сервису столовой.
func (s *Station) ObserveCall(op string, d time.Duration, err error) {
	if s == nil || s.upstreamDuration == nil {
		return
	}
	op = normalizeLabel(op)
	s.upstreamDuration.WithLabelValues(op).Observe(d.Seconds())
	if err != nil {
		s.upstreamErrors.WithLabelValues(op, upstreamKind(err)).Inc()
	}
}

// ObserveCheckout записывает итог оформления заказа.
func (s *Station) ObserveCheckout(outcome string) {
	if s == nil || s.checkouts == nil {
		return
	}
	s.checkouts.WithLabelValues(normalizeLabel(outcome)).Inc()
}

// ObserveVerification записывает итог проверки кода выдачи.
func (s *Station) ObserveVerification(outcome string) {
	if s == nil || s.verifications == nil {
		return
	}
	s.verifications.WithLabelValues(normalizeLabel(outcome)).Inc()
}

// ObserveRequest записывает обработанный запрос к API станции.
func (s *Station) ObserveRequest(method, route string, status int, d time.Duration) {
	if s == nil || s.requests == nil {
		return
	}
	route = normalizeLabel(route)
	s.requests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	s.requestDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

func upstreamKind(err error) string {
	if kind := apperr.Kind(err); kind != "internal" {
		return kind
	}
	return "status"
}

func normalizeLabel(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
