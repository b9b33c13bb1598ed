// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "authgate"

var (
	// Registrations counts register attempts by result
	// (ok, invalid, duplicate, error).
	Registrations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Name: "registrations_total",
		Help: "Registration attempts by result",
	}, []string{"result"})

	// Logins counts login attempts by result
	// (ok, invalid, rejected, error).
	Logins = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Name: "logins_total",
		Help: "Login attempts by result",
	}, []string{"result"})

	// TokenValidations counts token checks by result (ok, expired, invalid).
	TokenValidations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Name: "token_validations_total",
		Help: "Access token validations by result",
	}, []string{"result"})

	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "http", Name: "requests_total",
		Help: "Total HTTP requests",
	}, []string{"path", "method", "code"})

	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "http", Name: "request_duration_seconds",
		Help:    "Request duration",
		Buckets: prometheus.DefBuckets,
	}, []string{"path", "method"})
)
