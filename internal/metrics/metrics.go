// Package metrics counts ceremony, one-time-code and payment outcomes.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels shared by every counter.
const (
	OutcomeSuccess   = "success"
	OutcomeFailure   = "failure"
	OutcomeNotFound  = "not_found"
	OutcomeReplay    = "replay"
	OutcomeCancelled = "cancelled"
)

// Recorder owns a private registry so tests can build as many as they need.
// A nil *Recorder records nothing.
type Recorder struct {
	registry   *prometheus.Registry
	ceremonies *prometheus.CounterVec
	otp        *prometheus.CounterVec
	payments   *prometheus.CounterVec
}

// New registers the wallet counters plus Go runtime collectors.
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		ceremonies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "passwallet",
			Name:      "ceremonies_total",
			Help:      "Passkey ceremonies by kind and outcome.",
		}, []string{"ceremony", "outcome"}),
		otp: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "passwallet",
			Name:      "otp_total",
			Help:      "One-time-code sends and verifications by outcome.",
		}, []string{"outcome"}),
		payments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "passwallet",
			Name:      "payments_total",
			Help:      "Checkout payments by outcome.",
		}, []string{"outcome"}),
	}

	r.registry.MustRegister(
		r.ceremonies,
		r.otp,
		r.payments,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// Ceremony counts one ceremony step, e.g. ("login", "success").
func (r *Recorder) Ceremony(kind, outcome string) {
	if r == nil {
		return
	}
	r.ceremonies.WithLabelValues(kind, outcome).Inc()
}

// OTP counts one-time-code activity, e.g. "sent" or "failure".
func (r *Recorder) OTP(outcome string) {
	if r == nil {
		return
	}
	r.otp.WithLabelValues(outcome).Inc()
}

// Payment counts one payment attempt.
func (r *Recorder) Payment(outcome string) {
	if r == nil {
		return
	}
	r.payments.WithLabelValues(outcome).Inc()
}

// Registry exposes the underlying registry for scraping in tests.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler serves the registry in the Prometheus text format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
