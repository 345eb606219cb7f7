// Package metrics exposes engine activity as Prometheus counters.
package metrics

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/roach88/xchange/internal/model"
)

// Recorder implements engine.Recorder on a dedicated registry. A nil
// *Recorder records nothing.
type Recorder struct {
	registry    *prometheus.Registry
	transitions *prometheus.CounterVec
	escrow      *prometheus.CounterVec
	outbound    *prometheus.CounterVec
	inbound     *prometheus.CounterVec
}

// New creates the collectors for domain and registers them on a fresh
// registry.
func New(domain model.DomainID) (*Recorder, error) {
	constLabels := prometheus.Labels{"domain": string(domain)}
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   "xchange",
				Name:        "transitions_total",
				Help:        "Protocol transitions by operation and result.",
				ConstLabels: constLabels,
			},
			[]string{"op", "result"},
		),
		escrow: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   "xchange",
				Name:        "escrow_amount_total",
				Help:        "Escrowed amount moved, by movement kind.",
				ConstLabels: constLabels,
			},
			[]string{"movement"},
		),
		outbound: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   "xchange",
				Name:        "outbound_messages_total",
				Help:        "Cross-domain messages handed to the channel.",
				ConstLabels: constLabels,
			},
			[]string{"tag", "result"},
		),
		inbound: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   "xchange",
				Name:        "inbound_messages_total",
				Help:        "Cross-domain messages received.",
				ConstLabels: constLabels,
			},
			[]string{"tag", "result"},
		),
	}
	for _, c := range []prometheus.Collector{r.transitions, r.escrow, r.outbound, r.inbound} {
		if err := r.registry.Register(c); err != nil {
			return nil, fmt.Errorf("register metrics: %w", err)
		}
	}
	return r, nil
}

// Transition counts one committed or rejected transition.
func (r *Recorder) Transition(op, result string) {
	if r == nil {
		return
	}
	r.transitions.WithLabelValues(op, result).Inc()
}

// Escrow adds amount to the movement counter.
func (r *Recorder) Escrow(movement string, amount model.Amount) {
	if r == nil {
		return
	}
	r.escrow.WithLabelValues(movement).Add(float64(amount))
}

// Outbound counts one send attempt.
func (r *Recorder) Outbound(tag, result string) {
	if r == nil {
		return
	}
	r.outbound.WithLabelValues(tag, result).Inc()
}

// Inbound counts one received delivery.
func (r *Recorder) Inbound(tag, result string) {
	if r == nil {
		return
	}
	r.inbound.WithLabelValues(tag, result).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
