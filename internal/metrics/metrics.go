// Package metrics provides Prometheus-based metrics for turns, expert
// switches and message processing.
package metrics

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder receives turn-level events.
type Recorder interface {
	ObserveTurn(action string, replay bool)
	ObserveSwitch(from, to, reason string)
	ObserveProcess(expert string, err error, elapsed time.Duration)
}

// Nop discards everything.
type Nop struct{}

func (Nop) ObserveTurn(string, bool)                    {}
func (Nop) ObserveSwitch(string, string, string)        {}
func (Nop) ObserveProcess(string, error, time.Duration) {}

// PrometheusRecorder implements Recorder with Prometheus collectors.
type PrometheusRecorder struct {
	turnsTotal      *prometheus.CounterVec
	switchesTotal   *prometheus.CounterVec
	processTotal    *prometheus.CounterVec
	processDuration *prometheus.HistogramVec
}

// NewPrometheusRecorder registers the collectors on reg. A nil reg uses the
// default registerer.
func NewPrometheusRecorder(reg prometheus.Registerer) *PrometheusRecorder {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &PrometheusRecorder{
		turnsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nexus_turns_total",
				Help: "Turns evaluated by resolved action",
			},
			[]string{"action", "replay"},
		),
		switchesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nexus_expert_switches_total",
				Help: "Committed expert switches by target expert and reason",
			},
			[]string{"to", "reason"},
		),
		processTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nexus_processor_requests_total",
				Help: "Message processor calls by expert and status",
			},
			[]string{"expert", "status"},
		),
		processDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nexus_processor_duration_seconds",
				Help:    "Duration of message processor calls in seconds",
				Buckets: []float64{0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"expert"},
		),
	}
}

// ObserveTurn counts an evaluated turn.
func (p *PrometheusRecorder) ObserveTurn(action string, replay bool) {
	r := "false"
	if replay {
		r = "true"
	}
	p.turnsTotal.WithLabelValues(action, r).Inc()
}

// ObserveSwitch counts a committed switch.
func (p *PrometheusRecorder) ObserveSwitch(_, to, reason string) {
	p.switchesTotal.WithLabelValues(to, reason).Inc()
}

// ObserveProcess records a processor call.
func (p *PrometheusRecorder) ObserveProcess(expert string, err error, elapsed time.Duration) {
	p.processTotal.WithLabelValues(expert, statusLabel(err)).Inc()
	p.processDuration.WithLabelValues(expert).Observe(elapsed.Seconds())
}

func statusLabel(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "error"
	}
}
