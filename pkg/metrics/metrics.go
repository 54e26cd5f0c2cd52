// Package metrics counts orchestrations for prometheus.
package metrics

import (
	"net/http"

	"github.com/opst/orchestration/pkg/domain"
	xerr "github.com/opst/orchestration/pkg/domain/errors"
	"github.com/opst/orchestration/pkg/domain/lifecycle"
	"github.com/opst/orchestration/pkg/domain/saga"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "orchestration"

type Metrics struct {
	registry *prometheus.Registry

	runs                *prometheus.CounterVec
	compensations       *prometheus.CounterVec
	manualInterventions *prometheus.CounterVec
}

var _ lifecycle.Metrics = &Metrics{}

// New returns metrics registered to a fresh registry, together with
// go runtime and process collectors.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		runs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "saga_runs_total",
				Help:      "Total number of finished lifecycle operations",
			},
			[]string{"kind", "operation", "outcome"},
		),
		compensations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "saga_compensations_total",
				Help:      "Total number of compensations attempted",
			},
			[]string{"kind", "operation", "step", "outcome"},
		),
		manualInterventions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "saga_manual_interventions_total",
				Help:      "Total number of failed compensations, each of which needs an operator",
			},
			[]string{"kind", "operation"},
		),
	}
	registry.MustRegister(
		m.runs, m.compensations, m.manualInterventions,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) Finished(kind domain.Kind, op xerr.Operation, outcome lifecycle.Outcome) {
	m.runs.WithLabelValues(kind.String(), string(op), string(outcome)).Inc()
}

func (m *Metrics) Compensations(kind domain.Kind, op xerr.Operation) saga.Observer {
	return &observer{metrics: m, kind: kind, op: op}
}

type observer struct {
	metrics *Metrics
	kind    domain.Kind
	op      xerr.Operation
}

func (o *observer) Compensation(step string, outcome saga.Outcome) {
	o.metrics.compensations.WithLabelValues(o.kind.String(), string(o.op), step, string(outcome)).Inc()
	if outcome == saga.Stuck {
		o.metrics.manualInterventions.WithLabelValues(o.kind.String(), string(o.op)).Inc()
	}
}
