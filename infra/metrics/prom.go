package metrics

import (
	"errors"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	coremetrics "github.com/NexoWatt/nexowatt-ems/core/metrics"
)

// PromSink records dispatcher cycles in Prometheus metrics.
type PromSink struct {
	decisions  *prometheus.CounterVec
	requested  *prometheus.GaugeVec
	final      *prometheus.GaugeVec
	soc        *prometheus.GaugeVec
	writes     *prometheus.CounterVec
	writeDelay *prometheus.HistogramVec
}

// NewPromSink registers the sink collectors on the default registerer.
// The HTTP server exposing them is started separately, see Serve.
func NewPromSink() (*PromSink, error) {
	return NewPromSinkWithRegistry(prometheus.DefaultRegisterer)
}

// NewPromSinkWithRegistry registers metrics on the provided registerer.
// A nil registerer defaults to the global Prometheus registerer.
func NewPromSinkWithRegistry(reg prometheus.Registerer) (*PromSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PromSink{
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ess_decisions_total",
			Help: "Dispatcher decisions by winning source and write outcome",
		}, []string{"unit_id", "source", "applied"}),
		requested: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ess_requested_watts",
			Help: "Power requested by the winning policy before stabilization",
		}, []string{"unit_id"}),
		final: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ess_final_watts",
			Help: "Stabilized setpoint of the last cycle",
		}, []string{"unit_id"}),
		soc: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ess_soc_percent",
			Help: "State of charge seen by the last cycle",
		}, []string{"unit_id"}),
		writes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ess_setpoint_writes_total",
			Help: "Setpoint writes by outcome",
		}, []string{"unit_id", "applied"}),
		writeDelay: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ess_setpoint_write_latency_seconds",
			Help:    "Time between setpoint publish and acknowledgment",
			Buckets: prometheus.DefBuckets,
		}, []string{"unit_id"}),
	}

	var err error
	if s.decisions, err = register(reg, s.decisions); err != nil {
		return nil, err
	}
	if s.requested, err = register(reg, s.requested); err != nil {
		return nil, err
	}
	if s.final, err = register(reg, s.final); err != nil {
		return nil, err
	}
	if s.soc, err = register(reg, s.soc); err != nil {
		return nil, err
	}
	if s.writes, err = register(reg, s.writes); err != nil {
		return nil, err
	}
	if s.writeDelay, err = register(reg, s.writeDelay); err != nil {
		return nil, err
	}
	return s, nil
}

// register adds c to reg and returns the collector already registered under
// the same descriptor when there is one.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

// RecordCycle updates the decision counter and the per-unit gauges.
func (s *PromSink) RecordCycle(rec coremetrics.CycleRecord) error {
	s.decisions.WithLabelValues(rec.UnitID, rec.Source.String(), strconv.FormatBool(rec.Applied)).Inc()
	s.requested.WithLabelValues(rec.UnitID).Set(rec.RequestedW)
	s.final.WithLabelValues(rec.UnitID).Set(float64(rec.FinalW))
	s.soc.WithLabelValues(rec.UnitID).Set(rec.SoCPct)
	return nil
}

// RecordWrite counts writes and observes acknowledged latencies.
func (s *PromSink) RecordWrite(ev coremetrics.WriteEvent) error {
	s.writes.WithLabelValues(ev.UnitID, strconv.FormatBool(ev.Applied)).Inc()
	if ev.Applied {
		s.writeDelay.WithLabelValues(ev.UnitID).Observe(ev.Latency.Seconds())
	}
	return nil
}

var (
	_ coremetrics.MetricsSink   = (*PromSink)(nil)
	_ coremetrics.WriteRecorder = (*PromSink)(nil)
)
