package dispatch

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	setpointWatts  *prometheus.GaugeVec
	cyclesTotal    *prometheus.CounterVec
	signLocksTotal *prometheus.CounterVec
	writeFailures  *prometheus.CounterVec
	cycleErrors    *prometheus.CounterVec
	cycleDuration  *prometheus.HistogramVec
)

// newCollectors creates new metric collectors.
func newCollectors() (*prometheus.GaugeVec, *prometheus.CounterVec, *prometheus.CounterVec, *prometheus.CounterVec, *prometheus.CounterVec, *prometheus.HistogramVec) {
	sp := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ess_setpoint_watts",
			Help: "Last setpoint written to the storage unit, discharge positive",
		},
		[]string{"unit_id"},
	)
	cyc := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ess_dispatch_cycles_total",
			Help: "Number of dispatcher cycles by final source",
		},
		[]string{"unit_id", "source"},
	)
	lock := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ess_sign_lock_engaged_total",
			Help: "Number of times a sign change was suppressed",
		},
		[]string{"unit_id"},
	)
	wf := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ess_setpoint_write_failures_total",
			Help: "Number of failed setpoint writes",
		},
		[]string{"unit_id"},
	)
	ce := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ess_cycle_errors_total",
			Help: "Number of cycles aborted by an internal error",
		},
		[]string{"unit_id"},
	)
	dur := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ess_cycle_duration_seconds",
			Help:    "Duration of one dispatcher cycle including the setpoint write",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"unit_id"},
	)
	return sp, cyc, lock, wf, ce, dur
}

func init() {
	setpointWatts, cyclesTotal, signLocksTotal, writeFailures, cycleErrors, cycleDuration = newCollectors()
	MustRegisterMetrics(nil)
}

// MustRegisterMetrics registers dispatch metrics on the provided registry.
// If reg is nil, prometheus.DefaultRegisterer is used.
func MustRegisterMetrics(reg prometheus.Registerer) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(setpointWatts, cyclesTotal, signLocksTotal, writeFailures, cycleErrors, cycleDuration)
}

// ResetMetrics reinitializes metrics collectors for testing purposes and
// registers them on the provided registry if not nil.
func ResetMetrics(reg prometheus.Registerer) {
	setpointWatts, cyclesTotal, signLocksTotal, writeFailures, cycleErrors, cycleDuration = newCollectors()
	if reg != nil {
		MustRegisterMetrics(reg)
	}
}
