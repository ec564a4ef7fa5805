//go:build !no_containers

package test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NexoWatt/nexowatt-ems/app"
	"github.com/NexoWatt/nexowatt-ems/config"
	"github.com/NexoWatt/nexowatt-ems/core/dispatch"
	"github.com/NexoWatt/nexowatt-ems/simulator"
	"github.com/NexoWatt/nexowatt-ems/test/util"
)

func lastStatus(svc *app.Service, unitID string) (dispatch.UnitStatus, bool) {
	for _, st := range svc.Manager.Status() {
		if st.UnitID == unitID && st.Last != nil {
			return st, true
		}
	}
	return dispatch.UnitStatus{}, false
}

func TestE2EMQTTDispatch(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	broker, cleanup, err := util.StartMosquitto(ctx)
	if err != nil {
		t.Skipf("mosquitto unavailable: %v", err)
	}
	defer cleanup()

	acking := simulator.NewMQTTDevice("ess1", broker, nil)
	silent := simulator.NewMQTTDevice("ess2", broker, simulator.NewAckPolicy(0, 1, 1))
	for _, dev := range []*simulator.MQTTDevice{acking, silent} {
		ready := make(chan struct{})
		go func(d *simulator.MQTTDevice) { _ = d.Run(ctx, ready) }(dev)
		select {
		case <-ready:
		case <-ctx.Done():
			t.Fatal("device did not subscribe")
		}
	}

	cfg := config.Default()
	cfg.MQTT.Broker = broker
	cfg.MQTT.ClientID = "ems-e2e"
	cfg.MQTT.AckTimeoutMS = 1000
	cfg.Units = []config.UnitConfig{{ID: "ess1"}, {ID: "ess2"}}
	cfg.CycleIntervalMS = 200
	cfg.Telemetry.Enabled = true
	cfg.Logging.Path = filepath.Join(t.TempDir(), "trace.jsonl")
	cfg.Metrics.PromAddr = ""

	reg := prometheus.NewRegistry()
	svc, err := app.NewWithDeps(&cfg, app.Deps{Registerer: reg, Gatherer: reg})
	require.NoError(t, err)
	defer svc.Close()

	runCtx, stop := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- svc.Run(runCtx) }()

	for topic, payload := range map[string]string{
		"ems/grid.power_w":     "1500",
		"ems/ess1/ess.soc_pct": `{"value": 60}`,
		"ems/ess2/ess.soc_pct": "60",
		"ems/control.enabled":  "true",
	} {
		require.NoError(t, util.Publish(broker, topic, payload))
	}

	require.Eventually(t, func() bool {
		st, ok := lastStatus(svc, "ess1")
		return ok && st.Last.Applied && st.Last.Watts > 0
	}, 20*time.Second, 100*time.Millisecond)

	require.Eventually(t, func() bool {
		st, ok := lastStatus(svc, "ess2")
		return ok && st.Last.Watts > 0 && !st.Last.Applied
	}, 20*time.Second, 100*time.Millisecond)

	assert.NotEmpty(t, acking.Received())
	assert.NotEmpty(t, silent.Received())
	assert.Greater(t, gathered(t, reg, "ess_telemetry_messages_total"), 0.0)

	stop()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("service did not stop")
	}
}

func gathered(t *testing.T, g prometheus.Gatherer, name string) float64 {
	t.Helper()
	mfs, err := g.Gather()
	require.NoError(t, err)
	for _, mf := range mfs {
		if mf.GetName() == name && len(mf.GetMetric()) == 1 {
			return mf.GetMetric()[0].GetCounter().GetValue()
		}
	}
	t.Fatalf("metric %s not found", name)
	return 0
}
