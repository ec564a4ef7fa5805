package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/NexoWatt/nexowatt-ems/config"
	"github.com/NexoWatt/nexowatt-ems/core/datapoint"
	coremqtt "github.com/NexoWatt/nexowatt-ems/core/mqtt"
	"github.com/NexoWatt/nexowatt-ems/infra/logger"
)

// Manager feeds datapoints published over MQTT into the datapoint store.
// Topics are <prefix>/<key> for site wide values and <prefix>/<unit>/<key>
// for values of one storage unit.
type Manager struct {
	cfg   config.TelemetryConfig
	sub   coremqtt.Subscriber
	store *datapoint.Store
	log   logger.Logger
	now   func() time.Time

	received    prometheus.Counter
	rejected    prometheus.Counter
	lastCollect prometheus.Gauge
}

// NewManager prepares the ingest. Metrics are registered on reg, or on the
// default registerer when reg is nil.
func NewManager(cfg config.TelemetryConfig, sub coremqtt.Subscriber, store *datapoint.Store, reg prometheus.Registerer) (*Manager, error) {
	if sub == nil || store == nil {
		return nil, fmt.Errorf("telemetry: nil parameter provided to NewManager")
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Manager{
		cfg:         cfg,
		sub:         sub,
		store:       store,
		log:         logger.New("telemetry"),
		now:         time.Now,
		received:    prometheus.NewCounter(prometheus.CounterOpts{Name: "ess_telemetry_messages_total", Help: "Number of datapoint messages accepted"}),
		rejected:    prometheus.NewCounter(prometheus.CounterOpts{Name: "ess_telemetry_rejected_total", Help: "Number of datapoint messages that could not be decoded"}),
		lastCollect: prometheus.NewGauge(prometheus.GaugeOpts{Name: "ess_telemetry_last_message_timestamp_seconds", Help: "Unix timestamp of the last accepted datapoint"}),
	}
	for _, c := range []prometheus.Collector{m.received, m.rejected, m.lastCollect} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register telemetry metrics: %w", err)
		}
	}
	return m, nil
}

// Start subscribes to the datapoint topics and blocks until ctx is done.
func (m *Manager) Start(ctx context.Context) error {
	topic := m.cfg.Prefix() + "/#"
	if err := m.sub.Subscribe(topic, m.onMessage); err != nil {
		return err
	}
	m.log.Infof("ingesting datapoints from %s", topic)
	<-ctx.Done()
	return nil
}

func (m *Manager) onMessage(topic string, payload []byte) {
	if err := m.process(topic, payload); err != nil {
		m.rejected.Inc()
		m.log.Warnf("datapoint %s: %v", topic, err)
		return
	}
	m.received.Inc()
	m.lastCollect.SetToCurrentTime()
}

// keyFromTopic strips the prefix. The remainder is either <key> or
// <unit>/<key>, which is how unit scoped values are stored.
func (m *Manager) keyFromTopic(topic string) (string, error) {
	prefix := m.cfg.Prefix() + "/"
	if !strings.HasPrefix(topic, prefix) {
		return "", fmt.Errorf("topic outside prefix %s", prefix)
	}
	key := strings.TrimPrefix(topic, prefix)
	parts := strings.Split(key, "/")
	if key == "" || len(parts) > 2 {
		return "", fmt.Errorf("invalid datapoint topic")
	}
	for _, p := range parts {
		if p == "" {
			return "", fmt.Errorf("invalid datapoint topic")
		}
	}
	return key, nil
}

// process decodes {"value": ..., "ts": <unix ms>} or a bare JSON scalar.
func (m *Manager) process(topic string, payload []byte) error {
	key, err := m.keyFromTopic(topic)
	if err != nil {
		return err
	}
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	value := raw
	ts := m.now().UnixMilli()
	if obj, ok := raw.(map[string]any); ok {
		v, present := obj["value"]
		if !present {
			return fmt.Errorf("missing value")
		}
		value = v
		if n, ok := obj["ts"].(json.Number); ok {
			t, err := n.Int64()
			if err != nil {
				return fmt.Errorf("ts: %w", err)
			}
			ts = t
		}
	}
	return m.store.Set(key, value, ts)
}
