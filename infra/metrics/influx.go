package metrics

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/NexoWatt/nexowatt-ems/core/logger"
	coremetrics "github.com/NexoWatt/nexowatt-ems/core/metrics"
	inlog "github.com/NexoWatt/nexowatt-ems/infra/logger"
)

// InfluxConfig holds the InfluxDB connection settings.
type InfluxConfig struct {
	URL    string `json:"url"`
	Token  string `json:"token"`
	Org    string `json:"org"`
	Bucket string `json:"bucket"`
}

// InfluxSink writes dispatcher cycles to an InfluxDB instance using the official client.
type InfluxSink struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	log      logger.Logger
}

// NewInfluxSink creates a new sink configured for the given InfluxDB endpoint.
func NewInfluxSink(cfg InfluxConfig) *InfluxSink {
	base := strings.TrimSuffix(cfg.URL, "/api/v2/write")
	client := influxdb2.NewClientWithOptions(base, cfg.Token,
		influxdb2.DefaultOptions().SetHTTPClient(&http.Client{Timeout: 5 * time.Second}))
	return &InfluxSink{
		client:   client,
		writeAPI: client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		log:      inlog.New("influx-sink"),
	}
}

// NewInfluxSinkWithFallback tries to ping the InfluxDB instance and
// returns a NopSink if the health check fails.
func NewInfluxSinkWithFallback(cfg InfluxConfig) coremetrics.MetricsSink {
	sink := NewInfluxSink(cfg)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	health, err := sink.client.Health(ctx)
	if err != nil || health.Status != "pass" {
		if err != nil {
			sink.log.Errorf("influx health check error: %v", err)
		} else {
			sink.log.Errorf("influx health status: %s", health.Status)
		}
		sink.client.Close()
		return coremetrics.NopSink{}
	}
	return sink
}

// Close releases the underlying client.
func (s *InfluxSink) Close() { s.client.Close() }

// RecordCycle writes one ess_dispatch_cycle point.
func (s *InfluxSink) RecordCycle(rec coremetrics.CycleRecord) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p := write.NewPointWithMeasurement("ess_dispatch_cycle").
		AddTag("unit_id", rec.UnitID).
		AddTag("source", rec.Source.String()).
		AddTag("applied", strconv.FormatBool(rec.Applied)).
		AddField("requested_w", round3(rec.RequestedW)).
		AddField("final_w", rec.FinalW).
		AddField("soc_pct", round3(rec.SoCPct)).
		AddField("grid_w", round3(rec.GridW)).
		AddField("sign_locked", rec.SignLocked).
		AddField("gated", rec.Gated).
		AddField("reason", rec.Reason).
		SetTime(rec.Time)
	return s.writeAPI.WritePoint(ctx, p)
}

// RecordSignLock writes one ess_sign_lock point.
func (s *InfluxSink) RecordSignLock(ev coremetrics.SignLockEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p := write.NewPointWithMeasurement("ess_sign_lock").
		AddTag("unit_id", ev.UnitID).
		AddField("from_w", ev.FromW).
		AddField("request_w", round3(ev.RequestW)).
		AddField("until_ms", ev.UntilMs).
		AddField("reason", ev.Reason).
		SetTime(ev.Time)
	return s.writeAPI.WritePoint(ctx, p)
}

// RecordCycleError writes one ess_cycle_error point.
func (s *InfluxSink) RecordCycleError(ev coremetrics.CycleErrorEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p := write.NewPointWithMeasurement("ess_cycle_error").
		AddTag("unit_id", ev.UnitID).
		AddTag("panic", strconv.FormatBool(ev.Panic)).
		AddField("error", ev.Error).
		SetTime(ev.Time)
	return s.writeAPI.WritePoint(ctx, p)
}

func round3(f float64) float64 {
	return math.Round(f*1000) / 1000
}

var (
	_ coremetrics.MetricsSink        = (*InfluxSink)(nil)
	_ coremetrics.SignLockRecorder   = (*InfluxSink)(nil)
	_ coremetrics.CycleErrorRecorder = (*InfluxSink)(nil)
)
