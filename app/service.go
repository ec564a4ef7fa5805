package app

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/NexoWatt/nexowatt-ems/api/trace"
	"github.com/NexoWatt/nexowatt-ems/config"
	"github.com/NexoWatt/nexowatt-ems/core/datapoint"
	"github.com/NexoWatt/nexowatt-ems/core/dispatch"
	"github.com/NexoWatt/nexowatt-ems/core/dispatch/logging"
	coremetrics "github.com/NexoWatt/nexowatt-ems/core/metrics"
	coremon "github.com/NexoWatt/nexowatt-ems/core/monitoring"
	coremqtt "github.com/NexoWatt/nexowatt-ems/core/mqtt"
	"github.com/NexoWatt/nexowatt-ems/infra/logger"
	"github.com/NexoWatt/nexowatt-ems/infra/metrics"
	"github.com/NexoWatt/nexowatt-ems/infra/monitoring"
	"github.com/NexoWatt/nexowatt-ems/infra/mqtt"
	"github.com/NexoWatt/nexowatt-ems/infra/telemetry"
	"github.com/NexoWatt/nexowatt-ems/internal/eventbus"
)

// Deps overrides the collaborators New would otherwise build from the
// configuration. Zero fields fall back to the defaults.
type Deps struct {
	Client     coremqtt.Client
	Registerer prometheus.Registerer
	Gatherer   prometheus.Gatherer
}

// Service wires the datapoint store, the dispatchers of every configured
// unit and the HTTP surface around one dispatch manager.
type Service struct {
	Manager *dispatch.Manager
	Store   *datapoint.Store

	cfg       *config.Config
	client    coremqtt.Client
	sink      coremetrics.MetricsSink
	bus       *eventbus.Bus
	traces    logging.LogStore
	telemetry *telemetry.Manager
	gatherer  prometheus.Gatherer
	log       logger.Logger

	closeOnce sync.Once
}

// New creates a Service from the configuration.
func New(cfg *config.Config) (*Service, error) {
	return NewWithDeps(cfg, Deps{})
}

// NewWithDeps creates a Service using the provided collaborators.
func NewWithDeps(cfg *config.Config, deps Deps) (*Service, error) {
	if err := logger.SetLevel(cfg.Log.Level); err != nil {
		return nil, err
	}
	logg := logger.New("service")

	mon, err := monitoring.NewSentryMonitor(cfg.Sentry)
	if err != nil {
		logg.Warnf("sentry disabled: %v", err)
		mon = coremon.NopMonitor{}
	}
	coremon.Init(mon)

	if deps.Registerer == nil {
		deps.Registerer = prometheus.DefaultRegisterer
	}
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}

	sink, err := coremetrics.NewMetricsSink(cfg.Metrics.Sinks)
	if err != nil {
		return nil, fmt.Errorf("metrics sink: %w", err)
	}

	client := deps.Client
	if client == nil {
		pc, err := mqtt.NewPahoClient(cfg.MQTT)
		if err != nil {
			return nil, fmt.Errorf("mqtt client: %w", err)
		}
		client = pc
	}

	store := datapoint.NewStore(cfg.Datapoints)
	units := make([]*dispatch.Dispatcher, 0, len(cfg.Units))
	for _, u := range cfg.Units {
		if u.Disabled {
			logg.Infof("unit %s disabled, skipping", u.ID)
			continue
		}
		w := mqtt.NewSetpointWriter(client, u.ID, cfg.MQTT.AckTimeout(), logger.New("writer"))
		d, err := dispatch.NewDispatcher(u.ID, u.DispatchConfig(cfg.Dispatch), store.View(u.ID), w, logger.New("dispatch"))
		if err != nil {
			return nil, err
		}
		units = append(units, d)
	}
	if len(units) == 0 {
		return nil, fmt.Errorf("no enabled storage unit configured")
	}

	bus := eventbus.New()
	manager, err := dispatch.NewManager(units, cfg.CycleInterval(), sink, bus, logger.New("manager"))
	if err != nil {
		return nil, fmt.Errorf("dispatch manager: %w", err)
	}

	svc := &Service{
		Manager:  manager,
		Store:    store,
		cfg:      cfg,
		client:   client,
		sink:     sink,
		bus:      bus,
		gatherer: deps.Gatherer,
		log:      logg,
	}

	if !cfg.Logging.Disabled {
		traces, err := logging.Open(cfg.Logging.Options())
		if err != nil {
			return nil, fmt.Errorf("trace store: %w", err)
		}
		manager.SetLogStore(traces)
		svc.traces = traces
	}

	if cfg.Telemetry.Enabled {
		sub, ok := client.(coremqtt.Subscriber)
		if !ok {
			return nil, fmt.Errorf("telemetry: mqtt client cannot subscribe")
		}
		tm, err := telemetry.NewManager(cfg.Telemetry, sub, store, deps.Registerer)
		if err != nil {
			return nil, err
		}
		svc.telemetry = tm
	}
	return svc, nil
}

// Handler returns the HTTP surface: metrics plus the trace and status API.
func (s *Service) Handler() http.Handler {
	var traces logging.LogStore = logging.NopStore{}
	if s.traces != nil {
		traces = s.traces
	}
	mux := trace.NewMux(traces, s.Manager, s.cfg.API.Token)
	mux.Handle("/metrics", metrics.Handler(s.gatherer))
	return mux
}

// Run starts the dispatch loop and its companions and blocks until the
// context is canceled.
func (s *Service) Run(ctx context.Context) error {
	collected := metrics.StartEventCollector(ctx, s.bus, s.sink)

	if s.telemetry != nil {
		go func() {
			if err := s.telemetry.Start(ctx); err != nil {
				s.log.Errorf("telemetry: %v", err)
				coremon.CaptureException(err, map[string]string{"component": "telemetry"})
			}
		}()
	}
	go func() {
		if err := metrics.Serve(ctx, s.cfg.Metrics.PromAddr, s.Handler(), logger.New("http")); err != nil {
			s.log.Errorf("http server: %v", err)
			coremon.CaptureException(err, map[string]string{"component": "http"})
		}
	}()

	s.Manager.Run(ctx)
	if err := s.closeManager(); err != nil {
		s.log.Errorf("dispatch manager close: %v", err)
	}
	<-collected
	return nil
}

func (s *Service) closeManager() error {
	var err error
	s.closeOnce.Do(func() { err = s.Manager.Close() })
	return err
}

// Close releases resources held by the service.
func (s *Service) Close() error {
	err := s.closeManager()
	if c, ok := s.sink.(interface{ Close() }); ok {
		c.Close()
	}
	if d, ok := s.client.(interface{ Disconnect() }); ok {
		d.Disconnect()
	}
	coremon.Flush(2 * time.Second)
	return err
}
