package metrics

import (
	"context"

	"github.com/NexoWatt/nexowatt-ems/core/events"
	coremetrics "github.com/NexoWatt/nexowatt-ems/core/metrics"
	"github.com/NexoWatt/nexowatt-ems/internal/eventbus"
)

// StartEventCollector subscribes to the event bus and forwards setpoint
// writes to sinks implementing WriteRecorder. It stops when the context is
// canceled or the bus is closed. The returned channel is closed once the
// collector has exited.
func StartEventCollector(ctx context.Context, bus eventbus.EventBus, sink coremetrics.MetricsSink) <-chan struct{} {
	done := make(chan struct{})
	rec, ok := sink.(coremetrics.WriteRecorder)
	if bus == nil || !ok {
		close(done)
		return done
	}
	sub := bus.Subscribe()
	go func() {
		defer close(done)
		defer bus.Unsubscribe(sub)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-sub:
				if !ok {
					return
				}
				e, ok := ev.(events.WriteEvent)
				if !ok {
					continue
				}
				errStr := ""
				if e.Err != nil {
					errStr = e.Err.Error()
				}
				_ = rec.RecordWrite(coremetrics.WriteEvent{
					UnitID:    e.UnitID,
					CommandID: e.CommandID,
					Watts:     e.Watts,
					Applied:   e.Applied,
					Latency:   e.Latency,
					Error:     errStr,
					Time:      e.Time,
				})
			}
		}
	}()
	return done
}
