package mqtt

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	coremqtt "github.com/NexoWatt/nexowatt-ems/core/mqtt"
	"github.com/NexoWatt/nexowatt-ems/infra/logger"
)

// SetpointWriter publishes the setpoints of one unit and reports them as
// applied once the unit acknowledged them.
type SetpointWriter struct {
	cli        coremqtt.Client
	unitID     string
	ackTimeout time.Duration
	log        logger.Logger

	mu     sync.Mutex
	lastID string
}

// NewSetpointWriter creates a writer for unitID. With ackTimeout <= 0 a
// successful publish counts as applied.
func NewSetpointWriter(cli coremqtt.Client, unitID string, ackTimeout time.Duration, log logger.Logger) *SetpointWriter {
	if log == nil {
		log = logger.NopLogger{}
	}
	return &SetpointWriter{cli: cli, unitID: unitID, ackTimeout: ackTimeout, log: log}
}

// WriteSetpoint publishes watts and waits for the acknowledgment. A missing
// acknowledgment is not an error; it only reports the setpoint as not applied.
func (w *SetpointWriter) WriteSetpoint(ctx context.Context, watts int) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	id, err := w.cli.SendSetpoint(w.unitID, watts)
	if err != nil {
		return false, fmt.Errorf("publish setpoint: %w", err)
	}
	w.mu.Lock()
	w.lastID = id
	w.mu.Unlock()
	if w.ackTimeout <= 0 {
		w.cli.Forget(id)
		return true, nil
	}

	timeout := w.ackTimeout
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem < timeout {
			timeout = rem
		}
	}
	ok, err := w.cli.WaitForAck(id, timeout)
	switch {
	case errors.Is(err, coremqtt.ErrAckTimeout):
		w.log.Debugf("unit %s: no ack for %s within %s", w.unitID, id, timeout)
		return false, nil
	case err != nil:
		return false, fmt.Errorf("wait for ack: %w", err)
	}
	return ok, nil
}

// LastCommandID returns the identifier of the last published setpoint.
func (w *SetpointWriter) LastCommandID() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastID
}
