package mqtt

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	coremon "github.com/NexoWatt/nexowatt-ems/core/monitoring"
)

type recordMonitor struct {
	err  error
	tags map[string]string
}

func (r *recordMonitor) CaptureException(err error, tags map[string]string) {
	r.err = err
	r.tags = tags
}
func (r *recordMonitor) Recover()            {}
func (r *recordMonitor) Flush(time.Duration) {}

func TestSendSetpointErrorCaptured(t *testing.T) {
	fail := errors.New("net fail")
	f := &fakePaho{publishErrs: []error{fail, fail, fail, fail}}
	installFakePaho(t, f)
	mon := &recordMonitor{}
	coremon.Init(mon)
	t.Cleanup(func() { coremon.Init(coremon.NopMonitor{}) })

	cli, err := NewPahoClient(Config{Broker: "tcp://localhost:1883", ClientID: "ems", BackoffMS: 1})
	require.NoError(t, err)
	_, err = cli.SendSetpoint("ess1", 1)
	require.ErrorIs(t, err, fail)

	assert.Len(t, f.published, 4, "default of 3 retries")
	assert.ErrorIs(t, mon.err, fail)
	assert.Equal(t, map[string]string{"unit_id": "ess1", "module": "mqtt"}, mon.tags)
}
