package monitoring

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type captured struct {
	errs    []error
	tags    []map[string]string
	flushed time.Duration
}

func (c *captured) CaptureException(err error, tags map[string]string) {
	c.errs = append(c.errs, err)
	c.tags = append(c.tags, tags)
}
func (c *captured) Recover()              {}
func (c *captured) Flush(d time.Duration) { c.flushed = d }

func TestInitAndCapture(t *testing.T) {
	c := &captured{}
	Init(c)
	t.Cleanup(func() { Init(NopMonitor{}) })

	Init(nil)
	assert.Same(t, c, Current())

	CaptureException(nil, nil)
	CaptureException(errors.New("write failed"), map[string]string{"unit_id": "ess1"})
	Flush(time.Second)

	assert.Len(t, c.errs, 1)
	assert.Equal(t, "ess1", c.tags[0]["unit_id"])
	assert.Equal(t, time.Second, c.flushed)
}
