package factory

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct{ Rate float64 }

type sampleConf struct {
	Rate     float64       `json:"rate"`
	Enabled  bool          `json:"enabled"`
	Interval time.Duration `json:"interval"`
}

func TestRegistry_Create(t *testing.T) {
	reg := NewRegistry[*sample]()
	require.NoError(t, reg.Register("s", func(conf map[string]any) (*sample, error) {
		var c sampleConf
		if err := Decode(conf, &c); err != nil {
			return nil, err
		}
		return &sample{Rate: c.Rate}, nil
	}))
	inst, err := reg.Create(ModuleConfig{Type: "s", Conf: map[string]any{"rate": 3}})
	require.NoError(t, err)
	assert.Equal(t, 3.0, inst.Rate)
	assert.Equal(t, []string{"s"}, reg.Types())
}

func TestRegistry_Errors(t *testing.T) {
	reg := NewRegistry[int]()
	require.NoError(t, reg.Register("x", func(map[string]any) (int, error) { return 1, nil }))
	assert.Error(t, reg.Register("x", func(map[string]any) (int, error) { return 2, nil }))
	assert.Error(t, reg.Register("z", nil))

	_, err := reg.Create(ModuleConfig{Type: "y"})
	assert.True(t, errors.Is(err, ErrUnknownType))
}

func TestDecodeWeakStrings(t *testing.T) {
	var c sampleConf
	err := Decode(map[string]any{"rate": "2.5", "enabled": "true", "interval": "2s"}, &c)
	require.NoError(t, err)
	assert.Equal(t, 2.5, c.Rate)
	assert.True(t, c.Enabled)
	assert.Equal(t, 2*time.Second, c.Interval)
}
