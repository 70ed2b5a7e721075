package broker_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miladsoleymani/queuemux/broker"
	"github.com/miladsoleymani/queuemux/core"
	"github.com/miladsoleymani/queuemux/internal/mock"
)

func TestRegistry(t *testing.T) {
	broker.Register("test-mock", func(cfg broker.Config) (core.Transport, error) {
		if cfg.Queue == "" {
			return nil, errors.New("queue required")
		}
		return mock.NewTransport(cfg.Queue), nil
	})

	tr, err := broker.Create("test-mock", broker.Config{Queue: "orders"})
	require.NoError(t, err)
	assert.Equal(t, "orders", tr.Name())
	assert.Contains(t, broker.Names(), "test-mock")

	_, err = broker.Create("test-mock", broker.Config{})
	assert.ErrorContains(t, err, "queue required")

	_, err = broker.Create("nope", broker.Config{Queue: "orders"})
	assert.ErrorContains(t, err, "unknown broker")
}

func TestConfigExtra(t *testing.T) {
	cfg := broker.Config{Extra: map[string]any{"stream": "ORDERS", "partition": 3, "ratio": 1.5}}

	s, ok := cfg.String("stream")
	assert.True(t, ok)
	assert.Equal(t, "ORDERS", s)

	n, ok := cfg.Int("partition")
	assert.True(t, ok)
	assert.Equal(t, 3, n)

	_, ok = cfg.String("partition")
	assert.False(t, ok)
	_, ok = cfg.Int("missing")
	assert.False(t, ok)
}
