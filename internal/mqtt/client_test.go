package mqtt

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/specphone/specphone/internal/conf"
	"github.com/specphone/specphone/internal/errors"
)

func TestConfigFromSettings(t *testing.T) {
	cfg := ConfigFromSettings(&conf.MQTTSettings{
		Broker:   "tcp://broker:1883",
		Username: "lab",
		QoS:      2,
		Retain:   true,
	})

	assert.Equal(t, "tcp://broker:1883", cfg.Broker)
	assert.Equal(t, "specphone", cfg.ClientID)
	assert.Equal(t, "lab", cfg.Username)
	assert.Equal(t, byte(2), cfg.QoS)
	assert.True(t, cfg.Retain)
	assert.Equal(t, DefaultConfig().PublishTimeout, cfg.PublishTimeout)
}

func TestPublishWithoutConnection(t *testing.T) {
	c := NewClient(DefaultConfig(), nil)
	assert.False(t, c.IsConnected())

	err := c.Publish(context.Background(), "specphone/results", []byte("{}"))
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryMQTT))

	c.Disconnect()
}

func TestConnectRejectsInvalidBroker(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Broker = "::not a url"
	cfg.ReconnectCooldown = 0

	err := NewClient(cfg, nil).Connect(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))
}

func TestConnectCooldown(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Broker = "::not a url"
	cfg.ReconnectCooldown = time.Hour

	c := NewClient(cfg, nil)
	_ = c.Connect(context.Background())

	err := c.Connect(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too recent")
}

func TestMockClient(t *testing.T) {
	m := NewMockClient()
	require.NoError(t, m.Connect(context.Background()))
	assert.True(t, m.IsConnected())

	require.NoError(t, m.Publish(context.Background(), "a", []byte("1")))
	m.PublishErr = errors.NewStd("broker down")
	require.Error(t, m.Publish(context.Background(), "b", []byte("2")))

	msgs := m.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "a", msgs[0].Topic)

	m.Disconnect()
	assert.False(t, m.IsConnected())
}
