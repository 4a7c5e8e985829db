package mqtt

import (
	"context"
	"net"
	"net/url"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/specphone/specphone/internal/errors"
	"github.com/specphone/specphone/internal/logger"
	"github.com/specphone/specphone/internal/observability/metrics"
)

// client implements Client on top of paho.
type client struct {
	config          Config
	internal        paho.Client
	lastConnAttempt time.Time
	mu              sync.Mutex
	metrics         metrics.Recorder
	log             logger.Logger
}

// NewClient returns a paho-backed Client. A nil recorder disables metrics.
func NewClient(cfg Config, recorder metrics.Recorder) Client {
	if recorder == nil {
		recorder = metrics.NopRecorder{}
	}
	d := DefaultConfig()
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = d.ConnectTimeout
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = d.PublishTimeout
	}
	if cfg.DisconnectTimeout <= 0 {
		cfg.DisconnectTimeout = d.DisconnectTimeout
	}
	return &client{
		config:  cfg,
		metrics: recorder,
		log:     logger.Global().Module(componentName),
	}
}

func mqttError(err error, operation string) *errors.EnhancedError {
	return errors.New(err).
		Component(componentName).
		Category(errors.CategoryMQTT).
		Context("operation", operation).
		Build()
}

// Connect resolves the broker host and connects. Attempts closer together
// than ReconnectCooldown are refused.
func (c *client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if since := time.Since(c.lastConnAttempt); since < c.config.ReconnectCooldown {
		return errors.Newf("connection attempt too recent, last attempt was %v ago", since.Round(time.Millisecond)).
			Component(componentName).
			Category(errors.CategoryMQTT).
			Build()
	}
	c.lastConnAttempt = time.Now()

	u, err := url.Parse(c.config.Broker)
	if err != nil || u.Hostname() == "" {
		if err == nil {
			err = errors.NewStd("missing broker host")
		}
		return errors.New(err).
			Component(componentName).
			Category(errors.CategoryConfiguration).
			Context("broker", c.config.Broker).
			Build()
	}
	if host := u.Hostname(); net.ParseIP(host) == nil {
		if _, err := net.DefaultResolver.LookupHost(ctx, host); err != nil {
			return errors.New(err).
				Component(componentName).
				Category(errors.CategoryNetwork).
				Context("host", host).
				Build()
		}
	}

	opts := paho.NewClientOptions().
		AddBroker(c.config.Broker).
		SetClientID(c.config.ClientID).
		SetUsername(c.config.Username).
		SetPassword(c.config.Password).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectTimeout(c.config.ConnectTimeout).
		SetOnConnectHandler(c.onConnect).
		SetConnectionLostHandler(c.onConnectionLost)

	c.internal = paho.NewClient(opts)
	token := c.internal.Connect()
	if !token.WaitTimeout(c.config.ConnectTimeout) {
		return mqttError(errors.NewStd("connection timeout"), "connect")
	}
	if err := token.Error(); err != nil {
		return mqttError(err, "connect")
	}
	return nil
}

// Publish sends payload to topic with the configured QoS and retain flag.
func (c *client) Publish(ctx context.Context, topic string, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.isConnected() {
		return mqttError(errors.NewStd("not connected to MQTT broker"), "publish")
	}

	start := time.Now()
	token := c.internal.Publish(topic, c.config.QoS, c.config.Retain, payload)

	timeout := c.config.PublishTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}
	if !token.WaitTimeout(timeout) {
		c.log.Warn("publish timeout", logger.String("topic", topic))
		return mqttError(errors.NewStd("publish timeout"), "publish")
	}
	if err := token.Error(); err != nil {
		return mqttError(err, "publish")
	}

	c.metrics.RecordDuration("mqtt_publish", time.Since(start).Seconds())
	c.log.Debug("published",
		logger.String("topic", topic),
		logger.Int("bytes", len(payload)))
	return nil
}

// IsConnected reports whether the broker connection is up.
func (c *client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isConnected()
}

func (c *client) isConnected() bool {
	return c.internal != nil && c.internal.IsConnected()
}

// Disconnect closes the connection if one is open.
func (c *client) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.internal != nil {
		c.internal.Disconnect(uint(c.config.DisconnectTimeout.Milliseconds()))
		c.internal = nil
	}
}

func (c *client) onConnect(paho.Client) {
	c.log.Info("connected to broker", logger.String("broker", c.config.Broker))
}

func (c *client) onConnectionLost(_ paho.Client, err error) {
	c.log.Warn("connection to broker lost",
		logger.String("broker", c.config.Broker),
		logger.Error(err))
}
