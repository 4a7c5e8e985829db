package analysis

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/specphone/specphone/internal/acquisition"
	"github.com/specphone/specphone/internal/logger"
	"github.com/specphone/specphone/internal/mqtt"
)

// DefaultResultTopic is the topic prefix used when none is configured.
const DefaultResultTopic = "specphone"

// ResultPublisher is an Observer that publishes every result state as JSON
// to <prefix>/sessions/<session id>/result. Publishing happens off the
// notifying goroutine.
type ResultPublisher struct {
	client  mqtt.Client
	prefix  string
	timeout time.Duration
	wg      sync.WaitGroup
	log     logger.Logger
}

// NewResultPublisher returns a publisher writing under prefix.
func NewResultPublisher(client mqtt.Client, prefix string, timeout time.Duration) *ResultPublisher {
	prefix = strings.TrimRight(prefix, "/")
	if prefix == "" {
		prefix = DefaultResultTopic
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ResultPublisher{
		client:  client,
		prefix:  prefix,
		timeout: timeout,
		log:     logger.Global().Module(componentName).Module("publisher"),
	}
}

// Topic returns the topic results of sessionID are published to.
func (p *ResultPublisher) Topic(sessionID string) string {
	return p.prefix + "/sessions/" + sessionID + "/result"
}

// OnStateChange implements acquisition.Observer.
func (p *ResultPublisher) OnStateChange(s acquisition.State) {
	if s.Phase != acquisition.PhaseResult {
		return
	}
	payload, err := json.Marshal(s)
	if err != nil {
		p.log.Error("failed to encode result", logger.Error(err))
		return
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
		defer cancel()

		topic := p.Topic(s.SessionID)
		if !p.client.IsConnected() {
			if err := p.client.Connect(ctx); err != nil {
				p.log.Warn("result not published, broker unavailable",
					logger.String("topic", topic),
					logger.Error(err))
				return
			}
		}
		if err := p.client.Publish(ctx, topic, payload); err != nil {
			p.log.Warn("failed to publish result",
				logger.String("topic", topic),
				logger.Error(err))
			return
		}
		p.log.Debug("result published",
			logger.String("topic", topic),
			logger.Int("bytes", len(payload)))
	}()
}

// Wait blocks until in-flight publishes finish.
func (p *ResultPublisher) Wait() {
	p.wg.Wait()
}
