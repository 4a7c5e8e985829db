package analysis

import (
	"context"
	"encoding/json"
	"math/rand/v2"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/specphone/specphone/internal/conf"
	"github.com/specphone/specphone/internal/errors"
	"github.com/specphone/specphone/internal/httpclient"
	"github.com/specphone/specphone/internal/logger"
	"github.com/specphone/specphone/internal/observability/metrics"
)

// Terminal remote failures. Every error returned by RemoteQuantifier wraps
// exactly one of them.
var (
	ErrNetwork        = errors.NewStd("remote quantifier unreachable")
	ErrServerRejected = errors.NewStd("remote quantifier rejected the request")
)

const (
	endpointProcessReferences = "process-references"
	endpointAnalyze           = "analyze"
)

// RemoteConfig configures a RemoteQuantifier.
type RemoteConfig struct {
	BaseURL   string
	Timeout   time.Duration // budget shared by all attempts of one call
	Attempts  int
	Backoff   time.Duration // delay after attempt k is Backoff*k plus jitter
	Jitter    time.Duration
	RateLimit float64 // requests per second, 0 disables limiting
	Burst     int
}

// DefaultRemoteConfig returns the stock retry policy.
func DefaultRemoteConfig() RemoteConfig {
	return RemoteConfig{
		Timeout:  30 * time.Second,
		Attempts: 3,
		Backoff:  200 * time.Millisecond,
		Jitter:   100 * time.Millisecond,
	}
}

// RemoteConfigFromSettings builds a RemoteConfig from the remote settings.
func RemoteConfigFromSettings(s *conf.RemoteSettings) RemoteConfig {
	return RemoteConfig{
		BaseURL:   s.URL,
		Timeout:   s.Timeout,
		Attempts:  s.Attempts,
		Backoff:   s.Backoff,
		Jitter:    s.Jitter,
		RateLimit: s.RateLimit,
		Burst:     s.Burst,
	}
}

// envelope is promoted into every response type through Envelope.
func (e Envelope) envelope() Envelope { return e }

type enveloped interface {
	envelope() Envelope
}

// RemoteQuantifier calls a remote service implementing the same contract as
// LocalQuantifier. Calls are rate limited and retried on transport failures,
// server errors and malformed bodies. Cancelling the caller's context aborts
// the pending attempt and any remaining retries.
type RemoteQuantifier struct {
	client  *httpclient.Client
	cfg     RemoteConfig
	limiter *rate.Limiter
	metrics metrics.Recorder
	log     logger.Logger
}

// NewRemoteQuantifier returns a remote quantifier using client.
func NewRemoteQuantifier(client *httpclient.Client, cfg RemoteConfig, recorder metrics.Recorder) (*RemoteQuantifier, error) {
	if _, err := url.ParseRequestURI(cfg.BaseURL); err != nil || cfg.BaseURL == "" {
		return nil, errors.Newf("invalid remote quantifier URL %q", cfg.BaseURL).
			Component(componentName).
			Category(errors.CategoryConfiguration).
			Build()
	}
	d := DefaultRemoteConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = d.Timeout
	}
	if cfg.Attempts <= 0 {
		cfg.Attempts = d.Attempts
	}
	if cfg.Backoff < 0 {
		cfg.Backoff = 0
	}
	if cfg.Jitter < 0 {
		cfg.Jitter = 0
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	if client == nil {
		client = httpclient.New(nil)
	}
	if recorder == nil {
		recorder = metrics.NopRecorder{}
	}

	return &RemoteQuantifier{
		client:  client,
		cfg:     cfg,
		limiter: limiter,
		metrics: recorder,
		log:     logger.Global().Module(componentName),
	}, nil
}

// ProcessReferences implements Quantifier.
func (q *RemoteQuantifier) ProcessReferences(ctx context.Context, req *ProcessReferencesRequest) (*ProcessReferencesResponse, error) {
	var resp ProcessReferencesResponse
	if err := q.call(ctx, endpointProcessReferences, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Analyze implements Quantifier.
func (q *RemoteQuantifier) Analyze(ctx context.Context, req *AnalyzeRequest) (*AnalyzeResponse, error) {
	var resp AnalyzeResponse
	if err := q.call(ctx, endpointAnalyze, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// call posts in to endpoint and decodes the reply into out, retrying within
// one shared timeout.
func (q *RemoteQuantifier) call(ctx context.Context, endpoint string, in any, out enveloped) error {
	start := time.Now()
	defer func() { q.metrics.RecordDuration("remote_"+endpoint, time.Since(start).Seconds()) }()

	ctx, cancel := context.WithTimeout(ctx, q.cfg.Timeout)
	defer cancel()

	target := q.cfg.BaseURL + "/" + endpoint
	var lastErr error
	for attempt := 1; attempt <= q.cfg.Attempts; attempt++ {
		if err := q.limiter.Wait(ctx); err != nil {
			lastErr = errors.Join(err, ctx.Err())
			break
		}

		err := q.client.PostJSON(ctx, target, in, out)
		if err == nil {
			env := out.envelope()
			if env.OK() {
				q.metrics.RecordRemoteRequest(endpoint, "success")
				return nil
			}
			return q.rejected(endpoint, attempt, env.Message, nil)
		}

		var se *httpclient.StatusError
		if errors.As(err, &se) && !se.Retryable() {
			return q.rejected(endpoint, attempt, messageFrom(se), se)
		}

		lastErr = err
		if ctx.Err() != nil || attempt == q.cfg.Attempts {
			break
		}

		q.metrics.RecordRemoteRequest(endpoint, "retry")
		delay := q.backoff(attempt)
		q.log.Warn("remote call failed, retrying",
			logger.String("endpoint", endpoint),
			logger.Int("attempt", attempt),
			logger.Duration("delay", delay),
			logger.Error(err))

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			lastErr = errors.Join(lastErr, ctx.Err())
		case <-timer.C:
		}
		if ctx.Err() != nil {
			break
		}
	}

	q.metrics.RecordRemoteRequest(endpoint, "network_error")
	return errors.New(errors.Join(ErrNetwork, lastErr)).
		Component(componentName).
		Category(errors.CategoryNetwork).
		Context("endpoint", endpoint).
		Build()
}

func (q *RemoteQuantifier) backoff(attempt int) time.Duration {
	d := q.cfg.Backoff * time.Duration(attempt)
	if q.cfg.Jitter > 0 {
		d += rand.N(q.cfg.Jitter)
	}
	return d
}

func (q *RemoteQuantifier) rejected(endpoint string, attempt int, message string, cause error) error {
	q.metrics.RecordRemoteRequest(endpoint, "rejected")
	if message == "" {
		message = "no message"
	}
	err := errors.Join(ErrServerRejected, errors.NewStd(message))
	if cause != nil {
		err = errors.Join(err, cause)
	}
	return errors.New(err).
		Component(componentName).
		Category(errors.CategoryRejected).
		Context("endpoint", endpoint).
		Context("attempt", attempt).
		Build()
}

// messageFrom extracts the envelope message from an error body, falling back
// to the raw body.
func messageFrom(se *httpclient.StatusError) string {
	var env Envelope
	if json.Unmarshal([]byte(se.Body), &env) == nil && env.Message != "" {
		return env.Message
	}
	return se.Body
}
