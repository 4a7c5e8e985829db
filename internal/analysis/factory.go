package analysis

import (
	"github.com/specphone/specphone/internal/conf"
	"github.com/specphone/specphone/internal/device"
	"github.com/specphone/specphone/internal/httpclient"
	"github.com/specphone/specphone/internal/logger"
	"github.com/specphone/specphone/internal/observability/metrics"
)

// NewFromSettings builds the quantifier the settings ask for: the local
// engine, the remote service, or the remote service with the local engine as
// fallback.
func NewFromSettings(settings *conf.Settings, profiles *device.Store, recorder metrics.Recorder) (Quantifier, error) {
	local := NewLocalQuantifier(profiles, settings.AnalysisParams(), WithMetrics(recorder))
	if !settings.Remote.Enabled {
		return local, nil
	}

	cfg := RemoteConfigFromSettings(&settings.Remote)
	remote, err := NewRemoteQuantifier(httpclient.New(nil), cfg, recorder)
	if err != nil {
		return nil, err
	}

	log := logger.Global().Module(componentName)
	if !settings.Remote.Fallback {
		log.Info("using remote quantifier", logger.String("url", cfg.BaseURL))
		return remote, nil
	}
	log.Info("using remote quantifier with local fallback", logger.String("url", cfg.BaseURL))
	return NewFallbackQuantifier(remote, local), nil
}
