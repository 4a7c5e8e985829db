// Package conf loads, defaults and validates the specphone configuration.
package conf

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"

	"github.com/specphone/specphone/internal/logger"
	"github.com/specphone/specphone/internal/quant"
)

//go:embed config.yaml
var configFiles embed.FS

// EnvPrefix is prepended to every environment override, e.g.
// SPECPHONE_REMOTE_URL overrides remote.url.
const EnvPrefix = "SPECPHONE"

// Settings contains all configuration options for the application.
type Settings struct {
	Debug bool // true to enable debug mode

	Logging logger.LoggingConfig // central logger configuration

	Device struct {
		ProfilePath string // YAML file holding the captured device profile
	}

	Analysis AnalysisSettings // quantification parameters
	Remote   RemoteSettings   // remote quantification service
	Storage  StorageSettings  // calibration curve library
	MQTT     MQTTSettings     // result publishing

	WebServer struct {
		Enabled bool   // true to serve the local quantification API
		Host    string // listen address
		Port    string // listen port
	}

	Telemetry struct {
		Sentry struct {
			Enabled bool   // true to report errors to Sentry
			DSN     string // Sentry DSN
		}
	}
}

// AnalysisSettings mirrors quant.Params in configuration form.
type AnalysisSettings struct {
	TargetWavelength  float64 // nm
	WindowNm          float64 // averaging window width in nm
	Frames            int     // frames per burst
	ResamplePoints    int     // canonical spectrum length
	MinR2             float64 // curve acceptance threshold
	MinStandards      int     // curve acceptance threshold
	LinearAbsMin      float64 // lower bound of the linear absorbance range
	LinearAbsMax      float64 // upper bound of the linear absorbance range
	SaturationLowPct  float64 // percent of full scale
	SaturationHighPct float64 // percent of full scale
	FullScale         float64 // sensor full-scale intensity
	DriftTolerancePct float64 // max relative reference change in percent
	OutlierSigma      float64 // outlier threshold in standard deviations
}

// RemoteSettings configures the remote quantification service client.
type RemoteSettings struct {
	Enabled   bool          // true to use the remote service
	URL       string        // base URL of the service
	Timeout   time.Duration // overall budget for one call including retries
	Attempts  int           // maximum attempts per call
	Backoff   time.Duration // base backoff, multiplied by attempt number
	Jitter    time.Duration // maximum random jitter added to each backoff
	RateLimit float64       // requests per second, 0 disables limiting
	Burst     int           // rate limiter burst
	Fallback  bool          // fall back to local quantification on network errors
}

// StorageSettings configures the curve library database.
type StorageSettings struct {
	Type     string        // sqlite or mysql
	Path     string        // sqlite database path
	DSN      string        // mysql DSN
	CacheTTL time.Duration // curve read cache lifetime
}

// MQTTSettings configures result publishing.
type MQTTSettings struct {
	Enabled  bool
	Broker   string
	Topic    string
	Username string
	Password string
	ClientID string
	QoS      int
	Retain   bool
}

// AnalysisParams converts the analysis section into engine parameters.
func (s *Settings) AnalysisParams() quant.Params {
	a := s.Analysis
	return quant.Params{
		TargetWavelength:  a.TargetWavelength,
		WindowNm:          a.WindowNm,
		Frames:            a.Frames,
		ResamplePoints:    a.ResamplePoints,
		MinR2:             a.MinR2,
		MinStandards:      a.MinStandards,
		LinearAbsMin:      a.LinearAbsMin,
		LinearAbsMax:      a.LinearAbsMax,
		SaturationLowPct:  a.SaturationLowPct,
		SaturationHighPct: a.SaturationHighPct,
		FullScale:         a.FullScale,
		DriftTolerancePct: a.DriftTolerancePct,
		OutlierSigma:      a.OutlierSigma,
	}
}

var (
	settingsInstance *Settings
	settingsMutex    sync.RWMutex
)

// Load reads the configuration file and environment variables. An empty path
// searches the default locations and falls back to the embedded defaults
// when no file exists.
func Load(path string) (*Settings, error) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()

	v, err := initViper(path)
	if err != nil {
		return nil, fmt.Errorf("error initializing viper: %w", err)
	}

	settings := &Settings{}
	if err := v.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("error unmarshaling config into struct: %w", err)
	}

	if err := ValidateSettings(settings); err != nil {
		return nil, fmt.Errorf("error validating settings: %w", err)
	}

	settingsInstance = settings
	return settingsInstance, nil
}

// initViper creates a viper instance with defaults, the config file and
// environment overrides.
func initViper(path string) (*viper.Viper, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	setDefaultConfig(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("fatal error reading config file %s: %w", path, err)
		}
		return v, nil
	}

	v.SetConfigName("config")
	for _, p := range GetDefaultConfigPaths() {
		v.AddConfigPath(p)
	}

	err := v.ReadInConfig()
	if err == nil {
		return v, nil
	}
	var notFound viper.ConfigFileNotFoundError
	if !errors.As(err, &notFound) {
		return nil, fmt.Errorf("fatal error reading config file: %w", err)
	}

	if err := v.ReadConfig(bytes.NewReader(DefaultConfig())); err != nil {
		return nil, fmt.Errorf("error reading embedded config: %w", err)
	}
	return v, nil
}

// GetDefaultConfigPaths returns the directories searched for config.yaml.
func GetDefaultConfigPaths() []string {
	paths := []string{"."}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "specphone"))
	}
	return paths
}

// DefaultConfig returns the embedded default config.yaml.
func DefaultConfig() []byte {
	data, err := configFiles.ReadFile("config.yaml")
	if err != nil {
		// embedded at build time
		panic(err)
	}
	return data
}

// GetSettings returns the most recently loaded settings, or nil.
func GetSettings() *Settings {
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()
	return settingsInstance
}
