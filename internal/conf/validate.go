// conf/validate.go

package conf

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// ValidationError represents a collection of validation errors
type ValidationError struct {
	Errors []string
}

// Error returns a string representation of the validation errors
func (ve ValidationError) Error() string {
	return fmt.Sprintf("Validation errors: %v", ve.Errors)
}

// ValidateSettings validates the entire Settings struct
func ValidateSettings(settings *Settings) error {
	ve := ValidationError{}

	validators := []func(*Settings) error{
		func(s *Settings) error { return validateAnalysisSettings(&s.Analysis) },
		func(s *Settings) error { return validateRemoteSettings(&s.Remote) },
		func(s *Settings) error { return validateStorageSettings(&s.Storage) },
		func(s *Settings) error { return validateMQTTSettings(&s.MQTT) },
		validateWebServerSettings,
	}
	for _, validate := range validators {
		if err := validate(settings); err != nil {
			ve.Errors = append(ve.Errors, err.Error())
		}
	}

	if len(ve.Errors) > 0 {
		return ve
	}
	return nil
}

// validateAnalysisSettings validates quantification parameters
func validateAnalysisSettings(a *AnalysisSettings) error {
	var errs []string

	if a.TargetWavelength <= 0 {
		errs = append(errs, "analysis.targetwavelength must be positive")
	}
	if a.WindowNm < 0 {
		errs = append(errs, "analysis.windownm must not be negative")
	}
	if a.Frames < 1 {
		errs = append(errs, "analysis.frames must be at least 1")
	}
	if a.ResamplePoints < 2 {
		errs = append(errs, "analysis.resamplepoints must be at least 2")
	}
	if a.MinR2 < 0 || a.MinR2 > 1 {
		errs = append(errs, "analysis.minr2 must be between 0 and 1")
	}
	if a.MinStandards < 2 {
		errs = append(errs, "analysis.minstandards must be at least 2")
	}
	if a.LinearAbsMin >= a.LinearAbsMax {
		errs = append(errs, "analysis.linearabsmin must be below analysis.linearabsmax")
	}
	if a.SaturationLowPct < 0 || a.SaturationHighPct > 100 || a.SaturationLowPct >= a.SaturationHighPct {
		errs = append(errs, "analysis saturation guards must satisfy 0 <= low < high <= 100")
	}
	if a.FullScale <= 0 {
		errs = append(errs, "analysis.fullscale must be positive")
	}
	if a.DriftTolerancePct < 0 {
		errs = append(errs, "analysis.drifttolerancepct must not be negative")
	}
	if a.OutlierSigma <= 0 {
		errs = append(errs, "analysis.outliersigma must be positive")
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

// validateRemoteSettings validates the remote service client settings
func validateRemoteSettings(r *RemoteSettings) error {
	if !r.Enabled {
		return nil
	}

	var errs []string
	u, err := url.Parse(r.URL)
	if r.URL == "" || err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Sprintf("remote.url %q must be an absolute http(s) URL", r.URL))
	}
	if r.Attempts < 1 {
		errs = append(errs, "remote.attempts must be at least 1")
	}
	if r.Timeout <= 0 {
		errs = append(errs, "remote.timeout must be positive")
	}
	if r.Backoff < 0 || r.Jitter < 0 {
		errs = append(errs, "remote.backoff and remote.jitter must not be negative")
	}
	if r.RateLimit < 0 {
		errs = append(errs, "remote.ratelimit must not be negative")
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

// validateStorageSettings validates the curve library database settings
func validateStorageSettings(s *StorageSettings) error {
	switch s.Type {
	case "sqlite":
		if s.Path == "" {
			return errors.New("storage.path is required for sqlite")
		}
	case "mysql":
		if s.DSN == "" {
			return errors.New("storage.dsn is required for mysql")
		}
	default:
		return fmt.Errorf("storage.type %q must be sqlite or mysql", s.Type)
	}
	return nil
}

// validateMQTTSettings validates MQTT publishing settings
func validateMQTTSettings(m *MQTTSettings) error {
	if !m.Enabled {
		return nil
	}
	if m.Broker == "" {
		return errors.New("mqtt.broker is required when mqtt is enabled")
	}
	if m.Topic == "" {
		return errors.New("mqtt.topic is required when mqtt is enabled")
	}
	if m.QoS < 0 || m.QoS > 2 {
		return fmt.Errorf("mqtt.qos %d must be 0, 1 or 2", m.QoS)
	}
	return nil
}

// validateWebServerSettings validates the listen port
func validateWebServerSettings(s *Settings) error {
	if !s.WebServer.Enabled {
		return nil
	}
	port, err := strconv.Atoi(s.WebServer.Port)
	if err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("webserver.port %q must be between 1 and 65535", s.WebServer.Port)
	}
	return nil
}
