// conf/defaults.go default values for settings
package conf

import (
	"time"

	"github.com/spf13/viper"
)

// setDefaultConfig sets default values for every key so environment
// overrides resolve through Unmarshal.
func setDefaultConfig(v *viper.Viper) {
	v.SetDefault("debug", false)

	v.SetDefault("logging.default_level", "info")
	v.SetDefault("logging.timezone", "Local")
	v.SetDefault("logging.console.enabled", true)
	v.SetDefault("logging.console.level", "info")
	v.SetDefault("logging.file_output.enabled", false)
	v.SetDefault("logging.file_output.path", "logs/specphone.log")
	v.SetDefault("logging.file_output.level", "info")

	v.SetDefault("device.profilepath", "device_profile.yaml")

	v.SetDefault("analysis.targetwavelength", 540.0)
	v.SetDefault("analysis.windownm", 10.0)
	v.SetDefault("analysis.frames", 10)
	v.SetDefault("analysis.resamplepoints", 2048)
	v.SetDefault("analysis.minr2", 0.99)
	v.SetDefault("analysis.minstandards", 3)
	v.SetDefault("analysis.linearabsmin", 0.05)
	v.SetDefault("analysis.linearabsmax", 1.5)
	v.SetDefault("analysis.saturationlowpct", 12.0)
	v.SetDefault("analysis.saturationhighpct", 90.0)
	v.SetDefault("analysis.fullscale", 255.0)
	v.SetDefault("analysis.drifttolerancepct", 2.0)
	v.SetDefault("analysis.outliersigma", 2.5)

	v.SetDefault("remote.enabled", false)
	v.SetDefault("remote.url", "")
	v.SetDefault("remote.timeout", 30*time.Second)
	v.SetDefault("remote.attempts", 3)
	v.SetDefault("remote.backoff", 200*time.Millisecond)
	v.SetDefault("remote.jitter", 100*time.Millisecond)
	v.SetDefault("remote.ratelimit", 2.0)
	v.SetDefault("remote.burst", 2)
	v.SetDefault("remote.fallback", true)

	v.SetDefault("storage.type", "sqlite")
	v.SetDefault("storage.path", "specphone.db")
	v.SetDefault("storage.dsn", "")
	v.SetDefault("storage.cachettl", 10*time.Minute)

	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.broker", "tcp://localhost:1883")
	v.SetDefault("mqtt.topic", "specphone")
	v.SetDefault("mqtt.username", "")
	v.SetDefault("mqtt.password", "")
	v.SetDefault("mqtt.clientid", "specphone")
	v.SetDefault("mqtt.qos", 1)
	v.SetDefault("mqtt.retain", false)

	v.SetDefault("webserver.enabled", true)
	v.SetDefault("webserver.host", "127.0.0.1")
	v.SetDefault("webserver.port", "8080")

	v.SetDefault("telemetry.sentry.enabled", false)
	v.SetDefault("telemetry.sentry.dsn", "")
}
