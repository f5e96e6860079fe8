// env.go - Environment variable configuration and validation
package conf

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// envPrefix is prepended to every automatically mapped config key
const envPrefix = "WILDWATCH"

// envBinding holds metadata for environment variable bindings (internal use)
type envBinding struct {
	ConfigKey string             // Viper config key
	EnvVar    string             // Environment variable name
	Validate  func(string) error // Optional validation function
}

// getEnvBindings returns all explicit environment variable bindings with validation
func getEnvBindings() []envBinding {
	return []envBinding{
		// Detector
		{"detector.confidence_threshold", "WILDWATCH_DETECTOR_THRESHOLD", validateEnvUnitInterval},
		{"detector.dwell_seconds", "WILDWATCH_DETECTOR_DWELL", validateEnvSeconds},
		{"detector.cooldown_seconds", "WILDWATCH_DETECTOR_COOLDOWN", validateEnvSeconds},
		{"detector.command", "WILDWATCH_DETECTOR_COMMAND", nil},

		// Location
		{"location.latitude", "WILDWATCH_LATITUDE", validateEnvLatitude},
		{"location.longitude", "WILDWATCH_LONGITUDE", validateEnvLongitude},

		// Relay secrets are never written to config.yaml
		{"relay.enabled", "WILDWATCH_RELAY_ENABLED", validateEnvBool},
		{"relay.github.token", "WILDWATCH_RELAY_TOKEN", nil},
		{"relay.s3.secret_access_key", "WILDWATCH_S3_SECRET_ACCESS_KEY", nil},
		{"relay.sftp.password", "WILDWATCH_SFTP_PASSWORD", nil},
		{"relay.ftp.password", "WILDWATCH_FTP_PASSWORD", nil},
		{"relay.mqtt.password", "WILDWATCH_MQTT_PASSWORD", nil},
		{"relay.interval", "WILDWATCH_RELAY_INTERVAL", validateEnvDuration},

		// Connectivity
		{"connectivity.url", "WILDWATCH_PROBE_URL", validateEnvURL},
		{"connectivity.timeout", "WILDWATCH_PROBE_TIMEOUT", validateEnvDuration},

		// Integrations
		{"notification.urls", "WILDWATCH_NOTIFICATION_URLS", nil},
		{"sentry.dsn", "WILDWATCH_SENTRY_DSN", nil},
	}
}

// bindEnvVars sets up environment variable bindings with validation (internal)
func bindEnvVars() error {
	var warnings []string

	for _, binding := range getEnvBindings() {
		if err := viper.BindEnv(binding.ConfigKey, binding.EnvVar); err != nil {
			warnings = append(warnings, fmt.Sprintf("Failed to bind %s: %v", binding.EnvVar, err))
			continue
		}

		if binding.Validate == nil {
			continue
		}
		if envValue := os.Getenv(binding.EnvVar); envValue != "" {
			if err := binding.Validate(envValue); err != nil {
				warnings = append(warnings, fmt.Sprintf("Invalid %s value '%s': %v", binding.EnvVar, envValue, err))
			}
		}
	}

	if len(warnings) > 0 {
		return fmt.Errorf("environment variable issues:\n  - %s", strings.Join(warnings, "\n  - "))
	}

	return nil
}

func validateEnvBool(value string) error {
	if _, err := strconv.ParseBool(value); err != nil {
		return fmt.Errorf("must be true or false")
	}
	return nil
}

func validateEnvUnitInterval(value string) error {
	v, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fmt.Errorf("invalid number: %w", err)
	}
	if v < 0.0 || v > 1.0 {
		return fmt.Errorf("must be between 0.0 and 1.0, got %g", v)
	}
	return nil
}

func validateEnvSeconds(value string) error {
	v, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fmt.Errorf("invalid number: %w", err)
	}
	if v < 0 {
		return fmt.Errorf("must not be negative, got %g", v)
	}
	return nil
}

func validateEnvLatitude(value string) error {
	lat, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fmt.Errorf("invalid latitude: %w", err)
	}
	if lat < -90.0 || lat > 90.0 {
		return fmt.Errorf("latitude must be between -90 and 90, got %g", lat)
	}
	return nil
}

func validateEnvLongitude(value string) error {
	lon, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fmt.Errorf("invalid longitude: %w", err)
	}
	if lon < -180.0 || lon > 180.0 {
		return fmt.Errorf("longitude must be between -180 and 180, got %g", lon)
	}
	return nil
}

func validateEnvDuration(value string) error {
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("invalid duration: %w", err)
	}
	if d <= 0 {
		return fmt.Errorf("duration must be positive, got %s", d)
	}
	return nil
}

func validateEnvURL(value string) error {
	u, err := url.Parse(value)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("URL must include scheme and host")
	}
	return nil
}

// configureEnvironmentVariables sets up environment variable support for Viper
func configureEnvironmentVariables() error {
	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	return bindEnvVars()
}
