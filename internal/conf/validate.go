// conf/validate.go

package conf

import (
	"fmt"
	"net"
	"net/url"
	"path"
	"slices"
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

// Supported detector sources, location providers, probes and relay sinks
const (
	SourceJSONL    = "jsonl"
	SourceProcess  = "process"
	LocationFile   = "file"
	LocationStatic = "static"
	ProbeHTTP      = "http"
	ProbeTCP       = "tcp"
	SinkLocal      = "local"
	SinkGitHub     = "github"
	SinkS3         = "s3"
	SinkSFTP       = "sftp"
	SinkFTP        = "ftp"
	SinkMQTT       = "mqtt"
)

// ValidateSettings validates the entire Settings struct
func ValidateSettings(settings *Settings) error {
	ve := ValidationError{}

	validators := []func(*Settings) error{
		func(s *Settings) error { return validateMainSettings(&s.Main) },
		func(s *Settings) error { return validateDetectorSettings(&s.Detector) },
		func(s *Settings) error { return validateLocationSettings(&s.Location) },
		func(s *Settings) error { return validateStoreSettings(&s.Store) },
		func(s *Settings) error { return validateConnectivitySettings(&s.Connectivity) },
		func(s *Settings) error { return validateRelaySettings(&s.Relay) },
		func(s *Settings) error { return validateNotificationSettings(&s.Notification) },
		func(s *Settings) error { return validateSentrySettings(&s.Sentry) },
		func(s *Settings) error { return validateWebServerSettings(&s.WebServer) },
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

// collect joins section problems into one error, or returns nil
func collect(section string, problems []string) error {
	if len(problems) == 0 {
		return nil
	}
	return fmt.Errorf("%s: %s", section, strings.Join(problems, "; "))
}

func validateMainSettings(s *MainSettings) error {
	var problems []string
	if s.LoopInterval < 0 {
		problems = append(problems, "loop_interval must not be negative")
	}
	return collect("main", problems)
}

func validateDetectorSettings(s *DetectorSettings) error {
	var problems []string

	switch s.Source {
	case SourceJSONL:
		if s.Input == "" {
			problems = append(problems, "input is required for the jsonl source")
		}
	case SourceProcess:
		if s.Command == "" {
			problems = append(problems, "command is required for the process source")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown source %q, use %q or %q", s.Source, SourceJSONL, SourceProcess))
	}

	for name, v := range map[string]float64{
		"confidence_threshold": s.ConfidenceThreshold,
		"model_confidence":     s.ModelConfidence,
		"iou_threshold":        s.IoUThreshold,
	} {
		if v < 0 || v > 1 {
			problems = append(problems, fmt.Sprintf("%s must be between 0 and 1, got %g", name, v))
		}
	}

	for name, v := range map[string]float64{
		"dwell_seconds":       s.DwellSeconds,
		"cooldown_seconds":    s.CooldownSeconds,
		"evict_after_seconds": s.EvictAfterSeconds,
	} {
		if v < 0 {
			problems = append(problems, fmt.Sprintf("%s must not be negative, got %g", name, v))
		}
	}

	if s.EvictAfterSeconds > 0 && s.EvictAfterSeconds < s.DwellSeconds {
		problems = append(problems, "evict_after_seconds must be 0 or at least dwell_seconds")
	}

	for _, id := range s.ClassFilter {
		if id < 0 {
			problems = append(problems, fmt.Sprintf("class_filter contains negative class id %d", id))
		}
	}

	// map iteration order is random
	slices.Sort(problems)
	return collect("detector", problems)
}

func validateLocationSettings(s *LocationSettings) error {
	var problems []string

	switch s.Provider {
	case LocationFile:
		if s.Path == "" {
			problems = append(problems, "path is required for the file provider")
		}
	case LocationStatic:
		if s.Latitude < -90 || s.Latitude > 90 {
			problems = append(problems, fmt.Sprintf("latitude must be between -90 and 90, got %g", s.Latitude))
		}
		if s.Longitude < -180 || s.Longitude > 180 {
			problems = append(problems, fmt.Sprintf("longitude must be between -180 and 180, got %g", s.Longitude))
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown provider %q, use %q or %q", s.Provider, LocationFile, LocationStatic))
	}

	return collect("location", problems)
}

func validateStoreSettings(s *StoreSettings) error {
	if s.Path == "" {
		return collect("store", []string{"path is required"})
	}
	return nil
}

func validateConnectivitySettings(s *ConnectivitySettings) error {
	var problems []string

	switch s.Probe {
	case ProbeHTTP:
		u, err := url.Parse(s.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			problems = append(problems, fmt.Sprintf("url %q must be an http or https URL", s.URL))
		}
	case ProbeTCP:
		if _, _, err := net.SplitHostPort(s.Address); err != nil {
			problems = append(problems, fmt.Sprintf("address %q must be host:port", s.Address))
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown probe %q, use %q or %q", s.Probe, ProbeHTTP, ProbeTCP))
	}

	if s.Timeout <= 0 {
		problems = append(problems, "timeout must be positive")
	}
	if s.CacheTTL < 0 {
		problems = append(problems, "cache_ttl must not be negative")
	}

	return collect("connectivity", problems)
}

func validateRelaySettings(s *RelaySettings) error {
	if !s.Enabled {
		return nil
	}

	var problems []string

	if s.Container == "" {
		problems = append(problems, "container is required")
	}
	if err := validateObjectPath(s.Object); err != nil {
		problems = append(problems, err.Error())
	}
	if s.Interval <= 0 {
		problems = append(problems, "interval must be positive")
	}
	if s.CursorPath == "" {
		problems = append(problems, "cursor_path is required")
	}

	switch s.Sink {
	case SinkLocal:
		if s.Local.Path == "" {
			problems = append(problems, "local.path is required")
		}
	case SinkGitHub:
		if s.GitHub.Token == "" {
			problems = append(problems, "github token is required, set WILDWATCH_RELAY_TOKEN")
		}
		if s.GitHub.APIURL == "" {
			problems = append(problems, "github.api_url is required")
		}
	case SinkS3:
		if s.S3.Endpoint == "" {
			problems = append(problems, "s3.endpoint is required")
		}
		if s.S3.AccessKeyID == "" || s.S3.SecretAccessKey == "" {
			problems = append(problems, "s3 credentials are required, set access_key_id and WILDWATCH_S3_SECRET_ACCESS_KEY")
		}
	case SinkSFTP:
		if s.SFTP.Host == "" || s.SFTP.Username == "" {
			problems = append(problems, "sftp.host and sftp.username are required")
		}
		if s.SFTP.Password == "" && s.SFTP.KeyFile == "" {
			problems = append(problems, "sftp needs a key_file or WILDWATCH_SFTP_PASSWORD")
		}
	case SinkFTP:
		if s.FTP.Host == "" {
			problems = append(problems, "ftp.host is required")
		}
	case SinkMQTT:
		if s.MQTT.Broker == "" {
			problems = append(problems, "mqtt.broker is required")
		}
		if s.MQTT.QoS < 0 || s.MQTT.QoS > 2 {
			problems = append(problems, fmt.Sprintf("mqtt.qos must be 0, 1 or 2, got %d", s.MQTT.QoS))
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown sink %q", s.Sink))
	}

	return collect("relay", problems)
}

// validateObjectPath rejects absolute paths and parent directory references
func validateObjectPath(object string) error {
	if object == "" {
		return fmt.Errorf("object is required")
	}
	if strings.HasPrefix(object, "/") || strings.Contains(object, "\\") {
		return fmt.Errorf("object %q must be a relative slash separated path", object)
	}
	for _, part := range strings.Split(path.Clean(object), "/") {
		if part == ".." {
			return fmt.Errorf("object %q must not reference parent directories", object)
		}
	}
	return nil
}

func validateNotificationSettings(s *NotificationSettings) error {
	if !s.Enabled {
		return nil
	}
	var errs []string
	if len(s.URLs) == 0 {
		errs = append(errs, "at least one URL is required, set WILDWATCH_NOTIFICATION_URLS")
	}
	if s.PerHour < 1 {
		errs = append(errs, fmt.Sprintf("per_hour must be at least 1, got %d", s.PerHour))
	}
	return collect("notification", errs)
}

func validateSentrySettings(s *SentrySettings) error {
	if s.Enabled && s.DSN == "" {
		return collect("sentry", []string{"dsn is required, set WILDWATCH_SENTRY_DSN"})
	}
	return nil
}

func validateWebServerSettings(s *WebServerSettings) error {
	if !s.Enabled {
		return nil
	}
	if _, _, err := net.SplitHostPort(s.Listen); err != nil {
		return collect("webserver", []string{fmt.Sprintf("listen %q must be host:port", s.Listen)})
	}
	return nil
}
