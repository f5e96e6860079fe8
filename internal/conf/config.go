// config.go: settings structure for the WildWatch agent and functions to load it.
package conf

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/viper"

	"github.com/tphakala/wildwatch-go/internal/errors"
	"github.com/tphakala/wildwatch-go/internal/logger"
)

//go:embed config.yaml
var configFiles embed.FS

// MainSettings contains agent identity and loop pacing.
type MainSettings struct {
	Name         string        `mapstructure:"name" yaml:"name"`                   // device name, used in notifications
	LoopInterval time.Duration `mapstructure:"loop_interval" yaml:"loop_interval"` // sleep between loop iterations
}

// DetectorSettings configures the detection source and the debouncer.
type DetectorSettings struct {
	Source              string   `mapstructure:"source" yaml:"source"`                             // "jsonl" or "process"
	Input               string   `mapstructure:"input" yaml:"input"`                               // JSONL path, "-" for stdin
	Command             string   `mapstructure:"command" yaml:"command"`                           // external detector for "process"
	Args                []string `mapstructure:"args" yaml:"args"`                                 // extra detector arguments
	Labels              string   `mapstructure:"labels" yaml:"labels"`                             // YOLO data.yaml with class names
	ModelConfidence     float64  `mapstructure:"model_confidence" yaml:"model_confidence"`         // passed to the detector as --conf
	IoUThreshold        float64  `mapstructure:"iou_threshold" yaml:"iou_threshold"`               // passed to the detector as --iou
	ConfidenceThreshold float64  `mapstructure:"confidence_threshold" yaml:"confidence_threshold"` // debouncer acceptance gate
	DwellSeconds        float64  `mapstructure:"dwell_seconds" yaml:"dwell_seconds"`               // continuous presence before confirming
	CooldownSeconds     float64  `mapstructure:"cooldown_seconds" yaml:"cooldown_seconds"`         // minimum spacing between confirmations
	EvictAfterSeconds   float64  `mapstructure:"evict_after_seconds" yaml:"evict_after_seconds"`   // 0 keeps pending state forever
	ClassFilter         []int    `mapstructure:"class_filter" yaml:"class_filter"`                 // allow-list, empty allows all
}

// Dwell returns the dwell period as a duration.
func (d *DetectorSettings) Dwell() time.Duration { return secondsToDuration(d.DwellSeconds) }

// Cooldown returns the cooldown period as a duration.
func (d *DetectorSettings) Cooldown() time.Duration { return secondsToDuration(d.CooldownSeconds) }

// EvictAfter returns the eviction TTL as a duration.
func (d *DetectorSettings) EvictAfter() time.Duration { return secondsToDuration(d.EvictAfterSeconds) }

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// LocationSettings configures where device coordinates come from.
type LocationSettings struct {
	Provider  string  `mapstructure:"provider" yaml:"provider"` // "file" or "static"
	Path      string  `mapstructure:"path" yaml:"path"`         // file with a single "lat,lon" line
	Latitude  float64 `mapstructure:"latitude" yaml:"latitude"`
	Longitude float64 `mapstructure:"longitude" yaml:"longitude"`
}

// StoreSettings configures the local event log.
type StoreSettings struct {
	Path      string `mapstructure:"path" yaml:"path"`               // CSV event log
	MinFreeMB uint64 `mapstructure:"min_free_mb" yaml:"min_free_mb"` // 0 disables the disk guard
}

// ConnectivitySettings configures the reachability probe.
type ConnectivitySettings struct {
	Probe    string        `mapstructure:"probe" yaml:"probe"`       // "http" or "tcp"
	URL      string        `mapstructure:"url" yaml:"url"`           // HEAD target for "http"
	Address  string        `mapstructure:"address" yaml:"address"`   // host:port for "tcp"
	Timeout  time.Duration `mapstructure:"timeout" yaml:"timeout"`   // upper bound for one probe
	CacheTTL time.Duration `mapstructure:"cache_ttl" yaml:"cache_ttl"` // 0 probes every iteration
}

// GitHubSinkSettings configures the GitHub contents API sink.
type GitHubSinkSettings struct {
	APIURL         string        `mapstructure:"api_url" yaml:"api_url"`
	Owner          string        `mapstructure:"owner" yaml:"owner"`
	Branch         string        `mapstructure:"branch" yaml:"branch"`
	Private        bool          `mapstructure:"private" yaml:"private"`
	Token          string        `mapstructure:"token" yaml:"-"` // injected via WILDWATCH_RELAY_TOKEN
	CommitterName  string        `mapstructure:"committer_name" yaml:"committer_name"`
	CommitterEmail string        `mapstructure:"committer_email" yaml:"committer_email"`
	Timeout        time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// S3SinkSettings configures an S3 compatible object store sink.
type S3SinkSettings struct {
	Endpoint        string `mapstructure:"endpoint" yaml:"endpoint"`
	Region          string `mapstructure:"region" yaml:"region"`
	AccessKeyID     string `mapstructure:"access_key_id" yaml:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key" yaml:"-"`
	UseSSL          bool   `mapstructure:"use_ssl" yaml:"use_ssl"`
}

// SFTPSinkSettings configures the SFTP sink.
type SFTPSinkSettings struct {
	Host           string        `mapstructure:"host" yaml:"host"`
	Port           int           `mapstructure:"port" yaml:"port"`
	Username       string        `mapstructure:"username" yaml:"username"`
	Password       string        `mapstructure:"password" yaml:"-"`
	KeyFile        string        `mapstructure:"key_file" yaml:"key_file"`
	KnownHostsFile string        `mapstructure:"known_hosts_file" yaml:"known_hosts_file"`
	BasePath       string        `mapstructure:"base_path" yaml:"base_path"`
	Timeout        time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// FTPSinkSettings configures the FTP sink.
type FTPSinkSettings struct {
	Host     string        `mapstructure:"host" yaml:"host"`
	Port     int           `mapstructure:"port" yaml:"port"`
	Username string        `mapstructure:"username" yaml:"username"`
	Password string        `mapstructure:"password" yaml:"-"`
	BasePath string        `mapstructure:"base_path" yaml:"base_path"`
	Timeout  time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// MQTTSinkSettings configures the MQTT retained-message sink.
type MQTTSinkSettings struct {
	Broker   string        `mapstructure:"broker" yaml:"broker"`
	ClientID string        `mapstructure:"client_id" yaml:"client_id"`
	Username string        `mapstructure:"username" yaml:"username"`
	Password string        `mapstructure:"password" yaml:"-"`
	QoS      int           `mapstructure:"qos" yaml:"qos"`
	Timeout  time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// LocalSinkSettings configures the directory sink.
type LocalSinkSettings struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// RelaySettings configures delivery of the event log to the remote sink.
type RelaySettings struct {
	Enabled    bool               `mapstructure:"enabled" yaml:"enabled"`
	Sink       string             `mapstructure:"sink" yaml:"sink"` // local, github, s3, sftp, ftp, mqtt
	Container  string             `mapstructure:"container" yaml:"container"`
	Object     string             `mapstructure:"object" yaml:"object"`
	Interval   time.Duration      `mapstructure:"interval" yaml:"interval"` // minimum spacing between relay runs
	Timeout    time.Duration      `mapstructure:"timeout" yaml:"timeout"`   // bound for one relay run
	CursorPath string             `mapstructure:"cursor_path" yaml:"cursor_path"`
	GitHub     GitHubSinkSettings `mapstructure:"github" yaml:"github"`
	S3         S3SinkSettings     `mapstructure:"s3" yaml:"s3"`
	SFTP       SFTPSinkSettings   `mapstructure:"sftp" yaml:"sftp"`
	FTP        FTPSinkSettings    `mapstructure:"ftp" yaml:"ftp"`
	MQTT       MQTTSinkSettings   `mapstructure:"mqtt" yaml:"mqtt"`
	Local      LocalSinkSettings  `mapstructure:"local" yaml:"local"`
}

// NotificationSettings configures push notifications for confirmed sightings.
type NotificationSettings struct {
	Enabled bool          `mapstructure:"enabled" yaml:"enabled"`
	URLs    []string      `mapstructure:"urls" yaml:"-"` // shoutrrr service URLs embed credentials
	Title   string        `mapstructure:"title" yaml:"title"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
	PerHour int           `mapstructure:"per_hour" yaml:"per_hour"` // cap on messages sent per hour
}

// SentrySettings configures opt-in error reporting.
type SentrySettings struct {
	Enabled     bool   `mapstructure:"enabled" yaml:"enabled"`
	DSN         string `mapstructure:"dsn" yaml:"-"`
	Environment string `mapstructure:"environment" yaml:"environment"`
}

// WebServerSettings configures the optional status and metrics server.
type WebServerSettings struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Listen  string `mapstructure:"listen" yaml:"listen"`
}

// Settings contains all configuration options for the agent.
type Settings struct {
	Debug bool `mapstructure:"debug" yaml:"debug"`

	Main         MainSettings         `mapstructure:"main" yaml:"main"`
	Logging      logger.LoggingConfig `mapstructure:"logging" yaml:"logging"`
	Detector     DetectorSettings     `mapstructure:"detector" yaml:"detector"`
	Location     LocationSettings     `mapstructure:"location" yaml:"location"`
	Store        StoreSettings        `mapstructure:"store" yaml:"store"`
	Connectivity ConnectivitySettings `mapstructure:"connectivity" yaml:"connectivity"`
	Relay        RelaySettings        `mapstructure:"relay" yaml:"relay"`
	Notification NotificationSettings `mapstructure:"notification" yaml:"notification"`
	Sentry       SentrySettings       `mapstructure:"sentry" yaml:"sentry"`
	WebServer    WebServerSettings    `mapstructure:"webserver" yaml:"webserver"`

	Version string `mapstructure:"-" yaml:"-"` // version from build
}

var (
	settingsInstance *Settings
	settingsMutex    sync.RWMutex
	configFile       string
)

// SetConfigFile overrides the config search paths with an explicit file.
func SetConfigFile(path string) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()
	configFile = path
}

// Load reads the configuration file and environment variables into Settings.
func Load() (*Settings, error) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()

	settings := &Settings{}

	if err := initViper(); err != nil {
		return nil, fmt.Errorf("error initializing viper: %w", err)
	}

	if err := viper.Unmarshal(settings); err != nil {
		return nil, errors.New(err).
			Category(errors.CategoryConfiguration).
			Context("operation", "unmarshal_config").
			Build()
	}

	if err := ValidateSettings(settings); err != nil {
		return nil, fmt.Errorf("error validating settings: %w", err)
	}

	settingsInstance = settings
	return settingsInstance, nil
}

// initViper initializes viper with default values and reads the configuration file.
func initViper() error {
	viper.SetConfigType("yaml")

	setDefaultConfig()

	if err := configureEnvironmentVariables(); err != nil {
		return err
	}

	if configFile != "" {
		viper.SetConfigFile(configFile)
		if err := viper.ReadInConfig(); err != nil {
			return fmt.Errorf("fatal error reading config file %s: %w", configFile, err)
		}
		return nil
	}

	viper.SetConfigName("config")
	configPaths, err := GetDefaultConfigPaths()
	if err != nil {
		return fmt.Errorf("error getting default config paths: %w", err)
	}
	for _, path := range configPaths {
		viper.AddConfigPath(path)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if errors.As(err, &configFileNotFoundError) {
			return createDefaultConfig(configPaths[0])
		}
		return fmt.Errorf("fatal error reading config file: %w", err)
	}

	return nil
}

// GetDefaultConfigPaths returns the directories searched for config.yaml, in order.
func GetDefaultConfigPaths() ([]string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, errors.New(err).
			Category(errors.CategorySystem).
			Context("operation", "get_home_directory").
			Build()
	}

	return []string{
		".",
		filepath.Join(homeDir, ".config", "wildwatch"),
		"/etc/wildwatch",
	}, nil
}

// createDefaultConfig writes the embedded default config into dir and reads it back
func createDefaultConfig(dir string) error {
	configPath := filepath.Join(dir, "config.yaml")

	defaultConfig, err := getDefaultConfig()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return fmt.Errorf("error creating directories for config file: %w", err)
	}

	if err := os.WriteFile(configPath, defaultConfig, 0o644); err != nil {
		return fmt.Errorf("error writing default config file: %w", err)
	}

	logger.Global().Module("conf").Info("created default config file", logger.String("path", configPath))
	viper.SetConfigFile(configPath)
	return viper.ReadInConfig()
}

// getDefaultConfig reads the default configuration from the embedded config.yaml file.
func getDefaultConfig() ([]byte, error) {
	data, err := fs.ReadFile(configFiles, "config.yaml")
	if err != nil {
		return nil, fmt.Errorf("error reading embedded config: %w", err)
	}
	return data, nil
}

// GetSettings returns the current settings instance
func GetSettings() *Settings {
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()
	return settingsInstance
}
