// conf/defaults.go default values for settings
package conf

import (
	"time"

	"github.com/spf13/viper"
)

// Sets default values for the configuration.
func setDefaultConfig() {
	viper.SetDefault("debug", false)

	viper.SetDefault("main.name", "wildwatch")
	viper.SetDefault("main.loop_interval", 1*time.Second)

	viper.SetDefault("logging.default_level", "info")
	viper.SetDefault("logging.timezone", "Local")
	viper.SetDefault("logging.console.enabled", true)
	viper.SetDefault("logging.console.level", "info")
	viper.SetDefault("logging.file_output.enabled", false)
	viper.SetDefault("logging.file_output.path", "logs/wildwatch.log")
	viper.SetDefault("logging.file_output.level", "info")

	viper.SetDefault("detector.source", "jsonl")
	viper.SetDefault("detector.input", "-")
	viper.SetDefault("detector.command", "")
	viper.SetDefault("detector.args", []string{})
	viper.SetDefault("detector.labels", "data.yaml")
	viper.SetDefault("detector.model_confidence", 0.5)
	viper.SetDefault("detector.iou_threshold", 0.35)
	viper.SetDefault("detector.confidence_threshold", 0.6)
	viper.SetDefault("detector.dwell_seconds", 3)
	viper.SetDefault("detector.cooldown_seconds", 5)
	viper.SetDefault("detector.evict_after_seconds", 30)
	viper.SetDefault("detector.class_filter", []int{})

	viper.SetDefault("location.provider", "file")
	viper.SetDefault("location.path", "location.txt")
	viper.SetDefault("location.latitude", 0.0)
	viper.SetDefault("location.longitude", 0.0)

	viper.SetDefault("store.path", "detections.csv")
	viper.SetDefault("store.min_free_mb", 50)

	viper.SetDefault("connectivity.probe", "http")
	viper.SetDefault("connectivity.url", "https://api.github.com")
	viper.SetDefault("connectivity.address", "1.1.1.1:443")
	viper.SetDefault("connectivity.timeout", 5*time.Second)
	viper.SetDefault("connectivity.cache_ttl", 30*time.Second)

	viper.SetDefault("relay.enabled", false)
	viper.SetDefault("relay.sink", "local")
	viper.SetDefault("relay.container", "wildwatch-events")
	viper.SetDefault("relay.object", "detections.csv")
	viper.SetDefault("relay.interval", 5*time.Minute)
	viper.SetDefault("relay.timeout", 2*time.Minute)
	viper.SetDefault("relay.cursor_path", "relay-cursor.json")

	viper.SetDefault("relay.github.api_url", "https://api.github.com")
	viper.SetDefault("relay.github.owner", "")
	viper.SetDefault("relay.github.branch", "")
	viper.SetDefault("relay.github.private", true)
	viper.SetDefault("relay.github.committer_name", "wildwatch")
	viper.SetDefault("relay.github.committer_email", "wildwatch@localhost")
	viper.SetDefault("relay.github.timeout", 30*time.Second)

	viper.SetDefault("relay.s3.endpoint", "")
	viper.SetDefault("relay.s3.region", "")
	viper.SetDefault("relay.s3.access_key_id", "")
	viper.SetDefault("relay.s3.use_ssl", true)

	viper.SetDefault("relay.sftp.host", "")
	viper.SetDefault("relay.sftp.port", 22)
	viper.SetDefault("relay.sftp.username", "")
	viper.SetDefault("relay.sftp.key_file", "")
	viper.SetDefault("relay.sftp.known_hosts_file", "")
	viper.SetDefault("relay.sftp.base_path", "")
	viper.SetDefault("relay.sftp.timeout", 30*time.Second)

	viper.SetDefault("relay.ftp.host", "")
	viper.SetDefault("relay.ftp.port", 21)
	viper.SetDefault("relay.ftp.username", "")
	viper.SetDefault("relay.ftp.base_path", "")
	viper.SetDefault("relay.ftp.timeout", 30*time.Second)

	viper.SetDefault("relay.mqtt.broker", "")
	viper.SetDefault("relay.mqtt.client_id", "wildwatch")
	viper.SetDefault("relay.mqtt.username", "")
	viper.SetDefault("relay.mqtt.qos", 1)
	viper.SetDefault("relay.mqtt.timeout", 10*time.Second)

	viper.SetDefault("relay.local.path", "relay")

	viper.SetDefault("notification.enabled", false)
	viper.SetDefault("notification.urls", []string{})
	viper.SetDefault("notification.title", "WildWatch sighting")
	viper.SetDefault("notification.timeout", 10*time.Second)
	viper.SetDefault("notification.per_hour", 30)

	viper.SetDefault("sentry.enabled", false)
	viper.SetDefault("sentry.environment", "production")

	viper.SetDefault("webserver.enabled", false)
	viper.SetDefault("webserver.listen", "127.0.0.1:8090")
}
