// realtime.go - runs the detection agent
package realtime

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tphakala/wildwatch-go/internal/analysis"
	"github.com/tphakala/wildwatch-go/internal/conf"
)

// Command creates the realtime command which runs the detection loop.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "realtime",
		Short: "Run real-time detection",
		Long: `Read detections from the configured source, confirm sightings, append them
to the event log and relay the log whenever the sink is reachable.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return analysis.RealtimeAnalysis(cmd.Context(), settings)
		},
	}

	if err := setupFlags(cmd, settings); err != nil {
		fmt.Printf("error setting up flags: %v\n", err)
	}

	return cmd
}

// setupFlags defines the flags for the realtime command. Each flag is bound
// to its config key, so an explicit flag overrides config and environment.
func setupFlags(cmd *cobra.Command, settings *conf.Settings) error {
	f := cmd.Flags()
	f.StringVar(&settings.Detector.Source, "source", "jsonl", "Detection source: jsonl or process")
	f.StringVarP(&settings.Detector.Input, "input", "i", "-", "JSONL detection file or FIFO, - for stdin")
	f.StringVar(&settings.Detector.Command, "detector", "", "Detector command for source process")
	f.StringVar(&settings.Detector.Labels, "labels", "data.yaml", "YOLO dataset file with class names")
	f.Float64VarP(&settings.Detector.ConfidenceThreshold, "threshold", "t", 0.6, "Minimum confidence for a detection to count")
	f.Float64Var(&settings.Detector.DwellSeconds, "dwell", 3, "Seconds a class must stay present before it is confirmed")
	f.Float64Var(&settings.Detector.CooldownSeconds, "cooldown", 5, "Minimum seconds between confirmations of one class")
	f.IntSliceVar(&settings.Detector.ClassFilter, "class", nil, "Only track these class ids (repeatable)")
	f.StringVar(&settings.Store.Path, "store", "detections.csv", "Event log path")
	f.BoolVar(&settings.Relay.Enabled, "relay", false, "Relay the event log to the configured sink")
	f.BoolVar(&settings.WebServer.Enabled, "web", false, "Serve status and metrics over HTTP")
	f.StringVar(&settings.WebServer.Listen, "listen", "127.0.0.1:8090", "Status server listen address")

	bindings := map[string]string{
		"source":    "detector.source",
		"input":     "detector.input",
		"detector":  "detector.command",
		"labels":    "detector.labels",
		"threshold": "detector.confidence_threshold",
		"dwell":     "detector.dwell_seconds",
		"cooldown":  "detector.cooldown_seconds",
		"class":     "detector.class_filter",
		"store":     "store.path",
		"relay":     "relay.enabled",
		"web":       "webserver.enabled",
		"listen":    "webserver.listen",
	}
	for flag, key := range bindings {
		if err := viper.BindPFlag(key, f.Lookup(flag)); err != nil {
			return fmt.Errorf("error binding flag %s: %w", flag, err)
		}
	}
	return nil
}
