// probe.go - reports connectivity, location and storage health
package probe

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/tphakala/wildwatch-go/internal/analysis"
	"github.com/tphakala/wildwatch-go/internal/conf"
	"github.com/tphakala/wildwatch-go/internal/monitor"
)

// Command creates the probe command. It exits with an error when the sink
// is unreachable so it can be used from scripts.
func Command(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "probe",
		Short: "Check connectivity, location and storage",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()

			printLocation(cmd, out, settings)
			printDisk(out, settings)

			client := analysis.NewHTTPClient(settings, nil)
			defer client.Close()
			mon := analysis.NewMonitor(&settings.Connectivity, client, nil)

			target := settings.Connectivity.URL
			if settings.Connectivity.Probe == conf.ProbeTCP {
				target = settings.Connectivity.Address
			}
			if !mon.Reachable(cmd.Context()) {
				_, _ = fmt.Fprintf(out, "connectivity: %s %s unreachable\n", settings.Connectivity.Probe, target)
				return fmt.Errorf("%s is unreachable", target)
			}
			_, _ = fmt.Fprintf(out, "connectivity: %s %s reachable\n", settings.Connectivity.Probe, target)
			return nil
		},
	}
}

func printLocation(cmd *cobra.Command, out io.Writer, settings *conf.Settings) {
	p, err := analysis.NewLocationProvider(&settings.Location)
	if err != nil {
		_, _ = fmt.Fprintf(out, "location:     invalid (%v)\n", err)
		return
	}
	c, err := p.Current(cmd.Context())
	if err != nil {
		_, _ = fmt.Fprintf(out, "location:     unavailable (%v)\n", err)
		return
	}
	_, _ = fmt.Fprintf(out, "location:     %s\n", c.String())
}

func printDisk(out io.Writer, settings *conf.Settings) {
	statuses, err := monitor.DiskStatus(monitor.StoragePaths(settings))
	if err != nil {
		_, _ = fmt.Fprintf(out, "disk:         unavailable (%v)\n", err)
		return
	}
	for i := range statuses {
		_, _ = fmt.Fprintf(out, "disk:         %s\n", statuses[i].String())
	}
}
