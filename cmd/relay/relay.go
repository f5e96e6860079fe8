// relay.go - sends the event log to the sink once
package relay

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/tphakala/wildwatch-go/internal/analysis"
	"github.com/tphakala/wildwatch-go/internal/conf"
	"github.com/tphakala/wildwatch-go/internal/errors"
	"github.com/tphakala/wildwatch-go/internal/relay"
)

// Command creates the relay command which runs a single relay attempt.
func Command(settings *conf.Settings) *cobra.Command {
	var force, skipProbe bool

	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Relay the event log to the configured sink once",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !settings.Relay.Enabled {
				return errors.Newf("relay is disabled in the configuration").
					Component("cmd").
					Category(errors.CategoryConfiguration).
					Build()
			}

			store, err := analysis.OpenStore(settings)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			r, mon, closer, err := analysis.NewRelay(settings, store, nil)
			if err != nil {
				return err
			}
			defer func() { _ = closer.Close() }()

			if !skipProbe && !mon.Reachable(cmd.Context()) {
				return errors.Newf("sink is unreachable").
					Component("cmd").
					Category(errors.CategoryConnectivity).
					Build()
			}

			res := r.Run(cmd.Context(), force)
			printResult(cmd, settings, &res)
			if !res.OK() {
				return res.Err
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Transfer even when the content is unchanged since the last relay")
	cmd.Flags().BoolVar(&skipProbe, "skip-probe", false, "Do not check connectivity first")
	return cmd
}

func printResult(cmd *cobra.Command, settings *conf.Settings, res *relay.Result) {
	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(out, "attempt:   %s\n", res.AttemptID)
	_, _ = fmt.Fprintf(out, "sink:      %s\n", settings.Relay.Sink)
	_, _ = fmt.Fprintf(out, "container: %s (%s)\n", settings.Relay.Container, orDash(string(res.Container)))
	_, _ = fmt.Fprintf(out, "object:    %s (%s)\n", settings.Relay.Object, orDash(string(res.Object)))
	_, _ = fmt.Fprintf(out, "bytes:     %d of %d sent in %s\n", res.Sent, res.Size, res.Duration.Round(time.Millisecond))
	if res.Failed != relay.StepNone {
		_, _ = fmt.Fprintf(out, "failed at: %s\n", res.Failed)
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
