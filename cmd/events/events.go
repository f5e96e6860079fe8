// events.go - prints the local event log
package events

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/tphakala/wildwatch-go/internal/conf"
	"github.com/tphakala/wildwatch-go/internal/eventstore"
)

// Output formats
const (
	FormatTable = "table"
	FormatCSV   = "csv"
	FormatJSON  = "json"
)

// Command creates the events command.
func Command(settings *conf.Settings) *cobra.Command {
	var (
		format string
		class  string
		limit  int
	)

	cmd := &cobra.Command{
		Use:   "events",
		Short: "Print confirmed sightings from the event log",
		RunE: func(cmd *cobra.Command, args []string) error {
			switch format {
			case FormatTable, FormatCSV, FormatJSON:
			default:
				return fmt.Errorf("unknown format %q, use %s, %s or %s", format, FormatTable, FormatCSV, FormatJSON)
			}

			store, err := eventstore.Open(settings.Store.Path)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			evs, err := store.Events()
			if err != nil {
				return err
			}
			evs = filter(evs, class, limit)
			return write(cmd.OutOrStdout(), format, evs)
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", FormatTable, "Output format: table, csv or json")
	cmd.Flags().StringVar(&class, "class", "", "Only print sightings of this class (case insensitive)")
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Print only the last n sightings, 0 prints all")
	return cmd
}

// filter keeps events of class, then the last limit of them
func filter(evs []eventstore.Event, class string, limit int) []eventstore.Event {
	if class != "" {
		kept := evs[:0]
		for i := range evs {
			if strings.EqualFold(evs[i].ClassName, class) {
				kept = append(kept, evs[i])
			}
		}
		evs = kept
	}
	if limit > 0 && len(evs) > limit {
		evs = evs[len(evs)-limit:]
	}
	return evs
}

func write(w io.Writer, format string, evs []eventstore.Event) error {
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if evs == nil {
			evs = []eventstore.Event{}
		}
		return enc.Encode(evs)

	case FormatCSV:
		cw := csv.NewWriter(w)
		if err := cw.Write(eventstore.Header); err != nil {
			return err
		}
		for i := range evs {
			if err := cw.Write(evs[i].Record()); err != nil {
				return err
			}
		}
		cw.Flush()
		return cw.Error()

	default:
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintln(tw, "TIME\tCLASS\tCONFIDENCE\tLOCATION")
		for i := range evs {
			ev := &evs[i]
			_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
				ev.Timestamp.UTC().Format("2006-01-02 15:04:05"),
				ev.ClassName,
				strconv.FormatFloat(ev.Confidence, 'f', 2, 64),
				ev.Location.String())
		}
		if err := tw.Flush(); err != nil {
			return err
		}
		_, err := fmt.Fprintf(w, "%d sighting(s)\n", len(evs))
		return err
	}
}
