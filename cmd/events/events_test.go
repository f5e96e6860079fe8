package events

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/wildwatch-go/internal/conf"
	"github.com/tphakala/wildwatch-go/internal/detection"
	"github.com/tphakala/wildwatch-go/internal/eventstore"
	"github.com/tphakala/wildwatch-go/internal/location"
)

func seedStore(t *testing.T) *conf.Settings {
	t.Helper()
	s := &conf.Settings{}
	s.Store.Path = filepath.Join(t.TempDir(), "detections.csv")

	store, err := eventstore.Open(s.Store.Path)
	require.NoError(t, err)
	base := time.Date(2026, 10, 14, 6, 30, 0, 0, time.UTC)
	for i, class := range []string{"Koala", "Emu", "Koala"} {
		ev := eventstore.Event{
			Timestamp:  base.Add(time.Duration(i) * time.Minute),
			ClassName:  class,
			Confidence: 0.7 + float64(i)/10,
			Box:        detection.Box{X: 320, Y: 240, W: 60, H: 80},
			Location:   location.Coordinates{Latitude: -27.4698, Longitude: 153.0251},
		}
		require.NoError(t, store.Append(&ev))
	}
	require.NoError(t, store.Close())
	return s
}

func execute(t *testing.T, settings *conf.Settings, args ...string) (string, error) {
	t.Helper()
	cmd := Command(settings)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestEventsTable(t *testing.T) {
	t.Parallel()

	out, err := execute(t, seedStore(t))
	require.NoError(t, err)
	assert.Contains(t, out, "TIME")
	assert.Contains(t, out, "2026-10-14 06:31:00  Emu")
	assert.Contains(t, out, "-27.4698,153.0251")
	assert.True(t, strings.HasSuffix(out, "3 sighting(s)\n"))
}

func TestEventsJSONFilteredByClass(t *testing.T) {
	t.Parallel()

	out, err := execute(t, seedStore(t), "--format", "json", "--class", "koala")
	require.NoError(t, err)

	var evs []eventstore.Event
	require.NoError(t, json.Unmarshal([]byte(out), &evs))
	require.Len(t, evs, 2)
	assert.Equal(t, "Koala", evs[1].ClassName)
	assert.InDelta(t, 0.9, evs[1].Confidence, 1e-9)
}

func TestEventsCSVWithLimit(t *testing.T) {
	t.Parallel()

	out, err := execute(t, seedStore(t), "-f", "csv", "-n", "1")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, strings.Join(eventstore.Header, ","), lines[0])
	assert.True(t, strings.HasPrefix(lines[1], "2026-10-14T06:32:00.000000Z,Koala,0.90,"))
}

func TestEventsEmptyJSONIsArray(t *testing.T) {
	t.Parallel()

	s := &conf.Settings{}
	s.Store.Path = filepath.Join(t.TempDir(), "detections.csv")
	out, err := execute(t, s, "--format", "json")
	require.NoError(t, err)
	assert.JSONEq(t, "[]", out)
}

func TestEventsUnknownFormat(t *testing.T) {
	t.Parallel()

	_, err := execute(t, seedStore(t), "--format", "xml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown format")
}
