// Package location provides the device's current coordinates.
package location

import (
	"context"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/tphakala/wildwatch-go/internal/errors"
)

// Coordinates is a WGS84 position in decimal degrees.
type Coordinates struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// String renders the pair as "lat,lon".
func (c Coordinates) String() string {
	return strconv.FormatFloat(c.Latitude, 'f', -1, 64) + "," + strconv.FormatFloat(c.Longitude, 'f', -1, 64)
}

// Validate checks both values are finite and in range.
func (c Coordinates) Validate() error {
	if math.IsNaN(c.Latitude) || math.IsInf(c.Latitude, 0) || c.Latitude < -90 || c.Latitude > 90 {
		return fmt.Errorf("latitude %v out of range [-90,90]", c.Latitude)
	}
	if math.IsNaN(c.Longitude) || math.IsInf(c.Longitude, 0) || c.Longitude < -180 || c.Longitude > 180 {
		return fmt.Errorf("longitude %v out of range [-180,180]", c.Longitude)
	}
	return nil
}

// Provider returns the current device location.
type Provider interface {
	Current(ctx context.Context) (Coordinates, error)
}

// Parse decodes a "lat,lon" line. Surrounding whitespace and a trailing
// newline are accepted.
func Parse(s string) (Coordinates, error) {
	s = strings.TrimSpace(s)
	if strings.Contains(s, "\n") {
		return Coordinates{}, fmt.Errorf("expected a single \"lat,lon\" line")
	}

	latStr, lonStr, ok := strings.Cut(s, ",")
	if !ok {
		return Coordinates{}, fmt.Errorf("expected \"lat,lon\", got %q", s)
	}

	lat, err := strconv.ParseFloat(strings.TrimSpace(latStr), 64)
	if err != nil {
		return Coordinates{}, fmt.Errorf("invalid latitude %q: %w", latStr, err)
	}
	lon, err := strconv.ParseFloat(strings.TrimSpace(lonStr), 64)
	if err != nil {
		return Coordinates{}, fmt.Errorf("invalid longitude %q: %w", lonStr, err)
	}

	c := Coordinates{Latitude: lat, Longitude: lon}
	if err := c.Validate(); err != nil {
		return Coordinates{}, err
	}
	return c, nil
}

// FileProvider reads the location file on every call so an external GPS
// daemon can rewrite it at any time.
type FileProvider struct {
	path string
}

// NewFileProvider creates a provider for path.
func NewFileProvider(path string) *FileProvider {
	return &FileProvider{path: path}
}

// Path returns the watched file.
func (p *FileProvider) Path() string { return p.path }

// Current reads and parses the location file. A missing or malformed file is
// a critical error.
func (p *FileProvider) Current(_ context.Context) (Coordinates, error) {
	data, err := os.ReadFile(p.path) //nolint:gosec // G304: path is from operator config
	if err != nil {
		return Coordinates{}, errors.New(fmt.Errorf("read location file: %w", err)).
			Component("location").
			Category(errors.CategoryLocation).
			Priority(errors.PriorityCritical).
			FileContext(p.path, 0).
			Build()
	}

	c, err := Parse(string(data))
	if err != nil {
		return Coordinates{}, errors.New(fmt.Errorf("malformed location file: %w", err)).
			Component("location").
			Category(errors.CategoryValidation).
			Priority(errors.PriorityCritical).
			FileContext(p.path, int64(len(data))).
			Build()
	}
	return c, nil
}

// StaticProvider always returns the configured coordinates.
type StaticProvider struct {
	coords Coordinates
}

// NewStaticProvider validates c and returns a provider for it.
func NewStaticProvider(c Coordinates) (*StaticProvider, error) {
	if err := c.Validate(); err != nil {
		return nil, errors.New(err).
			Component("location").
			Category(errors.CategoryValidation).
			Build()
	}
	return &StaticProvider{coords: c}, nil
}

// Current returns the fixed coordinates.
func (p *StaticProvider) Current(context.Context) (Coordinates, error) {
	return p.coords, nil
}
