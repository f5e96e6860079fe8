// Package detection provides the per-frame detection model and the sources
// that produce it.
//
// A Source yields one Batch per processed frame. Sources are blocking and
// context-aware; io.EOF ends the stream. Malformed frames are reported as
// ErrMalformedFrame so the caller can log and keep reading.
package detection

import (
	"context"
	"fmt"

	"github.com/tphakala/wildwatch-go/internal/errors"
)

// ErrMalformedFrame marks a frame that could not be decoded. The source stays usable.
var ErrMalformedFrame = errors.NewStd("malformed detection frame")

// Box is an axis aligned bounding box in the detector's pixel coordinates.
// X and Y are the box centre, W and H its size.
type Box struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// RawDetection is one classified object in one frame.
type RawDetection struct {
	ClassID    int     `json:"class_id"`
	Confidence float64 `json:"confidence"`
	Box        Box     `json:"box"`
}

// Validate checks the detection is within the model's output domain.
func (d *RawDetection) Validate() error {
	if d.ClassID < 0 {
		return fmt.Errorf("class id %d is negative", d.ClassID)
	}
	if d.Confidence < 0 || d.Confidence > 1 {
		return fmt.Errorf("confidence %g outside [0,1]", d.Confidence)
	}
	return nil
}

// Batch holds every detection of one processed frame. An empty batch is a
// frame in which nothing was found.
type Batch struct {
	Frame      uint64         `json:"frame"`
	Detections []RawDetection `json:"detections"`
}

// Source produces detection batches.
type Source interface {
	// Next blocks until the next frame is available, ctx is done, or the
	// stream ends with io.EOF.
	Next(ctx context.Context) (Batch, error)
	// Close releases the source. It is safe to call more than once.
	Close() error
}

func malformed(frameLine int, cause error) error {
	return errors.New(fmt.Errorf("%w: line %d: %w", ErrMalformedFrame, frameLine, cause)).
		Component("detection").
		Category(errors.CategoryDetector).
		Priority(errors.PriorityLow).
		Context("line", frameLine).
		Build()
}
