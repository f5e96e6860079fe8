package detection

import "context"

// FilterSource drops detections whose class is not in the allow-list.
// Frames are always forwarded, even when every detection was removed.
type FilterSource struct {
	Source
	allowed map[int]struct{}
}

// NewFilterSource wraps src. An empty allow-list passes everything through
// and returns src unchanged.
func NewFilterSource(src Source, classIDs []int) Source {
	if len(classIDs) == 0 {
		return src
	}
	allowed := make(map[int]struct{}, len(classIDs))
	for _, id := range classIDs {
		allowed[id] = struct{}{}
	}
	return &FilterSource{Source: src, allowed: allowed}
}

// Next returns the next batch with disallowed classes removed.
func (f *FilterSource) Next(ctx context.Context) (Batch, error) {
	batch, err := f.Source.Next(ctx)
	if err != nil {
		return batch, err
	}

	kept := batch.Detections[:0]
	for _, d := range batch.Detections {
		if _, ok := f.allowed[d.ClassID]; ok {
			kept = append(kept, d)
		}
	}
	batch.Detections = kept
	return batch, nil
}
