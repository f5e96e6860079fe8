package detection

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
)

// maxLineBytes bounds one JSONL frame; a busy frame with a few hundred boxes stays well below it.
const maxLineBytes = 1 << 20

// wireDetection is the JSON shape emitted by the detector wrapper. The box is
// an [x, y, w, h] array as produced by YOLO xywh output.
type wireDetection struct {
	ClassID    *int       `json:"class_id"`
	Confidence *float64   `json:"confidence"`
	Box        [4]float64 `json:"box"`
}

type wireBatch struct {
	Frame      *uint64         `json:"frame"`
	Detections []wireDetection `json:"detections"`
}

type lineResult struct {
	batch Batch
	err   error
}

// JSONLSource decodes one JSON object per line from a reader.
//
// A background goroutine owns the reader so Next can honour context
// cancellation while a read is blocked on a pipe or FIFO.
type JSONLSource struct {
	reader  io.Reader
	results chan lineResult
	done    chan struct{}

	startOnce sync.Once
	closeOnce sync.Once
	closer    io.Closer
	frame     uint64
}

// NewJSONLSource creates a source over r. If r is an io.Closer it is closed by Close.
func NewJSONLSource(r io.Reader) *JSONLSource {
	s := &JSONLSource{
		reader:  r,
		results: make(chan lineResult),
		done:    make(chan struct{}),
	}
	if c, ok := r.(io.Closer); ok {
		s.closer = c
	}
	return s
}

func (s *JSONLSource) start() {
	s.startOnce.Do(func() {
		go s.readLoop()
	})
}

func (s *JSONLSource) readLoop() {
	defer close(s.results)

	r := bufio.NewReaderSize(s.reader, 64*1024)
	var buf []byte
	line := 0
	for {
		raw, tooLong, err := readLine(r, buf[:0])
		buf = raw
		if err != nil && len(raw) == 0 && !tooLong {
			s.send(lineResult{err: err})
			return
		}

		line++
		if len(raw) > 0 || tooLong {
			var res lineResult
			if tooLong {
				res.err = malformed(line, fmt.Errorf("frame exceeds %d bytes", maxLineBytes))
			} else {
				res.batch, res.err = s.decode(raw, line)
			}
			if !s.send(res) {
				return
			}
		}

		if err != nil {
			s.send(lineResult{err: err})
			return
		}
	}
}

// send hands res to Next and reports false once the source is closed.
func (s *JSONLSource) send(res lineResult) bool {
	select {
	case s.results <- res:
		return true
	case <-s.done:
		return false
	}
}

// readLine appends the next line to buf without its terminator. A line
// longer than maxLineBytes is consumed to its end, dropped, and reported
// with tooLong set so the reader stays aligned on the following frame.
func readLine(r *bufio.Reader, buf []byte) (line []byte, tooLong bool, err error) {
	for {
		chunk, rerr := r.ReadSlice('\n')
		if !tooLong {
			if len(buf)+len(chunk) > maxLineBytes+2 {
				tooLong = true
				buf = buf[:0]
			} else {
				buf = append(buf, chunk...)
			}
		}
		if rerr == bufio.ErrBufferFull {
			continue
		}
		err = rerr
		break
	}

	buf = bytes.TrimRight(buf, "\r\n")
	if len(buf) > maxLineBytes {
		tooLong = true
		buf = buf[:0]
	}
	return buf, tooLong, err
}

func (s *JSONLSource) decode(raw []byte, line int) (Batch, error) {
	var wb wireBatch
	if err := json.Unmarshal(raw, &wb); err != nil {
		return Batch{}, malformed(line, err)
	}

	// Frames without a number are counted locally
	s.frame++
	if wb.Frame != nil {
		s.frame = *wb.Frame
	}

	batch := Batch{Frame: s.frame, Detections: make([]RawDetection, 0, len(wb.Detections))}
	for i, wd := range wb.Detections {
		if wd.ClassID == nil || wd.Confidence == nil {
			return Batch{}, malformed(line, fmt.Errorf("detection %d is missing class_id or confidence", i))
		}
		d := RawDetection{
			ClassID:    *wd.ClassID,
			Confidence: *wd.Confidence,
			Box:        Box{X: wd.Box[0], Y: wd.Box[1], W: wd.Box[2], H: wd.Box[3]},
		}
		if err := d.Validate(); err != nil {
			return Batch{}, malformed(line, fmt.Errorf("detection %d: %w", i, err))
		}
		batch.Detections = append(batch.Detections, d)
	}

	return batch, nil
}

// Next returns the next decoded frame.
func (s *JSONLSource) Next(ctx context.Context) (Batch, error) {
	s.start()

	select {
	case <-ctx.Done():
		return Batch{}, ctx.Err()
	case res, ok := <-s.results:
		if !ok {
			return Batch{}, io.EOF
		}
		return res.batch, res.err
	}
}

// Close stops the reader goroutine and closes the underlying reader.
func (s *JSONLSource) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		if s.closer != nil {
			err = s.closer.Close()
		}
	})
	return err
}
