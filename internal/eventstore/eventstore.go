// Package eventstore is the durable, append-only CSV log of confirmed
// sightings.
//
// The file always starts with the fixed header. Rows are appended with a
// single write followed by fsync, and a torn trailing row left by a crash is
// trimmed on the next Open, so readers only ever see complete rows.
package eventstore

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/tphakala/wildwatch-go/internal/detection"
	"github.com/tphakala/wildwatch-go/internal/errors"
	"github.com/tphakala/wildwatch-go/internal/fsutil"
	"github.com/tphakala/wildwatch-go/internal/location"
	"github.com/tphakala/wildwatch-go/internal/logger"
)

// TimeLayout is RFC 3339 in UTC with microsecond precision.
const TimeLayout = "2006-01-02T15:04:05.000000Z07:00"

// Header is the fixed first record of every store file.
var Header = []string{
	"datetime", "class_name", "confidence",
	"bbox_x", "bbox_y", "bbox_w", "bbox_h",
	"location_lat", "location_lon",
}

// Event is one persisted sighting row.
type Event struct {
	Timestamp  time.Time            `json:"timestamp"`
	ClassName  string               `json:"class_name"`
	Confidence float64              `json:"confidence"`
	Box        detection.Box        `json:"box"`
	Location   location.Coordinates `json:"location"`
}

// Record renders the event as a CSV record.
func (e *Event) Record() []string {
	return []string{
		e.Timestamp.UTC().Format(TimeLayout),
		e.ClassName,
		strconv.FormatFloat(e.Confidence, 'f', 2, 64),
		formatFloat(e.Box.X),
		formatFloat(e.Box.Y),
		formatFloat(e.Box.W),
		formatFloat(e.Box.H),
		formatFloat(e.Location.Latitude),
		formatFloat(e.Location.Longitude),
	}
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// ParseRecord is the inverse of Record.
func ParseRecord(rec []string) (Event, error) {
	if len(rec) != len(Header) {
		return Event{}, fmt.Errorf("expected %d fields, got %d", len(Header), len(rec))
	}

	ts, err := time.Parse(time.RFC3339Nano, rec[0])
	if err != nil {
		return Event{}, fmt.Errorf("datetime: %w", err)
	}

	nums := make([]float64, 0, len(rec)-2)
	for i, field := range rec[2:] {
		v, err := strconv.ParseFloat(field, 64)
		if err != nil {
			return Event{}, fmt.Errorf("%s: %w", Header[i+2], err)
		}
		nums = append(nums, v)
	}

	return Event{
		Timestamp:  ts.UTC(),
		ClassName:  rec[1],
		Confidence: nums[0],
		Box:        detection.Box{X: nums[1], Y: nums[2], W: nums[3], H: nums[4]},
		Location:   location.Coordinates{Latitude: nums[5], Longitude: nums[6]},
	}, nil
}

// SpaceGuard vets a pending write against the free space at path.
type SpaceGuard interface {
	Check(path string, size int) error
}

// Option configures a Store.
type Option func(*Store)

// WithSpaceGuard rejects appends when the guard reports too little space.
func WithSpaceGuard(g SpaceGuard) Option {
	return func(s *Store) { s.guard = g }
}

// WithLogger overrides the module logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Store) { s.log = l }
}

// Store is a single-writer append-only event log. Appends and snapshots are
// serialized so a reader never observes a half-written row.
type Store struct {
	mu    sync.Mutex
	path  string
	file  *os.File
	size  int64
	count int
	guard SpaceGuard
	log   logger.Logger
}

// Open creates the store at path if needed and opens it for appending.
// Opening an existing store is idempotent.
func Open(path string, opts ...Option) (*Store, error) {
	s := &Store{path: path, log: logger.Global().Module("eventstore")}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.ensureHeader(); err != nil {
		return nil, err
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_APPEND, fsutil.FilePermissions) //nolint:gosec // G304: operator-configured store path
	if err != nil {
		return nil, persistenceError("open", path, err)
	}
	s.file = f

	if err := s.load(); err != nil {
		_ = f.Close()
		return nil, err
	}

	s.log.Info("event store opened",
		logger.String("path", path),
		logger.Int("events", s.count),
		logger.Int64("size", s.size))
	return s, nil
}

// ensureHeader atomically creates the file with its header when missing or empty
func (s *Store) ensureHeader() error {
	info, err := os.Stat(s.path)
	switch {
	case err == nil && info.Size() > 0:
		return nil
	case err != nil && !os.IsNotExist(err):
		return persistenceError("stat", s.path, err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), fsutil.DirPermissions); err != nil {
		return persistenceError("mkdir", s.path, err)
	}

	header, err := encodeRecord(Header)
	if err != nil {
		return persistenceError("encode header", s.path, err)
	}
	if err := fsutil.WriteBytesAtomic(s.path, header, fsutil.FilePermissions); err != nil {
		return persistenceError("create", s.path, err)
	}
	return nil
}

// load verifies the header, trims a torn trailing row and counts rows
func (s *Store) load() error {
	data, err := io.ReadAll(s.file)
	if err != nil {
		return persistenceError("read", s.path, err)
	}

	headerLen := bytes.IndexByte(data, '\n')
	if headerLen < 0 {
		return s.corrupt("missing header line")
	}
	got, err := csv.NewReader(bytes.NewReader(data[:headerLen+1])).Read()
	if err != nil || !slices.Equal(got, Header) {
		return s.corrupt(fmt.Sprintf("unexpected header %q", data[:headerLen]))
	}

	complete := int64(bytes.LastIndexByte(data, '\n') + 1)
	if complete < int64(len(data)) {
		s.log.Warn("trimming torn row left by an interrupted append",
			logger.String("path", s.path),
			logger.Int64("bytes", int64(len(data))-complete))
		if err := s.file.Truncate(complete); err != nil {
			return persistenceError("repair", s.path, err)
		}
		if err := s.file.Sync(); err != nil {
			return persistenceError("repair", s.path, err)
		}
		data = data[:complete]
	}

	n, err := countRecords(data[headerLen+1:])
	if err != nil {
		return s.corrupt(fmt.Sprintf("unreadable row: %v", err))
	}
	s.size = complete
	s.count = n
	return nil
}

// countRecords counts CSV rows in body. Quoted fields may span lines.
func countRecords(body []byte) (int, error) {
	r := csv.NewReader(bytes.NewReader(body))
	r.FieldsPerRecord = -1
	r.ReuseRecord = true

	n := 0
	for {
		_, err := r.Read()
		if err == io.EOF {
			return n, nil
		}
		if err != nil {
			return n, err
		}
		n++
	}
}

func (s *Store) corrupt(reason string) error {
	return errors.Newf("event store %s: %s", s.path, reason).
		Component("eventstore").
		Category(errors.CategoryFileParsing).
		Priority(errors.PriorityCritical).
		FileContext(s.path, 0).
		Build()
}

// Append durably adds one event. When Append returns nil the row has been
// synced; on error the file is left as it was before the call.
func (s *Store) Append(ev *Event) error {
	row, err := encodeRecord(ev.Record())
	if err != nil {
		return persistenceError("encode", s.path, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return persistenceError("append", s.path, os.ErrClosed)
	}

	if s.guard != nil {
		if err := s.guard.Check(s.path, len(row)); err != nil {
			return errors.New(err).
				Component("eventstore").
				Category(errors.CategoryDiskUsage).
				Priority(errors.PriorityCritical).
				FileContext(s.path, s.size).
				Build()
		}
	}

	n, err := s.file.Write(row)
	if err == nil && n != len(row) {
		err = io.ErrShortWrite
	}
	if err == nil {
		err = s.file.Sync()
	}
	if err != nil {
		s.rollback()
		return persistenceError("append", s.path, err)
	}

	s.size += int64(n)
	s.count++
	return nil
}

// rollback truncates a partially appended row
func (s *Store) rollback() {
	if err := s.file.Truncate(s.size); err != nil {
		s.log.Error("failed to roll back partial append",
			logger.String("path", s.path),
			logger.Error(err))
		return
	}
	_ = s.file.Sync()
}

// Snapshot returns a consistent copy of the file content.
func (s *Store) Snapshot() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, readError(s.path, err)
	}
	if s.file != nil && int64(len(data)) > s.size {
		data = data[:s.size]
	}
	return data, nil
}

// ReadAll returns the header followed by every row.
func (s *Store) ReadAll() ([][]string, error) {
	data, err := s.Snapshot()
	if err != nil {
		return nil, err
	}

	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = len(Header)
	records, err := r.ReadAll()
	if err != nil {
		return nil, errors.New(fmt.Errorf("parse event store: %w", err)).
			Component("eventstore").
			Category(errors.CategoryFileParsing).
			FileContext(s.path, int64(len(data))).
			Build()
	}
	return records, nil
}

// Events returns every row decoded, oldest first.
func (s *Store) Events() ([]Event, error) {
	records, err := s.ReadAll()
	if err != nil {
		return nil, err
	}

	events := make([]Event, 0, len(records)-1)
	for i, rec := range records[1:] {
		ev, err := ParseRecord(rec)
		if err != nil {
			return nil, errors.New(fmt.Errorf("row %d: %w", i+1, err)).
				Component("eventstore").
				Category(errors.CategoryFileParsing).
				FileContext(s.path, 0).
				Build()
		}
		events = append(events, ev)
	}
	return events, nil
}

// Count returns the number of rows excluding the header.
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

// Path returns the store file path.
func (s *Store) Path() string {
	return s.path
}

// Close releases the file handle. Further appends fail.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}

func encodeRecord(rec []string) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(rec); err != nil {
		return nil, err
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}

func persistenceError(op, path string, err error) error {
	return errors.New(fmt.Errorf("event store %s: %w", op, err)).
		Component("eventstore").
		Category(errors.CategoryPersistence).
		Priority(errors.PriorityCritical).
		Context("operation", op).
		FileContext(path, 0).
		Build()
}

func readError(path string, err error) error {
	category := errors.CategoryFileIO
	if os.IsNotExist(err) {
		category = errors.CategoryNotFound
	}
	return errors.New(fmt.Errorf("read event store: %w", err)).
		Component("eventstore").
		Category(category).
		FileContext(path, 0).
		Build()
}
