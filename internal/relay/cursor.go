package relay

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/tphakala/wildwatch-go/internal/fsutil"
)

// Cursor records what was last delivered to one sink object.
type Cursor struct {
	Sink        string    `json:"sink"`
	Container   string    `json:"container"`
	Object      string    `json:"object"`
	ContentHash string    `json:"content_hash"`
	Size        int       `json:"size"`
	DeliveredAt time.Time `json:"delivered_at"`
}

// matches reports whether the cursor describes the same destination
func (c *Cursor) matches(sink, container, object string) bool {
	return c.Sink == sink && c.Container == container && c.Object == object
}

// CursorFile persists a Cursor as JSON with atomic replacement. An empty
// path keeps the cursor in memory only.
type CursorFile struct {
	path string
	mem  *Cursor
}

// NewCursorFile creates a cursor store at path.
func NewCursorFile(path string) *CursorFile {
	return &CursorFile{path: path}
}

// Load returns the stored cursor, or nil when none exists yet.
func (f *CursorFile) Load() (*Cursor, error) {
	if f.path == "" {
		return f.mem, nil
	}

	data, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read relay cursor: %w", err)
	}

	var c Cursor
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("decode relay cursor %s: %w", f.path, err)
	}
	return &c, nil
}

// Save replaces the stored cursor.
func (f *CursorFile) Save(c *Cursor) error {
	if f.path == "" {
		cp := *c
		f.mem = &cp
		return nil
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("encode relay cursor: %w", err)
	}
	if err := fsutil.WriteBytesAtomic(f.path, data, fsutil.FilePermissions); err != nil {
		return fmt.Errorf("write relay cursor: %w", err)
	}
	return nil
}
