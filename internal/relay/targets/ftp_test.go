package targets

import (
	"context"
	"io"
	"net/textproto"
	"path"
	"strings"
	"testing"

	"github.com/jlaffaye/ftp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/wildwatch-go/internal/relay"
)

var errUnavailable = &textproto.Error{Code: ftp.StatusFileUnavailable, Msg: "No such file or directory"}

// fakeFTP emulates a server that refuses to rename over existing files
type fakeFTP struct {
	files   map[string][]byte
	dirs    map[string]bool
	cwd     string
	dead    bool
	quits   int
	storErr error
}

func newFakeFTP() *fakeFTP {
	return &fakeFTP{files: map[string][]byte{}, dirs: map[string]bool{"/": true}, cwd: "/"}
}

func (f *fakeFTP) abs(p string) string {
	if !strings.HasPrefix(p, "/") {
		p = path.Join(f.cwd, p)
	}
	return path.Clean(p)
}

func (f *fakeFTP) ReadFile(p string) ([]byte, error) {
	data, ok := f.files[f.abs(p)]
	if !ok {
		return nil, errUnavailable
	}
	return data, nil
}

func (f *fakeFTP) Stor(p string, r io.Reader) error {
	if f.storErr != nil {
		return f.storErr
	}
	if !f.dirs[path.Dir(f.abs(p))] {
		return errUnavailable
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	f.files[f.abs(p)] = data
	return nil
}

func (f *fakeFTP) Rename(from, to string) error {
	data, ok := f.files[f.abs(from)]
	if !ok {
		return errUnavailable
	}
	if _, exists := f.files[f.abs(to)]; exists {
		return errUnavailable
	}
	delete(f.files, f.abs(from))
	f.files[f.abs(to)] = data
	return nil
}

func (f *fakeFTP) Delete(p string) error {
	if _, ok := f.files[f.abs(p)]; !ok {
		return errUnavailable
	}
	delete(f.files, f.abs(p))
	return nil
}

func (f *fakeFTP) MakeDir(p string) error {
	if f.dirs[f.abs(p)] || !f.dirs[path.Dir(f.abs(p))] {
		return errUnavailable
	}
	f.dirs[f.abs(p)] = true
	return nil
}

func (f *fakeFTP) ChangeDir(p string) error {
	if !f.dirs[f.abs(p)] {
		return errUnavailable
	}
	f.cwd = f.abs(p)
	return nil
}

func (f *fakeFTP) CurrentDir() (string, error) { return f.cwd, nil }

func (f *fakeFTP) NoOp() error {
	if f.dead {
		return io.EOF
	}
	return nil
}

func (f *fakeFTP) Quit() error {
	f.quits++
	return nil
}

func newTestFTPSink(t *testing.T) (*FTPSink, *fakeFTP, *int) {
	t.Helper()

	sink, err := NewFTPSink(&FTPConfig{
		Host:      "ftp.test",
		Username:  "ranger",
		Password:  "secret",
		BasePath:  "/upload",
		Container: "wildwatch-events",
	})
	require.NoError(t, err)

	server := newFakeFTP()
	server.dirs["/upload"] = true
	dials := 0
	sink.dial = func(context.Context) (ftpConn, error) {
		dials++
		server.dead = false
		return server, nil
	}
	return sink, server, &dials
}

func TestFTPSink_Protocol(t *testing.T) {
	t.Parallel()
	ctx := t.Context()
	sink, server, _ := newTestFTPSink(t)

	created, err := sink.EnsureContainer(ctx)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "/", server.cwd, "working directory is restored")

	created, err = sink.EnsureContainer(ctx)
	require.NoError(t, err)
	assert.False(t, created)

	_, err = sink.GetObjectVersion(ctx, "detections.csv")
	require.ErrorIs(t, err, relay.ErrObjectNotFound)

	require.NoError(t, sink.CreateObject(ctx, "detections.csv", []byte("v1\n")))
	require.ErrorIs(t, sink.CreateObject(ctx, "detections.csv", []byte("v1\n")), relay.ErrConflict)

	version, err := sink.GetObjectVersion(ctx, "detections.csv")
	require.NoError(t, err)

	require.NoError(t, sink.UpdateObject(ctx, "detections.csv", []byte("v2\n"), version))
	assert.Equal(t, "v2\n", string(server.files["/upload/wildwatch-events/detections.csv"]))
	assert.Len(t, server.files, 1, "no temporary files are left behind")

	require.ErrorIs(t, sink.UpdateObject(ctx, "detections.csv", []byte("v3\n"), version), relay.ErrConflict)
}

func TestFTPSink_CreateMakesNestedDirectories(t *testing.T) {
	t.Parallel()
	sink, server, _ := newTestFTPSink(t)

	_, err := sink.EnsureContainer(t.Context())
	require.NoError(t, err)
	require.NoError(t, sink.CreateObject(t.Context(), "2026/03/detections.csv", []byte("x\n")))

	assert.True(t, server.dirs["/upload/wildwatch-events/2026/03"])
	assert.Contains(t, server.files, "/upload/wildwatch-events/2026/03/detections.csv")
}

func TestFTPSink_FailedUploadKeepsConnection(t *testing.T) {
	t.Parallel()
	sink, server, dials := newTestFTPSink(t)
	_, err := sink.EnsureContainer(t.Context())
	require.NoError(t, err)

	server.storErr = &textproto.Error{Code: 452, Msg: "Insufficient storage space"}
	err = sink.CreateObject(t.Context(), "detections.csv", []byte("x"))
	require.Error(t, err)
	assert.NotErrorIs(t, err, relay.ErrConflict)

	server.storErr = nil
	require.NoError(t, sink.CreateObject(t.Context(), "detections.csv", []byte("x")))
	assert.Equal(t, 1, *dials)
}

func TestFTPSink_RedialsDeadConnection(t *testing.T) {
	t.Parallel()
	sink, server, dials := newTestFTPSink(t)

	_, err := sink.EnsureContainer(t.Context())
	require.NoError(t, err)

	server.dead = true
	_, err = sink.EnsureContainer(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 2, *dials)
	assert.Equal(t, 1, server.quits)
}

func TestFTPSink_TransportErrorDropsConnection(t *testing.T) {
	t.Parallel()
	sink, server, dials := newTestFTPSink(t)
	_, err := sink.EnsureContainer(t.Context())
	require.NoError(t, err)

	server.storErr = io.ErrUnexpectedEOF
	require.Error(t, sink.CreateObject(t.Context(), "detections.csv", []byte("x")))

	server.storErr = nil
	require.NoError(t, sink.CreateObject(t.Context(), "detections.csv", []byte("x")))
	assert.Equal(t, 2, *dials)
}

func TestIsFileUnavailable(t *testing.T) {
	t.Parallel()

	assert.True(t, isFileUnavailable(errUnavailable))
	assert.False(t, isFileUnavailable(&textproto.Error{Code: 530, Msg: "Not logged in"}))
	assert.False(t, isFileUnavailable(io.EOF))
	assert.False(t, isFileUnavailable(nil))
}

func TestNewFTPSink_Defaults(t *testing.T) {
	t.Parallel()

	_, err := NewFTPSink(&FTPConfig{Container: "events"})
	require.Error(t, err)

	sink, err := NewFTPSink(&FTPConfig{Host: "ftp.test", Container: "events"})
	require.NoError(t, err)
	assert.Equal(t, DefaultFTPPort, sink.cfg.Port)
	assert.Equal(t, "events", sink.root)
}
