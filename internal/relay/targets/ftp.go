package targets

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/textproto"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jlaffaye/ftp"

	"github.com/tphakala/wildwatch-go/internal/errors"
	"github.com/tphakala/wildwatch-go/internal/logger"
)

const sinkFTP = "ftp"

// FTPConfig configures the FTP sink. The container is a directory under
// BasePath.
type FTPConfig struct {
	Host      string
	Port      int
	Username  string
	Password  string
	BasePath  string
	Container string
	Timeout   time.Duration
}

// ftpConn is the subset of *ftp.ServerConn the sink uses
type ftpConn interface {
	ReadFile(path string) ([]byte, error)
	Stor(path string, r io.Reader) error
	Rename(from, to string) error
	Delete(path string) error
	MakeDir(path string) error
	ChangeDir(path string) error
	CurrentDir() (string, error)
	NoOp() error
	Quit() error
}

type serverConn struct {
	*ftp.ServerConn
}

func (c serverConn) ReadFile(p string) ([]byte, error) {
	resp, err := c.Retr(p)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Close() }()
	return io.ReadAll(resp)
}

type ftpDialer func(ctx context.Context) (ftpConn, error)

// FTPSink stores objects as files on an FTP server.
type FTPSink struct {
	cfg  FTPConfig
	root string
	log  logger.Logger
	dial ftpDialer

	mu   sync.Mutex
	conn ftpConn
}

// NewFTPSink creates an FTP sink. No connection is made until first use.
func NewFTPSink(cfg *FTPConfig) (*FTPSink, error) {
	if cfg.Host == "" {
		return nil, errors.Newf("ftp sink requires a host").
			Component(componentName).
			Category(errors.CategoryConfiguration).
			Build()
	}
	if _, err := cleanObjectPath(cfg.Container); err != nil {
		return nil, err
	}
	if cfg.Port == 0 {
		cfg.Port = DefaultFTPPort
	}
	cfg.Timeout = timeoutOr(cfg.Timeout)

	s := &FTPSink{
		cfg:  *cfg,
		root: path.Join(cfg.BasePath, cfg.Container),
		log:  getLogger(sinkFTP),
	}
	s.dial = s.dialFTP
	return s, nil
}

func (s *FTPSink) dialFTP(ctx context.Context) (ftpConn, error) {
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	conn, err := ftp.Dial(addr, ftp.DialWithContext(ctx), ftp.DialWithTimeout(s.cfg.Timeout))
	if err != nil {
		return nil, fmt.Errorf("connection failed: %w", err)
	}

	if s.cfg.Username != "" {
		if err := conn.Login(s.cfg.Username, s.cfg.Password); err != nil {
			_ = conn.Quit()
			return nil, fmt.Errorf("login failed: %w", err)
		}
	}
	return serverConn{conn}, nil
}

// isFileUnavailable reports a 550 reply, which servers use for missing
// files as well as existing directories
func isFileUnavailable(err error) bool {
	var tpErr *textproto.Error
	return errors.As(err, &tpErr) && tpErr.Code == ftp.StatusFileUnavailable
}

func (s *FTPSink) connLocked(ctx context.Context) (ftpConn, error) {
	if s.conn != nil {
		if s.conn.NoOp() == nil {
			return s.conn, nil
		}
		s.dropLocked()
	}
	conn, err := s.dial(ctx)
	if err != nil {
		return nil, sinkError(sinkFTP, "connect", err)
	}
	s.conn = conn
	s.log.Debug("ftp connected", logger.String("host", s.cfg.Host))
	return conn, nil
}

func (s *FTPSink) dropLocked() {
	if s.conn != nil {
		_ = s.conn.Quit()
	}
	s.conn = nil
}

func (s *FTPSink) do(ctx context.Context, operation string, fn func(ftpConn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	conn, err := s.connLocked(ctx)
	if err != nil {
		return err
	}

	err = fn(conn)
	var tpErr *textproto.Error
	switch {
	case err == nil:
		return nil
	case isSentinel(err):
		return err
	case errors.As(err, &tpErr):
		// protocol level refusal, the connection is still usable
		return sinkError(sinkFTP, operation, err)
	}
	s.dropLocked()
	return sinkError(sinkFTP, operation, err)
}

// Name implements relay.Sink.
func (s *FTPSink) Name() string { return sinkFTP }

// Container implements relay.Sink.
func (s *FTPSink) Container() string { return s.cfg.Container }

// EnsureContainer creates the container directory when missing.
func (s *FTPSink) EnsureContainer(ctx context.Context) (bool, error) {
	var created bool
	err := s.do(ctx, "ensure_container", func(c ftpConn) error {
		var err error
		created, err = makeDirAll(c, s.root)
		return err
	})
	return created, err
}

// makeDirAll creates dir and its parents, reporting whether dir was created
func makeDirAll(c ftpConn, dir string) (bool, error) {
	if dir == "" || dir == "." || dir == "/" {
		return false, nil
	}

	start, err := c.CurrentDir()
	if err != nil {
		return false, fmt.Errorf("failed to get current directory: %w", err)
	}
	if err := c.ChangeDir(dir); err == nil {
		return false, c.ChangeDir(start)
	}

	prefix := ""
	if strings.HasPrefix(dir, "/") {
		prefix = "/"
	}
	var created bool
	current := prefix
	for _, part := range strings.Split(strings.Trim(dir, "/"), "/") {
		current = path.Join(current, part)
		if err := c.MakeDir(current); err != nil {
			if !isFileUnavailable(err) {
				return false, fmt.Errorf("failed to create directory %s: %w", current, err)
			}
			continue
		}
		created = true
	}
	return created, nil
}

func (s *FTPSink) remotePath(objectPath string) (string, error) {
	cleaned, err := cleanObjectPath(objectPath)
	if err != nil {
		return "", err
	}
	return path.Join(s.root, cleaned), nil
}

// GetObjectVersion retrieves the file and returns its content hash.
func (s *FTPSink) GetObjectVersion(ctx context.Context, objectPath string) (string, error) {
	remote, err := s.remotePath(objectPath)
	if err != nil {
		return "", err
	}

	var version string
	err = s.do(ctx, "get_version", func(c ftpConn) error {
		data, err := c.ReadFile(remote)
		if isFileUnavailable(err) {
			return notFound(sinkFTP, objectPath)
		}
		if err != nil {
			return err
		}
		version = contentVersion(data)
		return nil
	})
	return version, err
}

// UpdateObject replaces the file if its content still hashes to version.
func (s *FTPSink) UpdateObject(ctx context.Context, objectPath string, content []byte, version string) error {
	remote, err := s.remotePath(objectPath)
	if err != nil {
		return err
	}

	return s.do(ctx, "update", func(c ftpConn) error {
		data, err := c.ReadFile(remote)
		if isFileUnavailable(err) {
			return notFound(sinkFTP, objectPath)
		}
		if err != nil {
			return err
		}
		if contentVersion(data) != version {
			return conflict(sinkFTP, objectPath, "content changed since version lookup")
		}
		return atomicStor(c, remote, content)
	})
}

// CreateObject uploads a new file. It fails with a conflict if one exists.
func (s *FTPSink) CreateObject(ctx context.Context, objectPath string, content []byte) error {
	remote, err := s.remotePath(objectPath)
	if err != nil {
		return err
	}

	return s.do(ctx, "create", func(c ftpConn) error {
		_, err := c.ReadFile(remote)
		switch {
		case err == nil:
			return conflict(sinkFTP, objectPath, "object already exists")
		case !isFileUnavailable(err):
			return err
		}
		if _, err := makeDirAll(c, path.Dir(remote)); err != nil {
			return err
		}
		return atomicStor(c, remote, content)
	})
}

// atomicStor uploads to a temporary name and renames it into place
func atomicStor(c ftpConn, remote string, content []byte) error {
	tmp := path.Join(path.Dir(remote), "."+path.Base(remote)+"."+uuid.NewString()[:8]+TempFileExt)

	if err := c.Stor(tmp, bytes.NewReader(content)); err != nil {
		_ = c.Delete(tmp)
		return fmt.Errorf("failed to upload temporary file: %w", err)
	}
	if err := c.Rename(tmp, remote); err == nil {
		return nil
	}
	// some servers refuse to rename over an existing file
	_ = c.Delete(remote)
	if err := c.Rename(tmp, remote); err != nil {
		_ = c.Delete(tmp)
		return fmt.Errorf("failed to rename temporary file: %w", err)
	}
	return nil
}

// Close sends QUIT on the cached connection.
func (s *FTPSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dropLocked()
	return nil
}
