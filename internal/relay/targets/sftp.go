package targets

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"path"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/tphakala/wildwatch-go/internal/errors"
	"github.com/tphakala/wildwatch-go/internal/logger"
)

const sinkSFTP = "sftp"

// SFTPConfig configures the SFTP sink. The container is a directory under
// BasePath.
type SFTPConfig struct {
	Host           string
	Port           int
	Username       string
	Password       string
	KeyFile        string
	KnownHostsFile string // empty disables host key verification
	BasePath       string
	Container      string
	Timeout        time.Duration
}

type sftpDialer func(ctx context.Context) (*sftp.Client, io.Closer, error)

// SFTPSink stores objects as files on an SFTP server. The connection is
// opened lazily and dropped after a transport error.
type SFTPSink struct {
	cfg  SFTPConfig
	root string
	log  logger.Logger
	dial sftpDialer

	mu     sync.Mutex
	client *sftp.Client
	conn   io.Closer
}

// NewSFTPSink creates an SFTP sink. No connection is made until first use.
func NewSFTPSink(cfg *SFTPConfig) (*SFTPSink, error) {
	if cfg.Host == "" || cfg.Username == "" {
		return nil, errors.Newf("sftp sink requires a host and a username").
			Component(componentName).
			Category(errors.CategoryConfiguration).
			Build()
	}
	if cfg.Password == "" && cfg.KeyFile == "" {
		return nil, errors.Newf("sftp sink requires a password or a key file").
			Component(componentName).
			Category(errors.CategoryConfiguration).
			Build()
	}
	if _, err := cleanObjectPath(cfg.Container); err != nil {
		return nil, err
	}
	if cfg.Port == 0 {
		cfg.Port = DefaultSSHPort
	}
	cfg.Timeout = timeoutOr(cfg.Timeout)

	s := &SFTPSink{
		cfg:  *cfg,
		root: path.Join(cfg.BasePath, cfg.Container),
		log:  getLogger(sinkSFTP),
	}
	s.dial = s.dialSSH
	return s, nil
}

func (s *SFTPSink) clientConfig() (*ssh.ClientConfig, error) {
	config := &ssh.ClientConfig{
		User:    s.cfg.Username,
		Timeout: s.cfg.Timeout,
	}

	if s.cfg.KnownHostsFile != "" {
		callback, err := knownhosts.New(s.cfg.KnownHostsFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load known hosts: %w", err)
		}
		config.HostKeyCallback = callback
	} else {
		s.log.Warn("sftp host key verification disabled, set known_hosts_file",
			logger.String("host", s.cfg.Host))
		config.HostKeyCallback = ssh.InsecureIgnoreHostKey()
	}

	switch {
	case s.cfg.KeyFile != "":
		key, err := os.ReadFile(s.cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read private key: %w", err)
		}
		signer, err := ssh.ParsePrivateKey(key)
		if err != nil {
			return nil, fmt.Errorf("failed to parse private key: %w", err)
		}
		config.Auth = []ssh.AuthMethod{ssh.PublicKeys(signer)}
	default:
		config.Auth = []ssh.AuthMethod{ssh.Password(s.cfg.Password)}
	}
	return config, nil
}

func (s *SFTPSink) dialSSH(ctx context.Context) (*sftp.Client, io.Closer, error) {
	config, err := s.clientConfig()
	if err != nil {
		return nil, nil, err
	}

	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	dialer := net.Dialer{Timeout: s.cfg.Timeout}
	netConn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect: %w", err)
	}

	// bound the handshake by the context as well as the timeout
	stop := context.AfterFunc(ctx, func() { _ = netConn.Close() })
	defer stop()

	sshConn, chans, reqs, err := ssh.NewClientConn(netConn, addr, config)
	if err != nil {
		_ = netConn.Close()
		return nil, nil, fmt.Errorf("ssh handshake failed: %w", err)
	}
	sshClient := ssh.NewClient(sshConn, chans, reqs)

	client, err := sftp.NewClient(sshClient)
	if err != nil {
		_ = sshClient.Close()
		return nil, nil, fmt.Errorf("failed to start sftp subsystem: %w", err)
	}
	if !stop() {
		_ = client.Close()
		_ = sshClient.Close()
		return nil, nil, ctx.Err()
	}
	return client, sshClient, nil
}

// sessionLocked returns the cached client, connecting if needed
func (s *SFTPSink) sessionLocked(ctx context.Context) (*sftp.Client, error) {
	if s.client != nil {
		return s.client, nil
	}
	client, conn, err := s.dial(ctx)
	if err != nil {
		return nil, sinkError(sinkSFTP, "connect", err)
	}
	s.client, s.conn = client, conn
	s.log.Debug("sftp connected", logger.String("host", s.cfg.Host))
	return client, nil
}

func (s *SFTPSink) dropLocked() {
	if s.client != nil {
		_ = s.client.Close()
	}
	if s.conn != nil {
		_ = s.conn.Close()
	}
	s.client, s.conn = nil, nil
}

// do runs fn with a live client and drops the connection on transport
// errors. Sentinel errors pass through untouched.
func (s *SFTPSink) do(ctx context.Context, operation string, fn func(*sftp.Client) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	client, err := s.sessionLocked(ctx)
	if err != nil {
		return err
	}

	err = fn(client)
	var se *errors.EnhancedError
	switch {
	case err == nil:
		return nil
	case isSentinel(err) || errors.As(err, &se):
		return err
	case errors.Is(err, os.ErrNotExist), errors.Is(err, os.ErrPermission):
		return sinkError(sinkSFTP, operation, err)
	}
	s.dropLocked()
	return sinkError(sinkSFTP, operation, err)
}

// Name implements relay.Sink.
func (s *SFTPSink) Name() string { return sinkSFTP }

// Container implements relay.Sink.
func (s *SFTPSink) Container() string { return s.cfg.Container }

// EnsureContainer creates the container directory when missing.
func (s *SFTPSink) EnsureContainer(ctx context.Context) (bool, error) {
	var created bool
	err := s.do(ctx, "ensure_container", func(c *sftp.Client) error {
		info, err := c.Stat(s.root)
		switch {
		case err == nil && info.IsDir():
			return nil
		case err == nil:
			return errors.Newf("%s is not a directory", s.root).
				Component(componentName).
				Category(errors.CategoryValidation).
				Build()
		case !errors.Is(err, os.ErrNotExist):
			return err
		}
		if err := c.MkdirAll(s.root); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", s.root, err)
		}
		created = true
		return nil
	})
	return created, err
}

func (s *SFTPSink) remotePath(objectPath string) (string, error) {
	cleaned, err := cleanObjectPath(objectPath)
	if err != nil {
		return "", err
	}
	return path.Join(s.root, cleaned), nil
}

func readRemote(c *sftp.Client, remote string) ([]byte, error) {
	f, err := c.Open(remote)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	return io.ReadAll(f)
}

// GetObjectVersion returns the content hash of the remote file.
func (s *SFTPSink) GetObjectVersion(ctx context.Context, objectPath string) (string, error) {
	remote, err := s.remotePath(objectPath)
	if err != nil {
		return "", err
	}

	var version string
	err = s.do(ctx, "get_version", func(c *sftp.Client) error {
		data, err := readRemote(c, remote)
		if errors.Is(err, os.ErrNotExist) {
			return notFound(sinkSFTP, objectPath)
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
func (s *SFTPSink) UpdateObject(ctx context.Context, objectPath string, content []byte, version string) error {
	remote, err := s.remotePath(objectPath)
	if err != nil {
		return err
	}

	return s.do(ctx, "update", func(c *sftp.Client) error {
		data, err := readRemote(c, remote)
		if errors.Is(err, os.ErrNotExist) {
			return notFound(sinkSFTP, objectPath)
		}
		if err != nil {
			return err
		}
		if contentVersion(data) != version {
			return conflict(sinkSFTP, objectPath, "content changed since version lookup")
		}
		return writeRemote(c, remote, content)
	})
}

// CreateObject writes a new file. It fails with a conflict if one exists.
func (s *SFTPSink) CreateObject(ctx context.Context, objectPath string, content []byte) error {
	remote, err := s.remotePath(objectPath)
	if err != nil {
		return err
	}

	return s.do(ctx, "create", func(c *sftp.Client) error {
		if _, err := c.Stat(remote); err == nil {
			return conflict(sinkSFTP, objectPath, "object already exists")
		}
		if err := c.MkdirAll(path.Dir(remote)); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
		return writeRemote(c, remote, content)
	})
}

// writeRemote uploads to a temporary name and renames it into place
func writeRemote(c *sftp.Client, remote string, content []byte) error {
	tmp := path.Join(path.Dir(remote), "."+path.Base(remote)+"."+uuid.NewString()[:8]+TempFileExt)

	f, err := c.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to create temporary file: %w", err)
	}
	if _, err := f.Write(content); err != nil {
		_ = f.Close()
		_ = c.Remove(tmp)
		return fmt.Errorf("failed to write temporary file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = c.Remove(tmp)
		return fmt.Errorf("failed to close temporary file: %w", err)
	}

	if err := c.PosixRename(tmp, remote); err == nil {
		return nil
	}
	// servers without the posix-rename extension refuse to overwrite
	_ = c.Remove(remote)
	if err := c.Rename(tmp, remote); err != nil {
		_ = c.Remove(tmp)
		return fmt.Errorf("failed to rename temporary file: %w", err)
	}
	return nil
}

// Close closes the connection.
func (s *SFTPSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dropLocked()
	return nil
}
