package sftp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	pkgsftp "github.com/pkg/sftp"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	gossh "golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/charlesng35/sftpgate/pkg/logger"
)

// sftpProtocolVersion is the SFTP protocol version negotiated by pkg/sftp.
const sftpProtocolVersion = 3

// SSHDialer opens SFTP sessions over SSH.
type SSHDialer struct {
	cfg          Config
	clientConfig *gossh.ClientConfig
	log          *zap.Logger
}

// NewSSHDialer prepares the SSH client configuration once. Key material and the
// known_hosts file are loaded here so problems surface at startup.
func NewSSHDialer(cfg Config) (*SSHDialer, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log := logger.WithModule("sftp.dialer")

	auth, err := buildAuthMethods(cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}
	hostKeyCallback, err := buildHostKeyCallback(cfg, log)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}

	return &SSHDialer{
		cfg: cfg,
		clientConfig: &gossh.ClientConfig{
			User:            cfg.Username,
			Auth:            auth,
			HostKeyCallback: hostKeyCallback,
			Timeout:         cfg.ConnectTimeout,
		},
		log: log,
	}, nil
}

// Dial performs one connection attempt. Any partially opened transport is closed on failure.
func (d *SSHDialer) Dial(ctx context.Context) (Conn, error) {
	addr := d.cfg.Address()
	netDialer := &net.Dialer{Timeout: d.cfg.ConnectTimeout}

	rawConn, err := netDialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("sftp: dial %s: %w", addr, err)
	}

	_ = rawConn.SetDeadline(time.Now().Add(d.cfg.ConnectTimeout))
	sshConn, chans, reqs, err := gossh.NewClientConn(rawConn, addr, d.clientConfig)
	if err != nil {
		_ = rawConn.Close()
		return nil, fmt.Errorf("sftp: ssh handshake with %s: %w", addr, err)
	}
	client := gossh.NewClient(sshConn, chans, reqs)

	sftpClient, err := pkgsftp.NewClient(client, pkgsftp.MaxPacket(1<<15))
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("sftp: start subsystem: %w", err)
	}
	_ = rawConn.SetDeadline(time.Time{})

	return newSSHConn(client, sftpClient), nil
}

func buildAuthMethods(cfg Config) ([]gossh.AuthMethod, error) {
	if cfg.UsesPrivateKey() {
		keyData, err := os.ReadFile(cfg.PrivateKeyPath)
		if err != nil {
			return nil, fmt.Errorf("read private key: %w", err)
		}
		var signer gossh.Signer
		if cfg.Passphrase != "" {
			signer, err = gossh.ParsePrivateKeyWithPassphrase(keyData, []byte(cfg.Passphrase))
		} else {
			signer, err = gossh.ParsePrivateKey(keyData)
		}
		if err != nil {
			return nil, fmt.Errorf("parse private key: %w", err)
		}
		return []gossh.AuthMethod{gossh.PublicKeys(signer)}, nil
	}
	if cfg.Password == "" {
		return nil, errors.New("no authentication methods configured")
	}
	return []gossh.AuthMethod{gossh.Password(cfg.Password)}, nil
}

func buildHostKeyCallback(cfg Config, log *zap.Logger) (gossh.HostKeyCallback, error) {
	if cfg.KnownHostsFile == "" {
		log.Warn("host key verification disabled", zap.String("address", cfg.Address()))
		return gossh.InsecureIgnoreHostKey(), nil
	}
	callback, err := knownhosts.New(cfg.KnownHostsFile)
	if err != nil {
		return nil, fmt.Errorf("load known_hosts %s: %w", cfg.KnownHostsFile, err)
	}
	return callback, nil
}

// sshConn is a Conn backed by a live SSH transport.
type sshConn struct {
	*clientAdapter

	ssh       *gossh.Client
	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

func newSSHConn(client *gossh.Client, sftpClient *pkgsftp.Client) *sshConn {
	conn := &sshConn{
		clientAdapter: &clientAdapter{client: sftpClient},
		ssh:           client,
		done:          make(chan struct{}),
	}
	go func() {
		_ = client.Wait()
		close(conn.done)
	}()
	return conn
}

func (c *sshConn) IsConnected() bool {
	select {
	case <-c.done:
		return false
	default:
		return true
	}
}

// SupportsConcurrentUse reports true: pkg/sftp multiplexes requests over one channel.
func (c *sshConn) SupportsConcurrentUse() bool { return true }

func (c *sshConn) ServerVersion() string {
	return string(c.ssh.ServerVersion())
}

func (c *sshConn) ProtocolVersion() int { return sftpProtocolVersion }

func (c *sshConn) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = multierr.Combine(c.client.Close(), ignoreClosed(c.ssh.Close()))
	})
	return c.closeErr
}

func ignoreClosed(err error) error {
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

// NewClient adapts a pkg/sftp client to the Client interface.
func NewClient(client *pkgsftp.Client) Client {
	return &clientAdapter{client: client}
}

type clientAdapter struct {
	client *pkgsftp.Client
}

var errClientUnavailable = errors.New("sftp: client unavailable")

func (a *clientAdapter) ReadDir(path string) ([]os.FileInfo, error) {
	if a.client == nil {
		return nil, errClientUnavailable
	}
	return a.client.ReadDir(path)
}

func (a *clientAdapter) Stat(path string) (os.FileInfo, error) {
	if a.client == nil {
		return nil, errClientUnavailable
	}
	return a.client.Stat(path)
}

func (a *clientAdapter) Open(path string) (ReadableFile, error) {
	if a.client == nil {
		return nil, errClientUnavailable
	}
	f, err := a.client.Open(path)
	if err != nil {
		return nil, err
	}
	return f, nil
}

func (a *clientAdapter) Create(path string) (WritableFile, error) {
	if a.client == nil {
		return nil, errClientUnavailable
	}
	f, err := a.client.Create(path)
	if err != nil {
		return nil, err
	}
	return f, nil
}

func (a *clientAdapter) Mkdir(path string) error {
	if a.client == nil {
		return errClientUnavailable
	}
	return a.client.Mkdir(path)
}

func (a *clientAdapter) Remove(path string) error {
	if a.client == nil {
		return errClientUnavailable
	}
	return a.client.Remove(path)
}

func (a *clientAdapter) Rename(oldPath, newPath string) error {
	if a.client == nil {
		return errClientUnavailable
	}
	return a.client.Rename(oldPath, newPath)
}

func (a *clientAdapter) Getwd() (string, error) {
	if a.client == nil {
		return "", errClientUnavailable
	}
	return a.client.Getwd()
}
