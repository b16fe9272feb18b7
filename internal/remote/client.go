// Package remote manages the SSH session to the monitored unit. A Session
// runs size-query commands and copies the unit's transmit capture over SFTP.
// Any failure that leaves the connection unusable is reported as
// ErrSessionLost so the poll loop can reconnect.
package remote

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/pkg/sftp"
	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// ErrSessionLost marks errors after which the session must be discarded.
var ErrSessionLost = errors.New("ssh session lost")

const defaultDialTimeout = 10 * time.Second

// Config holds connection settings for the unit.
type Config struct {
	Host        string
	Port        int
	User        string
	Password    string
	KeyFile     string
	KnownHosts  string
	DialTimeout time.Duration

	// CapturePath is the remote capture copied by Session.Fetch.
	CapturePath string
}

// Client dials sessions to the unit.
type Client struct {
	cfg    Config
	logger *zap.Logger
}

// NewClient creates a Client for cfg.
func NewClient(cfg Config, logger *zap.Logger) *Client {
	if cfg.Port == 0 {
		cfg.Port = 22
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = defaultDialTimeout
	}
	return &Client{cfg: cfg, logger: logger.Named("remote")}
}

// Addr returns the host:port being dialed.
func (c *Client) Addr() string {
	return net.JoinHostPort(c.cfg.Host, strconv.Itoa(c.cfg.Port))
}

// Dial opens an SSH connection and an SFTP channel on it. The caller owns
// the returned Session and must Close it.
func (c *Client) Dial(ctx context.Context) (*Session, error) {
	clientCfg, err := c.clientConfig()
	if err != nil {
		return nil, err
	}

	addr := c.Addr()
	d := net.Dialer{Timeout: c.cfg.DialTimeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}

	// Bound the handshake; the deadline is lifted once the session is up.
	_ = conn.SetDeadline(time.Now().Add(c.cfg.DialTimeout))
	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, clientCfg)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("ssh handshake with %s: %w", addr, err)
	}
	_ = conn.SetDeadline(time.Time{})
	client := ssh.NewClient(sshConn, chans, reqs)

	sftpClient, err := sftp.NewClient(client)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("start sftp: %w", err)
	}

	return &Session{
		client:      client,
		sftp:        sftpClient,
		capturePath: c.cfg.CapturePath,
	}, nil
}

func (c *Client) clientConfig() (*ssh.ClientConfig, error) {
	var auth []ssh.AuthMethod
	if c.cfg.KeyFile != "" {
		pem, err := os.ReadFile(c.cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("reading key file: %w", err)
		}
		signer, err := ssh.ParsePrivateKey(pem)
		if err != nil {
			return nil, fmt.Errorf("parsing key file: %w", err)
		}
		auth = append(auth, ssh.PublicKeys(signer))
	}
	if c.cfg.Password != "" {
		auth = append(auth, ssh.Password(c.cfg.Password))
	}
	if len(auth) == 0 {
		return nil, errors.New("no ssh auth method configured")
	}

	hostKey := ssh.InsecureIgnoreHostKey()
	if c.cfg.KnownHosts != "" {
		cb, err := knownhosts.New(c.cfg.KnownHosts)
		if err != nil {
			return nil, fmt.Errorf("loading known_hosts: %w", err)
		}
		hostKey = cb
	} else {
		c.logger.Debug("Host key verification disabled, no known_hosts configured")
	}

	return &ssh.ClientConfig{
		User:            c.cfg.User,
		Auth:            auth,
		HostKeyCallback: hostKey,
		Timeout:         c.cfg.DialTimeout,
	}, nil
}
