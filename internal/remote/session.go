package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

// Session is one live connection to the unit.
type Session struct {
	client      *ssh.Client
	sftp        *sftp.Client
	capturePath string
}

// Run executes cmd and returns its stdout. A non-zero exit status is an
// ordinary error; failing to open a channel means the connection is gone
// and is reported as ErrSessionLost.
func (s *Session) Run(ctx context.Context, cmd string) ([]byte, error) {
	sess, err := s.client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("open session: %w: %w", ErrSessionLost, err)
	}
	defer sess.Close()

	stop := context.AfterFunc(ctx, func() { sess.Close() })
	defer stop()

	out, err := sess.Output(cmd)
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	return out, err
}

// Fetch copies the remote capture to dst, truncating any existing file.
func (s *Session) Fetch(ctx context.Context, dst string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	src, err := s.sftp.Open(s.capturePath)
	if err != nil {
		return s.classify(fmt.Errorf("open remote %s: %w", s.capturePath, err))
	}
	defer src.Close()

	stop := context.AfterFunc(ctx, func() { src.Close() })
	defer stop()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create %s: %w", dst, err)
	}
	if _, err := io.Copy(out, src); err != nil {
		out.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return s.classify(fmt.Errorf("copy remote capture: %w", err))
	}
	return out.Close()
}

// Alive sends a keepalive request and reports whether the peer answered.
func (s *Session) Alive() bool {
	_, _, err := s.client.SendRequest("keepalive@openssh.com", true, nil)
	return err == nil
}

// classify tags err as a lost session when the connection no longer
// answers keepalives. A missing remote file on a healthy link is not a
// transport failure.
func (s *Session) classify(err error) error {
	if errors.Is(err, os.ErrNotExist) || s.Alive() {
		return err
	}
	return fmt.Errorf("%w: %w", ErrSessionLost, err)
}

// Close releases the SFTP channel and the SSH connection.
func (s *Session) Close() error {
	sftpErr := s.sftp.Close()
	sshErr := s.client.Close()
	if sshErr != nil && !errors.Is(sshErr, io.EOF) && !errors.Is(sshErr, net.ErrClosed) {
		return sshErr
	}
	if sftpErr != nil && !errors.Is(sftpErr, io.EOF) {
		return sftpErr
	}
	return nil
}
