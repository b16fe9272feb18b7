package remote

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/pkg/sftp"
	"go.uber.org/zap/zaptest"
	"golang.org/x/crypto/ssh"
)

// startServer runs an SSH server on loopback that answers "echo-size"
// with a fixed byte count, fails every other exec and serves SFTP from the
// local filesystem.
func startServer(t *testing.T) (host string, port int) {
	t.Helper()

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		t.Fatal(err)
	}
	cfg := &ssh.ServerConfig{
		PasswordCallback: func(c ssh.ConnMetadata, pass []byte) (*ssh.Permissions, error) {
			if c.User() == "user" && string(pass) == "user" {
				return nil, nil
			}
			return nil, errors.New("denied")
		},
	}
	cfg.AddHostKey(signer)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go serveConn(conn, cfg)
		}
	}()

	h, p, _ := net.SplitHostPort(ln.Addr().String())
	port, _ = strconv.Atoi(p)
	return h, port
}

func serveConn(nc net.Conn, cfg *ssh.ServerConfig) {
	_, chans, reqs, err := ssh.NewServerConn(nc, cfg)
	if err != nil {
		nc.Close()
		return
	}
	go ssh.DiscardRequests(reqs)
	for nch := range chans {
		if nch.ChannelType() != "session" {
			nch.Reject(ssh.UnknownChannelType, "unsupported")
			continue
		}
		ch, creqs, err := nch.Accept()
		if err != nil {
			continue
		}
		go serveSession(ch, creqs)
	}
}

func serveSession(ch ssh.Channel, reqs <-chan *ssh.Request) {
	defer ch.Close()
	for req := range reqs {
		switch req.Type {
		case "exec":
			var payload struct{ Command string }
			_ = ssh.Unmarshal(req.Payload, &payload)
			req.Reply(true, nil)
			var status uint32
			if payload.Command == "echo-size" {
				ch.Write([]byte("4096\n"))
			} else {
				status = 1
			}
			ch.SendRequest("exit-status", false, ssh.Marshal(struct{ Status uint32 }{status}))
			go ssh.DiscardRequests(reqs)
			return
		case "subsystem":
			var payload struct{ Name string }
			_ = ssh.Unmarshal(req.Payload, &payload)
			if payload.Name != "sftp" {
				req.Reply(false, nil)
				continue
			}
			req.Reply(true, nil)
			go ssh.DiscardRequests(reqs)
			srv, err := sftp.NewServer(ch)
			if err != nil {
				return
			}
			_ = srv.Serve()
			srv.Close()
			return
		default:
			req.Reply(false, nil)
		}
	}
}

func dialTestSession(t *testing.T, capturePath string) *Session {
	t.Helper()
	host, port := startServer(t)
	c := NewClient(Config{
		Host:        host,
		Port:        port,
		User:        "user",
		Password:    "user",
		CapturePath: capturePath,
	}, zaptest.NewLogger(t))
	s, err := c.Dial(context.Background())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSession_Run(t *testing.T) {
	s := dialTestSession(t, "")

	out, err := s.Run(context.Background(), "echo-size")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if string(out) != "4096\n" {
		t.Errorf("out = %q", out)
	}

	_, err = s.Run(context.Background(), "false")
	var exitErr *ssh.ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("err = %v, want *ssh.ExitError", err)
	}
	if errors.Is(err, ErrSessionLost) {
		t.Error("non-zero exit classified as session loss")
	}
}

func TestSession_Fetch(t *testing.T) {
	dir := t.TempDir()
	remotePath := filepath.Join(dir, "tx_pc5.pcap")
	want := bytes.Repeat([]byte{0xd4, 0xc3, 0xb2, 0xa1}, 1024)
	if err := os.WriteFile(remotePath, want, 0640); err != nil {
		t.Fatal(err)
	}

	s := dialTestSession(t, remotePath)
	dst := filepath.Join(dir, "local.pcap")
	if err := s.Fetch(context.Background(), dst); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	got, err := os.ReadFile(dst)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, want) {
		t.Errorf("fetched %d bytes, want %d", len(got), len(want))
	}
}

func TestSession_FetchMissingIsNotSessionLoss(t *testing.T) {
	dir := t.TempDir()
	s := dialTestSession(t, filepath.Join(dir, "absent.pcap"))

	err := s.Fetch(context.Background(), filepath.Join(dir, "local.pcap"))
	if err == nil {
		t.Fatal("expected error for missing remote file")
	}
	if errors.Is(err, ErrSessionLost) {
		t.Errorf("missing file reported as session loss: %v", err)
	}
}

func TestSession_RunAfterCloseIsSessionLost(t *testing.T) {
	s := dialTestSession(t, "")
	if !s.Alive() {
		t.Fatal("fresh session not alive")
	}
	s.Close()

	if s.Alive() {
		t.Error("closed session reports alive")
	}
	_, err := s.Run(context.Background(), "echo-size")
	if !errors.Is(err, ErrSessionLost) {
		t.Fatalf("err = %v, want ErrSessionLost", err)
	}
}

func TestClient_DialRejectsBadPassword(t *testing.T) {
	host, port := startServer(t)
	c := NewClient(Config{Host: host, Port: port, User: "user", Password: "wrong"}, zaptest.NewLogger(t))
	if _, err := c.Dial(context.Background()); err == nil {
		t.Fatal("expected auth failure")
	}
}

func TestClient_NoAuthConfigured(t *testing.T) {
	c := NewClient(Config{Host: "127.0.0.1", User: "user"}, zaptest.NewLogger(t))
	if _, err := c.Dial(context.Background()); err == nil {
		t.Fatal("expected error without auth method")
	}
}
