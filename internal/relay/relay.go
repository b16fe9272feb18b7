// Package relay forwards operator messages to the unit while it is out of
// coverage. While the stalled flag is set it polls the central server for a
// message and sends it to the unit as a single UDP datagram; it stops for
// good once the halted flag appears.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/vamsipavuluri9/Multi-Channel-Vehicular-Communication/internal/flags"
	"github.com/vamsipavuluri9/Multi-Channel-Vehicular-Communication/internal/models"
)

const requestTimeout = 10 * time.Second

// Config holds relay settings.
type Config struct {
	ServerURL     string
	StationID     string
	Target        string
	Interval      time.Duration
	RatePerMinute int
	StalledFlag   string
	HaltedFlag    string
}

// FlagReader reports whether a flag is currently set.
type FlagReader interface {
	IsSet(name string) bool
}

// Relay polls for messages and sends them to the unit.
type Relay struct {
	cfg     Config
	flags   FlagReader
	client  *http.Client
	conn    net.Conn
	limiter *rate.Limiter
	logger  *zap.Logger
}

// New creates a Relay with a UDP socket aimed at cfg.Target.
func New(cfg Config, fr FlagReader, logger *zap.Logger) (*Relay, error) {
	if cfg.StalledFlag == "" {
		cfg.StalledFlag = flags.Stalled
	}
	if cfg.HaltedFlag == "" {
		cfg.HaltedFlag = flags.Halted
	}
	conn, err := net.Dial("udp", cfg.Target)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", cfg.Target, err)
	}

	limit := rate.Inf
	if cfg.RatePerMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(cfg.RatePerMinute))
	}

	return &Relay{
		cfg:     cfg,
		flags:   fr,
		client:  &http.Client{Timeout: requestTimeout},
		conn:    conn,
		limiter: rate.NewLimiter(limit, 1),
		logger:  logger.Named("relay"),
	}, nil
}

// Run ticks immediately and then every interval. It returns nil when the
// halted flag is seen or ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	r.logger.Info("Relay running", zap.String("target", r.cfg.Target))
	for {
		if r.Tick(ctx) {
			r.logger.Info("Unit halted, relay stopped")
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Tick performs one poll. It reports true once the unit has halted.
// Server and socket failures are logged and absorbed.
func (r *Relay) Tick(ctx context.Context) bool {
	if r.flags.IsSet(r.cfg.HaltedFlag) {
		return true
	}
	if !r.flags.IsSet(r.cfg.StalledFlag) {
		r.logger.Debug("RX growing, nothing to relay")
		return false
	}

	msg, err := r.fetch(ctx)
	if err != nil {
		r.logger.Warn("Message poll failed", zap.Error(err))
		return false
	}
	if msg == "" {
		r.logger.Info("No message from server")
		return false
	}
	if !r.limiter.Allow() {
		r.logger.Warn("Send rate exceeded, dropping message")
		return false
	}
	if _, err := r.conn.Write([]byte(msg)); err != nil {
		r.logger.Warn("UDP send failed", zap.Error(err))
		return false
	}
	r.logger.Info("Message relayed to unit", zap.Int("bytes", len(msg)))
	return false
}

func (r *Relay) fetch(ctx context.Context) (string, error) {
	u := strings.TrimSuffix(r.cfg.ServerURL, "/") + "/get_dummy_message?laptop_id=" + url.QueryEscape(r.cfg.StationID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	var reply models.MessageResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&reply); err != nil {
		return "", fmt.Errorf("server returned %d: %w", resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("server returned %d: %s", resp.StatusCode, reply.Message)
	}
	return reply.Message, nil
}

// Close releases the UDP socket.
func (r *Relay) Close() error {
	return r.conn.Close()
}
