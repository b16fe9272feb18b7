// Package uploader delivers finished snapshot files to the central server.
// It scans the snapshot directory on an interval and POSTs every file the
// ledger has not seen as a multipart form, retrying with exponential
// backoff.
package uploader

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"github.com/vamsipavuluri9/Multi-Channel-Vehicular-Communication/internal/ledger"
	"github.com/vamsipavuluri9/Multi-Channel-Vehicular-Communication/internal/models"
	"github.com/vamsipavuluri9/Multi-Channel-Vehicular-Communication/internal/snapshot"
)

const (
	// maxRetries is the number of retries after the first failed attempt.
	maxRetries = 3

	// baseRetryDelay is the base delay for exponential backoff between retries.
	baseRetryDelay = 2 * time.Second

	// requestTimeout bounds each upload attempt.
	requestTimeout = 30 * time.Second
)

// Config holds uploader settings.
type Config struct {
	ServerURL string
	StationID string
	Dir       string
	Interval  time.Duration
}

// Uploader watches the snapshot directory and uploads new files.
type Uploader struct {
	client     *http.Client
	cfg        Config
	ledger     *ledger.Ledger
	logger     *zap.Logger
	retryDelay time.Duration
}

// New creates an Uploader.
func New(cfg Config, l *ledger.Ledger, logger *zap.Logger) *Uploader {
	return &Uploader{
		client:     &http.Client{Timeout: requestTimeout},
		cfg:        cfg,
		ledger:     l,
		logger:     logger.Named("uploader"),
		retryDelay: baseRetryDelay,
	}
}

// Run scans immediately and then every interval until ctx is cancelled.
func (u *Uploader) Run(ctx context.Context) error {
	ticker := time.NewTicker(u.cfg.Interval)
	defer ticker.Stop()

	u.logger.Info("Watching for snapshots",
		zap.String("dir", u.cfg.Dir),
		zap.String("server", u.cfg.ServerURL))

	for {
		if _, err := u.Scan(ctx); err != nil && ctx.Err() == nil {
			u.logger.Warn("Scan failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Scan uploads every snapshot not yet in the ledger, oldest name first,
// and returns how many were delivered. A rate-limited response ends the
// scan early; the remaining files are picked up next time.
func (u *Uploader) Scan(ctx context.Context) (int, error) {
	paths, err := filepath.Glob(filepath.Join(u.cfg.Dir, snapshot.FilePattern))
	if err != nil {
		return 0, fmt.Errorf("listing snapshots: %w", err)
	}
	sort.Strings(paths)

	uploaded := 0
	for _, path := range paths {
		name := filepath.Base(path)
		if u.ledger.Has(name) {
			continue
		}

		size, err := u.upload(ctx, path)
		if err != nil {
			if ctx.Err() != nil {
				return uploaded, ctx.Err()
			}
			if isRateLimited(err) {
				u.logger.Warn("Rate limited by server, deferring remaining files", zap.Error(err))
				return uploaded, nil
			}
			u.logger.Error("Upload failed", zap.String("file", name), zap.Error(err))
			continue
		}

		if err := u.ledger.Mark(name, size); err != nil {
			u.logger.Error("Failed to record upload", zap.String("file", name), zap.Error(err))
		}
		uploaded++
	}
	return uploaded, nil
}

// upload sends one file with retries and returns its size.
func (u *Uploader) upload(ctx context.Context, path string) (int64, error) {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			delay := time.Duration(math.Pow(2, float64(attempt-1))) * u.retryDelay
			u.logger.Warn("Retrying upload",
				zap.String("file", filepath.Base(path)),
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay))
			if err := sleep(ctx, delay); err != nil {
				return 0, err
			}
		}

		size, err := u.doUpload(ctx, path)
		if err == nil {
			return size, nil
		}
		if isRateLimited(err) || ctx.Err() != nil {
			return 0, err
		}
		lastErr = err
	}
	return 0, fmt.Errorf("all retries exhausted: %w", lastErr)
}

// doUpload performs a single multipart POST to /upload_pcap.
func (u *Uploader) doUpload(ctx context.Context, path string) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open snapshot: %w", err)
	}
	defer f.Close()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("pcap_file", filepath.Base(path))
	if err != nil {
		return 0, fmt.Errorf("create form file: %w", err)
	}
	size, err := io.Copy(part, f)
	if err != nil {
		return 0, fmt.Errorf("read snapshot: %w", err)
	}
	if err := mw.WriteField("laptop_id", u.cfg.StationID); err != nil {
		return 0, fmt.Errorf("write form field: %w", err)
	}
	if err := mw.Close(); err != nil {
		return 0, fmt.Errorf("finalize form: %w", err)
	}

	url := strings.TrimSuffix(u.cfg.ServerURL, "/") + "/upload_pcap"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &body)
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := u.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	var reply models.MessageResponse
	_ = json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&reply)
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode == http.StatusTooManyRequests {
		return 0, &rateLimitError{statusCode: resp.StatusCode}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return 0, fmt.Errorf("server returned %d: %s", resp.StatusCode, reply.Message)
	}

	u.logger.Info("Uploaded snapshot",
		zap.String("file", filepath.Base(path)),
		zap.String("size", humanize.Bytes(uint64(size))),
		zap.String("reply", reply.Message))
	return size, nil
}

// rateLimitError indicates the server returned HTTP 429.
type rateLimitError struct {
	statusCode int
}

func (e *rateLimitError) Error() string {
	return fmt.Sprintf("rate limited (%d)", e.statusCode)
}

func isRateLimited(err error) bool {
	var rl *rateLimitError
	return errors.As(err, &rl)
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
