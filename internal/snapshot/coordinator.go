// Package snapshot turns coverage-gap boundaries into capture files.
//
// The Coordinator keeps the latest full pull of the unit's transmit capture
// and at most one open Window. A window remembers the packet count at the
// moment a stall began; closing it pulls again and writes every packet
// appended since then to its own file.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vamsipavuluri9/Multi-Channel-Vehicular-Communication/internal/capture"
)

// Labels used for snapshot files.
const (
	LabelNormal = "normal"
	LabelFinal  = "final"
)

// FilePattern matches snapshot files in the output directory.
const FilePattern = "tx_clean_*.pcap"

var (
	// ErrWindowOpen is returned when opening a window while one is pending.
	ErrWindowOpen = errors.New("snapshot window already open")
	// ErrNoWindow is returned when closing without an open window.
	ErrNoWindow = errors.New("no snapshot window open")
)

// Store pulls the remote capture and writes packet ranges to new files.
type Store interface {
	Pull(ctx context.Context, f capture.Fetcher) (*capture.File, error)
	Write(path string, src *capture.File, packets []capture.Packet) error
}

// Window is an open stall episode. StartIndex is relative to the cache
// as it was when the window opened.
type Window struct {
	StartIndex int
	Label      string
	OpenedAt   time.Time
}

// Result describes a written snapshot.
type Result struct {
	Path    string
	Start   int
	End     int
	Packets int
}

// Coordinator owns the packet cache and the open window.
type Coordinator struct {
	store  Store
	dir    string
	logger *zap.Logger
	now    func() time.Time

	// mu makes open/close a critical section so the single-window
	// invariant holds even if callers share the coordinator.
	mu     sync.Mutex
	cache  *capture.File
	window *Window
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithClock overrides the clock used for window and file timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		if now != nil {
			c.now = now
		}
	}
}

// New creates a Coordinator writing snapshots into dir.
func New(store Store, dir string, logger *zap.Logger, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:  store,
		dir:    dir,
		logger: logger.Named("snapshot"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Pull refreshes the cache. On failure the previous cache is kept.
func (c *Coordinator) Pull(ctx context.Context, f capture.Fetcher) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pull(ctx, f)
}

func (c *Coordinator) pull(ctx context.Context, f capture.Fetcher) error {
	file, err := c.store.Pull(ctx, f)
	if err != nil {
		c.logger.Warn("TX pull failed", zap.Error(err))
		return fmt.Errorf("pull capture: %w", err)
	}
	c.cache = file
	c.logger.Info("Pulled full TX", zap.Int("packets", file.Len()))
	return nil
}

// OpenWindow pulls the capture and opens a window starting at the current
// packet count. If the pull fails no window is opened.
func (c *Coordinator) OpenWindow(ctx context.Context, f capture.Fetcher, label string) (Window, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.window != nil {
		return *c.window, ErrWindowOpen
	}
	if err := c.pull(ctx, f); err != nil {
		return Window{}, err
	}
	w := Window{
		StartIndex: c.cache.Len(),
		Label:      label,
		OpenedAt:   c.now(),
	}
	c.window = &w
	c.logger.Info("Window opened",
		zap.String("label", label),
		zap.Int("start_index", w.StartIndex))
	return w, nil
}

// CloseWindow pulls the capture and writes packets [start, end) to a new
// file named after label and the close time, where end is the fresh packet
// count and start is clamped into [0, end]. The window is cleared only when
// the file has been written; otherwise it stays open for a retry.
func (c *Coordinator) CloseWindow(ctx context.Context, f capture.Fetcher, label string) (Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.window == nil {
		return Result{}, ErrNoWindow
	}
	if err := c.pull(ctx, f); err != nil {
		return Result{}, err
	}

	end := c.cache.Len()
	start := c.window.StartIndex
	if start > end {
		c.logger.Warn("Window start beyond fresh capture, clamping",
			zap.Int("start_index", start),
			zap.Int("packets", end))
		start = end
	}
	if start < 0 {
		start = 0
	}

	packets := c.cache.Slice(start, end)
	path := filepath.Join(c.dir, FileName(label, c.now()))
	if err := c.store.Write(path, c.cache, packets); err != nil {
		c.logger.Error("Snapshot write failed", zap.String("file", path), zap.Error(err))
		return Result{}, fmt.Errorf("write snapshot: %w", err)
	}

	c.window = nil
	res := Result{Path: path, Start: start, End: end, Packets: len(packets)}
	c.logger.Info("Snapshot saved",
		zap.String("file", filepath.Base(path)),
		zap.Int("packets", res.Packets))
	return res, nil
}

// WindowOpen reports whether a window is pending.
func (c *Coordinator) WindowOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.window != nil
}

// Window returns the open window, if any.
func (c *Coordinator) Window() (Window, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.window == nil {
		return Window{}, false
	}
	return *c.window, true
}

// CacheLen returns the packet count of the latest successful pull.
func (c *Coordinator) CacheLen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cache.Len()
}

// FileName returns the snapshot file name for label closed at t.
func FileName(label string, t time.Time) string {
	return fmt.Sprintf("tx_clean_%s_%s.pcap", label, t.Format("2006_01_02_15_04_05"))
}
