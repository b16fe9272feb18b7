// Package monitor drives coverage-gap detection against one unit.
// The Loop connects, samples both log sizes once per interval, feeds the
// stall and halt detectors, opens and closes snapshot windows on phase
// changes and publishes the stalled and halted flags. It terminates once
// the transmit log halts.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"github.com/vamsipavuluri9/Multi-Channel-Vehicular-Communication/internal/capture"
	"github.com/vamsipavuluri9/Multi-Channel-Vehicular-Communication/internal/collector"
	"github.com/vamsipavuluri9/Multi-Channel-Vehicular-Communication/internal/detector"
	"github.com/vamsipavuluri9/Multi-Channel-Vehicular-Communication/internal/flags"
	"github.com/vamsipavuluri9/Multi-Channel-Vehicular-Communication/internal/models"
	"github.com/vamsipavuluri9/Multi-Channel-Vehicular-Communication/internal/remote"
	"github.com/vamsipavuluri9/Multi-Channel-Vehicular-Communication/internal/snapshot"
)

// State is the loop's lifecycle position.
type State int32

const (
	Connecting State = iota
	Polling
	Terminated
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Polling:
		return "polling"
	case Terminated:
		return "terminated"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Session is a live connection to the unit.
type Session interface {
	collector.Runner
	capture.Fetcher
	Close() error
}

// Dialer opens sessions.
type Dialer interface {
	Dial(ctx context.Context) (Session, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context) (Session, error)

// Dial calls f.
func (f DialerFunc) Dial(ctx context.Context) (Session, error) { return f(ctx) }

// Sampler reads one sample per tick.
type Sampler interface {
	Collect(ctx context.Context, r collector.Runner) (models.Sample, error)
}

// Snapshots opens and closes stall windows.
type Snapshots interface {
	OpenWindow(ctx context.Context, f capture.Fetcher, label string) (snapshot.Window, error)
	CloseWindow(ctx context.Context, f capture.Fetcher, label string) (snapshot.Result, error)
	WindowOpen() bool
}

// Config holds the loop's timing, thresholds and flag names.
type Config struct {
	Interval        time.Duration
	ReconnectDelay  time.Duration
	StallThreshold  int
	ResumeThreshold int
	HaltThreshold   int
	StalledFlag     string
	HaltedFlag      string
}

// Loop is the poll loop. It is not safe for concurrent Run calls.
type Loop struct {
	cfg     Config
	dialer  Dialer
	sampler Sampler
	snaps   Snapshots
	flags   flags.Publisher
	logger  *zap.Logger

	stall detector.StallDetector
	halt  detector.HaltDetector
	rx    detector.ChannelState
	tx    detector.HaltState

	state atomic.Int32
}

// New creates a Loop. Detector state starts fresh and is kept for the
// life of the Loop, across reconnects.
func New(cfg Config, dialer Dialer, sampler Sampler, snaps Snapshots, pub flags.Publisher, logger *zap.Logger) *Loop {
	if cfg.StalledFlag == "" {
		cfg.StalledFlag = flags.Stalled
	}
	if cfg.HaltedFlag == "" {
		cfg.HaltedFlag = flags.Halted
	}
	return &Loop{
		cfg:     cfg,
		dialer:  dialer,
		sampler: sampler,
		snaps:   snaps,
		flags:   pub,
		logger:  logger.Named("monitor"),
		stall:   detector.StallDetector{StallThreshold: cfg.StallThreshold, ResumeThreshold: cfg.ResumeThreshold},
		halt:    detector.HaltDetector{Threshold: cfg.HaltThreshold},
		rx:      detector.NewChannelState(),
		tx:      detector.NewHaltState(),
	}
}

// State returns the current lifecycle state.
func (l *Loop) State() State { return State(l.state.Load()) }

// Halted reports whether the transmit log has been declared halted.
func (l *Loop) Halted() bool { return l.tx.Halted }

// Phase returns the current receive phase.
func (l *Loop) Phase() detector.Phase { return l.rx.Phase }

func (l *Loop) setState(s State) {
	if State(l.state.Swap(int32(s))) != s {
		l.logger.Debug("State changed", zap.Stringer("state", s))
	}
}

// Run blocks until the transmit log halts or ctx is cancelled. Both cases
// return nil; every session opened is closed before Run returns.
func (l *Loop) Run(ctx context.Context) error {
	defer l.setState(Terminated)

	// Markers left by a previous run are not live conditions.
	for _, name := range []string{l.cfg.StalledFlag, l.cfg.HaltedFlag} {
		if err := l.flags.Clear(name); err != nil {
			l.logger.Warn("Failed to clear stale flag", zap.String("flag", name), zap.Error(err))
		}
	}

	for {
		l.setState(Connecting)
		sess, err := l.connect(ctx)
		if err != nil {
			return nil
		}

		halted, err := l.poll(ctx, sess)
		if halted {
			return nil
		}
		if ctx.Err() != nil {
			return nil
		}
		l.logger.Warn("Session lost, reconnecting",
			zap.Error(err),
			zap.Duration("delay", l.cfg.ReconnectDelay),
		)
		if err := sleep(ctx, l.cfg.ReconnectDelay); err != nil {
			return nil
		}
	}
}

// connect dials until it succeeds or ctx is cancelled, waiting the fixed
// reconnect delay between attempts.
func (l *Loop) connect(ctx context.Context) (Session, error) {
	for {
		sess, err := l.dialer.Dial(ctx)
		if err == nil {
			l.logger.Info("Connected to unit")
			return sess, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		l.logger.Warn("Connect failed",
			zap.Error(err),
			zap.Duration("retry_in", l.cfg.ReconnectDelay),
		)
		if err := sleep(ctx, l.cfg.ReconnectDelay); err != nil {
			return nil, err
		}
	}
}

// poll ticks immediately and then every interval until the unit halts,
// the session fails or ctx is cancelled. The session is always closed.
func (l *Loop) poll(ctx context.Context, sess Session) (bool, error) {
	defer func() {
		if err := sess.Close(); err != nil {
			l.logger.Debug("Session close", zap.Error(err))
		}
	}()
	l.setState(Polling)

	ticker := time.NewTicker(l.cfg.Interval)
	defer ticker.Stop()

	for {
		halted, err := l.tick(ctx, sess)
		if halted || err != nil {
			return halted, err
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-ticker.C:
		}
	}
}

// tick runs one sample through both detectors. Stall entry and exit are
// handled before the halt latch. A non-nil error is a transport failure.
func (l *Loop) tick(ctx context.Context, sess Session) (bool, error) {
	sample, err := l.sampler.Collect(ctx, sess)
	if err != nil {
		return false, fmt.Errorf("probing log sizes: %w", err)
	}

	var tr detector.Transition
	l.rx, tr = l.stall.Step(l.rx, sample.RX)
	var latched bool
	l.tx, latched = l.halt.Step(l.tx, sample.TX)

	l.logger.Info("Tick",
		zap.String("rx", formatSize(sample.RX)),
		zap.String("tx", formatSize(sample.TX)),
		zap.Stringer("phase", l.rx.Phase),
		zap.Stringer("transition", tr),
		zap.Int("stall_run", l.rx.StallRun),
		zap.Int("growth_run", l.rx.GrowthRun),
		zap.Int("steady_run", l.tx.SteadyRun),
		zap.Bool("window_open", l.snaps.WindowOpen()),
	)

	switch {
	case l.rx.Phase == detector.Stalled && !l.snaps.WindowOpen():
		if err := l.openWindow(ctx, sess); err != nil {
			return false, err
		}
	case l.rx.Phase == detector.Growing && l.snaps.WindowOpen():
		if err := l.closeWindow(ctx, sess); err != nil {
			return false, err
		}
	}

	if latched {
		l.logger.Warn("TX log halted", zap.Int("steady_run", l.tx.SteadyRun))
	}
	if l.tx.Halted {
		l.finish(ctx, sess)
		return true, nil
	}
	return false, nil
}

func (l *Loop) openWindow(ctx context.Context, sess Session) error {
	w, err := l.snaps.OpenWindow(ctx, sess, snapshot.LabelNormal)
	if err != nil {
		if isTransport(ctx, err) {
			return fmt.Errorf("opening window: %w", err)
		}
		l.logger.Warn("Failed to open snapshot window, retrying next tick", zap.Error(err))
		return nil
	}
	l.logger.Info("RX stalled, snapshot window opened", zap.Int("start_index", w.StartIndex))
	if err := l.flags.Set(l.cfg.StalledFlag); err != nil {
		l.logger.Warn("Failed to set flag", zap.String("flag", l.cfg.StalledFlag), zap.Error(err))
	}
	return nil
}

func (l *Loop) closeWindow(ctx context.Context, sess Session) error {
	res, err := l.snaps.CloseWindow(ctx, sess, snapshot.LabelNormal)
	if err != nil {
		if isTransport(ctx, err) {
			return fmt.Errorf("closing window: %w", err)
		}
		l.logger.Warn("Failed to write snapshot, window kept open", zap.Error(err))
		return nil
	}
	l.logSnapshot("RX resumed, snapshot saved", res)
	if err := l.flags.Clear(l.cfg.StalledFlag); err != nil {
		l.logger.Warn("Failed to clear flag", zap.String("flag", l.cfg.StalledFlag), zap.Error(err))
	}
	return nil
}

// finish performs the terminal halt sequence. The final snapshot is best
// effort: the halted flag is published and the loop ends either way.
func (l *Loop) finish(ctx context.Context, sess Session) {
	if l.snaps.WindowOpen() {
		res, err := l.snaps.CloseWindow(ctx, sess, snapshot.LabelFinal)
		if err != nil {
			l.logger.Error("Final snapshot failed", zap.Error(err))
		} else {
			l.logSnapshot("Final snapshot saved", res)
			if err := l.flags.Clear(l.cfg.StalledFlag); err != nil {
				l.logger.Warn("Failed to clear flag", zap.String("flag", l.cfg.StalledFlag), zap.Error(err))
			}
		}
	} else {
		l.logger.Info("No open window at halt, skipping final snapshot")
	}
	if err := l.flags.Set(l.cfg.HaltedFlag); err != nil {
		l.logger.Warn("Failed to set flag", zap.String("flag", l.cfg.HaltedFlag), zap.Error(err))
	}
	l.logger.Info("Monitoring terminated")
}

func (l *Loop) logSnapshot(msg string, res snapshot.Result) {
	l.logger.Info(msg,
		zap.String("path", res.Path),
		zap.Int("start", res.Start),
		zap.Int("end", res.End),
		zap.Int("packets", res.Packets),
	)
}

// isTransport reports whether err means the session must be replaced.
func isTransport(ctx context.Context, err error) bool {
	return errors.Is(err, remote.ErrSessionLost) || ctx.Err() != nil
}

func formatSize(n int64) string {
	if !models.Known(n) {
		return "unknown"
	}
	return humanize.Comma(n)
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
