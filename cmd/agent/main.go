// Package main is the entry point for the OBU coverage-gap monitor agent.
// It loads configuration, then runs the monitor, the snapshot uploader and
// the message relay, either in the foreground or as a Windows service.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/vamsipavuluri9/Multi-Channel-Vehicular-Communication/internal/autostart"
	"github.com/vamsipavuluri9/Multi-Channel-Vehicular-Communication/internal/capture"
	"github.com/vamsipavuluri9/Multi-Channel-Vehicular-Communication/internal/collector"
	"github.com/vamsipavuluri9/Multi-Channel-Vehicular-Communication/internal/config"
	"github.com/vamsipavuluri9/Multi-Channel-Vehicular-Communication/internal/flags"
	"github.com/vamsipavuluri9/Multi-Channel-Vehicular-Communication/internal/ledger"
	"github.com/vamsipavuluri9/Multi-Channel-Vehicular-Communication/internal/logging"
	"github.com/vamsipavuluri9/Multi-Channel-Vehicular-Communication/internal/monitor"
	"github.com/vamsipavuluri9/Multi-Channel-Vehicular-Communication/internal/relay"
	"github.com/vamsipavuluri9/Multi-Channel-Vehicular-Communication/internal/remote"
	"github.com/vamsipavuluri9/Multi-Channel-Vehicular-Communication/internal/service"
	"github.com/vamsipavuluri9/Multi-Channel-Vehicular-Communication/internal/snapshot"
	"github.com/vamsipavuluri9/Multi-Channel-Vehicular-Communication/internal/uploader"
)

var (
	// version is set at build time via -ldflags.
	version = "dev"

	configPath  = flag.String("config", "", "Path to configuration file (default: search standard locations)")
	hostFlag    = flag.String("host", "", "Unit address, overrides config")
	serverFlag  = flag.String("server", "", "Central server URL, overrides config")
	stationFlag = flag.String("station", "", "Station id reported to the central server, overrides config")
	showVersion = flag.Bool("version", false, "Show version and exit")
)

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: %s [flags] [monitor|upload|relay|run|init|install|uninstall]\n\n", os.Args[0])
	fmt.Fprintln(os.Stderr, "  monitor    watch the unit and write coverage-gap snapshots")
	fmt.Fprintln(os.Stderr, "  upload     deliver snapshots to the central server")
	fmt.Fprintln(os.Stderr, "  relay      forward operator messages to the unit while out of coverage")
	fmt.Fprintln(os.Stderr, "  run        all enabled subsystems together (default)")
	fmt.Fprintln(os.Stderr, "  init       write the effective configuration to -config (default obumon.yaml)")
	fmt.Fprintln(os.Stderr, "  install    register the agent to start at boot with the given -config")
	fmt.Fprintln(os.Stderr, "  uninstall  remove the boot-time registration")
	fmt.Fprintln(os.Stderr)
	flag.PrintDefaults()
}

func main() {
	flag.Usage = usage
	flag.Parse()

	if *showVersion {
		fmt.Printf("obumon-agent %s\n", version)
		os.Exit(0)
	}

	command := "run"
	if flag.NArg() > 0 {
		command = flag.Arg(0)
	}
	switch command {
	case "monitor", "upload", "relay", "run", "init":
	case "install", "uninstall":
		if err := manageAutostart(command, *configPath); err != nil {
			fmt.Fprintf(os.Stderr, "%s failed: %v\n", command, err)
			os.Exit(1)
		}
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", command)
		usage()
		os.Exit(2)
	}

	cli := config.CLIOverrides{Host: *hostFlag, ServerURL: *serverFlag, StationID: *stationFlag}
	var (
		cfg *config.Config
		err error
	)
	if *configPath != "" {
		cfg, err = config.LoadLayered(cli, *configPath)
	} else {
		cfg, err = config.LoadLayered(cli)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	if command == "init" {
		path := *configPath
		if path == "" {
			path = "obumon.yaml"
		}
		if err := config.WriteConfig(cfg, path); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to write config: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Configuration written to %s\n", path)
		return
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		logger.Warn("Log file unavailable, logging to console only", zap.Error(err))
	}
	defer logger.Sync()

	logger.Info("Starting OBU monitor",
		zap.String("version", version),
		zap.String("command", command),
		zap.String("unit", cfg.Unit.Host),
		zap.String("station", cfg.StationID))

	if err := cfg.Validate(); err != nil {
		logger.Fatal("Invalid configuration", zap.Error(err))
	}

	runFn := func(ctx context.Context) error {
		return runAgent(ctx, command, cfg, logger)
	}

	if service.IsWindowsService() {
		logger.Info("Running as Windows service")
		if err := service.New(logger, runFn).Run(); err != nil {
			logger.Fatal("Service failed", zap.Error(err))
		}
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("Received signal, shutting down",
			zap.String("signal", sig.String()))
		cancel()
	}()

	if err := runFn(ctx); err != nil {
		logger.Error("Agent failed", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
	logger.Info("Agent stopped")
}

// manageAutostart installs or removes the boot-time service. The service
// runs "run" against an absolute config path and uses that file's
// directory as its working directory.
func manageAutostart(command, cfgPath string) error {
	if cfgPath == "" {
		cfgPath = config.Locate()
	}
	if cfgPath == "" {
		return errors.New("no configuration file found; run init first or pass -config")
	}
	abs, err := filepath.Abs(cfgPath)
	if err != nil {
		return err
	}
	m := autostart.New(filepath.Dir(abs))

	if command == "uninstall" {
		if err := m.Uninstall(); err != nil {
			return err
		}
		fmt.Printf("Service %s removed\n", m.ServiceName())
		return nil
	}

	installed, err := m.IsInstalled()
	if err != nil {
		return err
	}
	if installed {
		fmt.Printf("Service %s is already installed\n", m.ServiceName())
		return nil
	}
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("locating executable: %w", err)
	}
	if err := m.Install(exe, []string{"-config", abs, "run"}); err != nil {
		return err
	}
	fmt.Printf("Service %s installed using %s\n", m.ServiceName(), abs)
	return nil
}

// runAgent starts the subsystems selected by command and blocks until they
// have all returned.
func runAgent(ctx context.Context, command string, cfg *config.Config, logger *zap.Logger) error {
	flagDir, err := flags.NewDir(cfg.Flags.Dir)
	if err != nil {
		return err
	}

	grp, groupCtx := errgroup.WithContext(ctx)
	all := command == "run"

	if command == "monitor" || all {
		// The relay must not see markers from a previous run.
		for _, name := range []string{flags.Stalled, flags.Halted} {
			if err := flagDir.Clear(name); err != nil {
				return fmt.Errorf("clearing %s: %w", name, err)
			}
		}
		loop, closeFn, err := newMonitor(cfg, flagDir, logger)
		if err != nil {
			return fmt.Errorf("init monitor: %w", err)
		}
		defer closeFn()
		grp.Go(func() error { return loop.Run(groupCtx) })
	}

	if command == "upload" || (all && cfg.Upload.Enabled) {
		l, err := ledger.Open(cfg.Upload.LedgerPath, logger)
		if err != nil {
			return fmt.Errorf("init uploader: %w", err)
		}
		up := uploader.New(uploader.Config{
			ServerURL: cfg.Server.URL,
			StationID: cfg.StationID,
			Dir:       cfg.Snapshot.Dir,
			Interval:  cfg.Upload.Interval.Duration,
		}, l, logger)
		grp.Go(func() error { return up.Run(groupCtx) })
	}

	if command == "relay" || (all && cfg.Relay.Enabled) {
		r, err := relay.New(relay.Config{
			ServerURL:     cfg.Server.URL,
			StationID:     cfg.StationID,
			Target:        cfg.Relay.Target,
			Interval:      cfg.Relay.Interval.Duration,
			RatePerMinute: cfg.Relay.RatePerMinute,
		}, flagDir, logger)
		if err != nil {
			return fmt.Errorf("init relay: %w", err)
		}
		defer r.Close()
		grp.Go(func() error { return r.Run(groupCtx) })
	}

	if err := grp.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// newMonitor wires the poll loop to the unit, the local capture cache and
// the flag publishers.
func newMonitor(cfg *config.Config, flagDir *flags.Dir, logger *zap.Logger) (*monitor.Loop, func(), error) {
	closeFn := func() {}

	var pub flags.Publisher = flagDir
	if cfg.Flags.MQTT.Enabled {
		clientID := cfg.Flags.MQTT.ClientID
		if clientID == "" {
			clientID = "obumon-" + cfg.StationID
		}
		mp, err := flags.NewMQTTPublisher(flags.MQTTConfig{
			Broker:      cfg.Flags.MQTT.Broker,
			ClientID:    clientID,
			TopicPrefix: cfg.Flags.MQTT.TopicPrefix,
			QoS:         byte(cfg.Flags.MQTT.QoS),
		}, logger)
		if err != nil {
			logger.Warn("MQTT unavailable, publishing flag files only", zap.Error(err))
		} else {
			pub = flags.Multi{flagDir, mp}
			closeFn = mp.Close
		}
	}

	if err := os.MkdirAll(cfg.Snapshot.Dir, 0750); err != nil {
		return nil, closeFn, fmt.Errorf("creating snapshot dir: %w", err)
	}
	cache, err := capture.NewStore(cfg.Snapshot.CacheFile)
	if err != nil {
		return nil, closeFn, err
	}
	coord := snapshot.New(cache, cfg.Snapshot.Dir, logger)

	client := remote.NewClient(remote.Config{
		Host:        cfg.Unit.Host,
		Port:        cfg.Unit.Port,
		User:        cfg.Unit.User,
		Password:    cfg.Unit.Password,
		KeyFile:     cfg.Unit.KeyFile,
		KnownHosts:  cfg.Unit.KnownHosts,
		DialTimeout: cfg.Unit.DialTimeout.Duration,
		CapturePath: cfg.Unit.TXPath,
	}, logger)
	dialer := monitor.DialerFunc(func(ctx context.Context) (monitor.Session, error) {
		sess, err := client.Dial(ctx)
		if err != nil {
			return nil, err
		}
		return sess, nil
	})

	sampler := collector.NewSampler(collector.NewSizeProbe(cfg.Unit.SizeCommands), cfg.Unit.RXPath, cfg.Unit.TXPath)

	loop := monitor.New(monitor.Config{
		Interval:        cfg.Monitor.Interval.Duration,
		ReconnectDelay:  cfg.Monitor.ReconnectDelay.Duration,
		StallThreshold:  cfg.Monitor.StallThreshold,
		ResumeThreshold: cfg.Monitor.ResumeThreshold,
		HaltThreshold:   cfg.Monitor.HaltThreshold,
	}, dialer, sampler, coord, pub, logger)

	logger.Info("Monitor configured",
		zap.String("unit", client.Addr()),
		zap.Duration("interval", cfg.Monitor.Interval.Duration),
		zap.String("snapshots", cfg.Snapshot.Dir))
	return loop, closeFn, nil
}
