// Package main runs the central server that collects coverage-gap
// snapshots from monitoring stations and serves operator messages.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/vamsipavuluri9/Multi-Channel-Vehicular-Communication/internal/config"
	"github.com/vamsipavuluri9/Multi-Channel-Vehicular-Communication/internal/logging"
	"github.com/vamsipavuluri9/Multi-Channel-Vehicular-Communication/internal/server"
	"github.com/vamsipavuluri9/Multi-Channel-Vehicular-Communication/internal/store"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "", "Path to configuration file (default: search standard locations)")
	listen := flag.String("listen", "", "Listen address, overrides config")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("obumon-server %s\n", version)
		return
	}

	path := *configPath
	if path == "" {
		path = config.Locate()
	}
	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *listen != "" {
		cfg.Server.Listen = *listen
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		logger.Warn("Log file unavailable, logging to console only", zap.Error(err))
	}
	defer logger.Sync()

	if err := cfg.ValidateServer(); err != nil {
		logger.Fatal("Invalid configuration", zap.Error(err))
	}

	var st store.Store
	if cfg.Server.DBPath == "" {
		logger.Info("Using in-memory upload index")
		st = store.NewMemoryStore()
	} else {
		sqlite, err := store.OpenSQLite(cfg.Server.DBPath)
		if err != nil {
			logger.Fatal("Failed to open database", zap.String("path", cfg.Server.DBPath), zap.Error(err))
		}
		st = sqlite
	}
	defer st.Close()

	srv := server.New(server.Config{
		Addr:         cfg.Server.Listen,
		UploadDir:    cfg.Server.UploadDir,
		ReadTimeout:  time.Minute,
		WriteTimeout: time.Minute,
		IdleTimeout:  2 * time.Minute,
	}, server.Dependencies{
		Logger: logger,
		Store:  st,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	grp, groupCtx := errgroup.WithContext(ctx)
	grp.Go(func() error {
		logger.Info("Server listening",
			zap.String("addr", srv.Addr),
			zap.String("upload_dir", cfg.Server.UploadDir),
			zap.String("version", version))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	grp.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := grp.Wait(); err != nil {
		logger.Error("Server stopped with error", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
	logger.Info("Server stopped")
}
