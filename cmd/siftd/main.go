// Package main provides siftd, the sift indexing daemon.
package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jamesainslie/sift/pkg/daemon"
	"github.com/jamesainslie/sift/pkg/daemon/watcher"
	"github.com/jamesainslie/sift/pkg/sift/analyzer"
	"github.com/jamesainslie/sift/pkg/sift/config"
	"github.com/jamesainslie/sift/pkg/sift/indexer"
	"github.com/jamesainslie/sift/pkg/sift/logging"
	"github.com/jamesainslie/sift/pkg/sift/staleness"
	"github.com/jamesainslie/sift/pkg/sift/store"

	_ "github.com/jamesainslie/sift/pkg/sift/store/badgerstore"
	_ "github.com/jamesainslie/sift/pkg/sift/store/sqlitestore"
)

// Set by go build -ldflags.
var version = "dev"

var cfgFile string

func main() {
	cmd := &cobra.Command{
		Use:           "siftd",
		Short:         "Serve the sift index over a unix socket",
		Args:          cobra.NoArgs,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(*cobra.Command, []string) error {
			return run()
		},
	}
	cmd.Flags().StringVar(&cfgFile, "config", "", "config file (default: ~/.config/sift/config.yaml)")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "siftd: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	v := config.New()
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	}
	cfg, err := config.Decode(v)
	if err != nil {
		return err
	}

	if err := logging.Init(cfg.LoggingConfig()); err != nil {
		return err
	}
	defer func() { _ = logging.Close() }()
	log := logging.Get("daemon")

	dcfg := daemon.Config{SocketPath: cfg.SocketPath(), PIDPath: cfg.PIDPath()}
	indexPath := cfg.IndexPath()

	if err := daemon.RecoverFromStaleDaemon(dcfg, indexPath); err != nil {
		if errors.Is(err, daemon.ErrDaemonAlreadyRunning) {
			return errors.New("siftd is already running")
		}
		return err
	}

	// fail records a startup error for the client waiting on the status file.
	fail := func(err error) error {
		_ = daemon.WriteStatusError(dcfg.StatusPath(), err)
		return err
	}

	if err := config.EnsureDataDir(); err != nil {
		return fail(err)
	}
	if err := os.MkdirAll(filepath.Dir(indexPath), 0o755); err != nil {
		return fail(fmt.Errorf("creating index directory: %w", err))
	}
	st, err := store.Open(cfg.Index.Backend, indexPath)
	if err != nil {
		return fail(err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			log.Warn("failed to close index", "error", err)
		}
	}()

	defaults, err := cfg.ScanOptions()
	if err != nil {
		return fail(err)
	}
	mode, err := staleness.ParseMode(cfg.Index.Staleness)
	if err != nil {
		return fail(err)
	}
	a := analyzer.New(indexer.New(st), analyzer.Config{
		Staleness:       mode,
		TopN:            cfg.Stats.TopN,
		StatConcurrency: cfg.Scan.StatConcurrency,
	})
	svc := daemon.NewService(a, nil, daemon.ServiceConfig{
		Defaults: defaults,
		Debounce: cfg.Daemon.Debounce,
		Version:  version,
	})

	if cfg.Daemon.Watch {
		w, err := watcher.New()
		if err != nil {
			log.Warn("file watching unavailable", "error", err)
		} else {
			defer func() { _ = w.Close() }()
			svc.SetWatcher(w)
		}
	}

	srv, err := daemon.NewServer(dcfg, svc)
	if err != nil {
		svc.Close()
		return fail(err)
	}

	if err := daemon.WritePIDFile(dcfg.PIDPath); err != nil {
		_ = srv.Close()
		return fail(fmt.Errorf("writing pid file: %w", err))
	}
	defer func() {
		if err := daemon.RemovePIDFile(dcfg.PIDPath); err != nil {
			log.Warn("failed to remove PID file", "error", err)
		}
		_ = daemon.RemoveStatus(dcfg.StatusPath())
	}()
	if err := daemon.WriteStatusReady(dcfg.StatusPath()); err != nil {
		log.Warn("failed to write status file", "error", err)
	}

	// The service calls this at most once.
	stop := make(chan struct{})
	svc.SetShutdown(func() { close(stop) })

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			log.Info("received signal", "signal", sig)
		case <-stop:
		}
		log.Info("shutting down")
		if err := srv.Close(); err != nil {
			log.Warn("error during shutdown", "error", err)
		}
	}()

	log.Info("siftd started", "socket", dcfg.SocketPath, "backend", st.Backend(), "index", indexPath,
		"watch", cfg.Daemon.Watch, "version", version)
	return srv.Serve()
}
