package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"

	siftv1 "github.com/jamesainslie/sift/pkg/api/sift/v1"
	"github.com/jamesainslie/sift/pkg/client"
	"github.com/jamesainslie/sift/pkg/daemon"
	"github.com/jamesainslie/sift/pkg/sift/analyzer"
	"github.com/jamesainslie/sift/pkg/sift/config"
	"github.com/jamesainslie/sift/pkg/sift/dupes"
	"github.com/jamesainslie/sift/pkg/sift/indexer"
	"github.com/jamesainslie/sift/pkg/sift/logging"
	"github.com/jamesainslie/sift/pkg/sift/progress"
	"github.com/jamesainslie/sift/pkg/sift/staleness"
	"github.com/jamesainslie/sift/pkg/sift/store"
	"github.com/jamesainslie/sift/pkg/sift/types"

	_ "github.com/jamesainslie/sift/pkg/sift/store/badgerstore"
	_ "github.com/jamesainslie/sift/pkg/sift/store/sqlitestore"
)

// errDaemonRequired is returned when --force-daemon is set and no daemon
// answers.
var errDaemonRequired = errors.New("daemon unavailable but --force-daemon was specified")

// backend answers commands, either through siftd or from a local index.
type backend interface {
	Analyze(ctx context.Context, root string, opts types.ScanOptions, duplicates, force bool, rep *progress.Reporter) (*analyzer.Report, error)
	Rebuild(ctx context.Context, root string, opts types.ScanOptions, rep *progress.Reporter) (*siftv1.RebuildResult, error)
	Duplicates(ctx context.Context, root string, opts types.ScanOptions, rep *progress.Reporter) ([]dupes.DuplicateGroup, error)
	Find(ctx context.Context, req *siftv1.FindRequest, opts types.ScanOptions, rep *progress.Reporter) ([]types.IndexEntry, error)
	Status(ctx context.Context, root string) (*siftv1.StatusResponse, error)
	Clear(ctx context.Context, root string) (int64, error)

	// Progress returns the reporter to hand to a call on root and the
	// events that call produces. The reporter may be nil.
	Progress(ctx context.Context, root string) (*progress.Reporter, <-chan progress.Event)

	// Daemon reports whether answers come from siftd and whether it watches.
	Daemon() (up, watching bool)
	Close() error
}

// daemonPaths returns where siftd lives according to the configuration.
func daemonPaths() client.DaemonPaths {
	return client.DaemonPaths{
		Binary: cfg.Daemon.BinaryPath,
		Socket: cfg.SocketPath(),
		PID:    cfg.PIDPath(),
		Config: cfgFile,
	}
}

// selectBackend connects to siftd when it runs (starting it first with
// daemon.auto_start) and otherwise opens the index directly.
func selectBackend(ctx context.Context) (backend, error) {
	if !v.GetBool("no_daemon") {
		paths := daemonPaths()
		if cfg.Daemon.AutoStart {
			if err := client.EnsureDaemon(paths); err != nil {
				printVerbose("daemon auto-start failed: %v", err)
			}
		}
		if client.IsDaemonRunning(paths.PID) {
			be, err := connectDaemon(ctx, paths.Socket)
			if err == nil {
				printVerbose("using daemon at %s", paths.Socket)
				return be, nil
			}
			printVerbose("daemon connection failed: %v", err)
		}
	}
	if v.GetBool("force_daemon") {
		return nil, errDaemonRequired
	}
	l, err := newLocalBackend(cfg)
	if err != nil {
		return nil, err
	}
	return l, nil
}

func connectDaemon(ctx context.Context, socket string) (*daemonBackend, error) {
	dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	c, err := client.ConnectWithContext(dialCtx, socket)
	if err != nil {
		return nil, err
	}
	status, err := c.Status(dialCtx, "")
	if err != nil {
		_ = c.Close()
		return nil, err
	}
	return &daemonBackend{client: c, watching: status.Watching}, nil
}

// daemonBackend forwards every call to siftd.
type daemonBackend struct {
	client   *client.Client
	watching bool
}

func (d *daemonBackend) Analyze(ctx context.Context, root string, opts types.ScanOptions, duplicates, force bool, _ *progress.Reporter) (*analyzer.Report, error) {
	return d.client.Analyze(ctx, root, opts, duplicates, force)
}

func (d *daemonBackend) Rebuild(ctx context.Context, root string, opts types.ScanOptions, _ *progress.Reporter) (*siftv1.RebuildResult, error) {
	return d.client.Rebuild(ctx, root, opts, true)
}

func (d *daemonBackend) Duplicates(ctx context.Context, root string, opts types.ScanOptions, _ *progress.Reporter) ([]dupes.DuplicateGroup, error) {
	resp, err := d.client.Duplicates(ctx, root, opts)
	if err != nil {
		return nil, err
	}
	return resp.Groups, nil
}

// Find uses the daemon's scan defaults; opts only apply to local indexes.
func (d *daemonBackend) Find(ctx context.Context, req *siftv1.FindRequest, _ types.ScanOptions, _ *progress.Reporter) ([]types.IndexEntry, error) {
	return d.client.Find(ctx, req)
}

func (d *daemonBackend) Status(ctx context.Context, root string) (*siftv1.StatusResponse, error) {
	return d.client.Status(ctx, root)
}

func (d *daemonBackend) Clear(ctx context.Context, root string) (int64, error) {
	return d.client.Clear(ctx, root)
}

// Progress follows the daemon's progress stream for root.
func (d *daemonBackend) Progress(ctx context.Context, root string) (*progress.Reporter, <-chan progress.Event) {
	out := make(chan progress.Event, progress.DefaultBuffer)
	stream, err := d.client.WatchProgress(ctx, root, true)
	if err != nil {
		printVerbose("progress stream unavailable: %v", err)
		close(out)
		return nil, out
	}
	go func() {
		defer close(out)
		for ev := range stream {
			select {
			case out <- ev.Event:
			case <-ctx.Done():
				return
			}
			if ev.Done {
				return
			}
		}
	}()
	return nil, out
}

func (d *daemonBackend) Daemon() (up, watching bool) {
	return true, d.watching
}

func (d *daemonBackend) Close() error {
	return d.client.Close()
}

// localBackend opens the index in process. Without an index, for example
// while siftd holds the badger lock, reports fall back to direct scans.
type localBackend struct {
	store    store.Store
	analyzer *analyzer.Analyzer
	log      *log.Logger
}

func newLocalBackend(cfg *config.Config) (*localBackend, error) {
	mode, err := staleness.ParseMode(cfg.Index.Staleness)
	if err != nil {
		return nil, fmt.Errorf("index.staleness: %w", err)
	}
	l := &localBackend{log: logging.Get("cli")}

	path := cfg.IndexPath()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		l.log.Warn("cannot create index directory", "path", path, "error", err)
	} else if st, err := store.Open(cfg.Index.Backend, path); err != nil {
		l.log.Warn("index unavailable, falling back to direct scans", "backend", cfg.Index.Backend, "path", path, "error", err)
		printVerbose("index unavailable: %v", err)
	} else {
		l.store = st
	}

	var idx *indexer.Indexer
	if l.store != nil {
		idx = indexer.New(l.store)
	}
	l.analyzer = analyzer.New(idx, analyzer.Config{
		Staleness:       mode,
		TopN:            cfg.Stats.TopN,
		StatConcurrency: cfg.Scan.StatConcurrency,
	})
	return l, nil
}

func (l *localBackend) Analyze(ctx context.Context, root string, opts types.ScanOptions, duplicates, force bool, rep *progress.Reporter) (*analyzer.Report, error) {
	return l.analyzer.Analyze(ctx, analyzer.Request{
		Root:       root,
		Options:    opts,
		Duplicates: duplicates,
		Force:      force,
		Reporter:   rep,
	})
}

func (l *localBackend) Rebuild(ctx context.Context, root string, opts types.ScanOptions, rep *progress.Reporter) (*siftv1.RebuildResult, error) {
	res, err := l.analyzer.Rebuild(ctx, analyzer.Request{Root: root, Options: opts, Reporter: rep})
	if err != nil {
		return nil, err
	}
	return siftv1.NewRebuildResult(res), nil
}

func (l *localBackend) Duplicates(ctx context.Context, root string, opts types.ScanOptions, rep *progress.Reporter) ([]dupes.DuplicateGroup, error) {
	if l.store == nil {
		report, err := l.analyzer.QuickScan(ctx, analyzer.Request{Root: root, Options: opts, Duplicates: true, Reporter: rep})
		if err != nil {
			return nil, err
		}
		return report.DuplicateFiles, nil
	}
	if _, err := l.analyzer.Ensure(ctx, analyzer.Request{Root: root, Options: opts, Reporter: rep}); err != nil {
		return nil, err
	}
	return dupes.NewDetector(l.store).FindDuplicates(ctx, root, opts.Recurse)
}

func (l *localBackend) Find(ctx context.Context, req *siftv1.FindRequest, opts types.ScanOptions, rep *progress.Reporter) ([]types.IndexEntry, error) {
	if l.store == nil {
		return nil, types.IndexError("find", analyzer.ErrNoIndex)
	}
	f, err := daemon.FilterFromRequest(req)
	if err != nil {
		return nil, err
	}
	opts.Recurse = req.Recurse
	if _, err := l.analyzer.Ensure(ctx, analyzer.Request{Root: req.Root, Options: opts, Reporter: rep}); err != nil {
		return nil, err
	}
	return f.Find(ctx, l.store, req.Root, req.Recurse)
}

// Status describes the local index in the daemon's terms so both render
// the same way.
func (l *localBackend) Status(ctx context.Context, root string) (*siftv1.StatusResponse, error) {
	if l.store == nil {
		return nil, types.IndexError("status", analyzer.ErrNoIndex)
	}
	resp := &siftv1.StatusResponse{Backend: l.store.Backend()}
	n, err := l.store.Count(ctx)
	if err != nil {
		return nil, types.IndexError("count", err)
	}
	resp.Entries = n

	recs, err := l.store.Roots(ctx)
	if err != nil {
		return nil, types.IndexError("roots", err)
	}
	for _, rec := range recs {
		if root != "" && !store.IsUnder(root, rec.Root) && !store.IsUnder(rec.Root, root) {
			continue
		}
		resp.Roots = append(resp.Roots, siftv1.RootStatus{
			Root:       rec.Root,
			State:      siftv1.RootStateReady,
			Generation: rec.Generation,
			Files:      rec.Files,
			Folders:    rec.Folders,
			TotalSize:  rec.TotalSize,
			ErrorCount: rec.Errors,
		})
	}
	return resp, nil
}

// Clear drops the snapshot of root, or of every root when root is empty.
func (l *localBackend) Clear(ctx context.Context, root string) (int64, error) {
	if l.store == nil {
		return 0, types.IndexError("clear", analyzer.ErrNoIndex)
	}
	targets := []string{root}
	if root == "" {
		recs, err := l.store.Roots(ctx)
		if err != nil {
			return 0, types.IndexError("roots", err)
		}
		targets = targets[:0]
		for _, rec := range recs {
			targets = append(targets, rec.Root)
		}
	}

	var total int64
	for _, target := range targets {
		n, err := l.analyzer.Indexer().DeleteSubtree(ctx, target)
		if err != nil {
			return total, fmt.Errorf("clear %s: %w", target, err)
		}
		total += n
	}
	l.log.Info("cleared index", "root", root, "entries", total)
	return total, nil
}

func (l *localBackend) Progress(_ context.Context, _ string) (*progress.Reporter, <-chan progress.Event) {
	rep := progress.New(progress.DefaultBuffer)
	return rep, rep.Events()
}

func (l *localBackend) Daemon() (up, watching bool) {
	return false, false
}

func (l *localBackend) Close() error {
	if l.store == nil {
		return nil
	}
	return l.store.Close()
}
