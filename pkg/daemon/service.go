package daemon

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	siftv1 "github.com/jamesainslie/sift/pkg/api/sift/v1"
	"github.com/jamesainslie/sift/pkg/daemon/broadcaster"
	"github.com/jamesainslie/sift/pkg/daemon/watcher"
	"github.com/jamesainslie/sift/pkg/sift/analyzer"
	"github.com/jamesainslie/sift/pkg/sift/dupes"
	"github.com/jamesainslie/sift/pkg/sift/filter"
	"github.com/jamesainslie/sift/pkg/sift/logging"
	"github.com/jamesainslie/sift/pkg/sift/progress"
	"github.com/jamesainslie/sift/pkg/sift/stats"
	"github.com/jamesainslie/sift/pkg/sift/store"
	"github.com/jamesainslie/sift/pkg/sift/types"
)

// DefaultDebounce is the quiet period before a changed root is rebuilt.
const DefaultDebounce = 2 * time.Second

// rootState tracks what the daemon knows about a root beyond its record.
type rootState struct {
	state    siftv1.RootState
	progress int
	files    int64
	folders  int64
	lastErr  string

	// opts are the options of the last snapshot, reused for watch rebuilds.
	opts types.ScanOptions
}

// ServiceConfig configures a Service.
type ServiceConfig struct {
	// Defaults are the scan options for rebuilds triggered by the watcher.
	Defaults types.ScanOptions

	// Debounce is the quiet period after the last change before a watched
	// root is rebuilt.
	Debounce time.Duration

	// Version is reported by Status.
	Version string
}

// Service implements the SiftDaemon grpc service.
type Service struct {
	siftv1.UnimplementedSiftDaemonServer

	cfg         ServiceConfig
	analyzer    *analyzer.Analyzer
	store       store.Store
	broadcaster *broadcaster.Broadcaster
	watcher     *watcher.Watcher
	debouncer   *watcher.Debouncer
	startTime   time.Time
	log         *log.Logger

	// ctx bounds background rebuilds; Close cancels it.
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.RWMutex
	states map[string]*rootState
	closed bool

	shutdownOnce sync.Once
	onShutdown   func()
}

// NewService creates a service over a. The analyzer must have an index.
func NewService(a *analyzer.Analyzer, b *broadcaster.Broadcaster, cfg ServiceConfig) *Service {
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	cfg.Defaults.Normalize()
	if b == nil {
		b = broadcaster.New()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		cfg:         cfg,
		analyzer:    a,
		store:       a.Indexer().Store(),
		broadcaster: b,
		startTime:   time.Now(),
		log:         logging.Get("daemon"),
		ctx:         ctx,
		cancel:      cancel,
		states:      make(map[string]*rootState),
	}
}

// SetWatcher enables watching of analyzed roots. Changes under a watched
// root mark it dirty and rebuild it once the debounce period passed.
func (s *Service) SetWatcher(w *watcher.Watcher) {
	s.watcher = w
	s.debouncer = watcher.NewDebouncer(s.cfg.Debounce)

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		w.Run(s.ctx, s.onChange)
	}()
	go func() {
		defer s.wg.Done()
		s.rebuildDirty()
	}()
}

// SetShutdown sets the function the Shutdown RPC triggers.
func (s *Service) SetShutdown(fn func()) {
	s.onShutdown = fn
}

// Broadcaster returns the progress broadcaster.
func (s *Service) Broadcaster() *broadcaster.Broadcaster {
	return s.broadcaster
}

// Close stops background work and waits for it.
func (s *Service) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	if s.debouncer != nil {
		s.debouncer.Close()
	}
	s.wg.Wait()
	s.broadcaster.Close()
}

func absRoot(root string) (string, error) {
	if root == "" {
		return "", status.Error(codes.InvalidArgument, "root is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", status.Errorf(codes.InvalidArgument, "invalid root %q: %v", root, err)
	}
	return abs, nil
}

// toStatus maps domain errors onto grpc codes.
func toStatus(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, types.ErrRootUnavailable):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, filter.ErrInvalidPattern),
		errors.Is(err, filter.ErrInvalidSortField),
		errors.Is(err, filter.ErrInvalidKind),
		errors.Is(err, stats.ErrInvalidCategory),
		errors.Is(err, types.ErrInvalidSize):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, types.ErrIndexUnavailable):
		return status.Error(codes.Unavailable, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

// track returns a reporter whose events are published for root. The
// returned function closes it, publishes the final event and records the
// outcome.
func (s *Service) track(root string) (*progress.Reporter, func(err error)) {
	rep := progress.New(progress.DefaultBuffer)
	fwd := make(chan struct{})
	go func() {
		defer close(fwd)
		for ev := range rep.Events() {
			s.mu.Lock()
			if st, ok := s.states[root]; ok {
				st.progress = ev.Percent
				st.files = ev.FilesFound
				st.folders = ev.FoldersFound
			}
			s.mu.Unlock()
			s.broadcaster.Publish(&siftv1.ProgressEvent{Root: root, Event: ev})
		}
	}()

	return rep, func(err error) {
		rep.Close()
		<-fwd
		done := &siftv1.ProgressEvent{Root: root, Done: true, Event: progress.Event{Phase: progress.PhaseComplete, Percent: 100}}
		if err != nil {
			done.Error = err.Error()
			done.Event.Message = "failed"
		}
		s.broadcaster.Publish(done)
	}
}

// begin marks root rebuilding. It fails when a rebuild of root is already
// running.
func (s *Service) begin(root string, opts types.ScanOptions) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if st, ok := s.states[root]; ok && st.state == siftv1.RootStateRebuilding {
		return false
	}
	if s.analyzer.Indexer().InFlight(root) {
		return false
	}
	s.states[root] = &rootState{state: siftv1.RootStateRebuilding, opts: opts}
	return true
}

// finish records the outcome of work on root and starts watching it.
func (s *Service) finish(root string, opts types.ScanOptions, files, folders int64, err error) {
	s.mu.Lock()
	st := &rootState{state: siftv1.RootStateReady, progress: 100, files: files, folders: folders, opts: opts}
	if err != nil {
		st = &rootState{state: siftv1.RootStateFailed, lastErr: err.Error(), opts: opts}
	}
	s.states[root] = st
	s.mu.Unlock()

	if err == nil && s.watcher != nil && !s.watcher.IsWatched(root) {
		if werr := s.watcher.Watch(root); werr != nil {
			s.log.Warn("failed to start watching root", "root", root, "error", werr)
		}
	}
}

func (s *Service) options(req types.ScanOptions) types.ScanOptions {
	req.Normalize()
	return req
}

// Analyze reports on a root, rebuilding its snapshot when stale.
func (s *Service) Analyze(ctx context.Context, req *siftv1.AnalyzeRequest) (*siftv1.AnalyzeResponse, error) {
	root, err := absRoot(req.Root)
	if err != nil {
		return nil, err
	}
	opts := s.options(req.Options)

	reporter, done := s.track(root)
	rep, err := s.analyzer.Analyze(ctx, analyzer.Request{
		Root:       root,
		Options:    opts,
		Duplicates: req.Duplicates,
		Force:      req.Force,
		Reporter:   reporter,
	})
	done(err)
	if err != nil {
		s.log.Error("analyze failed", "root", root, "error", err)
		return nil, toStatus(err)
	}

	if rep.Source != analyzer.SourceScan {
		s.finish(root, opts, rep.TotalFiles, rep.TotalFolders, nil)
	}
	s.log.Info("analyzed", "root", root, "source", rep.Source, "files", rep.TotalFiles, "elapsed", rep.Elapsed)
	return &siftv1.AnalyzeResponse{Report: rep}, nil
}

// Rebuild starts a new snapshot of a root. A second rebuild of a root that
// is already rebuilding is refused.
func (s *Service) Rebuild(ctx context.Context, req *siftv1.RebuildRequest) (*siftv1.RebuildResponse, error) {
	root, err := absRoot(req.Root)
	if err != nil {
		return nil, err
	}
	opts := s.options(req.Options)

	if !s.begin(root, opts) {
		s.log.Debug("rebuild already in progress", "root", root)
		return &siftv1.RebuildResponse{Started: false, Message: "already rebuilding"}, nil
	}
	s.log.Info("starting rebuild", "root", root)

	if !req.Wait {
		// The rebuild outlives the RPC; it stops only with the service.
		started := s.goBackground(func() {
			_, _ = s.runRebuild(s.ctx, root, opts) //nolint:contextcheck // bound to the service lifetime
		})
		if !started {
			s.mu.Lock()
			delete(s.states, root)
			s.mu.Unlock()
			return nil, errShuttingDown
		}
		return &siftv1.RebuildResponse{Started: true, Message: "rebuild started"}, nil
	}

	res, err := s.runRebuild(ctx, root, opts)
	if err != nil {
		return nil, toStatus(err)
	}
	return &siftv1.RebuildResponse{Started: true, Message: "rebuild complete", Result: res}, nil
}

var errShuttingDown = status.Error(codes.Unavailable, "daemon is shutting down")

// goBackground runs fn as tracked background work unless Close has begun.
func (s *Service) goBackground(fn func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn()
	}()
	return true
}

func (s *Service) runRebuild(ctx context.Context, root string, opts types.ScanOptions) (*siftv1.RebuildResult, error) {
	reporter, done := s.track(root)
	res, err := s.analyzer.Rebuild(ctx, analyzer.Request{Root: root, Options: opts, Reporter: reporter})
	done(err)
	if err != nil {
		s.log.Error("rebuild failed", "root", root, "error", err)
		s.finish(root, opts, 0, 0, err)
		return nil, err
	}

	s.log.Info("rebuild complete", "root", root, "files", res.Files, "folders", res.Folders, "duration", res.Duration)
	s.finish(root, opts, res.Files, res.Folders, nil)
	return siftv1.NewRebuildResult(res), nil
}

// Duplicates returns the duplicate groups under a root from a fresh snapshot.
func (s *Service) Duplicates(ctx context.Context, req *siftv1.DuplicatesRequest) (*siftv1.DuplicatesResponse, error) {
	root, err := absRoot(req.Root)
	if err != nil {
		return nil, err
	}
	opts := s.options(req.Options)

	if err := s.ensure(ctx, root, opts); err != nil {
		return nil, toStatus(err)
	}
	groups, err := dupes.NewDetector(s.store).FindDuplicates(ctx, root, opts.Recurse)
	if err != nil {
		return nil, toStatus(err)
	}
	return &siftv1.DuplicatesResponse{Groups: groups, WastedBytes: dupes.TotalWasted(groups)}, nil
}

// ensure rebuilds root when its snapshot is stale.
func (s *Service) ensure(ctx context.Context, root string, opts types.ScanOptions) error {
	reporter, done := s.track(root)
	rebuilt, err := s.analyzer.Ensure(ctx, analyzer.Request{Root: root, Options: opts, Reporter: reporter})
	done(err)
	if err != nil {
		return err
	}
	if rebuilt {
		if rec, rerr := s.store.RootRecord(ctx, root); rerr == nil {
			s.finish(root, opts, rec.Files, rec.Folders, nil)
		}
	}
	return nil
}

// FilterFromRequest converts a FindRequest into a filter. A zero Limit
// keeps the default limit and a negative one removes it.
func FilterFromRequest(req *siftv1.FindRequest) (*filter.Filter, error) {
	var opts []filter.Option

	switch {
	case req.Limit < 0:
		opts = append(opts, filter.WithLimit(0))
	case req.Limit > 0:
		opts = append(opts, filter.WithLimit(req.Limit))
	}
	if req.MinSize > 0 {
		opts = append(opts, filter.WithMinSize(req.MinSize))
	}
	if req.MaxSize > 0 {
		opts = append(opts, filter.WithMaxSize(req.MaxSize))
	}
	if len(req.Include) > 0 {
		opts = append(opts, filter.WithInclude(req.Include...))
	}
	if len(req.Exclude) > 0 {
		opts = append(opts, filter.WithExclude(req.Exclude...))
	}
	if len(req.Extensions) > 0 {
		opts = append(opts, filter.WithExtensions(req.Extensions...))
	}
	if len(req.Categories) > 0 {
		cats := make([]stats.Category, 0, len(req.Categories))
		for _, name := range req.Categories {
			c, err := stats.ParseCategory(name)
			if err != nil {
				return nil, err
			}
			cats = append(cats, c)
		}
		opts = append(opts, filter.WithCategories(cats...))
	}
	if req.OlderThan > 0 {
		opts = append(opts, filter.WithOlderThan(req.OlderThan))
	}
	if req.NewerThan > 0 {
		opts = append(opts, filter.WithNewerThan(req.NewerThan))
	}
	if req.Kind != "" {
		kind, err := filter.ParseKind(req.Kind)
		if err != nil {
			return nil, err
		}
		opts = append(opts, filter.WithKind(kind))
	}
	if req.DuplicatesOnly {
		opts = append(opts, filter.WithDuplicatesOnly(true))
	}
	if req.SortBy != "" {
		field, err := filter.ParseSortField(req.SortBy)
		if err != nil {
			return nil, err
		}
		opts = append(opts, filter.WithSortBy(field))
	}
	opts = append(opts, filter.WithSortDescending(req.SortDescending))

	return filter.New(opts...)
}

// Find queries a fresh snapshot of a root.
func (s *Service) Find(ctx context.Context, req *siftv1.FindRequest) (*siftv1.FindResponse, error) {
	root, err := absRoot(req.Root)
	if err != nil {
		return nil, err
	}
	f, err := FilterFromRequest(req)
	if err != nil {
		return nil, toStatus(err)
	}

	opts := s.cfg.Defaults
	opts.Recurse = req.Recurse
	if err := s.ensure(ctx, root, opts); err != nil {
		return nil, toStatus(err)
	}

	entries, err := f.Find(ctx, s.store, root, req.Recurse)
	if err != nil {
		return nil, toStatus(err)
	}
	return &siftv1.FindResponse{Entries: entries}, nil
}

// Status returns daemon health and the state of every known root.
func (s *Service) Status(ctx context.Context, req *siftv1.StatusRequest) (*siftv1.StatusResponse, error) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	resp := &siftv1.StatusResponse{
		Running:       true,
		PID:           os.Getpid(),
		Version:       s.cfg.Version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		MemoryBytes:   int64(mem.Alloc),
		Backend:       s.store.Backend(),
		Watching:      s.watcher != nil,
		Subscribers:   s.broadcaster.SubscriberCount(),
	}

	n, err := s.store.Count(ctx)
	if err != nil {
		return nil, toStatus(types.IndexError("count", err))
	}
	resp.Entries = n

	roots, err := s.roots(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	filterRoot := ""
	if req.Root != "" {
		if filterRoot, err = absRoot(req.Root); err != nil {
			return nil, err
		}
	}
	for _, rs := range roots {
		if filterRoot == "" || store.IsUnder(filterRoot, rs.Root) || store.IsUnder(rs.Root, filterRoot) {
			resp.Roots = append(resp.Roots, rs)
		}
	}
	return resp, nil
}

// roots merges committed root records with in-memory states.
func (s *Service) roots(ctx context.Context) ([]siftv1.RootStatus, error) {
	recs, err := s.store.Roots(ctx)
	if err != nil {
		return nil, types.IndexError("roots", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]bool, len(recs))
	out := make([]siftv1.RootStatus, 0, len(recs)+len(s.states))
	for _, rec := range recs {
		seen[rec.Root] = true
		rs := siftv1.RootStatus{
			Root:       rec.Root,
			State:      siftv1.RootStateReady,
			Generation: rec.Generation,
			Files:      rec.Files,
			Folders:    rec.Folders,
			TotalSize:  rec.TotalSize,
			ErrorCount: rec.Errors,
		}
		s.overlay(&rs)
		out = append(out, rs)
	}
	for root := range s.states {
		if seen[root] {
			continue
		}
		rs := siftv1.RootStatus{Root: root, State: siftv1.RootStateNotIndexed}
		s.overlay(&rs)
		out = append(out, rs)
	}
	sortRoots(out)
	return out, nil
}

// overlay applies the in-memory state of rs.Root. Callers hold s.mu.
func (s *Service) overlay(rs *siftv1.RootStatus) {
	if s.watcher != nil {
		rs.Watched = s.watcher.IsWatched(rs.Root)
	}
	st, ok := s.states[rs.Root]
	if !ok {
		return
	}
	switch st.state {
	case siftv1.RootStateRebuilding:
		rs.State = st.state
		rs.Progress = st.progress
		rs.Files = st.files
		rs.Folders = st.folders
	case siftv1.RootStateDirty, siftv1.RootStateFailed:
		rs.State = st.state
		rs.LastError = st.lastErr
	}
}

func sortRoots(roots []siftv1.RootStatus) {
	slices.SortFunc(roots, func(a, b siftv1.RootStatus) int {
		return strings.Compare(a.Root, b.Root)
	})
}

// WatchProgress streams rebuild progress for a root.
func (s *Service) WatchProgress(req *siftv1.WatchProgressRequest, stream grpc.ServerStreamingServer[siftv1.ProgressEvent]) error {
	root := req.Root
	if root != "" {
		var err error
		if root, err = absRoot(root); err != nil {
			return err
		}
	}

	sub := s.broadcaster.Subscribe(root)
	if sub == nil {
		return status.Error(codes.Unavailable, "daemon is shutting down")
	}
	defer s.broadcaster.Unsubscribe(sub.ID)

	ctx := stream.Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-sub.Events:
			if !ok {
				return nil
			}
			if err := stream.Send(ev); err != nil {
				return err
			}
			if req.UntilDone && ev.Done {
				return nil
			}
		}
	}
}

// Clear drops the snapshot of a root, or of every root.
func (s *Service) Clear(ctx context.Context, req *siftv1.ClearRequest) (*siftv1.ClearResponse, error) {
	var targets []string
	if req.Root == "" {
		recs, err := s.store.Roots(ctx)
		if err != nil {
			return nil, toStatus(types.IndexError("roots", err))
		}
		for _, rec := range recs {
			targets = append(targets, rec.Root)
		}
	} else {
		root, err := absRoot(req.Root)
		if err != nil {
			return nil, err
		}
		targets = []string{root}
	}

	var total int64
	for _, root := range targets {
		n, err := s.analyzer.Indexer().DeleteSubtree(ctx, root)
		if err != nil {
			return nil, toStatus(err)
		}
		total += n
		if s.watcher != nil {
			s.watcher.Unwatch(root)
		}
		s.mu.Lock()
		delete(s.states, root)
		s.mu.Unlock()
	}
	if req.Root == "" {
		s.mu.Lock()
		s.states = make(map[string]*rootState)
		s.mu.Unlock()
	}

	s.log.Info("cleared index", "root", req.Root, "entries", total)
	return &siftv1.ClearResponse{EntriesCleared: total}, nil
}

// Shutdown asks the daemon to stop after replying.
func (s *Service) Shutdown(_ context.Context, _ *siftv1.ShutdownRequest) (*siftv1.ShutdownResponse, error) {
	s.log.Info("shutdown requested")
	if s.onShutdown != nil {
		s.shutdownOnce.Do(func() {
			go s.onShutdown()
		})
	}
	return &siftv1.ShutdownResponse{Success: true}, nil
}

// onChange marks the watched root dirty.
func (s *Service) onChange(root, path string, op fsnotify.Op) {
	s.log.Debug("change", "root", root, "path", path, "op", op)

	s.mu.Lock()
	st, ok := s.states[root]
	if !ok {
		st = &rootState{opts: s.cfg.Defaults}
		s.states[root] = st
	}
	if st.state != siftv1.RootStateRebuilding {
		st.state = siftv1.RootStateDirty
	}
	s.mu.Unlock()

	s.debouncer.Add(root)
}

// rebuildDirty rebuilds roots the debouncer reports. A root still
// rebuilding is requeued so changes made during the rebuild are not lost.
func (s *Service) rebuildDirty() {
	for batch := range s.debouncer.Output() {
		for _, root := range batch {
			if s.ctx.Err() != nil {
				return
			}
			s.mu.RLock()
			opts := s.cfg.Defaults
			if st, ok := s.states[root]; ok {
				opts = st.opts
			}
			s.mu.RUnlock()

			if !s.begin(root, opts) {
				s.debouncer.Add(root)
				continue
			}
			s.log.Info("rebuilding changed root", "root", root)
			_, _ = s.runRebuild(s.ctx, root, opts)
		}
	}
}
