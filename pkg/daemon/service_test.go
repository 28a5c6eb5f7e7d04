package daemon_test

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	siftv1 "github.com/jamesainslie/sift/pkg/api/sift/v1"
	"github.com/jamesainslie/sift/pkg/daemon"
	"github.com/jamesainslie/sift/pkg/daemon/watcher"
	"github.com/jamesainslie/sift/pkg/sift/analyzer"
	"github.com/jamesainslie/sift/pkg/sift/indexer"
	"github.com/jamesainslie/sift/pkg/sift/store/badgerstore"
	"github.com/jamesainslie/sift/pkg/sift/types"
)

var recurse = types.ScanOptions{Recurse: true}

func createTestFiles(t *testing.T) string {
	t.Helper()
	root := t.TempDir()

	files := map[string][]byte{
		"small.txt":     make([]byte, 100),
		"a.dat":         []byte("same content in both"),
		"sub/b.dat":     []byte("same content in both"),
		"sub/large.bin": make([]byte, 10000),
	}
	for name, data := range files {
		path := filepath.Join(root, name)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatalf("failed to create %s: %v", filepath.Dir(path), err)
		}
		if err := os.WriteFile(path, data, 0o644); err != nil {
			t.Fatalf("failed to create %s: %v", name, err)
		}
	}
	return root
}

type testDaemon struct {
	svc    *daemon.Service
	client siftv1.SiftDaemonClient
}

// startDaemon serves a fresh in-memory index over a unix socket.
func startDaemon(t *testing.T, cfg daemon.ServiceConfig, watch bool) *testDaemon {
	t.Helper()

	st, err := badgerstore.OpenInMemory()
	if err != nil {
		t.Fatalf("OpenInMemory failed: %v", err)
	}
	svc := daemon.NewService(analyzer.New(indexer.New(st), analyzer.Config{}), nil, cfg)
	if watch {
		w, err := watcher.New()
		if err != nil {
			t.Fatalf("watcher.New failed: %v", err)
		}
		t.Cleanup(func() { _ = w.Close() })
		svc.SetWatcher(w)
	}

	// Socket paths are length limited, keep it short.
	dir, err := os.MkdirTemp("", "siftd")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	socketPath := filepath.Join(dir, "d.sock")

	srv, err := daemon.NewServer(daemon.Config{SocketPath: socketPath}, svc)
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}
	go func() {
		_ = srv.Serve()
	}()

	conn, err := grpc.NewClient("unix://"+socketPath, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	t.Cleanup(func() {
		_ = conn.Close()
		_ = srv.Close()
		_ = st.Close()
	})

	return &testDaemon{svc: svc, client: siftv1.NewSiftDaemonClient(conn)}
}

func wantCode(t *testing.T, err error, want codes.Code) {
	t.Helper()
	if got := status.Code(err); got != want {
		t.Errorf("error code = %v (%v), want %v", got, err, want)
	}
}

func TestServiceAnalyze(t *testing.T) {
	root := createTestFiles(t)
	d := startDaemon(t, daemon.ServiceConfig{}, false)
	ctx := context.Background()

	resp, err := d.client.Analyze(ctx, &siftv1.AnalyzeRequest{Root: root, Options: recurse, Duplicates: true})
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	rep := resp.Report
	if rep.TotalFiles != 4 {
		t.Errorf("TotalFiles = %d, want 4", rep.TotalFiles)
	}
	if rep.TotalFolders != 1 {
		t.Errorf("TotalFolders = %d, want 1", rep.TotalFolders)
	}
	if rep.Source != analyzer.SourceRebuild {
		t.Errorf("Source = %s, want rebuild", rep.Source)
	}
	if len(rep.DuplicateFiles) != 1 {
		t.Errorf("DuplicateFiles = %v, want one group", rep.DuplicateFiles)
	}

	// The snapshot is reused while the tree is unchanged.
	resp, err = d.client.Analyze(ctx, &siftv1.AnalyzeRequest{Root: root, Options: recurse})
	if err != nil {
		t.Fatalf("second Analyze failed: %v", err)
	}
	if resp.Report.Source != analyzer.SourceIndex {
		t.Errorf("second Source = %s, want index", resp.Report.Source)
	}
}

func TestServiceAnalyzeErrors(t *testing.T) {
	d := startDaemon(t, daemon.ServiceConfig{}, false)
	ctx := context.Background()

	_, err := d.client.Analyze(ctx, &siftv1.AnalyzeRequest{})
	wantCode(t, err, codes.InvalidArgument)

	_, err = d.client.Analyze(ctx, &siftv1.AnalyzeRequest{Root: filepath.Join(t.TempDir(), "missing")})
	wantCode(t, err, codes.NotFound)
}

func TestServiceRebuild(t *testing.T) {
	root := createTestFiles(t)
	d := startDaemon(t, daemon.ServiceConfig{}, false)

	resp, err := d.client.Rebuild(context.Background(), &siftv1.RebuildRequest{Root: root, Options: recurse, Wait: true})
	if err != nil {
		t.Fatalf("Rebuild failed: %v", err)
	}
	if !resp.Started || resp.Result == nil {
		t.Fatalf("Rebuild = %+v, want a started rebuild with a result", resp)
	}
	if resp.Result.Files != 4 || resp.Result.Folders != 1 {
		t.Errorf("Result = %+v, want 4 files and 1 folder", resp.Result)
	}
	if resp.Result.Generation <= 0 {
		t.Errorf("Generation = %d, want > 0", resp.Result.Generation)
	}
}

func TestServiceRebuildInBackground(t *testing.T) {
	root := createTestFiles(t)
	d := startDaemon(t, daemon.ServiceConfig{}, false)
	ctx := context.Background()

	resp, err := d.client.Rebuild(ctx, &siftv1.RebuildRequest{Root: root, Options: recurse})
	if err != nil {
		t.Fatalf("Rebuild failed: %v", err)
	}
	if !resp.Started || resp.Result != nil {
		t.Fatalf("Rebuild = %+v, want started without result", resp)
	}

	waitForRoot(t, d, root, func(rs siftv1.RootStatus) bool {
		return rs.State == siftv1.RootStateReady && rs.Files == 4
	})
}

func TestServiceRebuildAfterClose(t *testing.T) {
	root := createTestFiles(t)
	svc := newTestService(t)
	svc.Close()

	resp, err := svc.Rebuild(context.Background(), &siftv1.RebuildRequest{Root: root, Options: recurse})
	if resp != nil {
		t.Errorf("Rebuild after Close = %+v, want nil", resp)
	}
	wantCode(t, err, codes.Unavailable)

	st, err := svc.Status(context.Background(), &siftv1.StatusRequest{})
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	for _, rs := range st.Roots {
		if rs.Root == root && rs.State == siftv1.RootStateRebuilding {
			t.Errorf("root %s left in state %s", root, rs.State)
		}
	}
}

func TestServiceFind(t *testing.T) {
	root := createTestFiles(t)
	d := startDaemon(t, daemon.ServiceConfig{}, false)
	ctx := context.Background()

	resp, err := d.client.Find(ctx, &siftv1.FindRequest{
		Root:           root,
		Recurse:        true,
		Extensions:     []string{"dat", "bin"},
		SortBy:         "size",
		SortDescending: true,
	})
	if err != nil {
		t.Fatalf("Find failed: %v", err)
	}
	if len(resp.Entries) != 3 {
		t.Fatalf("Find returned %d entries, want 3", len(resp.Entries))
	}
	if got := resp.Entries[0].Name; got != "large.bin" {
		t.Errorf("largest entry = %s, want large.bin", got)
	}

	resp, err = d.client.Find(ctx, &siftv1.FindRequest{Root: root, Kind: "dir", Recurse: true})
	if err != nil {
		t.Fatalf("Find dirs failed: %v", err)
	}
	if len(resp.Entries) != 1 || resp.Entries[0].Name != "sub" {
		t.Errorf("Find dirs = %v, want sub", resp.Entries)
	}

	resp, err = d.client.Find(ctx, &siftv1.FindRequest{Root: root, Recurse: true, DuplicatesOnly: true})
	if err != nil {
		t.Fatalf("Find duplicates failed: %v", err)
	}
	if len(resp.Entries) != 2 {
		t.Errorf("Find duplicates = %d entries, want 2", len(resp.Entries))
	}
}

func TestServiceFindInvalidRequest(t *testing.T) {
	root := createTestFiles(t)
	d := startDaemon(t, daemon.ServiceConfig{}, false)
	ctx := context.Background()

	for name, req := range map[string]*siftv1.FindRequest{
		"sort":     {Root: root, SortBy: "color"},
		"kind":     {Root: root, Kind: "socket"},
		"category": {Root: root, Categories: []string{"spreadsheets"}},
		"pattern":  {Root: root, Include: []string{"[bad"}},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := d.client.Find(ctx, req)
			wantCode(t, err, codes.InvalidArgument)
		})
	}
}

func TestServiceDuplicates(t *testing.T) {
	root := createTestFiles(t)
	d := startDaemon(t, daemon.ServiceConfig{}, false)

	resp, err := d.client.Duplicates(context.Background(), &siftv1.DuplicatesRequest{Root: root, Options: recurse})
	if err != nil {
		t.Fatalf("Duplicates failed: %v", err)
	}
	if len(resp.Groups) != 1 {
		t.Fatalf("Groups = %v, want 1 group", resp.Groups)
	}
	if got := len(resp.Groups[0].Paths); got != 2 {
		t.Errorf("group has %d files, want 2", got)
	}
	if want := int64(len("same content in both")); resp.WastedBytes != want {
		t.Errorf("WastedBytes = %d, want %d", resp.WastedBytes, want)
	}
}

func TestServiceStatus(t *testing.T) {
	root := createTestFiles(t)
	other := createTestFiles(t)
	d := startDaemon(t, daemon.ServiceConfig{Version: "v1.2.3"}, false)
	ctx := context.Background()

	resp, err := d.client.Status(ctx, &siftv1.StatusRequest{})
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if !resp.Running || resp.PID != os.Getpid() || resp.Version != "v1.2.3" {
		t.Errorf("Status = %+v", resp)
	}
	if resp.Backend != "badger" {
		t.Errorf("Backend = %s, want badger", resp.Backend)
	}
	if len(resp.Roots) != 0 {
		t.Errorf("Roots = %v, want none", resp.Roots)
	}

	for _, r := range []string{root, other} {
		if _, err := d.client.Rebuild(ctx, &siftv1.RebuildRequest{Root: r, Options: recurse, Wait: true}); err != nil {
			t.Fatalf("Rebuild(%s) failed: %v", r, err)
		}
	}

	resp, err = d.client.Status(ctx, &siftv1.StatusRequest{})
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if len(resp.Roots) != 2 {
		t.Fatalf("Roots = %v, want 2", resp.Roots)
	}
	if resp.Entries == 0 {
		t.Error("Entries = 0, want indexed entries")
	}

	resp, err = d.client.Status(ctx, &siftv1.StatusRequest{Root: filepath.Join(root, "sub")})
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if len(resp.Roots) != 1 || resp.Roots[0].Root != root {
		t.Fatalf("filtered Roots = %v, want only %s", resp.Roots, root)
	}
	rs := resp.Roots[0]
	if rs.State != siftv1.RootStateReady || rs.Files != 4 || rs.Folders != 1 {
		t.Errorf("root status = %+v", rs)
	}
}

func TestServiceClear(t *testing.T) {
	root := createTestFiles(t)
	other := createTestFiles(t)
	d := startDaemon(t, daemon.ServiceConfig{}, false)
	ctx := context.Background()

	for _, r := range []string{root, other} {
		if _, err := d.client.Rebuild(ctx, &siftv1.RebuildRequest{Root: r, Options: recurse, Wait: true}); err != nil {
			t.Fatalf("Rebuild(%s) failed: %v", r, err)
		}
	}

	resp, err := d.client.Clear(ctx, &siftv1.ClearRequest{Root: root})
	if err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	if resp.EntriesCleared == 0 {
		t.Error("EntriesCleared = 0, want cleared entries")
	}
	st, err := d.client.Status(ctx, &siftv1.StatusRequest{})
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if len(st.Roots) != 1 || st.Roots[0].Root != other {
		t.Errorf("Roots after clear = %v, want only %s", st.Roots, other)
	}

	if _, err := d.client.Clear(ctx, &siftv1.ClearRequest{}); err != nil {
		t.Fatalf("Clear all failed: %v", err)
	}
	st, err = d.client.Status(ctx, &siftv1.StatusRequest{})
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if len(st.Roots) != 0 || st.Entries != 0 {
		t.Errorf("after clearing everything: roots=%v entries=%d", st.Roots, st.Entries)
	}
}

func TestServiceWatchProgress(t *testing.T) {
	root := createTestFiles(t)
	d := startDaemon(t, daemon.ServiceConfig{}, false)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stream, err := d.client.WatchProgress(ctx, &siftv1.WatchProgressRequest{Root: root, UntilDone: true})
	if err != nil {
		t.Fatalf("WatchProgress failed: %v", err)
	}

	// The subscription exists once the server handler runs.
	deadline := time.Now().Add(5 * time.Second)
	for d.svc.Broadcaster().SubscriberCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("subscriber never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	if _, err := d.client.Rebuild(ctx, &siftv1.RebuildRequest{Root: root, Options: recurse, Wait: true}); err != nil {
		t.Fatalf("Rebuild failed: %v", err)
	}

	var last *siftv1.ProgressEvent
	for {
		ev, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("Recv failed: %v", err)
		}
		if ev.Root != root {
			t.Errorf("event for %s, want %s", ev.Root, root)
		}
		last = ev
	}
	if last == nil || !last.Done || last.Error != "" {
		t.Errorf("last event = %+v, want a successful done event", last)
	}
}

func TestServiceWatchTriggersRebuild(t *testing.T) {
	root := createTestFiles(t)
	d := startDaemon(t, daemon.ServiceConfig{Defaults: recurse, Debounce: 50 * time.Millisecond}, true)
	ctx := context.Background()

	if _, err := d.client.Analyze(ctx, &siftv1.AnalyzeRequest{Root: root, Options: recurse}); err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	waitForRoot(t, d, root, func(rs siftv1.RootStatus) bool { return rs.Watched })

	if err := os.WriteFile(filepath.Join(root, "sub", "new.txt"), []byte("new"), 0o644); err != nil {
		t.Fatal(err)
	}

	waitForRoot(t, d, root, func(rs siftv1.RootStatus) bool {
		return rs.State == siftv1.RootStateReady && rs.Files == 5
	})
}

func TestServiceShutdown(t *testing.T) {
	d := startDaemon(t, daemon.ServiceConfig{}, false)
	called := make(chan struct{})
	d.svc.SetShutdown(func() { close(called) })

	resp, err := d.client.Shutdown(context.Background(), &siftv1.ShutdownRequest{})
	if err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
	if !resp.Success {
		t.Error("Shutdown reported failure")
	}

	select {
	case <-called:
	case <-time.After(2 * time.Second):
		t.Fatal("shutdown function was not called")
	}
}

// waitForRoot polls Status until cond holds for root.
func waitForRoot(t *testing.T, d *testDaemon, root string, cond func(siftv1.RootStatus) bool) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	var last []siftv1.RootStatus
	for time.Now().Before(deadline) {
		resp, err := d.client.Status(context.Background(), &siftv1.StatusRequest{Root: root})
		if err != nil {
			t.Fatalf("Status failed: %v", err)
		}
		last = resp.Roots
		for _, rs := range resp.Roots {
			if rs.Root == root && cond(rs) {
				return
			}
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("root %s never reached the expected state, last status %+v", root, last)
}
