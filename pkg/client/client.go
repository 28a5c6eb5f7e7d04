// Package client provides a client for connecting to the siftd daemon.
// It wraps the grpc client with convenience methods and manages the
// daemon process.
package client

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	siftv1 "github.com/jamesainslie/sift/pkg/api/sift/v1"
	"github.com/jamesainslie/sift/pkg/sift/analyzer"
	"github.com/jamesainslie/sift/pkg/sift/config"
	"github.com/jamesainslie/sift/pkg/sift/types"
)

// ErrNotStarted is returned by Rebuild when the daemon refused to start a
// rebuild, usually because one is already running for the root.
var ErrNotStarted = errors.New("rebuild not started")

// Client connects to the siftd daemon via grpc.
type Client struct {
	conn   *grpc.ClientConn
	client siftv1.SiftDaemonClient
}

// DaemonPaths configures paths for daemon operations.
// Empty fields use defaults.
type DaemonPaths struct {
	Binary string // Path to siftd binary (auto-discovered if empty)
	Socket string // Unix socket path
	PID    string // PID file path
	Config string // Config file passed to siftd
}

// withDefaults returns a copy with empty fields filled with defaults.
func (p DaemonPaths) withDefaults() DaemonPaths {
	if p.Socket == "" {
		p.Socket = config.DefaultSocketPath()
	}
	if p.PID == "" {
		p.PID = config.DefaultPIDPath()
	}
	return p
}

// Connect establishes a connection to the siftd daemon.
// Uses a default timeout of 5 seconds.
func Connect(socketPath string) (*Client, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return ConnectWithContext(ctx, socketPath)
}

// ConnectWithContext establishes a connection to the siftd daemon with a custom context.
func ConnectWithContext(ctx context.Context, socketPath string) (*Client, error) {
	if _, err := os.Stat(socketPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("daemon socket not found at %s", socketPath)
	}

	//nolint:staticcheck // grpc.DialContext is deprecated but NewClient doesn't support blocking
	conn, err := grpc.DialContext(
		ctx,
		"unix://"+socketPath,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithBlock(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to daemon: %w", err)
	}

	return &Client{
		conn:   conn,
		client: siftv1.NewSiftDaemonClient(conn),
	}, nil
}

// Close closes the connection to the daemon.
func (c *Client) Close() error {
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// Analyze asks the daemon for a report on root.
func (c *Client) Analyze(ctx context.Context, root string, opts types.ScanOptions, duplicates, force bool) (*analyzer.Report, error) {
	resp, err := c.client.Analyze(ctx, &siftv1.AnalyzeRequest{
		Root:       root,
		Options:    opts,
		Duplicates: duplicates,
		Force:      force,
	})
	if err != nil {
		return nil, fmt.Errorf("Analyze RPC failed: %w", err)
	}
	if resp.Report == nil {
		return nil, errors.New("Analyze RPC returned no report")
	}
	return resp.Report, nil
}

// Rebuild starts a rebuild of root. With wait set it returns the finished
// result, otherwise nil once the daemon accepted the request.
func (c *Client) Rebuild(ctx context.Context, root string, opts types.ScanOptions, wait bool) (*siftv1.RebuildResult, error) {
	resp, err := c.client.Rebuild(ctx, &siftv1.RebuildRequest{Root: root, Options: opts, Wait: wait})
	if err != nil {
		return nil, fmt.Errorf("Rebuild RPC failed: %w", err)
	}
	if !resp.Started {
		return nil, fmt.Errorf("%w: %s", ErrNotStarted, resp.Message)
	}
	return resp.Result, nil
}

// Duplicates returns the duplicate groups under root.
func (c *Client) Duplicates(ctx context.Context, root string, opts types.ScanOptions) (*siftv1.DuplicatesResponse, error) {
	resp, err := c.client.Duplicates(ctx, &siftv1.DuplicatesRequest{Root: root, Options: opts})
	if err != nil {
		return nil, fmt.Errorf("Duplicates RPC failed: %w", err)
	}
	return resp, nil
}

// Find runs a filtered query against the daemon's index.
func (c *Client) Find(ctx context.Context, req *siftv1.FindRequest) ([]types.IndexEntry, error) {
	resp, err := c.client.Find(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("Find RPC failed: %w", err)
	}
	return resp.Entries, nil
}

// Status returns the daemon status. A non-empty root limits the reported
// roots to those overlapping it.
func (c *Client) Status(ctx context.Context, root string) (*siftv1.StatusResponse, error) {
	resp, err := c.client.Status(ctx, &siftv1.StatusRequest{Root: root})
	if err != nil {
		return nil, fmt.Errorf("Status RPC failed: %w", err)
	}
	return resp, nil
}

// IsRootReady reports whether the daemon holds a ready snapshot of root.
func (c *Client) IsRootReady(ctx context.Context, root string) (bool, error) {
	resp, err := c.Status(ctx, root)
	if err != nil {
		return false, err
	}
	for _, rs := range resp.Roots {
		if rs.Root == root {
			return rs.State == siftv1.RootStateReady, nil
		}
	}
	return false, nil
}

// WatchProgress subscribes to progress events for root. With untilDone
// set the channel closes after the first finished operation. Otherwise it
// receives events until the context is cancelled.
func (c *Client) WatchProgress(ctx context.Context, root string, untilDone bool) (<-chan *siftv1.ProgressEvent, error) {
	stream, err := c.client.WatchProgress(ctx, &siftv1.WatchProgressRequest{Root: root, UntilDone: untilDone})
	if err != nil {
		return nil, fmt.Errorf("WatchProgress RPC failed: %w", err)
	}

	events := make(chan *siftv1.ProgressEvent, 100)
	go func() {
		defer close(events)
		for {
			ev, err := stream.Recv()
			if err != nil {
				return // Stream closed or error
			}
			select {
			case events <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()

	return events, nil
}

// Clear drops the daemon's snapshot of root, or of everything when root
// is empty. Returns the number of entries cleared.
func (c *Client) Clear(ctx context.Context, root string) (int64, error) {
	resp, err := c.client.Clear(ctx, &siftv1.ClearRequest{Root: root})
	if err != nil {
		return 0, fmt.Errorf("Clear RPC failed: %w", err)
	}
	return resp.EntriesCleared, nil
}

// Shutdown requests the daemon to shut down gracefully.
func (c *Client) Shutdown(ctx context.Context) error {
	resp, err := c.client.Shutdown(ctx, &siftv1.ShutdownRequest{})
	if err != nil {
		return fmt.Errorf("Shutdown RPC failed: %w", err)
	}
	if !resp.Success {
		return errors.New("shutdown request was not successful")
	}
	return nil
}
