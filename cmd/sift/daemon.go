package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jamesainslie/sift/pkg/client"
)

func init() {
	rootCmd.AddCommand(newDaemonCmd())
}

func newDaemonCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Control the siftd background indexer",
		Long: `Control the siftd background indexer.

While siftd runs it owns the index, keeps watched roots fresh and
answers every sift command over its socket.`,
	}

	actions := []struct {
		use, short string
		run        func(client.DaemonPaths) error
	}{
		{"start", "Start siftd in the background", daemonStart},
		{"stop", "Ask siftd to shut down", daemonStop},
		{"restart", "Stop and start siftd", daemonRestart},
		{"status", "Show whether siftd runs and what it indexes", daemonStatus},
	}
	for _, a := range actions {
		run := a.run
		cmd.AddCommand(&cobra.Command{
			Use:   a.use,
			Short: a.short,
			Args:  cobra.NoArgs,
			RunE: func(*cobra.Command, []string) error {
				return run(daemonPaths())
			},
		})
	}
	return cmd
}

func daemonStart(paths client.DaemonPaths) error {
	if client.IsDaemonRunning(paths.PID) {
		printInfo("siftd is already running")
		return nil
	}
	printVerbose("starting siftd on %s", paths.Socket)
	if err := client.StartDaemon(paths); err != nil {
		return err
	}
	printInfo("siftd started")
	return nil
}

func daemonStop(paths client.DaemonPaths) error {
	if !client.IsDaemonRunning(paths.PID) {
		printInfo("siftd is not running")
		return nil
	}
	if err := client.StopDaemon(paths); err != nil {
		return err
	}
	printInfo("siftd stopped")
	return nil
}

func daemonRestart(paths client.DaemonPaths) error {
	if err := client.RestartDaemon(paths); err != nil {
		return fmt.Errorf("restart siftd: %w", err)
	}
	printInfo("siftd restarted")
	return nil
}

func daemonStatus(paths client.DaemonPaths) error {
	if !client.IsDaemonRunning(paths.PID) {
		printInfo("siftd: not running")
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, err := client.ConnectWithContext(ctx, paths.Socket)
	if err != nil {
		printInfo("siftd: running, not responding on %s", paths.Socket)
		return nil
	}
	defer c.Close()

	status, err := c.Status(ctx, "")
	if err != nil {
		return fmt.Errorf("query siftd: %w", err)
	}
	if isJSONOutput() {
		return writeJSON(status)
	}
	printDaemonStatus(status)
	for _, rs := range status.Roots {
		printInfo("  %s  %s", rs.State, rs.Root)
	}
	return nil
}
