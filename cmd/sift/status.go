package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	siftv1 "github.com/jamesainslie/sift/pkg/api/sift/v1"
	"github.com/jamesainslie/sift/pkg/sift/config"
	"github.com/jamesainslie/sift/pkg/sift/types"
)

var statusCmd = &cobra.Command{
	Use:   "status [path]",
	Short: "Show indexed roots and their state",
	Long: `Show every root in the index with its size and state. With a path, only
roots covering it or inside it are listed.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStatus,
}

var clearCmd = &cobra.Command{
	Use:   "clear [path]",
	Short: "Drop the snapshot of a path",
	Long: `Remove a path's snapshot from the index. With --all every snapshot is
removed. The next query rebuilds what it needs.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runClear,
}

func init() {
	clearCmd.Flags().Bool("all", false, "clear every snapshot")
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(clearCmd)
}

func runStatus(_ *cobra.Command, args []string) error {
	filterRoot := ""
	if len(args) > 0 {
		var err error
		if filterRoot, err = absPath(args[0]); err != nil {
			return err
		}
	}

	ctx, cancel := signalContext()
	defer cancel()

	be, err := selectBackend(ctx)
	if err != nil {
		return err
	}
	defer be.Close()

	status, err := be.Status(ctx, filterRoot)
	if err != nil {
		return err
	}
	if isJSONOutput() {
		return writeJSON(status)
	}

	if up, _ := be.Daemon(); up {
		printDaemonStatus(status)
	} else {
		printInfo("Index: %s (%s, %d entries)", cfg.IndexPath(), status.Backend, status.Entries)
	}
	printRoots(status.Roots)
	return nil
}

func runClear(cmd *cobra.Command, args []string) error {
	all, _ := cmd.Flags().GetBool("all")
	if all == (len(args) > 0) {
		return errors.New("specify a path or --all")
	}

	root := ""
	if len(args) > 0 {
		var err error
		if root, err = absPath(args[0]); err != nil {
			return err
		}
	}

	ctx, cancel := signalContext()
	defer cancel()

	be, err := selectBackend(ctx)
	if err != nil {
		return err
	}
	defer be.Close()

	cleared, err := be.Clear(ctx, root)
	if err != nil {
		return err
	}
	if root == "" {
		printInfo("Cleared all snapshots (%d entries)", cleared)
	} else {
		printInfo("Cleared %s (%d entries)", root, cleared)
	}
	return nil
}

// absPath resolves a path that need not exist any more.
func absPath(path string) (string, error) {
	expanded, err := config.ExpandPath(path)
	if err != nil {
		return "", err
	}
	abs, err := filepath.Abs(expanded)
	if err != nil {
		return "", fmt.Errorf("failed to resolve path: %w", err)
	}
	return abs, nil
}

func printDaemonStatus(status *siftv1.StatusResponse) {
	printInfo("Daemon status: running (pid %d)", status.PID)
	if status.Version != "" {
		printInfo("  Version: %s", status.Version)
	}
	printInfo("  Uptime: %s", formatDuration(time.Duration(status.UptimeSeconds)*time.Second))
	printInfo("  Memory: %s", types.FormatSize(status.MemoryBytes))
	printInfo("  Index: %s, %d entries", status.Backend, status.Entries)
	printInfo("  Watching: %t", status.Watching)
	printInfo("  Progress subscribers: %d", status.Subscribers)
}

func printRoots(roots []siftv1.RootStatus) {
	if getQuiet() {
		return
	}
	if len(roots) == 0 {
		fmt.Println("\nNo indexed roots.")
		return
	}

	fmt.Println()
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ROOT\tSTATE\tFILES\tFOLDERS\tSIZE\tERRORS\tWATCHED")
	for _, rs := range roots {
		state := string(rs.State)
		switch {
		case rs.State == siftv1.RootStateRebuilding:
			state = fmt.Sprintf("%s %d%%", state, rs.Progress)
		case rs.LastError != "":
			state = fmt.Sprintf("%s (%s)", state, rs.LastError)
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\t%d\t%t\n",
			rs.Root, state, rs.Files, rs.Folders, types.FormatSize(rs.TotalSize), rs.ErrorCount, rs.Watched)
	}
	_ = w.Flush()
}

// formatDuration formats a duration in a human-readable way.
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	if d < 24*time.Hour {
		return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
	}
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	return fmt.Sprintf("%dd %dh", days, hours)
}
