package main

import (
	"context"
	"encoding/json"
	"os"
	"time"

	"github.com/spf13/cobra"

	siftv1 "github.com/jamesainslie/sift/pkg/api/sift/v1"
	"github.com/jamesainslie/sift/pkg/sift/progress"
	"github.com/jamesainslie/sift/pkg/sift/types"
)

var rebuildCmd = &cobra.Command{
	Use:     "rebuild [path]",
	Aliases: []string{"index"},
	Short:   "Rebuild the snapshot of a path",
	Long: `Walk a path and replace its snapshot in the index. The previous snapshot
stays visible until the new one is committed.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRebuild,
}

func init() {
	rootCmd.AddCommand(rebuildCmd)
}

func runRebuild(_ *cobra.Command, args []string) error {
	root, err := resolveRoot(args)
	if err != nil {
		return err
	}
	opts, err := scanOptions()
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	be, err := selectBackend(ctx)
	if err != nil {
		return err
	}
	defer be.Close()

	var res *siftv1.RebuildResult
	err = withProgress(ctx, be, "Rebuilding", root, func(ctx context.Context, rep *progress.Reporter) error {
		var err error
		res, err = be.Rebuild(ctx, root, opts, rep)
		return err
	})
	if err != nil {
		return err
	}

	if isJSONOutput() {
		return writeJSON(res)
	}
	printInfo("Indexed %s", res.Root)
	printInfo("  %d files, %d folders, %s in %s",
		res.Files, res.Folders, types.FormatSize(res.TotalSize), res.Duration.Round(time.Millisecond))
	if res.ErrorCount > 0 {
		printInfo("  %d paths could not be read", res.ErrorCount)
	}
	return nil
}

// isJSONOutput reports whether a command without a formatter should print
// JSON instead of text.
func isJSONOutput() bool {
	switch v.GetString("output") {
	case "json", "jsonl":
		return true
	}
	return false
}

func writeJSON(val any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(val)
}
