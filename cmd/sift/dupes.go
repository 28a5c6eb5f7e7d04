package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/jamesainslie/sift/pkg/sift/dupes"
	"github.com/jamesainslie/sift/pkg/sift/output"
	"github.com/jamesainslie/sift/pkg/sift/progress"
	"github.com/jamesainslie/sift/pkg/sift/types"
)

var dupesCmd = &cobra.Command{
	Use:     "dupes [path]",
	Aliases: []string{"duplicates"},
	Short:   "List files with identical content",
	Long: `List groups of files under a path whose content hashes match, largest
waste first. Files above scan.hash_size_limit are not hashed and never
reported.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runDupes,
}

func init() {
	rootCmd.AddCommand(dupesCmd)
}

func runDupes(_ *cobra.Command, args []string) error {
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

	var groups []dupes.DuplicateGroup
	err = withProgress(ctx, be, "Finding duplicates", root, func(ctx context.Context, rep *progress.Reporter) error {
		var err error
		groups, err = be.Duplicates(ctx, root, opts, rep)
		return err
	})
	if err != nil {
		return err
	}

	printVerbose("%d groups, %s wasted", len(groups), types.FormatSize(dupes.TotalWasted(groups)))
	if groups == nil {
		groups = []dupes.DuplicateGroup{}
	}
	up, watching := be.Daemon()
	return render(&output.Result{
		Root:        root,
		Duplicates:  groups,
		DaemonUp:    up,
		WatchActive: watching,
	})
}
