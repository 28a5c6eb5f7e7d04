package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/jamesainslie/sift/pkg/sift/filter"
	"github.com/jamesainslie/sift/pkg/sift/output"
	"github.com/jamesainslie/sift/pkg/sift/progress"
	"github.com/jamesainslie/sift/pkg/sift/types"
)

var findCmd = &cobra.Command{
	Use:   "find [path]",
	Short: "Query the index for matching files",
	Long: `Find lists indexed entries under a path that match every given filter.

Examples:
  sift find ~ --min-size 1G               # Files of at least 1 GiB
  sift find . --ext mp4,mkv --sort age    # Videos, oldest first
  sift find . --older-than 6mo -n 0       # Everything untouched for 6 months
  sift find . --category video -r         # Videos, smallest first
  sift find . --kind dir --sort name      # Folders A-Z
  sift find . --dupes-only -o paths       # Paths of duplicated files
  sift find . --include '**/node_modules' --kind dir`,
	Args: cobra.MaximumNArgs(1),
	RunE: runFind,
}

func init() {
	addFindFlags(findCmd)
	rootCmd.AddCommand(findCmd)
}

// addFindFlags adds the filter flags read by findRequest.
func addFindFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("min-size", "", "minimum size (e.g. 100M, 1G)")
	f.String("max-size", "", "maximum size")
	f.StringSlice("include", nil, "glob patterns the path must match")
	f.StringSlice("ext", nil, "extensions without the dot (e.g. mp4,mkv)")
	f.StringSliceP("category", "c", nil, "categories (image, video, audio, document, other)")
	f.String("older-than", "", "modified before this long ago (e.g. 30d, 6mo, 1y)")
	f.String("newer-than", "", "modified within this long ago")
	f.String("kind", "", "file, dir or any (default file)")
	f.Bool("dupes-only", false, "only files that have a duplicate")
	f.String("sort", "size", "sort by size, age, path or name")
	f.BoolP("reverse", "r", false, "reverse the natural sort order")
	f.IntP("limit", "n", filter.DefaultLimit, "maximum results (0=unlimited)")
}

func runFind(cmd *cobra.Command, args []string) error {
	root, err := resolveRoot(args)
	if err != nil {
		return err
	}
	opts, err := scanOptions()
	if err != nil {
		return err
	}
	req, err := findRequest(cmd, root)
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

	var entries []types.IndexEntry
	err = withProgress(ctx, be, "Indexing", root, func(ctx context.Context, rep *progress.Reporter) error {
		var err error
		entries, err = be.Find(ctx, req, opts, rep)
		return err
	})
	if err != nil {
		return err
	}

	if entries == nil {
		entries = []types.IndexEntry{}
	}
	up, watching := be.Daemon()
	return render(&output.Result{
		Root:        root,
		Files:       entries,
		DaemonUp:    up,
		WatchActive: watching,
	})
}
