package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/jamesainslie/sift/pkg/sift/analyzer"
	"github.com/jamesainslie/sift/pkg/sift/output"
	"github.com/jamesainslie/sift/pkg/sift/progress"
)

var analyzeCmd = &cobra.Command{
	Use:     "analyze [path]",
	Aliases: []string{"a"},
	Short:   "Report sizes, categories and the largest files under a path",
	Long: `Analyze reports totals, usage by extension and category, the largest
files and empty folders under a path.

The report comes from the index when its snapshot is fresh. A stale or
missing snapshot is rebuilt first; --force always rebuilds.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runAnalyze,
}

func init() {
	addAnalyzeFlags(analyzeCmd)
	rootCmd.AddCommand(analyzeCmd)
}

// addAnalyzeFlags adds the report flags shared by sift and sift analyze.
func addAnalyzeFlags(cmd *cobra.Command) {
	cmd.Flags().BoolP("dupes", "D", false, "include duplicate groups in the report")
	cmd.Flags().BoolP("force", "f", false, "rebuild the snapshot even when it is fresh")
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	root, err := resolveRoot(args)
	if err != nil {
		return err
	}
	opts, err := scanOptions()
	if err != nil {
		return err
	}
	duplicates, _ := cmd.Flags().GetBool("dupes")
	force, _ := cmd.Flags().GetBool("force")

	ctx, cancel := signalContext()
	defer cancel()

	be, err := selectBackend(ctx)
	if err != nil {
		return err
	}
	defer be.Close()

	var report *analyzer.Report
	err = withProgress(ctx, be, "Analyzing", root, func(ctx context.Context, rep *progress.Reporter) error {
		var err error
		report, err = be.Analyze(ctx, root, opts, duplicates, force, rep)
		return err
	})
	if err != nil {
		return err
	}

	printVerbose("report from %s in %s", report.Source, report.Elapsed)
	up, watching := be.Daemon()
	result := &output.Result{
		Root:        root,
		Report:      report,
		DaemonUp:    up,
		WatchActive: watching,
	}
	if report.StaleReason != "" {
		printVerbose("rebuilt because %s", report.StaleReason)
	}
	if report.Source == analyzer.SourceScan {
		result.Warnings = append(result.Warnings, "index unavailable; report built from a direct scan")
	}
	return render(result)
}
