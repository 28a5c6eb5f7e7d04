package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jamesainslie/sift/pkg/sift/config"
	"github.com/jamesainslie/sift/pkg/sift/logging"
)

var (
	cfgFile string

	// v collects defaults, the config file, SIFT_* variables and flags.
	v = config.New()

	// cfg is decoded in PersistentPreRunE before any command runs.
	cfg *config.Config

	rootCmd = &cobra.Command{
		Use:   "sift [path]",
		Short: "Index directory trees and report what fills them",
		Long: `Sift indexes directory trees and answers questions about them: where
the space goes, which files are duplicates, what is old or large.

Answers come from a persistent index that is rebuilt when stale. When the
siftd daemon runs, sift asks it instead of opening the index itself.

Examples:
  sift                           # Analyze the default path
  sift ~/Downloads -D            # Analyze and report duplicates
  sift dupes ~/Pictures          # List duplicate groups
  sift find ~ --min-size 1G      # Files of at least 1 GiB
  sift find . --ext mp4 -o paths # Paths of every .mp4 file
  sift daemon start              # Start siftd in the background`,
		Args:              cobra.MaximumNArgs(1),
		SilenceUsage:      true,
		PersistentPreRunE: setup,
		PersistentPostRun: func(*cobra.Command, []string) { _ = logging.Close() },
		RunE:              runAnalyze,
	}
)

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default: ~/.config/sift/config.yaml)")
	pf.StringP("output", "o", "pretty", "output format ("+formatList()+")")
	pf.String("template", "", "Go template for --output template")
	pf.StringSliceP("exclude", "e", nil, "exclude patterns (can be specified multiple times)")
	pf.Int("max-depth", 0, "maximum traversal depth (0=unlimited)")
	pf.Bool("no-recurse", false, "only index the top level of the root")
	pf.Bool("hidden", false, "include hidden files and folders")
	pf.String("hash-limit", "", "largest file to hash for duplicates (e.g. 1GiB)")
	pf.String("backend", "", "index backend (badger, sqlite)")
	pf.String("staleness", "", "staleness check (root, directories, full)")
	pf.Int("top", 0, "number of largest files to report")
	pf.BoolP("quiet", "q", false, "minimal output")
	pf.BoolP("verbose", "v", false, "debug output")
	pf.Bool("no-progress", false, "do not show the progress view")
	pf.Bool("no-daemon", false, "bypass the daemon and use the index directly")
	pf.Bool("force-daemon", false, "fail instead of falling back when the daemon is unavailable")

	bindings := map[string]string{
		"output":               "output",
		"template":             "template",
		"exclude":              "exclude",
		"scan.max_depth":       "max-depth",
		"scan.include_hidden":  "hidden",
		"scan.hash_size_limit": "hash-limit",
		"index.backend":        "backend",
		"index.staleness":      "staleness",
		"stats.top_n":          "top",
		"quiet":                "quiet",
		"verbose":              "verbose",
		"no_progress":          "no-progress",
		"no_daemon":            "no-daemon",
		"force_daemon":         "force-daemon",
	}
	for key, flag := range bindings {
		_ = v.BindPFlag(key, pf.Lookup(flag))
	}

	addAnalyzeFlags(rootCmd)
}

// setup decodes the configuration and starts logging.
func setup(cmd *cobra.Command, _ []string) error {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	}
	c, err := config.Decode(v)
	if err != nil {
		return err
	}
	if noRecurse, _ := cmd.Flags().GetBool("no-recurse"); noRecurse {
		c.Scan.Recurse = false
	}
	cfg = c

	lc := cfg.LoggingConfig()
	if getVerbose() {
		lc.Level = "debug"
		lc.Console = true
	}
	return logging.Init(lc)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// getVerbose returns true if verbose mode is enabled.
func getVerbose() bool {
	return v.GetBool("verbose")
}

// getQuiet returns true if quiet mode is enabled.
func getQuiet() bool {
	return v.GetBool("quiet")
}

// printVerbose prints a message if verbose mode is enabled.
func printVerbose(format string, args ...any) {
	if getVerbose() && !getQuiet() {
		fmt.Fprintf(os.Stderr, "[DEBUG] "+format+"\n", args...)
	}
}

// printInfo prints a message if quiet mode is not enabled.
func printInfo(format string, args ...any) {
	if !getQuiet() {
		fmt.Printf(format+"\n", args...)
	}
}

// printError prints an error message to stderr.
func printError(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
}
