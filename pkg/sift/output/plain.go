package output

import (
	"bytes"
	"fmt"
	"slices"
	"strings"
	"text/tabwriter"

	"github.com/jamesainslie/sift/pkg/sift/analyzer"
	"github.com/jamesainslie/sift/pkg/sift/types"
)

// PlainFormatter writes aligned, uncolored text suitable for scripts and
// logs. Reports get a key/value summary ahead of the tables.
type PlainFormatter struct{}

// Format writes the formatted output to the buffer.
func (f *PlainFormatter) Format(w *bytes.Buffer, r *Result) error {
	tw := tabwriter.NewWriter(w, 0, 0, 1, ' ', 0)

	if r.Report != nil && r.Files == nil && r.Duplicates == nil {
		writeReport(tw, r.Report)
	} else {
		fmt.Fprintln(tw, "SIZE\tPATH")
		for _, row := range r.Rows() {
			if row.Group > 0 {
				fmt.Fprintf(tw, "%s\t%s\t#%d\n", row.SizeHuman, row.Path, row.Group)
				continue
			}
			fmt.Fprintf(tw, "%s\t%s\n", row.SizeHuman, row.Path)
		}
	}
	for _, warn := range r.Warnings {
		fmt.Fprintf(tw, "warning:\t%s\n", warn)
	}
	return tw.Flush()
}

func writeReport(tw *tabwriter.Writer, rep *analyzer.Report) {
	fmt.Fprintf(tw, "root:\t%s\n", rep.Root)
	fmt.Fprintf(tw, "source:\t%s\n", rep.Source)
	fmt.Fprintf(tw, "files:\t%d\n", rep.TotalFiles)
	fmt.Fprintf(tw, "folders:\t%d\n", rep.TotalFolders)
	fmt.Fprintf(tw, "size:\t%s\n", types.FormatSize(rep.TotalSize))
	fmt.Fprintf(tw, "errors:\t%d\n", rep.ErrorCount)
	fmt.Fprintf(tw, "elapsed:\t%s\n", formatDuration(rep.Elapsed))

	fmt.Fprintln(tw, "\nCATEGORY\tFILES\tSIZE")
	for _, cs := range rep.ByCategory {
		fmt.Fprintf(tw, "%s\t%d\t%s\n", cs.Category, cs.FileCount, types.FormatSize(cs.TotalBytes))
	}

	fmt.Fprintln(tw, "\nEXTENSION\tFILES")
	for _, ext := range sortedExtensions(rep.FilesByExtension) {
		fmt.Fprintf(tw, "%s\t%d\n", extensionLabel(ext), len(rep.FilesByExtension[ext]))
	}

	fmt.Fprintln(tw, "\nSIZE\tLARGEST")
	for _, e := range rep.LargestFiles {
		fmt.Fprintf(tw, "%s\t%s\n", types.FormatSize(e.Size), e.Path)
	}

	if len(rep.EmptyFolders) > 0 {
		fmt.Fprintln(tw, "\nEMPTY FOLDERS")
		for _, p := range rep.EmptyFolders {
			fmt.Fprintln(tw, p)
		}
	}

	if len(rep.DuplicateFiles) > 0 {
		fmt.Fprintf(tw, "\nDUPLICATES\t%d groups\t%s wasted\n", len(rep.DuplicateFiles), types.FormatSize(rep.WastedBytes))
		for i, g := range rep.DuplicateFiles {
			for _, p := range g.Paths {
				fmt.Fprintf(tw, "#%d\t%s\t%s\n", i+1, types.FormatSize(g.Size), p)
			}
		}
	}
}

// sortedExtensions orders extensions by file count descending, then name.
func sortedExtensions(byExt map[string][]string) []string {
	exts := make([]string, 0, len(byExt))
	for ext := range byExt {
		exts = append(exts, ext)
	}
	slices.SortFunc(exts, func(a, b string) int {
		if d := len(byExt[b]) - len(byExt[a]); d != 0 {
			return d
		}
		return strings.Compare(a, b)
	})
	return exts
}

func extensionLabel(ext string) string {
	if ext == "" {
		return "(none)"
	}
	return ext
}

func init() {
	Register("plain", func() Formatter { return &PlainFormatter{} })
}

var _ Formatter = (*PlainFormatter)(nil)
