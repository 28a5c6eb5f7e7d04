package output

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/jamesainslie/sift/pkg/sift/analyzer"
	"github.com/jamesainslie/sift/pkg/sift/dupes"
	"github.com/jamesainslie/sift/pkg/sift/types"
)

const (
	barWidth        = 24
	maxExtensions   = 10
	maxEmptyFolders = 20
	maxGroups       = 10
)

// PrettyFormatter renders colored, boxed output for a terminal.
type PrettyFormatter struct{}

// Format writes the formatted output to the buffer.
func (f *PrettyFormatter) Format(w *bytes.Buffer, r *Result) error {
	w.WriteString(f.header(r))
	w.WriteString("\n")

	switch {
	case r.Files != nil:
		w.WriteString(f.table(r.Rows(), "No files matched"))
		w.WriteString(f.footer(fmt.Sprintf("%d files", len(r.Files)), "Total:", r.TotalSize()))
	case r.Duplicates != nil:
		w.WriteString(f.groups(r.Duplicates, 0))
		w.WriteString(f.footer(fmt.Sprintf("%d duplicate groups", len(r.Duplicates)), "Wasted:", dupes.TotalWasted(r.Duplicates)))
	case r.Report != nil:
		f.report(w, r.Report)
	}

	if len(r.Warnings) > 0 {
		w.WriteString("\n")
		w.WriteString(WarningStyle.Bold(true).Render("Warnings:"))
		w.WriteString("\n")
		for _, warn := range r.Warnings {
			w.WriteString(WarningStyle.Render("  " + warn))
			w.WriteString("\n")
		}
	}
	return nil
}

func (f *PrettyFormatter) header(r *Result) string {
	root := r.Root
	if root == "" && r.Report != nil {
		root = r.Report.Root
	}
	lines := []string{LabelStyle.Render("Root:") + " " + ValueStyle.Render(root)}

	var info []string
	if rep := r.Report; rep != nil {
		info = append(info, LabelStyle.Render("Source:")+" "+ValueStyle.Render(sourceLabel(rep)))
		info = append(info, LabelStyle.Render("Took:")+" "+ValueStyle.Render(formatDuration(rep.Elapsed)))
	}
	info = append(info, daemonStatus(r.DaemonUp, r.WatchActive))
	lines = append(lines, strings.Join(info, "  "))

	return HeaderBox.Render(strings.Join(lines, "\n"))
}

func sourceLabel(rep *analyzer.Report) string {
	switch rep.Source {
	case analyzer.SourceIndex:
		return "index, built " + humanize.Time(time.UnixMilli(rep.IndexedAt))
	case analyzer.SourceRebuild:
		if rep.StaleReason != "" {
			return fmt.Sprintf("rebuilt (%s)", rep.StaleReason)
		}
		return "rebuilt"
	default:
		return "direct scan"
	}
}

func daemonStatus(up, watching bool) string {
	switch {
	case !up:
		return MutedStyle.Render("daemon: off")
	case watching:
		return SuccessStyle.Render("daemon: watching")
	default:
		return LabelStyle.Render("daemon: ") + ValueStyle.Render("up")
	}
}

func (f *PrettyFormatter) report(w *bytes.Buffer, rep *analyzer.Report) {
	summary := []string{
		LabelStyle.Render("Files:") + " " + ValueStyle.Render(humanize.Comma(rep.TotalFiles)),
		LabelStyle.Render("Folders:") + " " + ValueStyle.Render(humanize.Comma(rep.TotalFolders)),
		LabelStyle.Render("Size:") + " " + SizeStyle.Render(types.FormatSize(rep.TotalSize)),
	}
	if rep.ErrorCount > 0 {
		summary = append(summary, ErrorStyle.Render(fmt.Sprintf("%d unreadable", rep.ErrorCount)))
	}
	w.WriteString("  " + strings.Join(summary, "  ") + "\n")

	w.WriteString(SectionStyle.Render("Categories") + "\n")
	for _, cs := range rep.ByCategory {
		bar := ""
		if rep.TotalSize > 0 {
			n := int(cs.TotalBytes * barWidth / rep.TotalSize)
			if n == 0 && cs.TotalBytes > 0 {
				n = 1
			}
			bar = strings.Repeat("█", n) + strings.Repeat("░", barWidth-n)
		}
		fmt.Fprintf(w, "  %-9s %s %10s  %s\n",
			cs.Category,
			categoryStyle(cs.Category).Render(bar),
			types.FormatSize(cs.TotalBytes),
			MutedStyle.Render(humanize.Comma(cs.FileCount)+" files"))
	}

	if len(rep.FilesByExtension) > 0 {
		w.WriteString(SectionStyle.Render("Extensions") + "\n")
		exts := sortedExtensions(rep.FilesByExtension)
		for _, ext := range exts[:min(len(exts), maxExtensions)] {
			fmt.Fprintf(w, "  %-10s %s\n", extensionLabel(ext), ValueStyle.Render(humanize.Comma(int64(len(rep.FilesByExtension[ext])))))
		}
		if more := len(exts) - maxExtensions; more > 0 {
			w.WriteString(MutedStyle.Render(fmt.Sprintf("  … %d more", more)) + "\n")
		}
	}

	w.WriteString(SectionStyle.Render("Largest files") + "\n")
	rows := make([]Row, 0, len(rep.LargestFiles))
	for _, e := range rep.LargestFiles {
		rows = append(rows, row(e.Size, e.Path, 0))
	}
	w.WriteString(f.table(rows, "No files"))

	if len(rep.EmptyFolders) > 0 {
		w.WriteString(SectionStyle.Render(fmt.Sprintf("Empty folders (%d)", len(rep.EmptyFolders))) + "\n")
		for _, p := range rep.EmptyFolders[:min(len(rep.EmptyFolders), maxEmptyFolders)] {
			w.WriteString("  " + PathStyle.Render(p) + "\n")
		}
		if more := len(rep.EmptyFolders) - maxEmptyFolders; more > 0 {
			w.WriteString(MutedStyle.Render(fmt.Sprintf("  … %d more", more)) + "\n")
		}
	}

	if rep.DuplicateFiles != nil {
		w.WriteString(SectionStyle.Render(fmt.Sprintf("Duplicates (%d groups, %s wasted)",
			len(rep.DuplicateFiles), types.FormatSize(rep.WastedBytes))) + "\n")
		w.WriteString(f.groups(rep.DuplicateFiles, maxGroups))
	}

	w.WriteString(f.footer(fmt.Sprintf("%s files", humanize.Comma(rep.TotalFiles)), "Total:", rep.TotalSize))
}

func (f *PrettyFormatter) table(rows []Row, empty string) string {
	if len(rows) == 0 {
		return MutedStyle.Render("  "+empty) + "\n"
	}
	width := 8
	for _, r := range rows {
		width = max(width, len(r.SizeHuman))
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "  %s  %s\n", TableHeaderStyle.Render(padLeft("SIZE", width)), TableHeaderStyle.Render("PATH"))
	for _, r := range rows {
		fmt.Fprintf(&sb, "  %s  %s\n", SizeStyle.Render(padLeft(r.SizeHuman, width)), PathStyle.Render(r.Path))
	}
	return sb.String()
}

// groups renders duplicate groups, at most limit of them when limit > 0.
func (f *PrettyFormatter) groups(groups []dupes.DuplicateGroup, limit int) string {
	if len(groups) == 0 {
		return MutedStyle.Render("  No duplicates") + "\n"
	}
	shown := groups
	if limit > 0 && len(shown) > limit {
		shown = shown[:limit]
	}

	var sb strings.Builder
	for i, g := range shown {
		fmt.Fprintf(&sb, "  %s %s\n",
			TitleStyle.Render(fmt.Sprintf("#%d", i+1)),
			MutedStyle.Render(fmt.Sprintf("%d × %s, %s wasted, md5 %s",
				g.Count, types.FormatSize(g.Size), types.FormatSize(g.WastedBytes), g.ContentHash)))
		for _, p := range g.Paths {
			sb.WriteString("     " + PathStyle.Render(p) + "\n")
		}
	}
	if more := len(groups) - len(shown); more > 0 {
		sb.WriteString(MutedStyle.Render(fmt.Sprintf("  … %d more groups, see sift dupes", more)) + "\n")
	}
	return sb.String()
}

func (f *PrettyFormatter) footer(count, label string, size int64) string {
	parts := []string{
		ValueStyle.Render(count),
		LabelStyle.Render(label) + " " + SizeStyle.Render(types.FormatSize(size)),
		MutedStyle.Render("Use -o plain for unformatted output"),
	}
	return FooterBox.Render(strings.Join(parts, "  ")) + "\n"
}

func padLeft(s string, width int) string {
	if len(s) >= width {
		return s
	}
	return strings.Repeat(" ", width-len(s)) + s
}

// formatDuration renders d with precision suited to its size.
func formatDuration(d time.Duration) string {
	switch {
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	case d < time.Minute:
		return fmt.Sprintf("%.1fs", d.Seconds())
	case d < time.Hour:
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	default:
		return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
	}
}

func init() {
	Register("pretty", func() Formatter { return &PrettyFormatter{} })
}

var _ Formatter = (*PrettyFormatter)(nil)
