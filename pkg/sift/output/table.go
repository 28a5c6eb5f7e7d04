package output

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strconv"
	"strings"
)

// CSVFormatter writes RFC 4180 rows: size in bytes, human size, path and
// duplicate group.
type CSVFormatter struct{}

// Format writes the formatted output to the buffer.
func (f *CSVFormatter) Format(w *bytes.Buffer, r *Result) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"size", "size_human", "path", "group"}); err != nil {
		return err
	}
	for _, row := range r.Rows() {
		rec := []string{strconv.FormatInt(row.Size, 10), row.SizeHuman, row.Path, strconv.Itoa(row.Group)}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// MarkdownFormatter writes a GitHub-flavored Markdown table.
type MarkdownFormatter struct{}

// Format writes the formatted output to the buffer.
func (f *MarkdownFormatter) Format(w *bytes.Buffer, r *Result) error {
	w.WriteString("| SIZE | PATH |\n")
	w.WriteString("|------|------|\n")
	for _, row := range r.Rows() {
		fmt.Fprintf(w, "| %s | %s |\n", escapeMarkdownPipe(row.SizeHuman), escapeMarkdownPipe(row.Path))
	}
	return nil
}

func escapeMarkdownPipe(s string) string {
	return strings.ReplaceAll(s, "|", `\|`)
}

func init() {
	Register("csv", func() Formatter { return &CSVFormatter{} })
	Register("markdown", func() Formatter { return &MarkdownFormatter{} })
}

var (
	_ Formatter = (*CSVFormatter)(nil)
	_ Formatter = (*MarkdownFormatter)(nil)
)
