package output

import "bytes"

// PathsFormatter writes one path per line, for piping to other tools.
type PathsFormatter struct{}

// Format writes the formatted output to the buffer.
func (f *PathsFormatter) Format(w *bytes.Buffer, r *Result) error {
	for _, row := range r.Rows() {
		w.WriteString(row.Path)
		w.WriteByte('\n')
	}
	return nil
}

// NullFormatter writes NUL-terminated paths for xargs -0. Paths containing
// newlines survive intact.
type NullFormatter struct{}

// Format writes the formatted output to the buffer.
func (f *NullFormatter) Format(w *bytes.Buffer, r *Result) error {
	for _, row := range r.Rows() {
		w.WriteString(row.Path)
		w.WriteByte(0)
	}
	return nil
}

func init() {
	Register("paths", func() Formatter { return &PathsFormatter{} })
	Register("null", func() Formatter { return &NullFormatter{} })
}

var (
	_ Formatter = (*PathsFormatter)(nil)
	_ Formatter = (*NullFormatter)(nil)
)
