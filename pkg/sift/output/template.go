package output

import (
	"bytes"
	"fmt"
	"sync"
	"text/template"
	"time"

	"github.com/dustin/go-humanize"
)

// TemplateFormatter renders a user-supplied text/template. The template sees
// the Result plus Rows and TotalSize.
type TemplateFormatter struct {
	mu   sync.Mutex
	text string
	tmpl *template.Template
}

type templateData struct {
	*Result
	Rows      []Row
	TotalSize int64
}

// NewTemplateFormatter creates a formatter for text.
func NewTemplateFormatter(text string) *TemplateFormatter {
	return &TemplateFormatter{text: text}
}

func templateFuncs() template.FuncMap {
	return template.FuncMap{
		// {{bytes .Size}}
		"bytes": func(n int64) string {
			return humanize.IBytes(uint64(max(n, 0)))
		},
		// {{millis .ModTime "2006-01-02"}}
		"millis": func(ms int64, layout string) string {
			if ms == 0 {
				return ""
			}
			return time.UnixMilli(ms).Format(layout)
		},
		// {{ago .ModTime}}
		"ago": func(ms int64) string {
			return humanize.Time(time.UnixMilli(ms))
		},
	}
}

// Format writes the formatted output to the buffer.
func (f *TemplateFormatter) Format(w *bytes.Buffer, r *Result) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.tmpl == nil {
		tmpl, err := template.New("output").Funcs(templateFuncs()).Parse(f.text)
		if err != nil {
			return fmt.Errorf("parsing template: %w", err)
		}
		f.tmpl = tmpl
	}
	return f.tmpl.Execute(w, templateData{Result: r, Rows: r.Rows(), TotalSize: r.TotalSize()})
}

const defaultTemplate = `{{range .Rows}}{{.SizeHuman}}	{{.Path}}
{{end}}`

func init() {
	Register("template", func() Formatter { return NewTemplateFormatter(defaultTemplate) })
}

var _ Formatter = (*TemplateFormatter)(nil)
