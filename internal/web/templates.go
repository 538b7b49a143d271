// Package web provides the HTTP pages, JSON API and output streams of the
// workflow control panel.
package web

import (
	"embed"
	"fmt"
	"html/template"
	"io/fs"
	"time"

	"github.com/mdde/genesisweb/internal/configstore"
	"github.com/mdde/genesisweb/internal/runner"
)

//go:embed templates/*.html
var templateFS embed.FS

// ConfigRow is one configuration on the index page.
type ConfigRow struct {
	configstore.Info
	Status runner.Snapshot
}

// IndexData is passed to index.html.
type IndexData struct {
	Configs []ConfigRow
	SortBy  string
}

// RunData is passed to run.html.
type RunData struct {
	Config string
	Status runner.Snapshot
}

// EditorData is passed to editor.html.
type EditorData struct {
	Name    string
	Content string
	Flash   string
	// FlashKind is "success" or "danger".
	FlashKind string
}

// NewConfigData is passed to new.html.
type NewConfigData struct {
	Configs []string
	Base    string
	Name    string
	Error   string
}

// AboutData is passed to about.html.
type AboutData struct {
	HTML  template.HTML
	Found bool
}

// ErrorData is passed to error.html.
type ErrorData struct {
	Status  int
	Message string
}

// LoadTemplates loads and parses all HTML templates.
func LoadTemplates() (*template.Template, error) {
	funcMap := template.FuncMap{
		"stateClass": stateClass,
		"stateLabel": stateLabel,
		"timeFormat": timeFormat,
		"sizeFormat": sizeFormat,
	}

	subFS, err := fs.Sub(templateFS, "templates")
	if err != nil {
		return nil, err
	}

	tmpl, err := template.New("").Funcs(funcMap).ParseFS(subFS, "*.html")
	if err != nil {
		return nil, err
	}

	return tmpl, nil
}

// stateClass returns the CSS class for a session state.
func stateClass(state runner.State) string {
	switch state {
	case runner.Running:
		return "state-running"
	case runner.AwaitingInput:
		return "state-waiting"
	case runner.Finished:
		return "state-finished"
	case runner.Error:
		return "state-error"
	default:
		return "state-idle"
	}
}

// stateLabel returns the human label for a session state.
func stateLabel(state runner.State) string {
	switch state {
	case runner.Running:
		return "Running"
	case runner.AwaitingInput:
		return "Waiting for answer"
	case runner.Finished:
		return "Finished"
	case runner.Error:
		return "Failed to start"
	default:
		return "Idle"
	}
}

// timeFormat renders a timestamp, or a dash for the zero time.
func timeFormat(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

// sizeFormat renders a byte count.
func sizeFormat(n int64) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%.1f MB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1f KB", float64(n)/(1<<10))
	default:
		return fmt.Sprintf("%d B", n)
	}
}
