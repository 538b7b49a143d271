package web

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/mdde/genesisweb/internal/configstore"
	"github.com/mdde/genesisweb/internal/runner"
)

func render(t *testing.T, name string, data interface{}) string {
	t.Helper()
	tmpl, err := LoadTemplates()
	if err != nil {
		t.Fatalf("LoadTemplates() error = %v", err)
	}
	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, name, data); err != nil {
		t.Fatalf("ExecuteTemplate(%s) error = %v", name, err)
	}
	return buf.String()
}

func TestIndexTemplate_RendersConfigs(t *testing.T) {
	data := IndexData{
		SortBy: "name",
		Configs: []ConfigRow{
			{
				Info:   configstore.Info{Name: "nightly.yaml", Size: 2048, Valid: true, Modified: time.Now()},
				Status: runner.Snapshot{ID: "nightly.yaml", State: runner.Running, RunID: "r1"},
			},
			{
				Info:   configstore.Info{Name: "broken.yaml", Size: 12, ParseError: "yaml: line 1"},
				Status: runner.Snapshot{ID: "broken.yaml", State: runner.Idle},
			},
		},
	}

	output := render(t, "index.html", data)

	for _, want := range []string{"nightly.yaml", "broken.yaml", "2.0 KB", "12 B", "state-running", "invalid YAML", "yaml: line 1"} {
		if !strings.Contains(output, want) {
			t.Errorf("index should contain %q", want)
		}
	}
	// A live run opens the existing output instead of starting a new one.
	if !strings.Contains(output, `href="/run/nightly.yaml?attach=1"`) {
		t.Error("live run should link to the attached view")
	}
	if !strings.Contains(output, `href="/run/broken.yaml"`) {
		t.Error("idle config should link to a new run")
	}
}

func TestIndexTemplate_Empty(t *testing.T) {
	output := render(t, "index.html", IndexData{SortBy: "name"})
	if !strings.Contains(output, "No configurations found") {
		t.Error("empty index should say so")
	}
	if strings.Contains(output, "<table>") {
		t.Error("empty index should not render a table")
	}
}

func TestRunTemplate_EscapesConfigName(t *testing.T) {
	data := RunData{
		Config: "a.yaml",
		Status: runner.Snapshot{ID: "a.yaml", State: runner.AwaitingInput},
	}
	output := render(t, "run.html", data)

	if !strings.Contains(output, "state-waiting") {
		t.Error("run page should show the waiting state")
	}
	if !strings.Contains(output, `const config = "a.yaml";`) {
		t.Error("config name should be a JS string literal")
	}
	if !strings.Contains(output, `/stream`) {
		t.Error("run page should subscribe to the event stream")
	}
	if strings.Contains(output, `id="stop-button" class="btn btn-danger hidden"`) {
		t.Error("stop should be visible while the run is live")
	}
}

func TestEditorTemplate_Flash(t *testing.T) {
	data := EditorData{
		Name:      "a.yaml",
		Content:   "key: <value>\n",
		Flash:     "Saved a.yaml.",
		FlashKind: "success",
	}
	output := render(t, "editor.html", data)

	if !strings.Contains(output, "key: &lt;value&gt;") {
		t.Error("editor content should be HTML-escaped")
	}
	if !strings.Contains(output, "Saved a.yaml.") {
		t.Error("editor should show the flash message")
	}
	if !strings.Contains(output, "flash-success") {
		t.Error("flash should carry its kind")
	}
}

func TestErrorTemplate(t *testing.T) {
	output := render(t, "error.html", ErrorData{Status: 404, Message: "no such configuration"})
	if !strings.Contains(output, "404") || !strings.Contains(output, "no such configuration") {
		t.Errorf("error page missing status or message: %s", output)
	}
}

func TestStateHelpers(t *testing.T) {
	tests := []struct {
		state runner.State
		class string
		label string
	}{
		{runner.Idle, "state-idle", "Idle"},
		{runner.Running, "state-running", "Running"},
		{runner.AwaitingInput, "state-waiting", "Waiting for answer"},
		{runner.Finished, "state-finished", "Finished"},
		{runner.Error, "state-error", "Failed to start"},
	}
	for _, tt := range tests {
		t.Run(tt.label, func(t *testing.T) {
			if got := stateClass(tt.state); got != tt.class {
				t.Errorf("stateClass(%v) = %q, want %q", tt.state, got, tt.class)
			}
			if got := stateLabel(tt.state); got != tt.label {
				t.Errorf("stateLabel(%v) = %q, want %q", tt.state, got, tt.label)
			}
		})
	}
}

func TestSizeFormat(t *testing.T) {
	tests := []struct {
		n    int64
		want string
	}{
		{0, "0 B"},
		{1023, "1023 B"},
		{1024, "1.0 KB"},
		{1536, "1.5 KB"},
		{3 << 20, "3.0 MB"},
	}
	for _, tt := range tests {
		if got := sizeFormat(tt.n); got != tt.want {
			t.Errorf("sizeFormat(%d) = %q, want %q", tt.n, got, tt.want)
		}
	}
}

func TestTimeFormat(t *testing.T) {
	if got := timeFormat(time.Time{}); got != "-" {
		t.Errorf("timeFormat(zero) = %q, want -", got)
	}
	ts := time.Date(2026, 3, 4, 5, 6, 7, 0, time.Local)
	if got := timeFormat(ts); got != "2026-03-04 05:06:07" {
		t.Errorf("timeFormat = %q", got)
	}
}
