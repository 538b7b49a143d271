package web

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mdde/genesisweb/internal/configstore"
	"github.com/mdde/genesisweb/internal/registry"
	"github.com/mdde/genesisweb/internal/runner"
	"github.com/mdde/genesisweb/internal/stream"
)

type testEnv struct {
	handler *Handler
	reg     *registry.Registry
	store   *configstore.Store
	dir     string
}

// newTestEnv wires a handler to a real store and registry whose workflow is
// the given /bin/sh script.
func newTestEnv(t *testing.T, script string, files map[string]string) *testEnv {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires /bin/sh")
	}

	dir := t.TempDir()
	configDir := filepath.Join(dir, "configs")
	require.NoError(t, os.MkdirAll(configDir, 0755))
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(configDir, name), []byte(content), 0644))
	}
	store, err := configstore.New(configDir)
	require.NoError(t, err)

	reg := registry.New(store, func(id, path string) *runner.Session {
		return runner.NewSession(id, path, runner.Options{
			Command:      []string{"/bin/sh", "-c", script, "workflow"},
			StopTimeout:  2 * time.Second,
			DrainTimeout: 500 * time.Millisecond,
		})
	}, stream.New(10*time.Millisecond))
	t.Cleanup(reg.StopAll)

	h, err := NewHandler(reg, store, Options{
		AboutFile: filepath.Join(dir, "about.md"),
		Keepalive: time.Second,
	})
	require.NoError(t, err)

	return &testEnv{handler: h, reg: reg, store: store, dir: dir}
}

func (e *testEnv) do(method, target string, form url.Values) *httptest.ResponseRecorder {
	var req *http.Request
	if form != nil {
		req = httptest.NewRequest(method, target, strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)
	return w
}

func (e *testEnv) waitState(t *testing.T, id string, want runner.State) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		snap, err := e.reg.Status(id)
		require.NoError(t, err)
		if snap.State == want {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("state = %v, want %v", snap.State, want)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestIndex_ListsConfigurations(t *testing.T) {
	env := newTestEnv(t, "true", map[string]string{
		"sales.yaml":  "model: sales\n",
		"broken.yaml": "model: [oops\n",
	})

	w := env.do("GET", "/", nil)

	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, "sales.yaml")
	assert.Contains(t, body, "broken.yaml")
	assert.Contains(t, body, "invalid YAML")
	assert.Contains(t, body, "state-idle")
	assert.Less(t, strings.Index(body, "broken.yaml"), strings.Index(body, "sales.yaml"), "sorted by name")
}

func TestIndex_SortByModified(t *testing.T) {
	env := newTestEnv(t, "true", map[string]string{
		"a.yaml": "a: 1\n",
		"b.yaml": "b: 1\n",
	})
	old := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(env.store.Dir(), "a.yaml"), old, old))

	w := env.do("GET", "/?sort_by=modified", nil)

	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Less(t, strings.Index(body, "b.yaml"), strings.Index(body, "a.yaml"), "newest first")
}

func TestIndex_UnknownPathIs404(t *testing.T) {
	env := newTestEnv(t, "true", nil)
	w := env.do("GET", "/nope", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRunPage_StartsWorkflow(t *testing.T) {
	env := newTestEnv(t, "echo hello; sleep 30", map[string]string{"flow.yaml": "a: 1\n"})

	w := env.do("GET", "/run/flow.yaml", nil)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "/api/runs/")
	snap, err := env.reg.Status("flow.yaml")
	require.NoError(t, err)
	assert.True(t, snap.State.Live())
	runID := snap.RunID

	// Reloading the page attaches to the live run.
	w = env.do("GET", "/run/flow.yaml", nil)
	require.Equal(t, http.StatusOK, w.Code)
	snap, err = env.reg.Status("flow.yaml")
	require.NoError(t, err)
	assert.Equal(t, runID, snap.RunID)
}

func TestRunPage_AttachDoesNotStart(t *testing.T) {
	env := newTestEnv(t, "echo hello", map[string]string{"flow.yaml": "a: 1\n"})

	w := env.do("GET", "/run/flow.yaml?attach=1", nil)

	require.Equal(t, http.StatusOK, w.Code)
	snap, err := env.reg.Status("flow.yaml")
	require.NoError(t, err)
	assert.Equal(t, runner.Idle, snap.State)
}

func TestRunPage_UnknownConfig(t *testing.T) {
	env := newTestEnv(t, "true", nil)

	w := env.do("GET", "/run/missing.yaml", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "missing.yaml")

	w = env.do("GET", "/run/notes.txt", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRunPage_SpawnFailure(t *testing.T) {
	env := newTestEnv(t, "true", map[string]string{"flow.yaml": "a: 1\n"})
	env.reg = registry.New(env.store, func(id, path string) *runner.Session {
		return runner.NewSession(id, path, runner.Options{Command: []string{"/nonexistent/genesis"}})
	}, nil)
	h, err := NewHandler(env.reg, env.store, Options{})
	require.NoError(t, err)
	env.handler = h

	w := env.do("GET", "/run/flow.yaml", nil)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "Failed to start")
}

func TestAbout(t *testing.T) {
	env := newTestEnv(t, "true", nil)

	w := env.do("GET", "/about", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "not available")

	md := "# Genesis\n\n| step | what |\n|---|---|\n| load | read data |\n\n<script>alert(1)</script>\n"
	require.NoError(t, os.WriteFile(filepath.Join(env.dir, "about.md"), []byte(md), 0644))

	w = env.do("GET", "/about", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, "<h1>Genesis</h1>")
	assert.Contains(t, body, "<table>")
	assert.NotContains(t, body, "<script>alert(1)</script>")
}

func TestConfigNew_CopiesBase(t *testing.T) {
	env := newTestEnv(t, "true", map[string]string{"base.yaml": "model: base\n"})

	w := env.do("GET", "/configs/new?base=base.yaml", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `<option value="base.yaml" selected>`)

	w = env.do("POST", "/configs/new", url.Values{"base_file": {"base.yaml"}, "new_name": {"nightly"}})
	require.Equal(t, http.StatusSeeOther, w.Code)
	assert.Equal(t, "/configs/edit/nightly.yaml?flash=created", w.Header().Get("Location"))

	content, err := env.store.Read("nightly.yaml")
	require.NoError(t, err)
	assert.Equal(t, "model: base\n", content)

	w = env.do("POST", "/configs/new", url.Values{"base_file": {"base.yaml"}, "new_name": {"nightly.yaml"}})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), "already exists")

	w = env.do("POST", "/configs/new", url.Values{"base_file": {"base.yaml"}, "new_name": {"../escape"}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestConfigEdit_Save(t *testing.T) {
	env := newTestEnv(t, "true", map[string]string{"c.yaml": "a: 1\n"})

	w := env.do("GET", "/configs/edit/c.yaml?flash=created", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "a: 1")
	assert.Contains(t, w.Body.String(), "Configuration created.")

	w = env.do("POST", "/configs/edit/c.yaml", url.Values{"action": {"save"}, "content": {"a: 2\r\n"}})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "flash-success")

	content, err := env.store.Read("c.yaml")
	require.NoError(t, err)
	assert.Equal(t, "a: 2\n", content)
}

func TestConfigEdit_SaveInvalidYAML(t *testing.T) {
	env := newTestEnv(t, "true", map[string]string{"c.yaml": "a: 1\n"})

	w := env.do("POST", "/configs/edit/c.yaml", url.Values{"action": {"save"}, "content": {"a: [1\n"}})

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "flash-danger")
	assert.Contains(t, w.Body.String(), "a: [1", "editor keeps the rejected content")

	content, err := env.store.Read("c.yaml")
	require.NoError(t, err)
	assert.Equal(t, "a: 1\n", content)
}

func TestConfigEdit_SaveAs(t *testing.T) {
	env := newTestEnv(t, "true", map[string]string{"c.yaml": "a: 1\n", "taken.yaml": "b: 1\n"})

	w := env.do("POST", "/configs/edit/c.yaml", url.Values{
		"action": {"save_as"}, "content": {"a: 3\n"}, "new_name": {" copy "},
	})
	require.Equal(t, http.StatusSeeOther, w.Code)
	assert.Equal(t, "/configs/edit/copy.yaml?flash=saved_as", w.Header().Get("Location"))

	content, err := env.store.Read("copy.yaml")
	require.NoError(t, err)
	assert.Equal(t, "a: 3\n", content)

	w = env.do("POST", "/configs/edit/c.yaml", url.Values{
		"action": {"save_as"}, "content": {"a: 4\n"}, "new_name": {"taken"},
	})
	assert.Equal(t, http.StatusConflict, w.Code)
	taken, err := env.store.Read("taken.yaml")
	require.NoError(t, err)
	assert.Equal(t, "b: 1\n", taken, "existing file must not be overwritten")
}

func TestConfigEdit_Missing(t *testing.T) {
	env := newTestEnv(t, "true", nil)
	w := env.do("GET", "/configs/edit/missing.yaml", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestConfigDelete_StopsRun(t *testing.T) {
	env := newTestEnv(t, "sleep 30", map[string]string{"c.yaml": "a: 1\n"})
	_, err := env.reg.Start("c.yaml")
	require.NoError(t, err)

	w := env.do("POST", "/configs/delete/c.yaml", nil)

	require.Equal(t, http.StatusSeeOther, w.Code)
	_, ok := env.reg.Lookup("c.yaml")
	assert.False(t, ok)
	_, err = env.store.Read("c.yaml")
	assert.ErrorIs(t, err, configstore.ErrConfigNotFound)

	w = env.do("POST", "/configs/delete/c.yaml", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestLogDownload_StripsControlCodes(t *testing.T) {
	env := newTestEnv(t, `printf '\033[32mgreen\033[0m\nplain\n'`, map[string]string{"c.yaml": "a: 1\n"})
	_, err := env.reg.Start("c.yaml")
	require.NoError(t, err)
	env.waitState(t, "c.yaml", runner.Finished)

	w := env.do("GET", "/runs/c.yaml/log", nil)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "green\nplain\n", w.Body.String())
	assert.Contains(t, w.Header().Get("Content-Disposition"), `filename="c-`)
	assert.Equal(t, "text/plain; charset=utf-8", w.Header().Get("Content-Type"))
}

func TestSortKey(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"", "name"},
		{"name", "name"},
		{"modified", "modified"},
		{"state", "state"},
		{"size; drop table", "name"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, sortKey(tt.in))
		})
	}
}
