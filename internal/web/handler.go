package web

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/x/ansi"
	"github.com/gorilla/websocket"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/mdde/genesisweb/internal/configstore"
	"github.com/mdde/genesisweb/internal/runner"
	"github.com/mdde/genesisweb/internal/stream"
)

// DefaultKeepalive is the interval of SSE keepalive comments and WebSocket
// pings.
const DefaultKeepalive = 15 * time.Second

// Runs is the workflow control surface. Implemented by registry.Registry.
type Runs interface {
	Get(id string) (*runner.Session, error)
	Remove(id string) error
	Start(id string) (runner.Snapshot, error)
	Stop(id string) (runner.Snapshot, error)
	Status(id string) (runner.Snapshot, error)
	Subscribe(ctx context.Context, id string, c stream.Cursor) (<-chan stream.Event, error)
	SendInput(id, text string) (runner.Snapshot, error)
}

// Configs is the configuration store. Implemented by configstore.Store.
type Configs interface {
	Names() ([]string, error)
	List() ([]configstore.Info, error)
	Read(name string) (string, error)
	Save(name, content string) error
	Create(name, content string) (string, error)
	Copy(base, name string) (string, error)
	Delete(name string) error
}

// Options configures a Handler.
type Options struct {
	// AboutFile is the Markdown file rendered at /about.
	AboutFile string
	// Keepalive defaults to DefaultKeepalive.
	Keepalive time.Duration
}

// Handler serves the control panel.
type Handler struct {
	runs      Runs
	configs   Configs
	template  *template.Template
	markdown  goldmark.Markdown
	upgrader  websocket.Upgrader
	aboutFile string
	keepalive time.Duration
	mux       *http.ServeMux
	root      http.Handler
}

// NewHandler creates the control panel handler.
func NewHandler(runs Runs, configs Configs, opts Options) (*Handler, error) {
	tmpl, err := LoadTemplates()
	if err != nil {
		return nil, fmt.Errorf("loading templates: %w", err)
	}
	if opts.Keepalive <= 0 {
		opts.Keepalive = DefaultKeepalive
	}

	h := &Handler{
		runs:      runs,
		configs:   configs,
		template:  tmpl,
		markdown:  goldmark.New(goldmark.WithExtensions(extension.GFM)),
		upgrader:  websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 4096},
		aboutFile: opts.AboutFile,
		keepalive: opts.Keepalive,
		mux:       http.NewServeMux(),
	}
	h.routes()
	h.root = logRequests(h.mux)
	return h, nil
}

func (h *Handler) routes() {
	// Pages
	h.mux.HandleFunc("GET /{$}", h.serveIndex)
	h.mux.HandleFunc("GET /run/{name}", h.serveRun)
	h.mux.HandleFunc("GET /about", h.serveAbout)
	h.mux.HandleFunc("GET /configs/new", h.serveNewConfig)
	h.mux.HandleFunc("POST /configs/new", h.createConfig)
	h.mux.HandleFunc("GET /configs/edit/{name}", h.serveEditor)
	h.mux.HandleFunc("POST /configs/edit/{name}", h.saveConfig)
	h.mux.HandleFunc("POST /configs/delete/{name}", h.deleteConfig)
	h.mux.HandleFunc("GET /runs/{name}/log", h.serveLog)

	// JSON API
	h.mux.HandleFunc("GET /api/runs", h.handleList)
	h.mux.HandleFunc("GET /api/runs/{name}", h.handleStatus)
	h.mux.HandleFunc("POST /api/runs/{name}/start", h.handleStart)
	h.mux.HandleFunc("POST /api/runs/{name}/stop", h.handleStop)
	h.mux.HandleFunc("POST /api/runs/{name}/input", h.handleInput)

	// Streams
	h.mux.HandleFunc("GET /api/runs/{name}/stream", h.handleSSE)
	h.mux.HandleFunc("GET /api/runs/{name}/ws", h.handleWebSocket)
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.root.ServeHTTP(w, r)
}

// render executes a page template. The output is buffered so a template
// error still produces a clean 500.
func (h *Handler) render(w http.ResponseWriter, status int, name string, data any) {
	var buf bytes.Buffer
	if err := h.template.ExecuteTemplate(&buf, name, data); err != nil {
		slog.Error("rendering template", "template", name, "err", err)
		http.Error(w, "Failed to render template", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}

func (h *Handler) renderError(w http.ResponseWriter, status int, message string) {
	h.render(w, status, "error.html", ErrorData{Status: status, Message: message})
}

// pathConfig returns the {name} path value after validating it.
func (h *Handler) pathConfig(w http.ResponseWriter, r *http.Request, page bool) (string, bool) {
	name := r.PathValue("name")
	if isValidConfigName(name) {
		return name, true
	}
	msg := fmt.Sprintf("Invalid configuration name %q", name)
	if page {
		h.renderError(w, http.StatusBadRequest, msg)
	} else {
		writeError(w, msg, http.StatusBadRequest)
	}
	return "", false
}

// serveIndex handles GET / and lists every configuration with its run state.
func (h *Handler) serveIndex(w http.ResponseWriter, r *http.Request) {
	infos, err := h.configs.List()
	if err != nil {
		slog.Error("listing configurations", "err", err)
		h.renderError(w, http.StatusInternalServerError, "Failed to list configurations")
		return
	}

	rows := make([]ConfigRow, 0, len(infos))
	for _, info := range infos {
		row := ConfigRow{Info: info}
		if snap, err := h.runs.Status(info.Name); err == nil {
			row.Status = snap
		}
		rows = append(rows, row)
	}

	sortBy := sortKey(r.URL.Query().Get("sort_by"))
	sortRows(rows, sortBy)

	h.render(w, http.StatusOK, "index.html", IndexData{Configs: rows, SortBy: sortBy})
}

// sortRows orders rows by name, by most recent modification, or with live
// runs first.
func sortRows(rows []ConfigRow, by string) {
	switch by {
	case "modified":
		sort.SliceStable(rows, func(i, j int) bool {
			return rows[i].Modified.After(rows[j].Modified)
		})
	case "state":
		sort.SliceStable(rows, func(i, j int) bool {
			return rows[i].Status.State.Live() && !rows[j].Status.State.Live()
		})
	default:
		sort.SliceStable(rows, func(i, j int) bool {
			return rows[i].Name < rows[j].Name
		})
	}
}

// serveRun handles GET /run/{name}. The run is started unless it is already
// live or the request only attaches (?attach=1) to existing output.
func (h *Handler) serveRun(w http.ResponseWriter, r *http.Request) {
	name, ok := h.pathConfig(w, r, true)
	if !ok {
		return
	}

	snap, err := h.runs.Status(name)
	if err != nil {
		h.renderError(w, statusFor(err), fmt.Sprintf("Configuration %q not found.", name))
		return
	}

	data := RunData{Config: name, Status: snap}
	if !snap.State.Live() && r.URL.Query().Get("attach") == "" {
		snap, err = h.runs.Start(name)
		// A concurrent start from another tab is fine: attach to it.
		if err != nil && !errors.Is(err, runner.ErrAlreadyRunning) {
			h.renderError(w, statusFor(err), fmt.Sprintf("Failed to start the workflow: %v", err))
			return
		}
		data.Status = snap
	}

	h.render(w, http.StatusOK, "run.html", data)
}

// serveAbout handles GET /about, rendering the about file as HTML.
func (h *Handler) serveAbout(w http.ResponseWriter, r *http.Request) {
	src, err := os.ReadFile(h.aboutFile) //nolint:gosec // G304: operator-configured path
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			slog.Warn("reading about file", "path", h.aboutFile, "err", err)
		}
		h.render(w, http.StatusNotFound, "about.html", AboutData{})
		return
	}

	var buf bytes.Buffer
	if err := h.markdown.Convert(src, &buf); err != nil {
		slog.Error("rendering about file", "path", h.aboutFile, "err", err)
		h.renderError(w, http.StatusInternalServerError, "Failed to render the about page")
		return
	}
	// goldmark escapes raw HTML unless WithUnsafe is set.
	h.render(w, http.StatusOK, "about.html", AboutData{HTML: template.HTML(buf.String()), Found: true}) //nolint:gosec // G203: sanitized by goldmark
}

// serveNewConfig handles GET /configs/new.
func (h *Handler) serveNewConfig(w http.ResponseWriter, r *http.Request) {
	names, err := h.configs.Names()
	if err != nil {
		slog.Error("listing configurations", "err", err)
		h.renderError(w, http.StatusInternalServerError, "Failed to list configurations")
		return
	}
	h.render(w, http.StatusOK, "new.html", NewConfigData{Configs: names, Base: r.URL.Query().Get("base")})
}

// createConfig handles POST /configs/new: copy base_file to new_name.
func (h *Handler) createConfig(w http.ResponseWriter, r *http.Request) {
	base := r.FormValue("base_file")
	newName := strings.TrimSpace(r.FormValue("new_name"))

	name, err := h.configs.Copy(base, newName)
	if err != nil {
		names, _ := h.configs.Names()
		h.render(w, statusFor(err), "new.html", NewConfigData{
			Configs: names,
			Base:    base,
			Name:    newName,
			Error:   createErrorMessage(err),
		})
		return
	}

	slog.Info("configuration created", "name", name, "base", base)
	http.Redirect(w, r, "/configs/edit/"+url.PathEscape(name)+"?flash=created", http.StatusSeeOther)
}

func createErrorMessage(err error) string {
	switch {
	case errors.Is(err, configstore.ErrAlreadyExists):
		return "A configuration with that name already exists, choose another name."
	case errors.Is(err, configstore.ErrInvalidName):
		return "Invalid name: use letters, digits, spaces, dots, dashes and underscores."
	case errors.Is(err, configstore.ErrConfigNotFound):
		return "The base configuration does not exist."
	default:
		return err.Error()
	}
}

// flashMessages are the notices editor redirects can carry.
var flashMessages = map[string]string{
	"created":  "Configuration created.",
	"saved_as": "Configuration saved under a new name.",
}

// serveEditor handles GET /configs/edit/{name}.
func (h *Handler) serveEditor(w http.ResponseWriter, r *http.Request) {
	name, ok := h.pathConfig(w, r, true)
	if !ok {
		return
	}
	content, err := h.configs.Read(name)
	if err != nil {
		h.renderError(w, statusFor(err), fmt.Sprintf("Configuration %q not found.", name))
		return
	}

	data := EditorData{Name: name, Content: content}
	if msg, ok := flashMessages[r.URL.Query().Get("flash")]; ok {
		data.Flash, data.FlashKind = msg, "success"
	}
	h.render(w, http.StatusOK, "editor.html", data)
}

// saveConfig handles POST /configs/edit/{name} with action save or save_as.
func (h *Handler) saveConfig(w http.ResponseWriter, r *http.Request) {
	name, ok := h.pathConfig(w, r, true)
	if !ok {
		return
	}
	content := strings.ReplaceAll(r.FormValue("content"), "\r\n", "\n")

	switch r.FormValue("action") {
	case "save":
		if err := h.configs.Save(name, content); err != nil {
			h.render(w, statusFor(err), "editor.html", EditorData{
				Name: name, Content: content, Flash: "Not saved: " + err.Error(), FlashKind: "danger",
			})
			return
		}
		slog.Info("configuration saved", "name", name)
		h.render(w, http.StatusOK, "editor.html", EditorData{
			Name: name, Content: content, Flash: fmt.Sprintf("Saved %q.", name), FlashKind: "success",
		})

	case "save_as":
		newName, err := h.configs.Create(r.FormValue("new_name"), content)
		if err != nil {
			h.render(w, statusFor(err), "editor.html", EditorData{
				Name: name, Content: content, Flash: createErrorMessage(err), FlashKind: "danger",
			})
			return
		}
		slog.Info("configuration saved as", "name", name, "new_name", newName)
		http.Redirect(w, r, "/configs/edit/"+url.PathEscape(newName)+"?flash=saved_as", http.StatusSeeOther)

	default:
		h.renderError(w, http.StatusBadRequest, "Unknown editor action")
	}
}

// deleteConfig handles POST /configs/delete/{name}. A live run of the
// configuration is stopped first.
func (h *Handler) deleteConfig(w http.ResponseWriter, r *http.Request) {
	name, ok := h.pathConfig(w, r, true)
	if !ok {
		return
	}
	if err := h.runs.Remove(name); err != nil {
		slog.Warn("removing session", "name", name, "err", err)
	}
	if err := h.configs.Delete(name); err != nil {
		h.renderError(w, statusFor(err), fmt.Sprintf("Failed to delete %q: %v", name, err))
		return
	}
	slog.Info("configuration deleted", "name", name)
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// serveLog handles GET /runs/{name}/log, the output of the current or last
// run as plain text.
func (h *Handler) serveLog(w http.ResponseWriter, r *http.Request) {
	name, ok := h.pathConfig(w, r, true)
	if !ok {
		return
	}
	sess, err := h.runs.Get(name)
	if err != nil {
		h.renderError(w, statusFor(err), fmt.Sprintf("Configuration %q not found.", name))
		return
	}

	base := strings.TrimSuffix(name, filepath.Ext(name))
	stamp := time.Now()
	if snap := sess.Status(); !snap.StartedAt.IsZero() {
		stamp = snap.StartedAt
	}
	filename := fmt.Sprintf("%s-%s.log", base, stamp.Format("20060102-150405"))

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	for _, line := range sess.Buffer().Lines() {
		if _, err := fmt.Fprintln(w, ansi.Strip(line)); err != nil {
			return
		}
	}
}
