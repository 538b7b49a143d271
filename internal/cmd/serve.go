package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"github.com/mdde/genesisweb/internal/config"
	"github.com/mdde/genesisweb/internal/configstore"
	"github.com/mdde/genesisweb/internal/exitcode"
	"github.com/mdde/genesisweb/internal/registry"
	"github.com/mdde/genesisweb/internal/runner"
	"github.com/mdde/genesisweb/internal/stream"
	"github.com/mdde/genesisweb/internal/style"
	"github.com/mdde/genesisweb/internal/web"
)

// shutdownTimeout bounds how long open requests may take to finish once
// every run was stopped.
const shutdownTimeout = 10 * time.Second

var (
	serveAddr string
	serveOpen bool
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	GroupID: GroupRuns,
	Short:   "Start the workflow control panel",
	Long: `Start a web server for starting workflow runs and following their output.

Pages:
  /                      Configurations and their run state
  /run/{config}          Start a run (or attach to the live one) and follow it
  /configs/new           Create a configuration from an existing one
  /configs/edit/{config} Edit a configuration
  /about                 The about page (Markdown)

API:
  GET  /api/runs                   Run state of every configuration
  POST /api/runs/{config}/start    Start a run
  POST /api/runs/{config}/stop     Stop a run
  POST /api/runs/{config}/input    Answer the pending question {"value": "J"}
  GET  /api/runs/{config}/stream   Server-Sent Events output stream
  GET  /api/runs/{config}/ws       WebSocket output stream and answers

Only one server may use a state directory at a time. SIGINT or SIGTERM
stops every live run before the server exits.

Examples:
  genesisweb serve                       # Listen on 127.0.0.1:8080
  genesisweb serve --addr :3000 --open   # Listen on all interfaces, open a browser
  curl -N http://localhost:8080/api/runs/nightly.yaml/stream`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default from settings, 127.0.0.1:8080)")
	serveCmd.Flags().BoolVar(&serveOpen, "open", false, "Open browser automatically")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	if serveAddr != "" {
		settings.Server.Addr = serveAddr
	}

	unlock, err := acquireServeLock(settings.LockPath())
	if err != nil {
		return err
	}
	defer unlock()

	srv, err := newServer(settings)
	if err != nil {
		return err
	}

	ln, err := net.Listen("tcp", settings.Server.Addr)
	if err != nil {
		return exitcode.Wrap(exitcode.ErrNetwork, "listening on "+settings.Server.Addr, err)
	}

	url := "http://" + displayAddr(ln.Addr())
	fmt.Fprintf(cmd.OutOrStdout(), "%s genesisweb serving %s at %s\n",
		style.Bold.Render("●"), srv.store.Dir(), style.Info.Render(url))
	fmt.Fprintf(cmd.OutOrStdout(), "  %s\n", style.Dim.Render("Press Ctrl+C to stop"))

	if serveOpen {
		go openBrowser(url)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return srv.serve(ctx, ln)
}

// server is the wired control panel.
type server struct {
	store    *configstore.Store
	registry *registry.Registry
	http     *http.Server
}

// newServer wires the configuration store, session registry and HTTP
// handler described by s.
func newServer(s *config.Settings) (*server, error) {
	opts, err := s.RunnerOptions()
	if err != nil {
		return nil, exitcode.Wrap(exitcode.ErrUsage, "invalid settings", err)
	}
	store, err := configstore.New(s.ConfigDir)
	if err != nil {
		return nil, err
	}

	reg := registry.New(store, func(id, path string) *runner.Session {
		return runner.NewSession(id, path, opts)
	}, stream.New(s.Stream.PollInterval.Duration))
	if err := reg.Scan(); err != nil {
		return nil, fmt.Errorf("scanning configurations: %w", err)
	}

	handler, err := web.NewHandler(reg, store, web.Options{
		AboutFile: s.AboutFile,
		Keepalive: s.Stream.Keepalive.Duration,
	})
	if err != nil {
		return nil, fmt.Errorf("creating handler: %w", err)
	}

	// No read or write timeout: output streams stay open for the whole run.
	httpServer := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: s.Server.ReadHeaderTimeout.Duration,
		IdleTimeout:       120 * time.Second,
	}
	return &server{store: store, registry: reg, http: httpServer}, nil
}

// serve serves on ln until ctx is done, then stops every run and shuts the
// HTTP server down.
func (s *server) serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() { errCh <- s.http.Serve(ln) }()
	slog.Info("server started", "addr", ln.Addr().String(), "configs", s.store.Dir())

	select {
	case err := <-errCh:
		s.registry.StopAll()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	slog.Info("shutting down", "live_runs", s.liveRuns())
	// Stopped runs end their streams, which lets Shutdown drain.
	s.registry.StopAll()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		slog.Warn("shutdown incomplete, closing connections", "err", err)
		_ = s.http.Close()
	}
	return nil
}

func (s *server) liveRuns() int {
	n := 0
	for _, sess := range s.registry.List() {
		if sess.Status().State.Live() {
			n++
		}
	}
	return n
}

// acquireServeLock takes the per-state-directory server lock.
// Uses gofrs/flock for cross-platform compatibility (Unix + Windows).
func acquireServeLock(path string) (func(), error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating state dir: %w", err)
	}
	fileLock := flock.New(path)

	// Try to acquire exclusive lock (non-blocking)
	locked, err := fileLock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquiring lock: %w", err)
	}
	if !locked {
		return nil, exitcode.Busy(path)
	}
	return func() { _ = fileLock.Unlock() }, nil
}

// displayAddr turns a wildcard listen address into one a browser can open.
func displayAddr(addr net.Addr) string {
	tcp, ok := addr.(*net.TCPAddr)
	if !ok || !tcp.IP.IsUnspecified() {
		return addr.String()
	}
	return net.JoinHostPort("localhost", fmt.Sprint(tcp.Port))
}

// openBrowser opens the specified URL in the default browser.
func openBrowser(url string) {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "linux":
		cmd = exec.Command("xdg-open", url)
	case "windows":
		cmd = exec.Command("cmd", "/c", "start", url)
	default:
		return
	}
	_ = cmd.Start()
}
