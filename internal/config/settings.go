// Package config loads the control panel settings file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/mdde/genesisweb/internal/linebuf"
	"github.com/mdde/genesisweb/internal/prompt"
	"github.com/mdde/genesisweb/internal/runner"
	"github.com/mdde/genesisweb/internal/stream"
)

// DefaultPath is the settings file looked up when none is given.
const DefaultPath = "genesisweb.toml"

// Duration is a time.Duration written as a Go duration string ("5s").
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler for TOML decoding.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Settings is the parsed settings file.
type Settings struct {
	ConfigDir string `toml:"config_dir"`
	StateDir  string `toml:"state_dir"`
	AboutFile string `toml:"about_file"`

	Server struct {
		Addr              string   `toml:"addr"`
		ReadHeaderTimeout Duration `toml:"read_header_timeout"`
	} `toml:"server"`

	Workflow struct {
		Command      []string          `toml:"command"`
		WorkDir      string            `toml:"work_dir"`
		Env          map[string]string `toml:"env"`
		MaxLines     int               `toml:"max_lines"`
		MaxLineBytes int               `toml:"max_line_bytes"`
		StopTimeout  Duration          `toml:"stop_timeout"`
		DrainTimeout Duration          `toml:"drain_timeout"`
	} `toml:"workflow"`

	Detector struct {
		Kind              string   `toml:"kind"`
		PromptMarkers     []string `toml:"prompt_markers"`
		CompletionMarkers []string `toml:"completion_markers"`
	} `toml:"detector"`

	Stream struct {
		PollInterval Duration `toml:"poll_interval"`
		Keepalive    Duration `toml:"keepalive"`
	} `toml:"stream"`

	// path is the file the settings were read from, empty for defaults.
	path string
}

// Default returns the settings used when no file is present.
func Default() *Settings {
	s := &Settings{
		ConfigDir: "configs",
		StateDir:  ".genesisweb",
		AboutFile: filepath.Join("static", "about.md"),
	}
	s.Server.Addr = "127.0.0.1:8080"
	s.Server.ReadHeaderTimeout = Duration{10 * time.Second}

	s.Workflow.Command = []string{"python", filepath.Join("src", "genesis.py")}
	s.Workflow.Env = DefaultWorkflowEnv()
	s.Workflow.MaxLines = linebuf.DefaultMaxLines
	s.Workflow.MaxLineBytes = runner.DefaultMaxLineBytes
	s.Workflow.StopTimeout = Duration{runner.DefaultStopTimeout}
	s.Workflow.DrainTimeout = Duration{runner.DefaultDrainTimeout}

	s.Detector.Kind = prompt.KindPhrase
	s.Detector.PromptMarkers = append([]string(nil), prompt.DefaultPromptMarkers...)
	s.Detector.CompletionMarkers = append([]string(nil), prompt.DefaultCompletionMarkers...)

	s.Stream.PollInterval = Duration{stream.DefaultPollInterval}
	s.Stream.Keepalive = Duration{15 * time.Second}
	return s
}

// Load reads the settings file at path over the defaults.
//
// An empty path reads DefaultPath when it exists and falls back to the
// defaults otherwise. An explicit path must exist.
func Load(path string) (*Settings, error) {
	s := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultPath
	}
	data, err := os.ReadFile(path) //nolint:gosec // G304: operator-supplied settings path
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !explicit {
			return s, nil
		}
		return nil, fmt.Errorf("reading settings: %w", err)
	}

	md, err := toml.Decode(string(data), s)
	if err != nil {
		return nil, fmt.Errorf("parsing settings %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("parsing settings %s: unknown keys: %s", path, strings.Join(keys, ", "))
	}
	s.path = path
	s.Workflow.Env = MergeEnv(DefaultWorkflowEnv(), s.Workflow.Env)

	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("settings %s: %w", path, err)
	}
	return s, nil
}

// Path returns the file the settings came from, or "" for defaults.
func (s *Settings) Path() string { return s.path }

// Validate rejects settings the server cannot run with.
func (s *Settings) Validate() error {
	if strings.TrimSpace(s.ConfigDir) == "" {
		return fmt.Errorf("config_dir is empty")
	}
	if strings.TrimSpace(s.Server.Addr) == "" {
		return fmt.Errorf("server.addr is empty")
	}
	if len(s.Workflow.Command) == 0 || strings.TrimSpace(s.Workflow.Command[0]) == "" {
		return fmt.Errorf("workflow.command is empty")
	}
	if s.Workflow.MaxLines <= 0 {
		return fmt.Errorf("workflow.max_lines must be positive, got %d", s.Workflow.MaxLines)
	}
	if s.Workflow.MaxLineBytes <= 0 {
		return fmt.Errorf("workflow.max_line_bytes must be positive, got %d", s.Workflow.MaxLineBytes)
	}
	for name, d := range map[string]Duration{
		"server.read_header_timeout": s.Server.ReadHeaderTimeout,
		"workflow.stop_timeout":      s.Workflow.StopTimeout,
		"workflow.drain_timeout":     s.Workflow.DrainTimeout,
		"stream.poll_interval":       s.Stream.PollInterval,
		"stream.keepalive":           s.Stream.Keepalive,
	} {
		if d.Duration <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, d)
		}
	}
	if _, err := s.NewDetector(); err != nil {
		return err
	}
	return nil
}

// NewDetector builds the prompt detector the settings describe.
func (s *Settings) NewDetector() (prompt.Detector, error) {
	d, err := prompt.New(s.Detector.Kind, s.Detector.PromptMarkers, s.Detector.CompletionMarkers)
	if err != nil {
		return nil, fmt.Errorf("detector: %w", err)
	}
	return d, nil
}

// RunnerOptions returns the session options for workflow runs.
func (s *Settings) RunnerOptions() (runner.Options, error) {
	d, err := s.NewDetector()
	if err != nil {
		return runner.Options{}, err
	}
	return runner.Options{
		Command:      append([]string(nil), s.Workflow.Command...),
		Dir:          s.Workflow.WorkDir,
		Env:          EnvToSlice(s.Workflow.Env),
		Detector:     d,
		MaxLines:     s.Workflow.MaxLines,
		MaxLineBytes: s.Workflow.MaxLineBytes,
		StopTimeout:  s.Workflow.StopTimeout.Duration,
		DrainTimeout: s.Workflow.DrainTimeout.Duration,
	}, nil
}

// LockPath returns the lock file guarding a single server per state dir.
func (s *Settings) LockPath() string {
	return filepath.Join(s.StateDir, "serve.lock")
}
