package runner

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mdde/genesisweb/internal/linebuf"
	"github.com/mdde/genesisweb/internal/prompt"
)

// Defaults applied by NewSession to zero Options fields.
const (
	DefaultStopTimeout  = 5 * time.Second
	DefaultDrainTimeout = 2 * time.Second
)

// Options configures how a session launches its workflow.
type Options struct {
	// Command is the argv prefix; the configuration path is appended.
	Command []string

	// Dir is the working directory of the workflow. Empty means the
	// server's working directory.
	Dir string

	// Env holds extra KEY=VALUE pairs appended to the server environment.
	Env []string

	// Detector classifies output lines. Defaults to a PhraseDetector.
	Detector prompt.Detector

	// MaxLines caps the number of stored output lines per run.
	MaxLines int

	// MaxLineBytes caps the length of one output line.
	MaxLineBytes int

	// StopTimeout is how long Stop waits after SIGTERM before SIGKILL.
	StopTimeout time.Duration

	// DrainTimeout is how long output is drained after the process exits
	// before the pipe is closed.
	DrainTimeout time.Duration
}

// Snapshot is a point-in-time view of a session.
type Snapshot struct {
	ID         string    `json:"id"`
	Path       string    `json:"path"`
	State      State     `json:"state"`
	Prompt     string    `json:"prompt,omitempty"`
	PromptSeq  uint64    `json:"prompt_seq"`
	RunID      string    `json:"run_id,omitempty"`
	StartedAt  time.Time `json:"started_at,omitzero"`
	FinishedAt time.Time `json:"finished_at,omitzero"`
	ExitCode   int       `json:"exit_code"`
	Completed  bool      `json:"completed"`
	Lines      int       `json:"lines"`
	Generation uint64    `json:"generation"`
	Error      string    `json:"error,omitempty"`
}

// run is the handle of one live workflow process.
type run struct {
	id     string
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	output *os.File

	// writeMu serializes writes to stdin outside the session lock.
	writeMu sync.Mutex

	// stopping is set under the session lock by Stop.
	stopping bool

	exitCode int
	exited   chan struct{} // closed after cmd.Wait returns
	drained  chan struct{} // closed when the collector returns
	done     chan struct{} // closed once the session released the handle
	doneOnce sync.Once
}

// Session supervises the workflow runs of one configuration.
//
// All state transitions happen under mu. The output buffer has its own lock
// so readers never wait on the session.
type Session struct {
	id   string
	path string
	opts Options
	buf  *linebuf.Buffer

	mu         sync.Mutex
	state      State
	prompt     string
	promptSeq  uint64
	completed  bool
	run        *run
	runID      string
	startedAt  time.Time
	finishedAt time.Time
	exitCode   int
	lastErr    error
	closed     bool
}

// NewSession creates an idle session for the configuration at path.
func NewSession(id, path string, opts Options) *Session {
	if opts.Detector == nil {
		opts.Detector = prompt.NewPhraseDetector(nil, nil)
	}
	if opts.MaxLineBytes <= 0 {
		opts.MaxLineBytes = DefaultMaxLineBytes
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = DefaultStopTimeout
	}
	if opts.DrainTimeout <= 0 {
		opts.DrainTimeout = DefaultDrainTimeout
	}
	return &Session{
		id:       id,
		path:     path,
		opts:     opts,
		buf:      linebuf.New(opts.MaxLines),
		exitCode: -1,
	}
}

// ID returns the configuration identifier of the session.
func (s *Session) ID() string { return s.id }

// Path returns the configuration path passed to the workflow.
func (s *Session) Path() string { return s.path }

// Buffer returns the output buffer. Its lifetime equals the session's.
func (s *Session) Buffer() *linebuf.Buffer { return s.buf }

// Start spawns a new workflow run.
//
// Returns ErrAlreadyRunning while a process is alive. A spawn failure moves
// the session to Error and returns a *SpawnError.
func (s *Session) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("%s: %w", s.id, ErrSessionClosed)
	}
	s.refreshLocked()
	if s.state.Live() {
		return fmt.Errorf("%s: %w", s.id, ErrAlreadyRunning)
	}
	if len(s.opts.Command) == 0 {
		return s.spawnFailedLocked(nil, fmt.Errorf("no workflow command configured"))
	}

	argv := append(slices.Clone(s.opts.Command), s.path)
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = s.opts.Dir
	if len(s.opts.Env) > 0 {
		cmd.Env = append(os.Environ(), s.opts.Env...)
	}
	setProcAttr(cmd)

	// One pipe for both streams keeps the interleaving the workflow produced.
	output, writer, err := os.Pipe()
	if err != nil {
		return s.spawnFailedLocked(argv, fmt.Errorf("creating output pipe: %w", err))
	}
	cmd.Stdout = writer
	cmd.Stderr = writer

	stdin, err := cmd.StdinPipe()
	if err != nil {
		_ = output.Close()
		_ = writer.Close()
		return s.spawnFailedLocked(argv, fmt.Errorf("creating stdin pipe: %w", err))
	}

	if err := cmd.Start(); err != nil {
		_ = output.Close()
		_ = writer.Close()
		return s.spawnFailedLocked(argv, err)
	}
	// The child holds its own copy of the write end.
	_ = writer.Close()

	r := &run{
		id:       uuid.New().String(),
		cmd:      cmd,
		stdin:    stdin,
		output:   output,
		exitCode: -1,
		exited:   make(chan struct{}),
		drained:  make(chan struct{}),
		done:     make(chan struct{}),
	}

	s.buf.Reset()
	s.run = r
	s.state = Running
	s.prompt = ""
	s.completed = false
	s.runID = r.id
	s.startedAt = time.Now()
	s.finishedAt = time.Time{}
	s.exitCode = -1
	s.lastErr = nil

	go s.wait(r)
	go s.collect(r)
	go s.supervise(r)

	slog.Info("workflow started", "session", s.id, "run", r.id, "pid", cmd.Process.Pid)
	return nil
}

func (s *Session) spawnFailedLocked(argv []string, err error) error {
	spawnErr := &SpawnError{ID: s.id, Command: argv, Err: err}
	s.buf.Reset()
	s.state = Error
	s.prompt = ""
	s.completed = false
	s.runID = ""
	s.startedAt = time.Time{}
	s.finishedAt = time.Now()
	s.exitCode = -1
	s.lastErr = spawnErr
	slog.Error("workflow failed to start", "session", s.id, "err", err)
	return spawnErr
}

// wait reaps the process. Stdout is an *os.File, so Wait does not wait for
// the collector.
func (s *Session) wait(r *run) {
	err := r.cmd.Wait()
	code := -1
	if r.cmd.ProcessState != nil {
		code = r.cmd.ProcessState.ExitCode()
	}
	r.exitCode = code
	close(r.exited)

	slog.Info("workflow exited", "session", s.id, "run", r.id, "exit_code", code, "err", err)
}

// supervise releases the handle once the process has exited and its output
// is drained. Descendants that inherited the pipe could keep it open
// forever, so the read end is closed after DrainTimeout.
func (s *Session) supervise(r *run) {
	<-r.exited
	select {
	case <-r.drained:
	case <-time.After(s.opts.DrainTimeout):
		slog.Warn("workflow output still open after exit, closing", "session", s.id, "run", r.id)
		_ = r.output.Close()
		<-r.drained
	}

	s.mu.Lock()
	s.finalizeLocked(r)
	s.mu.Unlock()
}

// finalizeLocked moves the session out of a live state for run r.
// Safe to call more than once.
func (s *Session) finalizeLocked(r *run) {
	if s.run == r {
		s.run = nil
		if r.stopping {
			s.state = Idle
		} else {
			s.state = Finished
		}
		s.prompt = ""
		s.finishedAt = time.Now()
		s.exitCode = r.exitCode
	}
	r.doneOnce.Do(func() { close(r.done) })
}

// refreshLocked re-checks the process instead of trusting the last
// recorded state.
func (s *Session) refreshLocked() {
	r := s.run
	if r == nil {
		return
	}
	select {
	case <-r.exited:
	default:
		return
	}
	select {
	case <-r.drained:
		s.finalizeLocked(r)
	default:
		// Exited but output still draining: nobody is reading stdin anymore.
		if s.state == AwaitingInput {
			s.state = Running
			s.prompt = ""
		}
	}
}

// Status returns the current state of the session.
func (s *Session) Status() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshLocked()

	snap := Snapshot{
		ID:         s.id,
		Path:       s.path,
		State:      s.state,
		Prompt:     s.prompt,
		PromptSeq:  s.promptSeq,
		RunID:      s.runID,
		StartedAt:  s.startedAt,
		FinishedAt: s.finishedAt,
		ExitCode:   s.exitCode,
		Completed:  s.completed,
		Lines:      s.buf.Len(),
		Generation: s.buf.Generation(),
	}
	if s.lastErr != nil {
		snap.Error = s.lastErr.Error()
	}
	return snap
}

// Done returns a channel closed when the current run has been released.
// With no live run the channel is already closed.
func (s *Session) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.run == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return s.run.done
}

// Stop terminates the live run, escalating to a kill after StopTimeout,
// and leaves the session Idle. Stop on a session without a process is a
// no-op.
func (s *Session) Stop() error {
	s.mu.Lock()
	r := s.run
	if r == nil {
		s.mu.Unlock()
		return nil
	}
	// A run that already exited on its own still ends Finished.
	select {
	case <-r.exited:
		s.mu.Unlock()
		<-r.done
		return nil
	default:
	}
	r.stopping = true
	s.mu.Unlock()

	if err := terminate(r.cmd); err != nil {
		slog.Debug("terminate workflow", "session", s.id, "run", r.id, "err", err)
	}

	select {
	case <-r.exited:
	case <-time.After(s.opts.StopTimeout):
		slog.Warn("workflow did not stop in time, killing", "session", s.id, "run", r.id, "timeout", s.opts.StopTimeout)
		if err := kill(r.cmd); err != nil {
			slog.Debug("kill workflow", "session", s.id, "run", r.id, "err", err)
		}
		<-r.exited
	}

	<-r.done
	slog.Info("workflow stopped", "session", s.id, "run", r.id)
	return nil
}

// Send writes text followed by a newline to the workflow's stdin.
//
// Send is a blind pipe write: it does not check that a prompt is pending.
// Returns ErrNotRunning when no live process can receive the text.
func (s *Session) Send(text string) error {
	r, err := s.liveRun()
	if err != nil {
		return err
	}
	return s.write(r, text)
}

// Answer delivers text like Send and, once delivered, clears the pending
// prompt so the session is Running again. A prompt detected after the
// answer was written is left untouched.
func (s *Session) Answer(text string) error {
	s.mu.Lock()
	seq := s.promptSeq
	s.mu.Unlock()

	r, err := s.liveRun()
	if err != nil {
		return err
	}
	if err := s.write(r, text); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.run == r && s.state == AwaitingInput && s.promptSeq == seq {
		s.state = Running
		s.prompt = ""
	}
	return nil
}

// ClearPrompt drops the pending prompt without writing anything.
func (s *Session) ClearPrompt() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == AwaitingInput {
		s.state = Running
		s.prompt = ""
	}
}

func (s *Session) liveRun() (*run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshLocked()
	r := s.run
	if r == nil || r.stdin == nil {
		return nil, fmt.Errorf("%s: %w", s.id, ErrNotRunning)
	}
	select {
	case <-r.exited:
		return nil, fmt.Errorf("%s: %w", s.id, ErrNotRunning)
	default:
	}
	return r, nil
}

// write runs outside the session lock: a workflow that stops reading stdin
// must not block the collector.
func (s *Session) write(r *run, text string) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	if _, err := io.WriteString(r.stdin, text+"\n"); err != nil {
		return fmt.Errorf("%s: %w: %w", s.id, ErrNotRunning, err)
	}
	return nil
}

// Close stops any live run and rejects further starts.
func (s *Session) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return s.Stop()
}
