package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/x/ansi"
	"github.com/muesli/termenv"
	"github.com/spf13/cobra"

	"github.com/mdde/genesisweb/internal/config"
	"github.com/mdde/genesisweb/internal/configstore"
	"github.com/mdde/genesisweb/internal/exitcode"
	"github.com/mdde/genesisweb/internal/runner"
	"github.com/mdde/genesisweb/internal/stream"
	"github.com/mdde/genesisweb/internal/style"
	"github.com/mdde/genesisweb/internal/ui"
)

var runAnswers []string

var runCmd = &cobra.Command{
	Use:     "run <config>",
	GroupID: GroupRuns,
	Short:   "Run one workflow attached to the terminal",
	Long: `Run a workflow configuration in the foreground and print its output.

When the workflow asks a question, the answer is taken from the next
--answer value, then from standard input. A run whose question cannot be
answered (standard input closed) is stopped.

Ctrl+C stops the workflow and waits for it to exit.

Examples:
  genesisweb run nightly.yaml
  genesisweb run nightly.yaml --answer J --answer n
  yes J | genesisweb run nightly`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		out := termenv.NewOutput(cmd.OutOrStdout())
		if !ui.ShouldUseColor() {
			out = termenv.NewOutput(cmd.OutOrStdout(), termenv.WithProfile(termenv.Ascii))
		}
		return runWorkflow(ctx, out, cmd.InOrStdin(), settings, args[0], runAnswers)
	},
}

func init() {
	runCmd.Flags().StringArrayVar(&runAnswers, "answer", nil, "answer for the next question (repeatable)")
	rootCmd.AddCommand(runCmd)
}

// runWorkflow runs the named configuration until its process exits, printing
// output to out and answering questions from answers, then from in.
// Cancelling ctx stops the run.
func runWorkflow(ctx context.Context, out *termenv.Output, in io.Reader, s *config.Settings, name string, answers []string) error {
	store, err := configstore.New(s.ConfigDir)
	if err != nil {
		return err
	}
	name = configstore.NormalizeName(name)
	path, err := store.Resolve(name)
	if err != nil {
		return coded(err)
	}
	opts, err := s.RunnerOptions()
	if err != nil {
		return exitcode.Wrap(exitcode.ErrUsage, "invalid settings", err)
	}

	sess := runner.NewSession(name, path, opts)
	defer func() { _ = sess.Close() }()
	if err := sess.Start(); err != nil {
		return coded(err)
	}
	started := time.Now()
	slog.Debug("run started", "config", name, "run", sess.Status().RunID)

	// The subscription outlives ctx so the stop marker is still delivered.
	subCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := stream.New(s.Stream.PollInterval.Duration).Subscribe(subCtx, sess, 0)

	stdin := readLines(in)
	color := out.Profile != termenv.Ascii
	interrupted := false
	done := ctx.Done()
	var pending <-chan string

	answer := func(value string) {
		fmt.Fprintf(out, "%s %s\n", style.ArrowPrefix, value)
		if err := sess.Answer(value); err != nil {
			slog.Warn("answer not delivered", "config", name, "err", err)
		}
		pending = nil
	}

	for {
		select {
		case <-done:
			done = nil
			interrupted = true
			fmt.Fprintf(out, "\n%s stopping %s...\n", style.WarningPrefix, name)
			if err := sess.Stop(); err != nil {
				slog.Warn("stopping run", "config", name, "err", err)
			}

		case value, ok := <-pending:
			if !ok {
				style.PrintWarning(out, "no answer available, stopping %s", name)
				interrupted = true
				pending = nil
				if err := sess.Stop(); err != nil {
					slog.Warn("stopping run", "config", name, "err", err)
				}
				continue
			}
			if strings.TrimSpace(value) == "" {
				fmt.Fprintf(out, "%s ", out.String("?").Bold())
				continue
			}
			answer(value)

		case e, ok := <-events:
			if !ok {
				return nil
			}
			switch e.Tag {
			case stream.TagLine:
				text := e.Text
				if !color {
					text = ansi.Strip(text)
				}
				fmt.Fprintln(out, text)
			case stream.TagAwaitingInput:
				fmt.Fprintf(out, "%s %s ", out.String("?").Foreground(out.Color("214")).Bold(), "answer:")
				if len(answers) > 0 {
					fmt.Fprintln(out)
					value := answers[0]
					answers = answers[1:]
					answer(value)
				} else {
					pending = stdin
				}
			case stream.TagError:
				return exitcode.New(exitcode.ErrWorkflow, e.Text)
			case stream.TagFinished:
				return finishRun(out, sess.Status(), interrupted, time.Since(started))
			}
		}
	}
}

// finishRun reports how a run ended and turns failures into coded errors.
func finishRun(w io.Writer, snap runner.Snapshot, interrupted bool, elapsed time.Duration) error {
	if interrupted {
		return exitcode.Newf(exitcode.ErrGeneral, "run of %s stopped", snap.ID)
	}
	if snap.ExitCode != 0 {
		return exitcode.WorkflowFailed(snap.ID, snap.ExitCode)
	}
	fmt.Fprintf(w, "%s %s finished in %s (%d lines)\n",
		style.SuccessPrefix, style.Bold.Render(snap.ID), elapsed.Round(100*time.Millisecond), snap.Lines)
	if !snap.Completed {
		style.PrintWarning(w, "the workflow exited without reporting completion")
	}
	return nil
}

// readLines delivers the lines of r on a channel that is closed at EOF.
// The goroutine lives until r is exhausted.
func readLines(r io.Reader) chan string {
	ch := make(chan string)
	go func() {
		defer close(ch)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			ch <- scanner.Text()
		}
	}()
	return ch
}
