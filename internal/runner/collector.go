package runner

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/charmbracelet/x/ansi"
	"github.com/mdde/genesisweb/internal/prompt"
)

// DefaultMaxLineBytes bounds a single output line. Longer lines are split.
const DefaultMaxLineBytes = 1 << 20

// splitLines returns a bufio.SplitFunc that ends a line at "\n", "\r\n" or
// a bare "\r" (progress bars redraw with carriage returns), and cuts lines
// longer than max bytes into max-sized pieces.
func splitLines(max int) bufio.SplitFunc {
	return func(data []byte, atEOF bool) (int, []byte, error) {
		if atEOF && len(data) == 0 {
			return 0, nil, nil
		}
		if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
			if i > max {
				return max, data[:max], nil
			}
			if data[i] == '\n' {
				return i + 1, data[:i], nil
			}
			if i+1 < len(data) {
				if data[i+1] == '\n' {
					return i + 2, data[:i], nil
				}
				return i + 1, data[:i], nil
			}
			if atEOF || len(data) >= max {
				return i + 1, data[:i], nil
			}
			// A trailing "\r" may be the first half of "\r\n".
			return 0, nil, nil
		}
		if len(data) >= max {
			return max, data[:max], nil
		}
		if atEOF {
			return len(data), data, nil
		}
		return 0, nil, nil
	}
}

// collect reads the merged output of r until end of stream. Every line is
// classified and appended under the session lock so that a status read never
// lags behind the buffer contents.
func (s *Session) collect(r *run) {
	defer close(r.drained)
	defer r.output.Close()

	max := s.opts.MaxLineBytes
	scanner := bufio.NewScanner(r.output)
	scanner.Buffer(make([]byte, 0, min(64*1024, max+1)), max+1)
	scanner.Split(splitLines(max))

	for scanner.Scan() {
		line := scanner.Text()
		kind := s.opts.Detector.Classify(line)

		s.mu.Lock()
		if s.run != r {
			s.mu.Unlock()
			return
		}
		switch kind {
		case prompt.AwaitingConfirmation:
			s.state = AwaitingInput
			s.prompt = strings.TrimSpace(ansi.Strip(line))
			s.promptSeq++
		case prompt.Completion:
			s.completed = true
		}
		s.buf.Append(line)
		s.mu.Unlock()
	}

	// A read error means the pipe broke; it is reported only as the
	// eventual exit of the run.
	if err := scanner.Err(); err != nil && !errors.Is(err, os.ErrClosed) && !errors.Is(err, io.ErrClosedPipe) {
		slog.Debug("workflow output stream failed", "session", s.id, "run", r.id, "err", err)
	}
}
