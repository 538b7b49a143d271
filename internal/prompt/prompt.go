// Package prompt classifies workflow output lines.
//
// The workflow executable is not under our control, so whether a line means
// "waiting for an answer" or "done" is decided by matching markers in its
// human-directed text. Detectors are pure: they hold no state and callers own
// the resulting state transition.
package prompt

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/x/ansi"
	"golang.org/x/text/cases"
)

// Kind is the classification of a single output line.
type Kind int

const (
	// None is an ordinary progress line.
	None Kind = iota
	// AwaitingConfirmation means the workflow is blocked reading stdin.
	AwaitingConfirmation
	// Completion means the workflow reported normal termination.
	Completion
)

// String returns a human-readable kind name.
func (k Kind) String() string {
	switch k {
	case None:
		return "none"
	case AwaitingConfirmation:
		return "awaiting_confirmation"
	case Completion:
		return "completion"
	default:
		return fmt.Sprintf("unknown(%d)", k)
	}
}

// Detector classifies one output line.
type Detector interface {
	Classify(line string) Kind
}

// Detector kinds accepted by New.
const (
	KindPhrase   = "phrase"
	KindSentinel = "sentinel"
)

// Default markers used by the Genesis workflow.
var (
	DefaultPromptMarkers     = []string{"doorgaan", "antwoorden", "continue?", "(y/n)", "(j/n)"}
	DefaultCompletionMarkers = []string{"afgerond"}
)

// New builds the detector named by kind. Empty marker lists fall back to
// the defaults.
func New(kind string, prompts, completions []string) (Detector, error) {
	switch kind {
	case "", KindPhrase:
		return NewPhraseDetector(prompts, completions), nil
	case KindSentinel:
		return SentinelDetector{}, nil
	default:
		return nil, fmt.Errorf("unknown detector kind %q", kind)
	}
}

// PhraseDetector matches case-insensitive substrings after stripping
// terminal control sequences. When a line holds both kinds of marker, the
// one that occurs last wins: a prompt echoed without a newline ends up in
// front of the next line the workflow prints.
//
// A data line that happens to contain a marker is misclassified; use
// SentinelDetector when the workflow can emit structured markers.
type PhraseDetector struct {
	prompts     []string
	completions []string
}

// NewPhraseDetector creates a PhraseDetector.
func NewPhraseDetector(prompts, completions []string) *PhraseDetector {
	if len(prompts) == 0 {
		prompts = DefaultPromptMarkers
	}
	if len(completions) == 0 {
		completions = DefaultCompletionMarkers
	}
	return &PhraseDetector{
		prompts:     foldAll(prompts),
		completions: foldAll(completions),
	}
}

// Classify implements Detector.
func (d *PhraseDetector) Classify(line string) Kind {
	text := fold(ansi.Strip(line))
	if text == "" {
		return None
	}
	p := lastIndexAny(text, d.prompts)
	c := lastIndexAny(text, d.completions)
	switch {
	case p < 0 && c < 0:
		return None
	case p >= c:
		return AwaitingConfirmation
	default:
		return Completion
	}
}

// Sentinel prefixes recognized by SentinelDetector.
const (
	SentinelPrompt = "::genesis::prompt"
	SentinelDone   = "::genesis::done"
)

// SentinelDetector only reacts to lines that start with a dedicated
// sentinel prefix, so free-form log text never triggers a transition.
type SentinelDetector struct{}

// Classify implements Detector.
func (SentinelDetector) Classify(line string) Kind {
	text := strings.TrimSpace(ansi.Strip(line))
	switch {
	case strings.HasPrefix(text, SentinelPrompt):
		return AwaitingConfirmation
	case strings.HasPrefix(text, SentinelDone):
		return Completion
	default:
		return None
	}
}

// fold returns a case-folded copy of s. A Caser is stateful, so a fresh one
// is used per call.
func fold(s string) string {
	return cases.Fold().String(s)
}

func foldAll(markers []string) []string {
	out := make([]string, 0, len(markers))
	for _, m := range markers {
		if m = strings.TrimSpace(m); m != "" {
			out = append(out, fold(m))
		}
	}
	return out
}

// lastIndexAny returns the index of the last occurrence of any marker in s,
// or -1.
func lastIndexAny(s string, markers []string) int {
	last := -1
	for _, m := range markers {
		last = max(last, strings.LastIndex(s, m))
	}
	return last
}
