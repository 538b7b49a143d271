// Package ui answers questions about the terminal the CLI runs in.
package ui

import (
	"os"

	"golang.org/x/term"
)

// IsTerminal returns true if stdout is connected to a terminal (TTY).
func IsTerminal() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// IsInteractive returns true if stdin is a terminal, so prompts can be
// answered by the person running the command.
func IsInteractive() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

// ShouldUseColor determines if ANSI color codes should be used.
// Respects NO_COLOR (https://no-color.org/), CLICOLOR, and CLICOLOR_FORCE conventions.
func ShouldUseColor() bool {
	return shouldUseColor(os.LookupEnv, IsTerminal())
}

func shouldUseColor(lookup func(string) (string, bool), tty bool) bool {
	// NO_COLOR takes precedence - any value disables color
	if _, exists := lookup("NO_COLOR"); exists {
		return false
	}

	// CLICOLOR=0 disables color
	if v, _ := lookup("CLICOLOR"); v == "0" {
		return false
	}

	// CLICOLOR_FORCE enables color even in non-TTY
	if _, exists := lookup("CLICOLOR_FORCE"); exists {
		return true
	}

	return tty
}
