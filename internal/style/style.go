// Package style provides the terminal styles used by CLI output.
package style

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

var (
	// Bold is used for headers and names.
	Bold = lipgloss.NewStyle().Bold(true)

	// Dim is used for secondary information.
	Dim = lipgloss.NewStyle().Foreground(lipgloss.Color("242"))

	// Success marks completed runs.
	Success = lipgloss.NewStyle().Foreground(lipgloss.Color("76")).Bold(true)

	// Warning marks prompts and invalid configurations.
	Warning = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true)

	// Error marks failures.
	Error = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)

	// Info marks live runs.
	Info = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))

	SuccessPrefix = Success.Render("✓")
	WarningPrefix = Warning.Render("⚠")
	ErrorPrefix   = Error.Render("✗")
	ArrowPrefix   = Info.Render("→")
)

// DisableColor renders every style as plain text.
func DisableColor() {
	lipgloss.SetColorProfile(termenv.Ascii)
	SuccessPrefix = Success.Render("✓")
	WarningPrefix = Warning.Render("⚠")
	ErrorPrefix = Error.Render("✗")
	ArrowPrefix = Info.Render("→")
}

// PrintWarning writes a warning line to w.
func PrintWarning(w io.Writer, format string, args ...interface{}) {
	fmt.Fprintf(w, "%s %s\n", WarningPrefix, fmt.Sprintf(format, args...))
}
