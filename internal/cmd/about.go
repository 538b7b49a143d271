package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/glamour"
	"github.com/muesli/termenv"
	"github.com/spf13/cobra"

	"github.com/mdde/genesisweb/internal/exitcode"
	"github.com/mdde/genesisweb/internal/ui"
)

var aboutWidth int

var aboutCmd = &cobra.Command{
	Use:     "about",
	GroupID: GroupDiag,
	Short:   "Show the about page in the terminal",
	Long:    `Render the Markdown about page served at /about in the terminal.`,
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		styleName := "auto"
		if !ui.ShouldUseColor() {
			styleName = "notty"
		}
		return renderAbout(cmd.OutOrStdout(), settings.AboutFile, styleName, aboutWidth)
	},
}

func init() {
	aboutCmd.Flags().IntVar(&aboutWidth, "width", 80, "word wrap width")
	rootCmd.AddCommand(aboutCmd)
}

// renderAbout writes the Markdown file at path to w using the named
// glamour style. The notty style renders plain text that keeps Markdown
// emphasis markers.
func renderAbout(w io.Writer, path, styleName string, width int) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path comes from settings
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return exitcode.FileNotFound(path)
		}
		return fmt.Errorf("reading about page: %w", err)
	}

	opts := []glamour.TermRendererOption{
		glamour.WithStandardStyle(styleName),
		glamour.WithWordWrap(width),
	}
	if styleName == "notty" {
		opts = append(opts, glamour.WithColorProfile(termenv.Ascii))
	}
	r, err := glamour.NewTermRenderer(opts...)
	if err != nil {
		return fmt.Errorf("creating renderer: %w", err)
	}
	out, err := r.Render(string(data))
	if err != nil {
		return fmt.Errorf("rendering about page: %w", err)
	}
	_, err = io.WriteString(w, out)
	return err
}
