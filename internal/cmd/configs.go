package cmd

import (
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"

	"github.com/mdde/genesisweb/internal/configstore"
	"github.com/mdde/genesisweb/internal/exitcode"
	"github.com/mdde/genesisweb/internal/style"
)

var configsSort string

var configsCmd = &cobra.Command{
	Use:     "configs",
	GroupID: GroupConfig,
	Short:   "List workflow configurations",
	Long: `List the YAML workflow configurations in the configuration directory,
with their size, modification time and whether they parse as YAML.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := configstore.New(settings.ConfigDir)
		if err != nil {
			return err
		}
		return listConfigs(cmd.OutOrStdout(), store, configsSort)
	},
}

func init() {
	configsCmd.Flags().StringVar(&configsSort, "sort", "name", "sort by name or modified")
	rootCmd.AddCommand(configsCmd)
}

// listConfigs prints the configurations of store as a table.
func listConfigs(w io.Writer, store *configstore.Store, sortBy string) error {
	switch sortBy {
	case "name", "modified":
	default:
		return exitcode.Newf(exitcode.ErrUsage, "unknown sort key %q (want name or modified)", sortBy)
	}

	infos, err := store.List()
	if err != nil {
		return err
	}
	if len(infos) == 0 {
		fmt.Fprintf(w, "%s\n", style.Dim.Render("No configurations in "+store.Dir()))
		return nil
	}
	if sortBy == "modified" {
		sort.SliceStable(infos, func(i, j int) bool {
			return infos[i].Modified.After(infos[j].Modified)
		})
	}

	tbl := style.NewTable(
		style.Column{Name: "CONFIG", Width: 32},
		style.Column{Name: "MODIFIED", Width: 19},
		style.Column{Name: "SIZE", Width: 9, Align: style.AlignRight},
		style.Column{Name: "YAML", Width: 30},
	)
	invalid := 0
	for _, info := range infos {
		valid := style.Success.Render("ok")
		if !info.Valid {
			invalid++
			valid = style.Warning.Render("invalid: " + info.ParseError)
		}
		tbl.AddRow(
			info.Name,
			info.Modified.Local().Format("2006-01-02 15:04:05"),
			formatSize(info.Size),
			valid,
		)
	}
	fmt.Fprint(w, tbl.Render())

	fmt.Fprintf(w, "\n%d configuration(s) in %s\n", len(infos), style.Dim.Render(store.Dir()))
	if invalid > 0 {
		style.PrintWarning(w, "%d configuration(s) do not parse as YAML", invalid)
	}
	return nil
}

func formatSize(n int64) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%.1f MB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1f KB", float64(n)/(1<<10))
	default:
		return fmt.Sprintf("%d B", n)
	}
}
