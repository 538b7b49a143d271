// genesisweb is the web control panel for Genesis workflow runs.
package main

import (
	"os"

	"github.com/mdde/genesisweb/internal/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
