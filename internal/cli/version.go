package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tessro/ngconsole/internal/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  "Print the version, commit, and build date of ngconsole.",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), "🧭 "+version.String())
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
