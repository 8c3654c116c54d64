// Package cli implements the ngconsole command line.
package cli

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/tessro/ngconsole/internal/paths"
)

// baseDir is the global --dir flag value.
var baseDir string

var rootCmd = &cobra.Command{
	Use:   "ngconsole",
	Short: "Companion server host for console workspaces",
	Long: "ngconsole runs the console companion server on behalf of open workspaces: it starts the\n" +
		"server when the first workspace opens, stops it when the last one closes, and runs\n" +
		"terminal commands the server asks for.",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Path helpers read NGCONSOLE_DIR, so the flag only needs to set it.
		if baseDir != "" {
			if err := os.Setenv(paths.EnvDir, baseDir); err != nil {
				return err
			}
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&baseDir, "dir", "", "base directory for ngconsole data (overrides ~/.ngconsole)")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
