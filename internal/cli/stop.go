package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var stopForce bool

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the ngconsole host",
	Long: "Ask the host to close every workspace and exit. The companion is given its\n" +
		"grace period to stop unless --force is set.",
	Args: cobra.NoArgs,
	RunE: runStop,
}

func runStop(cmd *cobra.Command, args []string) error {
	client := MustConnect()
	defer client.Close()

	if err := client.Shutdown(stopForce); err != nil {
		return fmt.Errorf("stop: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), "🧭 Shutdown requested")
	return nil
}

func init() {
	stopCmd.Flags().BoolVarP(&stopForce, "force", "f", false, "Kill the companion without waiting")
	rootCmd.AddCommand(stopCmd)
}
