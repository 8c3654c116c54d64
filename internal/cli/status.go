package cli

import (
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/tessro/ngconsole/internal/daemon"
)

var statusFormat string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show host, companion and workspace status",
	Long:  "Display the state of the ngconsole host, the companion server and every open workspace.",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	if err := validFormat(statusFormat); err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	client, err := ConnectClient()
	if err != nil {
		if errors.Is(err, ErrDaemonNotRunning) {
			if statusFormat != formatText {
				return writeStructured(out, statusFormat, &daemon.StatusResponse{})
			}
			fmt.Fprintln(out, "🧭 ngconsole host is not running")
			return nil
		}
		return err
	}
	defer client.Close()

	status, err := client.Status()
	if err != nil {
		return fmt.Errorf("get status: %w", err)
	}

	if statusFormat != formatText {
		return writeStructured(out, statusFormat, status)
	}
	printStatus(out, status, time.Now())
	return nil
}

func printStatus(w io.Writer, status *daemon.StatusResponse, now time.Time) {
	d := status.Daemon
	uptime := now.Sub(d.StartedAt).Truncate(time.Second)
	fmt.Fprintf(w, "🧭 ngconsole host running (pid %d, uptime %s, version %s)\n", d.PID, uptime, d.Version)
	fmt.Fprintf(w, "   Callback port: %d, Attached: %d\n", d.CallbackPort, d.Attached)

	s := status.Server
	fmt.Fprintf(w, "   Companion: %s", stateStyle(s.State).Render(s.State))
	if s.PID != 0 {
		fmt.Fprintf(w, " (pid %d)", s.PID)
	}
	if s.PeerPort != 0 {
		fmt.Fprintf(w, " on port %d", s.PeerPort)
	}
	fmt.Fprintln(w)
	if s.LastError != "" {
		fmt.Fprintf(w, "   Last error: %s\n", errorStyle.Render(s.LastError))
	}
	if s.TerminalSession != "" {
		fmt.Fprintf(w, "   Terminal: %s\n", s.TerminalSession)
	}
	fmt.Fprintln(w)

	if len(status.Workspaces) == 0 {
		fmt.Fprintln(w, "No workspaces open.")
		fmt.Fprintln(w, mutedStyle.Render("Open one with: ngconsole open <path>"))
		return
	}
	fmt.Fprintln(w, headerStyle.Render("Workspaces"))
	printWorkspaces(w, status.Workspaces)
}

func printWorkspaces(w io.Writer, workspaces []daemon.WorkspaceInfo) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "PATH\tROUTE\tURL")
	for _, ws := range workspaces {
		url := ws.URL
		if url == "" {
			url = "-"
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\n", ws.Path, ws.Route, url)
	}
	_ = tw.Flush()
}

func init() {
	statusCmd.Flags().StringVarP(&statusFormat, "output", "o", formatText, "Output format: text, json or yaml")
	rootCmd.AddCommand(statusCmd)
}
