package cli

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tessro/ngconsole/internal/daemon"
)

var (
	openRoute  string
	openFollow bool
	listFormat string
)

var openCmd = &cobra.Command{
	Use:   "open <path>",
	Short: "Open a workspace",
	Long: "Register a workspace with the host. The first open workspace starts the companion\n" +
		"server; later ones share it. With --follow, stream the workspace's events until\n" +
		"interrupted.",
	Args: cobra.ExactArgs(1),
	RunE: runOpen,
}

var closeCmd = &cobra.Command{
	Use:   "close <path>",
	Short: "Close a workspace",
	Long:  "Unregister a workspace. Closing the last workspace stops the companion server.",
	Args:  cobra.ExactArgs(1),
	RunE:  runClose,
}

var routeCmd = &cobra.Command{
	Use:   "route <path> <route>",
	Short: "Change the page a workspace shows",
	Long: "Point a workspace at another companion page. Valid routes: workspace, generate,\n" +
		"tasks, extensions, connect, affected-projects, settings.",
	Args: cobra.ExactArgs(2),
	RunE: runRoute,
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List open workspaces",
	Args:  cobra.NoArgs,
	RunE:  runList,
}

func runOpen(cmd *cobra.Command, args []string) error {
	path, err := filepath.Abs(args[0])
	if err != nil {
		return err
	}

	client := MustConnect()
	defer client.Close()

	resp, err := client.WorkspaceOpen(path, openRoute)
	if err != nil {
		return fmt.Errorf("open workspace: %w", err)
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "🧭 Opened %s (route %s, companion %s)\n", resp.Workspace.Path, resp.Workspace.Route, resp.State)
	if resp.Workspace.URL != "" {
		fmt.Fprintf(out, "   %s\n", resp.Workspace.URL)
	}

	if !openFollow {
		return nil
	}
	return followWorkspace(client, resp.Workspace.Path, out)
}

// followWorkspace prints events for path until interrupted or the host
// goes away.
func followWorkspace(client *daemon.Client, path string, out io.Writer) error {
	events, err := client.StreamEvents([]string{path})
	if err != nil {
		return fmt.Errorf("attach: %w", err)
	}
	defer client.StopEventStream()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	for {
		select {
		case <-sigCh:
			return nil
		case res, ok := <-events:
			if !ok {
				return nil
			}
			if res.Err != nil {
				return fmt.Errorf("event stream: %w", res.Err)
			}
			printEvent(out, res.Event)
		}
	}
}

func printEvent(w io.Writer, ev *daemon.StreamEvent) {
	switch ev.Type {
	case daemon.EventTerminalOutput:
		// Raw PTY bytes.
		_, _ = io.WriteString(w, ev.Data)
	case daemon.EventTerminalExit:
		code := -1
		if ev.Code != nil {
			code = *ev.Code
		}
		fmt.Fprintf(w, "%s\n", mutedStyle.Render(fmt.Sprintf("[terminal exited with code %d]", code)))
	case daemon.EventServerStarted:
		fmt.Fprintf(w, "🧭 Companion started on port %d\n", ev.Port)
	case daemon.EventServerStopped:
		fmt.Fprintln(w, "🧭 Companion stopped")
	case daemon.EventServerError:
		fmt.Fprintf(w, "🧭 Companion error: %s\n", errorStyle.Render(ev.Error))
	case daemon.EventRoute:
		fmt.Fprintf(w, "🧭 Showing %s\n", ev.URL)
	case daemon.EventRouteHidden:
		fmt.Fprintln(w, "🧭 View hidden")
	default:
		fmt.Fprintf(w, "🧭 %s\n", ev.Type)
	}
}

func runClose(cmd *cobra.Command, args []string) error {
	path, err := filepath.Abs(args[0])
	if err != nil {
		return err
	}

	client := MustConnect()
	defer client.Close()

	if err := client.WorkspaceClose(path); err != nil {
		return fmt.Errorf("close workspace: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "🧭 Closed %s\n", path)
	return nil
}

func runRoute(cmd *cobra.Command, args []string) error {
	path, err := filepath.Abs(args[0])
	if err != nil {
		return err
	}

	client := MustConnect()
	defer client.Close()

	resp, err := client.WorkspaceRoute(path, args[1])
	if err != nil {
		return fmt.Errorf("change route: %w", err)
	}
	out := cmd.OutOrStdout()
	if resp.Workspace.URL == "" {
		fmt.Fprintf(out, "🧭 %s will show %s once the companion is up\n", resp.Workspace.Path, resp.Workspace.Route)
		return nil
	}
	fmt.Fprintf(out, "🧭 %s now shows %s\n", resp.Workspace.Path, resp.Workspace.URL)
	return nil
}

func runList(cmd *cobra.Command, args []string) error {
	if err := validFormat(listFormat); err != nil {
		return err
	}

	client := MustConnect()
	defer client.Close()

	resp, err := client.WorkspaceList()
	if err != nil {
		return fmt.Errorf("list workspaces: %w", err)
	}

	out := cmd.OutOrStdout()
	if listFormat != formatText {
		return writeStructured(out, listFormat, resp.Workspaces)
	}
	if len(resp.Workspaces) == 0 {
		fmt.Fprintln(out, "No workspaces open.")
		return nil
	}
	printWorkspaces(out, resp.Workspaces)
	return nil
}

func init() {
	openCmd.Flags().StringVarP(&openRoute, "route", "r", "", "Initial route (default generate)")
	openCmd.Flags().BoolVarP(&openFollow, "follow", "f", false, "Stream workspace events until interrupted")
	listCmd.Flags().StringVarP(&listFormat, "output", "o", formatText, "Output format: text, json or yaml")

	rootCmd.AddCommand(openCmd)
	rootCmd.AddCommand(closeCmd)
	rootCmd.AddCommand(routeCmd)
	rootCmd.AddCommand(listCmd)
}
