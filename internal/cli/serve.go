package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tessro/ngconsole/internal/config"
	"github.com/tessro/ngconsole/internal/daemon"
	"github.com/tessro/ngconsole/internal/host"
	"github.com/tessro/ngconsole/internal/logging"
)

// stopTimeout bounds a graceful shutdown before the companion is killed.
const stopTimeout = 10 * time.Second

var (
	serveVerbose bool
	serveBundle  string
	serveConfig  string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the ngconsole host in the foreground",
	Long: "Run the ngconsole host. It listens on a unix socket for workspace commands and\n" +
		"starts the companion server from the bundle directory when a workspace opens.",
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadServeConfig()
	if err != nil {
		return err
	}

	level := logging.ParseLevel(cfg.Log.Level)
	opts := logging.Options{Path: cfg.Log.File, Level: level}
	if serveVerbose {
		opts.Level = slog.LevelDebug
		opts.Mirror = os.Stderr
	}
	cleanup, err := logging.Setup(opts)
	if err != nil {
		return fmt.Errorf("setup logging: %w", err)
	}
	defer cleanup()

	releasePID, err := daemon.AcquirePID("")
	if err != nil {
		return err
	}
	defer func() {
		if err := releasePID(); err != nil {
			slog.Warn("failed to remove pid file", "error", err)
		}
	}()

	app, err := host.New(host.Options{Config: cfg, SocketPath: getSocketPath()})
	if err != nil {
		return err
	}
	if err := app.Start(); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "🧭 ngconsole host listening on %s (callback port %d)\n", app.SocketPath(), app.CallbackPort())

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	force := true
	select {
	case <-ctx.Done():
		slog.Info("received signal, shutting down")
	case <-app.ShutdownCh():
		force = app.ShutdownForced()
		slog.Info("shutdown requested", "force", force)
	}

	closeCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	if err := app.Close(closeCtx, force); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	fmt.Fprintln(out, "🧭 ngconsole host stopped")
	return nil
}

// loadServeConfig reads config.toml (or --config) and applies flag
// overrides.
func loadServeConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if serveConfig != "" {
		cfg, err = config.LoadFromPath(serveConfig)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	if serveBundle != "" {
		dir, err := filepath.Abs(serveBundle)
		if err != nil {
			return nil, err
		}
		cfg.Server.BundleDir = dir
	}
	if err := cfg.Validate(); err != nil {
		if errors.Is(err, config.ErrMissingBundleDir) {
			return nil, fmt.Errorf("%w (set server.bundle_dir or pass --bundle)", err)
		}
		return nil, err
	}
	return cfg, nil
}

func init() {
	serveCmd.Flags().BoolVarP(&serveVerbose, "verbose", "v", false, "Log at debug level and mirror logs to stderr")
	serveCmd.Flags().StringVar(&serveBundle, "bundle", "", "Companion bundle directory (overrides server.bundle_dir)")
	serveCmd.Flags().StringVar(&serveConfig, "config", "", "Path to config.toml")
	rootCmd.AddCommand(serveCmd)
}
