// Command autopilot-workspace is a tool provider that exposes a team
// messaging workspace over the plugin protocol. The host launches it
// and connects to the socket named in the handshake line on stdout.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/opentalon/autopilot/internal/config"
	"github.com/opentalon/autopilot/internal/version"
	"github.com/opentalon/autopilot/internal/workspace"
	pkg "github.com/opentalon/autopilot/pkg/plugin"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.Get())
		os.Exit(0)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, *configPath); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath string) error {
	cfg := config.Default()
	if configPath != "" {
		var err error
		if cfg, err = config.Load(configPath); err != nil {
			return err
		}
	}
	// stdout carries the handshake, so logs go to stderr.
	logger := cfg.Log.NewLogger(os.Stderr)

	backend, err := newBackend(cfg.Workspace, logger)
	if err != nil {
		return err
	}
	logger.Info("serving workspace", "backend", cfg.Workspace.Backend)
	return pkg.Serve(ctx, workspace.NewHandler(backend, logger))
}

func newBackend(cfg config.WorkspaceConfig, logger *slog.Logger) (workspace.Backend, error) {
	switch cfg.Backend {
	case "memory":
		return workspace.NewMemory("@autopilot", cfg.Channels...), nil
	case "matrix":
		if cfg.Homeserver == "" || cfg.AccessToken == "" {
			return nil, fmt.Errorf("workspace.homeserver and workspace.access_token are required for the matrix backend")
		}
		return workspace.NewMatrix(cfg.Homeserver, cfg.UserID, cfg.AccessToken, logger)
	default:
		return nil, fmt.Errorf("unknown workspace backend %q", cfg.Backend)
	}
}
