package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/probonopd/Drawpile/internal/config"
	"github.com/probonopd/Drawpile/pkg/server"
)

func serveCmd() *cobra.Command {
	var (
		configPath string
		address    string
		port       int
		httpAddr   string
		sessions   int
		users      int
		transient  bool
		verbose    bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the relay server",
		Long: `Start the relay server.

Configuration is read from a TOML file when one exists, with
command-line flags overriding individual settings. A missing
configuration file is not an error: built-in defaults apply.

Examples:
  drawpile-srv serve
  drawpile-srv serve --config /etc/drawpile-srv.toml
  drawpile-srv serve --port 27750 --sessions 20 --users 200
  drawpile-srv serve --transient`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			if address != "" {
				cfg.Listen.Address = address
			}
			if port > 0 {
				cfg.Listen.Port = port
			}
			if cmd.Flags().Changed("http") {
				cfg.Listen.HTTP = httpAddr
			}
			if sessions > 0 {
				cfg.Limits.Sessions = sessions
			}
			if users > 0 {
				cfg.Limits.Users = users
			}
			if transient {
				cfg.Session.Transient = true
			}

			if err := cfg.Validate(); err != nil {
				return err
			}

			return runServe(cfg, verbose)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", config.ConfigFileName, "Path to configuration file")
	cmd.Flags().StringVar(&address, "address", "", "Interface to listen on (default all)")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "TCP listen port")
	cmd.Flags().StringVar(&httpAddr, "http", "", "HTTP listen address, empty to disable")
	cmd.Flags().IntVar(&sessions, "sessions", 0, "Maximum concurrent sessions")
	cmd.Flags().IntVar(&users, "users", 0, "Maximum concurrent users")
	cmd.Flags().BoolVar(&transient, "transient", false, "Shut down when the last user leaves")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	return cmd
}

func runServe(cfg *config.Config, verbose bool) error {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := server.New(cfg, server.WithLogger(logger))

	logger.Info("starting",
		"version", version,
		"listen", cfg.ListenAddr(),
		"http", cfg.Listen.HTTP)

	return srv.Run(ctx)
}
