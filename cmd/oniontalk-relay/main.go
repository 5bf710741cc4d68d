package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nthnn/oniontalk/internal/relay"
	"github.com/nthnn/oniontalk/internal/relay/config"
	"github.com/nthnn/oniontalk/pkg/logger"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		logger.Errorf("%v", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		addr      string
		dbPath    string
		staticDir string
		debug     bool
	)
	cmd := &cobra.Command{
		Use:           "oniontalk-relay",
		Short:         "Relay for oniontalk rooms",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			var overrides config.Overrides
			flags := cmd.Flags()
			if flags.Changed("addr") {
				overrides.Addr = &addr
			}
			if flags.Changed("db") {
				overrides.DatabasePath = &dbPath
			}
			if flags.Changed("static") {
				overrides.StaticDir = &staticDir
			}
			if flags.Changed("debug") {
				overrides.Debug = &debug
			}

			cfg, err := config.Load(overrides)
			if err != nil {
				return err
			}
			level, err := logger.ParseLevel(cfg.LogLevel)
			if err != nil {
				return err
			}
			if cfg.Debug && level > logger.LevelDebug {
				level = logger.LevelDebug
			}
			logger.SetLevel(level)
			defer logger.Sync()

			srv, err := relay.New(cfg)
			if err != nil {
				return err
			}
			defer srv.Close()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return srv.Run(ctx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default $ONIONTALK_RELAY_ADDR or :8080)")
	cmd.Flags().StringVar(&dbPath, "db", "", "SQLite database path (default $ONIONTALK_RELAY_DB or ./oniontalk.db)")
	cmd.Flags().StringVar(&staticDir, "static", "", "serve files from this directory at /")
	cmd.Flags().BoolVar(&debug, "debug", false, "debug logging and gin debug mode")
	return cmd
}
