// Package commands implements the oniontalk command line.
package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nthnn/oniontalk/internal/config"
	"github.com/nthnn/oniontalk/pkg/logger"
)

// Version is set at build time with -ldflags "-X ...commands.Version=...".
var Version = "dev"

var (
	cfg      *config.Config
	relayURL string
	logLevel string
	logFile  string
	debug    bool

	closeLog = func() {}
)

// Execute runs the root command.
func Execute() error {
	root := newRootCmd()
	err := root.Execute()
	closeLog()
	return err
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "oniontalk",
		Short:        "End-to-end encrypted room chat",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := config.Load()
			if err != nil {
				return err
			}
			applyFlags(cmd, loaded)
			if err := loaded.Validate(); err != nil {
				return err
			}
			cfg = loaded
			return setupLogging(cfg)
		},
	}
	root.SetVersionTemplate("oniontalk {{.Version}}\n")
	root.Version = Version

	root.PersistentFlags().StringVar(&relayURL, "relay", "", "relay base URL (default $ONIONTALK_RELAY_URL or http://localhost:8080)")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "trace, debug, info, warn or error")
	root.PersistentFlags().StringVar(&logFile, "log-file", "", "write logs to this file")
	root.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")

	root.AddCommand(chatCmd(), inviteCmd(), versionCmd(), envCmd())
	return root
}

// applyFlags lets explicitly set flags win over the environment.
func applyFlags(cmd *cobra.Command, c *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("relay") {
		c.RelayURL = relayURL
	}
	if flags.Changed("log-level") {
		c.LogLevel = logLevel
	}
	if flags.Changed("log-file") {
		c.LogFile = logFile
	}
	if flags.Changed("debug") {
		c.Debug = debug
	}
}

// setupLogging keeps log output off stdout, which belongs to the chat.
func setupLogging(c *config.Config) error {
	level, err := logger.ParseLevel(c.LogLevel)
	if err != nil {
		return err
	}
	if c.Debug && level > logger.LevelDebug {
		level = logger.LevelDebug
	}
	logger.SetLevel(level)

	if c.LogFile == "" {
		logger.SetOutput(os.Stderr)
		return nil
	}
	f, err := os.OpenFile(c.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	logger.SetOutput(f)
	closeLog = func() {
		_ = logger.Sync()
		logger.SetOutput(os.Stderr)
		f.Close()
	}
	return nil
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "oniontalk %s\n", Version)
		},
	}
}

func envCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "env",
		Short: "Describe supported environment variables",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), config.Usage())
		},
	}
}
