// Package cli provides the command-line interface for the webhook daemon.
package cli

import (
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"tradehook/internal/config"
	"tradehook/internal/logging"
	"tradehook/internal/store"
)

// Version information
const (
	Version = "0.1.0"
)

// App holds the application dependencies shared by the commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
	Store  *store.SQLiteStore
}

// NewRootCmd creates the root command for the CLI.
func NewRootCmd() *cobra.Command {
	app := &App{}

	var configPath string

	rootCmd := &cobra.Command{
		Use:   "tradehook",
		Short: "Webhook-driven order placement daemon",
		Long: `tradehook turns inbound trading-signal webhooks into broker orders.

It validates each alert against per-user settings, derives order prices and
sizes from the signal, places the order through the broker REST API, and
reconciles open orders in the background.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			app.Config = cfg

			logger := logging.NewLoggerWithConfig(logging.LogConfig{
				Level:      cfg.Logging.Level,
				Console:    cfg.Logging.Console,
				File:       cfg.Logging.File,
				FilePath:   cfg.Logging.FilePath,
				MaxSize:    100,
				MaxBackups: 7,
				MaxAge:     30,
			})
			if debug, _ := cmd.Flags().GetBool("debug"); debug {
				logger = logger.Level(zerolog.DebugLevel)
				zerolog.SetGlobalLevel(zerolog.DebugLevel)
			}
			app.Logger = logger

			st, err := store.NewSQLiteStore(cfg.Database.Path, logger)
			if err != nil {
				return err
			}
			app.Store = st
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if app.Store != nil {
				return app.Store.Close()
			}
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default: ~/.config/tradehook/config.yaml)")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")

	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newServeCmd(app))
	rootCmd.AddCommand(newInstrumentsCmd(app))
	rootCmd.AddCommand(newOrdersCmd(app))
	rootCmd.AddCommand(newUsersCmd(app))

	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		// Version needs no config or store.
		PersistentPreRunE:  func(cmd *cobra.Command, args []string) error { return nil },
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error { return nil },
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Printf("tradehook v%s\n", Version)
		},
	}
}
