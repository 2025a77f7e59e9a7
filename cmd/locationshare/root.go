package main

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"locationshare/internal/config"
	"locationshare/internal/logging"
)

// cli carries state shared by every subcommand of one root command.
type cli struct {
	cfgFile string
	v       *viper.Viper
	cfg     *config.Config
}

func newRootCmd() *cobra.Command {
	c := &cli{v: config.NewViper()}

	root := &cobra.Command{
		Use:   "locationshare",
		Short: "Live location sharing rooms over WebSocket",
		Long: `locationshare serves time-limited rooms in which participants share their
live position. Rooms are created over the HTTP API or with "session create";
participants join through the share link and stream updates over a socket.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.FromViper(c.v, c.cfgFile)
			if err != nil {
				return err
			}
			c.cfg = cfg
			return logging.Setup(cfg.Log.Level, cfg.Log.Format, cmd.ErrOrStderr())
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&c.cfgFile, "config", "", "config file (yaml, json or toml)")
	flags.String("log-level", "info", "log level (trace, debug, info, warn, error)")
	flags.String("log-format", "console", "log format (console or json)")
	flags.String("db-driver", "sqlite", "storage driver (sqlite or bolt)")
	flags.String("db-path", "./data/locationshare.db", "database file path")

	_ = c.v.BindPFlag("log.level", flags.Lookup("log-level"))
	_ = c.v.BindPFlag("log.format", flags.Lookup("log-format"))
	_ = c.v.BindPFlag("database.driver", flags.Lookup("db-driver"))
	_ = c.v.BindPFlag("database.path", flags.Lookup("db-path"))

	root.AddCommand(
		newServeCmd(c),
		newSessionCmd(c),
		newMigrateCmd(c),
	)
	return root
}
