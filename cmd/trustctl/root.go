package main

import (
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

type app struct {
	v       *viper.Viper
	cfgFile string
	cfg     fileConfig
	log     zerolog.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{v: newViper(), log: zerolog.Nop()}

	root := &cobra.Command{
		Use:           "trustctl",
		Short:         "trustctl operates a trustcore deployment",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(a.v, a.cfgFile)
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg)
			if err != nil {
				return err
			}
			a.cfg, a.log = cfg, logger
			a.log.Debug().Str("command", cmd.Name()).Msg("config loaded")
			return nil
		},
	}

	root.PersistentFlags().StringVar(&a.cfgFile, "config", "", "config file (yaml); TRUSTCORE_* env vars override it")
	root.PersistentFlags().String("log-level", "info", "log level")
	_ = a.v.BindPFlag("log_level", root.PersistentFlags().Lookup("log-level"))

	root.AddCommand(
		newKeygenCmd(a),
		newHashPasswordCmd(a),
		newVerifyPasswordCmd(a),
		newMigrateCmd(a),
		newAuditCmd(a),
		newLoadtestCmd(a),
	)
	return root
}
