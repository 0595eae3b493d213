package main

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/MrEthical07/trustcore/store/postgres"
)

func newMigrateCmd(a *app) *cobra.Command {
	var dsn string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create the trustcore tables in Postgres",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if dsn == "" {
				dsn = a.cfg.DatabaseDSN
			}
			if dsn == "" {
				return errors.New("--dsn or database_dsn is required")
			}

			db, err := postgres.Open(cmd.Context(), dsn)
			if err != nil {
				return err
			}
			defer db.Close()

			if err := postgres.Migrate(cmd.Context(), db); err != nil {
				return err
			}
			a.log.Info().Msg("schema migrated")
			return nil
		},
	}
	cmd.Flags().StringVar(&dsn, "dsn", "", "postgres connection string (default from config)")
	return cmd
}
