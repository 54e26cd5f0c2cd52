package commands

import (
	kpg "github.com/opst/orchestration/pkg/domain/record/db/postgres"
	"github.com/spf13/cobra"
)

func newMigrateCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Upgrade the database schema to the latest",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			conf, logger, err := g.load(cmd)
			if err != nil {
				return err
			}
			if err := kpg.Migrate(conf.Database()); err != nil {
				return err
			}
			logger.Info().Msg("schema is up to date")
			return nil
		},
	}
}
