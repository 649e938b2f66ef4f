package main

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newSweepCmd() *cobra.Command {
	var noPurge bool

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run one sync retry sweep and retention purge, then exit",
		Long: "Run one sync retry sweep and retention purge, then exit.\n\n" +
			"Attempts on one entry are serialized inside a process only. When this command " +
			"runs from cron, start the server with `serve --no-sweep` and never run two sweeps " +
			"at once, otherwise two attempts on the same entry can overlap.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			rep, err := a.sweeper(a.syncService(), !noPurge).RunOnce(cmd.Context())
			log.Info().
				Int("candidates", rep.Candidates).
				Int("done", rep.Done).
				Int("failed", rep.Failed).
				Int64("stuck", rep.Stuck).
				Int("purge_selected", rep.Purge.Selected).
				Int64("purge_entries", rep.Purge.Entries).
				Int("purge_deferred", rep.Purge.Deferred).
				Msg("sweep finished")
			return err
		},
	}
	cmd.Flags().BoolVar(&noPurge, "no-purge", false, "skip the retention purge")
	return cmd
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the schema and backfill normalized keys",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c := cfg
			c.DB.AutoMigrate = true
			c.Storage.Driver = "memory"
			c.Cache.Driver = "none"
			a, err := openApp(cmd.Context(), c)
			if err != nil {
				return err
			}
			defer a.Close()
			log.Info().Strs("columns", a.schema.Columns()).Msg("schema ready")
			return nil
		},
	}
}
