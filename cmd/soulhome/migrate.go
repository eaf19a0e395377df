package main

import (
	"github.com/spf13/cobra"

	"github.com/Yashkondane/soulhome-official/internal/store"
	"github.com/Yashkondane/soulhome-official/pkg/config"
	"github.com/Yashkondane/soulhome-official/pkg/pg"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	RunE: func(cmd *cobra.Command, _ []string) error {
		var cfg appConfig
		if err := config.Load(&cfg); err != nil {
			return err
		}
		log := newLogger(cfg, nil)

		var pgCfg pg.Config
		if err := config.Load(&pgCfg); err != nil {
			return err
		}
		ctx := cmd.Context()
		pool, err := pg.Connect(ctx, pgCfg)
		if err != nil {
			return err
		}
		defer pool.Close()

		if err := pg.Migrate(ctx, pool, store.Migrations(), pgCfg, log); err != nil {
			return err
		}
		log.InfoContext(ctx, "migrations applied")
		return nil
	},
}
