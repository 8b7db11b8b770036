package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/vedran77/ideahub/internal/config"
	"github.com/vedran77/ideahub/internal/database"
	"github.com/vedran77/ideahub/internal/logger"
)

var migrateCmd = &cobra.Command{
	Use:       "migrate [up|down|status]",
	Short:     "Manage the postgres schema",
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{"up", "down", "status"},
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		log := logger.New(cfg.LogLevel)
		m := database.NewMigrator(cfg.DatabaseURL(), log)

		switch args[0] {
		case "up":
			return m.Up(cmd.Context())
		case "down":
			return m.Down(cmd.Context())
		case "status":
			return m.Status(cmd.Context())
		}
		return fmt.Errorf("unknown migrate command %q", args[0])
	},
}
