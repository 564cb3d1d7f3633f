package main

import (
	"github.com/spf13/cobra"

	"github.com/netwatch-nms/netwatch/pkg/store"
	"github.com/netwatch-nms/netwatch/pkg/util"
)

var migrateStatus bool

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database schema migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := store.Open(cmd.Context(), cfg.Database)
		if err != nil {
			return err
		}
		defer st.Close()

		if migrateStatus {
			return st.MigrateStatus(cmd.Context())
		}
		if err := st.Migrate(cmd.Context()); err != nil {
			return err
		}
		util.Info("migrations applied")
		return nil
	},
}

func init() {
	migrateCmd.Flags().BoolVar(&migrateStatus, "status", false, "Show migration status instead of applying")
}
