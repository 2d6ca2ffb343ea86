package main

import (
	"github.com/spf13/cobra"
)

func migrateCommand(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			a := newApp(rt)
			defer a.close()
			if err := a.connectDatabase(cmd.Context()); err != nil {
				return err
			}
			return a.migrate()
		},
	}
}
