package main

import (
	"encoding/json"
	"time"

	"github.com/spf13/cobra"
)

func trainCommand(rt *runtime) *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "train",
		Short: "Retrain the linkage model from canonical records and activate it",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := commandContext(cmd.Context(), timeout)
			defer cancel()

			a := newApp(rt)
			defer a.close()
			if err := a.connectDatabase(ctx); err != nil {
				return err
			}
			if err := a.connectRedis(ctx); err != nil {
				return err
			}
			a.buildGazetteer()

			report, err := a.retrainJob().Run(ctx)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Abort training after this long (0 disables)")
	return cmd
}
