package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Ramsey-B/fern/pkg/models"
)

func thresholdCommand(rt *runtime) *cobra.Command {
	var (
		limit        int
		recallWeight float64
	)

	cmd := &cobra.Command{
		Use:   "threshold",
		Short: "Estimate the gazetteer threshold that balances precision and recall for waiting items",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if recallWeight <= 0 {
				recallWeight = rt.cfg.RecallWeight
			}

			a := newApp(rt)
			defer a.close()
			if err := a.connectDatabase(ctx); err != nil {
				return err
			}
			if err := a.connectRedis(ctx); err != nil {
				return err
			}
			a.buildGazetteer()

			items, err := a.items.ListUnmatched(ctx, limit)
			if err != nil {
				return err
			}
			if len(items) == 0 {
				return errors.New("no geocoded items are waiting for matching")
			}

			queries := make(map[string]models.Fields, len(items))
			for i := range items {
				queries[items[i].ID] = items[i].Fields().Clean()
			}

			threshold, err := a.cache.Threshold(ctx, queries, recallWeight)
			if err != nil {
				return err
			}

			rt.logger.WithContext(ctx).WithFields(map[string]any{
				"items":         len(queries),
				"recall_weight": recallWeight,
				"threshold":     threshold,
				"model_version": a.cache.Version(),
			}).Info("Estimated gazetteer threshold")
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%.4f\n", threshold)
			return err
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 1000, "Maximum number of waiting items to sample")
	cmd.Flags().Float64Var(&recallWeight, "recall-weight", 0, "Weight of recall relative to precision (defaults to MATCH_RECALL_WEIGHT)")
	return cmd
}
