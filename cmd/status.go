package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/catalog-crawler/internal/catalog"
)

// sourceStatus is one source's line in the status report.
type sourceStatus struct {
	Source          catalog.SourceID `json:"source"`
	Checkpoint      catalog.Progress `json:"checkpoint"`
	TotalCategories int              `json:"total_categories"`
	TotalProducts   int              `json:"total_products"`
	IsCompleted     bool             `json:"is_completed"`
	RecentRuns      []catalog.Run    `json:"recent_runs"`
}

func newStatusCmd() *cobra.Command {
	var (
		sources []string
		runs    int
	)
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Prints checkpoints, totals and recent runs per source",
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			ids, err := selectSources(appInstance, sources)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			out := make([]sourceStatus, 0, len(ids))
			for _, id := range ids {
				cp, err := appInstance.Progress().LoadCheckpoint(ctx, id)
				if err != nil {
					return fmt.Errorf("load checkpoint %s: %w", id, err)
				}
				categories, err := appInstance.Categories().CountCategories(ctx, id)
				if err != nil {
					return fmt.Errorf("count categories %s: %w", id, err)
				}
				products, err := appInstance.Records().CountProducts(ctx, id)
				if err != nil {
					return fmt.Errorf("count products %s: %w", id, err)
				}
				recent, err := appInstance.Runs().ListRuns(ctx, id, runs)
				if err != nil {
					return fmt.Errorf("list runs %s: %w", id, err)
				}
				out = append(out, sourceStatus{
					Source:          id,
					Checkpoint:      cp,
					TotalCategories: categories,
					TotalProducts:   products,
					IsCompleted:     cp.IsCompleted,
					RecentRuns:      recent,
				})
			}
			return printJSON(cmd, out)
		},
	}
	cmd.Flags().StringSliceVar(&sources, "source", nil, "source to report (repeatable)")
	cmd.Flags().IntVar(&runs, "runs", 5, "number of recent runs to include")
	return cmd
}
