package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/catalog-crawler/internal/catalog"
	"github.com/JakeFAU/catalog-crawler/internal/session"
	"github.com/JakeFAU/catalog-crawler/internal/walker"
)

// crawlReport summarizes one source's run for CLI output.
type crawlReport struct {
	Source     catalog.SourceID `json:"source"`
	RunID      string           `json:"run_id"`
	Categories int              `json:"categories_processed"`
	Products   int              `json:"total_products"`
	Error      string           `json:"error,omitempty"`
}

// newCrawlCmd creates the 'crawl' subcommand, which runs one full crawl per
// selected source outside any session.
func newCrawlCmd() *cobra.Command {
	var sources []string
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Runs one full crawl now",
		Long: `Runs a single full crawl for each selected source (all enabled sources by
default), resuming from the stored checkpoint. Sources run concurrently; each
walks its categories one page at a time with the configured pauses.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCrawlCommand(cmd, sources)
		},
	}
	cmd.Flags().StringSliceVar(&sources, "source", nil, "source to crawl (repeatable): capterra, softwareadvice")
	return cmd
}

func runCrawlCommand(cmd *cobra.Command, rawSources []string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	ids, err := selectSources(appInstance, rawSources)
	if err != nil {
		return err
	}
	logger := appInstance.Logger()

	reports := make([]crawlReport, len(ids))
	g, ctx := errgroup.WithContext(cmd.Context())
	for i, id := range ids {
		w, err := appInstance.Walker(id)
		if err != nil {
			return err
		}
		runID, err := appInstance.IDs().NewID()
		if err != nil {
			return fmt.Errorf("generate run id: %w", err)
		}
		g.Go(func() error {
			result, err := w.RunFullCrawl(ctx, walker.RunInfo{ID: runID, Trigger: session.TriggerManual})
			report := crawlReport{
				Source:     id,
				RunID:      runID,
				Categories: result.CategoriesProcessed,
				Products:   result.TotalProducts,
			}
			if err != nil {
				report.Error = err.Error()
			}
			reports[i] = report
			// A source's page failure is reported but does not stop its siblings.
			if err != nil && (errors.Is(err, catalog.ErrStoreUnavailable) || errors.Is(err, context.Canceled)) {
				return fmt.Errorf("crawl %s: %w", id, err)
			}
			if err != nil {
				logger.Warn("crawl finished with errors", zap.String("source", string(id)), zap.Error(err))
			}
			return nil
		})
	}
	groupErr := g.Wait()
	if err := printJSON(cmd, reports); err != nil {
		return err
	}
	return groupErr
}
