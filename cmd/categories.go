package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/catalog-crawler/internal/catalog"
	"github.com/JakeFAU/catalog-crawler/internal/walker"
)

func newCategoriesCmd() *cobra.Command {
	var sources []string
	cmd := &cobra.Command{
		Use:   "categories",
		Short: "Discovers and stores the category list",
		Long: `Fetches each selected source's category index and upserts it by name.
Existing categories keep their position; new ones are appended.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			ids, err := selectSources(appInstance, sources)
			if err != nil {
				return err
			}
			out := make(map[catalog.SourceID][]catalog.Category, len(ids))
			for _, id := range ids {
				adapter, err := appInstance.Adapter(id)
				if err != nil {
					return err
				}
				found, err := walker.DiscoverCategories(
					cmd.Context(),
					adapter,
					appInstance.Categories(),
					appInstance.Config().FetchTimeout(),
				)
				if err != nil {
					return fmt.Errorf("discover %s: %w", id, err)
				}
				out[id] = found
			}
			return printJSON(cmd, out)
		},
	}
	cmd.Flags().StringSliceVar(&sources, "source", nil, "source to discover (repeatable)")
	return cmd
}
