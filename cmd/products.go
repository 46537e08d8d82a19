package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/catalog-crawler/internal/catalog"
)

func newProductsCmd() *cobra.Command {
	var (
		rawSource string
		query     catalog.ProductQuery
	)
	cmd := &cobra.Command{
		Use:   "products",
		Short: "Lists stored products, best rated first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			id, err := catalog.ParseSourceID(rawSource)
			if err != nil {
				return err
			}
			products, err := appInstance.Records().ListProducts(cmd.Context(), id, query)
			if err != nil {
				return fmt.Errorf("list products: %w", err)
			}
			return printJSON(cmd, products)
		},
	}
	cmd.Flags().StringVar(&rawSource, "source", string(catalog.SourceCapterra), "source to list")
	cmd.Flags().StringVar(&query.Category, "category", "", "only products in this category")
	cmd.Flags().Float64Var(&query.MinRating, "min-rating", 0, "minimum rating")
	cmd.Flags().IntVar(&query.Limit, "limit", catalog.DefaultProductLimit, "maximum products to list")
	return cmd
}
