package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/catalog-crawler/internal/catalog"
)

func newResetCmd() *cobra.Command {
	var sources []string
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Clears a source's checkpoint so the next run starts over",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if len(sources) == 0 {
				return errors.New("--source is required")
			}
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			ids, err := selectSources(appInstance, sources)
			if err != nil {
				return err
			}
			out := make([]catalog.Progress, 0, len(ids))
			for _, id := range ids {
				cp, err := appInstance.Progress().ResetCheckpoint(cmd.Context(), id)
				if err != nil {
					return fmt.Errorf("reset %s: %w", id, err)
				}
				out = append(out, cp)
			}
			return printJSON(cmd, out)
		},
	}
	cmd.Flags().StringSliceVar(&sources, "source", nil, "source to reset (repeatable)")
	return cmd
}
