package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/wikicrawl/internal/crawler"
)

const kindAll = "all"

// newRetryFailedCmd creates the 'retry-failed' subcommand. Requeued entries
// get a fresh attempt budget and are picked up by the next crawl.
func newRetryFailedCmd() *cobra.Command {
	var kind string
	cmd := &cobra.Command{
		Use:   "retry-failed",
		Short: "Requeues permanently failed targets for the next crawl",
		RunE: func(cmd *cobra.Command, _ []string) error {
			kinds, err := parseKinds(kind)
			if err != nil {
				return err
			}
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			f, err := appInstance.OpenFrontier(cmd.Context())
			if err != nil {
				return err
			}

			total := 0
			for _, k := range kinds {
				n, err := f.RequeueFailed(cmd.Context(), k)
				total += n
				if err != nil {
					return fmt.Errorf("requeue %s: %w", k, err)
				}
			}
			appInstance.Logger().Info("Requeued failed targets", zap.Int("count", total), zap.String("kind", kind))
			fmt.Fprintf(cmd.OutOrStdout(), "requeued %d target(s)\n", total)
			return nil
		},
	}
	cmd.Flags().StringVar(&kind, "kind", string(crawler.KindEntityPage),
		"target kind to requeue: entity_page, category_page or all")
	return cmd
}

func parseKinds(raw string) ([]crawler.TargetKind, error) {
	if raw == kindAll {
		return []crawler.TargetKind{crawler.KindCategoryPage, crawler.KindEntityPage}, nil
	}
	kind := crawler.TargetKind(raw)
	if !kind.Valid() {
		return nil, fmt.Errorf("unknown kind %q", raw)
	}
	return []crawler.TargetKind{kind}, nil
}
