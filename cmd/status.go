package cmd

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/wikicrawl/internal/crawler"
)

type statusReport struct {
	Frontier      []crawler.FrontierStats `json:"frontier"`
	Failures      []crawler.FailedTarget  `json:"failures"`
	IndexedEntity int                     `json:"indexed_entities"`
}

// newStatusCmd creates the 'status' subcommand.
func newStatusCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Shows frontier progress, permanent failures and the index size",
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			f, err := appInstance.OpenFrontier(cmd.Context())
			if err != nil {
				return err
			}
			count, err := appInstance.Index().CountEntities(cmd.Context())
			if err != nil {
				return fmt.Errorf("count entities: %w", err)
			}
			report := statusReport{
				Frontier:      f.Stats(),
				Failures:      f.Failures(""),
				IndexedEntity: count,
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(report)
			}

			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "KIND\tPENDING\tIN PROGRESS\tDONE\tRETRY WAITING\tFAILED")
			for _, s := range report.Frontier {
				fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%d\n",
					s.Kind, s.Pending, s.InProgress, s.Done, s.RetryWaiting, s.PermanentlyFailed)
			}
			_ = tw.Flush()
			fmt.Fprintf(out, "indexed entities: %d\n", report.IndexedEntity)
			for _, failed := range report.Failures {
				fmt.Fprintf(out, "  FAILED %s [%s] %s (attempts=%d): %s\n",
					failed.Kind, failed.ErrorKind, failed.URL, failed.Attempts, failed.Error)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the report as JSON")
	return cmd
}
