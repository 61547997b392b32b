package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/JakeFAU/wikicrawl/internal/orchestrator"
)

// newCrawlCmd creates and configures the 'crawl' subcommand.
// Flags override the matching crawler.* configuration keys.
func newCrawlCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Crawls the configured root category",
		Long: `Walks every page of the root category, then fetches and stores each
discovered entity page and its thumbnail. Work left over from an earlier
interrupted run is resumed; finished pages are not downloaded again.`,

		RunE: runCrawlCommand,
	}

	flags := cmd.Flags()
	flags.String("root-url", "", "root category URL")
	flags.Int("max-pages", 0, "maximum category pages to fetch this run (0 = unlimited)")
	flags.Int("max-entities", 0, "maximum entity pages to fetch this run (0 = unlimited)")
	flags.Int("workers", 0, "number of concurrent entity workers")
	flags.Bool("repair-thumbnails", false, "retry thumbnails recorded as failed after the crawl")
	_ = v.BindPFlag("crawler.root_url", flags.Lookup("root-url"))
	_ = v.BindPFlag("crawler.max_discovery_pages", flags.Lookup("max-pages"))
	_ = v.BindPFlag("crawler.max_entities", flags.Lookup("max-entities"))
	_ = v.BindPFlag("crawler.workers", flags.Lookup("workers"))
	_ = v.BindPFlag("crawler.repair_thumbnails", flags.Lookup("repair-thumbnails"))
	return cmd
}

func runCrawlCommand(cmd *cobra.Command, _ []string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	if err := appInstance.Config().RequireRootURL(); err != nil {
		return err
	}
	logger := appInstance.Logger()

	f, err := appInstance.OpenFrontier(cmd.Context())
	if err != nil {
		return err
	}
	orch, err := appInstance.Orchestrator(f)
	if err != nil {
		return err
	}

	summary, err := orch.Run(cmd.Context())
	if err != nil {
		return fmt.Errorf("crawl: %w", err)
	}
	printSummary(cmd.OutOrStdout(), summary)

	if summary.Interrupted {
		logger.Warn("Crawl interrupted; rerun to resume", zap.Int("still_pending", summary.StillPending))
	} else {
		logger.Info("Crawl command finished.")
	}
	return nil
}

func printSummary(out io.Writer, s orchestrator.Summary) {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "run\t%s\n", s.RunID)
	fmt.Fprintf(tw, "elapsed\t%s\n", s.Elapsed.Round(time.Millisecond))
	fmt.Fprintf(tw, "category pages done\t%d\n", s.CategoryPages)
	fmt.Fprintf(tw, "entities done\t%d\n", s.EntitiesDone)
	if s.Reconciled > 0 {
		fmt.Fprintf(tw, "reconciled\t%d\n", s.Reconciled)
	}
	if s.ThumbnailsRepaired > 0 {
		fmt.Fprintf(tw, "thumbnails repaired\t%d\n", s.ThumbnailsRepaired)
	}
	fmt.Fprintf(tw, "still pending\t%d\n", s.StillPending)
	fmt.Fprintf(tw, "permanently failed\t%d\n", len(s.PermanentlyFailed))
	if s.Interrupted {
		fmt.Fprintln(tw, "interrupted\tyes")
	}
	_ = tw.Flush()

	for _, failed := range s.PermanentlyFailed {
		fmt.Fprintf(out, "  FAILED %s [%s] %s (attempts=%d): %s\n",
			failed.Kind, failed.ErrorKind, failed.URL, failed.Attempts, failed.Error)
	}
}
