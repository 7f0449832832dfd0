package cmd

import (
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/opportunity-crawler/internal/crawler"
)

func newDiscoverCmd() *cobra.Command {
	var (
		programType string
		sourceIDs   []string
	)
	cmd := &cobra.Command{
		Use:   "discover",
		Short: "Crawl active sources and record new opportunities",
		Long: `Visits each active source's base URL, follows same-host links that pass the
source's path rules up to its request cap, and upserts every page that yields
an opportunity.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			summary, err := a.GetCrawler().Discover(cmd.Context(), crawler.DiscoverOptions{
				ProgramType: programType,
				SourceIDs:   sourceIDs,
			})
			if err != nil {
				return fmt.Errorf("discover: %w", err)
			}
			a.GetLogger().Info("discover command finished", zap.String("run_id", summary.RunID))
			renderSummary(cmd.OutOrStdout(), "Discover "+summary.RunID, []table.Row{
				{"Sources", summary.Sources},
				{"Visited", summary.Visited},
				{"Accepted", summary.Accepted},
				{"Needs review", summary.NeedsReview},
				{"Expired", summary.Expired},
				{"Blocked", summary.Blocked},
				{"Errors", summary.Errors},
			})
			return nil
		},
	}
	cmd.Flags().StringVar(&programType, "program-type", "", "only crawl sources of this program type")
	cmd.Flags().StringSliceVar(&sourceIDs, "source", nil, "only crawl these source IDs (repeatable)")
	return cmd
}

func newVerifyCmd() *cobra.Command {
	var (
		programType string
		limit       int
	)
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Re-check stored opportunities, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if limit < 0 {
				return fmt.Errorf("--limit must be >= 0")
			}
			summary, err := a.GetCrawler().Verify(cmd.Context(), crawler.VerifyOptions{
				ProgramType: programType,
				Limit:       limit,
			})
			if err != nil {
				return fmt.Errorf("verify: %w", err)
			}
			a.GetLogger().Info("verify command finished", zap.String("run_id", summary.RunID))
			renderSummary(cmd.OutOrStdout(), "Verify "+summary.RunID, []table.Row{
				{"Checked", summary.Checked},
				{"Not modified", summary.NotModified},
				{"Unchanged", summary.Unchanged},
				{"Changed", summary.Changed},
				{"Expired", summary.Expired},
				{"Blocked", summary.Blocked},
				{"Errors", summary.Errors},
			})
			return nil
		},
	}
	cmd.Flags().StringVar(&programType, "program-type", "", "only verify rows of this program type")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum rows to check (0 uses verify.batch_limit)")
	return cmd
}

func newReapCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reap",
		Short: "Expire opportunities whose confident deadline has passed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			summary, err := a.GetCrawler().Reap(cmd.Context())
			if err != nil {
				return fmt.Errorf("reap: %w", err)
			}
			renderSummary(cmd.OutOrStdout(), "Reap "+summary.RunID, []table.Row{
				{"Expired", summary.Expired},
			})
			return nil
		},
	}
}

func renderSummary(w io.Writer, title string, rows []table.Row) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.SetTitle(title)
	t.AppendHeader(table.Row{"Metric", "Count"})
	t.AppendRows(rows)
	t.Render()
}
