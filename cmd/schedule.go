package cmd

import (
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/opportunity-crawler/internal/scheduler"
)

func newScheduleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schedule",
		Short: "Run discover, verify, and reap on their cron schedules until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			s, err := newScheduler(a)
			if err != nil {
				return err
			}
			s.Start(cmd.Context())
			renderEntries(cmd, a.GetLogger(), s.Entries())

			<-cmd.Context().Done()
			a.GetLogger().Info("stopping scheduler; waiting for running workflows")
			<-s.Stop().Done()
			return nil
		},
	}
}

func newScheduler(a App) (*scheduler.Scheduler, error) {
	sc := a.GetConfig().Schedule
	return scheduler.New(scheduler.Config{
		Discover:    sc.Discover,
		Verify:      sc.Verify,
		Reap:        sc.Reap,
		ProgramType: sc.ProgramType,
	}, a.GetCrawler(), a.GetLogger().Named("scheduler"))
}

func renderEntries(cmd *cobra.Command, logger *zap.Logger, entries []scheduler.Entry) {
	t := table.NewWriter()
	t.SetOutputMirror(cmd.OutOrStdout())
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Workflow", "Schedule", "Next Run"})
	for _, e := range entries {
		t.AppendRow(table.Row{e.Workflow, e.Spec, e.Next.Format("2006-01-02 15:04 MST")})
	}
	t.Render()
	if len(entries) == 0 {
		logger.Warn("no workflows scheduled")
	}
}
