package cmd

import (
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/opportunity-crawler/internal/registry"
)

func newSourcesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sources",
		Short: "Inspect or load the source registry",
	}
	cmd.AddCommand(newSourcesListCmd())
	cmd.AddCommand(newSourcesImportCmd())
	return cmd
}

func newSourcesListCmd() *cobra.Command {
	var programType string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List active sources",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			sources, err := a.GetRegistry().ListActive(cmd.Context(), programType)
			if err != nil {
				return err
			}

			t := table.NewWriter()
			t.SetOutputMirror(cmd.OutOrStdout())
			t.SetStyle(table.StyleLight)
			t.AppendHeader(table.Row{"ID", "Program", "Base URL", "Max Requests", "Min Delay", "Robots", "Allow", "Block"})
			for _, src := range sources {
				t.AppendRow(table.Row{
					src.ID,
					src.ProgramType,
					src.BaseURL,
					src.MaxRequestsPerRun,
					src.MinDelay,
					src.RespectRobots,
					strings.Join(src.AllowPaths, ","),
					strings.Join(src.BlockPaths, ","),
				})
			}
			t.AppendFooter(table.Row{"", "", "Total", len(sources)})
			t.Render()
			return nil
		},
	}
	cmd.Flags().StringVar(&programType, "program-type", "", "only list sources of this program type")
	return cmd
}

func newSourcesImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import FILE",
		Short: "Load a sources YAML file into the database registry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			file, err := registry.NewFile(args[0])
			if err != nil {
				return err
			}
			sources, err := file.All()
			if err != nil {
				return err
			}
			n, err := a.ImportSources(cmd.Context(), sources)
			if err != nil {
				return fmt.Errorf("import sources: %w", err)
			}
			a.GetLogger().Info("sources imported", zap.Int("count", n), zap.String("file", args[0]))
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d sources\n", n)
			return nil
		},
	}
}
