package commands

import (
	"fmt"
	"io"

	"catalog-scraper/internal/dataset"
	"catalog-scraper/lib/serviceutil"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var similarThreshold *float64

func init() {
	similarThreshold = inspectCmd.Flags().Float64("similar", 0.9, "The Jaro-Winkler similarity above which two column names are reported as likely duplicates.")
	rootCmd.AddCommand(inspectCmd)
}

var inspectCmd = &cobra.Command{
	Use:   "inspect <path/to/dataset.csv> [--similar <0..1>]",
	Short: "Prints how well each column of a crawled dataset is filled.",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		err := inspectDataset(cmd.OutOrStdout(), args[0], *similarThreshold)
		if err != nil {
			serviceutil.Fatal("failed to inspect dataset", err)
		}
	},
}

func inspectDataset(out io.Writer, path string, threshold float64) error {
	if threshold < 0 || threshold > 1 {
		return fmt.Errorf("similarity threshold must be within [0, 1], got %g", threshold)
	}

	data, err := dataset.ReadDataset(path)
	if err != nil {
		return err
	}

	stats := newTable(out)
	stats.SetTitle(fmt.Sprintf("%s (%d rows)", path, len(data.Rows)))
	stats.AppendHeader(table.Row{"Column", "Filled", "Empty", "Fill %"})
	for _, stat := range data.ColumnStats() {
		fill := 0.0
		if len(data.Rows) > 0 {
			fill = 100 * float64(stat.Filled) / float64(len(data.Rows))
		}
		stats.AppendRow(table.Row{
			stat.Name,
			stat.Filled,
			stat.Empty,
			fmt.Sprintf("%.1f", fill),
		})
	}
	stats.Render()

	similar := dataset.FindSimilarColumns(data.Columns, threshold)
	if len(similar) == 0 {
		return nil
	}

	pairs := newTable(out)
	pairs.SetTitle("Similar columns")
	pairs.AppendHeader(table.Row{"Column", "Column", "Similarity"})
	for _, pair := range similar {
		pairs.AppendRow(table.Row{
			pair.Left,
			pair.Right,
			fmt.Sprintf("%.3f", pair.Similarity),
		})
	}
	pairs.Render()

	return nil
}
