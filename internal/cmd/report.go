package cmd

import (
	"github.com/spf13/cobra"

	"github.com/sentilens/sentilens/internal/core/store"
	"github.com/sentilens/sentilens/internal/output"
)

var reportCmd = &cobra.Command{
	Use:   "report <results.csv|->",
	Short: "Summarize a previously exported result CSV",
	Long: `Load a result table written by "batch --csv" (or the /v1 export endpoints)
and render it with its summary in any report format.`,
	Args: cobra.ExactArgs(1),
	RunE: runReport,
}

func init() {
	rootCmd.AddCommand(reportCmd)

	reportCmd.Flags().StringP("output", "o", "table", "Output format: table, json, markdown, yaml, csv")
	reportCmd.Flags().String("out", "", "Write the report to a file instead of stdout")
}

func runReport(cmd *cobra.Command, args []string) error {
	formatValue, err := cmd.Flags().GetString("output")
	if err != nil {
		return err
	}
	format, err := output.ParseFormat(formatValue)
	if err != nil {
		return err
	}
	outPath, _ := cmd.Flags().GetString("out")

	input, err := openInput(args[0])
	if err != nil {
		return err
	}
	defer input.Close() // nolint:errcheck // best-effort cleanup on read-only file

	rows, err := output.ParseCSV(input)
	if err != nil {
		return err
	}

	rendered, err := output.NewFormatter(format).FormatReport(output.FromStore(store.FromRows(rows)))
	if err != nil {
		return err
	}
	return writeTo(outPath, rendered)
}
