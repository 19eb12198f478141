package cmd

import (
	"errors"
	"os"

	"github.com/spf13/cobra"

	"github.com/sentilens/sentilens/internal/core"
	"github.com/sentilens/sentilens/internal/output"
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze [text...]",
	Short: "Analyze the sentiment of one or more texts",
	Long: `Classify each argument as a separate text. With no arguments, texts are
read from stdin, one per line.`,
	Example: `  sentilens analyze "I love this product"
  echo "worst purchase ever" | sentilens analyze -o json`,
	RunE: runAnalyze,
}

func init() {
	rootCmd.AddCommand(analyzeCmd)

	analyzeCmd.Flags().StringP("output", "o", "table", "Output format: table, json, markdown, yaml, csv")
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	formatValue, err := cmd.Flags().GetString("output")
	if err != nil {
		return err
	}
	format, err := output.ParseFormat(formatValue)
	if err != nil {
		return err
	}

	texts := args
	if len(texts) == 0 {
		texts, err = output.ReadTextLines(os.Stdin)
		if err != nil {
			return err
		}
	}
	if len(texts) == 0 {
		return errors.New("at least one text is required")
	}

	cfg, err := loadedConfig()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	client, err := buildClient(cfg)
	if err != nil {
		return err
	}
	orch, err := buildOrchestrator(cfg, client)
	if err != nil {
		return err
	}

	job, err := orch.Run(cmd.Context(), core.NewRequests(texts))
	if err != nil {
		return err
	}

	report := output.NewReport(job)
	rendered, err := output.NewFormatter(format).FormatReport(report)
	if err != nil {
		return err
	}
	if err := writeTo("-", rendered); err != nil {
		return err
	}

	// A lone text that failed is a failed command.
	if len(report.Rows) == 1 && report.Rows[0].State == core.SlotFailed {
		return report.Rows[0].Error
	}
	if report.Summary.Succeeded == 0 && report.Summary.Total > 0 {
		return errors.New("every text failed")
	}
	return nil
}
