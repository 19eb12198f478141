package cmd

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/sentilens/sentilens/internal/core"
	"github.com/sentilens/sentilens/internal/core/store"
	"github.com/sentilens/sentilens/internal/observability"
	"github.com/sentilens/sentilens/internal/output"
)

var batchCmd = &cobra.Command{
	Use:   "batch <file|->",
	Short: "Analyze every text in a file",
	Long: `Read texts from a CSV column or a line-delimited file and classify them
with bounded concurrency. Results keep the input order.

Interrupting the batch (Ctrl+C) stops dispatch; the partial report and CSV
export are still written, with unprocessed rows marked cancelled.`,
	Example: `  sentilens batch reviews.csv --column review --csv results.csv
  cat tweets.txt | sentilens batch - --format lines -o json`,
	Args: cobra.ExactArgs(1),
	RunE: runBatch,
}

func init() {
	rootCmd.AddCommand(batchCmd)

	batchCmd.Flags().String("column", "", "CSV column holding the text (default from config, \"text\")")
	batchCmd.Flags().String("format", "auto", "Input format: auto, csv, lines")
	batchCmd.Flags().StringP("output", "o", "table", "Report format: table, json, markdown, yaml, csv")
	batchCmd.Flags().String("out", "", "Write the report to a file instead of stdout")
	batchCmd.Flags().String("csv", "", "Also export the result table as CSV to this path")
	batchCmd.Flags().Int("concurrency", 0, "Concurrent inference requests (default from config)")
	batchCmd.Flags().Int("batch-size", 0, "Texts per inference request (default from config)")
	batchCmd.Flags().String("on-cancel", "", "In-flight requests on cancel: drain or abandon")
	batchCmd.Flags().Bool("progress", false, "Print progress to stderr")

	_ = viper.BindPFlag("batch.text_column", batchCmd.Flags().Lookup("column"))
	_ = viper.BindPFlag("batch.concurrency", batchCmd.Flags().Lookup("concurrency"))
	_ = viper.BindPFlag("batch.batch_size", batchCmd.Flags().Lookup("batch-size"))
	_ = viper.BindPFlag("batch.on_cancel", batchCmd.Flags().Lookup("on-cancel"))
}

func runBatch(cmd *cobra.Command, args []string) error {
	formatValue, err := cmd.Flags().GetString("output")
	if err != nil {
		return err
	}
	format, err := output.ParseFormat(formatValue)
	if err != nil {
		return err
	}

	inputValue, err := cmd.Flags().GetString("format")
	if err != nil {
		return err
	}
	inputFormat, err := output.ParseInputFormat(inputValue)
	if err != nil {
		return err
	}

	outPath, _ := cmd.Flags().GetString("out")
	csvPath, _ := cmd.Flags().GetString("csv")
	showProgress, _ := cmd.Flags().GetBool("progress")

	cfg, err := loadedConfig()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	texts, err := readBatchTexts(args[0], output.ResolveInputFormat(inputFormat, args[0]), cfg.Batch.TextColumn)
	if err != nil {
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
	if showProgress {
		orch.Progress = progressPrinter()
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	observability.CLILogger.Debug("Starting batch",
		zap.Int("texts", len(texts)),
		zap.Int("concurrency", orch.Concurrency),
		zap.Int("batch_size", orch.BatchSize),
		zap.String("on_cancel", string(orch.OnCancel)))

	startedAt := time.Now()
	job, err := orch.Run(ctx, core.NewRequests(texts))
	if err != nil {
		return err
	}
	logThroughput(job.Len(), startedAt)

	report := output.NewReport(job)
	if csvPath != "" {
		if err := writeCSVExport(csvPath, report.Rows); err != nil {
			return err
		}
		observability.CLILogger.Info("Exported results", zap.String("path", csvPath), zap.Int("rows", len(report.Rows)))
	}

	rendered, err := output.NewFormatter(format).FormatReport(report)
	if err != nil {
		return err
	}
	if err := writeTo(outPath, rendered); err != nil {
		return err
	}

	if job.Cancelled() {
		return fmt.Errorf("batch cancelled: %d of %d texts succeeded", report.Summary.Succeeded, report.Summary.Total)
	}
	return nil
}

func readBatchTexts(path string, format output.InputFormat, column string) ([]string, error) {
	input, err := openInput(path)
	if err != nil {
		return nil, err
	}
	defer input.Close() // nolint:errcheck // best-effort cleanup on read-only file

	texts, err := output.ReadTexts(input, format, column)
	if err != nil {
		return nil, err
	}
	if len(texts) == 0 {
		return nil, errors.New("no texts found in batch input")
	}
	return texts, nil
}

func writeCSVExport(path string, rows []store.Row) error {
	sink, err := openSink(path)
	if err != nil {
		return err
	}
	if err := output.WriteCSV(sink.writer, rows); err != nil {
		_ = sink.close()
		return err
	}
	return sink.close()
}

// progressPrinter reports completed slots on stderr, at most once per percent.
func progressPrinter() func(done, total int) {
	var (
		mu   sync.Mutex
		last = -1
	)
	return func(done, total int) {
		if total == 0 {
			return
		}
		percent := done * 100 / total
		mu.Lock()
		defer mu.Unlock()
		if percent == last && done != total {
			return
		}
		last = percent
		fmt.Fprintf(os.Stderr, "\rprocessed %d/%d (%d%%)", done, total, percent)
		if done == total {
			fmt.Fprintln(os.Stderr, strings.Repeat(" ", 4))
		}
	}
}
