package output

import (
	"fmt"
	"strings"

	"github.com/sentilens/sentilens/internal/core/engine"
	"github.com/sentilens/sentilens/internal/core/store"
)

// Format represents an output format.
type Format string

const (
	FormatTable    Format = "table"
	FormatJSON     Format = "json"
	FormatMarkdown Format = "markdown"
	FormatYAML     Format = "yaml"
	FormatCSV      Format = "csv"
)

// Report is a rendered view of one batch.
type Report struct {
	JobID     string        `json:"job_id,omitempty" yaml:"job_id,omitempty"`
	Cancelled bool          `json:"cancelled,omitempty" yaml:"cancelled,omitempty"`
	Rows      []store.Row   `json:"rows" yaml:"rows"`
	Summary   store.Summary `json:"summary" yaml:"summary"`
}

// NewReport snapshots job into a report.
func NewReport(job *engine.Job) *Report {
	results := store.NewResultStore(job)
	report := FromStore(results)
	if job != nil {
		report.JobID = job.ID
		report.Cancelled = job.Cancelled()
	}
	return report
}

// FromStore builds a report from stored rows.
func FromStore(results *store.ResultStore) *Report {
	rows := results.AsTable()
	if rows == nil {
		rows = []store.Row{}
	}
	return &Report{
		Rows:    rows,
		Summary: results.Summary(),
	}
}

// Formatter renders batch reports.
type Formatter interface {
	FormatReport(report *Report) (string, error)
}

// ParseFormat validates and normalizes a format string.
func ParseFormat(value string) (Format, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	switch normalized {
	case "", string(FormatTable):
		return FormatTable, nil
	case string(FormatJSON):
		return FormatJSON, nil
	case string(FormatMarkdown), "md":
		return FormatMarkdown, nil
	case string(FormatYAML), "yml":
		return FormatYAML, nil
	case string(FormatCSV):
		return FormatCSV, nil
	default:
		return "", fmt.Errorf("unsupported output format: %s", value)
	}
}

// NewFormatter returns a formatter for the requested format.
func NewFormatter(format Format) Formatter {
	switch format {
	case FormatJSON:
		return &JSONFormatter{Indent: true}
	case FormatMarkdown:
		return &MarkdownFormatter{}
	case FormatYAML:
		return &YAMLFormatter{}
	case FormatCSV:
		return &CSVFormatter{}
	default:
		return &TableFormatter{}
	}
}
