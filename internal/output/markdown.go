package output

import (
	"fmt"
	"strings"
)

// MarkdownFormatter renders reports as a markdown table.
type MarkdownFormatter struct{}

// FormatReport renders a report as Markdown.
func (f *MarkdownFormatter) FormatReport(report *Report) (string, error) {
	if report == nil {
		return "", nil
	}

	var sb strings.Builder
	sb.WriteString("## Sentiment analysis\n\n")
	sb.WriteString("| # | Text | Label | Confidence | Error |\n")
	sb.WriteString("|---|------|-------|------------|-------|\n")

	for _, row := range report.Rows {
		sb.WriteString(fmt.Sprintf("| %d | %s | %s | %s | %s |\n",
			row.ID,
			escapeMarkdownCell(displayText(row.Text)),
			escapeMarkdownCell(displayLabel(row)),
			displayConfidence(row),
			escapeMarkdownCell(row.Reason()),
		))
	}

	sb.WriteString(renderSections(reportSections(report), true))
	return sb.String(), nil
}

func escapeMarkdownCell(value string) string {
	return strings.ReplaceAll(value, "|", "\\|")
}
