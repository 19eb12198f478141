package output

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
)

// TableFormatter renders reports as an ASCII table.
type TableFormatter struct{}

// FormatReport renders a report as a table followed by its summary.
func (f *TableFormatter) FormatReport(report *Report) (string, error) {
	if report == nil {
		return "", nil
	}

	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"#", "Text", "Label", "Confidence", "Error"})

	for _, row := range report.Rows {
		t.AppendRow(table.Row{
			row.ID,
			displayText(row.Text),
			displayLabel(row),
			displayConfidence(row),
			row.Reason(),
		})
	}

	if report.Summary.Total > 0 {
		t.AppendFooter(table.Row{
			"",
			"",
			fmt.Sprintf("%d/%d succeeded", report.Summary.Succeeded, report.Summary.Total),
			"",
			"",
		})
	}

	rendered := t.Render()
	rendered += renderSections(reportSections(report), false)
	return rendered, nil
}
