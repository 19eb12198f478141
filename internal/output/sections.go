package output

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/sentilens/sentilens/internal/core"
	"github.com/sentilens/sentilens/internal/core/store"
)

const (
	barWidth      = 30
	textCellWidth = 60
)

type reportSection struct {
	Title string
	Lines []string
}

func reportSections(report *Report) []reportSection {
	if report == nil {
		return nil
	}

	sections := []reportSection{summarySection(report)}
	if section, ok := distributionSection(report.Summary); ok {
		sections = append(sections, section)
	}
	return sections
}

func summarySection(report *Report) reportSection {
	summary := report.Summary
	lines := []string{
		fmt.Sprintf("Total: %d (%d succeeded, %d failed, %d pending)",
			summary.Total, summary.Succeeded, summary.Failed, summary.Pending),
	}
	if summary.Succeeded > 0 {
		lines = append(lines, fmt.Sprintf("Mean confidence: %.3f", summary.MeanConfidence))
	}
	if failures := failureSummary(summary.FailuresByKind); failures != "" {
		lines = append(lines, "Failures: "+failures)
	}
	if report.Cancelled {
		lines = append(lines, "Batch was cancelled before completion")
	}
	return reportSection{Title: "Summary", Lines: lines}
}

func failureSummary(kinds map[core.ErrorKind]int) string {
	if len(kinds) == 0 {
		return ""
	}
	keys := make([]string, 0, len(kinds))
	for kind := range kinds {
		keys = append(keys, string(kind))
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		parts = append(parts, fmt.Sprintf("%s=%d", key, kinds[core.ErrorKind(key)]))
	}
	return strings.Join(parts, ", ")
}

// distributionSection renders label counts as text bars.
func distributionSection(summary store.Summary) (reportSection, bool) {
	distribution := summary.Distribution()
	if len(distribution) == 0 || summary.Succeeded == 0 {
		return reportSection{}, false
	}

	width := 0
	for _, entry := range distribution {
		if n := utf8.RuneCountInString(string(entry.Label)); n > width {
			width = n
		}
	}

	top := distribution[0].Count
	lines := make([]string, 0, len(distribution))
	for _, entry := range distribution {
		bar := entry.Count * barWidth / top
		if bar == 0 && entry.Count > 0 {
			bar = 1
		}
		share := float64(entry.Count) * 100 / float64(summary.Succeeded)
		lines = append(lines, fmt.Sprintf("%-*s %s %d (%.1f%%)",
			width, entry.Label, strings.Repeat("█", bar), entry.Count, share))
	}
	return reportSection{Title: "Label Distribution", Lines: lines}, true
}

func renderSections(sections []reportSection, markdown bool) string {
	if len(sections) == 0 {
		return ""
	}

	var sb strings.Builder
	for i, section := range sections {
		if i > 0 {
			sb.WriteString("\n")
		}
		if markdown {
			sb.WriteString(fmt.Sprintf("\n\n### %s\n", section.Title))
			for _, line := range section.Lines {
				sb.WriteString(fmt.Sprintf("- %s\n", line))
			}
		} else {
			sb.WriteString(fmt.Sprintf("\n\n%s:\n", section.Title))
			for _, line := range section.Lines {
				sb.WriteString(fmt.Sprintf("  %s\n", line))
			}
		}
	}
	return sb.String()
}

func displayText(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	if utf8.RuneCountInString(text) <= textCellWidth {
		return text
	}
	return string([]rune(text)[:textCellWidth-1]) + "…"
}

func displayLabel(row store.Row) string {
	switch row.State {
	case core.SlotSucceeded:
		return string(row.Label)
	case core.SlotFailed:
		return "failed"
	default:
		return "pending"
	}
}

func displayConfidence(row store.Row) string {
	if row.State != core.SlotSucceeded {
		return ""
	}
	return strconv.FormatFloat(row.Confidence, 'f', 3, 64)
}
