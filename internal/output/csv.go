package output

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/sentilens/sentilens/internal/core"
	"github.com/sentilens/sentilens/internal/core/store"
)

// CSVHeader is the column order of exported reports.
var CSVHeader = []string{"id", "text", "label", "confidence", "error"}

// CSVFormatter renders reports as CSV rows only.
type CSVFormatter struct{}

// FormatReport renders the report rows as CSV.
func (f *CSVFormatter) FormatReport(report *Report) (string, error) {
	if report == nil {
		return "", nil
	}
	data, err := ExportCSV(report.Rows)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// ExportCSV serializes rows with a header line. Confidence is empty for
// rows that did not succeed; error holds "kind: message".
func ExportCSV(rows []store.Row) ([]byte, error) {
	var buf bytes.Buffer
	if err := WriteCSV(&buf, rows); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteCSV streams rows to w.
func WriteCSV(w io.Writer, rows []store.Row) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(CSVHeader); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}

	for _, row := range rows {
		record := []string{
			strconv.Itoa(row.ID),
			row.Text,
			"",
			"",
			row.Reason(),
		}
		if row.State == core.SlotSucceeded {
			record[2] = string(row.Label)
			record[3] = strconv.FormatFloat(row.Confidence, 'f', -1, 64)
		}
		if err := writer.Write(record); err != nil {
			return fmt.Errorf("write csv row %d: %w", row.ID, err)
		}
	}

	writer.Flush()
	return writer.Error()
}

// ParseCSV reads rows written by ExportCSV.
func ParseCSV(r io.Reader) ([]store.Row, error) {
	reader := csv.NewReader(stripBOM(r))
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("csv is empty")
		}
		return nil, fmt.Errorf("read csv header: %w", err)
	}

	columns := make(map[string]int, len(header))
	for i, name := range header {
		columns[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, name := range CSVHeader {
		if _, ok := columns[name]; !ok {
			return nil, fmt.Errorf("csv is missing column %q", name)
		}
	}

	field := func(record []string, name string) string {
		i := columns[name]
		if i >= len(record) {
			return ""
		}
		return record[i]
	}

	rows := make([]store.Row, 0)
	for line := 2; ; line++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv line %d: %w", line, err)
		}

		id, err := strconv.Atoi(strings.TrimSpace(field(record, "id")))
		if err != nil {
			return nil, fmt.Errorf("invalid id on line %d: %w", line, err)
		}

		row := store.Row{
			ID:    id,
			Text:  field(record, "text"),
			State: core.SlotPending,
		}
		if reason := field(record, "error"); strings.TrimSpace(reason) != "" {
			row.State = core.SlotFailed
			row.Error = core.ParseReason(reason)
		} else if label := strings.TrimSpace(field(record, "label")); label != "" {
			row.State = core.SlotSucceeded
			row.Label = core.Label(label)
			if raw := strings.TrimSpace(field(record, "confidence")); raw != "" {
				confidence, err := strconv.ParseFloat(raw, 64)
				if err != nil {
					return nil, fmt.Errorf("invalid confidence on line %d: %w", line, err)
				}
				row.Confidence = confidence
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}
