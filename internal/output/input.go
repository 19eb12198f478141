package output

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/sentilens/sentilens/internal/core"
)

// DefaultTextColumn is the CSV column read when none is configured.
const DefaultTextColumn = "text"

// InputFormat selects how batch input files are parsed.
type InputFormat string

const (
	InputAuto  InputFormat = "auto"
	InputLines InputFormat = "lines"
	InputCSV   InputFormat = "csv"
)

// ParseInputFormat validates an input format string.
func ParseInputFormat(value string) (InputFormat, error) {
	switch InputFormat(strings.ToLower(strings.TrimSpace(value))) {
	case "", InputAuto:
		return InputAuto, nil
	case InputLines, "txt":
		return InputLines, nil
	case InputCSV:
		return InputCSV, nil
	default:
		return "", fmt.Errorf("unsupported input format: %s", value)
	}
}

// ResolveInputFormat picks csv for .csv files when format is auto.
func ResolveInputFormat(format InputFormat, path string) InputFormat {
	if format != InputAuto && format != "" {
		return format
	}
	if strings.EqualFold(filepath.Ext(path), ".csv") {
		return InputCSV
	}
	return InputLines
}

// ReadTexts reads input texts in the given (resolved) format.
func ReadTexts(r io.Reader, format InputFormat, column string) ([]string, error) {
	if format == InputCSV {
		return ReadTextsCSV(r, column)
	}
	return ReadTextLines(r)
}

// ReadTextsCSV returns the values of column in row order. Empty cells are
// kept so results stay aligned with the input rows.
func ReadTextsCSV(r io.Reader, column string) ([]string, error) {
	column = strings.TrimSpace(column)
	if column == "" {
		column = DefaultTextColumn
	}

	reader := csv.NewReader(stripBOM(r))
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, core.InputError("csv is empty")
		}
		return nil, fmt.Errorf("read csv header: %w", err)
	}

	index := -1
	for i, name := range header {
		if strings.EqualFold(strings.TrimSpace(name), column) {
			index = i
			break
		}
	}
	if index < 0 {
		return nil, core.InputError(fmt.Sprintf("csv has no %q column (found: %s)", column, strings.Join(header, ", ")))
	}

	texts := make([]string, 0)
	for line := 2; ; line++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv line %d: %w", line, err)
		}
		if index >= len(record) {
			texts = append(texts, "")
			continue
		}
		texts = append(texts, record[index])
	}
	return texts, nil
}

// ReadTextLines returns one text per non-blank line. Lines are taken
// verbatim apart from surrounding whitespace, so hashtag-leading texts
// are kept.
func ReadTextLines(r io.Reader) ([]string, error) {
	texts := make([]string, 0)
	scanner := bufio.NewScanner(stripBOM(r))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" {
			continue
		}
		texts = append(texts, raw)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return texts, nil
}

// stripBOM drops a leading UTF-8 byte order mark.
func stripBOM(r io.Reader) io.Reader {
	buffered := bufio.NewReader(r)
	if prefix, err := buffered.Peek(3); err == nil && string(prefix) == "\xef\xbb\xbf" {
		_, _ = buffered.Discard(3)
	}
	return buffered
}
