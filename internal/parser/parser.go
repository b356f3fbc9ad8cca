// Package parser converts uploaded tabular files into normalized row maps.
package parser

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
)

// RowNumberKey holds the 1-based source line number inside each parsed row
const RowNumberKey = "_row"

// Row maps a normalized (trimmed, lower-cased) column name to its trimmed
// string value for one input record
type Row map[string]string

// RowNumber returns the source line number recorded during parsing
func (r Row) RowNumber() int {
	n, _ := strconv.Atoi(r[RowNumberKey])
	return n
}

// LineError describes one malformed input line
type LineError struct {
	Line    int    `json:"line"`
	Message string `json:"message"`
}

// ParseError aborts a batch before any workflow step runs. It carries every
// structural diagnostic, not just the first.
type ParseError struct {
	Lines []LineError
}

func (e *ParseError) Error() string {
	if len(e.Lines) == 1 {
		return fmt.Sprintf("parse failed: line %d: %s", e.Lines[0].Line, e.Lines[0].Message)
	}
	first := ""
	if len(e.Lines) > 0 {
		first = fmt.Sprintf(" (first: line %d: %s)", e.Lines[0].Line, e.Lines[0].Message)
	}
	return fmt.Sprintf("parse failed with %d errors%s", len(e.Lines), first)
}

// Options controls header normalization and schema checks
type Options struct {
	// StripPrefixes lets callers use table-prefixed column names
	// (user_accounts_tel) interchangeably with short ones (tel)
	StripPrefixes []string

	// RequiredColumns must all appear in the header row
	RequiredColumns []string
}

// Parse dispatches on the file extension. Only CSV and XLSX are supported.
func Parse(r io.Reader, filename string, opts Options) ([]Row, error) {
	name := strings.ToLower(filename)
	switch {
	case strings.HasSuffix(name, ".csv"):
		return ParseCSV(r, opts)
	case strings.HasSuffix(name, ".xlsx"):
		return ParseXLSX(r, opts)
	}
	return nil, fmt.Errorf("only CSV and XLSX files are supported")
}

// ParseCSV reads CSV content into normalized rows. Parsing is all-or-nothing:
// any malformed line fails the whole file, and every malformed line is
// reported.
func ParseCSV(r io.Reader, opts Options) ([]Row, error) {
	reader := csv.NewReader(r)

	headers, err := reader.Read()
	if err == io.EOF {
		return nil, &ParseError{Lines: []LineError{{Line: 1, Message: "file contains no header row"}}}
	}
	if err != nil {
		return nil, &ParseError{Lines: []LineError{{Line: 1, Message: fmt.Sprintf("failed to read header: %v", err)}}}
	}

	headers = normalizeHeaders(headers, opts.StripPrefixes)
	if missing := missingColumns(headers, opts.RequiredColumns); len(missing) > 0 {
		lines := make([]LineError, 0, len(missing))
		for _, col := range missing {
			lines = append(lines, LineError{Line: 1, Message: fmt.Sprintf("required column '%s' is missing", col)})
		}
		return nil, &ParseError{Lines: lines}
	}

	var rows []Row
	var badLines []LineError
	lastLine := 1

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			// Quoted fields may span physical lines, so the reader's own
			// position is authoritative.
			badLines = append(badLines, LineError{Line: csvErrorLine(err, lastLine+1), Message: csvErrorMessage(err)})
			continue
		}
		lastLine, _ = reader.FieldPos(0)

		if isBlank(record) {
			continue
		}

		row := make(Row, len(headers)+1)
		for i, value := range record {
			if i < len(headers) {
				row[headers[i]] = strings.TrimSpace(value)
			}
		}
		row[RowNumberKey] = strconv.Itoa(lastLine)
		rows = append(rows, row)
	}

	if len(badLines) > 0 {
		return nil, &ParseError{Lines: badLines}
	}
	return rows, nil
}

// ParseXLSX reads the first sheet of an Excel workbook into normalized rows
func ParseXLSX(r io.Reader, opts Options) ([]Row, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to open Excel file: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("no sheets found in Excel file")
	}

	excelRows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet: %w", err)
	}
	if len(excelRows) == 0 {
		return nil, &ParseError{Lines: []LineError{{Line: 1, Message: "file contains no header row"}}}
	}

	headers := normalizeHeaders(excelRows[0], opts.StripPrefixes)
	if missing := missingColumns(headers, opts.RequiredColumns); len(missing) > 0 {
		lines := make([]LineError, 0, len(missing))
		for _, col := range missing {
			lines = append(lines, LineError{Line: 1, Message: fmt.Sprintf("required column '%s' is missing", col)})
		}
		return nil, &ParseError{Lines: lines}
	}

	var rows []Row
	for rowIdx, excelRow := range excelRows[1:] {
		if isBlank(excelRow) {
			continue
		}
		row := make(Row, len(headers)+1)
		for i, value := range excelRow {
			if i < len(headers) {
				row[headers[i]] = strings.TrimSpace(value)
			}
		}
		row[RowNumberKey] = strconv.Itoa(rowIdx + 2)
		rows = append(rows, row)
	}

	return rows, nil
}

func normalizeHeaders(headers []string, stripPrefixes []string) []string {
	normalized := make([]string, len(headers))
	for i, h := range headers {
		h = strings.TrimSpace(strings.ToLower(h))
		h = strings.TrimSuffix(h, " *")
		for _, prefix := range stripPrefixes {
			if strings.HasPrefix(h, prefix) && len(h) > len(prefix) {
				h = h[len(prefix):]
				break
			}
		}
		normalized[i] = h
	}
	return normalized
}

func missingColumns(headers, required []string) []string {
	present := make(map[string]bool, len(headers))
	for _, h := range headers {
		present[h] = true
	}
	var missing []string
	for _, col := range required {
		if !present[col] {
			missing = append(missing, col)
		}
	}
	return missing
}

func isBlank(record []string) bool {
	for _, v := range record {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

func csvErrorMessage(err error) string {
	if pe, ok := err.(*csv.ParseError); ok {
		return pe.Err.Error()
	}
	return err.Error()
}

func csvErrorLine(err error, fallback int) int {
	if pe, ok := err.(*csv.ParseError); ok {
		return pe.Line
	}
	return fallback
}
