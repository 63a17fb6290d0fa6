package tabularfile

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/new-bakery/nga/pkg/apperrors"
)

// Inferred column types.
const (
	TypeInt64   = "Int64"
	TypeFloat64 = "Float64"
	TypeBoolean = "boolean"
	TypeString  = "string"
)

// frame is one parsed sheet: a header row and typed cells. Empty cells are nil.
type frame struct {
	columns []string
	types   []string
	rows    [][]any
}

func (f *frame) empty() bool {
	return len(f.rows) == 0
}

// sheet is a named frame; CSV files have a single unnamed sheet.
type sheet struct {
	name  string
	frame *frame
}

// parseCSV reads a CSV file whose first record is the header.
func parseCSV(data []byte) (*frame, error) {
	r := csv.NewReader(bytes.NewReader(bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))))
	r.FieldsPerRecord = -1

	var records [][]string
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: parse csv: %v", apperrors.ErrData, err)
		}
		records = append(records, rec)
	}
	return newFrame(records), nil
}

// parseXLSX reads every sheet of a workbook. Each sheet's header is its
// first row, starting at cell A1.
func parseXLSX(data []byte) ([]sheet, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: open workbook: %v", apperrors.ErrData, err)
	}
	defer f.Close()

	var sheets []sheet
	for _, name := range f.GetSheetList() {
		records, err := f.GetRows(name)
		if err != nil {
			return nil, fmt.Errorf("%w: read sheet %s: %v", apperrors.ErrData, name, err)
		}
		sheets = append(sheets, sheet{name: name, frame: newFrame(records)})
	}
	return sheets, nil
}

func newFrame(records [][]string) *frame {
	if len(records) == 0 {
		return &frame{}
	}

	body := trimBlankRows(records[1:])
	width := len(records[0])
	for _, rec := range body {
		width = max(width, len(rec))
	}
	header := make([]string, width)
	copy(header, records[0])
	columns := headerNames(header)

	f := &frame{
		columns: columns,
		types:   make([]string, len(columns)),
		rows:    make([][]any, len(body)),
	}
	for i := range f.rows {
		f.rows[i] = make([]any, len(columns))
	}
	for c := range columns {
		cells := make([]string, len(body))
		for r, rec := range body {
			if c < len(rec) {
				cells[r] = rec[c]
			}
		}
		typ, values := inferColumn(cells)
		f.types[c] = typ
		for r := range body {
			f.rows[r][c] = values[r]
		}
	}
	return f
}

// headerNames fills blank headers with "Unnamed: i" and suffixes repeated
// headers with ".n".
func headerNames(header []string) []string {
	names := make([]string, len(header))
	seen := make(map[string]int)
	for i, h := range header {
		h = strings.TrimSpace(h)
		if h == "" {
			h = "Unnamed: " + strconv.Itoa(i)
		}
		if n := seen[h]; n > 0 {
			seen[h] = n + 1
			h = h + "." + strconv.Itoa(n)
		} else {
			seen[h] = 1
		}
		names[i] = h
	}
	return names
}

func trimBlankRows(rows [][]string) [][]string {
	end := len(rows)
	for end > 0 && blank(rows[end-1]) {
		end--
	}
	return rows[:end]
}

func blank(rec []string) bool {
	for _, v := range rec {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// inferColumn picks the narrowest type every non-empty cell parses as:
// Int64, then Float64, then boolean, else string.
func inferColumn(cells []string) (string, []any) {
	values := make([]any, len(cells))

	if ints, ok := parseAll(cells, func(s string) (any, bool) {
		n, err := strconv.ParseInt(s, 10, 64)
		return n, err == nil
	}); ok {
		return TypeInt64, ints
	}
	if floats, ok := parseAll(cells, func(s string) (any, bool) {
		f, err := strconv.ParseFloat(s, 64)
		return f, err == nil
	}); ok {
		return TypeFloat64, floats
	}
	if bools, ok := parseAll(cells, func(s string) (any, bool) {
		switch strings.ToLower(s) {
		case "true":
			return true, true
		case "false":
			return false, true
		}
		return nil, false
	}); ok {
		return TypeBoolean, bools
	}

	for i, c := range cells {
		if strings.TrimSpace(c) != "" {
			values[i] = c
		}
	}
	return TypeString, values
}

// parseAll requires at least one non-empty cell.
func parseAll(cells []string, parse func(string) (any, bool)) ([]any, bool) {
	values := make([]any, len(cells))
	seen := false
	for i, c := range cells {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		v, ok := parse(c)
		if !ok {
			return nil, false
		}
		values[i] = v
		seen = true
	}
	return values, seen
}
