package report

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
)

// CategoryUnknown is the code given to categorical values outside the known
// mapping, so a stray value never turns into a missing cell.
const CategoryUnknown = 0

var droppedColumns = map[string]bool{
	"salary":          true,
	"salary_currency": true,
}

var categoryCodes = map[string]map[string]float64{
	"experience_level": {"SE": 1, "MI": 2, "EN": 3, "EX": 4},
	"employment_type":  {"FT": 1, "CT": 2, "FL": 3, "PT": 4},
	"company_size":     {"S": 1, "M": 2, "L": 3},
}

// Encode maps a categorical value to its integer code. ok is false when the
// column is not categorical.
func Encode(column, value string) (code float64, ok bool) {
	mapping, ok := categoryCodes[column]
	if !ok {
		return 0, false
	}
	if c, found := mapping[strings.TrimSpace(value)]; found {
		return c, true
	}
	return CategoryUnknown, true
}

// Frame is a column-oriented table. Numeric holds the columns whose every
// cell parsed as a number (after categorical encoding), in header order.
type Frame struct {
	Columns []string
	Numeric []string
	values  map[string][]float64
	rows    int
}

func (f *Frame) Len() int { return f.rows }

func (f *Frame) Column(name string) ([]float64, error) {
	col, ok := f.values[name]
	if !ok {
		return nil, fmt.Errorf("column %q is missing or not numeric", name)
	}
	return col, nil
}

// LoadDataset reads a .csv or .xlsx file with a header row.
func LoadDataset(path string) (*Frame, error) {
	var (
		records [][]string
		err     error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xlsm":
		records, err = readExcel(path)
	default:
		records, err = readCSV(path)
	}
	if err != nil {
		return nil, err
	}
	return buildFrame(records)
}

func readCSV(path string) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open dataset: %w", err)
	}
	defer f.Close()
	return parseCSV(f)
}

func parseCSV(r io.Reader) ([][]string, error) {
	reader := csv.NewReader(r)
	reader.Comma = ','
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}
	return records, nil
}

func readExcel(path string) ([][]string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, errors.New("workbook has no sheets")
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read sheet %s: %w", sheets[0], err)
	}
	return rows, nil
}

func buildFrame(records [][]string) (*Frame, error) {
	if len(records) < 2 {
		return nil, errors.New("dataset has no data rows")
	}

	header := records[0]
	for i, name := range header {
		name = strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))
		if name == "" {
			name = fmt.Sprintf("Unnamed: %d", i)
		}
		header[i] = name
	}

	data := records[1:]
	f := &Frame{values: make(map[string][]float64), rows: len(data)}

	for i, name := range header {
		if droppedColumns[name] {
			continue
		}
		f.Columns = append(f.Columns, name)

		col := make([]float64, len(data))
		numeric := true
		for r, row := range data {
			cell := ""
			if i < len(row) {
				cell = row[i]
			}
			if code, ok := Encode(name, cell); ok {
				col[r] = code
				continue
			}
			v, err := strconv.ParseFloat(strings.TrimSpace(cell), 64)
			if err != nil {
				numeric = false
				break
			}
			col[r] = v
		}
		if numeric {
			f.Numeric = append(f.Numeric, name)
			f.values[name] = col
		}
	}
	return f, nil
}
