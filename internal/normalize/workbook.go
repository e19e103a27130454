package normalize

import (
	"bytes"
	"fmt"

	"github.com/extrame/xls"
	"github.com/xuri/excelize/v2"

	"opto-import/internal/logging"
)

// openWorkbook converts a spreadsheet to canonical delimited text and
// returns a row stream over it. The primary engine handles .xlsx archives;
// a workbook it rejects is retried with the legacy binary-format engine
// before the conversion fails.
func openWorkbook(path string, opts Options) (RowReader, error) {
	rows, err := readWorkbook(path, opts.Sheet)
	if err != nil {
		logging.Logf(logging.Debug, "Primary workbook engine failed for %s, retrying legacy engine: %v", path, err)
		legacyRows, legacyErr := readLegacyWorkbook(path)
		if legacyErr != nil {
			return nil, &WorkbookError{Path: path, Err: err}
		}
		rows = legacyRows
	}

	var buf bytes.Buffer
	if err := WriteDelimited(&buf, rows, opts.Delimiter); err != nil {
		return nil, &WorkbookError{Path: path, Err: err}
	}
	return NewReader(&buf, opts.Delimiter), nil
}

func readWorkbook(path, sheet string) ([][]string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if sheet == "" {
		sheet = f.GetSheetName(0)
	}
	iter, err := f.Rows(sheet)
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var rows [][]string
	for iter.Next() {
		cells, err := iter.Columns()
		if err != nil {
			return nil, err
		}
		for i, cell := range cells {
			cells[i] = renderCell(cell)
		}
		rows = append(rows, cells)
	}
	return rows, iter.Error()
}

func readLegacyWorkbook(path string) ([][]string, error) {
	wb, err := xls.Open(path, "utf-8")
	if err != nil {
		return nil, err
	}
	sheet := wb.GetSheet(0)
	if sheet == nil {
		return nil, fmt.Errorf("workbook has no sheets")
	}

	var rows [][]string
	for i := 0; i <= int(sheet.MaxRow); i++ {
		row := sheet.Row(i)
		if row == nil {
			rows = append(rows, nil)
			continue
		}
		cells := make([]string, 0, row.LastCol()+1)
		for j := row.FirstCol(); j <= row.LastCol(); j++ {
			cells = append(cells, renderCell(row.Col(j)))
		}
		rows = append(rows, cells)
	}
	return rows, nil
}
