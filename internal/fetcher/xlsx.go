package fetcher

import (
	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
)

// XLSXOptions configures the XLSX reader.
type XLSXOptions struct {
	// SheetName selects a sheet by name; empty falls back to SheetIndex.
	SheetName  string
	SheetIndex int

	// SkipRows drops that many leading rows from the result, typically
	// the header band of a stats workbook.
	SkipRows int

	// HeaderCh receives the first row of the sheet when set, whether or
	// not it is skipped.
	HeaderCh chan<- []string
}

// ReadXLSX loads one sheet of a feed workbook and returns its rows as
// strings.
func ReadXLSX(path string, opts XLSXOptions) ([][]string, error) {
	wb, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "xlsx: open %s", path)
	}

	sheet, err := pickSheet(wb, opts)
	if err != nil {
		return nil, err
	}

	if len(sheet.Rows) > 0 && opts.HeaderCh != nil {
		opts.HeaderCh <- cellStrings(sheet.Rows[0])
	}

	skip := opts.SkipRows
	if skip < 0 {
		skip = 0
	}
	if skip >= len(sheet.Rows) {
		return nil, nil
	}

	rows := make([][]string, 0, len(sheet.Rows)-skip)
	for _, row := range sheet.Rows[skip:] {
		rows = append(rows, cellStrings(row))
	}
	return rows, nil
}

func pickSheet(wb *xlsx.File, opts XLSXOptions) (*xlsx.Sheet, error) {
	if opts.SheetName != "" {
		sheet, ok := wb.Sheet[opts.SheetName]
		if !ok {
			return nil, eris.Errorf("xlsx: no sheet named %q", opts.SheetName)
		}
		return sheet, nil
	}
	if opts.SheetIndex < 0 || opts.SheetIndex >= len(wb.Sheets) {
		return nil, eris.Errorf("xlsx: sheet index %d out of range, workbook has %d sheets",
			opts.SheetIndex, len(wb.Sheets))
	}
	return wb.Sheets[opts.SheetIndex], nil
}

func cellStrings(row *xlsx.Row) []string {
	out := make([]string, len(row.Cells))
	for i, cell := range row.Cells {
		out[i] = cell.String()
	}
	return out
}
