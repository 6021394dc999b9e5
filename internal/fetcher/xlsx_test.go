package fetcher

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"
)

// makeWorkbook writes an xlsx file with the given sheets.
func makeWorkbook(t *testing.T, sheets map[string][][]string) string {
	t.Helper()

	wb := xlsx.NewFile()
	for name, rows := range sheets {
		sheet, err := wb.AddSheet(name)
		require.NoError(t, err)
		for _, cells := range rows {
			row := sheet.AddRow()
			for _, value := range cells {
				row.AddCell().SetString(value)
			}
		}
	}

	path := filepath.Join(t.TempDir(), "stats.xlsx")
	require.NoError(t, wb.Save(path))
	return path
}

var statsSheet = [][]string{
	{"Team", "Played", "GoalsFor", "GoalsAgainst"},
	{"Arsenal", "27", "58", "22"},
	{"Chelsea", "27", "49", "31"},
}

func TestReadXLSX_AllRows(t *testing.T) {
	path := makeWorkbook(t, map[string][][]string{"Stats": statsSheet})

	rows, err := ReadXLSX(path, XLSXOptions{})
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"Team", "Played", "GoalsFor", "GoalsAgainst"}, rows[0])
	assert.Equal(t, []string{"Chelsea", "27", "49", "31"}, rows[2])
}

func TestReadXLSX_SkipHeaderBand(t *testing.T) {
	path := makeWorkbook(t, map[string][][]string{"Stats": statsSheet})

	headerCh := make(chan []string, 1)
	rows, err := ReadXLSX(path, XLSXOptions{SkipRows: 1, HeaderCh: headerCh})
	require.NoError(t, err)

	assert.Equal(t, []string{"Team", "Played", "GoalsFor", "GoalsAgainst"}, <-headerCh)
	require.Len(t, rows, 2)
	assert.Equal(t, "Arsenal", rows[0][0])
}

func TestReadXLSX_SheetByName(t *testing.T) {
	path := makeWorkbook(t, map[string][][]string{
		"Fixtures": {{"m-1", "Arsenal", "Chelsea"}},
		"Stats":    statsSheet,
	})

	rows, err := ReadXLSX(path, XLSXOptions{SheetName: "Fixtures"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "m-1", rows[0][0])
}

func TestReadXLSX_UnknownSheetName(t *testing.T) {
	path := makeWorkbook(t, map[string][][]string{"Stats": statsSheet})

	_, err := ReadXLSX(path, XLSXOptions{SheetName: "Odds"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `no sheet named "Odds"`)
}

func TestReadXLSX_SheetIndexOutOfRange(t *testing.T) {
	path := makeWorkbook(t, map[string][][]string{"Stats": statsSheet})

	_, err := ReadXLSX(path, XLSXOptions{SheetIndex: 3})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "out of range")
}

func TestReadXLSX_SkipBeyondRows(t *testing.T) {
	path := makeWorkbook(t, map[string][][]string{"Stats": statsSheet})

	rows, err := ReadXLSX(path, XLSXOptions{SkipRows: 10})
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestReadXLSX_MissingFile(t *testing.T) {
	_, err := ReadXLSX(filepath.Join(t.TempDir(), "absent.xlsx"), XLSXOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "xlsx: open")
}
