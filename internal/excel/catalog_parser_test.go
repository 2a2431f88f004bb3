package excel

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"possync/internal/domain"
)

func buildWorkbook(t *testing.T, rows [][]any) *bytes.Buffer {
	t.Helper()
	file := excelize.NewFile()
	defer file.Close()

	sheet := file.GetSheetName(0)
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, file.SetSheetRow(sheet, cell, &row))
	}
	buf, err := file.WriteToBuffer()
	require.NoError(t, err)
	return buf
}

func TestParseCatalogRows(t *testing.T) {
	buf := buildWorkbook(t, [][]any{
		{"Product Name", "Category", "Variant", "Barcode", "Price", "Cost Price", "Stock"},
		{"Espresso Beans 1kg", "Coffee", "Standard", "4001", 50, 30, 10},
		{"Decaf Beans 1kg", "Coffee", "", "4003", "45.5", "", ""},
		{"", "Coffee", "", "9999", 1, 0, 0},
	})

	rows, err := ParseCatalogRows(buf)
	require.NoError(t, err)
	require.Len(t, rows, 2, "rows without a product name are dropped")

	assert.Equal(t, domain.CatalogRow{
		ProductName: "Espresso Beans 1kg",
		Category:    "Coffee",
		VariantName: "Standard",
		Barcode:     "4001",
		Price:       50,
		CostPrice:   30,
		Stock:       10,
	}, rows[0])
	assert.Equal(t, 45.5, rows[1].Price)
	assert.Zero(t, rows[1].Stock)
}

func TestParseCatalogRows_HeaderAliases(t *testing.T) {
	buf := buildWorkbook(t, [][]any{
		{"name", "SKU", "sell price", "qty"},
		{"Filter Papers", "4002", "3", "100"},
	})

	rows, err := ParseCatalogRows(buf)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "Filter Papers", rows[0].ProductName)
	assert.Equal(t, "4002", rows[0].Barcode)
	assert.Equal(t, 3.0, rows[0].Price)
	assert.Equal(t, 100, rows[0].Stock)
}

func TestParseCatalogRows_MissingRequiredColumn(t *testing.T) {
	buf := buildWorkbook(t, [][]any{
		{"Product Name", "Category"},
		{"Espresso Beans 1kg", "Coffee"},
	})

	_, err := ParseCatalogRows(buf)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "barcode")
}

func TestParseCatalogRows_InvalidPrice(t *testing.T) {
	buf := buildWorkbook(t, [][]any{
		{"Product Name", "Barcode", "Price"},
		{"Espresso Beans 1kg", "4001", "fifty"},
	})

	_, err := ParseCatalogRows(buf)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid price")
}

func TestParseCatalogRows_NoDataRows(t *testing.T) {
	buf := buildWorkbook(t, [][]any{
		{"Product Name", "Barcode", "Price"},
	})

	_, err := ParseCatalogRows(buf)
	assert.Error(t, err)
}

func TestParseCatalogRows_NotAnExcelFile(t *testing.T) {
	_, err := ParseCatalogRows(bytes.NewBufferString("not a workbook"))
	assert.Error(t, err)
}
