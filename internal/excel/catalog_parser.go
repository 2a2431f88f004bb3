package excel

import (
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"possync/internal/domain"

	"github.com/xuri/excelize/v2"
)

var headerAliases = map[string]string{
	"product_name": "product_name",
	"product name": "product_name",
	"product":      "product_name",
	"name":         "product_name",
	"category":     "category",
	"variant":      "variant_name",
	"variant name": "variant_name",
	"barcode":      "barcode",
	"sku":          "barcode",
	"ean":          "barcode",
	"price":        "price",
	"sell price":   "price",
	"mrp":          "price",
	"cost":         "cost_price",
	"cost price":   "cost_price",
	"buy price":    "cost_price",
	"stock":        "stock",
	"qty":          "stock",
	"quantity":     "stock",
}

// ParseCatalogRows reads a product catalog workbook. The first sheet's
// header row is matched against known column aliases; rows missing a
// product name or barcode are skipped by the importer, not here.
func ParseCatalogRows(reader io.Reader) ([]domain.CatalogRow, error) {
	file, err := excelize.OpenReader(reader)
	if err != nil {
		return nil, fmt.Errorf("open excel file: %w", err)
	}
	defer file.Close()

	sheets := file.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("excel file has no sheets")
	}

	rows, err := file.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read sheet rows: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("excel file is empty")
	}

	colMap := mapColumns(rows[0])
	for _, required := range []string{"product_name", "barcode", "price"} {
		if _, ok := colMap[required]; !ok {
			return nil, fmt.Errorf("missing required column: %s", required)
		}
	}

	result := make([]domain.CatalogRow, 0, len(rows)-1)
	for index := 1; index < len(rows); index++ {
		cells := rows[index]
		name := strings.TrimSpace(readCell(cells, colMap["product_name"]))
		if name == "" {
			continue
		}

		barcode := strings.TrimSpace(readCell(cells, colMap["barcode"]))
		if barcode == "" {
			continue
		}

		price, err := parseFloat(readCell(cells, colMap["price"]))
		if err != nil {
			return nil, fmt.Errorf("row %d invalid price: %w", index+1, err)
		}

		costPrice := 0.0
		if idx, ok := colMap["cost_price"]; ok {
			raw := strings.TrimSpace(readCell(cells, idx))
			if raw != "" {
				parsed, err := parseFloat(raw)
				if err != nil {
					return nil, fmt.Errorf("row %d invalid cost_price: %w", index+1, err)
				}
				costPrice = parsed
			}
		}

		stock := 0
		if idx, ok := colMap["stock"]; ok {
			raw := strings.TrimSpace(readCell(cells, idx))
			if raw != "" {
				parsed, err := parseInt(raw)
				if err != nil {
					return nil, fmt.Errorf("row %d invalid stock: %w", index+1, err)
				}
				stock = parsed
			}
		}

		category := ""
		if idx, ok := colMap["category"]; ok {
			category = strings.TrimSpace(readCell(cells, idx))
		}
		variantName := ""
		if idx, ok := colMap["variant_name"]; ok {
			variantName = strings.TrimSpace(readCell(cells, idx))
		}

		result = append(result, domain.CatalogRow{
			ProductName: name,
			Category:    category,
			VariantName: variantName,
			Barcode:     barcode,
			Price:       price,
			CostPrice:   costPrice,
			Stock:       stock,
		})
	}

	if len(result) == 0 {
		return nil, fmt.Errorf("excel file has no valid data rows")
	}
	return result, nil
}

func mapColumns(header []string) map[string]int {
	mapped := make(map[string]int)
	for idx, col := range header {
		normalized := normalizeHeader(col)
		if normalized == "" {
			continue
		}
		canonical, ok := headerAliases[normalized]
		if !ok {
			continue
		}
		if _, exists := mapped[canonical]; !exists {
			mapped[canonical] = idx
		}
	}
	return mapped
}

func normalizeHeader(raw string) string {
	value := strings.TrimSpace(raw)
	value = strings.TrimPrefix(value, "\uFEFF")
	value = strings.ToLower(value)
	value = strings.ReplaceAll(value, "_", " ")
	value = strings.Join(strings.Fields(value), " ")
	return value
}

func readCell(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return row[idx]
}

func parseInt(raw string) (int, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return 0, fmt.Errorf("value is empty")
	}

	asFloat, err := strconv.ParseFloat(strings.ReplaceAll(value, ",", ""), 64)
	if err != nil {
		return 0, fmt.Errorf("not a number")
	}
	if math.Mod(asFloat, 1) != 0 {
		return 0, fmt.Errorf("must be an integer")
	}
	return int(asFloat), nil
}

func parseFloat(raw string) (float64, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return 0, fmt.Errorf("value is empty")
	}
	parsed, err := strconv.ParseFloat(strings.ReplaceAll(value, ",", ""), 64)
	if err != nil {
		return 0, fmt.Errorf("not a number")
	}
	return parsed, nil
}
