package localstore

import (
	"context"
	"fmt"

	"possync/internal/domain"

	"github.com/google/uuid"
)

type CatalogImportResult struct {
	BatchID  string `json:"batch_id"`
	Imported int    `json:"imported"`
	Skipped  int    `json:"skipped"`
}

// ImportCatalog upserts parsed catalog rows into the local store under
// a fresh import batch id, so a bad import can be corrected as a unit.
// Rows without a barcode are skipped and counted.
func (s *Store) ImportCatalog(ctx context.Context, rows []domain.CatalogRow) (CatalogImportResult, error) {
	if len(rows) == 0 {
		return CatalogImportResult{}, fmt.Errorf("catalog file has no data rows")
	}

	batchID := uuid.NewString()
	result := CatalogImportResult{BatchID: batchID}
	for _, row := range rows {
		if row.Barcode == "" || row.ProductName == "" {
			result.Skipped++
			continue
		}
		variantName := row.VariantName
		if variantName == "" {
			variantName = "Standard"
		}
		_, err := s.UpsertProduct(ctx, ProductInput{
			Name:     row.ProductName,
			Category: row.Category,
			Origin:   domain.OriginImported,
			BatchID:  &batchID,
			Variants: []VariantInput{{
				Name:      variantName,
				Barcode:   row.Barcode,
				Price:     row.Price,
				CostPrice: row.CostPrice,
				Stock:     row.Stock,
			}},
		})
		if err != nil {
			return result, fmt.Errorf("import row %s: %w", row.Barcode, err)
		}
		result.Imported++
	}
	return result, nil
}
