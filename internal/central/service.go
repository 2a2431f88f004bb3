package central

import (
	"context"
	"crypto/subtle"
	"fmt"
	"math"
	"strings"

	"possync/internal/domain"

	"go.uber.org/zap"
)

type Service struct {
	store             Store
	log               *zap.Logger
	maintenanceSecret string
}

func NewService(store Store, maintenanceSecret string, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{store: store, log: log, maintenanceSecret: maintenanceSecret}
}

// IngestUsers upserts a batch of users by username. All-or-nothing:
// one invalid record rejects the whole batch.
func (s *Service) IngestUsers(ctx context.Context, users []domain.User) (int, error) {
	for i, user := range users {
		if strings.TrimSpace(user.Username) == "" {
			return 0, &ValidationError{Err: ErrMissingName, Detail: fmt.Sprintf("users[%d]", i)}
		}
	}
	err := s.store.WithTx(ctx, func(tx Tx) error {
		for _, user := range users {
			if err := tx.UpsertUser(ctx, user); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(users), nil
}

// IngestInventory upserts products (with embedded category and
// variants) by product name; variants key on barcode.
func (s *Service) IngestInventory(ctx context.Context, products []domain.Product) (int, error) {
	for i, product := range products {
		if strings.TrimSpace(product.Name) == "" {
			return 0, &ValidationError{Err: ErrMissingName, Detail: fmt.Sprintf("products[%d]", i)}
		}
		for j, variant := range product.Variants {
			if strings.TrimSpace(variant.Barcode) == "" {
				return 0, &ValidationError{
					Err:    ErrMissingBarcode,
					Detail: fmt.Sprintf("products[%d].variants[%d] (%s)", i, j, product.Name),
				}
			}
			if variant.Price < 0 || variant.CostPrice < 0 {
				return 0, &ValidationError{
					Err:    ErrNegativeAmount,
					Detail: fmt.Sprintf("products[%d].variants[%d] (%s)", i, j, variant.Barcode),
				}
			}
		}
	}

	err := s.store.WithTx(ctx, func(tx Tx) error {
		for _, product := range products {
			var categoryID *int64
			if product.Category != nil && strings.TrimSpace(product.Category.Name) != "" {
				id, err := tx.UpsertCategory(ctx, product.Category.Name)
				if err != nil {
					return err
				}
				categoryID = &id
			}
			productID, err := tx.UpsertProduct(ctx, product, categoryID)
			if err != nil {
				return err
			}
			for _, variant := range product.Variants {
				if err := tx.UpsertVariant(ctx, productID, variant); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(products), nil
}

// SalesIngestResult reports a stored sales batch, including how many
// placeholders had to be synthesized for unresolved references.
type SalesIngestResult struct {
	Stored              int `json:"stored"`
	PlaceholderUsers    int `json:"placeholder_users"`
	PlaceholderProducts int `json:"placeholder_products"`
}

// IngestSales validates and stores a batch of sales atomically.
// Unknown usernames and variant barcodes do not fail the batch: the
// missing reference is satisfied by a placeholder synthesized inside
// the same transaction. Sales upsert by bill_no, replacing items and
// payments, so redelivering a batch is idempotent.
func (s *Service) IngestSales(ctx context.Context, sales []domain.Sale) (SalesIngestResult, error) {
	for i, sale := range sales {
		if err := validateSale(i, sale); err != nil {
			return SalesIngestResult{}, err
		}
	}

	var result SalesIngestResult
	err := s.store.WithTx(ctx, func(tx Tx) error {
		for _, sale := range sales {
			userID, found, err := tx.UserIDByUsername(ctx, sale.Username)
			if err != nil {
				return err
			}
			if !found {
				userID, err = tx.InsertPlaceholderUser(ctx, sale.Username)
				if err != nil {
					return err
				}
				result.PlaceholderUsers++
				s.log.Info("synthesized placeholder user", zap.String("username", sale.Username))
			}

			items := make([]ResolvedItem, 0, len(sale.Items))
			for _, item := range sale.Items {
				resolved := ResolvedItem{
					Barcode:     item.Barcode,
					ProductName: item.ProductName,
					Quantity:    item.Quantity,
					UnitPrice:   item.UnitPrice,
					LineTotal:   item.LineTotal,
				}
				variantID, found, err := tx.VariantIDByBarcode(ctx, item.Barcode)
				if err != nil {
					return err
				}
				if found {
					resolved.VariantID = &variantID
				} else {
					name := item.ProductName
					if name == "" {
						name = "Unknown product " + item.Barcode
					}
					_, created, err := tx.EnsurePlaceholderProduct(ctx, name)
					if err != nil {
						return err
					}
					if created {
						result.PlaceholderProducts++
						s.log.Info("synthesized placeholder product",
							zap.String("name", name),
							zap.String("barcode", item.Barcode),
						)
					}
				}
				items = append(items, resolved)
			}

			saleID, err := tx.UpsertSale(ctx, sale, userID)
			if err != nil {
				return err
			}
			if err := tx.ReplaceSaleItems(ctx, saleID, items); err != nil {
				return err
			}
			if err := tx.ReplaceSalePayments(ctx, saleID, sale.Payments); err != nil {
				return err
			}
			result.Stored++
		}
		return nil
	})
	if err != nil {
		return SalesIngestResult{}, err
	}
	return result, nil
}

func validateSale(index int, sale domain.Sale) error {
	at := func(detail string) string {
		return fmt.Sprintf("sales[%d] (%s)%s", index, sale.BillNo, detail)
	}
	if strings.TrimSpace(sale.BillNo) == "" {
		return &ValidationError{Err: ErrMissingBillNo, Detail: fmt.Sprintf("sales[%d]", index)}
	}
	if strings.TrimSpace(sale.Username) == "" {
		return &ValidationError{Err: ErrMissingUser, Detail: at("")}
	}
	if math.Abs(sale.Subtotal+sale.Tax-sale.Discount-sale.GrandTotal) >= 0.005 {
		return &ValidationError{Err: ErrTotalsMismatch, Detail: at("")}
	}
	for j, item := range sale.Items {
		if strings.TrimSpace(item.Barcode) == "" || item.Quantity <= 0 || item.UnitPrice < 0 {
			return &ValidationError{Err: ErrBadLineItem, Detail: at(fmt.Sprintf(" item %d", j))}
		}
	}
	for j, payment := range sale.Payments {
		if payment.Amount < 0 {
			return &ValidationError{Err: ErrNegativeAmount, Detail: at(fmt.Sprintf(" payment %d", j))}
		}
	}
	return nil
}

// CleanupPlaceholders deletes placeholder products that were never
// populated with variants and reports the populated ones for manual
// merge. Safe to run repeatedly.
func (s *Service) CleanupPlaceholders(ctx context.Context) (CleanupResult, error) {
	placeholders, err := s.store.PlaceholderProducts(ctx)
	if err != nil {
		return CleanupResult{}, err
	}

	result := CleanupResult{NeedsMerge: []string{}}
	for _, p := range placeholders {
		if p.VariantCount == 0 {
			if err := s.store.DeleteProduct(ctx, p.ID); err != nil {
				return result, fmt.Errorf("delete placeholder %d (%s): %w", p.ID, p.Name, err)
			}
			result.Deleted++
			continue
		}
		result.NeedsMerge = append(result.NeedsMerge, p.Name)
	}
	s.log.Info("placeholder cleanup finished",
		zap.Int("deleted", result.Deleted),
		zap.Int("needs_merge", len(result.NeedsMerge)),
	)
	return result, nil
}

// HideCorrupt soft-deletes products (and their variants) matched by
// the filter. Historical sales keep referencing them, so nothing is
// physically removed.
func (s *Service) HideCorrupt(ctx context.Context, filter CorrectionFilter) (CorrectionResult, error) {
	if filter.Empty() {
		return CorrectionResult{}, &ValidationError{Err: ErrEmptyPredicate}
	}
	return s.store.SetActiveByFilter(ctx, filter, false)
}

// RestoreCorrupt re-applies the filter and reactivates the matches.
// Restoring an already-active record is a no-op.
func (s *Service) RestoreCorrupt(ctx context.Context, filter CorrectionFilter) (CorrectionResult, error) {
	if filter.Empty() {
		return CorrectionResult{}, &ValidationError{Err: ErrEmptyPredicate}
	}
	return s.store.SetActiveByFilter(ctx, filter, true)
}

type ResetReport struct {
	Before TableCounts `json:"before"`
	After  TableCounts `json:"after"`
}

// MaintenanceReset wipes transactional and master data in strict
// child-before-parent order, preserving users. Each table deletion
// commits on its own: a mid-sequence failure leaves a partially wiped
// store and is reported as such, never rolled back or retried here.
func (s *Service) MaintenanceReset(ctx context.Context, secret string, confirm bool) (ResetReport, error) {
	if subtle.ConstantTimeCompare([]byte(secret), []byte(s.maintenanceSecret)) != 1 {
		return ResetReport{}, ErrUnauthorized
	}
	if !confirm {
		return ResetReport{}, ErrConfirmationRequired
	}

	before, err := s.store.TableCounts(ctx)
	if err != nil {
		return ResetReport{}, err
	}

	for _, table := range resetOrder {
		deleted, err := s.store.DeleteAllFrom(ctx, table)
		if err != nil {
			after, countErr := s.store.TableCounts(ctx)
			if countErr != nil {
				after = nil
			}
			s.log.Error("maintenance reset aborted mid-sequence",
				zap.String("table", table),
				zap.Error(err),
			)
			return ResetReport{Before: before, After: after},
				fmt.Errorf("reset stopped at %s (store partially wiped, inspect counts): %w", table, err)
		}
		s.log.Warn("maintenance reset wiped table",
			zap.String("table", table),
			zap.Int64("rows", deleted),
		)
	}

	after, err := s.store.TableCounts(ctx)
	if err != nil {
		return ResetReport{Before: before}, err
	}
	return ResetReport{Before: before, After: after}, nil
}
