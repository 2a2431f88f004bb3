// Package central absorbs records synced from terminals into the
// central store: idempotent natural-key upserts, placeholder synthesis
// for foreign keys that have not arrived yet, and the administrative
// cleanup/correction/reset tooling around them.
package central

import (
	"context"
	"errors"
	"fmt"
	"time"

	"possync/internal/domain"
)

var (
	ErrNotFound             = errors.New("not found")
	ErrUnauthorized         = errors.New("maintenance secret mismatch")
	ErrConfirmationRequired = errors.New("confirmation flag not set")
)

// ValidationError rejects a whole inbound batch, naming the offending
// record so the terminal operator can fix it.
type ValidationError struct {
	Err    error
	Detail string
}

func (e *ValidationError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s", e.Err.Error(), e.Detail)
	}
	return e.Err.Error()
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

var (
	ErrMissingBillNo  = errors.New("sale is missing bill_no")
	ErrMissingUser    = errors.New("sale is missing username")
	ErrTotalsMismatch = errors.New("subtotal + tax - discount does not equal grand_total")
	ErrBadLineItem    = errors.New("invalid sale line item")
	ErrMissingName    = errors.New("record is missing its name")
	ErrMissingBarcode = errors.New("variant is missing its barcode")
	ErrNegativeAmount = errors.New("amount cannot be negative")
	ErrEmptyPredicate = errors.New("correction filter matches nothing")
)

// ResolvedItem is a sale line after foreign-key resolution. VariantID
// is nil when the referenced variant is unknown centrally; the barcode
// and product name are retained for the eventual merge.
type ResolvedItem struct {
	VariantID   *int64
	Barcode     string
	ProductName string
	Quantity    int
	UnitPrice   float64
	LineTotal   float64
}

// CorrectionFilter selects products for the hide/restore tooling.
// Provenance (BatchID) is the precise selector; the field predicates
// cover corruption that predates provenance tagging.
type CorrectionFilter struct {
	MissingCategory bool       `json:"missing_category"`
	CreatedFrom     *time.Time `json:"created_from,omitempty"`
	CreatedTo       *time.Time `json:"created_to,omitempty"`
	SuspectPrice    *float64   `json:"suspect_price,omitempty"`
	BatchID         *string    `json:"batch_id,omitempty"`
}

func (f CorrectionFilter) Empty() bool {
	return !f.MissingCategory && f.CreatedFrom == nil && f.CreatedTo == nil &&
		f.SuspectPrice == nil && f.BatchID == nil
}

type CorrectionResult struct {
	Products int64 `json:"products"`
	Variants int64 `json:"variants"`
}

// PlaceholderProduct is a placeholder-marked product together with how
// many variants were attached under its identity since creation.
type PlaceholderProduct struct {
	ID           int64  `json:"id"`
	Name         string `json:"name"`
	VariantCount int    `json:"variant_count"`
}

type CleanupResult struct {
	Deleted    int      `json:"deleted"`
	NeedsMerge []string `json:"needs_merge"`
}

// TableCounts is the row-count snapshot reported around a reset.
type TableCounts map[string]int64

// resetOrder is the strict child-before-parent deletion sequence of
// the maintenance reset. Users are deliberately absent: they survive.
var resetOrder = []string{
	"sale_items",
	"invoice_payments",
	"sales",
	"inventory_movements",
	"audit_logs",
	"product_variants",
	"products",
	"categories",
	"customers",
	"settings",
}

// Tx is the transactional surface a batch ingest runs against. Every
// upsert keys on the natural identifier, so redelivery of the same
// batch cannot duplicate rows.
type Tx interface {
	UserIDByUsername(ctx context.Context, username string) (int64, bool, error)
	InsertPlaceholderUser(ctx context.Context, username string) (int64, error)
	UpsertUser(ctx context.Context, user domain.User) error
	UpsertCategory(ctx context.Context, name string) (int64, error)
	UpsertProduct(ctx context.Context, product domain.Product, categoryID *int64) (int64, error)
	UpsertVariant(ctx context.Context, productID int64, variant domain.ProductVariant) error
	VariantIDByBarcode(ctx context.Context, barcode string) (int64, bool, error)
	// EnsurePlaceholderProduct returns the product id for name,
	// creating a zero-variant placeholder when no product of that name
	// exists. The bool reports whether a placeholder was created.
	EnsurePlaceholderProduct(ctx context.Context, name string) (int64, bool, error)
	UpsertSale(ctx context.Context, sale domain.Sale, userID int64) (int64, error)
	ReplaceSaleItems(ctx context.Context, saleID int64, items []ResolvedItem) error
	ReplaceSalePayments(ctx context.Context, saleID int64, payments []domain.InvoicePayment) error
}

// Store is the central store. WithTx runs fn atomically: an error
// rolls back everything fn did (batch-level all-or-nothing).
type Store interface {
	WithTx(ctx context.Context, fn func(Tx) error) error

	PlaceholderProducts(ctx context.Context) ([]PlaceholderProduct, error)
	DeleteProduct(ctx context.Context, id int64) error
	SetActiveByFilter(ctx context.Context, filter CorrectionFilter, active bool) (CorrectionResult, error)
	TableCounts(ctx context.Context) (TableCounts, error)
	// DeleteAllFrom empties one table and reports how many rows went.
	// Reset calls it per table; each call commits independently.
	DeleteAllFrom(ctx context.Context, table string) (int64, error)
}
