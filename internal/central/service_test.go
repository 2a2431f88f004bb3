package central_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"possync/internal/central"
	"possync/internal/central/memory"
	"possync/internal/domain"
)

const testSecret = "reset-me"

func newService(store *memory.Store) *central.Service {
	return central.NewService(store, testSecret, nil)
}

func sampleSale(billNo, username string) domain.Sale {
	return domain.Sale{
		BillNo:     billNo,
		Username:   username,
		Subtotal:   100,
		Tax:        10,
		Discount:   5,
		GrandTotal: 105,
		Items: []domain.SaleItem{
			{Barcode: "4001", ProductName: "Espresso Beans 1kg", Quantity: 2, UnitPrice: 50, LineTotal: 100},
		},
		Payments: []domain.InvoicePayment{
			{Method: "cash", Amount: 105, PaidAt: time.Now().UTC()},
		},
		CreatedAt: time.Now().UTC(),
	}
}

func seedInventory(t *testing.T, svc *central.Service) {
	t.Helper()
	stored, err := svc.IngestInventory(context.Background(), []domain.Product{
		{
			Name:     "Espresso Beans 1kg",
			Category: &domain.Category{Name: "Coffee"},
			IsActive: true,
			Variants: []domain.ProductVariant{
				{Name: "Standard", Barcode: "4001", Price: 50, Stock: 20},
			},
		},
	})
	require.NoError(t, err)
	require.Equal(t, 1, stored)
}

func seedUser(t *testing.T, svc *central.Service, username string) {
	t.Helper()
	stored, err := svc.IngestUsers(context.Background(), []domain.User{
		{Username: username, Role: "cashier", IsActive: true},
	})
	require.NoError(t, err)
	require.Equal(t, 1, stored)
}

func TestIngestSales_IdempotentByBillNo(t *testing.T) {
	store := memory.New()
	svc := newService(store)
	seedUser(t, svc, "alice")
	seedInventory(t, svc)

	ctx := context.Background()
	sale := sampleSale("BILL-001", "alice")

	first, err := svc.IngestSales(ctx, []domain.Sale{sale})
	require.NoError(t, err)
	assert.Equal(t, 1, first.Stored)
	assert.Zero(t, first.PlaceholderUsers)
	assert.Zero(t, first.PlaceholderProducts)

	second, err := svc.IngestSales(ctx, []domain.Sale{sale})
	require.NoError(t, err)
	assert.Equal(t, 1, second.Stored)

	counts, err := store.TableCounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts["sales"])
	assert.Equal(t, int64(1), counts["sale_items"])
	assert.Equal(t, int64(1), counts["invoice_payments"])

	stored, ok := store.SaleByBillNo("BILL-001")
	require.True(t, ok)
	assert.Len(t, stored.Items, 1)
	assert.Len(t, stored.Payments, 1)
}

func TestIngestSales_SynthesizesPlaceholders(t *testing.T) {
	store := memory.New()
	svc := newService(store)
	ctx := context.Background()

	sale := sampleSale("BILL-002", "ghost-cashier")
	sale.Items[0].Barcode = "9999"
	sale.Items[0].ProductName = "Mystery Mug"

	result, err := svc.IngestSales(ctx, []domain.Sale{sale})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Stored)
	assert.Equal(t, 1, result.PlaceholderUsers)
	assert.Equal(t, 1, result.PlaceholderProducts)

	user, ok := store.UserByUsername("ghost-cashier")
	require.True(t, ok)
	assert.Equal(t, domain.OriginPlaceholder, user.Provenance.Origin)

	product, ok := store.ProductByName("Mystery Mug")
	require.True(t, ok)
	assert.Equal(t, domain.OriginPlaceholder, product.Provenance.Origin)
	assert.Empty(t, product.Variants, "placeholder products carry no variants")

	stored, ok := store.SaleByBillNo("BILL-002")
	require.True(t, ok)
	require.Len(t, stored.Items, 1)
	assert.Equal(t, "9999", stored.Items[0].Barcode)
	assert.Zero(t, stored.Items[0].VariantID, "unresolved line keeps a null variant reference")

	// Redelivery must not breed more placeholders.
	again, err := svc.IngestSales(ctx, []domain.Sale{sale})
	require.NoError(t, err)
	assert.Zero(t, again.PlaceholderUsers)
	assert.Zero(t, again.PlaceholderProducts)

	counts, err := store.TableCounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts["users"])
	assert.Equal(t, int64(1), counts["products"])
}

func TestIngestSales_InvalidRecordRejectsWholeBatch(t *testing.T) {
	store := memory.New()
	svc := newService(store)
	seedUser(t, svc, "alice")
	seedInventory(t, svc)
	ctx := context.Background()

	good := sampleSale("BILL-010", "alice")
	bad := sampleSale("BILL-011", "alice")
	bad.GrandTotal = 999

	_, err := svc.IngestSales(ctx, []domain.Sale{good, bad})
	require.Error(t, err)
	var vErr *central.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.ErrorIs(t, err, central.ErrTotalsMismatch)

	counts, err := store.TableCounts(ctx)
	require.NoError(t, err)
	assert.Zero(t, counts["sales"], "no sale from a rejected batch may land")
}

func TestIngestSales_ValidationCases(t *testing.T) {
	svc := newService(memory.New())
	ctx := context.Background()

	cases := []struct {
		name    string
		mutate  func(*domain.Sale)
		wantErr error
	}{
		{"missing bill no", func(s *domain.Sale) { s.BillNo = " " }, central.ErrMissingBillNo},
		{"missing username", func(s *domain.Sale) { s.Username = "" }, central.ErrMissingUser},
		{"totals mismatch", func(s *domain.Sale) { s.GrandTotal = 1 }, central.ErrTotalsMismatch},
		{"zero quantity item", func(s *domain.Sale) { s.Items[0].Quantity = 0 }, central.ErrBadLineItem},
		{"item without barcode", func(s *domain.Sale) { s.Items[0].Barcode = "" }, central.ErrBadLineItem},
		{"negative payment", func(s *domain.Sale) { s.Payments[0].Amount = -1 }, central.ErrNegativeAmount},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sale := sampleSale("BILL-020", "alice")
			tc.mutate(&sale)
			_, err := svc.IngestSales(ctx, []domain.Sale{sale})
			assert.ErrorIs(t, err, tc.wantErr)
		})
	}
}

func TestCleanupPlaceholders_DeletesEmptyAndReportsPopulated(t *testing.T) {
	store := memory.New()
	svc := newService(store)
	ctx := context.Background()

	// Two unresolved barcodes synthesize two zero-variant placeholders.
	sale := sampleSale("BILL-030", "alice")
	sale.Items = []domain.SaleItem{
		{Barcode: "7001", ProductName: "Orphan Soda", Quantity: 1, UnitPrice: 50, LineTotal: 50},
		{Barcode: "7002", ProductName: "Orphan Chips", Quantity: 1, UnitPrice: 50, LineTotal: 50},
	}
	_, err := svc.IngestSales(ctx, []domain.Sale{sale})
	require.NoError(t, err)

	// The authoritative record for one of them arrives later and
	// attaches a variant under the same product identity.
	_, err = svc.IngestInventory(ctx, []domain.Product{
		{
			Name:       "Orphan Chips",
			IsActive:   true,
			Provenance: domain.Provenance{Origin: domain.OriginPlaceholder},
			Variants: []domain.ProductVariant{
				{Name: "Standard", Barcode: "7002", Price: 50, Stock: 5},
			},
		},
	})
	require.NoError(t, err)

	result, err := svc.CleanupPlaceholders(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Deleted)
	assert.Equal(t, []string{"Orphan Chips"}, result.NeedsMerge)

	_, ok := store.ProductByName("Orphan Soda")
	assert.False(t, ok, "empty placeholder should be gone")
	_, ok = store.ProductByName("Orphan Chips")
	assert.True(t, ok, "populated placeholder must survive for manual merge")

	// Running it again converges to a no-op for deletions.
	again, err := svc.CleanupPlaceholders(ctx)
	require.NoError(t, err)
	assert.Zero(t, again.Deleted)
	assert.Equal(t, []string{"Orphan Chips"}, again.NeedsMerge)
}

func TestHideRestore_Reversible(t *testing.T) {
	store := memory.New()
	svc := newService(store)
	ctx := context.Background()

	_, err := svc.IngestInventory(ctx, []domain.Product{
		{
			Name:     "Uncategorized Import",
			IsActive: true,
			Variants: []domain.ProductVariant{
				{Name: "Standard", Barcode: "5001", Price: 10, Stock: 3},
			},
		},
		{
			Name:     "Healthy Product",
			Category: &domain.Category{Name: "Snacks"},
			IsActive: true,
			Variants: []domain.ProductVariant{
				{Name: "Standard", Barcode: "5002", Price: 12, Stock: 3},
			},
		},
	})
	require.NoError(t, err)

	filter := central.CorrectionFilter{MissingCategory: true}

	hidden, err := svc.HideCorrupt(ctx, filter)
	require.NoError(t, err)
	assert.Equal(t, int64(1), hidden.Products)
	assert.Equal(t, int64(1), hidden.Variants)

	product, ok := store.ProductByName("Uncategorized Import")
	require.True(t, ok)
	assert.False(t, product.IsActive)
	untouched, ok := store.ProductByName("Healthy Product")
	require.True(t, ok)
	assert.True(t, untouched.IsActive)

	restored, err := svc.RestoreCorrupt(ctx, filter)
	require.NoError(t, err)
	assert.Equal(t, int64(1), restored.Products)

	product, ok = store.ProductByName("Uncategorized Import")
	require.True(t, ok)
	assert.True(t, product.IsActive)

	// Restoring an already-active set changes nothing.
	again, err := svc.RestoreCorrupt(ctx, filter)
	require.NoError(t, err)
	assert.Zero(t, again.Products)
}

func TestHideCorrupt_EmptyFilterRejected(t *testing.T) {
	svc := newService(memory.New())

	_, err := svc.HideCorrupt(context.Background(), central.CorrectionFilter{})
	assert.ErrorIs(t, err, central.ErrEmptyPredicate)
	_, err = svc.RestoreCorrupt(context.Background(), central.CorrectionFilter{})
	assert.ErrorIs(t, err, central.ErrEmptyPredicate)
}

func TestMaintenanceReset_Authorization(t *testing.T) {
	store := memory.New()
	svc := newService(store)
	seedUser(t, svc, "alice")
	seedInventory(t, svc)
	ctx := context.Background()

	_, err := svc.IngestSales(ctx, []domain.Sale{sampleSale("BILL-040", "alice")})
	require.NoError(t, err)

	before, err := store.TableCounts(ctx)
	require.NoError(t, err)

	_, err = svc.MaintenanceReset(ctx, "wrong-secret", true)
	assert.ErrorIs(t, err, central.ErrUnauthorized)

	after, err := store.TableCounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, before, after, "a rejected reset must not mutate anything")

	_, err = svc.MaintenanceReset(ctx, testSecret, false)
	assert.ErrorIs(t, err, central.ErrConfirmationRequired)

	after, err = store.TableCounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestMaintenanceReset_WipesEverythingButUsers(t *testing.T) {
	store := memory.New()
	svc := newService(store)
	seedUser(t, svc, "alice")
	seedUser(t, svc, "bob")
	seedInventory(t, svc)
	ctx := context.Background()

	_, err := svc.IngestSales(ctx, []domain.Sale{sampleSale("BILL-050", "alice")})
	require.NoError(t, err)

	report, err := svc.MaintenanceReset(ctx, testSecret, true)
	require.NoError(t, err)

	assert.Equal(t, int64(1), report.Before["sales"])
	assert.Equal(t, int64(1), report.Before["products"])
	assert.Zero(t, report.After["sales"])
	assert.Zero(t, report.After["sale_items"])
	assert.Zero(t, report.After["invoice_payments"])
	assert.Zero(t, report.After["products"])
	assert.Zero(t, report.After["product_variants"])
	assert.Zero(t, report.After["categories"])
	assert.Equal(t, int64(2), report.After["users"], "users survive a reset")
}
