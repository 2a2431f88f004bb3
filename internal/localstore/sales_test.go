package localstore

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"possync/internal/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func seedCashier(t *testing.T, store *Store) int64 {
	t.Helper()
	id, err := store.UpsertUser(context.Background(), domain.User{
		Username: "alice",
		Role:     "cashier",
		IsActive: true,
	})
	require.NoError(t, err)
	return id
}

func seedProduct(t *testing.T, store *Store, name, barcode string, price float64, stock int) {
	t.Helper()
	_, err := store.UpsertProduct(context.Background(), ProductInput{
		Name:     name,
		Category: "Coffee",
		Variants: []VariantInput{{Name: "Standard", Barcode: barcode, Price: price, Stock: stock}},
	})
	require.NoError(t, err)
}

func variantStock(t *testing.T, store *Store, barcode string) int {
	t.Helper()
	products, err := store.UnsyncedProducts(context.Background(), 0)
	require.NoError(t, err)
	for _, p := range products {
		for _, v := range p.Variants {
			if v.Barcode == barcode {
				return v.Stock
			}
		}
	}
	t.Fatalf("barcode %s not found", barcode)
	return 0
}

func TestCheckout_CommitsSaleAndEnqueuesSnapshot(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	userID := seedCashier(t, store)
	seedProduct(t, store, "Espresso Beans 1kg", "4001", 50, 10)

	saleID, err := store.Checkout(ctx, CheckoutInput{
		BillNo: "BILL-001",
		UserID: userID,
		Items:  []CheckoutItem{{Barcode: "4001", Quantity: 2}},
		Tax:    5,
		Payment: PaymentInput{
			Method: "cash",
			Amount: 105,
		},
	})
	require.NoError(t, err)
	assert.Positive(t, saleID)

	sale, err := store.SaleByBillNo(ctx, "BILL-001")
	require.NoError(t, err)
	assert.Equal(t, "alice", sale.Username)
	assert.Equal(t, 100.0, sale.Subtotal)
	assert.Equal(t, 105.0, sale.GrandTotal)
	require.Len(t, sale.Items, 1)
	assert.Equal(t, "4001", sale.Items[0].Barcode)
	assert.Equal(t, "Espresso Beans 1kg", sale.Items[0].ProductName)
	require.Len(t, sale.Payments, 1)
	assert.Equal(t, "cash", sale.Payments[0].Method)

	assert.Equal(t, 8, variantStock(t, store, "4001"))

	entries, err := store.PendingEntries(ctx, time.Now().UTC(), 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, domain.ActionCheckout, entries[0].Action)
	assert.Equal(t, "sales", entries[0].TargetModel)

	var queued domain.Sale
	require.NoError(t, json.Unmarshal(entries[0].Payload, &queued))
	assert.Equal(t, "BILL-001", queued.BillNo)
	assert.Len(t, queued.Items, 1)
}

func TestCheckout_InsufficientStockRollsBackEverything(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	userID := seedCashier(t, store)
	seedProduct(t, store, "Espresso Beans 1kg", "4001", 50, 10)
	seedProduct(t, store, "Filter Papers", "4002", 3, 1)

	// The first line would succeed in isolation; the second fails.
	_, err := store.Checkout(ctx, CheckoutInput{
		BillNo: "BILL-002",
		UserID: userID,
		Items: []CheckoutItem{
			{Barcode: "4001", Quantity: 2},
			{Barcode: "4002", Quantity: 5},
		},
		Payment: PaymentInput{Method: "cash", Amount: 115},
	})
	require.ErrorIs(t, err, ErrInsufficientStock)

	assert.Equal(t, 10, variantStock(t, store, "4001"), "partial decrements must be rolled back")
	assert.Equal(t, 1, variantStock(t, store, "4002"))

	_, err = store.SaleByBillNo(ctx, "BILL-002")
	assert.ErrorIs(t, err, ErrNotFound)

	entries, err := store.PendingEntries(ctx, time.Now().UTC(), 10)
	require.NoError(t, err)
	assert.Empty(t, entries, "no queue entry for an aborted checkout")
}

func TestCheckout_Validation(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	userID := seedCashier(t, store)
	seedProduct(t, store, "Espresso Beans 1kg", "4001", 50, 10)

	_, err := store.Checkout(ctx, CheckoutInput{BillNo: " ", UserID: userID, Items: []CheckoutItem{{Barcode: "4001", Quantity: 1}}})
	assert.Error(t, err)

	_, err = store.Checkout(ctx, CheckoutInput{BillNo: "BILL-003", UserID: userID})
	assert.Error(t, err)

	_, err = store.Checkout(ctx, CheckoutInput{
		BillNo: "BILL-003",
		UserID: userID,
		Items:  []CheckoutItem{{Barcode: "no-such-code", Quantity: 1}},
	})
	assert.Error(t, err)
}

func TestRefund_RestocksAndZeroesSale(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	userID := seedCashier(t, store)
	seedProduct(t, store, "Espresso Beans 1kg", "4001", 50, 10)

	_, err := store.Checkout(ctx, CheckoutInput{
		BillNo:  "BILL-004",
		UserID:  userID,
		Items:   []CheckoutItem{{Barcode: "4001", Quantity: 3}},
		Payment: PaymentInput{Method: "card", Amount: 150},
	})
	require.NoError(t, err)
	require.Equal(t, 7, variantStock(t, store, "4001"))

	require.NoError(t, store.Refund(ctx, "BILL-004"))

	assert.Equal(t, 10, variantStock(t, store, "4001"))
	sale, err := store.SaleByBillNo(ctx, "BILL-004")
	require.NoError(t, err)
	assert.Zero(t, sale.Subtotal)
	assert.Zero(t, sale.GrandTotal)
	assert.Empty(t, sale.Items)
	assert.Empty(t, sale.Payments)

	entries, err := store.PendingEntries(ctx, time.Now().UTC(), 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, domain.ActionCheckout, entries[0].Action)
	assert.Equal(t, domain.ActionRefund, entries[1].Action)
}

func TestRefund_UnknownBill(t *testing.T) {
	store := newTestStore(t)
	assert.ErrorIs(t, store.Refund(context.Background(), "NOPE"), ErrNotFound)
}

func TestExchange_SwapsLineAndReprices(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	userID := seedCashier(t, store)
	seedProduct(t, store, "Espresso Beans 1kg", "4001", 50, 10)
	seedProduct(t, store, "Decaf Beans 1kg", "4003", 45, 4)

	_, err := store.Checkout(ctx, CheckoutInput{
		BillNo:  "BILL-005",
		UserID:  userID,
		Items:   []CheckoutItem{{Barcode: "4001", Quantity: 2}},
		Payment: PaymentInput{Method: "cash", Amount: 100},
	})
	require.NoError(t, err)

	require.NoError(t, store.Exchange(ctx, ExchangeInput{
		BillNo:     "BILL-005",
		OldBarcode: "4001",
		NewBarcode: "4003",
		Quantity:   2,
	}))

	assert.Equal(t, 10, variantStock(t, store, "4001"))
	assert.Equal(t, 2, variantStock(t, store, "4003"))

	sale, err := store.SaleByBillNo(ctx, "BILL-005")
	require.NoError(t, err)
	require.Len(t, sale.Items, 1)
	assert.Equal(t, "4003", sale.Items[0].Barcode)
	assert.Equal(t, 90.0, sale.Subtotal)
	assert.Equal(t, 90.0, sale.GrandTotal)
}

func TestExchange_InsufficientReplacementStock(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	userID := seedCashier(t, store)
	seedProduct(t, store, "Espresso Beans 1kg", "4001", 50, 10)
	seedProduct(t, store, "Decaf Beans 1kg", "4003", 45, 1)

	_, err := store.Checkout(ctx, CheckoutInput{
		BillNo:  "BILL-006",
		UserID:  userID,
		Items:   []CheckoutItem{{Barcode: "4001", Quantity: 2}},
		Payment: PaymentInput{Method: "cash", Amount: 100},
	})
	require.NoError(t, err)

	err = store.Exchange(ctx, ExchangeInput{
		BillNo:     "BILL-006",
		OldBarcode: "4001",
		NewBarcode: "4003",
		Quantity:   2,
	})
	require.ErrorIs(t, err, ErrInsufficientStock)

	// The aborted exchange must not leak the old line's restock.
	assert.Equal(t, 8, variantStock(t, store, "4001"))
	assert.Equal(t, 1, variantStock(t, store, "4003"))
}

func TestUpdatePayment_ReplacesPayments(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	userID := seedCashier(t, store)
	seedProduct(t, store, "Espresso Beans 1kg", "4001", 50, 10)

	_, err := store.Checkout(ctx, CheckoutInput{
		BillNo:  "BILL-007",
		UserID:  userID,
		Items:   []CheckoutItem{{Barcode: "4001", Quantity: 1}},
		Payment: PaymentInput{Method: "cash", Amount: 50},
	})
	require.NoError(t, err)

	ref := "TXN-88"
	require.NoError(t, store.UpdatePayment(ctx, "BILL-007", []PaymentInput{
		{Method: "cash", Amount: 20},
		{Method: "card", Amount: 30, Reference: &ref},
	}))

	sale, err := store.SaleByBillNo(ctx, "BILL-007")
	require.NoError(t, err)
	require.Len(t, sale.Payments, 2)
	assert.Equal(t, "card", sale.Payments[1].Method)
	require.NotNil(t, sale.Payments[1].Reference)
	assert.Equal(t, "TXN-88", *sale.Payments[1].Reference)

	entries, err := store.PendingEntries(ctx, time.Now().UTC(), 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, domain.ActionPaymentUpdate, entries[1].Action)
}
