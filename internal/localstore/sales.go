package localstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"possync/internal/domain"
)

var ErrInsufficientStock = errors.New("insufficient stock")

type CheckoutItem struct {
	Barcode  string
	Quantity int
}

type PaymentInput struct {
	Method    string
	Amount    float64
	Reference *string
}

type CheckoutInput struct {
	BillNo   string
	UserID   int64
	Items    []CheckoutItem
	Tax      float64
	Discount float64
	Payment  PaymentInput
}

type ExchangeInput struct {
	BillNo     string
	OldBarcode string
	NewBarcode string
	Quantity   int
}

// Checkout commits a sale atomically: header, line items, payment and
// stock decrements either all land or none do. A CHECKOUT queue entry
// carrying the full sale snapshot is created in the same transaction.
func (s *Store) Checkout(ctx context.Context, input CheckoutInput) (int64, error) {
	billNo := strings.TrimSpace(input.BillNo)
	if billNo == "" {
		return 0, fmt.Errorf("bill_no is required")
	}
	if len(input.Items) == 0 {
		return 0, fmt.Errorf("sale has no items")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin checkout tx: %w", err)
	}
	defer tx.Rollback()

	now := nowUTC()
	var subtotal float64
	type resolvedItem struct {
		variantID int64
		barcode   string
		product   string
		quantity  int
		unitPrice float64
	}
	resolved := make([]resolvedItem, 0, len(input.Items))

	for _, item := range input.Items {
		if item.Quantity <= 0 {
			return 0, fmt.Errorf("quantity must be positive for barcode %s", item.Barcode)
		}
		var (
			variantID int64
			price     float64
			product   string
		)
		err := tx.QueryRowContext(ctx, `
			SELECT v.id, v.price, p.name
			FROM product_variants v
			JOIN products p ON p.id = v.product_id
			WHERE v.barcode = ? AND v.is_active = 1
		`, item.Barcode).Scan(&variantID, &price, &product)
		if errors.Is(err, sql.ErrNoRows) {
			return 0, fmt.Errorf("unknown barcode %s", item.Barcode)
		}
		if err != nil {
			return 0, fmt.Errorf("resolve barcode %s: %w", item.Barcode, err)
		}

		res, err := tx.ExecContext(ctx, `
			UPDATE product_variants
			SET stock = stock - ?, updated_at = ?
			WHERE id = ? AND stock >= ?
		`, item.Quantity, now, variantID, item.Quantity)
		if err != nil {
			return 0, fmt.Errorf("decrement stock for %s: %w", item.Barcode, err)
		}
		if affected, _ := res.RowsAffected(); affected == 0 {
			return 0, fmt.Errorf("%w for barcode %s", ErrInsufficientStock, item.Barcode)
		}

		subtotal += price * float64(item.Quantity)
		resolved = append(resolved, resolvedItem{
			variantID: variantID,
			barcode:   item.Barcode,
			product:   product,
			quantity:  item.Quantity,
			unitPrice: price,
		})
	}

	grandTotal := subtotal + input.Tax - input.Discount
	res, err := tx.ExecContext(ctx, `
		INSERT INTO sales (bill_no, user_id, subtotal, tax, discount, grand_total, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, billNo, input.UserID, subtotal, input.Tax, input.Discount, grandTotal, now)
	if err != nil {
		return 0, fmt.Errorf("insert sale %s: %w", billNo, err)
	}
	saleID, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("sale id for %s: %w", billNo, err)
	}

	for _, item := range resolved {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO sale_items (sale_id, variant_id, quantity, unit_price, line_total)
			VALUES (?, ?, ?, ?, ?)
		`, saleID, item.variantID, item.quantity, item.unitPrice, item.unitPrice*float64(item.quantity)); err != nil {
			return 0, fmt.Errorf("insert sale item: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO invoice_payments (sale_id, method, amount, reference, paid_at)
		VALUES (?, ?, ?, ?, ?)
	`, saleID, input.Payment.Method, input.Payment.Amount, input.Payment.Reference, now); err != nil {
		return 0, fmt.Errorf("insert payment: %w", err)
	}

	if err := s.enqueueSaleTx(ctx, tx, domain.ActionCheckout, billNo); err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit checkout tx: %w", err)
	}
	return saleID, nil
}

// UpdatePayment replaces the payments recorded against a sale and
// enqueues the updated snapshot for delivery.
func (s *Store) UpdatePayment(ctx context.Context, billNo string, payments []PaymentInput) error {
	if len(payments) == 0 {
		return fmt.Errorf("at least one payment is required")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin payment tx: %w", err)
	}
	defer tx.Rollback()

	saleID, err := saleIDByBillNo(ctx, tx, billNo)
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM invoice_payments WHERE sale_id = ?", saleID); err != nil {
		return fmt.Errorf("clear payments for %s: %w", billNo, err)
	}
	now := nowUTC()
	for _, p := range payments {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO invoice_payments (sale_id, method, amount, reference, paid_at)
			VALUES (?, ?, ?, ?, ?)
		`, saleID, p.Method, p.Amount, p.Reference, now); err != nil {
			return fmt.Errorf("insert payment for %s: %w", billNo, err)
		}
	}

	if err := s.enqueueSaleTx(ctx, tx, domain.ActionPaymentUpdate, billNo); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit payment tx: %w", err)
	}
	return nil
}

// Refund cancels a whole sale: every line item is restocked, items and
// payments are removed, the totals are zeroed. The emptied snapshot is
// enqueued so the central record converges to the refunded state.
func (s *Store) Refund(ctx context.Context, billNo string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin refund tx: %w", err)
	}
	defer tx.Rollback()

	saleID, err := saleIDByBillNo(ctx, tx, billNo)
	if err != nil {
		return err
	}

	now := nowUTC()
	if _, err := tx.ExecContext(ctx, `
		UPDATE product_variants
		SET stock = stock + (
			SELECT COALESCE(SUM(si.quantity), 0)
			FROM sale_items si
			WHERE si.sale_id = ? AND si.variant_id = product_variants.id
		),
		updated_at = ?
		WHERE id IN (SELECT variant_id FROM sale_items WHERE sale_id = ?)
	`, saleID, now, saleID); err != nil {
		return fmt.Errorf("restock refund for %s: %w", billNo, err)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM sale_items WHERE sale_id = ?", saleID); err != nil {
		return fmt.Errorf("clear items for %s: %w", billNo, err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM invoice_payments WHERE sale_id = ?", saleID); err != nil {
		return fmt.Errorf("clear payments for %s: %w", billNo, err)
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE sales
		SET subtotal = 0, tax = 0, discount = 0, grand_total = 0, synced_at = NULL
		WHERE id = ?
	`, saleID); err != nil {
		return fmt.Errorf("zero refunded sale %s: %w", billNo, err)
	}

	if err := s.enqueueSaleTx(ctx, tx, domain.ActionRefund, billNo); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit refund tx: %w", err)
	}
	return nil
}

// Exchange swaps one line item's variant for another, adjusting stock
// on both sides and repricing the line at the replacement's price.
func (s *Store) Exchange(ctx context.Context, input ExchangeInput) error {
	if input.Quantity <= 0 {
		return fmt.Errorf("quantity must be positive")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin exchange tx: %w", err)
	}
	defer tx.Rollback()

	saleID, err := saleIDByBillNo(ctx, tx, input.BillNo)
	if err != nil {
		return err
	}

	var oldVariantID int64
	err = tx.QueryRowContext(ctx,
		"SELECT id FROM product_variants WHERE barcode = ? AND is_active = 1",
		input.OldBarcode,
	).Scan(&oldVariantID)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("unknown barcode %s", input.OldBarcode)
	}
	if err != nil {
		return fmt.Errorf("resolve barcode %s: %w", input.OldBarcode, err)
	}

	var (
		newVariantID int64
		newPrice     float64
	)
	err = tx.QueryRowContext(ctx,
		"SELECT id, price FROM product_variants WHERE barcode = ? AND is_active = 1",
		input.NewBarcode,
	).Scan(&newVariantID, &newPrice)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("unknown barcode %s", input.NewBarcode)
	}
	if err != nil {
		return fmt.Errorf("resolve barcode %s: %w", input.NewBarcode, err)
	}

	var itemID int64
	var oldQty int
	err = tx.QueryRowContext(ctx,
		"SELECT id, quantity FROM sale_items WHERE sale_id = ? AND variant_id = ?",
		saleID, oldVariantID,
	).Scan(&itemID, &oldQty)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("sale %s has no line for barcode %s", input.BillNo, input.OldBarcode)
	}
	if err != nil {
		return fmt.Errorf("find exchanged line: %w", err)
	}

	now := nowUTC()
	if _, err := tx.ExecContext(ctx,
		"UPDATE product_variants SET stock = stock + ?, updated_at = ? WHERE id = ?",
		oldQty, now, oldVariantID,
	); err != nil {
		return fmt.Errorf("restock %s: %w", input.OldBarcode, err)
	}
	res, err := tx.ExecContext(ctx, `
		UPDATE product_variants
		SET stock = stock - ?, updated_at = ?
		WHERE id = ? AND stock >= ?
	`, input.Quantity, now, newVariantID, input.Quantity)
	if err != nil {
		return fmt.Errorf("decrement stock for %s: %w", input.NewBarcode, err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return fmt.Errorf("%w for barcode %s", ErrInsufficientStock, input.NewBarcode)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE sale_items
		SET variant_id = ?, quantity = ?, unit_price = ?, line_total = ?
		WHERE id = ?
	`, newVariantID, input.Quantity, newPrice, newPrice*float64(input.Quantity), itemID); err != nil {
		return fmt.Errorf("replace exchanged line: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE sales
		SET subtotal = (SELECT COALESCE(SUM(line_total), 0) FROM sale_items WHERE sale_id = ?),
			grand_total = (SELECT COALESCE(SUM(line_total), 0) FROM sale_items WHERE sale_id = ?) + tax - discount,
			synced_at = NULL
		WHERE id = ?
	`, saleID, saleID, saleID); err != nil {
		return fmt.Errorf("reprice exchanged sale: %w", err)
	}

	if err := s.enqueueSaleTx(ctx, tx, domain.ActionExchange, input.BillNo); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit exchange tx: %w", err)
	}
	return nil
}

// SaleByBillNo loads a sale with its items and payments.
func (s *Store) SaleByBillNo(ctx context.Context, billNo string) (*domain.Sale, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("begin read tx: %w", err)
	}
	defer tx.Rollback()
	return saleSnapshot(ctx, tx, billNo)
}

func saleIDByBillNo(ctx context.Context, tx *sql.Tx, billNo string) (int64, error) {
	var saleID int64
	err := tx.QueryRowContext(ctx, "SELECT id FROM sales WHERE bill_no = ?", billNo).Scan(&saleID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("sale %s: %w", billNo, ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("find sale %s: %w", billNo, err)
	}
	return saleID, nil
}

func saleSnapshot(ctx context.Context, tx *sql.Tx, billNo string) (*domain.Sale, error) {
	var sale domain.Sale
	err := tx.QueryRowContext(ctx, `
		SELECT s.id, s.bill_no, s.user_id, u.username, s.subtotal, s.tax, s.discount, s.grand_total, s.created_at
		FROM sales s
		JOIN users u ON u.id = s.user_id
		WHERE s.bill_no = ?
	`, billNo).Scan(
		&sale.ID, &sale.BillNo, &sale.UserID, &sale.Username,
		&sale.Subtotal, &sale.Tax, &sale.Discount, &sale.GrandTotal, &sale.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("sale %s: %w", billNo, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load sale %s: %w", billNo, err)
	}

	rows, err := tx.QueryContext(ctx, `
		SELECT si.id, si.sale_id, si.variant_id, v.barcode, p.name, si.quantity, si.unit_price, si.line_total
		FROM sale_items si
		JOIN product_variants v ON v.id = si.variant_id
		JOIN products p ON p.id = v.product_id
		WHERE si.sale_id = ?
		ORDER BY si.id
	`, sale.ID)
	if err != nil {
		return nil, fmt.Errorf("load sale items: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var item domain.SaleItem
		if err := rows.Scan(
			&item.ID, &item.SaleID, &item.VariantID, &item.Barcode,
			&item.ProductName, &item.Quantity, &item.UnitPrice, &item.LineTotal,
		); err != nil {
			return nil, fmt.Errorf("scan sale item: %w", err)
		}
		sale.Items = append(sale.Items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sale items: %w", err)
	}

	payRows, err := tx.QueryContext(ctx, `
		SELECT id, sale_id, method, amount, reference, paid_at
		FROM invoice_payments
		WHERE sale_id = ?
		ORDER BY id
	`, sale.ID)
	if err != nil {
		return nil, fmt.Errorf("load payments: %w", err)
	}
	defer payRows.Close()
	for payRows.Next() {
		var p domain.InvoicePayment
		if err := payRows.Scan(&p.ID, &p.SaleID, &p.Method, &p.Amount, &p.Reference, &p.PaidAt); err != nil {
			return nil, fmt.Errorf("scan payment: %w", err)
		}
		sale.Payments = append(sale.Payments, p)
	}
	if err := payRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate payments: %w", err)
	}

	return &sale, nil
}

func (s *Store) enqueueSaleTx(ctx context.Context, tx *sql.Tx, action domain.QueueAction, billNo string) error {
	sale, err := saleSnapshot(ctx, tx, billNo)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(sale)
	if err != nil {
		return fmt.Errorf("marshal sale snapshot: %w", err)
	}
	return enqueueTx(ctx, tx, action, "sales", payload)
}
