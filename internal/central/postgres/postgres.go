// Package postgres implements the central store on pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"possync/internal/central"
	"possync/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Store struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// WithTx runs fn inside a single transaction; any error rolls the
// whole batch back.
func (s *Store) WithTx(ctx context.Context, fn func(central.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin batch tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit batch tx: %w", err)
	}
	return nil
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) UserIDByUsername(ctx context.Context, username string) (int64, bool, error) {
	var id int64
	err := t.tx.QueryRow(ctx, "SELECT id FROM users WHERE username = $1", username).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("find user %s: %w", username, err)
	}
	return id, true, nil
}

func (t *pgTx) InsertPlaceholderUser(ctx context.Context, username string) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `
		INSERT INTO users (username, role, is_active, origin)
		VALUES ($1, 'cashier', TRUE, 'PLACEHOLDER')
		ON CONFLICT ON CONSTRAINT uq_users_username
		DO UPDATE SET username = EXCLUDED.username
		RETURNING id
	`, username).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert placeholder user %s: %w", username, err)
	}
	return id, nil
}

func (t *pgTx) UpsertUser(ctx context.Context, user domain.User) error {
	// A real record always overwrites a placeholder of the same
	// username, including its provenance.
	_, err := t.tx.Exec(ctx, `
		INSERT INTO users (username, role, can_refund, can_manage_stock, is_active, origin, batch_id, imported_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT ON CONSTRAINT uq_users_username
		DO UPDATE SET
			role = EXCLUDED.role,
			can_refund = EXCLUDED.can_refund,
			can_manage_stock = EXCLUDED.can_manage_stock,
			is_active = EXCLUDED.is_active,
			origin = EXCLUDED.origin,
			batch_id = EXCLUDED.batch_id,
			imported_at = EXCLUDED.imported_at,
			updated_at = NOW()
	`, user.Username, user.Role, user.CanRefund, user.CanManageStock, user.IsActive,
		originOrLocal(user.Provenance.Origin), user.Provenance.BatchID, user.Provenance.ImportedAt)
	if err != nil {
		return fmt.Errorf("upsert user %s: %w", user.Username, err)
	}
	return nil
}

func (t *pgTx) UpsertCategory(ctx context.Context, name string) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `
		INSERT INTO categories (name, is_active)
		VALUES ($1, TRUE)
		ON CONFLICT ON CONSTRAINT uq_categories_name
		DO UPDATE SET name = EXCLUDED.name
		RETURNING id
	`, name).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("upsert category %s: %w", name, err)
	}
	return id, nil
}

func (t *pgTx) UpsertProduct(ctx context.Context, product domain.Product, categoryID *int64) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `
		INSERT INTO products (name, category_id, is_active, origin, batch_id, imported_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT ON CONSTRAINT uq_products_name
		DO UPDATE SET
			category_id = EXCLUDED.category_id,
			is_active = EXCLUDED.is_active,
			origin = EXCLUDED.origin,
			batch_id = EXCLUDED.batch_id,
			imported_at = EXCLUDED.imported_at,
			updated_at = NOW()
		RETURNING id
	`, product.Name, categoryID, product.IsActive,
		originOrLocal(product.Provenance.Origin), product.Provenance.BatchID, product.Provenance.ImportedAt).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("upsert product %s: %w", product.Name, err)
	}
	return id, nil
}

func (t *pgTx) UpsertVariant(ctx context.Context, productID int64, variant domain.ProductVariant) error {
	var existing int64
	err := t.tx.QueryRow(ctx,
		"SELECT id FROM product_variants WHERE barcode = $1 AND is_active",
		variant.Barcode,
	).Scan(&existing)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		if _, err := t.tx.Exec(ctx, `
			INSERT INTO product_variants (product_id, name, barcode, price, cost_price, stock, is_active, origin)
			VALUES ($1, $2, $3, $4, $5, $6, TRUE, $7)
		`, productID, variant.Name, variant.Barcode, variant.Price, variant.CostPrice,
			variant.Stock, originOrLocal(variant.Provenance.Origin)); err != nil {
			return fmt.Errorf("insert variant %s: %w", variant.Barcode, err)
		}
	case err != nil:
		return fmt.Errorf("find variant %s: %w", variant.Barcode, err)
	default:
		if _, err := t.tx.Exec(ctx, `
			UPDATE product_variants
			SET product_id = $2, name = $3, price = $4, cost_price = $5, stock = $6,
				origin = $7, updated_at = NOW()
			WHERE id = $1
		`, existing, productID, variant.Name, variant.Price, variant.CostPrice,
			variant.Stock, originOrLocal(variant.Provenance.Origin)); err != nil {
			return fmt.Errorf("update variant %s: %w", variant.Barcode, err)
		}
	}
	return nil
}

func (t *pgTx) VariantIDByBarcode(ctx context.Context, barcode string) (int64, bool, error) {
	var id int64
	err := t.tx.QueryRow(ctx,
		"SELECT id FROM product_variants WHERE barcode = $1 AND is_active",
		barcode,
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("find variant %s: %w", barcode, err)
	}
	return id, true, nil
}

func (t *pgTx) EnsurePlaceholderProduct(ctx context.Context, name string) (int64, bool, error) {
	var id int64
	err := t.tx.QueryRow(ctx, "SELECT id FROM products WHERE name = $1", name).Scan(&id)
	if err == nil {
		return id, false, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, false, fmt.Errorf("find product %s: %w", name, err)
	}

	err = t.tx.QueryRow(ctx, `
		INSERT INTO products (name, is_active, origin)
		VALUES ($1, TRUE, 'PLACEHOLDER')
		RETURNING id
	`, name).Scan(&id)
	if err != nil {
		return 0, false, fmt.Errorf("insert placeholder product %s: %w", name, err)
	}
	return id, true, nil
}

func (t *pgTx) UpsertSale(ctx context.Context, sale domain.Sale, userID int64) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `
		INSERT INTO sales (bill_no, user_id, subtotal, tax, discount, grand_total, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT ON CONSTRAINT uq_sales_bill_no
		DO UPDATE SET
			user_id = EXCLUDED.user_id,
			subtotal = EXCLUDED.subtotal,
			tax = EXCLUDED.tax,
			discount = EXCLUDED.discount,
			grand_total = EXCLUDED.grand_total
		RETURNING id
	`, sale.BillNo, userID, sale.Subtotal, sale.Tax, sale.Discount, sale.GrandTotal, sale.CreatedAt).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("upsert sale %s: %w", sale.BillNo, err)
	}
	return id, nil
}

func (t *pgTx) ReplaceSaleItems(ctx context.Context, saleID int64, items []central.ResolvedItem) error {
	if _, err := t.tx.Exec(ctx, "DELETE FROM sale_items WHERE sale_id = $1", saleID); err != nil {
		return fmt.Errorf("clear sale items: %w", err)
	}
	for _, item := range items {
		if _, err := t.tx.Exec(ctx, `
			INSERT INTO sale_items (sale_id, variant_id, barcode, product_name, quantity, unit_price, line_total)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, saleID, item.VariantID, item.Barcode, item.ProductName,
			item.Quantity, item.UnitPrice, item.LineTotal); err != nil {
			return fmt.Errorf("insert sale item %s: %w", item.Barcode, err)
		}
	}
	return nil
}

func (t *pgTx) ReplaceSalePayments(ctx context.Context, saleID int64, payments []domain.InvoicePayment) error {
	if _, err := t.tx.Exec(ctx, "DELETE FROM invoice_payments WHERE sale_id = $1", saleID); err != nil {
		return fmt.Errorf("clear payments: %w", err)
	}
	for _, p := range payments {
		if _, err := t.tx.Exec(ctx, `
			INSERT INTO invoice_payments (sale_id, method, amount, reference, paid_at)
			VALUES ($1, $2, $3, $4, $5)
		`, saleID, p.Method, p.Amount, p.Reference, p.PaidAt); err != nil {
			return fmt.Errorf("insert payment: %w", err)
		}
	}
	return nil
}

func (s *Store) PlaceholderProducts(ctx context.Context) ([]central.PlaceholderProduct, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT p.id, p.name, COUNT(v.id)
		FROM products p
		LEFT JOIN product_variants v ON v.product_id = p.id
		WHERE p.origin = 'PLACEHOLDER'
		GROUP BY p.id, p.name
		ORDER BY p.id
	`)
	if err != nil {
		return nil, fmt.Errorf("list placeholder products: %w", err)
	}
	defer rows.Close()

	placeholders := make([]central.PlaceholderProduct, 0)
	for rows.Next() {
		var p central.PlaceholderProduct
		if err := rows.Scan(&p.ID, &p.Name, &p.VariantCount); err != nil {
			return nil, fmt.Errorf("scan placeholder product: %w", err)
		}
		placeholders = append(placeholders, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate placeholder products: %w", err)
	}
	return placeholders, nil
}

func (s *Store) DeleteProduct(ctx context.Context, id int64) error {
	cmd, err := s.pool.Exec(ctx, "DELETE FROM products WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("delete product %d: %w", id, err)
	}
	if cmd.RowsAffected() == 0 {
		return central.ErrNotFound
	}
	return nil
}

func (s *Store) SetActiveByFilter(ctx context.Context, filter central.CorrectionFilter, active bool) (central.CorrectionResult, error) {
	conditions := []string{"is_active <> $1"}
	args := []any{active}
	arg := 2

	if filter.MissingCategory {
		conditions = append(conditions, "category_id IS NULL")
	}
	if filter.CreatedFrom != nil {
		conditions = append(conditions, fmt.Sprintf("created_at >= $%d", arg))
		args = append(args, *filter.CreatedFrom)
		arg++
	}
	if filter.CreatedTo != nil {
		conditions = append(conditions, fmt.Sprintf("created_at < $%d", arg))
		args = append(args, *filter.CreatedTo)
		arg++
	}
	if filter.SuspectPrice != nil {
		conditions = append(conditions, fmt.Sprintf(
			"EXISTS (SELECT 1 FROM product_variants v WHERE v.product_id = products.id AND v.price = $%d)", arg))
		args = append(args, *filter.SuspectPrice)
		arg++
	}
	if filter.BatchID != nil {
		conditions = append(conditions, fmt.Sprintf("batch_id = $%d", arg))
		args = append(args, *filter.BatchID)
		arg++
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return central.CorrectionResult{}, fmt.Errorf("begin correction tx: %w", err)
	}
	defer tx.Rollback(ctx)

	query := fmt.Sprintf(`
		UPDATE products
		SET is_active = $1, updated_at = NOW()
		WHERE %s
		RETURNING id
	`, strings.Join(conditions, " AND "))
	rows, err := tx.Query(ctx, query, args...)
	if err != nil {
		return central.CorrectionResult{}, fmt.Errorf("toggle products: %w", err)
	}
	productIDs := make([]int64, 0)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return central.CorrectionResult{}, fmt.Errorf("scan toggled product: %w", err)
		}
		productIDs = append(productIDs, id)
	}
	if err := rows.Err(); err != nil {
		return central.CorrectionResult{}, fmt.Errorf("iterate toggled products: %w", err)
	}
	rows.Close()

	var result central.CorrectionResult
	result.Products = int64(len(productIDs))
	if len(productIDs) > 0 {
		cmd, err := tx.Exec(ctx, `
			UPDATE product_variants
			SET is_active = $1, updated_at = NOW()
			WHERE product_id = ANY($2) AND is_active <> $1
		`, active, productIDs)
		if err != nil {
			return central.CorrectionResult{}, fmt.Errorf("toggle variants: %w", err)
		}
		result.Variants = cmd.RowsAffected()
	}

	if err := tx.Commit(ctx); err != nil {
		return central.CorrectionResult{}, fmt.Errorf("commit correction tx: %w", err)
	}
	return result, nil
}

// countedTables is everything TableCounts reports: the reset targets
// plus users, which the reset must leave untouched.
var countedTables = []string{
	"sale_items", "invoice_payments", "sales", "inventory_movements",
	"audit_logs", "product_variants", "products", "categories",
	"customers", "settings", "users",
}

func (s *Store) TableCounts(ctx context.Context) (central.TableCounts, error) {
	counts := make(central.TableCounts, len(countedTables))
	for _, table := range countedTables {
		var n int64
		if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n); err != nil {
			return nil, fmt.Errorf("count %s: %w", table, err)
		}
		counts[table] = n
	}
	return counts, nil
}

func (s *Store) DeleteAllFrom(ctx context.Context, table string) (int64, error) {
	if !isCountedTable(table) || table == "users" {
		return 0, fmt.Errorf("refusing to wipe table %q", table)
	}
	cmd, err := s.pool.Exec(ctx, "DELETE FROM "+table)
	if err != nil {
		return 0, fmt.Errorf("wipe %s: %w", table, err)
	}
	return cmd.RowsAffected(), nil
}

func isCountedTable(table string) bool {
	for _, t := range countedTables {
		if t == table {
			return true
		}
	}
	return false
}

func originOrLocal(origin domain.Origin) string {
	if origin == "" {
		return string(domain.OriginLocal)
	}
	return string(origin)
}
