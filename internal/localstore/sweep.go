package localstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"possync/internal/domain"
)

// The sweep methods back the batcher: they select records not yet
// acknowledged by the central service (synced_at IS NULL) and mark them
// once a chunk is delivered.

func (s *Store) UnsyncedUsers(ctx context.Context, limit int) ([]domain.User, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, username, role, can_refund, can_manage_stock, is_active, origin, batch_id, imported_at, created_at, updated_at
		FROM users
		WHERE synced_at IS NULL
		ORDER BY id ASC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list unsynced users: %w", err)
	}
	defer rows.Close()

	users := make([]domain.User, 0)
	for rows.Next() {
		var u domain.User
		if err := rows.Scan(
			&u.ID, &u.Username, &u.Role, &u.CanRefund, &u.CanManageStock, &u.IsActive,
			&u.Provenance.Origin, &u.Provenance.BatchID, &u.Provenance.ImportedAt,
			&u.CreatedAt, &u.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}
	return users, nil
}

func (s *Store) UnsyncedProducts(ctx context.Context, limit int) ([]domain.Product, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT p.id, p.name, p.is_active, p.origin, p.batch_id, p.imported_at, p.created_at, p.updated_at,
			c.id, c.name, c.is_active
		FROM products p
		LEFT JOIN categories c ON c.id = p.category_id
		WHERE p.synced_at IS NULL
		ORDER BY p.id ASC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list unsynced products: %w", err)
	}
	defer rows.Close()

	products := make([]domain.Product, 0)
	for rows.Next() {
		var (
			p         domain.Product
			catID     *int64
			catName   *string
			catActive *bool
		)
		if err := rows.Scan(
			&p.ID, &p.Name, &p.IsActive,
			&p.Provenance.Origin, &p.Provenance.BatchID, &p.Provenance.ImportedAt,
			&p.CreatedAt, &p.UpdatedAt,
			&catID, &catName, &catActive,
		); err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		if catID != nil {
			p.Category = &domain.Category{ID: *catID, Name: *catName, IsActive: *catActive}
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate products: %w", err)
	}

	for i := range products {
		variants, err := s.variantsForProduct(ctx, products[i].ID)
		if err != nil {
			return nil, err
		}
		products[i].Variants = variants
	}
	return products, nil
}

func (s *Store) variantsForProduct(ctx context.Context, productID int64) ([]domain.ProductVariant, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, product_id, name, barcode, price, cost_price, stock, is_active, origin
		FROM product_variants
		WHERE product_id = ?
		ORDER BY id ASC
	`, productID)
	if err != nil {
		return nil, fmt.Errorf("list variants for product %d: %w", productID, err)
	}
	defer rows.Close()

	variants := make([]domain.ProductVariant, 0)
	for rows.Next() {
		var v domain.ProductVariant
		if err := rows.Scan(
			&v.ID, &v.ProductID, &v.Name, &v.Barcode, &v.Price, &v.CostPrice,
			&v.Stock, &v.IsActive, &v.Provenance.Origin,
		); err != nil {
			return nil, fmt.Errorf("scan variant: %w", err)
		}
		variants = append(variants, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate variants: %w", err)
	}
	return variants, nil
}

func (s *Store) UnsyncedSales(ctx context.Context, limit int) ([]domain.Sale, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT bill_no
		FROM sales
		WHERE synced_at IS NULL
		ORDER BY id ASC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list unsynced sales: %w", err)
	}
	billNos := make([]string, 0)
	for rows.Next() {
		var billNo string
		if err := rows.Scan(&billNo); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan bill no: %w", err)
		}
		billNos = append(billNos, billNo)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterate unsynced sales: %w", err)
	}
	rows.Close()

	sales := make([]domain.Sale, 0, len(billNos))
	for _, billNo := range billNos {
		sale, err := s.SaleByBillNo(ctx, billNo)
		if err != nil {
			return nil, err
		}
		sales = append(sales, *sale)
	}
	return sales, nil
}

func (s *Store) MarkUsersSynced(ctx context.Context, ids []int64) error {
	return s.markSynced(ctx, "users", ids)
}

func (s *Store) MarkProductsSynced(ctx context.Context, ids []int64) error {
	return s.markSynced(ctx, "products", ids)
}

func (s *Store) MarkSalesSynced(ctx context.Context, ids []int64) error {
	return s.markSynced(ctx, "sales", ids)
}

func (s *Store) markSynced(ctx context.Context, table string, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, 0, len(ids)+1)
	args = append(args, nowUTC())
	for _, id := range ids {
		args = append(args, id)
	}
	query := fmt.Sprintf("UPDATE %s SET synced_at = ? WHERE id IN (%s)", table, placeholders)
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("mark %s synced: %w", table, err)
	}
	return nil
}

// UpsertUser records a local user account; re-upserting by username
// clears synced_at so the change is swept out again.
func (s *Store) UpsertUser(ctx context.Context, user domain.User) (int64, error) {
	username := strings.TrimSpace(user.Username)
	if username == "" {
		return 0, fmt.Errorf("username is required")
	}
	if user.Role == "" {
		user.Role = "cashier"
	}
	origin := user.Provenance.Origin
	if origin == "" {
		origin = domain.OriginLocal
	}

	now := nowUTC()
	var id int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO users (username, role, can_refund, can_manage_stock, is_active, origin, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(username) DO UPDATE SET
			role = excluded.role,
			can_refund = excluded.can_refund,
			can_manage_stock = excluded.can_manage_stock,
			is_active = excluded.is_active,
			updated_at = excluded.updated_at,
			synced_at = NULL
		RETURNING id
	`, username, user.Role, user.CanRefund, user.CanManageStock, user.IsActive, string(origin), now, now).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("upsert user %s: %w", username, err)
	}
	return id, nil
}

type VariantInput struct {
	Name      string
	Barcode   string
	Price     float64
	CostPrice float64
	Stock     int
}

type ProductInput struct {
	Name     string
	Category string
	Variants []VariantInput
	Origin   domain.Origin
	BatchID  *string
}

// UpsertProduct records a product with its variants, upserting the
// product by name and each variant by barcode.
func (s *Store) UpsertProduct(ctx context.Context, input ProductInput) (int64, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return 0, fmt.Errorf("product name is required")
	}
	origin := input.Origin
	if origin == "" {
		origin = domain.OriginLocal
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin product tx: %w", err)
	}
	defer tx.Rollback()

	now := nowUTC()
	var categoryID *int64
	if category := strings.TrimSpace(input.Category); category != "" {
		var id int64
		err := tx.QueryRowContext(ctx, `
			INSERT INTO categories (name, is_active) VALUES (?, 1)
			ON CONFLICT(name) DO UPDATE SET name = excluded.name
			RETURNING id
		`, category).Scan(&id)
		if err != nil {
			return 0, fmt.Errorf("upsert category %s: %w", category, err)
		}
		categoryID = &id
	}

	var importedAt *time.Time
	if origin == domain.OriginImported {
		importedAt = &now
	}
	var productID int64
	err = tx.QueryRowContext(ctx, `
		INSERT INTO products (name, category_id, is_active, origin, batch_id, imported_at, created_at, updated_at)
		VALUES (?, ?, 1, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			category_id = excluded.category_id,
			is_active = 1,
			updated_at = excluded.updated_at,
			synced_at = NULL
		RETURNING id
	`, name, categoryID, string(origin), input.BatchID, importedAt, now, now).Scan(&productID)
	if err != nil {
		return 0, fmt.Errorf("upsert product %s: %w", name, err)
	}

	for _, v := range input.Variants {
		if strings.TrimSpace(v.Barcode) == "" {
			return 0, fmt.Errorf("variant barcode is required for product %s", name)
		}
		if err := upsertVariantTx(ctx, tx, productID, v, origin, now); err != nil {
			return 0, err
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit product tx: %w", err)
	}
	return productID, nil
}

func upsertVariantTx(ctx context.Context, tx *sql.Tx, productID int64, v VariantInput, origin domain.Origin, now time.Time) error {
	var existing int64
	err := tx.QueryRowContext(ctx,
		"SELECT id FROM product_variants WHERE barcode = ? AND is_active = 1",
		v.Barcode,
	).Scan(&existing)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO product_variants (product_id, name, barcode, price, cost_price, stock, is_active, origin, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, 1, ?, ?, ?)
		`, productID, v.Name, v.Barcode, v.Price, v.CostPrice, v.Stock, string(origin), now, now); err != nil {
			return fmt.Errorf("insert variant %s: %w", v.Barcode, err)
		}
	case err != nil:
		return fmt.Errorf("find variant %s: %w", v.Barcode, err)
	default:
		if _, err := tx.ExecContext(ctx, `
			UPDATE product_variants
			SET product_id = ?, name = ?, price = ?, cost_price = ?, stock = ?, updated_at = ?
			WHERE id = ?
		`, productID, v.Name, v.Price, v.CostPrice, v.Stock, now, existing); err != nil {
			return fmt.Errorf("update variant %s: %w", v.Barcode, err)
		}
	}
	return nil
}
