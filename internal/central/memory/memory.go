// Package memory implements the central store in memory. It backs the
// reconciliation tests and doubles as a dev-mode store.
package memory

import (
	"context"
	"sync"
	"time"

	"possync/internal/central"
	"possync/internal/domain"
)

type userRow struct {
	id         int64
	username   string
	role       string
	canRefund  bool
	canStock   bool
	isActive   bool
	origin     domain.Origin
	batchID    *string
	importedAt *time.Time
}

type categoryRow struct {
	id       int64
	name     string
	isActive bool
}

type productRow struct {
	id         int64
	name       string
	categoryID *int64
	isActive   bool
	origin     domain.Origin
	batchID    *string
	importedAt *time.Time
	createdAt  time.Time
}

type variantRow struct {
	id        int64
	productID int64
	name      string
	barcode   string
	price     float64
	costPrice float64
	stock     int
	isActive  bool
	origin    domain.Origin
}

type saleRow struct {
	id         int64
	billNo     string
	userID     int64
	subtotal   float64
	tax        float64
	discount   float64
	grandTotal float64
	createdAt  time.Time
}

type itemRow struct {
	id          int64
	saleID      int64
	variantID   *int64
	barcode     string
	productName string
	quantity    int
	unitPrice   float64
	lineTotal   float64
}

type paymentRow struct {
	id     int64
	saleID int64
	p      domain.InvoicePayment
}

type state struct {
	seq        int64
	users      map[int64]userRow
	categories map[int64]categoryRow
	products   map[int64]productRow
	variants   map[int64]variantRow
	sales      map[int64]saleRow
	items      map[int64]itemRow
	payments   map[int64]paymentRow
	settings   map[string]string
	// Tables the sync engine never populates but the reset must still
	// wipe and count.
	extraRows map[string]int64
}

func newState() *state {
	return &state{
		users:      map[int64]userRow{},
		categories: map[int64]categoryRow{},
		products:   map[int64]productRow{},
		variants:   map[int64]variantRow{},
		sales:      map[int64]saleRow{},
		items:      map[int64]itemRow{},
		payments:   map[int64]paymentRow{},
		settings:   map[string]string{},
		extraRows:  map[string]int64{"inventory_movements": 0, "audit_logs": 0, "customers": 0},
	}
}

func (st *state) clone() *state {
	cp := newState()
	cp.seq = st.seq
	for k, v := range st.users {
		cp.users[k] = v
	}
	for k, v := range st.categories {
		cp.categories[k] = v
	}
	for k, v := range st.products {
		cp.products[k] = v
	}
	for k, v := range st.variants {
		cp.variants[k] = v
	}
	for k, v := range st.sales {
		cp.sales[k] = v
	}
	for k, v := range st.items {
		cp.items[k] = v
	}
	for k, v := range st.payments {
		cp.payments[k] = v
	}
	for k, v := range st.settings {
		cp.settings[k] = v
	}
	for k, v := range st.extraRows {
		cp.extraRows[k] = v
	}
	return cp
}

func (st *state) nextID() int64 {
	st.seq++
	return st.seq
}

type Store struct {
	mu sync.Mutex
	st *state
}

func New() *Store {
	return &Store{st: newState()}
}

// WithTx snapshots the state before running fn and restores it if fn
// fails, giving the same all-or-nothing contract as the SQL store.
func (s *Store) WithTx(ctx context.Context, fn func(central.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.st.clone()
	if err := fn(&memTx{st: s.st}); err != nil {
		s.st = snapshot
		return err
	}
	return nil
}

type memTx struct {
	st *state
}

func (t *memTx) UserIDByUsername(_ context.Context, username string) (int64, bool, error) {
	for _, u := range t.st.users {
		if u.username == username {
			return u.id, true, nil
		}
	}
	return 0, false, nil
}

func (t *memTx) InsertPlaceholderUser(_ context.Context, username string) (int64, error) {
	for _, u := range t.st.users {
		if u.username == username {
			return u.id, nil
		}
	}
	id := t.st.nextID()
	t.st.users[id] = userRow{
		id:       id,
		username: username,
		role:     "cashier",
		isActive: true,
		origin:   domain.OriginPlaceholder,
	}
	return id, nil
}

func (t *memTx) UpsertUser(_ context.Context, user domain.User) error {
	origin := user.Provenance.Origin
	if origin == "" {
		origin = domain.OriginLocal
	}
	row := userRow{
		username:   user.Username,
		role:       user.Role,
		canRefund:  user.CanRefund,
		canStock:   user.CanManageStock,
		isActive:   user.IsActive,
		origin:     origin,
		batchID:    user.Provenance.BatchID,
		importedAt: user.Provenance.ImportedAt,
	}
	for id, existing := range t.st.users {
		if existing.username == user.Username {
			row.id = id
			t.st.users[id] = row
			return nil
		}
	}
	row.id = t.st.nextID()
	t.st.users[row.id] = row
	return nil
}

func (t *memTx) UpsertCategory(_ context.Context, name string) (int64, error) {
	for id, c := range t.st.categories {
		if c.name == name {
			return id, nil
		}
	}
	id := t.st.nextID()
	t.st.categories[id] = categoryRow{id: id, name: name, isActive: true}
	return id, nil
}

func (t *memTx) UpsertProduct(_ context.Context, product domain.Product, categoryID *int64) (int64, error) {
	origin := product.Provenance.Origin
	if origin == "" {
		origin = domain.OriginLocal
	}
	for id, existing := range t.st.products {
		if existing.name == product.Name {
			existing.categoryID = categoryID
			existing.isActive = product.IsActive
			existing.origin = origin
			existing.batchID = product.Provenance.BatchID
			existing.importedAt = product.Provenance.ImportedAt
			t.st.products[id] = existing
			return id, nil
		}
	}
	id := t.st.nextID()
	t.st.products[id] = productRow{
		id:         id,
		name:       product.Name,
		categoryID: categoryID,
		isActive:   product.IsActive,
		origin:     origin,
		batchID:    product.Provenance.BatchID,
		importedAt: product.Provenance.ImportedAt,
		createdAt:  time.Now().UTC(),
	}
	return id, nil
}

func (t *memTx) UpsertVariant(_ context.Context, productID int64, variant domain.ProductVariant) error {
	origin := variant.Provenance.Origin
	if origin == "" {
		origin = domain.OriginLocal
	}
	for id, existing := range t.st.variants {
		if existing.barcode == variant.Barcode && existing.isActive {
			existing.productID = productID
			existing.name = variant.Name
			existing.price = variant.Price
			existing.costPrice = variant.CostPrice
			existing.stock = variant.Stock
			existing.origin = origin
			t.st.variants[id] = existing
			return nil
		}
	}
	id := t.st.nextID()
	t.st.variants[id] = variantRow{
		id:        id,
		productID: productID,
		name:      variant.Name,
		barcode:   variant.Barcode,
		price:     variant.Price,
		costPrice: variant.CostPrice,
		stock:     variant.Stock,
		isActive:  true,
		origin:    origin,
	}
	return nil
}

func (t *memTx) VariantIDByBarcode(_ context.Context, barcode string) (int64, bool, error) {
	for id, v := range t.st.variants {
		if v.barcode == barcode && v.isActive {
			return id, true, nil
		}
	}
	return 0, false, nil
}

func (t *memTx) EnsurePlaceholderProduct(_ context.Context, name string) (int64, bool, error) {
	for id, p := range t.st.products {
		if p.name == name {
			return id, false, nil
		}
	}
	id := t.st.nextID()
	t.st.products[id] = productRow{
		id:        id,
		name:      name,
		isActive:  true,
		origin:    domain.OriginPlaceholder,
		createdAt: time.Now().UTC(),
	}
	return id, true, nil
}

func (t *memTx) UpsertSale(_ context.Context, sale domain.Sale, userID int64) (int64, error) {
	row := saleRow{
		billNo:     sale.BillNo,
		userID:     userID,
		subtotal:   sale.Subtotal,
		tax:        sale.Tax,
		discount:   sale.Discount,
		grandTotal: sale.GrandTotal,
		createdAt:  sale.CreatedAt,
	}
	for id, existing := range t.st.sales {
		if existing.billNo == sale.BillNo {
			row.id = id
			row.createdAt = existing.createdAt
			t.st.sales[id] = row
			return id, nil
		}
	}
	row.id = t.st.nextID()
	t.st.sales[row.id] = row
	return row.id, nil
}

func (t *memTx) ReplaceSaleItems(_ context.Context, saleID int64, items []central.ResolvedItem) error {
	for id, item := range t.st.items {
		if item.saleID == saleID {
			delete(t.st.items, id)
		}
	}
	for _, item := range items {
		id := t.st.nextID()
		t.st.items[id] = itemRow{
			id:          id,
			saleID:      saleID,
			variantID:   item.VariantID,
			barcode:     item.Barcode,
			productName: item.ProductName,
			quantity:    item.Quantity,
			unitPrice:   item.UnitPrice,
			lineTotal:   item.LineTotal,
		}
	}
	return nil
}

func (t *memTx) ReplaceSalePayments(_ context.Context, saleID int64, payments []domain.InvoicePayment) error {
	for id, p := range t.st.payments {
		if p.saleID == saleID {
			delete(t.st.payments, id)
		}
	}
	for _, p := range payments {
		id := t.st.nextID()
		t.st.payments[id] = paymentRow{id: id, saleID: saleID, p: p}
	}
	return nil
}

func (s *Store) PlaceholderProducts(_ context.Context) ([]central.PlaceholderProduct, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	placeholders := make([]central.PlaceholderProduct, 0)
	for _, p := range s.st.products {
		if p.origin != domain.OriginPlaceholder {
			continue
		}
		count := 0
		for _, v := range s.st.variants {
			if v.productID == p.id {
				count++
			}
		}
		placeholders = append(placeholders, central.PlaceholderProduct{
			ID:           p.id,
			Name:         p.name,
			VariantCount: count,
		})
	}
	return placeholders, nil
}

func (s *Store) DeleteProduct(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.st.products[id]; !ok {
		return central.ErrNotFound
	}
	delete(s.st.products, id)
	return nil
}

func (s *Store) SetActiveByFilter(_ context.Context, filter central.CorrectionFilter, active bool) (central.CorrectionResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result central.CorrectionResult
	for id, p := range s.st.products {
		if p.isActive == active || !s.matches(p, filter) {
			continue
		}
		p.isActive = active
		s.st.products[id] = p
		result.Products++
		for vid, v := range s.st.variants {
			if v.productID == id && v.isActive != active {
				v.isActive = active
				s.st.variants[vid] = v
				result.Variants++
			}
		}
	}
	return result, nil
}

func (s *Store) matches(p productRow, filter central.CorrectionFilter) bool {
	if filter.MissingCategory && p.categoryID != nil {
		return false
	}
	if filter.CreatedFrom != nil && p.createdAt.Before(*filter.CreatedFrom) {
		return false
	}
	if filter.CreatedTo != nil && !p.createdAt.Before(*filter.CreatedTo) {
		return false
	}
	if filter.BatchID != nil && (p.batchID == nil || *p.batchID != *filter.BatchID) {
		return false
	}
	if filter.SuspectPrice != nil {
		found := false
		for _, v := range s.st.variants {
			if v.productID == p.id && v.price == *filter.SuspectPrice {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func (s *Store) TableCounts(_ context.Context) (central.TableCounts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	counts := central.TableCounts{
		"sale_items":       int64(len(s.st.items)),
		"invoice_payments": int64(len(s.st.payments)),
		"sales":            int64(len(s.st.sales)),
		"product_variants": int64(len(s.st.variants)),
		"products":         int64(len(s.st.products)),
		"categories":       int64(len(s.st.categories)),
		"settings":         int64(len(s.st.settings)),
		"users":            int64(len(s.st.users)),
	}
	for table, n := range s.st.extraRows {
		counts[table] = n
	}
	return counts, nil
}

func (s *Store) DeleteAllFrom(_ context.Context, table string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch table {
	case "sale_items":
		n := int64(len(s.st.items))
		s.st.items = map[int64]itemRow{}
		return n, nil
	case "invoice_payments":
		n := int64(len(s.st.payments))
		s.st.payments = map[int64]paymentRow{}
		return n, nil
	case "sales":
		n := int64(len(s.st.sales))
		s.st.sales = map[int64]saleRow{}
		return n, nil
	case "product_variants":
		n := int64(len(s.st.variants))
		s.st.variants = map[int64]variantRow{}
		return n, nil
	case "products":
		n := int64(len(s.st.products))
		s.st.products = map[int64]productRow{}
		return n, nil
	case "categories":
		n := int64(len(s.st.categories))
		s.st.categories = map[int64]categoryRow{}
		return n, nil
	case "settings":
		n := int64(len(s.st.settings))
		s.st.settings = map[string]string{}
		return n, nil
	case "inventory_movements", "audit_logs", "customers":
		n := s.st.extraRows[table]
		s.st.extraRows[table] = 0
		return n, nil
	default:
		return 0, central.ErrNotFound
	}
}

// The query helpers below assemble domain views for assertions and the
// dev-mode API.

func (s *Store) UserByUsername(username string) (domain.User, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range s.st.users {
		if u.username == username {
			return domain.User{
				ID:             u.id,
				Username:       u.username,
				Role:           u.role,
				CanRefund:      u.canRefund,
				CanManageStock: u.canStock,
				IsActive:       u.isActive,
				Provenance: domain.Provenance{
					Origin:     u.origin,
					BatchID:    u.batchID,
					ImportedAt: u.importedAt,
				},
			}, true
		}
	}
	return domain.User{}, false
}

func (s *Store) ProductByName(name string) (domain.Product, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range s.st.products {
		if p.name != name {
			continue
		}
		product := domain.Product{
			ID:       p.id,
			Name:     p.name,
			IsActive: p.isActive,
			Provenance: domain.Provenance{
				Origin:     p.origin,
				BatchID:    p.batchID,
				ImportedAt: p.importedAt,
			},
			CreatedAt: p.createdAt,
		}
		if p.categoryID != nil {
			if c, ok := s.st.categories[*p.categoryID]; ok {
				product.Category = &domain.Category{ID: c.id, Name: c.name, IsActive: c.isActive}
			}
		}
		for _, v := range s.st.variants {
			if v.productID == p.id {
				product.Variants = append(product.Variants, domain.ProductVariant{
					ID:        v.id,
					ProductID: v.productID,
					Name:      v.name,
					Barcode:   v.barcode,
					Price:     v.price,
					CostPrice: v.costPrice,
					Stock:     v.stock,
					IsActive:  v.isActive,
					Provenance: domain.Provenance{
						Origin: v.origin,
					},
				})
			}
		}
		return product, true
	}
	return domain.Product{}, false
}

func (s *Store) SaleByBillNo(billNo string) (domain.Sale, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, row := range s.st.sales {
		if row.billNo != billNo {
			continue
		}
		sale := domain.Sale{
			ID:         row.id,
			BillNo:     row.billNo,
			UserID:     row.userID,
			Subtotal:   row.subtotal,
			Tax:        row.tax,
			Discount:   row.discount,
			GrandTotal: row.grandTotal,
			CreatedAt:  row.createdAt,
		}
		for _, item := range s.st.items {
			if item.saleID == row.id {
				var variantID int64
				if item.variantID != nil {
					variantID = *item.variantID
				}
				sale.Items = append(sale.Items, domain.SaleItem{
					ID:          item.id,
					SaleID:      item.saleID,
					VariantID:   variantID,
					Barcode:     item.barcode,
					ProductName: item.productName,
					Quantity:    item.quantity,
					UnitPrice:   item.unitPrice,
					LineTotal:   item.lineTotal,
				})
			}
		}
		for _, p := range s.st.payments {
			if p.saleID == row.id {
				payment := p.p
				payment.ID = p.id
				payment.SaleID = p.saleID
				sale.Payments = append(sale.Payments, payment)
			}
		}
		return sale, true
	}
	return domain.Sale{}, false
}
