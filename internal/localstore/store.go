// Package localstore is the terminal's authoritative store: an embedded
// SQLite database owning all point-of-sale writes, the durable sync
// queue, and the settings needed by the sync engine.
package localstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

var ErrNotFound = errors.New("not found")

type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the terminal database at path and
// ensures the schema exists. Use ":memory:" for an ephemeral store.
func Open(ctx context.Context, path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_busy_timeout=5000", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A single connection serializes writers and keeps :memory:
	// databases from vanishing between pool connections.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	username TEXT NOT NULL UNIQUE,
	role TEXT NOT NULL DEFAULT 'cashier',
	can_refund INTEGER NOT NULL DEFAULT 0,
	can_manage_stock INTEGER NOT NULL DEFAULT 0,
	is_active INTEGER NOT NULL DEFAULT 1,
	origin TEXT NOT NULL DEFAULT 'LOCAL',
	batch_id TEXT,
	imported_at TIMESTAMP,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL,
	synced_at TIMESTAMP
);

CREATE TABLE IF NOT EXISTS categories (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL UNIQUE,
	is_active INTEGER NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS products (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL UNIQUE,
	category_id INTEGER REFERENCES categories(id),
	is_active INTEGER NOT NULL DEFAULT 1,
	origin TEXT NOT NULL DEFAULT 'LOCAL',
	batch_id TEXT,
	imported_at TIMESTAMP,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL,
	synced_at TIMESTAMP
);

CREATE TABLE IF NOT EXISTS product_variants (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	product_id INTEGER NOT NULL REFERENCES products(id),
	name TEXT NOT NULL,
	barcode TEXT NOT NULL,
	price REAL NOT NULL DEFAULT 0,
	cost_price REAL NOT NULL DEFAULT 0,
	stock INTEGER NOT NULL DEFAULT 0,
	is_active INTEGER NOT NULL DEFAULT 1,
	origin TEXT NOT NULL DEFAULT 'LOCAL',
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS uq_variants_barcode_active
	ON product_variants (barcode) WHERE is_active = 1;

CREATE TABLE IF NOT EXISTS sales (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	bill_no TEXT NOT NULL UNIQUE,
	user_id INTEGER NOT NULL REFERENCES users(id),
	subtotal REAL NOT NULL DEFAULT 0,
	tax REAL NOT NULL DEFAULT 0,
	discount REAL NOT NULL DEFAULT 0,
	grand_total REAL NOT NULL DEFAULT 0,
	created_at TIMESTAMP NOT NULL,
	synced_at TIMESTAMP
);

CREATE TABLE IF NOT EXISTS sale_items (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	sale_id INTEGER NOT NULL REFERENCES sales(id) ON DELETE CASCADE,
	variant_id INTEGER NOT NULL REFERENCES product_variants(id),
	quantity INTEGER NOT NULL,
	unit_price REAL NOT NULL DEFAULT 0,
	line_total REAL NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS invoice_payments (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	sale_id INTEGER NOT NULL REFERENCES sales(id) ON DELETE CASCADE,
	method TEXT NOT NULL,
	amount REAL NOT NULL DEFAULT 0,
	reference TEXT,
	paid_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS sync_queue (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	action TEXT NOT NULL,
	target_model TEXT NOT NULL,
	payload TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'PENDING',
	retry_count INTEGER NOT NULL DEFAULT 0,
	last_error TEXT,
	next_attempt_at TIMESTAMP NOT NULL,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS settings (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

// Setting returns the value stored under key, or ErrNotFound.
func (s *Store) Setting(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM settings WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("read setting %s: %w", key, err)
	}
	return value, nil
}

func (s *Store) PutSetting(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return fmt.Errorf("put setting %s: %w", key, err)
	}
	return nil
}

func totalsConsistent(subtotal, tax, discount, grandTotal float64) bool {
	return math.Abs(subtotal+tax-discount-grandTotal) < 0.005
}

func nowUTC() time.Time {
	return time.Now().UTC()
}
