package domain

import (
	"encoding/json"
	"time"
)

// Origin records where a record came from. PLACEHOLDER rows were
// synthesized centrally to satisfy a foreign key before the
// authoritative record arrived.
type Origin string

const (
	OriginLocal       Origin = "LOCAL"
	OriginPlaceholder Origin = "PLACEHOLDER"
	OriginImported    Origin = "IMPORTED"
)

// Provenance is attached to every synced record at ingestion time so
// corrective rollback can target a batch instead of guessing from
// incidental field values.
type Provenance struct {
	Origin     Origin     `json:"origin"`
	BatchID    *string    `json:"batch_id,omitempty"`
	ImportedAt *time.Time `json:"imported_at,omitempty"`
}

type User struct {
	ID             int64      `json:"id"`
	Username       string     `json:"username"`
	Role           string     `json:"role"`
	CanRefund      bool       `json:"can_refund"`
	CanManageStock bool       `json:"can_manage_stock"`
	IsActive       bool       `json:"is_active"`
	Provenance     Provenance `json:"provenance"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

type Category struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	IsActive bool   `json:"is_active"`
}

type Product struct {
	ID         int64            `json:"id"`
	Name       string           `json:"name"`
	Category   *Category        `json:"category,omitempty"`
	IsActive   bool             `json:"is_active"`
	Provenance Provenance       `json:"provenance"`
	Variants   []ProductVariant `json:"variants"`
	CreatedAt  time.Time        `json:"created_at"`
	UpdatedAt  time.Time        `json:"updated_at"`
}

type ProductVariant struct {
	ID         int64      `json:"id"`
	ProductID  int64      `json:"product_id"`
	Name       string     `json:"name"`
	Barcode    string     `json:"barcode"`
	Price      float64    `json:"price"`
	CostPrice  float64    `json:"cost_price"`
	Stock      int        `json:"stock"`
	IsActive   bool       `json:"is_active"`
	Provenance Provenance `json:"provenance"`
}

type Sale struct {
	ID         int64            `json:"id"`
	BillNo     string           `json:"bill_no"`
	UserID     int64            `json:"user_id"`
	Username   string           `json:"username"`
	Subtotal   float64          `json:"subtotal"`
	Tax        float64          `json:"tax"`
	Discount   float64          `json:"discount"`
	GrandTotal float64          `json:"grand_total"`
	Items      []SaleItem       `json:"items"`
	Payments   []InvoicePayment `json:"payments"`
	CreatedAt  time.Time        `json:"created_at"`
}

type SaleItem struct {
	ID          int64   `json:"id"`
	SaleID      int64   `json:"sale_id"`
	VariantID   int64   `json:"variant_id"`
	Barcode     string  `json:"barcode"`
	ProductName string  `json:"product_name"`
	Quantity    int     `json:"quantity"`
	UnitPrice   float64 `json:"unit_price"`
	LineTotal   float64 `json:"line_total"`
}

type InvoicePayment struct {
	ID        int64     `json:"id"`
	SaleID    int64     `json:"sale_id"`
	Method    string    `json:"method"`
	Amount    float64   `json:"amount"`
	Reference *string   `json:"reference,omitempty"`
	PaidAt    time.Time `json:"paid_at"`
}

// QueueAction identifies the local mutation a queue entry carries.
type QueueAction string

const (
	ActionCheckout      QueueAction = "CHECKOUT"
	ActionPaymentUpdate QueueAction = "PAYMENT_UPDATE"
	ActionExchange      QueueAction = "EXCHANGE"
	ActionRefund        QueueAction = "REFUND"
)

// QueueStatus is the delivery state of a queue entry. FAILED is the
// dead-letter state reached once the retry budget is exhausted; it is
// never retried automatically.
type QueueStatus string

const (
	StatusPending QueueStatus = "PENDING"
	StatusSynced  QueueStatus = "SYNCED"
	StatusFailed  QueueStatus = "FAILED"
)

type SyncQueueEntry struct {
	ID            int64           `json:"id"`
	Action        QueueAction     `json:"action"`
	TargetModel   string          `json:"target_model"`
	Payload       json.RawMessage `json:"payload"`
	Status        QueueStatus     `json:"status"`
	RetryCount    int             `json:"retry_count"`
	LastError     *string         `json:"last_error,omitempty"`
	NextAttemptAt time.Time       `json:"next_attempt_at"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

type Setting struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// CatalogRow is one parsed line of a catalog import file.
type CatalogRow struct {
	ProductName string  `json:"product_name"`
	Category    string  `json:"category"`
	VariantName string  `json:"variant_name"`
	Barcode     string  `json:"barcode"`
	Price       float64 `json:"price"`
	CostPrice   float64 `json:"cost_price"`
	Stock       int     `json:"stock"`
}
