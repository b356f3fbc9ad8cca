package models

import (
	"time"

	"github.com/google/uuid"
)

// Purchase defaults applied when the CSV omits optional header fields
const (
	DefaultPurchaseStatus    = "completed"
	DefaultPaymentStatus     = "paid"
	DefaultRecordType        = "credit"
	DefaultProcessingMethod  = "queue"
	DefaultTransactionSource = "admin"
)

// Purchase is one transactional unit: a purchase header plus its ordered
// line items, grouped from CSV rows by transaction number. The JSON shape is
// the contract of the bulk_insert_purchases_with_items procedure.
type Purchase struct {
	TransactionNumber string  `json:"transaction_number"`
	TransactionDate   string  `json:"transaction_date"`
	UserID            string  `json:"user_id"`
	StoreID           *string `json:"store_id"`
	TotalAmount       float64 `json:"total_amount"`
	DiscountAmount    float64 `json:"discount_amount"`
	TaxAmount         float64 `json:"tax_amount"`
	FinalAmount       float64 `json:"final_amount"`
	Status            string  `json:"status"`
	PaymentStatus     string  `json:"payment_status"`
	RecordType        string  `json:"record_type"`
	ProcessingMethod  string  `json:"processing_method"`
	EarnCurrency      bool    `json:"earn_currency"`
	TransactionSource string  `json:"transaction_source"`
	ExternalRef       *string `json:"external_ref"`
	Notes             *string `json:"notes"`

	Items []PurchaseItem `json:"items"`
}

// PurchaseItem is one line on a purchase, in input row order
type PurchaseItem struct {
	SKUID          string  `json:"sku_id"`
	Quantity       float64 `json:"quantity"`
	UnitPrice      float64 `json:"unit_price"`
	DiscountAmount float64 `json:"discount_amount"`
	TaxAmount      float64 `json:"tax_amount"`
	LineTotal      float64 `json:"line_total"`
}

// PurchaseCommitResult is the result row returned by
// bulk_insert_purchases_with_items
type PurchaseCommitResult struct {
	Success           bool    `json:"success"`
	ErrorMessage      *string `json:"error_message,omitempty"`
	ImportedPurchases int     `json:"imported_purchases"`
	ImportedItems     int     `json:"imported_items"`
}

// UserAccount is the authoritative customer entity referenced by purchase
// rows. Only the columns needed for existence checks are mapped here; the
// table is owned by the CRM data store.
type UserAccount struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	MerchantID uuid.UUID `gorm:"type:uuid;not null;index" json:"merchantId"`
	Email      *string   `gorm:"type:varchar(255)" json:"email,omitempty"`
	Tel        *string   `gorm:"type:varchar(50)" json:"tel,omitempty"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"createdAt"`
}

// TableName returns the table name for UserAccount
func (UserAccount) TableName() string {
	return "user_accounts"
}

// ProductSKU is the authoritative product entity referenced by purchase line
// items
type ProductSKU struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	SKUCode   string    `gorm:"type:varchar(100)" json:"skuCode"`
	Name      string    `gorm:"type:varchar(255)" json:"name"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"createdAt"`
}

// TableName returns the table name for ProductSKU
func (ProductSKU) TableName() string {
	return "product_sku_master"
}
