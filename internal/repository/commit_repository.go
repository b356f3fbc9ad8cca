package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"bulk-import-service/internal/models"
	"bulk-import-service/internal/parser"
)

// CommitRepositoryInterface wraps the set-based insert procedures. Each call
// is a single transaction inside the database: either every row lands or
// none do.
type CommitRepositoryInterface interface {
	CommitPurchases(ctx context.Context, merchantID, batchID uuid.UUID, purchases []models.Purchase) (*models.PurchaseCommitResult, error)
	CommitCustomers(ctx context.Context, merchantID, batchID uuid.UUID, rows []parser.Row, createWalletLedgerEntry bool, maxErrors int) (*models.CustomerCommitResult, error)
}

// CommitRepository executes the bulk insert procedures
type CommitRepository struct {
	db *gorm.DB
}

// NewCommitRepository creates a new CommitRepository
func NewCommitRepository(db *gorm.DB) *CommitRepository {
	return &CommitRepository{db: db}
}

// CommitPurchases inserts all purchases and their items in one transaction
// via bulk_insert_purchases_with_items
func (r *CommitRepository) CommitPurchases(ctx context.Context, merchantID, batchID uuid.UUID, purchases []models.Purchase) (*models.PurchaseCommitResult, error) {
	payload, err := json.Marshal(purchases)
	if err != nil {
		return nil, fmt.Errorf("encode purchases: %w", err)
	}

	var row struct {
		Success           bool    `gorm:"column:success"`
		ErrorMessage      *string `gorm:"column:error_message"`
		ImportedPurchases int     `gorm:"column:imported_purchases"`
		ImportedItems     int     `gorm:"column:imported_items"`
	}
	result := r.db.WithContext(ctx).Raw(`
		SELECT success, error_message, imported_purchases, imported_items
		FROM bulk_insert_purchases_with_items(?::jsonb, ?, ?)
	`, string(payload), merchantID, batchID).Scan(&row)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, fmt.Errorf("bulk_insert_purchases_with_items returned no result row")
	}

	return &models.PurchaseCommitResult{
		Success:           row.Success,
		ErrorMessage:      row.ErrorMessage,
		ImportedPurchases: row.ImportedPurchases,
		ImportedItems:     row.ImportedItems,
	}, nil
}

// CommitCustomers validates and upserts customer rows in one transaction via
// bulk_upsert_customers_from_import. Row-level validation failures come back
// in the result, not as an error.
func (r *CommitRepository) CommitCustomers(ctx context.Context, merchantID, batchID uuid.UUID, rows []parser.Row, createWalletLedgerEntry bool, maxErrors int) (*models.CustomerCommitResult, error) {
	payload, err := json.Marshal(customerPayload(rows))
	if err != nil {
		return nil, fmt.Errorf("encode rows: %w", err)
	}

	var row struct {
		Success         bool           `gorm:"column:success"`
		Valid           bool           `gorm:"column:valid"`
		ImportedCount   int            `gorm:"column:imported_count"`
		UpdatedCount    int            `gorm:"column:updated_count"`
		ErrorMessage    *string        `gorm:"column:error_message"`
		Errors          datatypes.JSON `gorm:"column:errors"`
		TotalErrorCount int            `gorm:"column:total_error_count"`
	}
	result := r.db.WithContext(ctx).Raw(`
		SELECT success, valid, imported_count, updated_count, error_message, errors, total_error_count
		FROM bulk_upsert_customers_from_import(?::jsonb, ?, ?, ?, ?)
	`, string(payload), merchantID, createWalletLedgerEntry, batchID, maxErrors).Scan(&row)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, fmt.Errorf("bulk_upsert_customers_from_import returned no result row")
	}

	out := &models.CustomerCommitResult{
		Success:         row.Success,
		Valid:           row.Valid,
		ImportedCount:   row.ImportedCount,
		UpdatedCount:    row.UpdatedCount,
		ErrorMessage:    row.ErrorMessage,
		TotalErrorCount: row.TotalErrorCount,
	}
	if len(row.Errors) > 0 {
		if err := json.Unmarshal(row.Errors, &out.Errors); err != nil {
			return nil, fmt.Errorf("decode row errors: %w", err)
		}
	}
	return out, nil
}

// customerPayload copies rows without the parser's row-number bookkeeping
// key; the procedure receives customer fields only
func customerPayload(rows []parser.Row) []parser.Row {
	out := make([]parser.Row, len(rows))
	for i, row := range rows {
		clean := make(parser.Row, len(row))
		for k, v := range row {
			if k == parser.RowNumberKey {
				continue
			}
			clean[k] = v
		}
		out[i] = clean
	}
	return out
}
