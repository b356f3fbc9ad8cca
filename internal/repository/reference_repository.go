package repository

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"bulk-import-service/internal/models"
)

// ReferenceRepositoryInterface answers existence queries against the tables
// an import references before anything is written
type ReferenceRepositoryInterface interface {
	ExistingUserIDs(ctx context.Context, merchantID uuid.UUID, ids []string) ([]string, error)
	ExistingSKUIDs(ctx context.Context, ids []string) ([]string, error)
}

// ReferenceRepository handles reference lookups for import validation
type ReferenceRepository struct {
	db *gorm.DB
}

// NewReferenceRepository creates a new ReferenceRepository
func NewReferenceRepository(db *gorm.DB) *ReferenceRepository {
	return &ReferenceRepository{db: db}
}

// ExistingUserIDs returns which of the given user IDs exist under the merchant
func (r *ReferenceRepository) ExistingUserIDs(ctx context.Context, merchantID uuid.UUID, ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var found []string
	err := r.db.WithContext(ctx).Model(&models.UserAccount{}).
		Where("merchant_id = ? AND id IN ?", merchantID, ids).
		Pluck("id", &found).Error
	return found, err
}

// ExistingSKUIDs returns which of the given SKU IDs exist in the catalog
func (r *ReferenceRepository) ExistingSKUIDs(ctx context.Context, ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var found []string
	err := r.db.WithContext(ctx).Model(&models.ProductSKU{}).
		Where("id IN ?", ids).
		Pluck("id", &found).Error
	return found, err
}
