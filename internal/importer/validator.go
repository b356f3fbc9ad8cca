package importer

import (
	"context"

	"github.com/google/uuid"

	"bulk-import-service/internal/models"
	"bulk-import-service/internal/repository"
)

// ReferenceValidator confirms every foreign identifier referenced by a set
// of purchases exists before anything is committed
type ReferenceValidator struct {
	store repository.ReferenceRepositoryInterface
}

// NewReferenceValidator creates a new ReferenceValidator
func NewReferenceValidator(store repository.ReferenceRepositoryInterface) *ReferenceValidator {
	return &ReferenceValidator{store: store}
}

// ValidatePurchaseReferences runs one batched existence check per identifier
// type. A cardinality mismatch between the requested and existing sets means
// at least one unknown reference and fails the whole batch.
func (v *ReferenceValidator) ValidatePurchaseReferences(ctx context.Context, merchantID uuid.UUID, purchases []models.Purchase) error {
	userIDs := distinctUserIDs(purchases)
	skuIDs := distinctSKUIDs(purchases)

	if len(userIDs) > 0 {
		existing, err := v.store.ExistingUserIDs(ctx, merchantID, userIDs)
		if err != nil {
			return err
		}
		if len(existing) != len(userIDs) {
			return &ReferenceError{Kind: "user_id", Expected: len(userIDs), Found: len(existing)}
		}
	}

	if len(skuIDs) > 0 {
		existing, err := v.store.ExistingSKUIDs(ctx, skuIDs)
		if err != nil {
			return err
		}
		if len(existing) != len(skuIDs) {
			return &ReferenceError{Kind: "sku_id", Expected: len(skuIDs), Found: len(existing)}
		}
	}

	return nil
}

func distinctUserIDs(purchases []models.Purchase) []string {
	seen := make(map[string]bool)
	var ids []string
	for _, p := range purchases {
		if p.UserID != "" && !seen[p.UserID] {
			seen[p.UserID] = true
			ids = append(ids, p.UserID)
		}
	}
	return ids
}

func distinctSKUIDs(purchases []models.Purchase) []string {
	seen := make(map[string]bool)
	var ids []string
	for _, p := range purchases {
		for _, item := range p.Items {
			if item.SKUID != "" && !seen[item.SKUID] {
				seen[item.SKUID] = true
				ids = append(ids, item.SKUID)
			}
		}
	}
	return ids
}
