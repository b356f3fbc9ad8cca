package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"bulk-import-service/internal/models"
)

var ErrNotFound = errors.New("not found")

// CompletionCounts carries the import counters written when a batch finishes
type CompletionCounts struct {
	ImportedUsers     int
	UpdatedUsers      int
	ImportedPurchases int
	ImportedItems     int
}

// BatchRepositoryInterface defines batch persistence operations.
// Status transitions enforce the lifecycle at the database: a batch in a
// terminal status never leaves it, and failure is only recorded over an
// in-flight run.
type BatchRepositoryInterface interface {
	Create(ctx context.Context, batch *models.ImportBatch) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.ImportBatch, error)
	ListByMerchant(ctx context.Context, merchantID uuid.UUID, limit int) ([]models.ImportBatch, error)
	AcquireForProcessing(ctx context.Context, id uuid.UUID, startedAt time.Time) (bool, error)
	MarkCompleted(ctx context.Context, id uuid.UUID, counts CompletionCounts, completedAt time.Time) error
	MarkValidationFailed(ctx context.Context, id uuid.UUID, rowErrors []models.RowError, totalErrorCount, imported, updated int, completedAt time.Time) error
	MarkFailed(ctx context.Context, id uuid.UUID, message string, completedAt time.Time) error
	GetStepResult(ctx context.Context, batchID uuid.UUID, stepName string) (*models.ImportStepResult, error)
	RecordStepResult(ctx context.Context, batchID uuid.UUID, stepName string, output interface{}) error
	FindStuckBatches(ctx context.Context, cutoff time.Time) ([]models.ImportBatch, error)
}

// BatchRepository handles database operations for import batches
type BatchRepository struct {
	db *gorm.DB
}

// NewBatchRepository creates a new BatchRepository
func NewBatchRepository(db *gorm.DB) *BatchRepository {
	return &BatchRepository{db: db}
}

// Create inserts a new batch record
func (r *BatchRepository) Create(ctx context.Context, batch *models.ImportBatch) error {
	return r.db.WithContext(ctx).Create(batch).Error
}

// GetByID retrieves a batch by ID
func (r *BatchRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.ImportBatch, error) {
	var batch models.ImportBatch
	err := r.db.WithContext(ctx).
		Where("id = ?", id).
		First(&batch).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &batch, nil
}

// ListByMerchant retrieves recent batches for a merchant, newest first
func (r *BatchRepository) ListByMerchant(ctx context.Context, merchantID uuid.UUID, limit int) ([]models.ImportBatch, error) {
	var batches []models.ImportBatch
	err := r.db.WithContext(ctx).
		Where("merchant_id = ?", merchantID).
		Order("created_at DESC").
		Limit(limit).
		Find(&batches).Error
	return batches, err
}

// AcquireForProcessing moves a batch into processing. Returns false when the
// batch has already reached a terminal status; a batch already in processing
// is acquired again so an interrupted run can resume, keeping its original
// started_at.
func (r *BatchRepository) AcquireForProcessing(ctx context.Context, id uuid.UUID, startedAt time.Time) (bool, error) {
	result := r.db.WithContext(ctx).Model(&models.ImportBatch{}).
		Where("id = ? AND status IN ?", id, []string{
			string(models.BatchStatusPending),
			string(models.BatchStatusProcessing),
		}).
		Updates(map[string]interface{}{
			"status":     models.BatchStatusProcessing,
			"started_at": gorm.Expr("COALESCE(started_at, ?)", startedAt),
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// MarkCompleted finalizes a successful batch with its import counters
func (r *BatchRepository) MarkCompleted(ctx context.Context, id uuid.UUID, counts CompletionCounts, completedAt time.Time) error {
	result := r.db.WithContext(ctx).Model(&models.ImportBatch{}).
		Where("id = ? AND status = ?", id, models.BatchStatusProcessing).
		Updates(map[string]interface{}{
			"status":             models.BatchStatusCompleted,
			"imported_users":     counts.ImportedUsers,
			"updated_users":      counts.UpdatedUsers,
			"imported_purchases": counts.ImportedPurchases,
			"imported_items":     counts.ImportedItems,
			"completed_at":       completedAt,
			"updated_at":         time.Now(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkValidationFailed finalizes a batch rejected on row-level validation,
// keeping the capped error list and any counts the procedure reported
func (r *BatchRepository) MarkValidationFailed(ctx context.Context, id uuid.UUID, rowErrors []models.RowError, totalErrorCount, imported, updated int, completedAt time.Time) error {
	payload, err := json.Marshal(map[string]interface{}{
		"errors":            rowErrors,
		"total_error_count": totalErrorCount,
	})
	if err != nil {
		return err
	}

	result := r.db.WithContext(ctx).Model(&models.ImportBatch{}).
		Where("id = ? AND status = ?", id, models.BatchStatusProcessing).
		Updates(map[string]interface{}{
			"status":            models.BatchStatusValidationFailed,
			"validation_errors": datatypes.JSON(payload),
			"imported_users":    imported,
			"updated_users":     updated,
			"completed_at":      completedAt,
			"updated_at":        time.Now(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkFailed records a hard failure. Guarded on processing so a late failure
// write can never regress a batch that already completed.
func (r *BatchRepository) MarkFailed(ctx context.Context, id uuid.UUID, message string, completedAt time.Time) error {
	result := r.db.WithContext(ctx).Model(&models.ImportBatch{}).
		Where("id = ? AND status = ?", id, models.BatchStatusProcessing).
		Updates(map[string]interface{}{
			"status":        models.BatchStatusFailed,
			"error_message": message,
			"completed_at":  completedAt,
			"updated_at":    time.Now(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// GetStepResult retrieves a previously recorded step result for a batch
func (r *BatchRepository) GetStepResult(ctx context.Context, batchID uuid.UUID, stepName string) (*models.ImportStepResult, error) {
	var step models.ImportStepResult
	err := r.db.WithContext(ctx).
		Where("batch_id = ? AND step_name = ?", batchID, stepName).
		First(&step).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &step, nil
}

// RecordStepResult stores a step's output. The unique index on
// (batch_id, step_name) makes a concurrent duplicate a no-op, so the first
// recorded result wins.
func (r *BatchRepository) RecordStepResult(ctx context.Context, batchID uuid.UUID, stepName string, output interface{}) error {
	encoded, err := json.Marshal(output)
	if err != nil {
		return err
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "batch_id"}, {Name: "step_name"}},
			DoNothing: true,
		}).
		Create(&models.ImportStepResult{
			BatchID:  batchID,
			StepName: stepName,
			Output:   datatypes.JSON(encoded),
		}).Error
}

// FindStuckBatches returns batches still in processing whose run started
// before the cutoff
func (r *BatchRepository) FindStuckBatches(ctx context.Context, cutoff time.Time) ([]models.ImportBatch, error) {
	var batches []models.ImportBatch
	err := r.db.WithContext(ctx).
		Where("status = ? AND started_at < ?", models.BatchStatusProcessing, cutoff).
		Find(&batches).Error
	return batches, err
}
