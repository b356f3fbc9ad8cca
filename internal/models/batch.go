package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// ImportType identifies which import pipeline a batch runs through
type ImportType string

const (
	ImportTypeCustomers ImportType = "customers"
	ImportTypePurchases ImportType = "purchases"
)

// BatchStatus constants
const (
	BatchStatusPending          = "pending"
	BatchStatusProcessing       = "processing"
	BatchStatusCompleted        = "completed"
	BatchStatusValidationFailed = "validation_failed"
	BatchStatusFailed           = "failed"
)

// ImportBatch represents one bulk import attempt for a merchant
type ImportBatch struct {
	ID         uuid.UUID  `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	MerchantID uuid.UUID  `gorm:"type:uuid;not null;index" json:"merchantId"`
	BatchName  string     `gorm:"type:varchar(255)" json:"batchName,omitempty"`
	FileName   string     `gorm:"type:varchar(255)" json:"fileName,omitempty"`
	ImportType ImportType `gorm:"type:varchar(20);not null;index" json:"importType"`
	Status     string     `gorm:"type:varchar(30);not null;default:'pending';index" json:"status"`
	TotalRows  int        `gorm:"not null;default:0" json:"totalRows"`

	// Uploaded file content for imports whose parse step runs inside the
	// workflow rather than at upload time.
	RawContent string `gorm:"type:text" json:"-"`

	// Progress and outcome
	StartedAt        *time.Time     `json:"startedAt,omitempty"`
	CompletedAt      *time.Time     `json:"completedAt,omitempty"`
	ErrorMessage     *string        `gorm:"type:text" json:"errorMessage,omitempty"`
	ValidationErrors datatypes.JSON `gorm:"type:jsonb" json:"validationErrors,omitempty"`

	// Result counters
	ImportedUsers     int `gorm:"default:0" json:"importedUsers"`
	UpdatedUsers      int `gorm:"default:0" json:"updatedUsers"`
	ImportedPurchases int `gorm:"default:0" json:"importedPurchases"`
	ImportedItems     int `gorm:"default:0" json:"importedItems"`

	Metadata datatypes.JSON `gorm:"type:jsonb" json:"metadata,omitempty"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updatedAt"`
}

// TableName returns the table name for ImportBatch
func (ImportBatch) TableName() string {
	return "bulk_import_batches"
}

// IsTerminal returns true if the batch has reached a terminal status
func (b *ImportBatch) IsTerminal() bool {
	return b.Status == BatchStatusCompleted ||
		b.Status == BatchStatusValidationFailed ||
		b.Status == BatchStatusFailed
}

// RowError is a row-level validation diagnostic surfaced to the merchant
type RowError struct {
	Row    int    `json:"row"`
	Reason string `json:"reason"`
}

// ImportStepResult records the outcome of one workflow step so a retried
// workflow resumes from recorded results instead of re-executing side effects
type ImportStepResult struct {
	ID          uuid.UUID      `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	BatchID     uuid.UUID      `gorm:"type:uuid;not null;uniqueIndex:idx_step_results_batch_step" json:"batchId"`
	StepName    string         `gorm:"type:varchar(100);not null;uniqueIndex:idx_step_results_batch_step" json:"stepName"`
	Output      datatypes.JSON `gorm:"type:jsonb" json:"output,omitempty"`
	CompletedAt time.Time      `gorm:"autoCreateTime" json:"completedAt"`
}

// TableName returns the table name for ImportStepResult
func (ImportStepResult) TableName() string {
	return "import_step_results"
}
