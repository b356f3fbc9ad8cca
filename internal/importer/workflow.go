// Package importer drives the bulk-import workflow: parse, aggregate,
// validate references, commit atomically, finalize batch status.
package importer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"bulk-import-service/internal/models"
	"bulk-import-service/internal/parser"
	"bulk-import-service/internal/repository"
)

// Step names. Each step's outcome is recorded under its name before the next
// step runs, so a retried workflow resumes without repeating side effects.
const (
	StepParse           = "parse-csv"
	StepAggregate       = "group-by-transaction"
	StepValidateRefs    = "validate-references"
	StepCommitPurchases = "atomic-insert"
	StepCommitCustomers = "validate-and-insert"
)

// Trigger is the inbound event payload that starts one workflow run
type Trigger struct {
	BatchID                 uuid.UUID         `json:"batch_id"`
	MerchantID              uuid.UUID         `json:"merchant_id"`
	ImportType              models.ImportType `json:"import_type"`
	Rows                    []parser.Row      `json:"rows,omitempty"`
	CreateWalletLedgerEntry bool              `json:"create_wallet_ledger_entry,omitempty"`
}

// Engine executes the import workflow for one batch at a time. Batches are
// isolated by id; the only mutual exclusion over business data is the commit
// procedure's own transaction boundary.
type Engine struct {
	batches             repository.BatchRepositoryInterface
	validator           *ReferenceValidator
	committer           repository.CommitRepositoryInterface
	logger              *logrus.Logger
	maxValidationErrors int
}

// NewEngine creates a workflow engine with explicit store dependencies
func NewEngine(
	batches repository.BatchRepositoryInterface,
	refs repository.ReferenceRepositoryInterface,
	committer repository.CommitRepositoryInterface,
	logger *logrus.Logger,
	maxValidationErrors int,
) *Engine {
	if logger == nil {
		logger = logrus.New()
	}
	if maxValidationErrors <= 0 {
		maxValidationErrors = 100
	}
	return &Engine{
		batches:             batches,
		validator:           NewReferenceValidator(refs),
		committer:           committer,
		logger:              logger,
		maxValidationErrors: maxValidationErrors,
	}
}

// Run drives one batch through the workflow. Terminal batches are never
// re-entered; a batch left in processing by an interrupted run resumes from
// its recorded step results. Any error escaping the steps marks the batch
// failed and is returned to the caller for its own retry/alerting policy.
func (e *Engine) Run(ctx context.Context, trig Trigger) error {
	log := e.logger.WithFields(logrus.Fields{
		"batchId":    trig.BatchID,
		"merchantId": trig.MerchantID,
		"importType": trig.ImportType,
	})

	batch, err := e.batches.GetByID(ctx, trig.BatchID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			log.Warn("Batch not found, dropping trigger")
			return nil
		}
		return fmt.Errorf("load batch: %w", err)
	}

	if batch.IsTerminal() {
		log.WithField("status", batch.Status).Info("Batch already terminal, skipping")
		return nil
	}

	acquired, err := e.batches.AcquireForProcessing(ctx, batch.ID, time.Now())
	if err != nil {
		return fmt.Errorf("acquire batch: %w", err)
	}
	if !acquired {
		log.Info("Batch reached a terminal status concurrently, skipping")
		return nil
	}

	log.Info("Import workflow started")

	if err := e.runSteps(ctx, batch, trig, log); err != nil {
		e.recordFailure(ctx, batch.ID, err, log)
		return err
	}
	return nil
}

func (e *Engine) runSteps(ctx context.Context, batch *models.ImportBatch, trig Trigger, log *logrus.Entry) error {
	switch batch.ImportType {
	case models.ImportTypePurchases:
		return e.runPurchaseImport(ctx, batch, trig, log)
	case models.ImportTypeCustomers:
		return e.runCustomerImport(ctx, batch, trig, log)
	}
	return fmt.Errorf("unknown import type %q", batch.ImportType)
}

func (e *Engine) runPurchaseImport(ctx context.Context, batch *models.ImportBatch, trig Trigger, log *logrus.Entry) error {
	rows, err := runStep(ctx, e, batch.ID, StepParse, log, func() ([]parser.Row, error) {
		if len(trig.Rows) > 0 {
			return trig.Rows, nil
		}
		if batch.RawContent == "" {
			return nil, fmt.Errorf("batch has no rows and no uploaded content")
		}
		return parser.ParseCSV(strings.NewReader(batch.RawContent), parser.Options{
			RequiredColumns: models.PurchaseImportTemplate().RequiredColumnNames(),
		})
	})
	if err != nil {
		return err
	}

	purchases, err := runStep(ctx, e, batch.ID, StepAggregate, log, func() ([]models.Purchase, error) {
		return AggregatePurchases(rows)
	})
	if err != nil {
		return err
	}

	_, err = runStep(ctx, e, batch.ID, StepValidateRefs, log, func() (stepValidated, error) {
		if err := e.validator.ValidatePurchaseReferences(ctx, batch.MerchantID, purchases); err != nil {
			return stepValidated{}, err
		}
		return stepValidated{Validated: true}, nil
	})
	if err != nil {
		return err
	}

	result, err := runStep(ctx, e, batch.ID, StepCommitPurchases, log, func() (*models.PurchaseCommitResult, error) {
		res, err := e.committer.CommitPurchases(ctx, batch.MerchantID, batch.ID, purchases)
		if err != nil {
			return nil, &CommitError{Message: err.Error()}
		}
		if !res.Success {
			msg := "transaction failed"
			if res.ErrorMessage != nil {
				msg = *res.ErrorMessage
			}
			return nil, &CommitError{Message: msg}
		}
		return res, nil
	})
	if err != nil {
		return err
	}

	if err := e.batches.MarkCompleted(ctx, batch.ID, repository.CompletionCounts{
		ImportedPurchases: result.ImportedPurchases,
		ImportedItems:     result.ImportedItems,
	}, time.Now()); err != nil {
		return fmt.Errorf("finalize batch: %w", err)
	}

	log.WithFields(logrus.Fields{
		"importedPurchases": result.ImportedPurchases,
		"importedItems":     result.ImportedItems,
	}).Info("Purchase import completed")
	return nil
}

func (e *Engine) runCustomerImport(ctx context.Context, batch *models.ImportBatch, trig Trigger, log *logrus.Entry) error {
	rows, err := runStep(ctx, e, batch.ID, StepParse, log, func() ([]parser.Row, error) {
		if len(trig.Rows) > 0 {
			return trig.Rows, nil
		}
		if batch.RawContent == "" {
			return nil, fmt.Errorf("batch has no rows and no uploaded content")
		}
		return parser.ParseCSV(strings.NewReader(batch.RawContent), parser.Options{
			StripPrefixes:   []string{"user_accounts_"},
			RequiredColumns: models.CustomerImportTemplate().RequiredColumnNames(),
		})
	})
	if err != nil {
		return err
	}

	result, err := runStep(ctx, e, batch.ID, StepCommitCustomers, log, func() (*models.CustomerCommitResult, error) {
		res, err := e.committer.CommitCustomers(ctx, batch.MerchantID, batch.ID, rows, trig.CreateWalletLedgerEntry, e.maxValidationErrors)
		if err != nil {
			return nil, &CommitError{Message: err.Error()}
		}
		return res, nil
	})
	if err != nil {
		return err
	}

	if !result.Success {
		if !result.Valid {
			// Expected data-quality outcome, not an error: surface the
			// capped row reasons and stop.
			errs := result.Errors
			if len(errs) > e.maxValidationErrors {
				errs = errs[:e.maxValidationErrors]
			}
			if err := e.batches.MarkValidationFailed(ctx, batch.ID, errs, result.TotalErrorCount,
				result.ImportedCount, result.UpdatedCount, time.Now()); err != nil {
				return fmt.Errorf("finalize batch: %w", err)
			}
			log.WithFields(logrus.Fields{
				"rowErrors":       len(errs),
				"totalErrorCount": result.TotalErrorCount,
			}).Info("Customer import finished with validation failures")
			return nil
		}
		msg := "insert failed"
		if result.ErrorMessage != nil {
			msg = *result.ErrorMessage
		}
		return &CommitError{Message: msg}
	}

	if err := e.batches.MarkCompleted(ctx, batch.ID, repository.CompletionCounts{
		ImportedUsers: result.ImportedCount,
		UpdatedUsers:  result.UpdatedCount,
	}, time.Now()); err != nil {
		return fmt.Errorf("finalize batch: %w", err)
	}

	log.WithFields(logrus.Fields{
		"importedUsers": result.ImportedCount,
		"updatedUsers":  result.UpdatedCount,
	}).Info("Customer import completed")
	return nil
}

// recordFailure is the outer failure handler: it persists the failed status
// with the captured message exactly once, then the caller re-raises the
// error to the orchestration boundary
func (e *Engine) recordFailure(ctx context.Context, batchID uuid.UUID, cause error, log *logrus.Entry) {
	// The workflow context may already be cancelled or past its deadline;
	// the status write still has to land.
	persistCtx := ctx
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		persistCtx, cancel = context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
	}

	message := cause.Error()
	if errors.Is(cause, context.DeadlineExceeded) {
		message = "import timed out: " + message
	}

	if err := e.batches.MarkFailed(persistCtx, batchID, message, time.Now()); err != nil {
		log.WithError(err).Error("Failed to persist failed batch status")
		return
	}
	log.WithError(cause).Warn("Import workflow failed")
}

type stepValidated struct {
	Validated bool `json:"validated"`
}

// runStep memoizes a step's outcome in the batch record store. A step whose
// result was already recorded is not re-executed; its recorded output is
// decoded and returned instead.
func runStep[T any](ctx context.Context, e *Engine, batchID uuid.UUID, name string, log *logrus.Entry, fn func() (T, error)) (T, error) {
	var zero T

	recorded, err := e.batches.GetStepResult(ctx, batchID, name)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return zero, fmt.Errorf("step %s: load recorded result: %w", name, err)
	}
	if recorded != nil {
		var out T
		if err := json.Unmarshal(recorded.Output, &out); err != nil {
			return zero, fmt.Errorf("step %s: decode recorded result: %w", name, err)
		}
		log.WithField("step", name).Info("Reusing recorded step result")
		return out, nil
	}

	out, err := fn()
	if err != nil {
		return zero, err
	}

	if err := e.batches.RecordStepResult(ctx, batchID, name, out); err != nil {
		return zero, fmt.Errorf("step %s: record result: %w", name, err)
	}
	return out, nil
}
