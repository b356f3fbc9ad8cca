package handlers

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/xuri/excelize/v2"

	"bulk-import-service/internal/importer"
	"bulk-import-service/internal/models"
	"bulk-import-service/internal/parser"
	"bulk-import-service/internal/repository"
)

// TriggerPublisher publishes workflow triggers. Satisfied by events.Publisher.
type TriggerPublisher interface {
	PublishImportRequested(ctx context.Context, trig importer.Trigger) error
}

// ImportHandler handles bulk import uploads, batch status and templates
type ImportHandler struct {
	batches        repository.BatchRepositoryInterface
	publisher      TriggerPublisher
	maxUploadBytes int64
	logger         *logrus.Logger
}

// NewImportHandler creates a new ImportHandler
func NewImportHandler(batches repository.BatchRepositoryInterface, publisher TriggerPublisher, maxUploadMB int, logger *logrus.Logger) *ImportHandler {
	if maxUploadMB <= 0 {
		maxUploadMB = 100
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &ImportHandler{
		batches:        batches,
		publisher:      publisher,
		maxUploadBytes: int64(maxUploadMB) * 1024 * 1024,
		logger:         logger,
	}
}

// UploadCustomers accepts a customer import file and queues the workflow.
// CSV content is stored on the batch and parsed inside the workflow so the
// trigger stays small at any row count; XLSX rows are converted here and
// carried on the trigger.
// POST /api/v1/imports/customers
func (h *ImportHandler) UploadCustomers(c *gin.Context) {
	merchantID, ok := h.merchantID(c)
	if !ok {
		return
	}

	content, fileName, ok := h.readFile(c)
	if !ok {
		return
	}

	rows, ok := h.parseUpload(c, content, fileName, parser.Options{
		StripPrefixes:   []string{"user_accounts_"},
		RequiredColumns: models.CustomerImportTemplate().RequiredColumnNames(),
	})
	if !ok {
		return
	}

	batch := &models.ImportBatch{
		MerchantID: merchantID,
		BatchName:  c.PostForm("batch_name"),
		FileName:   fileName,
		ImportType: models.ImportTypeCustomers,
		Status:     models.BatchStatusPending,
		TotalRows:  len(rows),
	}

	trig := importer.Trigger{
		MerchantID:              merchantID,
		ImportType:              models.ImportTypeCustomers,
		CreateWalletLedgerEntry: c.DefaultPostForm("create_wallet_ledger_entry", "false") == "true",
	}
	if strings.HasSuffix(strings.ToLower(fileName), ".csv") {
		batch.RawContent = string(content)
	} else {
		trig.Rows = rows
	}

	if err := h.batches.Create(c.Request.Context(), batch); err != nil {
		h.logger.WithError(err).Error("Failed to create import batch")
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Success: false,
			Error:   models.Error{Code: "BATCH_CREATE_FAILED", Message: "Failed to create import batch"},
		})
		return
	}
	trig.BatchID = batch.ID

	if err := h.publisher.PublishImportRequested(c.Request.Context(), trig); err != nil {
		h.logger.WithError(err).WithField("batchId", batch.ID).Error("Failed to publish import trigger")
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Success: false,
			Error:   models.Error{Code: "TRIGGER_FAILED", Message: "Failed to queue import"},
		})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"success": true, "batch": batch})
}

// UploadPurchases accepts a purchase import file and queues the workflow.
// CSV uploads are stored on the batch and parsed inside the workflow; XLSX
// uploads are converted to rows here and carried on the trigger.
// POST /api/v1/imports/purchases
func (h *ImportHandler) UploadPurchases(c *gin.Context) {
	merchantID, ok := h.merchantID(c)
	if !ok {
		return
	}

	content, fileName, ok := h.readFile(c)
	if !ok {
		return
	}

	rows, ok := h.parseUpload(c, content, fileName, parser.Options{
		RequiredColumns: models.PurchaseImportTemplate().RequiredColumnNames(),
	})
	if !ok {
		return
	}

	batch := &models.ImportBatch{
		MerchantID: merchantID,
		BatchName:  c.PostForm("batch_name"),
		FileName:   fileName,
		ImportType: models.ImportTypePurchases,
		Status:     models.BatchStatusPending,
		TotalRows:  len(rows),
	}

	trig := importer.Trigger{
		MerchantID: merchantID,
		ImportType: models.ImportTypePurchases,
	}
	if strings.HasSuffix(strings.ToLower(fileName), ".csv") {
		batch.RawContent = string(content)
	} else {
		trig.Rows = rows
	}

	if err := h.batches.Create(c.Request.Context(), batch); err != nil {
		h.logger.WithError(err).Error("Failed to create import batch")
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Success: false,
			Error:   models.Error{Code: "BATCH_CREATE_FAILED", Message: "Failed to create import batch"},
		})
		return
	}
	trig.BatchID = batch.ID

	if err := h.publisher.PublishImportRequested(c.Request.Context(), trig); err != nil {
		h.logger.WithError(err).WithField("batchId", batch.ID).Error("Failed to publish import trigger")
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Success: false,
			Error:   models.Error{Code: "TRIGGER_FAILED", Message: "Failed to queue import"},
		})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"success": true, "batch": batch})
}

// GetBatch returns one import batch with its outcome
// GET /api/v1/imports/:id
func (h *ImportHandler) GetBatch(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Success: false,
			Error:   models.Error{Code: "INVALID_ID", Message: "Batch id must be a UUID"},
		})
		return
	}

	batch, err := h.batches.GetByID(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, models.ErrorResponse{
				Success: false,
				Error:   models.Error{Code: "NOT_FOUND", Message: "Import batch not found"},
			})
			return
		}
		h.logger.WithError(err).Error("Failed to load import batch")
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Success: false,
			Error:   models.Error{Code: "INTERNAL_ERROR", Message: "Failed to load import batch"},
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "batch": batch})
}

// ListBatches returns recent batches for a merchant, newest first
// GET /api/v1/imports?merchantId=...
func (h *ImportHandler) ListBatches(c *gin.Context) {
	merchantID, err := uuid.Parse(c.Query("merchantId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Success: false,
			Error:   models.Error{Code: "MERCHANT_REQUIRED", Message: "merchantId query parameter must be a UUID"},
		})
		return
	}

	limit := 50
	if raw := c.Query("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 && parsed <= 200 {
			limit = parsed
		}
	}

	batches, err := h.batches.ListByMerchant(c.Request.Context(), merchantID, limit)
	if err != nil {
		h.logger.WithError(err).Error("Failed to list import batches")
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Success: false,
			Error:   models.Error{Code: "INTERNAL_ERROR", Message: "Failed to list import batches"},
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "batches": batches, "count": len(batches)})
}

// GetCustomerImportTemplate returns the customer import template
// GET /api/v1/imports/customers/template
func (h *ImportHandler) GetCustomerImportTemplate(c *gin.Context) {
	h.serveTemplate(c, models.CustomerImportTemplate(), "Customers")
}

// GetPurchaseImportTemplate returns the purchase import template
// GET /api/v1/imports/purchases/template
func (h *ImportHandler) GetPurchaseImportTemplate(c *gin.Context) {
	h.serveTemplate(c, models.PurchaseImportTemplate(), "Purchases")
}

func (h *ImportHandler) serveTemplate(c *gin.Context, template models.ImportTemplate, sheetName string) {
	switch c.DefaultQuery("format", "json") {
	case "csv":
		h.generateCSVTemplate(c, template)
	case "xlsx":
		h.generateXLSXTemplate(c, template, sheetName)
	default:
		c.JSON(http.StatusOK, gin.H{"success": true, "template": template})
	}
}

func (h *ImportHandler) generateCSVTemplate(c *gin.Context, template models.ImportTemplate) {
	c.Header("Content-Type", "text/csv")
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%s_import_template.csv", template.Entity))

	writer := csv.NewWriter(c.Writer)
	defer writer.Flush()

	headers := make([]string, len(template.Columns))
	for i, col := range template.Columns {
		headers[i] = col.Name
	}
	writer.Write(headers)

	for _, sample := range template.SampleData {
		row := make([]string, len(template.Columns))
		for i, col := range template.Columns {
			row[i] = sample[col.Name]
		}
		writer.Write(row)
	}
}

func (h *ImportHandler) generateXLSXTemplate(c *gin.Context, template models.ImportTemplate, sheetName string) {
	f := excelize.NewFile()
	defer f.Close()

	f.SetSheetName("Sheet1", sheetName)

	headerStyle, _ := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Color: "FFFFFF"},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"4472C4"}, Pattern: 1},
	})
	requiredStyle, _ := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Color: "FFFFFF"},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"C65911"}, Pattern: 1},
	})

	for i, col := range template.Columns {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		headerText := col.Name
		if col.Required {
			headerText = col.Name + " *"
		}
		f.SetCellValue(sheetName, cell, headerText)

		if col.Required {
			f.SetCellStyle(sheetName, cell, cell, requiredStyle)
		} else {
			f.SetCellStyle(sheetName, cell, cell, headerStyle)
		}

		colName, _ := excelize.ColumnNumberToName(i + 1)
		f.SetColWidth(sheetName, colName, colName, 18)
	}

	for rowIdx, sample := range template.SampleData {
		for colIdx, col := range template.Columns {
			cell, _ := excelize.CoordinatesToCellName(colIdx+1, rowIdx+2)
			f.SetCellValue(sheetName, cell, sample[col.Name])
		}
	}

	sheetIdx, _ := f.GetSheetIndex(sheetName)
	f.SetActiveSheet(sheetIdx)

	c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%s_import_template.xlsx", template.Entity))

	f.Write(c.Writer)
}

// merchantID resolves the merchant from the form field, falling back to the
// value the merchant middleware extracted from headers
func (h *ImportHandler) merchantID(c *gin.Context) (uuid.UUID, bool) {
	raw := c.PostForm("merchant_id")
	if raw == "" {
		raw = c.GetString("merchant_id")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Success: false,
			Error:   models.Error{Code: "MERCHANT_REQUIRED", Message: "merchant_id form field must be a UUID"},
		})
		return uuid.Nil, false
	}
	return id, true
}

// readFile reads the uploaded file into memory, rejecting uploads over the
// size limit. It writes the error response itself when the upload is unusable.
func (h *ImportHandler) readFile(c *gin.Context) ([]byte, string, bool) {
	file, header, err := c.Request.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Success: false,
			Error:   models.Error{Code: "FILE_REQUIRED", Message: "Please upload a CSV or Excel file"},
		})
		return nil, "", false
	}
	defer file.Close()

	content, err := io.ReadAll(io.LimitReader(file, h.maxUploadBytes+1))
	if err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Success: false,
			Error:   models.Error{Code: "READ_FAILED", Message: "Failed to read uploaded file"},
		})
		return nil, "", false
	}
	if int64(len(content)) > h.maxUploadBytes {
		c.JSON(http.StatusRequestEntityTooLarge, models.ErrorResponse{
			Success: false,
			Error:   models.Error{Code: "FILE_TOO_LARGE", Message: fmt.Sprintf("File exceeds the %dMB upload limit", h.maxUploadBytes/(1024*1024))},
		})
		return nil, "", false
	}
	return content, header.Filename, true
}

// parseUpload validates the uploaded content up front so schema and format
// problems come back on the request instead of failing the batch later
func (h *ImportHandler) parseUpload(c *gin.Context, content []byte, fileName string, opts parser.Options) ([]parser.Row, bool) {
	rows, err := parser.Parse(bytes.NewReader(content), fileName, opts)
	if err != nil {
		h.parseErrorResponse(c, err)
		return nil, false
	}
	if len(rows) == 0 {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Success: false,
			Error:   models.Error{Code: "EMPTY_FILE", Message: "The file contains no data rows"},
		})
		return nil, false
	}
	return rows, true
}

func (h *ImportHandler) parseErrorResponse(c *gin.Context, err error) {
	var parseErr *parser.ParseError
	if errors.As(err, &parseErr) {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Success: false,
			Error:   models.Error{Code: "PARSE_ERROR", Message: "The file could not be parsed", Details: parseErr.Lines},
		})
		return
	}
	c.JSON(http.StatusBadRequest, models.ErrorResponse{
		Success: false,
		Error:   models.Error{Code: "PARSE_ERROR", Message: err.Error()},
	})
}
