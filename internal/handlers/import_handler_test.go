package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/xuri/excelize/v2"

	"bulk-import-service/internal/importer"
	"bulk-import-service/internal/models"
	"bulk-import-service/internal/repository"
)

// MockBatchRepository is a mock implementation of BatchRepositoryInterface
type MockBatchRepository struct {
	mock.Mock
}

var _ repository.BatchRepositoryInterface = (*MockBatchRepository)(nil)

func (m *MockBatchRepository) Create(ctx context.Context, batch *models.ImportBatch) error {
	args := m.Called(ctx, batch)
	if args.Error(0) == nil {
		batch.ID = uuid.New()
		batch.CreatedAt = time.Now()
	}
	return args.Error(0)
}

func (m *MockBatchRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.ImportBatch, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.ImportBatch), args.Error(1)
}

func (m *MockBatchRepository) ListByMerchant(ctx context.Context, merchantID uuid.UUID, limit int) ([]models.ImportBatch, error) {
	args := m.Called(ctx, merchantID, limit)
	return args.Get(0).([]models.ImportBatch), args.Error(1)
}

func (m *MockBatchRepository) AcquireForProcessing(ctx context.Context, id uuid.UUID, startedAt time.Time) (bool, error) {
	args := m.Called(ctx, id, startedAt)
	return args.Bool(0), args.Error(1)
}

func (m *MockBatchRepository) MarkCompleted(ctx context.Context, id uuid.UUID, counts repository.CompletionCounts, completedAt time.Time) error {
	args := m.Called(ctx, id, counts, completedAt)
	return args.Error(0)
}

func (m *MockBatchRepository) MarkValidationFailed(ctx context.Context, id uuid.UUID, rowErrors []models.RowError, totalErrorCount, imported, updated int, completedAt time.Time) error {
	args := m.Called(ctx, id, rowErrors, totalErrorCount, imported, updated, completedAt)
	return args.Error(0)
}

func (m *MockBatchRepository) MarkFailed(ctx context.Context, id uuid.UUID, message string, completedAt time.Time) error {
	args := m.Called(ctx, id, message, completedAt)
	return args.Error(0)
}

func (m *MockBatchRepository) GetStepResult(ctx context.Context, batchID uuid.UUID, stepName string) (*models.ImportStepResult, error) {
	args := m.Called(ctx, batchID, stepName)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.ImportStepResult), args.Error(1)
}

func (m *MockBatchRepository) RecordStepResult(ctx context.Context, batchID uuid.UUID, stepName string, output interface{}) error {
	args := m.Called(ctx, batchID, stepName, output)
	return args.Error(0)
}

func (m *MockBatchRepository) FindStuckBatches(ctx context.Context, cutoff time.Time) ([]models.ImportBatch, error) {
	args := m.Called(ctx, cutoff)
	return args.Get(0).([]models.ImportBatch), args.Error(1)
}

// MockTriggerPublisher is a mock implementation of TriggerPublisher
type MockTriggerPublisher struct {
	mock.Mock
}

func (m *MockTriggerPublisher) PublishImportRequested(ctx context.Context, trig importer.Trigger) error {
	args := m.Called(ctx, trig)
	return args.Error(0)
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func setupRouter(handler *ImportHandler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	api := router.Group("/api/v1")
	{
		api.POST("/imports/customers", handler.UploadCustomers)
		api.POST("/imports/purchases", handler.UploadPurchases)
		api.GET("/imports", handler.ListBatches)
		api.GET("/imports/customers/template", handler.GetCustomerImportTemplate)
		api.GET("/imports/purchases/template", handler.GetPurchaseImportTemplate)
		api.GET("/imports/:id", handler.GetBatch)
	}
	return router
}

func multipartUpload(t *testing.T, fields map[string]string, fileName, fileContent string) (*bytes.Buffer, string) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	for k, v := range fields {
		if err := writer.WriteField(k, v); err != nil {
			t.Fatalf("write field %s: %v", k, err)
		}
	}
	if fileName != "" {
		part, err := writer.CreateFormFile("file", fileName)
		if err != nil {
			t.Fatalf("create form file: %v", err)
		}
		part.Write([]byte(fileContent))
	}
	writer.Close()
	return body, writer.FormDataContentType()
}

func TestUploadCustomers_Accepted(t *testing.T) {
	batches := new(MockBatchRepository)
	publisher := new(MockTriggerPublisher)
	handler := NewImportHandler(batches, publisher, 100, testLogger())
	router := setupRouter(handler)

	merchantID := uuid.New()
	csv := "email,tel\njane@example.com,+81-90\nbob@example.com,+81-91\n"

	batches.On("Create", mock.Anything, mock.MatchedBy(func(batch *models.ImportBatch) bool {
		// CSV content is stored on the batch for the workflow to parse
		return batch.ImportType == models.ImportTypeCustomers &&
			batch.TotalRows == 2 &&
			batch.RawContent == csv
	})).Return(nil)
	publisher.On("PublishImportRequested", mock.Anything, mock.MatchedBy(func(trig importer.Trigger) bool {
		return trig.ImportType == models.ImportTypeCustomers &&
			trig.MerchantID == merchantID &&
			len(trig.Rows) == 0 &&
			trig.CreateWalletLedgerEntry
	})).Return(nil)
	body, contentType := multipartUpload(t, map[string]string{
		"merchant_id":                merchantID.String(),
		"batch_name":                 "august customers",
		"create_wallet_ledger_entry": "true",
	}, "customers.csv", csv)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/imports/customers", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusAccepted, w.Code)
	batches.AssertExpectations(t)
	publisher.AssertExpectations(t)

	var resp struct {
		Success bool               `json:"success"`
		Batch   models.ImportBatch `json:"batch"`
	}
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, 2, resp.Batch.TotalRows)
	assert.Equal(t, "august customers", resp.Batch.BatchName)
	assert.Equal(t, models.BatchStatusPending, resp.Batch.Status)
}

func TestUploadCustomers_XLSXRowsCarriedOnTrigger(t *testing.T) {
	batches := new(MockBatchRepository)
	publisher := new(MockTriggerPublisher)
	handler := NewImportHandler(batches, publisher, 100, testLogger())
	router := setupRouter(handler)

	f := excelize.NewFile()
	f.SetCellValue("Sheet1", "A1", "email")
	f.SetCellValue("Sheet1", "A2", "jane@example.com")
	f.SetCellValue("Sheet1", "A3", "bob@example.com")
	buf, err := f.WriteToBuffer()
	if !assert.NoError(t, err) {
		return
	}

	merchantID := uuid.New()
	batches.On("Create", mock.Anything, mock.MatchedBy(func(batch *models.ImportBatch) bool {
		return batch.TotalRows == 2 && batch.RawContent == ""
	})).Return(nil)
	publisher.On("PublishImportRequested", mock.Anything, mock.MatchedBy(func(trig importer.Trigger) bool {
		return trig.ImportType == models.ImportTypeCustomers && len(trig.Rows) == 2
	})).Return(nil)

	body, contentType := multipartUpload(t, map[string]string{
		"merchant_id": merchantID.String(),
	}, "customers.xlsx", buf.String())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/imports/customers", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusAccepted, w.Code)
	batches.AssertExpectations(t)
	publisher.AssertExpectations(t)
}

func TestUploadCustomers_FileTooLarge(t *testing.T) {
	batches := new(MockBatchRepository)
	publisher := new(MockTriggerPublisher)
	handler := NewImportHandler(batches, publisher, 1, testLogger())
	router := setupRouter(handler)

	oversized := "email\n" + strings.Repeat("x", 1024*1024)
	body, contentType := multipartUpload(t, map[string]string{
		"merchant_id": uuid.New().String(),
	}, "customers.csv", oversized)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/imports/customers", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)

	var resp models.ErrorResponse
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "FILE_TOO_LARGE", resp.Error.Code)
	batches.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestUploadCustomers_MissingMerchant(t *testing.T) {
	batches := new(MockBatchRepository)
	publisher := new(MockTriggerPublisher)
	handler := NewImportHandler(batches, publisher, 100, testLogger())
	router := setupRouter(handler)

	body, contentType := multipartUpload(t, nil, "customers.csv", "email\njane@example.com\n")

	req := httptest.NewRequest(http.MethodPost, "/api/v1/imports/customers", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)

	var resp models.ErrorResponse
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "MERCHANT_REQUIRED", resp.Error.Code)
	batches.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestUploadCustomers_MissingRequiredColumn(t *testing.T) {
	batches := new(MockBatchRepository)
	publisher := new(MockTriggerPublisher)
	handler := NewImportHandler(batches, publisher, 100, testLogger())
	router := setupRouter(handler)

	// No email column
	body, contentType := multipartUpload(t, map[string]string{
		"merchant_id": uuid.New().String(),
	}, "customers.csv", "first_name\nJane\n")

	req := httptest.NewRequest(http.MethodPost, "/api/v1/imports/customers", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)

	var resp models.ErrorResponse
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "PARSE_ERROR", resp.Error.Code)
	batches.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestUploadPurchases_CSVStoredForWorkflowParse(t *testing.T) {
	batches := new(MockBatchRepository)
	publisher := new(MockTriggerPublisher)
	handler := NewImportHandler(batches, publisher, 100, testLogger())
	router := setupRouter(handler)

	merchantID := uuid.New()
	csv := "transaction_number,transaction_date,user_id,final_amount,sku_id,quantity,unit_price,line_total\n" +
		"TXN-1,2026-08-01,user-1,2980,sku-1,2,1490,2980\n"

	batches.On("Create", mock.Anything, mock.MatchedBy(func(batch *models.ImportBatch) bool {
		return batch.ImportType == models.ImportTypePurchases &&
			batch.TotalRows == 1 &&
			batch.RawContent == csv
	})).Return(nil)
	publisher.On("PublishImportRequested", mock.Anything, mock.MatchedBy(func(trig importer.Trigger) bool {
		// CSV content stays on the batch; the trigger carries no rows
		return trig.ImportType == models.ImportTypePurchases && len(trig.Rows) == 0
	})).Return(nil)

	body, contentType := multipartUpload(t, map[string]string{
		"merchant_id": merchantID.String(),
	}, "purchases.csv", csv)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/imports/purchases", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusAccepted, w.Code)
	batches.AssertExpectations(t)
	publisher.AssertExpectations(t)
}

func TestUploadPurchases_FileRequired(t *testing.T) {
	batches := new(MockBatchRepository)
	publisher := new(MockTriggerPublisher)
	handler := NewImportHandler(batches, publisher, 100, testLogger())
	router := setupRouter(handler)

	body, contentType := multipartUpload(t, map[string]string{
		"merchant_id": uuid.New().String(),
	}, "", "")

	req := httptest.NewRequest(http.MethodPost, "/api/v1/imports/purchases", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)

	var resp models.ErrorResponse
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "FILE_REQUIRED", resp.Error.Code)
}

func TestGetBatch_NotFound(t *testing.T) {
	batches := new(MockBatchRepository)
	publisher := new(MockTriggerPublisher)
	handler := NewImportHandler(batches, publisher, 100, testLogger())
	router := setupRouter(handler)

	id := uuid.New()
	batches.On("GetByID", mock.Anything, id).Return(nil, repository.ErrNotFound)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/imports/"+id.String(), nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetBatch_InvalidID(t *testing.T) {
	batches := new(MockBatchRepository)
	publisher := new(MockTriggerPublisher)
	handler := NewImportHandler(batches, publisher, 100, testLogger())
	router := setupRouter(handler)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/imports/not-a-uuid", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListBatches_RequiresMerchant(t *testing.T) {
	batches := new(MockBatchRepository)
	publisher := new(MockTriggerPublisher)
	handler := NewImportHandler(batches, publisher, 100, testLogger())
	router := setupRouter(handler)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/imports", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListBatches_ReturnsMerchantBatches(t *testing.T) {
	batches := new(MockBatchRepository)
	publisher := new(MockTriggerPublisher)
	handler := NewImportHandler(batches, publisher, 100, testLogger())
	router := setupRouter(handler)

	merchantID := uuid.New()
	stored := []models.ImportBatch{
		{ID: uuid.New(), MerchantID: merchantID, ImportType: models.ImportTypeCustomers, Status: models.BatchStatusCompleted},
		{ID: uuid.New(), MerchantID: merchantID, ImportType: models.ImportTypePurchases, Status: models.BatchStatusFailed},
	}
	batches.On("ListByMerchant", mock.Anything, merchantID, 50).Return(stored, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/imports?merchantId="+merchantID.String(), nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Success bool                 `json:"success"`
		Batches []models.ImportBatch `json:"batches"`
		Count   int                  `json:"count"`
	}
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, 2, resp.Count)
}

func TestGetCustomerImportTemplate_CSV(t *testing.T) {
	batches := new(MockBatchRepository)
	publisher := new(MockTriggerPublisher)
	handler := NewImportHandler(batches, publisher, 100, testLogger())
	router := setupRouter(handler)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/imports/customers/template?format=csv", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/csv")
	assert.Contains(t, w.Body.String(), "email")
}

func TestGetPurchaseImportTemplate_JSON(t *testing.T) {
	batches := new(MockBatchRepository)
	publisher := new(MockTriggerPublisher)
	handler := NewImportHandler(batches, publisher, 100, testLogger())
	router := setupRouter(handler)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/imports/purchases/template", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Success  bool                  `json:"success"`
		Template models.ImportTemplate `json:"template"`
	}
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "purchases", resp.Template.Entity)
	assert.NotEmpty(t, resp.Template.Columns)
}
