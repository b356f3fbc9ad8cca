package importer

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"

	"bulk-import-service/internal/models"
	"bulk-import-service/internal/parser"
)

// purchaseRow builds a minimal valid purchase row; overrides replace or, with
// an empty value, clear individual fields
func purchaseRow(line int, txn string, overrides map[string]string) parser.Row {
	row := parser.Row{
		parser.RowNumberKey:  strconv.Itoa(line),
		"transaction_number": txn,
		"transaction_date":   "2026-08-01",
		"user_id":            "user-1",
		"final_amount":       "2980",
		"sku_id":             "sku-1",
		"quantity":           "2",
		"unit_price":         "1490",
		"line_total":         "2980",
	}
	for k, v := range overrides {
		if v == "" {
			delete(row, k)
		} else {
			row[k] = v
		}
	}
	return row
}

func TestAggregatePurchases_GroupsByTransactionNumber(t *testing.T) {
	rows := []parser.Row{
		purchaseRow(2, "TXN-1", map[string]string{"sku_id": "sku-1"}),
		purchaseRow(3, "TXN-1", map[string]string{"sku_id": "sku-2", "quantity": "1", "line_total": "500"}),
		purchaseRow(4, "TXN-2", map[string]string{"sku_id": "sku-3"}),
	}

	purchases, err := AggregatePurchases(rows)

	assert.NoError(t, err)
	if !assert.Len(t, purchases, 2) {
		return
	}
	// Input order preserved
	assert.Equal(t, "TXN-1", purchases[0].TransactionNumber)
	assert.Equal(t, "TXN-2", purchases[1].TransactionNumber)
	// Every row contributes one line item
	assert.Len(t, purchases[0].Items, 2)
	assert.Len(t, purchases[1].Items, 1)
	assert.Equal(t, "sku-1", purchases[0].Items[0].SKUID)
	assert.Equal(t, "sku-2", purchases[0].Items[1].SKUID)
}

func TestAggregatePurchases_HeaderFromFirstRowWins(t *testing.T) {
	rows := []parser.Row{
		purchaseRow(2, "TXN-1", map[string]string{"status": "completed", "notes": "first"}),
		purchaseRow(3, "TXN-1", map[string]string{"status": "pending", "notes": "second"}),
	}

	purchases, err := AggregatePurchases(rows)

	assert.NoError(t, err)
	if !assert.Len(t, purchases, 1) {
		return
	}
	assert.Equal(t, "completed", purchases[0].Status)
	if assert.NotNil(t, purchases[0].Notes) {
		assert.Equal(t, "first", *purchases[0].Notes)
	}
}

func TestAggregatePurchases_AppliesHeaderDefaults(t *testing.T) {
	purchases, err := AggregatePurchases([]parser.Row{purchaseRow(2, "TXN-1", nil)})

	assert.NoError(t, err)
	if !assert.Len(t, purchases, 1) {
		return
	}
	p := purchases[0]
	assert.Equal(t, models.DefaultPurchaseStatus, p.Status)
	assert.Equal(t, models.DefaultPaymentStatus, p.PaymentStatus)
	assert.Equal(t, models.DefaultRecordType, p.RecordType)
	assert.Equal(t, models.DefaultProcessingMethod, p.ProcessingMethod)
	assert.Equal(t, models.DefaultTransactionSource, p.TransactionSource)
	assert.True(t, p.EarnCurrency)
	assert.Nil(t, p.StoreID)
	assert.Equal(t, 2980.0, p.FinalAmount)
}

func TestAggregatePurchases_EarnCurrencyOnlyFalseDisables(t *testing.T) {
	purchases, err := AggregatePurchases([]parser.Row{
		purchaseRow(2, "TXN-1", map[string]string{"earn_currency": "false"}),
		purchaseRow(3, "TXN-2", map[string]string{"earn_currency": "no"}),
	})

	assert.NoError(t, err)
	if !assert.Len(t, purchases, 2) {
		return
	}
	assert.False(t, purchases[0].EarnCurrency)
	// Anything other than the literal "false" keeps earning on
	assert.True(t, purchases[1].EarnCurrency)
}

func TestAggregatePurchases_RejectsMissingTransactionNumber(t *testing.T) {
	rows := []parser.Row{
		purchaseRow(2, "TXN-1", nil),
		purchaseRow(3, "", nil),
	}

	_, err := AggregatePurchases(rows)

	var aggErr *AggregationError
	if !assert.ErrorAs(t, err, &aggErr) {
		return
	}
	if !assert.Len(t, aggErr.Rows, 1) {
		return
	}
	assert.Equal(t, 3, aggErr.Rows[0].Row)
	assert.Contains(t, aggErr.Rows[0].Reason, "transaction_number")
}

func TestAggregatePurchases_RejectsBadAmounts(t *testing.T) {
	rows := []parser.Row{
		purchaseRow(2, "TXN-1", map[string]string{"quantity": "two"}),
		purchaseRow(3, "TXN-2", map[string]string{"line_total": ""}),
	}

	_, err := AggregatePurchases(rows)

	var aggErr *AggregationError
	if !assert.ErrorAs(t, err, &aggErr) {
		return
	}
	if !assert.Len(t, aggErr.Rows, 2) {
		return
	}
	assert.Equal(t, 2, aggErr.Rows[0].Row)
	assert.Contains(t, aggErr.Rows[0].Reason, "quantity")
	assert.Equal(t, 3, aggErr.Rows[1].Row)
	assert.Contains(t, aggErr.Rows[1].Reason, "line_total")
}
