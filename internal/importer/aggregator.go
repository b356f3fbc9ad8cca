package importer

import (
	"fmt"
	"strconv"

	"bulk-import-service/internal/models"
	"bulk-import-service/internal/parser"
)

// AggregatePurchases groups normalized CSV rows into purchases keyed by
// transaction number. The first row seen for a key initializes the header
// (first-seen wins); every row with that key, including the first, appends
// one line item in input order.
//
// Rows with an empty transaction number are rejected rather than merged
// under the empty key, and numeric fields that fail to parse reject their
// row. Any rejected row fails the whole batch.
func AggregatePurchases(rows []parser.Row) ([]models.Purchase, error) {
	purchases := make(map[string]*models.Purchase)
	var order []string
	var rejected []models.RowError

	for _, row := range rows {
		rowNum := row.RowNumber()
		txn := row["transaction_number"]
		if txn == "" {
			rejected = append(rejected, models.RowError{Row: rowNum, Reason: "missing transaction_number"})
			continue
		}

		rowOK := true
		amount := func(field string, required bool) float64 {
			v, err := parseAmount(row[field], required)
			if err != nil {
				rejected = append(rejected, models.RowError{Row: rowNum, Reason: fmt.Sprintf("invalid %s: %v", field, err)})
				rowOK = false
			}
			return v
		}

		p, seen := purchases[txn]
		if !seen {
			header := &models.Purchase{
				TransactionNumber: txn,
				TransactionDate:   row["transaction_date"],
				UserID:            row["user_id"],
				StoreID:           optional(row["store_id"]),
				TotalAmount:       amount("final_amount", true),
				DiscountAmount:    amount("discount_amount", false),
				TaxAmount:         amount("tax_amount", false),
				FinalAmount:       amount("final_amount", true),
				Status:            withDefault(row["status"], models.DefaultPurchaseStatus),
				PaymentStatus:     withDefault(row["payment_status"], models.DefaultPaymentStatus),
				RecordType:        withDefault(row["record_type"], models.DefaultRecordType),
				ProcessingMethod:  withDefault(row["processing_method"], models.DefaultProcessingMethod),
				EarnCurrency:      row["earn_currency"] != "false",
				TransactionSource: withDefault(row["transaction_source"], models.DefaultTransactionSource),
				ExternalRef:       optional(row["external_ref"]),
				Notes:             optional(row["notes"]),
			}
			if rowOK {
				purchases[txn] = header
				order = append(order, txn)
				p = header
			}
		}

		item := models.PurchaseItem{
			SKUID:          row["sku_id"],
			Quantity:       amount("quantity", true),
			UnitPrice:      amount("unit_price", true),
			DiscountAmount: amount("item_discount_amount", false),
			TaxAmount:      amount("item_tax_amount", false),
			LineTotal:      amount("line_total", true),
		}
		if !rowOK || p == nil {
			continue
		}
		p.Items = append(p.Items, item)
	}

	if len(rejected) > 0 {
		return nil, &AggregationError{Rows: rejected}
	}

	result := make([]models.Purchase, 0, len(order))
	for _, txn := range order {
		result = append(result, *purchases[txn])
	}
	return result, nil
}

// parseAmount parses a decimal field. Missing optional fields default to
// zero; missing required fields and unparseable values are errors.
func parseAmount(s string, required bool) (float64, error) {
	if s == "" {
		if required {
			return 0, fmt.Errorf("value is required")
		}
		return 0, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("'%s' is not a number", s)
	}
	return v, nil
}

func withDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
