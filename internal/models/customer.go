package models

// CustomerCommitResult is the result row returned by
// bulk_upsert_customers_from_import. Success=false with Valid=false is an
// expected validation failure carrying row-level reasons; Success=false with
// Valid=true is an operational failure surfaced via ErrorMessage.
type CustomerCommitResult struct {
	Success         bool       `json:"success"`
	Valid           bool       `json:"valid"`
	ImportedCount   int        `json:"imported_count"`
	UpdatedCount    int        `json:"updated_count"`
	ErrorMessage    *string    `json:"error_message,omitempty"`
	Errors          []RowError `json:"errors,omitempty"`
	TotalErrorCount int        `json:"total_error_count"`
}

// ImportTemplateColumn defines a column in an import template
type ImportTemplateColumn struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Required    bool   `json:"required"`
	Type        string `json:"type"`
	Example     string `json:"example"`
}

// ImportTemplate defines the structure of an import template
type ImportTemplate struct {
	Entity     string                 `json:"entity"`
	Version    string                 `json:"version"`
	Columns    []ImportTemplateColumn `json:"columns"`
	SampleData []map[string]string    `json:"sampleData,omitempty"`
}

// RequiredColumnNames returns the names of the template's required columns
func (t ImportTemplate) RequiredColumnNames() []string {
	var names []string
	for _, c := range t.Columns {
		if c.Required {
			names = append(names, c.Name)
		}
	}
	return names
}

// CustomerImportColumns returns the column definitions for customer import.
// Either email or tel must identify the customer; the upsert procedure
// matches on whichever is present.
func CustomerImportColumns() []ImportTemplateColumn {
	return []ImportTemplateColumn{
		{Name: "email", Description: "Customer email (unique per merchant)", Required: true, Type: "email", Example: "jane@example.com"},
		{Name: "tel", Description: "Phone number with country code", Required: false, Type: "phone", Example: "+81-9012345678"},
		{Name: "first_name", Description: "First name", Required: false, Type: "string", Example: "Jane"},
		{Name: "last_name", Description: "Last name", Required: false, Type: "string", Example: "Doe"},
		{Name: "birthday", Description: "Date of birth (YYYY-MM-DD)", Required: false, Type: "date", Example: "1990-04-01"},
		{Name: "gender", Description: "Gender (male, female, other)", Required: false, Type: "string", Example: "female"},
		{Name: "wallet_balance", Description: "Opening wallet balance (requires ledger entry flag)", Required: false, Type: "number", Example: "1500"},
		{Name: "external_ref", Description: "Identifier in the source system", Required: false, Type: "string", Example: "LEGACY-00123"},
		{Name: "notes", Description: "Free-form notes", Required: false, Type: "string", Example: ""},
	}
}

// CustomerImportTemplate returns the template definition for customer import
func CustomerImportTemplate() ImportTemplate {
	return ImportTemplate{
		Entity:  "customers",
		Version: "1.0",
		Columns: CustomerImportColumns(),
		SampleData: []map[string]string{
			{
				"email":          "jane@example.com",
				"tel":            "+81-9012345678",
				"first_name":     "Jane",
				"last_name":      "Doe",
				"birthday":       "1990-04-01",
				"gender":         "female",
				"wallet_balance": "1500",
				"external_ref":   "LEGACY-00123",
				"notes":          "",
			},
		},
	}
}

// PurchaseImportColumns returns the column definitions for purchase import.
// Rows sharing a transaction_number merge into one purchase; header fields
// come from the first row seen, every row contributes one line item.
func PurchaseImportColumns() []ImportTemplateColumn {
	return []ImportTemplateColumn{
		{Name: "transaction_number", Description: "Grouping key, one purchase per distinct value", Required: true, Type: "string", Example: "TXN-1001"},
		{Name: "transaction_date", Description: "Transaction date (YYYY-MM-DD)", Required: true, Type: "date", Example: "2026-08-01"},
		{Name: "user_id", Description: "Existing customer UUID", Required: true, Type: "uuid", Example: ""},
		{Name: "store_id", Description: "Store identifier", Required: false, Type: "string", Example: "STORE-01"},
		{Name: "final_amount", Description: "Final charged amount for the purchase", Required: true, Type: "number", Example: "2980"},
		{Name: "discount_amount", Description: "Purchase-level discount (default 0)", Required: false, Type: "number", Example: "0"},
		{Name: "tax_amount", Description: "Purchase-level tax (default 0)", Required: false, Type: "number", Example: "270"},
		{Name: "status", Description: "Purchase status (default completed)", Required: false, Type: "string", Example: "completed"},
		{Name: "payment_status", Description: "Payment status (default paid)", Required: false, Type: "string", Example: "paid"},
		{Name: "record_type", Description: "Record type (default credit)", Required: false, Type: "string", Example: "credit"},
		{Name: "sku_id", Description: "Existing product SKU UUID", Required: true, Type: "uuid", Example: ""},
		{Name: "quantity", Description: "Line item quantity", Required: true, Type: "number", Example: "2"},
		{Name: "unit_price", Description: "Line item unit price", Required: true, Type: "number", Example: "1490"},
		{Name: "item_discount_amount", Description: "Line item discount (default 0)", Required: false, Type: "number", Example: "0"},
		{Name: "item_tax_amount", Description: "Line item tax (default 0)", Required: false, Type: "number", Example: "135"},
		{Name: "line_total", Description: "Line item total", Required: true, Type: "number", Example: "2980"},
	}
}

// PurchaseImportTemplate returns the template definition for purchase import
func PurchaseImportTemplate() ImportTemplate {
	return ImportTemplate{
		Entity:  "purchases",
		Version: "1.0",
		Columns: PurchaseImportColumns(),
		SampleData: []map[string]string{
			{
				"transaction_number": "TXN-1001",
				"transaction_date":   "2026-08-01",
				"user_id":            "6f1e1d9a-9b0e-4f7c-8f44-a91d33c4f001",
				"store_id":           "STORE-01",
				"final_amount":       "2980",
				"tax_amount":         "270",
				"sku_id":             "0c9ce5a1-42ab-4bd0-9a6f-2f3e6c1d8002",
				"quantity":           "2",
				"unit_price":         "1490",
				"line_total":         "2980",
			},
		},
	}
}
