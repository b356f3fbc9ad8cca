package repository

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"

	"bulk-import-service/internal/parser"
)

func TestCustomerPayloadOmitsRowBookkeeping(t *testing.T) {
	rows := []parser.Row{
		{parser.RowNumberKey: "2", "email": "jane@example.com", "tel": "+81-90"},
		{parser.RowNumberKey: "3", "email": "bob@example.com"},
	}

	payload, err := json.Marshal(customerPayload(rows))
	if !assert.NoError(t, err) {
		return
	}

	var decoded []map[string]string
	if !assert.NoError(t, json.Unmarshal(payload, &decoded)) {
		return
	}
	if !assert.Len(t, decoded, 2) {
		return
	}
	for _, row := range decoded {
		assert.NotContains(t, row, parser.RowNumberKey)
	}
	assert.Equal(t, "jane@example.com", decoded[0]["email"])
	assert.Equal(t, "+81-90", decoded[0]["tel"])

	// The caller's rows keep their numbers for later diagnostics
	assert.Equal(t, 2, rows[0].RowNumber())
}
