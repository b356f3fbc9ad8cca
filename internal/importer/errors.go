package importer

import (
	"fmt"
	"strings"

	"bulk-import-service/internal/models"
)

// ReferenceError means at least one foreign identifier in the batch does not
// exist in the authoritative store. It fails the whole batch.
type ReferenceError struct {
	Kind     string
	Expected int
	Found    int
}

func (e *ReferenceError) Error() string {
	return fmt.Sprintf("invalid %s references: expected %d, found %d", e.Kind, e.Expected, e.Found)
}

// AggregationError rejects rows that cannot form a transactional unit, such
// as a missing grouping key or an unparseable amount
type AggregationError struct {
	Rows []models.RowError
}

func (e *AggregationError) Error() string {
	if len(e.Rows) == 0 {
		return "aggregation failed"
	}
	parts := make([]string, 0, len(e.Rows))
	for i, r := range e.Rows {
		if i == 3 {
			parts = append(parts, fmt.Sprintf("and %d more", len(e.Rows)-3))
			break
		}
		parts = append(parts, fmt.Sprintf("row %d: %s", r.Row, r.Reason))
	}
	return fmt.Sprintf("aggregation failed for %d rows: %s", len(e.Rows), strings.Join(parts, "; "))
}

// CommitError is an operational failure of the atomic commit procedure,
// distinct from an expected row-level validation failure
type CommitError struct {
	Message string
}

func (e *CommitError) Error() string {
	return "commit failed: " + e.Message
}
