package bigquery

import (
	"math/big"
	"time"

	"cloud.google.com/go/bigquery"
)

// OperationRow is one journaled ledger mutation.
type OperationRow struct {
	EventID  string `bigquery:"event_id"`  // REQUIRED
	UserID   string `bigquery:"user_id"`   // REQUIRED
	Action   string `bigquery:"action"`    // REQUIRED: append, edit, delete, clear
	RowIndex int64  `bigquery:"row_index"` // sheet row, header-inclusive

	OperationDate bigquery.NullDate   `bigquery:"operation_date"` // NULLABLE for delete/clear
	OperationType bigquery.NullString `bigquery:"operation_type"` // NULLABLE
	Category      bigquery.NullString `bigquery:"category"`       // NULLABLE
	Description   bigquery.NullString `bigquery:"description"`    // NULLABLE
	Amount        *big.Rat            `bigquery:"amount"`         // NULLABLE NUMERIC
	Comment       bigquery.NullString `bigquery:"comment"`        // NULLABLE

	CreatedTS time.Time `bigquery:"created_ts"` // REQUIRED
}
