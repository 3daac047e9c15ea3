package bigquery

import (
	"context"
	"fmt"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/iterator"
)

// Table identifies a fully qualified BigQuery table.
type Table struct {
	ProjectID string
	DatasetID string
	TableID   string
}

// String renders the table for use in SQL.
func (t Table) String() string {
	return fmt.Sprintf("`%s.%s.%s`", t.ProjectID, t.DatasetID, t.TableID)
}

// InsertOperationsWithClient streams rows into the operations table.
func InsertOperationsWithClient(ctx context.Context, client *bigquery.Client, table Table, rows []*OperationRow) error {
	if len(rows) == 0 {
		return nil
	}

	inserter := client.DatasetInProject(table.ProjectID, table.DatasetID).Table(table.TableID).Inserter()
	if err := inserter.Put(ctx, rows); err != nil {
		return fmt.Errorf("InsertOperationsWithClient: inserting rows: %w", err)
	}
	return nil
}

// ListRecentOperationsWithClient returns the newest operations, optionally
// limited to one user.
func ListRecentOperationsWithClient(ctx context.Context, client *bigquery.Client, table Table, userID string, limit int) ([]*OperationRow, error) {
	if limit <= 0 {
		limit = 20
	}

	query := fmt.Sprintf(`
		SELECT
			event_id,
			user_id,
			action,
			row_index,
			operation_date,
			operation_type,
			category,
			description,
			amount,
			comment,
			created_ts
		FROM %s
		WHERE @userID = '' OR user_id = @userID
		ORDER BY created_ts DESC
		LIMIT @limit
	`, table)

	q := client.Query(query)
	q.Parameters = []bigquery.QueryParameter{
		{Name: "userID", Value: userID},
		{Name: "limit", Value: limit},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("ListRecentOperationsWithClient: reading query: %w", err)
	}

	var rows []*OperationRow
	for {
		var row OperationRow
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("ListRecentOperationsWithClient: iterating: %w", err)
		}
		rows = append(rows, &row)
	}
	return rows, nil
}
