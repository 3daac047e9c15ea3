package bigquery

import (
	"context"
	"fmt"

	"cloud.google.com/go/bigquery"
	"github.com/dvloznov/finance-assistant/internal/domain"
)

// OperationRepository persists journaled operations.
type OperationRepository interface {
	InsertOperations(ctx context.Context, rows []*OperationRow) error
	ListRecentOperations(ctx context.Context, userID string, limit int) ([]*OperationRow, error)
}

// BigQueryOperationRepository is the concrete implementation of
// OperationRepository. It holds a shared BigQuery client.
type BigQueryOperationRepository struct {
	client *bigquery.Client
	table  Table
}

// NewBigQueryOperationRepository creates a repository for table.
func NewBigQueryOperationRepository(ctx context.Context, table Table) (*BigQueryOperationRepository, error) {
	if table.ProjectID == "" || table.DatasetID == "" || table.TableID == "" {
		return nil, fmt.Errorf("NewBigQueryOperationRepository: incomplete table %+v: %w", table, domain.ErrConfiguration)
	}
	client, err := bigquery.NewClient(ctx, table.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("NewBigQueryOperationRepository: creating client: %w: %w", domain.ErrExternalService, err)
	}
	return &BigQueryOperationRepository{client: client, table: table}, nil
}

// Close closes the BigQuery client connection.
func (r *BigQueryOperationRepository) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

// InsertOperations delegates to InsertOperationsWithClient with the shared client.
func (r *BigQueryOperationRepository) InsertOperations(ctx context.Context, rows []*OperationRow) error {
	return InsertOperationsWithClient(ctx, r.client, r.table, rows)
}

// ListRecentOperations delegates to ListRecentOperationsWithClient with the shared client.
func (r *BigQueryOperationRepository) ListRecentOperations(ctx context.Context, userID string, limit int) ([]*OperationRow, error) {
	return ListRecentOperationsWithClient(ctx, r.client, r.table, userID, limit)
}

var _ OperationRepository = (*BigQueryOperationRepository)(nil)
