package ports

import (
	"context"

	"github.com/scoutbatch-go/internal/domain/batch"
)

// RecordSource materializes pending identifiers into full records. IDs that
// no longer exist are simply absent from the result.
type RecordSource interface {
	FindByIdentifiers(ctx context.Context, entityType string, ids []string, includeSoftDeleted bool) ([]batch.Record, error)
}
