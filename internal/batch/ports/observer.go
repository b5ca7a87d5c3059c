package ports

import "github.com/scoutbatch-go/internal/domain/batch"

// FlushObserver hears about every batch taken out of the store, whether its
// delivery succeeded or not.
type FlushObserver interface {
	FlushCompleted(result batch.FlushResult, err error)
}
