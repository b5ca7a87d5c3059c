package batch

import "errors"

var (
	// ErrTransientStore means the pending batch store could not be reached or
	// returned data that does not decode. Callers retry on their own policy.
	ErrTransientStore = errors.New("pending batch store unavailable")

	// ErrStaleReference marks an identifier that no longer resolves to a
	// record at flush time. It is logged and counted, never returned.
	ErrStaleReference = errors.New("stale record reference")

	// ErrMisconfiguredEntity is returned for an entity type that has no
	// batching capability bound.
	ErrMisconfiguredEntity = errors.New("entity type is not configured for batching")

	// ErrUnresolvable means a batch was taken for delivery but its pending
	// identifiers could not be turned into records. The batch is not
	// restored.
	ErrUnresolvable = errors.New("pending records could not be resolved")

	// ErrConflict means concurrent writers kept invalidating an update.
	ErrConflict = errors.New("pending batch update conflict")
)
