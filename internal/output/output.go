package output

import (
	"context"

	"github.com/crimson-sun/auditfwd/internal/model"
)

// Sink delivers a drained batch of audit lines to one destination.
// Send returns nil only when the whole batch was accepted.
type Sink interface {
	Name() string
	Send(ctx context.Context, batch model.Batch) error
	Close() error
}
