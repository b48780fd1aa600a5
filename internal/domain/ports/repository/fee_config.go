package repository

import (
	"context"
	"time"

	"subscription-billing/internal/domain/model"
)

// FeeConfigStore reads versioned fee configurations. Writes happen through
// an admin surface outside this core; settled history is never edited.
type FeeConfigStore interface {
	// FindActive returns the highest-version configuration for the given
	// scope that is active at asOf, or ErrNotFound. tenantID and
	// channelBundleID are ignored where the scope does not use them.
	FindActive(ctx context.Context, scope model.FeeScope, tenantID, channelBundleID string, asOf time.Time) (*model.FeeConfiguration, error)
}
