package adapter

import (
	"context"
	"time"
)

// EntitlementProvisioner grants channel access after settlement. The
// lifecycle calls it exactly once per settlement, on the PENDING->SUCCESS
// edge; replays never reach it.
type EntitlementProvisioner interface {
	ProvisionAccess(ctx context.Context, userID string, duration time.Duration) error
}
