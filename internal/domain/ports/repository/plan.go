package repository

import "context"

// PlanInfo is the slice of a subscription plan this core needs: ownership
// attribution plus display/duration defaults for the payment link.
type PlanInfo struct {
	ID              string
	Name            string
	TenantID        string
	ChannelBundleID string
	Duration        string
	Amount          float64
}

// PlanRepository is an external collaborator; plan CRUD lives elsewhere.
type PlanRepository interface {
	FindByID(ctx context.Context, id string) (*PlanInfo, error)
}

// TenantFeeLookup exposes an admin's directly-configured flat-or-percentage
// fee, used only in the fee fallback chain. nil means no override is set.
type TenantFeeLookup interface {
	FeeOverride(ctx context.Context, tenantID string) (*float64, error)
}
