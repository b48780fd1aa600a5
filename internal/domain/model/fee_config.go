package model

import "time"

type FeeType string

const (
	FeeTypePercentage FeeType = "percentage"
	FeeTypeFixed      FeeType = "fixed"
)

type FeeScope string

const (
	FeeScopeGlobal       FeeScope = "global"
	FeeScopeTenant       FeeScope = "tenant"
	FeeScopeTenantBundle FeeScope = "tenant_bundle"
)

// FeeConfiguration is a versioned fee rule. Historical versions are never
// mutated once transactions have settled against them; corrections are new
// versions with a later EffectiveFrom.
type FeeConfiguration struct {
	ID              string
	Version         int
	Scope           FeeScope
	TenantID        string // empty for global scope
	ChannelBundleID string // set only for tenant_bundle scope
	FeeType         FeeType
	Rate            float64 // percent for percentage type, flat INR for fixed
	MinFee          *float64
	MaxFee          *float64
	EffectiveFrom   time.Time
	EffectiveTo     *time.Time
	CreatedAt       time.Time
}

// ActiveAt reports whether the configuration applies at the given instant.
func (c *FeeConfiguration) ActiveAt(t time.Time) bool {
	if t.Before(c.EffectiveFrom) {
		return false
	}
	return c.EffectiveTo == nil || t.Before(*c.EffectiveTo)
}
