package model

import "time"

type LinkStatus string

const (
	LinkStatusPending LinkStatus = "PENDING" // link created at provider; awaiting settlement
	LinkStatusSuccess LinkStatus = "SUCCESS" // settled and fee-computed
	LinkStatusFailed  LinkStatus = "FAILED"  // provider reported failure
	LinkStatusExpired LinkStatus = "EXPIRED" // abandoned and reaped
)

// Terminal reports whether no further status change is allowed.
func (s LinkStatus) Terminal() bool {
	return s == LinkStatusSuccess || s == LinkStatusFailed || s == LinkStatusExpired
}

// TransitionEvent enumerates the things that can happen to a payment link.
type TransitionEvent string

const (
	EventPaymentSucceeded TransitionEvent = "payment_succeeded"
	EventPaymentFailed    TransitionEvent = "payment_failed"
	EventLinkExpired      TransitionEvent = "link_expired"
)

// Transition is the single place deciding state moves. It returns the new
// status and whether the move is allowed; terminal states reject everything,
// so a losing racer simply observes ok=false and no-ops.
func Transition(current LinkStatus, ev TransitionEvent) (LinkStatus, bool) {
	if current != LinkStatusPending {
		return current, false
	}
	switch ev {
	case EventPaymentSucceeded:
		return LinkStatusSuccess, true
	case EventPaymentFailed:
		return LinkStatusFailed, true
	case EventLinkExpired:
		return LinkStatusExpired, true
	}
	return current, false
}

// Settlement sources recorded for audit.
const (
	SettleSourceWebhook = "webhook"
	SettleSourceManual  = "manual"
)

// FeeCalculation captures how a platform fee was computed, persisted as
// JSONB alongside the settled link. Fallback marks non-authoritative data
// produced when the primary fee service could not be used.
type FeeCalculation struct {
	ConfigID      string             `json:"config_id,omitempty"`
	ConfigVersion int                `json:"config_version,omitempty"`
	FeeType       FeeType            `json:"fee_type"`
	FeeRate       float64            `json:"fee_rate"`
	Breakdown     map[string]float64 `json:"breakdown"`
	Fallback      bool               `json:"fallback"`
	FallbackLevel string             `json:"fallback_level"`
	CalculatedAt  time.Time          `json:"calculated_at"`
}

// PaymentLink records one checkout attempt and its outcome. Rows are
// append-mostly: links are never deleted, only transitioned.
type PaymentLink struct {
	ID              string // internal UUID
	LinkID          string // provider-visible opaque token, unique, immutable
	LinkURL         string

	UserID          string
	CustomerID      string
	Phone           string
	TenantID        string
	ChannelBundleID string // empty when the plan is not bundle-scoped

	Amount   float64 // decimal INR, always > 0
	PlanID   string
	PlanName string
	Duration string // free-form, e.g. "30", "1 month"

	Status       LinkStatus
	StatusReason string

	// Settlement artifacts, populated only once SUCCESS.
	UTR              string
	SettlementSource string
	PlatformFee      float64
	NetAmount        float64
	FeeCalculation   *FeeCalculation

	IsExtension bool
	ExpiryDate  time.Time // subscription expiry, independent of Status

	CreatedAt  time.Time
	UpdatedAt  time.Time
	ExpiredAt  *time.Time
	CanceledAt *time.Time
}
