package repository

import (
	"context"
	"time"

	"subscription-billing/internal/domain/model"
)

// -----------------------------
// Payment links
// -----------------------------

// RecalcFilter bounds a bulk fee recalculation. Either LinkIDs or the
// From/To window must be set; TenantID optionally narrows the scope.
type RecalcFilter struct {
	LinkIDs  []string   `json:"link_ids,omitempty"`
	From     *time.Time `json:"from,omitempty"`
	To       *time.Time `json:"to,omitempty"`
	TenantID string     `json:"tenant_id,omitempty"`
}

// PaymentLinkStore is the only shared mutable resource in the system.
// Every mutating method is a single conditional update (match-then-set in
// one statement) so concurrent callers never interleave a read-modify-write
// cycle; losing racers observe ok=false and treat it as a no-op.
type PaymentLinkStore interface {
	Save(ctx context.Context, link *model.PaymentLink) error
	FindByLinkID(ctx context.Context, linkID string) (*model.PaymentLink, error)
	// FindPendingByPhone returns all PENDING links for a phone, newest first.
	FindPendingByPhone(ctx context.Context, phone string) ([]*model.PaymentLink, error)
	// FindLatestSuccess returns the most recent SUCCESS link for the
	// (phone, bundle) pair, or ErrNotFound.
	FindLatestSuccess(ctx context.Context, phone, channelBundleID string) (*model.PaymentLink, error)

	// SettleFromPending transitions PENDING -> SUCCESS, attaching the
	// settlement reference and source. ok=false when the link was not
	// PENDING (someone else already won).
	SettleFromPending(ctx context.Context, linkID, utr, source string) (*model.PaymentLink, bool, error)
	// FailFromPending transitions PENDING -> FAILED with a reason.
	FailFromPending(ctx context.Context, linkID, reason string) (bool, error)
	// ExpireFromPending transitions a single PENDING link to EXPIRED.
	ExpireFromPending(ctx context.Context, linkID, reason string) (bool, error)
	// ExpireStalePending bulk-transitions every PENDING link created before
	// olderThan to EXPIRED in one statement. Returns the number of rows
	// expired and the distinct phones affected.
	ExpireStalePending(ctx context.Context, olderThan time.Time, reason string) (int, []string, error)

	// UpdateFeeData persists fee artifacts on a settled link. Existing fee
	// data is immutable unless force is set; ok=false when refused.
	UpdateFeeData(ctx context.Context, linkID string, fee, net float64, calc *model.FeeCalculation, force bool) (bool, error)

	// ListForRecalc returns SUCCESS links matching the filter, capped at limit.
	ListForRecalc(ctx context.Context, f RecalcFilter, limit int) ([]*model.PaymentLink, error)
}
