// File: internal/usecase/lifecycle_uc.go
package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"subscription-billing/internal/domain"
	"subscription-billing/internal/domain/model"
	"subscription-billing/internal/domain/ports/adapter"
	"subscription-billing/internal/domain/ports/repository"
	"subscription-billing/internal/infra/metrics"
)

// Compile-time check
var _ PaymentLifecycle = (*lifecycleUC)(nil)

// DefaultPendingWindow is how long a PENDING link blocks a new checkout for
// the same (phone, bundle) pair before it is considered stale.
const DefaultPendingWindow = 30 * time.Minute

// DefaultFallbackFeePercent is the terminal fee fallback when neither the
// fee service nor a tenant override is usable.
const DefaultFallbackFeePercent = 2.9

// Reference-code candidates, in priority order, read from the provider's
// success payload.
var referenceCodeFields = []string{"utr", "rrn", "bank_reference", "reference_id", "payment_id"}

type CreateLinkRequest struct {
	UserID          string  `json:"user_id"`
	CustomerID      string  `json:"customer_id"`
	Phone           string  `json:"phone"`
	Amount          float64 `json:"amount"`
	PlanID          string  `json:"plan_id"`
	PlanName        string  `json:"plan_name"`
	Duration        string  `json:"duration"`
	TenantID        string  `json:"tenant_id"`
	ChannelBundleID string  `json:"channel_bundle_id"`
}

type CreateLinkResult struct {
	Link *model.PaymentLink
	// Warning annotates a creation that went through despite a pending link
	// on a different bundle for the same phone.
	Warning string
}

// BulkRecalcItem reports one link's outcome inside a batch.
type BulkRecalcItem struct {
	LinkID string `json:"link_id"`
	OK     bool   `json:"ok"`
	Error  string `json:"error,omitempty"`
}

type BulkRecalcReport struct {
	Requested int              `json:"requested"`
	Succeeded int              `json:"succeeded"`
	Failed    int              `json:"failed"`
	Items     []BulkRecalcItem `json:"items"`
}

// PaymentLifecycle owns the payment-link state machine.
type PaymentLifecycle interface {
	CreateLink(ctx context.Context, req CreateLinkRequest) (*CreateLinkResult, error)
	HandleWebhook(ctx context.Context, rawPayload []byte, signature, timestamp string) error
	ManualMarkSuccess(ctx context.Context, linkID string) (*model.PaymentLink, error)
	RecalculateFees(ctx context.Context, linkID string, force bool) (*model.PaymentLink, error)
	BulkRecalculate(ctx context.Context, filter repository.RecalcFilter) (*BulkRecalcReport, error)
}

// Collaborators bundles every dependency of the lifecycle so it can be
// constructed for tests without a live database or provider.
type Collaborators struct {
	Links       repository.PaymentLinkStore
	Plans       repository.PlanRepository
	TenantFees  repository.TenantFeeLookup
	Gateway     adapter.PaymentGateway
	Fees        FeeCalculator
	Provisioner adapter.EntitlementProvisioner
	Notifier    adapter.NotificationSink
}

type lifecycleUC struct {
	deps          Collaborators
	pendingWindow time.Duration
	now           func() time.Time
	log           *zerolog.Logger
}

func NewPaymentLifecycle(deps Collaborators, pendingWindow time.Duration, logger *zerolog.Logger) *lifecycleUC {
	if pendingWindow <= 0 {
		pendingWindow = DefaultPendingWindow
	}
	l := logger.With().Str("component", "PaymentLifecycle").Logger()
	return &lifecycleUC{deps: deps, pendingWindow: pendingWindow, now: time.Now, log: &l}
}

// ---------------------------------------------------------------------------
// CreateLink
// ---------------------------------------------------------------------------

func (u *lifecycleUC) CreateLink(ctx context.Context, req CreateLinkRequest) (*CreateLinkResult, error) {
	if req.CustomerID == "" || req.Phone == "" {
		return nil, fmt.Errorf("%w: customer_id and phone are required", domain.ErrInvalidArgument)
	}
	if req.Amount <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", domain.ErrInvalidArgument)
	}

	// Attribute ownership from the referenced plan.
	if req.PlanID != "" {
		plan, err := u.deps.Plans.FindByID(ctx, req.PlanID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return nil, fmt.Errorf("%w: plan %s", domain.ErrNotFound, req.PlanID)
			}
			return nil, err
		}
		if req.TenantID == "" {
			req.TenantID = plan.TenantID
		}
		if req.ChannelBundleID == "" {
			req.ChannelBundleID = plan.ChannelBundleID
		}
		if req.PlanName == "" {
			req.PlanName = plan.Name
		}
		if req.Duration == "" {
			req.Duration = plan.Duration
		}
	}

	now := u.now()
	warning := ""

	pending, err := u.deps.Links.FindPendingByPhone(ctx, req.Phone)
	if err != nil {
		return nil, err
	}
	for _, p := range pending {
		age := now.Sub(p.CreatedAt)
		if age >= u.pendingWindow {
			// Lazy cleanup, independent of the scheduled reaper. A losing
			// race against the reaper is a harmless no-op.
			reason := fmt.Sprintf("expired by new checkout attempt after %s of inactivity", u.pendingWindow)
			if _, err := u.deps.Links.ExpireFromPending(ctx, p.LinkID, reason); err != nil {
				u.log.Error().Err(err).Str("link_id", p.LinkID).Msg("lazy expiry failed")
			} else {
				metrics.IncLinkTransition(string(model.LinkStatusExpired), "lazy")
			}
			continue
		}
		if p.ChannelBundleID == req.ChannelBundleID {
			return nil, &domain.ConflictError{ExistingLinkID: p.LinkID, Phone: p.Phone, SameBundle: true}
		}
		warning = fmt.Sprintf("phone has a pending payment link %s on another bundle", p.LinkID)
	}

	// Extension: a live prior subscription on the same bundle extends from
	// its current expiry rather than from now.
	dur := model.ParsePlanDuration(req.Duration)
	expiry := now.Add(dur.AsTime())
	isExtension := false
	if prev, err := u.deps.Links.FindLatestSuccess(ctx, req.Phone, req.ChannelBundleID); err == nil {
		if prev.ExpiryDate.After(now) {
			expiry = prev.ExpiryDate.Add(dur.AsTime())
			isExtension = true
		}
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	created, err := u.deps.Gateway.CreateLink(ctx, adapter.LinkRequest{
		CustomerID: req.CustomerID,
		Phone:      req.Phone,
		Amount:     req.Amount,
		PlanID:     req.PlanID,
		PlanName:   req.PlanName,
	})
	if err != nil {
		return nil, err
	}

	link := &model.PaymentLink{
		ID:              uuid.NewString(),
		LinkID:          created.LinkID,
		LinkURL:         created.LinkURL,
		UserID:          req.UserID,
		CustomerID:      req.CustomerID,
		Phone:           req.Phone,
		TenantID:        req.TenantID,
		ChannelBundleID: req.ChannelBundleID,
		Amount:          req.Amount,
		PlanID:          req.PlanID,
		PlanName:        req.PlanName,
		Duration:        req.Duration,
		Status:          model.LinkStatusPending,
		IsExtension:     isExtension,
		ExpiryDate:      expiry,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := u.deps.Links.Save(ctx, link); err != nil {
		return nil, err
	}
	metrics.IncLinkCreated()

	u.deps.Notifier.Publish(ctx, adapter.Event{
		Type:           "payment_link_created",
		Title:          "Payment link created",
		Message:        fmt.Sprintf("Link %s for %s (%.2f INR)", link.LinkID, link.PlanName, link.Amount),
		TargetTenantID: link.TenantID,
		Payload:        map[string]any{"link_id": link.LinkID, "link_url": link.LinkURL, "extension": isExtension},
	})

	return &CreateLinkResult{Link: link, Warning: warning}, nil
}

// ---------------------------------------------------------------------------
// HandleWebhook
// ---------------------------------------------------------------------------

// webhookEnvelope mirrors the provider's delivery format.
type webhookEnvelope struct {
	Type string `json:"type"`
	Data struct {
		Order struct {
			OrderID string `json:"order_id"`
		} `json:"order"`
		Payment map[string]any `json:"payment"`
	} `json:"data"`
}

func (u *lifecycleUC) HandleWebhook(ctx context.Context, rawPayload []byte, signature, timestamp string) error {
	if !u.deps.Gateway.VerifySignature(rawPayload, signature, timestamp) {
		metrics.IncWebhookEvent("rejected")
		return domain.ErrUnauthenticated
	}

	var ev webhookEnvelope
	if err := json.Unmarshal(rawPayload, &ev); err != nil {
		metrics.IncWebhookEvent("malformed")
		return fmt.Errorf("%w: malformed webhook payload", domain.ErrInvalidArgument)
	}

	switch ev.Type {
	case "PAYMENT_SUCCESS":
		return u.applySuccess(ctx, ev)
	case "PAYMENT_FAILED":
		return u.applyFailure(ctx, ev)
	default:
		u.log.Info().Str("type", ev.Type).Msg("ignoring unknown webhook event type")
		metrics.IncWebhookEvent("ignored")
		return nil
	}
}

func (u *lifecycleUC) applySuccess(ctx context.Context, ev webhookEnvelope) error {
	linkID := ev.Data.Order.OrderID
	link, err := u.deps.Links.FindByLinkID(ctx, linkID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			// Untracked or already-purged event; the webhook is not ours to fail.
			u.log.Info().Str("link_id", linkID).Msg("success webhook for unknown link; ignoring")
			metrics.IncWebhookEvent("unknown_link")
			return nil
		}
		return err
	}

	if link.Status == model.LinkStatusSuccess {
		// Idempotent replay: no fee recomputation, no re-provisioning.
		u.log.Info().Str("link_id", linkID).Msg("success webhook replay; already settled")
		metrics.IncWebhookEvent("replay")
		return nil
	}
	if _, ok := model.Transition(link.Status, model.EventPaymentSucceeded); !ok {
		u.log.Warn().
			Str("link_id", linkID).
			Str("status", string(link.Status)).
			Msg("success webhook for terminal link; not resurrecting")
		metrics.IncWebhookEvent("terminal_conflict")
		return nil
	}

	utr := firstReferenceCode(ev.Data.Payment)
	return u.settle(ctx, link, utr, model.SettleSourceWebhook)
}

func (u *lifecycleUC) applyFailure(ctx context.Context, ev webhookEnvelope) error {
	linkID := ev.Data.Order.OrderID
	link, err := u.deps.Links.FindByLinkID(ctx, linkID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			metrics.IncWebhookEvent("unknown_link")
			return nil
		}
		return err
	}
	if _, ok := model.Transition(link.Status, model.EventPaymentFailed); !ok {
		metrics.IncWebhookEvent("replay")
		return nil
	}

	ok, err := u.deps.Links.FailFromPending(ctx, link.LinkID, "payment failed at provider")
	if err != nil {
		return err
	}
	if !ok {
		// Lost the race against another transition.
		return nil
	}
	metrics.IncLinkTransition(string(model.LinkStatusFailed), model.SettleSourceWebhook)

	u.deps.Notifier.Publish(ctx, adapter.Event{
		Type:           "payment_failed",
		Title:          "Payment failed",
		Message:        fmt.Sprintf("Payment for link %s failed", link.LinkID),
		TargetTenantID: link.TenantID,
		Payload:        map[string]any{"link_id": link.LinkID},
	})
	return nil
}

// settle performs the PENDING -> SUCCESS edge shared by webhook and manual
// paths: atomic transition, fee pipeline, provisioning, notification.
func (u *lifecycleUC) settle(ctx context.Context, link *model.PaymentLink, utr, source string) error {
	settled, won, err := u.deps.Links.SettleFromPending(ctx, link.LinkID, utr, source)
	if err != nil {
		return err
	}
	if !won {
		// Whoever reached the record first owns settlement.
		u.log.Info().Str("link_id", link.LinkID).Str("source", source).Msg("settle race lost; no-op")
		return nil
	}
	metrics.IncLinkTransition(string(model.LinkStatusSuccess), source)

	fee, calc := u.computeFeeWithFallback(ctx, settled)
	if _, err := u.deps.Links.UpdateFeeData(ctx, settled.LinkID, fee, netOf(settled.Amount, fee), calc, false); err != nil {
		// Settlement already happened; fee persistence failure must not
		// unwind it. Surface through logs and metrics for reconciliation.
		u.log.Error().Err(err).Str("link_id", settled.LinkID).Msg("persisting fee data failed")
	} else {
		metrics.AddPlatformFee(fee)
	}

	dur := model.ParsePlanDuration(settled.Duration)
	if err := u.deps.Provisioner.ProvisionAccess(ctx, settled.UserID, dur.AsTime()); err != nil {
		u.log.Error().Err(err).
			Str("link_id", settled.LinkID).
			Str("user_id", settled.UserID).
			Msg("entitlement provisioning failed; settlement stands")
	}

	u.deps.Notifier.Publish(ctx, adapter.Event{
		Type:           "payment_success",
		Title:          "Payment settled",
		Message:        fmt.Sprintf("Link %s settled for %.2f INR (fee %.2f)", settled.LinkID, settled.Amount, fee),
		TargetTenantID: settled.TenantID,
		Payload:        map[string]any{"link_id": settled.LinkID, "utr": utr, "source": source},
	})
	return nil
}

// ---------------------------------------------------------------------------
// ManualMarkSuccess
// ---------------------------------------------------------------------------

// ManualMarkSuccess is the administrative escape hatch for when a payer
// reaches the success page before the webhook lands.
func (u *lifecycleUC) ManualMarkSuccess(ctx context.Context, linkID string) (*model.PaymentLink, error) {
	link, err := u.deps.Links.FindByLinkID(ctx, linkID)
	if err != nil {
		return nil, err
	}
	if link.Status == model.LinkStatusSuccess {
		return link, nil
	}
	if _, ok := model.Transition(link.Status, model.EventPaymentSucceeded); !ok {
		return nil, fmt.Errorf("%w: link %s is %s", domain.ErrAlreadyTerminal, linkID, link.Status)
	}

	// Ask the provider before trusting the success page.
	status, err := u.deps.Gateway.CheckStatus(ctx, linkID)
	if err != nil {
		u.log.Warn().Err(err).Str("link_id", linkID).Msg("status poll failed; proceeding on manual authority")
	} else if status != "paid" {
		return nil, fmt.Errorf("%w: provider reports status %q", domain.ErrInvalidArgument, status)
	}

	if err := u.settle(ctx, link, "", model.SettleSourceManual); err != nil {
		return nil, err
	}
	return u.deps.Links.FindByLinkID(ctx, linkID)
}

// ---------------------------------------------------------------------------
// Fee recalculation
// ---------------------------------------------------------------------------

func (u *lifecycleUC) RecalculateFees(ctx context.Context, linkID string, force bool) (*model.PaymentLink, error) {
	link, err := u.deps.Links.FindByLinkID(ctx, linkID)
	if err != nil {
		return nil, err
	}
	if link.Status != model.LinkStatusSuccess {
		return nil, fmt.Errorf("%w: link %s is %s, not SUCCESS", domain.ErrInvalidArgument, linkID, link.Status)
	}
	if link.FeeCalculation != nil && !force {
		// Historical fee data is immutable unless explicitly forced.
		return link, nil
	}

	fee, calc := u.computeFeeWithFallback(ctx, link)
	ok, err := u.deps.Links.UpdateFeeData(ctx, linkID, fee, netOf(link.Amount, fee), calc, force)
	if err != nil {
		return nil, err
	}
	if !ok {
		return link, nil
	}
	return u.deps.Links.FindByLinkID(ctx, linkID)
}

const bulkRecalcLimit = 100

func (u *lifecycleUC) BulkRecalculate(ctx context.Context, filter repository.RecalcFilter) (*BulkRecalcReport, error) {
	if len(filter.LinkIDs) == 0 && filter.From == nil && filter.To == nil {
		return nil, fmt.Errorf("%w: bulk recalculation needs an id list or a date range", domain.ErrInvalidArgument)
	}

	links, err := u.deps.Links.ListForRecalc(ctx, filter, bulkRecalcLimit)
	if err != nil {
		return nil, err
	}

	report := &BulkRecalcReport{Requested: len(links)}
	for _, l := range links {
		item := BulkRecalcItem{LinkID: l.LinkID}
		if _, err := u.RecalculateFees(ctx, l.LinkID, true); err != nil {
			// One item's failure must not abort the batch.
			item.Error = err.Error()
			report.Failed++
		} else {
			item.OK = true
			report.Succeeded++
		}
		report.Items = append(report.Items, item)
	}
	return report, nil
}

// ---------------------------------------------------------------------------
// Fee fallback chain
// ---------------------------------------------------------------------------

// computeFeeWithFallback never fails: a payment must not fail to settle
// because fee computation had a transient error. Each degradation level is
// logged and the persisted record marks fallback data as non-authoritative.
func (u *lifecycleUC) computeFeeWithFallback(ctx context.Context, link *model.PaymentLink) (float64, *model.FeeCalculation) {
	now := u.now()

	res, err := u.deps.Fees.Calculate(ctx, link.Amount, link.TenantID, link.ChannelBundleID, now)
	if err == nil {
		metrics.IncFeeFallback("service")
		return res.PlatformFee, &model.FeeCalculation{
			ConfigID:      res.ConfigID,
			ConfigVersion: res.ConfigVersion,
			FeeType:       res.FeeType,
			FeeRate:       res.FeeRate,
			Breakdown:     res.Breakdown,
			Fallback:      false,
			FallbackLevel: "service",
			CalculatedAt:  now,
		}
	}
	u.log.Warn().Err(err).Str("link_id", link.LinkID).Msg("fee service failed; trying tenant override")

	if link.TenantID != "" {
		rate, err := u.deps.TenantFees.FeeOverride(ctx, link.TenantID)
		if err == nil && rate != nil {
			fee, feeType := ApplyTenantRate(link.Amount, *rate)
			u.log.Warn().
				Str("link_id", link.LinkID).
				Float64("rate", *rate).
				Str("fee_type", string(feeType)).
				Msg("fee fallback: tenant override used")
			metrics.IncFeeFallback("tenant_override")
			return fee, &model.FeeCalculation{
				FeeType:       feeType,
				FeeRate:       *rate,
				Breakdown:     map[string]float64{"amount": link.Amount, "final_fee": fee},
				Fallback:      true,
				FallbackLevel: "tenant_override",
				CalculatedAt:  now,
			}
		}
		if err != nil {
			u.log.Warn().Err(err).Str("link_id", link.LinkID).Msg("tenant fee lookup failed")
		}
	}

	fee := RoundPaise(link.Amount * DefaultFallbackFeePercent / 100)
	u.log.Warn().
		Str("link_id", link.LinkID).
		Float64("fee", fee).
		Msgf("fee fallback: static %.1f%% default used", DefaultFallbackFeePercent)
	metrics.IncFeeFallback("default_percentage")
	return fee, &model.FeeCalculation{
		FeeType:       model.FeeTypePercentage,
		FeeRate:       DefaultFallbackFeePercent,
		Breakdown:     map[string]float64{"amount": link.Amount, "final_fee": fee},
		Fallback:      true,
		FallbackLevel: "default_percentage",
		CalculatedAt:  now,
	}
}

// firstReferenceCode picks the first non-empty candidate from the provider's
// payment object, in priority order.
func firstReferenceCode(payment map[string]any) string {
	for _, key := range referenceCodeFields {
		if v, ok := payment[key]; ok {
			if s, ok := v.(string); ok && s != "" {
				return s
			}
		}
	}
	return ""
}

func netOf(amount, fee float64) float64 {
	return RoundPaise(amount - fee)
}
