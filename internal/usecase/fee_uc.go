// File: internal/usecase/fee_uc.go
package usecase

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"subscription-billing/internal/domain"
	"subscription-billing/internal/domain/model"
	"subscription-billing/internal/domain/ports/repository"
)

// Compile-time check
var _ FeeCalculator = (*feeCalc)(nil)

// FeeResult is the outcome of one platform-fee computation.
type FeeResult struct {
	PlatformFee   float64
	NetAmount     float64
	FeeType       model.FeeType
	FeeRate       float64
	ConfigID      string
	ConfigVersion int
	Breakdown     map[string]float64
}

// FeeCalculator computes the platform fee for a settling transaction. It is
// pure apart from reading configuration; lookup or compute failures are
// returned to the caller, which owns the fallback chain.
type FeeCalculator interface {
	Calculate(ctx context.Context, amount float64, tenantID, channelBundleID string, asOf time.Time) (*FeeResult, error)
}

type feeCalc struct {
	configs repository.FeeConfigStore
	log     *zerolog.Logger
}

func NewFeeCalculator(configs repository.FeeConfigStore, logger *zerolog.Logger) *feeCalc {
	l := logger.With().Str("component", "FeeCalculator").Logger()
	return &feeCalc{configs: configs, log: &l}
}

func (c *feeCalc) Calculate(ctx context.Context, amount float64, tenantID, channelBundleID string, asOf time.Time) (*FeeResult, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", domain.ErrInvalidArgument)
	}

	cfg, err := c.lookup(ctx, tenantID, channelBundleID, asOf)
	if err != nil {
		return nil, err
	}

	var fee float64
	switch cfg.FeeType {
	case model.FeeTypePercentage:
		fee = amount * cfg.Rate / 100
	case model.FeeTypeFixed:
		fee = cfg.Rate
	default:
		return nil, fmt.Errorf("%w: unknown fee type %q", domain.ErrInvalidArgument, cfg.FeeType)
	}

	clamped := fee
	if cfg.MinFee != nil && clamped < *cfg.MinFee {
		clamped = *cfg.MinFee
	}
	if cfg.MaxFee != nil && clamped > *cfg.MaxFee {
		clamped = *cfg.MaxFee
	}
	if clamped < 0 {
		clamped = 0
	}
	clamped = RoundPaise(clamped)

	c.log.Debug().
		Str("config_id", cfg.ID).
		Int("version", cfg.Version).
		Str("scope", string(cfg.Scope)).
		Float64("fee", clamped).
		Msg("fee computed")

	return &FeeResult{
		PlatformFee:   clamped,
		NetAmount:     RoundPaise(amount - clamped),
		FeeType:       cfg.FeeType,
		FeeRate:       cfg.Rate,
		ConfigID:      cfg.ID,
		ConfigVersion: cfg.Version,
		Breakdown: map[string]float64{
			"amount":     amount,
			"raw_fee":    RoundPaise(fee),
			"final_fee":  clamped,
			"net_amount": RoundPaise(amount - clamped),
		},
	}, nil
}

// lookup walks the scope chain: tenant+bundle, then tenant, then global.
func (c *feeCalc) lookup(ctx context.Context, tenantID, channelBundleID string, asOf time.Time) (*model.FeeConfiguration, error) {
	if tenantID != "" && channelBundleID != "" {
		cfg, err := c.configs.FindActive(ctx, model.FeeScopeTenantBundle, tenantID, channelBundleID, asOf)
		if err == nil {
			return cfg, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
	}
	if tenantID != "" {
		cfg, err := c.configs.FindActive(ctx, model.FeeScopeTenant, tenantID, "", asOf)
		if err == nil {
			return cfg, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
	}
	return c.configs.FindActive(ctx, model.FeeScopeGlobal, "", "", asOf)
}

// ApplyTenantRate applies the legacy dual interpretation of a tenant's bare
// configured fee number: a rate >= 1 is a fixed absolute fee, a rate < 1 is
// a fractional percentage of the amount. Exactly 1.0 is a flat fee of 1.
func ApplyTenantRate(amount, rate float64) (fee float64, feeType model.FeeType) {
	if rate >= 1 {
		return RoundPaise(rate), model.FeeTypeFixed
	}
	return RoundPaise(amount * rate), model.FeeTypePercentage
}

// RoundPaise rounds half-up to two decimals so net = amount - fee holds
// exactly once persisted.
func RoundPaise(v float64) float64 {
	return math.Round(v*100) / 100
}
