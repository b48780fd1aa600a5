//go:build integration

package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"subscription-billing/internal/domain"
	"subscription-billing/internal/domain/model"
)

func insertFeeConfig(t *testing.T, c *model.FeeConfiguration) {
	t.Helper()
	const q = `
INSERT INTO fee_configurations
  (id, version, scope, tenant_id, channel_bundle_id, fee_type, rate, min_fee, max_fee, effective_from, effective_to)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11);`
	_, err := testPool.Exec(context.Background(), q,
		c.ID, c.Version, string(c.Scope), c.TenantID, c.ChannelBundleID,
		string(c.FeeType), c.Rate, c.MinFee, c.MaxFee, c.EffectiveFrom, c.EffectiveTo)
	if err != nil {
		t.Fatalf("insert fee config %s: %v", c.ID, err)
	}
}

func TestFeeConfigRepo_FindActive(t *testing.T) {
	cleanup(t)
	ctx := context.Background()
	repo := NewFeeConfigRepo(testPool)
	now := time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)
	min := 5.0

	past := now.AddDate(0, -1, 0)
	retired := now.AddDate(0, 0, -7)
	insertFeeConfig(t, &model.FeeConfiguration{
		ID: "fc_global_v1", Version: 1, Scope: model.FeeScopeGlobal,
		FeeType: model.FeeTypePercentage, Rate: 2.5,
		EffectiveFrom: past, EffectiveTo: &retired,
	})
	insertFeeConfig(t, &model.FeeConfiguration{
		ID: "fc_global_v2", Version: 2, Scope: model.FeeScopeGlobal,
		FeeType: model.FeeTypePercentage, Rate: 2.9, MinFee: &min,
		EffectiveFrom: retired,
	})
	insertFeeConfig(t, &model.FeeConfiguration{
		ID: "fc_tenant", Version: 1, Scope: model.FeeScopeTenant, TenantID: "t1",
		FeeType: model.FeeTypeFixed, Rate: 20,
		EffectiveFrom: past,
	})
	insertFeeConfig(t, &model.FeeConfiguration{
		ID: "fc_future", Version: 3, Scope: model.FeeScopeGlobal,
		FeeType: model.FeeTypePercentage, Rate: 3.5,
		EffectiveFrom: now.AddDate(0, 1, 0),
	})

	t.Run("highest active version wins", func(t *testing.T) {
		got, err := repo.FindActive(ctx, model.FeeScopeGlobal, "", "", now)
		if err != nil {
			t.Fatalf("FindActive failed: %v", err)
		}
		if got.ID != "fc_global_v2" || got.Rate != 2.9 {
			t.Errorf("expected fc_global_v2, got %+v", got)
		}
		if got.MinFee == nil || *got.MinFee != 5.0 {
			t.Errorf("min fee not read back: %v", got.MinFee)
		}
	})

	t.Run("retired version still resolvable at its time", func(t *testing.T) {
		got, err := repo.FindActive(ctx, model.FeeScopeGlobal, "", "", past.Add(time.Hour))
		if err != nil {
			t.Fatalf("FindActive failed: %v", err)
		}
		if got.ID != "fc_global_v1" {
			t.Errorf("expected fc_global_v1 for historical instant, got %s", got.ID)
		}
	})

	t.Run("tenant scope keyed by tenant id", func(t *testing.T) {
		got, err := repo.FindActive(ctx, model.FeeScopeTenant, "t1", "", now)
		if err != nil {
			t.Fatalf("FindActive failed: %v", err)
		}
		if got.FeeType != model.FeeTypeFixed || got.Rate != 20 {
			t.Errorf("unexpected config: %+v", got)
		}
		if _, err := repo.FindActive(ctx, model.FeeScopeTenant, "t2", "", now); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected ErrNotFound for other tenant, got %v", err)
		}
	})

	t.Run("future config not yet active", func(t *testing.T) {
		got, err := repo.FindActive(ctx, model.FeeScopeGlobal, "", "", now)
		if err != nil {
			t.Fatalf("FindActive failed: %v", err)
		}
		if got.ID == "fc_future" {
			t.Error("future config must not be selected")
		}
	})
}

func TestPlanRepo_FindByID(t *testing.T) {
	cleanup(t)
	ctx := context.Background()
	repo := NewPlanRepo(testPool)

	_, err := testPool.Exec(ctx, `
INSERT INTO plans (id, name, tenant_id, channel_bundle_id, duration, amount)
VALUES ('plan_gold', 'Gold', 't1', 'bundle_gold', '1 month', 999);`)
	if err != nil {
		t.Fatalf("insert plan: %v", err)
	}

	got, err := repo.FindByID(ctx, "plan_gold")
	if err != nil {
		t.Fatalf("FindByID failed: %v", err)
	}
	if got.Name != "Gold" || got.TenantID != "t1" || got.ChannelBundleID != "bundle_gold" || got.Duration != "1 month" || got.Amount != 999 {
		t.Errorf("unexpected plan: %+v", got)
	}

	if _, err := repo.FindByID(ctx, "plan_missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestTenantRepo_FeeOverride(t *testing.T) {
	cleanup(t)
	ctx := context.Background()
	repo := NewTenantRepo(testPool)

	_, err := testPool.Exec(ctx, `
INSERT INTO tenants (id, custom_fee) VALUES ('t_flat', 16), ('t_none', NULL);`)
	if err != nil {
		t.Fatalf("insert tenants: %v", err)
	}

	t.Run("configured override", func(t *testing.T) {
		fee, err := repo.FeeOverride(ctx, "t_flat")
		if err != nil {
			t.Fatalf("FeeOverride failed: %v", err)
		}
		if fee == nil || *fee != 16 {
			t.Errorf("expected 16, got %v", fee)
		}
	})

	t.Run("null override", func(t *testing.T) {
		fee, err := repo.FeeOverride(ctx, "t_none")
		if err != nil {
			t.Fatalf("FeeOverride failed: %v", err)
		}
		if fee != nil {
			t.Errorf("expected nil, got %v", *fee)
		}
	})

	t.Run("unknown tenant", func(t *testing.T) {
		if _, err := repo.FeeOverride(ctx, "t_missing"); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})
}
