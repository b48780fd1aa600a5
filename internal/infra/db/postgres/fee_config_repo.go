package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"subscription-billing/internal/domain"
	"subscription-billing/internal/domain/model"
	"subscription-billing/internal/domain/ports/repository"
)

var _ repository.FeeConfigStore = (*feeConfigRepo)(nil)

// feeConfigRepo reads versioned fee configurations. Rows are append-only:
// settled history references (id, version) pairs that must stay stable.
type feeConfigRepo struct{ pool *pgxpool.Pool }

func NewFeeConfigRepo(pool *pgxpool.Pool) *feeConfigRepo {
	return &feeConfigRepo{pool: pool}
}

func (r *feeConfigRepo) FindActive(ctx context.Context, scope model.FeeScope, tenantID, channelBundleID string, asOf time.Time) (*model.FeeConfiguration, error) {
	const q = `
SELECT id, version, scope, COALESCE(tenant_id,''), COALESCE(channel_bundle_id,''),
       fee_type, rate, min_fee, max_fee, effective_from, effective_to, created_at
FROM fee_configurations
WHERE scope=$1
  AND COALESCE(tenant_id,'')=$2
  AND COALESCE(channel_bundle_id,'')=$3
  AND effective_from <= $4
  AND (effective_to IS NULL OR effective_to > $4)
ORDER BY version DESC
LIMIT 1;`

	c := &model.FeeConfiguration{}
	var scopeStr, feeType string
	row := r.pool.QueryRow(ctx, q, string(scope), tenantID, channelBundleID, asOf)
	err := row.Scan(
		&c.ID, &c.Version, &scopeStr, &c.TenantID, &c.ChannelBundleID,
		&feeType, &c.Rate, &c.MinFee, &c.MaxFee, &c.EffectiveFrom, &c.EffectiveTo, &c.CreatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("postgres find fee config: %w", err)
	}
	c.Scope = model.FeeScope(scopeStr)
	c.FeeType = model.FeeType(feeType)
	return c, nil
}
