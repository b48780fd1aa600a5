package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"subscription-billing/internal/domain"
	"subscription-billing/internal/domain/ports/repository"
)

var (
	_ repository.PlanRepository  = (*planRepo)(nil)
	_ repository.TenantFeeLookup = (*tenantRepo)(nil)
)

// planRepo reads the slice of plan data the payment core needs; plan CRUD
// is owned elsewhere.
type planRepo struct{ pool *pgxpool.Pool }

func NewPlanRepo(pool *pgxpool.Pool) *planRepo {
	return &planRepo{pool: pool}
}

func (r *planRepo) FindByID(ctx context.Context, id string) (*repository.PlanInfo, error) {
	const q = `
SELECT id, name, tenant_id, COALESCE(channel_bundle_id,''), duration, amount
FROM plans
WHERE id=$1;`
	p := &repository.PlanInfo{}
	row := r.pool.QueryRow(ctx, q, id)
	if err := row.Scan(&p.ID, &p.Name, &p.TenantID, &p.ChannelBundleID, &p.Duration, &p.Amount); err != nil {
		if err == pgx.ErrNoRows {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("postgres find plan: %w", err)
	}
	return p, nil
}

// tenantRepo exposes the tenant's directly-configured fee number used by
// the fee fallback chain.
type tenantRepo struct{ pool *pgxpool.Pool }

func NewTenantRepo(pool *pgxpool.Pool) *tenantRepo {
	return &tenantRepo{pool: pool}
}

func (r *tenantRepo) FeeOverride(ctx context.Context, tenantID string) (*float64, error) {
	const q = `SELECT custom_fee FROM tenants WHERE id=$1;`
	var fee *float64
	if err := r.pool.QueryRow(ctx, q, tenantID).Scan(&fee); err != nil {
		if err == pgx.ErrNoRows {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("postgres tenant fee: %w", err)
	}
	return fee, nil
}
