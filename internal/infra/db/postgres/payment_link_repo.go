package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"subscription-billing/internal/domain"
	"subscription-billing/internal/domain/model"
	"subscription-billing/internal/domain/ports/repository"
)

var _ repository.PaymentLinkStore = (*paymentLinkRepo)(nil)

// paymentLinkRepo implements PaymentLinkStore on Postgres. Every state
// mutation is a single conditional UPDATE guarded by the current status, so
// webhook, manual-mark and reaper racers resolve at the database without
// application locks.
//
// Schema (migrations live with the deployment):
//
//	CREATE TABLE payment_links (
//	  id                TEXT PRIMARY KEY,
//	  link_id           TEXT NOT NULL UNIQUE,
//	  link_url          TEXT NOT NULL DEFAULT '',
//	  user_id           TEXT NOT NULL DEFAULT '',
//	  customer_id       TEXT NOT NULL,
//	  phone             TEXT NOT NULL,
//	  tenant_id         TEXT NOT NULL DEFAULT '',
//	  channel_bundle_id TEXT,
//	  amount            DOUBLE PRECISION NOT NULL CHECK (amount > 0),
//	  plan_id           TEXT NOT NULL DEFAULT '',
//	  plan_name         TEXT NOT NULL DEFAULT '',
//	  duration          TEXT NOT NULL DEFAULT '',
//	  status            TEXT NOT NULL,
//	  status_reason     TEXT NOT NULL DEFAULT '',
//	  utr               TEXT NOT NULL DEFAULT '',
//	  settlement_source TEXT NOT NULL DEFAULT '',
//	  platform_fee      DOUBLE PRECISION NOT NULL DEFAULT 0,
//	  net_amount        DOUBLE PRECISION NOT NULL DEFAULT 0,
//	  fee_calculation   JSONB,
//	  is_extension      BOOLEAN NOT NULL DEFAULT FALSE,
//	  expiry_date       TIMESTAMPTZ NOT NULL,
//	  created_at        TIMESTAMPTZ NOT NULL,
//	  updated_at        TIMESTAMPTZ NOT NULL,
//	  expired_at        TIMESTAMPTZ,
//	  canceled_at       TIMESTAMPTZ
//	);
//	CREATE INDEX payment_links_phone_status_created ON payment_links (phone, status, created_at);
type paymentLinkRepo struct{ pool *pgxpool.Pool }

func NewPaymentLinkRepo(pool *pgxpool.Pool) *paymentLinkRepo {
	return &paymentLinkRepo{pool: pool}
}

const linkColumns = `id, link_id, link_url, user_id, customer_id, phone, tenant_id,
COALESCE(channel_bundle_id,''), amount, plan_id, plan_name, duration, status, status_reason,
utr, settlement_source, platform_fee, net_amount, fee_calculation, is_extension,
expiry_date, created_at, updated_at, expired_at, canceled_at`

func (r *paymentLinkRepo) Save(ctx context.Context, p *model.PaymentLink) error {
	const q = `
INSERT INTO payment_links (
  id, link_id, link_url, user_id, customer_id, phone, tenant_id, channel_bundle_id,
  amount, plan_id, plan_name, duration, status, status_reason, utr, settlement_source,
  platform_fee, net_amount, fee_calculation, is_extension, expiry_date,
  created_at, updated_at, expired_at, canceled_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,NULLIF($8,''),
  $9,$10,$11,$12,$13,$14,$15,$16,
  $17,$18,$19,$20,$21,
  $22,$23,$24,$25
);`
	calc, err := marshalCalc(p.FeeCalculation)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, q,
		p.ID, p.LinkID, p.LinkURL, p.UserID, p.CustomerID, p.Phone, p.TenantID, p.ChannelBundleID,
		p.Amount, p.PlanID, p.PlanName, p.Duration, string(p.Status), p.StatusReason, p.UTR, p.SettlementSource,
		p.PlatformFee, p.NetAmount, calc, p.IsExtension, p.ExpiryDate,
		p.CreatedAt, p.UpdatedAt, p.ExpiredAt, p.CanceledAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return &domain.ConflictError{ExistingLinkID: p.LinkID, Phone: p.Phone, SameBundle: true}
		}
		return fmt.Errorf("postgres save payment link: %w", err)
	}
	return nil
}

func (r *paymentLinkRepo) FindByLinkID(ctx context.Context, linkID string) (*model.PaymentLink, error) {
	q := `SELECT ` + linkColumns + ` FROM payment_links WHERE link_id=$1;`
	return scanLink(r.pool.QueryRow(ctx, q, linkID))
}

func (r *paymentLinkRepo) FindPendingByPhone(ctx context.Context, phone string) ([]*model.PaymentLink, error) {
	q := `SELECT ` + linkColumns + `
FROM payment_links
WHERE phone=$1 AND status=$2
ORDER BY created_at DESC;`
	rows, err := r.pool.Query(ctx, q, phone, string(model.LinkStatusPending))
	if err != nil {
		return nil, fmt.Errorf("postgres pending by phone: %w", err)
	}
	defer rows.Close()

	var out []*model.PaymentLink
	for rows.Next() {
		p, err := scanLink(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *paymentLinkRepo) FindLatestSuccess(ctx context.Context, phone, channelBundleID string) (*model.PaymentLink, error) {
	q := `SELECT ` + linkColumns + `
FROM payment_links
WHERE phone=$1 AND status=$2 AND COALESCE(channel_bundle_id,'')=$3
ORDER BY created_at DESC
LIMIT 1;`
	return scanLink(r.pool.QueryRow(ctx, q, phone, string(model.LinkStatusSuccess), channelBundleID))
}

func (r *paymentLinkRepo) SettleFromPending(ctx context.Context, linkID, utr, source string) (*model.PaymentLink, bool, error) {
	q := `
UPDATE payment_links
SET status=$2, utr=$3, settlement_source=$4, updated_at=NOW()
WHERE link_id=$1 AND status=$5
RETURNING ` + linkColumns + `;`
	p, err := scanLink(r.pool.QueryRow(ctx, q,
		linkID, string(model.LinkStatusSuccess), utr, source, string(model.LinkStatusPending)))
	if err != nil {
		if err == domain.ErrNotFound {
			// Not PENDING anymore: the race was lost, not an error.
			return nil, false, nil
		}
		return nil, false, err
	}
	return p, true, nil
}

func (r *paymentLinkRepo) FailFromPending(ctx context.Context, linkID, reason string) (bool, error) {
	const q = `
UPDATE payment_links
SET status=$2, status_reason=$3, updated_at=NOW()
WHERE link_id=$1 AND status=$4;`
	tag, err := r.pool.Exec(ctx, q, linkID, string(model.LinkStatusFailed), reason, string(model.LinkStatusPending))
	if err != nil {
		return false, fmt.Errorf("postgres fail from pending: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *paymentLinkRepo) ExpireFromPending(ctx context.Context, linkID, reason string) (bool, error) {
	const q = `
UPDATE payment_links
SET status=$2, status_reason=$3, expired_at=NOW(), updated_at=NOW()
WHERE link_id=$1 AND status=$4;`
	tag, err := r.pool.Exec(ctx, q, linkID, string(model.LinkStatusExpired), reason, string(model.LinkStatusPending))
	if err != nil {
		return false, fmt.Errorf("postgres expire from pending: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *paymentLinkRepo) ExpireStalePending(ctx context.Context, olderThan time.Time, reason string) (int, []string, error) {
	// Match-then-set in one statement so a concurrent sweep double-expires
	// nothing: rows already EXPIRED simply don't match.
	const q = `
UPDATE payment_links
SET status=$2, status_reason=$3, expired_at=NOW(), updated_at=NOW()
WHERE status=$4 AND created_at < $1
RETURNING phone;`
	rows, err := r.pool.Query(ctx, q, olderThan, string(model.LinkStatusExpired), reason, string(model.LinkStatusPending))
	if err != nil {
		return 0, nil, fmt.Errorf("postgres expire stale pending: %w", err)
	}
	defer rows.Close()

	count := 0
	seen := map[string]struct{}{}
	for rows.Next() {
		var phone string
		if err := rows.Scan(&phone); err != nil {
			return count, nil, fmt.Errorf("postgres expire stale scan: %w", err)
		}
		count++
		seen[phone] = struct{}{}
	}
	phones := make([]string, 0, len(seen))
	for p := range seen {
		phones = append(phones, p)
	}
	return count, phones, rows.Err()
}

func (r *paymentLinkRepo) UpdateFeeData(ctx context.Context, linkID string, fee, net float64, calc *model.FeeCalculation, force bool) (bool, error) {
	// Historical fee data is immutable unless force: the condition refuses
	// the write when fee_calculation is already set.
	const q = `
UPDATE payment_links
SET platform_fee=$2, net_amount=$3, fee_calculation=$4, updated_at=NOW()
WHERE link_id=$1 AND status=$5 AND (fee_calculation IS NULL OR $6);`
	b, err := marshalCalc(calc)
	if err != nil {
		return false, err
	}
	tag, err := r.pool.Exec(ctx, q, linkID, fee, net, b, string(model.LinkStatusSuccess), force)
	if err != nil {
		return false, fmt.Errorf("postgres update fee data: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *paymentLinkRepo) ListForRecalc(ctx context.Context, f repository.RecalcFilter, limit int) ([]*model.PaymentLink, error) {
	q := `SELECT ` + linkColumns + ` FROM payment_links WHERE status=$1`
	args := []interface{}{string(model.LinkStatusSuccess)}

	if len(f.LinkIDs) > 0 {
		args = append(args, f.LinkIDs)
		q += fmt.Sprintf(" AND link_id = ANY($%d)", len(args))
	}
	if f.From != nil {
		args = append(args, *f.From)
		q += fmt.Sprintf(" AND created_at >= $%d", len(args))
	}
	if f.To != nil {
		args = append(args, *f.To)
		q += fmt.Sprintf(" AND created_at < $%d", len(args))
	}
	if f.TenantID != "" {
		args = append(args, f.TenantID)
		q += fmt.Sprintf(" AND tenant_id = $%d", len(args))
	}
	args = append(args, limit)
	q += fmt.Sprintf(" ORDER BY created_at LIMIT $%d;", len(args))

	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres list for recalc: %w", err)
	}
	defer rows.Close()

	var out []*model.PaymentLink
	for rows.Next() {
		p, err := scanLink(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanLink(row pgx.Row) (*model.PaymentLink, error) {
	p := &model.PaymentLink{}
	var status string
	var calc []byte
	err := row.Scan(
		&p.ID, &p.LinkID, &p.LinkURL, &p.UserID, &p.CustomerID, &p.Phone, &p.TenantID,
		&p.ChannelBundleID, &p.Amount, &p.PlanID, &p.PlanName, &p.Duration, &status, &p.StatusReason,
		&p.UTR, &p.SettlementSource, &p.PlatformFee, &p.NetAmount, &calc, &p.IsExtension,
		&p.ExpiryDate, &p.CreatedAt, &p.UpdatedAt, &p.ExpiredAt, &p.CanceledAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("postgres scan payment link: %w", err)
	}
	p.Status = model.LinkStatus(status)
	if len(calc) > 0 {
		var fc model.FeeCalculation
		if err := json.Unmarshal(calc, &fc); err != nil {
			return nil, fmt.Errorf("postgres decode fee calculation: %w", err)
		}
		p.FeeCalculation = &fc
	}
	return p, nil
}

func marshalCalc(calc *model.FeeCalculation) ([]byte, error) {
	if calc == nil {
		return nil, nil
	}
	b, err := json.Marshal(calc)
	if err != nil {
		return nil, fmt.Errorf("postgres encode fee calculation: %w", err)
	}
	return b, nil
}
