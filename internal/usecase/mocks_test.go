//go:build !integration

package usecase

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"subscription-billing/internal/domain"
	"subscription-billing/internal/domain/model"
	"subscription-billing/internal/domain/ports/adapter"
	"subscription-billing/internal/domain/ports/repository"
)

//
// ---------------- in-memory link store ----------------
//

type memLinkStore struct {
	mu     sync.RWMutex
	byLink map[string]*model.PaymentLink

	// optional error hooks
	errSave    error
	errFind    error
	errFindFor map[string]error
}

func newMemLinkStore() *memLinkStore {
	return &memLinkStore{byLink: map[string]*model.PaymentLink{}}
}

func (m *memLinkStore) put(l *model.PaymentLink) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *l
	m.byLink[l.LinkID] = &cp
}

func (m *memLinkStore) get(linkID string) *model.PaymentLink {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if l, ok := m.byLink[linkID]; ok {
		cp := *l
		return &cp
	}
	return nil
}

func (m *memLinkStore) Save(ctx context.Context, link *model.PaymentLink) error {
	if m.errSave != nil {
		return m.errSave
	}
	m.put(link)
	return nil
}

func (m *memLinkStore) FindByLinkID(ctx context.Context, linkID string) (*model.PaymentLink, error) {
	if m.errFind != nil {
		return nil, m.errFind
	}
	if err, ok := m.errFindFor[linkID]; ok {
		return nil, err
	}
	if l := m.get(linkID); l != nil {
		return l, nil
	}
	return nil, domain.ErrNotFound
}

func (m *memLinkStore) FindPendingByPhone(ctx context.Context, phone string) ([]*model.PaymentLink, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.PaymentLink
	for _, l := range m.byLink {
		if l.Phone == phone && l.Status == model.LinkStatusPending {
			cp := *l
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *memLinkStore) FindLatestSuccess(ctx context.Context, phone, channelBundleID string) (*model.PaymentLink, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var best *model.PaymentLink
	for _, l := range m.byLink {
		if l.Phone != phone || l.ChannelBundleID != channelBundleID || l.Status != model.LinkStatusSuccess {
			continue
		}
		if best == nil || l.CreatedAt.After(best.CreatedAt) {
			best = l
		}
	}
	if best == nil {
		return nil, domain.ErrNotFound
	}
	cp := *best
	return &cp, nil
}

func (m *memLinkStore) SettleFromPending(ctx context.Context, linkID, utr, source string) (*model.PaymentLink, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.byLink[linkID]
	if !ok {
		return nil, false, nil
	}
	if l.Status != model.LinkStatusPending {
		return nil, false, nil
	}
	l.Status = model.LinkStatusSuccess
	l.UTR = utr
	l.SettlementSource = source
	l.UpdatedAt = time.Now()
	cp := *l
	return &cp, true, nil
}

func (m *memLinkStore) FailFromPending(ctx context.Context, linkID, reason string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.byLink[linkID]
	if !ok || l.Status != model.LinkStatusPending {
		return false, nil
	}
	l.Status = model.LinkStatusFailed
	l.StatusReason = reason
	return true, nil
}

func (m *memLinkStore) ExpireFromPending(ctx context.Context, linkID, reason string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.byLink[linkID]
	if !ok || l.Status != model.LinkStatusPending {
		return false, nil
	}
	now := time.Now()
	l.Status = model.LinkStatusExpired
	l.StatusReason = reason
	l.ExpiredAt = &now
	return true, nil
}

func (m *memLinkStore) ExpireStalePending(ctx context.Context, olderThan time.Time, reason string) (int, []string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	phones := map[string]struct{}{}
	now := time.Now()
	for _, l := range m.byLink {
		if l.Status == model.LinkStatusPending && l.CreatedAt.Before(olderThan) {
			l.Status = model.LinkStatusExpired
			l.StatusReason = reason
			l.ExpiredAt = &now
			count++
			phones[l.Phone] = struct{}{}
		}
	}
	out := make([]string, 0, len(phones))
	for p := range phones {
		out = append(out, p)
	}
	return count, out, nil
}

func (m *memLinkStore) UpdateFeeData(ctx context.Context, linkID string, fee, net float64, calc *model.FeeCalculation, force bool) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.byLink[linkID]
	if !ok {
		return false, domain.ErrNotFound
	}
	if l.Status != model.LinkStatusSuccess {
		return false, nil
	}
	if l.FeeCalculation != nil && !force {
		return false, nil
	}
	l.PlatformFee = fee
	l.NetAmount = net
	l.FeeCalculation = calc
	return true, nil
}

func (m *memLinkStore) ListForRecalc(ctx context.Context, f repository.RecalcFilter, limit int) ([]*model.PaymentLink, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	want := map[string]struct{}{}
	for _, id := range f.LinkIDs {
		want[id] = struct{}{}
	}
	var out []*model.PaymentLink
	for _, l := range m.byLink {
		if l.Status != model.LinkStatusSuccess {
			continue
		}
		if len(want) > 0 {
			if _, ok := want[l.LinkID]; !ok {
				continue
			}
		}
		if f.From != nil && l.CreatedAt.Before(*f.From) {
			continue
		}
		if f.To != nil && l.CreatedAt.After(*f.To) {
			continue
		}
		if f.TenantID != "" && l.TenantID != f.TenantID {
			continue
		}
		cp := *l
		out = append(out, &cp)
		if len(out) == limit {
			break
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LinkID < out[j].LinkID })
	return out, nil
}

//
// ---------------- plan + tenant lookups ----------------
//

type memPlanRepo struct {
	byID map[string]*repository.PlanInfo
}

func newMemPlanRepo() *memPlanRepo {
	return &memPlanRepo{byID: map[string]*repository.PlanInfo{}}
}

func (m *memPlanRepo) FindByID(ctx context.Context, id string) (*repository.PlanInfo, error) {
	if p, ok := m.byID[id]; ok {
		cp := *p
		return &cp, nil
	}
	return nil, domain.ErrNotFound
}

type memTenantFees struct {
	overrides map[string]*float64
	err       error
}

func newMemTenantFees() *memTenantFees {
	return &memTenantFees{overrides: map[string]*float64{}}
}

func (m *memTenantFees) FeeOverride(ctx context.Context, tenantID string) (*float64, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.overrides[tenantID], nil
}

//
// ---------------- gateway / fees / provisioner / notifier ----------------
//

type mockGateway struct {
	createFunc func(ctx context.Context, req adapter.LinkRequest) (*adapter.CreatedLink, error)
	statusFunc func(ctx context.Context, linkID string) (string, error)
	verifyOK   bool

	createCalls int
}

func newMockGateway() *mockGateway {
	return &mockGateway{verifyOK: true}
}

func (g *mockGateway) Name() string { return "mock" }

func (g *mockGateway) CreateLink(ctx context.Context, req adapter.LinkRequest) (*adapter.CreatedLink, error) {
	g.createCalls++
	if g.createFunc != nil {
		return g.createFunc(ctx, req)
	}
	id := fmt.Sprintf("plink_%d", g.createCalls)
	return &adapter.CreatedLink{LinkID: id, LinkURL: "https://pay.example/" + id}, nil
}

func (g *mockGateway) CheckStatus(ctx context.Context, linkID string) (string, error) {
	if g.statusFunc != nil {
		return g.statusFunc(ctx, linkID)
	}
	return "paid", nil
}

func (g *mockGateway) VerifySignature(rawPayload []byte, signature, timestamp string) bool {
	return g.verifyOK
}

type stubFees struct {
	calcFunc func(ctx context.Context, amount float64, tenantID, channelBundleID string, asOf time.Time) (*FeeResult, error)
}

func (s *stubFees) Calculate(ctx context.Context, amount float64, tenantID, channelBundleID string, asOf time.Time) (*FeeResult, error) {
	if s.calcFunc != nil {
		return s.calcFunc(ctx, amount, tenantID, channelBundleID, asOf)
	}
	fee := RoundPaise(amount * 2.9 / 100)
	return &FeeResult{
		PlatformFee: fee,
		NetAmount:   RoundPaise(amount - fee),
		FeeType:     model.FeeTypePercentage,
		FeeRate:     2.9,
		ConfigID:    "cfg-test",
	}, nil
}

type memProvisioner struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (p *memProvisioner) ProvisionAccess(ctx context.Context, userID string, duration time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, userID)
	return p.err
}

func (p *memProvisioner) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

type memNotifier struct {
	mu     sync.Mutex
	events []adapter.Event
}

func (n *memNotifier) Publish(ctx context.Context, ev adapter.Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
}

func (n *memNotifier) byType(t string) []adapter.Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []adapter.Event
	for _, e := range n.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}
