// File: internal/infra/adapters/notify/hub.go
package notify

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"subscription-billing/internal/domain/ports/adapter"
)

var _ adapter.NotificationSink = (*Hub)(nil)

// Hub is an in-process NotificationSink owning its own connection registry:
// a concurrent map of tenant id -> subscriber channels. Publish never blocks
// and never errors; slow subscribers lose events rather than stalling the
// payment path.
type Hub struct {
	mu   sync.RWMutex
	subs map[string][]chan adapter.Event
	log  *zerolog.Logger
}

func NewHub(logger *zerolog.Logger) *Hub {
	l := logger.With().Str("component", "NotificationHub").Logger()
	return &Hub{subs: make(map[string][]chan adapter.Event), log: &l}
}

// Subscribe registers a buffered channel for a tenant (or
// adapter.TargetAllTenants) and returns it with an unsubscribe func.
func (h *Hub) Subscribe(tenantID string, buffer int) (<-chan adapter.Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan adapter.Event, buffer)

	h.mu.Lock()
	h.subs[tenantID] = append(h.subs[tenantID], ch)
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		chans := h.subs[tenantID]
		for i, c := range chans {
			if c == ch {
				h.subs[tenantID] = append(chans[:i], chans[i+1:]...)
				close(c)
				break
			}
		}
	}
	return ch, cancel
}

func (h *Hub) Publish(ctx context.Context, ev adapter.Event) {
	h.mu.RLock()
	targets := make([]chan adapter.Event, 0, 4)
	if ev.TargetTenantID == adapter.TargetAllTenants {
		for _, chans := range h.subs {
			targets = append(targets, chans...)
		}
	} else {
		targets = append(targets, h.subs[ev.TargetTenantID]...)
		targets = append(targets, h.subs[adapter.TargetAllTenants]...)
	}
	h.mu.RUnlock()

	for _, ch := range targets {
		select {
		case ch <- ev:
		default:
			h.log.Warn().Str("type", ev.Type).Str("tenant", ev.TargetTenantID).Msg("subscriber buffer full; event dropped")
		}
	}
}

// Multi fans one event out to several sinks.
type Multi []adapter.NotificationSink

func (m Multi) Publish(ctx context.Context, ev adapter.Event) {
	for _, s := range m {
		s.Publish(ctx, ev)
	}
}
