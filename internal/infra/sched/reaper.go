// File: internal/infra/sched/reaper.go
package sched

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"subscription-billing/internal/domain"
	"subscription-billing/internal/domain/ports/adapter"
	"subscription-billing/internal/domain/ports/repository"
	"subscription-billing/internal/infra/metrics"
)

const (
	// healthWindow is how recent the last successful sweep must be for the
	// reaper to report healthy.
	healthWindow = 20 * time.Minute

	sweepLockKey = "reaper:sweep"
	sweepLockTTL = time.Minute
)

// SweepLocker is the slice of the distributed locker the reaper needs.
// Failing to take the lock skips a scan on this instance; the conditional
// bulk update keeps racing sweeps correct regardless.
type SweepLocker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (string, error)
	Unlock(ctx context.Context, key, token string) error
}

// CleanupStats is a snapshot of the reaper's run history.
type CleanupStats struct {
	Runs            int           `json:"runs"`
	TotalExpired    int           `json:"total_expired"`
	LastRunExpired  int           `json:"last_run_expired"`
	LastRunPhones   int           `json:"last_run_phones"`
	LastRunDuration time.Duration `json:"last_run_duration_ns"`
	LastSuccess     time.Time     `json:"last_success"`
	Running         bool          `json:"running"`
	Healthy         bool          `json:"healthy"`
}

// StaleLinkReaper periodically force-expires abandoned PENDING links.
type StaleLinkReaper struct {
	links        repository.PaymentLinkStore
	notifier     adapter.NotificationSink
	locker       SweepLocker // optional
	interval     time.Duration
	staleAfter   time.Duration
	notableCount int
	now          func() time.Time
	log          *zerolog.Logger

	mu          sync.Mutex
	running     bool
	lastSuccess time.Time
	stats       CleanupStats

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func NewStaleLinkReaper(links repository.PaymentLinkStore, notifier adapter.NotificationSink, locker SweepLocker, interval, staleAfter time.Duration, notableCount int, logger *zerolog.Logger) *StaleLinkReaper {
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	if staleAfter <= 0 {
		staleAfter = 30 * time.Minute
	}
	if notableCount <= 0 {
		notableCount = 10
	}
	l := logger.With().Str("component", "StaleLinkReaper").Logger()
	return &StaleLinkReaper{
		links:        links,
		notifier:     notifier,
		locker:       locker,
		interval:     interval,
		staleAfter:   staleAfter,
		notableCount: notableCount,
		now:          time.Now,
		log:          &l,
	}
}

// Start begins the sweep loop in a background goroutine. Calling Start on a
// running reaper has no effect.
func (w *StaleLinkReaper) Start(parentCtx context.Context) {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(parentCtx)
	w.ctx = ctx
	w.cancel = cancel
	w.done = make(chan struct{})
	w.running = true
	w.lastSuccess = w.now() // seed health until the first sweep lands
	w.mu.Unlock()

	w.log.Info().Dur("interval", w.interval).Dur("stale_after", w.staleAfter).Msg("starting stale link reaper")
	go w.loop()
}

// Stop cancels the loop and waits for it to finish. Idempotent.
func (w *StaleLinkReaper) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	cancel, done := w.cancel, w.done
	w.mu.Unlock()

	cancel()
	<-done

	w.mu.Lock()
	w.running = false
	w.mu.Unlock()
	w.log.Info().Msg("stale link reaper stopped")
}

func (w *StaleLinkReaper) loop() {
	defer close(w.done)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	// One sweep right away; a fresh deploy should not wait a full interval
	// to clear backlog.
	w.scheduledSweep()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			w.scheduledSweep()
		}
	}
}

func (w *StaleLinkReaper) scheduledSweep() {
	runCtx, cancel := context.WithTimeout(w.ctx, 30*time.Second)
	defer cancel()

	if w.locker != nil {
		token, err := w.locker.TryLock(runCtx, sweepLockKey, sweepLockTTL)
		if err != nil {
			if errors.Is(err, domain.ErrLockNotAcquired) {
				w.log.Debug().Msg("another instance is sweeping; skipping")
			} else {
				w.log.Warn().Err(err).Msg("sweep lock error; skipping this run")
			}
			return
		}
		defer func() {
			if err := w.locker.Unlock(runCtx, sweepLockKey, token); err != nil {
				w.log.Warn().Err(err).Msg("sweep unlock failed")
			}
		}()
	}

	if _, err := w.sweep(runCtx); err != nil {
		w.log.Error().Err(err).Msg("reaper sweep failed")
	}
}

// ForceCleanup runs one sweep immediately, outside the schedule. It is safe
// to race with the scheduled loop: expiry is a single conditional bulk
// update, so double-expiry is a no-op.
func (w *StaleLinkReaper) ForceCleanup(ctx context.Context) (int, error) {
	return w.sweep(ctx)
}

func (w *StaleLinkReaper) sweep(ctx context.Context) (int, error) {
	start := w.now()
	cutoff := start.Add(-w.staleAfter)
	reason := fmt.Sprintf("auto-expired after %s of inactivity", w.staleAfter)

	count, phones, err := w.links.ExpireStalePending(ctx, cutoff, reason)
	if err != nil {
		metrics.IncReaperRun("error")
		return 0, err
	}
	elapsed := w.now().Sub(start)

	w.mu.Lock()
	w.stats.Runs++
	w.stats.TotalExpired += count
	w.stats.LastRunExpired = count
	w.stats.LastRunPhones = len(phones)
	w.stats.LastRunDuration = elapsed
	w.lastSuccess = w.now()
	w.stats.LastSuccess = w.lastSuccess
	w.mu.Unlock()

	metrics.IncReaperRun("ok")
	metrics.AddReaperExpired(count)
	metrics.SetReaperLastSuccess(w.lastSuccessTime())

	if count > 0 {
		w.log.Info().Int("expired", count).Int("phones", len(phones)).Dur("took", elapsed).Msg("stale links expired")
		for i := 0; i < count; i++ {
			metrics.IncLinkTransition("EXPIRED", "reaper")
		}
	}

	if count > w.notableCount && w.notifier != nil {
		w.notifier.Publish(ctx, adapter.Event{
			Type:           "cleanup_sweep",
			Title:          "Stale payment links expired",
			Message:        fmt.Sprintf("Expired %d pending links (%d phones) older than %s", count, len(phones), w.staleAfter),
			TargetTenantID: adapter.TargetAllTenants,
			Payload:        map[string]any{"expired": count, "phones": len(phones)},
		})
	}
	return count, nil
}

// Stats returns a consistent snapshot including the health verdict.
func (w *StaleLinkReaper) Stats() CleanupStats {
	w.mu.Lock()
	defer w.mu.Unlock()
	s := w.stats
	s.Running = w.running
	s.Healthy = w.running && w.now().Sub(w.lastSuccess) <= healthWindow
	return s
}

// Healthy reports whether the reaper is running and recently succeeded.
func (w *StaleLinkReaper) Healthy() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running && w.now().Sub(w.lastSuccess) <= healthWindow
}

func (w *StaleLinkReaper) lastSuccessTime() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastSuccess
}
