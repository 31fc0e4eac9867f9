package notification

import (
	"context"
	"time"

	"github.com/rion/birdsong-go/internal/conf"
)

// fallbackInterval bounds the sleep when no channel has a schedule, so
// the loop stays responsive to cancellation and to channels enabled at
// runtime.
const fallbackInterval = time.Hour

// fireWindow is how far past its scheduled time a digest may still fire.
const fireWindow = time.Minute

// Scheduler is the single background task that triggers digest flushes
// at each channel's configured time of day. Missed ticks are harmless:
// flushing is idempotent through the per-channel watermarks, so the next
// flush catches up on all unsent dates.
type Scheduler struct {
	service *Service
	cancel  context.CancelFunc
	done    chan struct{}
	now     func() time.Time
}

// NewScheduler wraps the service.
func NewScheduler(service *Service) *Scheduler {
	return &Scheduler{
		service: service,
		done:    make(chan struct{}),
		now:     time.Now,
	}
}

// SetClock overrides the scheduler's time source, used by tests.
func (sc *Scheduler) SetClock(now func() time.Time) { sc.now = now }

// Start launches the scheduling loop.
func (sc *Scheduler) Start(ctx context.Context) {
	ctx, sc.cancel = context.WithCancel(ctx)
	go sc.run(ctx)
}

// Stop cancels the loop and waits for it to exit.
func (sc *Scheduler) Stop() {
	if sc.cancel == nil {
		return
	}
	sc.cancel()
	<-sc.done
}

func (sc *Scheduler) run(ctx context.Context) {
	defer close(sc.done)
	logger.Info("summary scheduler started")
	for {
		sleep := sc.untilNext()
		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			logger.Info("summary scheduler stopped")
			return
		case <-timer.C:
		}

		names := sc.dueChannels()
		if len(names) == 0 {
			continue
		}
		logger.Info("scheduled digest flush", "channels", names)
		if err := sc.service.FlushSummaries(ctx, names); err != nil {
			logger.Error("scheduled flush failed", "error", err)
		}
	}
}

// untilNext returns the sleep until the soonest scheduled time across
// all digest channels, or the fallback interval when none is scheduled.
func (sc *Scheduler) untilNext() time.Duration {
	now := sc.now()
	soonest := time.Duration(-1)
	for _, clock := range sc.digestClocks() {
		wait := clock.Next(now).Sub(now)
		if soonest < 0 || wait < soonest {
			soonest = wait
		}
	}
	if soonest < 0 || soonest > fallbackInterval {
		return fallbackInterval
	}
	return soonest
}

// dueChannels returns the channels whose scheduled time falls within the
// just-elapsed one-minute window.
func (sc *Scheduler) dueChannels() []string {
	now := sc.now()
	var due []string
	for _, ch := range sc.service.Channels() {
		if !ch.IsEnabled() || !ch.DigestEnabled() {
			continue
		}
		clock := ch.DigestTime()
		scheduled := time.Date(now.Year(), now.Month(), now.Day(),
			clock.Hour, clock.Minute, 0, 0, now.Location())
		elapsed := now.Sub(scheduled)
		if elapsed >= 0 && elapsed < fireWindow {
			due = append(due, ch.Name())
		}
	}
	return due
}

// digestClocks returns the distinct scheduled times across all enabled
// digest channels.
func (sc *Scheduler) digestClocks() []conf.Clock {
	seen := make(map[conf.Clock]bool)
	var clocks []conf.Clock
	for _, ch := range sc.service.Channels() {
		if !ch.IsEnabled() || !ch.DigestEnabled() {
			continue
		}
		clock := ch.DigestTime()
		if !seen[clock] {
			seen[clock] = true
			clocks = append(clocks, clock)
		}
	}
	return clocks
}
