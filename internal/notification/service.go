package notification

import (
	"context"
	"slices"
	"time"

	"github.com/rion/birdsong-go/internal/alert"
	"github.com/rion/birdsong-go/internal/errors"
)

// Service owns the channel list and the summary bucket store.
type Service struct {
	channels  []Channel
	store     *BucketStore
	retention time.Duration
	now       func() time.Time
}

// NewService wires channels to the bucket store.
func NewService(channels []Channel, store *BucketStore, retention time.Duration) *Service {
	return &Service{
		channels:  channels,
		store:     store,
		retention: retention,
		now:       time.Now,
	}
}

// SetClock overrides the service's time source, used by tests.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// Channels returns the configured channel list.
func (s *Service) Channels() []Channel { return s.channels }

// HandleAlert delivers the event to every enabled real-time channel and
// then records it in today's summary bucket. A channel failure is logged
// and isolated; it never blocks other channels or the bucket write. The
// bucket is written even when no channel has digests enabled, so turning
// digests on later does not lose alerts within the retention window.
func (s *Service) HandleAlert(ctx context.Context, event *alert.Event) {
	for _, ch := range s.channels {
		if !ch.IsEnabled() || !ch.RealtimeEnabled() {
			continue
		}
		if err := ch.SendAlert(ctx, event); err != nil {
			logger.Error("real-time delivery failed",
				"channel", ch.Name(), "rule", event.RuleName, "error", err)
			continue
		}
		logger.Debug("alert delivered", "channel", ch.Name(), "rule", event.RuleName)
	}

	date := event.Time.UTC().Format(DateKey)
	if err := s.store.Append(date, RecordFromEvent(event)); err != nil {
		logger.Error("failed to record summary entry", "date", date, "error", err)
	}
}

// FlushSummaries sends every unsent bucket to the requested channels in
// chronological order, advancing each channel's watermark bucket by
// bucket so partial progress survives a failure. Afterwards it purges
// buckets older than the retention window and buckets already sent to
// every digest channel. names defaulting to nil means all
// digest-subscribed channels.
func (s *Service) FlushSummaries(ctx context.Context, names []string) error {
	targets := s.digestChannels(names)
	dates := s.store.Dates()

	var flushErrs []error
	for _, ch := range targets {
		watermark := s.store.Watermark(ch.Name())
		for _, date := range dates {
			if date <= watermark {
				continue
			}
			records := s.store.Bucket(date)
			if len(records) > 0 {
				if err := ch.SendSummary(ctx, date, records); err != nil {
					logger.Error("summary delivery failed",
						"channel", ch.Name(), "date", date, "error", err)
					flushErrs = append(flushErrs, err)
					break // keep chronological order, retry from here next flush
				}
				logger.Info("summary delivered",
					"channel", ch.Name(), "date", date, "records", len(records))
			}
			if err := s.store.SetWatermark(ch.Name(), date); err != nil {
				flushErrs = append(flushErrs, err)
				break
			}
		}
	}

	if err := s.purge(dates); err != nil {
		flushErrs = append(flushErrs, err)
	}
	return errors.Join(flushErrs...)
}

// digestChannels resolves the flush targets: named channels, or all
// enabled digest subscribers when names is empty.
func (s *Service) digestChannels(names []string) []Channel {
	var targets []Channel
	for _, ch := range s.channels {
		if !ch.IsEnabled() || !ch.DigestEnabled() {
			continue
		}
		if len(names) > 0 && !slices.Contains(names, ch.Name()) {
			continue
		}
		targets = append(targets, ch)
	}
	return targets
}

// purge drops buckets older than the retention cutoff, plus buckets
// every digest channel has already received, keeping the file bounded.
func (s *Service) purge(dates []string) error {
	cutoff := s.now().UTC().Add(-s.retention).Format(DateKey)

	var subscribers []Channel
	for _, ch := range s.channels {
		if ch.IsEnabled() && ch.DigestEnabled() {
			subscribers = append(subscribers, ch)
		}
	}

	var doomed []string
	for _, date := range dates {
		if date < cutoff {
			doomed = append(doomed, date)
			continue
		}
		if len(subscribers) == 0 {
			continue
		}
		sentToAll := true
		for _, ch := range subscribers {
			if s.store.Watermark(ch.Name()) < date {
				sentToAll = false
				break
			}
		}
		if sentToAll {
			doomed = append(doomed, date)
		}
	}
	if len(doomed) > 0 {
		logger.Debug("purging summary buckets", "dates", doomed)
	}
	return s.store.Purge(doomed)
}
