package notification

import (
	"bytes"
	"context"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rion/birdsong-go/internal/alert"
	"github.com/rion/birdsong-go/internal/conf"
	"github.com/rion/birdsong-go/internal/errors"
)

type sentSummary struct {
	date    string
	records []SummaryRecord
}

// fakeChannel records deliveries and can be told to fail.
type fakeChannel struct {
	name       string
	enabled    bool
	realtime   bool
	digest     bool
	digestTime conf.Clock

	alerts       []*alert.Event
	summaries    []sentSummary
	failRealtime bool
	failDigest   bool
}

func (fc *fakeChannel) Name() string           { return fc.name }
func (fc *fakeChannel) IsEnabled() bool        { return fc.enabled }
func (fc *fakeChannel) RealtimeEnabled() bool  { return fc.realtime }
func (fc *fakeChannel) DigestEnabled() bool    { return fc.digest }
func (fc *fakeChannel) DigestTime() conf.Clock { return fc.digestTime }
func (fc *fakeChannel) ValidateConfig() error  { return nil }

func (fc *fakeChannel) SendAlert(_ context.Context, event *alert.Event) error {
	if fc.failRealtime {
		return errors.Newf("smtp down").Category(errors.CategoryNotification).Build()
	}
	fc.alerts = append(fc.alerts, event)
	return nil
}

func (fc *fakeChannel) SendSummary(_ context.Context, date string, records []SummaryRecord) error {
	if fc.failDigest {
		return errors.Newf("smtp down").Category(errors.CategoryNotification).Build()
	}
	fc.summaries = append(fc.summaries, sentSummary{date: date, records: records})
	return nil
}

func newTestStore(t *testing.T) *BucketStore {
	t.Helper()
	store, err := NewBucketStore(filepath.Join(t.TempDir(), "summaries.json"))
	require.NoError(t, err)
	return store
}

func testEvent(at time.Time) *alert.Event {
	return &alert.Event{
		RuleName: alert.RuleRareSpecies,
		Severity: "high",
		Time:     at,
		Detection: alert.Detection{
			SpeciesID:      "abc123def456",
			ScientificName: "Corvus corax",
			CommonName:     "Common Raven",
			Confidence:     0.94,
			Time:           at,
			RecordingPath:  "/recordings/rec-001.wav",
		},
		Context: map[string]any{"reason": alert.RuleRareSpecies},
	}
}

func TestBucketStoreRoundTrip(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "summaries.json")
	store, err := NewBucketStore(path)
	require.NoError(t, err)

	record := RecordFromEvent(testEvent(time.Date(2026, 8, 24, 9, 30, 0, 0, time.UTC)))
	require.NoError(t, store.Append("2026-08-24", record))
	require.NoError(t, store.SetWatermark("mail", "2026-08-23"))

	// A fresh store reading the same files reproduces everything.
	reloaded, err := NewBucketStore(path)
	require.NoError(t, err)
	records := reloaded.Bucket("2026-08-24")
	require.Len(t, records, 1)
	assert.Equal(t, record, records[0])
	assert.Equal(t, "2026-08-23", reloaded.Watermark("mail"))
}

func TestHandleAlertDeliversAndRecords(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	mail := &fakeChannel{name: "mail", enabled: true, realtime: true}
	chat := &fakeChannel{name: "chat", enabled: true, realtime: true}
	offline := &fakeChannel{name: "offline", enabled: false, realtime: true}
	service := NewService([]Channel{mail, chat, offline}, store, 30*24*time.Hour)

	at := time.Date(2026, 8, 24, 9, 30, 0, 0, time.UTC)
	service.HandleAlert(context.Background(), testEvent(at))

	assert.Len(t, mail.alerts, 1)
	assert.Len(t, chat.alerts, 1)
	assert.Empty(t, offline.alerts)
	// The bucket write happens even though no channel has digests on.
	assert.Len(t, store.Bucket("2026-08-24"), 1)
}

func TestHandleAlertChannelFailureIsIsolated(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	broken := &fakeChannel{name: "broken", enabled: true, realtime: true, failRealtime: true}
	mail := &fakeChannel{name: "mail", enabled: true, realtime: true}
	service := NewService([]Channel{broken, mail}, store, 30*24*time.Hour)

	at := time.Date(2026, 8, 24, 9, 30, 0, 0, time.UTC)
	service.HandleAlert(context.Background(), testEvent(at))

	// The failing channel neither blocks the healthy one nor the bucket.
	assert.Len(t, mail.alerts, 1)
	assert.Len(t, store.Bucket("2026-08-24"), 1)
}

func TestSetLoggerCapturesDeliveryFailures(t *testing.T) {
	// Not parallel: swaps the package logger.
	store := newTestStore(t)

	var buf bytes.Buffer
	prev := logger
	SetLogger(slog.New(slog.NewTextHandler(&buf, nil)))
	t.Cleanup(func() { logger = prev })

	broken := &fakeChannel{name: "broken", enabled: true, realtime: true, failRealtime: true}
	service := NewService([]Channel{broken}, store, 30*24*time.Hour)
	service.HandleAlert(context.Background(), testEvent(time.Date(2026, 8, 24, 9, 30, 0, 0, time.UTC)))

	// The failure must reach the wired handler, not a discard logger.
	assert.Contains(t, buf.String(), "real-time delivery failed")
	assert.Contains(t, buf.String(), "broken")
}

func seedBuckets(t *testing.T, store *BucketStore, dates ...string) {
	t.Helper()
	for _, date := range dates {
		day, err := time.Parse(DateKey, date)
		require.NoError(t, err)
		require.NoError(t, store.Append(date, RecordFromEvent(testEvent(day.Add(9*time.Hour)))))
	}
}

func TestFlushSummariesChronologicalOrderAndWatermark(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	seedBuckets(t, store, "2026-08-22", "2026-08-20", "2026-08-21")

	mail := &fakeChannel{name: "mail", enabled: true, digest: true}
	service := NewService([]Channel{mail}, store, 365*24*time.Hour)
	service.SetClock(func() time.Time { return time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC) })

	require.NoError(t, service.FlushSummaries(context.Background(), nil))

	require.Len(t, mail.summaries, 3)
	assert.Equal(t, "2026-08-20", mail.summaries[0].date)
	assert.Equal(t, "2026-08-21", mail.summaries[1].date)
	assert.Equal(t, "2026-08-22", mail.summaries[2].date)
	assert.Equal(t, "2026-08-22", store.Watermark("mail"))
}

func TestFlushSummariesSkipsAlreadySentDates(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	seedBuckets(t, store, "2026-08-20", "2026-08-21", "2026-08-22")
	require.NoError(t, store.SetWatermark("mail", "2026-08-21"))

	mail := &fakeChannel{name: "mail", enabled: true, digest: true}
	service := NewService([]Channel{mail}, store, 365*24*time.Hour)
	service.SetClock(func() time.Time { return time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC) })

	require.NoError(t, service.FlushSummaries(context.Background(), nil))
	require.Len(t, mail.summaries, 1)
	assert.Equal(t, "2026-08-22", mail.summaries[0].date)
}

func TestFlushSummariesFailureKeepsPartialProgress(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	seedBuckets(t, store, "2026-08-20", "2026-08-21")

	mail := &fakeChannel{name: "mail", enabled: true, digest: true, failDigest: true}
	service := NewService([]Channel{mail}, store, 365*24*time.Hour)
	service.SetClock(func() time.Time { return time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC) })

	err := service.FlushSummaries(context.Background(), nil)
	assert.Error(t, err)
	// Nothing was sent, so the watermark must not move.
	assert.Empty(t, store.Watermark("mail"))

	// Once the channel recovers, the flush catches up in order.
	mail.failDigest = false
	require.NoError(t, service.FlushSummaries(context.Background(), nil))
	require.Len(t, mail.summaries, 2)
	assert.Equal(t, "2026-08-20", mail.summaries[0].date)
	assert.Equal(t, "2026-08-21", store.Watermark("mail"))
}

func TestFlushSummariesTargetsNamedChannels(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	seedBuckets(t, store, "2026-08-22")

	mail := &fakeChannel{name: "mail", enabled: true, digest: true}
	chat := &fakeChannel{name: "chat", enabled: true, digest: true}
	service := NewService([]Channel{mail, chat}, store, 365*24*time.Hour)
	service.SetClock(func() time.Time { return time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC) })

	require.NoError(t, service.FlushSummaries(context.Background(), []string{"chat"}))
	assert.Empty(t, mail.summaries)
	assert.Len(t, chat.summaries, 1)
}

func TestPurgeRetentionWindow(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	seedBuckets(t, store, "2026-07-01", "2026-08-23")

	mail := &fakeChannel{name: "mail", enabled: true, digest: true, failDigest: true}
	service := NewService([]Channel{mail}, store, 30*24*time.Hour)
	service.SetClock(func() time.Time { return time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC) })

	_ = service.FlushSummaries(context.Background(), nil)

	// The July bucket is past retention and goes even though unsent;
	// the recent one stays because the only digest channel is failing.
	assert.Empty(t, store.Bucket("2026-07-01"))
	assert.Len(t, store.Bucket("2026-08-23"), 1)
}

func TestPurgeFullySentBuckets(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	seedBuckets(t, store, "2026-08-22", "2026-08-23")

	mail := &fakeChannel{name: "mail", enabled: true, digest: true}
	chat := &fakeChannel{name: "chat", enabled: true, digest: true}
	service := NewService([]Channel{mail, chat}, store, 365*24*time.Hour)
	service.SetClock(func() time.Time { return time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC) })

	require.NoError(t, service.FlushSummaries(context.Background(), nil))

	// Both channels received both dates, so both buckets are purged
	// despite being well within retention.
	assert.Empty(t, store.Dates())
}
