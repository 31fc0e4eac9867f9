// Package notification fans alert events out to delivery channels in
// real time and accumulates them into durable, date-keyed summary
// buckets flushed on a schedule.
package notification

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/rion/birdsong-go/internal/alert"
	"github.com/rion/birdsong-go/internal/conf"
)

var logger *slog.Logger

func init() {
	logger = slog.New(slog.NewTextHandler(io.Discard, nil))
}

// SetLogger replaces the package logger, called once the logging system
// is initialized.
func SetLogger(l *slog.Logger) {
	if l != nil {
		logger = l
	}
}

// DateKey is the calendar-date format keying summary buckets and
// watermarks.
const DateKey = "2006-01-02"

// SummaryRecord is one alert-producing detection inside a day bucket.
// Timestamps are normalized to UTC so a bucket round-trips identically.
type SummaryRecord struct {
	SpeciesID      string    `json:"species_id"`
	ScientificName string    `json:"scientific_name"`
	CommonName     string    `json:"common_name"`
	Confidence     float64   `json:"confidence"`
	Timestamp      time.Time `json:"timestamp"`
	RecordingPath  string    `json:"recording_path"`
	RuleName       string    `json:"rule_name"`
}

// RecordFromEvent converts a fired alert event into its summary record.
func RecordFromEvent(event *alert.Event) SummaryRecord {
	return SummaryRecord{
		SpeciesID:      event.Detection.SpeciesID,
		ScientificName: event.Detection.ScientificName,
		CommonName:     event.Detection.CommonName,
		Confidence:     event.Detection.Confidence,
		Timestamp:      event.Time.UTC(),
		RecordingPath:  event.Detection.RecordingPath,
		RuleName:       event.RuleName,
	}
}

// Channel is one delivery target. Implementations must be safe for
// concurrent use; the service calls them from the ingestion path and
// from the scheduler.
type Channel interface {
	Name() string
	IsEnabled() bool
	RealtimeEnabled() bool
	DigestEnabled() bool
	DigestTime() conf.Clock
	ValidateConfig() error
	SendAlert(ctx context.Context, event *alert.Event) error
	SendSummary(ctx context.Context, date string, records []SummaryRecord) error
}

// FormatAlert renders the real-time message body for an event.
func FormatAlert(event *alert.Event) (title, body string) {
	d := &event.Detection
	name := d.CommonName
	if name == "" {
		name = d.ScientificName
	}
	switch event.RuleName {
	case alert.RuleRareSpecies:
		title = fmt.Sprintf("Rare species: %s", name)
	case alert.RuleFirstDetection:
		title = fmt.Sprintf("First detection: %s", name)
	case alert.RuleFirstReturn:
		title = fmt.Sprintf("Returning species: %s", name)
	default:
		title = fmt.Sprintf("Bird alert: %s", name)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%s (%s) detected with %.0f%% confidence at %s.",
		name, d.ScientificName, d.Confidence*100,
		event.Time.Format("15:04 MST"))
	if d.RecordingPath != "" {
		fmt.Fprintf(&sb, "\nRecording: %s", d.RecordingPath)
	}
	if reason, ok := event.Context["last_seen"]; ok {
		fmt.Fprintf(&sb, "\nLast seen: %v", reason)
	}
	return title, sb.String()
}

// FormatSummary renders the digest body for one day bucket.
func FormatSummary(date string, records []SummaryRecord) (title, body string) {
	title = fmt.Sprintf("Bird summary for %s (%d alerts)", date, len(records))
	var sb strings.Builder
	for i := range records {
		r := &records[i]
		name := r.CommonName
		if name == "" {
			name = r.ScientificName
		}
		fmt.Fprintf(&sb, "%s  %s (%s)  %.0f%%  [%s]\n",
			r.Timestamp.Format("15:04"), name, r.ScientificName,
			r.Confidence*100, r.RuleName)
	}
	return title, sb.String()
}
