// Package serve runs the detection pipeline and the summary scheduler.
package serve

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/rion/birdsong-go/internal/alert"
	"github.com/rion/birdsong-go/internal/conf"
	"github.com/rion/birdsong-go/internal/datastore"
	"github.com/rion/birdsong-go/internal/ebird"
	"github.com/rion/birdsong-go/internal/enrichment"
	"github.com/rion/birdsong-go/internal/gbif"
	"github.com/rion/birdsong-go/internal/logging"
	"github.com/rion/birdsong-go/internal/notification"
	"github.com/rion/birdsong-go/internal/pipeline"
	"github.com/rion/birdsong-go/internal/wikimedia"
)

// analysisInput is one line of the NDJSON ingest stream supplied by the
// external recorder/classifier process.
type analysisInput struct {
	Path        string    `json:"path"`
	DeviceID    string    `json:"device_id"`
	DeviceName  string    `json:"device_name"`
	DisplayName string    `json:"display_name"`
	Location    string    `json:"location"`
	Timestamp   time.Time `json:"timestamp"`
	Duration    float64   `json:"duration"`
	Detections  []struct {
		ScientificName string  `json:"scientific_name"`
		CommonName     string  `json:"common_name"`
		Confidence     float64 `json:"confidence"`
		StartTime      float64 `json:"start_time"`
		EndTime        float64 `json:"end_time"`
	} `json:"detections"`
}

// Command returns the serve subcommand.
func Command(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the detection pipeline and summary scheduler",
		Long: "Reads analysis results as NDJSON from stdin, persists and " +
			"enriches them, evaluates alert rules and delivers notifications.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), settings)
		},
	}
}

func run(ctx context.Context, settings *conf.Settings) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	processor, service, store, err := buildStack(settings)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	scheduler := notification.NewScheduler(service)
	scheduler.Start(ctx)
	defer scheduler.Stop()

	slogger := logging.ForService("serve")
	slogger.Info("pipeline ready, reading analyses from stdin")

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 1024*1024), 16*1024*1024)
	for scanner.Scan() {
		if ctx.Err() != nil {
			break
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var input analysisInput
		if err := json.Unmarshal(line, &input); err != nil {
			slogger.Error("malformed analysis input", "error", err)
			continue
		}
		// Persistence failure is non-fatal to the loop: log and move on,
		// the detections were already reported to the caller.
		if err := ingest(ctx, processor, &input); err != nil {
			slogger.Error("failed to persist analysis",
				"path", input.Path, "error", err)
		}
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("reading ingest stream: %w", err)
	}
	slogger.Info("ingest stream closed, shutting down")
	return nil
}

func ingest(ctx context.Context, processor *pipeline.Processor, input *analysisInput) error {
	analysis := &pipeline.Analysis{
		Timestamp: input.Timestamp,
		Duration:  input.Duration,
	}
	if analysis.Timestamp.IsZero() {
		analysis.Timestamp = time.Now()
	}
	for _, d := range input.Detections {
		analysis.Detections = append(analysis.Detections, pipeline.Detection{
			ScientificName: d.ScientificName,
			CommonName:     d.CommonName,
			Confidence:     d.Confidence,
			StartTime:      d.StartTime,
			EndTime:        d.EndTime,
		})
	}
	_, err := processor.PersistAnalysisResults(ctx, analysis, input.Path, &pipeline.Source{
		DeviceID:    input.DeviceID,
		DeviceName:  input.DeviceName,
		DisplayName: input.DisplayName,
		Location:    input.Location,
	})
	return err
}

// buildStack wires the store, enrichment sources, alert engine and
// notification service into a processor.
func buildStack(settings *conf.Settings) (*pipeline.Processor, *notification.Service, datastore.Interface, error) {
	gbif.SetLogger(logging.ForService("gbif"))
	wikimedia.SetLogger(logging.ForService("wikimedia"))
	ebird.SetLogger(logging.ForService("ebird"))

	store, err := datastore.New(settings)
	if err != nil {
		return nil, nil, nil, err
	}
	if err := store.Open(); err != nil {
		return nil, nil, nil, err
	}

	var taxonomy enrichment.TaxonomySource
	if settings.Enrichment.GBIF.Enabled {
		taxonomy = gbif.New(settings)
	}
	var summaries enrichment.SummarySource
	if settings.Enrichment.Wikimedia.Enabled {
		summaries = wikimedia.New(settings)
	}
	var speciesInfo enrichment.SpeciesInfoSource
	if settings.Enrichment.EBird.Enabled {
		speciesInfo = ebird.New(settings)
	}
	var images *enrichment.ImageCache
	if settings.Enrichment.ImageCache.Enabled {
		images, err = enrichment.NewImageCache(settings.Enrichment.ImageCache.Dir)
		if err != nil {
			_ = store.Close()
			return nil, nil, nil, err
		}
	}
	enricher := enrichment.New(store, taxonomy, summaries, speciesInfo, images)

	channels, err := notification.BuildChannels(&settings.Notification)
	if err != nil {
		_ = store.Close()
		return nil, nil, nil, err
	}
	bucketStore, err := notification.NewBucketStore(settings.Notification.BucketFile)
	if err != nil {
		_ = store.Close()
		return nil, nil, nil, err
	}
	retention, err := conf.ParsePeriod(settings.Notification.Retention)
	if err != nil {
		_ = store.Close()
		return nil, nil, nil, err
	}
	service := notification.NewService(channels, bucketStore, retention)

	var engine *alert.Engine
	if settings.Alerts.Enabled {
		engine, err = alert.NewEngine(&settings.Alerts, func(event *alert.Event) {
			service.HandleAlert(context.Background(), event)
		})
		if err != nil {
			_ = store.Close()
			return nil, nil, nil, err
		}
	}

	return pipeline.NewProcessor(store, enricher, engine), service, store, nil
}
