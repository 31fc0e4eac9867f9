// Package pipeline turns classifier output into durable detections and
// alert evaluations. It owns the detection-to-notification control flow.
package pipeline

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/rion/birdsong-go/internal/alert"
	"github.com/rion/birdsong-go/internal/datastore"
	"github.com/rion/birdsong-go/internal/enrichment"
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

// Detection is one classifier hit within an analyzed recording.
type Detection struct {
	ScientificName string
	CommonName     string
	Confidence     float64
	StartTime      float64 // seconds into the recording
	EndTime        float64
}

// Analysis is the classifier's output for one recording.
type Analysis struct {
	Timestamp  time.Time
	Duration   float64
	Detections []Detection
}

// Analyzer is the opaque classifier. The pipeline never inspects audio.
type Analyzer interface {
	Analyze(ctx context.Context, path string, lat, lon *float64, deviceID string) (*Analysis, error)
}

// Source describes the device a recording came from.
type Source struct {
	DeviceID    string
	DeviceName  string
	DisplayName string
	Location    string
}

// Processor wires enrichment, persistence and alerting together.
type Processor struct {
	store    datastore.Interface
	enricher *enrichment.Coordinator
	engine   *alert.Engine
}

// NewProcessor builds the pipeline. engine may be nil when alerting is
// disabled.
func NewProcessor(store datastore.Interface, enricher *enrichment.Coordinator, engine *alert.Engine) *Processor {
	return &Processor{store: store, enricher: enricher, engine: engine}
}

// RecordingID derives the stable recording key from the file's stem, so
// the same file re-ingested from a different directory maps to the same
// row.
func RecordingID(path string) string {
	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return strings.ToLower(strings.TrimSpace(stem))
}

// PersistAnalysisResults stores an analysis: species are resolved first
// (with their own transactions and network work), then the day bucket,
// recording, detections and species rollups commit in one transaction.
// Alert evaluation runs after the commit and only for detections that
// were genuinely new. Returns the number of inserted detection rows.
func (p *Processor) PersistAnalysisResults(ctx context.Context, analysis *Analysis, recordingPath string, src *Source) (int, error) {
	date := analysis.Timestamp.UTC().Format("2006-01-02")
	recording := &datastore.Recording{
		ID:          RecordingID(recordingPath),
		Path:        recordingPath,
		DeviceID:    src.DeviceID,
		DeviceName:  src.DeviceName,
		DisplayName: src.DisplayName,
		Location:    src.Location,
		CreatedAt:   analysis.Timestamp,
	}

	speciesIDs := make([]string, len(analysis.Detections))
	for i := range analysis.Detections {
		speciesIDs[i] = p.ensureSpecies(ctx, &analysis.Detections[i])
	}

	inserted := 0
	var newDetections []int
	err := p.store.WithTransaction(func(tx datastore.StoreOps) error {
		if err := tx.EnsureDay(date); err != nil {
			return err
		}
		if err := tx.EnsureRecording(recording); err != nil {
			return err
		}
		for i := range analysis.Detections {
			d := &analysis.Detections[i]
			created, err := tx.InsertDetection(&datastore.Detection{
				Date:        date,
				RecordingID: recording.ID,
				SpeciesID:   speciesIDs[i],
				StartTime:   d.StartTime,
				EndTime:     d.EndTime,
				Confidence:  d.Confidence,
			})
			if err != nil {
				return err
			}
			if !created {
				continue
			}
			inserted++
			newDetections = append(newDetections, i)
			if err := tx.UpdateSpeciesStats(speciesIDs[i], analysis.Timestamp); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	if p.engine != nil {
		for _, i := range newDetections {
			d := &analysis.Detections[i]
			p.engine.Evaluate(&alert.Detection{
				SpeciesID:      speciesIDs[i],
				ScientificName: d.ScientificName,
				CommonName:     d.CommonName,
				Confidence:     d.Confidence,
				Time:           analysis.Timestamp,
				RecordingPath:  recordingPath,
			})
		}
	}

	logger.Info("analysis persisted", "recording", recording.ID,
		"detections", len(analysis.Detections), "inserted", inserted)
	return inserted, nil
}

// ensureSpecies resolves the detection's species id, degrading to a bare
// upsert of name-only data when enrichment fails. Enrichment trouble
// must never lose a detection.
func (p *Processor) ensureSpecies(ctx context.Context, d *Detection) string {
	id, _, err := p.enricher.EnsureSpecies(ctx, d.ScientificName, d.CommonName)
	if err == nil {
		return id
	}
	logger.Warn("enrichment failed, storing bare species record",
		"scientific_name", d.ScientificName, "error", err)

	id = enrichment.SpeciesID(d.ScientificName)
	if _, lookupErr := p.store.GetSpecies(id); lookupErr != nil {
		commonName := d.CommonName
		if commonName == "" {
			commonName = d.ScientificName
		}
		if saveErr := p.store.SaveSpecies(&datastore.Species{
			ID:             id,
			ScientificName: strings.TrimSpace(d.ScientificName),
			CommonName:     commonName,
		}); saveErr != nil {
			logger.Error("bare species upsert failed",
				"species_id", id, "error", saveErr)
		}
	}
	return id
}
