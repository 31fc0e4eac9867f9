// Package datastore abstracts the durable store behind an interface with
// a gorm-backed implementation, so the pipeline and tests can swap stores.
package datastore

import (
	"io"
	"log/slog"
	"time"

	"gorm.io/gorm"

	"github.com/rion/birdsong-go/internal/errors"
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

// StoreOps is the set of durable-store operations the pipeline needs.
// It is also the view handed to transactional callbacks.
type StoreOps interface {
	GetSpecies(id string) (*Species, error)
	GetSpeciesByName(scientificName string) (*Species, error)
	SaveSpecies(species *Species) error
	SaveEnrichment(species *Species, citations []Citation) error
	ListIncompleteSpecies() ([]Species, error)

	GetDataSourceID(name string) (uint, error)

	EnsureDay(date string) error
	EnsureRecording(recording *Recording) error
	InsertDetection(detection *Detection) (bool, error)
	UpdateSpeciesStats(speciesID string, detectedAt time.Time) error
}

// Interface is a complete store: operations plus lifecycle and
// transaction control.
type Interface interface {
	StoreOps
	Open() error
	Close() error
	WithTransaction(fn func(tx StoreOps) error) error
}

// DataStore implements Interface on top of a gorm DB handle. The handle
// may be a root connection or a transaction.
type DataStore struct {
	DB *gorm.DB
}

// GetSpecies looks a species up by its deterministic id.
func (ds *DataStore) GetSpecies(id string) (*Species, error) {
	var species Species
	if err := ds.DB.Where("id = ?", id).First(&species).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.Newf("species %s not found", id).
				Category(errors.CategoryNotFound).
				Component("datastore").
				Build()
		}
		return nil, errors.New(err).
			Category(errors.CategoryDatabase).
			Component("datastore").
			Context("species_id", id).
			Build()
	}
	return &species, nil
}

// GetSpeciesByName looks a species up by exact scientific name.
func (ds *DataStore) GetSpeciesByName(scientificName string) (*Species, error) {
	var species Species
	err := ds.DB.Where("scientific_name = ?", scientificName).First(&species).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.Newf("species %q not found", scientificName).
				Category(errors.CategoryNotFound).
				Component("datastore").
				Build()
		}
		return nil, errors.New(err).
			Category(errors.CategoryDatabase).
			Component("datastore").
			Context("scientific_name", scientificName).
			Build()
	}
	return &species, nil
}

// SaveSpecies upserts a species row by primary key.
func (ds *DataStore) SaveSpecies(species *Species) error {
	if err := ds.DB.Save(species).Error; err != nil {
		return errors.New(err).
			Category(errors.CategoryDatabase).
			Component("datastore").
			Context("species_id", species.ID).
			Build()
	}
	return nil
}

// SaveEnrichment upserts the species and its citations in one transaction.
// A failure rolls back everything so no partial species record survives.
func (ds *DataStore) SaveEnrichment(species *Species, citations []Citation) error {
	err := ds.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Save(species).Error; err != nil {
			return err
		}
		for i := range citations {
			c := &citations[i]
			c.SpeciesID = species.ID
			var existing Citation
			err := tx.Where("source_id = ? AND species_id = ? AND data_type = ?",
				c.SourceID, c.SpeciesID, c.DataType).First(&existing).Error
			switch {
			case err == nil:
				existing.Content = c.Content
				if err := tx.Save(&existing).Error; err != nil {
					return err
				}
			case errors.Is(err, gorm.ErrRecordNotFound):
				if err := tx.Create(c).Error; err != nil {
					return err
				}
			default:
				return err
			}
		}
		return nil
	})
	if err != nil {
		return errors.New(err).
			Category(errors.CategoryDatabase).
			Component("datastore").
			Context("species_id", species.ID).
			Context("operation", "save-enrichment").
			Build()
	}
	return nil
}

// ListIncompleteSpecies returns species with at least one empty
// enrichment field, for the backfill command.
func (ds *DataStore) ListIncompleteSpecies() ([]Species, error) {
	var species []Species
	err := ds.DB.
		Where("summary = '' OR info_url = '' OR image_url = '' OR genus = '' OR family = '' OR e_bird_code = ''").
		Order("scientific_name").
		Find(&species).Error
	if err != nil {
		return nil, errors.New(err).
			Category(errors.CategoryDatabase).
			Component("datastore").
			Context("operation", "list-incomplete-species").
			Build()
	}
	return species, nil
}

// GetDataSourceID resolves a seeded data-source name to its row id.
func (ds *DataStore) GetDataSourceID(name string) (uint, error) {
	var source DataSource
	if err := ds.DB.Where("name = ?", name).First(&source).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, errors.Newf("data source %q not found", name).
				Category(errors.CategoryNotFound).
				Component("datastore").
				Build()
		}
		return 0, errors.New(err).
			Category(errors.CategoryDatabase).
			Component("datastore").
			Context("source", name).
			Build()
	}
	return source.ID, nil
}

// EnsureDay creates the day bucket row if it does not exist.
func (ds *DataStore) EnsureDay(date string) error {
	var day Day
	err := ds.DB.Where("date = ?", date).First(&day).Error
	if err == nil {
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return errors.New(err).
			Category(errors.CategoryDatabase).
			Component("datastore").
			Context("date", date).
			Build()
	}
	if err := ds.DB.Create(&Day{Date: date}).Error; err != nil {
		return errors.New(err).
			Category(errors.CategoryDatabase).
			Component("datastore").
			Context("date", date).
			Build()
	}
	return nil
}

// EnsureRecording upserts the recording row. The key is immutable once
// assigned; path and device metadata are refreshed on every call.
func (ds *DataStore) EnsureRecording(recording *Recording) error {
	var existing Recording
	err := ds.DB.Where("id = ?", recording.ID).First(&existing).Error
	switch {
	case err == nil:
		existing.Path = recording.Path
		existing.DeviceID = recording.DeviceID
		existing.DeviceName = recording.DeviceName
		existing.DisplayName = recording.DisplayName
		existing.Location = recording.Location
		err = ds.DB.Save(&existing).Error
	case errors.Is(err, gorm.ErrRecordNotFound):
		err = ds.DB.Create(recording).Error
	}
	if err != nil {
		return errors.New(err).
			Category(errors.CategoryDatabase).
			Component("datastore").
			Context("recording_id", recording.ID).
			Build()
	}
	return nil
}

// InsertDetection inserts a detection unless an identical one exists,
// matching on (recording, species, start, end). Returns whether a new
// row was created.
func (ds *DataStore) InsertDetection(detection *Detection) (bool, error) {
	var count int64
	err := ds.DB.Model(&Detection{}).
		Where("recording_id = ? AND species_id = ? AND start_time = ? AND end_time = ?",
			detection.RecordingID, detection.SpeciesID, detection.StartTime, detection.EndTime).
		Count(&count).Error
	if err != nil {
		return false, errors.New(err).
			Category(errors.CategoryDatabase).
			Component("datastore").
			Context("recording_id", detection.RecordingID).
			Build()
	}
	if count > 0 {
		return false, nil
	}
	if err := ds.DB.Create(detection).Error; err != nil {
		return false, errors.New(err).
			Category(errors.CategoryDatabase).
			Component("datastore").
			Context("recording_id", detection.RecordingID).
			Context("species_id", detection.SpeciesID).
			Build()
	}
	return true, nil
}

// UpdateSpeciesStats maintains the first/last seen timestamps and the
// distinct-detection-day counter. Days are compared in UTC so mixed
// timestamp zones cannot inflate the counter; it increments only when
// the new detection's UTC calendar day is strictly after the previous
// last-seen day.
func (ds *DataStore) UpdateSpeciesStats(speciesID string, detectedAt time.Time) error {
	var species Species
	if err := ds.DB.Where("id = ?", speciesID).First(&species).Error; err != nil {
		return errors.New(err).
			Category(errors.CategoryDatabase).
			Component("datastore").
			Context("species_id", speciesID).
			Build()
	}

	if species.FirstSeen == nil || detectedAt.Before(*species.FirstSeen) {
		t := detectedAt
		species.FirstSeen = &t
	}
	if species.LastSeen == nil {
		t := detectedAt
		species.LastSeen = &t
		species.IDDays = 1
	} else {
		prevDay := species.LastSeen.UTC().Format("2006-01-02")
		newDay := detectedAt.UTC().Format("2006-01-02")
		if newDay > prevDay {
			species.IDDays++
		}
		if detectedAt.After(*species.LastSeen) {
			t := detectedAt
			species.LastSeen = &t
		}
	}

	if err := ds.DB.Save(&species).Error; err != nil {
		return errors.New(err).
			Category(errors.CategoryDatabase).
			Component("datastore").
			Context("species_id", speciesID).
			Build()
	}
	return nil
}

// WithTransaction runs fn against a transactional view of the store.
// Returning an error rolls everything back.
func (ds *DataStore) WithTransaction(fn func(tx StoreOps) error) error {
	return ds.DB.Transaction(func(tx *gorm.DB) error {
		return fn(&DataStore{DB: tx})
	})
}
