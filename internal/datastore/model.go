package datastore

import (
	"time"
)

// Species is the durable record for one distinct scientific name.
// The ID is the first 12 hex characters of the SHA-1 of the lowercased,
// trimmed scientific name, so lookups by id and by name always agree.
type Species struct {
	ID             string `gorm:"primaryKey"`
	ScientificName string `gorm:"uniqueIndex;not null"`
	CommonName     string
	Genus          string
	Family         string
	SpeciesEpithet string
	ImageURL       string
	InfoURL        string
	Summary        string
	EBirdCode      string

	// Detection rollups maintained by persistence.
	FirstSeen *time.Time
	LastSeen  *time.Time
	IDDays    int // distinct calendar days with at least one detection

	CreatedAt time.Time
	UpdatedAt time.Time
}

// HasCompleteMetadata reports whether every enrichment field is populated.
// Incomplete records get a best-effort refresh on the next lookup.
func (s *Species) HasCompleteMetadata() bool {
	return s.Summary != "" && s.InfoURL != "" && s.ImageURL != "" &&
		s.Genus != "" && s.Family != "" && s.EBirdCode != ""
}

// DataSource identifies one external provider cited by enrichment.
type DataSource struct {
	ID   uint   `gorm:"primaryKey"`
	Name string `gorm:"uniqueIndex;not null"`
	URL  string
}

// Citation records provenance for one species field group from one source.
// Uniqueness is (source, species, data type) so refreshes update in place.
type Citation struct {
	ID        uint   `gorm:"primaryKey"`
	SourceID  uint   `gorm:"uniqueIndex:idx_citation_key;not null"`
	SpeciesID string `gorm:"uniqueIndex:idx_citation_key;not null"`
	DataType  string `gorm:"uniqueIndex:idx_citation_key;not null"` // taxa, copy, image
	Content   string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Recording is one stored audio file. The ID derives from the file stem
// and is immutable once assigned; path and device metadata may refresh.
type Recording struct {
	ID          string `gorm:"primaryKey"`
	Path        string
	DeviceID    string `gorm:"index"`
	DeviceName  string
	DisplayName string
	Location    string
	CreatedAt   time.Time
}

// Day anchors all detections of one calendar date.
type Day struct {
	Date      string `gorm:"primaryKey"` // "2006-01-02"
	CreatedAt time.Time
}

// Detection is one classifier hit within a recording. The composite
// unique index is the de-duplication key against double ingestion.
type Detection struct {
	ID          uint    `gorm:"primaryKey"`
	Date        string  `gorm:"index;not null"`
	RecordingID string  `gorm:"uniqueIndex:idx_detection_key;not null"`
	SpeciesID   string  `gorm:"uniqueIndex:idx_detection_key;not null"`
	StartTime   float64 `gorm:"uniqueIndex:idx_detection_key"` // seconds into the recording
	EndTime     float64 `gorm:"uniqueIndex:idx_detection_key"`
	Confidence  float64
	CreatedAt   time.Time
}

// Citation data-type tags.
const (
	CitationTaxa  = "taxa"
	CitationCopy  = "copy"
	CitationImage = "image"
)

// Seeded data-source names, created at migration time so citations can
// resolve source ids without a network call.
const (
	SourceGBIF      = "Global Biodiversity Information Facility"
	SourceWikimedia = "Wikimedia Commons"
	SourceEBird     = "eBird"
)
