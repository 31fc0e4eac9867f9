// Package alert evaluates detections against configured rules and emits
// alert events. The engine performs no I/O; delivery is the publisher's
// problem.
package alert

import (
	"sync"
	"time"
)

// Detection is the engine's view of one classifier hit.
type Detection struct {
	SpeciesID      string
	ScientificName string
	CommonName     string
	Confidence     float64
	Time           time.Time
	RecordingPath  string
}

// Event is one fired rule for one detection.
type Event struct {
	RuleName  string
	Severity  string
	Time      time.Time
	Detection Detection
	// Context explains why the rule fired, keyed by a fixed reason tag.
	Context map[string]any
}

// RecencyIndex maps species ids to their last-seen timestamp. It lives
// in memory only; after a restart every species looks like a first
// detection again, which the rules tolerate by design.
type RecencyIndex struct {
	mu   sync.RWMutex
	seen map[string]time.Time
}

// NewRecencyIndex returns an empty index.
func NewRecencyIndex() *RecencyIndex {
	return &RecencyIndex{seen: make(map[string]time.Time)}
}

// LastSeen returns the last-seen timestamp for a species, or nil when
// the species has never been seen this process lifetime.
func (ri *RecencyIndex) LastSeen(speciesID string) *time.Time {
	ri.mu.RLock()
	defer ri.mu.RUnlock()
	if t, ok := ri.seen[speciesID]; ok {
		return &t
	}
	return nil
}

// Update records the species as seen at the given time.
func (ri *RecencyIndex) Update(speciesID string, at time.Time) {
	ri.mu.Lock()
	defer ri.mu.Unlock()
	ri.seen[speciesID] = at
}

// Len returns the number of tracked species.
func (ri *RecencyIndex) Len() int {
	ri.mu.RLock()
	defer ri.mu.RUnlock()
	return len(ri.seen)
}
