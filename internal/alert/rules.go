package alert

import (
	"strings"
	"time"
)

// Rule names, also used as the reason tag in event context maps.
const (
	RuleRareSpecies    = "rare_species"
	RuleFirstDetection = "first_detection"
	RuleFirstReturn    = "first_return"
)

// Rule evaluates one detection. lastSeen is the recency entry before
// this detection, nil when the species is unseen this process lifetime.
// A nil return means the rule did not fire.
type Rule interface {
	Name() string
	Evaluate(detection *Detection, lastSeen *time.Time, now time.Time) *Event
}

// RareSpeciesRule fires on every detection of a configured species,
// regardless of recency.
type RareSpeciesRule struct {
	severity string
	species  map[string]bool // case-folded scientific names
}

// NewRareSpeciesRule builds the rule from a scientific-name list.
func NewRareSpeciesRule(species []string, severity string) *RareSpeciesRule {
	folded := make(map[string]bool, len(species))
	for _, name := range species {
		folded[strings.ToLower(strings.TrimSpace(name))] = true
	}
	return &RareSpeciesRule{species: folded, severity: severity}
}

func (r *RareSpeciesRule) Name() string { return RuleRareSpecies }

func (r *RareSpeciesRule) Evaluate(detection *Detection, _ *time.Time, now time.Time) *Event {
	if !r.species[strings.ToLower(strings.TrimSpace(detection.ScientificName))] {
		return nil
	}
	return &Event{
		RuleName:  RuleRareSpecies,
		Severity:  r.severity,
		Time:      now,
		Detection: *detection,
		Context: map[string]any{
			"reason":  RuleRareSpecies,
			"species": detection.ScientificName,
		},
	}
}

// FirstDetectionRule fires when the species has no recency entry, i.e.
// it has never been seen this process lifetime.
type FirstDetectionRule struct {
	severity string
}

func NewFirstDetectionRule(severity string) *FirstDetectionRule {
	return &FirstDetectionRule{severity: severity}
}

func (r *FirstDetectionRule) Name() string { return RuleFirstDetection }

func (r *FirstDetectionRule) Evaluate(detection *Detection, lastSeen *time.Time, now time.Time) *Event {
	if lastSeen != nil {
		return nil
	}
	return &Event{
		RuleName:  RuleFirstDetection,
		Severity:  r.severity,
		Time:      now,
		Detection: *detection,
		Context: map[string]any{
			"reason":  RuleFirstDetection,
			"species": detection.ScientificName,
		},
	}
}

// FirstReturnRule fires when the species has a recency entry and at
// least the configured period has elapsed since it. Elapsed time equal
// to the period fires; only strictly shorter gaps suppress.
type FirstReturnRule struct {
	severity string
	period   time.Duration
}

func NewFirstReturnRule(period time.Duration, severity string) *FirstReturnRule {
	return &FirstReturnRule{period: period, severity: severity}
}

func (r *FirstReturnRule) Name() string { return RuleFirstReturn }

func (r *FirstReturnRule) Evaluate(detection *Detection, lastSeen *time.Time, now time.Time) *Event {
	if lastSeen == nil {
		return nil
	}
	elapsed := now.Sub(*lastSeen)
	if elapsed < r.period {
		return nil
	}
	return &Event{
		RuleName:  RuleFirstReturn,
		Severity:  r.severity,
		Time:      now,
		Detection: *detection,
		Context: map[string]any{
			"reason":       RuleFirstReturn,
			"species":      detection.ScientificName,
			"last_seen":    lastSeen.Format(time.RFC3339),
			"absence_days": int(elapsed.Hours() / 24),
		},
	}
}
