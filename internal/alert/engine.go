package alert

import (
	"io"
	"log/slog"
	"time"

	"github.com/rion/birdsong-go/internal/conf"
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

// Publisher receives fired events synchronously, one call per event.
type Publisher func(event *Event)

// Engine evaluates every detection against all enabled rules and keeps
// the recency index current.
type Engine struct {
	rules     []Rule
	index     *RecencyIndex
	publisher Publisher
	now       func() time.Time
}

// NewEngine builds the rule set from configuration descriptors. A
// malformed descriptor is fatal; the engine must not start half-configured.
func NewEngine(settings *conf.AlertSettings, publisher Publisher) (*Engine, error) {
	engine := &Engine{
		index:     NewRecencyIndex(),
		publisher: publisher,
		now:       time.Now,
	}
	for i := range settings.Rules {
		desc := &settings.Rules[i]
		if !desc.Enabled {
			continue
		}
		severity := desc.Severity
		if severity == "" {
			severity = "info"
		}
		switch desc.Type {
		case RuleRareSpecies:
			engine.rules = append(engine.rules, NewRareSpeciesRule(desc.Species, severity))
		case RuleFirstDetection:
			engine.rules = append(engine.rules, NewFirstDetectionRule(severity))
		case RuleFirstReturn:
			period, err := conf.ParsePeriod(desc.Period)
			if err != nil {
				return nil, errors.Newf("first_return rule: %v", err).
					Category(errors.CategoryConfiguration).
					Component("alert").
					Build()
			}
			engine.rules = append(engine.rules, NewFirstReturnRule(period, severity))
		default:
			return nil, errors.Newf("unknown rule type %q", desc.Type).
				Category(errors.CategoryConfiguration).
				Component("alert").
				Build()
		}
	}
	logger.Info("alert engine configured", "rules", len(engine.rules))
	return engine, nil
}

// SetClock overrides the engine's time source, used by tests.
func (e *Engine) SetClock(now func() time.Time) { e.now = now }

// Index exposes the recency index, used by tests and diagnostics.
func (e *Engine) Index() *RecencyIndex { return e.index }

// Evaluate runs all rules for one detection and publishes every fired
// event. The recency index is updated exactly once afterwards, whether
// or not anything fired, so the index also tracks species with no
// active rules.
func (e *Engine) Evaluate(detection *Detection) []*Event {
	now := e.now()
	lastSeen := e.index.LastSeen(detection.SpeciesID)

	var events []*Event
	for _, rule := range e.rules {
		if event := rule.Evaluate(detection, lastSeen, now); event != nil {
			events = append(events, event)
			logger.Info("alert rule fired", "rule", rule.Name(),
				"species", detection.ScientificName, "confidence", detection.Confidence)
			if e.publisher != nil {
				e.publisher(event)
			}
		}
	}

	e.index.Update(detection.SpeciesID, now)
	return events
}
