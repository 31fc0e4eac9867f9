package alert

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rion/birdsong-go/internal/conf"
)

func raven() *Detection {
	return &Detection{
		SpeciesID:      "abc123def456",
		ScientificName: "Corvus corax",
		CommonName:     "Common Raven",
		Confidence:     0.94,
	}
}

func newTestEngine(t *testing.T, rules ...conf.AlertRuleSettings) (*Engine, *[]*Event) {
	t.Helper()
	var published []*Event
	engine, err := NewEngine(&conf.AlertSettings{Enabled: true, Rules: rules},
		func(event *Event) { published = append(published, event) })
	require.NoError(t, err)
	return engine, &published
}

func TestRareSpeciesRuleFiresEveryTime(t *testing.T) {
	t.Parallel()
	engine, published := newTestEngine(t, conf.AlertRuleSettings{
		Type: RuleRareSpecies, Enabled: true, Species: []string{"Corvus corax"}, Severity: "high",
	})

	events := engine.Evaluate(raven())
	require.Len(t, events, 1)
	assert.Equal(t, RuleRareSpecies, events[0].RuleName)
	assert.Equal(t, "high", events[0].Severity)
	assert.Equal(t, RuleRareSpecies, events[0].Context["reason"])

	// Rarity ignores recency: the second detection fires again.
	events = engine.Evaluate(raven())
	require.Len(t, events, 1)
	assert.Len(t, *published, 2)
}

func TestRareSpeciesMatchIsCaseFolded(t *testing.T) {
	t.Parallel()
	engine, _ := newTestEngine(t, conf.AlertRuleSettings{
		Type: RuleRareSpecies, Enabled: true, Species: []string{"CORVUS CORAX "},
	})

	events := engine.Evaluate(raven())
	assert.Len(t, events, 1)

	other := raven()
	other.ScientificName = "Turdus merula"
	assert.Empty(t, engine.Evaluate(other))
}

func TestFirstDetectionFiresOnce(t *testing.T) {
	t.Parallel()
	engine, _ := newTestEngine(t, conf.AlertRuleSettings{
		Type: RuleFirstDetection, Enabled: true,
	})

	events := engine.Evaluate(raven())
	require.Len(t, events, 1)
	assert.Equal(t, RuleFirstDetection, events[0].RuleName)

	// Now in the recency index, so it does not re-fire.
	assert.Empty(t, engine.Evaluate(raven()))
}

func TestFirstReturnScenario(t *testing.T) {
	t.Parallel()
	engine, _ := newTestEngine(t, conf.AlertRuleSettings{
		Type: RuleFirstReturn, Enabled: true, Period: "2 months",
	})

	now := time.Date(2026, 1, 10, 8, 0, 0, 0, time.UTC)
	engine.SetClock(func() time.Time { return now })

	// First sighting: no recency entry, first_return stays quiet.
	assert.Empty(t, engine.Evaluate(raven()))

	// 90 days later, well past the 60-day period: fires.
	now = now.AddDate(0, 0, 90)
	events := engine.Evaluate(raven())
	require.Len(t, events, 1)
	assert.Equal(t, RuleFirstReturn, events[0].RuleName)
	assert.Equal(t, 90, events[0].Context["absence_days"])

	// 10 days after that: suppressed.
	now = now.AddDate(0, 0, 10)
	assert.Empty(t, engine.Evaluate(raven()))
}

func TestFirstReturnBoundaryEqualityFires(t *testing.T) {
	t.Parallel()
	engine, _ := newTestEngine(t, conf.AlertRuleSettings{
		Type: RuleFirstReturn, Enabled: true, Period: "2 months",
	})

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	engine.SetClock(func() time.Time { return now })
	engine.Evaluate(raven())

	// Exactly the period: suppression is strictly "< period", so fires.
	now = now.Add(60 * 24 * time.Hour)
	assert.Len(t, engine.Evaluate(raven()), 1)

	engine2, _ := newTestEngine(t, conf.AlertRuleSettings{
		Type: RuleFirstReturn, Enabled: true, Period: "2 months",
	})
	now2 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	engine2.SetClock(func() time.Time { return now2 })
	engine2.Evaluate(raven())

	// One second short: suppressed.
	now2 = now2.Add(60*24*time.Hour - time.Second)
	assert.Empty(t, engine2.Evaluate(raven()))
}

func TestIndexUpdatedEvenWhenNothingFires(t *testing.T) {
	t.Parallel()
	engine, _ := newTestEngine(t) // no rules at all

	events := engine.Evaluate(raven())
	assert.Empty(t, events)
	assert.NotNil(t, engine.Index().LastSeen("abc123def456"))
	assert.Equal(t, 1, engine.Index().Len())
}

func TestIndexUpdatedOncePerDetection(t *testing.T) {
	t.Parallel()
	engine, published := newTestEngine(t,
		conf.AlertRuleSettings{Type: RuleRareSpecies, Enabled: true, Species: []string{"Corvus corax"}},
		conf.AlertRuleSettings{Type: RuleFirstDetection, Enabled: true},
	)

	now := time.Date(2026, 1, 10, 8, 0, 0, 0, time.UTC)
	engine.SetClock(func() time.Time { return now })

	// Both rules fire on the first detection, two events published.
	events := engine.Evaluate(raven())
	assert.Len(t, events, 2)
	assert.Len(t, *published, 2)

	lastSeen := engine.Index().LastSeen("abc123def456")
	require.NotNil(t, lastSeen)
	assert.True(t, lastSeen.Equal(now))
}

func TestDisabledRulesAreSkipped(t *testing.T) {
	t.Parallel()
	engine, _ := newTestEngine(t, conf.AlertRuleSettings{
		Type: RuleFirstDetection, Enabled: false,
	})
	assert.Empty(t, engine.Evaluate(raven()))
}

func TestNewEngineRejectsBadConfig(t *testing.T) {
	t.Parallel()

	_, err := NewEngine(&conf.AlertSettings{Rules: []conf.AlertRuleSettings{
		{Type: RuleFirstReturn, Enabled: true, Period: "eventually"},
	}}, nil)
	assert.Error(t, err)

	_, err = NewEngine(&conf.AlertSettings{Rules: []conf.AlertRuleSettings{
		{Type: "wingspan", Enabled: true},
	}}, nil)
	assert.Error(t, err)
}
