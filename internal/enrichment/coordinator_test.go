package enrichment

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rion/birdsong-go/internal/conf"
	"github.com/rion/birdsong-go/internal/datastore"
	"github.com/rion/birdsong-go/internal/ebird"
	"github.com/rion/birdsong-go/internal/gbif"
	"github.com/rion/birdsong-go/internal/wikimedia"
)

func newTestStore(t *testing.T) datastore.Interface {
	t.Helper()
	settings := &conf.Settings{}
	settings.Database.SQLite.Enabled = true
	settings.Database.SQLite.Path = filepath.Join(t.TempDir(), "test.db")

	store, err := datastore.New(settings)
	require.NoError(t, err)
	require.NoError(t, store.Open())
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// countingTaxonomy counts lookups so tests can prove cache hits skip the
// network entirely.
type countingTaxonomy struct {
	inner TaxonomySource
	calls int
}

func (ct *countingTaxonomy) Match(ctx context.Context, name string) (*gbif.Taxon, error) {
	ct.calls++
	return ct.inner.Match(ctx, name)
}

func ravenSources() (*countingTaxonomy, SummarySource, SpeciesInfoSource) {
	taxonomy := &countingTaxonomy{inner: gbif.NewStub(map[string]*gbif.Taxon{
		"Corvus corax": {
			CanonicalName:  "Corvus corax",
			Genus:          "Corvus",
			Family:         "Corvidae",
			Species:        "Corvus corax",
			MatchType:      "EXACT",
			VernacularName: "Common Raven",
		},
	})}
	summaries := wikimedia.NewStub(
		map[string]*wikimedia.Summary{
			"Corvus corax": {
				Title:   "Common raven",
				Extract: "The common raven is a large all-black passerine bird.",
				PageURL: "https://en.wikipedia.org/wiki/Common_raven",
			},
		},
		map[string]*wikimedia.Media{
			"Corvus corax": {
				FileName: "File:Corvus corax.jpg",
				ImageURL: "https://upload.wikimedia.org/Corvus_corax.jpg",
				License:  "CC BY-SA 4.0",
			},
		},
	)
	speciesInfo := ebird.NewStub(map[string]*ebird.SpeciesInfo{
		"Corvus corax": {
			Code:               "comrav",
			InfoURL:            "https://ebird.org/species/comrav",
			IdentificationText: "A massive black corvid.",
		},
	})
	return taxonomy, summaries, speciesInfo
}

func TestSpeciesIDDeterministic(t *testing.T) {
	t.Parallel()

	sum := sha1.Sum([]byte("corvus corax"))
	want := hex.EncodeToString(sum[:])[:12]

	assert.Equal(t, want, SpeciesID("Corvus corax"))
	assert.Equal(t, want, SpeciesID("  corvus CORAX  "))
	assert.Len(t, SpeciesID("Turdus merula"), 12)
	assert.NotEqual(t, SpeciesID("Corvus corax"), SpeciesID("Turdus merula"))
}

func TestEnsureSpeciesCreatesEnrichedRecord(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	taxonomy, summaries, speciesInfo := ravenSources()
	coordinator := New(store, taxonomy, summaries, speciesInfo, nil)

	id, created, err := coordinator.EnsureSpecies(context.Background(), "Corvus corax", "")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, SpeciesID("Corvus corax"), id)

	species, err := store.GetSpecies(id)
	require.NoError(t, err)
	assert.Equal(t, "Corvus corax", species.ScientificName)
	assert.Equal(t, "Common Raven", species.CommonName) // taxonomy vernacular
	assert.Equal(t, "Corvus", species.Genus)
	assert.Equal(t, "Corvidae", species.Family)
	assert.Equal(t, "comrav", species.EBirdCode)
	// eBird text and URL win over the wiki fallbacks.
	assert.Equal(t, "A massive black corvid.", species.Summary)
	assert.Equal(t, "https://ebird.org/species/comrav", species.InfoURL)
	assert.Equal(t, "https://upload.wikimedia.org/Corvus_corax.jpg", species.ImageURL)
}

func TestEnsureSpeciesRecordsCitations(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	taxonomy, summaries, speciesInfo := ravenSources()
	coordinator := New(store, taxonomy, summaries, speciesInfo, nil)

	id, _, err := coordinator.EnsureSpecies(context.Background(), "Corvus corax", "")
	require.NoError(t, err)

	sqlStore := store.(*datastore.SQLiteStore)
	var citations []datastore.Citation
	require.NoError(t, sqlStore.DB.Where("species_id = ?", id).Find(&citations).Error)
	types := make(map[string]int)
	for _, c := range citations {
		types[c.DataType]++
	}
	assert.Equal(t, 1, types[datastore.CitationTaxa])
	assert.Equal(t, 1, types[datastore.CitationImage])
	assert.Equal(t, 1, types[datastore.CitationCopy])
}

func TestEnsureSpeciesSecondCallHitsCache(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	taxonomy, summaries, speciesInfo := ravenSources()
	coordinator := New(store, taxonomy, summaries, speciesInfo, nil)

	firstID, created, err := coordinator.EnsureSpecies(context.Background(), "Corvus corax", "")
	require.NoError(t, err)
	assert.True(t, created)
	callsAfterFirst := taxonomy.calls

	secondID, created, err := coordinator.EnsureSpecies(context.Background(), "Corvus corax", "")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, firstID, secondID)
	assert.Equal(t, callsAfterFirst, taxonomy.calls, "cache hit must make zero network calls")

	// Aliases hit the cache too.
	thirdID, created, err := coordinator.EnsureSpecies(context.Background(), "  CORVUS corax ", "")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, firstID, thirdID)
	assert.Equal(t, callsAfterFirst, taxonomy.calls)

	// And no duplicate citation rows appeared.
	sqlStore := store.(*datastore.SQLiteStore)
	var count int64
	require.NoError(t, sqlStore.DB.Model(&datastore.Citation{}).
		Where("species_id = ?", firstID).Count(&count).Error)
	assert.Equal(t, int64(3), count)
}

func TestEnsureSpeciesExplicitCommonNameWins(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	taxonomy, summaries, speciesInfo := ravenSources()
	coordinator := New(store, taxonomy, summaries, speciesInfo, nil)

	id, _, err := coordinator.EnsureSpecies(context.Background(), "Corvus corax", "Raven")
	require.NoError(t, err)
	species, err := store.GetSpecies(id)
	require.NoError(t, err)
	assert.Equal(t, "Raven", species.CommonName)
}

func TestEnsureSpeciesTotalMissDegradesGracefully(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	coordinator := New(store,
		gbif.NewStub(nil), wikimedia.NewStub(nil, nil), ebird.NewStub(nil), nil)

	id, created, err := coordinator.EnsureSpecies(context.Background(), "Notarealis birdus", "")
	require.NoError(t, err)
	assert.True(t, created)

	species, err := store.GetSpecies(id)
	require.NoError(t, err)
	assert.Equal(t, "Notarealis birdus", species.ScientificName)
	// Common name falls all the way back to the scientific name.
	assert.Equal(t, "Notarealis birdus", species.CommonName)
	assert.Empty(t, species.Summary)
	assert.Empty(t, species.InfoURL)
}

func TestEnsureSpeciesWithoutEBirdUsesWikiFallbacks(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	taxonomy, summaries, _ := ravenSources()
	coordinator := New(store, taxonomy, summaries, nil, nil)

	id, _, err := coordinator.EnsureSpecies(context.Background(), "Corvus corax", "")
	require.NoError(t, err)
	species, err := store.GetSpecies(id)
	require.NoError(t, err)
	assert.Equal(t, "https://en.wikipedia.org/wiki/Common_raven", species.InfoURL)
	assert.Contains(t, species.Summary, "all-black passerine")
}

func TestEnsureSpeciesRefreshesIncompleteRecord(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	taxonomy, summaries, speciesInfo := ravenSources()
	coordinator := New(store, taxonomy, summaries, speciesInfo, nil)

	// A bare record from a degraded earlier run.
	bare := &datastore.Species{
		ID:             SpeciesID("Corvus corax"),
		ScientificName: "Corvus corax",
		CommonName:     "Common Raven",
	}
	require.NoError(t, store.SaveSpecies(bare))

	id, created, err := coordinator.EnsureSpecies(context.Background(), "Corvus corax", "")
	require.NoError(t, err)
	assert.False(t, created, "refresh still reports an existing species")
	assert.Equal(t, bare.ID, id)

	species, err := store.GetSpecies(id)
	require.NoError(t, err)
	assert.Equal(t, "Corvidae", species.Family)
	assert.Equal(t, "comrav", species.EBirdCode)
	assert.NotEmpty(t, species.Summary)
}

func TestCandidateTitlesPriorityAndDedup(t *testing.T) {
	t.Parallel()

	taxon := &gbif.Taxon{CanonicalName: "Corvus corax"}
	titles := candidateTitles(taxon, "corvus corax", "Common Raven")
	// The canonical name dedups the case-variant input.
	assert.Equal(t, []string{"Corvus corax", "Common Raven"}, titles)

	titles = candidateTitles(nil, "Corvus corax", "")
	assert.Equal(t, []string{"Corvus corax"}, titles)
}
