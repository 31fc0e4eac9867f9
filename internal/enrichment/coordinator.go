// Package enrichment guarantees a durable species record exists for every
// detected scientific name, pulling taxonomy, summary and media data from
// the external sources and recording provenance citations.
package enrichment

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"

	"github.com/patrickmn/go-cache"

	"github.com/rion/birdsong-go/internal/datastore"
	"github.com/rion/birdsong-go/internal/ebird"
	"github.com/rion/birdsong-go/internal/errors"
	"github.com/rion/birdsong-go/internal/gbif"
	"github.com/rion/birdsong-go/internal/wikimedia"
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

// Coordinator resolves scientific names to durable species records.
// The in-memory name cache is the primary defense against enrichment
// storms when a burst of detections reports the same species.
type Coordinator struct {
	store       datastore.StoreOps
	taxonomy    TaxonomySource
	summaries   SummarySource
	speciesInfo SpeciesInfoSource
	images      *ImageCache

	// normalized alias -> species id
	names *cache.Cache
}

// New builds a coordinator. Any source may be nil, in which case its
// fields simply stay empty. images may be nil when local caching is off.
func New(store datastore.StoreOps, taxonomy TaxonomySource, summaries SummarySource, speciesInfo SpeciesInfoSource, images *ImageCache) *Coordinator {
	return &Coordinator{
		store:       store,
		taxonomy:    taxonomy,
		summaries:   summaries,
		speciesInfo: speciesInfo,
		images:      images,
		names:       cache.New(cache.NoExpiration, cache.NoExpiration),
	}
}

// EnsureSpecies guarantees a species record exists for the scientific
// name and returns its id and whether a new record was created. A cache
// hit returns immediately with no network or database work. External
// lookup failures degrade to empty fields; only a persistence failure is
// an error, and it rolls back the whole attempt.
func (c *Coordinator) EnsureSpecies(ctx context.Context, scientificName, commonName string) (string, bool, error) {
	normalized := NormalizeName(scientificName)
	if normalized == "" {
		return "", false, errors.Newf("scientific name is empty").
			Category(errors.CategoryValidation).
			Component("enrichment").
			Build()
	}

	if cached, found := c.names.Get(normalized); found {
		return cached.(string), false, nil
	}

	id := SpeciesID(scientificName)
	species, err := c.lookupStored(id, scientificName)
	if err != nil {
		return "", false, err
	}
	if species != nil {
		if !species.HasCompleteMetadata() {
			if refreshErr := c.refresh(ctx, species, commonName); refreshErr != nil {
				logger.Warn("metadata refresh failed",
					"species_id", species.ID, "error", refreshErr)
			}
		}
		c.rememberAliases(scientificName, species)
		return species.ID, false, nil
	}

	species = &datastore.Species{
		ID:             id,
		ScientificName: strings.TrimSpace(scientificName),
	}
	gathered := c.gather(ctx, scientificName, commonName)
	c.applyPayload(ctx, species, commonName, gathered)
	citations := c.buildCitations(species, gathered)

	if err := c.store.SaveEnrichment(species, citations); err != nil {
		return "", false, err
	}
	c.rememberAliases(scientificName, species)
	logger.Info("species created", "species_id", id,
		"scientific_name", species.ScientificName, "citations", len(citations))
	return id, true, nil
}

// Refresh re-runs enrichment for an existing species, filling only empty
// fields. Used by the lookup path and the backfill command.
func (c *Coordinator) Refresh(ctx context.Context, species *datastore.Species) error {
	return c.refresh(ctx, species, species.CommonName)
}

// lookupStored tries the durable store by id, then by exact name.
// A genuine miss returns (nil, nil).
func (c *Coordinator) lookupStored(id, scientificName string) (*datastore.Species, error) {
	species, err := c.store.GetSpecies(id)
	if err == nil {
		return species, nil
	}
	if !errors.IsNotFound(err) {
		return nil, err
	}
	species, err = c.store.GetSpeciesByName(strings.TrimSpace(scientificName))
	if err == nil {
		return species, nil
	}
	if !errors.IsNotFound(err) {
		return nil, err
	}
	return nil, nil
}

func (c *Coordinator) refresh(ctx context.Context, species *datastore.Species, commonName string) error {
	if commonName == "" {
		commonName = species.CommonName
	}
	gathered := c.gather(ctx, species.ScientificName, commonName)
	c.applyPayload(ctx, species, commonName, gathered)
	citations := c.buildCitations(species, gathered)
	return c.store.SaveEnrichment(species, citations)
}

// gathered holds whatever the external sources produced; any field may
// be nil after a miss or a transient failure that exhausted retries.
type gathered struct {
	taxon   *gbif.Taxon
	summary *wikimedia.Summary
	media   *wikimedia.Media
	info    *ebird.SpeciesInfo
}

// gather queries the sources in order: taxonomy by scientific name with
// a common-name fallback, then summary and media across a deduplicated
// priority list of candidate titles, then the species-info source. Every
// failure is absorbed; enrichment never fails on lookups alone.
func (c *Coordinator) gather(ctx context.Context, scientificName, commonName string) gathered {
	var g gathered

	if c.taxonomy != nil {
		taxon, err := c.taxonomy.Match(ctx, scientificName)
		if err != nil && commonName != "" {
			logger.Debug("taxonomy miss on scientific name, trying common name",
				"scientific_name", scientificName, "error", err)
			taxon, err = c.taxonomy.Match(ctx, commonName)
		}
		if err != nil {
			logNotFoundAsDebug(err, "taxonomy lookup failed", "name", scientificName)
		} else {
			g.taxon = taxon
		}
	}

	titles := candidateTitles(g.taxon, scientificName, commonName)
	if c.summaries != nil {
		for _, title := range titles {
			summary, err := c.summaries.Summary(ctx, title)
			if err != nil {
				logNotFoundAsDebug(err, "summary lookup failed", "title", title)
				continue
			}
			g.summary = summary
			break
		}
		for _, title := range titles {
			media, err := c.summaries.Media(ctx, title)
			if err != nil {
				logNotFoundAsDebug(err, "media lookup failed", "title", title)
				continue
			}
			g.media = media
			break
		}
	}

	if c.speciesInfo != nil {
		info, err := c.speciesInfo.LookupSpecies(ctx, scientificName, commonName)
		if err != nil {
			logNotFoundAsDebug(err, "species info lookup failed", "name", scientificName)
		} else {
			g.info = info
		}
	}
	return g
}

// candidateTitles returns the priority-ordered, deduplicated lookup
// titles: taxonomy-canonical name, original scientific name, common name.
func candidateTitles(taxon *gbif.Taxon, scientificName, commonName string) []string {
	var titles []string
	seen := make(map[string]bool)
	add := func(title string) {
		title = strings.TrimSpace(title)
		if title == "" || seen[NormalizeName(title)] {
			return
		}
		seen[NormalizeName(title)] = true
		titles = append(titles, title)
	}
	if taxon != nil {
		add(taxon.CanonicalName)
	}
	add(scientificName)
	add(commonName)
	return titles
}

// applyPayload fills species fields from the gathered data using the
// per-field fallback chains. Existing non-empty fields are preserved so
// refreshes never clobber good data with absence.
func (c *Coordinator) applyPayload(ctx context.Context, species *datastore.Species, inputCommonName string, g gathered) {
	setIfEmpty := func(field *string, value string) {
		if *field == "" && value != "" {
			*field = value
		}
	}

	if g.taxon != nil {
		// The authoritative source decides the stored casing.
		if g.taxon.CanonicalName != "" {
			species.ScientificName = g.taxon.CanonicalName
		}
		setIfEmpty(&species.Genus, g.taxon.Genus)
		setIfEmpty(&species.Family, g.taxon.Family)
		setIfEmpty(&species.SpeciesEpithet, g.taxon.Species)
	}

	commonName := strings.TrimSpace(inputCommonName)
	if commonName == "" && g.taxon != nil {
		commonName = g.taxon.VernacularName
	}
	if commonName == "" {
		commonName = species.ScientificName
	}
	setIfEmpty(&species.CommonName, commonName)

	if g.media != nil {
		imageURL := g.media.ImageURL
		if c.images != nil {
			if localPath, err := c.images.Fetch(ctx, g.media.ImageURL, species.ID); err == nil {
				imageURL = localPath
			} else {
				logger.Warn("image cache fetch failed",
					"species_id", species.ID, "error", err)
			}
		}
		setIfEmpty(&species.ImageURL, imageURL)
	}

	if g.info != nil {
		setIfEmpty(&species.InfoURL, g.info.InfoURL)
		setIfEmpty(&species.Summary, g.info.IdentificationText)
		setIfEmpty(&species.EBirdCode, g.info.Code)
	}
	if g.summary != nil {
		setIfEmpty(&species.InfoURL, g.summary.PageURL)
		setIfEmpty(&species.Summary, g.summary.Extract)
	}
}

// buildCitations records one provenance row per external source that
// contributed data. A missing seed row skips the citation rather than
// failing the enrichment.
func (c *Coordinator) buildCitations(species *datastore.Species, g gathered) []datastore.Citation {
	var citations []datastore.Citation
	add := func(sourceName, dataType string, content any) {
		sourceID, err := c.store.GetDataSourceID(sourceName)
		if err != nil {
			logger.Warn("data source not seeded, skipping citation",
				"source", sourceName, "error", err)
			return
		}
		payload, err := json.Marshal(content)
		if err != nil {
			return
		}
		citations = append(citations, datastore.Citation{
			SourceID:  sourceID,
			SpeciesID: species.ID,
			DataType:  dataType,
			Content:   string(payload),
		})
	}

	if g.taxon != nil {
		add(datastore.SourceGBIF, datastore.CitationTaxa, g.taxon)
	}
	if g.media != nil {
		add(datastore.SourceWikimedia, datastore.CitationImage, g.media)
	}
	switch {
	case g.info != nil && g.info.IdentificationText != "":
		add(datastore.SourceEBird, datastore.CitationCopy, g.info)
	case g.summary != nil:
		add(datastore.SourceWikimedia, datastore.CitationCopy, g.summary)
	}
	return citations
}

// rememberAliases caches every known alias of the species so later
// detections hit the cache no matter which spelling they report.
func (c *Coordinator) rememberAliases(inputName string, species *datastore.Species) {
	c.names.Set(NormalizeName(inputName), species.ID, cache.NoExpiration)
	c.names.Set(NormalizeName(species.ScientificName), species.ID, cache.NoExpiration)
	c.names.Set(species.ID, species.ID, cache.NoExpiration)
}

// logNotFoundAsDebug keeps expected misses quiet while surfacing real
// failures at warn level.
func logNotFoundAsDebug(err error, msg string, args ...any) {
	args = append(args, "error", err)
	if errors.IsNotFound(err) {
		logger.Debug(msg, args...)
		return
	}
	logger.Warn(msg, args...)
}
