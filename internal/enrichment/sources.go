package enrichment

import (
	"context"

	"github.com/rion/birdsong-go/internal/ebird"
	"github.com/rion/birdsong-go/internal/gbif"
	"github.com/rion/birdsong-go/internal/wikimedia"
)

// TaxonomySource resolves a name against a backbone taxonomy.
// Satisfied by gbif.Client and gbif.Stub.
type TaxonomySource interface {
	Match(ctx context.Context, name string) (*gbif.Taxon, error)
}

// SummarySource provides page summaries and images for a title.
// Satisfied by wikimedia.Client and wikimedia.Stub.
type SummarySource interface {
	Summary(ctx context.Context, title string) (*wikimedia.Summary, error)
	Media(ctx context.Context, title string) (*wikimedia.Media, error)
}

// SpeciesInfoSource resolves species codes and identification text.
// Satisfied by ebird.Client and ebird.Stub.
type SpeciesInfoSource interface {
	LookupSpecies(ctx context.Context, scientificName, commonName string) (*ebird.SpeciesInfo, error)
}
