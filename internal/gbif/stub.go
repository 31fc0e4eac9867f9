package gbif

import (
	"context"
	"strings"

	"github.com/rion/birdsong-go/internal/errors"
)

// Stub is a deterministic in-memory replacement for the live client,
// keyed by case-folded input name.
type Stub struct {
	taxa map[string]*Taxon
}

// NewStub builds a stub from a name to taxon map.
func NewStub(taxa map[string]*Taxon) *Stub {
	folded := make(map[string]*Taxon, len(taxa))
	for name, taxon := range taxa {
		folded[strings.ToLower(strings.TrimSpace(name))] = taxon
	}
	return &Stub{taxa: folded}
}

// Match returns the canned taxon for the name or a not-found error.
func (s *Stub) Match(_ context.Context, name string) (*Taxon, error) {
	if taxon, ok := s.taxa[strings.ToLower(strings.TrimSpace(name))]; ok {
		return taxon, nil
	}
	return nil, errors.Newf("no taxonomy match for %q", name).
		Category(errors.CategoryNotFound).
		Component("gbif").
		Build()
}
