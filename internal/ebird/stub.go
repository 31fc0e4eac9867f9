package ebird

import (
	"context"
	"strings"

	"github.com/rion/birdsong-go/internal/errors"
)

// Stub is a deterministic in-memory replacement for the live client,
// keyed by case-folded scientific or common name.
type Stub struct {
	info map[string]*SpeciesInfo
}

// NewStub builds a stub from a name to species-info map.
func NewStub(info map[string]*SpeciesInfo) *Stub {
	folded := make(map[string]*SpeciesInfo, len(info))
	for name, si := range info {
		folded[strings.ToLower(strings.TrimSpace(name))] = si
	}
	return &Stub{info: folded}
}

// LookupSpecies returns the canned info for either name or a not-found error.
func (s *Stub) LookupSpecies(_ context.Context, scientificName, commonName string) (*SpeciesInfo, error) {
	if info, ok := s.info[strings.ToLower(strings.TrimSpace(scientificName))]; ok {
		return info, nil
	}
	if commonName != "" {
		if info, ok := s.info[strings.ToLower(strings.TrimSpace(commonName))]; ok {
			return info, nil
		}
	}
	return nil, errors.Newf("no ebird taxonomy entry for %q", scientificName).
		Category(errors.CategoryNotFound).
		Component("ebird").
		Build()
}
