package enrichment

import (
	"crypto/sha1"
	"encoding/hex"
	"strings"
)

// speciesIDWidth is the number of hex characters kept from the hash.
const speciesIDWidth = 12

// NormalizeName trims and case-folds a scientific name for comparison.
// The stored name keeps the casing of the authoritative source.
func NormalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// SpeciesID derives the deterministic species id from a scientific name.
// Same normalized name, same id, always.
func SpeciesID(scientificName string) string {
	sum := sha1.Sum([]byte(NormalizeName(scientificName)))
	return hex.EncodeToString(sum[:])[:speciesIDWidth]
}
