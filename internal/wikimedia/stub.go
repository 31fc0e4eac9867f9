package wikimedia

import (
	"context"

	"github.com/rion/birdsong-go/internal/errors"
)

// Stub is a deterministic in-memory replacement for the live client,
// keyed by exact title.
type Stub struct {
	summaries map[string]*Summary
	media     map[string]*Media
}

// NewStub builds a stub from canned summary and media maps. Either map
// may be nil.
func NewStub(summaries map[string]*Summary, media map[string]*Media) *Stub {
	return &Stub{summaries: summaries, media: media}
}

// Summary returns the canned summary for the title or a not-found error.
func (s *Stub) Summary(_ context.Context, title string) (*Summary, error) {
	if summary, ok := s.summaries[title]; ok {
		return summary, nil
	}
	return nil, errors.Newf("no usable summary for %q", title).
		Category(errors.CategoryNotFound).
		Component("wikimedia").
		Build()
}

// Media returns the canned media for the title or a not-found error.
func (s *Stub) Media(_ context.Context, title string) (*Media, error) {
	if media, ok := s.media[title]; ok {
		return media, nil
	}
	return nil, errors.Newf("no commons image for %q", title).
		Category(errors.CategoryNotFound).
		Component("wikimedia").
		Build()
}
