package pipeline

import (
	"context"

	"github.com/cprunner/park-events-etl/internal/domain"
)

// EventTransformer implements Transformer with the domain relevance filter
// and canonicalization.
type EventTransformer struct {
	filter *domain.Filter
}

// NewTransformer creates an EventTransformer.
func NewTransformer(filter *domain.Filter) *EventTransformer {
	return &EventTransformer{filter: filter}
}

// Transform filters before canonicalizing, so relevance rules see the raw
// source text. The reference date is today at the park.
func (t *EventTransformer) Transform(ctx context.Context, policy domain.Policy, c domain.RawCandidate) (domain.CanonicalEvent, string, error) {
	if ok, reason := t.filter.Check(ctx, policy, c); !ok {
		return domain.CanonicalEvent{}, reason, nil
	}
	event, err := domain.Canonicalize(c, t.filter.Area().Today())
	if err != nil {
		return domain.CanonicalEvent{}, "", err
	}
	return event, "", nil
}
