package pipeline

import (
	"context"
	"errors"

	"github.com/cprunner/park-events-etl/internal/domain"
)

// Fanout sends every change set to each publisher in turn. One failing
// publisher does not stop the others; their errors are joined.
type Fanout []Publisher

func (f Fanout) Publish(ctx context.Context, changes []domain.Change) error {
	var errs []error
	for _, p := range f {
		if err := p.Publish(ctx, changes); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
