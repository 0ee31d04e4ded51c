package statemachine

import (
	"context"
	"errors"
	"fmt"

	"github.com/liamcoop/prepbook/internal/logger"
	"github.com/liamcoop/prepbook/store"
)

// DefaultMaxRetries is how many times Perform re-reads after losing a
// compare-and-swap before giving up.
const DefaultMaxRetries = 3

// StateStore is the slice of the row store the executor needs.
// SetEntityState must only write when the stored status equals expected,
// returning store.ErrStateConflict otherwise.
type StateStore interface {
	GetEntityState(ctx context.Context, kind, id string) (string, error)
	SetEntityState(ctx context.Context, kind, id, expected, next string) (*store.Entity, error)
}

// Executor performs transitions: read the stored state, check it against the
// machine, and write the target state conditioned on the state just read.
type Executor struct {
	catalog    *Catalog
	store      StateStore
	maxRetries int
}

// NewExecutor creates an executor with DefaultMaxRetries
func NewExecutor(catalog *Catalog, s StateStore) *Executor {
	return &Executor{catalog: catalog, store: s, maxRetries: DefaultMaxRetries}
}

// WithMaxRetries sets the retry budget for lost compare-and-swaps.
func (x *Executor) WithMaxRetries(n int) *Executor {
	if n < 0 {
		n = 0
	}
	x.maxRetries = n
	return x
}

// Perform applies transition to the entity kind/id and returns the updated row.
//
// Failures:
//   - ErrUnknownMachine / ErrUnknownTransition for bad names
//   - store.ErrNotFound when the row does not exist
//   - *StateViolationError when the transition is not allowed from the current state
//   - store.ErrStateConflict when concurrent writers won every retry
func (x *Executor) Perform(ctx context.Context, kind, id, transition string) (*store.Entity, error) {
	m, err := x.catalog.Machine(kind)
	if err != nil {
		return nil, err
	}
	if _, ok := m.Transition(transition); !ok {
		return nil, fmt.Errorf("%s: %w %q", kind, ErrUnknownTransition, transition)
	}

	for attempt := 0; ; attempt++ {
		current, err := x.store.GetEntityState(ctx, kind, id)
		if err != nil {
			return nil, err
		}

		next, err := m.Next(State(current), transition)
		if err != nil {
			var violation *StateViolationError
			if errors.As(err, &violation) {
				violation.ID = id
				logger.WarnStateViolation(kind, id, current, transition)
			}
			return nil, err
		}

		entity, err := x.store.SetEntityState(ctx, kind, id, current, string(next))
		if err == nil {
			logger.Info("transition applied", "kind", kind, "id", id, "transition", transition,
				"from", current, "to", string(next))
			return entity, nil
		}
		if !errors.Is(err, store.ErrStateConflict) {
			return nil, err
		}

		logger.WarnConflict(kind, id, attempt+1)
		if attempt >= x.maxRetries {
			return nil, fmt.Errorf("%s %s: %s gave up after %d attempts: %w", kind, id, transition, attempt+1, err)
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
}
