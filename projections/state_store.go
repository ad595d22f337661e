package projections

import (
	"context"
	"errors"
	"fmt"

	"github.com/AntonStoeckl/eventstore-projections-go/eventstore"
)

// maxStateMutationAttempts bounds the compare-and-swap retries of a state mutation.
const maxStateMutationAttempts = 16

// errNoChange tells mutate that the mutation function left the state untouched.
var errNoChange = errors.New("no change")

// indexStateStore persists IndexState records as JSON items, one per schema name.
type indexStateStore struct {
	kv eventstore.KeyValueStore
}

func (s indexStateStore) load(ctx context.Context, schemaName string) (IndexState, error) {
	item, err := s.kv.LoadItem(ctx, schemaName, indexStatePartition)
	if errors.Is(err, eventstore.ErrItemNotFound) {
		return IndexState{SchemaName: schemaName}, nil
	}

	if err != nil {
		return IndexState{}, errors.Join(ErrLoadingIndexStateFailed, err)
	}

	var state IndexState
	if err = jsonAPI.Unmarshal(item.Value, &state); err != nil {
		return IndexState{}, errors.Join(ErrLoadingIndexStateFailed, err)
	}

	state.revision = item.Revision

	return state, nil
}

// save writes the state if it was not modified since it was loaded.
// A concurrent modification yields eventstore.ErrConcurrencyConflict.
func (s indexStateStore) save(ctx context.Context, state IndexState) (IndexState, error) {
	data, err := jsonAPI.Marshal(state)
	if err != nil {
		return IndexState{}, errors.Join(ErrSavingIndexStateFailed, err)
	}

	item, err := s.kv.UpsertItem(ctx, state.SchemaName, indexStatePartition, data, state.revision)
	if errors.Is(err, eventstore.ErrConcurrencyConflict) {
		return IndexState{}, err
	}

	if err != nil {
		return IndexState{}, errors.Join(ErrSavingIndexStateFailed, err)
	}

	saved := state.clone()
	saved.revision = item.Revision

	return saved, nil
}

// mutate applies fn to the freshest state and saves it, retrying on concurrent modifications.
// fn returns errNoChange to end the mutation without saving.
func (s indexStateStore) mutate(
	ctx context.Context,
	schemaName string,
	fn func(state *IndexState) error,
) (IndexState, error) {

	for attempt := 0; attempt < maxStateMutationAttempts; attempt++ {
		state, err := s.load(ctx, schemaName)
		if err != nil {
			return IndexState{}, err
		}

		state = state.clone()

		err = fn(&state)
		if errors.Is(err, errNoChange) {
			return state, nil
		}

		if err != nil {
			return state, err
		}

		saved, err := s.save(ctx, state)
		if errors.Is(err, eventstore.ErrConcurrencyConflict) {
			continue
		}

		return saved, err
	}

	return IndexState{}, fmt.Errorf("%w: schema %q: %w",
		ErrSavingIndexStateFailed, schemaName, eventstore.ErrConcurrencyConflict)
}
