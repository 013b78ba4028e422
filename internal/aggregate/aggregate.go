// Package aggregate provides a small generic load-decide-append runtime
// shared by every aggregate type in the system: load a stream, fold its
// events into current state, let the aggregate's own Decide method turn a
// command into new events, then append under an ExpectLastSequence
// precondition so a concurrent writer is detected rather than silently
// overwritten.
package aggregate

import (
	"fmt"

	"github.com/ftgo/backbone/internal/domain"
)

// Type describes one aggregate's pure decision logic. S is the folded
// state, C the command, E the event payload type.
type Type[S any, C any, E any] struct {
	// Zero returns the state before any event has been applied.
	Zero func() S
	// Apply folds one decoded event onto state, returning the new state.
	Apply func(state S, event E) S
	// Decode turns a stored event's metadata and payload into E.
	Decode func(eventType string, payload []byte) (E, error)
	// Decide turns a command against the current state into new events, or
	// an error if the command is invalid for that state.
	Decide func(state S, cmd C) ([]E, error)
	// Encode turns a produced event into its stored type tag and payload.
	Encode func(event E) (eventType string, payload []byte, err error)
}

// Runtime binds a Type to a concrete EventStore.
type Runtime[S any, C any, E any] struct {
	store domain.EventStore
	typ   Type[S, C, E]
}

// New constructs a Runtime.
func New[S any, C any, E any](store domain.EventStore, typ Type[S, C, E]) *Runtime[S, C, E] {
	return &Runtime[S, C, E]{store: store, typ: typ}
}

// Load folds stream's events into state, returning the last sequence seen
// (-1 if the stream does not yet exist).
func (r *Runtime[S, C, E]) Load(ctx domain.Context, stream string) (S, int64, error) {
	events, err := r.store.ReadStream(ctx, stream)
	if err != nil {
		var zero S
		return zero, 0, fmt.Errorf("op=aggregate.Load: %w", err)
	}
	state := r.typ.Zero()
	last := int64(-1)
	for _, e := range events {
		decoded, err := r.typ.Decode(e.Metadata.EventType, e.Payload)
		if err != nil {
			var zero S
			return zero, 0, fmt.Errorf("op=aggregate.Load: decode stream=%s sequence=%d: %w", stream, e.Sequence, err)
		}
		state = r.typ.Apply(state, decoded)
		last = e.Sequence
	}
	return state, last, nil
}

// Handle loads stream, decides cmd against its folded state, and appends
// the resulting events under ExpectLastSequence(last), or ExpectNoStream
// when the stream does not exist yet. A concurrent writer
// that appended between Load and Append surfaces as
// *domain.ErrAppendConditionFailed; callers retry the whole load-decide-
// append cycle rather than merge partial state.
func (r *Runtime[S, C, E]) Handle(ctx domain.Context, stream string, cmd C) ([]E, []int64, error) {
	state, last, err := r.Load(ctx, stream)
	if err != nil {
		return nil, nil, err
	}

	events, err := r.typ.Decide(state, cmd)
	if err != nil {
		return nil, nil, err
	}
	if len(events) == 0 {
		return nil, nil, nil
	}

	condition := domain.ExpectSequence(last)
	if last == -1 {
		condition = domain.ExpectNoStream()
	}

	newEvents := make([]domain.NewEvent, len(events))
	for i, e := range events {
		eventType, payload, err := r.typ.Encode(e)
		if err != nil {
			return nil, nil, fmt.Errorf("op=aggregate.Handle: encode: %w", err)
		}
		newEvents[i] = domain.NewEvent{Metadata: domain.EventMetadata{EventType: eventType}, Payload: payload}
	}

	sequences, err := r.store.Append(ctx, stream, newEvents, condition)
	if err != nil {
		return nil, nil, fmt.Errorf("op=aggregate.Handle: %w", err)
	}
	return events, sequences, nil
}
