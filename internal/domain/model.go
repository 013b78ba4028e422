package domain

import "time"

// Stream is the Event Store's per-aggregate log header. LastSequence starts
// at -1 for a stream that has never been appended to and equals the highest
// sequence of any event row belonging to the stream.
type Stream struct {
	Name         string
	LastSequence int64
}

// EventMetadata carries the human-readable event-type tag used by filters
// and operators; it is not used for correctness.
type EventMetadata struct {
	EventType string
}

// Event is a single row of the append-only log: unique by (StreamName, ID)
// and by (StreamName, Sequence), with a dense strictly-increasing Sequence
// per stream starting at 0, and an opaque Payload holding the encoded
// domain event.
type Event struct {
	StreamName string
	ID         string
	Sequence   int64
	Payload    []byte
	Metadata   EventMetadata
	CreatedAt  time.Time
}

// NewEvent is the input shape for EventStore.Append: an event_id is caller
// supplied for idempotent retries, or left empty to let the store generate
// one.
type NewEvent struct {
	ID       string
	Payload  []byte
	Metadata EventMetadata
}

// OutboxRow is a pending outgoing message, ordered globally by ID. It is
// exclusively owned by the Outbox Relay, which deletes a row once its
// publish has been acknowledged.
type OutboxRow struct {
	ID        int64
	Topic     string
	Key       string
	Value     []byte
	CreatedAt time.Time
}

// Checkpoint is a subscription's durable position on a single stream.
// Absence of a row for (SubscriptionID, StreamName) means "start from the
// beginning".
type Checkpoint struct {
	SubscriptionID string
	StreamName     string
	Sequence       int64
	CheckpointedAt time.Time
}

// SagaInstance is the durable state of one running saga, keyed by
// (SagaType, SagaID). CurrentlyExecuting starts at -1; Data holds the
// saga's domain-specific accumulator, marshaled as JSON.
type SagaInstance struct {
	SagaType           string
	SagaID             string
	CurrentlyExecuting int32
	LastRequestID      string
	Compensating       bool
	EndState           bool
	Failed             bool
	Data               []byte
}

// Terminal reports whether the instance has reached one of the three stable
// end states described in the saga invariants: succeeded, rolled back, or
// parked.
func (s SagaInstance) Terminal() bool { return s.EndState }

// Succeeded reports whether the saga completed all forward steps.
func (s SagaInstance) Succeeded() bool { return s.EndState && !s.Compensating && !s.Failed }

// RolledBack reports whether the saga compensated fully without a
// compensation failure.
func (s SagaInstance) RolledBack() bool { return s.EndState && s.Compensating && !s.Failed }

// Parked reports whether the saga is stuck needing human resolution.
func (s SagaInstance) Parked() bool { return s.EndState && s.Failed }
