// Package saga implements the Saga Coordinator: a durable state machine
// that walks a fixed sequence of steps forward on success and backward,
// compensating, on failure, reaching one of three stable terminal states
// (succeeded, rolled back, parked). internal/orderservice/saga/create_order.go
// is the concrete definition this engine executes.
package saga

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/ftgo/backbone/internal/adapter/observability"
	"github.com/ftgo/backbone/internal/domain"
)

// Direction distinguishes a forward step invocation from a compensation.
type Direction int

const (
	// Forward invokes a step's normal action.
	Forward Direction = iota
	// Backward invokes a step's compensation.
	Backward
)

func (d Direction) String() string {
	if d == Backward {
		return "backward"
	}
	return "forward"
}

// Step is one participant interaction. Invoke and Compensate build the
// command to dispatch for the forward and compensating directions; either
// may be nil for a step with no corresponding action (a purely local step,
// or one with nothing to undo).
type Step[D any] struct {
	Name       string
	Participant string
	Invoke     func(data D) (commandType string, body []byte, err error)
	Compensate func(data D) (commandType string, body []byte, err error)
}

// Definition is a named, ordered list of steps executed by one saga type.
type Definition[D any] struct {
	Type  string
	Steps []Step[D]
}

// Coordinator executes a Definition against durable SagaInstance state. It
// dispatches commands and consumes replies strictly through the outbox and
// the participant reply topic so that every effect is atomic with a state
// transition.
type Coordinator[D any] struct {
	def     Definition[D]
	repo    domain.SagaRepository
	outbox  domain.OutboxWriter
	decode  func([]byte) (D, error)
	encode  func(D) ([]byte, error)
	replyTo string
}

// New constructs a Coordinator for def.
func New[D any](def Definition[D], repo domain.SagaRepository, outbox domain.OutboxWriter, replyTo string, decode func([]byte) (D, error), encode func(D) ([]byte, error)) *Coordinator[D] {
	return &Coordinator[D]{def: def, repo: repo, outbox: outbox, decode: decode, encode: encode, replyTo: replyTo}
}

// Start creates a new saga instance keyed by sagaID and dispatches its
// first step.
func (c *Coordinator[D]) Start(ctx domain.Context, sagaID string, data D) error {
	body, err := c.encode(data)
	if err != nil {
		return fmt.Errorf("op=saga.Start: encode: %w", err)
	}
	inst := domain.SagaInstance{
		SagaType:           c.def.Type,
		SagaID:             sagaID,
		CurrentlyExecuting: -1,
		Data:               body,
	}
	if err := c.repo.Save(ctx, inst); err != nil {
		return fmt.Errorf("op=saga.Start: %w", err)
	}
	return c.advance(ctx, inst, Forward)
}

// HandleReply processes a reply correlated by headers, advancing the saga
// forward on success or beginning/continuing compensation on failure. A
// reply whose RequestID does not match the instance's LastRequestID is a
// duplicate or stale redelivery and is ignored, which is what makes reply
// handling idempotent under at-least-once bus delivery.
func (c *Coordinator[D]) HandleReply(ctx domain.Context, reply domain.ReplyEnvelope) error {
	inst, err := c.repo.Get(ctx, reply.Headers.SagaType, reply.Headers.SagaID)
	if err != nil {
		return fmt.Errorf("op=saga.HandleReply: %w", err)
	}
	if inst.Terminal() {
		return nil
	}
	if reply.Headers.RequestID != inst.LastRequestID {
		return nil
	}

	direction := Forward
	if inst.Compensating {
		direction = Backward
	}

	if !reply.Succeed {
		if direction == Forward {
			direction = Backward
			inst.Compensating = true
			observability.RecordSagaStep(c.def.Type, c.def.Steps[inst.CurrentlyExecuting].Name, "compensate-start")
		} else {
			// A compensation itself failed: park for manual resolution rather
			// than leaving the saga silently stuck.
			inst.Failed = true
			inst.EndState = true
			if err := c.repo.Save(ctx, inst); err != nil {
				return fmt.Errorf("op=saga.HandleReply: %w", err)
			}
			observability.RecordSagaOutcome(c.def.Type, "parked")
			return domain.ErrCompensationFailed
		}
	}

	return c.advance(ctx, inst, direction)
}

// advance moves inst one step in direction, dispatching the next step's
// command, or finalizes the saga once it walks off either end.
func (c *Coordinator[D]) advance(ctx domain.Context, inst domain.SagaInstance, direction Direction) error {
	next := inst.CurrentlyExecuting
	if direction == Forward {
		next++
	} else {
		next--
	}

	if next < 0 || next >= int32(len(c.def.Steps)) {
		inst.CurrentlyExecuting = next
		inst.EndState = true
		if err := c.repo.Save(ctx, inst); err != nil {
			return fmt.Errorf("op=saga.advance: %w", err)
		}
		outcome := "succeeded"
		if inst.Compensating {
			outcome = "rolled_back"
		}
		observability.RecordSagaOutcome(c.def.Type, outcome)
		return nil
	}

	step := c.def.Steps[next]
	var build func(D) (string, []byte, error)
	if direction == Forward {
		build = step.Invoke
	} else {
		build = step.Compensate
	}

	inst.CurrentlyExecuting = next
	if build == nil {
		// No action for this step in this direction: treat as immediately
		// successful and keep walking.
		observability.RecordSagaStep(c.def.Type, step.Name, direction.String()+":skip")
		return c.advance(ctx, inst, direction)
	}

	data, err := c.decode(inst.Data)
	if err != nil {
		return fmt.Errorf("op=saga.advance: decode: %w", err)
	}
	cmdType, body, err := build(data)
	if err != nil {
		return fmt.Errorf("op=saga.advance: build command: %w", err)
	}

	requestID := uuid.NewString()
	inst.LastRequestID = requestID
	if err := c.repo.Save(ctx, inst); err != nil {
		return fmt.Errorf("op=saga.advance: %w", err)
	}

	envelope := domain.CommandEnvelope{
		Headers: domain.Headers{
			SagaType:  c.def.Type,
			SagaID:    inst.SagaID,
			RequestID: requestID,
		},
		ReplyChannel: c.replyTo,
		Type:         cmdType,
		Body:         body,
	}
	payload, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("op=saga.advance: marshal envelope: %w", err)
	}
	if err := c.outbox.Enqueue(ctx, step.Participant, inst.SagaID, payload); err != nil {
		return fmt.Errorf("op=saga.advance: %w", err)
	}
	observability.RecordSagaStep(c.def.Type, step.Name, direction.String())
	return nil
}
