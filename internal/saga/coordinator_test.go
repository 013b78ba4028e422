package saga

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ftgo/backbone/internal/domain"
)

type fakeData struct {
	Value string `json:"value"`
}

func decodeFakeData(b []byte) (fakeData, error) {
	var d fakeData
	err := json.Unmarshal(b, &d)
	return d, err
}

func encodeFakeData(d fakeData) ([]byte, error) { return json.Marshal(d) }

type memRepo struct {
	instances map[string]domain.SagaInstance
}

func newMemRepo() *memRepo { return &memRepo{instances: map[string]domain.SagaInstance{}} }

func (r *memRepo) key(sagaType, sagaID string) string { return sagaType + "/" + sagaID }

func (r *memRepo) Get(_ domain.Context, sagaType, sagaID string) (domain.SagaInstance, error) {
	inst, ok := r.instances[r.key(sagaType, sagaID)]
	if !ok {
		return domain.SagaInstance{}, fmt.Errorf("%w: no such saga instance", domain.ErrNotFound)
	}
	return inst, nil
}

func (r *memRepo) Save(_ domain.Context, inst domain.SagaInstance) error {
	r.instances[r.key(inst.SagaType, inst.SagaID)] = inst
	return nil
}

type outboxRow struct {
	topic, key string
	value      []byte
}

type memOutbox struct {
	rows []outboxRow
}

func (o *memOutbox) Enqueue(_ domain.Context, topic, key string, value []byte) error {
	o.rows = append(o.rows, outboxRow{topic, key, value})
	return nil
}

func threeStepDefinition(compensateMiddle bool) Definition[fakeData] {
	return Definition[fakeData]{
		Type: "test-saga",
		Steps: []Step[fakeData]{
			{
				Name:        "step-0-local",
				Participant: "local",
				// No Invoke/Compensate: purely local, immediately skipped.
			},
			{
				Name:        "step-1-remote",
				Participant: "participant-a",
				Invoke:      func(d fakeData) (string, []byte, error) { return "DoA", []byte(d.Value), nil },
				Compensate: func(d fakeData) (string, []byte, error) {
					if !compensateMiddle {
						return "", nil, nil
					}
					return "UndoA", []byte(d.Value), nil
				},
			},
			{
				Name:        "step-2-remote",
				Participant: "participant-b",
				Invoke:      func(d fakeData) (string, []byte, error) { return "DoB", []byte(d.Value), nil },
			},
		},
	}
}

func TestCoordinator_HappyPathReachesSucceeded(t *testing.T) {
	repo := newMemRepo()
	outbox := &memOutbox{}
	c := New(threeStepDefinition(true), repo, outbox, "test-saga-replies", decodeFakeData, encodeFakeData)
	ctx := context.Background()

	require.NoError(t, c.Start(ctx, "saga-1", fakeData{Value: "x"}))

	inst, err := repo.Get(ctx, "test-saga", "saga-1")
	require.NoError(t, err)
	require.Equal(t, int32(1), inst.CurrentlyExecuting) // step 0 skipped, step 1 dispatched
	require.Len(t, outbox.rows, 1)
	require.Equal(t, "participant-a", outbox.rows[0].topic)

	require.NoError(t, c.HandleReply(ctx, domain.ReplyEnvelope{
		Headers: domain.Headers{SagaType: "test-saga", SagaID: "saga-1", RequestID: inst.LastRequestID}, Succeed: true,
	}))
	inst, err = repo.Get(ctx, "test-saga", "saga-1")
	require.NoError(t, err)
	require.Equal(t, int32(2), inst.CurrentlyExecuting)
	require.Len(t, outbox.rows, 2)

	require.NoError(t, c.HandleReply(ctx, domain.ReplyEnvelope{
		Headers: domain.Headers{SagaType: "test-saga", SagaID: "saga-1", RequestID: inst.LastRequestID}, Succeed: true,
	}))
	inst, err = repo.Get(ctx, "test-saga", "saga-1")
	require.NoError(t, err)
	require.True(t, inst.Succeeded())
}

func TestCoordinator_FailureCompensatesAndRollsBack(t *testing.T) {
	repo := newMemRepo()
	outbox := &memOutbox{}
	c := New(threeStepDefinition(true), repo, outbox, "test-saga-replies", decodeFakeData, encodeFakeData)
	ctx := context.Background()

	require.NoError(t, c.Start(ctx, "saga-2", fakeData{Value: "y"}))
	inst, _ := repo.Get(ctx, "test-saga", "saga-2")
	require.NoError(t, c.HandleReply(ctx, domain.ReplyEnvelope{
		Headers: domain.Headers{SagaType: "test-saga", SagaID: "saga-2", RequestID: inst.LastRequestID}, Succeed: true,
	}))

	// Step 2 (participant-b) fails: the saga must start compensating step 1.
	inst, _ = repo.Get(ctx, "test-saga", "saga-2")
	require.NoError(t, c.HandleReply(ctx, domain.ReplyEnvelope{
		Headers: domain.Headers{SagaType: "test-saga", SagaID: "saga-2", RequestID: inst.LastRequestID}, Succeed: false,
	}))
	inst, _ = repo.Get(ctx, "test-saga", "saga-2")
	require.True(t, inst.Compensating)
	require.Equal(t, int32(1), inst.CurrentlyExecuting)

	lastRow := outbox.rows[len(outbox.rows)-1]
	require.Equal(t, "participant-a", lastRow.topic)
	var envelope domain.CommandEnvelope
	require.NoError(t, json.Unmarshal(lastRow.value, &envelope))
	require.Equal(t, "UndoA", envelope.Type)

	require.NoError(t, c.HandleReply(ctx, domain.ReplyEnvelope{
		Headers: domain.Headers{SagaType: "test-saga", SagaID: "saga-2", RequestID: inst.LastRequestID}, Succeed: true,
	}))
	inst, _ = repo.Get(ctx, "test-saga", "saga-2")
	require.True(t, inst.RolledBack())
}

func TestCoordinator_CompensationFailureParks(t *testing.T) {
	repo := newMemRepo()
	outbox := &memOutbox{}
	c := New(threeStepDefinition(true), repo, outbox, "test-saga-replies", decodeFakeData, encodeFakeData)
	ctx := context.Background()

	require.NoError(t, c.Start(ctx, "saga-3", fakeData{Value: "z"}))
	inst, _ := repo.Get(ctx, "test-saga", "saga-3")
	require.NoError(t, c.HandleReply(ctx, domain.ReplyEnvelope{
		Headers: domain.Headers{SagaType: "test-saga", SagaID: "saga-3", RequestID: inst.LastRequestID}, Succeed: true,
	}))
	inst, _ = repo.Get(ctx, "test-saga", "saga-3")
	// Forward failure only starts compensation; it is not itself an error.
	require.NoError(t, c.HandleReply(ctx, domain.ReplyEnvelope{
		Headers: domain.Headers{SagaType: "test-saga", SagaID: "saga-3", RequestID: inst.LastRequestID}, Succeed: false,
	}))

	inst, _ = repo.Get(ctx, "test-saga", "saga-3")
	err := c.HandleReply(ctx, domain.ReplyEnvelope{
		Headers: domain.Headers{SagaType: "test-saga", SagaID: "saga-3", RequestID: inst.LastRequestID}, Succeed: false,
	})
	require.ErrorIs(t, err, domain.ErrCompensationFailed)

	inst, _ = repo.Get(ctx, "test-saga", "saga-3")
	require.True(t, inst.Parked())
}

func TestCoordinator_StaleReplyIsIgnored(t *testing.T) {
	repo := newMemRepo()
	outbox := &memOutbox{}
	c := New(threeStepDefinition(true), repo, outbox, "test-saga-replies", decodeFakeData, encodeFakeData)
	ctx := context.Background()

	require.NoError(t, c.Start(ctx, "saga-4", fakeData{Value: "w"}))
	before, _ := repo.Get(ctx, "test-saga", "saga-4")

	require.NoError(t, c.HandleReply(ctx, domain.ReplyEnvelope{
		Headers: domain.Headers{SagaType: "test-saga", SagaID: "saga-4", RequestID: "not-the-current-request-id"}, Succeed: true,
	}))

	after, _ := repo.Get(ctx, "test-saga", "saga-4")
	require.Equal(t, before, after)
}
