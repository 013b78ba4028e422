//go:build integration

package integration

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ftgo/backbone/internal/domain"
	espg "github.com/ftgo/backbone/internal/eventstore/postgres"
)

func TestEventStore_AppendConditions(t *testing.T) {
	pool := startPostgres(t)
	store := espg.New(pool)
	ctx := context.Background()

	stream := "Account-cond-1"
	ev := []domain.NewEvent{{Metadata: domain.EventMetadata{EventType: "AccountOpened"}, Payload: []byte(`{}`)}}

	seqs, err := store.Append(ctx, stream, ev, domain.ExpectNoStream())
	require.NoError(t, err)
	require.Equal(t, []int64{0}, seqs)

	_, err = store.Append(ctx, stream, ev, domain.ExpectNoStream())
	require.Error(t, err)
	require.ErrorAs(t, err, new(*domain.ErrAppendConditionFailed))

	_, err = store.Append(ctx, stream, ev, domain.ExpectSequence(5))
	require.Error(t, err)
	require.ErrorAs(t, err, new(*domain.ErrAppendConditionFailed))

	seqs, err = store.Append(ctx, stream, ev, domain.ExpectSequence(0))
	require.NoError(t, err)
	require.Equal(t, []int64{1}, seqs)

	_, err = store.Append(ctx, "Account-never-appended", ev, domain.ExpectStreamExists())
	require.Error(t, err)
	require.ErrorAs(t, err, new(*domain.ErrAppendConditionFailed))

	events, err := store.ReadStream(ctx, stream)
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, int64(0), events[0].Sequence)
	require.Equal(t, int64(1), events[1].Sequence)
}

// TestEventStore_ConcurrentAppendersSerializeOnStreamLock fires N
// goroutines at the same stream under ExpectNoStream, i.e. all racing to
// be the stream's first event. Exactly one wins; the rest fail, either with
// ErrAppendConditionFailed (they locked the header after the winner
// committed) or with a unique-violation error on the stream-header insert
// (they raced the winner to create it). Either way the stream never holds
// two events at sequence 0.
func TestEventStore_ConcurrentAppendersSerializeOnStreamLock(t *testing.T) {
	pool := startPostgres(t)
	store := espg.New(pool)
	ctx := context.Background()
	stream := "Account-race-1"

	const n = 8
	var wg sync.WaitGroup
	results := make([]error, n)
	for i := 0; i < n; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			ev := []domain.NewEvent{{Metadata: domain.EventMetadata{EventType: "AccountOpened"}, Payload: []byte(`{}`)}}
			_, results[i] = store.Append(ctx, stream, ev, domain.ExpectNoStream())
		}()
	}
	wg.Wait()

	successes := 0
	for _, err := range results {
		if err == nil {
			successes++
		}
	}
	require.Equal(t, 1, successes, "exactly one racing ExpectNoStream append should win the stream")

	events, err := store.ReadStream(ctx, stream)
	require.NoError(t, err)
	require.Len(t, events, 1)
}
