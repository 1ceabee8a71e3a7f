package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lensfeed/focus-collector/internal/focus"
	"github.com/lensfeed/focus-collector/internal/queue"
)

func fastConfig(maxAttempts int) Config {
	return Config{
		MaxAttempts: maxAttempts,
		Backoff:     queue.NewExponentialBackoff(time.Millisecond, 2*time.Millisecond),
	}
}

func TestQueueEnqueueDequeue(t *testing.T) {
	t.Parallel()

	q := NewQueue(4, fastConfig(3), nil)
	defer q.Close()

	job := focus.Job{RunID: "run-1", QueryID: "query-1"}
	require.NoError(t, q.Enqueue(context.Background(), job))

	got, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	require.Equal(t, "run-1", got.RunID)
	require.Equal(t, 1, got.Attempt, "zero attempt normalized to 1")
}

func TestQueueDequeueRespectsContext(t *testing.T) {
	t.Parallel()

	q := NewQueue(1, fastConfig(3), nil)
	defer q.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := q.Dequeue(ctx)
	require.Error(t, err)
}

func TestQueueNackRedelivers(t *testing.T) {
	t.Parallel()

	q := NewQueue(4, fastConfig(3), nil)
	defer q.Close()

	job := focus.Job{RunID: "run-2", Attempt: 1}
	redelivered, err := q.Nack(context.Background(), job, errors.New("boom"))
	require.NoError(t, err)
	require.True(t, redelivered)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	got, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.Equal(t, "run-2", got.RunID)
	require.Equal(t, 2, got.Attempt)
}

func TestQueueNackDeadLettersAfterMaxAttempts(t *testing.T) {
	t.Parallel()

	q := NewQueue(4, fastConfig(2), nil)
	defer q.Close()

	job := focus.Job{RunID: "run-3", Attempt: 2}
	redelivered, err := q.Nack(context.Background(), job, errors.New("still broken"))
	require.NoError(t, err)
	require.False(t, redelivered)

	dead := q.DeadLetters()
	require.Len(t, dead, 1)
	require.Equal(t, "run-3", dead[0].Job.RunID)
	require.Equal(t, "still broken", dead[0].Cause)
}

func TestQueueCloseStopsRedelivery(t *testing.T) {
	t.Parallel()

	q := NewQueue(4, Config{
		MaxAttempts: 3,
		Backoff:     queue.NewExponentialBackoff(50*time.Millisecond, 100*time.Millisecond),
	}, nil)

	redelivered, err := q.Nack(context.Background(), focus.Job{RunID: "run-4", Attempt: 1}, errors.New("x"))
	require.NoError(t, err)
	require.True(t, redelivered)

	q.Close()

	_, err = q.Dequeue(context.Background())
	require.Error(t, err, "closed queue must not deliver")
}

func TestBackoffDelayGrowsAndCaps(t *testing.T) {
	t.Parallel()

	b := queue.NewExponentialBackoff(100*time.Millisecond, 400*time.Millisecond)
	for attempt := 1; attempt <= 6; attempt++ {
		d := b.Delay(attempt)
		require.Positive(t, d)
		require.LessOrEqual(t, d, 400*time.Millisecond)
	}
}
