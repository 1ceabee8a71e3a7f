package queue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDelayGrowsWithAttempts(t *testing.T) {
	t.Parallel()

	b := NewExponentialBackoff(100*time.Millisecond, 5*time.Second)

	for attempt := 1; attempt <= 6; attempt++ {
		delay := b.Delay(attempt)
		require.Positive(t, delay)
		require.LessOrEqual(t, delay, 5*time.Second)
	}

	// The deterministic half of the delay doubles per attempt, so later
	// attempts can never undershoot the first one's floor.
	require.GreaterOrEqual(t, b.Delay(4), 100*time.Millisecond/2)
}

func TestDelayClampsAtMax(t *testing.T) {
	t.Parallel()

	b := NewExponentialBackoff(time.Second, 2*time.Second)
	for i := 0; i < 10; i++ {
		require.LessOrEqual(t, b.Delay(10), 2*time.Second)
	}
}

func TestDelayNormalizesBadInputs(t *testing.T) {
	t.Parallel()

	b := NewExponentialBackoff(0, 0)
	require.Positive(t, b.Delay(0))
	require.Positive(t, b.Delay(-3))
}
