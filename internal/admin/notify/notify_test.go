package notify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueDrain(t *testing.T) {
	q := New(0)
	assert.Empty(t, q.Drain())

	q.Push(LevelError, "Invalid code", "invalid_token")
	q.Push(LevelSuccess, "Signed in", "")

	got := q.Drain()
	require.Len(t, got, 2)
	assert.Equal(t, LevelError, got[0].Level)
	assert.Equal(t, "invalid_token", got[0].Code)
	assert.Equal(t, 0, q.Len())
}

func TestQueueDropsOldest(t *testing.T) {
	q := New(2)
	q.Push(LevelInfo, "one", "")
	q.Push(LevelInfo, "two", "")
	q.Push(LevelInfo, "three", "")

	got := q.Drain()
	require.Len(t, got, 2)
	assert.Equal(t, "two", got[0].Message)
	assert.Equal(t, "three", got[1].Message)
}

func TestWarnDegradedOncePerEpoch(t *testing.T) {
	q := New(0)

	assert.False(t, q.WarnDegraded(0, "never degraded"))
	assert.True(t, q.WarnDegraded(1, "offline"))
	assert.False(t, q.WarnDegraded(1, "offline"))
	assert.False(t, q.WarnDegraded(1, "offline"))
	assert.True(t, q.WarnDegraded(2, "offline again"))

	got := q.Drain()
	require.Len(t, got, 2)
	assert.Equal(t, LevelWarning, got[0].Level)
	assert.Equal(t, "offline again", got[1].Message)
}

func TestWarnFallbackOncePerEpoch(t *testing.T) {
	q := New(0)

	assert.True(t, q.WarnFallback(0, "saved locally"))
	assert.False(t, q.WarnFallback(0, "saved locally"))
	assert.True(t, q.WarnDegraded(1, "offline"), "an outage still gets its own warning")
	assert.True(t, q.WarnFallback(1, "saved locally again"))
	assert.False(t, q.WarnFallback(1, "saved locally again"))

	got := q.Drain()
	require.Len(t, got, 3)
	for _, n := range got {
		assert.Equal(t, LevelWarning, n.Level)
		assert.Equal(t, "store_unavailable", n.Code)
	}
}
