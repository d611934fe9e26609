package nethealth

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTransitions(t *testing.T) {
	h := New()
	assert.False(t, h.Degraded())
	assert.Equal(t, ModeRemote, h.Mode())
	assert.Equal(t, uint64(0), h.Epoch())

	assert.True(t, h.MarkUnavailable())
	assert.False(t, h.MarkUnavailable(), "second mark is not a change")
	assert.True(t, h.Degraded())
	assert.Equal(t, ModeFallback, h.Mode())
	assert.Equal(t, uint64(1), h.Epoch())

	// Going offline during the same outage keeps the epoch.
	assert.True(t, h.SetOnline(false))
	assert.Equal(t, uint64(1), h.Epoch())

	assert.True(t, h.MarkAvailable())
	assert.True(t, h.Degraded(), "still offline")
	assert.True(t, h.SetOnline(true))
	assert.False(t, h.Degraded())

	h.MarkUnavailable()
	assert.Equal(t, uint64(2), h.Epoch(), "new outage, new epoch")
}

func TestOnChangeFiresOnlyOnModeTransitions(t *testing.T) {
	h := New()
	var seen []bool
	h.OnChange(func(degraded bool) { seen = append(seen, degraded) })

	h.MarkUnavailable()
	h.SetOnline(false)
	h.MarkAvailable()
	h.SetOnline(true)

	assert.Equal(t, []bool{true, false}, seen)
}
