package health

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTouchRecordsLastSeen(t *testing.T) {
	registry := NewRegistry()
	at := time.Unix(1700000000, 0)
	registry.now = func() time.Time { return at }

	_, ok := registry.LastSeen("ticker-spot")
	assert.False(t, ok, "untouched stream must be unknown")

	registry.Touch("ticker-spot")

	seen, ok := registry.LastSeen("ticker-spot")
	require.True(t, ok)
	assert.Equal(t, at, seen)
}

func TestStaleReportsSilentStreamsOnly(t *testing.T) {
	registry := NewRegistry()
	clock := time.Unix(1700000000, 0)
	registry.now = func() time.Time { return clock }

	registry.Touch("ticker-spot")
	registry.Touch("kline-spot-1m")

	clock = clock.Add(20 * time.Second)
	registry.Touch("kline-spot-1m")

	clock = clock.Add(15 * time.Second)
	stale := registry.Stale(30 * time.Second)

	require.Len(t, stale, 1)
	assert.Equal(t, 35*time.Second, stale["ticker-spot"])
}

func TestStaleBoundaryIsExclusive(t *testing.T) {
	registry := NewRegistry()
	clock := time.Unix(1700000000, 0)
	registry.now = func() time.Time { return clock }

	registry.Touch("ticker-futures")
	clock = clock.Add(30 * time.Second)

	assert.Empty(t, registry.Stale(30*time.Second), "silence equal to the threshold is not stale")

	clock = clock.Add(time.Millisecond)
	assert.Len(t, registry.Stale(30*time.Second), 1)
}
