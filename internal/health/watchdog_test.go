package health

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatchdogSweepFlagsStaleStreams(t *testing.T) {
	registry := NewRegistry()
	clock := time.Unix(1700000000, 0)
	registry.now = func() time.Time { return clock }

	registry.Touch("ticker-spot")
	registry.Touch("kline-spot-1m")

	clock = clock.Add(31 * time.Second)
	registry.Touch("kline-spot-1m")

	logger, hook := test.NewNullLogger()
	watchdog := NewWatchdog(registry, 30*time.Second, logger)
	watchdog.sweep()

	entries := hook.AllEntries()
	require.Len(t, entries, 1, "only the silent stream is flagged")
	assert.Equal(t, logrus.WarnLevel, entries[0].Level)
	assert.Equal(t, "ticker-spot", entries[0].Data["stream"])
	assert.Equal(t, "31s", entries[0].Data["silent_for"])
}

func TestWatchdogSweepQuietWhenAllStreamsFresh(t *testing.T) {
	registry := NewRegistry()
	registry.Touch("ticker-spot")

	logger, hook := test.NewNullLogger()
	watchdog := NewWatchdog(registry, 30*time.Second, logger)
	watchdog.sweep()

	assert.Empty(t, hook.AllEntries())
}

func TestWatchdogStartSchedulesSweep(t *testing.T) {
	logger, _ := test.NewNullLogger()
	watchdog := NewWatchdog(NewRegistry(), 30*time.Second, logger)

	require.NoError(t, watchdog.Start())
	watchdog.Stop()
}
