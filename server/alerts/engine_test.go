package alerts

import (
	"testing"
	"time"

	"github.com/cyclopcam/logs"
	"github.com/stretchr/testify/require"
	"github.com/vigilcam/vigil/server/classify"
	"github.com/vigilcam/vigil/server/defs"
)

// waitFor polls until check returns true, or fails the test.
// The engine consumes asynchronously, so tests wait for effects.
func waitFor(t *testing.T, check func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if check() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("Timed out waiting for the alert engine")
}

func fallEvent(channelID int64, at time.Time) classify.Event {
	return classify.Event{
		ChannelID:  channelID,
		ActionType: defs.ActionFall,
		Severity:   defs.SeverityHigh,
		Timestamp:  at,
	}
}

func alertCount(e *Engine) int {
	return len(e.Recent(0))
}

// The canonical dedup scenario: emit at t=0, suppress at t=5s (cooldown 30s),
// emit again at t=31s with the suppressed count attached
func TestCooldown(t *testing.T) {
	e := NewEngine(logs.NewTestingLog(t))
	defer e.Close()
	base := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

	e.Submit(fallEvent(1, base), defs.SensitivityMedium)
	waitFor(t, func() bool { return alertCount(e) == 1 })

	e.Submit(fallEvent(1, base.Add(5*time.Second)), defs.SensitivityMedium)
	waitFor(t, func() bool {
		_, suppressed, ok := e.KeyState(1, defs.ActionFall)
		return ok && suppressed == 1
	})
	require.Equal(t, 1, alertCount(e))

	e.Submit(fallEvent(1, base.Add(31*time.Second)), defs.SensitivityMedium)
	waitFor(t, func() bool { return alertCount(e) == 2 })

	recent := e.Recent(0)
	require.Equal(t, int64(1), recent[0].SuppressedBefore)
	require.Equal(t, int64(0), recent[1].SuppressedBefore)

	// The suppressed count reset on emission
	_, suppressed, ok := e.KeyState(1, defs.ActionFall)
	require.True(t, ok)
	require.Equal(t, int64(0), suppressed)
}

// Distinct action types on the same channel never suppress each other
func TestDedupKeyIsPerAction(t *testing.T) {
	e := NewEngine(logs.NewTestingLog(t))
	defer e.Close()
	base := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

	e.Submit(fallEvent(1, base), defs.SensitivityMedium)
	e.Submit(classify.Event{
		ChannelID:  1,
		ActionType: defs.ActionHandsUp,
		Severity:   defs.SeverityHigh,
		Timestamp:  base,
	}, defs.SensitivityMedium)
	waitFor(t, func() bool { return alertCount(e) == 2 })
}

// Channels never suppress each other
func TestDedupKeyIsPerChannel(t *testing.T) {
	e := NewEngine(logs.NewTestingLog(t))
	defer e.Close()
	base := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

	e.Submit(fallEvent(1, base), defs.SensitivityMedium)
	e.Submit(fallEvent(2, base), defs.SensitivityMedium)
	waitFor(t, func() bool { return alertCount(e) == 2 })
}

// Sensitivity scales the cooldown window: at High (0.8) the Fall cooldown is
// 24s, so a 25s-later event emits where Medium would suppress it
func TestCooldownScalesWithSensitivity(t *testing.T) {
	e := NewEngine(logs.NewTestingLog(t))
	defer e.Close()
	base := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

	e.Submit(fallEvent(1, base), defs.SensitivityHigh)
	e.Submit(fallEvent(1, base.Add(25*time.Second)), defs.SensitivityHigh)
	waitFor(t, func() bool { return alertCount(e) == 2 })

	e.Submit(fallEvent(2, base), defs.SensitivityMedium)
	e.Submit(fallEvent(2, base.Add(25*time.Second)), defs.SensitivityMedium)
	waitFor(t, func() bool {
		_, suppressed, ok := e.KeyState(2, defs.ActionFall)
		return ok && suppressed == 1
	})
	require.Equal(t, 3, alertCount(e))
}

// Test alerts go through the same dedup/cooldown as organic events
func TestSendTestAlert(t *testing.T) {
	e := NewEngine(logs.NewTestingLog(t))
	defer e.Close()

	e.SendTestAlert(3, defs.ActionHandsUp, defs.SensitivityMedium)
	waitFor(t, func() bool { return alertCount(e) == 1 })
	recent := e.Recent(0)
	require.True(t, recent[0].Test)
	require.Equal(t, defs.ActionHandsUp, recent[0].ActionType)
	require.Equal(t, int64(3), recent[0].ChannelID)
	require.NotEmpty(t, recent[0].ID)

	// A second test alert inside the cooldown window is suppressed
	e.SendTestAlert(3, defs.ActionHandsUp, defs.SensitivityMedium)
	waitFor(t, func() bool {
		_, suppressed, ok := e.KeyState(3, defs.ActionHandsUp)
		return ok && suppressed == 1
	})
	require.Equal(t, 1, alertCount(e))
}

// RemoveChannel clears dedup state, so a restarted channel starts clean
func TestRemoveChannel(t *testing.T) {
	e := NewEngine(logs.NewTestingLog(t))
	defer e.Close()
	base := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

	e.Submit(fallEvent(1, base), defs.SensitivityMedium)
	waitFor(t, func() bool { return alertCount(e) == 1 })

	e.RemoveChannel(1)
	_, _, ok := e.KeyState(1, defs.ActionFall)
	require.False(t, ok)

	// Inside the old cooldown window, but the state is gone, so it emits
	e.Submit(fallEvent(1, base.Add(5*time.Second)), defs.SensitivityMedium)
	waitFor(t, func() bool { return alertCount(e) == 2 })
}

// The feed is bounded: oldest alerts are evicted, newest are kept
func TestFeedIsBounded(t *testing.T) {
	e := NewEngine(logs.NewTestingLog(t))
	defer e.Close()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	total := feedCapacity + 50
	for i := 0; i < total; i++ {
		// Spaced a full cooldown apart, so every event emits
		e.Submit(fallEvent(1, base.Add(time.Duration(i)*31*time.Second)), defs.SensitivityMedium)
		waitFor(t, func() bool { return alertCount(e) == min(i+1, feedCapacity) })
	}

	recent := e.Recent(0)
	require.Len(t, recent, feedCapacity)
	// Newest first
	require.Equal(t, base.Add(time.Duration(total-1)*31*time.Second), recent[0].Timestamp)

	require.Len(t, e.Recent(10), 10)
}

func TestWatchers(t *testing.T) {
	e := NewEngine(logs.NewTestingLog(t))
	defer e.Close()
	base := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

	watcher := e.AddWatcher()
	e.Submit(fallEvent(1, base), defs.SensitivityMedium)

	select {
	case alert := <-watcher:
		require.Equal(t, int64(1), alert.ChannelID)
		require.Equal(t, defs.ActionFall, alert.ActionType)
	case <-time.After(5 * time.Second):
		t.Fatal("Watcher never received the alert")
	}

	e.RemoveWatcher(watcher)
	e.Submit(fallEvent(2, base), defs.SensitivityMedium)
	waitFor(t, func() bool { return alertCount(e) == 2 })
	select {
	case <-watcher:
		t.Fatal("Removed watcher received an alert")
	default:
	}
}
