package channels

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/cyclopcam/logs"
	"github.com/stretchr/testify/require"
	"github.com/vigilcam/vigil/server/alerts"
	"github.com/vigilcam/vigil/server/configdb"
	"github.com/vigilcam/vigil/server/defs"
	"github.com/vigilcam/vigil/server/source"
)

type registryFixture struct {
	registry *Registry
	engine   *alerts.Engine
	sources  map[int64]*stubSource
}

func setupRegistry(t *testing.T) *registryFixture {
	t.Helper()
	log := logs.NewTestingLog(t)
	configDB, err := configdb.NewConfigDB(log, filepath.Join(t.TempDir(), "config.sqlite"))
	require.NoError(t, err)
	engine := alerts.NewEngine(log)
	t.Cleanup(engine.Close)
	capability := &fakeCapability{}
	r := NewRegistry(log, configDB, engine, capability, capability)
	t.Cleanup(r.Close)
	f := &registryFixture{
		registry: r,
		engine:   engine,
		sources:  map[int64]*stubSource{},
	}
	r.newSource = func(logger logs.Log, cfg *configdb.Channel) (source.Source, error) {
		src := newStubSource()
		f.sources[cfg.ID] = src
		return src, nil
	}
	return f
}

func TestRegistryAddStartStopRemove(t *testing.T) {
	f := setupRegistry(t)
	r := f.registry

	added, err := r.AddChannel(testChannelConfig(0, "lobby"))
	require.NoError(t, err)
	require.NotZero(t, added.ID)

	// A new channel is Idle until started
	snap, err := r.ChannelSnapshot(added.ID)
	require.NoError(t, err)
	require.Equal(t, defs.ChannelIdle, snap.State)

	require.NoError(t, r.StartChannel(added.ID))
	// Starting an already-running channel is a no-op
	require.NoError(t, r.StartChannel(added.ID))
	require.Len(t, f.sources, 1)

	f.sources[added.ID].push(time.Now(), 2)
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		snap, err = r.ChannelSnapshot(added.ID)
		require.NoError(t, err)
		if snap.State == defs.ChannelActive && snap.PeopleCount == 2 {
			break
		}
		time.Sleep(time.Millisecond)
	}
	require.Equal(t, defs.ChannelActive, snap.State)
	require.Equal(t, 2, snap.PeopleCount)
	require.Equal(t, 2, r.TotalPeopleCount())

	require.NoError(t, r.StopChannel(added.ID))
	snap, err = r.ChannelSnapshot(added.ID)
	require.NoError(t, err)
	require.Equal(t, defs.ChannelStopped, snap.State)
	// Stopping a stopped channel is a no-op
	require.NoError(t, r.StopChannel(added.ID))

	require.NoError(t, r.RemoveChannel(added.ID))
	_, err = r.ChannelSnapshot(added.ID)
	require.True(t, IsNotFound(err))
}

func TestRegistryRemoveRunningChannel(t *testing.T) {
	f := setupRegistry(t)
	r := f.registry

	added, err := r.AddChannel(testChannelConfig(0, "lobby"))
	require.NoError(t, err)
	require.NoError(t, r.StartChannel(added.ID))

	// Removing a running channel force-stops it first
	require.NoError(t, r.RemoveChannel(added.ID))
	snaps, err := r.Snapshot()
	require.NoError(t, err)
	require.Empty(t, snaps)
}

func TestRegistryValidation(t *testing.T) {
	f := setupRegistry(t)
	r := f.registry

	bad := testChannelConfig(0, "")
	_, err := r.AddChannel(bad)
	require.Error(t, err)

	bad = testChannelConfig(0, "lobby")
	bad.Kind = defs.SourceRTSP
	bad.Host = ""
	_, err = r.AddChannel(bad)
	require.Error(t, err)

	// Nothing was persisted
	snaps, err := r.Snapshot()
	require.NoError(t, err)
	require.Empty(t, snaps)
}

func TestRegistryUnknownChannel(t *testing.T) {
	f := setupRegistry(t)
	r := f.registry

	require.True(t, IsNotFound(r.StartChannel(999)))
	require.True(t, IsNotFound(r.StopChannel(999)))
	require.True(t, IsNotFound(r.RemoveChannel(999)))
	require.True(t, IsNotFound(r.SetMode(999, defs.ModeBoth)))
}

func TestRegistrySetModeAndSensitivity(t *testing.T) {
	f := setupRegistry(t)
	r := f.registry

	added, err := r.AddChannel(testChannelConfig(0, "lobby"))
	require.NoError(t, err)

	require.NoError(t, r.SetMode(added.ID, defs.ModeCounting))
	require.NoError(t, r.SetSensitivity(added.ID, defs.SensitivityHigh))

	// Persisted
	snap, err := r.ChannelSnapshot(added.ID)
	require.NoError(t, err)
	require.Equal(t, defs.ModeCounting, snap.Mode)
	require.Equal(t, defs.SensitivityHigh, snap.Sensitivity)

	// Applied live to a running worker
	require.NoError(t, r.StartChannel(added.ID))
	require.NoError(t, r.SetMode(added.ID, defs.ModeBoth))
	snap, err = r.ChannelSnapshot(added.ID)
	require.NoError(t, err)
	require.Equal(t, defs.ModeBoth, snap.Mode)
}

// Channel isolation: one channel's source failing forever does not affect
// another channel's processing
func TestRegistryChannelIsolation(t *testing.T) {
	f := setupRegistry(t)
	r := f.registry

	good, err := r.AddChannel(testChannelConfig(0, "good"))
	require.NoError(t, err)
	bad, err := r.AddChannel(testChannelConfig(0, "bad"))
	require.NoError(t, err)

	r.newSource = func(logger logs.Log, cfg *configdb.Channel) (source.Source, error) {
		src := newStubSource()
		if cfg.ID == bad.ID {
			src.failConnects = 1 << 30
		}
		f.sources[cfg.ID] = src
		return src, nil
	}

	require.NoError(t, r.StartChannel(good.ID))
	require.NoError(t, r.StartChannel(bad.ID))

	f.sources[good.ID].push(time.Now(), 1)
	deadline := time.Now().Add(5 * time.Second)
	var goodSnap, badSnap Snapshot
	for time.Now().Before(deadline) {
		goodSnap, _ = r.ChannelSnapshot(good.ID)
		badSnap, _ = r.ChannelSnapshot(bad.ID)
		if goodSnap.State == defs.ChannelActive && badSnap.State == defs.ChannelError {
			break
		}
		time.Sleep(time.Millisecond)
	}
	require.Equal(t, defs.ChannelActive, goodSnap.State)
	require.Equal(t, 1, goodSnap.PeopleCount)
	require.Equal(t, defs.ChannelError, badSnap.State)
	require.NotEmpty(t, badSnap.LastError)
}

func TestRegistryUpdateChannel(t *testing.T) {
	f := setupRegistry(t)
	r := f.registry

	added, err := r.AddChannel(testChannelConfig(0, "lobby"))
	require.NoError(t, err)

	// Analysis-only changes are allowed while running
	require.NoError(t, r.StartChannel(added.ID))
	update := *added
	update.Sensitivity = defs.SensitivityLow
	require.NoError(t, r.UpdateChannel(&update))

	// Connection changes require a stop first
	update.Path = "/tmp/other"
	require.Error(t, r.UpdateChannel(&update))
	require.NoError(t, r.StopChannel(added.ID))
	require.NoError(t, r.UpdateChannel(&update))
}
