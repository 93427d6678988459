package channels

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cyclopcam/dbh"
	"github.com/cyclopcam/logs"
	"github.com/vigilcam/vigil/pkg/pose"
	"github.com/vigilcam/vigil/server/alerts"
	"github.com/vigilcam/vigil/server/configdb"
	"github.com/vigilcam/vigil/server/defs"
	"github.com/vigilcam/vigil/server/detect"
	"github.com/vigilcam/vigil/server/source"
	"gorm.io/gorm"
)

// Registry owns the set of channels and their workers.
// Configuration lives in configdb; the registry reconciles running workers
// against it. All mutations are serialized under one lock, so concurrent API
// calls cannot race a channel into an inconsistent state.
type Registry struct {
	log      logs.Log
	configDB *configdb.ConfigDB
	engine   *alerts.Engine
	detector pose.PersonDetector
	poser    pose.PoseEstimator

	// Replaceable so tests can inject stub sources
	newSource func(logger logs.Log, cfg *configdb.Channel) (source.Source, error)

	lock    sync.Mutex
	workers map[int64]*Worker
	// Minimum time between inferences for workers started after this was set.
	// Zero means the worker default.
	inferenceInterval time.Duration
	// Channels that an operator has explicitly stopped, as opposed to channels
	// that have simply never been started (Idle)
	stoppedByUser map[int64]bool
}

func NewRegistry(logger logs.Log, configDB *configdb.ConfigDB, engine *alerts.Engine, detector pose.PersonDetector, poser pose.PoseEstimator) *Registry {
	return &Registry{
		log:           logs.NewPrefixLogger(logger, "Registry:"),
		configDB:      configDB,
		engine:        engine,
		detector:      detector,
		poser:         poser,
		newSource:     source.New,
		workers:       map[int64]*Worker{},
		stoppedByUser: map[int64]bool{},
	}
}

// SetInferenceInterval sets the minimum time between inferences for workers
// started from now on. Call it before starting channels.
func (r *Registry) SetInferenceInterval(interval time.Duration) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.inferenceInterval = interval
}

// Close stops all workers
func (r *Registry) Close() {
	r.lock.Lock()
	defer r.lock.Unlock()
	for id, worker := range r.workers {
		worker.Stop()
		delete(r.workers, id)
	}
}

// AddChannel validates and persists a new channel. The channel starts Idle;
// the caller starts it explicitly.
func (r *Registry) AddChannel(cfg *configdb.Channel) (*configdb.Channel, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	r.lock.Lock()
	defer r.lock.Unlock()
	cfg.ID = 0
	now := dbh.MakeIntTime(time.Now())
	cfg.CreatedAt = now
	cfg.UpdatedAt = now
	if err := r.configDB.DB.Create(cfg).Error; err != nil {
		return nil, err
	}
	r.log.Infof("Added channel %v (%v)", cfg.Name, cfg.ID)
	return cfg, nil
}

// UpdateChannel persists changes to an existing channel.
// If only analysis settings changed (mode, sensitivity, name), a running
// worker is updated in place. Connection changes require the channel to be
// stopped first.
func (r *Registry) UpdateChannel(cfg *configdb.Channel) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	r.lock.Lock()
	defer r.lock.Unlock()
	existing, err := r.configDB.GetChannelFromID(cfg.ID)
	if err != nil {
		return err
	}
	worker := r.workers[cfg.ID]
	if worker != nil && !existing.EqualsConnection(cfg) {
		return fmt.Errorf("Channel %v is running. Stop it before changing its connection", cfg.ID)
	}
	cfg.CreatedAt = existing.CreatedAt
	cfg.UpdatedAt = dbh.MakeIntTime(time.Now())
	if err := r.configDB.DB.Save(cfg).Error; err != nil {
		return err
	}
	if worker != nil {
		worker.SetMode(cfg.Mode)
		worker.SetSensitivity(cfg.Sensitivity)
	}
	return nil
}

// RemoveChannel stops the channel if it's running, then deletes it.
// The alert engine's dedup state for the channel is discarded; alerts already
// in the feed remain.
func (r *Registry) RemoveChannel(id int64) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	if _, err := r.configDB.GetChannelFromID(id); err != nil {
		return err
	}
	if worker := r.workers[id]; worker != nil {
		worker.Stop()
		delete(r.workers, id)
	}
	delete(r.stoppedByUser, id)
	r.engine.RemoveChannel(id)
	if err := r.configDB.DB.Delete(&configdb.Channel{}, id).Error; err != nil {
		return err
	}
	r.log.Infof("Removed channel %v", id)
	return nil
}

// StartChannel starts a channel's worker. Starting an already-running channel
// is a no-op.
func (r *Registry) StartChannel(id int64) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	if r.workers[id] != nil {
		return nil
	}
	cfg, err := r.configDB.GetChannelFromID(id)
	if err != nil {
		return err
	}
	src, err := r.newSource(r.log, cfg)
	if err != nil {
		return err
	}
	pipeline := detect.NewPipeline(r.log, r.detector, r.poser)
	r.workers[id] = newWorker(r.log, r.engine, pipeline, src, cfg, r.inferenceInterval)
	delete(r.stoppedByUser, id)
	return nil
}

// StopChannel stops a channel's worker. Stopping a channel that isn't running
// is a no-op. Dedup state for the channel is discarded, so a restart begins
// with a clean slate.
func (r *Registry) StopChannel(id int64) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	worker := r.workers[id]
	if worker == nil {
		if _, err := r.configDB.GetChannelFromID(id); err != nil {
			return err
		}
		return nil
	}
	worker.Stop()
	delete(r.workers, id)
	r.stoppedByUser[id] = true
	r.engine.RemoveChannel(id)
	return nil
}

// SetMode changes a channel's detection mode, persisting it and applying it
// live to a running worker. Takes effect from the next frame.
func (r *Registry) SetMode(id int64, mode defs.DetectionMode) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	cfg, err := r.configDB.GetChannelFromID(id)
	if err != nil {
		return err
	}
	cfg.Mode = mode
	cfg.UpdatedAt = dbh.MakeIntTime(time.Now())
	if err := r.configDB.DB.Save(cfg).Error; err != nil {
		return err
	}
	if worker := r.workers[id]; worker != nil {
		worker.SetMode(mode)
	}
	return nil
}

// SetSensitivity changes a channel's sensitivity, persisting it and applying
// it live. Affects classification thresholds and alert cooldowns, not dedup
// state already accumulated.
func (r *Registry) SetSensitivity(id int64, level defs.Sensitivity) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	cfg, err := r.configDB.GetChannelFromID(id)
	if err != nil {
		return err
	}
	cfg.Sensitivity = level
	cfg.UpdatedAt = dbh.MakeIntTime(time.Now())
	if err := r.configDB.DB.Save(cfg).Error; err != nil {
		return err
	}
	if worker := r.workers[id]; worker != nil {
		worker.SetSensitivity(level)
	}
	return nil
}

// Snapshot returns the current view of all channels, sorted by ID.
// Running channels report live worker state; others are Idle or Stopped.
func (r *Registry) Snapshot() ([]Snapshot, error) {
	r.lock.Lock()
	defer r.lock.Unlock()
	configs, err := r.configDB.ListChannels()
	if err != nil {
		return nil, err
	}
	out := make([]Snapshot, 0, len(configs))
	for _, cfg := range configs {
		if worker := r.workers[cfg.ID]; worker != nil {
			snap := worker.Snapshot()
			snap.Kind = cfg.Kind
			out = append(out, snap)
			continue
		}
		state := defs.ChannelIdle
		if r.stoppedByUser[cfg.ID] {
			state = defs.ChannelStopped
		}
		out = append(out, Snapshot{
			ID:          cfg.ID,
			Name:        cfg.Name,
			Kind:        cfg.Kind,
			Mode:        cfg.Mode,
			Sensitivity: cfg.Sensitivity,
			State:       state,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ChannelSnapshot returns the view of one channel
func (r *Registry) ChannelSnapshot(id int64) (Snapshot, error) {
	r.lock.Lock()
	defer r.lock.Unlock()
	cfg, err := r.configDB.GetChannelFromID(id)
	if err != nil {
		return Snapshot{}, err
	}
	if worker := r.workers[id]; worker != nil {
		snap := worker.Snapshot()
		snap.Kind = cfg.Kind
		return snap, nil
	}
	state := defs.ChannelIdle
	if r.stoppedByUser[id] {
		state = defs.ChannelStopped
	}
	return Snapshot{
		ID:          cfg.ID,
		Name:        cfg.Name,
		Kind:        cfg.Kind,
		Mode:        cfg.Mode,
		Sensitivity: cfg.Sensitivity,
		State:       state,
	}, nil
}

// TotalPeopleCount sums the live people count over all running channels
func (r *Registry) TotalPeopleCount() int {
	r.lock.Lock()
	defer r.lock.Unlock()
	total := 0
	for _, worker := range r.workers {
		total += worker.Snapshot().PeopleCount
	}
	return total
}

// IsNotFound returns true if err means the channel doesn't exist
func IsNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
