package alerts

import (
	"sync"
	"time"

	"github.com/bmharper/ringbuffer"
	"github.com/cyclopcam/logs"
	"github.com/google/uuid"
	"github.com/vigilcam/vigil/pkg/gen"
	"github.com/vigilcam/vigil/server/classify"
	"github.com/vigilcam/vigil/server/defs"
)

// Engine is the single shared consumer of action events from all channels.
// It deduplicates events by (channel, action type), applies cooldown windows,
// and pushes the surviving alerts into a bounded most-recent feed plus any
// registered watcher channels. One Engine exists per process.
type Engine struct {
	ShutdownComplete chan bool // Closed when the engine has drained and stopped

	log   logs.Log
	input chan inputEvent

	// Dedup state. Owned by the run goroutine; the lock exists only so that
	// diagnostics and channel teardown can peek in from outside.
	statesLock sync.Mutex
	states     map[dedupKey]*alertState

	feedLock sync.Mutex
	feed     ringbuffer.RingP[*Alert]

	watchersLock sync.RWMutex
	watchers     []chan *Alert
}

// Alert is one emitted alert, as seen by the dashboard feed
type Alert struct {
	ID         string          `json:"id"`
	ChannelID  int64           `json:"channelID"`
	ActionType defs.ActionType `json:"actionType"`
	Severity   defs.Severity   `json:"severity"`
	Timestamp  time.Time       `json:"timestamp"`
	TrackID    int64           `json:"trackID,omitempty"`
	Test       bool            `json:"test,omitempty"` // True for operator-injected test alerts
	// Number of identical events that were suppressed between the previous
	// emission for this dedup key and this one
	SuppressedBefore int64 `json:"suppressedBefore"`
}

type dedupKey struct {
	channelID int64
	action    defs.ActionType
}

// Live per-key dedup state. Created on the first event for a key, kept until
// the channel stops.
type alertState struct {
	lastEmitted     time.Time
	suppressedCount int64
	cooldown        time.Duration
}

type inputEvent struct {
	ev          classify.Event
	sensitivity defs.Sensitivity
	test        bool
}

const inputQueueSize = 256

// Capacity of the most-recent alert feed. Ring sizes must be powers of two,
// so "roughly 500" becomes 512.
const feedCapacity = 512

const watcherChannelSize = 64

func NewEngine(logger logs.Log) *Engine {
	e := &Engine{
		ShutdownComplete: make(chan bool),
		log:              logs.NewPrefixLogger(logger, "Alerts:"),
		input:            make(chan inputEvent, inputQueueSize),
		states:           map[dedupKey]*alertState{},
		feed:             ringbuffer.NewRingP[*Alert](feedCapacity),
	}
	go e.run()
	return e
}

// Close stops the engine after draining pending events
func (e *Engine) Close() {
	close(e.input)
	<-e.ShutdownComplete
}

// Submit enqueues an action event. Never blocks: if the queue is full, the
// oldest pending event is dropped to make room. Alerting is best-effort under
// overload, and a channel worker must never stall on us.
func (e *Engine) Submit(ev classify.Event, sensitivity defs.Sensitivity) {
	e.submit(inputEvent{ev: ev, sensitivity: sensitivity})
}

// SendTestAlert injects a synthetic event for operator verification.
// It bypasses the detection pipeline, but not dedup/cooldown.
func (e *Engine) SendTestAlert(channelID int64, action defs.ActionType, sensitivity defs.Sensitivity) {
	e.submit(inputEvent{
		ev: classify.Event{
			ChannelID:  channelID,
			ActionType: action,
			Severity:   action.Severity(),
			Timestamp:  time.Now(),
		},
		sensitivity: sensitivity,
		test:        true,
	})
}

func (e *Engine) submit(item inputEvent) {
	for {
		select {
		case e.input <- item:
			return
		default:
		}
		// Queue full. Drop the oldest pending event and try again.
		select {
		case <-e.input:
			e.log.Warnf("Alert input queue is full - dropping the oldest pending event")
		default:
		}
	}
}

// RemoveChannel discards all dedup state for a channel.
// Called when a channel stops or is removed; a restarted channel begins with
// a clean slate.
func (e *Engine) RemoveChannel(channelID int64) {
	e.statesLock.Lock()
	defer e.statesLock.Unlock()
	for key := range e.states {
		if key.channelID == channelID {
			delete(e.states, key)
		}
	}
}

// KeyState reports the dedup state for one (channel, action) pair.
// Diagnostics only - suppressed counts never trigger emission.
func (e *Engine) KeyState(channelID int64, action defs.ActionType) (lastEmitted time.Time, suppressed int64, ok bool) {
	e.statesLock.Lock()
	defer e.statesLock.Unlock()
	state := e.states[dedupKey{channelID, action}]
	if state == nil {
		return time.Time{}, 0, false
	}
	return state.lastEmitted, state.suppressedCount, true
}

// Recent returns up to max alerts from the feed, newest first
func (e *Engine) Recent(max int) []*Alert {
	e.feedLock.Lock()
	defer e.feedLock.Unlock()
	n := e.feed.Len()
	if max > 0 && n > max {
		n = max
	}
	out := make([]*Alert, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, e.feed.Peek(e.feed.Len()-1-i))
	}
	return out
}

// AddWatcher registers a channel that receives every emitted alert.
// Watchers that fall behind have alerts dropped, never block the engine.
func (e *Engine) AddWatcher() chan *Alert {
	e.watchersLock.Lock()
	defer e.watchersLock.Unlock()
	ch := make(chan *Alert, watcherChannelSize)
	e.watchers = append(e.watchers, ch)
	return ch
}

func (e *Engine) RemoveWatcher(ch chan *Alert) {
	e.watchersLock.Lock()
	defer e.watchersLock.Unlock()
	for i, w := range e.watchers {
		if w == ch {
			e.watchers = gen.DeleteFromSliceUnordered(e.watchers, i)
			return
		}
	}
	e.log.Warnf("RemoveWatcher failed to find channel")
}

// run is the single consumer. All dedup/cooldown decisions are serialized here.
func (e *Engine) run() {
	for item := range e.input {
		e.processEvent(item)
	}
	close(e.ShutdownComplete)
}

func (e *Engine) processEvent(item inputEvent) {
	ev := item.ev
	key := dedupKey{ev.ChannelID, ev.ActionType}

	// Cooldown scales with sensitivity: a High sensitivity operator wants to
	// hear about things more often.
	cooldown := time.Duration(float64(ev.ActionType.BaseCooldown()) * float64(item.sensitivity.Multiplier()))

	e.statesLock.Lock()
	state := e.states[key]
	if state == nil {
		state = &alertState{}
		e.states[key] = state
	}
	state.cooldown = cooldown
	emit := state.lastEmitted.IsZero() || ev.Timestamp.Sub(state.lastEmitted) >= cooldown
	suppressedBefore := state.suppressedCount
	if emit {
		state.lastEmitted = ev.Timestamp
		state.suppressedCount = 0
	} else {
		state.suppressedCount++
	}
	e.statesLock.Unlock()

	if !emit {
		return
	}

	alert := &Alert{
		ID:               uuid.NewString(),
		ChannelID:        ev.ChannelID,
		ActionType:       ev.ActionType,
		Severity:         ev.Severity,
		Timestamp:        ev.Timestamp,
		TrackID:          ev.TrackID,
		Test:             item.test,
		SuppressedBefore: suppressedBefore,
	}

	e.feedLock.Lock()
	e.feed.Add(alert)
	e.feedLock.Unlock()

	e.sendToWatchers(alert)
}

func (e *Engine) sendToWatchers(alert *Alert) {
	e.watchersLock.RLock()
	for _, ch := range e.watchers {
		if len(ch) >= cap(ch)*9/10 {
			// Safeguard against a stalled watcher. We drop alerts rather than
			// stall the engine (or the other watchers).
			e.log.Warnf("Alert watcher is falling behind - dropping alerts")
		} else {
			ch <- alert
		}
	}
	e.watchersLock.RUnlock()
}
