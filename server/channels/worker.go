package channels

import (
	"context"
	"sync"
	"time"

	"github.com/cyclopcam/logs"
	"github.com/vigilcam/vigil/server/alerts"
	"github.com/vigilcam/vigil/server/classify"
	"github.com/vigilcam/vigil/server/configdb"
	"github.com/vigilcam/vigil/server/defs"
	"github.com/vigilcam/vigil/server/detect"
	"github.com/vigilcam/vigil/server/source"
)

// Worker drives one channel's full pipeline, independently of all others.
// It owns the channel's lifecycle state machine and is the only writer of the
// channel's private state. Its side effects are confined to that state and to
// enqueuing events into the shared alert engine.
type Worker struct {
	log      logs.Log
	engine   *alerts.Engine
	pipeline *detect.Pipeline
	src      source.Source

	// Minimum time between inferences. Fixed at creation.
	inferenceInterval time.Duration

	// Mutable analysis settings. SetMode/SetSensitivity update these without
	// restarting the worker.
	cfgLock     sync.Mutex
	id          int64
	name        string
	mode        defs.DetectionMode
	sensitivity defs.Sensitivity

	stateLock       sync.Mutex
	state           defs.ChannelState
	lastError       string
	peopleCount     int
	lastFrameAt     time.Time
	framesSeen      int64
	framesProcessed int64
	framesDropped   int64

	cancel  context.CancelFunc
	stopped chan bool
}

// Snapshot is the read-only view of a channel that the registry hands out
type Snapshot struct {
	ID          int64              `json:"id"`
	Name        string             `json:"name"`
	Kind        defs.SourceKind    `json:"kind"`
	Mode        defs.DetectionMode `json:"mode"`
	Sensitivity defs.Sensitivity   `json:"sensitivity"`
	State       defs.ChannelState  `json:"state"`
	PeopleCount int                `json:"peopleCount"`
	LastError   string             `json:"lastError,omitempty"`
	LastFrameAt time.Time          `json:"lastFrameAt,omitempty"`

	FramesSeen      int64 `json:"framesSeen"`
	FramesProcessed int64 `json:"framesProcessed"`
	FramesDropped   int64 `json:"framesDropped"`
}

const (
	// Process at most one frame per this interval (5 detections/second).
	// Frames arriving faster are dropped, not queued - a stale frame is
	// worthless for alerting.
	defaultInferenceInterval = 200 * time.Millisecond

	// A connected source that stays silent this long has failed
	defaultReadTimeout = 5 * time.Second

	// Consecutive read timeouts before we give up on the connection
	maxConsecutiveTimeouts = 3

	// Backoff between reconnect attempts
	backoffInitial = 1 * time.Second
	backoffCap     = 30 * time.Second

	// How long Stop waits for in-flight frame work before walking away
	stopGracePeriod = 2 * time.Second
)

// newWorker creates and starts a worker. Only the Registry does this.
// inferenceInterval of zero means the default.
func newWorker(logger logs.Log, engine *alerts.Engine, pipeline *detect.Pipeline, src source.Source, cfg *configdb.Channel, inferenceInterval time.Duration) *Worker {
	if inferenceInterval <= 0 {
		inferenceInterval = defaultInferenceInterval
	}
	ctx, cancel := context.WithCancel(context.Background())
	w := &Worker{
		log:               logs.NewPrefixLogger(logger, "Channel "+cfg.Name+":"),
		engine:            engine,
		pipeline:          pipeline,
		src:               src,
		inferenceInterval: inferenceInterval,
		id:                cfg.ID,
		name:              cfg.Name,
		mode:              cfg.Mode,
		sensitivity:       cfg.Sensitivity,
		state:             defs.ChannelConnecting,
		cancel:            cancel,
		stopped:           make(chan bool),
	}
	go w.run(ctx)
	return w
}

// Stop tears the worker down. In-flight frame work gets a bounded grace
// period to finish; after that we walk away and let the goroutine die on its
// cancelled context.
func (w *Worker) Stop() {
	w.cancel()
	select {
	case <-w.stopped:
	case <-time.After(stopGracePeriod):
		w.log.Warnf("Worker did not stop within %v. Abandoning it.", stopGracePeriod)
	}
	w.setState(defs.ChannelStopped, "")
}

func (w *Worker) Snapshot() Snapshot {
	w.cfgLock.Lock()
	mode := w.mode
	sensitivity := w.sensitivity
	w.cfgLock.Unlock()
	w.stateLock.Lock()
	defer w.stateLock.Unlock()
	return Snapshot{
		ID:              w.id,
		Name:            w.name,
		Mode:            mode,
		Sensitivity:     sensitivity,
		State:           w.state,
		PeopleCount:     w.peopleCount,
		LastError:       w.lastError,
		LastFrameAt:     w.lastFrameAt,
		FramesSeen:      w.framesSeen,
		FramesProcessed: w.framesProcessed,
		FramesDropped:   w.framesDropped,
	}
}

func (w *Worker) SetMode(mode defs.DetectionMode) {
	w.cfgLock.Lock()
	w.mode = mode
	w.cfgLock.Unlock()
}

func (w *Worker) SetSensitivity(s defs.Sensitivity) {
	w.cfgLock.Lock()
	w.sensitivity = s
	w.cfgLock.Unlock()
}

func (w *Worker) setState(state defs.ChannelState, lastError string) {
	w.stateLock.Lock()
	if w.state != state {
		w.log.Infof("State %v -> %v", w.state, state)
	}
	w.state = state
	if lastError != "" {
		w.lastError = lastError
	}
	w.stateLock.Unlock()
}

func (w *Worker) countFrame(counter *int64) {
	w.stateLock.Lock()
	*counter++
	w.stateLock.Unlock()
}

// nextBackoff doubles the delay, capped
func nextBackoff(current time.Duration) time.Duration {
	if current <= 0 {
		return backoffInitial
	}
	next := current * 2
	if next > backoffCap {
		next = backoffCap
	}
	return next
}

// run is the worker goroutine: connect, read, process, reconnect on failure,
// until the context dies.
func (w *Worker) run(ctx context.Context) {
	defer close(w.stopped)
	defer w.src.Close()

	backoff := time.Duration(0)
	for ctx.Err() == nil {
		w.setState(defs.ChannelConnecting, "")
		if err := w.src.Connect(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			backoff = nextBackoff(backoff)
			w.setState(defs.ChannelError, err.Error())
			w.log.Warnf("Connect failed: %v. Retrying in %v", err, backoff)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return
			}
			continue
		}
		backoff = 0

		if err := w.readLoop(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			w.src.Close()
			backoff = nextBackoff(backoff)
			w.setState(defs.ChannelError, err.Error())
			w.log.Warnf("Source failed: %v. Reconnecting in %v", err, backoff)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return
			}
		}
	}
}

// readLoop reads frames until the source fails or the context dies.
// Returns nil only on context cancellation.
func (w *Worker) readLoop(ctx context.Context) error {
	lastProcessed := time.Time{}
	consecutiveTimeouts := 0
	for {
		readCtx, cancel := context.WithTimeout(ctx, defaultReadTimeout)
		frame, err := w.src.ReadFrame(readCtx)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if source.IsTimeout(err) {
				// A dropped frame, not yet a dead source
				w.countFrame(&w.framesDropped)
				consecutiveTimeouts++
				if consecutiveTimeouts >= maxConsecutiveTimeouts {
					return err
				}
				continue
			}
			return err
		}
		consecutiveTimeouts = 0

		w.stateLock.Lock()
		w.framesSeen++
		firstFrame := w.state == defs.ChannelConnecting
		w.lastFrameAt = frame.Timestamp
		w.stateLock.Unlock()
		if firstFrame {
			w.setState(defs.ChannelActive, "")
		}

		// Rate limit: at most one inference per interval, newest frame wins
		if !lastProcessed.IsZero() && frame.Timestamp.Sub(lastProcessed) < w.inferenceInterval {
			w.countFrame(&w.framesDropped)
			continue
		}
		lastProcessed = frame.Timestamp

		w.processFrame(ctx, frame)
	}
}

func (w *Worker) processFrame(ctx context.Context, frame *source.Frame) {
	w.cfgLock.Lock()
	mode := w.mode
	sensitivity := w.sensitivity
	w.cfgLock.Unlock()

	wantPose := mode == defs.ModeActions || mode == defs.ModeBoth
	result, err := w.pipeline.Detect(ctx, frame, wantPose)
	if err != nil {
		// Transient inference failure (including an overrun deadline):
		// the frame is dropped, not retried
		w.countFrame(&w.framesDropped)
		return
	}

	count, events := classify.ClassifyFrame(w.id, result.People, sensitivity, frame.Timestamp)

	w.stateLock.Lock()
	w.framesProcessed++
	w.peopleCount = count
	w.stateLock.Unlock()

	if wantPose && result.PoseValid {
		for _, ev := range events {
			w.engine.Submit(ev, sensitivity)
		}
	}
}
