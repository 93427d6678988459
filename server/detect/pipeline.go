package detect

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cyclopcam/logs"
	"github.com/vigilcam/vigil/pkg/pose"
	"github.com/vigilcam/vigil/server/source"
)

// Pipeline runs the external detection capabilities over one channel's frames.
// It owns the per-channel degraded-mode state: losing the pose capability
// degrades Actions/Both channels to counting-only, and losing person
// detection entirely degrades counting to a constant zero. Either way the
// channel stays up, and the degradation is logged exactly once.
type Pipeline struct {
	log         logs.Log
	detector    pose.PersonDetector
	poser       pose.PoseEstimator
	callTimeout time.Duration

	// Degraded-mode flags. The worker goroutine writes them; Degraded can be
	// called from anywhere, hence the lock.
	lock         sync.Mutex
	detectorDown bool
	poseDown     bool
}

// Result of running the pipeline over one frame
type Result struct {
	People []pose.PersonObservation
	// PoseValid is false when keypoints are absent (pose capability down or
	// not requested), in which case action classification must be skipped.
	PoseValid bool
}

const DefaultCallTimeout = 2 * time.Second

// NewPipeline creates a pipeline for one channel.
// poser may be nil when the capability set has no pose model at all; such a
// system supports Counting mode only.
func NewPipeline(logger logs.Log, detector pose.PersonDetector, poser pose.PoseEstimator) *Pipeline {
	return &Pipeline{
		log:         logger,
		detector:    detector,
		poser:       poser,
		callTimeout: DefaultCallTimeout,
	}
}

// Detect runs person detection (and pose estimation, if wantPose) on a frame.
// Transient failures are returned as errors, and the worker counts the frame
// as dropped. ErrDetectionUnavailable is absorbed here: it flips the pipeline
// into the relevant degraded mode and never fails the frame.
func (p *Pipeline) Detect(ctx context.Context, frame *source.Frame, wantPose bool) (Result, error) {
	p.lock.Lock()
	detectorDown := p.detectorDown
	poseDown := p.poseDown
	p.lock.Unlock()
	if detectorDown {
		return Result{People: nil, PoseValid: false}, nil
	}
	callCtx, cancel := context.WithTimeout(ctx, p.callTimeout)
	defer cancel()

	people, err := p.detector.DetectPersons(callCtx, frame.Image)
	if err != nil {
		if errors.Is(err, pose.ErrDetectionUnavailable) {
			p.lock.Lock()
			p.detectorDown = true
			p.lock.Unlock()
			p.log.Warnf("Person detection unavailable. Degrading to a zero people count. (%v)", err)
			return Result{}, nil
		}
		return Result{}, err
	}

	if !wantPose || len(people) == 0 {
		return Result{People: people, PoseValid: false}, nil
	}
	if p.poser == nil || poseDown {
		return Result{People: people, PoseValid: false}, nil
	}

	withPose, err := p.poser.EstimatePose(callCtx, frame.Image, people)
	if err != nil {
		if errors.Is(err, pose.ErrDetectionUnavailable) {
			p.lock.Lock()
			p.poseDown = true
			p.lock.Unlock()
			p.log.Warnf("Pose estimation unavailable. Degrading action detection to counting-only. (%v)", err)
			return Result{People: people, PoseValid: false}, nil
		}
		// Pose failed on this frame only. The people count is still good.
		return Result{People: people, PoseValid: false}, nil
	}
	return Result{People: withPose, PoseValid: true}, nil
}

// Degraded returns true if either capability has been lost.
// Safe to call concurrently with Detect.
func (p *Pipeline) Degraded() bool {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.detectorDown || p.poseDown
}
