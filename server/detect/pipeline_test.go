package detect

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/cyclopcam/logs"
	"github.com/stretchr/testify/require"
	"github.com/vigilcam/vigil/pkg/pose"
	"github.com/vigilcam/vigil/server/source"
)

type fakeDetector struct {
	people int
	err    error
	calls  int
}

func (f *fakeDetector) Close() {}

func (f *fakeDetector) DetectPersons(ctx context.Context, image []byte) ([]pose.PersonObservation, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return make([]pose.PersonObservation, f.people), nil
}

type fakePoser struct {
	err   error
	calls int
}

func (f *fakePoser) Close() {}

func (f *fakePoser) EstimatePose(ctx context.Context, image []byte, people []pose.PersonObservation) ([]pose.PersonObservation, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make([]pose.PersonObservation, len(people))
	copy(out, people)
	for i := range out {
		out[i].Keypoints[pose.JointNose] = pose.Keypoint{X: 50, Y: 20, Confidence: 0.9}
	}
	return out, nil
}

func testFrame() *source.Frame {
	return &source.Frame{Seq: 1, Timestamp: time.Now(), Image: []byte{1, 2, 3}}
}

func TestPipelineDetectAndPose(t *testing.T) {
	detector := &fakeDetector{people: 2}
	poser := &fakePoser{}
	p := NewPipeline(logs.NewTestingLog(t), detector, poser)

	result, err := p.Detect(context.Background(), testFrame(), true)
	require.NoError(t, err)
	require.Len(t, result.People, 2)
	require.True(t, result.PoseValid)
	require.False(t, p.Degraded())
}

func TestPipelineCountingSkipsPose(t *testing.T) {
	detector := &fakeDetector{people: 2}
	poser := &fakePoser{}
	p := NewPipeline(logs.NewTestingLog(t), detector, poser)

	result, err := p.Detect(context.Background(), testFrame(), false)
	require.NoError(t, err)
	require.Len(t, result.People, 2)
	require.False(t, result.PoseValid)
	require.Zero(t, poser.calls)
}

// Losing the pose capability degrades to counting-only: the people count
// keeps flowing, keypoints stop, and the frame does not fail
func TestPipelinePoseDegradation(t *testing.T) {
	detector := &fakeDetector{people: 3}
	poser := &fakePoser{err: fmt.Errorf("%w: model not loaded", pose.ErrDetectionUnavailable)}
	p := NewPipeline(logs.NewTestingLog(t), detector, poser)

	result, err := p.Detect(context.Background(), testFrame(), true)
	require.NoError(t, err)
	require.Len(t, result.People, 3)
	require.False(t, result.PoseValid)
	require.True(t, p.Degraded())

	// The degraded pipeline never calls the poser again
	result, err = p.Detect(context.Background(), testFrame(), true)
	require.NoError(t, err)
	require.Len(t, result.People, 3)
	require.False(t, result.PoseValid)
	require.Equal(t, 1, poser.calls)
}

// Losing person detection entirely degrades to a constant zero count
func TestPipelineDetectorDegradation(t *testing.T) {
	detector := &fakeDetector{err: fmt.Errorf("%w: sidecar gone", pose.ErrDetectionUnavailable)}
	p := NewPipeline(logs.NewTestingLog(t), detector, &fakePoser{})

	result, err := p.Detect(context.Background(), testFrame(), true)
	require.NoError(t, err)
	require.Empty(t, result.People)
	require.True(t, p.Degraded())

	// Subsequent frames never hit the detector
	_, err = p.Detect(context.Background(), testFrame(), true)
	require.NoError(t, err)
	require.Equal(t, 1, detector.calls)
}

// A transient per-frame failure is an error (the frame is dropped), not a
// degradation
func TestPipelineTransientFailure(t *testing.T) {
	detector := &fakeDetector{err: fmt.Errorf("decode error")}
	p := NewPipeline(logs.NewTestingLog(t), detector, &fakePoser{})

	_, err := p.Detect(context.Background(), testFrame(), true)
	require.Error(t, err)
	require.False(t, p.Degraded())

	// The next frame is attempted normally
	detector.err = nil
	detector.people = 1
	result, err := p.Detect(context.Background(), testFrame(), false)
	require.NoError(t, err)
	require.Len(t, result.People, 1)
}

// A per-frame pose failure keeps the people count for that frame
func TestPipelinePoseTransientFailure(t *testing.T) {
	detector := &fakeDetector{people: 2}
	poser := &fakePoser{err: fmt.Errorf("decode error")}
	p := NewPipeline(logs.NewTestingLog(t), detector, poser)

	result, err := p.Detect(context.Background(), testFrame(), true)
	require.NoError(t, err)
	require.Len(t, result.People, 2)
	require.False(t, result.PoseValid)
	require.False(t, p.Degraded())
}

// Degraded is read from outside the frame loop (diagnostics), so it must be
// safe to call while frames are flowing
func TestPipelineDegradedConcurrentRead(t *testing.T) {
	detector := &fakeDetector{people: 1}
	poser := &fakePoser{err: fmt.Errorf("%w: model not loaded", pose.ErrDetectionUnavailable)}
	p := NewPipeline(logs.NewTestingLog(t), detector, poser)

	done := make(chan bool)
	go func() {
		for i := 0; i < 100; i++ {
			p.Detect(context.Background(), testFrame(), true)
		}
		close(done)
	}()
	for {
		select {
		case <-done:
			require.True(t, p.Degraded())
			return
		default:
			p.Degraded()
		}
	}
}

// A nil poser means the system supports Counting only
func TestPipelineNilPoser(t *testing.T) {
	detector := &fakeDetector{people: 1}
	p := NewPipeline(logs.NewTestingLog(t), detector, nil)

	result, err := p.Detect(context.Background(), testFrame(), true)
	require.NoError(t, err)
	require.Len(t, result.People, 1)
	require.False(t, result.PoseValid)
}
