package pose

import (
	"context"
	"errors"
)

// Package pose defines the data contracts of the external neural network
// capabilities (person detection and pose estimation). The engine consumes
// these as black boxes; actual inference lives behind the two interfaces.

// ErrDetectionUnavailable means the capability failed to initialize, or has
// errored so persistently that callers should fall back to degraded behaviour.
var ErrDetectionUnavailable = errors.New("detection capability unavailable")

// Joint is a named COCO-17 body joint
type Joint int

const (
	JointNose Joint = iota
	JointLeftEye
	JointRightEye
	JointLeftEar
	JointRightEar
	JointLeftShoulder
	JointRightShoulder
	JointLeftElbow
	JointRightElbow
	JointLeftWrist
	JointRightWrist
	JointLeftHip
	JointRightHip
	JointLeftKnee
	JointRightKnee
	JointLeftAnkle
	JointRightAnkle
	NumJoints
)

var jointNames = [NumJoints]string{
	"nose", "leftEye", "rightEye", "leftEar", "rightEar",
	"leftShoulder", "rightShoulder", "leftElbow", "rightElbow",
	"leftWrist", "rightWrist", "leftHip", "rightHip",
	"leftKnee", "rightKnee", "leftAnkle", "rightAnkle",
}

func (j Joint) String() string {
	if j < 0 || j >= NumJoints {
		return "invalid"
	}
	return jointNames[j]
}

// Keypoint is the estimated position of one joint.
// Confidence is 0..1. A confidence of zero means the joint was not observed at all.
type Keypoint struct {
	X          float32 `json:"x"`
	Y          float32 `json:"y"`
	Confidence float32 `json:"confidence"`
}

// PersonObservation is one detected person within one frame
type PersonObservation struct {
	Box        Rect                `json:"box"`
	Confidence float32             `json:"confidence"`
	Keypoints  [NumJoints]Keypoint `json:"keypoints"`
	TrackID    int64               `json:"trackID,omitempty"` // Stable across frames if a tracker is available. Zero when untracked.
}

// Keypoint returns the keypoint for joint j, and whether its confidence reaches minConfidence
func (p *PersonObservation) Keypoint(j Joint, minConfidence float32) (Keypoint, bool) {
	kp := p.Keypoints[j]
	return kp, kp.Confidence >= minConfidence
}

// NumConfidentKeypoints returns the number of joints at or above minConfidence
func (p *PersonObservation) NumConfidentKeypoints(minConfidence float32) int {
	n := 0
	for i := 0; i < int(NumJoints); i++ {
		if p.Keypoints[i].Confidence >= minConfidence {
			n++
		}
	}
	return n
}

// PersonDetector finds people in an image.
// The image payload is opaque to the engine - it is whatever the frame source
// produced, and interpreting it is the capability's problem.
type PersonDetector interface {
	// Close releases the capability (may be backed by native resources)
	Close()
	// DetectPersons returns zero or more people found in the image.
	// Implementations return ErrDetectionUnavailable (possibly wrapped) when
	// the capability is gone for good, as opposed to a transient per-frame failure.
	DetectPersons(ctx context.Context, image []byte) ([]PersonObservation, error)
}

// PoseEstimator fills in the pose keypoints of previously detected people.
// Some capabilities produce boxes and keypoints in a single call, in which
// case the same object implements both interfaces and EstimatePose is a no-op.
type PoseEstimator interface {
	Close()
	// EstimatePose returns the input observations with Keypoints populated.
	// Observations whose pose could not be estimated are returned with all
	// keypoint confidences at zero.
	EstimatePose(ctx context.Context, image []byte, people []PersonObservation) ([]PersonObservation, error)
}
