package classify

import (
	"time"

	"github.com/chewxy/math32"
	"github.com/vigilcam/vigil/pkg/pose"
	"github.com/vigilcam/vigil/server/defs"
)

// Package classify turns pose observations into action events.
// Classification is a pure function of (observation, sensitivity): no state
// is carried between frames, and the same frame always classifies the same way.

// Event is one suspicious action observed on one person in one frame
type Event struct {
	ChannelID  int64           `json:"channelID"`
	ActionType defs.ActionType `json:"actionType"`
	Severity   defs.Severity   `json:"severity"`
	Timestamp  time.Time       `json:"timestamp"`
	TrackID    int64           `json:"trackID,omitempty"` // Zero when the person is untracked
}

// Keypoints below this confidence are treated as unobserved.
// A rule whose keypoints are unobserved is suppressed for that person - no
// event, but also no "safe" classification.
const MinKeypointConfidence = 0.3

// People with fewer confident keypoints than this are not classified at all
const minConfidentKeypoints = 5

// Rule thresholds at Medium sensitivity. Sensitivity multiplies these, so
// High sensitivity shrinks them and catches more borderline poses.
const (
	fallDropFraction       = 0.2  // Head below shoulder midpoint by this fraction of box height
	handsUpMarginFraction  = 0.05 // Both wrists above the head by this fraction of torso height
	aggressiveAngleDegrees = 60   // Both upper arms lifted beyond this angle from hanging vertical
	crouchFraction         = 0.5  // Hip-to-knee vertical distance below this fraction of torso height
)

// ClassifyFrame classifies every person in a frame.
// The returned people count is the number of observations, independent of
// whether any pose data was usable.
func ClassifyFrame(channelID int64, people []pose.PersonObservation, sensitivity defs.Sensitivity, now time.Time) (int, []Event) {
	events := []Event{}
	for i := range people {
		for _, action := range ClassifyPerson(&people[i], sensitivity) {
			events = append(events, Event{
				ChannelID:  channelID,
				ActionType: action,
				Severity:   action.Severity(),
				Timestamp:  now,
				TrackID:    people[i].TrackID,
			})
		}
	}
	return len(people), events
}

// ClassifyPerson returns the actions that one person's pose triggers.
// Each action type can fire at most once; distinct types can fire together.
func ClassifyPerson(p *pose.PersonObservation, sensitivity defs.Sensitivity) []defs.ActionType {
	if p.NumConfidentKeypoints(MinKeypointConfidence) < minConfidentKeypoints {
		return nil
	}
	mult := sensitivity.Multiplier()
	actions := []defs.ActionType{}
	if isFall(p, mult) {
		actions = append(actions, defs.ActionFall)
	}
	if isHandsUp(p) {
		actions = append(actions, defs.ActionHandsUp)
	}
	if isAggressiveStance(p, mult) {
		actions = append(actions, defs.ActionAggressiveStance)
	}
	if isCrouch(p, mult) {
		actions = append(actions, defs.ActionCrouch)
	}
	return actions
}

// torsoHeight returns the vertical distance from the shoulder midpoint to the
// hip midpoint, or (0, false) if any of the four joints is unobserved.
func torsoHeight(p *pose.PersonObservation) (float32, bool) {
	ls, ok1 := p.Keypoint(pose.JointLeftShoulder, MinKeypointConfidence)
	rs, ok2 := p.Keypoint(pose.JointRightShoulder, MinKeypointConfidence)
	lh, ok3 := p.Keypoint(pose.JointLeftHip, MinKeypointConfidence)
	rh, ok4 := p.Keypoint(pose.JointRightHip, MinKeypointConfidence)
	if !ok1 || !ok2 || !ok3 || !ok4 {
		return 0, false
	}
	h := math32.Abs((lh.Y+rh.Y)/2 - (ls.Y+rs.Y)/2)
	if h <= 0 {
		return 0, false
	}
	return h, true
}

// Fall: the head drops below the shoulder midpoint by more than a fraction of
// the bounding box height. Y grows downward, so "below" means larger Y.
func isFall(p *pose.PersonObservation, mult float32) bool {
	nose, ok := p.Keypoint(pose.JointNose, MinKeypointConfidence)
	if !ok {
		return false
	}
	ls, ok1 := p.Keypoint(pose.JointLeftShoulder, MinKeypointConfidence)
	rs, ok2 := p.Keypoint(pose.JointRightShoulder, MinKeypointConfidence)
	if !ok1 || !ok2 || p.Box.Height <= 0 {
		return false
	}
	shoulderMidY := (ls.Y + rs.Y) / 2
	return nose.Y > shoulderMidY+p.Box.Height*fallDropFraction*mult
}

// HandsUp: both wrists above the head by a minimum margin.
// The margin is fixed - a surrender pose is unambiguous at any sensitivity.
func isHandsUp(p *pose.PersonObservation) bool {
	nose, ok := p.Keypoint(pose.JointNose, MinKeypointConfidence)
	if !ok {
		return false
	}
	lw, ok1 := p.Keypoint(pose.JointLeftWrist, MinKeypointConfidence)
	rw, ok2 := p.Keypoint(pose.JointRightWrist, MinKeypointConfidence)
	if !ok1 || !ok2 {
		return false
	}
	torso, ok := torsoHeight(p)
	if !ok {
		return false
	}
	margin := torso * handsUpMarginFraction
	return lw.Y < nose.Y-margin && rw.Y < nose.Y-margin
}

// AggressiveStance: both upper arms lifted away from the torso beyond an
// extension angle (guarding/punching posture). Angle is measured between the
// shoulder-to-elbow vector and hanging-straight-down.
func isAggressiveStance(p *pose.PersonObservation, mult float32) bool {
	left, ok := upperArmAngle(p, pose.JointLeftShoulder, pose.JointLeftElbow)
	if !ok {
		return false
	}
	right, ok := upperArmAngle(p, pose.JointRightShoulder, pose.JointRightElbow)
	if !ok {
		return false
	}
	threshold := float32(aggressiveAngleDegrees) * mult
	return left > threshold && right > threshold
}

// upperArmAngle returns the angle in degrees between the shoulder-to-elbow
// vector and straight down (0 = arm hanging, 180 = arm straight up)
func upperArmAngle(p *pose.PersonObservation, shoulder, elbow pose.Joint) (float32, bool) {
	s, ok1 := p.Keypoint(shoulder, MinKeypointConfidence)
	e, ok2 := p.Keypoint(elbow, MinKeypointConfidence)
	if !ok1 || !ok2 {
		return 0, false
	}
	dx := e.X - s.X
	dy := e.Y - s.Y
	if dx == 0 && dy == 0 {
		return 0, false
	}
	// Down is +Y. atan2 of the horizontal component against the downward component.
	angle := math32.Atan2(math32.Abs(dx), dy) * 180 / math32.Pi
	return angle, true
}

// Crouch: hip-to-knee vertical distance collapses below a fraction of torso
// height, which is our standing reference
func isCrouch(p *pose.PersonObservation, mult float32) bool {
	lh, ok1 := p.Keypoint(pose.JointLeftHip, MinKeypointConfidence)
	rh, ok2 := p.Keypoint(pose.JointRightHip, MinKeypointConfidence)
	lk, ok3 := p.Keypoint(pose.JointLeftKnee, MinKeypointConfidence)
	rk, ok4 := p.Keypoint(pose.JointRightKnee, MinKeypointConfidence)
	if !ok1 || !ok2 || !ok3 || !ok4 {
		return false
	}
	torso, ok := torsoHeight(p)
	if !ok {
		return false
	}
	hipToKnee := (lk.Y+rk.Y)/2 - (lh.Y+rh.Y)/2
	return hipToKnee < torso*crouchFraction*mult
}
