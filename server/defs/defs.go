package defs

import (
	"fmt"
	"time"
)

// defs contains definitions that are shared by all systems

// SourceKind identifies the type of video source feeding a channel
type SourceKind string

const (
	SourceWebcam   SourceKind = "Webcam"   // Local webcam, relayed as MJPEG over HTTP on localhost
	SourceMobileIP SourceKind = "MobileIP" // Phone running an IP-camera app (MJPEG over HTTP)
	SourceRTSP     SourceKind = "RTSP"     // CCTV camera speaking RTSP
	SourceFile     SourceKind = "File"     // Frame files on disk (testing, replays)
)

var AllSourceKinds = []SourceKind{SourceWebcam, SourceMobileIP, SourceRTSP, SourceFile}

func ParseSourceKind(s string) (SourceKind, error) {
	for _, k := range AllSourceKinds {
		if s == string(k) {
			return k, nil
		}
	}
	return "", fmt.Errorf("Unknown source kind '%v'. Valid values are 'Webcam', 'MobileIP', 'RTSP' and 'File'", s)
}

// DetectionMode controls which analysis runs on a channel
type DetectionMode string

const (
	ModeCounting DetectionMode = "Counting" // People counting only
	ModeActions  DetectionMode = "Actions"  // Suspicious action detection only
	ModeBoth     DetectionMode = "Both"
)

var AllDetectionModes = []DetectionMode{ModeCounting, ModeActions, ModeBoth}

func ParseDetectionMode(s string) (DetectionMode, error) {
	for _, m := range AllDetectionModes {
		if s == string(m) {
			return m, nil
		}
	}
	return "", fmt.Errorf("Unknown detection mode '%v'. Valid values are 'Counting', 'Actions' and 'Both'", s)
}

// Sensitivity is the operator-selected scaling factor for action classification thresholds.
// Higher sensitivity narrows thresholds, catching more borderline poses.
type Sensitivity string

const (
	SensitivityLow    Sensitivity = "Low"
	SensitivityMedium Sensitivity = "Medium"
	SensitivityHigh   Sensitivity = "High"
)

var AllSensitivities = []Sensitivity{SensitivityLow, SensitivityMedium, SensitivityHigh}

func ParseSensitivity(s string) (Sensitivity, error) {
	for _, v := range AllSensitivities {
		if s == string(v) {
			return v, nil
		}
	}
	return "", fmt.Errorf("Unknown sensitivity '%v'. Valid values are 'Low', 'Medium' and 'High'", s)
}

// Multiplier returns the threshold scale factor for this sensitivity.
// Thresholds get multiplied by this, so High shrinks them.
func (s Sensitivity) Multiplier() float32 {
	switch s {
	case SensitivityLow:
		return 1.2
	case SensitivityHigh:
		return 0.8
	}
	return 1.0
}

// ChannelState is the lifecycle state of a channel
type ChannelState string

const (
	ChannelIdle       ChannelState = "Idle"       // Created, never started
	ChannelConnecting ChannelState = "Connecting" // Start requested, no frame received yet
	ChannelActive     ChannelState = "Active"     // Receiving and processing frames
	ChannelError      ChannelState = "Error"      // Source failed; retrying with backoff
	ChannelStopped    ChannelState = "Stopped"    // Explicitly stopped (terminal until restarted)
)

// ActionType is a suspicious action recognized by the classifier
type ActionType string

const (
	ActionFall             ActionType = "Fall"
	ActionHandsUp          ActionType = "HandsUp"
	ActionAggressiveStance ActionType = "AggressiveStance"
	ActionCrouch           ActionType = "Crouch"
)

var AllActionTypes = []ActionType{ActionFall, ActionHandsUp, ActionAggressiveStance, ActionCrouch}

func ParseActionType(s string) (ActionType, error) {
	for _, a := range AllActionTypes {
		if s == string(a) {
			return a, nil
		}
	}
	return "", fmt.Errorf("Unknown action type '%v'. Valid values are 'Fall', 'HandsUp', 'AggressiveStance' and 'Crouch'", s)
}

// Severity of an action or alert
type Severity string

const (
	SeverityHigh   Severity = "High"
	SeverityMedium Severity = "Medium"
	SeverityInfo   Severity = "Info"
)

// Severity is fixed per action type
func (a ActionType) Severity() Severity {
	switch a {
	case ActionCrouch:
		return SeverityMedium
	}
	return SeverityHigh
}

// BaseCooldown is the minimum time between two emitted alerts that share a
// dedup key, at Medium sensitivity. The alert engine scales this by sensitivity.
func (a ActionType) BaseCooldown() time.Duration {
	switch a.Severity() {
	case SeverityMedium:
		return 60 * time.Second
	case SeverityInfo:
		return 120 * time.Second
	}
	return 30 * time.Second
}
