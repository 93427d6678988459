package source

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cyclopcam/logs"
	"github.com/vigilcam/vigil/server/configdb"
	"github.com/vigilcam/vigil/server/defs"
)

// Package source normalizes every input kind (RTSP camera, phone app,
// local webcam relay, files on disk) into a sequence of timestamped frames.

// Frame is one frame read from a source.
// The image payload is opaque to the engine - frames go straight from here
// into the detection capability.
type Frame struct {
	Seq       int64     // Increments per frame read from this source
	Timestamp time.Time // Capture (or receive) time
	Image     []byte
}

// Source is a connected (or connectable) video source.
// Connect and ReadFrame honor ctx cancellation; ReadFrame additionally honors
// the context deadline, returning *TimeoutError when no frame arrives in time.
// A Source is used by exactly one channel worker, never concurrently.
type Source interface {
	// Connect establishes the connection. Failures are returned as *ConnectError.
	Connect(ctx context.Context) error
	// ReadFrame blocks until the next frame, ctx expiry, or a read failure.
	ReadFrame(ctx context.Context) (*Frame, error)
	// Close releases the connection. Safe to call at any time, from any state.
	Close()
}

// ConnectError is a transient failure to reach the source.
// The channel worker retries these with capped exponential backoff.
type ConnectError struct {
	Err error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("source connection failed: %v", e.Err)
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}

// TimeoutError means no frame arrived within the read deadline.
// The frame is counted as dropped; repeated timeouts push the channel into Error.
type TimeoutError struct {
	Deadline time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("no frame within %v", e.Deadline)
}

func IsTimeout(err error) bool {
	var t *TimeoutError
	return errors.As(err, &t)
}

// New creates the Source for a channel configuration.
// The worker is written against the Source interface only; this is the one
// place that knows about concrete kinds.
func New(logger logs.Log, cfg *configdb.Channel) (Source, error) {
	switch cfg.Kind {
	case defs.SourceRTSP:
		return NewRTSPSource(logger, cfg.SourceURL()), nil
	case defs.SourceWebcam, defs.SourceMobileIP:
		return NewMJPEGSource(logger, cfg.SourceURL()), nil
	case defs.SourceFile:
		return NewFileSource(logger, cfg.Path), nil
	}
	return nil, fmt.Errorf("Unknown source kind '%v'", cfg.Kind)
}
