package source

import (
	"context"
	"fmt"
	"time"

	"github.com/bluenviron/gortsplib/v4"
	"github.com/bluenviron/gortsplib/v4/pkg/base"
	"github.com/bluenviron/gortsplib/v4/pkg/description"
	"github.com/bluenviron/gortsplib/v4/pkg/format"
	"github.com/cyclopcam/logs"
	"github.com/pion/rtp"
)

// RTSPSource reads frames from an RTSP camera.
// We assemble RTP packets into access units (the marker bit closes a unit),
// and hand each access unit to the engine as an opaque frame payload. The
// detection capability owns decoding.
type RTSPSource struct {
	log    logs.Log
	url    string
	ident  string // URL with username:password stripped, for logging
	client *gortsplib.Client
	frames chan *Frame
	seq    int64

	pending []byte
}

const rtspFrameChannelSize = 8

func NewRTSPSource(logger logs.Log, address string) *RTSPSource {
	return &RTSPSource{
		log: logs.NewPrefixLogger(logger, "RTSP:"),
		url: address,
	}
}

func (s *RTSPSource) Connect(ctx context.Context) error {
	u, err := base.ParseURL(s.url)
	if err != nil {
		return &ConnectError{Err: fmt.Errorf("invalid stream URL: %w", err)}
	}
	s.ident = u.Host + u.Path

	client := &gortsplib.Client{}
	s.log.Infof("Connecting to %v", s.ident)
	if err := client.Start(u.Scheme, u.Host); err != nil {
		return &ConnectError{Err: err}
	}

	session, _, err := client.Describe(u)
	if err != nil {
		client.Close()
		return &ConnectError{Err: err}
	}

	// Find the video media. We take H264 or H265, whichever the camera offers first.
	var videoMedia *description.Media
	for _, media := range session.Medias {
		if media.Type == description.MediaTypeVideo {
			videoMedia = media
			break
		}
	}
	if videoMedia == nil {
		client.Close()
		return &ConnectError{Err: fmt.Errorf("no video track on %v", s.ident)}
	}

	if _, err := client.Setup(session.BaseURL, videoMedia, 0, 0); err != nil {
		client.Close()
		return &ConnectError{Err: err}
	}

	s.frames = make(chan *Frame, rtspFrameChannelSize)
	s.pending = nil
	client.OnPacketRTPAny(func(medi *description.Media, forma format.Format, pkt *rtp.Packet) {
		if medi != videoMedia {
			return
		}
		s.onPacket(pkt)
	})

	if _, err := client.Play(nil); err != nil {
		client.Close()
		return &ConnectError{Err: err}
	}

	s.client = client
	s.log.Infof("Connected to %v", s.ident)
	return nil
}

// Runs on the gortsplib read goroutine
func (s *RTSPSource) onPacket(pkt *rtp.Packet) {
	s.pending = append(s.pending, pkt.Payload...)
	if !pkt.Marker {
		return
	}
	image := s.pending
	s.pending = nil
	s.seq++
	frame := &Frame{
		Seq:       s.seq,
		Timestamp: time.Now(),
		Image:     image,
	}
	select {
	case s.frames <- frame:
	default:
		// Reader is not keeping up. Drop the oldest pending frame - stale
		// frames are worthless for alerting.
		select {
		case <-s.frames:
		default:
		}
		select {
		case s.frames <- frame:
		default:
		}
	}
}

func (s *RTSPSource) ReadFrame(ctx context.Context) (*Frame, error) {
	if s.client == nil {
		return nil, &ConnectError{Err: fmt.Errorf("not connected")}
	}
	start := time.Now()
	select {
	case frame := <-s.frames:
		return frame, nil
	case <-ctx.Done():
		if ctx.Err() == context.DeadlineExceeded {
			return nil, &TimeoutError{Deadline: time.Since(start)}
		}
		return nil, ctx.Err()
	}
}

func (s *RTSPSource) Close() {
	if s.client != nil {
		s.log.Infof("Closing stream %v", s.ident)
		s.client.Close()
		s.client = nil
	}
}
