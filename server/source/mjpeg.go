package source

import (
	"context"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/cyclopcam/logs"
)

// MJPEGSource reads a multipart/x-mixed-replace MJPEG stream over HTTP.
// This is what the IP Webcam style phone apps serve, and what our local
// webcam relay serves for Webcam channels.
// A reader goroutine (started by Connect) decodes parts into frames; like
// RTSPSource, it feeds a small drop-oldest channel that ReadFrame drains.
// A ReadFrame deadline expiry leaves the connection and the reader alone,
// so the in-flight part is simply adopted by a later ReadFrame.
type MJPEGSource struct {
	log logs.Log
	url string

	cancel  context.CancelFunc
	body    io.ReadCloser
	frames  chan *Frame
	readErr chan error
}

// Frames larger than this indicate a broken stream, not a real image
const mjpegMaxFrameSize = 8 * 1024 * 1024

const mjpegFrameChannelSize = 8

func NewMJPEGSource(logger logs.Log, url string) *MJPEGSource {
	return &MJPEGSource{
		log: logs.NewPrefixLogger(logger, "MJPEG:"),
		url: url,
	}
}

func (s *MJPEGSource) Connect(ctx context.Context) error {
	reqCtx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(reqCtx, "GET", s.url, nil)
	if err != nil {
		cancel()
		return &ConnectError{Err: err}
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		cancel()
		return &ConnectError{Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		return &ConnectError{Err: fmt.Errorf("HTTP %v from %v", resp.Status, s.url)}
	}
	mediaType, params, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil || !strings.HasPrefix(mediaType, "multipart/") || params["boundary"] == "" {
		resp.Body.Close()
		cancel()
		return &ConnectError{Err: fmt.Errorf("not an MJPEG stream (Content-Type %v)", resp.Header.Get("Content-Type"))}
	}
	s.cancel = cancel
	s.body = resp.Body
	s.frames = make(chan *Frame, mjpegFrameChannelSize)
	s.readErr = make(chan error, 1)
	go readParts(multipart.NewReader(resp.Body, params["boundary"]), s.frames, s.readErr)
	s.log.Infof("Connected to %v", s.url)
	return nil
}

// readParts decodes multipart parts into frames until the stream dies.
// It owns the reader outright and never touches MJPEGSource fields, so Close
// can tear the fields down from the worker goroutine without a race. Closing
// the response body is what unblocks and terminates us.
func readParts(reader *multipart.Reader, frames chan *Frame, readErr chan error) {
	seq := int64(0)
	for {
		part, err := reader.NextPart()
		if err != nil {
			readErr <- err
			return
		}
		img, err := io.ReadAll(io.LimitReader(part, mjpegMaxFrameSize))
		part.Close()
		if err != nil {
			readErr <- err
			return
		}
		seq++
		frame := &Frame{
			Seq:       seq,
			Timestamp: time.Now(),
			Image:     img,
		}
		select {
		case frames <- frame:
		default:
			// Reader is not keeping up. Drop the oldest pending frame - stale
			// frames are worthless for alerting.
			select {
			case <-frames:
			default:
			}
			select {
			case frames <- frame:
			default:
			}
		}
	}
}

func (s *MJPEGSource) ReadFrame(ctx context.Context) (*Frame, error) {
	if s.frames == nil {
		return nil, &ConnectError{Err: fmt.Errorf("not connected")}
	}
	start := time.Now()
	select {
	case frame := <-s.frames:
		return frame, nil
	case err := <-s.readErr:
		return nil, &ConnectError{Err: err}
	case <-ctx.Done():
		if ctx.Err() == context.DeadlineExceeded {
			return nil, &TimeoutError{Deadline: time.Since(start)}
		}
		return nil, ctx.Err()
	}
}

func (s *MJPEGSource) Close() {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	if s.body != nil {
		s.body.Close()
		s.body = nil
	}
	s.frames = nil
	s.readErr = nil
}
