package pose

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cyclopcam/logs"
)

// RemoteCapability talks to an inference sidecar over HTTP.
// The sidecar owns the models and the GPU; we send it frames and get back
// person observations. It implements both PersonDetector and PoseEstimator -
// a sidecar without a pose model simply returns observations without keypoints
// from /detect and 404 from /pose.
type RemoteCapability struct {
	log     logs.Log
	baseURL string
	client  *http.Client
}

func NewRemoteCapability(logger logs.Log, baseURL string) *RemoteCapability {
	return &RemoteCapability{
		log:     logs.NewPrefixLogger(logger, "NN:"),
		baseURL: baseURL,
		client: &http.Client{
			// The context on each call bounds the request; this is a backstop
			Timeout: 10 * time.Second,
		},
	}
}

func (r *RemoteCapability) Close() {
	r.client.CloseIdleConnections()
}

func (r *RemoteCapability) DetectPersons(ctx context.Context, image []byte) ([]PersonObservation, error) {
	return r.post(ctx, "/detect", image, nil)
}

func (r *RemoteCapability) EstimatePose(ctx context.Context, image []byte, people []PersonObservation) ([]PersonObservation, error) {
	return r.post(ctx, "/pose", image, people)
}

// post sends the frame (and for /pose, the prior detections as a JSON header)
// and decodes the observation list
func (r *RemoteCapability) post(ctx context.Context, path string, image []byte, people []PersonObservation) ([]PersonObservation, error) {
	url := r.baseURL + path
	if people != nil {
		url += "?people=1"
	}
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(image))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	if people != nil {
		boxes, err := json.Marshal(people)
		if err != nil {
			return nil, err
		}
		req.Header.Set("X-Prior-Detections", string(boxes))
	}
	resp, err := r.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		// Connection-level failure: the sidecar is down or unreachable
		return nil, fmt.Errorf("%w: %v", ErrDetectionUnavailable, err)
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusServiceUnavailable:
		return nil, fmt.Errorf("%w: %v returned %v", ErrDetectionUnavailable, path, resp.StatusCode)
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("inference %v failed: %v %v", path, resp.StatusCode, string(body))
	}
	out := []PersonObservation{}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("inference %v returned invalid JSON: %w", path, err)
	}
	return out, nil
}
