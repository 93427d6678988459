package source

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/cyclopcam/logs"
)

// FileSource plays back a directory of frame files in name order, looping
// forever. It paces emission at a fixed frame interval, which makes it useful
// for tests and for replaying captured incidents.
type FileSource struct {
	log      logs.Log
	dir      string
	interval time.Duration

	files []string
	next  int
	seq   int64
	last  time.Time
}

const fileSourceDefaultInterval = 100 * time.Millisecond // 10 fps

func NewFileSource(logger logs.Log, dir string) *FileSource {
	return &FileSource{
		log:      logs.NewPrefixLogger(logger, "FileSource:"),
		dir:      dir,
		interval: fileSourceDefaultInterval,
	}
}

func (s *FileSource) Connect(ctx context.Context) error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return &ConnectError{Err: err}
	}
	files := []string{}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".jpg", ".jpeg", ".png", ".bin":
			files = append(files, filepath.Join(s.dir, e.Name()))
		}
	}
	if len(files) == 0 {
		return &ConnectError{Err: fmt.Errorf("no frame files in %v", s.dir)}
	}
	sort.Strings(files)
	s.files = files
	s.next = 0
	s.log.Infof("Opened %v (%v frames)", s.dir, len(files))
	return nil
}

func (s *FileSource) ReadFrame(ctx context.Context) (*Frame, error) {
	// Pace playback to our frame interval
	if !s.last.IsZero() {
		wait := s.interval - time.Since(s.last)
		if wait > 0 {
			start := time.Now()
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				if ctx.Err() == context.DeadlineExceeded {
					return nil, &TimeoutError{Deadline: time.Since(start)}
				}
				return nil, ctx.Err()
			}
		}
	}
	img, err := os.ReadFile(s.files[s.next])
	if err != nil {
		return nil, &ConnectError{Err: err}
	}
	s.next = (s.next + 1) % len(s.files)
	s.seq++
	s.last = time.Now()
	return &Frame{
		Seq:       s.seq,
		Timestamp: s.last,
		Image:     img,
	}, nil
}

func (s *FileSource) Close() {
	s.files = nil
}
