package media

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const recordingBufferSize = 64 << 10

// recording appends received stills to a Motion-JPEG file.
type recording struct {
	sync.Mutex

	path   string
	f      *os.File
	w      *bufio.Writer
	frames int
}

func recordingName(t time.Time) string {
	return "stream" + t.Format("20060102_150405") + ".mjpeg"
}

func newRecording(dir string, now time.Time) (*recording, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("recording dir: %w", err)
	}
	path := filepath.Join(dir, recordingName(now))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, err
	}
	return &recording{path: path, f: f, w: bufio.NewWriterSize(f, recordingBufferSize)}, nil
}

func (r *recording) Write(frame []byte) error {
	r.Lock()
	defer r.Unlock()
	n, err := r.w.Write(frame)
	if err != nil {
		if n < len(frame) {
			return fmt.Errorf("write size mismatch [%v!=%v], %v", n, len(frame), err)
		}
		return err
	}
	r.frames++
	return nil
}

func (r *recording) Flush() error {
	r.Lock()
	defer r.Unlock()
	return r.w.Flush()
}

// Close flushes buffered frames and closes the file.
func (r *recording) Close() error {
	r.Lock()
	defer r.Unlock()
	ferr := r.w.Flush()
	cerr := r.f.Close()
	if ferr != nil {
		return ferr
	}
	return cerr
}

func (r *recording) Frames() int {
	r.Lock()
	defer r.Unlock()
	return r.frames
}
