// Package gocvcam opens cameras through OpenCV. Sources that parse as an
// integer are device indexes, anything else is a file path or stream URL.
package gocvcam

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/kozaktomas/facetrack/internal/capture"
	"github.com/kozaktomas/facetrack/internal/config"
	"gocv.io/x/gocv"
)

// Opener implements capture.Opener with gocv.
type Opener struct{}

// Open opens the configured source.
func (Opener) Open(ctx context.Context, cfg config.CameraConfig) (capture.Camera, error) {
	var source any = cfg.Source
	if idx, err := strconv.Atoi(cfg.Source); err == nil {
		source = idx
	}

	vc, err := gocv.OpenVideoCapture(source)
	if err != nil {
		return nil, fmt.Errorf("opening camera %s (%s): %w", cfg.ID, cfg.Source, err)
	}
	if !vc.IsOpened() {
		vc.Close()
		return nil, fmt.Errorf("camera %s (%s) did not open", cfg.ID, cfg.Source)
	}
	if cfg.FPS > 0 {
		vc.Set(gocv.VideoCaptureFPS, float64(cfg.FPS))
	}

	return &camera{id: cfg.ID, vc: vc, mat: gocv.NewMat()}, nil
}

type camera struct {
	mu  sync.Mutex
	id  string
	vc  *gocv.VideoCapture
	mat gocv.Mat
	seq uint64
}

func (c *camera) Read() (capture.Frame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ok := c.vc.Read(&c.mat); !ok || c.mat.Empty() {
		return capture.Frame{}, capture.ErrReadFailed
	}

	buf, err := gocv.IMEncode(gocv.JPEGFileExt, c.mat)
	if err != nil {
		return capture.Frame{}, fmt.Errorf("encoding frame: %w", err)
	}
	defer buf.Close()

	c.seq++
	return capture.Frame{
		CameraID:   c.id,
		Seq:        c.seq,
		Data:       append([]byte(nil), buf.GetBytes()...),
		Width:      c.mat.Cols(),
		Height:     c.mat.Rows(),
		CapturedAt: time.Now(),
	}, nil
}

func (c *camera) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mat.Close()
	return c.vc.Close()
}
