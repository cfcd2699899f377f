// Package capture defines the camera boundary of the tracker and the
// latest-value mailbox used between a camera's capture and detection loops.
package capture

import (
	"context"
	"errors"
	"time"

	"github.com/kozaktomas/facetrack/internal/config"
)

// ErrReadFailed is returned by Camera.Read when no frame could be grabbed.
var ErrReadFailed = errors.New("frame read failed")

// Frame is one captured image, JPEG encoded.
type Frame struct {
	CameraID   string
	Seq        uint64
	Data       []byte
	Width      int
	Height     int
	CapturedAt time.Time
}

// Camera is an open capture handle. Read blocks for at most one device frame interval.
type Camera interface {
	Read() (Frame, error)
	Close() error
}

// Opener opens cameras by configuration.
type Opener interface {
	Open(ctx context.Context, cfg config.CameraConfig) (Camera, error)
}

// OpenerFunc adapts a function to Opener.
type OpenerFunc func(ctx context.Context, cfg config.CameraConfig) (Camera, error)

func (f OpenerFunc) Open(ctx context.Context, cfg config.CameraConfig) (Camera, error) {
	return f(ctx, cfg)
}
