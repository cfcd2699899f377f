// Package facematch holds the typed detector output and the per-detection
// admission logic shared by the tracking pipeline and enrollment.
package facematch

import "time"

// BBox is [x1, y1, x2, y2] in frame pixels.
type BBox [4]float64

// Pose holds head rotation angles in degrees.
type Pose struct {
	Yaw   float64
	Pitch float64
	Roll  float64
}

// FaceObservation is one detected face in one frame. Optional capabilities
// are nil when the analyzer does not provide them.
type FaceObservation struct {
	BBox       BBox
	Embedding  []float32
	DetScore   float64
	Pose       *Pose    // nil: pose score defaults to DefaultPoseScore
	Brightness *float64 // mean face luminance in [0, 1]; nil: DefaultBrightness
	CameraID   string
	Timestamp  time.Time
}

// Defaults used when the analyzer does not report a capability.
const (
	DefaultPoseScore  = 0.8
	DefaultBrightness = 0.5
	DefaultSharpness  = 0.5
)
