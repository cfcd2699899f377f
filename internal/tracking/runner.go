package tracking

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/kozaktomas/facetrack/internal/analyzer"
	"github.com/kozaktomas/facetrack/internal/capture"
	"github.com/kozaktomas/facetrack/internal/config"
	"github.com/kozaktomas/facetrack/internal/facematch"
	"github.com/rs/zerolog/log"
)

const (
	minDetectEvery     = 2
	maxDetectEvery     = 5
	defaultDetectEvery = 3
	crowdedFaces       = 3
	dedupeIoU          = 0.5
	idleSleep          = 20 * time.Millisecond
	readRetrySleep     = 100 * time.Millisecond
)

// cameraRunner owns one camera: a capture loop that reads frames and
// processes detection results, and a detection loop that analyzes the
// latest sampled frame.
type cameraRunner struct {
	spec     CameraSpec
	camera   capture.Camera
	analyzer analyzer.Analyzer
	pipeline *Pipeline

	frames  capture.Slot[capture.Frame]
	batches capture.Slot[DetectionBatch]

	detectEvery atomic.Int32
	framesRead  atomic.Uint64
	readErrors  atomic.Uint64
	analyzed    atomic.Uint64
}

func newCameraRunner(cfg config.CameraConfig, cam capture.Camera, a analyzer.Analyzer, p *Pipeline) *cameraRunner {
	r := &cameraRunner{
		spec: CameraSpec{
			ID:    cfg.ID,
			Role:  cfg.Role,
			Wires: TripwiresFromConfig(cfg.Tripwires),
		},
		camera:   cam,
		analyzer: a,
		pipeline: p,
	}
	r.detectEvery.Store(defaultDetectEvery)
	return r
}

// captureLoop reads frames until ctx is cancelled, samples every Nth frame
// for detection and processes each new detection batch once, in order.
func (r *cameraRunner) captureLoop(ctx context.Context) {
	defer func() {
		r.frames.Close()
		if err := r.camera.Close(); err != nil {
			log.Warn().Err(err).Str("camera", r.spec.ID).Msg("failed to release camera")
		}
		log.Info().Str("camera", r.spec.ID).Msg("camera released")
	}()

	var lastSeq uint64
	var sampled int32
	failing := 0
	for ctx.Err() == nil {
		frame, err := r.camera.Read()
		if err != nil {
			r.readErrors.Add(1)
			if failing == 0 {
				log.Warn().Err(err).Str("camera", r.spec.ID).Msg("frame read failed")
			}
			failing++
			sleepCtx(ctx, readRetrySleep)
			continue
		}
		if failing > 0 {
			log.Info().Str("camera", r.spec.ID).Int("failed_reads", failing).Msg("camera recovered")
			failing = 0
		}
		r.framesRead.Add(1)

		sampled++
		if sampled >= r.detectEvery.Load() {
			sampled = 0
			r.frames.Publish(frame)
		}

		if batch, ok := r.batches.Take(); ok && batch.Seq > lastSeq {
			lastSeq = batch.Seq
			r.pipeline.Process(ctx, r.spec, batch)
		}
	}
}

// detectionLoop analyzes the most recent sampled frame until ctx is cancelled.
func (r *cameraRunner) detectionLoop(ctx context.Context) {
	defer r.batches.Close()
	for ctx.Err() == nil {
		frame, ok := r.frames.Take()
		if !ok {
			sleepCtx(ctx, idleSleep)
			continue
		}

		faces, err := r.analyzer.Analyze(ctx, frame)
		if err != nil {
			if ctx.Err() == nil {
				log.Warn().Err(err).Str("camera", r.spec.ID).Msg("face analysis failed")
			}
			continue
		}
		r.analyzed.Add(1)
		faces = facematch.DedupeOverlapping(faces, dedupeIoU)
		r.detectEvery.Store(nextDetectEvery(r.detectEvery.Load(), len(faces)))

		r.batches.Publish(DetectionBatch{
			CameraID:   frame.CameraID,
			Seq:        frame.Seq,
			Width:      frame.Width,
			Height:     frame.Height,
			CapturedAt: frame.CapturedAt,
			Faces:      faces,
		})
	}
}

// nextDetectEvery slows detection down one step per empty scene and speeds
// it up one step per crowded one.
func nextDetectEvery(cur int32, faces int) int32 {
	switch {
	case faces == 0:
		return min(cur+1, maxDetectEvery)
	case faces > crowdedFaces:
		return max(cur-1, minDetectEvery)
	default:
		return defaultDetectEvery
	}
}

// CameraStats is a snapshot of a camera's counters.
type CameraStats struct {
	ID          string `json:"id"`
	FramesRead  uint64 `json:"frames_read"`
	ReadErrors  uint64 `json:"read_errors"`
	Analyzed    uint64 `json:"analyzed"`
	Sampled     uint64 `json:"sampled"`
	SkippedDet  uint64 `json:"skipped_detections"`
	DetectEvery int32  `json:"detect_every"`
}

func (r *cameraRunner) stats() CameraStats {
	sampled, skipped := r.frames.Stats()
	return CameraStats{
		ID:          r.spec.ID,
		FramesRead:  r.framesRead.Load(),
		ReadErrors:  r.readErrors.Load(),
		Analyzed:    r.analyzed.Load(),
		Sampled:     sampled,
		SkippedDet:  skipped,
		DetectEvery: r.detectEvery.Load(),
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
