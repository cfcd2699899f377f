package tracking

import (
	"context"
	"time"

	"github.com/kozaktomas/facetrack/internal/attendance"
	"github.com/kozaktomas/facetrack/internal/facematch"
	"github.com/rs/zerolog/log"
)

// AttendanceSink receives events fired by crossings.
type AttendanceSink interface {
	Record(ctx context.Context, ev attendance.Event) (attendance.Outcome, error)
}

// UpdateQueue accepts embeddings for ingestion.
type UpdateQueue interface {
	Enqueue(u PendingEmbeddingUpdate) bool
}

// CameraSpec is what the pipeline needs to know about a camera.
type CameraSpec struct {
	ID    string
	Role  string
	Wires []Tripwire
}

// DetectionBatch is the analyzer output for one frame.
type DetectionBatch struct {
	CameraID   string
	Seq        uint64
	Width      int
	Height     int
	CapturedAt time.Time
	Faces      []facematch.FaceObservation
}

// FiredEvent is a crossing that produced an attendance event.
type FiredEvent struct {
	Crossing   Crossing
	Transition Transition
	Event      attendance.Event
	Outcome    attendance.Outcome
}

// Pipeline is the per-detection chain: quality gate, identity resolution,
// smoothing, track update, crossing detection and attendance.
type Pipeline struct {
	Gate            *facematch.QualityGate
	Resolver        *IdentityResolver
	Tracks          *TrackRegistry
	Smoothers       *SmootherSet
	Crossings       *CrossingDetector
	Transitions     TransitionTable
	Updates         UpdateQueue    // may be nil
	Sink            AttendanceSink // may be nil
	UpdateThreshold float64
}

// Process runs one detection batch of a camera. Batches of a camera must be
// passed in capture order.
func (p *Pipeline) Process(ctx context.Context, cam CameraSpec, batch DetectionBatch) []FiredEvent {
	now := batch.CapturedAt
	if now.IsZero() {
		now = time.Now()
	}

	var fired []FiredEvent
	for _, face := range batch.Faces {
		report := p.Gate.Evaluate(face, batch.Width, batch.Height)
		if !report.Admitted {
			log.Debug().Str("camera", cam.ID).Float64("quality", report.Overall).Str("reason", report.Reason).Msg("face rejected by quality gate")
			continue
		}

		res := p.Resolver.Resolve(cam.ID, face.Embedding, now)
		if !res.Known {
			continue
		}

		cx, cy := face.BBox.Center()
		x, y := p.Smoothers.Update(res.Identity, cam.ID, cx, cy, now)
		p.Tracks.Observe(res.Identity, cam.ID, x, y, res.Score, face.Embedding, now)

		if p.Updates != nil && res.Score > p.UpdateThreshold {
			p.Updates.Enqueue(PendingEmbeddingUpdate{
				EmployeeID: res.Identity,
				Embedding:  face.Embedding,
				Quality:    report.Overall,
				CameraID:   cam.ID,
				Source:     "camera:" + cam.ID,
				QueuedAt:   now,
			})
		}

		for _, c := range p.Crossings.Observe(res.Identity, cam.ID, cam.Wires, x, y, batch.Width, batch.Height, now) {
			if ev, ok := p.fire(ctx, cam, c, res.Score); ok {
				fired = append(fired, ev)
			}
		}
	}
	return fired
}

func (p *Pipeline) fire(ctx context.Context, cam CameraSpec, c Crossing, score float64) (FiredEvent, bool) {
	tr, ok := p.Transitions.Lookup(cam.Role, c.Direction)
	if !ok {
		log.Debug().Str("camera", cam.ID).Str("role", cam.Role).Str("direction", string(c.Direction)).Msg("crossing without transition")
		return FiredEvent{}, false
	}

	ev := attendance.NewEvent(c.Identity, tr.AttendanceEvent(), cam.ID, c.At)
	ev.Zone = c.Tripwire
	ev.WorkStatus = string(tr.Status)
	ev.Confidence = score

	p.Tracks.SetStatus(c.Identity, tr.Status)
	log.Info().
		Str("employee_id", c.Identity).
		Str("camera", cam.ID).
		Str("tripwire", c.Tripwire).
		Str("direction", string(c.Direction)).
		Str("zone_event", string(tr.Event)).
		Msg("tripwire crossed")

	out := FiredEvent{Crossing: c, Transition: tr, Event: ev}
	if p.Sink == nil {
		return out, true
	}
	outcome, err := p.Sink.Record(ctx, ev)
	if err != nil {
		log.Warn().Err(err).Str("employee_id", c.Identity).Msg("attendance record failed")
	}
	out.Outcome = outcome
	return out, true
}
