package tracking

import (
	"fmt"
	"sync"
	"time"

	"github.com/kozaktomas/facetrack/internal/config"
)

// Axis selects which coordinate a tripwire tests.
type Axis int

const (
	// AxisVertical is a vertical line tested against x.
	AxisVertical Axis = iota
	// AxisHorizontal is a horizontal line tested against y.
	AxisHorizontal
)

// Direction of a traversal.
type Direction string

const (
	LeftToRight Direction = "left->right"
	RightToLeft Direction = "right->left"
	TopToBottom Direction = "top->bottom"
	BottomToTop Direction = "bottom->top"
)

// Tripwire is a boundary line at a fraction of the frame width (vertical) or
// height (horizontal), with a dead-band of Spacing around it.
type Tripwire struct {
	Name     string
	Axis     Axis
	Position float64
	Spacing  float64
}

// TripwiresFromConfig converts configured tripwires.
func TripwiresFromConfig(cfgs []config.TripwireConfig) []Tripwire {
	out := make([]Tripwire, 0, len(cfgs))
	for _, c := range cfgs {
		axis := AxisVertical
		if c.Axis == "horizontal" {
			axis = AxisHorizontal
		}
		out = append(out, Tripwire{Name: c.Name, Axis: axis, Position: c.Position, Spacing: c.Spacing})
	}
	return out
}

// forward is the a->b direction of the axis, backward the b->a one.
func (t Tripwire) forward() Direction {
	if t.Axis == AxisHorizontal {
		return TopToBottom
	}
	return LeftToRight
}

func (t Tripwire) backward() Direction {
	if t.Axis == AxisHorizontal {
		return BottomToTop
	}
	return RightToLeft
}

// bounds returns the dead-band edges in pixels and the coordinate under test.
func (t Tripwire) bounds(x, y float64, frameW, frameH int) (lo, hi, cur float64) {
	dim, cur := float64(frameW), x
	if t.Axis == AxisHorizontal {
		dim, cur = float64(frameH), y
	}
	return dim * (t.Position - t.Spacing/2), dim * (t.Position + t.Spacing/2), cur
}

// Zone is the side of a tripwire an identity was last seen on.
type Zone int

const (
	ZoneNone Zone = iota
	ZoneA         // before the line
	ZoneB         // after the line
)

func (z Zone) String() string {
	switch z {
	case ZoneA:
		return "zone_a"
	case ZoneB:
		return "zone_b"
	default:
		return "none"
	}
}

// CrossingState is the state of one (identity, camera, tripwire) triple.
type CrossingState struct {
	Zone     Zone
	Pending  Direction
	LastSeen time.Time
}

// Crossing is one completed traversal of a tripwire.
type Crossing struct {
	Identity  string
	CameraID  string
	Tripwire  string
	Direction Direction
	At        time.Time
}

type crossingKey struct {
	identity string
	camera   string
	tripwire string
}

// CrossingDetector turns positions into crossings. A crossing fires once per
// traversal: the state goes none -> zone -> none, and positions inside the
// dead-band never change it.
type CrossingDetector struct {
	mu         sync.Mutex
	states     map[crossingKey]*CrossingState
	staleAfter time.Duration
}

// NewCrossingDetector creates a detector. A state not observed for
// staleAfter is reset before its next observation; 0 keeps states forever.
func NewCrossingDetector(staleAfter time.Duration) *CrossingDetector {
	return &CrossingDetector{
		states:     make(map[crossingKey]*CrossingState),
		staleAfter: staleAfter,
	}
}

// Observe evaluates a smoothed position against every tripwire of a camera.
func (d *CrossingDetector) Observe(identity, cameraID string, wires []Tripwire, x, y float64, frameW, frameH int, now time.Time) []Crossing {
	d.mu.Lock()
	defer d.mu.Unlock()

	var fired []Crossing
	for _, w := range wires {
		key := crossingKey{identity: identity, camera: cameraID, tripwire: w.Name}
		st, ok := d.states[key]
		if !ok {
			st = &CrossingState{}
			d.states[key] = st
		}
		if d.staleAfter > 0 && !st.LastSeen.IsZero() && now.Sub(st.LastSeen) > d.staleAfter {
			*st = CrossingState{}
		}
		st.LastSeen = now

		lo, hi, cur := w.bounds(x, y, frameW, frameH)
		switch st.Zone {
		case ZoneNone:
			if cur < lo {
				st.Zone, st.Pending = ZoneA, w.forward()
			} else if cur > hi {
				st.Zone, st.Pending = ZoneB, w.backward()
			}
		case ZoneA:
			if cur > hi && st.Pending == w.forward() {
				fired = append(fired, Crossing{identity, cameraID, w.Name, st.Pending, now})
				st.Zone, st.Pending = ZoneNone, ""
			}
		case ZoneB:
			if cur < lo && st.Pending == w.backward() {
				fired = append(fired, Crossing{identity, cameraID, w.Name, st.Pending, now})
				st.Zone, st.Pending = ZoneNone, ""
			}
		}
	}
	return fired
}

// State returns a copy of the state of a triple.
func (d *CrossingDetector) State(identity, cameraID, tripwire string) (CrossingState, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	st, ok := d.states[crossingKey{identity: identity, camera: cameraID, tripwire: tripwire}]
	if !ok {
		return CrossingState{}, false
	}
	return *st, true
}

// Prune drops states not observed since before cutoff and returns how many were removed.
func (d *CrossingDetector) Prune(cutoff time.Time) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for k, st := range d.states {
		if st.LastSeen.Before(cutoff) {
			delete(d.states, k)
			n++
		}
	}
	return n
}

func (c Crossing) String() string {
	return fmt.Sprintf("%s crossed %s/%s %s", c.Identity, c.CameraID, c.Tripwire, c.Direction)
}
