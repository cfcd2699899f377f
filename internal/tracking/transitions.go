package tracking

import (
	"github.com/kozaktomas/facetrack/internal/database"
)

// WorkStatus is the presence state derived from crossings.
type WorkStatus string

const (
	StatusWorking WorkStatus = "working"
	StatusOnBreak WorkStatus = "on_break"
)

// ZoneEvent names the physical event behind a transition.
type ZoneEvent string

const (
	WorkAreaEntry ZoneEvent = "WorkAreaEntry"
	WorkAreaExit  ZoneEvent = "WorkAreaExit"
)

// Transition is the outcome of one crossing.
type Transition struct {
	Status WorkStatus
	Event  ZoneEvent
}

// AttendanceEvent maps the zone event to the outbound event type.
func (t Transition) AttendanceEvent() database.EventType {
	if t.Event == WorkAreaEntry {
		return database.EventCheckIn
	}
	return database.EventCheckOut
}

var (
	entering = Transition{Status: StatusWorking, Event: WorkAreaEntry}
	leaving  = Transition{Status: StatusOnBreak, Event: WorkAreaExit}
)

// TransitionTable maps camera role and direction to a transition.
type TransitionTable map[string]map[Direction]Transition

// DefaultTransitions: an entry camera faces people walking in left to right
// (or top to bottom); the exit camera sees the mirrored motion.
func DefaultTransitions() TransitionTable {
	return TransitionTable{
		"entry": {
			LeftToRight: entering,
			TopToBottom: entering,
			RightToLeft: leaving,
			BottomToTop: leaving,
		},
		"exit": {
			RightToLeft: entering,
			BottomToTop: entering,
			LeftToRight: leaving,
			TopToBottom: leaving,
		},
	}
}

// Lookup returns the transition for a role and direction.
func (t TransitionTable) Lookup(role string, dir Direction) (Transition, bool) {
	tr, ok := t[role][dir]
	return tr, ok
}
