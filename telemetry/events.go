// Package telemetry tracks simulator health: per-window step statistics,
// per-env events, timing, CSV output and prometheus metrics.
package telemetry

import (
	"math"

	"github.com/pthm-cable/batchsim/sim"
)

// EventType identifies telemetry events.
type EventType string

const (
	EventEpisodeStart EventType = "episode_start"
	EventGrasp        EventType = "grasp"
	EventDrop         EventType = "drop"
	EventCollision    EventType = "collision"
)

// Event is one thing that happened to one env during a step.
type Event struct {
	Type    EventType `csv:"type"`
	Step    int       `csv:"step"`
	Env     int       `csv:"env"`
	Episode int       `csv:"episode"`

	// Optional fields depending on event type
	Object     int     `csv:"object"`      // held or dropped object, -1 otherwise
	DropHeight float64 `csv:"drop_height"` // drop events only, 0 otherwise
}

// AppendEvents appends the events of the step that produced states.
// An env that was just reset reports only its episode start.
func AppendEvents(dst []Event, step int, states []sim.EnvironmentState) []Event {
	for b := range states {
		st := &states[b]
		if st.EpisodeIdx < 0 {
			continue
		}
		ev := Event{Step: step, Env: b, Episode: st.EpisodeIdx, Object: -1}
		if st.EpisodeStepIdx == 0 {
			ev.Type = EventEpisodeStart
			dst = append(dst, ev)
			continue
		}
		if st.DidCollide {
			ev.Type = EventCollision
			dst = append(dst, ev)
		}
		if st.DidGrasp {
			ev.Type = EventGrasp
			ev.Object = st.HeldObjIdx
			dst = append(dst, ev)
		}
		if st.DidDrop && !math.IsNaN(st.DropHeight) {
			ev.Type = EventDrop
			ev.Object = -1
			ev.DropHeight = st.DropHeight
			dst = append(dst, ev)
		}
	}
	return dst
}
