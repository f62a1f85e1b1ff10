package sim

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/floorsim/floorsim/sim/telemetry"
)

// StationState is the operational state of a station's FSM.
type StationState string

const (
	StationIdle StationState = "idle"
	// StationLoading and StationUnloading are transient: unit handoffs
	// are instantaneous, so they bracket an Accept or a completion
	// within a single event execution.
	StationLoading    StationState = "loading"
	StationProcessing StationState = "processing"
	StationUnloading  StationState = "unloading"
)

// Station is a stationary processing device with a bounded input buffer
// and an optional bounded output buffer. Units occupy exactly one input
// buffer slot from acceptance until they are handed off (to the output
// buffer or directly to an AGV).
type Station struct {
	cfg    StationConfig
	state  StationState
	health Health

	// buffer holds accepted units; the head unit is the one being
	// processed while state == StationProcessing.
	buffer []*Unit
	output []*Unit

	// epoch invalidates in-flight completion events after a freeze.
	epoch int
	// frozenRemaining holds the unfinished processing ticks while Faulted.
	frozenRemaining int64
	processingUnit  *Unit
	processingEnds  int64

	busy busyTracker
}

// NewStation creates a Station in the Idle state.
func NewStation(cfg StationConfig) *Station {
	return &Station{
		cfg:    cfg,
		state:  StationIdle,
		health: Healthy,
		busy:   newBusyTracker(),
	}
}

func (s *Station) ID() string                  { return s.cfg.ID }
func (s *Station) InteractingPoints() []string { return s.cfg.InteractingPoints }
func (s *Station) Health() Health              { return s.health }
func (s *Station) State() StationState         { return s.state }

// BufferLevel returns current input buffer occupancy.
func (s *Station) BufferLevel() int { return len(s.buffer) }

// HasBufferSpace reports whether the station can accept another unit.
// Faulted stations reject new loading outright.
func (s *Station) HasBufferSpace() bool {
	return s.health != Faulted && len(s.buffer) < s.cfg.BufferSize
}

// Accept loads a unit into the input buffer. Returns false when the
// buffer is full or the station is faulted; the caller models that as a
// wait state, never an error.
func (s *Station) Accept(sim *Simulator, unit *Unit) bool {
	if !s.HasBufferSpace() {
		return false
	}
	wasIdle := s.state == StationIdle
	if wasIdle {
		s.setState(sim, StationLoading)
	}
	s.buffer = append(s.buffer, unit)
	if len(s.buffer) > s.cfg.BufferSize {
		panic(fmt.Sprintf("station %s: buffer overflow (%d > %d)", s.cfg.ID, len(s.buffer), s.cfg.BufferSize))
	}
	logrus.Debugf("[tick %07d] %s accepted %s (buffer %d/%d)", sim.Clock, s.cfg.ID, unit.ID, len(s.buffer), s.cfg.BufferSize)
	if wasIdle {
		s.setState(sim, StationIdle)
	}
	s.maybeStart(sim)
	return true
}

// maybeStart begins processing the oldest unprocessed buffered unit when
// the station is idle and operable. Passthrough units (no processing time
// configured for their product) finish immediately and the scan resumes
// with the next buffered unit.
func (s *Station) maybeStart(sim *Simulator) {
	for s.state == StationIdle && s.health != Faulted {
		var next *Unit
		for _, u := range s.buffer {
			if !u.Done && !u.Cancelled {
				next = u
				break
			}
		}
		if next == nil {
			return
		}

		r, ok := s.cfg.ProcessingTimes[next.Order.Product]
		if !ok {
			// Station not configured for this product: pass through untouched.
			s.finishUnit(sim, next)
			continue
		}
		duration := secondsToTicks(r.Sample(sim.rng.ForStream(StreamStation(s.cfg.ID))))
		if s.health == Degraded {
			duration = int64(float64(duration) * sim.cfg.FaultSystem.DegradationFactor)
		}

		s.setState(sim, StationProcessing)
		s.processingUnit = next
		s.processingEnds = sim.Clock + duration
		s.epoch++
		sim.Schedule(&stationDoneEvent{time: s.processingEnds, stationID: s.cfg.ID, epoch: s.epoch})
		logrus.Debugf("[tick %07d] %s processing %s for %d ticks", sim.Clock, s.cfg.ID, next.ID, duration)
		return
	}
}

// completeProcessing handles a stationDoneEvent. Stale epochs (from before
// a freeze) are ignored.
func (s *Station) completeProcessing(sim *Simulator, epoch int) {
	if epoch != s.epoch || s.state != StationProcessing {
		return
	}
	unit := s.processingUnit
	s.processingUnit = nil
	s.setState(sim, StationUnloading)
	s.finishUnit(sim, unit)
	s.setState(sim, StationIdle)
	s.maybeStart(sim)
}

// finishUnit marks a unit finished and moves it to the output buffer when
// one exists and has room. Units stay in their input slot otherwise,
// gating further loading until a downstream pickup frees the slot.
func (s *Station) finishUnit(sim *Simulator, unit *Unit) {
	unit.Done = true
	if unit.Cancelled {
		s.removeFromBuffer(unit)
		sim.dispatcher.NotifyResourceFreed(sim, s.cfg.ID)
		return
	}
	if s.cfg.OutputBufferSize > 0 && len(s.output) < s.cfg.OutputBufferSize {
		s.removeFromBuffer(unit)
		s.output = append(s.output, unit)
		// An input slot freed: waiting deliveries can retry.
		sim.dispatcher.NotifyResourceFreed(sim, s.cfg.ID)
	}
	sim.dispatcher.UnitReady(sim, unit, s.cfg.ID)
}

// HasReadyUnit reports whether a finished unit is available for pickup.
func (s *Station) HasReadyUnit() bool {
	if len(s.output) > 0 {
		return true
	}
	for _, u := range s.buffer {
		if u.Done {
			return true
		}
	}
	return false
}

// Pop removes and returns the oldest finished unit, from the output buffer
// first, else from the input buffer. Returns nil when none is ready.
// Freeing a slot notifies the dispatcher so waiting AGVs retry.
func (s *Station) Pop(sim *Simulator) *Unit {
	if len(s.output) > 0 {
		unit := s.output[0]
		s.output = s.output[1:]
		// Output slot freed: a blocked finishUnit can now drain. Finished
		// units stuck in input slots migrate on the next pickup.
		s.drainFinished(sim)
		sim.dispatcher.NotifyResourceFreed(sim, s.cfg.ID)
		return unit
	}
	for _, u := range s.buffer {
		if u.Done {
			s.removeFromBuffer(u)
			s.maybeStart(sim)
			sim.dispatcher.NotifyResourceFreed(sim, s.cfg.ID)
			return u
		}
	}
	return nil
}

// TakeUnit removes a specific finished unit for an AGV pickup. Returns
// false when the unit is gone or not finished yet.
func (s *Station) TakeUnit(sim *Simulator, unit *Unit) bool {
	for i, u := range s.output {
		if u == unit {
			s.output = append(s.output[:i], s.output[i+1:]...)
			s.drainFinished(sim)
			sim.dispatcher.NotifyResourceFreed(sim, s.cfg.ID)
			return true
		}
	}
	for _, u := range s.buffer {
		if u == unit && u.Done {
			s.removeFromBuffer(u)
			s.maybeStart(sim)
			sim.dispatcher.NotifyResourceFreed(sim, s.cfg.ID)
			return true
		}
	}
	return false
}

// drainFinished migrates finished units from input slots to free output
// slots, then resumes processing if anything is waiting.
func (s *Station) drainFinished(sim *Simulator) {
	if s.cfg.OutputBufferSize == 0 {
		return
	}
	for len(s.output) < s.cfg.OutputBufferSize {
		var moved *Unit
		for _, u := range s.buffer {
			if u.Done {
				moved = u
				break
			}
		}
		if moved == nil {
			break
		}
		s.removeFromBuffer(moved)
		s.output = append(s.output, moved)
	}
	s.maybeStart(sim)
}

func (s *Station) removeFromBuffer(unit *Unit) {
	for i, u := range s.buffer {
		if u == unit {
			s.buffer = append(s.buffer[:i], s.buffer[i+1:]...)
			return
		}
	}
	panic(fmt.Sprintf("station %s: unit %s not in buffer", s.cfg.ID, unit.ID))
}

// removeCancelled withdraws a cancelled order's units that are not mid-
// processing, releasing their buffer slots.
func (s *Station) removeCancelled(sim *Simulator, order *Order) {
	kept := s.buffer[:0]
	freed := false
	for _, u := range s.buffer {
		if u.Order == order && u != s.processingUnit {
			freed = true
			continue
		}
		kept = append(kept, u)
	}
	s.buffer = kept
	keptOut := s.output[:0]
	for _, u := range s.output {
		if u.Order == order {
			freed = true
			continue
		}
		keptOut = append(keptOut, u)
	}
	s.output = keptOut
	if freed {
		sim.dispatcher.NotifyResourceFreed(sim, s.cfg.ID)
	}
}

// SetHealth implements Device. Entering Faulted freezes in-flight
// processing; the remaining time resumes on recovery, not resampled.
func (s *Station) SetHealth(sim *Simulator, h Health) {
	if s.health == h {
		return
	}
	prev := s.health
	s.health = h
	switch {
	case h == Faulted && s.state == StationProcessing:
		s.frozenRemaining = s.processingEnds - sim.Clock
		if s.frozenRemaining < 0 {
			s.frozenRemaining = 0
		}
		s.epoch++ // invalidate the pending completion event
	case prev == Faulted && s.state == StationProcessing:
		s.processingEnds = sim.Clock + s.frozenRemaining
		s.epoch++
		sim.Schedule(&stationDoneEvent{time: s.processingEnds, stationID: s.cfg.ID, epoch: s.epoch})
	case prev == Faulted:
		s.maybeStart(sim)
		sim.dispatcher.NotifyResourceFreed(sim, s.cfg.ID)
	}
}

func (s *Station) setState(sim *Simulator, state StationState) {
	if s.state == state {
		return
	}
	s.state = state
	if state == StationProcessing {
		s.busy.markBusy(sim.Clock)
	} else {
		s.busy.markIdle(sim.Clock)
	}
	sim.emit(telemetry.Event{
		Kind:   telemetry.KindStationStateChanged,
		Tick:   sim.Clock,
		Source: s.cfg.ID,
		State:  string(state),
	})
}

// BusyTicks returns accumulated processing time as of now.
func (s *Station) BusyTicks(now int64) int64 {
	return s.busy.busyAt(now)
}
