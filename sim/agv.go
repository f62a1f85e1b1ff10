package sim

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/floorsim/floorsim/sim/telemetry"
)

// AGVState is the operational state of an AGV's FSM.
type AGVState string

const (
	AGVIdle        AGVState = "idle"
	AGVMoving      AGVState = "moving"
	AGVInteracting AGVState = "interacting"
	AGVCharging    AGVState = "charging"
	// AGVLowBattery covers the forced diversion to the charging point.
	AGVLowBattery AGVState = "low_battery"
	// AGVWaiting models holding at an approach point for buffer space.
	AGVWaiting AGVState = "waiting"
	// AGVStalled is the terminal failure state of an AGV stranded with
	// too little battery to reach its charging point.
	AGVStalled AGVState = "stalled"
)

// Charge targets, matching the reference production system: a forced
// (emergency) charge tops up enough to resume work, a voluntary charge
// fills close to full.
const (
	forcedChargeTarget    = 50.0
	voluntaryChargeTarget = 80.0
	// batterySafetyMargin is reserved on top of the computed task cost.
	batterySafetyMargin = 3.0
	// chargerReachMargin is the minimum slack for a run to the charger.
	chargerReachMargin = 1.0
)

// AGVStats accumulates per-vehicle counters for the KPI engine.
type AGVStats struct {
	TotalDistance           float64
	TotalChargeTicks        int64
	ForcedChargeCount       int
	VoluntaryChargeCount    int
	LowBatteryInterruptions int
	TasksCompleted          int
	EnergyConsumed          float64 // battery percent drained
}

// AGV is a mobile transport vehicle on the path-point graph. All state
// mutation happens inside event execution; Step-mode position and battery
// reads interpolate without mutating, so event-jump and fixed-step runs
// stay bit-identical.
type AGV struct {
	cfg    AGVConfig
	state  AGVState
	health Health

	currentPoint string
	pos          Position
	battery      float64
	payload      []*Unit

	task *TransportTask

	// In-flight move. route includes both endpoints; cumDist[i] is the
	// distance from route[0] to route[i].
	route            []string
	cumDist          []float64
	moveStart        int64
	moveEnd          int64
	moveStartBattery float64
	movingToCharger  bool

	// In-flight charge.
	chargeStart        int64
	chargeStartBattery float64
	chargeTarget       float64
	voluntaryCharge    bool

	epoch int
	stats AGVStats
	busy  busyTracker
}

// NewAGV creates an AGV parked at its configured start point.
func NewAGV(cfg AGVConfig, layout *Layout) (*AGV, error) {
	pos, ok := layout.PointPosition(cfg.StartPoint)
	if !ok {
		return nil, fmt.Errorf("agv %s: start point %q not in layout", cfg.ID, cfg.StartPoint)
	}
	return &AGV{
		cfg:          cfg,
		state:        AGVIdle,
		health:       Healthy,
		currentPoint: cfg.StartPoint,
		pos:          pos,
		battery:      cfg.BatteryLevel,
		busy:         newBusyTracker(),
	}, nil
}

func (a *AGV) ID() string     { return a.cfg.ID }
func (a *AGV) Health() Health { return a.health }
func (a *AGV) State() AGVState { return a.state }

// InteractingPoints implements Device. An AGV can interact anywhere it can
// drive, so its only fixed point of interest is the charging point.
func (a *AGV) InteractingPoints() []string { return []string{a.cfg.ChargingPoint} }

// Battery returns the battery level at the last state mutation.
func (a *AGV) Battery() float64 { return a.battery }

// CurrentPoint returns the path point the AGV last arrived at.
func (a *AGV) CurrentPoint() string { return a.currentPoint }

// Stats returns a copy of the accumulated counters.
func (a *AGV) Stats() AGVStats { return a.stats }

// PayloadFree reports remaining payload slots.
func (a *AGV) PayloadFree() int { return a.cfg.PayloadCapacity - len(a.payload) }

// Assignable reports whether the dispatcher may hand this AGV a new task.
func (a *AGV) Assignable() bool {
	return a.state == AGVIdle && a.health != Faulted && a.PayloadFree() > 0
}

// LowBattery reports whether battery is at or below the configured
// threshold.
func (a *AGV) LowBattery() bool {
	return a.battery <= a.cfg.LowBatteryThreshold
}

// travelSeconds converts a route distance to travel time, slowed by the
// degradation factor while the AGV is Degraded.
func (a *AGV) travelSeconds(sim *Simulator, dist float64) float64 {
	secs := dist / a.cfg.SpeedMPS
	if a.health == Degraded {
		secs *= sim.cfg.FaultSystem.DegradationFactor
	}
	return secs
}

// taskBatteryNeed computes the battery cost of a pickup+dropoff task:
// both legs, two load/unload actions, the return run to the charger, and
// the safety margin. ok=false when any leg has no route.
func (a *AGV) taskBatteryNeed(sim *Simulator, pickupPoint, dropPoint string) (float64, bool) {
	d1, ok1 := sim.layout.Distance(a.currentPoint, pickupPoint)
	d2, ok2 := sim.layout.Distance(pickupPoint, dropPoint)
	dr, ok3 := sim.layout.Distance(dropPoint, a.cfg.ChargingPoint)
	if !ok1 || !ok2 || !ok3 {
		return 0, false
	}
	need := (d1+d2)*a.cfg.BatteryConsumptionPerMeter +
		2*a.cfg.BatteryConsumptionPerAction +
		dr*a.cfg.BatteryConsumptionPerMeter +
		batterySafetyMargin
	return need, true
}

// CanUndertake reports whether battery suffices for a pickup+dropoff task.
func (a *AGV) CanUndertake(sim *Simulator, pickupPoint, dropPoint string) bool {
	need, ok := a.taskBatteryNeed(sim, pickupPoint, dropPoint)
	return ok && a.battery >= need
}

// chargeCoversTask reports whether a voluntary charge would put the task
// within battery reach.
func (a *AGV) chargeCoversTask(sim *Simulator, pickupPoint, dropPoint string) bool {
	need, ok := a.taskBatteryNeed(sim, pickupPoint, dropPoint)
	return ok && need <= voluntaryChargeTarget
}

// canReachCharger reports whether the AGV can still make it to its
// charging point with the minimal margin.
func (a *AGV) canReachCharger(sim *Simulator) bool {
	d, ok := sim.layout.Distance(a.currentPoint, a.cfg.ChargingPoint)
	if !ok {
		return false
	}
	return a.battery >= d*a.cfg.BatteryConsumptionPerMeter+chargerReachMargin
}

// beginMove starts a Moving segment toward targetPoint. Returns false when
// no path exists or the energy cost would drive battery below zero (the
// caller decides between charging detour and Stalled).
func (a *AGV) beginMove(sim *Simulator, targetPoint string, state AGVState) bool {
	route, dist, ok := sim.layout.Route(a.currentPoint, targetPoint)
	if !ok {
		return false
	}
	if a.battery < dist*a.cfg.BatteryConsumptionPerMeter {
		return false
	}
	a.route = route
	a.cumDist = make([]float64, len(route))
	for i := 1; i < len(route); i++ {
		pa, _ := sim.layout.PointPosition(route[i-1])
		pb, _ := sim.layout.PointPosition(route[i])
		a.cumDist[i] = a.cumDist[i-1] + pa.Dist(pb)
	}
	a.moveStart = sim.Clock
	a.moveEnd = sim.Clock + secondsToTicks(a.travelSeconds(sim, dist))
	a.moveStartBattery = a.battery
	a.setState(sim, state)
	a.epoch++
	sim.Schedule(&agvArriveEvent{time: a.moveEnd, agvID: a.cfg.ID, epoch: a.epoch})
	logrus.Debugf("[tick %07d] %s moving %s -> %s (%.1fm)", sim.Clock, a.cfg.ID, a.currentPoint, targetPoint, dist)
	return true
}

// arrive handles an agvArriveEvent: settles battery and position at the
// route end and hands control back to the dispatcher (or starts charging
// when the move was a charger run).
func (a *AGV) arrive(sim *Simulator, epoch int) {
	if epoch != a.epoch || len(a.route) == 0 {
		return
	}
	total := a.cumDist[len(a.cumDist)-1]
	a.consumeBattery(sim, total*a.cfg.BatteryConsumptionPerMeter, "move")
	a.stats.TotalDistance += total
	a.currentPoint = a.route[len(a.route)-1]
	a.pos, _ = sim.layout.PointPosition(a.currentPoint)
	a.route = nil
	a.cumDist = nil

	sim.kpi.AddEnergySeconds(ticksToSeconds(a.moveEnd - a.moveStart))

	if a.movingToCharger {
		a.movingToCharger = false
		a.startCharging(sim)
		return
	}
	sim.dispatcher.AGVArrived(sim, a)
}

// PositionAt interpolates position along the in-flight route. Outside a
// move it returns the parked position. Read-only.
func (a *AGV) PositionAt(sim *Simulator, now int64) Position {
	if len(a.route) == 0 || now <= a.moveStart {
		return a.pos
	}
	if now >= a.moveEnd {
		p, _ := sim.layout.PointPosition(a.route[len(a.route)-1])
		return p
	}
	total := a.cumDist[len(a.cumDist)-1]
	frac := float64(now-a.moveStart) / float64(a.moveEnd-a.moveStart)
	traveled := frac * total
	for i := 1; i < len(a.route); i++ {
		if traveled <= a.cumDist[i] {
			segLen := a.cumDist[i] - a.cumDist[i-1]
			segFrac := 0.0
			if segLen > 0 {
				segFrac = (traveled - a.cumDist[i-1]) / segLen
			}
			pa, _ := sim.layout.PointPosition(a.route[i-1])
			pb, _ := sim.layout.PointPosition(a.route[i])
			return Position{
				X: pa.X + (pb.X-pa.X)*segFrac,
				Y: pa.Y + (pb.Y-pa.Y)*segFrac,
			}
		}
	}
	return a.pos
}

// BatteryAt interpolates battery for continuous sampling: draining along a
// move, rising during a charge. Read-only.
func (a *AGV) BatteryAt(now int64) float64 {
	switch {
	case len(a.route) > 0 && now > a.moveStart:
		total := a.cumDist[len(a.cumDist)-1]
		frac := float64(now-a.moveStart) / float64(a.moveEnd-a.moveStart)
		if frac > 1 {
			frac = 1
		}
		return a.moveStartBattery - frac*total*a.cfg.BatteryConsumptionPerMeter
	case a.state == AGVCharging && now > a.chargeStart:
		level := a.chargeStartBattery + ticksToSeconds(now-a.chargeStart)*a.cfg.ChargingSpeed
		if level > a.chargeTarget {
			level = a.chargeTarget
		}
		return level
	default:
		return a.battery
	}
}

// consumeBattery drains battery, aborting on the impossible: feasibility
// checks run before every segment, so crossing zero is a broken invariant.
func (a *AGV) consumeBattery(sim *Simulator, amount float64, reason string) {
	if amount <= 0 {
		return
	}
	a.battery -= amount
	a.stats.EnergyConsumed += amount
	if a.battery < -1e-9 {
		panic(fmt.Sprintf("agv %s: battery below zero (%.3f) after %s", a.cfg.ID, a.battery, reason))
	}
	if a.battery < 0 {
		a.battery = 0
	}
}

// ConsumeActionBattery drains the per-action cost for one load or unload.
func (a *AGV) ConsumeActionBattery(sim *Simulator) {
	a.consumeBattery(sim, a.cfg.BatteryConsumptionPerAction, "action")
}

// LoadUnit places a unit onto the payload. Exceeding capacity is a broken
// invariant: the dispatcher checks PayloadFree before every load.
func (a *AGV) LoadUnit(unit *Unit) {
	if len(a.payload) >= a.cfg.PayloadCapacity {
		panic(fmt.Sprintf("agv %s: payload overflow", a.cfg.ID))
	}
	a.payload = append(a.payload, unit)
}

// UnloadUnit removes a unit from the payload.
func (a *AGV) UnloadUnit(unit *Unit) {
	for i, u := range a.payload {
		if u == unit {
			a.payload = append(a.payload[:i], a.payload[i+1:]...)
			return
		}
	}
	panic(fmt.Sprintf("agv %s: unit %s not on payload", a.cfg.ID, unit.ID))
}

// GoCharge routes the AGV to its charging point. forced marks the charge
// as an emergency one for the charge-cycle-efficiency KPI. When even the
// charger run is infeasible the AGV stalls.
func (a *AGV) GoCharge(sim *Simulator, forced bool) {
	a.voluntaryCharge = !forced
	if forced {
		a.stats.ForcedChargeCount++
		a.stats.LowBatteryInterruptions++
	} else {
		a.stats.VoluntaryChargeCount++
	}
	if a.currentPoint == a.cfg.ChargingPoint {
		a.startCharging(sim)
		return
	}
	if !a.canReachCharger(sim) {
		a.stall(sim, "battery too low to reach charging point")
		return
	}
	state := AGVMoving
	if forced {
		state = AGVLowBattery
	}
	a.movingToCharger = true
	if !a.beginMove(sim, a.cfg.ChargingPoint, state) {
		a.movingToCharger = false
		a.stall(sim, "no feasible route to charging point")
	}
}

// startCharging parks at the charger and schedules completion. Voluntary
// charges fill to the voluntary target, forced ones to the forced target;
// both cap at 100.
func (a *AGV) startCharging(sim *Simulator) {
	target := forcedChargeTarget
	if a.voluntaryCharge {
		target = voluntaryChargeTarget
	}
	if target > 100 {
		target = 100
	}
	if a.battery >= target {
		a.setState(sim, AGVIdle)
		sim.dispatcher.AGVAvailable(sim, a)
		return
	}
	a.chargeStart = sim.Clock
	a.chargeStartBattery = a.battery
	a.chargeTarget = target
	a.setState(sim, AGVCharging)
	chargeTicks := secondsToTicks((target - a.battery) / a.cfg.ChargingSpeed)
	a.epoch++
	sim.Schedule(&agvChargedEvent{time: sim.Clock + chargeTicks, agvID: a.cfg.ID, epoch: a.epoch})
	logrus.Debugf("[tick %07d] %s charging %.1f%% -> %.1f%%", sim.Clock, a.cfg.ID, a.battery, target)
}

// finishCharging handles an agvChargedEvent.
func (a *AGV) finishCharging(sim *Simulator, epoch int) {
	if epoch != a.epoch || a.state != AGVCharging {
		return
	}
	a.stats.TotalChargeTicks += sim.Clock - a.chargeStart
	sim.kpi.AddEnergySeconds(ticksToSeconds(sim.Clock - a.chargeStart))
	a.battery = a.chargeTarget
	a.setState(sim, AGVIdle)
	sim.dispatcher.AGVAvailable(sim, a)
}

// stall puts the AGV into the terminal Stalled state and reports it as a
// scheduling-infeasible condition through telemetry. The simulation keeps
// running without it.
func (a *AGV) stall(sim *Simulator, reason string) {
	logrus.Warnf("[tick %07d] %s stalled: %s", sim.Clock, a.cfg.ID, reason)
	a.setState(sim, AGVStalled)
	if a.task != nil {
		sim.dispatcher.AbortTask(sim, a)
	}
	sim.emit(telemetry.Event{
		Kind:   telemetry.KindFaultOnset,
		Tick:   sim.Clock,
		Source: a.cfg.ID,
		State:  string(AGVStalled),
		Detail: reason,
	})
}

// SetHealth implements Device. Health takes effect for new assignments and
// new segments; an in-flight segment completes at its scheduled time.
func (a *AGV) SetHealth(sim *Simulator, h Health) {
	if a.health == h {
		return
	}
	wasFaulted := a.health == Faulted
	a.health = h
	if wasFaulted && h != Faulted && a.state == AGVIdle {
		sim.dispatcher.AGVAvailable(sim, a)
	}
}

func (a *AGV) setState(sim *Simulator, state AGVState) {
	if a.state == state {
		return
	}
	a.state = state
	switch state {
	case AGVIdle, AGVStalled, AGVWaiting:
		a.busy.markIdle(sim.Clock)
	default:
		a.busy.markBusy(sim.Clock)
	}
	sim.emit(telemetry.Event{
		Kind:    telemetry.KindAGVStateChanged,
		Tick:    sim.Clock,
		Source:  a.cfg.ID,
		State:   string(state),
		Battery: a.battery,
	})
}

// BusyTicks returns accumulated working time as of now.
func (a *AGV) BusyTicks(now int64) int64 {
	return a.busy.busyAt(now)
}
