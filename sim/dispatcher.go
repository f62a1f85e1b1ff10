package sim

import (
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"
)

// voluntaryChargeThreshold: an idle AGV with no work and battery below
// this level tops up voluntarily, improving the charge-cycle KPI over
// waiting for a forced low-battery interruption.
const voluntaryChargeThreshold = 40.0

type taskPhase int

const (
	phaseToPickup taskPhase = iota
	phaseToDropoff
)

// TransportTask is one AGV assignment: drive to the pickup point, take the
// unit from its current device, drive to the dropoff point, deliver it to
// the next device on its route.
type TransportTask struct {
	Unit        *Unit
	FromID      string
	ToID        string
	PickupPoint string
	DropPoint   string
	Phase       taskPhase
}

// Dispatcher is the event-driven reactive scheduler. It owns the queue of
// units awaiting transport and re-scores it on every relevant state change
// (AGV freed, buffer slot freed, conveyor slot freed) rather than on a
// fixed period.
type Dispatcher struct {
	pending []*Unit
	// waiting holds AGVs parked at a full target device, keyed by the
	// device id, retried FIFO when the device frees a slot.
	waiting map[string][]*AGV

	// Evaluate re-enters through the resource-freed notification chain
	// (assign -> pickup -> slot freed -> Evaluate). Nested calls mark the
	// queue dirty and return; the outermost call loops until stable.
	evaluating bool
	dirty      bool

	// starved collects AGVs passed over in the current pass only because
	// their battery could not cover any pending task.
	starved map[string]bool
}

// NewDispatcher creates an empty Dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{waiting: make(map[string][]*AGV)}
}

// PendingCount returns the number of units awaiting transport.
func (d *Dispatcher) PendingCount() int { return len(d.pending) }

// EnqueueUnit queues a unit for its next transport leg and re-evaluates.
func (d *Dispatcher) EnqueueUnit(sim *Simulator, unit *Unit) {
	d.pending = append(d.pending, unit)
	d.Evaluate(sim)
}

// UnitReady is called by a device when a unit finished there (processing
// done, conveyor transfer done) and awaits its next leg.
func (d *Dispatcher) UnitReady(sim *Simulator, unit *Unit, deviceID string) {
	if unit.Cancelled {
		return
	}
	if _, ok := unit.NextDevice(); !ok {
		panic(fmt.Sprintf("dispatcher: unit %s ready at %s with no next device", unit.ID, deviceID))
	}
	d.pending = append(d.pending, unit)
	d.Evaluate(sim)
}

// NotifyResourceFreed is called whenever a device releases a slot. Waiting
// AGVs retry their delivery first (they already hold the unit), then the
// pending queue is re-scored.
func (d *Dispatcher) NotifyResourceFreed(sim *Simulator, deviceID string) {
	queue := d.waiting[deviceID]
	if len(queue) > 0 {
		d.waiting[deviceID] = nil
		for _, agv := range queue {
			d.tryDeliver(sim, agv)
		}
	}
	d.Evaluate(sim)
}

// AGVAvailable is called when an AGV returns to Idle (task done, charge
// done, fault cleared). Low battery forces a charge before anything else.
func (d *Dispatcher) AGVAvailable(sim *Simulator, agv *AGV) {
	if agv.State() != AGVIdle || agv.Health() == Faulted {
		return
	}
	if agv.LowBattery() {
		agv.GoCharge(sim, true)
		return
	}
	d.Evaluate(sim)
	if agv.State() == AGVIdle && len(d.pending) == 0 && agv.Battery() < voluntaryChargeThreshold {
		agv.GoCharge(sim, false)
	}
}

// Evaluate walks the pending queue in deterministic order (earliest
// deadline first, then order id, then unit id) and assigns each unit the
// closest assignable AGV with the battery to finish the task. Units with
// no feasible AGV stay queued until the next state change.
func (d *Dispatcher) Evaluate(sim *Simulator) {
	if d.evaluating {
		d.dirty = true
		return
	}
	d.evaluating = true
	defer func() { d.evaluating = false }()

	for {
		d.dirty = false
		queue := d.pending
		d.pending = nil
		sort.SliceStable(queue, func(i, j int) bool {
			a, b := queue[i], queue[j]
			if a.Order.Deadline != b.Order.Deadline {
				return a.Order.Deadline < b.Order.Deadline
			}
			if a.Order.ID != b.Order.ID {
				return a.Order.ID < b.Order.ID
			}
			return a.ID < b.ID
		})

		var remaining []*Unit
		for _, unit := range queue {
			if unit.Cancelled {
				continue
			}
			if !d.tryAssign(sim, unit) {
				remaining = append(remaining, unit)
			}
		}
		// Units enqueued by nested calls during this pass sit in
		// d.pending now; keep them behind the still-unassigned ones.
		d.pending = append(remaining, d.pending...)
		if !d.dirty {
			break
		}
	}
	d.chargeStarved(sim)
}

// chargeStarved sends each idle AGV that was passed over only for battery
// to a voluntary charge. An AGV sitting between the low-battery threshold
// and the cheapest pending task's cost would otherwise never leave Idle.
// AGVs that cannot reach their charger stay parked; the opportunistic
// top-up never stalls one.
func (d *Dispatcher) chargeStarved(sim *Simulator) {
	starved := d.starved
	d.starved = nil
	if len(starved) == 0 || len(d.pending) == 0 {
		return
	}
	for _, id := range sim.agvOrder {
		if !starved[id] {
			continue
		}
		agv := sim.agvs[id]
		if agv.State() == AGVIdle && agv.Health() != Faulted &&
			agv.Battery() < voluntaryChargeTarget && agv.canReachCharger(sim) {
			agv.GoCharge(sim, false)
		}
	}
}

// tryAssign finds an AGV for one unit. Returns true when the unit was
// assigned (and left the pending queue).
func (d *Dispatcher) tryAssign(sim *Simulator, unit *Unit) bool {
	nextID, ok := unit.NextDevice()
	if !ok {
		return true // nothing to do; drop from queue
	}
	from := sim.devices[unit.CurrentDevice()]
	to := sim.devices[nextID]
	if from.Health() == Faulted {
		// Pickups from a faulted device wait for recovery.
		return false
	}
	pickupPoint := devicePickupPoint(from)
	dropPoint := deviceDropPoint(to)

	var best *AGV
	bestDist := 0.0
	for _, id := range sim.agvOrder {
		agv := sim.agvs[id]
		if !agv.Assignable() || agv.LowBattery() {
			continue
		}
		if !agv.CanUndertake(sim, pickupPoint, dropPoint) {
			if agv.chargeCoversTask(sim, pickupPoint, dropPoint) {
				if d.starved == nil {
					d.starved = make(map[string]bool)
				}
				d.starved[id] = true
			}
			continue
		}
		dist, reachable := sim.layout.Distance(agv.CurrentPoint(), pickupPoint)
		if !reachable {
			continue
		}
		// Strict less keeps the lowest id on distance ties because
		// agvOrder is sorted by id.
		if best == nil || dist < bestDist {
			best = agv
			bestDist = dist
		}
	}
	if best == nil {
		return false
	}

	best.task = &TransportTask{
		Unit:        unit,
		FromID:      from.ID(),
		ToID:        to.ID(),
		PickupPoint: pickupPoint,
		DropPoint:   dropPoint,
		Phase:       phaseToPickup,
	}
	logrus.Debugf("[tick %07d] dispatch %s: %s %s -> %s", sim.Clock, best.ID(), unit.ID, from.ID(), to.ID())
	if best.CurrentPoint() == pickupPoint {
		d.AGVArrived(sim, best)
		return true
	}
	if !best.beginMove(sim, pickupPoint, AGVMoving) {
		// CanUndertake passed, so this is a vanished path; stall rather
		// than mask it. AbortTask has already requeued the unit, so it
		// must not stay in the caller's queue too.
		best.stall(sim, "no route to pickup point")
		return true
	}
	return true
}

// AGVArrived advances an AGV's task after it reaches the current target
// point: pick up at the source, or deliver at the destination.
func (d *Dispatcher) AGVArrived(sim *Simulator, agv *AGV) {
	task := agv.task
	if task == nil {
		agv.setState(sim, AGVIdle)
		d.AGVAvailable(sim, agv)
		return
	}
	switch task.Phase {
	case phaseToPickup:
		d.pickup(sim, agv)
	case phaseToDropoff:
		d.tryDeliver(sim, agv)
	}
}

// pickup takes the task's unit off its source device. Load/unload
// interactions are instantaneous; only the battery action cost applies.
func (d *Dispatcher) pickup(sim *Simulator, agv *AGV) {
	task := agv.task
	unit := task.Unit
	agv.setState(sim, AGVInteracting)

	if unit.Cancelled || !sim.takeFromDevice(task.FromID, unit) {
		agv.task = nil
		agv.setState(sim, AGVIdle)
		d.AGVAvailable(sim, agv)
		return
	}
	assertSupportsOp(sim.devices[task.FromID], task.PickupPoint, opLoad)

	agv.LoadUnit(unit)
	agv.ConsumeActionBattery(sim)
	unit.Done = false
	if unit.Order.Status == OrderPending {
		unit.Order.Status = OrderInProgress
	}

	task.Phase = phaseToDropoff
	if agv.CurrentPoint() == task.DropPoint {
		d.tryDeliver(sim, agv)
		return
	}
	if !agv.beginMove(sim, task.DropPoint, AGVMoving) {
		agv.stall(sim, "cannot reach dropoff point")
	}
}

// tryDeliver attempts to hand the carried unit to the target device. A
// full or faulted target is a wait state: the AGV holds at the approach
// point and retries when the device frees a slot.
func (d *Dispatcher) tryDeliver(sim *Simulator, agv *AGV) {
	task := agv.task
	unit := task.Unit

	if unit.Cancelled {
		// Cancellation releases the payload slot at the next touch point.
		agv.UnloadUnit(unit)
		agv.task = nil
		agv.setState(sim, AGVIdle)
		d.AGVAvailable(sim, agv)
		return
	}

	if !sim.deliverToDevice(task.ToID, unit) {
		agv.setState(sim, AGVWaiting)
		if !d.isWaiting(agv, task.ToID) {
			d.waiting[task.ToID] = append(d.waiting[task.ToID], agv)
		}
		return
	}
	assertSupportsOp(sim.devices[task.ToID], task.DropPoint, opUnload)

	agv.UnloadUnit(unit)
	agv.ConsumeActionBattery(sim)
	agv.stats.TasksCompleted++
	unit.RouteIdx++
	agv.task = nil

	sim.unitDelivered(unit)

	if agv.LowBattery() {
		agv.GoCharge(sim, true)
		return
	}
	agv.setState(sim, AGVIdle)
	d.AGVAvailable(sim, agv)
}

// AbortTask drops an AGV's task (stall). Units not yet picked up go back
// to the pending queue; a carried unit stays stranded until its order's
// deadline fails it.
func (d *Dispatcher) AbortTask(sim *Simulator, agv *AGV) {
	task := agv.task
	agv.task = nil
	if task == nil {
		return
	}
	if task.Phase == phaseToPickup && !task.Unit.Cancelled {
		d.pending = append(d.pending, task.Unit)
	}
}

// removeCancelled drops a cancelled order's units from the pending queue
// and any waiting registrations become no-ops via the Cancelled flag.
func (d *Dispatcher) removeCancelled(order *Order) {
	kept := d.pending[:0]
	for _, u := range d.pending {
		if u.Order == order {
			continue
		}
		kept = append(kept, u)
	}
	d.pending = kept
}

// releaseCancelledWaiters retries every waiting AGV whose carried unit
// was cancelled, so the payload slot frees without the blocked device
// ever releasing one.
func (d *Dispatcher) releaseCancelledWaiters(sim *Simulator) {
	deviceIDs := make([]string, 0, len(d.waiting))
	for deviceID := range d.waiting {
		deviceIDs = append(deviceIDs, deviceID)
	}
	sort.Strings(deviceIDs)
	for _, deviceID := range deviceIDs {
		queue := d.waiting[deviceID]
		var retry []*AGV
		for _, agv := range queue {
			if agv.task != nil && agv.task.Unit.Cancelled {
				retry = append(retry, agv)
			}
		}
		if len(retry) == 0 {
			continue
		}
		d.waiting[deviceID] = nil
		for _, agv := range queue {
			if agv.task != nil && agv.task.Unit.Cancelled {
				d.tryDeliver(sim, agv)
			} else if !d.isWaiting(agv, deviceID) {
				d.waiting[deviceID] = append(d.waiting[deviceID], agv)
			}
		}
	}
}

func (d *Dispatcher) isWaiting(agv *AGV, deviceID string) bool {
	for _, a := range d.waiting[deviceID] {
		if a == agv {
			return true
		}
	}
	return false
}

// ChoosePool selects the sub-pool of a branching conveyor for a delivery,
// preferring the branch whose downstream station has the most free buffer
// slots; ties resolve in pool-name order.
func (d *Dispatcher) ChoosePool(sim *Simulator, conveyor *Conveyor) string {
	if !conveyor.Branching() {
		return PoolMain
	}
	bestPool := ""
	bestFree := -1
	for _, name := range conveyor.Pools() {
		if !conveyor.HasSpace(name) {
			continue
		}
		free := 0
		if st, ok := sim.stations[conveyor.PoolDownstream(name)]; ok {
			free = st.cfg.BufferSize - st.BufferLevel()
		}
		if free > bestFree {
			bestPool = name
			bestFree = free
		}
	}
	if bestPool == "" {
		// Every pool full; report the first so Push fails and the AGV
		// enters the wait state.
		return conveyor.Pools()[0]
	}
	return bestPool
}

// devicePickupPoint is where an AGV collects from a device.
func devicePickupPoint(dev Device) string {
	if c, ok := dev.(*Conveyor); ok {
		return c.ExitPoint()
	}
	return dev.InteractingPoints()[0]
}

// deviceDropPoint is where an AGV delivers to a device.
func deviceDropPoint(dev Device) string {
	if c, ok := dev.(*Conveyor); ok {
		return c.EntryPoint()
	}
	return dev.InteractingPoints()[0]
}

// agvOp distinguishes the two instantaneous AGV interactions when a point
// is validated against a device.
type agvOp string

const (
	opLoad   agvOp = "load"
	opUnload agvOp = "unload"
)

// assertSupportsOp aborts on an interaction the device does not service at
// that point. Conveyors are directional: AGVs load at the exit point and
// unload at the entry point; every other device serves both operations at
// each of its interacting points. Reaching the panic means the
// dispatcher's routing broke.
func assertSupportsOp(dev Device, point string, op agvOp) {
	if c, ok := dev.(*Conveyor); ok {
		want := c.EntryPoint()
		if op == opLoad {
			want = c.ExitPoint()
		}
		if point != want {
			panic(fmt.Sprintf("dispatcher: %s does not support %s at point %s", dev.ID(), op, point))
		}
		return
	}
	for _, p := range dev.InteractingPoints() {
		if p == point {
			return
		}
	}
	panic(fmt.Sprintf("dispatcher: %s does not support %s at point %s", dev.ID(), op, point))
}
