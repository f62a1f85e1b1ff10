package sim

// Event is a scheduled state transition. Timestamp is in ticks; Execute
// runs with the simulator clock already advanced to that timestamp.
type Event interface {
	Timestamp() int64
	Execute(*Simulator)
}

// queuedEvent pairs an event with its insertion sequence number. Events at
// equal timestamps execute in scheduling order (FIFO), never reordered by
// entity id or type, which keeps replays reproducible.
type queuedEvent struct {
	ev  Event
	seq uint64
}

// eventQueue implements heap.Interface ordered by (timestamp, seq).
type eventQueue []queuedEvent

func (eq eventQueue) Len() int { return len(eq) }

func (eq eventQueue) Less(i, j int) bool {
	ti, tj := eq[i].ev.Timestamp(), eq[j].ev.Timestamp()
	if ti != tj {
		return ti < tj
	}
	return eq[i].seq < eq[j].seq
}

func (eq eventQueue) Swap(i, j int) { eq[i], eq[j] = eq[j], eq[i] }

func (eq *eventQueue) Push(x any) {
	*eq = append(*eq, x.(queuedEvent))
}

func (eq *eventQueue) Pop() any {
	old := *eq
	n := len(old)
	item := old[n-1]
	*eq = old[0 : n-1]
	return item
}

// orderGenEvent is the order generator's recurring tick.
type orderGenEvent struct {
	time int64
}

func (e *orderGenEvent) Timestamp() int64 { return e.time }

func (e *orderGenEvent) Execute(sim *Simulator) {
	sim.generator.generate(sim)
	sim.generator.scheduleNext(sim)
}

// orderDeadlineEvent fires at an order's deadline; a still-open order is
// failed and its remaining units scrapped.
type orderDeadlineEvent struct {
	time    int64
	orderID string
}

func (e *orderDeadlineEvent) Timestamp() int64 { return e.time }

func (e *orderDeadlineEvent) Execute(sim *Simulator) {
	sim.handleDeadline(e.orderID)
}

// stationDoneEvent completes a station's in-flight processing. The epoch
// guards against events invalidated by a fault freeze.
type stationDoneEvent struct {
	time      int64
	stationID string
	epoch     int
}

func (e *stationDoneEvent) Timestamp() int64 { return e.time }

func (e *stationDoneEvent) Execute(sim *Simulator) {
	sim.stations[e.stationID].completeProcessing(sim, e.epoch)
}

// agvArriveEvent fires when an AGV reaches the end of its route.
type agvArriveEvent struct {
	time  int64
	agvID string
	epoch int
}

func (e *agvArriveEvent) Timestamp() int64 { return e.time }

func (e *agvArriveEvent) Execute(sim *Simulator) {
	sim.agvs[e.agvID].arrive(sim, e.epoch)
}

// agvChargedEvent fires when an AGV's charge reaches its target level.
type agvChargedEvent struct {
	time  int64
	agvID string
	epoch int
}

func (e *agvChargedEvent) Timestamp() int64 { return e.time }

func (e *agvChargedEvent) Execute(sim *Simulator) {
	sim.agvs[e.agvID].finishCharging(sim, e.epoch)
}

// conveyorReleaseEvent fires when a unit finishes its transfer.
type conveyorReleaseEvent struct {
	time       int64
	conveyorID string
	poolName   string
	epoch      int
}

func (e *conveyorReleaseEvent) Timestamp() int64 { return e.time }

func (e *conveyorReleaseEvent) Execute(sim *Simulator) {
	sim.conveyors[e.conveyorID].release(sim, e.poolName, e.epoch)
}

// faultInjectEvent is the fault injector's recurring tick.
type faultInjectEvent struct {
	time int64
}

func (e *faultInjectEvent) Timestamp() int64 { return e.time }

func (e *faultInjectEvent) Execute(sim *Simulator) {
	sim.faults.inject(sim)
	sim.faults.scheduleNext(sim)
}

// faultRecoverEvent fires at a fault's auto-recovery time.
type faultRecoverEvent struct {
	time     int64
	deviceID string
	epoch    int
}

func (e *faultRecoverEvent) Timestamp() int64 { return e.time }

func (e *faultRecoverEvent) Execute(sim *Simulator) {
	sim.faults.recover(sim, e.deviceID, e.epoch)
}

// kpiSnapshotEvent publishes a KPI snapshot and entity-state summary at
// the status publish cadence, regardless of event density.
type kpiSnapshotEvent struct {
	time int64
}

func (e *kpiSnapshotEvent) Timestamp() int64 { return e.time }

func (e *kpiSnapshotEvent) Execute(sim *Simulator) {
	sim.publishSnapshot()
	sim.Schedule(&kpiSnapshotEvent{
		time: e.time + secondsToTicks(sim.cfg.System.StatusPublishInterval),
	})
}
