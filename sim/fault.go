package sim

import (
	"sort"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/floorsim/floorsim/sim/telemetry"
)

// FaultEvent records one active primary fault. Propagated Degraded
// statuses reference the fault through the injector's implication index,
// never through object cycles.
type FaultEvent struct {
	ID             uuid.UUID
	DeviceID       string
	OnsetTick      int64
	RecoveryTick   int64
	PropagatedFrom string // empty for primary faults
	epoch          int
}

// FaultInjector periodically disables one device and propagates a
// Degraded status to its one-hop neighbors in the device-relationship
// graph. Auto-recovery (or a manual Repair, whichever first) clears the
// fault and any dependent degradations not implicated by another still-
// active fault.
type FaultInjector struct {
	cfg   FaultSystemConfig
	graph map[string][]string

	active map[string]*FaultEvent
	// implicatedBy[deviceID] is the set of faulted devices currently
	// degrading it.
	implicatedBy map[string]map[string]bool
	epoch        int
}

// NewFaultInjector builds a FaultInjector. Neighbor lists are sorted so
// propagation order is deterministic.
func NewFaultInjector(cfg FaultSystemConfig) *FaultInjector {
	graph := make(map[string][]string, len(cfg.DeviceRelationships))
	for dev, related := range cfg.DeviceRelationships {
		neighbors := append([]string(nil), related...)
		sort.Strings(neighbors)
		graph[dev] = neighbors
	}
	return &FaultInjector{
		cfg:          cfg,
		graph:        graph,
		active:       make(map[string]*FaultEvent),
		implicatedBy: make(map[string]map[string]bool),
	}
}

// Enabled reports whether fault injection is configured at all.
func (f *FaultInjector) Enabled() bool {
	return f.cfg.FaultInjectionInterval.Max > 0
}

// ActiveFaults returns the currently faulted device ids, sorted.
func (f *FaultInjector) ActiveFaults() []string {
	ids := make([]string, 0, len(f.active))
	for id := range f.active {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// scheduleNext queues the next injection tick.
func (f *FaultInjector) scheduleNext(sim *Simulator) {
	interval := f.cfg.FaultInjectionInterval.Sample(sim.rng.ForStream(StreamFaults))
	sim.Schedule(&faultInjectEvent{time: sim.Clock + secondsToTicks(interval)})
}

// inject picks a device uniformly over the sorted device table and faults
// it for a duration drawn from auto_recovery_time. Already-faulted picks
// are skipped (the next injection tick is scheduled regardless).
func (f *FaultInjector) inject(sim *Simulator) {
	rng := sim.rng.ForStream(StreamFaults)
	candidates := sim.faultableDevices()
	if len(candidates) == 0 {
		return
	}
	deviceID := candidates[rng.Intn(len(candidates))]
	duration := f.cfg.AutoRecoveryTime.Sample(rng)
	if _, alreadyFaulted := f.active[deviceID]; alreadyFaulted {
		return
	}
	f.Fault(sim, deviceID, secondsToTicks(duration))
}

// Fault marks a device Faulted for durationTicks and propagates Degraded
// one hop. Exported so harnesses can inject deterministic faults.
func (f *FaultInjector) Fault(sim *Simulator, deviceID string, durationTicks int64) {
	dev, ok := sim.devices[deviceID]
	if !ok {
		panic("fault injector: unknown device " + deviceID)
	}
	f.epoch++
	fault := &FaultEvent{
		ID:           sim.newUUID(),
		DeviceID:     deviceID,
		OnsetTick:    sim.Clock,
		RecoveryTick: sim.Clock + durationTicks,
		epoch:        f.epoch,
	}
	f.active[deviceID] = fault
	dev.SetHealth(sim, Faulted)
	logrus.Infof("[tick %07d] fault onset: %s until %d", sim.Clock, deviceID, fault.RecoveryTick)
	sim.emit(telemetry.Event{
		Kind:   telemetry.KindFaultOnset,
		Tick:   sim.Clock,
		Source: deviceID,
		State:  string(Faulted),
		Detail: fault.ID.String(),
	})

	// One hop only: neighbors of the faulted device degrade, their own
	// neighbors are untouched.
	for _, neighbor := range f.graph[deviceID] {
		nd, ok := sim.devices[neighbor]
		if !ok {
			continue
		}
		if f.implicatedBy[neighbor] == nil {
			f.implicatedBy[neighbor] = make(map[string]bool)
		}
		f.implicatedBy[neighbor][deviceID] = true
		if nd.Health() == Healthy {
			nd.SetHealth(sim, Degraded)
			sim.emit(telemetry.Event{
				Kind:   telemetry.KindFaultOnset,
				Tick:   sim.Clock,
				Source: neighbor,
				State:  string(Degraded),
				Detail: "propagated from " + deviceID,
			})
		}
	}

	sim.Schedule(&faultRecoverEvent{time: fault.RecoveryTick, deviceID: deviceID, epoch: fault.epoch})
}

// recover handles a faultRecoverEvent. Stale epochs (manual repair beat
// the timer) are ignored.
func (f *FaultInjector) recover(sim *Simulator, deviceID string, epoch int) {
	fault, ok := f.active[deviceID]
	if !ok || fault.epoch != epoch {
		return
	}
	f.clear(sim, deviceID)
}

// Repair clears a device's fault before its auto-recovery fires. No-op
// when the device is not faulted.
func (f *FaultInjector) Repair(sim *Simulator, deviceID string) {
	if _, ok := f.active[deviceID]; ok {
		f.clear(sim, deviceID)
	}
}

// clear removes the primary fault and releases dependent degradations,
// except on neighbors another still-active fault also implicates.
func (f *FaultInjector) clear(sim *Simulator, deviceID string) {
	delete(f.active, deviceID)
	dev := sim.devices[deviceID]

	// The recovered device itself may still be degraded by someone else.
	if len(f.implicatedBy[deviceID]) > 0 {
		dev.SetHealth(sim, Degraded)
	} else {
		dev.SetHealth(sim, Healthy)
	}
	logrus.Infof("[tick %07d] fault cleared: %s", sim.Clock, deviceID)
	sim.emit(telemetry.Event{
		Kind:   telemetry.KindFaultCleared,
		Tick:   sim.Clock,
		Source: deviceID,
		State:  string(dev.Health()),
	})
	// Pickups blocked on the faulted device re-score now.
	sim.dispatcher.NotifyResourceFreed(sim, deviceID)

	for _, neighbor := range f.graph[deviceID] {
		implicated := f.implicatedBy[neighbor]
		if implicated == nil {
			continue
		}
		delete(implicated, deviceID)
		nd, ok := sim.devices[neighbor]
		if !ok {
			continue
		}
		if _, stillFaulted := f.active[neighbor]; stillFaulted {
			continue
		}
		if len(implicated) == 0 {
			nd.SetHealth(sim, Healthy)
			sim.emit(telemetry.Event{
				Kind:   telemetry.KindFaultCleared,
				Tick:   sim.Clock,
				Source: neighbor,
				State:  string(Healthy),
			})
		}
	}
}
