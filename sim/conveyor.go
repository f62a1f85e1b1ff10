package sim

import (
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"
)

// PoolMain is the pool name of a non-branching conveyor and the default
// branch of a branching one.
const PoolMain = "main"

type conveyItem struct {
	unit  *Unit
	epoch int
}

// pool is one capacity-bounded belt segment of a conveyor.
type pool struct {
	name     string
	capacity int
	// inTransit units are riding the belt; ready units have reached the
	// exit point and wait for pickup. Both occupy pool capacity.
	inTransit []conveyItem
	ready     []*Unit
}

func (p *pool) occupied() int { return len(p.inTransit) + len(p.ready) }

// Conveyor holds a unit for transfer_time seconds between its entry and
// exit points. Branching conveyors carry named sub-pools with independent
// capacities, with main_capacity bounding total in-flight across all of
// them.
type Conveyor struct {
	cfg       ConveyorConfig
	health    Health
	pools     map[string]*pool
	poolOrder []string
	epoch     int
	busy      busyTracker
}

// NewConveyor creates a Conveyor with its pools empty.
func NewConveyor(cfg ConveyorConfig) *Conveyor {
	c := &Conveyor{
		cfg:    cfg,
		health: Healthy,
		pools:  make(map[string]*pool),
		busy:   newBusyTracker(),
	}
	if len(cfg.SubPools) == 0 {
		c.pools[PoolMain] = &pool{name: PoolMain, capacity: cfg.Capacity}
		c.poolOrder = []string{PoolMain}
	} else {
		for name, sp := range cfg.SubPools {
			c.pools[name] = &pool{name: name, capacity: sp.Capacity}
			c.poolOrder = append(c.poolOrder, name)
		}
		sort.Strings(c.poolOrder)
	}
	return c
}

func (c *Conveyor) ID() string     { return c.cfg.ID }
func (c *Conveyor) Health() Health { return c.health }

// InteractingPoints implements Device: units enter at the entry point and
// leave at the exit point.
func (c *Conveyor) InteractingPoints() []string {
	return []string{c.cfg.EntryPoint, c.cfg.ExitPoint}
}

// EntryPoint returns the path point where units are pushed on.
func (c *Conveyor) EntryPoint() string { return c.cfg.EntryPoint }

// ExitPoint returns the path point where released units are picked up.
func (c *Conveyor) ExitPoint() string { return c.cfg.ExitPoint }

// Branching reports whether the conveyor has named sub-pools.
func (c *Conveyor) Branching() bool { return len(c.cfg.SubPools) > 0 }

// Pools returns the pool names in deterministic order.
func (c *Conveyor) Pools() []string { return c.poolOrder }

// PoolDownstream returns the downstream device of a branching sub-pool.
func (c *Conveyor) PoolDownstream(name string) string {
	return c.cfg.SubPools[name].Downstream
}

// totalOccupied sums occupancy across pools.
func (c *Conveyor) totalOccupied() int {
	total := 0
	for _, p := range c.pools {
		total += p.occupied()
	}
	return total
}

// HasSpace reports whether the named pool can accept a unit, honoring both
// the per-pool capacity and the branching total bound. Faulted conveyors
// accept nothing.
func (c *Conveyor) HasSpace(poolName string) bool {
	if c.health == Faulted {
		return false
	}
	p, ok := c.pools[poolName]
	if !ok {
		return false
	}
	if p.occupied() >= p.capacity {
		return false
	}
	if c.Branching() && c.totalOccupied() >= c.cfg.MainCapacity {
		return false
	}
	return true
}

// Push accepts a unit into the named pool and schedules its release after
// transfer_time (stretched by the degradation factor while Degraded).
// Returns false when the pool has no space; the caller treats that as a
// wait state.
func (c *Conveyor) Push(sim *Simulator, unit *Unit, poolName string) bool {
	if !c.HasSpace(poolName) {
		return false
	}
	p := c.pools[poolName]
	c.epoch++
	p.inTransit = append(p.inTransit, conveyItem{unit: unit, epoch: c.epoch})
	if p.occupied() > p.capacity {
		panic(fmt.Sprintf("conveyor %s: pool %s overflow", c.cfg.ID, poolName))
	}
	c.busy.markBusy(sim.Clock)

	transfer := c.cfg.TransferTime
	if c.health == Degraded {
		transfer *= sim.cfg.FaultSystem.DegradationFactor
	}
	sim.Schedule(&conveyorReleaseEvent{
		time:       sim.Clock + secondsToTicks(transfer),
		conveyorID: c.cfg.ID,
		poolName:   poolName,
		epoch:      c.epoch,
	})
	logrus.Debugf("[tick %07d] %s accepted %s on pool %s", sim.Clock, c.cfg.ID, unit.ID, poolName)
	return true
}

// release handles a conveyorReleaseEvent: the matching unit reaches the
// exit point and becomes ready for pickup. A freeze (fault) bumps the
// conveyor epoch, so stale releases are re-queued on recovery instead.
func (c *Conveyor) release(sim *Simulator, poolName string, epoch int) {
	p, ok := c.pools[poolName]
	if !ok {
		return
	}
	for i, item := range p.inTransit {
		if item.epoch != epoch {
			continue
		}
		p.inTransit = append(p.inTransit[:i], p.inTransit[i+1:]...)
		if item.unit.Cancelled {
			c.settleIdle(sim)
			sim.dispatcher.NotifyResourceFreed(sim, c.cfg.ID)
			return
		}
		p.ready = append(p.ready, item.unit)
		item.unit.Done = true
		sim.dispatcher.UnitReady(sim, item.unit, c.cfg.ID)
		return
	}
}

// HasReadyUnit reports whether any pool has a released unit waiting.
func (c *Conveyor) HasReadyUnit() bool {
	for _, name := range c.poolOrder {
		if len(c.pools[name].ready) > 0 {
			return true
		}
	}
	return false
}

// Pop removes the oldest ready unit across pools (pool order is
// deterministic), freeing its slot and notifying the dispatcher.
func (c *Conveyor) Pop(sim *Simulator) *Unit {
	for _, name := range c.poolOrder {
		p := c.pools[name]
		if len(p.ready) == 0 {
			continue
		}
		unit := p.ready[0]
		p.ready = p.ready[1:]
		c.settleIdle(sim)
		sim.dispatcher.NotifyResourceFreed(sim, c.cfg.ID)
		return unit
	}
	return nil
}

// TakeUnit removes a specific ready unit for an AGV pickup. Returns false
// when the unit is gone or still riding the belt.
func (c *Conveyor) TakeUnit(sim *Simulator, unit *Unit) bool {
	for _, name := range c.poolOrder {
		p := c.pools[name]
		for i, u := range p.ready {
			if u == unit {
				p.ready = append(p.ready[:i], p.ready[i+1:]...)
				c.settleIdle(sim)
				sim.dispatcher.NotifyResourceFreed(sim, c.cfg.ID)
				return true
			}
		}
	}
	return false
}

// removeCancelled withdraws a cancelled order's ready units. In-transit
// units fall out at their release event.
func (c *Conveyor) removeCancelled(sim *Simulator, order *Order) {
	freed := false
	for _, p := range c.pools {
		kept := p.ready[:0]
		for _, u := range p.ready {
			if u.Order == order {
				freed = true
				continue
			}
			kept = append(kept, u)
		}
		p.ready = kept
	}
	if freed {
		c.settleIdle(sim)
		sim.dispatcher.NotifyResourceFreed(sim, c.cfg.ID)
	}
}

func (c *Conveyor) settleIdle(sim *Simulator) {
	if c.totalOccupied() == 0 {
		c.busy.markIdle(sim.Clock)
	}
}

// SetHealth implements Device. A fault freezes every riding unit in place:
// pending release events are invalidated and rescheduled with the full
// remaining transfer on recovery.
func (c *Conveyor) SetHealth(sim *Simulator, h Health) {
	if c.health == h {
		return
	}
	prev := c.health
	c.health = h
	if h == Faulted {
		// Invalidate in-flight releases by re-assigning item epochs, so
		// the already-scheduled events no longer match anything.
		for _, name := range c.poolOrder {
			p := c.pools[name]
			for i := range p.inTransit {
				c.epoch++
				p.inTransit[i].epoch = c.epoch
			}
		}
		return
	}
	if prev == Faulted {
		// Restart frozen transfers with a fresh transfer time.
		transfer := c.cfg.TransferTime
		if h == Degraded {
			transfer *= sim.cfg.FaultSystem.DegradationFactor
		}
		for _, name := range c.poolOrder {
			p := c.pools[name]
			for i := range p.inTransit {
				c.epoch++
				p.inTransit[i].epoch = c.epoch
				sim.Schedule(&conveyorReleaseEvent{
					time:       sim.Clock + secondsToTicks(transfer),
					conveyorID: c.cfg.ID,
					poolName:   name,
					epoch:      c.epoch,
				})
			}
		}
		sim.dispatcher.NotifyResourceFreed(sim, c.cfg.ID)
	}
}

// BusyTicks returns accumulated occupied time as of now.
func (c *Conveyor) BusyTicks(now int64) int64 {
	return c.busy.busyAt(now)
}
