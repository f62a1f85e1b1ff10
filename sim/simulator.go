package sim

import (
	"container/heap"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/floorsim/floorsim/sim/telemetry"
)

// Simulator is the core object that holds simulation time, the device
// table, and the event loop. The model is single-threaded cooperative:
// every state mutation happens inside event execution, so deterministic
// replay holds by construction.
type Simulator struct {
	Clock   int64
	Horizon int64

	queue eventQueue
	seq   uint64

	cfg    *FactoryConfig
	layout *Layout

	stations   map[string]*Station
	agvs       map[string]*AGV
	conveyors  map[string]*Conveyor
	warehouses map[string]*Warehouse
	devices    map[string]Device

	// Deterministic iteration orders; map iteration is never used for
	// anything that affects state.
	stationOrder []string
	agvOrder     []string
	deviceOrder  []string

	dispatcher *Dispatcher
	generator  *OrderGenerator
	faults     *FaultInjector
	kpi        *KPIEngine

	orders     map[string]*Order
	orderOrder []string

	rng  *PartitionedRNG
	sink telemetry.Sink
}

// NewSimulator validates the configuration, builds every entity, and
// schedules the bootstrap events (first generation tick, first fault
// tick, first KPI snapshot). A nil sink discards telemetry.
func NewSimulator(cfg *FactoryConfig, seed int64, sink telemetry.Sink) (*Simulator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if sink == nil {
		sink = telemetry.NopSink{}
	}
	layout, err := NewLayout(cfg.Factory.PathPoints, cfg.Factory.PathEdges)
	if err != nil {
		return nil, err
	}

	s := &Simulator{
		Horizon:    secondsToTicks(cfg.System.Horizon),
		cfg:        cfg,
		layout:     layout,
		stations:   make(map[string]*Station),
		agvs:       make(map[string]*AGV),
		conveyors:  make(map[string]*Conveyor),
		warehouses: make(map[string]*Warehouse),
		devices:    make(map[string]Device),
		dispatcher: NewDispatcher(),
		generator:  NewOrderGenerator(cfg.OrderGenerator),
		faults:     NewFaultInjector(cfg.FaultSystem),
		kpi:        NewKPIEngine(cfg.KPIWeights, cfg.KPICosts),
		orders:     make(map[string]*Order),
		rng:        NewPartitionedRNG(NewSimulationKey(seed)),
		sink:       sink,
	}

	for _, sc := range cfg.Stations {
		st := NewStation(sc)
		s.stations[sc.ID] = st
		s.stationOrder = append(s.stationOrder, sc.ID)
		s.devices[sc.ID] = st
	}
	for _, ac := range cfg.AGVs {
		agv, err := NewAGV(ac, layout)
		if err != nil {
			return nil, err
		}
		s.agvs[ac.ID] = agv
		s.agvOrder = append(s.agvOrder, ac.ID)
		s.devices[ac.ID] = agv
	}
	for _, cc := range cfg.Conveyors {
		cv := NewConveyor(cc)
		s.conveyors[cc.ID] = cv
		s.devices[cc.ID] = cv
	}
	for _, wc := range cfg.Warehouses {
		wh := NewWarehouse(wc)
		s.warehouses[wc.ID] = wh
		s.devices[wc.ID] = wh
	}
	for id := range s.devices {
		s.deviceOrder = append(s.deviceOrder, id)
	}
	sort.Strings(s.deviceOrder)
	sort.Strings(s.stationOrder)
	sort.Strings(s.agvOrder)

	s.generator.scheduleNext(s)
	if s.faults.Enabled() {
		s.faults.scheduleNext(s)
	}
	s.Schedule(&kpiSnapshotEvent{time: secondsToTicks(cfg.System.StatusPublishInterval)})
	return s, nil
}

// Schedule inserts an event into the time-ordered queue. Scheduling into
// the past is a programming error, never silently reordered.
func (s *Simulator) Schedule(ev Event) {
	if ev.Timestamp() < s.Clock {
		panic(fmt.Sprintf("schedule: event %T at %d is before now (%d)", ev, ev.Timestamp(), s.Clock))
	}
	s.seq++
	heap.Push(&s.queue, queuedEvent{ev: ev, seq: s.seq})
}

// Run advances by event jumps until the horizon.
func (s *Simulator) Run() {
	s.RunUntil(s.Horizon)
	logrus.Infof("[tick %07d] simulation ended", s.Clock)
}

// RunUntil pops and executes every event up to and including time t, then
// leaves the clock at t. Events at equal timestamps execute in scheduling
// order.
func (s *Simulator) RunUntil(t int64) {
	if t < s.Clock {
		panic(fmt.Sprintf("run until %d is before now (%d)", t, s.Clock))
	}
	for len(s.queue) > 0 && s.queue[0].ev.Timestamp() <= t {
		item := heap.Pop(&s.queue).(queuedEvent)
		s.Clock = item.ev.Timestamp()
		logrus.Debugf("[tick %07d] executing %T", s.Clock, item.ev)
		item.ev.Execute(s)
	}
	s.Clock = t
}

// Step advances by one fixed step (dt seconds; the configured step size
// when dt <= 0), then re-evaluates continuous quantities: every AGV's
// interpolated position and battery go out as a position update. External
// drivers pace real-time playback with this.
func (s *Simulator) Step(dt float64) {
	if dt <= 0 {
		dt = s.cfg.System.SimulationStepSize
	}
	s.RunUntil(s.Clock + secondsToTicks(dt))
	for _, id := range s.agvOrder {
		agv := s.agvs[id]
		pos := agv.PositionAt(s, s.Clock)
		s.emit(telemetry.Event{
			Kind:    telemetry.KindAGVPositionUpdate,
			Tick:    s.Clock,
			Source:  id,
			State:   string(agv.State()),
			X:       pos.X,
			Y:       pos.Y,
			Battery: agv.BatteryAt(s.Clock),
		})
	}
}

// Config returns the immutable configuration the simulator runs on.
func (s *Simulator) Config() *FactoryConfig { return s.cfg }

// Layout returns the path-point graph.
func (s *Simulator) Layout() *Layout { return s.layout }

// KPI returns the KPI engine.
func (s *Simulator) KPI() *KPIEngine { return s.kpi }

// Faults returns the fault injector, for manual Fault/Repair operations.
func (s *Simulator) Faults() *FaultInjector { return s.faults }

// Station returns a station by id, nil if unknown.
func (s *Simulator) Station(id string) *Station { return s.stations[id] }

// AGV returns an AGV by id, nil if unknown.
func (s *Simulator) AGV(id string) *AGV { return s.agvs[id] }

// Conveyor returns a conveyor by id, nil if unknown.
func (s *Simulator) Conveyor(id string) *Conveyor { return s.conveyors[id] }

// Warehouse returns a warehouse by id, nil if unknown.
func (s *Simulator) Warehouse(id string) *Warehouse { return s.warehouses[id] }

// Order returns an order by id, nil if unknown.
func (s *Simulator) Order(id string) *Order { return s.orders[id] }

// Orders returns all orders in creation order.
func (s *Simulator) Orders() []*Order {
	out := make([]*Order, 0, len(s.orderOrder))
	for _, id := range s.orderOrder {
		out = append(out, s.orders[id])
	}
	return out
}

func (s *Simulator) emit(ev telemetry.Event) {
	s.sink.Emit(ev)
}

// newUUID derives an identity from the run's RNG so identical seeds
// produce identical ids and byte-identical telemetry.
func (s *Simulator) newUUID() uuid.UUID {
	id, err := uuid.NewRandomFromReader(s.rng.ForStream("uuid"))
	if err != nil {
		panic(fmt.Sprintf("uuid generation failed: %v", err))
	}
	return id
}

// activeOrders counts non-terminal orders for generator backpressure.
func (s *Simulator) activeOrders() int {
	n := 0
	for _, id := range s.orderOrder {
		if !s.orders[id].Status.Terminal() {
			n++
		}
	}
	return n
}

func (s *Simulator) registerOrder(order *Order) {
	s.orders[order.ID] = order
	s.orderOrder = append(s.orderOrder, order.ID)
	s.kpi.AddMaterialUnits(order.Quantity)
}

// faultableDevices lists fault injection candidates: every configured
// device except AGVs already stalled.
func (s *Simulator) faultableDevices() []string {
	out := make([]string, 0, len(s.deviceOrder))
	for _, id := range s.deviceOrder {
		if agv, ok := s.agvs[id]; ok && agv.State() == AGVStalled {
			continue
		}
		out = append(out, id)
	}
	return out
}

// takeFromDevice removes a unit from the device currently holding it.
func (s *Simulator) takeFromDevice(deviceID string, unit *Unit) bool {
	switch dev := s.devices[deviceID].(type) {
	case *Warehouse:
		return dev.Take(unit)
	case *Station:
		return dev.TakeUnit(s, unit)
	case *Conveyor:
		return dev.TakeUnit(s, unit)
	default:
		panic(fmt.Sprintf("take from unsupported device %s", deviceID))
	}
}

// deliverToDevice hands a unit to its next route device. A false return
// is resource contention (full buffer, faulted device): a wait state.
func (s *Simulator) deliverToDevice(deviceID string, unit *Unit) bool {
	switch dev := s.devices[deviceID].(type) {
	case *Station:
		return dev.Accept(s, unit)
	case *Conveyor:
		return dev.Push(s, unit, s.dispatcher.ChoosePool(s, dev))
	case *Warehouse:
		dev.Put(s, unit)
		return true
	default:
		panic(fmt.Sprintf("deliver to unsupported device %s", deviceID))
	}
}

// unitDelivered runs after a successful dropoff. Deliveries into a sink
// warehouse finish the unit and possibly the order; everything else is
// handled by the receiving device.
func (s *Simulator) unitDelivered(unit *Unit) {
	wh, ok := s.devices[unit.CurrentDevice()].(*Warehouse)
	if !ok || wh.Role() != WarehouseSink {
		return
	}
	s.kpi.UnitDelivered()
	order := unit.Order
	order.completedUnits++
	if order.completedUnits < order.Quantity || order.Status.Terminal() {
		return
	}
	order.Status = OrderCompleted
	theoretical := s.cfg.OrderGenerator.TheoreticalProductionTimes[order.Product]
	s.kpi.OrderCompleted(order, s.Clock, theoretical)
	logrus.Infof("[tick %07d] >> Order %s completed (%d units)", s.Clock, order.ID, order.Quantity)
	s.emit(telemetry.Event{
		Kind:      telemetry.KindOrderCompleted,
		Tick:      s.Clock,
		Source:    order.ID,
		OrderUUID: order.UUID.String(),
		Product:   order.Product,
		Quantity:  order.Quantity,
	})
}

// handleDeadline fails an order that missed its deadline. Remaining units
// are cancelled and withdrawn, releasing every buffer and payload slot
// they occupy before the terminal transition.
func (s *Simulator) handleDeadline(orderID string) {
	order := s.orders[orderID]
	if order == nil || order.Status.Terminal() {
		return
	}
	s.CancelOrder(order, "deadline exceeded")
}

// CancelOrder fails a non-terminal order and scraps its undelivered
// units. Exposed for external deadline policies beyond the built-in
// auto-fail.
func (s *Simulator) CancelOrder(order *Order, reason string) {
	if order.Status.Terminal() {
		return
	}
	scrapped := 0
	for _, unit := range order.units {
		if unit.Delivered() {
			continue
		}
		unit.Cancelled = true
		scrapped++
	}
	order.Status = OrderFailed
	order.scrappedUnits = scrapped

	s.dispatcher.removeCancelled(order)
	for _, id := range s.deviceOrder {
		switch dev := s.devices[id].(type) {
		case *Warehouse:
			dev.removeCancelled(order)
		case *Station:
			dev.removeCancelled(s, order)
		case *Conveyor:
			dev.removeCancelled(s, order)
		}
	}
	s.dispatcher.releaseCancelledWaiters(s)

	s.kpi.OrderFailed(order, scrapped)
	logrus.Warnf("[tick %07d] >> Order %s failed: %s (%d units scrapped)", s.Clock, order.ID, reason, scrapped)
	s.emit(telemetry.Event{
		Kind:      telemetry.KindOrderFailed,
		Tick:      s.Clock,
		Source:    order.ID,
		OrderUUID: order.UUID.String(),
		Product:   order.Product,
		Quantity:  order.Quantity,
		Detail:    reason,
	})
}

// publishSnapshot emits the periodic KPI snapshot plus entity summary.
func (s *Simulator) publishSnapshot() {
	snap := s.kpi.Snapshot(s, s.Clock)
	s.emit(telemetry.Event{
		Kind:     telemetry.KindKPISnapshot,
		Tick:     s.Clock,
		Source:   "kpi",
		Snapshot: snap,
	})
}

// entityStates summarizes every entity's current state for snapshots.
func (s *Simulator) entityStates() map[string]string {
	out := make(map[string]string, len(s.deviceOrder))
	for _, id := range s.deviceOrder {
		switch dev := s.devices[id].(type) {
		case *Station:
			out[id] = fmt.Sprintf("%s/%s", dev.State(), dev.Health())
		case *AGV:
			out[id] = fmt.Sprintf("%s/%s", dev.State(), dev.Health())
		case *Conveyor:
			out[id] = fmt.Sprintf("%d/%s", dev.totalOccupied(), dev.Health())
		case *Warehouse:
			out[id] = fmt.Sprintf("%d", dev.StockLevel()+dev.ReceivedCount())
		}
	}
	return out
}
