package sim

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/floorsim/floorsim/sim/telemetry"
)

// OrderStatus is the lifecycle state of an order. Transitions only move
// forward: Pending -> InProgress -> Completed or Failed.
type OrderStatus string

const (
	OrderPending    OrderStatus = "pending"
	OrderInProgress OrderStatus = "in_progress"
	OrderCompleted  OrderStatus = "completed"
	OrderFailed     OrderStatus = "failed"
)

// Terminal reports whether the status is final.
func (s OrderStatus) Terminal() bool {
	return s == OrderCompleted || s == OrderFailed
}

// Order is a customer order for Quantity units of one product. The
// dispatcher owns orders until they reach a terminal status; AGVs and
// stations only reference the units in transit.
type Order struct {
	ID        string
	UUID      uuid.UUID
	CreatedAt int64
	Product   string
	Quantity  int
	Priority  string
	Deadline  int64
	Status    OrderStatus

	completedUnits int
	scrappedUnits  int
	units          []*Unit
}

// CompletedUnits returns how many of the order's units reached the sink.
func (o *Order) CompletedUnits() int { return o.completedUnits }

// ScrappedUnits returns how many units were scrapped at failure.
func (o *Order) ScrappedUnits() int { return o.scrappedUnits }

// Unit is one physical piece of an order moving through the factory.
// RouteIdx indexes the product route device currently holding the unit.
type Unit struct {
	ID       string
	Order    *Order
	Route    []string
	RouteIdx int
	// Done marks that processing at the current station finished and the
	// unit is waiting to be picked up.
	Done bool
	// Cancelled units are silently dropped when they next surface.
	Cancelled bool
}

// Delivered reports whether the unit reached the end of its route.
func (u *Unit) Delivered() bool {
	return u.RouteIdx == len(u.Route)-1
}

// NextDevice returns the id of the next device on the unit's route, or
// ok=false at the end of the route.
func (u *Unit) NextDevice() (string, bool) {
	if u.RouteIdx+1 >= len(u.Route) {
		return "", false
	}
	return u.Route[u.RouteIdx+1], true
}

// CurrentDevice returns the id of the device currently holding the unit.
func (u *Unit) CurrentDevice() string {
	return u.Route[u.RouteIdx]
}

// OrderGenerator stochastically emits orders at uniform random intervals,
// suppressed while max_concurrent_orders non-terminal orders exist.
type OrderGenerator struct {
	cfg     OrderGeneratorConfig
	nextSeq int
}

// NewOrderGenerator creates an OrderGenerator from its config section.
func NewOrderGenerator(cfg OrderGeneratorConfig) *OrderGenerator {
	return &OrderGenerator{cfg: cfg}
}

// scheduleNext queues the next generation tick.
func (g *OrderGenerator) scheduleNext(sim *Simulator) {
	interval := g.cfg.GenerationInterval.Sample(sim.rng.ForStream(StreamOrders))
	sim.Schedule(&orderGenEvent{time: sim.Clock + secondsToTicks(interval)})
}

// generate emits one order unless backpressure suppresses it. The draws
// happen on the dedicated order RNG stream regardless so the stream stays
// aligned across runs that differ only in order completion timing.
func (g *OrderGenerator) generate(sim *Simulator) {
	rng := sim.rng.ForStream(StreamOrders)
	quantity := sampleQuantity(rng, g.cfg.QuantityWeights)
	product := sampleCategorical(rng, g.cfg.ProductDistribution)
	priority := sampleCategorical(rng, g.cfg.PriorityDistribution)

	if sim.activeOrders() >= g.cfg.MaxConcurrentOrders {
		logrus.Debugf("[tick %07d] order generation suppressed: %d concurrent orders", sim.Clock, sim.activeOrders())
		return
	}

	g.nextSeq++
	order := &Order{
		ID:        fmt.Sprintf("ORD-%04d", g.nextSeq),
		UUID:      sim.newUUID(),
		CreatedAt: sim.Clock,
		Product:   product,
		Quantity:  quantity,
		Priority:  priority,
		Status:    OrderPending,
	}
	theoretical := g.cfg.TheoreticalProductionTimes[product]
	multiplier := g.cfg.DeadlineMultipliers[priority]
	order.Deadline = order.CreatedAt + secondsToTicks(theoretical*multiplier)

	sim.registerOrder(order)
	logrus.Infof("[tick %07d] << Order %s: %dx %s priority=%s deadline=%d", sim.Clock, order.ID, quantity, product, priority, order.Deadline)

	sim.emit(telemetry.Event{
		Kind:      telemetry.KindOrderCreated,
		Tick:      sim.Clock,
		Source:    order.ID,
		OrderUUID: order.UUID.String(),
		Product:   product,
		Quantity:  quantity,
		Priority:  priority,
	})

	route := sim.cfg.Products[product].Route
	for i := 0; i < quantity; i++ {
		unit := &Unit{
			ID:    fmt.Sprintf("%s-u%d", order.ID, i+1),
			Order: order,
			Route: route,
		}
		order.units = append(order.units, unit)
		sim.warehouses[route[0]].Stock(unit)
		sim.dispatcher.EnqueueUnit(sim, unit)
	}

	sim.Schedule(&orderDeadlineEvent{time: order.Deadline, orderID: order.ID})
}
