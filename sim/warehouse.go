package sim

import (
	"github.com/sirupsen/logrus"
)

// Warehouse is an unbounded source of raw units or sink for finished
// goods. It never gates on capacity; contention only exists at stations
// and conveyors.
type Warehouse struct {
	cfg    WarehouseConfig
	health Health

	stock    []*Unit // units waiting for their first transport leg
	received []*Unit // archived finished units (sink role)
}

// NewWarehouse creates a Warehouse from its config.
func NewWarehouse(cfg WarehouseConfig) *Warehouse {
	return &Warehouse{cfg: cfg, health: Healthy}
}

func (w *Warehouse) ID() string                  { return w.cfg.ID }
func (w *Warehouse) InteractingPoints() []string { return w.cfg.InteractingPoints }
func (w *Warehouse) Health() Health              { return w.health }

// Role returns whether this warehouse is a source or a sink.
func (w *Warehouse) Role() WarehouseRole { return w.cfg.Role }

// Stock places a freshly created unit into the source warehouse.
func (w *Warehouse) Stock(unit *Unit) {
	w.stock = append(w.stock, unit)
}

// Take removes a specific unit from stock for an AGV pickup. Returns
// false when the unit is no longer there (cancelled orders withdraw
// their units).
func (w *Warehouse) Take(unit *Unit) bool {
	for i, u := range w.stock {
		if u == unit {
			w.stock = append(w.stock[:i], w.stock[i+1:]...)
			return true
		}
	}
	return false
}

// Put archives a finished unit at the sink. Unbounded, never refuses.
func (w *Warehouse) Put(sim *Simulator, unit *Unit) {
	w.received = append(w.received, unit)
	logrus.Debugf("[tick %07d] %s received %s", sim.Clock, w.cfg.ID, unit.ID)
}

// StockLevel returns the number of units awaiting their first pickup.
func (w *Warehouse) StockLevel() int { return len(w.stock) }

// ReceivedCount returns the number of archived finished units.
func (w *Warehouse) ReceivedCount() int { return len(w.received) }

// removeCancelled withdraws a cancelled order's un-picked units.
func (w *Warehouse) removeCancelled(order *Order) {
	kept := w.stock[:0]
	for _, u := range w.stock {
		if u.Order == order {
			continue
		}
		kept = append(kept, u)
	}
	w.stock = kept
}

// SetHealth implements Device. A faulted warehouse refuses pickups via the
// dispatcher's health check; stored units are unaffected.
func (w *Warehouse) SetHealth(sim *Simulator, h Health) {
	w.health = h
}
