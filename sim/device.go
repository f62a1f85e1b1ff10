package sim

// Health is a device's availability status, orthogonal to its operational
// state machine. Degraded devices keep operating at reduced throughput;
// Faulted devices reject new work and freeze in-flight work.
type Health string

const (
	Healthy  Health = "healthy"
	Degraded Health = "degraded"
	Faulted  Health = "faulted"
)

// Device is the common capability surface stations, AGVs, conveyors and
// warehouses expose to the dispatcher and the fault injector. Entities are
// addressed by id through the simulator's device table, never by mutual
// references, so the cyclic device-relationship graph stays a pure id
// adjacency.
type Device interface {
	ID() string
	InteractingPoints() []string
	Health() Health
	// SetHealth is called only by the fault injector, inside event
	// execution. Implementations freeze or resume in-flight work.
	SetHealth(sim *Simulator, h Health)
}

// busyTracker accumulates busy time for utilization KPIs. Entities call
// markBusy/markIdle on state transitions.
type busyTracker struct {
	busySince int64 // -1 when idle
	busyTicks int64
}

func newBusyTracker() busyTracker {
	return busyTracker{busySince: -1}
}

func (b *busyTracker) markBusy(now int64) {
	if b.busySince < 0 {
		b.busySince = now
	}
}

func (b *busyTracker) markIdle(now int64) {
	if b.busySince >= 0 {
		b.busyTicks += now - b.busySince
		b.busySince = -1
	}
}

// busyAt returns total busy ticks as of now, counting an open interval.
func (b *busyTracker) busyAt(now int64) int64 {
	total := b.busyTicks
	if b.busySince >= 0 {
		total += now - b.busySince
	}
	return total
}
