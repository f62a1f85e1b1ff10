// Package telemetry provides the structured event types the simulation core
// emits and the Sink interface consumers implement. The package holds pure
// data types with no dependency on sim/, so transports (MQTT, logs,
// in-memory capture) can be plugged in without touching the core.
package telemetry

// Kind identifies the type of a telemetry event.
type Kind string

const (
	KindOrderCreated        Kind = "order_created"
	KindOrderCompleted      Kind = "order_completed"
	KindOrderFailed         Kind = "order_failed"
	KindStationStateChanged Kind = "station_state_changed"
	KindAGVStateChanged     Kind = "agv_state_changed"
	KindAGVPositionUpdate   Kind = "agv_position_update"
	KindFaultOnset          Kind = "fault_onset"
	KindFaultCleared        Kind = "fault_cleared"
	KindKPISnapshot         Kind = "kpi_snapshot"
)

// Event is a single telemetry record. Tick is simulation time in ticks.
// Only the fields relevant to the Kind are populated.
type Event struct {
	Kind   Kind   `json:"kind"`
	Tick   int64  `json:"tick"`
	Source string `json:"source_id"`

	// State transition fields (station/AGV state changes, fault events).
	State  string `json:"state,omitempty"`
	Detail string `json:"detail,omitempty"`

	// Order lifecycle fields.
	OrderUUID string `json:"order_uuid,omitempty"`
	Product   string `json:"product,omitempty"`
	Quantity  int    `json:"quantity,omitempty"`
	Priority  string `json:"priority,omitempty"`

	// AGV position/battery fields.
	X       float64 `json:"x,omitempty"`
	Y       float64 `json:"y,omitempty"`
	Battery float64 `json:"battery,omitempty"`

	// Snapshot payload (nil except for KindKPISnapshot).
	Snapshot *KPISnapshot `json:"snapshot,omitempty"`
}

// KPISnapshot carries the three weighted composites, the final score and
// the raw counters behind them, emitted at each status publish interval.
type KPISnapshot struct {
	Tick                 int64              `json:"tick"`
	ProductionEfficiency float64            `json:"production_efficiency"`
	QualityCost          float64            `json:"quality_cost"`
	AGVEfficiency        float64            `json:"agv_efficiency"`
	FinalScore           float64            `json:"final_score"`
	Components           map[string]float64 `json:"components"`
	OrdersCompleted      int                `json:"orders_completed"`
	OrdersFailed         int                `json:"orders_failed"`
	UnitsScrapped        int                `json:"units_scrapped"`
	EnergyCost           float64            `json:"energy_cost"`
	MaterialCost         float64            `json:"material_cost"`
	EntityStates         map[string]string  `json:"entity_states"`
}

// Sink consumes telemetry events. Implementations must not retain the
// event past the call unless they copy it; the core reuses nothing, but
// transports may batch.
type Sink interface {
	Emit(ev Event)
}

// NopSink discards all events.
type NopSink struct{}

func (NopSink) Emit(Event) {}

// MemorySink records every event in order. Used by tests and by the
// determinism checker to compare full event sequences between runs.
type MemorySink struct {
	Events []Event
}

func (s *MemorySink) Emit(ev Event) {
	s.Events = append(s.Events, ev)
}

// ByKind returns the recorded events of one kind, preserving order.
func (s *MemorySink) ByKind(kind Kind) []Event {
	var out []Event
	for _, ev := range s.Events {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}
