package sim

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/floorsim/floorsim/sim/telemetry"
)

func TestFaultInjector_PropagatesExactlyOneHop(t *testing.T) {
	// GIVEN relationships StationA -> Conveyor1 and Conveyor1 -> StationB
	sink := &telemetry.MemorySink{}
	s := newTestSim(t, testConfig(), 1, sink)

	// WHEN StationA faults
	s.Faults().Fault(s, "StationA", secondsToTicks(30))

	// THEN its direct neighbor degrades but the neighbor's neighbor does not
	assert.Equal(t, Faulted, s.Station("StationA").Health())
	assert.Equal(t, Degraded, s.Conveyor("Conveyor1").Health())
	assert.Equal(t, Healthy, s.Station("StationB").Health())

	onsets := sink.ByKind(telemetry.KindFaultOnset)
	require.Len(t, onsets, 2)
	assert.Equal(t, "StationA", onsets[0].Source)
	assert.Equal(t, "Conveyor1", onsets[1].Source)
}

func TestFaultInjector_AutoRecoveryClearsFaultAndDegradations(t *testing.T) {
	s := newTestSim(t, testConfig(), 1, nil)
	s.Faults().Fault(s, "StationA", secondsToTicks(30))
	assert.Equal(t, []string{"StationA"}, s.Faults().ActiveFaults())

	s.RunUntil(secondsToTicks(30))

	assert.Empty(t, s.Faults().ActiveFaults())
	assert.Equal(t, Healthy, s.Station("StationA").Health())
	assert.Equal(t, Healthy, s.Conveyor("Conveyor1").Health())
}

func TestFaultInjector_OverlappingImplicationsKeepDegradation(t *testing.T) {
	// GIVEN Conveyor1 degraded by both StationA and StationB faults
	s := newTestSim(t, testConfig(), 1, nil)
	s.Faults().Fault(s, "StationA", secondsToTicks(500))
	s.Faults().Fault(s, "StationB", secondsToTicks(500))
	require.Equal(t, Degraded, s.Conveyor("Conveyor1").Health())

	// WHEN only one implicating fault clears
	s.Faults().Repair(s, "StationA")

	// THEN the other fault still holds the conveyor degraded
	assert.Equal(t, Healthy, s.Station("StationA").Health())
	assert.Equal(t, Degraded, s.Conveyor("Conveyor1").Health())

	// and clearing the second releases it
	s.Faults().Repair(s, "StationB")
	assert.Equal(t, Healthy, s.Conveyor("Conveyor1").Health())
}

func TestFaultInjector_PropagationNeverDowngradesAFault(t *testing.T) {
	// GIVEN StationA already faulted when its neighbor Conveyor1 faults
	s := newTestSim(t, testConfig(), 1, nil)
	s.Faults().Fault(s, "StationA", secondsToTicks(500))
	s.Faults().Fault(s, "Conveyor1", secondsToTicks(500))
	assert.Equal(t, Faulted, s.Station("StationA").Health())

	// WHEN the conveyor recovers first
	s.Faults().Repair(s, "Conveyor1")

	// THEN StationA stays faulted; only StationB is released
	assert.Equal(t, Faulted, s.Station("StationA").Health())
	assert.Equal(t, Healthy, s.Station("StationB").Health())
	// The conveyor itself drops to degraded: StationA still implicates it.
	assert.Equal(t, Degraded, s.Conveyor("Conveyor1").Health())
}

func TestFaultInjector_ManualRepairBeatsAutoRecovery(t *testing.T) {
	s := newTestSim(t, testConfig(), 1, nil)
	s.Faults().Fault(s, "StationA", secondsToTicks(30))
	s.Faults().Repair(s, "StationA")
	assert.Equal(t, Healthy, s.Station("StationA").Health())

	// The stale auto-recovery event at t=30 must be a no-op, even with a
	// newer fault active on the same device.
	s.Faults().Fault(s, "StationA", secondsToTicks(100))
	s.RunUntil(secondsToTicks(30))
	assert.Equal(t, Faulted, s.Station("StationA").Health())
	s.RunUntil(secondsToTicks(100))
	assert.Equal(t, Healthy, s.Station("StationA").Health())
}

func TestFaultInjector_DisabledWhenIntervalUnset(t *testing.T) {
	s := newTestSim(t, testConfig(), 1, nil)
	assert.False(t, s.Faults().Enabled())
}

func TestFaultInjector_PeriodicInjectionWithRecovery(t *testing.T) {
	// GIVEN fault injection every 40-80s with 10-20s recovery
	cfg := activeTestConfig()
	cfg.FaultSystem.FaultInjectionInterval = Range{Min: 40, Max: 80}
	cfg.FaultSystem.AutoRecoveryTime = Range{Min: 10, Max: 20}
	sink := &telemetry.MemorySink{}
	s := newTestSim(t, cfg, 42, sink)

	// WHEN the full horizon runs
	s.Run()

	// THEN faults occurred and recovered; injection intervals (>= 40s)
	// outlast recovery times (<= 20s), so at most one can be open when the
	// horizon cuts the run off
	assert.NotEmpty(t, sink.ByKind(telemetry.KindFaultOnset))
	assert.NotEmpty(t, sink.ByKind(telemetry.KindFaultCleared))
	assert.LessOrEqual(t, len(s.Faults().ActiveFaults()), 1)
}
