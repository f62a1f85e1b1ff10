package sim

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func conveyorUnits(n int) []*Unit {
	order := makeTestOrder("ORD-CV", n, secondsToTicks(1000))
	for _, u := range order.units {
		u.RouteIdx = 2 // riding Conveyor1
	}
	return order.units
}

func TestConveyor_CapacityBound(t *testing.T) {
	// GIVEN Conveyor1 with capacity 2
	s := newTestSim(t, testConfig(), 1, nil)
	cv := s.Conveyor("Conveyor1")
	units := conveyorUnits(3)

	require.True(t, cv.Push(s, units[0], PoolMain))
	require.True(t, cv.Push(s, units[1], PoolMain))

	// THEN the third push is refused, a wait state for the caller
	assert.False(t, cv.HasSpace(PoolMain))
	assert.False(t, cv.Push(s, units[2], PoolMain))
}

func TestConveyor_ReleasesAfterTransferTime(t *testing.T) {
	// GIVEN a unit pushed at t=0 with a 5s transfer time
	s := newTestSim(t, testConfig(), 1, nil)
	cv := s.Conveyor("Conveyor1")
	unit := conveyorUnits(1)[0]
	require.True(t, cv.Push(s, unit, PoolMain))

	s.RunUntil(secondsToTicks(4.9))
	assert.False(t, cv.HasReadyUnit())

	// THEN it surfaces at the exit point exactly at transfer_time
	s.RunUntil(secondsToTicks(5))
	assert.True(t, cv.HasReadyUnit())
	assert.True(t, unit.Done)
	// The slot stays occupied until an AGV takes the unit away.
	assert.Equal(t, 1, cv.totalOccupied())
}

func TestConveyor_TakeUnitFreesSlot(t *testing.T) {
	s := newTestSim(t, testConfig(), 1, nil)
	cv := s.Conveyor("Conveyor1")
	unit := conveyorUnits(1)[0]
	require.True(t, cv.Push(s, unit, PoolMain))

	// Still riding: not collectable.
	assert.False(t, cv.TakeUnit(s, unit))

	s.RunUntil(secondsToTicks(5))
	assert.True(t, cv.TakeUnit(s, unit))
	assert.Zero(t, cv.totalOccupied())
	assert.False(t, cv.TakeUnit(s, unit))
}

func TestConveyor_BranchingMainCapacityBoundsTotal(t *testing.T) {
	// GIVEN a branching conveyor: two lanes of 2, main capacity 3
	s := newTestSim(t, testConfig(), 1, nil)
	cv := NewConveyor(ConveyorConfig{
		ID: "Branch1", TransferTime: 5, MainCapacity: 3,
		SubPools: map[string]SubPoolConfig{
			"lane_a": {Capacity: 2, Downstream: "StationA"},
			"lane_b": {Capacity: 2, Downstream: "StationB"},
		},
		EntryPoint: "P3", ExitPoint: "P4",
	})
	units := conveyorUnits(4)

	require.True(t, cv.Push(s, units[0], "lane_a"))
	require.True(t, cv.Push(s, units[1], "lane_a"))
	require.True(t, cv.Push(s, units[2], "lane_b"))

	// THEN lane_b has a free slot of its own but the main bound is reached
	assert.False(t, cv.HasSpace("lane_b"))
	assert.False(t, cv.Push(s, units[3], "lane_b"))
}

func TestConveyor_UnknownPoolRefused(t *testing.T) {
	s := newTestSim(t, testConfig(), 1, nil)
	cv := s.Conveyor("Conveyor1")
	assert.False(t, cv.HasSpace("lane_z"))
	assert.False(t, cv.Push(s, conveyorUnits(1)[0], "lane_z"))
}

func TestConveyor_FaultFreezesTransferRestartsOnRecovery(t *testing.T) {
	// GIVEN a unit two seconds into its 5s transfer
	s := newTestSim(t, testConfig(), 1, nil)
	cv := s.Conveyor("Conveyor1")
	unit := conveyorUnits(1)[0]
	require.True(t, cv.Push(s, unit, PoolMain))
	s.RunUntil(secondsToTicks(2))

	// WHEN the conveyor faults for 10 seconds
	s.Faults().Fault(s, "Conveyor1", secondsToTicks(10))
	assert.Equal(t, Faulted, cv.Health())
	// One-hop propagation degrades the adjacent stations.
	assert.Equal(t, Degraded, s.Station("StationA").Health())
	assert.Equal(t, Degraded, s.Station("StationB").Health())

	// THEN the original release time passes with the unit still frozen
	s.RunUntil(secondsToTicks(6))
	assert.False(t, cv.HasReadyUnit())

	// and recovery restarts the full transfer: ready at 12 + 5 seconds
	s.RunUntil(secondsToTicks(12))
	assert.Equal(t, Healthy, cv.Health())
	assert.Equal(t, Healthy, s.Station("StationA").Health())
	assert.False(t, cv.HasReadyUnit())
	s.RunUntil(secondsToTicks(17))
	assert.True(t, cv.HasReadyUnit())
}

func TestConveyor_FaultedAcceptsNothing(t *testing.T) {
	s := newTestSim(t, testConfig(), 1, nil)
	cv := s.Conveyor("Conveyor1")
	s.Faults().Fault(s, "Conveyor1", secondsToTicks(10))
	assert.False(t, cv.HasSpace(PoolMain))
	assert.False(t, cv.Push(s, conveyorUnits(1)[0], PoolMain))
}
