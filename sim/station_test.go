package sim

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStation_Accept_RejectsBeyondBufferSize(t *testing.T) {
	// GIVEN StationA with buffer_size 3
	s := newTestSim(t, testConfig(), 1, nil)
	st := s.Station("StationA")
	order := makeTestOrder("ORD-T1", 4, secondsToTicks(1000))
	for _, u := range order.units {
		u.RouteIdx = 1 // at StationA
	}

	// WHEN four units arrive back to back
	for i := 0; i < 3; i++ {
		require.True(t, st.Accept(s, order.units[i]), "unit %d should be accepted", i)
	}
	ok := st.Accept(s, order.units[3])

	// THEN the fourth load is refused, not an error
	assert.False(t, ok)
	assert.Equal(t, 3, st.BufferLevel())
	assert.False(t, st.HasBufferSpace())
}

func TestStation_ProcessingFinishesAfterSampledDuration(t *testing.T) {
	// GIVEN a widget at StationA (fixed 2s processing time)
	s := newTestSim(t, testConfig(), 1, nil)
	st := s.Station("StationA")
	order := makeTestOrder("ORD-T1", 1, secondsToTicks(1000))
	unit := order.units[0]
	unit.RouteIdx = 1
	require.True(t, st.Accept(s, unit))
	assert.Equal(t, StationProcessing, st.State())

	// WHEN just under the processing time elapses
	s.RunUntil(secondsToTicks(1.9))
	assert.False(t, unit.Done)

	// THEN the unit is finished exactly at the sampled duration
	s.RunUntil(secondsToTicks(2))
	assert.True(t, unit.Done)
	assert.True(t, st.HasReadyUnit())
}

func TestStation_PassthroughForUnconfiguredProduct(t *testing.T) {
	// A station with no processing time entry for the product forwards the
	// unit untouched.
	s := newTestSim(t, testConfig(), 1, nil)
	st := s.Station("StationB")
	order := makeTestOrder("ORD-T1", 1, secondsToTicks(1000))
	order.Product = "gadget"
	unit := order.units[0]
	unit.Route = []string{"RawDepot", "StationB", "FinishedGoods"}
	unit.RouteIdx = 1

	require.True(t, st.Accept(s, unit))
	assert.True(t, unit.Done)
	assert.Equal(t, StationIdle, st.State())
}

func TestStation_PassthroughAdvancesToNextBufferedUnit(t *testing.T) {
	// GIVEN StationB holding a passthrough gadget ahead of a widget
	s := newTestSim(t, testConfig(), 1, nil)
	st := s.Station("StationB")

	gadgetOrder := makeTestOrder("ORD-G1", 1, secondsToTicks(1000))
	gadgetOrder.Product = "gadget"
	gadget := gadgetOrder.units[0]
	gadget.Route = []string{"RawDepot", "StationB", "FinishedGoods"}
	gadget.RouteIdx = 1

	widgetOrder := makeTestOrder("ORD-W1", 1, secondsToTicks(1000))
	widget := widgetOrder.units[0]
	widget.RouteIdx = 3 // at StationB on the standard route

	st.buffer = append(st.buffer, gadget, widget)

	// WHEN the station looks for work
	st.maybeStart(s)

	// THEN the gadget passed through and the widget started immediately,
	// not at the next buffer touch
	assert.True(t, gadget.Done)
	require.Equal(t, StationProcessing, st.State())
	assert.Equal(t, widget, st.processingUnit)

	s.RunUntil(secondsToTicks(2))
	assert.True(t, widget.Done)
}

func TestStation_DegradedStretchesProcessing(t *testing.T) {
	// GIVEN StationA degraded (factor 1.5 over the fixed 2s time)
	s := newTestSim(t, testConfig(), 1, nil)
	st := s.Station("StationA")
	st.SetHealth(s, Degraded)
	order := makeTestOrder("ORD-T1", 1, secondsToTicks(1000))
	unit := order.units[0]
	unit.RouteIdx = 1
	require.True(t, st.Accept(s, unit))

	// THEN the unit is not done at the healthy duration
	s.RunUntil(secondsToTicks(2.5))
	assert.False(t, unit.Done)

	// but is done at 2s * 1.5
	s.RunUntil(secondsToTicks(3))
	assert.True(t, unit.Done)
}

func TestStation_FaultFreezesAndResumesRemainingTime(t *testing.T) {
	// GIVEN StationA one second into a 2s processing run
	s := newTestSim(t, testConfig(), 1, nil)
	st := s.Station("StationA")
	order := makeTestOrder("ORD-T1", 1, secondsToTicks(1000))
	unit := order.units[0]
	unit.RouteIdx = 1
	require.True(t, st.Accept(s, unit))
	s.RunUntil(secondsToTicks(1))

	// WHEN the station faults for 30 seconds
	s.Faults().Fault(s, "StationA", secondsToTicks(30))
	assert.Equal(t, Faulted, st.Health())

	// THEN the original completion time passes without finishing
	s.RunUntil(secondsToTicks(10))
	assert.False(t, unit.Done)
	assert.Equal(t, StationProcessing, st.State())

	// and after recovery the remaining 1s resumes, not a fresh sample
	s.RunUntil(secondsToTicks(31))
	assert.Equal(t, Healthy, st.Health())
	assert.False(t, unit.Done)
	s.RunUntil(secondsToTicks(32))
	assert.True(t, unit.Done)
}

func TestStation_FaultedRejectsLoading(t *testing.T) {
	s := newTestSim(t, testConfig(), 1, nil)
	st := s.Station("StationA")
	s.Faults().Fault(s, "StationA", secondsToTicks(30))

	order := makeTestOrder("ORD-T1", 1, secondsToTicks(1000))
	order.units[0].RouteIdx = 1
	assert.False(t, st.Accept(s, order.units[0]))
	assert.Zero(t, st.BufferLevel())
}

func TestStation_OutputBufferFreesInputSlot(t *testing.T) {
	// GIVEN StationB with buffer_size 2 and output_buffer_size 1
	s := newTestSim(t, testConfig(), 1, nil)
	st := s.Station("StationB")
	order := makeTestOrder("ORD-T1", 2, secondsToTicks(1000))
	for _, u := range order.units {
		u.Route = []string{"RawDepot", "StationB", "FinishedGoods"}
		u.RouteIdx = 1
	}
	require.True(t, st.Accept(s, order.units[0]))
	require.True(t, st.Accept(s, order.units[1]))

	// WHEN the first unit finishes, it migrates to the output buffer
	s.RunUntil(secondsToTicks(2))
	assert.True(t, order.units[0].Done)
	assert.Equal(t, 1, st.BufferLevel())
	assert.True(t, st.HasBufferSpace())

	// THEN the second finishes later but stays in its input slot (output full)
	s.RunUntil(secondsToTicks(4))
	assert.True(t, order.units[1].Done)
	assert.Equal(t, 1, st.BufferLevel())
}

func TestStation_TakeUnit_SpecificPickup(t *testing.T) {
	s := newTestSim(t, testConfig(), 1, nil)
	st := s.Station("StationA")
	order := makeTestOrder("ORD-T1", 2, secondsToTicks(1000))
	for _, u := range order.units {
		u.RouteIdx = 1
	}
	require.True(t, st.Accept(s, order.units[0]))
	require.True(t, st.Accept(s, order.units[1]))

	// Not finished yet: nothing to take.
	assert.False(t, st.TakeUnit(s, order.units[0]))

	s.RunUntil(secondsToTicks(2))
	require.True(t, order.units[0].Done)
	assert.True(t, st.TakeUnit(s, order.units[0]))
	assert.False(t, st.TakeUnit(s, order.units[0]))
	assert.Equal(t, 1, st.BufferLevel())
}
