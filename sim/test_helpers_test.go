package sim

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/floorsim/floorsim/sim/telemetry"
)

// testConfig builds a small two-station line used across the package tests:
//
//	P1 (RawDepot) - P2 (StationA) - P3/P4 (Conveyor1) - P5 (StationB) - P6 (FinishedGoods) - P10 (charger)
//
// All points sit on a straight line 20m apart (the charger 10m past P6),
// so distances and travel times are easy to compute by hand. The order
// generator is effectively disabled (one order per ~11 days) so tests can
// drive entities manually; use activeTestConfig for closed-loop runs.
func testConfig() *FactoryConfig {
	return &FactoryConfig{
		Factory: FactoryLayoutConfig{
			PathPoints: map[string]Position{
				"P1":  {X: 0, Y: 0},
				"P2":  {X: 20, Y: 0},
				"P3":  {X: 40, Y: 0},
				"P4":  {X: 60, Y: 0},
				"P5":  {X: 80, Y: 0},
				"P6":  {X: 100, Y: 0},
				"P10": {X: 110, Y: 0},
			},
			PathEdges: [][2]string{
				{"P1", "P2"}, {"P2", "P3"}, {"P3", "P4"},
				{"P4", "P5"}, {"P5", "P6"}, {"P6", "P10"},
			},
		},
		Stations: []StationConfig{
			{
				ID:                "StationA",
				Position:          Position{X: 20, Y: 0},
				BufferSize:        3,
				InteractingPoints: []string{"P2"},
				ProcessingTimes: map[string]Range{
					"widget": {Min: 2, Max: 2},
					"gadget": {Min: 3, Max: 3},
				},
			},
			{
				ID:                "StationB",
				Position:          Position{X: 80, Y: 0},
				BufferSize:        2,
				OutputBufferSize:  1,
				InteractingPoints: []string{"P5"},
				ProcessingTimes: map[string]Range{
					"widget": {Min: 2, Max: 2},
				},
			},
		},
		AGVs: []AGVConfig{
			{
				ID: "AGV1", StartPoint: "P1", SpeedMPS: 2, PayloadCapacity: 1,
				BatteryLevel: 100, LowBatteryThreshold: 20,
				ChargingPoint: "P10", ChargingSpeed: 1,
				BatteryConsumptionPerMeter: 0.05, BatteryConsumptionPerAction: 0.25,
			},
			{
				ID: "AGV2", StartPoint: "P6", SpeedMPS: 2, PayloadCapacity: 1,
				BatteryLevel: 100, LowBatteryThreshold: 20,
				ChargingPoint: "P10", ChargingSpeed: 1,
				BatteryConsumptionPerMeter: 0.05, BatteryConsumptionPerAction: 0.25,
			},
		},
		Conveyors: []ConveyorConfig{
			{ID: "Conveyor1", TransferTime: 5, Capacity: 2, EntryPoint: "P3", ExitPoint: "P4"},
		},
		Warehouses: []WarehouseConfig{
			{ID: "RawDepot", Role: WarehouseSource, Position: Position{X: 0, Y: 0}, InteractingPoints: []string{"P1"}},
			{ID: "FinishedGoods", Role: WarehouseSink, Position: Position{X: 100, Y: 0}, InteractingPoints: []string{"P6"}},
		},
		Products: map[string]ProductConfig{
			"widget": {Route: []string{"RawDepot", "StationA", "Conveyor1", "StationB", "FinishedGoods"}},
		},
		OrderGenerator: OrderGeneratorConfig{
			GenerationInterval:         Range{Min: 1e6, Max: 1e6},
			QuantityWeights:            map[int]float64{1: 1},
			ProductDistribution:        map[string]float64{"widget": 1},
			PriorityDistribution:       map[string]float64{"normal": 1},
			TheoreticalProductionTimes: map[string]float64{"widget": 60},
			DeadlineMultipliers:        map[string]float64{"normal": 5},
			MaxConcurrentOrders:        10,
		},
		FaultSystem: FaultSystemConfig{
			AutoRecoveryTime:  Range{Min: 30, Max: 30},
			DegradationFactor: 1.5,
			DeviceRelationships: map[string][]string{
				"StationA":  {"Conveyor1"},
				"StationB":  {"Conveyor1"},
				"Conveyor1": {"StationA", "StationB"},
			},
		},
		KPIWeights: KPIWeightsConfig{
			Weights: map[string]float64{
				CompositeProductionEfficiency: 0.4,
				CompositeQualityCost:          0.3,
				CompositeAGVEfficiency:        0.3,
			},
			EfficiencyComponents: map[string]float64{
				CompOrderFulfillmentRate: 0.4,
				CompOnTimeDeliveryRate:   0.4,
				CompCycleTimeEfficiency:  0.2,
			},
			QualityCostComponents: map[string]float64{
				CompFirstPassYield: 0.6,
				CompCostEfficiency: 0.4,
			},
			AGVComponents: map[string]float64{
				CompChargeCycleEfficiency: 0.3,
				CompEnergyEfficiency:      0.3,
				CompAGVUtilization:        0.4,
			},
		},
		KPICosts: KPICostsConfig{
			EnergyPerSecond:  0.01,
			MaterialPerUnit:  5,
			ScrapPerUnit:     8,
			BaselineUnitCost: 10,
		},
		System: SystemConfig{
			SimulationStepSize:    0.1,
			StatusPublishInterval: 1e5,
			Horizon:               1e6,
		},
	}
}

// activeTestConfig returns testConfig with the order generator producing
// an order every 5 seconds over a 300 second horizon.
func activeTestConfig() *FactoryConfig {
	cfg := testConfig()
	cfg.OrderGenerator.GenerationInterval = Range{Min: 5, Max: 5}
	cfg.System.StatusPublishInterval = 60
	cfg.System.Horizon = 300
	return cfg
}

func newTestSim(t *testing.T, cfg *FactoryConfig, seed int64, sink telemetry.Sink) *Simulator {
	t.Helper()
	s, err := NewSimulator(cfg, seed, sink)
	require.NoError(t, err)
	return s
}

// makeTestOrder builds an order with n widget units on the standard test
// route, without going through the generator.
func makeTestOrder(id string, n int, deadline int64) *Order {
	o := &Order{
		ID:       id,
		Product:  "widget",
		Quantity: n,
		Priority: "normal",
		Deadline: deadline,
		Status:   OrderPending,
	}
	route := []string{"RawDepot", "StationA", "Conveyor1", "StationB", "FinishedGoods"}
	for i := 0; i < n; i++ {
		o.units = append(o.units, &Unit{
			ID:    fmt.Sprintf("%s-u%d", id, i+1),
			Order: o,
			Route: route,
		})
	}
	return o
}
