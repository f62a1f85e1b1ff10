package cmd

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/floorsim/floorsim/sim"
)

// LoadConfig reads a YAML factory description into the typed config the
// core consumes. Validation happens inside sim.NewSimulator; this only
// handles parsing.
func LoadConfig(path string) (*sim.FactoryConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	var cfg sim.FactoryConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return &cfg, nil
}

// DefaultConfig is a small two-station demo factory: raw material flows
// from a depot through StationA, a conveyor, StationB, into the finished
// goods warehouse, ferried by two AGVs sharing one charging point.
func DefaultConfig() *sim.FactoryConfig {
	return &sim.FactoryConfig{
		Factory: sim.FactoryLayoutConfig{
			PathPoints: map[string]sim.Position{
				"P1":  {X: 0, Y: 0},
				"P2":  {X: 20, Y: 0},
				"P3":  {X: 40, Y: 0},
				"P4":  {X: 60, Y: 0},
				"P5":  {X: 80, Y: 0},
				"P6":  {X: 100, Y: 0},
				"P10": {X: 50, Y: 20},
			},
			PathEdges: [][2]string{
				{"P1", "P2"}, {"P2", "P3"}, {"P3", "P4"},
				{"P4", "P5"}, {"P5", "P6"}, {"P3", "P10"}, {"P4", "P10"},
			},
		},
		Stations: []sim.StationConfig{
			{
				ID:                "StationA",
				Position:          sim.Position{X: 20, Y: 5},
				BufferSize:        3,
				OutputBufferSize:  2,
				InteractingPoints: []string{"P2"},
				ProcessingTimes: map[string]sim.Range{
					"widget": {Min: 8, Max: 15},
					"gadget": {Min: 12, Max: 20},
				},
			},
			{
				ID:                "StationB",
				Position:          sim.Position{X: 80, Y: 5},
				BufferSize:        3,
				InteractingPoints: []string{"P5"},
				ProcessingTimes: map[string]sim.Range{
					"widget": {Min: 5, Max: 10},
					"gadget": {Min: 8, Max: 14},
				},
			},
		},
		AGVs: []sim.AGVConfig{
			{
				ID: "AGV1", StartPoint: "P1", SpeedMPS: 2.0, PayloadCapacity: 1,
				BatteryLevel: 100, LowBatteryThreshold: 10, ChargingPoint: "P10",
				ChargingSpeed: 3.33, BatteryConsumptionPerMeter: 0.1, BatteryConsumptionPerAction: 0.5,
			},
			{
				ID: "AGV2", StartPoint: "P6", SpeedMPS: 2.0, PayloadCapacity: 1,
				BatteryLevel: 100, LowBatteryThreshold: 10, ChargingPoint: "P10",
				ChargingSpeed: 3.33, BatteryConsumptionPerMeter: 0.1, BatteryConsumptionPerAction: 0.5,
			},
		},
		Conveyors: []sim.ConveyorConfig{
			{
				ID: "Conveyor1", TransferTime: 6, Capacity: 4,
				EntryPoint: "P3", ExitPoint: "P4",
			},
		},
		Warehouses: []sim.WarehouseConfig{
			{ID: "RawDepot", Role: sim.WarehouseSource, Position: sim.Position{X: 0, Y: 5}, InteractingPoints: []string{"P1"}},
			{ID: "FinishedGoods", Role: sim.WarehouseSink, Position: sim.Position{X: 100, Y: 5}, InteractingPoints: []string{"P6"}},
		},
		Products: map[string]sim.ProductConfig{
			"widget": {Route: []string{"RawDepot", "StationA", "Conveyor1", "StationB", "FinishedGoods"}},
			"gadget": {Route: []string{"RawDepot", "StationA", "Conveyor1", "StationB", "FinishedGoods"}},
		},
		OrderGenerator: sim.OrderGeneratorConfig{
			GenerationInterval:  sim.Range{Min: 20, Max: 60},
			QuantityWeights:     map[int]float64{1: 0.6, 2: 0.3, 3: 0.1},
			ProductDistribution: map[string]float64{"widget": 0.7, "gadget": 0.3},
			PriorityDistribution: map[string]float64{
				"low": 0.5, "normal": 0.3, "high": 0.2,
			},
			TheoreticalProductionTimes: map[string]float64{"widget": 120, "gadget": 160},
			DeadlineMultipliers:        map[string]float64{"low": 4.0, "normal": 3.0, "high": 2.0},
			MaxConcurrentOrders:        20,
		},
		FaultSystem: sim.FaultSystemConfig{
			FaultInjectionInterval: sim.Range{Min: 200, Max: 400},
			AutoRecoveryTime:       sim.Range{Min: 20, Max: 60},
			DegradationFactor:      1.5,
			DeviceRelationships: map[string][]string{
				"StationA":  {"Conveyor1"},
				"StationB":  {"Conveyor1"},
				"Conveyor1": {"StationA", "StationB"},
			},
		},
		KPIWeights: sim.KPIWeightsConfig{
			Weights: map[string]float64{
				sim.CompositeProductionEfficiency: 0.4,
				sim.CompositeQualityCost:          0.3,
				sim.CompositeAGVEfficiency:        0.3,
			},
			EfficiencyComponents: map[string]float64{
				sim.CompOrderFulfillmentRate: 0.4,
				sim.CompOnTimeDeliveryRate:   0.4,
				sim.CompCycleTimeEfficiency:  0.2,
			},
			QualityCostComponents: map[string]float64{
				sim.CompFirstPassYield: 0.6,
				sim.CompCostEfficiency: 0.4,
			},
			AGVComponents: map[string]float64{
				sim.CompChargeCycleEfficiency: 0.4,
				sim.CompEnergyEfficiency:      0.3,
				sim.CompAGVUtilization:        0.3,
			},
		},
		KPICosts: sim.KPICostsConfig{
			EnergyPerSecond:  0.02,
			MaterialPerUnit:  2.0,
			ScrapPerUnit:     5.0,
			BaselineUnitCost: 4.0,
		},
		System: sim.SystemConfig{
			SimulationStepSize:    1.0,
			StatusPublishInterval: 30,
			Horizon:               3600,
		},
	}
}
