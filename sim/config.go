package sim

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
)

// weightTolerance is the allowed deviation when checking that a weight
// group sums to 1.0.
const weightTolerance = 1e-6

// ticksPerSecond fixes the simulation time resolution: 1 tick = 1 ms.
const ticksPerSecond = 1000

// secondsToTicks converts a duration in seconds to simulation ticks.
func secondsToTicks(s float64) int64 {
	return int64(math.Round(s * ticksPerSecond))
}

// ticksToSeconds converts simulation ticks to seconds.
func ticksToSeconds(t int64) float64 {
	return float64(t) / ticksPerSecond
}

// Range is a closed interval used for uniform duration draws, in seconds.
type Range struct {
	Min float64 `yaml:"min" json:"min"`
	Max float64 `yaml:"max" json:"max"`
}

// Sample draws uniformly from [Min, Max].
func (r Range) Sample(rng *rand.Rand) float64 {
	if r.Max <= r.Min {
		return r.Min
	}
	return r.Min + rng.Float64()*(r.Max-r.Min)
}

func (r Range) valid() bool {
	return r.Min >= 0 && r.Max >= r.Min
}

// FactoryLayoutConfig describes the path-point graph.
type FactoryLayoutConfig struct {
	PathPoints map[string]Position `yaml:"path_points" json:"path_points"`
	PathEdges  [][2]string         `yaml:"path_edges" json:"path_edges"`
}

// StationConfig describes one processing station.
type StationConfig struct {
	ID                string           `yaml:"id" json:"id"`
	Position          Position         `yaml:"position" json:"position"`
	BufferSize        int              `yaml:"buffer_size" json:"buffer_size"`
	OutputBufferSize  int              `yaml:"output_buffer_size" json:"output_buffer_size"`
	InteractingPoints []string         `yaml:"interacting_points" json:"interacting_points"`
	ProcessingTimes   map[string]Range `yaml:"processing_times" json:"processing_times"`
}

// AGVConfig describes one automated guided vehicle.
type AGVConfig struct {
	ID                         string  `yaml:"id" json:"id"`
	StartPoint                 string  `yaml:"start_point" json:"start_point"`
	SpeedMPS                   float64 `yaml:"speed_mps" json:"speed_mps"`
	PayloadCapacity            int     `yaml:"payload_capacity" json:"payload_capacity"`
	BatteryLevel               float64 `yaml:"battery_level" json:"battery_level"`
	LowBatteryThreshold        float64 `yaml:"low_battery_threshold" json:"low_battery_threshold"`
	ChargingPoint              string  `yaml:"charging_point" json:"charging_point"`
	ChargingSpeed              float64 `yaml:"charging_speed" json:"charging_speed"`
	BatteryConsumptionPerMeter float64 `yaml:"battery_consumption_per_meter" json:"battery_consumption_per_meter"`
	BatteryConsumptionPerAction float64 `yaml:"battery_consumption_per_action" json:"battery_consumption_per_action"`
}

// SubPoolConfig describes one branch of a branching conveyor, routed by the
// dispatcher based on its downstream station's availability.
type SubPoolConfig struct {
	Capacity   int    `yaml:"capacity" json:"capacity"`
	Downstream string `yaml:"downstream" json:"downstream"`
}

// ConveyorConfig describes a conveyor. Plain conveyors set Capacity and
// leave SubPools empty; branching conveyors set MainCapacity (bounding
// total in-flight) plus one SubPoolConfig per branch.
type ConveyorConfig struct {
	ID           string                   `yaml:"id" json:"id"`
	TransferTime float64                  `yaml:"transfer_time" json:"transfer_time"`
	Capacity     int                      `yaml:"capacity" json:"capacity"`
	MainCapacity int                      `yaml:"main_capacity" json:"main_capacity"`
	SubPools     map[string]SubPoolConfig `yaml:"sub_pools" json:"sub_pools"`
	EntryPoint   string                   `yaml:"entry_point" json:"entry_point"`
	ExitPoint    string                   `yaml:"exit_point" json:"exit_point"`
}

// WarehouseRole distinguishes raw-material sources from finished-goods sinks.
type WarehouseRole string

const (
	WarehouseSource WarehouseRole = "source"
	WarehouseSink   WarehouseRole = "sink"
)

// WarehouseConfig describes a warehouse. Warehouses are unbounded.
type WarehouseConfig struct {
	ID                string        `yaml:"id" json:"id"`
	Role              WarehouseRole `yaml:"role" json:"role"`
	Position          Position      `yaml:"position" json:"position"`
	InteractingPoints []string      `yaml:"interacting_points" json:"interacting_points"`
}

// ProductConfig describes the device chain a product's units traverse,
// from a source warehouse through stations/conveyors to a sink warehouse.
type ProductConfig struct {
	Route []string `yaml:"route" json:"route"`
}

// OrderGeneratorConfig parameterizes stochastic order arrival.
type OrderGeneratorConfig struct {
	GenerationInterval        Range              `yaml:"generation_interval" json:"generation_interval"`
	QuantityWeights           map[int]float64    `yaml:"quantity_weights" json:"quantity_weights"`
	ProductDistribution       map[string]float64 `yaml:"product_distribution" json:"product_distribution"`
	PriorityDistribution      map[string]float64 `yaml:"priority_distribution" json:"priority_distribution"`
	TheoreticalProductionTimes map[string]float64 `yaml:"theoretical_production_times" json:"theoretical_production_times"`
	DeadlineMultipliers       map[string]float64 `yaml:"deadline_multipliers" json:"deadline_multipliers"`
	MaxConcurrentOrders       int                `yaml:"max_concurrent_orders" json:"max_concurrent_orders"`
}

// FaultSystemConfig parameterizes fault injection and propagation.
type FaultSystemConfig struct {
	FaultInjectionInterval Range               `yaml:"fault_injection_interval" json:"fault_injection_interval"`
	AutoRecoveryTime       Range               `yaml:"auto_recovery_time" json:"auto_recovery_time"`
	DegradationFactor      float64             `yaml:"degradation_factor" json:"degradation_factor"`
	DeviceRelationships    map[string][]string `yaml:"device_relationships" json:"device_relationships"`
}

// KPIWeightsConfig holds the top-level composite weights and the
// per-composite sub-component weights. Every group must sum to 1.0.
type KPIWeightsConfig struct {
	Weights               map[string]float64 `yaml:"weights" json:"weights"`
	EfficiencyComponents  map[string]float64 `yaml:"efficiency_components" json:"efficiency_components"`
	QualityCostComponents map[string]float64 `yaml:"quality_cost_components" json:"quality_cost_components"`
	AGVComponents         map[string]float64 `yaml:"agv_components" json:"agv_components"`
}

// KPICostsConfig holds the unit costs the quality/cost composite uses.
type KPICostsConfig struct {
	EnergyPerSecond  float64 `yaml:"energy_per_second" json:"energy_per_second"`
	MaterialPerUnit  float64 `yaml:"material_per_unit" json:"material_per_unit"`
	ScrapPerUnit     float64 `yaml:"scrap_per_unit" json:"scrap_per_unit"`
	BaselineUnitCost float64 `yaml:"baseline_unit_cost" json:"baseline_unit_cost"`
}

// SystemConfig holds run-level timing parameters, in seconds.
type SystemConfig struct {
	SimulationStepSize    float64 `yaml:"simulation_step_size" json:"simulation_step_size"`
	StatusPublishInterval float64 `yaml:"status_publish_interval" json:"status_publish_interval"`
	Horizon               float64 `yaml:"horizon" json:"horizon"`
}

// FactoryConfig is the fully-typed, pre-validated configuration the core
// consumes. The core never parses raw text; loading YAML into this
// structure is the caller's job (see cmd/). Validate must pass before
// NewSimulator will accept it.
type FactoryConfig struct {
	Factory        FactoryLayoutConfig     `yaml:"factory" json:"factory"`
	Stations       []StationConfig         `yaml:"stations" json:"stations"`
	AGVs           []AGVConfig             `yaml:"agvs" json:"agvs"`
	Conveyors      []ConveyorConfig        `yaml:"conveyors" json:"conveyors"`
	Warehouses     []WarehouseConfig       `yaml:"warehouses" json:"warehouses"`
	Products       map[string]ProductConfig `yaml:"products" json:"products"`
	OrderGenerator OrderGeneratorConfig    `yaml:"order_generator" json:"order_generator"`
	FaultSystem    FaultSystemConfig       `yaml:"fault_system" json:"fault_system"`
	KPIWeights     KPIWeightsConfig        `yaml:"kpi_weights" json:"kpi_weights"`
	KPICosts       KPICostsConfig          `yaml:"kpi_costs" json:"kpi_costs"`
	System         SystemConfig            `yaml:"system" json:"system"`
}

// checkWeightGroup verifies a named weight group sums to 1.0 within
// tolerance and contains no negative weights.
func checkWeightGroup(name string, weights map[string]float64) error {
	if len(weights) == 0 {
		return fmt.Errorf("config: weight group %q is empty", name)
	}
	sum := 0.0
	for key, w := range weights {
		if w < 0 {
			return fmt.Errorf("config: weight group %q has negative weight %q=%v", name, key, w)
		}
		sum += w
	}
	if math.Abs(sum-1.0) > weightTolerance {
		return fmt.Errorf("config: weight group %q sums to %v, want 1.0", name, sum)
	}
	return nil
}

// Validate fails fast on any configuration the simulation could not run
// correctly on: weight groups not summing to 1.0, dangling path point or
// device references, non-positive capacities, and malformed ranges.
// Per the error taxonomy these are fatal, never recovered.
func (c *FactoryConfig) Validate() error {
	layout, err := NewLayout(c.Factory.PathPoints, c.Factory.PathEdges)
	if err != nil {
		return err
	}

	deviceIDs := make(map[string]bool)
	addDevice := func(kind, id string) error {
		if id == "" {
			return fmt.Errorf("config: %s with empty id", kind)
		}
		if deviceIDs[id] {
			return fmt.Errorf("config: duplicate device id %q", id)
		}
		deviceIDs[id] = true
		return nil
	}
	checkPoints := func(owner string, points []string) error {
		if len(points) == 0 {
			return fmt.Errorf("config: %s has no interacting points", owner)
		}
		for _, p := range points {
			if !layout.HasPoint(p) {
				return fmt.Errorf("config: %s references undefined path point %q", owner, p)
			}
		}
		return nil
	}

	for _, st := range c.Stations {
		if err := addDevice("station", st.ID); err != nil {
			return err
		}
		if st.BufferSize <= 0 {
			return fmt.Errorf("config: station %s buffer_size must be positive, got %d", st.ID, st.BufferSize)
		}
		if st.OutputBufferSize < 0 {
			return fmt.Errorf("config: station %s output_buffer_size must be >= 0", st.ID)
		}
		if err := checkPoints("station "+st.ID, st.InteractingPoints); err != nil {
			return err
		}
		for product, r := range st.ProcessingTimes {
			if !r.valid() {
				return fmt.Errorf("config: station %s processing_times[%s] has invalid range [%v,%v]", st.ID, product, r.Min, r.Max)
			}
		}
	}

	for _, a := range c.AGVs {
		if err := addDevice("agv", a.ID); err != nil {
			return err
		}
		if a.SpeedMPS <= 0 {
			return fmt.Errorf("config: agv %s speed_mps must be positive", a.ID)
		}
		if a.PayloadCapacity <= 0 {
			return fmt.Errorf("config: agv %s payload_capacity must be positive", a.ID)
		}
		if a.BatteryLevel < 0 || a.BatteryLevel > 100 {
			return fmt.Errorf("config: agv %s battery_level %v outside [0,100]", a.ID, a.BatteryLevel)
		}
		if !layout.HasPoint(a.StartPoint) {
			return fmt.Errorf("config: agv %s references undefined start_point %q", a.ID, a.StartPoint)
		}
		if !layout.HasPoint(a.ChargingPoint) {
			return fmt.Errorf("config: agv %s references undefined charging_point %q", a.ID, a.ChargingPoint)
		}
		if a.ChargingSpeed <= 0 {
			return fmt.Errorf("config: agv %s charging_speed must be positive", a.ID)
		}
	}

	for _, cv := range c.Conveyors {
		if err := addDevice("conveyor", cv.ID); err != nil {
			return err
		}
		if cv.TransferTime <= 0 {
			return fmt.Errorf("config: conveyor %s transfer_time must be positive", cv.ID)
		}
		if len(cv.SubPools) > 0 {
			if cv.MainCapacity <= 0 {
				return fmt.Errorf("config: branching conveyor %s main_capacity must be positive", cv.ID)
			}
			for name, sp := range cv.SubPools {
				if sp.Capacity <= 0 {
					return fmt.Errorf("config: conveyor %s sub-pool %s capacity must be positive", cv.ID, name)
				}
			}
		} else if cv.Capacity <= 0 {
			return fmt.Errorf("config: conveyor %s capacity must be positive", cv.ID)
		}
		if err := checkPoints("conveyor "+cv.ID, []string{cv.EntryPoint, cv.ExitPoint}); err != nil {
			return err
		}
	}

	warehouseRoles := make(map[string]WarehouseRole)
	for _, w := range c.Warehouses {
		if err := addDevice("warehouse", w.ID); err != nil {
			return err
		}
		if w.Role != WarehouseSource && w.Role != WarehouseSink {
			return fmt.Errorf("config: warehouse %s has unknown role %q", w.ID, w.Role)
		}
		if err := checkPoints("warehouse "+w.ID, w.InteractingPoints); err != nil {
			return err
		}
		warehouseRoles[w.ID] = w.Role
	}

	// Sub-pool downstream stations must exist.
	for _, cv := range c.Conveyors {
		for name, sp := range cv.SubPools {
			if !deviceIDs[sp.Downstream] {
				return fmt.Errorf("config: conveyor %s sub-pool %s references undefined downstream device %q", cv.ID, name, sp.Downstream)
			}
		}
	}

	if len(c.Products) == 0 {
		return fmt.Errorf("config: no products defined")
	}
	for product, pc := range c.Products {
		if len(pc.Route) < 2 {
			return fmt.Errorf("config: product %s route must have at least a source and a sink", product)
		}
		for _, dev := range pc.Route {
			if !deviceIDs[dev] {
				return fmt.Errorf("config: product %s route references undefined device %q", product, dev)
			}
		}
		// Units are stocked at the route head and delivered at the tail,
		// so both must be warehouses of the right role.
		if warehouseRoles[pc.Route[0]] != WarehouseSource {
			return fmt.Errorf("config: product %s route must start at a source warehouse, got %q", product, pc.Route[0])
		}
		if last := pc.Route[len(pc.Route)-1]; warehouseRoles[last] != WarehouseSink {
			return fmt.Errorf("config: product %s route must end at a sink warehouse, got %q", product, last)
		}
		if _, ok := c.OrderGenerator.TheoreticalProductionTimes[product]; !ok {
			return fmt.Errorf("config: product %s has no theoretical production time", product)
		}
	}

	og := c.OrderGenerator
	if !og.GenerationInterval.valid() || og.GenerationInterval.Max == 0 {
		return fmt.Errorf("config: order generation_interval invalid")
	}
	if og.MaxConcurrentOrders <= 0 {
		return fmt.Errorf("config: max_concurrent_orders must be positive")
	}
	if err := checkDistribution("product_distribution", og.ProductDistribution); err != nil {
		return err
	}
	for product := range og.ProductDistribution {
		if _, ok := c.Products[product]; !ok {
			return fmt.Errorf("config: product_distribution references undefined product %q", product)
		}
	}
	if err := checkDistribution("priority_distribution", og.PriorityDistribution); err != nil {
		return err
	}
	for priority := range og.PriorityDistribution {
		if _, ok := og.DeadlineMultipliers[priority]; !ok {
			return fmt.Errorf("config: priority %q has no deadline multiplier", priority)
		}
	}
	if len(og.QuantityWeights) == 0 {
		return fmt.Errorf("config: quantity_weights is empty")
	}
	for q, w := range og.QuantityWeights {
		if q <= 0 || w < 0 {
			return fmt.Errorf("config: quantity_weights entry %d=%v invalid", q, w)
		}
	}

	fs := c.FaultSystem
	if fs.FaultInjectionInterval.Max > 0 {
		if !fs.FaultInjectionInterval.valid() || !fs.AutoRecoveryTime.valid() {
			return fmt.Errorf("config: fault system intervals invalid")
		}
		if fs.DegradationFactor <= 1.0 {
			return fmt.Errorf("config: degradation_factor must be > 1.0, got %v", fs.DegradationFactor)
		}
	}
	for dev, related := range fs.DeviceRelationships {
		if !deviceIDs[dev] {
			return fmt.Errorf("config: device_relationships references undefined device %q", dev)
		}
		for _, r := range related {
			if !deviceIDs[r] {
				return fmt.Errorf("config: device_relationships[%s] references undefined device %q", dev, r)
			}
		}
	}

	kw := c.KPIWeights
	if err := checkWeightGroup("kpi_weights", kw.Weights); err != nil {
		return err
	}
	if err := checkWeightGroup("efficiency_components", kw.EfficiencyComponents); err != nil {
		return err
	}
	if err := checkWeightGroup("quality_cost_components", kw.QualityCostComponents); err != nil {
		return err
	}
	if err := checkWeightGroup("agv_components", kw.AGVComponents); err != nil {
		return err
	}

	if c.System.SimulationStepSize <= 0 {
		return fmt.Errorf("config: simulation_step_size must be positive")
	}
	if c.System.StatusPublishInterval <= 0 {
		return fmt.Errorf("config: status_publish_interval must be positive")
	}
	if c.System.Horizon <= 0 {
		return fmt.Errorf("config: horizon must be positive")
	}
	return nil
}

// checkDistribution verifies a categorical distribution has positive mass
// and no negative weights. Distributions are normalized at draw time, so
// they need not sum to exactly 1.0.
func checkDistribution(name string, dist map[string]float64) error {
	if len(dist) == 0 {
		return fmt.Errorf("config: %s is empty", name)
	}
	total := 0.0
	for key, w := range dist {
		if w < 0 {
			return fmt.Errorf("config: %s has negative weight %q=%v", name, key, w)
		}
		total += w
	}
	if total <= 0 {
		return fmt.Errorf("config: %s has no positive mass", name)
	}
	return nil
}

// sampleCategorical draws a key from a weighted categorical distribution.
// Keys are iterated in sorted order so a draw consumes the RNG stream
// identically on every run.
func sampleCategorical(rng *rand.Rand, dist map[string]float64) string {
	keys := make([]string, 0, len(dist))
	total := 0.0
	for k, w := range dist {
		keys = append(keys, k)
		total += w
	}
	sort.Strings(keys)
	x := rng.Float64() * total
	for _, k := range keys {
		x -= dist[k]
		if x <= 0 {
			return k
		}
	}
	return keys[len(keys)-1]
}

// sampleQuantity draws from the integer-keyed quantity weights.
func sampleQuantity(rng *rand.Rand, weights map[int]float64) int {
	keys := make([]int, 0, len(weights))
	total := 0.0
	for k, w := range weights {
		keys = append(keys, k)
		total += w
	}
	sort.Ints(keys)
	x := rng.Float64() * total
	for _, k := range keys {
		x -= weights[k]
		if x <= 0 {
			return k
		}
	}
	return keys[len(keys)-1]
}
