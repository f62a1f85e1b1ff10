package sim

import (
	"github.com/floorsim/floorsim/sim/telemetry"
)

// Component score names. Weight groups in the configuration key off
// these; unknown keys contribute a zero score.
const (
	CompOrderFulfillmentRate  = "order_fulfillment_rate"
	CompOnTimeDeliveryRate    = "on_time_delivery_rate"
	CompCycleTimeEfficiency   = "cycle_time_efficiency"
	CompFirstPassYield        = "first_pass_yield"
	CompCostEfficiency        = "cost_efficiency"
	CompChargeCycleEfficiency = "charge_cycle_efficiency"
	CompEnergyEfficiency      = "energy_efficiency"
	CompAGVUtilization        = "utilization"
)

// Composite names in the kpi_weights group.
const (
	CompositeProductionEfficiency = "production_efficiency"
	CompositeQualityCost          = "quality_cost"
	CompositeAGVEfficiency        = "agv_efficiency"
)

// KPIEngine is a pure accumulator over simulation telemetry: order
// completions, scrap, energy and device utilization. At each reporting
// interval it folds the counters into three weighted composites and a
// final score. All scores live in [0,1].
type KPIEngine struct {
	weights KPIWeightsConfig
	costs   KPICostsConfig

	ordersCompleted     int
	ordersFailed        int
	onTimeOrders        int
	cycleTicksSum       int64
	theoreticalTicksSum int64

	unitsDelivered int
	unitsScrapped  int
	unitsCreated   int

	energySeconds float64
}

// NewKPIEngine creates a KPIEngine. The weight groups must already have
// passed configuration validation.
func NewKPIEngine(weights KPIWeightsConfig, costs KPICostsConfig) *KPIEngine {
	return &KPIEngine{weights: weights, costs: costs}
}

// AddMaterialUnits records raw material drawn for freshly created units.
func (k *KPIEngine) AddMaterialUnits(n int) {
	k.unitsCreated += n
}

// AddEnergySeconds records powered device time (AGV movement, charging).
func (k *KPIEngine) AddEnergySeconds(s float64) {
	k.energySeconds += s
}

// UnitDelivered records one unit archived at a sink warehouse.
func (k *KPIEngine) UnitDelivered() {
	k.unitsDelivered++
}

// OrderCompleted records a completed order and its cycle time against the
// product's theoretical production time.
func (k *KPIEngine) OrderCompleted(order *Order, now int64, theoreticalSeconds float64) {
	k.ordersCompleted++
	if now <= order.Deadline {
		k.onTimeOrders++
	}
	k.cycleTicksSum += now - order.CreatedAt
	k.theoreticalTicksSum += secondsToTicks(theoreticalSeconds)
}

// OrderFailed records a failed order and the units scrapped with it.
func (k *KPIEngine) OrderFailed(order *Order, scrappedUnits int) {
	k.ordersFailed++
	k.unitsScrapped += scrappedUnits
}

// MaterialCost returns raw material spend so far.
func (k *KPIEngine) MaterialCost() float64 {
	return float64(k.unitsCreated) * k.costs.MaterialPerUnit
}

// EnergyCost returns energy spend so far.
func (k *KPIEngine) EnergyCost() float64 {
	return k.energySeconds * k.costs.EnergyPerSecond
}

// componentScores computes every known sub-component score from the
// current counters plus live AGV state. Ratios with an empty denominator
// score 1.0: nothing has gone wrong yet.
func (k *KPIEngine) componentScores(sim *Simulator, now int64) map[string]float64 {
	scores := make(map[string]float64)

	ended := k.ordersCompleted + k.ordersFailed
	scores[CompOrderFulfillmentRate] = ratioOrOne(float64(k.ordersCompleted), float64(ended))
	scores[CompOnTimeDeliveryRate] = ratioOrOne(float64(k.onTimeOrders), float64(k.ordersCompleted))
	scores[CompCycleTimeEfficiency] = clamp01(ratioOrOne(float64(k.theoreticalTicksSum), float64(k.cycleTicksSum)))

	scores[CompFirstPassYield] = ratioOrOne(float64(k.unitsDelivered), float64(k.unitsDelivered+k.unitsScrapped))
	totalCost := k.MaterialCost() + k.EnergyCost() + float64(k.unitsScrapped)*k.costs.ScrapPerUnit
	scores[CompCostEfficiency] = clamp01(ratioOrOne(float64(k.unitsDelivered)*k.costs.BaselineUnitCost, totalCost))

	var forced, voluntary int
	var movementEnergy, totalEnergy float64
	var busyTicks int64
	for _, id := range sim.agvOrder {
		agv := sim.agvs[id]
		st := agv.Stats()
		forced += st.ForcedChargeCount
		voluntary += st.VoluntaryChargeCount
		movementEnergy += st.TotalDistance * agv.cfg.BatteryConsumptionPerMeter
		totalEnergy += st.EnergyConsumed
		busyTicks += agv.BusyTicks(now)
	}
	scores[CompChargeCycleEfficiency] = ratioOrOne(float64(voluntary), float64(forced+voluntary))
	scores[CompEnergyEfficiency] = clamp01(ratioOrOne(movementEnergy, totalEnergy))
	if len(sim.agvOrder) > 0 && now > 0 {
		scores[CompAGVUtilization] = clamp01(float64(busyTicks) / float64(int64(len(sim.agvOrder))*now))
	} else {
		scores[CompAGVUtilization] = 0
	}
	return scores
}

// weightedSum folds component scores through one weight group. Weight
// keys without a computed score contribute zero.
func weightedSum(weights map[string]float64, scores map[string]float64) float64 {
	total := 0.0
	for name, w := range weights {
		total += w * scores[name]
	}
	return total
}

// Snapshot computes the three composites and the final weighted score.
func (k *KPIEngine) Snapshot(sim *Simulator, now int64) *telemetry.KPISnapshot {
	scores := k.componentScores(sim, now)

	efficiency := weightedSum(k.weights.EfficiencyComponents, scores)
	quality := weightedSum(k.weights.QualityCostComponents, scores)
	agv := weightedSum(k.weights.AGVComponents, scores)

	final := k.weights.Weights[CompositeProductionEfficiency]*efficiency +
		k.weights.Weights[CompositeQualityCost]*quality +
		k.weights.Weights[CompositeAGVEfficiency]*agv

	return &telemetry.KPISnapshot{
		Tick:                 now,
		ProductionEfficiency: efficiency,
		QualityCost:          quality,
		AGVEfficiency:        agv,
		FinalScore:           final,
		Components:           scores,
		OrdersCompleted:      k.ordersCompleted,
		OrdersFailed:         k.ordersFailed,
		UnitsScrapped:        k.unitsScrapped,
		EnergyCost:           k.EnergyCost(),
		MaterialCost:         k.MaterialCost(),
		EntityStates:         sim.entityStates(),
	}
}

func ratioOrOne(num, den float64) float64 {
	if den == 0 {
		return 1
	}
	return num / den
}

func clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}
