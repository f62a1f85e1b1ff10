package cmd

import (
	"encoding/json"
	"fmt"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"

	"github.com/floorsim/floorsim/sim/telemetry"
)

// logSink writes telemetry through logrus. KPI snapshots log at info,
// everything else at debug so the default level stays readable.
type logSink struct{}

func newLogSink() logSink { return logSink{} }

func (logSink) Emit(ev telemetry.Event) {
	switch ev.Kind {
	case telemetry.KindKPISnapshot:
		s := ev.Snapshot
		logrus.Infof("[tick %07d] KPI score=%.3f (efficiency=%.3f quality=%.3f agv=%.3f) completed=%d failed=%d",
			ev.Tick, s.FinalScore, s.ProductionEfficiency, s.QualityCost, s.AGVEfficiency,
			s.OrdersCompleted, s.OrdersFailed)
	case telemetry.KindOrderCompleted, telemetry.KindOrderFailed,
		telemetry.KindFaultOnset, telemetry.KindFaultCleared:
		logrus.Infof("[tick %07d] %s %s %s", ev.Tick, ev.Kind, ev.Source, ev.Detail)
	default:
		logrus.Debugf("[tick %07d] %s %s state=%s", ev.Tick, ev.Kind, ev.Source, ev.State)
	}
}

// multiSink fans one event out to several sinks.
type multiSink []telemetry.Sink

func (m multiSink) Emit(ev telemetry.Event) {
	for _, s := range m {
		s.Emit(ev)
	}
}

// mqttSink publishes telemetry as JSON to per-source topics:
// <prefix>/<kind>/<source_id>. Mirrors how the factory's devices report
// status in production deployments.
type mqttSink struct {
	client mqtt.Client
	prefix string
}

func newMQTTSink(brokerURL, prefix string) (*mqttSink, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(brokerURL).
		SetClientID("floorsim").
		SetAutoReconnect(true)
	client := mqtt.NewClient(opts)
	token := client.Connect()
	token.Wait()
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect %s: %w", brokerURL, err)
	}
	return &mqttSink{client: client, prefix: prefix}, nil
}

func (s *mqttSink) Emit(ev telemetry.Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		logrus.Errorf("mqtt sink: marshal %s event: %v", ev.Kind, err)
		return
	}
	topic := fmt.Sprintf("%s/%s/%s", s.prefix, ev.Kind, ev.Source)
	s.client.Publish(topic, 0, false, payload)
}

func (s *mqttSink) Close() {
	s.client.Disconnect(250)
}

// printSnapshot renders the final KPI report to stdout.
func printSnapshot(snap *telemetry.KPISnapshot) {
	fmt.Println("=== Simulation KPI Report ===")
	fmt.Printf("Final Score           : %.3f\n", snap.FinalScore)
	fmt.Printf("Production Efficiency : %.3f\n", snap.ProductionEfficiency)
	fmt.Printf("Quality / Cost        : %.3f\n", snap.QualityCost)
	fmt.Printf("AGV Efficiency        : %.3f\n", snap.AGVEfficiency)
	fmt.Printf("Orders Completed      : %d\n", snap.OrdersCompleted)
	fmt.Printf("Orders Failed         : %d\n", snap.OrdersFailed)
	fmt.Printf("Units Scrapped        : %d\n", snap.UnitsScrapped)
	fmt.Printf("Energy Cost           : %.2f\n", snap.EnergyCost)
	fmt.Printf("Material Cost         : %.2f\n", snap.MaterialCost)
	if out, err := json.MarshalIndent(snap.Components, "", "  "); err == nil {
		fmt.Printf("Components            : %s\n", out)
	}
}
