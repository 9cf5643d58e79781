package supervisor_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/jordigilh/robosafe/pkg/rules"
	"github.com/jordigilh/robosafe/pkg/signal"
	"github.com/jordigilh/robosafe/pkg/statemachine"
)

// nominalReadings is one healthy sample for every welding-cell signal, the
// way a connected driver reports a quiescent cell. The scenarios below push
// these first so a hazard is injected against a clean baseline rather than
// against the pessimistic fail-safe defaults the store registers with.
func nominalReadings() map[string]any {
	return map[string]any{
		"plc_heartbeat":        1,
		"estop_status":         0,
		"door_closed":          true,
		"scanner_zone_status":  0,
		"scanner_min_distance": 5000,
		"fanuc_mode":           "AUTO",
		"fanuc_tcp_speed":      250.0,
		"fanuc_servo_on":       true,
		"vision_presence":      false,
		"vision_min_distance":  8000,
		"vision_ppe_ok":        true,
		"vision_confidence":    0.95,
		"fumes_concentration":  1.0,
		"fumes_vlep_ratio":     0.2,
		"arc_on":               false,
	}
}

// These specs exercise the fast rule-engine path end to end: a populated
// signal store, the full welding-cell rule catalogue, and a real state
// machine, with no mocking of any of the three. The progressive risk-score
// ladder and weighted multi-hazard arbitration exercise the Analysis/Decision
// risk scoring pipeline instead of the rule engine and are covered by
// pkg/analysis and pkg/decision's own unit tests, which test that weighted
// scoring directly rather than through the added indirection and goroutine
// timing of the full agent pipeline.
var _ = Describe("welding cell safety scenarios", func() {
	var (
		store   *signal.Store
		machine *statemachine.Machine
		engine  *rules.Engine
	)

	BeforeEach(func() {
		store = signal.New(nil)
		Expect(store.RegisterBatch(signal.WeldingCellSignals())).To(Succeed())
		machine = statemachine.New(statemachine.Normal, 100, nil)
		engine = rules.New(store, machine, nil)
		engine.RegisterAll(rules.WeldingCellRules())
	})

	// The E-STOP button is pressed; the rule engine
	// drives the machine to EStop, and the fail-safe does not reset without
	// an explicit recovery sequence.
	It("enters EStop on an E-STOP press and refuses a direct reset to Normal", func() {
		Expect(store.BatchUpdate(nominalReadings(), signal.Good)).To(Equal(len(nominalReadings())))
		Expect(store.UpdateNow("estop_status", 1)).To(Succeed())
		engine.EvaluateAll()

		Expect(machine.CurrentState()).To(Equal(statemachine.EStop))
		Expect(machine.RequestNormal("operator")).To(BeFalse())
		Expect(machine.CurrentState()).To(Equal(statemachine.EStop))
	})

	// Fumes exceed 120% VLEP; RS-013 drives a
	// controlled Category 1 stop.
	It("enters Stop when fumes exceed 120% VLEP", func() {
		Expect(store.BatchUpdate(nominalReadings(), signal.Good)).To(Equal(len(nominalReadings())))
		Expect(store.UpdateNow("fumes_vlep_ratio", 1.30)).To(Succeed())
		engine.EvaluateAll()

		Expect(machine.CurrentState()).To(Equal(statemachine.Stop))
	})

	// Every signal except plc_heartbeat reports
	// healthy, so the heartbeat's quality is still Unknown; RS-002 treats
	// anything short of a valid reading as a communication loss and drives
	// an immediate EStop.
	It("enters EStop when the PLC heartbeat has never been observed", func() {
		readings := nominalReadings()
		delete(readings, "plc_heartbeat")
		Expect(store.BatchUpdate(readings, signal.Good)).To(Equal(len(readings)))

		sig, present := store.Get("plc_heartbeat")
		Expect(present).To(BeTrue())
		Expect(sig.Quality).To(Equal(signal.Unknown))

		engine.EvaluateAll()

		Expect(machine.CurrentState()).To(Equal(statemachine.EStop))
	})

	// From EStop, RESET moves to Recovery, then NORMAL
	// moves to Normal; a direct EStop -> Normal request is rejected.
	It("only leaves EStop through an explicit recovery then normal sequence", func() {
		Expect(store.BatchUpdate(nominalReadings(), signal.Good)).To(Equal(len(nominalReadings())))
		Expect(store.UpdateNow("estop_status", 1)).To(Succeed())
		engine.EvaluateAll()
		Expect(machine.CurrentState()).To(Equal(statemachine.EStop))

		Expect(machine.RequestNormal("operator")).To(BeFalse())
		Expect(machine.CurrentState()).To(Equal(statemachine.EStop))

		Expect(machine.RequestRecovery("operator_reset")).To(BeTrue())
		Expect(machine.CurrentState()).To(Equal(statemachine.Recovery))

		Expect(machine.RequestNormal("operator_normal")).To(BeTrue())
		Expect(machine.CurrentState()).To(Equal(statemachine.Normal))
	})
})
