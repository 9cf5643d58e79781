package rules

import "time"

// WeldingCellRules returns the intervention rule catalogue for a MIG
// welding cell: identifiers (RS-NNN), priorities, and cooldowns, with
// conditions expressed as typed Snapshot predicates.
func WeldingCellRules() []*Rule {
	return []*Rule{
		// === P0 - CRITICAL ===
		{
			ID:              "RS-001",
			Name:            "E-STOP pressed",
			Priority:        P0Critical,
			Description:     "Emergency stop if the E-STOP button is pressed",
			Enabled:         true,
			RequiredSignals: []string{"estop_status"},
			Condition: func(s Snapshot) bool {
				return s.Int("estop_status", 0) != 0
			},
			Actions: []Action{
				EStop(),
				Log(map[string]any{"source": "estop_button"}),
			},
		},
		{
			ID:              "RS-002",
			Name:            "PLC heartbeat timeout",
			Priority:        P0Critical,
			Description:     "E-STOP on loss of PLC communication",
			Enabled:         true,
			RequiredSignals: []string{"plc_heartbeat"},
			Condition: func(s Snapshot) bool {
				// Never observed, watchdog-timed-out, or bad all mean the
				// PLC link cannot be trusted.
				return !s.IsValid("plc_heartbeat")
			},
			Actions: []Action{
				EStop(),
				Alert("HSE,MAINT", "PLC communication lost"),
			},
		},
		{
			ID:              "RS-004",
			Name:            "Arc ON + door open",
			Priority:        P0Critical,
			Description:     "E-STOP if the welding arc is active while the guard door is open",
			Enabled:         true,
			RequiredSignals: []string{"arc_on", "door_closed"},
			Condition: func(s Snapshot) bool {
				return s.Bool("arc_on", false) && !s.Bool("door_closed", true)
			},
			Actions: []Action{
				EStop(),
				Alert("OPERATOR", "Arc active with door open"),
			},
		},

		// === P1 - CONTROLLED STOPS ===
		{
			ID:              "RS-010",
			Name:            "Scanner PROTECT zone",
			Priority:        P1High,
			Description:     "STOP on intrusion into the PROTECT zone",
			Enabled:         true,
			RequiredSignals: []string{"scanner_zone_status"},
			Condition: func(s Snapshot) bool {
				return s.Int("scanner_zone_status", 0)&0x04 != 0
			},
			Actions: []Action{
				StopCat1(),
				Log(map[string]any{"zone": "PROTECT"}),
			},
		},
		{
			ID:              "RS-011",
			Name:            "Vision distance critical in AUTO",
			Priority:        P1High,
			Description:     "STOP if a person is <800mm in AUTO mode",
			Enabled:         true,
			RequiredSignals: []string{"vision_presence", "vision_min_distance", "fanuc_mode"},
			Condition: func(s Snapshot) bool {
				return s.Bool("vision_presence", false) &&
					s.Int("vision_min_distance", 10000) < 800 &&
					s.String("fanuc_mode", "") == "AUTO"
			},
			Actions: []Action{
				StopCat1(),
				Log(map[string]any{"trigger": "vision_distance"}),
			},
		},
		{
			ID:              "RS-013",
			Name:            "Fumes critical",
			Priority:        P1High,
			Description:     "STOP if fumes exceed 120% VLEP",
			Enabled:         true,
			Cooldown:        5 * time.Second,
			RequiredSignals: []string{"fumes_vlep_ratio"},
			Condition: func(s Snapshot) bool {
				return s.Float("fumes_vlep_ratio", 0) > 1.2
			},
			Actions: []Action{
				StopCat1(),
				Alert("OPERATOR,HSE", "Fumes >120% VLEP"),
			},
		},

		// === P2 - SLOWDOWNS ===
		{
			ID:              "RS-020",
			Name:            "Scanner WARN zone",
			Priority:        P2Medium,
			Description:     "SLOW 50% on presence in the WARN zone",
			Enabled:         true,
			RequiredSignals: []string{"scanner_zone_status"},
			Condition: func(s Snapshot) bool {
				return s.Int("scanner_zone_status", 0)&0x02 != 0
			},
			Actions: []Action{Slow(50)},
		},
		{
			ID:              "RS-021",
			Name:            "Vision distance warning in AUTO",
			Priority:        P2Medium,
			Description:     "SLOW 50% if a person is <1500mm in AUTO mode",
			Enabled:         true,
			RequiredSignals: []string{"vision_presence", "vision_min_distance", "fanuc_mode"},
			Condition: func(s Snapshot) bool {
				dist := s.Int("vision_min_distance", 10000)
				return s.Bool("vision_presence", false) &&
					dist >= 800 && dist < 1500 &&
					s.String("fanuc_mode", "") == "AUTO"
			},
			Actions: []Action{Slow(50)},
		},
		{
			ID:              "RS-023",
			Name:            "Fumes high",
			Priority:        P2Medium,
			Description:     "SLOW 25% + alert if fumes are 100-120% VLEP",
			Enabled:         true,
			Cooldown:        10 * time.Second,
			RequiredSignals: []string{"fumes_vlep_ratio"},
			Condition: func(s Snapshot) bool {
				r := s.Float("fumes_vlep_ratio", 0)
				return r > 1.0 && r <= 1.2
			},
			Actions: []Action{
				Slow(25),
				Alert("OPERATOR", "Fumes 100-120% VLEP"),
			},
		},

		// === P3 - ALERTS ===
		{
			ID:              "RS-030",
			Name:            "Fumes warning",
			Priority:        P3Low,
			Description:     "Alert if fumes are 80-100% VLEP",
			Enabled:         true,
			Cooldown:        30 * time.Second,
			RequiredSignals: []string{"fumes_vlep_ratio"},
			Condition: func(s Snapshot) bool {
				r := s.Float("fumes_vlep_ratio", 0)
				return r > 0.8 && r <= 1.0
			},
			Actions: []Action{
				Alert("OPERATOR", "Fumes 80-100% VLEP"),
				Log(map[string]any{"type": "exposure_warning"}),
			},
		},
		{
			ID:              "RS-032",
			Name:            "Arc exposure",
			Priority:        P3Low,
			Description:     "Alert on presence detected while the arc is active in AUTO",
			Enabled:         true,
			Cooldown:        time.Minute,
			RequiredSignals: []string{"arc_on", "vision_presence", "fanuc_mode"},
			Condition: func(s Snapshot) bool {
				return s.Bool("arc_on", false) &&
					s.Bool("vision_presence", false) &&
					s.String("fanuc_mode", "") == "AUTO"
			},
			Actions: []Action{
				Alert("OPERATOR", "UV arc exposure detected"),
				Log(map[string]any{"type": "arc_exposure"}),
			},
		},

		// === P4 - DIAGNOSTIC ===
		{
			ID:              "RS-040",
			Name:            "Camera fault",
			Priority:        P4Diagnostic,
			Description:     "Degrade vision subsystem on camera fault",
			Enabled:         true,
			RequiredSignals: []string{"camera_status"},
			Condition: func(s Snapshot) bool {
				return s.String("camera_status", "") == "fault"
			},
			Actions: []Action{
				SetDegraded("vision"),
				Alert("MAINT", "camera fault"),
				IncreaseMargin(30),
			},
		},
		{
			ID:              "RS-041",
			Name:            "Fumes sensor fault",
			Priority:        P4Diagnostic,
			Description:     "Degrade fumes subsystem on sensor fault",
			Enabled:         true,
			RequiredSignals: []string{"fumes_sensor_status"},
			Condition: func(s Snapshot) bool {
				return s.String("fumes_sensor_status", "") == "fault"
			},
			Actions: []Action{
				SetDegraded("fumes"),
				Alert("HSE,MAINT", "fumes sensor fault"),
			},
		},
	}
}
