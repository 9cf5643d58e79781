package signal

import "time"

func ptr(f float64) *float64 { return &f }

// WeldingCellSignals returns the signal catalogue for a MIG welding cell:
// the fourteen ids every driver implementation is required to produce, plus
// a supplemental vision-confidence signal that enriches Analysis without
// adding a new required contract signal.
func WeldingCellSignals() []Definition {
	return []Definition{
		{
			ID: "plc_heartbeat", Name: "PLC heartbeat", Source: SourcePLCSafety,
			DataType: KindInt, FrequencyHz: 100, Timeout: 500 * time.Millisecond,
			FailSafe: 0, Critical: true,
		},
		{
			ID: "estop_status", Name: "E-stop status", Source: SourcePLCSafety,
			DataType: KindInt, FrequencyHz: 100, Timeout: 100 * time.Millisecond,
			FailSafe: 1, Critical: true,
		},
		{
			ID: "door_closed", Name: "Guard door closed", Source: SourcePLCSafety,
			DataType: KindBool, FrequencyHz: 50, Timeout: 500 * time.Millisecond,
			FailSafe: false,
		},
		{
			ID: "scanner_zone_status", Name: "Scanner zone status", Source: SourceScanner,
			DataType: KindBitfield, FrequencyHz: 50, Timeout: 100 * time.Millisecond,
			FailSafe: 0xFF, Critical: true,
		},
		{
			ID: "scanner_min_distance", Name: "Scanner minimum distance", Source: SourceScanner,
			DataType: KindInt, Unit: "mm", FrequencyHz: 50, Timeout: 100 * time.Millisecond,
			Min: ptr(0), Max: ptr(8000), FailSafe: 0, Critical: true,
		},
		{
			ID: "fanuc_mode", Name: "Robot mode", Source: SourceRobot,
			DataType: KindEnum, FrequencyHz: 10, Timeout: 500 * time.Millisecond,
			FailSafe: "T1", Critical: true,
		},
		{
			ID: "fanuc_tcp_speed", Name: "Robot TCP speed", Source: SourceRobot,
			DataType: KindReal, Unit: "mm/s", FrequencyHz: 100, Timeout: 100 * time.Millisecond,
			Min: ptr(0), Max: ptr(2000), FailSafe: 0.0, Critical: true,
		},
		{
			ID: "fanuc_servo_on", Name: "Servos energized", Source: SourceRobot,
			DataType: KindBool, FrequencyHz: 100, Timeout: 100 * time.Millisecond,
			FailSafe: false, Critical: true,
		},
		{
			ID: "vision_presence", Name: "Vision presence detected", Source: SourceVision,
			DataType: KindBool, FrequencyHz: 30, Timeout: 500 * time.Millisecond,
			FailSafe: true, Critical: true,
		},
		{
			ID: "vision_min_distance", Name: "Vision minimum distance", Source: SourceVision,
			DataType: KindInt, Unit: "mm", FrequencyHz: 30, Timeout: 500 * time.Millisecond,
			Min: ptr(0), Max: ptr(10000), FailSafe: 0, Critical: true,
		},
		{
			ID: "vision_ppe_ok", Name: "PPE compliance", Source: SourceVision,
			DataType: KindBool, FrequencyHz: 30, Timeout: 500 * time.Millisecond,
			FailSafe: false,
		},
		{
			ID: "fumes_concentration", Name: "Fume concentration", Source: SourceFumes,
			DataType: KindReal, Unit: "mg/m³", FrequencyHz: 1, Timeout: 5 * time.Second,
			Min: ptr(0), Max: ptr(50), FailSafe: 50.0,
		},
		{
			ID: "fumes_vlep_ratio", Name: "Fume VLEP ratio", Source: SourceRoboSafe,
			DataType: KindReal, FrequencyHz: 1, Timeout: 5 * time.Second,
			Min: ptr(0), Max: ptr(3.0), FailSafe: 1.0,
		},
		{
			ID: "arc_on", Name: "Welding arc active", Source: SourceWelding,
			DataType: KindBool, FrequencyHz: 100, Timeout: 200 * time.Millisecond,
			FailSafe: false,
		},
		// Supplemental: not a required driver-contract signal, but used by
		// Analysis/Equipment scoring.
		{
			ID: "vision_confidence", Name: "Vision detection confidence", Source: SourceVision,
			DataType: KindReal, FrequencyHz: 30, Timeout: 500 * time.Millisecond,
			Min: ptr(0), Max: ptr(1.0), FailSafe: 0.0,
		},
	}
}
