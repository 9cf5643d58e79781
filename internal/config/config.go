// Package config loads, validates, and hot-reloads robosafe's deployment
// configuration. Config itself is loaded once at startup; a separate,
// narrower admin file (rules.override.yaml) is the only
// runtime-mutable surface, watched live via fsnotify and applied directly to
// a rules.Engine without restarting any task.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

var validate = validator.New()

// CellConfig identifies the physical cell this supervisor instance guards.
type CellConfig struct {
	ID   string `yaml:"id" validate:"required"`
	Name string `yaml:"name"`
	Type string `yaml:"type"`
}

// RobotConfig describes the supervised robot and its command driver target.
type RobotConfig struct {
	Type      string  `yaml:"type"`
	Model     string  `yaml:"model"`
	Address   string  `yaml:"address" validate:"required"`
	PayloadKg float64 `yaml:"payload_kg" validate:"gte=0"`
	ReachMM   float64 `yaml:"reach_mm" validate:"gte=0"`
}

// PLCConfig describes the safety PLC feeding plc_heartbeat/estop_status.
type PLCConfig struct {
	Type    string `yaml:"type"`
	Address string `yaml:"address" validate:"required"`
}

// ScannerConfig describes one safety laser scanner.
type ScannerConfig struct {
	ID      string         `yaml:"id" validate:"required"`
	Type    string         `yaml:"type"`
	Address string         `yaml:"address" validate:"required"`
	Zones   map[string]int `yaml:"zones"`
}

// VisionConfig controls the AI vision subsystem feeding vision_* signals.
type VisionConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
	Model   string `yaml:"model"`
	FPS     int    `yaml:"fps" validate:"gte=0"`
}

// FumesConfig controls the welding-fumes subsystem and its VLEP ratios.
type FumesConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Address      string  `yaml:"address"`
	VLEP         float64 `yaml:"vlep" validate:"gt=0"`
	WarningRatio float64 `yaml:"warning_ratio" validate:"gt=0"`
	AlertRatio   float64 `yaml:"alert_ratio" validate:"gt=0"`
	CriticalRatio float64 `yaml:"critical_ratio" validate:"gt=0"`
	StopRatio    float64 `yaml:"stop_ratio" validate:"gt=0"`
}

// ThresholdsConfig holds the configured distance/timeout thresholds and the
// safety margin. rules.WeldingCellRules does not read them (its thresholds
// are fixed in code); SafetyMarginPercent is the floor the supervisor's
// fail-safe monitor raises the margin register to on loss of vision comms.
type ThresholdsConfig struct {
	DistanceStopMM        int `yaml:"distance_stop_mm" validate:"gt=0"`
	DistanceSlowMM         int `yaml:"distance_slow_mm" validate:"gt=0"`
	DistanceWarnMM         int `yaml:"distance_warn_mm" validate:"gt=0"`
	PLCHeartbeatTimeoutMs int `yaml:"plc_heartbeat_timeout_ms" validate:"gt=0"`
	VisionTimeoutMs        int `yaml:"vision_timeout_ms" validate:"gt=0"`
	FumesTimeoutMs         int `yaml:"fumes_timeout_ms" validate:"gt=0"`
	SafetyMarginPercent    int `yaml:"safety_margin_percent" validate:"gte=0"`
}

// LoggingConfig controls the process-wide zap logger built by
// logging.NewProduction.
type LoggingConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=json console"`
}

// APIConfig controls the operator-facing HTTP surface, if enabled.
type APIConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port" validate:"gte=0,lte=65535"`
}

// PersistenceConfig controls the optional audit-mirroring sinks
// (pkg/persistence). A zero Addr/DSN leaves the corresponding sink unwired.
type PersistenceConfig struct {
	RedisAddr       string `yaml:"redis_addr"`
	RedisStream     string `yaml:"redis_stream"`
	PostgresDSN     string `yaml:"postgres_dsn"`
	MigrationsDir   string `yaml:"migrations_dir"`
}

// NotificationConfig controls the optional Slack sink (pkg/notification).
type NotificationConfig struct {
	SlackToken   string        `yaml:"slack_token"`
	SlackChannel string        `yaml:"slack_channel"`
	Timeout      time.Duration `yaml:"timeout"`
}

// InsightConfig controls the optional advisory narrator (pkg/insight).
type InsightConfig struct {
	Enabled   bool          `yaml:"enabled"`
	APIKey    string        `yaml:"api_key"`
	Model     string        `yaml:"model"`
	Interval  time.Duration `yaml:"interval"`
}

// Config is the complete, validated deployment configuration.
type Config struct {
	Cell         CellConfig         `yaml:"cell"`
	Robot        RobotConfig        `yaml:"robot"`
	PLC          PLCConfig          `yaml:"plc"`
	Scanners     []ScannerConfig    `yaml:"scanners"`
	Vision       VisionConfig       `yaml:"vision"`
	Fumes        FumesConfig        `yaml:"fumes"`
	Thresholds   ThresholdsConfig   `yaml:"thresholds"`
	Logging      LoggingConfig      `yaml:"logging"`
	API          APIConfig          `yaml:"api"`
	Persistence  PersistenceConfig  `yaml:"persistence"`
	Notification NotificationConfig `yaml:"notification"`
	Insight      InsightConfig      `yaml:"insight"`

	// RulesOverridePath, if set, is watched live for rule enable/disable and
	// margin-percent overrides (see Watcher).
	RulesOverridePath string `yaml:"rules_override_path"`

	// RulesInterval is the period rules.Engine.Run re-evaluates all
	// registered rules at.
	RulesInterval time.Duration `yaml:"rules_interval" validate:"gt=0"`

	// WatchdogInterval is the cadence the signal store's timeout watchdog
	// sweeps registered definitions at.
	WatchdogInterval time.Duration `yaml:"watchdog_interval" validate:"gt=0"`

	// ExitOnFatal controls supervisor.Fatal's behavior: when true, a fatal
	// safety condition calls os.Exit(1) after a bounded audit flush.
	ExitOnFatal bool `yaml:"exit_on_fatal"`
}

func defaults() Config {
	return Config{
		Cell:  CellConfig{ID: "CELL-001", Name: "Welding Cell", Type: "welding"},
		Robot: RobotConfig{Type: "fanuc", PayloadKg: 12, ReachMM: 1420},
		Fumes: FumesConfig{
			Enabled: true, VLEP: 5.0,
			WarningRatio: 0.5, AlertRatio: 0.8, CriticalRatio: 1.0, StopRatio: 1.2,
		},
		Thresholds: ThresholdsConfig{
			DistanceStopMM: 800, DistanceSlowMM: 1500, DistanceWarnMM: 2000,
			PLCHeartbeatTimeoutMs: 500, VisionTimeoutMs: 500, FumesTimeoutMs: 5000,
			SafetyMarginPercent: 20,
		},
		Logging: LoggingConfig{Level: "info", Format: "json"},
		API:     APIConfig{Host: "0.0.0.0", Port: 8080},
		Persistence: PersistenceConfig{
			RedisStream: "robosafe:audit",
		},
		Notification: NotificationConfig{Timeout: 5 * time.Second},
		Insight:      InsightConfig{Model: "claude-3-5-haiku-20241022", Interval: 60 * time.Second},
		RulesInterval:    100 * time.Millisecond,
		WatchdogInterval: 100 * time.Millisecond,
		ExitOnFatal:      true,
	}
}

// Load reads, parses, defaults, and validates the configuration at path.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate runs struct-tag validation plus the cross-field checks a tag
// alone can't express (threshold ordering, scanner ids).
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	for i, sc := range cfg.Scanners {
		if err := validate.Struct(sc); err != nil {
			return fmt.Errorf("scanner[%d] validation failed: %w", i, err)
		}
	}
	t := cfg.Thresholds
	if !(t.DistanceStopMM < t.DistanceSlowMM && t.DistanceSlowMM < t.DistanceWarnMM) {
		return fmt.Errorf("config validation failed: thresholds must satisfy distance_stop_mm < distance_slow_mm < distance_warn_mm, got %d, %d, %d",
			t.DistanceStopMM, t.DistanceSlowMM, t.DistanceWarnMM)
	}
	f := cfg.Fumes
	if !(f.WarningRatio < f.AlertRatio && f.AlertRatio < f.CriticalRatio && f.CriticalRatio <= f.StopRatio) {
		return fmt.Errorf("config validation failed: fumes ratios must satisfy warning_ratio < alert_ratio < critical_ratio <= stop_ratio")
	}
	return nil
}
