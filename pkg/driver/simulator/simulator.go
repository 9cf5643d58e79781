// Package simulator provides an in-memory driver.Driver that fabricates
// plausible readings for the full signal catalogue in
// signal.WeldingCellSignals. It exists purely to drive the pipeline
// end-to-end in tests and cmd/robosafe --simulate; it is explicitly not a
// vendor protocol implementation.
package simulator

import (
	"context"
	"math"
	"math/rand"
	"sync"

	"github.com/jordigilh/robosafe/pkg/driver"
)

// Config seeds the simulator's baseline behaviour.
type Config struct {
	// WeldingActive forces the high-fumes, arc-on branch rather than
	// leaving it to chance.
	WeldingActive bool
	// SpikeProbability is the chance each Snapshot briefly multiplies the
	// scanner/vision distances down and fumes concentration up.
	SpikeProbability float64
	Seed             int64
}

// DefaultConfig injects rare spikes over a deterministic seed.
func DefaultConfig() Config {
	return Config{SpikeProbability: 0.02, Seed: 1}
}

// Driver is an in-memory driver.CommandDriver. It requires no network
// access: Connect/Disconnect just flip a flag, and Snapshot synthesizes a
// full reading set every call.
type Driver struct {
	cfg  Config
	rng  *rand.Rand
	t    float64
	weld bool

	mu        sync.Mutex
	connected bool
	lastCmd   driver.CommandName
}

// New constructs a simulator driver. A zero SpikeProbability disables spike
// injection entirely; a zero Seed falls back to the deterministic default.
func New(cfg Config) *Driver {
	if cfg.SpikeProbability < 0 {
		cfg.SpikeProbability = DefaultConfig().SpikeProbability
	}
	if cfg.Seed == 0 {
		cfg.Seed = DefaultConfig().Seed
	}
	return &Driver{
		cfg:  cfg,
		rng:  rand.New(rand.NewSource(cfg.Seed)),
		weld: cfg.WeldingActive,
	}
}

// SetWeldingActive toggles the high-fumes, arc-on branch.
func (d *Driver) SetWeldingActive(active bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.weld = active
}

func (d *Driver) Connect(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.connected = true
	return nil
}

func (d *Driver) Disconnect() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.connected = false
	return nil
}

func (d *Driver) IsConnected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.connected
}

// LastCommand returns the most recent command accepted via SendCommand, for
// test assertions.
func (d *Driver) LastCommand() driver.CommandName {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastCmd
}

func (d *Driver) SendCommand(ctx context.Context, name driver.CommandName) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lastCmd = name
	return nil
}

// Snapshot synthesizes one reading per id in signal.WeldingCellSignals,
// shaped so it can be registered directly as a perception.SensorCallback.
func (d *Driver) Snapshot() (map[string]any, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.connected {
		return nil, driver.ErrNotConnected
	}

	d.t += 1.0
	weld := d.weld || d.rng.Float64() < 0.3

	var fumes float64
	if weld {
		fumes = 2.0*2 + d.rng.NormFloat64() + 2*math.Sin(d.t*0.1)
	} else {
		fumes = 2.0*0.3 + d.rng.NormFloat64()*0.2
	}
	if fumes < 0 {
		fumes = 0
	}
	spike := d.rng.Float64() < d.cfg.SpikeProbability
	if spike {
		fumes *= 2 + d.rng.Float64()*2
	}
	vlep := fumes / 5.0

	minDistance := 6000.0 + 1500*math.Sin(d.t*0.05) + d.rng.NormFloat64()*100
	if weld {
		minDistance = 1200 + d.rng.NormFloat64()*200
	}
	if spike {
		minDistance /= 3
	}
	if minDistance < 0 {
		minDistance = 0
	}

	tcpSpeed := 800.0 + d.rng.NormFloat64()*50
	if !weld {
		tcpSpeed = 50 + d.rng.NormFloat64()*10
	}

	return map[string]any{
		"plc_heartbeat":        int(d.t) % 2,
		"estop_status":         0,
		"door_closed":          true,
		"scanner_zone_status":  0,
		"scanner_min_distance": int(minDistance),
		"fanuc_mode":           "AUTO",
		"fanuc_tcp_speed":      tcpSpeed,
		"fanuc_servo_on":       true,
		"vision_presence":      weld,
		"vision_min_distance":  int(minDistance * 1.1),
		"vision_ppe_ok":        true,
		"fumes_concentration":  fumes,
		"fumes_vlep_ratio":     vlep,
		"arc_on":               weld,
		"vision_confidence":    0.9 + d.rng.Float64()*0.1,
	}, nil
}

var _ driver.CommandDriver = (*Driver)(nil)
