// Package supervisor wires every component of the RoboSafe Sentinel
// safety supervisor together and drives its lifecycle. It owns the shared
// SignalStore and SafetyStateMachine, constructs the four agents and the
// RuleEngine on top of them, registers the optional persistence/
// notification/insight sinks, and runs everything under a single
// errgroup.Group so that any component's unrecoverable error tears the
// whole process down together.
package supervisor

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jordigilh/robosafe/internal/config"
	"github.com/jordigilh/robosafe/pkg/analysis"
	"github.com/jordigilh/robosafe/pkg/bus"
	"github.com/jordigilh/robosafe/pkg/decision"
	"github.com/jordigilh/robosafe/pkg/driver"
	"github.com/jordigilh/robosafe/pkg/insight"
	"github.com/jordigilh/robosafe/pkg/notification"
	"github.com/jordigilh/robosafe/pkg/orchestration"
	"github.com/jordigilh/robosafe/pkg/perception"
	"github.com/jordigilh/robosafe/pkg/persistence"
	"github.com/jordigilh/robosafe/pkg/rules"
	"github.com/jordigilh/robosafe/pkg/shared/logging"
	"github.com/jordigilh/robosafe/pkg/signal"
	"github.com/jordigilh/robosafe/pkg/statemachine"
)

// Supervisor owns every long-lived component of one running cell and drives
// its startup, steady-state, and shutdown sequencing.
type Supervisor struct {
	cfg *config.Config
	log *zap.Logger

	Bus          *bus.Bus
	Store        *signal.Store
	Machine      *statemachine.Machine
	Rules        *rules.Engine
	Perception   *perception.Agent
	Analysis     *analysis.Agent
	Decision     *decision.Agent
	Orchestrator *orchestration.Agent

	watcher      *config.Watcher
	redisSink    *persistence.RedisSink
	postgresSink *persistence.PostgresSink
	notifySink   *notification.Sink
	narrator     *insight.Narrator
	driverSup    *driver.Supervised

	exitOnFatal bool
}

// New wires every component from cfg but starts nothing; call Run to start
// the cooperative scheduler.
func New(cfg *config.Config, logger *zap.Logger) (*Supervisor, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Supervisor{cfg: cfg, log: logger, exitOnFatal: cfg.ExitOnFatal}

	s.Bus = bus.New(logger)
	s.Store = signal.New(logger)
	if err := s.Store.RegisterBatch(signal.WeldingCellSignals()); err != nil {
		return nil, fmt.Errorf("registering signal catalogue: %w", err)
	}
	s.Machine = statemachine.New(statemachine.Init, 1000, logger)
	s.Rules = rules.New(s.Store, s.Machine, logger)
	s.Rules.RegisterAll(rules.WeldingCellRules())

	s.Perception = perception.New(s.Store, s.Bus, perception.DefaultConfig(), logger)
	s.Analysis = analysis.New(s.Bus, analysis.DefaultConfig(), logger)
	s.Decision = decision.New(s.Bus, decision.DefaultConfig(), logger)
	s.Orchestrator = orchestration.New(s.Bus, s.Machine, orchestration.DefaultConfig(), logger)

	if cfg.RulesOverridePath != "" {
		s.watcher = config.NewWatcher(cfg.RulesOverridePath, s.Rules, logger)
		if err := s.watcher.ApplyOnce(); err != nil {
			return nil, fmt.Errorf("applying initial rules override: %w", err)
		}
	}

	if cfg.Persistence.RedisAddr != "" {
		s.redisSink = persistence.NewRedisSink(persistence.RedisConfig{
			Addr:   cfg.Persistence.RedisAddr,
			Stream: cfg.Persistence.RedisStream,
		}, logging.NewLogr(logger))
	}
	if cfg.Persistence.PostgresDSN != "" {
		pg, err := persistence.NewPostgresSink(persistence.PostgresConfig{
			DSN:           cfg.Persistence.PostgresDSN,
			MigrationsDir: cfg.Persistence.MigrationsDir,
		}, logging.NewLogr(logger))
		if err != nil {
			return nil, fmt.Errorf("opening postgres audit sink: %w", err)
		}
		s.postgresSink = pg
	}
	if cfg.Notification.SlackToken != "" {
		s.notifySink = notification.New(notification.Config{
			Token:   cfg.Notification.SlackToken,
			Channel: cfg.Notification.SlackChannel,
			Timeout: cfg.Notification.Timeout,
		}, logger)
		s.Orchestrator.RegisterExecutor(decision.ActionAlert, s.notifySink.AsExecutor())
	}
	if cfg.Insight.Enabled {
		s.narrator = insight.New(insight.Config{
			APIKey:   cfg.Insight.APIKey,
			Model:    cfg.Insight.Model,
			Interval: cfg.Insight.Interval,
		}, s.Orchestrator, s.Bus, logger)
	}

	return s, nil
}

// AttachDriver wraps d with connect/command circuit-breaker supervision
// (pkg/driver.SuperviseCommand), wires the supervised Snapshot into
// Perception, and registers its SendCommand behind every motion-changing
// action, so executing SLOW50/SLOW25/STOP/ESTOP both transitions the state
// machine and commands the hardware (or simulator) without a wedged
// endpoint retry-storming the rest of the cell. Call this once during
// startup, before Run; Run starts the supervised reconnect loop alongside
// every other component.
func (s *Supervisor) AttachDriver(d driver.CommandDriver) {
	supervised := driver.SuperviseCommand(d, driver.DefaultReconnectConfig(), s.log)
	s.driverSup = supervised.Supervised

	s.Perception.AddSensorCallback(supervised.Snapshot)
	s.registerMotionExecutor(supervised, decision.ActionSlow50, driver.CommandSlow50)
	s.registerMotionExecutor(supervised, decision.ActionSlow25, driver.CommandSlow25)
	s.registerMotionExecutor(supervised, decision.ActionStop, driver.CommandStop)
	s.registerMotionExecutor(supervised, decision.ActionEStop, driver.CommandEStop)
}

func (s *Supervisor) registerMotionExecutor(d driver.CommandDriver, action decision.ActionType, cmd driver.CommandName) {
	s.Orchestrator.RegisterExecutor(action, motionExecutor(s.Machine, d, action, cmd))
}

// motionExecutor builds the closure registered for one motion-changing
// action: it transitions the state machine and commands the driver,
// succeeding only if both steps do.
func motionExecutor(m *statemachine.Machine, d driver.CommandDriver, action decision.ActionType, cmd driver.CommandName) func(ctx context.Context, rec decision.Recommendation) (bool, error) {
	return func(ctx context.Context, rec decision.Recommendation) (bool, error) {
		ok := driveMachine(m, action, rec)
		if err := d.SendCommand(ctx, cmd); err != nil {
			return false, err
		}
		return ok, nil
	}
}

func driveMachine(m *statemachine.Machine, action decision.ActionType, rec decision.Recommendation) bool {
	switch action {
	case decision.ActionSlow50:
		return m.RequestSlow(50, "orchestration", rec.ID)
	case decision.ActionSlow25:
		return m.RequestSlow(25, "orchestration", rec.ID)
	case decision.ActionStop:
		return m.RequestStop("orchestration", rec.ID)
	case decision.ActionEStop:
		return m.RequestEStop("orchestration", rec.ID)
	default:
		return true
	}
}

// Run starts every component under a single errgroup.Group and blocks until
// ctx is cancelled or a component returns a non-nil error, at which point
// every other component is cancelled too.
func (s *Supervisor) Run(ctx context.Context) error {
	// Leave Init once the components are about to start; if the cell is not
	// actually healthy, the first rule evaluation demotes the state within
	// one engine cycle.
	s.Machine.RequestNormal("startup_complete")

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return s.Store.RunWatchdog(gctx, s.cfg.WatchdogInterval) })
	g.Go(func() error { return s.Perception.Run(gctx) })
	g.Go(func() error { return s.Perception.RunQualityAlertForwarder(gctx) })
	g.Go(func() error { return s.Analysis.Run(gctx) })
	g.Go(func() error { return s.Decision.Run(gctx) })
	g.Go(func() error { return s.Orchestrator.Run(gctx) })
	g.Go(func() error { return s.Rules.Run(gctx, s.cfg.RulesInterval) })
	g.Go(func() error { return s.RunFailSafeMonitor(gctx, s.cfg.WatchdogInterval) })

	if s.watcher != nil {
		g.Go(func() error { return s.watcher.Run(gctx) })
	}
	if s.redisSink != nil {
		ib := s.Bus.Register("persistence-redis", 0)
		g.Go(func() error { s.redisSink.Run(gctx, ib); return nil })
	}
	if s.postgresSink != nil {
		ib := s.Bus.Register("persistence-postgres", 0)
		g.Go(func() error { s.postgresSink.Run(gctx, ib); return nil })
	}
	if s.narrator != nil {
		g.Go(func() error { return s.narrator.Run(gctx) })
	}
	if s.driverSup != nil {
		g.Go(func() error { return s.driverSup.RunReconnectLoop(gctx) })
	}

	return g.Wait()
}

// Close releases every sink's underlying connection. Call after Run
// returns.
func (s *Supervisor) Close() error {
	var firstErr error
	if s.redisSink != nil {
		if err := s.redisSink.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if s.postgresSink != nil {
		if err := s.postgresSink.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
