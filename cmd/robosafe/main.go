// Command robosafe runs the RoboSafe Sentinel safety supervisor for one
// robot cell: it loads a deployment configuration, wires the signal store,
// rule engine, and four agents through pkg/supervisor, attaches either a
// real or simulated command driver, and runs until terminated.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/jordigilh/robosafe/internal/config"
	"github.com/jordigilh/robosafe/pkg/driver/simulator"
	"github.com/jordigilh/robosafe/pkg/shared/logging"
	"github.com/jordigilh/robosafe/pkg/supervisor"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the deployment configuration file")
	simulate := flag.Bool("simulate", false, "drive the cell with the in-memory simulator instead of real hardware")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	level, err := zapcore.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}
	logger, err := logging.NewProduction(level)
	if err != nil {
		log.Fatalf("building logger: %v", err)
	}
	defer logger.Sync()

	sup, err := supervisor.New(cfg, logger)
	if err != nil {
		logger.Fatal("wiring supervisor failed", zap.Error(err))
	}

	if *simulate {
		sup.AttachDriver(simulator.New(simulator.DefaultConfig()))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := sup.Run(ctx); err != nil {
		logger.Error("supervisor run failed", zap.Error(err))
		sup.Fatal(context.Background(), err)
	}

	if err := sup.Close(); err != nil {
		logger.Warn("closing supervisor sinks", zap.Error(err))
	}
}
