package config

import (
	"context"
	"fmt"
	"os"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/jordigilh/robosafe/pkg/rules"
)

// RulesOverride is the one runtime-mutable admin file's shape: an operator
// can enable/disable individual rules and adjust the safety margin without
// restarting any task.
type RulesOverride struct {
	EnabledRules  []string `yaml:"enabled_rules"`
	DisabledRules []string `yaml:"disabled_rules"`
	MarginPercent *int     `yaml:"margin_percent"`
}

// Watcher applies RulesOverride changes to a rules.Engine as the override
// file changes on disk.
type Watcher struct {
	path   string
	engine *rules.Engine
	log    *zap.Logger
}

// NewWatcher constructs a Watcher for path, applying overrides to engine.
func NewWatcher(path string, engine *rules.Engine, logger *zap.Logger) *Watcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Watcher{path: path, engine: engine, log: logger}
}

// ApplyOnce reads and applies the override file a single time; callers use
// this at startup before Run begins watching for further changes.
func (w *Watcher) ApplyOnce() error {
	raw, err := os.ReadFile(w.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read rules override file: %w", err)
	}

	var override RulesOverride
	if err := yaml.Unmarshal(raw, &override); err != nil {
		return fmt.Errorf("failed to parse rules override file: %w", err)
	}
	w.apply(override)
	return nil
}

func (w *Watcher) apply(override RulesOverride) {
	for _, id := range override.EnabledRules {
		if !w.engine.Enable(id) {
			w.log.Warn("rules_override_unknown_rule", zap.String("rule_id", id), zap.String("action", "enable"))
		}
	}
	for _, id := range override.DisabledRules {
		if !w.engine.Disable(id) {
			w.log.Warn("rules_override_unknown_rule", zap.String("rule_id", id), zap.String("action", "disable"))
		}
	}
	if override.MarginPercent != nil {
		w.engine.Margin().Set(*override.MarginPercent)
		w.log.Info("rules_override_margin_applied", zap.Int("margin_percent", *override.MarginPercent))
	}
}

// Run watches the override file for writes and re-applies it on every
// change until ctx is cancelled. A failure to set up the watch (creating the
// fsnotify watcher or adding the file to it) is returned as an error. Once
// watching, a watch or parse failure is logged and the watcher keeps
// running: a broken override file simply stops taking effect until fixed.
func (w *Watcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to start rules override watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(w.path); err != nil {
		return fmt.Errorf("failed to watch rules override file: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if err := w.ApplyOnce(); err != nil {
				w.log.Warn("rules_override_apply_failed", zap.Error(err))
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("rules_override_watch_error", zap.Error(err))
		}
	}
}
