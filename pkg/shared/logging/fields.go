// Package logging provides structured logging field builders shared across
// robosafe's components, backed by zap.
package logging

import (
	"time"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Fields is a chainable builder for structured log attributes. Every method
// returns the same map so calls can be composed fluently.
type Fields map[string]interface{}

// NewFields returns an empty field set.
func NewFields() Fields {
	return Fields{}
}

func (f Fields) Component(name string) Fields {
	f["component"] = name
	return f
}

func (f Fields) Operation(name string) Fields {
	f["operation"] = name
	return f
}

func (f Fields) Resource(resourceType, resourceName string) Fields {
	f["resource_type"] = resourceType
	if resourceName != "" {
		f["resource_name"] = resourceName
	}
	return f
}

func (f Fields) Duration(d time.Duration) Fields {
	f["duration_ms"] = d.Milliseconds()
	return f
}

func (f Fields) Error(err error) Fields {
	if err != nil {
		f["error"] = err.Error()
	}
	return f
}

func (f Fields) RequestID(id string) Fields {
	f["request_id"] = id
	return f
}

func (f Fields) TraceID(id string) Fields {
	f["trace_id"] = id
	return f
}

func (f Fields) Count(n int) Fields {
	f["count"] = n
	return f
}

func (f Fields) Size(bytes int64) Fields {
	f["size_bytes"] = bytes
	return f
}

func (f Fields) Version(v string) Fields {
	f["version"] = v
	return f
}

func (f Fields) Custom(key string, value interface{}) Fields {
	f[key] = value
	return f
}

// Zap converts the field set into zap.Field slice for structured logging calls.
func (f Fields) Zap() []zap.Field {
	out := make([]zap.Field, 0, len(f))
	for k, v := range f {
		out = append(out, zap.Any(k, v))
	}
	return out
}

// SignalFields builds the standard attribute set for a signal-plane log line.
func SignalFields(signalID, source, quality string) Fields {
	return NewFields().
		Component("signal").
		Resource("signal", signalID).
		Custom("source", source).
		Custom("quality", quality)
}

// RuleFields builds the standard attribute set for a rule-engine log line.
func RuleFields(ruleID, priority string) Fields {
	return NewFields().
		Component("rules").
		Resource("rule", ruleID).
		Custom("priority", priority)
}

// StateFields builds the standard attribute set for a state-machine log line.
func StateFields(from, to, trigger string) Fields {
	return NewFields().
		Component("statemachine").
		Custom("from_state", from).
		Custom("to_state", to).
		Custom("trigger", trigger)
}

// RiskFields builds the standard attribute set for an analysis risk log line.
func RiskFields(category string, score float64, confidence float64) Fields {
	return NewFields().
		Component("analysis").
		Custom("category", category).
		Custom("score", score).
		Custom("confidence", confidence)
}

// ExecutionFields builds the standard attribute set for an orchestration execution log line.
func ExecutionFields(actionName, status string) Fields {
	return NewFields().
		Component("orchestration").
		Custom("action", actionName).
		Custom("status", status)
}

// NewLogr adapts a zap.Logger to the logr.Logger interface spoken by the
// persistence sinks. A nil zl yields a discarding logger.
func NewLogr(zl *zap.Logger) logr.Logger {
	if zl == nil {
		return logr.Discard()
	}
	return zapr.NewLogger(zl)
}

// NewProduction builds the zap.Logger used across robosafe processes: JSON
// encoding, ISO8601 timestamps, at the given level.
func NewProduction(level zapcore.Level) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return cfg.Build()
}
