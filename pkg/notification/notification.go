// Package notification delivers operator-facing alerts to Slack. It is a
// fire-and-forget sink: a failed or slow post is logged and dropped, never
// retried synchronously, and never affects the decision path.
package notification

import (
	"context"
	"fmt"
	"time"

	"github.com/slack-go/slack"
	"go.uber.org/zap"

	"github.com/jordigilh/robosafe/pkg/decision"
	"github.com/jordigilh/robosafe/pkg/executor"
	robohttp "github.com/jordigilh/robosafe/pkg/shared/http"
	"github.com/jordigilh/robosafe/pkg/signal"
)

// Config controls which Slack workspace/channel alerts are posted to.
type Config struct {
	Token   string
	Channel string
	Timeout time.Duration
}

// DefaultConfig bounds a single post to 5s; Token/Channel must be supplied
// by deployment configuration.
func DefaultConfig() Config {
	return Config{Timeout: 5 * time.Second}
}

// Sink posts operator alerts and quality degradation notices to Slack.
type Sink struct {
	client  *slack.Client
	channel string
	timeout time.Duration
	log     *zap.Logger
}

// New constructs a Sink. A zero-value Token is accepted (useful for tests
// that only exercise formatting); PostMessageContext will simply fail and
// be logged, per the fire-and-forget contract.
func New(cfg Config, logger *zap.Logger) *Sink {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	return &Sink{
		client:  slack.New(cfg.Token, slack.OptionHTTPClient(robohttp.NewClient(robohttp.SlackClientConfig()))),
		channel: cfg.Channel,
		timeout: cfg.Timeout,
		log:     logger,
	}
}

// NotifyAlert posts a recommendation's reason, formatted with urgency and
// dominant risk category, to the configured channel.
func (s *Sink) NotifyAlert(ctx context.Context, rec decision.Recommendation) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	text := fmt.Sprintf(":warning: *%s* risk, urgency %s (score %.0f) — %s",
		rec.RiskCategory, rec.Urgency, rec.RiskScore, rec.Reason)

	_, _, err := s.client.PostMessageContext(ctx, s.channel, slack.MsgOptionText(text, false))
	if err != nil {
		s.log.Warn("slack_notify_alert_failed", zap.Error(err), zap.String("recommendation_id", rec.ID))
	}
	return err
}

// NotifyQualityAlert posts a signal-quality degradation notice
// (signal.QualityAlert, emitted by SignalStore's watchdog).
func (s *Sink) NotifyQualityAlert(ctx context.Context, alert signal.QualityAlert) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	text := fmt.Sprintf(":satellite: signal `%s` quality degraded to %s", alert.SignalID, alert.Quality)
	_, _, err := s.client.PostMessageContext(ctx, s.channel, slack.MsgOptionText(text, false))
	if err != nil {
		s.log.Warn("slack_notify_quality_failed", zap.Error(err), zap.String("signal_id", alert.SignalID))
	}
	return err
}

// AsExecutor adapts Sink into an executor.Func, so a deployment can route
// the ALERT action to Slack instead of the in-bus-only
// default via Agent.RegisterExecutor(decision.ActionAlert, sink.AsExecutor()).
func (s *Sink) AsExecutor() executor.Func {
	return func(ctx context.Context, rec decision.Recommendation) (bool, error) {
		err := s.NotifyAlert(ctx, rec)
		return err == nil, err
	}
}
