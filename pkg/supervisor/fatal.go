package supervisor

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/jordigilh/robosafe/pkg/decision"
)

// fatalAuditFlushLimit bounds how many trailing audit entries Fatal mirrors
// to the persistence sinks before exiting, so a large in-memory ring never
// turns a crash into a slow shutdown.
const fatalAuditFlushLimit = 200

// Fatal handles an unrecoverable supervisor error: it
// drives the state machine into its fallback safe state unconditionally,
// flushes the orchestrator's trailing audit entries to whichever
// persistence sinks are configured, raises an operator alert if a
// notification sink is configured, and, if the deployment is configured to
// do so, terminates the process after logging the failure. EnterFallback
// always succeeds, so this path never itself fails to reach a safe state.
func (s *Supervisor) Fatal(ctx context.Context, cause error) {
	s.Machine.EnterFallback(cause.Error())
	s.log.Error("supervisor_fatal", zap.Error(cause), zap.Bool("exit_on_fatal", s.exitOnFatal))

	s.flushAuditOnFatal()

	if s.notifySink != nil {
		alertCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		rec := decision.Recommendation{
			ID:           "supervisor-fatal",
			Action:       decision.ActionAlert,
			Urgency:      decision.UrgencyImmediate,
			Reason:       cause.Error(),
			RiskCategory: "SUPERVISOR_FATAL",
			Timestamp:    time.Now(),
		}
		_ = s.notifySink.NotifyAlert(alertCtx, rec)
	}

	if s.exitOnFatal {
		exitProcess(1)
	}
}

// flushAuditOnFatal mirrors the most recent audit entries to every
// configured persistence sink under a short bounded timeout. Best-effort:
// a sink error is logged, not escalated, since we are already on the fatal
// path and must still reach the exit/alert steps below.
func (s *Supervisor) flushAuditOnFatal() {
	if s.redisSink == nil && s.postgresSink == nil {
		return
	}
	entries := s.Orchestrator.AuditLog(fatalAuditFlushLimit, "")
	if len(entries) == 0 {
		return
	}

	flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for _, entry := range entries {
		if s.redisSink != nil {
			if err := s.redisSink.WriteAudit(flushCtx, entry); err != nil {
				s.log.Warn("fatal_audit_flush_redis", zap.Error(err))
			}
		}
		if s.postgresSink != nil {
			if err := s.postgresSink.WriteAudit(flushCtx, entry); err != nil {
				s.log.Warn("fatal_audit_flush_postgres", zap.Error(err))
			}
		}
	}
}
