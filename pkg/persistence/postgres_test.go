package persistence

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-logr/logr"
	"github.com/jmoiron/sqlx"

	"github.com/jordigilh/robosafe/pkg/bus"
	"github.com/jordigilh/robosafe/pkg/orchestration"
)

func newTestPostgresSink(t *testing.T) (*PostgresSink, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	sqlxDB := sqlx.NewDb(db, "sqlmock")
	return NewPostgresSinkFromDB(sqlxDB, time.Second, logr.Discard()), mock
}

func TestPostgresSink_WriteAuditInsertsRow(t *testing.T) {
	sink, mock := newTestPostgresSink(t)
	entry := orchestration.AuditEntry{
		Timestamp: time.Now(),
		EventType: "system_start",
		Message:   "Orchestrator started",
		Details:   map[string]any{"version": "test"},
	}

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO audit_log")).
		WithArgs(entry.Timestamp, entry.EventType, entry.Message, marshalDetails(entry.Details)).
		WillReturnResult(sqlmock.NewResult(1, 1))

	if err := sink.WriteAudit(context.Background(), entry); err != nil {
		t.Fatalf("WriteAudit: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestPostgresSink_WriteAuditPropagatesDBError(t *testing.T) {
	sink, mock := newTestPostgresSink(t)
	entry := orchestration.AuditEntry{Timestamp: time.Now(), EventType: "operator_command", Message: "test"}

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO audit_log")).
		WillReturnError(sqlmock.ErrCancelled)

	if err := sink.WriteAudit(context.Background(), entry); err == nil {
		t.Error("expected the underlying DB error to propagate")
	}
}

func TestPostgresSink_RunMirrorsAuditLogBroadcasts(t *testing.T) {
	sink, mock := newTestPostgresSink(t)
	entry := orchestration.AuditEntry{Timestamp: time.Now(), EventType: "operator_command", Message: "test"}

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO audit_log")).
		WillReturnResult(sqlmock.NewResult(1, 1))

	b := bus.New(nil)
	ib := b.Register("persistence-postgres", 10)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sink.Run(ctx, ib)
		close(done)
	}()

	b.PublishFrom("orchestrator", bus.Message{
		Target:    "persistence-postgres",
		Type:      orchestration.MsgAuditLog,
		Payload:   map[string]any{"entry": entry},
		CreatedAt: time.Now(),
		TTL:       time.Minute,
	})

	deadline := time.After(time.Second)
	for {
		if mock.ExpectationsWereMet() == nil {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for Run to mirror the audit entry")
		case <-time.After(time.Millisecond):
		}
	}

	cancel()
	<-done
}
