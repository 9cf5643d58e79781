// Package persistence mirrors Orchestration's audit trail to durable
// storage. Both sinks here are fire-and-forget subscribers wired at startup
// from config: their absence or
// failure never affects the in-memory ring buffer or the core decision
// path, and a failed write is logged and dropped rather than retried
// synchronously.
package persistence

import (
	"encoding/json"

	"github.com/jordigilh/robosafe/pkg/orchestration"
)

// entryFromMessage extracts the orchestration.AuditEntry carried by an
// audit_log broadcast, the shape orchestration.logAudit publishes it in.
func entryFromMessage(payload map[string]any) (orchestration.AuditEntry, bool) {
	entry, ok := payload["entry"].(orchestration.AuditEntry)
	return entry, ok
}

// marshalDetails best-effort encodes an audit entry's free-form details for
// storage; a marshal failure degrades to an empty object rather than
// blocking the write.
func marshalDetails(details map[string]any) []byte {
	if details == nil {
		return []byte("{}")
	}
	b, err := json.Marshal(details)
	if err != nil {
		return []byte("{}")
	}
	return b
}
