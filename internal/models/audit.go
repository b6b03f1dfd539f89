package models

import (
	"encoding/json"
	"time"
)

// AuditEntry records one status-changing ledger mutation: who did it, what
// changed, and the before/after snapshot of the mutated fields.
type AuditEntry struct {
	ID        int64           `json:"id"`
	Actor     string          `json:"actor"`
	Action    string          `json:"action"`
	EntityID  string          `json:"entityId"`
	Detail    json.RawMessage `json:"detail"`
	CreatedAt time.Time       `json:"createdAt"`
}
