package domain

import "time"

// AuditEntry is an immutable audit trail record.
type AuditEntry struct {
	ID           string
	ActorID      *string
	ActorRole    *Role
	Action       string
	ResourceType string
	ResourceID   *string
	RequestID    string
	HTTPStatus   int
	Details      map[string]any
	CreatedAt    time.Time
}
