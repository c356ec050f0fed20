// Package model defines the persisted entities of §3: pipelines, task
// executions, contexts, the outbox, audit events, and the trust/package rows.
package model

import (
	"time"

	"github.com/google/uuid"
)

// ID is an opaque 128-bit identifier backing every persisted entity.
type ID = uuid.UUID

// NewID generates a fresh random identifier.
func NewID() ID {
	return uuid.New()
}

// ParseID parses a canonical string form back into an ID.
func ParseID(s string) (ID, error) {
	return uuid.Parse(s)
}

// NilID is the zero-valued identifier, used to mean "absent" for optional fields.
var NilID = uuid.Nil

// Now returns the current instant truncated to microsecond precision, matching
// the storage layer's UTC-microsecond timestamp contract.
func Now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}
