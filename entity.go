package steward

import "time"

// Entity is the embedded base for every durable record. Version is the
// optimistic-concurrency fingerprint: stores must reject an update whose
// Version does not match the persisted record and return ErrVersionConflict.
// Stores increment Version on every successful write.
type Entity struct {
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewEntity returns an Entity stamped with the current time at version 1.
func NewEntity() Entity {
	now := time.Now().UTC()
	return Entity{Version: 1, CreatedAt: now, UpdatedAt: now}
}
