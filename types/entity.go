package types

import "time"

// Entity carries the creation and modification timestamps shared by every
// persisted record. Timestamps come from the engine clock, never time.Now.
type Entity struct {
	CreatedAt time.Time `json:"created_at" bson:"created_at"`
	UpdatedAt time.Time `json:"updated_at" bson:"updated_at"`
}

// NewEntity creates an Entity stamped at now (normalised to UTC).
func NewEntity(now time.Time) Entity {
	now = now.UTC()
	return Entity{
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Touch sets UpdatedAt to now.
func (e *Entity) Touch(now time.Time) {
	e.UpdatedAt = now.UTC()
}

// IsStale reports whether the entity has not been updated within d of now.
func (e Entity) IsStale(now time.Time, d time.Duration) bool {
	return now.Sub(e.UpdatedAt) > d
}
