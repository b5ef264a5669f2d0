// Package idgen provides the id generators the core needs: k-sortable
// event ids (so an append-only log sorts by id) and general-purpose
// aggregate/device ids.
package idgen

import (
	"github.com/google/uuid"
	"github.com/segmentio/ksuid"
)

// NewEventID returns a new k-sortable event id. KSUIDs begin with a
// timestamp of one-second resolution, so lexicographic order follows
// creation order to the second; ids minted within the same second are
// ordered by their random part, not by creation time.
func NewEventID() string {
	return ksuid.New().String()
}

// NewAggregateID returns a new random aggregate id.
func NewAggregateID() string {
	return uuid.New().String()
}

// NewDeviceID returns a new random device id, generated once per
// installation and persisted by the embedding application.
func NewDeviceID() string {
	return uuid.New().String()
}
