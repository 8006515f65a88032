// Package controlbus implements the cache-coherence fan-out protocol:
// every Broker instance publishes a message after each routing mutation,
// and every other instance's Cache Layer invalidates the affected key on
// receipt (spec.md §4.3).
package controlbus

import "time"

// Action is the kind of mutation that happened to an entity.
type Action string

const (
	ActionCreated   Action = "created"
	ActionUpdated   Action = "updated"
	ActionDeleted   Action = "deleted"
	ActionResync    Action = "resync" // full-purge signal for a channel
)

// Message is the envelope published to and consumed from one entity's
// fanout exchange. Field names are stable across producer/consumer
// versions since they cross process boundaries.
type Message struct {
	Entity    string    `json:"entity"`    // "device", "deviceroute", "networkroute", ...
	Action    Action    `json:"action"`
	CacheKeys []string  `json:"cache_keys"` // keys to invalidate across all affected cache groups
	ID        string    `json:"id"`
	At        time.Time `json:"at"`
}
