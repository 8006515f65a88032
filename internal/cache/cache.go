// Package cache implements the Broker Routing Core's per-instance Cache
// Layer: bounded LRU groups with negative-entry markers and singleflight
// miss-fill, invalidated by Control Bus fan-out rather than a TTL.
package cache

import (
	"context"
	"errors"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/linkbroker/linkbroker/internal/telemetry"
)

// ErrMissing is returned by Group.Load when FillFunc reports the key has no
// backing row; the result is cached as a negative entry so repeated lookups
// for the same nonexistent key don't repeatedly hit storage.
var ErrMissing = errors.New("cache: no such entry")

type entry[V any] struct {
	value   V
	negative bool
}

// Group is one bounded cache (e.g. "device", "deviceroute.uldata").
type Group[V any] struct {
	name     string
	lru      *lru.Cache[string, entry[V]]
	flight   singleflight.Group
}

// NewGroup creates a bounded LRU cache holding up to size entries.
func NewGroup[V any](name string, size int) (*Group[V], error) {
	c, err := lru.New[string, entry[V]](size)
	if err != nil {
		return nil, err
	}
	return &Group[V]{name: name, lru: c}, nil
}

// Get returns a cached value without triggering a fill. The second return
// value reports whether the key is present (including as a negative entry).
func (g *Group[V]) Get(key string) (V, bool, bool) {
	e, ok := g.lru.Get(key)
	if !ok {
		telemetry.CacheHitsTotal.WithLabelValues(g.name, "miss").Inc()
		var zero V
		return zero, false, false
	}
	if e.negative {
		telemetry.CacheHitsTotal.WithLabelValues(g.name, "negative").Inc()
		var zero V
		return zero, true, true
	}
	telemetry.CacheHitsTotal.WithLabelValues(g.name, "hit").Inc()
	return e.value, true, false
}

// Put stores a positive entry.
func (g *Group[V]) Put(key string, value V) {
	g.lru.Add(key, entry[V]{value: value})
}

// PutNegative stores a negative marker: "looked this up, it does not exist".
func (g *Group[V]) PutNegative(key string) {
	g.lru.Add(key, entry[V]{negative: true})
}

// Invalidate removes a key, used when a Control Bus message reports the
// backing row changed or was deleted.
func (g *Group[V]) Invalidate(key string) {
	g.lru.Remove(key)
	telemetry.CacheInvalidationsTotal.WithLabelValues(g.name).Inc()
}

// Purge clears the entire group, used on a full resync signal.
func (g *Group[V]) Purge() {
	g.lru.Purge()
}

// FillFunc loads the authoritative value for key, returning ErrMissing if
// the key has no backing row.
type FillFunc[V any] func(ctx context.Context, key string) (V, error)

// Load returns the cached value for key, filling it via fill on a miss.
// Concurrent Load calls for the same key share one fill invocation
// (golang.org/x/sync/singleflight), so a cache stampede on a hot key never
// turns into N concurrent storage reads.
func (g *Group[V]) Load(ctx context.Context, key string, fill FillFunc[V]) (V, error) {
	if value, present, negative := g.Get(key); present {
		if negative {
			var zero V
			return zero, ErrMissing
		}
		return value, nil
	}

	result, err, _ := g.flight.Do(key, func() (any, error) {
		value, err := fill(ctx, key)
		if err != nil {
			if errors.Is(err, ErrMissing) {
				g.PutNegative(key)
				return nil, ErrMissing
			}
			return nil, err
		}
		g.Put(key, value)
		return value, nil
	})
	if err != nil {
		var zero V
		return zero, err
	}
	return result.(V), nil
}

// Registry holds the five cache groups named in spec.md §4.2.
type Registry struct {
	Device              *Group[any]
	DeviceRouteULData   *Group[any]
	DeviceRouteDLData   *Group[any]
	DeviceRouteDLDataPub *Group[any]
	NetworkRouteULData  *Group[any]
}

// NewRegistry builds all five cache groups with the given per-group sizes.
func NewRegistry(deviceSize, drUlSize, drDlSize, drDlPubSize, nrUlSize int) (*Registry, error) {
	var r Registry
	var err error
	if r.Device, err = NewGroup[any]("device", deviceSize); err != nil {
		return nil, err
	}
	if r.DeviceRouteULData, err = NewGroup[any]("deviceroute.uldata", drUlSize); err != nil {
		return nil, err
	}
	if r.DeviceRouteDLData, err = NewGroup[any]("deviceroute.dldata", drDlSize); err != nil {
		return nil, err
	}
	if r.DeviceRouteDLDataPub, err = NewGroup[any]("deviceroute.dldata_pub", drDlPubSize); err != nil {
		return nil, err
	}
	if r.NetworkRouteULData, err = NewGroup[any]("networkroute.uldata", nrUlSize); err != nil {
		return nil, err
	}
	return &r, nil
}

// Group looks up one of the five named groups by its spec.md §4.2 name.
func (r *Registry) Group(name string) *Group[any] {
	switch name {
	case "device":
		return r.Device
	case "deviceroute.uldata":
		return r.DeviceRouteULData
	case "deviceroute.dldata":
		return r.DeviceRouteDLData
	case "deviceroute.dldata_pub":
		return r.DeviceRouteDLDataPub
	case "networkroute.uldata":
		return r.NetworkRouteULData
	default:
		return nil
	}
}
