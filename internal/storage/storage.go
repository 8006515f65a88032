// Package storage defines the backend-agnostic contract every routing
// entity is persisted through. Two concrete backends satisfy it:
// internal/storage/postgres (relational, jsonb info bags) and
// internal/storage/mongo (document, native BSON info bags).
package storage

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors every backend implementation wraps with %w so callers can
// use errors.Is regardless of which backend is configured.
var (
	ErrNotFound          = errors.New("storage: not found")
	ErrDuplicate         = errors.New("storage: duplicate key")
	ErrBackendUnavailable = errors.New("storage: backend unavailable")
	ErrInvalidArgument   = errors.New("storage: invalid argument")
)

// Conditions is a small equality/operator filter builder shared by both
// backends so callers never branch on which backend is active. Each
// backend translates the same Conditions value into a SQL WHERE clause or
// a Mongo filter document.
type Conditions struct {
	eq  map[string]any
	ops []op
}

type op struct {
	field    string
	operator string // "gt", "gte", "lt", "lte", "ne", "in"
	value    any
}

// NewConditions returns an empty condition set.
func NewConditions() Conditions {
	return Conditions{eq: map[string]any{}}
}

// Eq adds a field == value condition.
func (c Conditions) Eq(field string, value any) Conditions {
	if c.eq == nil {
		c.eq = map[string]any{}
	}
	c.eq[field] = value
	return c
}

// Op adds a named comparison ("gt", "gte", "lt", "lte", "ne", "in").
func (c Conditions) Op(field, operator string, value any) Conditions {
	c.ops = append(c.ops, op{field: field, operator: operator, value: value})
	return c
}

// Eqs returns the equality conditions for a backend to translate.
func (c Conditions) Eqs() map[string]any { return c.eq }

// Ops returns the operator conditions for a backend to translate.
func (c Conditions) Ops() []struct {
	Field    string
	Operator string
	Value    any
} {
	out := make([]struct {
		Field    string
		Operator string
		Value    any
	}, len(c.ops))
	for i, o := range c.ops {
		out[i] = struct {
			Field    string
			Operator string
			Value    any
		}{o.field, o.operator, o.value}
	}
	return out
}

// Cursor is a keyset pagination position: the (created_at, id) tuple of the
// last row seen. Both backends order by this composite key so pages never
// skip or repeat rows under concurrent writes.
type Cursor struct {
	CreatedAt time.Time
	ID        string
}

// ListOptions controls a List call: optional filter Conditions, an optional
// Cursor to resume from, a page size Limit (0 means "no limit, stream
// everything" per spec.md §4.5's streaming mode), and sort direction.
type ListOptions struct {
	Conditions Conditions
	After      *Cursor
	Limit      int
	SortDesc   bool
}

// Page is one page of results plus the cursor to pass as ListOptions.After
// for the next page.
type Page[T any] struct {
	Items   []T
	Next    *Cursor
	HasMore bool
}

// Store is the contract every entity is persisted through, satisfied by
// both internal/storage/postgres.Store[T] and internal/storage/mongo.Store[T].
// Routing Engine service layers depend on this interface, never on a
// concrete backend, so the backend is a pure config switch (spec.md §4.1,
// §9's capability-interface design note).
type Store[T any] interface {
	Init(ctx context.Context) error
	Get(ctx context.Context, id string) (T, error)
	Add(ctx context.Context, item T) (T, error)
	AddBulk(ctx context.Context, items []T) ([]T, error)
	Update(ctx context.Context, id string, item T) (T, error)
	Del(ctx context.Context, id string) error
	// DelWhere removes every row matching cond, per spec.md §4.1's filtered
	// delete ("del(conditions)"). Idempotent: zero matches is not an error.
	// Returns the number of rows removed.
	DelWhere(ctx context.Context, cond Conditions) (int64, error)
	// UpdateWhere applies patch to every row matching cond (spec.md §4.1's
	// "update(conditions, patch)"). A no-op (0, nil) when nothing matches.
	UpdateWhere(ctx context.Context, cond Conditions, patch map[string]any) (int64, error)
	Count(ctx context.Context, cond Conditions) (int64, error)
	List(ctx context.Context, opts ListOptions) (Page[T], error)
}
