package oauth2

import (
	"context"
	"reflect"
	"sync"

	"github.com/linkbroker/linkbroker/internal/storage"
)

// entityer is satisfied by every oauth2 entity type; memStore uses it
// instead of requiring callers to supply ID/CreatedAt accessors by hand.
type entityer interface {
	EntityID() string
}

// memStore is a minimal in-memory storage.Store[T] fake for exercising the
// OAuth2 Authority's service layer without a real Postgres/Mongo backend,
// matching the teacher's habit of testing service logic against fakes
// rather than a live database.
type memStore[T any] struct {
	mu    sync.Mutex
	items map[string]T
}

func newMemStore[T any]() *memStore[T] {
	return &memStore[T]{items: map[string]T{}}
}

func (m *memStore[T]) Init(ctx context.Context) error { return nil }

func (m *memStore[T]) Get(ctx context.Context, id string) (T, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[id]
	if !ok {
		var zero T
		return zero, storage.ErrNotFound
	}
	return item, nil
}

func (m *memStore[T]) Add(ctx context.Context, item T) (T, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := any(item).(entityer).EntityID()
	m.items[id] = item
	return item, nil
}

func (m *memStore[T]) AddBulk(ctx context.Context, items []T) ([]T, error) {
	for _, item := range items {
		if _, err := m.Add(ctx, item); err != nil {
			return nil, err
		}
	}
	return items, nil
}

func (m *memStore[T]) Update(ctx context.Context, id string, item T) (T, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[id]; !ok {
		var zero T
		return zero, storage.ErrNotFound
	}
	m.items[id] = item
	return item, nil
}

func (m *memStore[T]) Del(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[id]; !ok {
		return storage.ErrNotFound
	}
	delete(m.items, id)
	return nil
}

// DelWhere removes every item matching cond, matching the semantics
// storage.Store[T] documents for a filtered delete.
func (m *memStore[T]) DelWhere(ctx context.Context, cond storage.Conditions) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var removed int64
	for id, item := range m.items {
		if matchesConditions(item, cond) {
			delete(m.items, id)
			removed++
		}
	}
	return removed, nil
}

// UpdateWhere applies patch (db-tagged field name -> value) to every item
// matching cond.
func (m *memStore[T]) UpdateWhere(ctx context.Context, cond storage.Conditions, patch map[string]any) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var updated int64
	for id, item := range m.items {
		if !matchesConditions(item, cond) {
			continue
		}
		v := reflect.ValueOf(&item).Elem()
		t := v.Type()
		for field, value := range patch {
			for i := 0; i < t.NumField(); i++ {
				if t.Field(i).Tag.Get("db") == field {
					v.Field(i).Set(reflect.ValueOf(value))
					break
				}
			}
		}
		m.items[id] = item
		updated++
	}
	return updated, nil
}

func (m *memStore[T]) Count(ctx context.Context, cond storage.Conditions) (int64, error) {
	page, err := m.List(ctx, storage.ListOptions{Conditions: cond})
	if err != nil {
		return 0, err
	}
	return int64(len(page.Items)), nil
}

// List filters by Conditions.Eqs() using each entity's db-tagged fields,
// enough to back the Eq("email", ...)/Eq("code_hash", ...)/
// Eq("token_hash", ...) lookups the OAuth2 Authority's service layer does.
func (m *memStore[T]) List(ctx context.Context, opts storage.ListOptions) (storage.Page[T], error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []T
	for _, item := range m.items {
		if matchesConditions(item, opts.Conditions) {
			out = append(out, item)
		}
	}
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return storage.Page[T]{Items: out}, nil
}

func matchesConditions[T any](item T, cond storage.Conditions) bool {
	eqs := cond.Eqs()
	if len(eqs) == 0 {
		return true
	}
	v := reflect.ValueOf(item)
	t := v.Type()
	for field, want := range eqs {
		found := false
		for i := 0; i < t.NumField(); i++ {
			if t.Field(i).Tag.Get("db") == field {
				got := v.Field(i).Interface()
				if reflect.DeepEqual(got, want) {
					found = true
				}
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
