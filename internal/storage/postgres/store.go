// Package postgres is the relational Storage Abstraction backend: one
// generic engine (Store[T]) parameterized per entity by a small Mapper,
// the same way the teacher hand-writes column-const + Scan per entity
// store but shared once instead of duplicated across the Routing Engine.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/linkbroker/linkbroker/internal/storage"
)

// Mapper describes how entity T maps onto a table. Columns lists every
// persisted column including the primary key (every entity generates its
// own id client-side before Add, so it is always an explicit insert value,
// never a DB default). Values must return arguments in the same order as
// Columns.
type Mapper[T any] struct {
	Table       string
	IDColumn    string
	Columns     []string
	Values      func(T) []any
	IDOf        func(T) string
	CreatedAtOf func(T) time.Time
	WithID      func(item T, id string) T
}

// Store is a generic pgx-backed storage.Store implementation for entity T.
type Store[T any] struct {
	pool *pgxpool.Pool
	m    Mapper[T]
}

// NewStore builds a Store for entity T using the given pool and mapper.
func NewStore[T any](pool *pgxpool.Pool, m Mapper[T]) *Store[T] {
	return &Store[T]{pool: pool, m: m}
}

// Init is a no-op: schema objects are created by migrations, not at runtime.
func (s *Store[T]) Init(ctx context.Context) error { return nil }

func (s *Store[T]) selectColumns() string {
	return strings.Join(s.m.Columns, ", ")
}

// Get fetches a single row by id.
func (s *Store[T]) Get(ctx context.Context, id string) (T, error) {
	var zero T
	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s = $1", s.selectColumns(), s.m.Table, s.m.IDColumn)
	rows, err := s.pool.Query(ctx, query, id)
	if err != nil {
		return zero, fmt.Errorf("%w: querying %s: %v", storage.ErrBackendUnavailable, s.m.Table, err)
	}
	defer rows.Close()

	item, err := pgx.CollectExactlyOneRow(rows, pgx.RowToStructByNameLax[T])
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return zero, fmt.Errorf("%w: %s %s", storage.ErrNotFound, s.m.Table, id)
		}
		return zero, fmt.Errorf("scanning %s: %w", s.m.Table, err)
	}
	return item, nil
}

// Add inserts a new row and returns it as persisted.
func (s *Store[T]) Add(ctx context.Context, item T) (T, error) {
	var zero T
	placeholders := make([]string, len(s.m.Columns))
	for i := range s.m.Columns {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING %s",
		s.m.Table, strings.Join(s.m.Columns, ", "), strings.Join(placeholders, ", "), s.selectColumns())

	rows, err := s.pool.Query(ctx, query, s.m.Values(item)...)
	if err != nil {
		if isUniqueViolation(err) {
			return zero, fmt.Errorf("%w: %s", storage.ErrDuplicate, s.m.Table)
		}
		return zero, fmt.Errorf("%w: inserting %s: %v", storage.ErrBackendUnavailable, s.m.Table, err)
	}
	defer rows.Close()

	return pgx.CollectExactlyOneRow(rows, pgx.RowToStructByNameLax[T])
}

// AddBulk inserts items one row at a time inside a single transaction that
// is committed once per call; callers are expected to chunk large batches
// themselves (see
// spec.md's documented per-chunk bulk-add semantics).
func (s *Store[T]) AddBulk(ctx context.Context, items []T) ([]T, error) {
	if len(items) == 0 {
		return nil, nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: beginning bulk add: %v", storage.ErrBackendUnavailable, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	placeholders := make([]string, len(s.m.Columns))
	for i := range s.m.Columns {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING %s",
		s.m.Table, strings.Join(s.m.Columns, ", "), strings.Join(placeholders, ", "), s.selectColumns())

	out := make([]T, 0, len(items))
	for _, item := range items {
		rows, err := tx.Query(ctx, query, s.m.Values(item)...)
		if err != nil {
			if isUniqueViolation(err) {
				return nil, fmt.Errorf("%w: %s", storage.ErrDuplicate, s.m.Table)
			}
			return nil, fmt.Errorf("%w: bulk inserting %s: %v", storage.ErrBackendUnavailable, s.m.Table, err)
		}
		row, err := pgx.CollectExactlyOneRow(rows, pgx.RowToStructByNameLax[T])
		rows.Close()
		if err != nil {
			return nil, fmt.Errorf("scanning bulk %s: %w", s.m.Table, err)
		}
		out = append(out, row)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("%w: committing bulk add: %v", storage.ErrBackendUnavailable, err)
	}
	return out, nil
}

// Update overwrites all mapped columns but the primary key of the row with
// the given id.
func (s *Store[T]) Update(ctx context.Context, id string, item T) (T, error) {
	var zero T
	values := s.m.Values(item)
	setClauses := make([]string, 0, len(s.m.Columns))
	args := make([]any, 0, len(values))
	for i, col := range s.m.Columns {
		if col == s.m.IDColumn {
			continue
		}
		setClauses = append(setClauses, fmt.Sprintf("%s = $%d", col, len(args)+1))
		args = append(args, values[i])
	}
	query := fmt.Sprintf("UPDATE %s SET %s WHERE %s = $%d RETURNING %s",
		s.m.Table, strings.Join(setClauses, ", "), s.m.IDColumn, len(args)+1, s.selectColumns())

	args = append(args, id)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		if isUniqueViolation(err) {
			return zero, fmt.Errorf("%w: %s", storage.ErrDuplicate, s.m.Table)
		}
		return zero, fmt.Errorf("%w: updating %s: %v", storage.ErrBackendUnavailable, s.m.Table, err)
	}
	defer rows.Close()

	updated, err := pgx.CollectExactlyOneRow(rows, pgx.RowToStructByNameLax[T])
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return zero, fmt.Errorf("%w: %s %s", storage.ErrNotFound, s.m.Table, id)
		}
		return zero, fmt.Errorf("scanning updated %s: %w", s.m.Table, err)
	}
	return updated, nil
}

// Del removes the row with the given id.
func (s *Store[T]) Del(ctx context.Context, id string) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE %s = $1", s.m.Table, s.m.IDColumn)
	tag, err := s.pool.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("%w: deleting %s: %v", storage.ErrBackendUnavailable, s.m.Table, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s %s", storage.ErrNotFound, s.m.Table, id)
	}
	return nil
}

// DelWhere removes every row matching cond (spec.md §4.1's filtered delete).
func (s *Store[T]) DelWhere(ctx context.Context, cond storage.Conditions) (int64, error) {
	where, args := buildWhere(cond, 1)
	query := fmt.Sprintf("DELETE FROM %s", s.m.Table)
	if where != "" {
		query += " WHERE " + where
	}
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("%w: deleting %s: %v", storage.ErrBackendUnavailable, s.m.Table, err)
	}
	return tag.RowsAffected(), nil
}

// UpdateWhere applies patch's columns to every row matching cond.
func (s *Store[T]) UpdateWhere(ctx context.Context, cond storage.Conditions, patch map[string]any) (int64, error) {
	if len(patch) == 0 {
		return 0, nil
	}

	where, args := buildWhere(cond, len(patch)+1)
	setClauses := make([]string, 0, len(patch))
	setArgs := make([]any, 0, len(patch))
	n := 1
	for col, val := range patch {
		setClauses = append(setClauses, fmt.Sprintf("%s = $%d", col, n))
		setArgs = append(setArgs, val)
		n++
	}

	query := fmt.Sprintf("UPDATE %s SET %s", s.m.Table, strings.Join(setClauses, ", "))
	if where != "" {
		query += " WHERE " + where
	}

	tag, err := s.pool.Exec(ctx, query, append(setArgs, args...)...)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, fmt.Errorf("%w: %s", storage.ErrDuplicate, s.m.Table)
		}
		return 0, fmt.Errorf("%w: updating %s: %v", storage.ErrBackendUnavailable, s.m.Table, err)
	}
	return tag.RowsAffected(), nil
}

// Count returns the number of rows matching cond.
func (s *Store[T]) Count(ctx context.Context, cond storage.Conditions) (int64, error) {
	where, args := buildWhere(cond, 1)
	query := fmt.Sprintf("SELECT count(*) FROM %s", s.m.Table)
	if where != "" {
		query += " WHERE " + where
	}

	var n int64
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("%w: counting %s: %v", storage.ErrBackendUnavailable, s.m.Table, err)
	}
	return n, nil
}

// List returns a page of rows ordered by (created_at, id) keyset pagination.
func (s *Store[T]) List(ctx context.Context, opts storage.ListOptions) (storage.Page[T], error) {
	where, args := buildWhere(opts.Conditions, 1)

	cmp, dir := ">", "ASC"
	if opts.After != nil && opts.SortDesc {
		cmp = "<"
	}
	if opts.SortDesc {
		dir = "DESC"
	}

	if opts.After != nil {
		clause := fmt.Sprintf("(created_at, %s) %s ($%d, $%d)", s.m.IDColumn, cmp, len(args)+1, len(args)+2)
		if where != "" {
			where += " AND " + clause
		} else {
			where = clause
		}
		args = append(args, opts.After.CreatedAt, opts.After.ID)
	}

	query := fmt.Sprintf("SELECT %s FROM %s", s.selectColumns(), s.m.Table)
	if where != "" {
		query += " WHERE " + where
	}
	query += fmt.Sprintf(" ORDER BY created_at %s, %s %s", dir, s.m.IDColumn, dir)

	limit := opts.Limit
	fetchLimit := limit
	if limit > 0 {
		fetchLimit = limit + 1 // fetch one extra row to know if there's a next page
		query += fmt.Sprintf(" LIMIT %d", fetchLimit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return storage.Page[T]{}, fmt.Errorf("%w: listing %s: %v", storage.ErrBackendUnavailable, s.m.Table, err)
	}
	defer rows.Close()

	items, err := pgx.CollectRows(rows, pgx.RowToStructByNameLax[T])
	if err != nil {
		return storage.Page[T]{}, fmt.Errorf("scanning %s list: %w", s.m.Table, err)
	}

	page := storage.Page[T]{Items: items}
	if limit > 0 && len(items) > limit {
		page.Items = items[:limit]
		page.HasMore = true
	}
	if len(page.Items) > 0 {
		last := page.Items[len(page.Items)-1]
		page.Next = &storage.Cursor{CreatedAt: s.m.CreatedAtOf(last), ID: s.m.IDOf(last)}
	}
	return page, nil
}

func buildWhere(cond storage.Conditions, startArg int) (string, []any) {
	var clauses []string
	var args []any
	n := startArg

	for field, value := range cond.Eqs() {
		clauses = append(clauses, fmt.Sprintf("%s = $%d", field, n))
		args = append(args, value)
		n++
	}
	for _, o := range cond.Ops() {
		if o.Operator == "in" {
			clauses = append(clauses, fmt.Sprintf("%s = ANY($%d)", o.Field, n))
			args = append(args, o.Value)
			n++
			continue
		}
		sqlOp := map[string]string{"gt": ">", "gte": ">=", "lt": "<", "lte": "<=", "ne": "!="}[o.Operator]
		if sqlOp == "" {
			sqlOp = "="
		}
		clauses = append(clauses, fmt.Sprintf("%s %s $%d", o.Field, sqlOp, n))
		args = append(args, o.Value)
		n++
	}
	return strings.Join(clauses, " AND "), args
}

func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "SQLSTATE 23505")
}
