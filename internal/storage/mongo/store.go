// Package mongo is the document Storage Abstraction backend: a generic
// engine (Store[T]) parameterized per entity by its collection name and
// index set, mirroring internal/storage/postgres's shape so both backends
// satisfy the same contract with no caller-visible branching.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/linkbroker/linkbroker/internal/storage"
)

// Entity is the minimal contract T must satisfy: a stable identifier and
// creation timestamp, both of which are BSON-tagged `_id`/`created_at`
// fields in practice.
type Entity interface {
	EntityID() string
	EntityCreatedAt() time.Time
}

// Store is a generic mongo-driver-backed storage.Store implementation.
type Store[T Entity] struct {
	coll    *mongo.Collection
	indexes []mongo.IndexModel
}

// NewStore builds a Store for entity T backed by the named collection.
func NewStore[T Entity](db *mongo.Database, collection string, indexes []mongo.IndexModel) *Store[T] {
	return &Store[T]{coll: db.Collection(collection), indexes: indexes}
}

// Init creates the collection's indexes (the "init" operation of spec.md §4.1).
func (s *Store[T]) Init(ctx context.Context) error {
	if len(s.indexes) == 0 {
		return nil
	}
	if _, err := s.coll.Indexes().CreateMany(ctx, s.indexes); err != nil {
		return fmt.Errorf("%w: creating indexes on %s: %v", storage.ErrBackendUnavailable, s.coll.Name(), err)
	}
	return nil
}

// Get fetches a single document by id.
func (s *Store[T]) Get(ctx context.Context, id string) (T, error) {
	var zero T
	var item T
	err := s.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&item)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return zero, fmt.Errorf("%w: %s %s", storage.ErrNotFound, s.coll.Name(), id)
		}
		return zero, fmt.Errorf("%w: finding %s: %v", storage.ErrBackendUnavailable, s.coll.Name(), err)
	}
	return item, nil
}

// Add inserts a new document.
func (s *Store[T]) Add(ctx context.Context, item T) (T, error) {
	var zero T
	if _, err := s.coll.InsertOne(ctx, item); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return zero, fmt.Errorf("%w: %s", storage.ErrDuplicate, s.coll.Name())
		}
		return zero, fmt.Errorf("%w: inserting %s: %v", storage.ErrBackendUnavailable, s.coll.Name(), err)
	}
	return item, nil
}

// AddBulk inserts items via one ordered bulk write per call; callers chunk
// large batches themselves (spec.md's per-chunk bulk-add semantics).
func (s *Store[T]) AddBulk(ctx context.Context, items []T) ([]T, error) {
	if len(items) == 0 {
		return nil, nil
	}
	docs := make([]any, len(items))
	for i, item := range items {
		docs[i] = item
	}
	if _, err := s.coll.InsertMany(ctx, docs); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, fmt.Errorf("%w: %s", storage.ErrDuplicate, s.coll.Name())
		}
		return nil, fmt.Errorf("%w: bulk inserting %s: %v", storage.ErrBackendUnavailable, s.coll.Name(), err)
	}
	return items, nil
}

// Update replaces the document with the given id.
func (s *Store[T]) Update(ctx context.Context, id string, item T) (T, error) {
	var zero T
	result, err := s.coll.ReplaceOne(ctx, bson.M{"_id": id}, item)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return zero, fmt.Errorf("%w: %s", storage.ErrDuplicate, s.coll.Name())
		}
		return zero, fmt.Errorf("%w: replacing %s: %v", storage.ErrBackendUnavailable, s.coll.Name(), err)
	}
	if result.MatchedCount == 0 {
		return zero, fmt.Errorf("%w: %s %s", storage.ErrNotFound, s.coll.Name(), id)
	}
	return item, nil
}

// Del removes the document with the given id.
func (s *Store[T]) Del(ctx context.Context, id string) error {
	result, err := s.coll.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("%w: deleting %s: %v", storage.ErrBackendUnavailable, s.coll.Name(), err)
	}
	if result.DeletedCount == 0 {
		return fmt.Errorf("%w: %s %s", storage.ErrNotFound, s.coll.Name(), id)
	}
	return nil
}

// DelWhere removes every document matching cond (spec.md §4.1's filtered delete).
func (s *Store[T]) DelWhere(ctx context.Context, cond storage.Conditions) (int64, error) {
	result, err := s.coll.DeleteMany(ctx, toFilter(cond))
	if err != nil {
		return 0, fmt.Errorf("%w: deleting %s: %v", storage.ErrBackendUnavailable, s.coll.Name(), err)
	}
	return result.DeletedCount, nil
}

// UpdateWhere applies patch's fields to every document matching cond.
func (s *Store[T]) UpdateWhere(ctx context.Context, cond storage.Conditions, patch map[string]any) (int64, error) {
	if len(patch) == 0 {
		return 0, nil
	}
	result, err := s.coll.UpdateMany(ctx, toFilter(cond), bson.M{"$set": patch})
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return 0, fmt.Errorf("%w: %s", storage.ErrDuplicate, s.coll.Name())
		}
		return 0, fmt.Errorf("%w: updating %s: %v", storage.ErrBackendUnavailable, s.coll.Name(), err)
	}
	return result.ModifiedCount, nil
}

// Count returns the number of documents matching cond.
func (s *Store[T]) Count(ctx context.Context, cond storage.Conditions) (int64, error) {
	n, err := s.coll.CountDocuments(ctx, toFilter(cond))
	if err != nil {
		return 0, fmt.Errorf("%w: counting %s: %v", storage.ErrBackendUnavailable, s.coll.Name(), err)
	}
	return n, nil
}

// List returns a page of documents ordered by (created_at, _id) keyset pagination.
func (s *Store[T]) List(ctx context.Context, opts storage.ListOptions) (storage.Page[T], error) {
	filter := toFilter(opts.Conditions)

	sortDir := 1
	cmpOp := "$gt"
	if opts.SortDesc {
		sortDir = -1
		cmpOp = "$lt"
	}

	if opts.After != nil {
		filter["$or"] = bson.A{
			bson.M{"created_at": bson.M{cmpOp: opts.After.CreatedAt}},
			bson.M{"created_at": opts.After.CreatedAt, "_id": bson.M{cmpOp: opts.After.ID}},
		}
	}

	findOpts := options.Find().SetSort(bson.D{{Key: "created_at", Value: sortDir}, {Key: "_id", Value: sortDir}})
	fetchLimit := opts.Limit
	if opts.Limit > 0 {
		fetchLimit = opts.Limit + 1
		findOpts.SetLimit(int64(fetchLimit))
	}

	cursor, err := s.coll.Find(ctx, filter, findOpts)
	if err != nil {
		return storage.Page[T]{}, fmt.Errorf("%w: listing %s: %v", storage.ErrBackendUnavailable, s.coll.Name(), err)
	}
	defer cursor.Close(ctx)

	var items []T
	if err := cursor.All(ctx, &items); err != nil {
		return storage.Page[T]{}, fmt.Errorf("decoding %s list: %w", s.coll.Name(), err)
	}

	page := storage.Page[T]{Items: items}
	if opts.Limit > 0 && len(items) > opts.Limit {
		page.Items = items[:opts.Limit]
		page.HasMore = true
	}
	if len(page.Items) > 0 {
		last := page.Items[len(page.Items)-1]
		page.Next = &storage.Cursor{CreatedAt: last.EntityCreatedAt(), ID: last.EntityID()}
	}
	return page, nil
}

func toFilter(cond storage.Conditions) bson.M {
	filter := bson.M{}
	for field, value := range cond.Eqs() {
		filter[field] = value
	}
	for _, o := range cond.Ops() {
		mongoOp := map[string]string{"gt": "$gt", "gte": "$gte", "lt": "$lt", "lte": "$lte", "ne": "$ne", "in": "$in"}[o.Operator]
		if mongoOp == "" {
			filter[o.Field] = o.Value
			continue
		}
		filter[o.Field] = bson.M{mongoOp: o.Value}
	}
	return filter
}
