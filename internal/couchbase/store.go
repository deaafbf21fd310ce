// Package couchbase is the storage layer of the couchbase publish transport:
// typed documents per collection, N1QL reads and transactional counters.
package couchbase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/couchbase/gocb/v2"
)

// Store reads and writes documents of type T in one collection.
type Store[T any] struct {
	cluster    *gocb.Cluster
	collection *gocb.Collection
}

func NewStore[T any](cluster *gocb.Cluster, collection *gocb.Collection) (*Store[T], error) {
	if cluster == nil || collection == nil {
		return nil, errors.New("couchbase store needs a cluster and a collection")
	}

	return &Store[T]{cluster: cluster, collection: collection}, nil
}

// Insert fails with gocb.ErrDocumentExists when key is taken. A positive ttl
// makes the document expire.
func (s *Store[T]) Insert(ctx context.Context, key string, doc T, ttl time.Duration) error {
	opts := gocb.InsertOptions{Context: ctx}
	if ttl > 0 {
		opts.Expiry = ttl
	}

	if _, err := s.collection.Insert(key, doc, &opts); err != nil {
		return fmt.Errorf("insert %s: %w", key, err)
	}

	return nil
}

// Get fails with gocb.ErrDocumentNotFound for a missing key.
func (s *Store[T]) Get(ctx context.Context, key string) (T, error) {
	var doc T

	res, err := s.collection.Get(key, &gocb.GetOptions{Context: ctx})
	if err != nil {
		return doc, fmt.Errorf("get %s: %w", key, err)
	}
	if err := res.Content(&doc); err != nil {
		return doc, fmt.Errorf("decode %s: %w", key, err)
	}

	return doc, nil
}

func (s *Store[T]) Exists(ctx context.Context, key string) (bool, error) {
	res, err := s.collection.Exists(key, &gocb.ExistsOptions{Context: ctx})
	if err != nil {
		return false, fmt.Errorf("exists %s: %w", key, err)
	}

	return res.Exists(), nil
}

// Remove treats a missing document as removed.
func (s *Store[T]) Remove(ctx context.Context, key string) error {
	_, err := s.collection.Remove(key, &gocb.RemoveOptions{Context: ctx})
	if err != nil && !errors.Is(err, gocb.ErrDocumentNotFound) {
		return fmt.Errorf("remove %s: %w", key, err)
	}

	return nil
}

// Query runs statement with named parameters and decodes every row as T.
func (s *Store[T]) Query(ctx context.Context, statement string, params map[string]any) ([]T, error) {
	rows, err := s.cluster.Query(statement, &gocb.QueryOptions{
		Context:         ctx,
		NamedParameters: params,
	})
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", s.collection.Name(), err)
	}
	defer rows.Close()

	var docs []T
	for rows.Next() {
		var doc T
		if err := rows.Row(&doc); err != nil {
			return nil, fmt.Errorf("decode row of %s: %w", s.collection.Name(), err)
		}
		docs = append(docs, doc)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("stream rows of %s: %w", s.collection.Name(), err)
	}

	return docs, nil
}

// Name is the collection name, used to address it in N1QL.
func (s *Store[T]) Name() string {
	return s.collection.Name()
}

func (s *Store[T]) Collection() *gocb.Collection {
	return s.collection
}
