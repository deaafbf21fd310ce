package couchbase

import (
	"errors"
	"fmt"
	"time"

	"github.com/couchbase/gocb/v2"
)

// DefaultTransactionTimeout bounds a transaction when none is configured.
const DefaultTransactionTimeout = 10 * time.Second

// Transactions runs read-modify-write updates as Couchbase distributed
// transactions.
type Transactions struct {
	cluster *gocb.Cluster
	timeout time.Duration
}

// NewTransactions creates a transaction manager for cluster. A non-positive
// timeout selects DefaultTransactionTimeout.
func NewTransactions(cluster *gocb.Cluster, timeout time.Duration) (*Transactions, error) {
	if cluster == nil {
		return nil, errors.New("couchbase transactions need a cluster")
	}
	if timeout <= 0 {
		timeout = DefaultTransactionTimeout
	}

	return &Transactions{cluster: cluster, timeout: timeout}, nil
}

func (t *Transactions) run(fn func(*gocb.TransactionAttemptContext) error) error {
	_, err := t.cluster.Transactions().Run(fn, &gocb.TransactionOptions{
		DurabilityLevel: gocb.DurabilityLevelNone,
		Timeout:         t.timeout,
	})
	if err != nil {
		return fmt.Errorf("transaction: %w", err)
	}

	return nil
}

// Advance inserts initial under key, or loads the stored document and lets
// advance move it forward. advance returns false to leave the document as is.
// Losing an insert race to another writer re-reads the document.
func Advance[T any](t *Transactions, store *Store[T], key string, initial T, advance func(*T) bool) error {
	coll := store.Collection()

	return t.run(func(tx *gocb.TransactionAttemptContext) error {
		for {
			res, err := tx.Get(coll, key)
			if errors.Is(err, gocb.ErrDocumentNotFound) {
				_, err = tx.Insert(coll, key, initial)
				if errors.Is(err, gocb.ErrDocumentExists) {
					continue
				}
				if err != nil {
					return fmt.Errorf("insert %s: %w", key, err)
				}
				return nil
			}
			if err != nil {
				return fmt.Errorf("get %s: %w", key, err)
			}

			var doc T
			if err := res.Content(&doc); err != nil {
				return fmt.Errorf("decode %s: %w", key, err)
			}
			if !advance(&doc) {
				return nil
			}

			if _, err := tx.Replace(res, doc); err != nil {
				return fmt.Errorf("replace %s: %w", key, err)
			}
			return nil
		}
	})
}
