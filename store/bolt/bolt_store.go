// Package bolt provides an embedded, single-file implementation of
// gar.TxStore backed by BoltDB.
package bolt

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	bolt "github.com/boltdb/bolt"

	"gar"
)

var _ gar.TxStore = (*BoltStore)(nil)

var bucketName = []byte("transactions")

// BoltStore stores each transaction as a JSON value keyed by reference.
// Bolt serialises writers, so the version check and the put in Update run
// in one read-write transaction.
type BoltStore struct {
	db *bolt.DB
}

// Open opens (or creates) the database file at path and ensures the bucket
// exists.
func Open(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt %s: %w", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create bucket: %w", err)
	}

	return &BoltStore{db: db}, nil
}

// Close releases the database file lock.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

func (s *BoltStore) Create(ctx context.Context, t *gar.Transaction) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal transaction: %w", err)
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketName)
		key := []byte(t.Reference)
		if b.Get(key) != nil {
			return gar.ErrDuplicateReference
		}
		if err := b.Put(key, data); err != nil {
			return fmt.Errorf("%w: create transaction: %v", gar.ErrStoreOperationFailed, err)
		}
		return nil
	})
}

func (s *BoltStore) Get(ctx context.Context, reference string) (*gar.Transaction, error) {
	var out *gar.Transaction
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketName).Get([]byte(reference))
		if v == nil {
			return gar.ErrTransactionNotFound
		}
		var err error
		out, err = decode(v)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *BoltStore) Update(ctx context.Context, t *gar.Transaction) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal transaction: %w", err)
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketName)
		key := []byte(t.Reference)

		v := b.Get(key)
		if v == nil {
			return gar.ErrTransactionNotFound
		}
		stored, err := decode(v)
		if err != nil {
			return err
		}
		if stored.Version != t.Version-1 {
			return gar.ErrVersionConflict
		}
		if err := b.Put(key, data); err != nil {
			return fmt.Errorf("%w: update transaction: %v", gar.ErrStoreOperationFailed, err)
		}
		return nil
	})
}

// Find scans the bucket. Bolt has no secondary indexes, so every value is
// decoded and matched in memory.
func (s *BoltStore) Find(ctx context.Context, filter *gar.Filter) ([]*gar.Transaction, error) {
	var out []*gar.Transaction
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketName).ForEach(func(k, v []byte) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			t, err := decode(v)
			if err != nil {
				return err
			}
			if filter.Match(t) {
				out = append(out, t)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].Reference < out[j].Reference
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return filter.Page(out), nil
}

func decode(v []byte) (*gar.Transaction, error) {
	t := &gar.Transaction{}
	if err := json.Unmarshal(v, t); err != nil {
		return nil, fmt.Errorf("%w: decode transaction: %v", gar.ErrStoreOperationFailed, err)
	}
	return t, nil
}
